// Package registry defines the generic validation request/response records
// and the deterministic request hash that keys them.
package registry

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/verdikt-labs/verdikt/internal/domain"
)

// Request is a tagged validation request addressed to a validator backend.
type Request struct {
	Hash         string    `json:"hash"`
	Requester    string    `json:"requester"`
	Validator    string    `json:"validator"`
	AgentID      uint64    `json:"agent_id"`
	TaskRef      string    `json:"task_ref"`
	Tag          string    `json:"tag"`
	LocatorURI   string    `json:"locator_uri"`
	ConsensusRef string    `json:"consensus_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Status is the registry's projection of the latest response for a request
// hash. It is not a history: only the most recent response survives; the
// full exchange remains available through the event log.
type Status struct {
	Hash       string    `json:"hash"`
	Validator  string    `json:"validator"`
	AgentID    uint64    `json:"agent_id"`
	Score      int       `json:"score"`
	Tag        string    `json:"tag"`
	LocatorURI string    `json:"locator_uri"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Receipt is an opaque, externally-issued identifier/locator pair recorded
// for audit against a task or a request hash. The core never interprets it.
type Receipt struct {
	ID         string    `json:"id"`
	Scope      string    `json:"scope"` // task ID or request hash
	LocatorURI string    `json:"locator_uri"`
	LinkedBy   string    `json:"linked_by"`
	LinkedAt   time.Time `json:"linked_at"`
}

// OpenRequest holds the fields needed to open a validation request.
type OpenRequest struct {
	Requester  string `json:"requester"`
	Validator  string `json:"validator"`
	AgentID    uint64 `json:"agent_id"`
	TaskRef    string `json:"task_ref"`
	Tag        string `json:"tag"`
	LocatorURI string `json:"locator_uri"`
}

// Validate checks the open request.
func (r *OpenRequest) Validate() error {
	if r.Requester == "" {
		return fmt.Errorf("%w: requester is required", domain.ErrValidation)
	}
	if r.Validator == "" {
		return fmt.Errorf("%w: validator is required", domain.ErrValidation)
	}
	if r.TaskRef == "" {
		return fmt.Errorf("%w: task_ref is required", domain.ErrValidation)
	}
	if r.Tag == "" {
		return fmt.Errorf("%w: tag is required", domain.ErrValidation)
	}
	if r.LocatorURI == "" {
		return fmt.Errorf("%w: locator_uri is required", domain.ErrValidation)
	}
	return nil
}

// RequestHash computes the deterministic Keccak-256 hash keying a request.
// Any party can recompute it from the same inputs to verify the request was
// not tampered with before acceptance. Fields are length-prefixed so
// adjacent variable-length inputs cannot be shifted into one another.
func RequestHash(domainID string, r OpenRequest) string {
	var agent [8]byte
	binary.BigEndian.PutUint64(agent[:], r.AgentID)

	h := crypto.Keccak256(
		lenPrefixed(domainID),
		lenPrefixed(r.TaskRef),
		agent[:],
		lenPrefixed(r.Validator),
		lenPrefixed(r.Tag),
		lenPrefixed(r.LocatorURI),
	)
	return hex.EncodeToString(h)
}

func lenPrefixed(s string) []byte {
	buf := make([]byte, 4, 4+len(s))
	binary.BigEndian.PutUint32(buf, uint32(len(s)))
	return append(buf, s...)
}
