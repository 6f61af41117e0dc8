// Package escrow defines the task escrow entity, its lifecycle state
// machine, and the payout calculator.
package escrow

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/verdikt-labs/verdikt/internal/domain"
)

// Status represents the lifecycle state of an escrowed task.
type Status string

const (
	StatusOpen       Status = "open"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusChallenged Status = "challenged"
	StatusFinalized  Status = "finalized"
	StatusRefunded   Status = "refunded"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusRefunded
}

// Task is the central escrow entity. Funder, Token and Reward are immutable
// once set; everything else is mutated through the state machine.
type Task struct {
	ID             string     `json:"id"`
	Funder         string     `json:"funder"`
	Executor       string     `json:"executor,omitempty"`
	Provider       string     `json:"provider,omitempty"`
	Token          string     `json:"token"`
	Reward         int64      `json:"reward"`
	ProviderFee    int64      `json:"provider_fee"`
	Deadline       time.Time  `json:"deadline"`
	Status         Status     `json:"status"`
	MetadataURI    string     `json:"metadata_uri,omitempty"`
	EvidenceURI    string     `json:"evidence_uri,omitempty"`
	Tag            string     `json:"tag"`
	ConsensusRef   string     `json:"consensus_ref,omitempty"`
	ChallengeStake int64      `json:"challenge_stake"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CreateRequest holds the fields needed to open a new escrowed task.
type CreateRequest struct {
	Funder      string    `json:"funder"`
	Token       string    `json:"token"`
	Reward      int64     `json:"reward"`
	Deadline    time.Time `json:"deadline"`
	MetadataURI string    `json:"metadata_uri,omitempty"`
	Tag         string    `json:"tag"`
}

// Validate checks the create request against the state machine's entry guards.
func (r *CreateRequest) Validate(now time.Time) error {
	if r.Funder == "" {
		return fmt.Errorf("%w: funder is required", domain.ErrValidation)
	}
	if r.Token == "" {
		return fmt.Errorf("%w: token is required", domain.ErrValidation)
	}
	if r.Reward <= 0 {
		return fmt.Errorf("%w: reward must be positive", domain.ErrValidation)
	}
	if !r.Deadline.After(now) {
		return fmt.Errorf("%w: deadline must be in the future", domain.ErrValidation)
	}
	return nil
}

// DeriveID computes the deterministic task identifier from the creator, the
// creator's monotonic counter, the creation time and the category tag. The
// identifier cannot be forged or predicted before creation because the
// counter is only assigned at creation time.
func DeriveID(creator string, nonce uint64, createdAt time.Time, tag string) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], nonce)
	binary.BigEndian.PutUint64(buf[8:], uint64(createdAt.Unix()))

	h := crypto.Keccak256([]byte(creator), buf[:], []byte(tag))
	return hex.EncodeToString(h)
}

// CanAccept checks the guard for the accept transition.
func (t *Task) CanAccept(executor string, now time.Time) error {
	if t.Status != StatusOpen {
		return fmt.Errorf("%w: accept requires status open, task is %s", domain.ErrInvalidState, t.Status)
	}
	if !now.Before(t.Deadline) {
		return domain.ErrDeadlinePassed
	}
	if executor == "" {
		return fmt.Errorf("%w: executor is required", domain.ErrValidation)
	}
	if executor == t.Funder {
		return fmt.Errorf("%w: funder may not accept its own task", domain.ErrUnauthorized)
	}
	return nil
}

// CanAssignProvider checks the guard for the supplier assignment transition.
// maxFee is the policy-derived cap (reward x provider share).
func (t *Task) CanAssignProvider(caller, provider string, fee, maxFee int64) error {
	if t.Status != StatusAccepted && t.Status != StatusInProgress {
		return fmt.Errorf("%w: assign provider requires status accepted or in_progress, task is %s", domain.ErrInvalidState, t.Status)
	}
	if caller != t.Executor {
		return fmt.Errorf("%w: only the executor may assign a provider", domain.ErrUnauthorized)
	}
	if provider == "" {
		return fmt.Errorf("%w: provider is required", domain.ErrValidation)
	}
	if fee < 0 {
		return fmt.Errorf("%w: fee must be non-negative", domain.ErrValidation)
	}
	if fee > maxFee {
		return fmt.Errorf("%w: fee %d exceeds cap %d", domain.ErrFeeExceedsCap, fee, maxFee)
	}
	return nil
}

// CanSubmit checks the guard for the work submission transition.
func (t *Task) CanSubmit(caller, evidenceURI string) error {
	if t.Status != StatusAccepted && t.Status != StatusInProgress {
		return fmt.Errorf("%w: submit requires status accepted or in_progress, task is %s", domain.ErrInvalidState, t.Status)
	}
	if caller != t.Executor {
		return fmt.Errorf("%w: only the executor may submit work", domain.ErrUnauthorized)
	}
	if evidenceURI == "" {
		return fmt.Errorf("%w: evidence locator is required", domain.ErrValidation)
	}
	return nil
}

// ChallengeWindowElapsed reports whether the optimistic window after
// submission has fully elapsed.
func (t *Task) ChallengeWindowElapsed(period time.Duration, now time.Time) bool {
	if t.SubmittedAt == nil {
		return false
	}
	return !now.Before(t.SubmittedAt.Add(period))
}

// CanChallenge checks the guard for the challenge transition.
func (t *Task) CanChallenge(caller string, stake, minStake int64, period time.Duration, now time.Time) error {
	if t.Status != StatusSubmitted {
		return fmt.Errorf("%w: challenge requires status submitted, task is %s", domain.ErrInvalidState, t.Status)
	}
	if caller != t.Funder {
		return fmt.Errorf("%w: only the funding party may challenge", domain.ErrUnauthorized)
	}
	if t.ChallengeWindowElapsed(period, now) {
		return domain.ErrChallengeWindowClosed
	}
	if stake < minStake {
		return fmt.Errorf("%w: challenge stake %d below minimum %d", domain.ErrInsufficientStake, stake, minStake)
	}
	return nil
}

// CanFinalize checks the guard for the open (anyone-may-call) finalization.
// Validation-requirement gating is checked separately by the service.
func (t *Task) CanFinalize(period time.Duration, now time.Time) error {
	if t.Status != StatusSubmitted {
		return fmt.Errorf("%w: finalize requires status submitted, task is %s", domain.ErrInvalidState, t.Status)
	}
	if !t.ChallengeWindowElapsed(period, now) {
		return domain.ErrChallengeWindowOpen
	}
	return nil
}

// CanApprove checks the guard for the funder's early-approval finalization,
// which bypasses the remaining challenge window.
func (t *Task) CanApprove(caller string) error {
	if t.Status != StatusSubmitted {
		return fmt.Errorf("%w: approve requires status submitted, task is %s", domain.ErrInvalidState, t.Status)
	}
	if caller != t.Funder {
		return fmt.Errorf("%w: only the funding party may approve", domain.ErrUnauthorized)
	}
	return nil
}

// CanCancel checks the guard for the funder's cancellation.
func (t *Task) CanCancel(caller string) error {
	if t.Status != StatusOpen {
		return fmt.Errorf("%w: cancel requires status open, task is %s", domain.ErrInvalidState, t.Status)
	}
	if caller != t.Funder {
		return fmt.Errorf("%w: only the funding party may cancel", domain.ErrUnauthorized)
	}
	return nil
}

// CanClaimExpiredRefund checks the guard for the post-deadline refund path.
func (t *Task) CanClaimExpiredRefund(caller string, now time.Time) error {
	if t.Status != StatusOpen && t.Status != StatusAccepted {
		return fmt.Errorf("%w: expired refund requires status open or accepted, task is %s", domain.ErrInvalidState, t.Status)
	}
	if caller != t.Funder {
		return fmt.Errorf("%w: only the funding party may claim an expired refund", domain.ErrUnauthorized)
	}
	if now.Before(t.Deadline) {
		return domain.ErrDeadlineNotReached
	}
	return nil
}

// CanResolveChallenge checks the state guard for challenge resolution.
// The linked consensus result itself is checked by the service.
func (t *Task) CanResolveChallenge() error {
	if t.Status != StatusChallenged {
		return fmt.Errorf("%w: resolve requires status challenged, task is %s", domain.ErrInvalidState, t.Status)
	}
	if t.ConsensusRef == "" {
		return fmt.Errorf("%w: task has no linked consensus result", domain.ErrConsensusIncomplete)
	}
	return nil
}
