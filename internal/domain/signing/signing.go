// Package signing implements the typed-data digests and ECDSA recovery used
// by the signature-authorized escrow flows: accept-on-behalf and token
// permits. Accounts are lowercase 0x hex addresses; replay protection is a
// per-account monotonic nonce consumed on use.
package signing

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/verdikt-labs/verdikt/internal/domain"
)

// Type tags keep the two digest families from colliding even for
// structurally identical payloads.
const (
	acceptTypeTag = "verdikt.accept.v1"
	permitTypeTag = "verdikt.permit.v1"
)

// DomainSeparator derives the execution-domain separator mixed into every
// digest, binding signatures to one deployment.
func DomainSeparator(domainID string) []byte {
	return crypto.Keccak256([]byte("verdikt-escrow-v1"), []byte(domainID))
}

// AcceptDigest computes the digest an executor signs to authorize a third
// party to submit the accept transition on its behalf. The digest is bound
// to this specific task, the executor's current nonce, and an expiry.
func AcceptDigest(separator []byte, taskID, executor string, nonce uint64, expiry time.Time) []byte {
	var tail [16]byte
	binary.BigEndian.PutUint64(tail[:8], nonce)
	binary.BigEndian.PutUint64(tail[8:], uint64(expiry.Unix()))

	return crypto.Keccak256(
		separator,
		[]byte(acceptTypeTag),
		[]byte(taskID),
		[]byte(strings.ToLower(executor)),
		tail[:],
	)
}

// PermitDigest computes the digest a token owner signs to pre-authorize a
// spender for an amount, replacing a separate approve call.
func PermitDigest(separator []byte, token, owner, spender string, amount int64, nonce uint64, deadline time.Time) []byte {
	var tail [24]byte
	binary.BigEndian.PutUint64(tail[:8], uint64(amount))
	binary.BigEndian.PutUint64(tail[8:16], nonce)
	binary.BigEndian.PutUint64(tail[16:], uint64(deadline.Unix()))

	return crypto.Keccak256(
		separator,
		[]byte(permitTypeTag),
		[]byte(token),
		[]byte(strings.ToLower(owner)),
		[]byte(strings.ToLower(spender)),
		tail[:],
	)
}

// RecoverSigner recovers the lowercase hex address that produced the given
// 65-byte [R || S || V] signature over digest.
func RecoverSigner(digest, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("%w: signature must be 65 bytes, got %d", domain.ErrBadSignature, len(sig))
	}

	// Accept both 0/1 and 27/28 recovery IDs.
	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBadSignature, err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// VerifySigner checks that sig over digest recovers to the expected account.
func VerifySigner(digest, sig []byte, account string) error {
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		return err
	}
	if signer != strings.ToLower(account) {
		return fmt.Errorf("%w: recovered %s, expected %s", domain.ErrBadSignature, signer, strings.ToLower(account))
	}
	return nil
}

// ParseSignature decodes a 0x-prefixed or bare hex signature string.
func ParseSignature(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	sig, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not valid hex", domain.ErrValidation)
	}
	return sig, nil
}
