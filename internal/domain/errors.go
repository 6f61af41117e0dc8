// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a malformed or out-of-bounds request.
var ErrValidation = errors.New("validation failed")

// ErrUnauthorized indicates the caller is not permitted to perform the operation.
var ErrUnauthorized = errors.New("caller not authorized")

// ErrInvalidState indicates a transition was attempted from the wrong lifecycle state.
var ErrInvalidState = errors.New("invalid state for operation")

// ErrPaused indicates the protocol is administratively paused; all mutating
// entry points are rejected until it is resumed.
var ErrPaused = errors.New("protocol is paused")

// ErrDeadlinePassed indicates the entity's deadline has already elapsed.
var ErrDeadlinePassed = errors.New("deadline has passed")

// ErrDeadlineNotReached indicates an operation that requires an elapsed
// deadline was called too early.
var ErrDeadlineNotReached = errors.New("deadline has not been reached")

// ErrChallengeWindowOpen indicates finalization was attempted while the
// optimistic challenge window is still running.
var ErrChallengeWindowOpen = errors.New("challenge window has not elapsed")

// ErrChallengeWindowClosed indicates a challenge was attempted after the
// optimistic window elapsed.
var ErrChallengeWindowClosed = errors.New("challenge window has elapsed")

// ErrValidationsNotSatisfied indicates one or more enabled validation
// requirements on the task are not yet met.
var ErrValidationsNotSatisfied = errors.New("validation requirements not satisfied")

// ErrFeeExceedsCap indicates a negotiated provider fee above the policy cap.
var ErrFeeExceedsCap = errors.New("provider fee exceeds policy cap")

// ErrInsufficientFunds indicates a ledger balance or allowance shortfall.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInsufficientStake indicates a stake below the configured minimum.
var ErrInsufficientStake = errors.New("stake below minimum")

// ErrAlreadyRegistered indicates a second registration by an active juror.
var ErrAlreadyRegistered = errors.New("juror already registered")

// ErrCooldownActive indicates an unstake attempt before the cooldown elapsed.
var ErrCooldownActive = errors.New("unregister cooldown has not elapsed")

// ErrAlreadyVoted indicates a second vote on the same consensus task.
var ErrAlreadyVoted = errors.New("juror has already voted on this task")

// ErrConflictOfInterest indicates a vote by a financially interested party.
var ErrConflictOfInterest = errors.New("voter has a conflict of interest")

// ErrConsensusIncomplete indicates a challenge resolution was attempted
// against a consensus task that has not reached a final result.
var ErrConsensusIncomplete = errors.New("consensus result is not final")

// ErrBadSignature indicates a signature that does not recover to the
// expected account.
var ErrBadSignature = errors.New("signature does not match account")

// ErrReplayedSignature indicates a signed payload whose nonce was already consumed.
var ErrReplayedSignature = errors.New("signature nonce already consumed")
