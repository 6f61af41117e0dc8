// Package jury defines the staked-juror registry and the per-task
// consensus engine: vote tallies, quorum, and threshold finalization.
package jury

import (
	"fmt"
	"time"

	"github.com/verdikt-labs/verdikt/internal/domain"
)

// JurorState is the explicit three-state juror lifecycle. The cooldown gate
// is a first-class state rather than a timestamp sentinel so the two-phase
// unregister flow is directly testable.
type JurorState string

const (
	JurorInactive        JurorState = "inactive"
	JurorActiveStaked    JurorState = "active"
	JurorCooldownPending JurorState = "cooldown_pending"
)

// Juror is a staked voting participant, keyed by account.
type Juror struct {
	Account       string     `json:"account"`
	Stake         int64      `json:"stake"`
	State         JurorState `json:"state"`
	CooldownSince *time.Time `json:"cooldown_since,omitempty"`
	RegisteredAt  time.Time  `json:"registered_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CanRegister checks the guard for self-registration with the given stake.
func (j *Juror) CanRegister(stake, minStake int64) error {
	if j != nil && j.State != JurorInactive {
		return domain.ErrAlreadyRegistered
	}
	if stake < minStake {
		return fmt.Errorf("%w: stake %d below minimum %d", domain.ErrInsufficientStake, stake, minStake)
	}
	return nil
}

// BeginUnregister checks the guard for the first unregister call, which
// starts the cooldown without unstaking.
func (j *Juror) BeginUnregister() error {
	if j.State != JurorActiveStaked {
		return fmt.Errorf("%w: unregister requires an active staked juror", domain.ErrInvalidState)
	}
	return nil
}

// CompleteUnregister checks the guard for the second unregister call, which
// returns the stake once the cooldown has fully elapsed.
func (j *Juror) CompleteUnregister(cooldown time.Duration, now time.Time) error {
	if j.State != JurorCooldownPending || j.CooldownSince == nil {
		return fmt.Errorf("%w: no unregister cooldown in progress", domain.ErrInvalidState)
	}
	if now.Before(j.CooldownSince.Add(cooldown)) {
		return domain.ErrCooldownActive
	}
	return nil
}

// CanVote checks that the juror is in a state that admits voting. Jurors in
// cooldown keep their stake locked and may still vote; only inactive
// accounts are excluded.
func (j *Juror) CanVote() error {
	if j == nil || j.State == JurorInactive {
		return fmt.Errorf("%w: account is not a registered juror", domain.ErrUnauthorized)
	}
	return nil
}
