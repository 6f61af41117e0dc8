// Package params defines the versioned protocol configuration record.
package params

import (
	"fmt"
	"time"

	"github.com/verdikt-labs/verdikt/internal/domain"
)

// BasisPoints is the denominator for all share and threshold math: 10000 = 100%.
const BasisPoints = 10_000

// Shares expresses the nominal split of a task reward in basis points.
// The three shares must sum to exactly BasisPoints.
type Shares struct {
	ExecutorBps  int64 `json:"executor_bps"`
	ProviderBps  int64 `json:"provider_bps"`
	ValidatorBps int64 `json:"validator_bps"`
}

// Validate checks that the shares are non-negative and sum to the whole.
func (s Shares) Validate() error {
	if s.ExecutorBps < 0 || s.ProviderBps < 0 || s.ValidatorBps < 0 {
		return fmt.Errorf("%w: shares must be non-negative", domain.ErrValidation)
	}
	if s.ExecutorBps+s.ProviderBps+s.ValidatorBps != BasisPoints {
		return fmt.Errorf("%w: shares must sum to %d basis points", domain.ErrValidation, BasisPoints)
	}
	return nil
}

// Params is the process-wide protocol configuration. It is persisted as a
// single versioned record, mutable only by the owner account, and passed
// by reference into every operation that consults it.
type Params struct {
	Shares             Shares        `json:"shares"`
	ChallengePeriod    time.Duration `json:"challenge_period"`
	MinChallengeStake  int64         `json:"min_challenge_stake"`
	MinJurorStake      int64         `json:"min_juror_stake"`
	UnregisterCooldown time.Duration `json:"unregister_cooldown"`
	ConsensusThreshold int64         `json:"consensus_threshold_bps"`
	MinJurors          int           `json:"min_jurors"`
	Paused             bool          `json:"paused"`
	Owner              string        `json:"owner"`
	FeeRecipient       string        `json:"fee_recipient"`
	ValidatorPool      string        `json:"validator_pool"`
	Version            int           `json:"version"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Defaults returns the protocol parameters used to seed a fresh deployment.
// The 70/20/10 split and 66% consensus threshold match the protocol defaults.
func Defaults(owner string) Params {
	return Params{
		Shares: Shares{
			ExecutorBps:  7_000,
			ProviderBps:  2_000,
			ValidatorBps: 1_000,
		},
		ChallengePeriod:    72 * time.Hour,
		MinChallengeStake:  10,
		MinJurorStake:      100,
		UnregisterCooldown: 7 * 24 * time.Hour,
		ConsensusThreshold: 6_600,
		MinJurors:          3,
		Owner:              owner,
		FeeRecipient:       owner,
		ValidatorPool:      owner,
		Version:            1,
	}
}

// Validate checks the full record for internal consistency.
func (p *Params) Validate() error {
	if err := p.Shares.Validate(); err != nil {
		return err
	}
	if p.ChallengePeriod <= 0 {
		return fmt.Errorf("%w: challenge_period must be positive", domain.ErrValidation)
	}
	if p.MinJurorStake <= 0 {
		return fmt.Errorf("%w: min_juror_stake must be positive", domain.ErrValidation)
	}
	if p.UnregisterCooldown <= 0 {
		return fmt.Errorf("%w: unregister_cooldown must be positive", domain.ErrValidation)
	}
	if p.ConsensusThreshold < 0 || p.ConsensusThreshold > BasisPoints {
		return fmt.Errorf("%w: consensus_threshold_bps out of range", domain.ErrValidation)
	}
	if p.MinJurors < 1 {
		return fmt.Errorf("%w: min_jurors must be >= 1", domain.ErrValidation)
	}
	if p.Owner == "" {
		return fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	return nil
}
