package escrow

import (
	"github.com/verdikt-labs/verdikt/internal/domain/params"
)

// Payout is the exact split of a task's reward at finalization.
// Executor + Provider + ValidatorPool always equals the reward.
type Payout struct {
	Executor      int64 `json:"executor"`
	Provider      int64 `json:"provider"`
	ValidatorPool int64 `json:"validator_pool"`
}

// Total returns the sum of all payout legs.
func (p Payout) Total() int64 {
	return p.Executor + p.Provider + p.ValidatorPool
}

// Leftover-reallocation split: the unused provider remainder goes 70% to the
// executor and 30% to the validator pool.
const (
	leftoverExecutorPct = 70
	leftoverPctDenom    = 100
)

// ProviderFeeCap returns the maximum negotiable provider fee for a reward
// under the given shares.
func ProviderFeeCap(reward int64, shares params.Shares) int64 {
	return reward * shares.ProviderBps / params.BasisPoints
}

// ComputePayout splits a reward between executor, provider and validator
// pool. The provider share is a cap, not a guarantee: when no provider was
// assigned, or the negotiated fee is below the cap, the unused remainder is
// swept into the executor/pool split rather than returned to the funder.
// All division is integer floor division; any rounding residue from the base
// shares is folded into the same sweep, so the three legs always sum to the
// reward exactly.
func ComputePayout(reward, providerFee int64, providerAssigned bool, shares params.Shares) Payout {
	executor := reward * shares.ExecutorBps / params.BasisPoints
	pool := reward * shares.ValidatorBps / params.BasisPoints

	provider := int64(0)
	if providerAssigned {
		provider = providerFee
	}

	leftover := reward - executor - pool - provider
	execExtra := leftover * leftoverExecutorPct / leftoverPctDenom
	poolExtra := leftover - execExtra

	return Payout{
		Executor:      executor + execExtra,
		Provider:      provider,
		ValidatorPool: pool + poolExtra,
	}
}
