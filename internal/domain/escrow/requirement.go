package escrow

import (
	"fmt"
	"time"

	"github.com/verdikt-labs/verdikt/internal/domain"
)

// ValidationRequirement is the per-(task, tag) policy consulted at
// finalization time. It is created lazily by the funding party and stays
// freely mutable until the task finalizes; no retroactive-consistency
// guarantee is made for requirements tightened after earlier responses
// already satisfied a looser version.
type ValidationRequirement struct {
	TaskID              string    `json:"task_id"`
	Tag                 string    `json:"tag"`
	MinResponses        int       `json:"min_responses"`
	MinAvgScore         int       `json:"min_avg_score"`
	MinUniqueValidators int       `json:"min_unique_validators"`
	Enabled             bool      `json:"enabled"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Validate checks the requirement's bounds.
func (r *ValidationRequirement) Validate() error {
	if r.Tag == "" {
		return fmt.Errorf("%w: tag is required", domain.ErrValidation)
	}
	if r.MinResponses < 0 || r.MinUniqueValidators < 0 {
		return fmt.Errorf("%w: minimum counts must be non-negative", domain.ErrValidation)
	}
	if r.MinAvgScore < 0 || r.MinAvgScore > 100 {
		return fmt.Errorf("%w: min_avg_score must be in [0,100]", domain.ErrValidation)
	}
	return nil
}

// ValidationAggregate summarizes the responses recorded under one
// (task, tag) pair. AvgScore is the unweighted floor mean of integer scores.
type ValidationAggregate struct {
	Responses        int `json:"responses"`
	ScoreSum         int `json:"score_sum"`
	UniqueValidators int `json:"unique_validators"`
}

// AvgScore returns the floor mean of the aggregated scores, or 0 when no
// responses exist.
func (a ValidationAggregate) AvgScore() int {
	if a.Responses == 0 {
		return 0
	}
	return a.ScoreSum / a.Responses
}

// Satisfies reports whether the aggregate meets all three thresholds of the
// requirement simultaneously. Disabled requirements are always satisfied.
func (r *ValidationRequirement) Satisfies(a ValidationAggregate) bool {
	if !r.Enabled {
		return true
	}
	return a.Responses >= r.MinResponses &&
		a.AvgScore() >= r.MinAvgScore &&
		a.UniqueValidators >= r.MinUniqueValidators
}
