package escrow

import (
	"errors"
	"testing"

	"github.com/verdikt-labs/verdikt/internal/domain"
)

func TestRequirementValidate(t *testing.T) {
	r := ValidationRequirement{TaskID: "t1", Tag: "vision", MinResponses: 2, MinAvgScore: 60, Enabled: true}
	if err := r.Validate(); err != nil {
		t.Fatalf("valid requirement rejected: %v", err)
	}

	r.Tag = ""
	if err := r.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty tag: got %v, want ErrValidation", err)
	}

	r.Tag = "vision"
	r.MinAvgScore = 101
	if err := r.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("score above 100: got %v, want ErrValidation", err)
	}
}

func TestRequirementSatisfies(t *testing.T) {
	r := ValidationRequirement{Tag: "vision", MinResponses: 2, MinAvgScore: 60, MinUniqueValidators: 2, Enabled: true}

	cases := []struct {
		name string
		agg  ValidationAggregate
		want bool
	}{
		{"all thresholds met", ValidationAggregate{Responses: 3, ScoreSum: 210, UniqueValidators: 3}, true},
		{"too few responses", ValidationAggregate{Responses: 1, ScoreSum: 90, UniqueValidators: 1}, false},
		{"average below floor", ValidationAggregate{Responses: 2, ScoreSum: 110, UniqueValidators: 2}, false},
		{"too few validators", ValidationAggregate{Responses: 3, ScoreSum: 210, UniqueValidators: 1}, false},
		{"exactly at thresholds", ValidationAggregate{Responses: 2, ScoreSum: 120, UniqueValidators: 2}, true},
		{"no responses", ValidationAggregate{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.Satisfies(tc.agg); got != tc.want {
				t.Errorf("Satisfies(%+v) = %v, want %v", tc.agg, got, tc.want)
			}
		})
	}
}

func TestDisabledRequirementAlwaysSatisfied(t *testing.T) {
	r := ValidationRequirement{Tag: "vision", MinResponses: 10, MinAvgScore: 99, Enabled: false}
	if !r.Satisfies(ValidationAggregate{}) {
		t.Error("disabled requirement blocked finalization")
	}
}

func TestAggregateAvgScoreFloors(t *testing.T) {
	a := ValidationAggregate{Responses: 3, ScoreSum: 200}
	if got := a.AvgScore(); got != 66 {
		t.Errorf("avg = %d, want floor 66", got)
	}
	if got := (ValidationAggregate{}).AvgScore(); got != 0 {
		t.Errorf("empty avg = %d, want 0", got)
	}
}
