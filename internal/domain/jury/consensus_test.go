package jury

import (
	"errors"
	"testing"
	"time"

	"github.com/verdikt-labs/verdikt/internal/domain"
)

func consensusTask() *Task {
	return &Task{
		ID:           "ct-1",
		Creator:      "0xcreator",
		MinJurors:    3,
		ThresholdBps: 6_600,
		Deadline:     testNow.Add(72 * time.Hour),
		Status:       TaskPending,
	}
}

func TestCreateRequestValidate(t *testing.T) {
	valid := CreateRequest{Creator: "0xcreator", MinJurors: 3, ThresholdBps: 6_600, Deadline: testNow.Add(time.Hour)}
	if err := valid.Validate(testNow); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"missing creator", func(r *CreateRequest) { r.Creator = "" }},
		{"zero min jurors", func(r *CreateRequest) { r.MinJurors = 0 }},
		{"threshold above whole", func(r *CreateRequest) { r.ThresholdBps = 10_001 }},
		{"past deadline", func(r *CreateRequest) { r.Deadline = testNow.Add(-time.Hour) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			if err := r.Validate(testNow); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("got %v, want ErrValidation", err)
			}
		})
	}
}

func TestTaskCanVote(t *testing.T) {
	ct := consensusTask()
	if err := ct.CanVote(80, testNow); err != nil {
		t.Fatalf("valid vote rejected: %v", err)
	}
	if err := ct.CanVote(101, testNow); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("score 101: got %v, want ErrValidation", err)
	}
	if err := ct.CanVote(-1, testNow); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("score -1: got %v, want ErrValidation", err)
	}
	if err := ct.CanVote(80, ct.Deadline); !errors.Is(err, domain.ErrDeadlinePassed) {
		t.Errorf("vote at deadline: got %v, want ErrDeadlinePassed", err)
	}

	ct.Status = TaskCompleted
	if err := ct.CanVote(80, testNow); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("vote on final task: got %v, want ErrInvalidState", err)
	}
}

func TestApplyVoteTally(t *testing.T) {
	ct := consensusTask()
	ct.ApplyVote(Vote{Score: 80})
	if ct.Status != TaskInProgress {
		t.Errorf("status after first vote = %s, want in_progress", ct.Status)
	}
	ct.ApplyVote(Vote{Score: 49})
	ct.ApplyVote(Vote{Score: 50})

	if ct.VoteCount != 3 || ct.ScoreSum != 179 {
		t.Errorf("tally = %d votes / %d sum, want 3 / 179", ct.VoteCount, ct.ScoreSum)
	}
	// 49 is below the positive cutoff, 50 is at it.
	if ct.PositiveCount != 2 {
		t.Errorf("positive count = %d, want 2", ct.PositiveCount)
	}
	if !ct.QuorumReached() {
		t.Error("quorum not reached after min_jurors votes")
	}
}

func TestFinalizeCompleted(t *testing.T) {
	ct := consensusTask()
	for _, score := range []int{80, 90, 85} {
		ct.ApplyVote(Vote{Score: score})
	}
	ct.Finalize()

	if ct.Status != TaskCompleted {
		t.Errorf("status = %s, want completed", ct.Status)
	}
	if ct.FinalScore != 85 {
		t.Errorf("final score = %d, want 85", ct.FinalScore)
	}
}

func TestFinalizeDisputed(t *testing.T) {
	ct := consensusTask()
	// One positive of three is 3333 bps, below the 6600 threshold.
	for _, score := range []int{90, 20, 10} {
		ct.ApplyVote(Vote{Score: score})
	}
	ct.Finalize()

	if ct.Status != TaskDisputed {
		t.Errorf("status = %s, want disputed", ct.Status)
	}
	if ct.FinalScore != 40 {
		t.Errorf("final score = %d, want 40", ct.FinalScore)
	}
}

func TestFinalizeThresholdBoundary(t *testing.T) {
	// Two positives of three is 6666 bps, just above 6600.
	ct := consensusTask()
	for _, score := range []int{80, 80, 0} {
		ct.ApplyVote(Vote{Score: score})
	}
	ct.Finalize()
	if ct.Status != TaskCompleted {
		t.Errorf("status = %s, want completed at 6666 bps", ct.Status)
	}
}

func TestFinalizeNoVotesCancels(t *testing.T) {
	ct := consensusTask()
	ct.Finalize()
	if ct.Status != TaskCancelled {
		t.Errorf("status = %s, want cancelled", ct.Status)
	}
	if ct.FinalScore != 0 {
		t.Errorf("final score = %d, want 0", ct.FinalScore)
	}
}

func TestCanFinalize(t *testing.T) {
	ct := consensusTask()
	if err := ct.CanFinalize(testNow); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("finalize before quorum or deadline: got %v, want ErrInvalidState", err)
	}
	if err := ct.CanFinalize(ct.Deadline); err != nil {
		t.Errorf("finalize at deadline rejected: %v", err)
	}

	for _, score := range []int{80, 80, 80} {
		ct.ApplyVote(Vote{Score: score})
	}
	if err := ct.CanFinalize(testNow); err != nil {
		t.Errorf("finalize at quorum rejected: %v", err)
	}

	ct.Finalize()
	if err := ct.CanFinalize(testNow); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("double finalize: got %v, want ErrInvalidState", err)
	}
}
