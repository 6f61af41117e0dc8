package jury

import (
	"fmt"
	"time"

	"github.com/verdikt-labs/verdikt/internal/domain"
	"github.com/verdikt-labs/verdikt/internal/domain/params"
)

// TaskStatus represents the lifecycle of a consensus task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskDisputed   TaskStatus = "disputed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Final reports whether the status admits no further votes or finalization.
func (s TaskStatus) Final() bool {
	return s == TaskCompleted || s == TaskDisputed || s == TaskCancelled
}

// PositiveScore is the score at or above which a vote counts toward
// consensus.
const PositiveScore = 50

// Task is the jury engine's own task record, referenced by (but distinct
// from) the escrow task.
type Task struct {
	ID            string     `json:"id"`
	Creator       string     `json:"creator"`
	AgentID       uint64     `json:"agent_id"`
	EvidenceURI   string     `json:"evidence_uri"`
	Category      string     `json:"category"`
	MinJurors     int        `json:"min_jurors"`
	ThresholdBps  int64      `json:"threshold_bps"`
	Deadline      time.Time  `json:"deadline"`
	VoteCount     int        `json:"vote_count"`
	PositiveCount int        `json:"positive_count"`
	ScoreSum      int64      `json:"score_sum"`
	FinalScore    int        `json:"final_score"`
	Status        TaskStatus `json:"status"`
	RequestHash   string     `json:"request_hash,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CreateRequest holds the fields needed to open a new consensus task.
type CreateRequest struct {
	Creator      string    `json:"creator"`
	AgentID      uint64    `json:"agent_id"`
	EvidenceURI  string    `json:"evidence_uri"`
	Category     string    `json:"category"`
	MinJurors    int       `json:"min_jurors"`
	ThresholdBps int64     `json:"threshold_bps"`
	Deadline     time.Time `json:"deadline"`
	RequestHash  string    `json:"request_hash,omitempty"`
}

// Validate checks the create request. Zero MinJurors/ThresholdBps are
// filled from protocol params by the service before this is called.
func (r *CreateRequest) Validate(now time.Time) error {
	if r.Creator == "" {
		return fmt.Errorf("%w: creator is required", domain.ErrValidation)
	}
	if r.MinJurors < 1 {
		return fmt.Errorf("%w: min_jurors must be >= 1", domain.ErrValidation)
	}
	if r.ThresholdBps < 0 || r.ThresholdBps > params.BasisPoints {
		return fmt.Errorf("%w: threshold_bps out of range", domain.ErrValidation)
	}
	if !r.Deadline.After(now) {
		return fmt.Errorf("%w: deadline must be in the future", domain.ErrValidation)
	}
	return nil
}

// Vote is one juror's judgement on a consensus task. Votes are append-only
// and never revised.
type Vote struct {
	TaskID    string    `json:"task_id"`
	Juror     string    `json:"juror"`
	Score     int       `json:"score"`
	Rationale string    `json:"rationale,omitempty"`
	CastAt    time.Time `json:"cast_at"`
}

// CanVote checks the task-side guard for casting a vote.
func (t *Task) CanVote(score int, now time.Time) error {
	if t.Status != TaskPending && t.Status != TaskInProgress {
		return fmt.Errorf("%w: voting requires a pending or in-progress task, got %s", domain.ErrInvalidState, t.Status)
	}
	if !now.Before(t.Deadline) {
		return domain.ErrDeadlinePassed
	}
	if score < 0 || score > 100 {
		return fmt.Errorf("%w: score must be in [0,100]", domain.ErrValidation)
	}
	return nil
}

// ApplyVote folds a vote into the running tally and advances a pending task
// to in-progress on its first vote.
func (t *Task) ApplyVote(v Vote) {
	t.VoteCount++
	t.ScoreSum += int64(v.Score)
	if v.Score >= PositiveScore {
		t.PositiveCount++
	}
	if t.Status == TaskPending {
		t.Status = TaskInProgress
	}
}

// QuorumReached reports whether the vote count has met the minimum juror
// requirement.
func (t *Task) QuorumReached() bool {
	return t.VoteCount >= t.MinJurors
}

// CanFinalize checks the guard for finalization: quorum reached or deadline
// passed, whichever comes first, and not earlier.
func (t *Task) CanFinalize(now time.Time) error {
	if t.Status.Final() {
		return fmt.Errorf("%w: consensus task already final (%s)", domain.ErrInvalidState, t.Status)
	}
	if !t.QuorumReached() && now.Before(t.Deadline) {
		return fmt.Errorf("%w: quorum not reached and deadline not passed", domain.ErrInvalidState)
	}
	return nil
}

// Finalize computes the final aggregate score (floor mean of all cast
// scores) and resolves the task's status against its consensus threshold:
// rate >= threshold means completed, otherwise disputed. A task finalized
// with no votes at all is cancelled.
func (t *Task) Finalize() {
	if t.VoteCount == 0 {
		t.Status = TaskCancelled
		t.FinalScore = 0
		return
	}

	t.FinalScore = int(t.ScoreSum / int64(t.VoteCount))

	rate := int64(t.PositiveCount) * params.BasisPoints / int64(t.VoteCount)
	if rate >= t.ThresholdBps {
		t.Status = TaskCompleted
	} else {
		t.Status = TaskDisputed
	}
}
