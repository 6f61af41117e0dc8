// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/verdikt-labs/verdikt/internal/domain/escrow"
	"github.com/verdikt-labs/verdikt/internal/domain/event"
	"github.com/verdikt-labs/verdikt/internal/domain/jury"
	"github.com/verdikt-labs/verdikt/internal/domain/params"
	"github.com/verdikt-labs/verdikt/internal/domain/registry"
)

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	Funder   string
	Executor string
	Status   escrow.Status
	Limit    int
}

// ConsensusFilter narrows ListConsensusTasks. Zero values match everything.
type ConsensusFilter struct {
	Creator string
	Status  jury.TaskStatus
	Limit   int
}

// Store is the port interface for database operations. Methods that move
// funds or change status run as a single transaction: the status-guarded
// row update, the ledger moves, and the event append commit together or
// not at all. Status guards surface as domain.ErrInvalidState.
type Store interface {
	// Protocol parameters
	// EnsureParams inserts the given record if none exists yet. Called
	// once at startup; a no-op on an already-seeded database.
	EnsureParams(ctx context.Context, seed params.Params) error
	GetParams(ctx context.Context) (*params.Params, error)
	// UpdateParams writes p guarded by its predecessor version and bumps
	// the version. A stale version yields domain.ErrConflict.
	UpdateParams(ctx context.Context, p params.Params, ev event.Event) (*params.Params, error)

	// Nonces
	NextTaskNonce(ctx context.Context, creator string) (uint64, error)
	// ConsumeSigningNonce marks (account, nonce) used; a repeat yields
	// domain.ErrReplayedSignature. Consumed inside the transition that
	// carries the signature.
	ConsumeSigningNonce(ctx context.Context, account string, nonce uint64) error

	// Escrow tasks
	GetTask(ctx context.Context, id string) (*escrow.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]escrow.Task, error)
	// CreateTask inserts the task and escrows the full reward from the
	// funder into custody. With spendAllowance set, the custody account's
	// allowance over the funder is consumed in the same transaction
	// (permit-funded creation).
	CreateTask(ctx context.Context, t *escrow.Task, spendAllowance bool, ev event.Event) error
	AcceptTask(ctx context.Context, id, executor string, ev event.Event) (*escrow.Task, error)
	// AcceptTaskSigned is AcceptTask plus consuming the executor's signing
	// nonce in the same transaction.
	AcceptTaskSigned(ctx context.Context, id, executor string, nonce uint64, ev event.Event) (*escrow.Task, error)
	AssignProvider(ctx context.Context, id, provider string, fee int64, ev event.Event) (*escrow.Task, error)
	SubmitWork(ctx context.Context, id, evidenceURI string, submittedAt time.Time, ev event.Event) (*escrow.Task, error)
	// ChallengeTask escrows the challenge stake from the funder and links
	// the consensus task that will decide the dispute.
	ChallengeTask(ctx context.Context, id string, stake int64, consensusRef string, ev event.Event) (*escrow.Task, error)
	// FinalizeTask pays out from custody and closes the task. For a task
	// finalized out of a challenge, stakeReturn is the escrowed challenge
	// stake going back to the funder; zero otherwise.
	FinalizeTask(ctx context.Context, id string, pay escrow.Payout, validatorPool string, stakeReturn int64, ev event.Event) (*escrow.Task, error)
	// RefundChallengedTask returns the reward to the funder and forwards
	// the challenge stake to the executor. Challenged tasks only.
	RefundChallengedTask(ctx context.Context, id string, ev event.Event) (*escrow.Task, error)
	// VoidChallenge returns the challenge stake to the funder and puts the
	// task back to submitted, used when the consensus round drew no votes.
	VoidChallenge(ctx context.Context, id string, ev event.Event) (*escrow.Task, error)
	// CancelTask returns the escrowed reward to the funder. Open tasks only.
	CancelTask(ctx context.Context, id string, ev event.Event) (*escrow.Task, error)
	// RefundExpiredTask returns the escrowed reward to the funder after the
	// task deadline. Open or accepted tasks only.
	RefundExpiredTask(ctx context.Context, id string, ev event.Event) (*escrow.Task, error)

	// Validation requirements
	UpsertRequirement(ctx context.Context, r escrow.ValidationRequirement, ev event.Event) error
	ListRequirements(ctx context.Context, taskID string) ([]escrow.ValidationRequirement, error)
	// AggregateValidation folds the recorded responses for (taskID, tag)
	// into the counts the requirement gate checks.
	AggregateValidation(ctx context.Context, taskID, tag string) (*escrow.ValidationAggregate, error)

	// Jurors
	GetJuror(ctx context.Context, account string) (*jury.Juror, error)
	ListJurors(ctx context.Context) ([]jury.Juror, error)
	// RegisterJuror inserts the juror and escrows the stake.
	RegisterJuror(ctx context.Context, j *jury.Juror, ev event.Event) error
	BeginUnregisterJuror(ctx context.Context, account string, since time.Time, ev event.Event) (*jury.Juror, error)
	// CompleteUnregisterJuror returns the stake and deactivates the juror.
	CompleteUnregisterJuror(ctx context.Context, account string, ev event.Event) (*jury.Juror, error)

	// Consensus tasks
	CreateConsensusTask(ctx context.Context, t *jury.Task, ev event.Event) error
	GetConsensusTask(ctx context.Context, id string) (*jury.Task, error)
	ListConsensusTasks(ctx context.Context, f ConsensusFilter) ([]jury.Task, error)
	// ListOverdueConsensusTasks returns non-final tasks whose deadline has
	// passed, for the finalization sweeper.
	ListOverdueConsensusTasks(ctx context.Context, now time.Time, limit int) ([]jury.Task, error)
	// CastVote inserts the vote and folds it into the task tallies in one
	// statement. A second vote by the same juror yields
	// domain.ErrAlreadyVoted.
	CastVote(ctx context.Context, v jury.Vote, ev event.Event) (*jury.Task, error)
	ListVotes(ctx context.Context, taskID string) ([]jury.Vote, error)
	// FinalizeConsensusTask settles the task. When the task carries a
	// request hash, the final score is recorded as that hash's validation
	// status in the same transaction, so gating observes one uniform
	// result regardless of how it was produced.
	FinalizeConsensusTask(ctx context.Context, id string, finalScore int64, status jury.TaskStatus, ev event.Event) (*jury.Task, error)

	// Validation registry
	// CreateValidationRequest is retry-safe: inserting a hash that already
	// exists is a no-op that leaves the first request in place.
	CreateValidationRequest(ctx context.Context, r *registry.Request, ev event.Event) error
	GetValidationRequest(ctx context.Context, hash string) (*registry.Request, error)
	ListValidationRequests(ctx context.Context, taskRef string) ([]registry.Request, error)
	// RecordValidationResponse upserts the latest-response projection for
	// the request hash.
	RecordValidationResponse(ctx context.Context, s registry.Status, ev event.Event) error
	GetValidationStatus(ctx context.Context, hash string) (*registry.Status, error)

	// Receipts
	// LinkReceipt records the receipt under its scope. Linking the same
	// (id, scope) again is a no-op and reports created=false.
	LinkReceipt(ctx context.Context, rc registry.Receipt, ev event.Event) (created bool, err error)
	ListReceipts(ctx context.Context, scope string) ([]registry.Receipt, error)

	// Event log
	ListEvents(ctx context.Context, entityKind, entityID string, limit int) ([]event.Event, error)
}
