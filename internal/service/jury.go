package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	verdiktotel "github.com/verdikt-labs/verdikt/internal/adapter/otel"
	"github.com/verdikt-labs/verdikt/internal/domain"
	"github.com/verdikt-labs/verdikt/internal/domain/event"
	"github.com/verdikt-labs/verdikt/internal/domain/jury"
	"github.com/verdikt-labs/verdikt/internal/port/database"
	"github.com/verdikt-labs/verdikt/internal/port/identity"
	"github.com/verdikt-labs/verdikt/internal/port/messagequeue"
)

// JuryService runs the staked-juror registry and the consensus engine. It
// is also the built-in validation backend consumed by the escrow and the
// registry.
type JuryService struct {
	store    database.Store
	queue    messagequeue.Queue
	resolver identity.Resolver // nil means identity checks are skipped
	now      func() time.Time
}

// NewJuryService creates a JuryService. resolver may be nil when no agent
// identity registry is configured.
func NewJuryService(store database.Store, queue messagequeue.Queue, resolver identity.Resolver) *JuryService {
	return &JuryService{
		store:    store,
		queue:    queue,
		resolver: resolver,
		now:      time.Now,
	}
}

// Register stakes the caller as an active juror.
func (s *JuryService) Register(ctx context.Context, caller string, stake int64) (*jury.Juror, error) {
	p, err := activeParams(ctx, s.store)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetJuror(ctx, caller)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err := existing.CanRegister(stake, p.MinJurorStake); err != nil {
		return nil, err
	}

	now := s.now()
	j := &jury.Juror{
		Account:      caller,
		Stake:        stake,
		State:        jury.JurorActiveStaked,
		RegisteredAt: now,
		UpdatedAt:    now,
	}

	ev := newEvent(ctx, event.JurorRegistered, event.KindJuror, caller, caller, j)
	if err := s.store.RegisterJuror(ctx, j, ev); err != nil {
		return nil, err
	}
	return j, nil
}

// BeginUnregister starts the unregister cooldown. The stake stays locked
// until CompleteUnregister.
func (s *JuryService) BeginUnregister(ctx context.Context, caller string) (*jury.Juror, error) {
	if _, err := activeParams(ctx, s.store); err != nil {
		return nil, err
	}

	j, err := s.store.GetJuror(ctx, caller)
	if err != nil {
		return nil, err
	}
	if err := j.BeginUnregister(); err != nil {
		return nil, err
	}

	now := s.now()
	ev := newEvent(ctx, event.JurorCooldown, event.KindJuror, caller, caller, map[string]any{"since": now})
	return s.store.BeginUnregisterJuror(ctx, caller, now, ev)
}

// CompleteUnregister returns the stake and deactivates the juror once the
// cooldown has elapsed.
func (s *JuryService) CompleteUnregister(ctx context.Context, caller string) (*jury.Juror, error) {
	p, err := activeParams(ctx, s.store)
	if err != nil {
		return nil, err
	}

	j, err := s.store.GetJuror(ctx, caller)
	if err != nil {
		return nil, err
	}
	if err := j.CompleteUnregister(p.UnregisterCooldown, s.now()); err != nil {
		return nil, err
	}

	ev := newEvent(ctx, event.JurorUnstaked, event.KindJuror, caller, caller, map[string]any{"stake": j.Stake})
	return s.store.CompleteUnregisterJuror(ctx, caller, ev)
}

// Juror returns one juror by account.
func (s *JuryService) Juror(ctx context.Context, account string) (*jury.Juror, error) {
	return s.store.GetJuror(ctx, account)
}

// Jurors returns all jurors.
func (s *JuryService) Jurors(ctx context.Context) ([]jury.Juror, error) {
	return s.store.ListJurors(ctx)
}

// Open creates a consensus task on behalf of the caller.
func (s *JuryService) Open(ctx context.Context, caller string, req jury.CreateRequest) (*jury.Task, error) {
	req.Creator = caller
	ref, err := s.OpenTask(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.store.GetConsensusTask(ctx, ref)
}

// OpenTask implements the validator backend. Zero MinJurors/ThresholdBps
// fall back to the protocol defaults.
func (s *JuryService) OpenTask(ctx context.Context, req jury.CreateRequest) (string, error) {
	p, err := activeParams(ctx, s.store)
	if err != nil {
		return "", err
	}
	if req.MinJurors == 0 {
		req.MinJurors = p.MinJurors
	}
	if req.ThresholdBps == 0 {
		req.ThresholdBps = p.ConsensusThreshold
	}

	now := s.now()
	if err := req.Validate(now); err != nil {
		return "", err
	}
	if s.resolver != nil && req.AgentID != 0 {
		revoked, err := s.resolver.IsRevoked(ctx, req.AgentID)
		if err != nil {
			return "", fmt.Errorf("check agent %d: %w", req.AgentID, err)
		}
		if revoked {
			return "", fmt.Errorf("%w: agent %d is revoked", domain.ErrValidation, req.AgentID)
		}
	}

	t := &jury.Task{
		ID:           uuid.NewString(),
		Creator:      req.Creator,
		AgentID:      req.AgentID,
		EvidenceURI:  req.EvidenceURI,
		Category:     req.Category,
		MinJurors:    req.MinJurors,
		ThresholdBps: req.ThresholdBps,
		Deadline:     req.Deadline,
		Status:       jury.TaskPending,
		RequestHash:  req.RequestHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ev := newEvent(ctx, event.ValidationOpened, event.KindConsensusTask, t.ID, req.Creator, t)
	if err := s.store.CreateConsensusTask(ctx, t, ev); err != nil {
		return "", err
	}
	return t.ID, nil
}

// GetTask implements the validator backend.
func (s *JuryService) GetTask(ctx context.Context, ref string) (*jury.Task, error) {
	return s.store.GetConsensusTask(ctx, ref)
}

// Tasks returns consensus tasks matching the filter.
func (s *JuryService) Tasks(ctx context.Context, f database.ConsensusFilter) ([]jury.Task, error) {
	return s.store.ListConsensusTasks(ctx, f)
}

// Votes returns the votes cast on one consensus task.
func (s *JuryService) Votes(ctx context.Context, taskID string) ([]jury.Vote, error) {
	return s.store.ListVotes(ctx, taskID)
}

// Vote casts the caller's single vote on a consensus task. The task
// finalizes immediately once quorum is reached.
func (s *JuryService) Vote(ctx context.Context, caller, taskID string, score int, rationale string) (*jury.Task, error) {
	if _, err := activeParams(ctx, s.store); err != nil {
		return nil, err
	}

	juror, err := s.store.GetJuror(ctx, caller)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err := juror.CanVote(); err != nil {
		return nil, err
	}

	t, err := s.store.GetConsensusTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := t.CanVote(score, now); err != nil {
		return nil, err
	}
	if err := s.checkConflict(ctx, caller, t); err != nil {
		return nil, err
	}

	v := jury.Vote{
		TaskID:    taskID,
		Juror:     caller,
		Score:     score,
		Rationale: rationale,
		CastAt:    now,
	}
	ev := newEvent(ctx, event.VoteCast, event.KindConsensusTask, taskID, caller, v)
	updated, err := s.store.CastVote(ctx, v, ev)
	if err != nil {
		return nil, err
	}
	publish(ctx, s.queue, messagequeue.SubjectVoteCast, v)

	if updated.QuorumReached() {
		final, err := s.finalize(ctx, caller, updated)
		if err != nil {
			// The vote is committed; finalization will be retried by
			// the sweeper or an explicit call.
			slog.Error("failed to finalize consensus task at quorum", "task_id", taskID, "error", err)
			return updated, nil
		}
		return final, nil
	}
	return updated, nil
}

// checkConflict blocks self-dealing: the task creator and the resolved
// owner of the task's agent may not vote on it.
func (s *JuryService) checkConflict(ctx context.Context, caller string, t *jury.Task) error {
	if caller == t.Creator {
		return fmt.Errorf("%w: creator may not vote on its own task", domain.ErrConflictOfInterest)
	}
	if s.resolver == nil || t.AgentID == 0 {
		return nil
	}
	owner, err := s.resolver.OwnerOf(ctx, t.AgentID)
	if err != nil {
		// A registry outage skips the ownership check rather than
		// blocking the vote.
		slog.Warn("agent owner lookup failed, skipping ownership check", "agent_id", t.AgentID, "error", err)
		return nil
	}
	if owner != "" && owner == caller {
		return fmt.Errorf("%w: agent owner may not vote on its own task", domain.ErrConflictOfInterest)
	}
	return nil
}

// Finalize settles a consensus task once quorum is reached or the deadline
// has passed. Anyone may call it.
func (s *JuryService) Finalize(ctx context.Context, caller, taskID string) (*jury.Task, error) {
	t, err := s.store.GetConsensusTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := t.CanFinalize(s.now()); err != nil {
		return nil, err
	}
	return s.finalize(ctx, caller, t)
}

func (s *JuryService) finalize(ctx context.Context, actor string, t *jury.Task) (*jury.Task, error) {
	_, span := verdiktotel.StartConsensusSpan(ctx, t.ID, "finalize")
	defer span.End()

	settled := *t
	settled.Finalize()

	ev := newEvent(ctx, event.ConsensusFinal, event.KindConsensusTask, t.ID, actor, map[string]any{
		"status":      settled.Status,
		"final_score": settled.FinalScore,
		"votes":       settled.VoteCount,
	})
	updated, err := s.store.FinalizeConsensusTask(ctx, t.ID, int64(settled.FinalScore), settled.Status, ev)
	if err != nil {
		return nil, err
	}

	publish(ctx, s.queue, messagequeue.SubjectConsensusFinal, updated)
	return updated, nil
}

// SweepOverdue finalizes every non-final consensus task whose deadline has
// passed. It returns the number settled and is run on a fixed interval.
func (s *JuryService) SweepOverdue(ctx context.Context, batch int) (int, error) {
	tasks, err := s.store.ListOverdueConsensusTasks(ctx, s.now(), batch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range tasks {
		if _, err := s.finalize(ctx, "sweeper", &tasks[i]); err != nil {
			slog.Error("failed to finalize overdue consensus task", "task_id", tasks[i].ID, "error", err)
			continue
		}
		settled++
	}
	return settled, nil
}
