// Package service implements the business logic on top of the domain and
// the ports.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	verdiktotel "github.com/verdikt-labs/verdikt/internal/adapter/otel"
	"github.com/verdikt-labs/verdikt/internal/domain"
	"github.com/verdikt-labs/verdikt/internal/domain/escrow"
	"github.com/verdikt-labs/verdikt/internal/domain/event"
	"github.com/verdikt-labs/verdikt/internal/domain/jury"
	"github.com/verdikt-labs/verdikt/internal/domain/params"
	"github.com/verdikt-labs/verdikt/internal/domain/signing"
	"github.com/verdikt-labs/verdikt/internal/logger"
	"github.com/verdikt-labs/verdikt/internal/port/cache"
	"github.com/verdikt-labs/verdikt/internal/port/database"
	"github.com/verdikt-labs/verdikt/internal/port/messagequeue"
	"github.com/verdikt-labs/verdikt/internal/port/token"
	"github.com/verdikt-labs/verdikt/internal/port/validator"
)

const taskCacheTTL = 5 * time.Second

// Permit is a signed pre-authorization to fund a task from the signer's
// balance without a prior approve call.
type Permit struct {
	Nonce     uint64    `json:"nonce"`
	Deadline  time.Time `json:"deadline"`
	Signature string    `json:"signature"`
}

// SignedAccept authorizes the accept transition on behalf of the executor
// who signed it, so a third party can relay the call.
type SignedAccept struct {
	Executor  string    `json:"executor"`
	Nonce     uint64    `json:"nonce"`
	Expiry    time.Time `json:"expiry"`
	Signature string    `json:"signature"`
}

// RequirementStatus is the per-tag gate report for a task.
type RequirementStatus struct {
	Requirement escrow.ValidationRequirement `json:"requirement"`
	Aggregate   escrow.ValidationAggregate   `json:"aggregate"`
	Satisfied   bool                         `json:"satisfied"`
}

// EscrowService drives the task escrow state machine.
type EscrowService struct {
	store     database.Store
	ledger    token.Ledger
	queue     messagequeue.Queue
	cache     cache.Cache
	backend   validator.Backend
	separator []byte
	now       func() time.Time
}

// NewEscrowService creates an EscrowService. domainID binds signatures to
// this deployment.
func NewEscrowService(store database.Store, ledger token.Ledger, queue messagequeue.Queue, cch cache.Cache, backend validator.Backend, domainID string) *EscrowService {
	return &EscrowService{
		store:     store,
		ledger:    ledger,
		queue:     queue,
		cache:     cch,
		backend:   backend,
		separator: signing.DomainSeparator(domainID),
		now:       time.Now,
	}
}

// Get returns a task by ID, served from cache when fresh.
func (s *EscrowService) Get(ctx context.Context, id string) (*escrow.Task, error) {
	if b, ok, err := s.cache.Get(ctx, taskCacheKey(id)); err == nil && ok {
		var t escrow.Task
		if err := json.Unmarshal(b, &t); err == nil {
			return &t, nil
		}
	}

	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheTask(ctx, t)
	return t, nil
}

// List returns tasks matching the filter.
func (s *EscrowService) List(ctx context.Context, f database.TaskFilter) ([]escrow.Task, error) {
	return s.store.ListTasks(ctx, f)
}

// Create opens a new escrowed task, moving the full reward from the
// funder's balance into custody.
func (s *EscrowService) Create(ctx context.Context, caller string, req escrow.CreateRequest) (*escrow.Task, error) {
	if req.Funder == "" {
		req.Funder = caller
	}
	if req.Funder != caller {
		return nil, fmt.Errorf("%w: only the funder may create its own task", domain.ErrUnauthorized)
	}
	return s.create(ctx, req, false)
}

// CreateWithPermit opens a task funded by a permit the funder signed, so a
// relayer may submit the creation without holding funds itself.
func (s *EscrowService) CreateWithPermit(ctx context.Context, req escrow.CreateRequest, p Permit) (*escrow.Task, error) {
	// Every precondition of the creation itself is checked before the
	// permit is applied; a rejected call must leave the nonce intact.
	if _, err := activeParams(ctx, s.store); err != nil {
		return nil, err
	}

	now := s.now()
	if err := req.Validate(now); err != nil {
		return nil, err
	}
	if !p.Deadline.After(now) {
		return nil, fmt.Errorf("%w: permit deadline has passed", domain.ErrDeadlinePassed)
	}

	current, err := s.ledger.PermitNonce(ctx, req.Token, req.Funder)
	if err != nil {
		return nil, err
	}
	if p.Nonce != current {
		return nil, domain.ErrReplayedSignature
	}

	sig, err := signing.ParseSignature(p.Signature)
	if err != nil {
		return nil, err
	}
	digest := signing.PermitDigest(s.separator, req.Token, req.Funder, token.CustodyAccount, req.Reward, p.Nonce, p.Deadline)
	if err := signing.VerifySigner(digest, sig, req.Funder); err != nil {
		return nil, err
	}

	if err := s.ledger.ApplyPermit(ctx, req.Token, req.Funder, token.CustodyAccount, req.Reward, p.Nonce); err != nil {
		return nil, err
	}
	return s.create(ctx, req, true)
}

func (s *EscrowService) create(ctx context.Context, req escrow.CreateRequest, spendAllowance bool) (*escrow.Task, error) {
	if _, err := activeParams(ctx, s.store); err != nil {
		return nil, err
	}

	now := s.now()
	if err := req.Validate(now); err != nil {
		return nil, err
	}

	nonce, err := s.store.NextTaskNonce(ctx, req.Funder)
	if err != nil {
		return nil, err
	}

	t := &escrow.Task{
		ID:          escrow.DeriveID(req.Funder, nonce, now, req.Tag),
		Funder:      req.Funder,
		Token:       req.Token,
		Reward:      req.Reward,
		Deadline:    req.Deadline,
		Status:      escrow.StatusOpen,
		MetadataURI: req.MetadataURI,
		Tag:         req.Tag,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ev := newEvent(ctx, event.TaskCreated, event.KindTask, t.ID, req.Funder, t)
	if err := s.store.CreateTask(ctx, t, spendAllowance, ev); err != nil {
		return nil, err
	}

	publish(ctx, s.queue, messagequeue.SubjectTaskCreated, t)
	return t, nil
}

// Accept assigns the caller as the task's executor.
func (s *EscrowService) Accept(ctx context.Context, caller, taskID string) (*escrow.Task, error) {
	if _, err := activeParams(ctx, s.store); err != nil {
		return nil, err
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := t.CanAccept(caller, s.now()); err != nil {
		return nil, err
	}

	ev := newEvent(ctx, event.TaskAccepted, event.KindTask, taskID, caller, map[string]string{"executor": caller})
	updated, err := s.store.AcceptTask(ctx, taskID, caller, ev)
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, messagequeue.SubjectTaskAccepted, updated)
	return updated, nil
}

// AcceptSigned performs the accept transition on behalf of the executor who
// signed the authorization. The signing nonce is consumed atomically with
// the transition.
func (s *EscrowService) AcceptSigned(ctx context.Context, caller, taskID string, auth SignedAccept) (*escrow.Task, error) {
	if _, err := activeParams(ctx, s.store); err != nil {
		return nil, err
	}

	now := s.now()
	if !auth.Expiry.After(now) {
		return nil, fmt.Errorf("%w: accept authorization has expired", domain.ErrDeadlinePassed)
	}

	sig, err := signing.ParseSignature(auth.Signature)
	if err != nil {
		return nil, err
	}
	digest := signing.AcceptDigest(s.separator, taskID, auth.Executor, auth.Nonce, auth.Expiry)
	if err := signing.VerifySigner(digest, sig, auth.Executor); err != nil {
		return nil, err
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	executor := strings.ToLower(auth.Executor)
	if err := t.CanAccept(executor, now); err != nil {
		return nil, err
	}

	ev := newEvent(ctx, event.TaskAccepted, event.KindTask, taskID, caller, map[string]string{"executor": executor, "relayed": "true"})
	updated, err := s.store.AcceptTaskSigned(ctx, taskID, executor, auth.Nonce, ev)
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, messagequeue.SubjectTaskAccepted, updated)
	return updated, nil
}

// AssignProvider records the executor's supplier and the negotiated fee.
// The fee is capped at the reward's provider share.
func (s *EscrowService) AssignProvider(ctx context.Context, caller, taskID, provider string, fee int64) (*escrow.Task, error) {
	p, err := activeParams(ctx, s.store)
	if err != nil {
		return nil, err
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	maxFee := escrow.ProviderFeeCap(t.Reward, p.Shares)
	if err := t.CanAssignProvider(caller, provider, fee, maxFee); err != nil {
		return nil, err
	}

	ev := newEvent(ctx, event.TaskProviderSet, event.KindTask, taskID, caller, map[string]any{"provider": provider, "fee": fee})
	updated, err := s.store.AssignProvider(ctx, taskID, provider, fee, ev)
	if err != nil {
		return nil, err
	}

	s.invalidateTask(ctx, taskID)
	return updated, nil
}

// SubmitWork records the evidence locator and opens the challenge window.
func (s *EscrowService) SubmitWork(ctx context.Context, caller, taskID, evidenceURI string) (*escrow.Task, error) {
	if _, err := activeParams(ctx, s.store); err != nil {
		return nil, err
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := t.CanSubmit(caller, evidenceURI); err != nil {
		return nil, err
	}

	now := s.now()
	ev := newEvent(ctx, event.TaskSubmitted, event.KindTask, taskID, caller, map[string]string{"evidence_uri": evidenceURI})
	updated, err := s.store.SubmitWork(ctx, taskID, evidenceURI, now, ev)
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, messagequeue.SubjectTaskSubmitted, updated)
	return updated, nil
}

// Challenge disputes submitted work. The funder posts a stake into custody
// and a consensus task is opened with the jury to decide the dispute.
func (s *EscrowService) Challenge(ctx context.Context, caller, taskID string, stake int64) (*escrow.Task, error) {
	p, err := activeParams(ctx, s.store)
	if err != nil {
		return nil, err
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := t.CanChallenge(caller, stake, p.MinChallengeStake, p.ChallengePeriod, now); err != nil {
		return nil, err
	}

	// The round opens before the status transition commits. If the
	// transition then loses a concurrent race, the round is orphaned with
	// no votes and the deadline sweeper cancels it.
	ref, err := s.backend.OpenTask(ctx, jury.CreateRequest{
		Creator:     caller,
		EvidenceURI: t.EvidenceURI,
		Category:    t.Tag,
		Deadline:    now.Add(p.ChallengePeriod),
	})
	if err != nil {
		return nil, fmt.Errorf("open consensus task: %w", err)
	}

	ev := newEvent(ctx, event.TaskChallenged, event.KindTask, taskID, caller, map[string]any{"stake": stake, "consensus_ref": ref})
	updated, err := s.store.ChallengeTask(ctx, taskID, stake, ref, ev)
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, messagequeue.SubjectTaskChallenged, updated)
	return updated, nil
}

// Finalize closes a submitted task after the challenge window, pays out,
// and may be called by anyone. All enabled validation requirements must be
// satisfied first.
func (s *EscrowService) Finalize(ctx context.Context, caller, taskID string) (*escrow.Task, error) {
	p, err := activeParams(ctx, s.store)
	if err != nil {
		return nil, err
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := t.CanFinalize(p.ChallengePeriod, s.now()); err != nil {
		return nil, err
	}
	return s.finalize(ctx, caller, t, p, 0, false)
}

// Approve is the funder's early finalization, bypassing the remaining
// challenge window but not the validation-requirement gate.
func (s *EscrowService) Approve(ctx context.Context, caller, taskID string) (*escrow.Task, error) {
	p, err := activeParams(ctx, s.store)
	if err != nil {
		return nil, err
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := t.CanApprove(caller); err != nil {
		return nil, err
	}
	return s.finalize(ctx, caller, t, p, 0, false)
}

// ResolveChallenge settles a challenged task against its linked consensus
// result. A completed result scoring at or above the positive line pays out
// and returns the stake to the challenger; anything lower refunds the
// reward to the funder and forwards the stake to the executor.
func (s *EscrowService) ResolveChallenge(ctx context.Context, caller, taskID string) (*escrow.Task, error) {
	p, err := activeParams(ctx, s.store)
	if err != nil {
		return nil, err
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := t.CanResolveChallenge(); err != nil {
		return nil, err
	}

	ct, err := s.backend.GetTask(ctx, t.ConsensusRef)
	if err != nil {
		return nil, fmt.Errorf("read consensus task %s: %w", t.ConsensusRef, err)
	}
	if !ct.Status.Final() {
		return nil, fmt.Errorf("%w: consensus task is %s", domain.ErrConsensusIncomplete, ct.Status)
	}

	// A cancelled round drew no votes, so there is no verdict to apply. The
	// challenge is voided: stake back to the funder, task back to submitted
	// where it can be challenged or finalized again.
	if ct.Status == jury.TaskCancelled {
		ev := newEvent(ctx, event.TaskSubmitted, event.KindTask, t.ID, caller, map[string]string{
			"challenge": "voided",
		})
		updated, err := s.store.VoidChallenge(ctx, t.ID, ev)
		if err != nil {
			return nil, err
		}
		s.afterTransition(ctx, messagequeue.SubjectTaskSubmitted, updated)
		return updated, nil
	}

	if ct.Status == jury.TaskCompleted && ct.FinalScore >= jury.PositiveScore {
		return s.finalize(ctx, caller, t, p, t.ChallengeStake, true)
	}

	ev := newEvent(ctx, event.TaskRefunded, event.KindTask, t.ID, caller, map[string]any{
		"final_score": ct.FinalScore,
		"stake_to":    t.Executor,
	})
	updated, err := s.store.RefundChallengedTask(ctx, t.ID, ev)
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, messagequeue.SubjectTaskRefunded, updated)
	return updated, nil
}

// finalize runs the shared payout path. stakeReturn is the escrowed
// challenge stake going back to the funder. fromChallenge marks challenge
// resolution, where the jury verdict supersedes the requirement gate.
func (s *EscrowService) finalize(ctx context.Context, caller string, t *escrow.Task, p *params.Params, stakeReturn int64, fromChallenge bool) (*escrow.Task, error) {
	if !fromChallenge {
		if err := s.checkRequirements(ctx, t.ID); err != nil {
			return nil, err
		}
	}

	pay := escrow.ComputePayout(t.Reward, t.ProviderFee, t.Provider != "", p.Shares)
	ev := newEvent(ctx, event.TaskFinalized, event.KindTask, t.ID, caller, pay)
	updated, err := s.store.FinalizeTask(ctx, t.ID, pay, p.ValidatorPool, stakeReturn, ev)
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, messagequeue.SubjectTaskFinalized, updated)
	return updated, nil
}

// Cancel returns the escrowed reward of a still-open task to the funder.
func (s *EscrowService) Cancel(ctx context.Context, caller, taskID string) (*escrow.Task, error) {
	if _, err := activeParams(ctx, s.store); err != nil {
		return nil, err
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := t.CanCancel(caller); err != nil {
		return nil, err
	}

	ev := newEvent(ctx, event.TaskRefunded, event.KindTask, taskID, caller, map[string]string{"reason": "cancelled"})
	updated, err := s.store.CancelTask(ctx, taskID, ev)
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, messagequeue.SubjectTaskRefunded, updated)
	return updated, nil
}

// ClaimExpiredRefund refunds the funder once the task deadline has passed
// without a submission.
func (s *EscrowService) ClaimExpiredRefund(ctx context.Context, caller, taskID string) (*escrow.Task, error) {
	if _, err := activeParams(ctx, s.store); err != nil {
		return nil, err
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := t.CanClaimExpiredRefund(caller, s.now()); err != nil {
		return nil, err
	}

	ev := newEvent(ctx, event.TaskRefunded, event.KindTask, taskID, caller, map[string]string{"reason": "expired"})
	updated, err := s.store.RefundExpiredTask(ctx, taskID, ev)
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, messagequeue.SubjectTaskRefunded, updated)
	return updated, nil
}

// SetRequirement creates or updates the funder's validation requirement for
// one tag on a task. Requirements stay mutable until the task finalizes.
func (s *EscrowService) SetRequirement(ctx context.Context, caller string, r escrow.ValidationRequirement) error {
	if _, err := activeParams(ctx, s.store); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}

	t, err := s.store.GetTask(ctx, r.TaskID)
	if err != nil {
		return err
	}
	if caller != t.Funder {
		return fmt.Errorf("%w: only the funding party may set validation requirements", domain.ErrUnauthorized)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: task is already %s", domain.ErrInvalidState, t.Status)
	}

	ev := newEvent(ctx, event.ValidationOpened, event.KindTask, r.TaskID, caller, r)
	return s.store.UpsertRequirement(ctx, r, ev)
}

// Requirements returns the gate report for a task: every registered
// requirement with its current aggregate and satisfaction.
func (s *EscrowService) Requirements(ctx context.Context, taskID string) ([]RequirementStatus, error) {
	reqs, err := s.store.ListRequirements(ctx, taskID)
	if err != nil {
		return nil, err
	}

	out := make([]RequirementStatus, 0, len(reqs))
	for _, r := range reqs {
		agg, err := s.store.AggregateValidation(ctx, taskID, r.Tag)
		if err != nil {
			return nil, err
		}
		out = append(out, RequirementStatus{
			Requirement: r,
			Aggregate:   *agg,
			Satisfied:   r.Satisfies(*agg),
		})
	}
	return out, nil
}

// checkRequirements enforces the finalization gate: every enabled
// requirement on the task must be satisfied by its aggregate.
func (s *EscrowService) checkRequirements(ctx context.Context, taskID string) error {
	reqs, err := s.store.ListRequirements(ctx, taskID)
	if err != nil {
		return err
	}
	for i := range reqs {
		if !reqs[i].Enabled {
			continue
		}
		agg, err := s.store.AggregateValidation(ctx, taskID, reqs[i].Tag)
		if err != nil {
			return err
		}
		if !reqs[i].Satisfies(*agg) {
			return fmt.Errorf("%w: tag %q", domain.ErrValidationsNotSatisfied, reqs[i].Tag)
		}
	}
	return nil
}

// Events returns the task's audit trail, newest first.
func (s *EscrowService) Events(ctx context.Context, taskID string, limit int) ([]event.Event, error) {
	return s.store.ListEvents(ctx, string(event.KindTask), taskID, limit)
}

// activeParams loads the protocol parameters and rejects the call when the
// protocol is paused.
func activeParams(ctx context.Context, store database.Store) (*params.Params, error) {
	p, err := store.GetParams(ctx)
	if err != nil {
		return nil, err
	}
	if p.Paused {
		return nil, domain.ErrPaused
	}
	return p, nil
}

// newEvent stamps a domain event with the request ID carried in ctx.
func newEvent(ctx context.Context, typ event.Type, kind event.EntityKind, entityID, actor string, payload any) event.Event {
	ev := event.New(typ, kind, entityID, actor, payload)
	ev.RequestID = logger.RequestID(ctx)
	return ev
}

// afterTransition refreshes the cache and publishes the task to the queue.
func (s *EscrowService) afterTransition(ctx context.Context, subject string, t *escrow.Task) {
	_, span := verdiktotel.StartTransitionSpan(ctx, t.ID, subject)
	span.SetAttributes(attribute.String("task.status", string(t.Status)))
	span.End()

	s.cacheTask(ctx, t)
	publish(ctx, s.queue, subject, t)
}

func (s *EscrowService) cacheTask(ctx context.Context, t *escrow.Task) {
	if b, err := json.Marshal(t); err == nil {
		_ = s.cache.Set(ctx, taskCacheKey(t.ID), b, taskCacheTTL)
	}
}

func (s *EscrowService) invalidateTask(ctx context.Context, id string) {
	_ = s.cache.Delete(ctx, taskCacheKey(id))
}

func taskCacheKey(id string) string { return "task:" + id }

// publish is a best-effort queue publish. The state change is already
// committed; subscribers reconcile through the event log if a publish
// is lost.
func publish(ctx context.Context, q messagequeue.Queue, subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal for queue", "subject", subject, "error", err)
		return
	}
	if err := q.Publish(ctx, subject, data); err != nil {
		slog.Error("failed to publish to queue", "subject", subject, "error", err)
	}
}
