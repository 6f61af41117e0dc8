package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/verdikt-labs/verdikt/internal/domain"
	"github.com/verdikt-labs/verdikt/internal/domain/event"
	"github.com/verdikt-labs/verdikt/internal/domain/jury"
	"github.com/verdikt-labs/verdikt/internal/domain/registry"
	"github.com/verdikt-labs/verdikt/internal/port/database"
	"github.com/verdikt-labs/verdikt/internal/port/messagequeue"
	"github.com/verdikt-labs/verdikt/internal/port/validator"
)

// requestConsensusWindow is how long the jury has to settle a consensus
// task opened for a tagged validation request.
const requestConsensusWindow = 72 * time.Hour

// ValidationService runs the tag-scoped request/response registry on top of
// the consensus engine.
type ValidationService struct {
	store    database.Store
	queue    messagequeue.Queue
	backend  validator.Backend
	domainID string
	now      func() time.Time
}

// NewValidationService creates a ValidationService. domainID is mixed into
// every request hash, scoping requests to one deployment.
func NewValidationService(store database.Store, queue messagequeue.Queue, backend validator.Backend, domainID string) *ValidationService {
	return &ValidationService{
		store:    store,
		queue:    queue,
		backend:  backend,
		domainID: domainID,
		now:      time.Now,
	}
}

// Open records a validation request keyed by its deterministic hash and
// opens a consensus task for it. Opening the same request twice is
// retry-safe: the original request survives and its hash is returned.
func (s *ValidationService) Open(ctx context.Context, caller string, req registry.OpenRequest) (*registry.Request, error) {
	if _, err := activeParams(ctx, s.store); err != nil {
		return nil, err
	}

	req.Requester = caller
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash := registry.RequestHash(s.domainID, req)
	if existing, err := s.store.GetValidationRequest(ctx, hash); err == nil {
		return existing, nil
	}

	now := s.now()
	ref, err := s.backend.OpenTask(ctx, jury.CreateRequest{
		Creator:     caller,
		AgentID:     req.AgentID,
		EvidenceURI: req.LocatorURI,
		Category:    req.Tag,
		Deadline:    now.Add(requestConsensusWindow),
		RequestHash: hash,
	})
	if err != nil {
		return nil, fmt.Errorf("open consensus task: %w", err)
	}

	r := &registry.Request{
		Hash:         hash,
		Requester:    caller,
		Validator:    strings.ToLower(req.Validator),
		AgentID:      req.AgentID,
		TaskRef:      req.TaskRef,
		Tag:          req.Tag,
		LocatorURI:   req.LocatorURI,
		ConsensusRef: ref,
		CreatedAt:    now,
	}

	ev := newEvent(ctx, event.ValidationOpened, event.KindRequest, hash, caller, r)
	if err := s.store.CreateValidationRequest(ctx, r, ev); err != nil {
		return nil, err
	}

	publish(ctx, s.queue, messagequeue.SubjectValidationOpen, r)
	return r, nil
}

// Get returns a request by hash.
func (s *ValidationService) Get(ctx context.Context, hash string) (*registry.Request, error) {
	return s.store.GetValidationRequest(ctx, hash)
}

// ListByTask returns the requests opened against one task reference.
func (s *ValidationService) ListByTask(ctx context.Context, taskRef string) ([]registry.Request, error) {
	return s.store.ListValidationRequests(ctx, taskRef)
}

// Respond records the addressed validator's response against a request
// hash. Only the most recent response per hash survives as the queryable
// status; earlier ones remain in the event log.
func (s *ValidationService) Respond(ctx context.Context, caller, hash string, score int, tag, locatorURI string) (*registry.Status, error) {
	if _, err := activeParams(ctx, s.store); err != nil {
		return nil, err
	}
	if score < 0 || score > 100 {
		return nil, fmt.Errorf("%w: score must be in [0,100]", domain.ErrValidation)
	}

	req, err := s.store.GetValidationRequest(ctx, hash)
	if err != nil {
		return nil, err
	}
	if caller != req.Validator {
		return nil, fmt.Errorf("%w: only the addressed validator may respond", domain.ErrUnauthorized)
	}
	if tag == "" {
		tag = req.Tag
	}

	st := registry.Status{
		Hash:       hash,
		Validator:  caller,
		AgentID:    req.AgentID,
		Score:      score,
		Tag:        tag,
		LocatorURI: locatorURI,
		UpdatedAt:  s.now(),
	}

	ev := newEvent(ctx, event.ValidationScored, event.KindRequest, hash, caller, st)
	if err := s.store.RecordValidationResponse(ctx, st, ev); err != nil {
		return nil, err
	}

	publish(ctx, s.queue, messagequeue.SubjectValidationResp, st)
	return &st, nil
}

// Status returns the latest response recorded for a request hash.
func (s *ValidationService) Status(ctx context.Context, hash string) (*registry.Status, error) {
	return s.store.GetValidationStatus(ctx, hash)
}

// LinkReceipt associates an externally issued receipt identifier with a
// task or a request hash. Only the original creator/requester of the scope
// may link, and re-linking an already-linked identifier is a no-op so
// at-least-once callers can retry safely.
func (s *ValidationService) LinkReceipt(ctx context.Context, caller, id, scope, locatorURI string) (*registry.Receipt, error) {
	if _, err := activeParams(ctx, s.store); err != nil {
		return nil, err
	}
	if id == "" || scope == "" {
		return nil, fmt.Errorf("%w: receipt id and scope are required", domain.ErrValidation)
	}

	if err := s.checkScopeOwner(ctx, caller, scope); err != nil {
		return nil, err
	}

	rc := registry.Receipt{
		ID:         id,
		Scope:      scope,
		LocatorURI: locatorURI,
		LinkedBy:   caller,
		LinkedAt:   s.now(),
	}
	ev := newEvent(ctx, event.ReceiptLinked, event.KindRequest, scope, caller, rc)
	if _, err := s.store.LinkReceipt(ctx, rc, ev); err != nil {
		return nil, err
	}
	return &rc, nil
}

// Receipts returns all receipts linked under a scope.
func (s *ValidationService) Receipts(ctx context.Context, scope string) ([]registry.Receipt, error) {
	return s.store.ListReceipts(ctx, scope)
}

// checkScopeOwner verifies the caller owns the scope: the funder for a
// task, the requester for a request hash.
func (s *ValidationService) checkScopeOwner(ctx context.Context, caller, scope string) error {
	if req, err := s.store.GetValidationRequest(ctx, scope); err == nil {
		if caller != req.Requester {
			return fmt.Errorf("%w: only the requester may link receipts to this request", domain.ErrUnauthorized)
		}
		return nil
	}

	t, err := s.store.GetTask(ctx, scope)
	if err != nil {
		return err
	}
	if caller != t.Funder {
		return fmt.Errorf("%w: only the funding party may link receipts to this task", domain.ErrUnauthorized)
	}
	return nil
}
