package service

import (
	"context"
	"fmt"
	"time"

	"github.com/verdikt-labs/verdikt/internal/domain"
	"github.com/verdikt-labs/verdikt/internal/domain/event"
	"github.com/verdikt-labs/verdikt/internal/domain/params"
	"github.com/verdikt-labs/verdikt/internal/port/database"
)

// ParamsService manages the versioned protocol configuration record.
// Administrative calls intentionally bypass the pause gate: pausing must
// not lock the owner out of unpausing.
type ParamsService struct {
	store database.Store
	now   func() time.Time
}

// NewParamsService creates a ParamsService.
func NewParamsService(store database.Store) *ParamsService {
	return &ParamsService{store: store, now: time.Now}
}

// Get returns the current protocol parameters.
func (s *ParamsService) Get(ctx context.Context) (*params.Params, error) {
	return s.store.GetParams(ctx)
}

// Update rewrites the owner-controlled parameters. The distribution shares
// are excluded: they belong to the fee recipient and are carried over
// unchanged from the current record.
func (s *ParamsService) Update(ctx context.Context, caller string, next params.Params) (*params.Params, error) {
	cur, err := s.store.GetParams(ctx)
	if err != nil {
		return nil, err
	}
	if caller != cur.Owner {
		return nil, fmt.Errorf("%w: only the owner may update protocol parameters", domain.ErrUnauthorized)
	}

	next.Shares = cur.Shares
	next.Paused = cur.Paused
	next.Version = cur.Version
	next.UpdatedAt = s.now()
	if err := next.Validate(); err != nil {
		return nil, err
	}

	ev := newEvent(ctx, event.ParamsUpdated, event.KindParams, "protocol", caller, next)
	return s.store.UpdateParams(ctx, next, ev)
}

// SetShares updates the distribution split. Only the fee recipient may
// call this; every other parameter belongs to the owner.
func (s *ParamsService) SetShares(ctx context.Context, caller string, shares params.Shares) (*params.Params, error) {
	cur, err := s.store.GetParams(ctx)
	if err != nil {
		return nil, err
	}
	if caller != cur.FeeRecipient {
		return nil, fmt.Errorf("%w: only the fee recipient may change the distribution shares", domain.ErrUnauthorized)
	}
	if err := shares.Validate(); err != nil {
		return nil, err
	}

	next := *cur
	next.Shares = shares
	next.UpdatedAt = s.now()

	ev := newEvent(ctx, event.ParamsUpdated, event.KindParams, "protocol", caller, next)
	return s.store.UpdateParams(ctx, next, ev)
}

// SetPaused flips the single coarse-grained mutating-entry-point lock.
// Reads stay open while paused.
func (s *ParamsService) SetPaused(ctx context.Context, caller string, paused bool) (*params.Params, error) {
	cur, err := s.store.GetParams(ctx)
	if err != nil {
		return nil, err
	}
	if caller != cur.Owner {
		return nil, fmt.Errorf("%w: only the owner may pause or resume", domain.ErrUnauthorized)
	}

	next := *cur
	next.Paused = paused
	next.UpdatedAt = s.now()

	ev := newEvent(ctx, event.ParamsUpdated, event.KindParams, "protocol", caller, map[string]bool{"paused": paused})
	return s.store.UpdateParams(ctx, next, ev)
}
