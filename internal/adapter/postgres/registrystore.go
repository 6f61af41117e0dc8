package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/verdikt-labs/verdikt/internal/domain"
	"github.com/verdikt-labs/verdikt/internal/domain/event"
	"github.com/verdikt-labs/verdikt/internal/domain/registry"
)

const requestColumns = `hash, requester, validator, agent_id, task_ref, tag, locator_uri, consensus_ref, created_at`

// CreateValidationRequest inserts the request, keyed by its deterministic
// hash. A retried insert of an existing hash is a no-op, not a conflict.
func (s *Store) CreateValidationRequest(ctx context.Context, r *registry.Request, ev event.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx,
		`INSERT INTO validation_requests (hash, requester, validator, agent_id, task_ref, tag, locator_uri, consensus_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (hash) DO NOTHING`,
		r.Hash, r.Requester, r.Validator, int64(r.AgentID), r.TaskRef, r.Tag, r.LocatorURI, r.ConsensusRef, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create validation request %s: %w", r.Hash, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if err := appendEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetValidationRequest(ctx context.Context, hash string) (*registry.Request, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM validation_requests WHERE hash = $1`, hash)

	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get validation request %s: %w", hash, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get validation request %s: %w", hash, err)
	}
	return &r, nil
}

func (s *Store) ListValidationRequests(ctx context.Context, taskRef string) ([]registry.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM validation_requests WHERE task_ref = $1 ORDER BY created_at`, taskRef)
	if err != nil {
		return nil, fmt.Errorf("list validation requests: %w", err)
	}
	defer rows.Close()

	var reqs []registry.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan validation request: %w", err)
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// RecordValidationResponse overwrites the status projection for the hash.
// Responses are last-writer-wins; the event log keeps the full exchange.
func (s *Store) RecordValidationResponse(ctx context.Context, st registry.Status, ev event.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx,
		`INSERT INTO validation_statuses (hash, validator, agent_id, score, tag, locator_uri, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (hash) DO UPDATE SET
		   validator = EXCLUDED.validator, agent_id = EXCLUDED.agent_id, score = EXCLUDED.score,
		   tag = EXCLUDED.tag, locator_uri = EXCLUDED.locator_uri, updated_at = EXCLUDED.updated_at`,
		st.Hash, st.Validator, int64(st.AgentID), st.Score, st.Tag, st.LocatorURI, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("record validation response %s: %w", st.Hash, err)
	}

	if err := appendEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetValidationStatus(ctx context.Context, hash string) (*registry.Status, error) {
	var st registry.Status
	var agentID int64
	err := s.pool.QueryRow(ctx,
		`SELECT hash, validator, agent_id, score, tag, locator_uri, updated_at FROM validation_statuses WHERE hash = $1`, hash).
		Scan(&st.Hash, &st.Validator, &agentID, &st.Score, &st.Tag, &st.LocatorURI, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get validation status %s: %w", hash, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get validation status %s: %w", hash, err)
	}
	st.AgentID = uint64(agentID)
	return &st, nil
}

// LinkReceipt records the receipt against its scope. Re-linking the same
// (id, scope) pair is a no-op; created reports whether a row was written.
func (s *Store) LinkReceipt(ctx context.Context, rc registry.Receipt, ev event.Event) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx,
		`INSERT INTO receipts (id, scope, locator_uri, linked_by, linked_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id, scope) DO NOTHING`,
		rc.ID, rc.Scope, rc.LocatorURI, rc.LinkedBy, rc.LinkedAt)
	if err != nil {
		return false, fmt.Errorf("link receipt %s: %w", rc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := appendEvent(ctx, tx, ev); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *Store) ListReceipts(ctx context.Context, scope string) ([]registry.Receipt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, scope, locator_uri, linked_by, linked_at FROM receipts WHERE scope = $1 ORDER BY linked_at`, scope)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []registry.Receipt
	for rows.Next() {
		var rc registry.Receipt
		if err := rows.Scan(&rc.ID, &rc.Scope, &rc.LocatorURI, &rc.LinkedBy, &rc.LinkedAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		receipts = append(receipts, rc)
	}
	return receipts, rows.Err()
}

func scanRequest(row pgx.Row) (registry.Request, error) {
	var r registry.Request
	var agentID int64
	var consensusRef *string
	err := row.Scan(&r.Hash, &r.Requester, &r.Validator, &agentID, &r.TaskRef, &r.Tag, &r.LocatorURI, &consensusRef, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	r.AgentID = uint64(agentID)
	r.ConsensusRef = deref(consensusRef)
	return r, nil
}
