package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verdikt-labs/verdikt/internal/domain"
	"github.com/verdikt-labs/verdikt/internal/domain/event"
	"github.com/verdikt-labs/verdikt/internal/domain/params"
)

// Store implements database.Store using PostgreSQL. Every transition method
// commits the status-guarded row update, the ledger moves and the event
// append in one transaction, giving the globally-ordered all-or-nothing
// semantics the state machine assumes.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- Protocol parameters ---

const paramsColumns = `executor_bps, provider_bps, validator_bps, challenge_period_ns, min_challenge_stake,
	min_juror_stake, unregister_cooldown_ns, consensus_threshold_bps, min_jurors, paused,
	owner, fee_recipient, validator_pool, version, updated_at`

func (s *Store) EnsureParams(ctx context.Context, seed params.Params) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO protocol_params (id, `+paramsColumns+`)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		 ON CONFLICT (id) DO NOTHING`,
		seed.Shares.ExecutorBps, seed.Shares.ProviderBps, seed.Shares.ValidatorBps,
		seed.ChallengePeriod.Nanoseconds(), seed.MinChallengeStake,
		seed.MinJurorStake, seed.UnregisterCooldown.Nanoseconds(), seed.ConsensusThreshold,
		seed.MinJurors, seed.Paused, seed.Owner, seed.FeeRecipient, seed.ValidatorPool, seed.Version)
	if err != nil {
		return fmt.Errorf("ensure params: %w", err)
	}
	return nil
}

func (s *Store) GetParams(ctx context.Context) (*params.Params, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+paramsColumns+` FROM protocol_params WHERE id = 1`)

	p, err := scanParams(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get params: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get params: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateParams(ctx context.Context, p params.Params, ev event.Event) (*params.Params, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx,
		`UPDATE protocol_params SET executor_bps = $1, provider_bps = $2, validator_bps = $3,
		   challenge_period_ns = $4, min_challenge_stake = $5, min_juror_stake = $6,
		   unregister_cooldown_ns = $7, consensus_threshold_bps = $8, min_jurors = $9, paused = $10,
		   owner = $11, fee_recipient = $12, validator_pool = $13, version = version + 1, updated_at = now()
		 WHERE id = 1 AND version = $14`,
		p.Shares.ExecutorBps, p.Shares.ProviderBps, p.Shares.ValidatorBps,
		p.ChallengePeriod.Nanoseconds(), p.MinChallengeStake, p.MinJurorStake,
		p.UnregisterCooldown.Nanoseconds(), p.ConsensusThreshold, p.MinJurors, p.Paused,
		p.Owner, p.FeeRecipient, p.ValidatorPool, p.Version)
	if err != nil {
		return nil, fmt.Errorf("update params: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("update params: %w", domain.ErrConflict)
	}

	if err := appendEvent(ctx, tx, ev); err != nil {
		return nil, err
	}

	updated, err := scanParams(tx.QueryRow(ctx, `SELECT `+paramsColumns+` FROM protocol_params WHERE id = 1`))
	if err != nil {
		return nil, fmt.Errorf("reload params: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit params: %w", err)
	}
	return updated, nil
}

func scanParams(row pgx.Row) (*params.Params, error) {
	var p params.Params
	var challengeNs, cooldownNs int64
	err := row.Scan(
		&p.Shares.ExecutorBps, &p.Shares.ProviderBps, &p.Shares.ValidatorBps,
		&challengeNs, &p.MinChallengeStake,
		&p.MinJurorStake, &cooldownNs, &p.ConsensusThreshold, &p.MinJurors, &p.Paused,
		&p.Owner, &p.FeeRecipient, &p.ValidatorPool, &p.Version, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ChallengePeriod = time.Duration(challengeNs)
	p.UnregisterCooldown = time.Duration(cooldownNs)
	return &p, nil
}

// --- Nonces ---

func (s *Store) NextTaskNonce(ctx context.Context, creator string) (uint64, error) {
	var nonce int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO task_nonces (creator, nonce) VALUES ($1, 0)
		 ON CONFLICT (creator) DO UPDATE SET nonce = task_nonces.nonce + 1
		 RETURNING nonce`, creator).Scan(&nonce)
	if err != nil {
		return 0, fmt.Errorf("next task nonce for %s: %w", creator, err)
	}
	return uint64(nonce), nil
}

func (s *Store) ConsumeSigningNonce(ctx context.Context, account string, nonce uint64) error {
	return consumeSigningNonce(ctx, s.pool, account, nonce)
}

// querier is the subset of pgx shared by a pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func consumeSigningNonce(ctx context.Context, q querier, account string, nonce uint64) error {
	_, err := q.Exec(ctx,
		`INSERT INTO signing_nonces (account, nonce) VALUES ($1, $2)`, account, int64(nonce))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("nonce %d for %s: %w", nonce, account, domain.ErrReplayedSignature)
		}
		return fmt.Errorf("consume signing nonce: %w", err)
	}
	return nil
}

// --- Fund moves ---

// debit withdraws from a balance, failing on a shortfall. The balance row
// guard doubles as the conservation check.
func debit(ctx context.Context, q querier, tok, account string, amount int64) error {
	if amount == 0 {
		return nil
	}
	tag, err := q.Exec(ctx,
		`UPDATE balances SET amount = amount - $3
		 WHERE token = $1 AND account = $2 AND amount >= $3`, tok, account, amount)
	if err != nil {
		return fmt.Errorf("debit %s from %s: %w", tok, account, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debit %s from %s: %w", tok, account, domain.ErrInsufficientFunds)
	}
	return nil
}

func credit(ctx context.Context, q querier, tok, account string, amount int64) error {
	if amount == 0 {
		return nil
	}
	_, err := q.Exec(ctx,
		`INSERT INTO balances (token, account, amount) VALUES ($1, $2, $3)
		 ON CONFLICT (token, account) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
		tok, account, amount)
	if err != nil {
		return fmt.Errorf("credit %s to %s: %w", tok, account, err)
	}
	return nil
}

func move(ctx context.Context, q querier, tok, from, to string, amount int64) error {
	if err := debit(ctx, q, tok, from, amount); err != nil {
		return err
	}
	return credit(ctx, q, tok, to, amount)
}

// spendAllowance consumes part of spender's allowance over owner.
func spendAllowance(ctx context.Context, q querier, tok, owner, spender string, amount int64) error {
	if amount == 0 {
		return nil
	}
	tag, err := q.Exec(ctx,
		`UPDATE allowances SET amount = amount - $4
		 WHERE token = $1 AND owner = $2 AND spender = $3 AND amount >= $4`,
		tok, owner, spender, amount)
	if err != nil {
		return fmt.Errorf("spend allowance %s/%s: %w", owner, spender, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("allowance %s/%s: %w", owner, spender, domain.ErrInsufficientFunds)
	}
	return nil
}

// --- Event log ---

func appendEvent(ctx context.Context, q querier, ev event.Event) error {
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := q.Exec(ctx,
		`INSERT INTO events (type, entity_kind, entity_id, actor, payload, request_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		string(ev.Type), string(ev.EntityKind), ev.EntityID, ev.Actor, payload, ev.RequestID)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.Type, err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, entityKind, entityID string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, entity_kind, entity_id, actor, payload, request_id, created_at
		 FROM events WHERE entity_kind = $1 AND entity_id = $2
		 ORDER BY seq DESC LIMIT $3`, entityKind, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var ev event.Event
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.EntityKind, &ev.EntityID, &ev.Actor, &ev.Payload, &ev.RequestID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
