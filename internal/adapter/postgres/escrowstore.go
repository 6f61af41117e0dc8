package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/verdikt-labs/verdikt/internal/domain"
	"github.com/verdikt-labs/verdikt/internal/domain/escrow"
	"github.com/verdikt-labs/verdikt/internal/domain/event"
	"github.com/verdikt-labs/verdikt/internal/port/database"
	"github.com/verdikt-labs/verdikt/internal/port/token"
)

const taskColumns = `id, funder, executor, provider, token, reward, provider_fee, deadline, status,
	metadata_uri, evidence_uri, tag, consensus_ref, challenge_stake, submitted_at, created_at, updated_at`

func (s *Store) GetTask(ctx context.Context, id string) (*escrow.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get task %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, f database.TaskFilter) ([]escrow.Task, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE ($1 = '' OR funder = $1) AND ($2 = '' OR executor = $2) AND ($3 = '' OR status = $3)
		 ORDER BY created_at DESC LIMIT $4`,
		f.Funder, f.Executor, string(f.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []escrow.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) CreateTask(ctx context.Context, t *escrow.Task, spendFromAllowance bool, ev event.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx,
		`INSERT INTO tasks (id, funder, token, reward, deadline, status, metadata_uri, tag, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		t.ID, t.Funder, t.Token, t.Reward, t.Deadline, string(t.Status), t.MetadataURI, t.Tag, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create task %s: %w", t.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}

	if spendFromAllowance {
		if err := spendAllowance(ctx, tx, t.Token, t.Funder, token.CustodyAccount, t.Reward); err != nil {
			return err
		}
	}
	if err := move(ctx, tx, t.Token, t.Funder, token.CustodyAccount, t.Reward); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) AcceptTask(ctx context.Context, id, executor string, ev event.Event) (*escrow.Task, error) {
	return s.transition(ctx, ev, func(ctx context.Context, tx pgx.Tx) (*escrow.Task, error) {
		return s.applyAccept(ctx, tx, id, executor)
	})
}

func (s *Store) AcceptTaskSigned(ctx context.Context, id, executor string, nonce uint64, ev event.Event) (*escrow.Task, error) {
	return s.transition(ctx, ev, func(ctx context.Context, tx pgx.Tx) (*escrow.Task, error) {
		if err := consumeSigningNonce(ctx, tx, executor, nonce); err != nil {
			return nil, err
		}
		return s.applyAccept(ctx, tx, id, executor)
	})
}

func (s *Store) applyAccept(ctx context.Context, tx pgx.Tx, id, executor string) (*escrow.Task, error) {
	return guardedUpdate(ctx, tx, id,
		`UPDATE tasks SET executor = $2, status = 'accepted', updated_at = now()
		 WHERE id = $1 AND status = 'open'
		 RETURNING `+taskColumns, id, executor)
}

func (s *Store) AssignProvider(ctx context.Context, id, provider string, fee int64, ev event.Event) (*escrow.Task, error) {
	return s.transition(ctx, ev, func(ctx context.Context, tx pgx.Tx) (*escrow.Task, error) {
		return guardedUpdate(ctx, tx, id,
			`UPDATE tasks SET provider = $2, provider_fee = $3, status = 'in_progress', updated_at = now()
			 WHERE id = $1 AND status IN ('accepted', 'in_progress')
			 RETURNING `+taskColumns, id, provider, fee)
	})
}

func (s *Store) SubmitWork(ctx context.Context, id, evidenceURI string, submittedAt time.Time, ev event.Event) (*escrow.Task, error) {
	return s.transition(ctx, ev, func(ctx context.Context, tx pgx.Tx) (*escrow.Task, error) {
		return guardedUpdate(ctx, tx, id,
			`UPDATE tasks SET evidence_uri = $2, submitted_at = $3, status = 'submitted', updated_at = now()
			 WHERE id = $1 AND status IN ('accepted', 'in_progress')
			 RETURNING `+taskColumns, id, evidenceURI, submittedAt)
	})
}

func (s *Store) ChallengeTask(ctx context.Context, id string, stake int64, consensusRef string, ev event.Event) (*escrow.Task, error) {
	return s.transition(ctx, ev, func(ctx context.Context, tx pgx.Tx) (*escrow.Task, error) {
		t, err := guardedUpdate(ctx, tx, id,
			`UPDATE tasks SET status = 'challenged', challenge_stake = $2, consensus_ref = $3, updated_at = now()
			 WHERE id = $1 AND status = 'submitted'
			 RETURNING `+taskColumns, id, stake, consensusRef)
		if err != nil {
			return nil, err
		}
		if err := move(ctx, tx, t.Token, t.Funder, token.CustodyAccount, stake); err != nil {
			return nil, err
		}
		return t, nil
	})
}

func (s *Store) FinalizeTask(ctx context.Context, id string, pay escrow.Payout, validatorPool string, stakeReturn int64, ev event.Event) (*escrow.Task, error) {
	return s.transition(ctx, ev, func(ctx context.Context, tx pgx.Tx) (*escrow.Task, error) {
		// State first, transfers second.
		t, err := guardedUpdate(ctx, tx, id,
			`UPDATE tasks SET status = 'finalized', updated_at = now()
			 WHERE id = $1 AND status IN ('submitted', 'challenged')
			 RETURNING `+taskColumns, id)
		if err != nil {
			return nil, err
		}

		if err := move(ctx, tx, t.Token, token.CustodyAccount, t.Executor, pay.Executor); err != nil {
			return nil, err
		}
		if pay.Provider > 0 {
			if err := move(ctx, tx, t.Token, token.CustodyAccount, t.Provider, pay.Provider); err != nil {
				return nil, err
			}
		}
		if err := move(ctx, tx, t.Token, token.CustodyAccount, validatorPool, pay.ValidatorPool); err != nil {
			return nil, err
		}
		if stakeReturn > 0 {
			if err := move(ctx, tx, t.Token, token.CustodyAccount, t.Funder, stakeReturn); err != nil {
				return nil, err
			}
		}
		return t, nil
	})
}

func (s *Store) RefundChallengedTask(ctx context.Context, id string, ev event.Event) (*escrow.Task, error) {
	return s.transition(ctx, ev, func(ctx context.Context, tx pgx.Tx) (*escrow.Task, error) {
		t, err := guardedUpdate(ctx, tx, id,
			`UPDATE tasks SET status = 'refunded', updated_at = now()
			 WHERE id = $1 AND status = 'challenged'
			 RETURNING `+taskColumns, id)
		if err != nil {
			return nil, err
		}

		if err := move(ctx, tx, t.Token, token.CustodyAccount, t.Funder, t.Reward); err != nil {
			return nil, err
		}
		if err := move(ctx, tx, t.Token, token.CustodyAccount, t.Executor, t.ChallengeStake); err != nil {
			return nil, err
		}
		return t, nil
	})
}

func (s *Store) VoidChallenge(ctx context.Context, id string, ev event.Event) (*escrow.Task, error) {
	return s.transition(ctx, ev, func(ctx context.Context, tx pgx.Tx) (*escrow.Task, error) {
		// RETURNING sees the new row, so read the stake before zeroing it.
		var stake int64
		err := tx.QueryRow(ctx, `SELECT challenge_stake FROM tasks WHERE id = $1 FOR UPDATE`, id).Scan(&stake)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("read challenge stake: %w", err)
		}

		t, err := guardedUpdate(ctx, tx, id,
			`UPDATE tasks SET status = 'submitted', challenge_stake = 0, consensus_ref = NULL, updated_at = now()
			 WHERE id = $1 AND status = 'challenged'
			 RETURNING `+taskColumns, id)
		if err != nil {
			return nil, err
		}
		if err := move(ctx, tx, t.Token, token.CustodyAccount, t.Funder, stake); err != nil {
			return nil, err
		}
		return t, nil
	})
}

func (s *Store) CancelTask(ctx context.Context, id string, ev event.Event) (*escrow.Task, error) {
	return s.refund(ctx, id, `UPDATE tasks SET status = 'refunded', updated_at = now()
		 WHERE id = $1 AND status = 'open'
		 RETURNING `+taskColumns, ev)
}

func (s *Store) RefundExpiredTask(ctx context.Context, id string, ev event.Event) (*escrow.Task, error) {
	return s.refund(ctx, id, `UPDATE tasks SET status = 'refunded', updated_at = now()
		 WHERE id = $1 AND status IN ('open', 'accepted')
		 RETURNING `+taskColumns, ev)
}

func (s *Store) refund(ctx context.Context, id, query string, ev event.Event) (*escrow.Task, error) {
	return s.transition(ctx, ev, func(ctx context.Context, tx pgx.Tx) (*escrow.Task, error) {
		t, err := guardedUpdate(ctx, tx, id, query, id)
		if err != nil {
			return nil, err
		}
		if err := move(ctx, tx, t.Token, token.CustodyAccount, t.Funder, t.Reward); err != nil {
			return nil, err
		}
		return t, nil
	})
}

// --- Validation requirements ---

func (s *Store) UpsertRequirement(ctx context.Context, r escrow.ValidationRequirement, ev event.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx,
		`INSERT INTO validation_requirements (task_id, tag, min_responses, min_avg_score, min_unique_validators, enabled, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (task_id, tag) DO UPDATE SET
		   min_responses = EXCLUDED.min_responses,
		   min_avg_score = EXCLUDED.min_avg_score,
		   min_unique_validators = EXCLUDED.min_unique_validators,
		   enabled = EXCLUDED.enabled,
		   updated_at = now()`,
		r.TaskID, r.Tag, r.MinResponses, r.MinAvgScore, r.MinUniqueValidators, r.Enabled)
	if err != nil {
		return fmt.Errorf("upsert requirement %s/%s: %w", r.TaskID, r.Tag, err)
	}

	if err := appendEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListRequirements(ctx context.Context, taskID string) ([]escrow.ValidationRequirement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, tag, min_responses, min_avg_score, min_unique_validators, enabled, updated_at
		 FROM validation_requirements WHERE task_id = $1 ORDER BY tag`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	defer rows.Close()

	var reqs []escrow.ValidationRequirement
	for rows.Next() {
		var r escrow.ValidationRequirement
		if err := rows.Scan(&r.TaskID, &r.Tag, &r.MinResponses, &r.MinAvgScore, &r.MinUniqueValidators, &r.Enabled, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan requirement: %w", err)
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// AggregateValidation folds the latest responses recorded under requests
// for (taskID, tag) into the gate's three counts.
func (s *Store) AggregateValidation(ctx context.Context, taskID, tag string) (*escrow.ValidationAggregate, error) {
	var a escrow.ValidationAggregate
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(st.score), 0), COUNT(DISTINCT st.validator)
		 FROM validation_statuses st
		 JOIN validation_requests r ON r.hash = st.hash
		 WHERE r.task_ref = $1 AND r.tag = $2`, taskID, tag,
	).Scan(&a.Responses, &a.ScoreSum, &a.UniqueValidators)
	if err != nil {
		return nil, fmt.Errorf("aggregate validation %s/%s: %w", taskID, tag, err)
	}
	return &a, nil
}

// --- Helpers ---

// transition wraps one state transition and its event append in a
// transaction.
func (s *Store) transition(ctx context.Context, ev event.Event, fn func(context.Context, pgx.Tx) (*escrow.Task, error)) (*escrow.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	t, err := fn(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := appendEvent(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

// guardedUpdate runs a status-guarded UPDATE ... RETURNING. Zero rows means
// the task either does not exist or sits in the wrong state; the two are
// distinguished so precondition failures stay enumerable.
func guardedUpdate(ctx context.Context, tx pgx.Tx, id, query string, args ...any) (*escrow.Task, error) {
	t, err := scanTask(tx.QueryRow(ctx, query, args...))
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}

	var status string
	switch lookupErr := tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status); {
	case errors.Is(lookupErr, pgx.ErrNoRows):
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	case lookupErr != nil:
		return nil, fmt.Errorf("task %s: %w", id, lookupErr)
	default:
		return nil, fmt.Errorf("task %s is %s: %w", id, status, domain.ErrInvalidState)
	}
}

func scanTask(row pgx.Row) (escrow.Task, error) {
	var t escrow.Task
	var executor, provider, metadataURI, evidenceURI, consensusRef *string
	var submittedAt *time.Time
	err := row.Scan(
		&t.ID, &t.Funder, &executor, &provider, &t.Token, &t.Reward, &t.ProviderFee, &t.Deadline, &t.Status,
		&metadataURI, &evidenceURI, &t.Tag, &consensusRef, &t.ChallengeStake, &submittedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}
	t.Executor = deref(executor)
	t.Provider = deref(provider)
	t.MetadataURI = deref(metadataURI)
	t.EvidenceURI = deref(evidenceURI)
	t.ConsensusRef = deref(consensusRef)
	t.SubmittedAt = submittedAt
	return t, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
