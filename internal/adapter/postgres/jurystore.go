package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/verdikt-labs/verdikt/internal/domain"
	"github.com/verdikt-labs/verdikt/internal/domain/event"
	"github.com/verdikt-labs/verdikt/internal/domain/jury"
	"github.com/verdikt-labs/verdikt/internal/port/database"
	"github.com/verdikt-labs/verdikt/internal/port/token"
)

// stakeToken is the ledger token juror stakes are held in.
const stakeToken = "verdikt"

const jurorColumns = `account, stake, state, cooldown_since, registered_at, updated_at`

func (s *Store) GetJuror(ctx context.Context, account string) (*jury.Juror, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jurorColumns+` FROM jurors WHERE account = $1`, account)

	j, err := scanJuror(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get juror %s: %w", account, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get juror %s: %w", account, err)
	}
	return &j, nil
}

func (s *Store) ListJurors(ctx context.Context) ([]jury.Juror, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jurorColumns+` FROM jurors ORDER BY registered_at`)
	if err != nil {
		return nil, fmt.Errorf("list jurors: %w", err)
	}
	defer rows.Close()

	var jurors []jury.Juror
	for rows.Next() {
		j, err := scanJuror(rows)
		if err != nil {
			return nil, fmt.Errorf("scan juror: %w", err)
		}
		jurors = append(jurors, j)
	}
	return jurors, rows.Err()
}

func (s *Store) RegisterJuror(ctx context.Context, j *jury.Juror, ev event.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Re-registration of an inactive account reuses its row.
	tag, err := tx.Exec(ctx,
		`INSERT INTO jurors (account, stake, state, registered_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (account) DO UPDATE SET
		   stake = EXCLUDED.stake, state = EXCLUDED.state, cooldown_since = NULL,
		   registered_at = EXCLUDED.registered_at, updated_at = EXCLUDED.updated_at
		 WHERE jurors.state = 'inactive'`,
		j.Account, j.Stake, string(j.State), j.RegisteredAt)
	if err != nil {
		return fmt.Errorf("register juror %s: %w", j.Account, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("register juror %s: %w", j.Account, domain.ErrAlreadyRegistered)
	}

	if err := move(ctx, tx, stakeToken, j.Account, token.CustodyAccount, j.Stake); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) BeginUnregisterJuror(ctx context.Context, account string, since time.Time, ev event.Event) (*jury.Juror, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	j, err := scanJuror(tx.QueryRow(ctx,
		`UPDATE jurors SET state = 'cooldown_pending', cooldown_since = $2, updated_at = now()
		 WHERE account = $1 AND state = 'active'
		 RETURNING `+jurorColumns, account, since))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("begin unregister %s: %w", account, domain.ErrInvalidState)
		}
		return nil, fmt.Errorf("begin unregister %s: %w", account, err)
	}

	if err := appendEvent(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &j, nil
}

func (s *Store) CompleteUnregisterJuror(ctx context.Context, account string, ev event.Event) (*jury.Juror, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	j, err := scanJuror(tx.QueryRow(ctx,
		`UPDATE jurors SET state = 'inactive', cooldown_since = NULL, updated_at = now()
		 WHERE account = $1 AND state = 'cooldown_pending'
		 RETURNING account, stake, state, cooldown_since, registered_at, updated_at`, account))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("complete unregister %s: %w", account, domain.ErrInvalidState)
		}
		return nil, fmt.Errorf("complete unregister %s: %w", account, err)
	}

	if err := move(ctx, tx, stakeToken, token.CustodyAccount, account, j.Stake); err != nil {
		return nil, err
	}
	if err := appendEvent(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &j, nil
}

// --- Consensus tasks ---

const consensusColumns = `id, creator, agent_id, evidence_uri, category, min_jurors, threshold_bps, deadline,
	vote_count, positive_count, score_sum, final_score, status, request_hash, created_at, updated_at`

func (s *Store) CreateConsensusTask(ctx context.Context, t *jury.Task, ev event.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx,
		`INSERT INTO consensus_tasks (id, creator, agent_id, evidence_uri, category, min_jurors, threshold_bps, deadline, status, request_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		t.ID, t.Creator, int64(t.AgentID), t.EvidenceURI, t.Category, t.MinJurors, t.ThresholdBps,
		t.Deadline, string(t.Status), t.RequestHash, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create consensus task %s: %w", t.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create consensus task %s: %w", t.ID, err)
	}

	if err := appendEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetConsensusTask(ctx context.Context, id string) (*jury.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+consensusColumns+` FROM consensus_tasks WHERE id = $1`, id)

	t, err := scanConsensusTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get consensus task %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get consensus task %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) ListConsensusTasks(ctx context.Context, f database.ConsensusFilter) ([]jury.Task, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+consensusColumns+` FROM consensus_tasks
		 WHERE ($1 = '' OR creator = $1) AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC LIMIT $3`,
		f.Creator, string(f.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list consensus tasks: %w", err)
	}
	defer rows.Close()

	var tasks []jury.Task
	for rows.Next() {
		t, err := scanConsensusTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consensus task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) ListOverdueConsensusTasks(ctx context.Context, now time.Time, limit int) ([]jury.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+consensusColumns+` FROM consensus_tasks
		 WHERE status IN ('pending', 'in_progress') AND deadline <= $1
		 ORDER BY deadline LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue consensus tasks: %w", err)
	}
	defer rows.Close()

	var tasks []jury.Task
	for rows.Next() {
		t, err := scanConsensusTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consensus task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) CastVote(ctx context.Context, v jury.Vote, ev event.Event) (*jury.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx,
		`INSERT INTO votes (task_id, juror, score, rationale, cast_at) VALUES ($1, $2, $3, $4, $5)`,
		v.TaskID, v.Juror, v.Score, v.Rationale, v.CastAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("vote by %s on %s: %w", v.Juror, v.TaskID, domain.ErrAlreadyVoted)
		}
		return nil, fmt.Errorf("insert vote: %w", err)
	}

	// The tally update carries the status guard: a final task admits no
	// further votes even if one slipped past the service's check.
	t, err := scanConsensusTask(tx.QueryRow(ctx,
		`UPDATE consensus_tasks SET
		   vote_count = vote_count + 1,
		   score_sum = score_sum + $2,
		   positive_count = positive_count + CASE WHEN $2 >= $3 THEN 1 ELSE 0 END,
		   status = 'in_progress',
		   updated_at = now()
		 WHERE id = $1 AND status IN ('pending', 'in_progress')
		 RETURNING `+consensusColumns, v.TaskID, v.Score, jury.PositiveScore))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("vote on %s: %w", v.TaskID, domain.ErrInvalidState)
		}
		return nil, fmt.Errorf("tally vote on %s: %w", v.TaskID, err)
	}

	if err := appendEvent(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &t, nil
}

func (s *Store) ListVotes(ctx context.Context, taskID string) ([]jury.Vote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, juror, score, rationale, cast_at FROM votes WHERE task_id = $1 ORDER BY cast_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var votes []jury.Vote
	for rows.Next() {
		var v jury.Vote
		if err := rows.Scan(&v.TaskID, &v.Juror, &v.Score, &v.Rationale, &v.CastAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

func (s *Store) FinalizeConsensusTask(ctx context.Context, id string, finalScore int64, status jury.TaskStatus, ev event.Event) (*jury.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	t, err := scanConsensusTask(tx.QueryRow(ctx,
		`UPDATE consensus_tasks SET final_score = $2, status = $3, updated_at = now()
		 WHERE id = $1 AND status IN ('pending', 'in_progress')
		 RETURNING `+consensusColumns, id, finalScore, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("finalize consensus task %s: %w", id, domain.ErrInvalidState)
		}
		return nil, fmt.Errorf("finalize consensus task %s: %w", id, err)
	}

	// A task opened for a tagged request publishes its result as that
	// request's validation status in the same commit.
	if t.RequestHash != "" {
		_, err = tx.Exec(ctx,
			`INSERT INTO validation_statuses (hash, validator, agent_id, score, tag, locator_uri, updated_at)
			 VALUES ($1, 'jury', $2, $3, $4, $5, now())
			 ON CONFLICT (hash) DO UPDATE SET
			   validator = EXCLUDED.validator, score = EXCLUDED.score, tag = EXCLUDED.tag,
			   locator_uri = EXCLUDED.locator_uri, updated_at = now()`,
			t.RequestHash, int64(t.AgentID), t.FinalScore, t.Category, t.EvidenceURI)
		if err != nil {
			return nil, fmt.Errorf("publish validation status for %s: %w", t.RequestHash, err)
		}
	}

	if err := appendEvent(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &t, nil
}

func scanJuror(row pgx.Row) (jury.Juror, error) {
	var j jury.Juror
	var cooldown *time.Time
	err := row.Scan(&j.Account, &j.Stake, &j.State, &cooldown, &j.RegisteredAt, &j.UpdatedAt)
	if err != nil {
		return j, err
	}
	j.CooldownSince = cooldown
	return j, nil
}

func scanConsensusTask(row pgx.Row) (jury.Task, error) {
	var t jury.Task
	var agentID int64
	var requestHash *string
	err := row.Scan(
		&t.ID, &t.Creator, &agentID, &t.EvidenceURI, &t.Category, &t.MinJurors, &t.ThresholdBps, &t.Deadline,
		&t.VoteCount, &t.PositiveCount, &t.ScoreSum, &t.FinalScore, &t.Status, &requestHash, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}
	t.AgentID = uint64(agentID)
	t.RequestHash = deref(requestHash)
	return t, nil
}
