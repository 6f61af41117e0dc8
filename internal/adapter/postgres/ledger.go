package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/verdikt-labs/verdikt/internal/domain"
)

// Store implements token.Ledger over the same balances, allowances and
// permit_nonces tables the escrow transitions move funds through, so a
// direct transfer and an escrow payout observe one consistent ledger.

func (s *Store) BalanceOf(ctx context.Context, tok, account string) (int64, error) {
	var amount int64
	err := s.pool.QueryRow(ctx,
		`SELECT amount FROM balances WHERE token = $1 AND account = $2`, tok, account).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("balance of %s: %w", account, err)
	}
	return amount, nil
}

func (s *Store) Allowance(ctx context.Context, tok, owner, spender string) (int64, error) {
	var amount int64
	err := s.pool.QueryRow(ctx,
		`SELECT amount FROM allowances WHERE token = $1 AND owner = $2 AND spender = $3`,
		tok, owner, spender).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("allowance %s/%s: %w", owner, spender, err)
	}
	return amount, nil
}

func (s *Store) Transfer(ctx context.Context, tok, from, to string, amount int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := move(ctx, tx, tok, from, to, amount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Approve(ctx context.Context, tok, owner, spender string, amount int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO allowances (token, owner, spender, amount) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token, owner, spender) DO UPDATE SET amount = EXCLUDED.amount`,
		tok, owner, spender, amount)
	if err != nil {
		return fmt.Errorf("approve %s for %s: %w", spender, owner, err)
	}
	return nil
}

func (s *Store) TransferFrom(ctx context.Context, tok, spender, owner, to string, amount int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := spendAllowance(ctx, tx, tok, owner, spender, amount); err != nil {
		return err
	}
	if err := move(ctx, tx, tok, owner, to, amount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) PermitNonce(ctx context.Context, tok, owner string) (uint64, error) {
	var nonce int64
	err := s.pool.QueryRow(ctx,
		`SELECT nonce FROM permit_nonces WHERE token = $1 AND account = $2`, tok, owner).Scan(&nonce)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("permit nonce %s: %w", owner, err)
	}
	return uint64(nonce), nil
}

func (s *Store) ApplyPermit(ctx context.Context, tok, owner, spender string, amount int64, nonce uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// The nonce only advances when it still equals the signed one, so a
	// replayed permit fails instead of re-granting the allowance. A missing
	// row means the account has never signed a permit and its nonce is 0.
	var tag pgconn.CommandTag
	if nonce == 0 {
		tag, err = tx.Exec(ctx,
			`INSERT INTO permit_nonces (token, account, nonce) VALUES ($1, $2, 1)
			 ON CONFLICT (token, account) DO UPDATE SET nonce = permit_nonces.nonce + 1
			 WHERE permit_nonces.nonce = 0`, tok, owner)
	} else {
		tag, err = tx.Exec(ctx,
			`UPDATE permit_nonces SET nonce = nonce + 1 WHERE token = $1 AND account = $2 AND nonce = $3`,
			tok, owner, int64(nonce))
	}
	if err != nil {
		return fmt.Errorf("consume permit nonce %s: %w", owner, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("permit nonce %d for %s: %w", nonce, owner, domain.ErrReplayedSignature)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO allowances (token, owner, spender, amount) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token, owner, spender) DO UPDATE SET amount = EXCLUDED.amount`,
		tok, owner, spender, amount)
	if err != nil {
		return fmt.Errorf("apply permit allowance %s: %w", owner, err)
	}
	return tx.Commit(ctx)
}

func (s *Store) Mint(ctx context.Context, tok, to string, amount int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := credit(ctx, tx, tok, to, amount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
