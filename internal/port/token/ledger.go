// Package token defines the fungible-balance ledger port.
package token

import "context"

// CustodyAccount is the reserved escrow custody account. Task rewards,
// challenge stakes and juror stakes are held here until release conditions
// are met.
const CustodyAccount = "escrow-custody"

// Ledger is the port interface for the funding-token balance ledger.
// Amounts are exact integer base units; every method either fully commits
// or fully reverts.
type Ledger interface {
	// BalanceOf returns the balance of an account for a token.
	BalanceOf(ctx context.Context, tok, account string) (int64, error)

	// Allowance returns what spender may still transfer from owner.
	Allowance(ctx context.Context, tok, owner, spender string) (int64, error)

	// Transfer moves amount from the caller's account to another.
	Transfer(ctx context.Context, tok, from, to string, amount int64) error

	// Approve sets spender's allowance over owner's balance.
	Approve(ctx context.Context, tok, owner, spender string, amount int64) error

	// TransferFrom moves amount from owner to recipient on behalf of
	// spender, consuming allowance.
	TransferFrom(ctx context.Context, tok, spender, owner, to string, amount int64) error

	// PermitNonce returns the owner's current permit nonce for a token.
	PermitNonce(ctx context.Context, tok, owner string) (uint64, error)

	// ApplyPermit sets spender's allowance and consumes the owner's permit
	// nonce in one atomic step. Signature verification happens before this
	// is called.
	ApplyPermit(ctx context.Context, tok, owner, spender string, amount int64, nonce uint64) error

	// Mint credits freshly issued units to an account. Restricted to the
	// protocol owner; used to seed test and development ledgers.
	Mint(ctx context.Context, tok, to string, amount int64) error
}
