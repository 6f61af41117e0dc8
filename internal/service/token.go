package service

import (
	"context"
	"fmt"
	"time"

	"github.com/verdikt-labs/verdikt/internal/domain"
	"github.com/verdikt-labs/verdikt/internal/domain/signing"
	"github.com/verdikt-labs/verdikt/internal/port/database"
	"github.com/verdikt-labs/verdikt/internal/port/token"
)

// TokenService exposes the funding-token ledger with caller authorization
// applied on top of the raw ledger port.
type TokenService struct {
	store     database.Store
	ledger    token.Ledger
	separator []byte
	now       func() time.Time
}

// NewTokenService creates a TokenService.
func NewTokenService(store database.Store, ledger token.Ledger, domainID string) *TokenService {
	return &TokenService{
		store:     store,
		ledger:    ledger,
		separator: signing.DomainSeparator(domainID),
		now:       time.Now,
	}
}

// Balance returns an account's balance for a token.
func (s *TokenService) Balance(ctx context.Context, tok, account string) (int64, error) {
	return s.ledger.BalanceOf(ctx, tok, account)
}

// Allowance returns what spender may still transfer from owner.
func (s *TokenService) Allowance(ctx context.Context, tok, owner, spender string) (int64, error) {
	return s.ledger.Allowance(ctx, tok, owner, spender)
}

// Nonce returns the owner's current permit nonce for a token.
func (s *TokenService) Nonce(ctx context.Context, tok, owner string) (uint64, error) {
	return s.ledger.PermitNonce(ctx, tok, owner)
}

// Transfer moves funds out of the caller's own balance.
func (s *TokenService) Transfer(ctx context.Context, caller, tok, to string, amount int64) error {
	if _, err := activeParams(ctx, s.store); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	return s.ledger.Transfer(ctx, tok, caller, to, amount)
}

// Approve sets a spender allowance over the caller's balance.
func (s *TokenService) Approve(ctx context.Context, caller, tok, spender string, amount int64) error {
	if _, err := activeParams(ctx, s.store); err != nil {
		return err
	}
	if amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative", domain.ErrValidation)
	}
	return s.ledger.Approve(ctx, tok, caller, spender, amount)
}

// TransferFrom spends the caller's allowance over owner's balance.
func (s *TokenService) TransferFrom(ctx context.Context, caller, tok, owner, to string, amount int64) error {
	if _, err := activeParams(ctx, s.store); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	return s.ledger.TransferFrom(ctx, tok, caller, owner, to, amount)
}

// Permit applies a signed pre-authorization: anyone may submit it, the
// allowance it grants is bound to the owner's signature and nonce.
func (s *TokenService) Permit(ctx context.Context, tok, owner, spender string, amount int64, nonce uint64, deadline time.Time, sigHex string) error {
	if _, err := activeParams(ctx, s.store); err != nil {
		return err
	}
	if !deadline.After(s.now()) {
		return fmt.Errorf("%w: permit deadline has passed", domain.ErrDeadlinePassed)
	}

	current, err := s.ledger.PermitNonce(ctx, tok, owner)
	if err != nil {
		return err
	}
	if nonce != current {
		return domain.ErrReplayedSignature
	}

	sig, err := signing.ParseSignature(sigHex)
	if err != nil {
		return err
	}
	digest := signing.PermitDigest(s.separator, tok, owner, spender, amount, nonce, deadline)
	if err := signing.VerifySigner(digest, sig, owner); err != nil {
		return err
	}

	return s.ledger.ApplyPermit(ctx, tok, owner, spender, amount, nonce)
}

// Mint issues new units. Restricted to the protocol owner.
func (s *TokenService) Mint(ctx context.Context, caller, tok, to string, amount int64) error {
	p, err := s.store.GetParams(ctx)
	if err != nil {
		return err
	}
	if caller != p.Owner {
		return fmt.Errorf("%w: only the owner may mint", domain.ErrUnauthorized)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	return s.ledger.Mint(ctx, tok, to, amount)
}
