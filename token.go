package prepaid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/payment"
	"github.com/aquastack/prepaid/store"
	"github.com/aquastack/prepaid/token"
	"github.com/aquastack/prepaid/types"
)

// codeRetries bounds re-rolls on redemption code collision. With
// 20-digit random codes a single collision is already vanishingly rare;
// exhausting the retries indicates a broken store.
const codeRetries = 5

// RedemptionResult reports a successful token redemption.
type RedemptionResult struct {
	Token           *token.Token  `json:"token"`
	PropertyID      id.PropertyID `json:"property_id"`
	PreviousBalance types.Volume  `json:"previous_balance"`
	NewBalance      types.Volume  `json:"new_balance"`
	RedeemedAt      time.Time     `json:"redeemed_at"`
}

// IssueToken converts a completed payment into a prepaid token.
//
// Issuance is idempotent per payment: if a token already exists for the
// payment ID the existing token is returned, so at-least-once delivery
// of the payment-confirmed event can never double-issue. The redemption
// code is unique across all tokens; collisions are re-rolled against
// the store's uniqueness constraint. The property balance is not
// touched here; credit happens only at redemption.
func (l *Ledger) IssueToken(ctx context.Context, pay *payment.Payment) (*token.Token, error) {
	if pay.Status != payment.StatusCompleted {
		return nil, fmt.Errorf("%w: payment %s has status %q", ErrPaymentNotCompleted, pay.ID, pay.Status)
	}

	if existing, err := l.store.GetTokenByPayment(ctx, pay.ID); err == nil {
		return existing, nil
	}

	prop, err := l.store.GetProperty(ctx, pay.PropertyID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	units, err := l.Convert(ctx, pay.Amount, prop.Category, now)
	if err != nil {
		return nil, err
	}

	t := &token.Token{
		ID:           id.NewTokenID(),
		PropertyID:   prop.ID,
		PaymentID:    pay.ID,
		Units:        units,
		IssuedAmount: pay.Amount,
		ExpiresAt:    now.Add(l.tokenValidity),
	}

	for attempt := 0; ; attempt++ {
		t.Code = token.GenerateCode()
		t.Entity = types.NewEntity()

		err = l.store.CreateToken(ctx, t)
		if err == nil {
			break
		}
		if errors.Is(err, ErrAlreadyExists) {
			// Lost a race with a concurrent delivery of the same
			// payment event; the winner's token is the token.
			return l.store.GetTokenByPayment(ctx, pay.ID)
		}
		if errors.Is(err, ErrDuplicateCode) && attempt < codeRetries {
			continue
		}
		return nil, err
	}

	l.logger.Info("token issued",
		"token_id", t.ID.String(),
		"property_id", t.PropertyID.String(),
		"payment_id", t.PaymentID.String(),
		"units", t.Units.Format(),
		"amount", t.IssuedAmount.String(),
		"expires_at", t.ExpiresAt,
	)
	l.plugins.EmitTokenIssued(ctx, t)
	return t, nil
}

// Redeem applies a token's units to its property balance, exactly once.
//
// Expiry is evaluated lazily here rather than by a background sweeper;
// an expired token simply can never be redeemed. The store performs the
// mark-redeemed-and-credit as one conditional atomic unit, so of N
// concurrent attempts on the same code exactly one succeeds and the
// rest observe ErrTokenAlreadyRedeemed.
func (l *Ledger) Redeem(ctx context.Context, code string) (*RedemptionResult, error) {
	t, err := l.store.GetTokenByCode(ctx, token.NormalizeCode(code))
	if err != nil {
		return nil, err
	}

	if t.IsRedeemed {
		return nil, fmt.Errorf("%w: token %s", ErrTokenAlreadyRedeemed, t.ID)
	}
	now := l.now()
	if t.Expired(now) {
		return nil, fmt.Errorf("%w: token %s expired at %s", ErrTokenExpired, t.ID, t.ExpiresAt.Format(time.RFC3339))
	}

	change, err := l.store.ApplyRedemption(ctx, t.ID, now)
	if err != nil {
		return nil, err
	}

	t.IsRedeemed = true
	redeemedAt := change.At
	t.RedeemedAt = &redeemedAt

	l.logger.Info("token redeemed",
		"token_id", t.ID.String(),
		"property_id", t.PropertyID.String(),
		"units", t.Units.Format(),
		"previous_balance", change.Previous.Format(),
		"new_balance", change.Current.Format(),
	)
	l.plugins.EmitTokenRedeemed(ctx, t, change.Previous, change.Current)

	return &RedemptionResult{
		Token:           t,
		PropertyID:      t.PropertyID,
		PreviousBalance: change.Previous,
		NewBalance:      change.Current,
		RedeemedAt:      change.At,
	}, nil
}

// GetToken retrieves a token by ID.
func (l *Ledger) GetToken(ctx context.Context, tokenID id.TokenID) (*token.Token, error) {
	return l.store.GetToken(ctx, tokenID)
}

// GetTokenByCode retrieves a token by its redemption code, accepting
// grouped or bare input.
func (l *Ledger) GetTokenByCode(ctx context.Context, code string) (*token.Token, error) {
	return l.store.GetTokenByCode(ctx, token.NormalizeCode(code))
}

// ListTokens returns a property's tokens, oldest first.
func (l *Ledger) ListTokens(ctx context.Context, propertyID id.PropertyID, opts store.TokenListOpts) ([]*token.Token, error) {
	return l.store.ListTokens(ctx, propertyID, opts)
}
