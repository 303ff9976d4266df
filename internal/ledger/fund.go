package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/poolvest/fund-engine/internal/money"
	"github.com/poolvest/fund-engine/internal/store"
)

// IssueShares converts fiat into fund shares at the fund's current share
// price: shares = fiat / sharePrice. The pooled capital grows by the fiat
// amount, the fund's total shares and the user's position grow by the
// issued shares. Runs inside the caller's transaction.
func IssueShares(ctx context.Context, tx store.Tx, fundID, userID string, fiat decimal.Decimal) (decimal.Decimal, error) {
	fund, err := tx.GetFund(ctx, fundID)
	if err != nil {
		return decimal.Zero, err
	}

	shares, err := money.Div(fiat, fund.SharePrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("issue shares for fund %s: %w", fundID, err)
	}

	if err := tx.SetFundState(ctx, fundID,
		fund.PooledCapital.Add(fiat),
		fund.TotalShares.Add(shares),
		fund.SharePrice,
	); err != nil {
		return decimal.Zero, err
	}

	held := decimal.Zero
	if share, err := tx.GetShare(ctx, fundID, userID); err == nil {
		held = share.Amount
	} else if !errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, err
	}
	if err := tx.UpsertShare(ctx, fundID, userID, held.Add(shares)); err != nil {
		return decimal.Zero, err
	}

	return shares, nil
}

// RedeemShares liquidates a share quantity back to fiat at the current
// share price: fiat = shares * sharePrice. Fails with
// ErrInsufficientShares when the user holds fewer shares than requested,
// and with ErrInsufficientFundCapital when the payout would overdraw the
// pool — the pool never goes negative.
func RedeemShares(ctx context.Context, tx store.Tx, fundID, userID string, shares decimal.Decimal) (decimal.Decimal, error) {
	fund, err := tx.GetFund(ctx, fundID)
	if err != nil {
		return decimal.Zero, err
	}

	held := decimal.Zero
	if share, err := tx.GetShare(ctx, fundID, userID); err == nil {
		held = share.Amount
	} else if !errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, err
	}
	if shares.GreaterThan(held) {
		return decimal.Zero, fmt.Errorf("%w: hold %s, redeem %s", ErrInsufficientShares, held, shares)
	}

	fiat := shares.Mul(fund.SharePrice)
	if fiat.GreaterThan(fund.PooledCapital) {
		return decimal.Zero, fmt.Errorf("%w: pool %s, payout %s",
			ErrInsufficientFundCapital, fund.PooledCapital, fiat)
	}

	if err := tx.SetFundState(ctx, fundID,
		fund.PooledCapital.Sub(fiat),
		fund.TotalShares.Sub(shares),
		fund.SharePrice,
	); err != nil {
		return decimal.Zero, err
	}
	if err := tx.UpsertShare(ctx, fundID, userID, held.Sub(shares)); err != nil {
		return decimal.Zero, err
	}

	return fiat, nil
}
