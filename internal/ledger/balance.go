// Package ledger implements the two money-moving legs of the fund engine:
// the balance ledger (per-user, per-currency fiat) and the fund ledger
// (pooled capital and share issuance/redemption arithmetic).
//
// Every operation here runs inside a caller-supplied store.Tx — the ledger
// never opens its own transaction, because it is always one leg of a larger
// atomic operation.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/poolvest/fund-engine/internal/store"
)

var (
	// ErrInsufficientFunds is returned when a debit would drive a user
	// balance negative.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientFundCapital is returned when a redemption would
	// overdraw the fund's pooled capital.
	ErrInsufficientFundCapital = errors.New("ledger: insufficient fund capital")

	// ErrInsufficientShares is returned when a redemption asks for more
	// shares than the user holds.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")
)

// Debit locks the (userID, currency) balance row, verifies the amount is
// covered, and writes the reduced balance. Fails with ErrInsufficientFunds
// when the check fails, aborting the caller's transaction.
func Debit(ctx context.Context, tx store.Tx, userID, currency string, amount decimal.Decimal) error {
	b, err := tx.LockBalance(ctx, userID, currency)
	if err != nil {
		return err
	}
	if amount.GreaterThan(b.Amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, b.Amount, amount)
	}
	return tx.SetBalance(ctx, userID, currency, b.Amount.Sub(amount))
}

// Credit locks the balance row and writes the increased balance. Cannot
// fail except on the locking/transaction infrastructure.
func Credit(ctx context.Context, tx store.Tx, userID, currency string, amount decimal.Decimal) error {
	b, err := tx.LockBalance(ctx, userID, currency)
	if err != nil {
		return err
	}
	return tx.SetBalance(ctx, userID, currency, b.Amount.Add(amount))
}
