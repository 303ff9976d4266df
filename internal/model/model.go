// Package model defines the core domain types shared across the fund engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request statuses. Approved, declined and canceled are terminal.
const (
	StatusPendingEmailVerification = "pending_email_verification"
	StatusPending                  = "pending"
	StatusApproved                 = "approved"
	StatusDeclined                 = "declined"
	StatusCanceled                 = "canceled"
)

// Request kinds.
const (
	KindSubscription = "subscription"
	KindRedemption   = "redemption"
)

// Fund is a pooled investment vehicle. SharePrice and PooledCapital are
// authoritative fund state; both move only inside store transactions.
type Fund struct {
	ID                 string          `json:"id" db:"id"`
	Name               string          `json:"name" db:"name"`
	Currency           string          `json:"currency" db:"currency"`
	SharePrice         decimal.Decimal `json:"share_price" db:"share_price"`
	PooledCapital      decimal.Decimal `json:"pooled_capital" db:"pooled_capital"`
	TotalShares        decimal.Decimal `json:"total_shares" db:"total_shares"`
	RiskLevel          string          `json:"risk_level" db:"risk_level"` // "low", "medium", "high"
	RedemptionWaitDays int             `json:"redemption_wait_days" db:"redemption_wait_days"`
	BalanceStrategy    string          `json:"balance_strategy" db:"balance_strategy"` // how performance events post
	AnnualPercentRate  decimal.Decimal `json:"annual_percent_rate" db:"annual_percent_rate"`
	ManagerID          string          `json:"manager_id" db:"manager_id"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}

// Balance is a user's fiat holding in one currency. Amount never goes
// negative; debits that would overdraw it fail the enclosing transaction.
type Balance struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Currency  string          `json:"currency" db:"currency"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Share is a user's position in one fund, denominated in fund shares.
// Amount >= 0 always; a zero-amount record means "no position".
type Share struct {
	FundID string          `json:"fund_id" db:"fund_id"`
	UserID string          `json:"user_id" db:"user_id"`
	Amount decimal.Decimal `json:"amount" db:"amount"`
}

// Request is a subscription or redemption moving through the lifecycle
// pending_email_verification → pending → {approved, declined, canceled}.
// Immutable once terminal.
//
// Amount means fiat for subscriptions and a share quantity for redemptions.
// Percent, when positive, expresses a partial redemption as a fraction of
// holdings in (0, 1]. Shares records the share delta settled at approval.
type Request struct {
	ID        string          `json:"id" db:"id"`
	FundID    string          `json:"fund_id" db:"fund_id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Kind      string          `json:"kind" db:"kind"`
	Status    string          `json:"status" db:"status"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Percent   decimal.Decimal `json:"percent" db:"percent"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	Refunded  bool            `json:"refunded" db:"refunded"`
	AuthToken string          `json:"-" db:"auth_token"` // email-verified activation token
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the request reached a final status.
func (r *Request) Terminal() bool {
	switch r.Status {
	case StatusApproved, StatusDeclined, StatusCanceled:
		return true
	}
	return false
}

// PerformanceEvent is an append-only record of fund-level profit or loss.
// TotalShares snapshots the fund's shares outstanding at posting time so
// the profit calculator can weight the delta without historical replay.
type PerformanceEvent struct {
	ID          string          `json:"id" db:"id"`
	FundID      string          `json:"fund_id" db:"fund_id"`
	Delta       decimal.Decimal `json:"delta" db:"delta"`
	TotalShares decimal.Decimal `json:"total_shares" db:"total_shares"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// Settings holds process-wide fund configuration, loaded once at startup
// and passed explicitly — never read from ambient global state.
type Settings struct {
	// UserRedeemProfitPercent is the user's cut of redemption profit,
	// in [0, 1]. The platform keeps the remainder.
	UserRedeemProfitPercent decimal.Decimal `json:"user_redeem_profit_percent"`
}

// DefaultSettings returns the settings used when no overrides are
// configured: the user keeps 70% of redemption profit.
func DefaultSettings() Settings {
	return Settings{UserRedeemProfitPercent: decimal.NewFromFloat(0.7)}
}
