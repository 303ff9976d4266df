// Package profit implements the profit distribution calculator.
//
// A fund posts append-only performance events (profit or loss deltas).
// A user's accrued profit is the sum of each event's delta weighted by the
// fraction of the fund the user held when the event posted:
//
//	profitAmount = Σ delta_e * heldShares(t_e) / totalShares(t_e)
//
// The user's share history is reconstructed from their approved requests;
// each event carries a snapshot of the fund's total shares at posting time.
//
// Everything here is pure and read-only: it takes no locks and never
// mutates state, so it is safe to run concurrently with ledger mutations.
// It reads a snapshot; staleness relative to an in-flight approval is
// acceptable on this reporting path.
//
// All monetary values use shopspring/decimal — never float64 for money.
package profit

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/poolvest/fund-engine/internal/model"
	"github.com/poolvest/fund-engine/internal/money"
)

var hundred = decimal.NewFromInt(100)

// PercentScale rounds profitPercent to two places (7.50, not 7.5000001).
const PercentScale int32 = 2

// Report is the per-fund performance breakdown returned to the caller.
type Report struct {
	FundID        string          `json:"fund_id"`
	FundName      string          `json:"fund_name"`
	Currency      string          `json:"currency"`
	HeldShares    decimal.Decimal `json:"held_shares"`
	SharePrice    decimal.Decimal `json:"share_price"`
	ProfitAmount  decimal.Decimal `json:"profit_amount"`
	UserProfit    decimal.Decimal `json:"user_profit"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	InitialBasis  decimal.Decimal `json:"initial_basis"`
	ProfitPercent decimal.Decimal `json:"profit_percent"`
}

// holding is one point in a user's share timeline: the share count in
// force from Time until the next point.
type holding struct {
	time   time.Time
	shares decimal.Decimal
}

// shareTimeline reconstructs a user's fund position over time from their
// approved requests. Subscriptions add the settled share delta,
// redemptions subtract it. Requests must be in settlement order.
func shareTimeline(approved []model.Request) []holding {
	timeline := make([]holding, 0, len(approved))
	running := decimal.Zero
	for _, r := range approved {
		switch r.Kind {
		case model.KindSubscription:
			running = running.Add(r.Shares)
		case model.KindRedemption:
			running = running.Sub(r.Shares)
		default:
			continue
		}
		timeline = append(timeline, holding{time: r.UpdatedAt, shares: running})
	}
	return timeline
}

// sharesAt returns the shares held at t: the latest timeline point not
// after t, or zero before the first point.
func sharesAt(timeline []holding, t time.Time) decimal.Decimal {
	held := decimal.Zero
	for _, h := range timeline {
		if h.time.After(t) {
			break
		}
		held = h.shares
	}
	return held
}

// Accrue computes the fund-level profit attributable to the user across
// the event history: each delta weighted by heldShares/totalShares at the
// moment it posted. Events with a zero total-shares snapshot carry no
// attributable weight and are skipped.
func Accrue(events []model.PerformanceEvent, approved []model.Request) decimal.Decimal {
	timeline := shareTimeline(approved)
	total := decimal.Zero
	for _, e := range events {
		if e.TotalShares.IsZero() {
			continue
		}
		held := sharesAt(timeline, e.Timestamp)
		if held.IsZero() {
			continue
		}
		total = total.Add(e.Delta.Mul(held).Div(e.TotalShares))
	}
	return total
}

// Split applies the platform's profit cut and derives the report figures:
//
//	userProfit    = profitAmount * userRedeemProfitPercent
//	platformFee   = profitAmount * (1 - userRedeemProfitPercent)
//	currentValue  = heldShares * sharePrice - platformFee
//	initialBasis  = currentValue - userProfit
//	profitPercent = userProfit / initialBasis * 100
//
// Fails with money.ErrDivisionByZero when initialBasis is zero.
func Split(fund *model.Fund, heldShares, profitAmount decimal.Decimal, settings model.Settings) (Report, error) {
	one := decimal.NewFromInt(1)
	userProfit := profitAmount.Mul(settings.UserRedeemProfitPercent)
	platformFee := profitAmount.Mul(one.Sub(settings.UserRedeemProfitPercent))
	currentValue := heldShares.Mul(fund.SharePrice).Sub(platformFee)
	initialBasis := currentValue.Sub(userProfit)

	ratio, err := money.Div(userProfit, initialBasis)
	if err != nil {
		return Report{}, err
	}

	return Report{
		FundID:        fund.ID,
		FundName:      fund.Name,
		Currency:      fund.Currency,
		HeldShares:    heldShares,
		SharePrice:    fund.SharePrice,
		ProfitAmount:  profitAmount,
		UserProfit:    userProfit,
		PlatformFee:   platformFee,
		CurrentValue:  currentValue,
		InitialBasis:  initialBasis,
		ProfitPercent: ratio.Mul(hundred).Round(PercentScale),
	}, nil
}

// SortByProfit orders reports by descending profit amount, the order the
// caller receives multi-fund results in.
func SortByProfit(reports []Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].ProfitAmount.GreaterThan(reports[j].ProfitAmount)
	})
}
