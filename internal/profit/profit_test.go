package profit_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/poolvest/fund-engine/internal/model"
	"github.com/poolvest/fund-engine/internal/money"
	"github.com/poolvest/fund-engine/internal/profit"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func at(day int) time.Time {
	return time.Date(2026, time.January, day, 0, 0, 0, 0, time.UTC)
}

func approvedSub(shares decimal.Decimal, settled time.Time) model.Request {
	return model.Request{
		Kind:      model.KindSubscription,
		Status:    model.StatusApproved,
		Shares:    shares,
		UpdatedAt: settled,
	}
}

func approvedRed(shares decimal.Decimal, settled time.Time) model.Request {
	return model.Request{
		Kind:      model.KindRedemption,
		Status:    model.StatusApproved,
		Shares:    shares,
		UpdatedAt: settled,
	}
}

func event(delta, totalShares decimal.Decimal, ts time.Time) model.PerformanceEvent {
	return model.PerformanceEvent{Delta: delta, TotalShares: totalShares, Timestamp: ts}
}

func TestAccrue(t *testing.T) {
	tests := []struct {
		name     string
		events   []model.PerformanceEvent
		approved []model.Request
		want     decimal.Decimal
	}{
		{
			name:     "sole holder gets full delta",
			events:   []model.PerformanceEvent{event(d(100), d(200), at(5))},
			approved: []model.Request{approvedSub(d(200), at(1))},
			want:     d(100),
		},
		{
			name:     "half the fund gets half the delta",
			events:   []model.PerformanceEvent{event(d(100), d(400), at(5))},
			approved: []model.Request{approvedSub(d(200), at(1))},
			want:     d(50),
		},
		{
			name: "events before subscription carry no weight",
			events: []model.PerformanceEvent{
				event(d(100), d(200), at(2)),
				event(d(100), d(200), at(10)),
			},
			approved: []model.Request{approvedSub(d(200), at(5))},
			want:     d(100),
		},
		{
			name: "redemption reduces weight for later events",
			events: []model.PerformanceEvent{
				event(d(100), d(200), at(3)),
				event(d(100), d(200), at(10)),
			},
			approved: []model.Request{
				approvedSub(d(200), at(1)),
				approvedRed(d(100), at(5)),
			},
			want: d(150),
		},
		{
			name:     "losses accrue negatively",
			events:   []model.PerformanceEvent{event(d(-50), d(200), at(5))},
			approved: []model.Request{approvedSub(d(100), at(1))},
			want:     d(-25),
		},
		{
			name:     "zero total-shares snapshot is skipped",
			events:   []model.PerformanceEvent{event(d(100), decimal.Zero, at(5))},
			approved: []model.Request{approvedSub(d(200), at(1))},
			want:     decimal.Zero,
		},
		{
			name:   "no approved requests means no accrual",
			events: []model.PerformanceEvent{event(d(100), d(200), at(5))},
			want:   decimal.Zero,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := profit.Accrue(tc.events, tc.approved)
			if !got.Equal(tc.want) {
				t.Errorf("Accrue() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestSplit(t *testing.T) {
	fund := &model.Fund{
		ID:         "fund-1",
		Name:       "Balanced USD",
		Currency:   "USD",
		SharePrice: d(2.5),
	}
	settings := model.Settings{UserRedeemProfitPercent: d(0.3)}

	// Held value 200 * 2.5 = 500, profit 100.
	rep, err := profit.Split(fund, d(200), d(100), settings)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	checks := []struct {
		name string
		got  decimal.Decimal
		want decimal.Decimal
	}{
		{"UserProfit", rep.UserProfit, d(30)},
		{"PlatformFee", rep.PlatformFee, d(70)},
		{"CurrentValue", rep.CurrentValue, d(430)},
		{"InitialBasis", rep.InitialBasis, d(400)},
		{"ProfitPercent", rep.ProfitPercent, d(7.5)},
	}
	for _, c := range checks {
		if !c.got.Equal(c.want) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}
}

func TestSplit_PercentRounding(t *testing.T) {
	fund := &model.Fund{SharePrice: d(3)}
	settings := model.Settings{UserRedeemProfitPercent: d(0.7)}

	// userProfit 70, platformFee 30, currentValue 100*3-30 = 270,
	// initialBasis 200, percent 35.00 exactly after rounding.
	rep, err := profit.Split(fund, d(100), d(100), settings)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if rep.ProfitPercent.Exponent() < -2 {
		t.Errorf("ProfitPercent %s has more than two decimal places", rep.ProfitPercent)
	}
	if !rep.ProfitPercent.Equal(d(35)) {
		t.Errorf("ProfitPercent = %s, want 35", rep.ProfitPercent)
	}
}

func TestSplit_ZeroBasis(t *testing.T) {
	fund := &model.Fund{SharePrice: decimal.Zero}
	settings := model.Settings{UserRedeemProfitPercent: d(0.7)}

	// No holdings and no profit: initialBasis works out to zero.
	_, err := profit.Split(fund, decimal.Zero, decimal.Zero, settings)
	if !errors.Is(err, money.ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestSortByProfit(t *testing.T) {
	reports := []profit.Report{
		{FundID: "low", ProfitAmount: d(10)},
		{FundID: "high", ProfitAmount: d(300)},
		{FundID: "mid", ProfitAmount: d(50)},
	}
	profit.SortByProfit(reports)

	want := []string{"high", "mid", "low"}
	for i, id := range want {
		if reports[i].FundID != id {
			t.Errorf("reports[%d] = %s, want %s", i, reports[i].FundID, id)
		}
	}
}
