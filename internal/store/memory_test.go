package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/poolvest/fund-engine/internal/model"
	"github.com/poolvest/fund-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestMemoryStore_TxRollback(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.CreateBalance(ctx, &model.Balance{UserID: "u1", Currency: "USD", Amount: d(100)})

	boom := errors.New("boom")
	err := ms.InTx(ctx, func(tx store.Tx) error {
		if err := tx.SetBalance(ctx, "u1", "USD", d(50)); err != nil {
			return err
		}
		if err := tx.InsertRequest(ctx, &model.Request{ID: "r1", UserID: "u1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	b, err := ms.GetBalance(ctx, "u1", "USD")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !b.Amount.Equal(d(100)) {
		t.Errorf("balance = %s after rollback, want 100", b.Amount)
	}
	if _, err := ms.GetRequest(ctx, "r1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected staged insert dropped, got %v", err)
	}
}

func TestMemoryStore_TxDuplicateInsert(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	// A second insert of the same ID must fail even when the first is
	// still staged in the same transaction.
	err := ms.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertRequest(ctx, &model.Request{ID: "r1", UserID: "u1"}); err != nil {
			return err
		}
		return tx.InsertRequest(ctx, &model.Request{ID: "r1", UserID: "u2"})
	})
	if err == nil {
		t.Fatal("expected duplicate insert to fail")
	}
	if _, err := ms.GetRequest(ctx, "r1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected rollback to drop the first insert, got %v", err)
	}
}

func TestMemoryStore_TxReadsOwnWrites(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.CreateBalance(ctx, &model.Balance{UserID: "u1", Currency: "USD", Amount: d(100)})

	err := ms.InTx(ctx, func(tx store.Tx) error {
		if err := tx.SetBalance(ctx, "u1", "USD", d(40)); err != nil {
			return err
		}
		b, err := tx.LockBalance(ctx, "u1", "USD")
		if err != nil {
			return err
		}
		if !b.Amount.Equal(d(40)) {
			t.Errorf("tx read = %s, want its own write 40", b.Amount)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	b, _ := ms.GetBalance(ctx, "u1", "USD")
	if !b.Amount.Equal(d(40)) {
		t.Errorf("balance = %s after commit, want 40", b.Amount)
	}
}

func TestMemoryStore_TxCommitAppliesEverything(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.CreateFund(ctx, &model.Fund{ID: "f1", Currency: "USD", SharePrice: d(2)})

	err := ms.InTx(ctx, func(tx store.Tx) error {
		if err := tx.SetFundState(ctx, "f1", d(400), d(200), d(2)); err != nil {
			return err
		}
		if err := tx.UpsertShare(ctx, "f1", "u1", d(200)); err != nil {
			return err
		}
		return tx.InsertPerformanceEvent(ctx, &model.PerformanceEvent{
			ID: "e1", FundID: "f1", Delta: d(100), TotalShares: d(200), Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	f, _ := ms.GetFund(ctx, "f1")
	if !f.PooledCapital.Equal(d(400)) || !f.TotalShares.Equal(d(200)) {
		t.Errorf("fund state = %s/%s, want 400/200", f.PooledCapital, f.TotalShares)
	}
	sh, err := ms.GetShare(ctx, "f1", "u1")
	if err != nil {
		t.Fatalf("get share: %v", err)
	}
	if !sh.Amount.Equal(d(200)) {
		t.Errorf("share = %s, want 200", sh.Amount)
	}
	events, _ := ms.ListPerformanceEvents(ctx, "f1")
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.CreateFund(ctx, &model.Fund{ID: "f1", Currency: "USD", SharePrice: d(2)})

	f, _ := ms.GetFund(ctx, "f1")
	f.SharePrice = d(999)

	again, _ := ms.GetFund(ctx, "f1")
	if !again.SharePrice.Equal(d(2)) {
		t.Errorf("caller mutation leaked into the store: price %s", again.SharePrice)
	}
}

func TestMemoryStore_ListApprovedRequestsOrder(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	seed := []model.Request{
		{ID: "late", FundID: "f1", UserID: "u1", Status: model.StatusApproved, UpdatedAt: base.AddDate(0, 0, 2)},
		{ID: "early", FundID: "f1", UserID: "u1", Status: model.StatusApproved, UpdatedAt: base},
		{ID: "pending", FundID: "f1", UserID: "u1", Status: model.StatusPending, UpdatedAt: base.AddDate(0, 0, 1)},
		{ID: "other", FundID: "f2", UserID: "u1", Status: model.StatusApproved, UpdatedAt: base},
	}
	for i := range seed {
		r := seed[i]
		if err := ms.InTx(ctx, func(tx store.Tx) error {
			return tx.InsertRequest(ctx, &r)
		}); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}

	approved, err := ms.ListApprovedRequests(ctx, "f1", "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(approved) != 2 {
		t.Fatalf("approved = %d, want 2", len(approved))
	}
	if approved[0].ID != "early" || approved[1].ID != "late" {
		t.Errorf("order = %s, %s; want early, late", approved[0].ID, approved[1].ID)
	}
}
