package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/poolvest/fund-engine/internal/model"
)

type balKey struct{ userID, currency string }
type shareKey struct{ fundID, userID string }

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Transactions serialize behind a single mutex, the
// "single-writer" variant of the row-locking discipline: a transaction
// sees no concurrent writes and its staged mutations apply atomically on
// commit or vanish on rollback.
type MemoryStore struct {
	mu       sync.Mutex
	funds    map[string]*model.Fund
	balances map[balKey]*model.Balance
	shares   map[shareKey]*model.Share
	requests map[string]*model.Request
	events   map[string][]model.PerformanceEvent
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		funds:    make(map[string]*model.Fund),
		balances: make(map[balKey]*model.Balance),
		shares:   make(map[shareKey]*model.Share),
		requests: make(map[string]*model.Request),
		events:   make(map[string][]model.PerformanceEvent),
	}
}

func (s *MemoryStore) CreateFund(_ context.Context, f *model.Fund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.funds[f.ID]; ok {
		return fmt.Errorf("fund %s already exists", f.ID)
	}
	cp := *f
	s.funds[f.ID] = &cp
	return nil
}

func (s *MemoryStore) GetFund(_ context.Context, id string) (*model.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.funds[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *MemoryStore) ListFunds(_ context.Context) ([]model.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	funds := make([]model.Fund, 0, len(s.funds))
	for _, f := range s.funds {
		funds = append(funds, *f)
	}
	sort.Slice(funds, func(i, j int) bool { return funds[i].CreatedAt.Before(funds[j].CreatedAt) })
	return funds, nil
}

func (s *MemoryStore) CreateBalance(_ context.Context, b *model.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := balKey{b.UserID, b.Currency}
	if _, ok := s.balances[key]; ok {
		return fmt.Errorf("balance %s/%s already exists", b.UserID, b.Currency)
	}
	cp := *b
	s.balances[key] = &cp
	return nil
}

func (s *MemoryStore) GetBalance(_ context.Context, userID, currency string) (*model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[balKey{userID, currency}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) ListBalancesByUser(_ context.Context, userID string) ([]model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var balances []model.Balance
	for key, b := range s.balances {
		if key.userID == userID {
			balances = append(balances, *b)
		}
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Currency < balances[j].Currency })
	return balances, nil
}

func (s *MemoryStore) GetShare(_ context.Context, fundID, userID string) (*model.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shares[shareKey{fundID, userID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sh
	return &cp, nil
}

func (s *MemoryStore) ListSharesByUser(_ context.Context, userID string) ([]model.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var shares []model.Share
	for key, sh := range s.shares {
		if key.userID == userID {
			shares = append(shares, *sh)
		}
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].FundID < shares[j].FundID })
	return shares, nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (*model.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRequestsByUser(_ context.Context, userID string) ([]model.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var requests []model.Request
	for _, r := range s.requests {
		if r.UserID == userID {
			requests = append(requests, *r)
		}
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].CreatedAt.After(requests[j].CreatedAt) })
	return requests, nil
}

func (s *MemoryStore) ListApprovedRequests(_ context.Context, fundID, userID string) ([]model.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var requests []model.Request
	for _, r := range s.requests {
		if r.FundID == fundID && r.UserID == userID && r.Status == model.StatusApproved {
			requests = append(requests, *r)
		}
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].UpdatedAt.Before(requests[j].UpdatedAt) })
	return requests, nil
}

func (s *MemoryStore) ListPerformanceEvents(_ context.Context, fundID string) ([]model.PerformanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]model.PerformanceEvent, len(s.events[fundID]))
	copy(events, s.events[fundID])
	return events, nil
}

// InTx serializes the transaction behind the store mutex. Mutations stage
// into the tx and apply on commit; an error drops them all.
func (s *MemoryStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:        s,
		funds:    make(map[string]*model.Fund),
		balances: make(map[balKey]*model.Balance),
		shares:   make(map[shareKey]*model.Share),
		requests: make(map[string]*model.Request),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx stages copies of every row it touches. Reads prefer staged rows so
// the transaction observes its own writes.
type memTx struct {
	s        *MemoryStore
	funds    map[string]*model.Fund
	balances map[balKey]*model.Balance
	shares   map[shareKey]*model.Share
	requests map[string]*model.Request
	events   []model.PerformanceEvent
}

func (tx *memTx) commit() {
	for id, f := range tx.funds {
		tx.s.funds[id] = f
	}
	for key, b := range tx.balances {
		tx.s.balances[key] = b
	}
	for key, sh := range tx.shares {
		tx.s.shares[key] = sh
	}
	for id, r := range tx.requests {
		tx.s.requests[id] = r
	}
	for _, e := range tx.events {
		tx.s.events[e.FundID] = append(tx.s.events[e.FundID], e)
	}
}

func (tx *memTx) LockBalance(_ context.Context, userID, currency string) (*model.Balance, error) {
	key := balKey{userID, currency}
	if b, ok := tx.balances[key]; ok {
		cp := *b
		return &cp, nil
	}
	b, ok := tx.s.balances[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (tx *memTx) SetBalance(_ context.Context, userID, currency string, amount decimal.Decimal) error {
	key := balKey{userID, currency}
	b, ok := tx.balances[key]
	if !ok {
		existing, found := tx.s.balances[key]
		if !found {
			return ErrNotFound
		}
		cp := *existing
		b = &cp
		tx.balances[key] = b
	}
	b.Amount = amount
	return nil
}

func (tx *memTx) LockRequest(_ context.Context, id string) (*model.Request, error) {
	if r, ok := tx.requests[id]; ok {
		cp := *r
		return &cp, nil
	}
	r, ok := tx.s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (tx *memTx) InsertRequest(_ context.Context, r *model.Request) error {
	if _, ok := tx.requests[r.ID]; ok {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	if _, ok := tx.s.requests[r.ID]; ok {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	cp := *r
	tx.requests[r.ID] = &cp
	return nil
}

func (tx *memTx) UpdateRequest(_ context.Context, r *model.Request) error {
	if _, staged := tx.requests[r.ID]; !staged {
		if _, ok := tx.s.requests[r.ID]; !ok {
			return ErrNotFound
		}
	}
	cp := *r
	tx.requests[r.ID] = &cp
	return nil
}

func (tx *memTx) GetFund(_ context.Context, id string) (*model.Fund, error) {
	if f, ok := tx.funds[id]; ok {
		cp := *f
		return &cp, nil
	}
	f, ok := tx.s.funds[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (tx *memTx) SetFundState(_ context.Context, id string, pooledCapital, totalShares, sharePrice decimal.Decimal) error {
	f, ok := tx.funds[id]
	if !ok {
		existing, found := tx.s.funds[id]
		if !found {
			return ErrNotFound
		}
		cp := *existing
		f = &cp
		tx.funds[id] = f
	}
	f.PooledCapital = pooledCapital
	f.TotalShares = totalShares
	f.SharePrice = sharePrice
	return nil
}

func (tx *memTx) GetShare(_ context.Context, fundID, userID string) (*model.Share, error) {
	key := shareKey{fundID, userID}
	if sh, ok := tx.shares[key]; ok {
		cp := *sh
		return &cp, nil
	}
	sh, ok := tx.s.shares[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sh
	return &cp, nil
}

func (tx *memTx) UpsertShare(_ context.Context, fundID, userID string, amount decimal.Decimal) error {
	tx.shares[shareKey{fundID, userID}] = &model.Share{
		FundID: fundID,
		UserID: userID,
		Amount: amount,
	}
	return nil
}

func (tx *memTx) InsertPerformanceEvent(_ context.Context, e *model.PerformanceEvent) error {
	tx.events = append(tx.events, *e)
	return nil
}
