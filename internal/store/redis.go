package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/poolvest/fund-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for fund rows and performance-event histories. Writes go to the
// primary store; transactions record which keys they touched and drop them
// once the commit succeeds. Balance, share and request reads always hit
// the primary — settlement paths never read money through a cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetFund(ctx context.Context, id string) (*model.Fund, error) {
	data, err := s.rdb.Get(ctx, fundKey(id)).Bytes()
	if err == nil {
		var f model.Fund
		if json.Unmarshal(data, &f) == nil {
			return &f, nil
		}
	}

	f, err := s.primary.GetFund(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheFund(ctx, f)
	return f, nil
}

func (s *CachedStore) ListPerformanceEvents(ctx context.Context, fundID string) ([]model.PerformanceEvent, error) {
	data, err := s.rdb.Get(ctx, eventsKey(fundID)).Bytes()
	if err == nil {
		var events []model.PerformanceEvent
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	events, err := s.primary.ListPerformanceEvents(ctx, fundID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(events); err == nil {
		s.rdb.Set(ctx, eventsKey(fundID), data, s.ttl)
	}
	return events, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateFund(ctx context.Context, f *model.Fund) error {
	if err := s.primary.CreateFund(ctx, f); err != nil {
		return err
	}
	s.cacheFund(ctx, f)
	return nil
}

// InTx forwards to the primary, recording which fund rows the transaction
// mutates; their cache keys are dropped after the commit so the next read
// re-populates from fresh state.
func (s *CachedStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	ct := &cachedTx{}
	err := s.primary.InTx(ctx, func(tx Tx) error {
		ct.Tx = tx
		return fn(ct)
	})
	if err != nil {
		return err
	}
	for _, key := range ct.stale {
		s.rdb.Del(ctx, key)
	}
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListFunds(ctx context.Context) ([]model.Fund, error) {
	return s.primary.ListFunds(ctx)
}

func (s *CachedStore) CreateBalance(ctx context.Context, b *model.Balance) error {
	return s.primary.CreateBalance(ctx, b)
}

func (s *CachedStore) GetBalance(ctx context.Context, userID, currency string) (*model.Balance, error) {
	return s.primary.GetBalance(ctx, userID, currency)
}

func (s *CachedStore) ListBalancesByUser(ctx context.Context, userID string) ([]model.Balance, error) {
	return s.primary.ListBalancesByUser(ctx, userID)
}

func (s *CachedStore) GetShare(ctx context.Context, fundID, userID string) (*model.Share, error) {
	return s.primary.GetShare(ctx, fundID, userID)
}

func (s *CachedStore) ListSharesByUser(ctx context.Context, userID string) ([]model.Share, error) {
	return s.primary.ListSharesByUser(ctx, userID)
}

func (s *CachedStore) GetRequest(ctx context.Context, id string) (*model.Request, error) {
	return s.primary.GetRequest(ctx, id)
}

func (s *CachedStore) ListRequestsByUser(ctx context.Context, userID string) ([]model.Request, error) {
	return s.primary.ListRequestsByUser(ctx, userID)
}

func (s *CachedStore) ListApprovedRequests(ctx context.Context, fundID, userID string) ([]model.Request, error) {
	return s.primary.ListApprovedRequests(ctx, fundID, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheFund(ctx context.Context, f *model.Fund) {
	if data, err := json.Marshal(f); err == nil {
		s.rdb.Set(ctx, fundKey(f.ID), data, s.ttl)
	}
}

// cachedTx wraps the primary transaction, collecting cache keys made stale
// by the writes it carries.
type cachedTx struct {
	Tx
	stale []string
}

func (t *cachedTx) SetFundState(ctx context.Context, id string, pooledCapital, totalShares, sharePrice decimal.Decimal) error {
	if err := t.Tx.SetFundState(ctx, id, pooledCapital, totalShares, sharePrice); err != nil {
		return err
	}
	t.stale = append(t.stale, fundKey(id))
	return nil
}

func (t *cachedTx) InsertPerformanceEvent(ctx context.Context, e *model.PerformanceEvent) error {
	if err := t.Tx.InsertPerformanceEvent(ctx, e); err != nil {
		return err
	}
	t.stale = append(t.stale, eventsKey(e.FundID))
	return nil
}

func fundKey(id string) string       { return fmt.Sprintf("fund:%s", id) }
func eventsKey(fundID string) string { return fmt.Sprintf("fund:%s:events", fundID) }
