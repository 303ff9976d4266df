// Package store defines the persistence interface for the fund engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/poolvest/fund-engine/internal/model"
)

var (
	// ErrNotFound is returned when a fund, balance, share or request
	// does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrLockTimeout is returned when a row lock cannot be acquired
	// within the store's configured timeout. Retryable: nothing committed.
	ErrLockTimeout = errors.New("store: lock timeout")
)

// Store is the persistence interface. Reads outside InTx take no locks;
// every mutation path runs inside a single InTx call so the paired ledger
// movement and status write commit or roll back together.
type Store interface {
	// --- Fund operations ---

	// CreateFund persists a new fund.
	CreateFund(ctx context.Context, fund *model.Fund) error

	// GetFund retrieves a fund by its ID.
	GetFund(ctx context.Context, id string) (*model.Fund, error)

	// ListFunds returns all funds.
	ListFunds(ctx context.Context) ([]model.Fund, error)

	// --- Balance reads ---

	// GetBalance retrieves one (user, currency) balance.
	GetBalance(ctx context.Context, userID, currency string) (*model.Balance, error)

	// CreateBalance persists a new balance row.
	CreateBalance(ctx context.Context, b *model.Balance) error

	// ListBalancesByUser returns all balances held by a user.
	ListBalancesByUser(ctx context.Context, userID string) ([]model.Balance, error)

	// --- Share and request reads ---

	// GetShare retrieves a user's position in a fund.
	GetShare(ctx context.Context, fundID, userID string) (*model.Share, error)

	// ListSharesByUser returns all of a user's positions.
	ListSharesByUser(ctx context.Context, userID string) ([]model.Share, error)

	// GetRequest retrieves a request by its ID.
	GetRequest(ctx context.Context, id string) (*model.Request, error)

	// ListRequestsByUser returns a user's requests, newest first.
	ListRequestsByUser(ctx context.Context, userID string) ([]model.Request, error)

	// ListApprovedRequests returns a user's approved requests for one
	// fund in settlement order. Feeds the profit calculator's share
	// timeline and the redemption wait-time policy.
	ListApprovedRequests(ctx context.Context, fundID, userID string) ([]model.Request, error)

	// --- Append-only performance events ---

	// ListPerformanceEvents returns a fund's events in posting order.
	ListPerformanceEvents(ctx context.Context, fundID string) ([]model.PerformanceEvent, error)

	// --- Transactions ---

	// InTx runs fn inside one atomic transaction. Any error from fn
	// rolls everything back; no partial state survives.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the row-locked operations available inside a transaction.
// Lock methods acquire an exclusive, transaction-scoped lock on the row
// (SELECT ... FOR UPDATE semantics) and re-read it under that lock.
type Tx interface {
	// LockBalance locks and re-reads one balance row.
	LockBalance(ctx context.Context, userID, currency string) (*model.Balance, error)

	// SetBalance writes a locked balance's new amount.
	SetBalance(ctx context.Context, userID, currency string, amount decimal.Decimal) error

	// LockRequest locks and re-reads one request row.
	LockRequest(ctx context.Context, id string) (*model.Request, error)

	// InsertRequest persists a new request.
	InsertRequest(ctx context.Context, r *model.Request) error

	// UpdateRequest writes a request's status, refunded flag and settled
	// shares.
	UpdateRequest(ctx context.Context, r *model.Request) error

	// GetFund reads a fund inside the transaction. Fund rows are only
	// mutated as the second write of an already-locked request/balance
	// transaction, so no independent fund lock is taken.
	GetFund(ctx context.Context, id string) (*model.Fund, error)

	// SetFundState writes a fund's pooled capital, total shares and
	// share price.
	SetFundState(ctx context.Context, id string, pooledCapital, totalShares, sharePrice decimal.Decimal) error

	// GetShare reads a position inside the transaction. ErrNotFound
	// means no position yet.
	GetShare(ctx context.Context, fundID, userID string) (*model.Share, error)

	// UpsertShare writes a position's share count.
	UpsertShare(ctx context.Context, fundID, userID string, amount decimal.Decimal) error

	// InsertPerformanceEvent appends an immutable performance event.
	InsertPerformanceEvent(ctx context.Context, e *model.PerformanceEvent) error
}
