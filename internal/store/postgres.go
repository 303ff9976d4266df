package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/poolvest/fund-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Row locks use SELECT ... FOR UPDATE; a lock the database cannot grant
// within lock_timeout surfaces as the retryable ErrLockTimeout.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// mapPgErr translates driver errors into the store taxonomy.
// 55P03 = lock_not_available, 40P01 = deadlock_detected; both mean the
// caller should retry the whole operation from scratch.
func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "55P03" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %s", ErrLockTimeout, pgErr.Message)
		}
	}
	return err
}

const fundColumns = `id, name, currency,
	share_price::TEXT, pooled_capital::TEXT, total_shares::TEXT,
	risk_level, redemption_wait_days, balance_strategy,
	annual_percent_rate::TEXT, manager_id, created_at`

func scanFund(row pgx.Row) (*model.Fund, error) {
	var f model.Fund
	var sharePrice, pooledCapital, totalShares, apr string

	err := row.Scan(&f.ID, &f.Name, &f.Currency,
		&sharePrice, &pooledCapital, &totalShares,
		&f.RiskLevel, &f.RedemptionWaitDays, &f.BalanceStrategy,
		&apr, &f.ManagerID, &f.CreatedAt)
	if err != nil {
		return nil, mapPgErr(err)
	}

	f.SharePrice, _ = decimal.NewFromString(sharePrice)
	f.PooledCapital, _ = decimal.NewFromString(pooledCapital)
	f.TotalShares, _ = decimal.NewFromString(totalShares)
	f.AnnualPercentRate, _ = decimal.NewFromString(apr)
	return &f, nil
}

func (s *PostgresStore) CreateFund(ctx context.Context, f *model.Fund) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO funds (id, name, currency, share_price, pooled_capital, total_shares,
		                    risk_level, redemption_wait_days, balance_strategy,
		                    annual_percent_rate, manager_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10::NUMERIC, $11, $12)`,
		f.ID, f.Name, f.Currency,
		f.SharePrice.String(), f.PooledCapital.String(), f.TotalShares.String(),
		f.RiskLevel, f.RedemptionWaitDays, f.BalanceStrategy,
		f.AnnualPercentRate.String(), f.ManagerID, f.CreatedAt,
	)
	return mapPgErr(err)
}

func (s *PostgresStore) GetFund(ctx context.Context, id string) (*model.Fund, error) {
	return scanFund(s.pool.QueryRow(ctx,
		`SELECT `+fundColumns+` FROM funds WHERE id = $1`, id))
}

func (s *PostgresStore) ListFunds(ctx context.Context) ([]model.Fund, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fundColumns+` FROM funds ORDER BY created_at`)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var funds []model.Fund
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, err
		}
		funds = append(funds, *f)
	}
	return funds, rows.Err()
}

func scanBalance(row pgx.Row) (*model.Balance, error) {
	var b model.Balance
	var amount string
	if err := row.Scan(&b.UserID, &b.Currency, &amount, &b.UpdatedAt); err != nil {
		return nil, mapPgErr(err)
	}
	b.Amount, _ = decimal.NewFromString(amount)
	return &b, nil
}

func (s *PostgresStore) CreateBalance(ctx context.Context, b *model.Balance) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balances (user_id, currency, amount, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		b.UserID, b.Currency, b.Amount.String(), b.UpdatedAt,
	)
	return mapPgErr(err)
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID, currency string) (*model.Balance, error) {
	return scanBalance(s.pool.QueryRow(ctx,
		`SELECT user_id, currency, amount::TEXT, updated_at
		 FROM balances WHERE user_id = $1 AND currency = $2`, userID, currency))
}

func (s *PostgresStore) ListBalancesByUser(ctx context.Context, userID string) ([]model.Balance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, currency, amount::TEXT, updated_at
		 FROM balances WHERE user_id = $1 ORDER BY currency`, userID)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var balances []model.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *b)
	}
	return balances, rows.Err()
}

func (s *PostgresStore) GetShare(ctx context.Context, fundID, userID string) (*model.Share, error) {
	var sh model.Share
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT fund_id, user_id, amount::TEXT
		 FROM fund_shares WHERE fund_id = $1 AND user_id = $2`, fundID, userID).
		Scan(&sh.FundID, &sh.UserID, &amount)
	if err != nil {
		return nil, mapPgErr(err)
	}
	sh.Amount, _ = decimal.NewFromString(amount)
	return &sh, nil
}

func (s *PostgresStore) ListSharesByUser(ctx context.Context, userID string) ([]model.Share, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fund_id, user_id, amount::TEXT
		 FROM fund_shares WHERE user_id = $1 ORDER BY fund_id`, userID)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var shares []model.Share
	for rows.Next() {
		var sh model.Share
		var amount string
		if err := rows.Scan(&sh.FundID, &sh.UserID, &amount); err != nil {
			return nil, err
		}
		sh.Amount, _ = decimal.NewFromString(amount)
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

const requestColumns = `id, fund_id, user_id, kind, status,
	amount::TEXT, percent::TEXT, shares::TEXT, refunded, auth_token,
	created_at, updated_at`

func scanRequest(row pgx.Row) (*model.Request, error) {
	var r model.Request
	var amount, percent, shares string

	err := row.Scan(&r.ID, &r.FundID, &r.UserID, &r.Kind, &r.Status,
		&amount, &percent, &shares, &r.Refunded, &r.AuthToken,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapPgErr(err)
	}

	r.Amount, _ = decimal.NewFromString(amount)
	r.Percent, _ = decimal.NewFromString(percent)
	r.Shares, _ = decimal.NewFromString(shares)
	return &r, nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.Request, error) {
	return scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM fund_requests WHERE id = $1`, id))
}

func (s *PostgresStore) ListRequestsByUser(ctx context.Context, userID string) ([]model.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM fund_requests
		 WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *PostgresStore) ListApprovedRequests(ctx context.Context, fundID, userID string) ([]model.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM fund_requests
		 WHERE fund_id = $1 AND user_id = $2 AND status = $3
		 ORDER BY updated_at`, fundID, userID, model.StatusApproved)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]model.Request, error) {
	var requests []model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

func (s *PostgresStore) ListPerformanceEvents(ctx context.Context, fundID string) ([]model.PerformanceEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fund_id, delta::TEXT, total_shares::TEXT, timestamp
		 FROM performance_events WHERE fund_id = $1 ORDER BY timestamp`, fundID)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var events []model.PerformanceEvent
	for rows.Next() {
		var e model.PerformanceEvent
		var delta, totalShares string
		if err := rows.Scan(&e.ID, &e.FundID, &delta, &totalShares, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Delta, _ = decimal.NewFromString(delta)
		e.TotalShares, _ = decimal.NewFromString(totalShares)
		events = append(events, e)
	}
	return events, rows.Err()
}

// InTx opens one transaction, bounds its lock waits, and commits only if
// fn succeeds. Any error rolls everything back.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPgErr(err)
	}
	defer pgtx.Rollback(ctx)

	if _, err := pgtx.Exec(ctx, `SET LOCAL lock_timeout = '3s'`); err != nil {
		return mapPgErr(err)
	}

	if err := fn(&pgTx{tx: pgtx}); err != nil {
		return err
	}
	return mapPgErr(pgtx.Commit(ctx))
}

// pgTx implements Tx over a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockBalance(ctx context.Context, userID, currency string) (*model.Balance, error) {
	return scanBalance(t.tx.QueryRow(ctx,
		`SELECT user_id, currency, amount::TEXT, updated_at
		 FROM balances WHERE user_id = $1 AND currency = $2
		 FOR UPDATE`, userID, currency))
}

func (t *pgTx) SetBalance(ctx context.Context, userID, currency string, amount decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE balances SET amount = $3::NUMERIC, updated_at = now()
		 WHERE user_id = $1 AND currency = $2`,
		userID, currency, amount.String())
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) LockRequest(ctx context.Context, id string) (*model.Request, error) {
	return scanRequest(t.tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM fund_requests WHERE id = $1
		 FOR UPDATE`, id))
}

func (t *pgTx) InsertRequest(ctx context.Context, r *model.Request) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO fund_requests (id, fund_id, user_id, kind, status, amount, percent,
		                            shares, refunded, auth_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12)`,
		r.ID, r.FundID, r.UserID, r.Kind, r.Status,
		r.Amount.String(), r.Percent.String(), r.Shares.String(),
		r.Refunded, r.AuthToken, r.CreatedAt, r.UpdatedAt,
	)
	return mapPgErr(err)
}

func (t *pgTx) UpdateRequest(ctx context.Context, r *model.Request) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE fund_requests
		 SET status = $2, shares = $3::NUMERIC, refunded = $4, updated_at = $5
		 WHERE id = $1`,
		r.ID, r.Status, r.Shares.String(), r.Refunded, r.UpdatedAt)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) GetFund(ctx context.Context, id string) (*model.Fund, error) {
	return scanFund(t.tx.QueryRow(ctx,
		`SELECT `+fundColumns+` FROM funds WHERE id = $1`, id))
}

func (t *pgTx) SetFundState(ctx context.Context, id string, pooledCapital, totalShares, sharePrice decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE funds
		 SET pooled_capital = $2::NUMERIC, total_shares = $3::NUMERIC, share_price = $4::NUMERIC
		 WHERE id = $1`,
		id, pooledCapital.String(), totalShares.String(), sharePrice.String())
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) GetShare(ctx context.Context, fundID, userID string) (*model.Share, error) {
	var sh model.Share
	var amount string
	err := t.tx.QueryRow(ctx,
		`SELECT fund_id, user_id, amount::TEXT
		 FROM fund_shares WHERE fund_id = $1 AND user_id = $2`, fundID, userID).
		Scan(&sh.FundID, &sh.UserID, &amount)
	if err != nil {
		return nil, mapPgErr(err)
	}
	sh.Amount, _ = decimal.NewFromString(amount)
	return &sh, nil
}

func (t *pgTx) UpsertShare(ctx context.Context, fundID, userID string, amount decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO fund_shares (fund_id, user_id, amount)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (fund_id, user_id) DO UPDATE SET amount = EXCLUDED.amount`,
		fundID, userID, amount.String())
	return mapPgErr(err)
}

func (t *pgTx) InsertPerformanceEvent(ctx context.Context, e *model.PerformanceEvent) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO performance_events (id, fund_id, delta, total_shares, timestamp)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)`,
		e.ID, e.FundID, e.Delta.String(), e.TotalShares.String(), e.Timestamp)
	return mapPgErr(err)
}
