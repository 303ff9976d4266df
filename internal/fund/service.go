// Package fund provides the HTTP handlers and business logic for the fund
// request lifecycle: subscribing capital, redeeming positions, user
// cancellation, admin approval/decline, and performance reporting.
//
// Every mutation runs as one store transaction: the request status write
// and the ledger movement it implies commit together or not at all. The
// request row (and any balance it touches) is read under an exclusive row
// lock first, so a user's cancel and an admin's approve can never both win.
//
// All monetary values use shopspring/decimal — never float64 for money.
package fund

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/poolvest/fund-engine/internal/ledger"
	"github.com/poolvest/fund-engine/internal/metrics"
	"github.com/poolvest/fund-engine/internal/model"
	"github.com/poolvest/fund-engine/internal/money"
	"github.com/poolvest/fund-engine/internal/policy"
	"github.com/poolvest/fund-engine/internal/profit"
	"github.com/poolvest/fund-engine/internal/request"
	"github.com/poolvest/fund-engine/internal/store"
)

// Service handles fund operations against the store. It holds no mutable
// state of its own; concurrency control lives in the store's transactions
// and row locks.
type Service struct {
	store    store.Store
	settings model.Settings
	wsHub    *WSHub // optional hub for share-price broadcasts
}

// NewService creates a new fund service. Pass nil for hub if price
// broadcasting is not needed.
func NewService(st store.Store, settings model.Settings, hub *WSHub) *Service {
	return &Service{
		store:    st,
		settings: settings,
		wsHub:    hub,
	}
}

// --- Request/Response types ---

// CreateFundRequest is the JSON body for fund creation.
type CreateFundRequest struct {
	Name               string          `json:"name"`
	Currency           string          `json:"currency"`
	SharePrice         decimal.Decimal `json:"share_price"`
	RiskLevel          string          `json:"risk_level"`
	RedemptionWaitDays int             `json:"redemption_wait_days"`
	BalanceStrategy    string          `json:"balance_strategy"`
	AnnualPercentRate  decimal.Decimal `json:"annual_percent_rate"`
	ManagerID          string          `json:"manager_id"`
}

// CreateBalanceRequest is the JSON body for seeding a user balance.
// Amount arrives as a decimal string per the boundary contract.
type CreateBalanceRequest struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// SubscribeRequest is the JSON body for POST /funds/{fundID}/subscribe.
// The two-factor and email-confirmation booleans arrive pre-checked from
// the auth layer; this engine only honors them.
type SubscribeRequest struct {
	UserID                    string          `json:"user_id"`
	Amount                    decimal.Decimal `json:"amount"`
	TwoFactorRequired         bool            `json:"two_factor_required"`
	TwoFactorVerified         bool            `json:"two_factor_verified"`
	EmailConfirmationRequired bool            `json:"email_confirmation_required"`
}

// RedeemRequest is the JSON body for POST /funds/{fundID}/redeem.
// Amount is a share quantity; Percent is a fraction of holdings in (0, 1].
// At least one must be present.
type RedeemRequest struct {
	UserID  string          `json:"user_id"`
	Amount  decimal.Decimal `json:"amount"`
	Percent decimal.Decimal `json:"percent"`
}

// ActivateRequest is the JSON body for email-verified activation.
type ActivateRequest struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// CancelRequest is the JSON body for user cancellation.
type CancelRequest struct {
	UserID string `json:"user_id"`
}

// DecideRequest is the JSON body for the admin PATCH: the target status,
// one of "approved" or "declined".
type DecideRequest struct {
	Status string `json:"status"`
}

// PostEventRequest is the JSON body for posting a performance event.
type PostEventRequest struct {
	Delta decimal.Decimal `json:"delta"`
}

// --- Fund handlers ---

// CreateFund handles POST /api/v1/funds
func (s *Service) CreateFund(w http.ResponseWriter, r *http.Request) {
	var req CreateFundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrInvalidArgument)
		return
	}
	if req.Currency == "" || req.SharePrice.LessThanOrEqual(decimal.Zero) {
		writeError(w, ErrInvalidArgument)
		return
	}

	fund := &model.Fund{
		ID:                 uuid.New().String(),
		Name:               req.Name,
		Currency:           req.Currency,
		SharePrice:         req.SharePrice,
		PooledCapital:      decimal.Zero,
		TotalShares:        decimal.Zero,
		RiskLevel:          req.RiskLevel,
		RedemptionWaitDays: req.RedemptionWaitDays,
		BalanceStrategy:    req.BalanceStrategy,
		AnnualPercentRate:  req.AnnualPercentRate,
		ManagerID:          req.ManagerID,
		CreatedAt:          time.Now().UTC(),
	}

	if err := s.store.CreateFund(r.Context(), fund); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("fund created",
		"id", fund.ID,
		"currency", fund.Currency,
		"share_price", fund.SharePrice.String(),
	)

	writeJSON(w, http.StatusCreated, fund)
}

// GetFund handles GET /api/v1/funds/{fundID}
func (s *Service) GetFund(w http.ResponseWriter, r *http.Request) {
	fund, err := s.store.GetFund(r.Context(), chi.URLParam(r, "fundID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fund)
}

// ListFunds handles GET /api/v1/funds
func (s *Service) ListFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := s.store.ListFunds(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if funds == nil {
		funds = []model.Fund{}
	}
	writeJSON(w, http.StatusOK, funds)
}

// --- Balance handlers ---

// CreateBalance handles POST /api/v1/balances
func (s *Service) CreateBalance(w http.ResponseWriter, r *http.Request) {
	var req CreateBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrInvalidArgument)
		return
	}
	if req.UserID == "" || req.Currency == "" {
		writeError(w, ErrInvalidArgument)
		return
	}
	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	balance := &model.Balance{
		UserID:    req.UserID,
		Currency:  req.Currency,
		Amount:    amount,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateBalance(r.Context(), balance); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, balance)
}

// ListBalances handles GET /api/v1/users/{userID}/balances
func (s *Service) ListBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.store.ListBalancesByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if balances == nil {
		balances = []model.Balance{}
	}
	writeJSON(w, http.StatusOK, balances)
}

// --- Request lifecycle handlers ---

// Subscribe handles POST /api/v1/funds/{fundID}/subscribe
//
// Debits the subscription amount from the user's balance and inserts the
// pending request in one transaction: no orphaned debit, no orphaned
// request.
func (s *Service) Subscribe(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrInvalidArgument)
		return
	}
	if req.UserID == "" || req.Amount.LessThanOrEqual(decimal.Zero) {
		writeError(w, ErrInvalidArgument)
		return
	}
	if req.TwoFactorRequired && !req.TwoFactorVerified {
		writeError(w, ErrUnauthorized)
		return
	}

	ctx := r.Context()

	fund, err := s.store.GetFund(ctx, fundID)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.store.GetBalance(ctx, req.UserID, fund.Currency); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	created := &model.Request{
		ID:        uuid.New().String(),
		FundID:    fundID,
		UserID:    req.UserID,
		Kind:      model.KindSubscription,
		Status:    model.StatusPending,
		Amount:    req.Amount,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.EmailConfirmationRequired {
		created.Status = model.StatusPendingEmailVerification
		created.AuthToken = uuid.New().String()
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := ledger.Debit(ctx, tx, req.UserID, fund.Currency, req.Amount); err != nil {
			return err
		}
		return tx.InsertRequest(ctx, created)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.RequestsCreated.WithLabelValues(model.KindSubscription).Inc()
	slog.Info("subscription created",
		"request_id", created.ID,
		"fund_id", fundID,
		"user", req.UserID,
		"amount", req.Amount.String(),
		"status", created.Status,
	)

	writeJSON(w, http.StatusCreated, created)
}

// Redeem handles POST /api/v1/funds/{fundID}/redeem
//
// No balance is touched at creation time — redemption settles on approval.
func (s *Service) Redeem(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrInvalidArgument)
		return
	}
	if req.UserID == "" {
		writeError(w, ErrInvalidArgument)
		return
	}
	// At least one of amount (shares) or percent of holdings is required.
	hasAmount := req.Amount.IsPositive()
	hasPercent := req.Percent.IsPositive()
	if !hasAmount && !hasPercent {
		writeError(w, ErrInvalidArgument)
		return
	}
	if hasPercent && req.Percent.GreaterThan(decimal.NewFromInt(1)) {
		writeError(w, ErrInvalidArgument)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetFund(ctx, fundID); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	created := &model.Request{
		ID:        uuid.New().String(),
		FundID:    fundID,
		UserID:    req.UserID,
		Kind:      model.KindRedemption,
		Status:    model.StatusPending,
		Amount:    req.Amount,
		Percent:   req.Percent,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertRequest(ctx, created)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.RequestsCreated.WithLabelValues(model.KindRedemption).Inc()
	slog.Info("redemption created",
		"request_id", created.ID,
		"fund_id", fundID,
		"user", req.UserID,
		"shares", req.Amount.String(),
		"percent", req.Percent.String(),
	)

	writeJSON(w, http.StatusCreated, created)
}

// Activate handles POST /api/v1/requests/{requestID}/activate
//
// Moves a request out of pending_email_verification when the owning user
// presents its matching token; any mismatch reads as a missing request.
func (s *Service) Activate(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrInvalidArgument)
		return
	}

	ctx := r.Context()
	var activated *model.Request

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		fr, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := request.Activate(fr, req.UserID, req.Token); err != nil {
			return err
		}
		fr.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateRequest(ctx, fr); err != nil {
			return err
		}
		activated = fr
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("request activated", "request_id", requestID, "user", req.UserID)
	writeJSON(w, http.StatusOK, activated)
}

// Cancel handles POST /api/v1/requests/{requestID}/cancel
//
// The request row is locked before the cancelable check so a concurrent
// admin approval cannot race the cancellation: exactly one wins, the other
// observes the terminal state.
func (s *Service) Cancel(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrInvalidArgument)
		return
	}

	ctx := r.Context()
	var canceled *model.Request

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		fr, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if fr.UserID != req.UserID {
			return store.ErrNotFound
		}

		refund, err := request.Cancel(fr)
		if err != nil {
			return err
		}
		if refund {
			fund, err := tx.GetFund(ctx, fr.FundID)
			if err != nil {
				return err
			}
			if err := ledger.Credit(ctx, tx, fr.UserID, fund.Currency, fr.Amount); err != nil {
				return err
			}
		}

		fr.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateRequest(ctx, fr); err != nil {
			return err
		}
		canceled = fr
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.RequestsCanceled.WithLabelValues(boolLabel(canceled.Refunded)).Inc()
	slog.Info("request canceled",
		"request_id", requestID,
		"user", req.UserID,
		"refunded", canceled.Refunded,
	)

	writeJSON(w, http.StatusOK, canceled)
}

// Decide handles PATCH /api/v1/requests/{requestID}
//
// The four (kind × decision) settlements each run as a single transaction
// spanning the status write and its ledger movement; partial application
// is never observable.
func (s *Service) Decide(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrInvalidArgument)
		return
	}
	decision, err := request.ParseDecision(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()

	// Pre-read outside the transaction: the approved-request history the
	// wait-time policy needs is append-only for this (fund, user) while
	// the request row itself stays locked below.
	pending, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	var approved []model.Request
	if pending.Kind == model.KindRedemption && decision == request.Approve {
		approved, err = s.store.ListApprovedRequests(ctx, pending.FundID, pending.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	var decided *model.Request

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		fr, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		fund, err := tx.GetFund(ctx, fr.FundID)
		if err != nil {
			return err
		}
		if err := request.Decide(fr, decision); err != nil {
			return err
		}

		switch {
		case fr.Kind == model.KindSubscription && decision == request.Approve:
			shares, err := ledger.IssueShares(ctx, tx, fr.FundID, fr.UserID, fr.Amount)
			if err != nil {
				return err
			}
			fr.Shares = shares

		case fr.Kind == model.KindSubscription && decision == request.Decline:
			// Return the debited amount; net effect on the balance is zero.
			if err := ledger.Credit(ctx, tx, fr.UserID, fund.Currency, fr.Amount); err != nil {
				return err
			}
			fr.Refunded = true

		case fr.Kind == model.KindRedemption && decision == request.Approve:
			shares, err := redemptionShares(ctx, tx, fund, fr, approved)
			if err != nil {
				return err
			}
			fiat, err := ledger.RedeemShares(ctx, tx, fr.FundID, fr.UserID, shares)
			if err != nil {
				return err
			}
			if err := ledger.Credit(ctx, tx, fr.UserID, fund.Currency, fiat); err != nil {
				return err
			}
			fr.Shares = shares

		case fr.Kind == model.KindRedemption && decision == request.Decline:
			// Nothing was reserved at creation; no balance movement.
		}

		fr.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateRequest(ctx, fr); err != nil {
			return err
		}
		decided = fr
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.RequestsDecided.WithLabelValues(decided.Kind, string(decision)).Inc()
	slog.Info("request decided",
		"request_id", requestID,
		"kind", decided.Kind,
		"decision", string(decision),
		"shares", decided.Shares.String(),
	)

	writeJSON(w, http.StatusOK, decided)
}

// redemptionShares resolves the share quantity a redemption liquidates:
// percent of current holdings when a percent was given, else the literal
// amount, which denotes shares. Enforces the fund's wait-time policy.
// The fund was already read under the caller's transaction.
func redemptionShares(ctx context.Context, tx store.Tx, fund *model.Fund, fr *model.Request, approved []model.Request) (decimal.Decimal, error) {
	if err := policy.CheckRedemption(fund, approved, time.Now().UTC()); err != nil {
		return decimal.Zero, err
	}

	if fr.Percent.IsPositive() {
		held := decimal.Zero
		if share, err := tx.GetShare(ctx, fr.FundID, fr.UserID); err == nil {
			held = share.Amount
		} else if !errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, err
		}
		return held.Mul(fr.Percent), nil
	}
	return fr.Amount, nil
}

// --- Performance reporting ---

// Performance handles GET /api/v1/users/{userID}/performance
//
// Read-only and lock-free: it reads a snapshot and may lag an in-flight
// approval, which is acceptable on a reporting path. Reports are ordered
// by descending profit amount.
func (s *Service) Performance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	shares, err := s.store.ListSharesByUser(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	reports := make([]profit.Report, 0, len(shares))
	for _, share := range shares {
		// A zero-amount share record means no position; a fully redeemed
		// fund must not poison the report for funds still held.
		if share.Amount.IsZero() {
			continue
		}
		fund, err := s.store.GetFund(ctx, share.FundID)
		if err != nil {
			writeError(w, err)
			return
		}
		events, err := s.store.ListPerformanceEvents(ctx, share.FundID)
		if err != nil {
			writeError(w, err)
			return
		}
		approved, err := s.store.ListApprovedRequests(ctx, share.FundID, userID)
		if err != nil {
			writeError(w, err)
			return
		}

		profitAmount := profit.Accrue(events, approved)
		report, err := profit.Split(fund, share.Amount, profitAmount, s.settings)
		if err != nil {
			writeError(w, err)
			return
		}
		reports = append(reports, report)
	}

	profit.SortByProfit(reports)
	writeJSON(w, http.StatusOK, reports)
}

// --- Performance event posting ---

// PostEvent handles POST /api/v1/funds/{fundID}/events
//
// Appends an immutable performance event carrying a total-shares snapshot
// and moves the share price by delta/totalShares, then broadcasts the new
// price to WebSocket subscribers.
func (s *Service) PostEvent(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")

	var req PostEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrInvalidArgument)
		return
	}
	if req.Delta.IsZero() {
		writeError(w, ErrInvalidArgument)
		return
	}

	ctx := r.Context()
	var event *model.PerformanceEvent
	var newPrice decimal.Decimal

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		fund, err := tx.GetFund(ctx, fundID)
		if err != nil {
			return err
		}

		newPrice = fund.SharePrice
		if fund.TotalShares.IsPositive() {
			newPrice = fund.SharePrice.Add(req.Delta.Div(fund.TotalShares)).Round(money.Scale)
		}

		event = &model.PerformanceEvent{
			ID:          uuid.New().String(),
			FundID:      fundID,
			Delta:       req.Delta,
			TotalShares: fund.TotalShares,
			Timestamp:   time.Now().UTC(),
		}
		if err := tx.InsertPerformanceEvent(ctx, event); err != nil {
			return err
		}
		return tx.SetFundState(ctx, fundID, fund.PooledCapital, fund.TotalShares, newPrice)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.PerformanceEvents.WithLabelValues(fundID).Inc()
	slog.Info("performance event posted",
		"fund_id", fundID,
		"delta", req.Delta.String(),
		"share_price", newPrice.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "share_price_updated",
			FundID:     fundID,
			SharePrice: newPrice.String(),
			Delta:      req.Delta.String(),
		})
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListRequests handles GET /api/v1/users/{userID}/requests
func (s *Service) ListRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.store.ListRequestsByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if requests == nil {
		requests = []model.Request{}
	}
	writeJSON(w, http.StatusOK, requests)
}

// writeJSON writes a success payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
