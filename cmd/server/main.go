package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/poolvest/fund-engine/internal/fund"
	"github.com/poolvest/fund-engine/internal/metrics"
	"github.com/poolvest/fund-engine/internal/model"
	"github.com/poolvest/fund-engine/internal/money"
	"github.com/poolvest/fund-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Settings ---
	// The platform's cut of redemption profit is loaded once and passed
	// explicitly into the service; tests substitute their own value.
	settings := model.DefaultSettings()
	if raw := os.Getenv("USER_REDEEM_PROFIT_PERCENT"); raw != "" {
		pct, err := money.ParsePercent(raw)
		if err != nil {
			slog.Error("invalid USER_REDEEM_PROFIT_PERCENT", "err", err)
			os.Exit(1)
		}
		settings.UserRedeemProfitPercent = pct
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := fund.NewWSHub()
	go wsHub.Run()

	// --- Fund service ---
	fundSvc := fund.NewService(st, settings, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"fund-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time share-price updates.
		r.Get("/ws", wsHub.HandleWS)

		// Fund management.
		r.Get("/funds", fundSvc.ListFunds)
		r.Post("/funds", fundSvc.CreateFund)
		r.Get("/funds/{fundID}", fundSvc.GetFund)
		r.Post("/funds/{fundID}/events", fundSvc.PostEvent)

		// Request lifecycle.
		r.Post("/funds/{fundID}/subscribe", fundSvc.Subscribe)
		r.Post("/funds/{fundID}/redeem", fundSvc.Redeem)
		r.Post("/requests/{requestID}/activate", fundSvc.Activate)
		r.Post("/requests/{requestID}/cancel", fundSvc.Cancel)
		r.Patch("/requests/{requestID}", fundSvc.Decide)

		// Balances and reporting.
		r.Post("/balances", fundSvc.CreateBalance)
		r.Get("/users/{userID}/balances", fundSvc.ListBalances)
		r.Get("/users/{userID}/requests", fundSvc.ListRequests)
		r.Get("/users/{userID}/performance", fundSvc.Performance)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("fund-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down fund-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("fund-engine stopped")
}
