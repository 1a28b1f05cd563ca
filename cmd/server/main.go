package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/cadian99/termpool/internal/backup"
	"github.com/cadian99/termpool/internal/metrics"
	"github.com/cadian99/termpool/internal/model"
	"github.com/cadian99/termpool/internal/pool"
	"github.com/cadian99/termpool/internal/rates"
	"github.com/cadian99/termpool/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pgpool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pgpool.Close)
		st = store.NewPostgresStore(pgpool)
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

	// --- Protocol parameters ---
	params := model.DefaultParameters()
	if v := os.Getenv("BACKUP_FEE_RATE"); v != "" {
		params.BackupFeeRate = mustDecimal("BACKUP_FEE_RATE", v)
	}
	if v := os.Getenv("PENALTY_RATE_PER_DAY"); v != "" {
		params.PenaltyRatePerDay = mustDecimal("PENALTY_RATE_PER_DAY", v)
	}
	if v := os.Getenv("MAX_FUTURE_POOLS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			slog.Error("invalid MAX_FUTURE_POOLS", "value", v)
			os.Exit(1)
		}
		params.MaxFuturePools = n
	}

	// --- Backup pool and treasury ---
	backupAssets := decimal.NewFromInt(1_000_000)
	if v := os.Getenv("BACKUP_ASSETS"); v != "" {
		backupAssets = mustDecimal("BACKUP_ASSETS", v)
	}
	floating := backup.NewFloatingPool(backupAssets)
	treasury := backup.NewLedger()

	// --- Settlement capability ---
	capability := pool.Capability(os.Getenv("SETTLEMENT_KEY"))
	if capability == "" {
		slog.Warn("SETTLEMENT_KEY not set, mutating routes accept any caller with an empty key")
	}

	// --- WebSocket hub ---
	wsHub := pool.NewWSHub()
	go wsHub.Run()

	// --- Settlement engine + HTTP service ---
	engine := pool.NewEngine(st, rates.DefaultModel(), floating, treasury, params, capability, wsHub)
	svc := pool.NewService(engine)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Settlement-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"termpool"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time settlement updates.
		r.Get("/ws", wsHub.HandleWS)

		svc.Routes(r)
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
		slog.Info("termpool listening", "port", port)
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

	slog.Info("shutting down termpool...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("termpool stopped")
}

func mustDecimal(name, v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		slog.Error("invalid "+name, "value", v)
		os.Exit(1)
	}
	return d
}
