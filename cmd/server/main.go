package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/drawbet/settlement-engine/internal/events"
	"github.com/drawbet/settlement-engine/internal/exposure"
	"github.com/drawbet/settlement-engine/internal/metrics"
	"github.com/drawbet/settlement-engine/internal/odds"
	"github.com/drawbet/settlement-engine/internal/risk"
	"github.com/drawbet/settlement-engine/internal/settlement"
	"github.com/drawbet/settlement-engine/internal/store"
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

	// --- Kafka event publisher ---
	var publisher *events.Publisher
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		publisher = events.NewPublisher(strings.Split(brokers, ","))
		cleanup = append(cleanup, func() { publisher.Close() })
		slog.Info("Kafka event publishing enabled", "brokers", brokers)
	}

	// --- Stake limits ---
	limiter := &risk.ExposureLimiter{
		MaxPerBettor:   envInt64("MAX_OPEN_STAKE_PER_BETTOR", 100_000),
		MaxPerOperator: envInt64("MAX_OPEN_STAKE_PER_OPERATOR", 10_000_000),
	}

	// --- WebSocket hub ---
	wsHub := settlement.NewWSHub()
	go wsHub.Run()

	// --- Services ---
	resolver := odds.NewResolver(st)
	svc := settlement.NewService(st, resolver, limiter, wsHub, publisher)
	agg := exposure.NewAggregator(st, resolver)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for back-office cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for live settlement updates.
		r.Get("/ws", wsHub.HandleWS)

		// Principal hierarchy.
		r.Post("/principals", svc.CreatePrincipal)
		r.Get("/principals/{principalID}/ledger", svc.GetLedger)

		// Market lifecycle.
		r.Post("/markets", svc.CreateMarket)
		r.Get("/markets/{marketID}", svc.GetMarket)
		r.Post("/markets/{marketID}/open", svc.OpenMarket)
		r.Post("/markets/{marketID}/close", svc.CloseMarket)
		r.Post("/markets/{marketID}/settle", svc.Settle)

		// Wagering and fund movements.
		r.Post("/wagers", svc.PlaceWagerHandler)
		r.Post("/transfers", svc.TransferHandler)

		// Odds and rate configuration.
		r.Get("/odds/{bettorID}/{mechanic}", svc.ResolveOdds)
		r.Post("/odds-rules", svc.PutOddsRule)
		r.Post("/commission-rules", svc.PutCommissionRule)
		r.Post("/discount-rules", svc.PutDiscountRule)

		// Liability reporting.
		r.Get("/exposure", agg.Handler)
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
		slog.Info("settlement-engine listening", "port", port)
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

	slog.Info("shutting down settlement-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("settlement-engine stopped")
}

// envInt64 reads an integer environment variable, falling back to def
// when unset or malformed.
func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("invalid integer in environment", "key", key, "value", v)
		return def
	}
	return n
}
