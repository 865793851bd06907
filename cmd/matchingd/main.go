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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/matchingd/internal/engine"
	"github.com/atmx/matchingd/internal/events"
	"github.com/atmx/matchingd/internal/intake"
	"github.com/atmx/matchingd/internal/metrics"
	"github.com/atmx/matchingd/internal/ratelimit"
	"github.com/atmx/matchingd/internal/store"
)

func main() {
	_ = godotenv.Load()

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
		st = store.NewPostgres(pool)
		slog.Info("connected to PostgreSQL")

		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCached(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemory()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Event sink ---
	sink := events.NewSink()

	// --- Matching engine ---
	eng := engine.New(st, sink, engine.DefaultQueueCapacity)

	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := eng.Recover(recoverCtx); err != nil {
		slog.Error("recovery failed", "err", err)
		recoverCancel()
		os.Exit(1)
	}
	recoverCancel()

	engineCtx, engineCancel := context.WithCancel(context.Background())
	go eng.Run(engineCtx)

	// --- Rate limiter: 20 order submissions per second per client ---
	limiter := ratelimit.New(20, time.Second)

	svc := intake.NewService(st, eng, sink, limiter)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", svc.HealthCheck)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", svc.PlaceOrder)
		r.Post("/orders/{id}/cancel", svc.CancelOrder)
		r.Get("/orders/{id}", svc.GetOrder)
		r.Get("/orderbook", svc.GetOrderBook)
		r.Get("/trades", svc.GetTrades)
		r.Get("/events/{stream}", svc.GetEventStream)
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
		slog.Info("matchingd listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down matchingd...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
	}

	// Cancelling the engine's context triggers its internal drain
	// (up to 5s) before Run returns.
	engineCancel()

	fmt.Println("matchingd stopped")
}
