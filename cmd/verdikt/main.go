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
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	vdkhttp "github.com/verdikt-labs/verdikt/internal/adapter/http"
	"github.com/verdikt-labs/verdikt/internal/adapter/identity"
	vdknats "github.com/verdikt-labs/verdikt/internal/adapter/nats"
	"github.com/verdikt-labs/verdikt/internal/adapter/otel"
	"github.com/verdikt-labs/verdikt/internal/adapter/postgres"
	"github.com/verdikt-labs/verdikt/internal/adapter/ristretto"
	"github.com/verdikt-labs/verdikt/internal/adapter/ws"
	"github.com/verdikt-labs/verdikt/internal/config"
	"github.com/verdikt-labs/verdikt/internal/domain/params"
	"github.com/verdikt-labs/verdikt/internal/logger"
	"github.com/verdikt-labs/verdikt/internal/middleware"
	identityport "github.com/verdikt-labs/verdikt/internal/port/identity"
	"github.com/verdikt-labs/verdikt/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"domain_id", cfg.Protocol.DomainID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	shutdownOtel, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := vdknats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	kv, err := queue.KV(ctx, cfg.Idempotency.Bucket)
	if err != nil {
		return fmt.Errorf("idempotency bucket: %w", err)
	}

	cch, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cch.Close()

	// --- Services ---
	store := postgres.NewStore(pool)
	if err := store.EnsureParams(ctx, params.Defaults(cfg.Protocol.Owner)); err != nil {
		return fmt.Errorf("seed params: %w", err)
	}

	var resolver identityport.Resolver
	if cfg.Identity.URL != "" {
		resolver = identity.NewClient(cfg.Identity.URL, cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		slog.Info("identity registry configured", "url", cfg.Identity.URL)
	}

	jurySvc := service.NewJuryService(store, queue, resolver)
	escrowSvc := service.NewEscrowService(store, store, queue, cch, jurySvc, cfg.Protocol.DomainID)
	validationSvc := service.NewValidationService(store, queue, jurySvc, cfg.Protocol.DomainID)
	paramsSvc := service.NewParamsService(store)
	tokenSvc := service.NewTokenService(store, store, cfg.Protocol.DomainID)

	// --- Event fan-out ---
	hub := ws.NewHub()
	for _, subject := range []string{"escrow.>", "jury.>", "validation.>"} {
		cancelHub, err := queue.Subscribe(ctx, subject, hub.HandleQueueMessage)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		defer cancelHub()
		cancelMetrics, err := queue.Subscribe(ctx, subject, metrics.HandleQueueMessage)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		defer cancelMetrics()
	}

	// --- HTTP ---
	handlers := vdkhttp.NewHandlers(escrowSvc, jurySvc, validationSvc, paramsSvc, tokenSvc, hub, queue)

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(vdkhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(vdkhttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(vdkhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(limiter.Handler)
	r.Use(middleware.Idempotency(kv))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	vdkhttp.MountRoutes(r, handlers)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	// Deadline sweeper: settles overdue consensus tasks that never reached
	// quorum.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Protocol.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := jurySvc.SweepOverdue(gctx, cfg.Protocol.SweepBatch)
				if err != nil {
					slog.Error("sweep failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("swept overdue consensus tasks", "settled", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
