// Command upisim runs the simulated payment service: the create-order,
// status, activation, subscription and billing endpoints backed by
// Postgres (or an in-memory store), with timer-driven settlement standing
// in for the wallet.
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
	"github.com/kelseyhightower/envconfig"

	"adspark/internal/common/database"
	"adspark/internal/common/events"
	"adspark/internal/common/middleware"
	"adspark/internal/common/nats"
	"adspark/internal/sim"
	"adspark/internal/sim/api"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"SIM_PORT" default:"8090"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// APIToken is the single bearer token the simulator accepts.
	APIToken string `envconfig:"SIM_API_TOKEN" default:"dev-token"`
	// UserID is the user every authenticated request is attributed to.
	UserID string `envconfig:"SIM_USER_ID" default:"user_dev"`

	// EventsEnabled turns on NATS event publishing.
	EventsEnabled bool `envconfig:"SIM_EVENTS_ENABLED" default:"false"`

	// Store selects the persistence backend: postgres or memory.
	Store string `envconfig:"SIM_STORE" default:"postgres"`

	Database database.Config
	NATS     nats.Config
	Sim      sim.Config
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	var store sim.Store
	var db *database.DB
	if cfg.Store == "memory" {
		store = sim.NewMemoryStore()
		logger.Info("using in-memory store; state is lost on restart")
	} else {
		var err error
		db, err = database.New(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(sim.Migrations, sim.MigrationsDir); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		store = sim.NewPostgresStore(db.Pool())
	}

	var publisher events.EventPublisher
	if cfg.EventsEnabled {
		nc, err := nats.New(ctx, cfg.NATS, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		if _, err := nc.EnsureStream(ctx, "PAYMENTS", []string{"events.payment.>", "events.subscription.>"}); err != nil {
			logger.Error("failed to ensure event stream", "error", err)
			os.Exit(1)
		}
		publisher = nats.NewPublisher(nc, logger)
	}

	service := sim.NewService(cfg.Sim, store, publisher, logger)
	handler := api.NewHandler(service)

	tokenValidator := func(_ context.Context, token string) (string, error) {
		if token != cfg.APIToken {
			return "", fmt.Errorf("unknown token")
		}
		return cfg.UserID, nil
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.HealthCheck(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.BearerAuth(tokenValidator))
		r.Use(middleware.Idempotency(api.NewMemoryIdempotencyStore(), 24*time.Hour))
		r.Mount("/", handler.Routes())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting payment simulator",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"settle_after", cfg.Sim.SettleAfter,
			"settle_outcome", cfg.Sim.SettleOutcome,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
