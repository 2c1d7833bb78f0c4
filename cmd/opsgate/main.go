// Package main is the entry point for the opsgate service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/opsgate/opsgate/api"
	"github.com/opsgate/opsgate/internal/audit"
	"github.com/opsgate/opsgate/internal/capability"
	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/consent"
	"github.com/opsgate/opsgate/internal/diag"
	"github.com/opsgate/opsgate/internal/dispatch"
	"github.com/opsgate/opsgate/internal/events"
	"github.com/opsgate/opsgate/internal/provider"
	"github.com/opsgate/opsgate/internal/server"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "opsgate").Str("version", version).Logger()

	logger := log.With().Str("component", "main").Logger()
	logger.Info().Str("mode", cfg.Mode).Msg("starting opsgate")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := capability.NewRegistry()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build capability registry")
	}
	if err := registry.ApplyMetadata(api.CapabilitiesMetadata); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply capability metadata")
	}

	client, err := provider.New(provider.Config{
		BaseURL: cfg.ProviderURL,
		Token:   cfg.ProviderToken,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create provider client")
	}
	availability := provider.CheckAvailability(ctx, client, log.Logger)
	if disabled := availability.Disabled(); len(disabled) > 0 {
		logger.Warn().Strs("domains", disabled).Msg("some provider components are unavailable")
	}

	durable, dbReady := openDurableStore(ctx, cfg, logger)
	store := consent.NewTieredStore(durable, consent.StoreOptions{
		DurableTimeout: cfg.DurableTimeout,
		CacheTTL:       cfg.ConsentCacheTTL,
		Logger:         log.Logger,
	})
	gateway := consent.NewGateway(registry, store)

	var publisher consent.Publisher
	var natsPublisher *events.NATSPublisher
	if cfg.NATSURL != "" {
		natsPublisher, err = events.Connect(cfg.NATSURL, log.Logger)
		if err != nil {
			logger.Warn().Err(err).Msg("NATS connection failed; consent events disabled")
		} else {
			publisher = natsPublisher
			defer natsPublisher.Close()
		}
	}
	consentService := consent.NewService(registry, store, publisher, log.Logger)

	modeGuard, err := dispatch.NewGuard(cfg.Mode, cfg.EnableWrite)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid mode configuration")
	}
	logger.Info().Str("mode", modeGuard.Mode()).Bool("write_enabled", cfg.EnableWrite).Msg("execution policy initialized")

	table := dispatch.Merge(provider.Routes(client), dispatch.ConsentRoutes(consentService))
	pipeline, err := dispatch.NewPipeline(dispatch.PipelineOptions{
		Registry:     registry,
		Gateway:      gateway,
		Table:        table,
		Guard:        modeGuard,
		Availability: availability,
		Audit:        audit.NewLogger(log.Logger),
		Logger:       log.Logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatch table does not match capability registry")
	}

	engine := diag.NewEngine(registry, client, diag.EngineOptions{
		ProbeTimeout: cfg.ProbeTimeout,
		Concurrency:  cfg.ProbeConcurrency,
		Logger:       log.Logger,
	})

	if cfg.SessionToken == "" {
		logger.Warn().Msg("OPSGATE_SESSION_TOKEN is not set; all inbound calls will be rejected")
	}
	authn := server.NewTokenSessionAuthenticator(cfg.SessionToken)

	httpServer := server.NewHTTPServer(cfg, version, commit, buildDate, registry, pipeline, engine, authn, dbReady, log.Logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if serveErr := srv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case serveErr := <-errCh:
		logger.Error().Err(serveErr).Msg("HTTP server error")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error().Err(shutdownErr).Msg("HTTP server shutdown error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped gracefully")
}

// openDurableStore connects the durable consent tier. Without a DSN the
// gateway runs on the in-memory fallback: grants survive the process only,
// which matches the degraded-ack contract.
func openDurableStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (consent.DurableStore, func() error) {
	if cfg.DatabaseDSN == "" {
		logger.Warn().Msg("OPSGATE_DATABASE_DSN is not set; consent grants are held in memory only")
		return consent.NewMemoryDurable(), nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open consent database")
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := consent.NewPostgresStore(db)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DurableTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		// The tiered store tolerates a down durable tier; startup proceeds.
		logger.Warn().Err(err).Msg("consent database unreachable at startup")
	} else if err := store.EnsureSchema(pingCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure consent schema")
	}

	ready := func() error {
		readyCtx, cancel := context.WithTimeout(context.Background(), cfg.DurableTimeout)
		defer cancel()
		return store.Ping(readyCtx)
	}
	return store, ready
}
