// Package main is the entrypoint for the central licensing server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codesense-io/central/internal/api"
	"github.com/codesense-io/central/internal/attest"
	"github.com/codesense-io/central/internal/config"
	"github.com/codesense-io/central/internal/db"
	"github.com/codesense-io/central/internal/keystore"
	"github.com/codesense-io/central/internal/token"
	"github.com/rs/zerolog"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting central server")

	cfg := config.LoadServerConfig()

	if cfg.KeysDir == "" {
		logger.Fatal().Msg("CENTRAL_KEYS_DIR environment variable is required")
		return 1
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL environment variable is required")
		return 1
	}

	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	// Root key material is loaded once and cached for the process
	// lifetime. Refusing to start without it beats failing on the
	// first provisioning request.
	keys := keystore.New(cfg.KeysDir)
	if _, _, err := keys.Load(); err != nil {
		logger.Fatal().Err(err).
			Str("keys_dir", cfg.KeysDir).
			Msg("Failed to load root keypair (run central-keygen first)")
		return 1
	}

	tokens := token.NewService(keys)
	engine := attest.NewEngine(database, database, tokens, keys, logger)

	router := api.NewRouter(cfg, database, engine, keys, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}
