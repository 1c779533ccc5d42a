package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ledgerlens/invoice-service/api"
	"github.com/ledgerlens/invoice-service/internal/ai"
	"github.com/ledgerlens/invoice-service/internal/auth"
	"github.com/ledgerlens/invoice-service/internal/config"
	"github.com/ledgerlens/invoice-service/internal/db"
	"github.com/ledgerlens/invoice-service/internal/logging"
	"github.com/ledgerlens/invoice-service/internal/metrics"
	"github.com/ledgerlens/invoice-service/internal/models"
	"github.com/ledgerlens/invoice-service/internal/ocr"
	"github.com/ledgerlens/invoice-service/internal/services"
	"github.com/ledgerlens/invoice-service/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	log := logging.GetLogger()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		log.WithError(err).Warn("invalid log level, keeping info")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := openStore(ctx, log)
	defer store.Close()

	deps := api.Dependencies{Store: store}

	// Initialize MinIO storage
	var archive *storage.Archive
	if archiveCfg, ok := storage.ArchiveConfigFromEnv(); ok {
		archive, err = storage.NewArchive(ctx, archiveCfg)
		if err != nil {
			log.WithError(err).Warn("MinIO storage not available, originals will not be archived")
		} else {
			deps.Archive = archive
			log.WithField("bucket", archiveCfg.Bucket).Info("MinIO storage initialized")
		}
	}

	// AI provider, injected into the extractor
	provider, err := ai.NewProvider(ctx, cfg.AI)
	if err != nil {
		log.WithError(err).WithField("provider", cfg.AI.DefaultProvider).Error("AI provider not available, extraction will fail")
		provider = ai.Unavailable(cfg.AI.DefaultProvider, err)
	}
	defer provider.Close()

	extractor := ai.NewExtractor(
		provider,
		models.NewTaxonomy(cfg.Categories),
		ocr.NewPreprocessor(cfg.AI.MaxImageDimension),
		time.Duration(cfg.AI.TimeoutSeconds)*time.Second,
	)

	m := metrics.New()
	opts := []services.Option{
		services.WithMetrics(m),
		services.WithConcurrency(cfg.Ingest.Concurrency),
	}
	if archive != nil {
		opts = append(opts, services.WithArchive(archive))
	}

	uploads, err := storage.NewTempUploads(cfg.Upload.Dir)
	if err != nil {
		log.WithError(err).Fatal("failed to prepare upload directory")
	}

	deps.Ingestor = services.NewIngestor(extractor, store, opts...)
	deps.Uploads = uploads
	deps.Metrics = m
	deps.Provider = extractor.ProviderName()

	if cfg.Auth.JWTSecret != "" {
		deps.Auth = auth.NewAuthenticator(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
		log.Info("JWT authentication enabled for /api routes")
	}

	handler := api.NewHandler(cfg, deps)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	log.WithFields(logrus.Fields{
		"addr":     addr,
		"version":  api.Version,
		"provider": deps.Provider,
		"archive":  archive != nil,
		"auth":     deps.Auth != nil,
	}).Info("starting invoice service")

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("server failed")
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

// openStore connects to PostgreSQL when a database is configured and falls
// back to the in-memory store otherwise
func openStore(ctx context.Context, log *logrus.Logger) db.Store {
	databaseURL := db.DatabaseURLFromEnv()
	if databaseURL == "" {
		log.Warn("no database configured, using in-memory store")
		return db.NewMemoryStore()
	}

	pool, err := db.OpenPool(ctx, databaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	store := db.NewPostgresStoreFromPool(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		log.WithError(err).Fatal("failed to prepare database schema")
	}
	log.Info("database connection pool initialized")
	return store
}
