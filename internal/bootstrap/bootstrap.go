// Package bootstrap provides dependency initialization for the sales aggregator API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/sales-aggregator-api/internal/auth"
	"github.com/maauso/sales-aggregator-api/internal/config"
	"github.com/maauso/sales-aggregator-api/internal/job"
	"github.com/maauso/sales-aggregator-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	SalesService *job.Service
}

// NewDependencies creates and initializes all dependencies for the application.
// The caller must Close SalesService on shutdown.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize authenticator
	authn := auth.New(cfg.AuthEnabled, cfg.AuthSecretKey)
	if authn.Enabled() && authn.UsesDefaultSecret() {
		logger.Warn("authentication enabled with the default secret key, set AUTH_SECRET_KEY")
	}

	// Initialize job repository
	repo := job.NewMemoryRepository()

	opts := []job.Option{
		job.WithWorkers(cfg.MaxConcurrentJobs),
		job.WithQueueSize(cfg.JobQueueSize),
	}
	if cfg.S3Enabled() {
		opts = append(opts, job.WithPushToS3(cfg.S3Prefix))
	}

	svc := job.NewService(repo, authn, store, logger, opts...)

	return &Dependencies{
		SalesService: svc,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.OutputDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 publishing configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("output_dir", s3Store.Dir()),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("output_dir", localStore.Dir()),
	)
	return localStore, nil
}
