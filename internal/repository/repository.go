package repository

import (
	"context"
	"fmt"
	"log/slog"

	"scholargate/internal/config"
	"scholargate/internal/errors"

	"gorm.io/gorm"
)

// repository implements the Repository interface
type repository struct {
	db          *Database
	graphRepo   GraphRepository
	idRepo      IdentifierRepository
	logger      *slog.Logger
}

// NewRepository creates the composition root over the Graph Tier and
// Identifier Index repositories, backed by one database connection.
func NewRepository(cfg *config.Config, logger *slog.Logger) (Repository, error) {
	db, err := NewDatabase(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	return &repository{
		db:        db,
		graphRepo: NewGraphRepository(db.DB, logger, cfg.Database.Type),
		idRepo:    NewIdentifierRepository(db.DB, logger),
		logger:    logger,
	}, nil
}

func (r *repository) Graph() GraphRepository             { return r.graphRepo }
func (r *repository) Identifiers() IdentifierRepository   { return r.idRepo }

// Transaction executes fn against repositories bound to one database
// transaction, so a paper merge and its identifier upserts commit or
// roll back together (C8 write-through).
func (r *repository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.Transaction(ctx, func(tx *gorm.DB) error {
		txRepo := &repository{
			db:        r.db,
			graphRepo: NewGraphRepository(tx, r.logger, r.db.config.Database.Type),
			idRepo:    NewIdentifierRepository(tx, r.logger),
			logger:    r.logger,
		}
		return fn(txRepo)
	})
}

func (r *repository) Ping(ctx context.Context) error { return r.db.Ping(ctx) }
func (r *repository) Close() error                   { return r.db.Close() }
func (r *repository) GetStats() (map[string]interface{}, error) {
	return r.db.GetStats()
}

// RepositoryManager offers maintenance operations layered over the base
// Repository: health checks and aggregate statistics for the /health
// surface.
type RepositoryManager struct {
	repo   Repository
	logger *slog.Logger
}

func NewRepositoryManager(repo Repository, logger *slog.Logger) *RepositoryManager {
	return &RepositoryManager{repo: repo, logger: logger}
}

// HealthCheck verifies the database connection is reachable. It does
// not probe the Cache Tier or Upstream Client - those degrade
// independently and are checked by their own health readers.
func (rm *RepositoryManager) HealthCheck(ctx context.Context) error {
	if err := rm.repo.Ping(ctx); err != nil {
		return errors.NewStorageErr("database_ping", err)
	}
	rm.logger.Info("repository health check passed")
	return nil
}

// GetDetailedStats returns database connection-pool stats under the
// "database" key; it does not include a Graph Tier population summary.
func (rm *RepositoryManager) GetDetailedStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	dbStats, err := rm.repo.GetStats()
	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}
	stats["database"] = dbStats

	return stats, nil
}
