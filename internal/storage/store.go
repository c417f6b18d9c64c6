package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bivalvia-project/bivalvia/internal/model/entities"
	"github.com/bivalvia-project/bivalvia/pkg/config"
)

// ErrSectorNotFound indicates a reading referenced a sector this store does
// not contain. Hard failure: nothing is persisted for that reading.
var ErrSectorNotFound = errors.New("sector not found")

// Store wraps the relational store used identically by the local node and
// the cloud twin (different databases, same schema).
type Store struct {
	db *gorm.DB
}

// Open connects using the configured driver and migrates the schema.
func Open(cfg *config.Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an already-open gorm handle (tests use this with sqlite in memory).
func New(db *gorm.DB) *Store { return &Store{db: db} }

// Migrate creates or updates every table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(entities.AllModels()...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Ping verifies the underlying connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
