package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentinel/console/internal/config"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store owns the database handle shared by every repository. Once closed (or
// if it was never opened) every repository call fails with
// domain.ErrStoreUnavailable.
type Store struct {
	mu  sync.RWMutex
	db  *gorm.DB
	log *logger.Logger

	clockMu sync.RWMutex
	clock   func() time.Time
}

func newStore(log *logger.Logger) *Store {
	return &Store{log: log, clock: time.Now}
}

// Open connects using the configured driver and runs migrations.
func Open(cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	s := newStore(log)

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite", "":
		if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.Path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDriver, cfg.Driver)
	}

	if err := s.connect(dialector, cfg); err != nil {
		return nil, err
	}
	log.Infow("store_open_ok", "driver", cfg.Driver)
	return s, nil
}

// OpenMemory opens a private in-memory sqlite store.
func OpenMemory(log *logger.Logger) (*Store, error) {
	s := newStore(log)
	dsn := fmt.Sprintf("file:sentinel-%s?mode=memory&cache=shared", uuid.NewString())
	if err := s.connect(sqlite.Open(dsn), config.DatabaseConfig{Driver: "sqlite"}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) connect(dialector gorm.Dialector, cfg config.DatabaseConfig) error {
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: s.Now,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.Driver == "postgres" {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		// sqlite serialises writers; one connection also keeps an
		// in-memory database alive for the lifetime of the store.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	if err := RunMigrations(gdb); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s.mu.Lock()
	s.db = gdb
	s.mu.Unlock()
	return nil
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	if s == nil {
		return nil, domain.ErrStoreUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, domain.ErrStoreUnavailable
	}
	return s.db.WithContext(ctx), nil
}

// Ping reports whether the store is open and the database reachable.
func (s *Store) Ping(ctx context.Context) error {
	gdb, err := s.conn(ctx)
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection. Subsequent calls are no-ops.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	gdb := s.db
	s.db = nil
	s.mu.Unlock()
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	s.log.Infow("store_closed")
	return sqlDB.Close()
}

// Now is the store clock in UTC.
func (s *Store) Now() time.Time {
	s.clockMu.RLock()
	clock := s.clock
	s.clockMu.RUnlock()
	return clock().UTC()
}

// SetClock replaces the clock used for timestamps and age cut-offs.
func (s *Store) SetClock(clock func() time.Time) {
	s.clockMu.Lock()
	s.clock = clock
	s.clockMu.Unlock()
}
