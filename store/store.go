package store

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"data-marketplace/apperr"
	"data-marketplace/config"
	"data-marketplace/logger"
	"data-marketplace/metrics"
	"data-marketplace/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DefaultMaxAttempts = 3
	minBackoff         = 50 * time.Millisecond
	maxBackoff         = 150 * time.Millisecond
)

// Store owns the connection pool. It is created by main and passed to every
// service; nothing in the module keeps a package-level handle.
type Store struct {
	DB           *gorm.DB
	QueryTimeout time.Duration
	MaxAttempts  int
}

func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return New(db, cfg.QueryTimeout), nil
}

// New wraps an already opened handle. Tests use it with SQLite.
func New(db *gorm.DB, queryTimeout time.Duration) *Store {
	return &Store{DB: db, QueryTimeout: queryTimeout, MaxAttempts: DefaultMaxAttempts}
}

func (s *Store) Migrate() error {
	if err := s.DB.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping is used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return Classify(sqlDB.PingContext(ctx))
}

// WithRetry runs fn up to MaxAttempts times. Each attempt gets its own
// QueryTimeout deadline. Only errors classified as transient are retried;
// anything else is returned after the first attempt.
func (s *Store) WithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := s.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = Classify(s.attempt(ctx, fn))
		if err == nil {
			return nil
		}
		if !apperr.IsRetryable(err) || attempt == attempts {
			break
		}

		metrics.StoreRetriesTotal.WithLabelValues(op).Inc()
		logger.WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt,
		}).Warnf("transient store error, retrying: %v", err)

		if waitErr := sleep(ctx, backoff()); waitErr != nil {
			err = Classify(waitErr)
			break
		}
	}

	metrics.StoreFailuresTotal.WithLabelValues(op, apperr.KindOf(err).String()).Inc()
	return err
}

// Transaction is WithRetry around a single database transaction. The whole
// transaction is replayed on a transient failure, so fn must not have side
// effects outside tx.
func (s *Store) Transaction(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	return s.WithRetry(ctx, op, func(ctx context.Context) error {
		return s.DB.WithContext(ctx).Transaction(fn)
	})
}

func (s *Store) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.QueryTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, s.QueryTimeout)
	defer cancel()
	return fn(attemptCtx)
}

func backoff() time.Duration {
	return minBackoff + time.Duration(rand.Int63n(int64(maxBackoff-minBackoff)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
