// Package retry runs operations under an exponential-backoff policy,
// classifying which failures are worth another attempt.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LeonAdeoye/query-service/internal/config"
	"github.com/LeonAdeoye/query-service/internal/errcode"
)

// mysqlTransient lists server error numbers that indicate pressure or lock
// contention rather than a broken statement.
var mysqlTransient = map[uint16]bool{
	1040: true, // too many connections
	1053: true, // server shutdown in progress
	1205: true, // lock wait timeout
	1213: true, // deadlock
	2002: true, // can't connect
	2003: true, // can't connect
	2006: true, // server has gone away
	2013: true, // lost connection during query
}

// IsRetryable reports whether err represents a transient failure. Validation
// errors, missing datasources, and plain SQL errors never retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch errcode.CodeOf(err) {
	case errcode.DatabaseConnectionFailure, errcode.QueryExecutionTimeout, errcode.ConnectionPoolExhausted:
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions, class 40 transaction rollbacks
		// (serialization failures, deadlocks).
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "40")
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return mysqlTransient[myErr.Number]
	}
	return false
}

// Service retries operations with exponential backoff between attempts.
type Service struct {
	logger          *slog.Logger
	enabled         bool
	maxAttempts     int
	initialInterval time.Duration
	multiplier      float64
	maxInterval     time.Duration
}

func NewService(cfg config.RetryConfig, logger *slog.Logger) *Service {
	return &Service{
		logger:          logger,
		enabled:         cfg.Enabled,
		maxAttempts:     cfg.MaxAttempts,
		initialInterval: cfg.InitialInterval,
		multiplier:      cfg.Multiplier,
		maxInterval:     cfg.MaxInterval,
	}
}

// Do runs op, retrying transient failures up to the configured attempt
// count. A non-retryable failure is returned as-is immediately; a transient
// failure on the final attempt is wrapped with the retry-exhausted code.
func (s *Service) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := s.maxAttempts
	if !s.enabled || attempts < 1 {
		attempts = 1
	}

	interval := s.initialInterval
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		s.logger.Warn("retrying after transient failure",
			slog.String("operation", name),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", interval),
			slog.Any("error", lastErr))
		if err := sleep(ctx, interval); err != nil {
			return err
		}
		interval = time.Duration(float64(interval) * s.multiplier)
		if s.maxInterval > 0 && interval > s.maxInterval {
			interval = s.maxInterval
		}
	}
	if attempts == 1 {
		return lastErr
	}
	return errcode.Wrap(errcode.RetryExhausted, lastErr, "operation %s failed after %d attempts", name, attempts)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
