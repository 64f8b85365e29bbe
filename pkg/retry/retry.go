// Package retry contains the blocking-aware retry orchestrator for page
// fetches plus generic retry and circuit breaker helpers for storage and
// maintenance operations.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RetryConfig holds settings for the generic Retry helper. Unlike the page
// orchestrator this one backs off exponentially; it guards storage and
// maintenance work, not challenge pages.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
	Logger        *zap.Logger
}

// DefaultRetryConfig returns a default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		Logger:        zap.NewNop(),
	}
}

// RetryStorageOperation returns a retry configuration suitable for database
// writes.
func RetryStorageOperation() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 1.5,
		Jitter:        true,
		Logger:        zap.NewNop(),
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// Retry executes fn with exponential backoff until it succeeds, the attempt
// budget runs out, or the context ends.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) error {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				config.Logger.Info("Operation succeeded after retry",
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", config.MaxAttempts))
			}
			return nil
		}
		lastErr = err

		if attempt == config.MaxAttempts {
			break
		}

		delay := calculateDelay(attempt, config)
		config.Logger.Warn("Operation failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", config.MaxAttempts),
			zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	config.Logger.Error("Operation failed after all retry attempts",
		zap.Error(lastErr),
		zap.Int("max_attempts", config.MaxAttempts))

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxAttempts, lastErr)
}

// calculateDelay calculates the delay before the next retry attempt.
func calculateDelay(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt-1))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		randomBig, err := rand.Int(rand.Reader, big.NewInt(200))
		if err == nil {
			randomFloat := (float64(randomBig.Int64()) / 100.0) - 1.0
			delay += delay * 0.1 * randomFloat
		}
	}

	return time.Duration(delay)
}

// IsTemporaryError reports whether an error is likely temporary and worth
// retrying.
func IsTemporaryError(err error) bool {
	if err == nil {
		return false
	}

	message := strings.ToLower(err.Error())
	temporaryPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"network is unreachable",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"server busy",
		"internal server error",
		"bad gateway",
		"gateway timeout",
	}

	for _, pattern := range temporaryPatterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}
	return false
}
