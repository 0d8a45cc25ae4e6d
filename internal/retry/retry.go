// Package retry provides exponential backoff with jitter for outbound
// gateway operations. A Strategy is stateless: the attempt number is a loop
// variable, never a field, so one instance is safe to share across
// concurrent calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/BrikPay/refunds-service/internal/errors"
)

// Config defines retry behavior for one gateway type.
type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	BackoffFactor   float64
	Jitter          float64 // fraction of the base delay, e.g. 0.2 for +-20%
	RetryableErrors []errors.ErrorCode
}

// DefaultConfig returns sensible defaults for gateway retries.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        0.2,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeGatewayTimeout,
			errors.ErrCodeGatewayConnection,
			errors.ErrCodeGatewayRateLimited,
			errors.ErrCodeGatewayServerError,
		},
	}
}

// Strategy executes operations with exponential backoff.
type Strategy struct {
	cfg       Config
	retryable map[errors.ErrorCode]struct{}
}

// New creates a Strategy from cfg, normalizing out-of-range values.
func New(cfg Config) *Strategy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	set := make(map[errors.ErrorCode]struct{}, len(cfg.RetryableErrors))
	for _, code := range cfg.RetryableErrors {
		set[code] = struct{}{}
	}
	return &Strategy{cfg: cfg, retryable: set}
}

// MaxAttempts returns the configured attempt cap.
func (s *Strategy) MaxAttempts() int { return s.cfg.MaxAttempts }

// IsRetryable reports whether err is worth retrying: its taxonomy code is in
// the configured retryable set, it carries an explicit retryable flag, or its
// message matches known transient-failure shapes. The message fallback is
// deliberately permissive; not every failure reaches this layer typed.
func (s *Strategy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ge, ok := errors.AsGateway(err); ok {
		if _, ok := s.retryable[ge.Code]; ok {
			return true
		}
		return ge.Retryable
	}
	if _, ok := errors.AsValidation(err); ok {
		return false
	}
	if _, ok := errors.AsBusiness(err); ok {
		return false
	}
	if _, ok := s.retryable[errors.CodeOf(err)]; ok {
		return true
	}
	return isTransientMessage(err)
}

// isTransientMessage matches error text against known transient failures.
func isTransientMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"connection",
		"network",
		"temporarily unavailable",
		"too many requests",
		"service unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// CalculateDelay computes the backoff for the given attempt (1-based):
// initial * factor^(attempt-1), perturbed by +-jitter of the base value and
// floored at zero.
func (s *Strategy) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(s.cfg.InitialDelay) * math.Pow(s.cfg.BackoffFactor, float64(attempt-1))
	if s.cfg.Jitter > 0 {
		// Uniform in [-jitter, +jitter] of the base.
		base += base * s.cfg.Jitter * (2*rand.Float64() - 1)
	}
	if base < 0 {
		return 0
	}
	return time.Duration(base)
}

// OnRetry is invoked before each re-attempt with the previous error, the
// number of attempts already made, and the delay about to be slept.
type OnRetry func(err error, attempt int, delay time.Duration)

// Execute runs op up to MaxAttempts times. The first attempt runs
// immediately; later attempts sleep for the computed backoff first.
// Non-retryable errors abort without consuming remaining attempts, and the
// last error is returned once attempts are exhausted. Context cancellation
// stops the loop between attempts.
func Execute[T any](ctx context.Context, s *Strategy, op func() (T, error), onRetry OnRetry) (T, error) {
	var result T
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := s.CalculateDelay(attempt - 1)
			if onRetry != nil {
				onRetry(lastErr, attempt-1, delay)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			case <-timer.C:
			}
		}

		result, lastErr = op()
		if lastErr == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return result, lastErr
		}
		if !s.IsRetryable(lastErr) {
			return result, lastErr
		}
	}

	return result, lastErr
}
