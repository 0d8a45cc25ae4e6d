package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BrikPay/refunds-service/internal/errors"
)

func testStrategy(maxAttempts int) *Strategy {
	return New(Config{
		MaxAttempts:   maxAttempts,
		InitialDelay:  time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        0,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeGatewayTimeout,
			errors.ErrCodeGatewayConnection,
		},
	})
}

func TestIsRetryable(t *testing.T) {
	s := testStrategy(3)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"configured code", errors.NewGatewayError(errors.ErrCodeGatewayTimeout, "stripe", "timeout"), true},
		{"explicit flag", &errors.GatewayError{Code: errors.ErrCodeGatewayServerError, Gateway: "adyen", Retryable: true}, true},
		{"auth never retries", errors.NewGatewayError(errors.ErrCodeGatewayAuthentication, "stripe", "bad key"), false},
		{"validation never retries", errors.NewValidationError(errors.ErrCodeInvalidAmount, "amount", "negative"), false},
		{"business never retries", errors.NewBusinessError(errors.ErrCodeInsufficientBalance, "short", "fund the account"), false},
		{"circuit open never retries", errors.NewCircuitOpenError("stripe"), false},
		{"message timeout", fmt.Errorf("request timed out after 5s"), true},
		{"message connection", fmt.Errorf("dial tcp: connection refused"), true},
		{"message network", fmt.Errorf("network is unreachable"), true},
		{"message temporarily unavailable", fmt.Errorf("service temporarily unavailable"), true},
		{"opaque error", fmt.Errorf("something broke"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCalculateDelay_MonotonicBase(t *testing.T) {
	s := New(Config{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond, BackoffFactor: 2.0, Jitter: 0})

	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := s.CalculateDelay(attempt)
		if d < prev {
			t.Errorf("delay shrank: attempt %d = %v, previous %v", attempt, d, prev)
		}
		prev = d
	}
	if got := s.CalculateDelay(1); got != 10*time.Millisecond {
		t.Errorf("CalculateDelay(1) = %v, want 10ms", got)
	}
	if got := s.CalculateDelay(3); got != 40*time.Millisecond {
		t.Errorf("CalculateDelay(3) = %v, want 40ms", got)
	}
}

func TestCalculateDelay_JitterBounds(t *testing.T) {
	s := New(Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, BackoffFactor: 1.0, Jitter: 0.5})

	for i := 0; i < 500; i++ {
		d := s.CalculateDelay(1)
		if d < 0 {
			t.Fatalf("negative delay %v", d)
		}
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("delay %v outside +-50%% band", d)
		}
	}
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	s := testStrategy(3)
	calls := 0
	retries := 0

	_, err := Execute(context.Background(), s, func() (string, error) {
		calls++
		return "", errors.NewGatewayError(errors.ErrCodeGatewayTimeout, "stripe", "timeout")
	}, func(err error, attempt int, delay time.Duration) {
		retries++
	})

	if err == nil {
		t.Fatal("expected final error")
	}
	if calls != 3 {
		t.Errorf("operation called %d times, want 3", calls)
	}
	if retries != 2 {
		t.Errorf("onRetry called %d times, want 2", retries)
	}
	if ge, ok := errors.AsGateway(err); !ok || ge.Code != errors.ErrCodeGatewayTimeout {
		t.Errorf("final error = %v, want last gateway timeout", err)
	}
}

func TestExecute_NonRetryableAbortsImmediately(t *testing.T) {
	s := testStrategy(5)
	calls := 0

	_, err := Execute(context.Background(), s, func() (string, error) {
		calls++
		return "", errors.NewGatewayError(errors.ErrCodeGatewayAuthentication, "stripe", "bad key")
	}, nil)

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("operation called %d times, want 1", calls)
	}
}

func TestExecute_SucceedsMidway(t *testing.T) {
	s := testStrategy(5)
	calls := 0

	got, err := Execute(context.Background(), s, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.NewGatewayError(errors.ErrCodeGatewayConnection, "adyen", "connection reset")
		}
		return "ok", nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got (%q, %d calls), want (ok, 3)", got, calls)
	}
}

func TestExecute_ContextCanceledBetweenAttempts(t *testing.T) {
	s := New(Config{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, BackoffFactor: 1.0})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Execute(ctx, s, func() (string, error) {
		calls++
		cancel()
		return "", fmt.Errorf("timeout")
	}, nil)

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("operation called %d times after cancel, want 1", calls)
	}
}

func TestSharedStrategyIsConcurrencySafe(t *testing.T) {
	s := testStrategy(3)
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			calls := 0
			_, _ = Execute(context.Background(), s, func() (int, error) {
				calls++
				if calls < 3 {
					return 0, errors.NewGatewayError(errors.ErrCodeGatewayTimeout, "fiserv", "timeout")
				}
				return calls, nil
			}, nil)
			if calls != 3 {
				t.Errorf("concurrent call saw %d attempts, want 3", calls)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
