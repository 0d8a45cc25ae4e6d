package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock gives the tests control over breaker timing.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, resetTimeout time.Duration) (*Breaker, *fakeClock) {
	b := New(Config{
		Name:             "test_gateway",
		FailureThreshold: threshold,
		ResetTimeout:     resetTimeout,
	})
	clock := newFakeClock()
	b.now = clock.Now
	return b, clock
}

func TestThresholdTripsBreaker(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	if st := b.GetStatus(); st.State != StateClosed || st.FailureCount != 2 {
		t.Fatalf("below threshold: %+v", st)
	}

	b.RecordFailure()
	if st := b.GetStatus(); st.State != StateOpen {
		t.Fatalf("at threshold: state = %s, want OPEN", st.State)
	}
}

func TestHalfOpenOutcomeIsDecisive(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b, clock := newTestBreaker(1, 10*time.Second)
		b.RecordFailure()
		clock.Advance(11 * time.Second)

		got, err := Execute(b, func() (string, error) { return "ok", nil }, nil)
		if err != nil || got != "ok" {
			t.Fatalf("probe result = (%q, %v)", got, err)
		}
		if st := b.GetStatus(); st.State != StateClosed || st.FailureCount != 0 {
			t.Errorf("after probe success: %+v", st)
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		b, clock := newTestBreaker(1, 10*time.Second)
		b.RecordFailure()
		clock.Advance(11 * time.Second)

		_, err := Execute(b, func() (string, error) { return "", errors.New("still down") }, nil)
		if err == nil {
			t.Fatal("expected probe failure to propagate")
		}
		if st := b.GetStatus(); st.State != StateOpen {
			t.Errorf("after probe failure: state = %s, want OPEN", st.State)
		}
	})
}

func TestOpenBlocksUntilResetTimeout(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)
	b.RecordFailure()

	invoked := false
	_, err := Execute(b, func() (int, error) { invoked = true; return 1, nil }, nil)
	var oe *OpenError
	if !errors.As(err, &oe) {
		t.Fatalf("error = %v, want OpenError", err)
	}
	if invoked {
		t.Fatal("operation must not run while circuit is open")
	}

	clock.Advance(29 * time.Second)
	if _, err := Execute(b, func() (int, error) { return 1, nil }, nil); !errors.As(err, &oe) {
		t.Fatal("call just before reset timeout must still be blocked")
	}

	clock.Advance(2 * time.Second)
	got, err := Execute(b, func() (int, error) { return 42, nil }, nil)
	if err != nil || got != 42 {
		t.Fatalf("probe after timeout = (%d, %v)", got, err)
	}
}

func TestSingleProbeDuringHalfOpen(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)
	b.RecordFailure()
	clock.Advance(2 * time.Second)

	var probes atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Execute(b, func() (int, error) {
				probes.Add(1)
				<-release
				return 1, nil
			}, nil)
		}()
	}

	// Give every goroutine a chance to hit the gate while the probe hangs.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := probes.Load(); got != 1 {
		t.Errorf("%d probes let through during half-open window, want 1", got)
	}
}

func TestFallback(t *testing.T) {
	t.Run("on open circuit", func(t *testing.T) {
		b, _ := newTestBreaker(1, time.Minute)
		b.RecordFailure()

		got, err := Execute(b, func() (string, error) { return "real", nil },
			func() (string, error) { return "fallback", nil })
		if err != nil || got != "fallback" {
			t.Errorf("fallback result = (%q, %v)", got, err)
		}
	})

	t.Run("on operation failure", func(t *testing.T) {
		b, _ := newTestBreaker(5, time.Minute)

		got, err := Execute(b, func() (string, error) { return "", errors.New("boom") },
			func() (string, error) { return "fallback", nil })
		if err != nil || got != "fallback" {
			t.Errorf("fallback result = (%q, %v)", got, err)
		}
		if st := b.GetStatus(); st.FailureCount != 1 {
			t.Errorf("failure not recorded: %+v", st)
		}
	})
}

func TestAdministrativeOverrides(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.ForceOpen()
	if st := b.GetStatus(); st.State != StateOpen {
		t.Fatalf("ForceOpen: state = %s", st.State)
	}

	b.ForceClose()
	if st := b.GetStatus(); st.State != StateClosed || st.FailureCount != 0 {
		t.Fatalf("ForceClose: %+v", st)
	}

	b.RecordFailure()
	b.Reset()
	if st := b.GetStatus(); st.State != StateClosed || st.FailureCount != 0 || !st.LastFailureTime.IsZero() {
		t.Fatalf("Reset: %+v", st)
	}
}

func TestStaleFailuresExpire(t *testing.T) {
	b := New(Config{
		Name:             "stale",
		FailureThreshold: 3,
		FailureTimeout:   10 * time.Second,
		ResetTimeout:     time.Minute,
	})
	clock := newFakeClock()
	b.now = clock.Now

	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(time.Minute)

	// The old failures aged out; this is failure 1 of a fresh streak.
	b.RecordFailure()
	if st := b.GetStatus(); st.State != StateClosed || st.FailureCount != 1 {
		t.Errorf("after stale window: %+v", st)
	}
}

func TestOnStateChange(t *testing.T) {
	var mu sync.Mutex
	var changes []string
	b := New(Config{
		Name:             "observed",
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			changes = append(changes, string(from)+"->"+string(to))
			mu.Unlock()
		},
	})
	clock := newFakeClock()
	b.now = clock.Now

	b.RecordFailure()
	clock.Advance(2 * time.Second)
	_, _ = Execute(b, func() (int, error) { return 1, nil }, nil)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change[%d] = %s, want %s", i, changes[i], want[i])
		}
	}
}
