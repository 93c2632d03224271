package ros

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestBackoffDelayWithinCapBounds verifies spec §8: for every n >= 1,
// 1 <= backoff_delay(n) <= cap_ms.
func TestBackoffDelayWithinCapBounds(t *testing.T) {
	b := NewBackoffWithLimits(10*time.Second, 1*time.Second)
	for n := 1; n <= 20; n++ {
		d := b.Delay(n)
		if d < time.Millisecond || d > 10*time.Second {
			t.Fatalf("Delay(%d) = %v, want in [1ms, 10s]", n, d)
		}
	}
}

// TestBackoffDelaySaturatesAtCap: retries keeps growing 2^n but the delay
// must never exceed cap once 2^n reaches it (spec §4.C "no unbounded
// growth").
func TestBackoffDelaySaturatesAtCap(t *testing.T) {
	capDuration := 2 * time.Second
	b := NewBackoffWithLimits(capDuration, 0)
	for n := 10; n <= 15; n++ {
		if d := b.Delay(n); d > capDuration {
			t.Fatalf("Delay(%d) = %v, want <= cap %v", n, d, capDuration)
		}
	}
}

func TestRetryForeverRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := RetryForever(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryForever: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

// TestRetryForeverCancellationStopsWithoutInvokingOpAgain: spec §4.C
// "a caller signalling 'no longer needed' causes the next sleep to return
// early and the loop to exit without invoking the op again".
func TestRetryForeverCancellationStopsWithoutInvokingOpAgain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- RetryForever(ctx, func() error {
			attempts++
			cancel()
			return errors.New("always fails")
		})
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("RetryForever returned nil error after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RetryForever did not exit promptly after cancellation")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want exactly 1 (op must not run again after cancellation)", attempts)
	}
}
