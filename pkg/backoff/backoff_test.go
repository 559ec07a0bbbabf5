package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoff_MaxAttempts(t *testing.T) {
	b := NewExponentialBackoffWithJitter(time.Millisecond, 5*time.Millisecond, 3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	if err := b.Wait(ctx); !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", err)
	}
}

func TestExponentialBackoff_DelayBounds(t *testing.T) {
	b := NewExponentialBackoffWithJitter(10*time.Millisecond, 50*time.Millisecond, 10).(*exponentialBackoffWithJitter)
	for attempt := uint(0); attempt < 10; attempt++ {
		b.currentAttempt = attempt
		d := b.nextDelay()
		if d <= 0 || d > b.maxDelay {
			t.Errorf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}

func TestExponentialBackoff_ContextCancelled(t *testing.T) {
	b := NewExponentialBackoffWithJitter(time.Hour, time.Hour, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNoRetry(t *testing.T) {
	if err := NoRetry().Wait(context.Background()); !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", err)
	}
}
