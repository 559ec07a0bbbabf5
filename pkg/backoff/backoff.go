package backoff

import (
	"context"
	"errors"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrMaxRetriesExceeded is returned by Wait once every attempt has been used.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// Strategy is used to space out retries of network operations.
type Strategy interface {
	// Wait blocks until the next attempt may be made.
	// It returns an error when no further attempt should be made or ctx is done.
	Wait(ctx context.Context) error
}

// exponentialBackoffWithJitter implements the Strategy interface
type exponentialBackoffWithJitter struct {
	baseDelay      time.Duration
	maxDelay       time.Duration
	currentAttempt uint
	maxAttempt     uint
	randSource     *rand.Rand
}

// NewExponentialBackoffWithJitter creates a new instance of exponentialBackoffWithJitter
func NewExponentialBackoffWithJitter(baseDelay, maxDelay time.Duration, maxAttempts uint) Strategy {
	source := rand.NewSource(time.Now().UnixNano())
	return &exponentialBackoffWithJitter{
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		maxAttempt: maxAttempts,
		randSource: rand.New(source),
	}
}

// nextDelay is 2^attempt * baseDelay with +-50% jitter, capped at maxDelay.
func (e *exponentialBackoffWithJitter) nextDelay() time.Duration {
	delay := e.baseDelay * time.Duration(1<<e.currentAttempt)
	if delay <= 0 || delay > e.maxDelay {
		return e.maxDelay
	}
	jitter := time.Duration(e.randSource.Int63n(int64(delay)))
	delay = delay + jitter - (delay / 2)
	if delay > e.maxDelay {
		delay = e.maxDelay
	}
	return delay
}

// Wait calculates the next backoff time with exponential backoff and jitter
func (e *exponentialBackoffWithJitter) Wait(ctx context.Context) error {
	if e.currentAttempt >= e.maxAttempt {
		return ErrMaxRetriesExceeded
	}
	delay := e.nextDelay()
	log.Debugf("waiting for %v (attempt %d/%d)", delay, e.currentAttempt+1, e.maxAttempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	e.currentAttempt++
	return nil
}

// NoRetry returns a Strategy that never allows another attempt.
func NoRetry() Strategy {
	return NewExponentialBackoffWithJitter(0, 0, 0)
}

// DefaultBackoff returns a sensible default Strategy (exponential with an upper bound).
func DefaultBackoff() Strategy {
	const defaultBaseDelay = 500 * time.Millisecond
	const defaultMaxDelay = 1 * time.Minute
	return NewExponentialBackoffWithJitter(defaultBaseDelay, defaultMaxDelay, 5)
}
