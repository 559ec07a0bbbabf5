package observer

import (
	"context"
	"time"
)

// IntervalObserver calls F with Observable right away and then once per Interval.
type IntervalObserver[T any] struct {
	Interval   time.Duration
	F          func(T) error
	Observable T
}

// Observe blocks until ctx is done or F returns an error.
func (o *IntervalObserver[T]) Observe(ctx context.Context) error {
	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	for {
		if err := o.F(o.Observable); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
