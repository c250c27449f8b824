// Package flush reconciles in-memory counter deltas into the store.
package flush

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keytally/internal/counter"
	"keytally/internal/model"
)

// ErrShutdownTimeout reports that the final flush could not complete
// before the shutdown deadline. The caller logs it once and exits
// anyway; the unflushed delta is lost.
var ErrShutdownTimeout = errors.New("shutdown flush timed out")

// Sink is the durable side of a flush. *store.Store implements it.
type Sink interface {
	ApplyDelta(ctx context.Context, delta model.Delta) error
}

// DefaultInterval is the flush tick used when the config is silent.
const DefaultInterval = time.Minute

// Flusher periodically merges the aggregator's pending deltas into the
// sink. A delta is subtracted from the pending state only after the
// sink confirms it, so a failed apply is retried on the next tick and
// a successful one is never applied twice.
type Flusher struct {
	agg      *counter.Aggregator
	sink     Sink
	interval time.Duration
}

// New creates a flusher. A non-positive interval falls back to
// DefaultInterval.
func New(agg *counter.Aggregator, sink Sink, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Flusher{agg: agg, sink: sink, interval: interval}
}

// Flush applies the current pending delta once. On sink failure the
// pending delta is left intact for the next attempt.
func (f *Flusher) Flush(ctx context.Context) error {
	delta := f.agg.PendingDelta()
	if delta.IsZero() {
		return nil
	}
	if err := f.sink.ApplyDelta(ctx, delta); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	f.agg.Confirm(delta)
	return nil
}

// Run flushes on every tick until ctx is canceled. Tick failures are
// reported through onError (may be nil) and retried on the next tick.
func (f *Flusher) Run(ctx context.Context, onError func(error)) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Flush(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

// Shutdown retries the final flush until it succeeds or ctx expires.
// Callers bound the wait with a deadline; exceeding it returns
// ErrShutdownTimeout so process exit never hangs on persistence.
func (f *Flusher) Shutdown(ctx context.Context) error {
	const retryDelay = 200 * time.Millisecond
	for {
		err := f.Flush(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrShutdownTimeout, err)
		case <-time.After(retryDelay):
		}
	}
}
