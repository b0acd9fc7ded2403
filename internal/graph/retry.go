package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the CAS retry loop. The defaults live in the config
// package; both knobs are tunable rather than hard-coded.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Update runs the optimistic mutation protocol against an entity: read the
// current version, apply mutate to a fresh copy, submit guarded by that
// version, and on ErrVersionConflict back off (exponential with jitter) and
// try again from a re-read. Exhausting the attempt budget returns
// ErrWriteExhausted wrapping the last conflict; the caller — normally an
// ingestion task — retries at the queue level or dead-letters.
func Update(ctx context.Context, s Store, id string, cfg RetryConfig, mutate func(*Entity)) (*Entity, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if cfg.InitialBackoff > 0 {
		b.InitialInterval = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		b.MaxInterval = cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0 // attempts are the bound, not wall clock
	b.Reset()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.NextBackOff()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		updated, err := s.CompareAndUpdate(ctx, id, current.Version, mutate)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("entity %s after %d attempts: %w: %w", id, cfg.MaxAttempts, ErrWriteExhausted, lastErr)
}
