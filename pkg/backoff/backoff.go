// Package backoff provides exponential backoff calculation and waiting.
package backoff

import (
	"context"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// Sleep waits out the backoff for the given attempt, returning early with
// the context error on cancellation.
func Sleep(ctx context.Context, attempt int, cfg *Config) error {
	timer := time.NewTimer(Exponential(attempt, cfg))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn up to attempts times, sleeping exponentially between
// failures. The last error is returned when all attempts fail.
func Retry(ctx context.Context, attempts int, cfg *Config, fn func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if sleepErr := Sleep(ctx, attempt, cfg); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}
