package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		attempt int
		cfg     *Config
		want    time.Duration
	}{
		{"attempt 1 default", 1, nil, 100 * time.Millisecond},
		{"attempt 2 default", 2, nil, 200 * time.Millisecond},
		{"attempt 4 default", 4, nil, 800 * time.Millisecond},
		{"capped at max", 10, nil, 5 * time.Second},
		{"zero attempt", 0, nil, 100 * time.Millisecond},
		{"custom initial", 1, &Config{Initial: time.Second}, time.Second},
		{"custom max", 10, &Config{Max: time.Second}, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Exponential(tt.attempt, tt.cfg); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSleepCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, 5, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetry(t *testing.T) {
	t.Parallel()

	cfg := &Config{Initial: time.Millisecond, Max: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), 3, cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}

	calls = 0
	wantErr := errors.New("permanent")
	err = Retry(context.Background(), 2, cfg, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected last error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}
