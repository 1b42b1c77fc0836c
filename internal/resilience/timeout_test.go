package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSleepOn_BindsSleepToContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen context.Context
	cfg := RetryConfig{Sleep: func(c context.Context, _ time.Duration) error {
		seen = c
		return c.Err()
	}}.SleepOn(ctx)

	if err := cfg.Sleep(context.Background(), time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if seen != ctx {
		t.Error("sleep should receive the bound context")
	}
}

func TestSleepOn_DefaultSleepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := RetryConfig{}.SleepOn(ctx).Sleep(context.Background(), time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleep should return as soon as the bound context is done")
	}
}

func TestWithTimeout_MarksDeadlineTransient(t *testing.T) {
	_, err := WithTimeout(context.Background(), time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestWithTimeout_PassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("validation_error")
	v, err := WithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
		return 7, boom
	})
	if v != 7 || !errors.Is(err, boom) || IsTransient(err) {
		t.Errorf("got (%d, %v), want (7, %v) unchanged", v, err, boom)
	}
}
