package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTickerRunsUntilStopped(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	ticker := NewTicker(5 * time.Millisecond)
	if err := ticker.Start(context.Background(), func(time.Time) { runs.Add(1) }); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := ticker.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	seen := runs.Load()
	if seen < 3 {
		t.Fatalf("expected at least 3 runs, got %d", seen)
	}
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != seen {
		t.Fatal("job ran after stop")
	}
	if err := ticker.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestTickerDisabled(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	ticker := NewTicker(0)
	if err := ticker.Start(context.Background(), func(time.Time) { runs.Add(1) }); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatal("disabled ticker must not run")
	}
}
