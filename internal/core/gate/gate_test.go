package gate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAcquireReleaseCycle(t *testing.T) {
	g := New(2, 50*time.Millisecond)
	ctx := context.Background()

	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	g.Release()
	g.Release()

	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	g.Release()
}

func TestFullGateFailsFastWithErrBusy(t *testing.T) {
	g := New(1, 20*time.Millisecond)
	ctx := context.Background()

	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("fill gate: %v", err)
	}
	defer g.Release()

	start := time.Now()
	err := g.Acquire(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
	if elapsed > time.Second {
		t.Fatalf("acquire blocked too long: %v", elapsed)
	}
}

func TestCancelledContextBeatsErrBusy(t *testing.T) {
	g := New(1, time.Second)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("fill gate: %v", err)
	}
	defer g.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestTryAcquire(t *testing.T) {
	g := New(1, 20*time.Millisecond)
	if !g.TryAcquire() {
		t.Fatalf("try acquire on empty gate failed")
	}
	if g.TryAcquire() {
		t.Fatalf("try acquire on full gate succeeded")
	}
	g.Release()
	if !g.TryAcquire() {
		t.Fatalf("try acquire after release failed")
	}
	g.Release()
}
