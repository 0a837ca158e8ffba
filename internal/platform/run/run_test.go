package run

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRun_ExitCodes(t *testing.T) {
	r := New(zap.NewNop())
	ctx := context.Background()

	if code := r.run(ctx, func(context.Context) error { return nil }); code != 0 {
		t.Fatalf("expected 0 for clean exit, got %d", code)
	}
	if code := r.run(ctx, func(context.Context) error { return http.ErrServerClosed }); code != 0 {
		t.Fatalf("expected 0 for closed server, got %d", code)
	}
	if code := r.run(ctx, func(context.Context) error { return errors.New("boom") }); code != 1 {
		t.Fatalf("expected 1 for failure, got %d", code)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	r := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := r.run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return errors.New("late")
	})
	if code != 0 {
		t.Fatalf("expected 0 on shutdown, got %d", code)
	}
}

func TestGraceful_RunsEveryStep(t *testing.T) {
	r := New(zap.NewNop())
	var calls int
	step := func(ctx context.Context) error {
		calls++
		if _, ok := ctx.Deadline(); !ok {
			t.Fatal("expected a deadline")
		}
		return errors.New("ignored")
	}
	r.Graceful("test", step, step)
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
