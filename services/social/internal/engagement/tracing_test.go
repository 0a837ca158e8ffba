package engagement

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

func tracedService(t *testing.T, f *fixture) (*Service, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(f.ctx) })
	return NewService(f.st, f.dir, zaptest.NewLogger(t), WithTracerProvider(tp)), rec
}

func endedSpan(t *testing.T, rec *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range rec.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("no ended span %q among %d", name, len(rec.Ended()))
	return nil
}

func TestTracing_FailedDeleteMarksSpanError(t *testing.T) {
	f := newFixture(t)
	c := f.add(t, "post-1", "user-a", "mine", "")
	svc, rec := tracedService(t, f)

	if _, err := svc.DeleteComment(f.ctx, c.ID, "user-b"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	span := endedSpan(t, rec, "engagement.DeleteComment")
	if span.Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", span.Status())
	}
	if span.Status().Description != ErrForbidden.Error() {
		t.Fatalf("unexpected status description %q", span.Status().Description)
	}
	var recorded bool
	for _, ev := range span.Events() {
		if ev.Name == "exception" {
			recorded = true
		}
	}
	if !recorded {
		t.Fatal("expected the error to be recorded as an exception event")
	}
	var hasID bool
	for _, kv := range span.Attributes() {
		if kv == attribute.String("comment_id", c.ID) {
			hasID = true
		}
	}
	if !hasID {
		t.Fatalf("expected comment_id attribute, got %v", span.Attributes())
	}
}

func TestTracing_SuccessLeavesStatusUnset(t *testing.T) {
	f := newFixture(t)
	c := f.add(t, "post-1", "user-a", "mine", "")
	svc, rec := tracedService(t, f)

	if _, err := svc.ToggleCommentLike(f.ctx, c.ID, "user-b"); err != nil {
		t.Fatalf("like: %v", err)
	}
	if _, err := svc.DeleteComment(f.ctx, c.ID, "user-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, name := range []string{"engagement.ToggleCommentLike", "engagement.DeleteComment"} {
		span := endedSpan(t, rec, name)
		if span.Status().Code != codes.Unset {
			t.Fatalf("%s: expected unset status, got %v", name, span.Status())
		}
	}
}
