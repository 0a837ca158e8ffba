package engagement

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/social-platform/services/social/internal/store"
)

var (
	togglesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "social_toggles_total",
		Help: "Engagement toggles applied, by target and resulting state",
	}, []string{"target", "state"})

	toggleConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "social_toggle_conflicts_total",
		Help: "Toggles that lost a race on the ledger and were settled without a counter change",
	}, []string{"target"})

	commentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "social_comments_created_total",
		Help: "Comments created",
	})

	commentsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "social_comments_deleted_total",
		Help: "Comments removed, including cascaded replies",
	})

	counterDriftTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "social_counter_drift_total",
		Help: "Denormalized counters found out of sync by reconciliation",
	}, []string{"field"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "social_operation_duration_seconds",
		Help:    "Duration of engagement operations",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"op"})
)

const (
	targetCommentLike = "comment_like"
	targetPostLike    = "post_like"
	targetPostCollect = "post_collect"
)

func stateLabel(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func reactionTarget(kind store.ReactionKind) string {
	if kind == store.ReactionCollect {
		return targetPostCollect
	}
	return targetPostLike
}

// observe opens a span and a duration timer for op. The returned func ends both.
func (s *Service) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := s.tracer.Start(ctx, "engagement."+op, trace.WithAttributes(attrs...))
	timer := prometheus.NewTimer(operationDuration.WithLabelValues(op))
	return ctx, func(err error) {
		timer.ObserveDuration()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
