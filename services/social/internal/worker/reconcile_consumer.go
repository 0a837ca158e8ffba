// Package worker runs background consumers for the social service.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/social-platform/services/social/internal/engagement"
	"github.com/example/social-platform/services/social/internal/outbox"
)

const (
	// SubjectReconcileRequested asks for a counter reconciliation pass over one post.
	SubjectReconcileRequested = "social.reconcile.requested"
	reconcileDurable          = "social_reconcile"
)

type ReconcileRequest struct {
	PostID string `json:"post_id"`
	Repair bool   `json:"repair"`
}

type Reconciler interface {
	Reconcile(ctx context.Context, postID string, repair bool) (engagement.Report, error)
}

type outcome int

const (
	ack outcome = iota
	nak
	term
)

// JetStream is the slice of nats.JetStreamContext the consumer needs.
type JetStream interface {
	outbox.StreamManager
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (*nats.Subscription, error)
}

type ReconcileConsumer struct {
	Log       *zap.Logger
	Svc       Reconciler
	Sub       *nats.Subscription
	BatchSize int
	MaxWait   time.Duration
}

// NewReconcileConsumer binds a durable pull consumer on the social events stream,
// creating the stream first when it does not exist yet.
func NewReconcileConsumer(log *zap.Logger, js JetStream, svc Reconciler) (*ReconcileConsumer, error) {
	if err := outbox.EnsureStream(js); err != nil {
		return nil, err
	}
	sub, err := js.PullSubscribe(SubjectReconcileRequested, reconcileDurable)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", SubjectReconcileRequested, err)
	}
	return &ReconcileConsumer{
		Log:       log,
		Svc:       svc,
		Sub:       sub,
		BatchSize: 10,
		MaxWait:   2 * time.Second,
	}, nil
}

func (c *ReconcileConsumer) Run(ctx context.Context) error {
	c.Log.Info("reconcile consumer started", zap.String("subject", SubjectReconcileRequested))
	defer func() { _ = c.Sub.Unsubscribe() }()

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := c.Sub.Fetch(c.BatchSize, nats.MaxWait(c.MaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return nil
			}
			c.Log.Warn("reconcile fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, m := range msgs {
			var err error
			switch c.process(ctx, m.Data) {
			case ack:
				err = m.Ack()
			case nak:
				err = m.Nak()
			case term:
				err = m.Term()
			}
			if err != nil {
				c.Log.Warn("reconcile message settle failed", zap.Error(err))
			}
		}
	}
}

// process runs one request. Malformed requests and unknown posts are terminated
// rather than redelivered.
func (c *ReconcileConsumer) process(ctx context.Context, data []byte) outcome {
	var req ReconcileRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.Log.Warn("invalid reconcile request", zap.Error(err))
		return term
	}
	req.PostID = strings.TrimSpace(req.PostID)
	if req.PostID == "" {
		c.Log.Warn("reconcile request without post_id")
		return term
	}

	rep, err := c.Svc.Reconcile(ctx, req.PostID, req.Repair)
	switch {
	case errors.Is(err, engagement.ErrNotFound):
		c.Log.Info("reconcile skipped, post not found", zap.String("post_id", req.PostID))
		return term
	case err != nil:
		c.Log.Error("reconcile failed", zap.String("post_id", req.PostID), zap.Error(err))
		return nak
	}

	c.Log.Info("reconcile finished",
		zap.String("post_id", rep.PostID),
		zap.Int("comments", rep.Comments),
		zap.Int("drifts", len(rep.Drifts)),
		zap.Bool("repaired", rep.Repaired))
	return ack
}
