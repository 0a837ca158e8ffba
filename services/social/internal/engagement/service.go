// Package engagement keeps comment threads and their engagement counters
// consistent with the like and reaction ledgers.
package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/social-platform/services/social/internal/store"
)

// Directory answers questions owned by the identity service.
type Directory interface {
	ActorExists(ctx context.Context, id string) (bool, error)
}

const tracerName = "github.com/example/social-platform/services/social/internal/engagement"

type Service struct {
	store  store.Store
	dir    Directory
	log    *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Service)

// WithTracerProvider traces through tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

func NewService(st store.Store, dir Directory, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:  st,
		dir:    dir,
		log:    log,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) requireActor(ctx context.Context, actorID string) error {
	if actorID == "" {
		return notFound("actor", actorID)
	}
	ok, err := s.dir.ActorExists(ctx, actorID)
	if err != nil {
		return fmt.Errorf("lookup actor: %w", err)
	}
	if !ok {
		return notFound("actor", actorID)
	}
	return nil
}

// Event subjects published through the outbox.
const (
	SubjectCommentCreated      = "social.comment.created"
	SubjectCommentDeleted      = "social.comment.deleted"
	SubjectCommentLikeToggled  = "social.comment.like_toggled"
	SubjectPostReactionToggled = "social.post.reaction_toggled"
)

type CommentCreatedEvent struct {
	CommentID string    `json:"comment_id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	ParentID  *string   `json:"parent_id,omitempty"`
	At        time.Time `json:"at"`
}

type CommentDeletedEvent struct {
	CommentID string    `json:"comment_id"`
	PostID    string    `json:"post_id"`
	ActorID   string    `json:"actor_id"`
	Removed   int64     `json:"removed"`
	At        time.Time `json:"at"`
}

type CommentLikeToggledEvent struct {
	CommentID string    `json:"comment_id"`
	ActorID   string    `json:"actor_id"`
	Liked     bool      `json:"liked"`
	LikeCount int64     `json:"like_count"`
	At        time.Time `json:"at"`
}

type PostReactionToggledEvent struct {
	PostID  string             `json:"post_id"`
	ActorID string             `json:"actor_id"`
	Kind    store.ReactionKind `json:"type"`
	Active  bool               `json:"active"`
	Count   int64              `json:"count"`
	At      time.Time          `json:"at"`
}

func enqueue(ctx context.Context, tx store.Tx, subject string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := tx.EnqueueEvent(ctx, store.Event{Subject: subject, Payload: b}); err != nil {
		return fmt.Errorf("enqueue %s: %w", subject, err)
	}
	return nil
}
