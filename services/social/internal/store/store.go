package store

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"
)

// Sentinel errors
var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by ledger inserts when the unique key already exists.
	ErrConflict = errors.New("conflict")
)

// ReactionKind is the dimension of a post reaction.
type ReactionKind string

const (
	ReactionLike    ReactionKind = "LIKE"
	ReactionCollect ReactionKind = "COLLECT"
)

// ParseReactionKind accepts the kind case-insensitively.
func ParseReactionKind(s string) (ReactionKind, bool) {
	switch ReactionKind(strings.ToUpper(strings.TrimSpace(s))) {
	case ReactionLike:
		return ReactionLike, true
	case ReactionCollect:
		return ReactionCollect, true
	}
	return "", false
}

// Sort orders top-level comments.
type Sort string

const (
	SortLatest Sort = "LATEST"
	SortHot    Sort = "HOT"
)

// ParseSort falls back to SortLatest for anything it does not recognise.
func ParseSort(s string) Sort {
	if Sort(strings.ToUpper(strings.TrimSpace(s))) == SortHot {
		return SortHot
	}
	return SortLatest
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageRequest is a zero-based offset page.
type PageRequest struct {
	Page int
	Size int
}

// Normalize clamps the request into the supported range.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	// Offset must stay representable.
	if p.Page > math.MaxInt/p.Size {
		p.Page = math.MaxInt / p.Size
	}
	return p
}

func (p PageRequest) Offset() int { return p.Page * p.Size }

type Page[T any] struct {
	Items []T   `json:"items"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
	Total int64 `json:"total"`
}

// Post is the slice of a post row this service cares about.
type Post struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	LikeCount    int64     `json:"like_count"`
	CollectCount int64     `json:"collect_count"`
	CommentCount int64     `json:"comment_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Comment represents a single comment row.
type Comment struct {
	ID             string    `json:"id"`
	PostID         string    `json:"post_id"`
	AuthorID       string    `json:"author_id"`
	ParentID       *string   `json:"parent_id,omitempty"`
	ReplyToActorID *string   `json:"reply_to_actor_id,omitempty"`
	Content        string    `json:"content"`
	ReplyCount     int64     `json:"reply_count"`
	LikeCount      int64     `json:"like_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// CommentCounters holds the denormalized counters of one comment.
type CommentCounters struct {
	ReplyCount int64
	LikeCount  int64
}

// PostCounters holds the denormalized counters of one post.
type PostCounters struct {
	LikeCount    int64 `json:"like_count"`
	CollectCount int64 `json:"collect_count"`
	CommentCount int64 `json:"comment_count"`
}

// Recount is the ground truth for a post, computed from the ledger and the tree.
type Recount struct {
	Post     PostCounters
	Comments map[string]CommentCounters
}

// Event is an outbox entry written in the same transaction as the mutation it describes.
type Event struct {
	Subject string
	Payload json.RawMessage
}

// Ledger records deduplicated engagement facts.
type Ledger interface {
	HasCommentLike(ctx context.Context, commentID, actorID string) (bool, error)
	// LikedCommentIDs returns the subset of commentIDs the actor currently likes.
	LikedCommentIDs(ctx context.Context, actorID string, commentIDs []string) (map[string]bool, error)
	InsertCommentLike(ctx context.Context, commentID, actorID string) error
	// DeleteCommentLike reports whether a row was actually removed.
	DeleteCommentLike(ctx context.Context, commentID, actorID string) (bool, error)

	HasReaction(ctx context.Context, postID, actorID string, kind ReactionKind) (bool, error)
	ReactionKinds(ctx context.Context, postID, actorID string) ([]ReactionKind, error)
	InsertReaction(ctx context.Context, postID, actorID string, kind ReactionKind) error
	DeleteReaction(ctx context.Context, postID, actorID string, kind ReactionKind) (bool, error)
}

// Tree stores comment nodes and their counters.
type Tree interface {
	GetComment(ctx context.Context, id string) (Comment, error)
	ListTopLevel(ctx context.Context, postID string, sort Sort, page PageRequest) (Page[Comment], error)
	ListReplies(ctx context.Context, parentID string, page PageRequest) (Page[Comment], error)
	// RepliesOf returns every direct reply of each parent, oldest first.
	RepliesOf(ctx context.Context, parentIDs []string) (map[string][]Comment, error)
	InsertComment(ctx context.Context, c Comment) (Comment, error)
	IncrementReplyCount(ctx context.Context, id string, delta int64) (int64, error)
	IncrementLikeCount(ctx context.Context, id string, delta int64) (int64, error)
	// DeleteSubtree removes the comment, all its descendants and their likes.
	DeleteSubtree(ctx context.Context, id string) (int64, error)
}

// Posts exposes the post counters owned by this service.
type Posts interface {
	GetPost(ctx context.Context, id string) (Post, error)
	IncrementCommentCount(ctx context.Context, postID string, delta int64) (int64, error)
	IncrementReactionCount(ctx context.Context, postID string, kind ReactionKind, delta int64) (int64, error)
}

// Reconciler recomputes and overwrites counters. Used by the repair pass only.
type Reconciler interface {
	// StoredCounters returns the denormalized counters as currently persisted.
	StoredCounters(ctx context.Context, postID string) (Recount, error)
	Recount(ctx context.Context, postID string) (Recount, error)
	OverwriteCounters(ctx context.Context, postID string, rc Recount) error
}

// Outbox queues integration events.
type Outbox interface {
	EnqueueEvent(ctx context.Context, ev Event) error
}

// Tx is a single all-or-nothing unit of work.
type Tx interface {
	Ledger
	Tree
	Posts
	Reconciler
	Outbox
}

// Store hands out units of work. fn's error rolls the unit back.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}
