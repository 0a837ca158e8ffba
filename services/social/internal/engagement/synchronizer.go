package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/example/social-platform/services/social/internal/store"
)

const MaxContentLength = 500

type AddCommentParams struct {
	PostID  string
	ActorID string
	Content string
	// ParentID is empty for a top-level comment.
	ParentID string
	// ReplyToActorID may only be set together with ParentID.
	ReplyToActorID string
}

type LikeResult struct {
	Liked     bool  `json:"liked"`
	LikeCount int64 `json:"like_count"`
}

type ReactionResult struct {
	Kind   store.ReactionKind `json:"type"`
	Active bool               `json:"active"`
	Count  int64              `json:"count"`
	Post   store.PostCounters `json:"post"`
}

func validateContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", invalid("content", "must not be blank")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", invalid("content", fmt.Sprintf("must be at most %d characters", MaxContentLength))
	}
	return content, nil
}

// AddComment inserts a comment and bumps the parent reply count and the post comment count.
func (s *Service) AddComment(ctx context.Context, p AddCommentParams) (view CommentView, err error) {
	ctx, done := s.observe(ctx, "AddComment",
		attribute.String("post_id", p.PostID),
		attribute.Bool("reply", p.ParentID != ""))
	defer func() { done(err) }()

	content, err := validateContent(p.Content)
	if err != nil {
		return CommentView{}, err
	}
	if p.ReplyToActorID != "" && p.ParentID == "" {
		return CommentView{}, invalid("reply_to_actor_id", "requires parent_id")
	}
	if err := s.requireActor(ctx, p.ActorID); err != nil {
		return CommentView{}, err
	}
	if p.ReplyToActorID != "" {
		ok, err := s.dir.ActorExists(ctx, p.ReplyToActorID)
		if err != nil {
			return CommentView{}, fmt.Errorf("lookup reply-to actor: %w", err)
		}
		if !ok {
			return CommentView{}, notFound("reply-to actor", p.ReplyToActorID)
		}
	}

	var created store.Comment
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetPost(ctx, p.PostID); err != nil {
			return wrapLookup("post", p.PostID, err)
		}

		c := store.Comment{PostID: p.PostID, AuthorID: p.ActorID, Content: content}
		if p.ParentID != "" {
			parent, err := tx.GetComment(ctx, p.ParentID)
			if err != nil {
				return wrapLookup("parent comment", p.ParentID, err)
			}
			if parent.PostID != p.PostID {
				return invalid("parent_id", "belongs to a different post")
			}
			parentID := parent.ID
			c.ParentID = &parentID
			if p.ReplyToActorID != "" {
				replyTo := p.ReplyToActorID
				c.ReplyToActorID = &replyTo
			}
		}

		var err error
		created, err = tx.InsertComment(ctx, c)
		if err != nil {
			if c.ParentID != nil {
				return wrapLookup("parent comment", p.ParentID, err)
			}
			return wrapLookup("post", p.PostID, err)
		}

		if c.ParentID != nil {
			if _, err := tx.IncrementReplyCount(ctx, *c.ParentID, 1); err != nil {
				return wrapLookup("parent comment", *c.ParentID, err)
			}
		}
		if _, err := tx.IncrementCommentCount(ctx, p.PostID, 1); err != nil {
			return wrapLookup("post", p.PostID, err)
		}

		return enqueue(ctx, tx, SubjectCommentCreated, CommentCreatedEvent{
			CommentID: created.ID,
			PostID:    created.PostID,
			AuthorID:  created.AuthorID,
			ParentID:  created.ParentID,
			At:        s.now().UTC(),
		})
	})
	if err != nil {
		return CommentView{}, err
	}

	commentsCreatedTotal.Inc()
	return viewOf(created, false), nil
}

// ToggleCommentLike flips the actor's like on a comment. Two calls in a row restore the original state.
func (s *Service) ToggleCommentLike(ctx context.Context, commentID, actorID string) (res LikeResult, err error) {
	ctx, done := s.observe(ctx, "ToggleCommentLike", attribute.String("comment_id", commentID))
	defer func() { done(err) }()

	if err := s.requireActor(ctx, actorID); err != nil {
		return LikeResult{}, err
	}

	conflict := false
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		conflict = false
		if _, err := tx.GetComment(ctx, commentID); err != nil {
			return wrapLookup("comment", commentID, err)
		}

		has, err := tx.HasCommentLike(ctx, commentID, actorID)
		if err != nil {
			return fmt.Errorf("check like: %w", err)
		}

		if has {
			removed, err := tx.DeleteCommentLike(ctx, commentID, actorID)
			if err != nil {
				return wrapLookup("comment", commentID, err)
			}
			res.Liked = false
			if !removed {
				conflict = true
				c, err := tx.GetComment(ctx, commentID)
				if err != nil {
					return wrapLookup("comment", commentID, err)
				}
				res.LikeCount = c.LikeCount
				return nil
			}
			if res.LikeCount, err = tx.IncrementLikeCount(ctx, commentID, -1); err != nil {
				return wrapLookup("comment", commentID, err)
			}
		} else {
			err := tx.InsertCommentLike(ctx, commentID, actorID)
			switch {
			case errors.Is(err, store.ErrConflict):
				conflict = true
				res.Liked = true
				c, err := tx.GetComment(ctx, commentID)
				if err != nil {
					return wrapLookup("comment", commentID, err)
				}
				res.LikeCount = c.LikeCount
				return nil
			case err != nil:
				return wrapLookup("comment", commentID, err)
			}
			res.Liked = true
			if res.LikeCount, err = tx.IncrementLikeCount(ctx, commentID, 1); err != nil {
				return wrapLookup("comment", commentID, err)
			}
		}

		return enqueue(ctx, tx, SubjectCommentLikeToggled, CommentLikeToggledEvent{
			CommentID: commentID,
			ActorID:   actorID,
			Liked:     res.Liked,
			LikeCount: res.LikeCount,
			At:        s.now().UTC(),
		})
	})
	if err != nil {
		return LikeResult{}, err
	}

	if conflict {
		toggleConflictsTotal.WithLabelValues(targetCommentLike).Inc()
		s.log.Debug("comment like settled after concurrent toggle",
			zap.String("comment_id", commentID), zap.String("actor_id", actorID), zap.Bool("liked", res.Liked))
	} else {
		togglesTotal.WithLabelValues(targetCommentLike, stateLabel(res.Liked)).Inc()
	}
	return res, nil
}

// ToggleReaction flips one reaction dimension of a post. LIKE and COLLECT never affect each other.
func (s *Service) ToggleReaction(ctx context.Context, postID, actorID string, kind store.ReactionKind) (res ReactionResult, err error) {
	ctx, done := s.observe(ctx, "ToggleReaction",
		attribute.String("post_id", postID), attribute.String("kind", string(kind)))
	defer func() { done(err) }()

	kind, ok := store.ParseReactionKind(string(kind))
	if !ok {
		return ReactionResult{}, invalid("type", "must be LIKE or COLLECT")
	}
	if err := s.requireActor(ctx, actorID); err != nil {
		return ReactionResult{}, err
	}

	conflict := false
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		conflict = false
		res = ReactionResult{Kind: kind}
		if _, err := tx.GetPost(ctx, postID); err != nil {
			return wrapLookup("post", postID, err)
		}

		has, err := tx.HasReaction(ctx, postID, actorID, kind)
		if err != nil {
			return fmt.Errorf("check reaction: %w", err)
		}

		if has {
			removed, err := tx.DeleteReaction(ctx, postID, actorID, kind)
			if err != nil {
				return fmt.Errorf("delete reaction: %w", err)
			}
			res.Active = false
			if removed {
				if res.Count, err = tx.IncrementReactionCount(ctx, postID, kind, -1); err != nil {
					return wrapLookup("post", postID, err)
				}
			} else {
				conflict = true
			}
		} else {
			err := tx.InsertReaction(ctx, postID, actorID, kind)
			switch {
			case errors.Is(err, store.ErrConflict):
				conflict = true
			case err != nil:
				return wrapLookup("post", postID, err)
			default:
				if res.Count, err = tx.IncrementReactionCount(ctx, postID, kind, 1); err != nil {
					return wrapLookup("post", postID, err)
				}
			}
			res.Active = true
		}

		post, err := tx.GetPost(ctx, postID)
		if err != nil {
			return wrapLookup("post", postID, err)
		}
		res.Post = countersOf(post)
		if conflict {
			res.Count = reactionCount(res.Post, kind)
			return nil
		}

		return enqueue(ctx, tx, SubjectPostReactionToggled, PostReactionToggledEvent{
			PostID:  postID,
			ActorID: actorID,
			Kind:    kind,
			Active:  res.Active,
			Count:   res.Count,
			At:      s.now().UTC(),
		})
	})
	if err != nil {
		return ReactionResult{}, err
	}

	target := reactionTarget(kind)
	if conflict {
		toggleConflictsTotal.WithLabelValues(target).Inc()
		s.log.Debug("reaction settled after concurrent toggle",
			zap.String("post_id", postID), zap.String("actor_id", actorID),
			zap.String("kind", string(kind)), zap.Bool("active", res.Active))
	} else {
		togglesTotal.WithLabelValues(target, stateLabel(res.Active)).Inc()
	}
	return res, nil
}

// wrapLookup turns a store not-found into a descriptive one and passes anything else through.
func wrapLookup(what, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(what, id)
	}
	return err
}

func countersOf(p store.Post) store.PostCounters {
	return store.PostCounters{LikeCount: p.LikeCount, CollectCount: p.CollectCount, CommentCount: p.CommentCount}
}

func reactionCount(pc store.PostCounters, kind store.ReactionKind) int64 {
	if kind == store.ReactionCollect {
		return pc.CollectCount
	}
	return pc.LikeCount
}
