package engagement

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/example/social-platform/services/social/internal/store"
)

// CommentView is a comment as rendered to a caller, annotated for that caller.
type CommentView struct {
	ID                 string        `json:"id"`
	PostID             string        `json:"post_id"`
	AuthorID           string        `json:"author_id"`
	ParentID           *string       `json:"parent_id,omitempty"`
	ReplyToActorID     *string       `json:"reply_to_actor_id,omitempty"`
	Content            string        `json:"content"`
	ReplyCount         int64         `json:"reply_count"`
	LikeCount          int64         `json:"like_count"`
	CreatedAt          time.Time     `json:"created_at"`
	LikedByCurrentUser bool          `json:"liked_by_current_user"`
	Replies            []CommentView `json:"replies,omitempty"`
}

func viewOf(c store.Comment, liked bool) CommentView {
	return CommentView{
		ID:                 c.ID,
		PostID:             c.PostID,
		AuthorID:           c.AuthorID,
		ParentID:           c.ParentID,
		ReplyToActorID:     c.ReplyToActorID,
		Content:            c.Content,
		ReplyCount:         c.ReplyCount,
		LikeCount:          c.LikeCount,
		CreatedAt:          c.CreatedAt,
		LikedByCurrentUser: liked,
	}
}

type ListParams struct {
	PostID         string
	Sort           store.Sort
	Page           store.PageRequest
	Actor          Actor
	IncludeReplies bool
}

// ReactionState is the caller's own reactions on a post.
type ReactionState struct {
	Liked     bool `json:"liked"`
	Collected bool `json:"collected"`
}

// likedSet resolves the like annotation for every id with a single ledger query.
func likedSet(ctx context.Context, tx store.Tx, actor Actor, ids []string) (map[string]bool, error) {
	actorID, ok := actor.ID()
	if !ok || len(ids) == 0 {
		return map[string]bool{}, nil
	}
	liked, err := tx.LikedCommentIDs(ctx, actorID, ids)
	if err != nil {
		return nil, fmt.Errorf("load likes: %w", err)
	}
	return liked, nil
}

// annotate builds views for roots and, when replies is non-nil, their reply lists.
func annotate(ctx context.Context, tx store.Tx, actor Actor, roots []store.Comment, replies map[string][]store.Comment) ([]CommentView, error) {
	ids := make([]string, 0, len(roots))
	for _, c := range roots {
		ids = append(ids, c.ID)
		for _, r := range replies[c.ID] {
			ids = append(ids, r.ID)
		}
	}
	liked, err := likedSet(ctx, tx, actor, ids)
	if err != nil {
		return nil, err
	}

	out := make([]CommentView, 0, len(roots))
	for _, c := range roots {
		v := viewOf(c, liked[c.ID])
		if replies != nil {
			v.Replies = make([]CommentView, 0, len(replies[c.ID]))
			for _, r := range replies[c.ID] {
				v.Replies = append(v.Replies, viewOf(r, liked[r.ID]))
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// ListTopLevel returns one page of a post's top-level comments.
func (s *Service) ListTopLevel(ctx context.Context, p ListParams) (page store.Page[CommentView], err error) {
	ctx, done := s.observe(ctx, "ListTopLevel",
		attribute.String("post_id", p.PostID), attribute.String("sort", string(p.Sort)))
	defer func() { done(err) }()

	err = s.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetPost(ctx, p.PostID); err != nil {
			return wrapLookup("post", p.PostID, err)
		}
		roots, err := tx.ListTopLevel(ctx, p.PostID, p.Sort, p.Page)
		if err != nil {
			return fmt.Errorf("list comments: %w", err)
		}

		var replies map[string][]store.Comment
		if p.IncludeReplies {
			ids := make([]string, 0, len(roots.Items))
			for _, c := range roots.Items {
				ids = append(ids, c.ID)
			}
			if replies, err = tx.RepliesOf(ctx, ids); err != nil {
				return fmt.Errorf("load replies: %w", err)
			}
		}

		items, err := annotate(ctx, tx, p.Actor, roots.Items, replies)
		if err != nil {
			return err
		}
		page = store.Page[CommentView]{Items: items, Page: roots.Page, Size: roots.Size, Total: roots.Total}
		return nil
	})
	return page, err
}

// ListReplies returns one page of a comment's direct replies, oldest first.
func (s *Service) ListReplies(ctx context.Context, parentID string, req store.PageRequest, actor Actor) (page store.Page[CommentView], err error) {
	ctx, done := s.observe(ctx, "ListReplies", attribute.String("comment_id", parentID))
	defer func() { done(err) }()

	err = s.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetComment(ctx, parentID); err != nil {
			return wrapLookup("comment", parentID, err)
		}
		replies, err := tx.ListReplies(ctx, parentID, req)
		if err != nil {
			return fmt.Errorf("list replies: %w", err)
		}
		items, err := annotate(ctx, tx, actor, replies.Items, nil)
		if err != nil {
			return err
		}
		page = store.Page[CommentView]{Items: items, Page: replies.Page, Size: replies.Size, Total: replies.Total}
		return nil
	})
	return page, err
}

// GetComment returns a comment with its full direct reply list.
func (s *Service) GetComment(ctx context.Context, commentID string, actor Actor) (view CommentView, err error) {
	ctx, done := s.observe(ctx, "GetComment", attribute.String("comment_id", commentID))
	defer func() { done(err) }()

	err = s.store.View(ctx, func(tx store.Tx) error {
		c, err := tx.GetComment(ctx, commentID)
		if err != nil {
			return wrapLookup("comment", commentID, err)
		}
		replies, err := tx.RepliesOf(ctx, []string{c.ID})
		if err != nil {
			return fmt.Errorf("load replies: %w", err)
		}
		views, err := annotate(ctx, tx, actor, []store.Comment{c}, replies)
		if err != nil {
			return err
		}
		view = views[0]
		return nil
	})
	return view, err
}

// ReactionState reports which reactions the actor currently holds on a post.
func (s *Service) ReactionState(ctx context.Context, postID, actorID string) (state ReactionState, err error) {
	err = s.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetPost(ctx, postID); err != nil {
			return wrapLookup("post", postID, err)
		}
		kinds, err := tx.ReactionKinds(ctx, postID, actorID)
		if err != nil {
			return fmt.Errorf("load reactions: %w", err)
		}
		for _, k := range kinds {
			switch k {
			case store.ReactionLike:
				state.Liked = true
			case store.ReactionCollect:
				state.Collected = true
			}
		}
		return nil
	})
	return state, err
}

func (s *Service) HasReaction(ctx context.Context, postID, actorID string, kind store.ReactionKind) (active bool, err error) {
	kind, ok := store.ParseReactionKind(string(kind))
	if !ok {
		return false, invalid("type", "must be LIKE or COLLECT")
	}
	err = s.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetPost(ctx, postID); err != nil {
			return wrapLookup("post", postID, err)
		}
		has, err := tx.HasReaction(ctx, postID, actorID, kind)
		if err != nil {
			return fmt.Errorf("check reaction: %w", err)
		}
		active = has
		return nil
	})
	return active, err
}

func (s *Service) PostCounters(ctx context.Context, postID string) (pc store.PostCounters, err error) {
	err = s.store.View(ctx, func(tx store.Tx) error {
		p, err := tx.GetPost(ctx, postID)
		if err != nil {
			return wrapLookup("post", postID, err)
		}
		pc = countersOf(p)
		return nil
	})
	return pc, err
}
