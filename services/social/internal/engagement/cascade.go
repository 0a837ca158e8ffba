package engagement

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/example/social-platform/services/social/internal/store"
)

// DeleteComment removes a comment together with every descendant and their likes.
// Only the author may delete. It returns the number of comments removed.
func (s *Service) DeleteComment(ctx context.Context, commentID, actorID string) (removed int64, err error) {
	ctx, done := s.observe(ctx, "DeleteComment", attribute.String("comment_id", commentID))
	defer func() { done(err) }()

	if err := s.requireActor(ctx, actorID); err != nil {
		return 0, err
	}

	var target store.Comment
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		target, err = tx.GetComment(ctx, commentID)
		if err != nil {
			return wrapLookup("comment", commentID, err)
		}
		if target.AuthorID != actorID {
			return ErrForbidden
		}

		// Ancestors are locked before descendants.
		if target.ParentID != nil {
			if _, err := tx.IncrementReplyCount(ctx, *target.ParentID, -1); err != nil {
				return wrapLookup("parent comment", *target.ParentID, err)
			}
		}

		removed, err = tx.DeleteSubtree(ctx, commentID)
		if err != nil {
			return wrapLookup("comment", commentID, err)
		}
		if _, err := tx.IncrementCommentCount(ctx, target.PostID, -removed); err != nil {
			return wrapLookup("post", target.PostID, err)
		}

		return enqueue(ctx, tx, SubjectCommentDeleted, CommentDeletedEvent{
			CommentID: commentID,
			PostID:    target.PostID,
			ActorID:   actorID,
			Removed:   removed,
			At:        s.now().UTC(),
		})
	})
	if err != nil {
		return 0, err
	}

	commentsDeletedTotal.Add(float64(removed))
	s.log.Info("comment deleted",
		zap.String("comment_id", commentID),
		zap.String("post_id", target.PostID),
		zap.Int64("removed", removed))
	return removed, nil
}
