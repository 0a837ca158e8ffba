package engagement

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/example/social-platform/services/social/internal/store"
)

// Drift is one counter whose stored value disagrees with the ledger or the tree.
type Drift struct {
	Entity string `json:"entity"` // "post" or "comment"
	ID     string `json:"id"`
	Field  string `json:"field"`
	Stored int64  `json:"stored"`
	Actual int64  `json:"actual"`
}

type Report struct {
	PostID   string  `json:"post_id"`
	Comments int     `json:"comments_checked"`
	Drifts   []Drift `json:"drifts"`
	Repaired bool    `json:"repaired"`
}

func (r Report) Consistent() bool { return len(r.Drifts) == 0 }

// Reconcile recomputes every counter of a post and its comments from the ledger and
// the tree. With repair set, drifted counters are overwritten in the same transaction.
func (s *Service) Reconcile(ctx context.Context, postID string, repair bool) (rep Report, err error) {
	ctx, done := s.observe(ctx, "Reconcile",
		attribute.String("post_id", postID), attribute.Bool("repair", repair))
	defer func() { done(err) }()

	run := s.store.View
	if repair {
		run = s.store.WithTx
	}

	err = run(ctx, func(tx store.Tx) error {
		rep = Report{PostID: postID, Drifts: []Drift{}}
		stored, err := tx.StoredCounters(ctx, postID)
		if err != nil {
			return wrapLookup("post", postID, err)
		}
		actual, err := tx.Recount(ctx, postID)
		if err != nil {
			return wrapLookup("post", postID, err)
		}

		rep.Comments = len(actual.Comments)
		rep.Drifts = diff(postID, stored, actual)
		if !repair || len(rep.Drifts) == 0 {
			return nil
		}
		if err := tx.OverwriteCounters(ctx, postID, actual); err != nil {
			return fmt.Errorf("overwrite counters: %w", err)
		}
		rep.Repaired = true
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	for _, d := range rep.Drifts {
		counterDriftTotal.WithLabelValues(d.Entity + "." + d.Field).Inc()
		s.log.Warn("counter drift",
			zap.String("post_id", postID),
			zap.String("entity", d.Entity),
			zap.String("id", d.ID),
			zap.String("field", d.Field),
			zap.Int64("stored", d.Stored),
			zap.Int64("actual", d.Actual),
			zap.Bool("repaired", rep.Repaired))
	}
	return rep, nil
}

func diff(postID string, stored, actual store.Recount) []Drift {
	out := []Drift{}
	add := func(entity, id, field string, s, a int64) {
		if s != a {
			out = append(out, Drift{Entity: entity, ID: id, Field: field, Stored: s, Actual: a})
		}
	}

	add("post", postID, "like_count", stored.Post.LikeCount, actual.Post.LikeCount)
	add("post", postID, "collect_count", stored.Post.CollectCount, actual.Post.CollectCount)
	add("post", postID, "comment_count", stored.Post.CommentCount, actual.Post.CommentCount)

	ids := make([]string, 0, len(actual.Comments))
	for id := range actual.Comments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a := actual.Comments[id]
		st := stored.Comments[id]
		add("comment", id, "reply_count", st.ReplyCount, a.ReplyCount)
		add("comment", id, "like_count", st.LikeCount, a.LikeCount)
	}
	return out
}
