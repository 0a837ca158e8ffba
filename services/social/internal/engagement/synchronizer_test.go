package engagement

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/example/social-platform/services/social/internal/store"
)

func TestAddComment_TopLevelAndReply(t *testing.T) {
	f := newFixture(t)

	c1 := f.add(t, "post-1", "user-a", "hi", "")
	if got := f.post(t, "post-1").CommentCount; got != 1 {
		t.Fatalf("expected comment_count 1, got %d", got)
	}
	if c1.ReplyCount != 0 {
		t.Fatalf("expected reply_count 0, got %d", c1.ReplyCount)
	}

	reply := f.add(t, "post-1", "user-b", "nice", c1.ID)
	if reply.ParentID == nil || *reply.ParentID != c1.ID {
		t.Fatalf("expected parent %s, got %v", c1.ID, reply.ParentID)
	}
	if got := f.comment(t, c1.ID).ReplyCount; got != 1 {
		t.Fatalf("expected c1 reply_count 1, got %d", got)
	}
	if got := f.post(t, "post-1").CommentCount; got != 2 {
		t.Fatalf("expected comment_count 2, got %d", got)
	}
	f.consistent(t, "post-1")
}

func TestAddComment_TrimsContent(t *testing.T) {
	f := newFixture(t)
	c := f.add(t, "post-1", "user-a", "  padded \n", "")
	if c.Content != "padded" {
		t.Fatalf("expected trimmed content, got %q", c.Content)
	}
}

func TestAddComment_Validation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]AddCommentParams{
		"blank":                   {PostID: "post-1", ActorID: "user-a", Content: "   "},
		"too long":                {PostID: "post-1", ActorID: "user-a", Content: strings.Repeat("é", MaxContentLength+1)},
		"reply-to without parent": {PostID: "post-1", ActorID: "user-a", Content: "x", ReplyToActorID: "user-b"},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.AddComment(f.ctx, p)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field == "" {
				t.Fatalf("expected *ValidationError with a field, got %#v", err)
			}
		})
	}

	if _, err := f.svc.AddComment(f.ctx, AddCommentParams{
		PostID: "post-1", ActorID: "user-a", Content: strings.Repeat("é", MaxContentLength),
	}); err != nil {
		t.Fatalf("expected %d code points to be accepted, got %v", MaxContentLength, err)
	}
}

func TestAddComment_CrossPostParentRejected(t *testing.T) {
	f := newFixture(t)
	other := f.add(t, "post-2", "user-a", "on post 2", "")
	before1, before2 := f.post(t, "post-1"), f.post(t, "post-2")
	events := len(f.st.Outbox())

	_, err := f.svc.AddComment(f.ctx, AddCommentParams{
		PostID: "post-1", ActorID: "user-e", Content: "hey", ParentID: other.ID,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	if after := f.post(t, "post-1"); after.CommentCount != before1.CommentCount {
		t.Fatalf("post-1 comment_count changed: %d -> %d", before1.CommentCount, after.CommentCount)
	}
	if after := f.post(t, "post-2"); after.CommentCount != before2.CommentCount {
		t.Fatalf("post-2 comment_count changed: %d -> %d", before2.CommentCount, after.CommentCount)
	}
	if got := f.comment(t, other.ID).ReplyCount; got != 0 {
		t.Fatalf("expected parent reply_count unchanged, got %d", got)
	}
	if got := len(f.st.Outbox()); got != events {
		t.Fatalf("expected no new events, got %d", got-events)
	}
}

func TestAddComment_NotFound(t *testing.T) {
	f := newFixture(t)
	root := f.add(t, "post-1", "user-a", "root", "")

	cases := map[string]AddCommentParams{
		"unknown post":     {PostID: "missing", ActorID: "user-a", Content: "x"},
		"unknown parent":   {PostID: "post-1", ActorID: "user-a", Content: "x", ParentID: "missing"},
		"unknown actor":    {PostID: "post-1", ActorID: "ghost", Content: "x"},
		"unknown reply-to": {PostID: "post-1", ActorID: "user-a", Content: "x", ParentID: root.ID, ReplyToActorID: "ghost"},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f.svc.AddComment(f.ctx, p); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
	f.consistent(t, "post-1")
}

func TestAddComment_ReplyTo(t *testing.T) {
	f := newFixture(t)
	root := f.add(t, "post-1", "user-a", "root", "")
	c, err := f.svc.AddComment(f.ctx, AddCommentParams{
		PostID: "post-1", ActorID: "user-b", Content: "@a", ParentID: root.ID, ReplyToActorID: "user-a",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if c.ReplyToActorID == nil || *c.ReplyToActorID != "user-a" {
		t.Fatalf("expected reply_to_actor_id user-a, got %v", c.ReplyToActorID)
	}
}

func TestToggleCommentLike_Alternates(t *testing.T) {
	f := newFixture(t)
	c1 := f.add(t, "post-1", "user-a", "hi", "")

	res, err := f.svc.ToggleCommentLike(f.ctx, c1.ID, "user-c")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !res.Liked || res.LikeCount != 1 {
		t.Fatalf("expected liked=true count=1, got %+v", res)
	}

	res, err = f.svc.ToggleCommentLike(f.ctx, c1.ID, "user-c")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if res.Liked || res.LikeCount != 0 {
		t.Fatalf("expected liked=false count=0, got %+v", res)
	}
	f.consistent(t, "post-1")
}

func TestToggleCommentLike_NotFound(t *testing.T) {
	f := newFixture(t)
	c1 := f.add(t, "post-1", "user-a", "hi", "")

	if _, err := f.svc.ToggleCommentLike(f.ctx, "missing", "user-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown comment, got %v", err)
	}
	if _, err := f.svc.ToggleCommentLike(f.ctx, c1.ID, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown actor, got %v", err)
	}
}

func TestToggleCommentLike_ConflictSettlesWithoutIncrement(t *testing.T) {
	f := newFixture(t)
	c1 := f.add(t, "post-1", "user-a", "hi", "")
	if _, err := f.svc.ToggleCommentLike(f.ctx, c1.ID, "user-b"); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	// The check misses the committed like, so the insert hits the unique key.
	racy := NewService(staleLedger{Store: f.st, answer: false}, f.dir, zaptest.NewLogger(t))
	res, err := racy.ToggleCommentLike(f.ctx, c1.ID, "user-b")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !res.Liked || res.LikeCount != 1 {
		t.Fatalf("expected settled liked=true count=1, got %+v", res)
	}
	f.consistent(t, "post-1")
}

func TestToggleCommentLike_DeleteOfAbsentIsNoop(t *testing.T) {
	f := newFixture(t)
	c1 := f.add(t, "post-1", "user-a", "hi", "")

	racy := NewService(staleLedger{Store: f.st, answer: true}, f.dir, zaptest.NewLogger(t))
	res, err := racy.ToggleCommentLike(f.ctx, c1.ID, "user-b")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if res.Liked || res.LikeCount != 0 {
		t.Fatalf("expected liked=false count=0, got %+v", res)
	}
	f.consistent(t, "post-1")
}

func TestToggleReaction_Independence(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.ToggleReaction(f.ctx, "post-1", "user-d", store.ReactionLike)
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if !res.Active || res.Count != 1 || res.Post.LikeCount != 1 {
		t.Fatalf("expected like 0->1, got %+v", res)
	}

	res, err = f.svc.ToggleReaction(f.ctx, "post-1", "user-d", store.ReactionCollect)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !res.Active || res.Count != 1 || res.Post.LikeCount != 1 {
		t.Fatalf("expected collect 0->1 with like untouched, got %+v", res)
	}

	res, err = f.svc.ToggleReaction(f.ctx, "post-1", "user-d", store.ReactionLike)
	if err != nil {
		t.Fatalf("unlike: %v", err)
	}
	if res.Active || res.Count != 0 {
		t.Fatalf("expected like 1->0, got %+v", res)
	}
	if res.Post.CollectCount != 1 {
		t.Fatalf("expected collect_count unchanged at 1, got %d", res.Post.CollectCount)
	}
	f.consistent(t, "post-1")
}

func TestToggleReaction_Errors(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.ToggleReaction(f.ctx, "post-1", "user-a", store.ReactionKind("LOVE")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown kind, got %v", err)
	}
	if _, err := f.svc.ToggleReaction(f.ctx, "missing", "user-a", store.ReactionLike); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown post, got %v", err)
	}
	if _, err := f.svc.ToggleReaction(f.ctx, "post-1", "ghost", store.ReactionLike); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown actor, got %v", err)
	}
}

func TestToggleReaction_ConflictSettles(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.ToggleReaction(f.ctx, "post-1", "user-a", store.ReactionCollect); err != nil {
		t.Fatalf("collect: %v", err)
	}

	racy := NewService(staleLedger{Store: f.st, answer: false}, f.dir, zaptest.NewLogger(t))
	res, err := racy.ToggleReaction(f.ctx, "post-1", "user-a", store.ReactionCollect)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !res.Active || res.Count != 1 {
		t.Fatalf("expected settled active=true count=1, got %+v", res)
	}
	f.consistent(t, "post-1")
}

func TestMutationsEnqueueEvents(t *testing.T) {
	f := newFixture(t)
	c1 := f.add(t, "post-1", "user-a", "hi", "")
	if _, err := f.svc.ToggleCommentLike(f.ctx, c1.ID, "user-b"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := f.svc.ToggleReaction(f.ctx, "post-1", "user-b", store.ReactionLike); err != nil {
		t.Fatalf("react: %v", err)
	}
	if _, err := f.svc.DeleteComment(f.ctx, c1.ID, "user-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	events := f.st.Outbox()
	want := []string{SubjectCommentCreated, SubjectCommentLikeToggled, SubjectPostReactionToggled, SubjectCommentDeleted}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.Subject != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], ev.Subject)
		}
	}

	var deleted CommentDeletedEvent
	if err := json.Unmarshal(events[3].Payload, &deleted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if deleted.CommentID != c1.ID || deleted.Removed != 1 {
		t.Fatalf("unexpected delete event: %+v", deleted)
	}
}
