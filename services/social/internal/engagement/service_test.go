package engagement

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/example/social-platform/services/social/internal/store"
)

type fixture struct {
	ctx context.Context
	st  *store.InMemoryStore
	dir *store.InMemoryDirectory
	svc *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewInMemoryStore()
	st.PutPost(store.Post{ID: "post-1", AuthorID: "author"})
	st.PutPost(store.Post{ID: "post-2", AuthorID: "author"})
	dir := store.NewInMemoryDirectory("author", "user-a", "user-b", "user-c", "user-d", "user-e")
	return &fixture{
		ctx: context.Background(),
		st:  st,
		dir: dir,
		svc: NewService(st, dir, zaptest.NewLogger(t)),
	}
}

func (f *fixture) add(t *testing.T, postID, actorID, content, parentID string) CommentView {
	t.Helper()
	c, err := f.svc.AddComment(f.ctx, AddCommentParams{
		PostID:   postID,
		ActorID:  actorID,
		Content:  content,
		ParentID: parentID,
	})
	if err != nil {
		t.Fatalf("add comment %q: %v", content, err)
	}
	return c
}

func (f *fixture) post(t *testing.T, id string) store.Post {
	t.Helper()
	var p store.Post
	err := f.st.View(f.ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.GetPost(f.ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	return p
}

func (f *fixture) comment(t *testing.T, id string) store.Comment {
	t.Helper()
	var c store.Comment
	err := f.st.View(f.ctx, func(tx store.Tx) error {
		var err error
		c, err = tx.GetComment(f.ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("get comment: %v", err)
	}
	return c
}

// consistent fails the test when any counter of the post disagrees with the ledger or tree.
func (f *fixture) consistent(t *testing.T, postID string) {
	t.Helper()
	rep, err := f.svc.Reconcile(f.ctx, postID, false)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rep.Consistent() {
		t.Fatalf("counters drifted: %+v", rep.Drifts)
	}
}

// staleLedger reports a fixed answer for existence checks, as a transaction racing
// another writer would see before that writer commits.
type staleLedger struct {
	store.Store
	answer bool
}

func (s staleLedger) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		return fn(staleTx{Tx: tx, answer: s.answer})
	})
}

type staleTx struct {
	store.Tx
	answer bool
}

func (t staleTx) HasCommentLike(context.Context, string, string) (bool, error) {
	return t.answer, nil
}

func (t staleTx) HasReaction(context.Context, string, string, store.ReactionKind) (bool, error) {
	return t.answer, nil
}
