//go:build integration

package engagement

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/example/social-platform/services/social/internal/store"
)

type pgFixture struct {
	ctx    context.Context
	pool   *pgxpool.Pool
	svc    *Service
	postID string
	author string
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("social"),
		postgres.WithUsername("social"),
		postgres.WithPassword("social"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.MaxConns = 16
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := store.Migrate(ctx, zap.NewNop(), pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &pgFixture{
		ctx:  ctx,
		pool: pool,
		svc:  NewService(store.NewPostgresStore(pool), store.NewPostgresDirectory(pool), zaptest.NewLogger(t)),
	}
	f.author = f.user(t)
	f.postID = uuid.NewString()
	if _, err := pool.Exec(ctx, `INSERT INTO posts (id, author_id) VALUES ($1, $2)`, f.postID, f.author); err != nil {
		t.Fatalf("seed post: %v", err)
	}
	return f
}

func (f *pgFixture) user(t *testing.T) string {
	t.Helper()
	id := uuid.NewString()
	if _, err := f.pool.Exec(f.ctx, `INSERT INTO users (id) VALUES ($1)`, id); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func (f *pgFixture) add(t *testing.T, actorID, content, parentID string) CommentView {
	t.Helper()
	c, err := f.svc.AddComment(f.ctx, AddCommentParams{
		PostID:   f.postID,
		ActorID:  actorID,
		Content:  content,
		ParentID: parentID,
	})
	if err != nil {
		t.Fatalf("add comment %q: %v", content, err)
	}
	return c
}

func (f *pgFixture) consistent(t *testing.T) {
	t.Helper()
	rep, err := f.svc.Reconcile(f.ctx, f.postID, false)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rep.Consistent() {
		t.Fatalf("expected consistent counters, got drift %+v", rep.Drifts)
	}
}

func TestPostgres_ConcurrentLikesDistinctActors(t *testing.T) {
	f := newPGFixture(t)
	c := f.add(t, f.author, "hi", "")

	const n = 40
	actors := make([]string, n)
	for i := range actors {
		actors[i] = f.user(t)
	}

	var g errgroup.Group
	for _, actor := range actors {
		g.Go(func() error {
			res, err := f.svc.ToggleCommentLike(f.ctx, c.ID, actor)
			if err != nil {
				return err
			}
			if !res.Liked {
				return fmt.Errorf("%s: expected liked", actor)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	got, err := f.svc.GetComment(f.ctx, c.ID, Anonymous())
	if err != nil {
		t.Fatalf("get comment: %v", err)
	}
	if got.LikeCount != n {
		t.Fatalf("expected like_count %d, got %d", n, got.LikeCount)
	}
	f.consistent(t)
}

func TestPostgres_ConcurrentLikesSameActor(t *testing.T) {
	f := newPGFixture(t)
	c := f.add(t, f.author, "hi", "")
	actor := f.user(t)

	const m = 25
	var g errgroup.Group
	for i := 0; i < m; i++ {
		g.Go(func() error {
			_, err := f.svc.ToggleCommentLike(f.ctx, c.ID, actor)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	got, err := f.svc.GetComment(f.ctx, c.ID, Anonymous())
	if err != nil {
		t.Fatalf("get comment: %v", err)
	}
	if got.LikeCount < 0 || got.LikeCount > 1 {
		t.Fatalf("expected net change of at most 1, got %d", got.LikeCount)
	}
	f.consistent(t)
}

func TestPostgres_ConcurrentReactions(t *testing.T) {
	f := newPGFixture(t)
	actors := make([]string, 8)
	for i := range actors {
		actors[i] = f.user(t)
	}

	var g errgroup.Group
	for _, actor := range actors {
		for _, kind := range []store.ReactionKind{store.ReactionLike, store.ReactionCollect} {
			g.Go(func() error {
				_, err := f.svc.ToggleReaction(f.ctx, f.postID, actor, kind)
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	pc, err := f.svc.PostCounters(f.ctx, f.postID)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if pc.LikeCount != int64(len(actors)) || pc.CollectCount != int64(len(actors)) {
		t.Fatalf("expected %d likes and collects, got %+v", len(actors), pc)
	}
	f.consistent(t)
}

func TestPostgres_ConcurrentRepliesAndDelete(t *testing.T) {
	f := newPGFixture(t)
	root := f.add(t, f.author, "root", "")
	child := f.add(t, f.author, "child", root.ID)
	replier := f.user(t)
	liker := f.user(t)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		parent := root.ID
		if i%2 == 1 {
			parent = child.ID
		}
		g.Go(func() error {
			_, err := f.svc.AddComment(f.ctx, AddCommentParams{
				PostID: f.postID, ActorID: replier, Content: "reply", ParentID: parent,
			})
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		_, err := f.svc.ToggleCommentLike(f.ctx, child.ID, liker)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		_, err := f.svc.DeleteComment(f.ctx, root.ID, f.author)
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent ops: %v", err)
	}

	var orphans int64
	err := f.pool.QueryRow(f.ctx, `SELECT count(*) FROM comments WHERE post_id = $1`, f.postID).Scan(&orphans)
	if err != nil {
		t.Fatalf("count comments: %v", err)
	}
	if orphans != 0 {
		t.Fatalf("expected the whole thread gone, %d comments survived", orphans)
	}
	pc, err := f.svc.PostCounters(f.ctx, f.postID)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if pc.CommentCount != 0 {
		t.Fatalf("expected comment_count 0, got %d", pc.CommentCount)
	}
	f.consistent(t)
}

func TestPostgres_ConcurrentNestedDeletes(t *testing.T) {
	f := newPGFixture(t)
	root := f.add(t, f.author, "root", "")
	child := f.add(t, f.author, "child", root.ID)
	f.add(t, f.author, "grand", child.ID)

	var g errgroup.Group
	for _, id := range []string{root.ID, child.ID} {
		g.Go(func() error {
			_, err := f.svc.DeleteComment(f.ctx, id, f.author)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent deletes: %v", err)
	}

	pc, err := f.svc.PostCounters(f.ctx, f.postID)
	if err != nil {
		t.Fatalf("counters: %v", err)
	}
	if pc.CommentCount != 0 {
		t.Fatalf("expected comment_count 0, got %d", pc.CommentCount)
	}
	f.consistent(t)
}
