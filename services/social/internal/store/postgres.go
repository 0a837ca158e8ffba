package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the comment tree, the engagement ledger and the counters in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by Postgres.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, pgx.TxOptions{}, fn)
}

func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func (s *PostgresStore) run(ctx context.Context, opts pgx.TxOptions, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

// mapErr folds driver errors into the package sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrConflict
		case "23503", "22P02": // foreign key, malformed uuid
			return ErrNotFound
		}
	}
	return err
}

const commentColumns = `id::text, post_id::text, author_id::text, parent_id::text, reply_to_actor_id::text,
	content, reply_count, like_count, created_at`

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.ParentID, &c.ReplyToActorID,
		&c.Content, &c.ReplyCount, &c.LikeCount, &c.CreatedAt)
	return c, err
}

func (t *pgTx) queryComments(ctx context.Context, q string, args ...any) ([]Comment, error) {
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, mapErr(rows.Err())
}

// ---- ledger ----

func (t *pgTx) HasCommentLike(ctx context.Context, commentID, actorID string) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM comment_likes WHERE comment_id = $1 AND actor_id = $2)`,
		commentID, actorID).Scan(&ok)
	return ok, mapErr(err)
}

func (t *pgTx) LikedCommentIDs(ctx context.Context, actorID string, commentIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(commentIDs))
	if len(commentIDs) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx,
		`SELECT comment_id::text FROM comment_likes WHERE actor_id = $1 AND comment_id = ANY($2::uuid[])`,
		actorID, commentIDs)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, mapErr(rows.Err())
}

func (t *pgTx) InsertCommentLike(ctx context.Context, commentID, actorID string) error {
	if err := t.lockForCounter(ctx, commentID); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO comment_likes (comment_id, actor_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		commentID, actorID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (t *pgTx) DeleteCommentLike(ctx context.Context, commentID, actorID string) (bool, error) {
	if err := t.lockForCounter(ctx, commentID); err != nil {
		return false, err
	}
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM comment_likes WHERE comment_id = $1 AND actor_id = $2`,
		commentID, actorID)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) HasReaction(ctx context.Context, postID, actorID string, kind ReactionKind) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM post_reactions WHERE post_id = $1 AND actor_id = $2 AND kind = $3)`,
		postID, actorID, string(kind)).Scan(&ok)
	return ok, mapErr(err)
}

func (t *pgTx) ReactionKinds(ctx context.Context, postID, actorID string) ([]ReactionKind, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT kind FROM post_reactions WHERE post_id = $1 AND actor_id = $2 ORDER BY kind DESC`,
		postID, actorID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []ReactionKind
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, ReactionKind(k))
	}
	return out, mapErr(rows.Err())
}

func (t *pgTx) InsertReaction(ctx context.Context, postID, actorID string, kind ReactionKind) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO post_reactions (post_id, actor_id, kind) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		postID, actorID, string(kind))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (t *pgTx) DeleteReaction(ctx context.Context, postID, actorID string, kind ReactionKind) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM post_reactions WHERE post_id = $1 AND actor_id = $2 AND kind = $3`,
		postID, actorID, string(kind))
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

// ---- tree ----

func (t *pgTx) GetComment(ctx context.Context, id string) (Comment, error) {
	c, err := scanComment(t.tx.QueryRow(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
	return c, mapErr(err)
}

func (t *pgTx) ListTopLevel(ctx context.Context, postID string, sort Sort, page PageRequest) (Page[Comment], error) {
	page = page.Normalize()
	out := Page[Comment]{Page: page.Page, Size: page.Size, Items: []Comment{}}

	err := t.tx.QueryRow(ctx,
		`SELECT count(*) FROM comments WHERE post_id = $1 AND parent_id IS NULL`, postID).Scan(&out.Total)
	if err != nil {
		return out, mapErr(err)
	}
	if out.Total == 0 {
		return out, nil
	}

	order := `created_at DESC, id DESC`
	if sort == SortHot {
		order = `like_count DESC, created_at DESC, id DESC`
	}
	items, err := t.queryComments(ctx,
		`SELECT `+commentColumns+`
		 FROM comments
		 WHERE post_id = $1 AND parent_id IS NULL
		 ORDER BY `+order+`
		 LIMIT $2 OFFSET $3`,
		postID, page.Size, page.Offset())
	if err != nil {
		return out, err
	}
	if items != nil {
		out.Items = items
	}
	return out, nil
}

func (t *pgTx) ListReplies(ctx context.Context, parentID string, page PageRequest) (Page[Comment], error) {
	page = page.Normalize()
	out := Page[Comment]{Page: page.Page, Size: page.Size, Items: []Comment{}}

	err := t.tx.QueryRow(ctx,
		`SELECT count(*) FROM comments WHERE parent_id = $1`, parentID).Scan(&out.Total)
	if err != nil {
		return out, mapErr(err)
	}
	if out.Total == 0 {
		return out, nil
	}

	items, err := t.queryComments(ctx,
		`SELECT `+commentColumns+`
		 FROM comments
		 WHERE parent_id = $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2 OFFSET $3`,
		parentID, page.Size, page.Offset())
	if err != nil {
		return out, err
	}
	if items != nil {
		out.Items = items
	}
	return out, nil
}

func (t *pgTx) RepliesOf(ctx context.Context, parentIDs []string) (map[string][]Comment, error) {
	out := make(map[string][]Comment, len(parentIDs))
	if len(parentIDs) == 0 {
		return out, nil
	}
	replies, err := t.queryComments(ctx,
		`SELECT `+commentColumns+`
		 FROM comments
		 WHERE parent_id = ANY($1::uuid[])
		 ORDER BY created_at ASC, id ASC`,
		parentIDs)
	if err != nil {
		return nil, err
	}
	for _, r := range replies {
		out[*r.ParentID] = append(out[*r.ParentID], r)
	}
	return out, nil
}

func (t *pgTx) InsertComment(ctx context.Context, c Comment) (Comment, error) {
	if c.ParentID != nil {
		if err := t.lockForCounter(ctx, *c.ParentID); err != nil {
			return Comment{}, err
		}
	}
	out, err := scanComment(t.tx.QueryRow(ctx,
		`INSERT INTO comments (post_id, author_id, parent_id, reply_to_actor_id, content)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+commentColumns,
		c.PostID, c.AuthorID, c.ParentID, c.ReplyToActorID, c.Content))
	return out, mapErr(err)
}

// lockForCounter takes the comment row lock the counter update needs before any
// ledger row is touched, so every writer on a comment locks in the same order.
// Taking it after the foreign key check would upgrade a key-share lock, which
// deadlocks against a subtree delete waiting on the row.
func (t *pgTx) lockForCounter(ctx context.Context, commentID string) error {
	var id string
	err := t.tx.QueryRow(ctx, `SELECT id::text FROM comments WHERE id = $1 FOR NO KEY UPDATE`, commentID).Scan(&id)
	return mapErr(err)
}

func (t *pgTx) IncrementReplyCount(ctx context.Context, id string, delta int64) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx,
		`UPDATE comments SET reply_count = reply_count + $1 WHERE id = $2 RETURNING reply_count`,
		delta, id).Scan(&n)
	return n, mapErr(err)
}

func (t *pgTx) IncrementLikeCount(ctx context.Context, id string, delta int64) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx,
		`UPDATE comments SET like_count = like_count + $1 WHERE id = $2 RETURNING like_count`,
		delta, id).Scan(&n)
	return n, mapErr(err)
}

const subtreeQuery = `
WITH RECURSIVE subtree AS (
    SELECT id FROM comments WHERE id = $1
    UNION ALL
    SELECT c.id FROM comments c JOIN subtree s ON c.parent_id = s.id
)
SELECT id::text FROM subtree`

// DeleteSubtree locks the root, then the whole subtree oldest first, and
// re-walks until no reply slipped in between the walk and the lock. Likes go with their comment
// through the comment_likes foreign key.
func (t *pgTx) DeleteSubtree(ctx context.Context, id string) (int64, error) {
	var root string
	if err := t.tx.QueryRow(ctx, `SELECT id::text FROM comments WHERE id = $1 FOR UPDATE`, id).Scan(&root); err != nil {
		return 0, mapErr(err)
	}

	ids, err := t.subtreeIDs(ctx, id)
	if err != nil {
		return 0, err
	}
	for {
		if _, err := t.tx.Exec(ctx,
			`SELECT id FROM comments WHERE id = ANY($1::uuid[]) ORDER BY created_at, id FOR UPDATE`, ids); err != nil {
			return 0, mapErr(err)
		}
		again, err := t.subtreeIDs(ctx, id)
		if err != nil {
			return 0, err
		}
		if len(again) == len(ids) {
			break
		}
		ids = again
	}

	tag, err := t.tx.Exec(ctx, `DELETE FROM comments WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) subtreeIDs(ctx context.Context, id string) ([]string, error) {
	rows, err := t.tx.Query(ctx, subtreeQuery, id)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, err
		}
		ids = append(ids, cid)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return ids, nil
}

// ---- posts ----

func (t *pgTx) GetPost(ctx context.Context, id string) (Post, error) {
	var p Post
	err := t.tx.QueryRow(ctx,
		`SELECT id::text, author_id::text, like_count, collect_count, comment_count, created_at
		 FROM posts WHERE id = $1`, id).
		Scan(&p.ID, &p.AuthorID, &p.LikeCount, &p.CollectCount, &p.CommentCount, &p.CreatedAt)
	return p, mapErr(err)
}

func (t *pgTx) IncrementCommentCount(ctx context.Context, postID string, delta int64) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx,
		`UPDATE posts SET comment_count = comment_count + $1 WHERE id = $2 RETURNING comment_count`,
		delta, postID).Scan(&n)
	return n, mapErr(err)
}

func (t *pgTx) IncrementReactionCount(ctx context.Context, postID string, kind ReactionKind, delta int64) (int64, error) {
	q := `UPDATE posts SET like_count = like_count + $1 WHERE id = $2 RETURNING like_count`
	if kind == ReactionCollect {
		q = `UPDATE posts SET collect_count = collect_count + $1 WHERE id = $2 RETURNING collect_count`
	}
	var n int64
	err := t.tx.QueryRow(ctx, q, delta, postID).Scan(&n)
	return n, mapErr(err)
}

// ---- reconciliation ----

func (t *pgTx) StoredCounters(ctx context.Context, postID string) (Recount, error) {
	rc := Recount{Comments: make(map[string]CommentCounters)}
	err := t.tx.QueryRow(ctx,
		`SELECT like_count, collect_count, comment_count FROM posts WHERE id = $1`, postID).
		Scan(&rc.Post.LikeCount, &rc.Post.CollectCount, &rc.Post.CommentCount)
	if err != nil {
		return rc, mapErr(err)
	}

	rows, err := t.tx.Query(ctx,
		`SELECT id::text, reply_count, like_count FROM comments WHERE post_id = $1`, postID)
	if err != nil {
		return rc, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var cc CommentCounters
		if err := rows.Scan(&id, &cc.ReplyCount, &cc.LikeCount); err != nil {
			return rc, err
		}
		rc.Comments[id] = cc
	}
	return rc, mapErr(rows.Err())
}

func (t *pgTx) Recount(ctx context.Context, postID string) (Recount, error) {
	rc := Recount{Comments: make(map[string]CommentCounters)}
	err := t.tx.QueryRow(ctx, `
SELECT
    (SELECT count(*) FROM post_reactions WHERE post_id = p.id AND kind = 'LIKE'),
    (SELECT count(*) FROM post_reactions WHERE post_id = p.id AND kind = 'COLLECT'),
    (SELECT count(*) FROM comments WHERE post_id = p.id)
FROM posts p
WHERE p.id = $1`, postID).Scan(&rc.Post.LikeCount, &rc.Post.CollectCount, &rc.Post.CommentCount)
	if err != nil {
		return rc, mapErr(err)
	}

	rows, err := t.tx.Query(ctx, `
SELECT c.id::text,
       (SELECT count(*) FROM comments r WHERE r.parent_id = c.id),
       (SELECT count(*) FROM comment_likes l WHERE l.comment_id = c.id)
FROM comments c
WHERE c.post_id = $1`, postID)
	if err != nil {
		return rc, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var cc CommentCounters
		if err := rows.Scan(&id, &cc.ReplyCount, &cc.LikeCount); err != nil {
			return rc, err
		}
		rc.Comments[id] = cc
	}
	return rc, mapErr(rows.Err())
}

func (t *pgTx) OverwriteCounters(ctx context.Context, postID string, rc Recount) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE posts SET like_count = $2, collect_count = $3, comment_count = $4 WHERE id = $1`,
		postID, rc.Post.LikeCount, rc.Post.CollectCount, rc.Post.CommentCount)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if len(rc.Comments) == 0 {
		return nil
	}

	ids := make([]string, 0, len(rc.Comments))
	replies := make([]int64, 0, len(rc.Comments))
	likes := make([]int64, 0, len(rc.Comments))
	for id, cc := range rc.Comments {
		ids = append(ids, id)
		replies = append(replies, cc.ReplyCount)
		likes = append(likes, cc.LikeCount)
	}
	_, err = t.tx.Exec(ctx, `
UPDATE comments c
SET reply_count = v.reply_count, like_count = v.like_count
FROM unnest($2::uuid[], $3::bigint[], $4::bigint[]) AS v(id, reply_count, like_count)
WHERE c.id = v.id AND c.post_id = $1`, postID, ids, replies, likes)
	return mapErr(err)
}

// ---- outbox ----

func (t *pgTx) EnqueueEvent(ctx context.Context, ev Event) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO social_outbox (id, event_type, payload) VALUES ($1, $2, $3)`,
		uuid.New(), ev.Subject, []byte(ev.Payload))
	return mapErr(err)
}
