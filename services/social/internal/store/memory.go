package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errReadOnly = errors.New("write in read-only transaction")

type likeKey struct {
	commentID string
	actorID   string
}

type reactionKey struct {
	postID  string
	actorID string
	kind    ReactionKind
}

// InMemoryStore is a development-only in-memory implementation.
// Transactions are serialized behind one mutex and rolled back from an undo log.
type InMemoryStore struct {
	mu           sync.Mutex
	posts        map[string]Post
	comments     map[string]Comment
	commentLikes map[likeKey]struct{}
	reactions    map[reactionKey]struct{}
	outbox       []Event
	lastCreated  time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		posts:        make(map[string]Post),
		comments:     make(map[string]Comment),
		commentLikes: make(map[likeKey]struct{}),
		reactions:    make(map[reactionKey]struct{}),
	}
}

// PutPost registers a post. Posts are created by another service; this stands in for it.
func (s *InMemoryStore) PutPost(p Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.posts[p.ID] = p
}

// Outbox returns a copy of every event enqueued by committed transactions.
func (s *InMemoryStore) Outbox() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.outbox))
	copy(out, s.outbox)
	return out
}

func (s *InMemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *InMemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *InMemoryStore) run(ctx context.Context, readOnly bool, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, readOnly: readOnly}
	err := fn(tx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type memTx struct {
	s        *InMemoryStore
	readOnly bool
	undo     []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) write() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

// ---- ledger ----

func (t *memTx) HasCommentLike(_ context.Context, commentID, actorID string) (bool, error) {
	_, ok := t.s.commentLikes[likeKey{commentID, actorID}]
	return ok, nil
}

func (t *memTx) LikedCommentIDs(_ context.Context, actorID string, commentIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(commentIDs))
	for _, id := range commentIDs {
		if _, ok := t.s.commentLikes[likeKey{id, actorID}]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (t *memTx) InsertCommentLike(_ context.Context, commentID, actorID string) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.s.comments[commentID]; !ok {
		return ErrNotFound
	}
	k := likeKey{commentID, actorID}
	if _, ok := t.s.commentLikes[k]; ok {
		return ErrConflict
	}
	t.s.commentLikes[k] = struct{}{}
	t.undo = append(t.undo, func() { delete(t.s.commentLikes, k) })
	return nil
}

func (t *memTx) DeleteCommentLike(_ context.Context, commentID, actorID string) (bool, error) {
	if err := t.write(); err != nil {
		return false, err
	}
	k := likeKey{commentID, actorID}
	if _, ok := t.s.commentLikes[k]; !ok {
		return false, nil
	}
	delete(t.s.commentLikes, k)
	t.undo = append(t.undo, func() { t.s.commentLikes[k] = struct{}{} })
	return true, nil
}

func (t *memTx) HasReaction(_ context.Context, postID, actorID string, kind ReactionKind) (bool, error) {
	_, ok := t.s.reactions[reactionKey{postID, actorID, kind}]
	return ok, nil
}

func (t *memTx) ReactionKinds(_ context.Context, postID, actorID string) ([]ReactionKind, error) {
	var out []ReactionKind
	for _, k := range []ReactionKind{ReactionLike, ReactionCollect} {
		if _, ok := t.s.reactions[reactionKey{postID, actorID, k}]; ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (t *memTx) InsertReaction(_ context.Context, postID, actorID string, kind ReactionKind) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.s.posts[postID]; !ok {
		return ErrNotFound
	}
	k := reactionKey{postID, actorID, kind}
	if _, ok := t.s.reactions[k]; ok {
		return ErrConflict
	}
	t.s.reactions[k] = struct{}{}
	t.undo = append(t.undo, func() { delete(t.s.reactions, k) })
	return nil
}

func (t *memTx) DeleteReaction(_ context.Context, postID, actorID string, kind ReactionKind) (bool, error) {
	if err := t.write(); err != nil {
		return false, err
	}
	k := reactionKey{postID, actorID, kind}
	if _, ok := t.s.reactions[k]; !ok {
		return false, nil
	}
	delete(t.s.reactions, k)
	t.undo = append(t.undo, func() { t.s.reactions[k] = struct{}{} })
	return true, nil
}

// ---- tree ----

func (t *memTx) GetComment(_ context.Context, id string) (Comment, error) {
	c, ok := t.s.comments[id]
	if !ok {
		return Comment{}, ErrNotFound
	}
	return c, nil
}

func (t *memTx) ListTopLevel(_ context.Context, postID string, sortBy Sort, page PageRequest) (Page[Comment], error) {
	page = page.Normalize()
	var roots []Comment
	for _, c := range t.s.comments {
		if c.PostID == postID && c.ParentID == nil {
			roots = append(roots, c)
		}
	}

	switch sortBy {
	case SortHot:
		sort.Slice(roots, func(i, j int) bool {
			if roots[i].LikeCount != roots[j].LikeCount {
				return roots[i].LikeCount > roots[j].LikeCount
			}
			return newerFirst(roots[i], roots[j])
		})
	default:
		sort.Slice(roots, func(i, j int) bool { return newerFirst(roots[i], roots[j]) })
	}
	return paginate(roots, page), nil
}

func (t *memTx) ListReplies(_ context.Context, parentID string, page PageRequest) (Page[Comment], error) {
	page = page.Normalize()
	replies := t.children(parentID)
	return paginate(replies, page), nil
}

func (t *memTx) RepliesOf(_ context.Context, parentIDs []string) (map[string][]Comment, error) {
	out := make(map[string][]Comment, len(parentIDs))
	for _, id := range parentIDs {
		if replies := t.children(id); len(replies) > 0 {
			out[id] = replies
		}
	}
	return out, nil
}

func (t *memTx) children(parentID string) []Comment {
	var out []Comment
	for _, c := range t.s.comments {
		if c.ParentID != nil && *c.ParentID == parentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[j], out[i]) })
	return out
}

func (t *memTx) InsertComment(_ context.Context, c Comment) (Comment, error) {
	if err := t.write(); err != nil {
		return Comment{}, err
	}
	if _, ok := t.s.posts[c.PostID]; !ok {
		return Comment{}, ErrNotFound
	}
	if c.ParentID != nil {
		if _, ok := t.s.comments[*c.ParentID]; !ok {
			return Comment{}, ErrNotFound
		}
	}

	c.ID = uuid.New().String()
	c.CreatedAt = t.s.nextCreatedAt()
	c.ReplyCount = 0
	c.LikeCount = 0
	t.s.comments[c.ID] = c
	id := c.ID
	t.undo = append(t.undo, func() { delete(t.s.comments, id) })
	return c, nil
}

func (t *memTx) IncrementReplyCount(_ context.Context, id string, delta int64) (int64, error) {
	if err := t.write(); err != nil {
		return 0, err
	}
	c, ok := t.s.comments[id]
	if !ok {
		return 0, ErrNotFound
	}
	prev := c.ReplyCount
	c.ReplyCount += delta
	t.s.comments[id] = c
	t.undo = append(t.undo, func() { t.setComment(id, func(c *Comment) { c.ReplyCount = prev }) })
	return c.ReplyCount, nil
}

func (t *memTx) IncrementLikeCount(_ context.Context, id string, delta int64) (int64, error) {
	if err := t.write(); err != nil {
		return 0, err
	}
	c, ok := t.s.comments[id]
	if !ok {
		return 0, ErrNotFound
	}
	prev := c.LikeCount
	c.LikeCount += delta
	t.s.comments[id] = c
	t.undo = append(t.undo, func() { t.setComment(id, func(c *Comment) { c.LikeCount = prev }) })
	return c.LikeCount, nil
}

func (t *memTx) setComment(id string, mut func(c *Comment)) {
	c, ok := t.s.comments[id]
	if !ok {
		return
	}
	mut(&c)
	t.s.comments[id] = c
}

func (t *memTx) DeleteSubtree(_ context.Context, id string) (int64, error) {
	if err := t.write(); err != nil {
		return 0, err
	}
	if _, ok := t.s.comments[id]; !ok {
		return 0, ErrNotFound
	}

	kids := make(map[string][]string)
	for _, c := range t.s.comments {
		if c.ParentID != nil {
			kids[*c.ParentID] = append(kids[*c.ParentID], c.ID)
		}
	}

	doomed := make(map[string]struct{})
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := doomed[cur]; seen {
			continue
		}
		doomed[cur] = struct{}{}
		stack = append(stack, kids[cur]...)
	}

	for k := range t.s.commentLikes {
		if _, ok := doomed[k.commentID]; ok {
			k := k
			delete(t.s.commentLikes, k)
			t.undo = append(t.undo, func() { t.s.commentLikes[k] = struct{}{} })
		}
	}
	for cid := range doomed {
		c := t.s.comments[cid]
		delete(t.s.comments, cid)
		t.undo = append(t.undo, func() { t.s.comments[c.ID] = c })
	}
	return int64(len(doomed)), nil
}

// ---- posts ----

func (t *memTx) GetPost(_ context.Context, id string) (Post, error) {
	p, ok := t.s.posts[id]
	if !ok {
		return Post{}, ErrNotFound
	}
	return p, nil
}

func (t *memTx) IncrementCommentCount(_ context.Context, postID string, delta int64) (int64, error) {
	return t.bumpPost(postID, func(p *Post) *int64 { return &p.CommentCount }, delta)
}

func (t *memTx) IncrementReactionCount(_ context.Context, postID string, kind ReactionKind, delta int64) (int64, error) {
	if kind == ReactionCollect {
		return t.bumpPost(postID, func(p *Post) *int64 { return &p.CollectCount }, delta)
	}
	return t.bumpPost(postID, func(p *Post) *int64 { return &p.LikeCount }, delta)
}

func (t *memTx) bumpPost(postID string, field func(p *Post) *int64, delta int64) (int64, error) {
	if err := t.write(); err != nil {
		return 0, err
	}
	p, ok := t.s.posts[postID]
	if !ok {
		return 0, ErrNotFound
	}
	prev := p
	*field(&p) += delta
	t.s.posts[postID] = p
	t.undo = append(t.undo, func() { t.s.posts[postID] = prev })
	return *field(&p), nil
}

// ---- reconciliation ----

func (t *memTx) StoredCounters(_ context.Context, postID string) (Recount, error) {
	p, ok := t.s.posts[postID]
	if !ok {
		return Recount{}, ErrNotFound
	}
	rc := Recount{
		Post:     PostCounters{LikeCount: p.LikeCount, CollectCount: p.CollectCount, CommentCount: p.CommentCount},
		Comments: make(map[string]CommentCounters),
	}
	for _, c := range t.s.comments {
		if c.PostID == postID {
			rc.Comments[c.ID] = CommentCounters{ReplyCount: c.ReplyCount, LikeCount: c.LikeCount}
		}
	}
	return rc, nil
}

func (t *memTx) Recount(_ context.Context, postID string) (Recount, error) {
	if _, ok := t.s.posts[postID]; !ok {
		return Recount{}, ErrNotFound
	}
	rc := Recount{Comments: make(map[string]CommentCounters)}
	for _, c := range t.s.comments {
		if c.PostID != postID {
			continue
		}
		rc.Post.CommentCount++
		cc := rc.Comments[c.ID]
		rc.Comments[c.ID] = cc
		if c.ParentID != nil {
			pc := rc.Comments[*c.ParentID]
			pc.ReplyCount++
			rc.Comments[*c.ParentID] = pc
		}
	}
	for k := range t.s.commentLikes {
		if cc, ok := rc.Comments[k.commentID]; ok {
			cc.LikeCount++
			rc.Comments[k.commentID] = cc
		}
	}
	for k := range t.s.reactions {
		if k.postID != postID {
			continue
		}
		switch k.kind {
		case ReactionLike:
			rc.Post.LikeCount++
		case ReactionCollect:
			rc.Post.CollectCount++
		}
	}
	return rc, nil
}

func (t *memTx) OverwriteCounters(_ context.Context, postID string, rc Recount) error {
	if err := t.write(); err != nil {
		return err
	}
	p, ok := t.s.posts[postID]
	if !ok {
		return ErrNotFound
	}
	prevPost := p
	p.LikeCount = rc.Post.LikeCount
	p.CollectCount = rc.Post.CollectCount
	p.CommentCount = rc.Post.CommentCount
	t.s.posts[postID] = p
	t.undo = append(t.undo, func() { t.s.posts[postID] = prevPost })

	for id, cc := range rc.Comments {
		c, ok := t.s.comments[id]
		if !ok || c.PostID != postID {
			continue
		}
		prev := c
		c.ReplyCount = cc.ReplyCount
		c.LikeCount = cc.LikeCount
		t.s.comments[id] = c
		t.undo = append(t.undo, func() { t.s.comments[prev.ID] = prev })
	}
	return nil
}

// ---- outbox ----

func (t *memTx) EnqueueEvent(_ context.Context, ev Event) error {
	if err := t.write(); err != nil {
		return err
	}
	n := len(t.s.outbox)
	t.s.outbox = append(t.s.outbox, ev)
	t.undo = append(t.undo, func() { t.s.outbox = t.s.outbox[:n] })
	return nil
}

// ---- helpers ----

// nextCreatedAt is strictly increasing so "latest first" is total within one process.
func (s *InMemoryStore) nextCreatedAt() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastCreated) {
		now = s.lastCreated.Add(time.Microsecond)
	}
	s.lastCreated = now
	return now
}

func newerFirst(a, b Comment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func paginate(items []Comment, page PageRequest) Page[Comment] {
	out := Page[Comment]{Page: page.Page, Size: page.Size, Total: int64(len(items)), Items: []Comment{}}
	start := page.Offset()
	if start < 0 || start >= len(items) {
		return out
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	out.Items = append(out.Items, items[start:end]...)
	return out
}
