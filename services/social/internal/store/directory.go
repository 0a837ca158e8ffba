package store

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory answers actor existence from the users table owned by the identity service.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) ActorExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&ok)
	switch err := mapErr(err); {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return ok, nil
}

// InMemoryDirectory is a development-only actor registry.
// A permissive directory treats every non-empty id as an existing actor.
type InMemoryDirectory struct {
	mu         sync.RWMutex
	actors     map[string]struct{}
	permissive bool
}

func NewInMemoryDirectory(ids ...string) *InMemoryDirectory {
	d := &InMemoryDirectory{actors: make(map[string]struct{})}
	for _, id := range ids {
		d.actors[id] = struct{}{}
	}
	return d
}

func NewPermissiveDirectory() *InMemoryDirectory {
	d := NewInMemoryDirectory()
	d.permissive = true
	return d
}

func (d *InMemoryDirectory) Register(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[id] = struct{}{}
}

func (d *InMemoryDirectory) ActorExists(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.permissive {
		return true, nil
	}
	_, ok := d.actors[id]
	return ok, nil
}
