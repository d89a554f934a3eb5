package offlinesync

import (
	"context"
)

// Collection scopes the facade's operations to one collection.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Get returns one record, consulting the remote when the cached copy is
	// missing or stale and the engine is online.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns the visible records in insertion order.
	List(ctx context.Context, opts ...ListOption) ([]*Record, error)

	// Create adds a document. Offline it becomes a provisional record.
	Create(ctx context.Context, fields *Fields, opts ...CreateOption) (*Record, error)

	// Update applies a partial patch.
	Update(ctx context.Context, id string, patch *Fields) (*Record, error)

	// Delete removes a document.
	Delete(ctx context.Context, id string) error

	// Prefetch caches the given documents, or the whole collection.
	Prefetch(ctx context.Context, ids ...string) (int, error)

	// Clear drops the clean cached records of the collection.
	Clear(ctx context.Context) (int, error)
}

// collectionHandle binds a collection name to the facade.
type collectionHandle struct {
	f    *Facade
	name string
}

// Collection returns a handle for name. Handles are cheap and hold no state
// of their own.
func (f *Facade) Collection(name string) Collection {
	return &collectionHandle{f: f, name: name}
}

func (c *collectionHandle) Name() string {
	return c.name
}

func (c *collectionHandle) Get(ctx context.Context, id string) (*Record, error) {
	return c.f.Get(ctx, c.name, id)
}

func (c *collectionHandle) List(ctx context.Context, opts ...ListOption) ([]*Record, error) {
	return c.f.List(ctx, c.name, opts...)
}

func (c *collectionHandle) Create(ctx context.Context, fields *Fields, opts ...CreateOption) (*Record, error) {
	return c.f.Create(ctx, c.name, fields, opts...)
}

func (c *collectionHandle) Update(ctx context.Context, id string, patch *Fields) (*Record, error) {
	return c.f.Update(ctx, c.name, id, patch)
}

func (c *collectionHandle) Delete(ctx context.Context, id string) error {
	return c.f.Delete(ctx, c.name, id)
}

func (c *collectionHandle) Prefetch(ctx context.Context, ids ...string) (int, error) {
	return c.f.Prefetch(ctx, c.name, ids...)
}

func (c *collectionHandle) Clear(ctx context.Context) (int, error) {
	return c.f.ClearCache(ctx, c.name)
}
