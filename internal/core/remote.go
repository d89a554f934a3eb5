package core

import (
	"context"
	"time"
)

// Document is a document as returned by the remote.
type Document struct {
	ID         string
	Fields     *Fields
	UpdateTime time.Time
}

// Remote is the remote document database the engine synchronizes with.
// Implementations return errors wrapping ErrRemoteNotFound for missing
// documents. Any other error is classified by the caller.
type Remote interface {
	// Create stores payload as a new document. Calls carrying an
	// idempotency key already seen must return the original document.
	Create(ctx context.Context, collection, idempotencyKey string, payload *Fields) (*Document, error)

	// Update merges payload into an existing document.
	Update(ctx context.Context, collection, id string, payload *Fields) (*Document, error)

	// Delete removes a document.
	Delete(ctx context.Context, collection, id string) error

	// Get fetches a single document.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// List fetches every document of a collection matching filters.
	List(ctx context.Context, collection string, filters []Filter) ([]*Document, error)
}
