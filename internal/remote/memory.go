package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzpsarthak13/offlinesync/internal/core"
)

// Call is one request seen by a MemoryRemote.
type Call struct {
	Op         string
	Collection string
	ID         string
}

type memoryDoc struct {
	id      string
	fields  *core.Fields
	updated time.Time
}

// MemoryRemote is an in-process core.Remote. It backs the "memory" remote
// type and the engine's tests.
type MemoryRemote struct {
	mu          sync.Mutex
	docs        map[string][]*memoryDoc
	idempotency map[string]string
	calls       []Call
	counter     int

	// NextID generates server ids. Defaults to "srv_{n}".
	NextID func() string

	fail func(op, collection, id string) error

	now func() time.Time
}

// NewMemoryRemote creates an empty remote.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		docs:        make(map[string][]*memoryDoc),
		idempotency: make(map[string]string),
		now:         time.Now,
	}
}

func (m *MemoryRemote) before(op, collection, id string) error {
	m.calls = append(m.calls, Call{Op: op, Collection: collection, ID: id})
	if m.fail != nil {
		return m.fail(op, collection, id)
	}
	return nil
}

func (m *MemoryRemote) find(collection, id string) (int, *memoryDoc) {
	for i, d := range m.docs[collection] {
		if d.id == id {
			return i, d
		}
	}
	return -1, nil
}

func toDocument(d *memoryDoc) *core.Document {
	return &core.Document{ID: d.id, Fields: d.fields.Clone(), UpdateTime: d.updated}
}

func notFound(collection, id string) error {
	return fmt.Errorf("%w: %s/%s", core.ErrRemoteNotFound, collection, id)
}

func (m *MemoryRemote) nextID() string {
	if m.NextID != nil {
		return m.NextID()
	}
	m.counter++
	return fmt.Sprintf("srv_%d", m.counter)
}

// SetFail installs a hook consulted before every call. A non-nil result is
// returned instead of performing the call. nil removes the hook.
func (m *MemoryRemote) SetFail(fn func(op, collection, id string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// Create stores payload under a fresh id. A repeated idempotency key returns
// the document created the first time.
func (m *MemoryRemote) Create(ctx context.Context, collection, idempotencyKey string, payload *core.Fields) (*core.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.before("create", collection, idempotencyKey); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		if id, ok := m.idempotency[collection+"/"+idempotencyKey]; ok {
			if _, d := m.find(collection, id); d != nil {
				return toDocument(d), nil
			}
		}
	}
	d := &memoryDoc{id: m.nextID(), fields: payload.Clone(), updated: m.now()}
	if d.fields == nil {
		d.fields = core.NewFields()
	}
	m.docs[collection] = append(m.docs[collection], d)
	if idempotencyKey != "" {
		m.idempotency[collection+"/"+idempotencyKey] = d.id
	}
	return toDocument(d), nil
}

// Update merges payload into an existing document.
func (m *MemoryRemote) Update(ctx context.Context, collection, id string, payload *core.Fields) (*core.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.before("update", collection, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, d := m.find(collection, id)
	if d == nil {
		return nil, notFound(collection, id)
	}
	d.fields.Merge(payload)
	d.updated = m.now()
	return toDocument(d), nil
}

// Delete removes a document.
func (m *MemoryRemote) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.before("delete", collection, id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	i, _ := m.find(collection, id)
	if i < 0 {
		return notFound(collection, id)
	}
	docs := m.docs[collection]
	m.docs[collection] = append(docs[:i:i], docs[i+1:]...)
	return nil
}

// Get fetches one document.
func (m *MemoryRemote) Get(ctx context.Context, collection, id string) (*core.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.before("get", collection, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, d := m.find(collection, id)
	if d == nil {
		return nil, notFound(collection, id)
	}
	return toDocument(d), nil
}

// List returns the documents of collection matching every filter, in
// creation order.
func (m *MemoryRemote) List(ctx context.Context, collection string, filters []core.Filter) ([]*core.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.before("list", collection, ""); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*core.Document, 0, len(m.docs[collection]))
	for _, d := range m.docs[collection] {
		if core.MatchesAll(d.fields, filters) {
			out = append(out, toDocument(d))
		}
	}
	return out, nil
}

// Seed inserts or replaces a document directly, bypassing the fail hook and call
// recording.
func (m *MemoryRemote) Seed(collection, id string, fields *core.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, d := m.find(collection, id); d != nil {
		d.fields = fields.Clone()
		d.updated = m.now()
		return
	}
	m.docs[collection] = append(m.docs[collection], &memoryDoc{id: id, fields: fields.Clone(), updated: m.now()})
}

// Documents returns a snapshot of a collection without recording a call.
func (m *MemoryRemote) Documents(collection string) []*core.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.Document, 0, len(m.docs[collection]))
	for _, d := range m.docs[collection] {
		out = append(out, toDocument(d))
	}
	return out
}

// Calls returns the calls recorded so far.
func (m *MemoryRemote) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns how many calls of op were recorded.
func (m *MemoryRemote) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded calls.
func (m *MemoryRemote) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
