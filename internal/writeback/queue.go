package writeback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rzpsarthak13/offlinesync/internal/codec"
	"github.com/rzpsarthak13/offlinesync/internal/core"
	"github.com/rzpsarthak13/offlinesync/internal/logging"
	"github.com/rzpsarthak13/offlinesync/internal/metrics"
)

var (
	// ErrQueueClosed is returned when operating on a closed queue.
	ErrQueueClosed = errors.New("mutation queue is closed")

	// ErrInvalidOperation is returned when an invalid operation is provided.
	ErrInvalidOperation = errors.New("invalid queue operation")

	// ErrEntryNotFound is returned for entry ids that are not in the queue.
	ErrEntryNotFound = errors.New("queue entry not found")
)

const (
	entryPrefix = "queue:"
	seqKey      = "meta:queue:seq"
)

// Config controls retry behavior of the queue.
type Config struct {
	// MaxRetries is the failure count at which an entry becomes Failed.
	MaxRetries int `yaml:"max_retries" json:"max_retries" koanf:"max_retries"`

	// BackoffSchedule is indexed by min(retryCount-1, len-1) after a failure.
	BackoffSchedule []time.Duration `yaml:"backoff_schedule" json:"backoff_schedule" koanf:"backoff_schedule"`
}

// DefaultConfig returns the default retry policy: 3 attempts, 1s/5s/15s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BackoffSchedule: []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second},
	}
}

// MutationQueue is the durable, ordered log of writes awaiting the remote.
// Entries live under "queue:{seq}" with a zero-padded sequence so that key
// order is insertion order on every engine.
type MutationQueue struct {
	kv     core.KVStore
	config Config
	now    func() time.Time

	// mu serializes every read-modify-write on the queue.
	mu        sync.Mutex
	seq       uint64
	seqLoaded bool
	closed    bool
}

// Option configures a MutationQueue.
type Option func(*MutationQueue)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(q *MutationQueue) { q.now = now }
}

// NewMutationQueue creates a queue over kv.
func NewMutationQueue(kv core.KVStore, config Config, opts ...Option) *MutationQueue {
	def := DefaultConfig()
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if len(config.BackoffSchedule) == 0 {
		config.BackoffSchedule = def.BackoffSchedule
	}
	q := &MutationQueue{kv: kv, config: config, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func entryKey(id uint64) string {
	return fmt.Sprintf("%s%020d", entryPrefix, id)
}

// Backoff returns the delay after the retryCount-th failure.
func (q *MutationQueue) Backoff(retryCount int) time.Duration {
	schedule := q.config.BackoffSchedule
	i := retryCount - 1
	if i < 0 {
		i = 0
	}
	if i > len(schedule)-1 {
		i = len(schedule) - 1
	}
	return schedule[i]
}

// loadAll must be called with mu held.
func (q *MutationQueue) loadAll(ctx context.Context) ([]*core.QueueEntry, error) {
	kvs, err := q.kv.Scan(ctx, entryPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*core.QueueEntry, 0, len(kvs))
	for _, kv := range kvs {
		e, err := codec.DecodeEntry(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrStorageUnavailable, kv.Key, err)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// nextSeq must be called with mu held.
func (q *MutationQueue) nextSeq(ctx context.Context) (uint64, error) {
	if !q.seqLoaded {
		data, err := q.kv.Get(ctx, seqKey)
		switch {
		case errors.Is(err, core.ErrKeyNotFound):
			q.seq = 0
		case err != nil:
			return 0, err
		default:
			n, perr := strconv.ParseUint(string(data), 10, 64)
			if perr != nil {
				return 0, fmt.Errorf("%w: bad queue sequence %q", core.ErrStorageUnavailable, data)
			}
			q.seq = n
		}
		q.seqLoaded = true
	}
	q.seq++
	return q.seq, nil
}

func (q *MutationQueue) put(ctx context.Context, e *core.QueueEntry) error {
	data, err := codec.EncodeEntry(e)
	if err != nil {
		return err
	}
	return q.kv.Set(ctx, entryKey(e.ID), data, 0)
}

// Enqueue appends a mutation. A second Create for the same target fails with
// ErrDuplicateCreate. A Delete removes Pending Updates for the same target,
// since the document they patch is going away.
func (q *MutationQueue) Enqueue(ctx context.Context, kind core.OperationType, collection, targetID string, payload *core.Fields) (*core.QueueEntry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidOperation, kind)
	}
	if collection == "" || targetID == "" {
		return nil, fmt.Errorf("%w: collection and target id are required", ErrInvalidOperation)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	entries, err := q.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	var collapse []*core.QueueEntry
	for _, e := range entries {
		if e.Collection != collection || e.TargetID != targetID {
			continue
		}
		if kind == core.OperationCreate && e.Kind == core.OperationCreate {
			return nil, fmt.Errorf("%w: %s/%s (entry %d)", core.ErrDuplicateCreate, collection, targetID, e.ID)
		}
		if kind == core.OperationDelete && e.Kind == core.OperationUpdate && e.Status == core.StatusPending {
			collapse = append(collapse, e)
		}
	}

	id, err := q.nextSeq(ctx)
	if err != nil {
		return nil, err
	}
	entry := &core.QueueEntry{
		ID:         id,
		Kind:       kind,
		Collection: collection,
		TargetID:   targetID,
		Payload:    payload.Clone(),
		EnqueuedAt: q.now(),
		Status:     core.StatusPending,
	}
	if kind == core.OperationDelete {
		entry.Payload = nil
	}
	if kind == core.OperationCreate {
		entry.IdempotencyKey = targetID
	}

	data, err := codec.EncodeEntry(entry)
	if err != nil {
		return nil, err
	}
	items := map[string][]byte{
		entryKey(id): data,
		seqKey:       []byte(strconv.FormatUint(id, 10)),
	}
	if err := q.kv.BatchSet(ctx, items, 0); err != nil {
		q.seqLoaded = false
		return nil, err
	}

	for _, e := range collapse {
		if err := q.kv.Delete(ctx, entryKey(e.ID)); err != nil {
			return nil, err
		}
		metrics.QueueCollapsed.Inc()
	}
	if len(collapse) > 0 {
		logging.Debug().Str("component", "queue").Str("target", entry.TargetKey()).
			Int("collapsed", len(collapse)).Msg("Delete superseded pending updates")
	}

	metrics.QueueEnqueued.WithLabelValues(string(kind)).Inc()
	return entry, nil
}

func (q *MutationQueue) byStatus(ctx context.Context, status core.EntryStatus) ([]*core.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	entries, err := q.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

// PeekPending returns Pending entries, oldest first.
func (q *MutationQueue) PeekPending(ctx context.Context) ([]*core.QueueEntry, error) {
	return q.byStatus(ctx, core.StatusPending)
}

// PeekFailed returns Failed entries, oldest first.
func (q *MutationQueue) PeekFailed(ctx context.Context) ([]*core.QueueEntry, error) {
	return q.byStatus(ctx, core.StatusFailed)
}

// Entries returns every entry regardless of status, oldest first.
func (q *MutationQueue) Entries(ctx context.Context) ([]*core.QueueEntry, error) {
	return q.byStatus(ctx, "")
}

// Get returns a single entry.
func (q *MutationQueue) Get(ctx context.Context, id uint64) (*core.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	return q.get(ctx, id)
}

func (q *MutationQueue) get(ctx context.Context, id uint64) (*core.QueueEntry, error) {
	data, err := q.kv.Get(ctx, entryKey(id))
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrEntryNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	e, err := codec.DecodeEntry(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}
	return e, nil
}

// MarkSucceeded removes the entry. Removing an absent entry is not an error.
func (q *MutationQueue) MarkSucceeded(ctx context.Context, id uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	return q.kv.Delete(ctx, entryKey(id))
}

// MarkFailed records a transient failure. The entry backs off per the
// schedule, or becomes Failed once it has failed MaxRetries times.
func (q *MutationQueue) MarkFailed(ctx context.Context, id uint64, cause error) (*core.QueueEntry, error) {
	return q.update(ctx, id, func(e *core.QueueEntry) {
		e.RetryCount++
		if e.RetryCount >= q.config.MaxRetries {
			e.Status = core.StatusFailed
			e.LastError = errString(cause)
			e.NextAttemptAt = time.Time{}
			return
		}
		e.NextAttemptAt = q.now().Add(q.Backoff(e.RetryCount))
	})
}

// MarkPermanentFailure marks the entry Failed without further retries.
func (q *MutationQueue) MarkPermanentFailure(ctx context.Context, id uint64, cause error) (*core.QueueEntry, error) {
	return q.update(ctx, id, func(e *core.QueueEntry) {
		e.RetryCount++
		e.Status = core.StatusFailed
		e.LastError = errString(cause)
		e.NextAttemptAt = time.Time{}
	})
}

// Requeue moves a Failed entry back to Pending with a fresh retry budget.
func (q *MutationQueue) Requeue(ctx context.Context, id uint64) (*core.QueueEntry, error) {
	return q.update(ctx, id, func(e *core.QueueEntry) {
		e.Status = core.StatusPending
		e.RetryCount = 0
		e.LastError = ""
		e.NextAttemptAt = time.Time{}
	})
}

func (q *MutationQueue) update(ctx context.Context, id uint64, fn func(*core.QueueEntry)) (*core.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	e, err := q.get(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(e)
	if err := q.put(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func (q *MutationQueue) removeWhere(ctx context.Context, match func(*core.QueueEntry) bool) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrQueueClosed
	}
	entries, err := q.loadAll(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if !match(e) {
			continue
		}
		if err := q.kv.Delete(ctx, entryKey(e.ID)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// ClearFailed removes all Failed entries.
func (q *MutationQueue) ClearFailed(ctx context.Context) (int, error) {
	return q.removeWhere(ctx, func(e *core.QueueEntry) bool { return e.Status == core.StatusFailed })
}

// Clear removes every entry. The sequence keeps increasing afterwards.
func (q *MutationQueue) Clear(ctx context.Context) (int, error) {
	return q.removeWhere(ctx, func(*core.QueueEntry) bool { return true })
}

// CancelTarget removes every entry for a target, whatever its status.
// Used when a record that never reached the remote is deleted locally.
func (q *MutationQueue) CancelTarget(ctx context.Context, collection, targetID string) (int, error) {
	return q.removeWhere(ctx, func(e *core.QueueEntry) bool {
		return e.Collection == collection && e.TargetID == targetID
	})
}

// Retarget points non-Create entries for oldID at newID. It runs after a
// Create drains and the provisional id is replaced by the server id.
func (q *MutationQueue) Retarget(ctx context.Context, collection, oldID, newID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrQueueClosed
	}
	entries, err := q.loadAll(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, e := range entries {
		if e.Collection != collection || e.TargetID != oldID || e.Kind == core.OperationCreate {
			continue
		}
		e.TargetID = newID
		if err := q.put(ctx, e); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// Unresolved reports whether any entry, Pending or Failed, targets the
// document. Such a document has local changes the remote has not seen.
func (q *MutationQueue) Unresolved(ctx context.Context, collection, targetID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrQueueClosed
	}
	entries, err := q.loadAll(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Collection == collection && e.TargetID == targetID {
			return true, nil
		}
	}
	return false, nil
}

// UnresolvedTargets returns the set of "{collection}/{targetId}" keys with
// at least one entry.
func (q *MutationQueue) UnresolvedTargets(ctx context.Context) (map[string]struct{}, error) {
	entries, err := q.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		out[e.TargetKey()] = struct{}{}
	}
	return out, nil
}

// Counts returns the number of Pending and Failed entries.
func (q *MutationQueue) Counts(ctx context.Context) (pending, failed int, err error) {
	entries, err := q.Entries(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		switch e.Status {
		case core.StatusPending:
			pending++
		case core.StatusFailed:
			failed++
		}
	}
	metrics.QueueDepth.WithLabelValues("pending").Set(float64(pending))
	metrics.QueueDepth.WithLabelValues("failed").Set(float64(failed))
	return pending, failed, nil
}

// Close stops the queue. The underlying KV store is owned by the caller.
func (q *MutationQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
