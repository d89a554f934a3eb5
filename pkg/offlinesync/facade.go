package offlinesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/offlinesync/internal/codec"
	"github.com/rzpsarthak13/offlinesync/internal/connectivity"
	"github.com/rzpsarthak13/offlinesync/internal/core"
	"github.com/rzpsarthak13/offlinesync/internal/kvstore"
	"github.com/rzpsarthak13/offlinesync/internal/logging"
	"github.com/rzpsarthak13/offlinesync/internal/metrics"
	"github.com/rzpsarthak13/offlinesync/internal/read"
	"github.com/rzpsarthak13/offlinesync/internal/recordstore"
	"github.com/rzpsarthak13/offlinesync/internal/remote"
	"github.com/rzpsarthak13/offlinesync/internal/writeback"
)

// Facade is the single entry point applications use for reads, writes and
// sync control. All methods are safe for concurrent use.
type Facade struct {
	config *Config
	remote *remote.Guarded
	loader *read.Loader
	policy *read.Policy

	kv          core.KVStore
	ownsKV      bool
	store       *recordstore.Store
	queue       *writeback.MutationQueue
	monitor     *connectivity.Monitor
	ownsMonitor bool
	drainer     *Drainer

	observers []DrainObserver
	now       func() time.Time
	newID     func() string
	log       zerolog.Logger

	// localMu serializes multi-step changes to the store and the queue.
	// It is never held across a remote call.
	localMu sync.Mutex

	stateMu     sync.RWMutex
	initialized bool
	closed      bool
	unsubscribe func()
	watchers    sync.WaitGroup
	lastReport  *DrainReport
}

// New creates a Facade over r. A remote that is not already a
// *remote.Guarded is wrapped in one using config.Remote.Guard. Nothing is
// opened until Init.
func New(config *Config, r Remote, opts ...Option) (*Facade, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if r == nil {
		return nil, fmt.Errorf("%w: remote is required", ErrInvalidArgument)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	guarded, ok := r.(*remote.Guarded)
	if !ok {
		guarded = remote.NewGuarded(r, "remote", config.Remote.Guard)
	}

	f := &Facade{
		config: config,
		remote: guarded,
		loader: read.NewLoader(guarded),
		policy: read.NewPolicy(config.Cache.DefaultTTL, config.Cache.Collections),
		now:    time.Now,
		log:    logging.Component("facade"),
	}
	f.newID = f.provisionalID
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// provisionalID returns "temp_{unixMillis}_{random}".
func (f *Facade) provisionalID() string {
	return fmt.Sprintf("temp_%d_%s", f.now().UnixMilli(), uuid.NewString()[:8])
}

// Init opens local storage, subscribes to connectivity changes and, when
// online with queued work, starts a drain. Calling Init twice is a no-op.
func (f *Facade) Init(ctx context.Context) error {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.initialized {
		return nil
	}

	if f.kv == nil {
		kv, err := kvstore.Create(f.config.Store)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		f.kv = kv
		f.ownsKV = true
	}
	f.store = recordstore.New(f.kv, recordstore.WithIndexes(f.policy.Indexes()))
	f.queue = writeback.NewMutationQueue(f.kv, f.config.queueConfig(), writeback.WithClock(f.now))
	if f.monitor == nil {
		f.monitor = connectivity.NewMonitor(f.config.Connectivity.StabilityWindow)
		f.ownsMonitor = true
	}
	f.drainer = newDrainer(f, DrainerConfig{DrainRate: f.config.Queue.DrainRate})

	events, unsubscribe := f.monitor.Subscribe()
	f.unsubscribe = unsubscribe
	f.watchers.Add(1)
	go f.watch(events)
	f.initialized = true

	pending, failed, err := f.queue.Counts(ctx)
	if err != nil {
		f.log.Warn().Err(err).Msg("Failed to count queued mutations")
		return nil
	}
	f.log.Info().Int("pending", pending).Int("failed", failed).Bool("online", f.monitor.IsOnline()).
		Msg("Sync engine initialized")
	if pending > 0 && f.monitor.IsOnline() {
		f.drainer.Kick("startup", true)
	}
	return nil
}

func (f *Facade) watch(events <-chan connectivity.Event) {
	defer f.watchers.Done()
	for ev := range events {
		if ev.Type == connectivity.ConnectionRestored {
			f.drainer.Kick("reconnect", true)
		}
	}
}

func (f *Facade) ensureOpen() error {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	if !f.initialized || f.closed {
		return ErrClosed
	}
	return nil
}

// Close stops background work and releases what the facade opened. The
// remote and any injected KV store or monitor stay open.
func (f *Facade) Close() error {
	f.stateMu.Lock()
	if f.closed {
		f.stateMu.Unlock()
		return nil
	}
	f.closed = true
	initialized := f.initialized
	f.stateMu.Unlock()

	if !initialized {
		return nil
	}
	f.unsubscribe()
	f.watchers.Wait()
	f.drainer.Stop()

	var errs []error
	if err := f.queue.Close(); err != nil {
		errs = append(errs, err)
	}
	if f.ownsMonitor {
		f.monitor.Close()
	}
	if f.ownsKV {
		if err := f.kv.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.log.Info().Msg("Sync engine closed")
	return errors.Join(errs...)
}

// IsOnline reports the monitor's current connectivity.
func (f *Facade) IsOnline() bool {
	if f.monitor == nil {
		return false
	}
	return f.monitor.IsOnline()
}

// SetOnline feeds a connectivity signal to the monitor. Going online only
// takes effect after the stability window.
func (f *Facade) SetOnline(online bool) {
	if f.monitor != nil {
		f.monitor.Report(online)
	}
}

// Monitor returns the connectivity monitor. Nil before Init.
func (f *Facade) Monitor() *connectivity.Monitor {
	return f.monitor
}

// Remote returns the guarded remote.
func (f *Facade) Remote() *remote.Guarded {
	return f.remote
}

// Config returns the facade's configuration.
func (f *Facade) Config() *Config {
	return f.config
}

func targetKey(collection, id string) string {
	return collection + "/" + id
}

func validateTarget(collection, id string) error {
	if err := recordstore.ValidateCollection(collection); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	return nil
}

// cached returns the raw local record or nil when there is none.
func (f *Facade) cached(ctx context.Context, collection, id string) (*Record, error) {
	r, err := f.store.GetRaw(ctx, collection, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	return r, err
}

// mirror stores a remote document unless the target has unresolved queued
// work, in which case the local state wins. It reports whether it stored.
func (f *Facade) mirror(ctx context.Context, collection string, doc *Document) (*Record, bool, error) {
	rec := codec.RecordFromDocument(collection, doc, f.now(), f.policy.Retention(collection))

	f.localMu.Lock()
	defer f.localMu.Unlock()
	dirty, err := f.queue.Unresolved(ctx, collection, doc.ID)
	if err != nil {
		return nil, false, err
	}
	if dirty {
		return rec, false, nil
	}
	if err := f.store.Put(ctx, rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// forget hard-removes a clean cached record the remote no longer has.
func (f *Facade) forget(ctx context.Context, collection, id string) error {
	f.localMu.Lock()
	defer f.localMu.Unlock()
	dirty, err := f.queue.Unresolved(ctx, collection, id)
	if err != nil || dirty {
		return err
	}
	return f.store.Delete(ctx, collection, id)
}

// Get returns one record. Offline, or when the record has local changes or
// is still fresh, it is served from the local store. Otherwise the remote is
// asked and the answer cached; a transient remote failure falls back to the
// cached copy.
func (f *Facade) Get(ctx context.Context, collection, id string) (*Record, error) {
	if err := f.ensureOpen(); err != nil {
		return nil, err
	}
	if err := validateTarget(collection, id); err != nil {
		return nil, err
	}

	cached, err := f.cached(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.IsTombstoned {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	dirty, err := f.queue.Unresolved(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	online := f.IsOnline()
	if f.policy.Decide(collection, cached, dirty, online, f.now()) == read.SourceLocal {
		if cached == nil {
			metrics.CacheReads.WithLabelValues("miss").Inc()
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFoundLocally, collection, id)
		}
		if online {
			metrics.CacheReads.WithLabelValues("hit").Inc()
		} else {
			metrics.CacheReads.WithLabelValues("local").Inc()
		}
		return cached, nil
	}

	doc, err := f.loader.Get(ctx, collection, id)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrRemoteNotFound):
		if ferr := f.forget(ctx, collection, id); ferr != nil {
			f.log.Warn().Err(ferr).Str("target", targetKey(collection, id)).Msg("Failed to drop record missing remotely")
		}
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case read.CanFallBack(err):
		metrics.CacheReads.WithLabelValues("fallback").Inc()
		f.log.Debug().Err(err).Str("target", targetKey(collection, id)).Msg("Remote read failed, serving local copy")
		if cached == nil {
			return nil, fmt.Errorf("%w: %s/%s: %w", ErrNotFoundLocally, collection, id, err)
		}
		return cached, nil
	default:
		return nil, err
	}

	if cached == nil {
		metrics.CacheReads.WithLabelValues("miss").Inc()
	} else {
		metrics.CacheReads.WithLabelValues("stale").Inc()
	}
	rec, stored, err := f.mirror(ctx, collection, doc)
	if err != nil {
		return nil, err
	}
	if !stored {
		// A write was queued while the read was in flight.
		return f.store.Get(ctx, collection, id)
	}
	return rec, nil
}

// List returns the visible records of a collection in insertion order.
// While online and the collection's last listing is stale, the remote is
// listed first and merged into the store; records with queued local
// changes keep their local state.
func (f *Facade) List(ctx context.Context, collection string, opts ...ListOption) ([]*Record, error) {
	if err := f.ensureOpen(); err != nil {
		return nil, err
	}
	if err := recordstore.ValidateCollection(collection); err != nil {
		return nil, err
	}
	var o listOptions
	for _, opt := range opts {
		opt(&o)
	}
	var (
		storeOpts []recordstore.ListOption
		filters   []core.Filter
	)
	if o.index != "" {
		if err := f.store.CheckIndex(collection, o.index); err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, recordstore.WithIndex(o.index, o.value))
		filters = append(filters, core.Filter{Field: o.index, Value: o.value})
	}

	listedAt, listed, err := f.store.ListedAt(ctx, collection)
	if err != nil {
		return nil, err
	}
	if f.policy.DecideList(collection, listedAt, listed, f.IsOnline(), f.now()) == read.SourceRemote {
		if _, err := f.refresh(ctx, collection, filters, storeOpts); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !read.CanFallBack(err) {
				return nil, err
			}
			metrics.CacheReads.WithLabelValues("fallback").Inc()
			f.log.Debug().Err(err).Str("collection", collection).Msg("Remote list failed, serving local records")
		}
	}
	return f.store.List(ctx, collection, storeOpts...)
}

// refresh lists from the remote and merges the result into the store.
func (f *Facade) refresh(ctx context.Context, collection string, filters []core.Filter, storeOpts []recordstore.ListOption) (int, error) {
	docs, err := f.loader.List(ctx, collection, filters)
	if err != nil {
		return 0, err
	}
	now := f.now()

	f.localMu.Lock()
	defer f.localMu.Unlock()
	targets, err := f.queue.UnresolvedTargets(ctx)
	if err != nil {
		return 0, err
	}
	cached, err := f.store.ListIncludingTombstones(ctx, collection, storeOpts...)
	if err != nil {
		return 0, err
	}
	dirty := func(id string) bool {
		_, ok := targets[targetKey(collection, id)]
		return ok
	}
	plan := read.PlanListMerge(collection, docs, cached, dirty, now, f.policy.Retention(collection))
	if err := f.store.PutMany(ctx, plan.Put); err != nil {
		return 0, err
	}
	for _, r := range plan.Remove {
		if err := f.store.Delete(ctx, r.Collection, r.ID); err != nil {
			return 0, err
		}
	}
	if len(filters) == 0 {
		if err := f.store.MarkListed(ctx, collection, now); err != nil {
			return 0, err
		}
	}
	f.log.Debug().Str("collection", collection).Int("put", len(plan.Put)).Int("removed", len(plan.Remove)).
		Msg("Merged remote listing")
	return len(plan.Put), nil
}

// demotable reports whether a failed online write should be queued.
func demotable(ctx context.Context, err error) bool {
	return ctx.Err() == nil && errors.Is(err, core.ErrRemoteTransient)
}

// Create adds a document. Online it is created remotely and the server
// record returned. Offline, or when the remote fails transiently, a
// provisional record is stored and a Create queued.
func (f *Facade) Create(ctx context.Context, collection string, fields *Fields, opts ...CreateOption) (*Record, error) {
	if err := f.ensureOpen(); err != nil {
		return nil, err
	}
	if err := recordstore.ValidateCollection(collection); err != nil {
		return nil, err
	}
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}
	id := o.id
	if id == "" {
		id = f.newID()
	}
	payload := fields.Clone()

	demoted := false
	if f.IsOnline() {
		doc, err := f.remote.Create(ctx, collection, id, payload)
		if err == nil {
			rec := codec.RecordFromDocument(collection, doc, f.now(), f.policy.Retention(collection))
			f.localMu.Lock()
			defer f.localMu.Unlock()
			if err := f.store.Put(ctx, rec); err != nil {
				return nil, err
			}
			return rec, nil
		}
		if !demotable(ctx, err) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		f.log.Debug().Err(err).Str("target", targetKey(collection, id)).Msg("Remote create failed, queueing")
		demoted = true
	}
	return f.createLocal(ctx, collection, id, payload, demoted)
}

func (f *Facade) createLocal(ctx context.Context, collection, id string, payload *Fields, demoted bool) (*Record, error) {
	now := f.now()

	f.localMu.Lock()
	defer f.localMu.Unlock()
	existing, err := f.cached(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateCreate, collection, id)
	}
	if _, err := f.queue.Enqueue(ctx, core.OperationCreate, collection, id, payload); err != nil {
		return nil, err
	}
	rec := &Record{
		Collection:    collection,
		ID:            id,
		Fields:        payload.Clone(),
		CachedAt:      now,
		UpdatedAt:     now,
		IsProvisional: true,
	}
	if err := f.store.Put(ctx, rec); err != nil {
		if _, cerr := f.queue.CancelTarget(ctx, collection, id); cerr != nil {
			f.log.Error().Err(cerr).Str("target", targetKey(collection, id)).Msg("Failed to roll back queued create")
		}
		return nil, err
	}
	f.afterEnqueue(demoted)
	return rec, nil
}

// Update applies a partial patch. Online, for a target without queued work,
// the remote is patched and its result mirrored. Otherwise the local record
// is patched and an Update queued.
func (f *Facade) Update(ctx context.Context, collection, id string, patch *Fields) (*Record, error) {
	if err := f.ensureOpen(); err != nil {
		return nil, err
	}
	if err := validateTarget(collection, id); err != nil {
		return nil, err
	}
	if patch.Len() == 0 {
		return nil, fmt.Errorf("%w: patch is empty", ErrInvalidArgument)
	}

	cached, err := f.cached(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	dirty, err := f.queue.Unresolved(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	demoted := false
	if f.IsOnline() && !dirty && (cached == nil || !cached.IsProvisional) {
		doc, err := f.remote.Update(ctx, collection, id, patch)
		switch {
		case err == nil:
			rec, stored, err := f.mirror(ctx, collection, doc)
			if err != nil {
				return nil, err
			}
			if !stored {
				return f.store.Get(ctx, collection, id)
			}
			return rec, nil
		case errors.Is(err, core.ErrRemoteNotFound):
			if ferr := f.forget(ctx, collection, id); ferr != nil {
				f.log.Warn().Err(ferr).Str("target", targetKey(collection, id)).Msg("Failed to drop record missing remotely")
			}
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
		case !demotable(ctx, err):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		f.log.Debug().Err(err).Str("target", targetKey(collection, id)).Msg("Remote update failed, queueing")
		demoted = true
	}
	return f.updateLocal(ctx, collection, id, patch, demoted)
}

func (f *Facade) updateLocal(ctx context.Context, collection, id string, patch *Fields, demoted bool) (*Record, error) {
	f.localMu.Lock()
	defer f.localMu.Unlock()

	cur, err := f.cached(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFoundLocally, collection, id)
	}
	if cur.IsTombstoned {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}

	orig := cur.Clone()
	cur.Fields.Merge(patch)
	cur.UpdatedAt = f.now()
	if err := f.store.Put(ctx, cur); err != nil {
		return nil, err
	}
	if _, err := f.queue.Enqueue(ctx, core.OperationUpdate, collection, id, patch); err != nil {
		if rerr := f.store.Put(ctx, orig); rerr != nil {
			f.log.Error().Err(rerr).Str("target", targetKey(collection, id)).Msg("Failed to roll back local update")
		}
		return nil, err
	}
	f.afterEnqueue(demoted)
	return cur, nil
}

// Delete removes a document. A provisional record is simply dropped along
// with its queued work. Online, a clean record is deleted remotely.
// Otherwise the record is tombstoned and a Delete queued.
func (f *Facade) Delete(ctx context.Context, collection, id string) error {
	if err := f.ensureOpen(); err != nil {
		return err
	}
	if err := validateTarget(collection, id); err != nil {
		return err
	}

	cached, err := f.cached(ctx, collection, id)
	if err != nil {
		return err
	}
	if cached != nil && (cached.IsProvisional || cached.IsTombstoned) {
		return f.deleteLocal(ctx, collection, id, false)
	}
	dirty, err := f.queue.Unresolved(ctx, collection, id)
	if err != nil {
		return err
	}

	demoted := false
	if f.IsOnline() && !dirty {
		err := f.remote.Delete(ctx, collection, id)
		switch {
		case err == nil, errors.Is(err, core.ErrRemoteNotFound):
			f.localMu.Lock()
			defer f.localMu.Unlock()
			return f.store.Delete(ctx, collection, id)
		case !demotable(ctx, err):
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		f.log.Debug().Err(err).Str("target", targetKey(collection, id)).Msg("Remote delete failed, queueing")
		demoted = true
	}
	return f.deleteLocal(ctx, collection, id, demoted)
}

func (f *Facade) deleteLocal(ctx context.Context, collection, id string, demoted bool) error {
	f.localMu.Lock()
	defer f.localMu.Unlock()

	cur, err := f.cached(ctx, collection, id)
	if err != nil {
		return err
	}
	switch {
	case cur != nil && cur.IsProvisional:
		n, err := f.queue.CancelTarget(ctx, collection, id)
		if err != nil {
			return err
		}
		f.log.Debug().Str("target", targetKey(collection, id)).Int("cancelled", n).Msg("Dropped provisional record")
		return f.store.Delete(ctx, collection, id)
	case cur != nil && cur.IsTombstoned:
		return nil
	}

	if cur != nil {
		tomb := cur.Clone()
		tomb.IsTombstoned = true
		tomb.UpdatedAt = f.now()
		if err := f.store.Put(ctx, tomb); err != nil {
			return err
		}
	}
	if _, err := f.queue.Enqueue(ctx, core.OperationDelete, collection, id, nil); err != nil {
		if cur != nil {
			if rerr := f.store.Put(ctx, cur); rerr != nil {
				f.log.Error().Err(rerr).Str("target", targetKey(collection, id)).Msg("Failed to roll back tombstone")
			}
		}
		return err
	}
	f.afterEnqueue(demoted)
	return nil
}

// afterEnqueue arranges for a queued write to drain while online. A write
// demoted by a remote failure waits out the first backoff step.
func (f *Facade) afterEnqueue(demoted bool) {
	if !f.IsOnline() {
		return
	}
	if demoted {
		f.drainer.ScheduleAfter(f.queue.Backoff(1))
		return
	}
	f.drainer.Kick("scheduled", false)
}

// Drain runs one forced drain pass now and returns its report. It fails with
// ErrOffline while offline and ErrDrainInProgress when a pass is running.
func (f *Facade) Drain(ctx context.Context) (DrainReport, error) {
	if err := f.ensureOpen(); err != nil {
		return DrainReport{}, err
	}
	if !f.IsOnline() {
		return DrainReport{}, ErrOffline
	}
	return f.drainer.Drain(ctx, "manual")
}

// DrainDue starts a background drain of entries whose backoff has elapsed.
// It does nothing while offline.
func (f *Facade) DrainDue() {
	if f.ensureOpen() != nil || !f.IsOnline() {
		return
	}
	f.drainer.Kick("scheduled", false)
}

// Prefetch caches documents ahead of going offline. With no ids the whole
// collection is listed. It returns how many records were stored.
func (f *Facade) Prefetch(ctx context.Context, collection string, ids ...string) (int, error) {
	if err := f.ensureOpen(); err != nil {
		return 0, err
	}
	if err := recordstore.ValidateCollection(collection); err != nil {
		return 0, err
	}
	if !f.IsOnline() {
		return 0, ErrOffline
	}
	if len(ids) == 0 {
		return f.refresh(ctx, collection, nil, nil)
	}

	stored := 0
	for _, id := range ids {
		doc, err := f.loader.Get(ctx, collection, id)
		if errors.Is(err, core.ErrRemoteNotFound) {
			continue
		}
		if err != nil {
			return stored, err
		}
		_, ok, err := f.mirror(ctx, collection, doc)
		if err != nil {
			return stored, err
		}
		if ok {
			stored++
		}
	}
	return stored, nil
}

// dirtyKeep keeps records whose target has unresolved queued work.
func (f *Facade) dirtyKeep(ctx context.Context) (func(*Record) bool, error) {
	targets, err := f.queue.UnresolvedTargets(ctx)
	if err != nil {
		return nil, err
	}
	return func(r *Record) bool {
		_, ok := targets[targetKey(r.Collection, r.ID)]
		return ok
	}, nil
}

// ClearCache drops the clean cached records of a collection. Records with
// queued work survive.
func (f *Facade) ClearCache(ctx context.Context, collection string) (int, error) {
	if err := f.ensureOpen(); err != nil {
		return 0, err
	}
	f.localMu.Lock()
	defer f.localMu.Unlock()
	keep, err := f.dirtyKeep(ctx)
	if err != nil {
		return 0, err
	}
	return f.store.Clear(ctx, collection, keep)
}

// CleanExpired removes records whose retention has passed. Records with
// queued work survive.
func (f *Facade) CleanExpired(ctx context.Context) (int, error) {
	if err := f.ensureOpen(); err != nil {
		return 0, err
	}
	f.localMu.Lock()
	defer f.localMu.Unlock()
	keep, err := f.dirtyKeep(ctx)
	if err != nil {
		return 0, err
	}
	n, err := f.store.CleanExpired(ctx, f.now(), keep)
	if n > 0 {
		metrics.CachePruned.Add(float64(n))
		f.log.Debug().Int("removed", n).Msg("Pruned expired records")
	}
	return n, err
}

// Stats returns record counts per collection and the queue state.
func (f *Facade) Stats(ctx context.Context) (*Stats, error) {
	if err := f.ensureOpen(); err != nil {
		return nil, err
	}
	collections, err := f.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	pending, failed, err := f.queue.Counts(ctx)
	if err != nil {
		return nil, err
	}
	for c, n := range collections {
		metrics.CacheRecords.WithLabelValues(c).Set(float64(n))
	}
	s := &Stats{
		Collections: collections,
		Pending:     pending,
		Failed:      failed,
		Online:      f.IsOnline(),
	}
	f.stateMu.RLock()
	if f.lastReport != nil {
		r := *f.lastReport
		s.LastDrain = &r
	}
	f.stateMu.RUnlock()
	return s, nil
}

// PendingCount returns the number of Pending queue entries.
func (f *Facade) PendingCount(ctx context.Context) (int, error) {
	if err := f.ensureOpen(); err != nil {
		return 0, err
	}
	pending, _, err := f.queue.Counts(ctx)
	return pending, err
}

// FailedCount returns the number of Failed queue entries.
func (f *Facade) FailedCount(ctx context.Context) (int, error) {
	if err := f.ensureOpen(); err != nil {
		return 0, err
	}
	_, failed, err := f.queue.Counts(ctx)
	return failed, err
}

// PendingEntries returns Pending entries in processing order.
func (f *Facade) PendingEntries(ctx context.Context) ([]*QueueEntry, error) {
	if err := f.ensureOpen(); err != nil {
		return nil, err
	}
	return f.queue.PeekPending(ctx)
}

// FailedEntries returns entries that will not be retried automatically.
func (f *Facade) FailedEntries(ctx context.Context) ([]*QueueEntry, error) {
	if err := f.ensureOpen(); err != nil {
		return nil, err
	}
	return f.queue.PeekFailed(ctx)
}

// ClearFailed discards every Failed entry.
func (f *Facade) ClearFailed(ctx context.Context) (int, error) {
	if err := f.ensureOpen(); err != nil {
		return 0, err
	}
	return f.queue.ClearFailed(ctx)
}

// ClearQueue discards every queued entry. Local records are left as they are.
func (f *Facade) ClearQueue(ctx context.Context) (int, error) {
	if err := f.ensureOpen(); err != nil {
		return 0, err
	}
	f.localMu.Lock()
	defer f.localMu.Unlock()
	return f.queue.Clear(ctx)
}

// Retry moves a Failed entry back to Pending with a fresh retry budget and
// starts a drain when online.
func (f *Facade) Retry(ctx context.Context, entryID uint64) (*QueueEntry, error) {
	if err := f.ensureOpen(); err != nil {
		return nil, err
	}
	e, err := f.queue.Requeue(ctx, entryID)
	if err != nil {
		return nil, err
	}
	f.DrainDue()
	return e, nil
}

// notify records the report and hands it to every observer.
func (f *Facade) notify(ctx context.Context, report DrainReport) {
	f.stateMu.Lock()
	r := report
	f.lastReport = &r
	f.stateMu.Unlock()

	for _, o := range f.observers {
		o.OnDrainComplete(ctx, report)
	}
}
