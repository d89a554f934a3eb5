// Package recordstore keeps the local copy of remote documents on top of a
// core.KVStore. Records live under "records:{collection}:{id}".
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rzpsarthak13/offlinesync/internal/codec"
	"github.com/rzpsarthak13/offlinesync/internal/core"
)

const (
	recordPrefix = "records:"
	seqKey       = "meta:records:seq"
	listedPrefix = "meta:listed:"
)

// Store is the durable record cache.
type Store struct {
	kv core.KVStore

	// mu serializes writes so sequence numbers are assigned without races.
	mu        sync.Mutex
	seq       uint64
	seqLoaded bool

	indexes map[string]map[string]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithIndexes declares the fields each collection may be listed by.
func WithIndexes(indexes map[string][]string) Option {
	return func(s *Store) {
		for collection, fields := range indexes {
			set := make(map[string]struct{}, len(fields))
			for _, f := range fields {
				set[f] = struct{}{}
			}
			s.indexes[collection] = set
		}
	}
}

// New creates a Store over kv.
func New(kv core.KVStore, opts ...Option) *Store {
	s := &Store{
		kv:      kv,
		indexes: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func recordKey(collection, id string) string {
	return recordPrefix + collection + ":" + id
}

func collectionPrefix(collection string) string {
	return recordPrefix + collection + ":"
}

// ValidateCollection rejects names that would break the key layout.
func ValidateCollection(collection string) error {
	if collection == "" {
		return fmt.Errorf("%w: collection is required", core.ErrInvalidArgument)
	}
	if strings.Contains(collection, ":") {
		return fmt.Errorf("%w: collection %q must not contain ':'", core.ErrInvalidArgument, collection)
	}
	return nil
}

func validate(collection, id string) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", core.ErrInvalidArgument)
	}
	return nil
}

func decode(data []byte) (*core.Record, error) {
	r, err := codec.DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
	}
	return r, nil
}

// GetRaw returns the record including tombstoned ones.
func (s *Store) GetRaw(ctx context.Context, collection, id string) (*core.Record, error) {
	if err := validate(collection, id); err != nil {
		return nil, err
	}
	data, err := s.kv.Get(ctx, recordKey(collection, id))
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// Get returns the record, or ErrNotFound when it is absent or tombstoned.
func (s *Store) Get(ctx context.Context, collection, id string) (*core.Record, error) {
	r, err := s.GetRaw(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if r.IsTombstoned {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrNotFound, collection, id)
	}
	return r, nil
}

type listOptions struct {
	index string
	value interface{}
}

// ListOption narrows a List call.
type ListOption func(*listOptions)

// WithIndex keeps records whose declared index field equals value.
func WithIndex(name string, value interface{}) ListOption {
	return func(o *listOptions) {
		o.index = name
		o.value = value
	}
}

// CheckIndex returns ErrUnknownIndex unless collection declares name.
func (s *Store) CheckIndex(collection, name string) error {
	if _, ok := s.indexes[collection][name]; !ok {
		return fmt.Errorf("%w: %s on %s", core.ErrUnknownIndex, name, collection)
	}
	return nil
}

// List returns a snapshot of visible records in insertion order.
func (s *Store) List(ctx context.Context, collection string, opts ...ListOption) ([]*core.Record, error) {
	return s.list(ctx, collection, false, opts)
}

// ListIncludingTombstones is List without hiding tombstoned records.
func (s *Store) ListIncludingTombstones(ctx context.Context, collection string, opts ...ListOption) ([]*core.Record, error) {
	return s.list(ctx, collection, true, opts)
}

func (s *Store) list(ctx context.Context, collection string, tombstones bool, opts []ListOption) ([]*core.Record, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	var o listOptions
	for _, opt := range opts {
		opt(&o)
	}
	var filter []core.Filter
	if o.index != "" {
		if err := s.CheckIndex(collection, o.index); err != nil {
			return nil, err
		}
		filter = []core.Filter{{Field: o.index, Value: o.value}}
	}

	kvs, err := s.kv.Scan(ctx, collectionPrefix(collection))
	if err != nil {
		return nil, err
	}
	out := make([]*core.Record, 0, len(kvs))
	for _, kv := range kvs {
		r, err := decode(kv.Value)
		if err != nil {
			return nil, err
		}
		if r.IsTombstoned && !tombstones {
			continue
		}
		if !core.MatchesAll(r.Fields, filter) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// nextSeq must be called with mu held.
func (s *Store) nextSeq(ctx context.Context) (uint64, error) {
	if !s.seqLoaded {
		data, err := s.kv.Get(ctx, seqKey)
		switch {
		case errors.Is(err, core.ErrKeyNotFound):
			s.seq = 0
		case err != nil:
			return 0, err
		default:
			n, perr := strconv.ParseUint(string(data), 10, 64)
			if perr != nil {
				return 0, fmt.Errorf("%w: bad sequence %q", core.ErrStorageUnavailable, data)
			}
			s.seq = n
		}
		s.seqLoaded = true
	}
	s.seq++
	return s.seq, nil
}

// prepare assigns r.Seq (keeping an existing record's sequence) and encodes it.
// mu must be held.
func (s *Store) prepare(ctx context.Context, r *core.Record) ([]byte, bool, error) {
	if err := validate(r.Collection, r.ID); err != nil {
		return nil, false, err
	}
	if r.Fields == nil {
		r.Fields = core.NewFields()
	}
	fresh := false
	existing, err := s.GetRaw(ctx, r.Collection, r.ID)
	switch {
	case err == nil:
		r.Seq = existing.Seq
	case errors.Is(err, core.ErrNotFound):
		seq, err := s.nextSeq(ctx)
		if err != nil {
			return nil, false, err
		}
		r.Seq = seq
		fresh = true
	default:
		return nil, false, err
	}
	data, err := codec.EncodeRecord(r)
	if err != nil {
		return nil, false, err
	}
	return data, fresh, nil
}

// Put upserts r by (collection, id). The write is durable when Put returns.
// r.Seq is set to the record's insertion sequence.
func (s *Store) Put(ctx context.Context, r *core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, fresh, err := s.prepare(ctx, r)
	if err != nil {
		return err
	}
	items := map[string][]byte{recordKey(r.Collection, r.ID): data}
	if fresh {
		items[seqKey] = []byte(strconv.FormatUint(s.seq, 10))
	}
	if err := s.kv.BatchSet(ctx, items, 0); err != nil {
		s.seqLoaded = false
		return err
	}
	return nil
}

// PutMany upserts several records in one batch.
func (s *Store) PutMany(ctx context.Context, records []*core.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make(map[string][]byte, len(records)+1)
	anyFresh := false
	for _, r := range records {
		data, fresh, err := s.prepare(ctx, r)
		if err != nil {
			s.seqLoaded = false
			return err
		}
		items[recordKey(r.Collection, r.ID)] = data
		anyFresh = anyFresh || fresh
	}
	if anyFresh {
		items[seqKey] = []byte(strconv.FormatUint(s.seq, 10))
	}
	if err := s.kv.BatchSet(ctx, items, 0); err != nil {
		s.seqLoaded = false
		return err
	}
	return nil
}

// Replace stores r in place of (r.Collection, oldID), keeping the old
// record's insertion sequence, then removes the old record. Without an old
// record it behaves like Put.
func (s *Store) Replace(ctx context.Context, oldID string, r *core.Record) error {
	if err := validate(r.Collection, oldID); err != nil {
		return err
	}
	if oldID == r.ID {
		return s.Put(ctx, r)
	}
	old, err := s.GetRaw(ctx, r.Collection, oldID)
	if errors.Is(err, core.ErrNotFound) {
		return s.Put(ctx, r)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := validate(r.Collection, r.ID); err != nil {
		return err
	}
	if r.Fields == nil {
		r.Fields = core.NewFields()
	}
	r.Seq = old.Seq
	data, err := codec.EncodeRecord(r)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, recordKey(r.Collection, r.ID), data, 0); err != nil {
		return err
	}
	return s.kv.Delete(ctx, recordKey(r.Collection, oldID))
}

// Delete hard-removes a record. Removing a missing record is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := validate(collection, id); err != nil {
		return err
	}
	return s.kv.Delete(ctx, recordKey(collection, id))
}

// Count returns the number of visible records in collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	records, err := s.List(ctx, collection)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Clear removes every record of collection except provisional and
// tombstoned ones and those for which keep returns true.
func (s *Store) Clear(ctx context.Context, collection string, keep func(*core.Record) bool) (int, error) {
	records, err := s.ListIncludingTombstones(ctx, collection)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, r := range records {
		if r.IsProvisional || r.IsTombstoned || (keep != nil && keep(r)) {
			continue
		}
		if err := s.kv.Delete(ctx, recordKey(r.Collection, r.ID)); err != nil {
			return removed, err
		}
		removed++
	}
	if err := s.kv.Delete(ctx, listedPrefix+collection); err != nil {
		return removed, err
	}
	return removed, nil
}

// CleanExpired removes records whose hard expiry has passed at now. It never
// touches provisional or tombstoned records or those for which keep is true.
func (s *Store) CleanExpired(ctx context.Context, now time.Time, keep func(*core.Record) bool) (int, error) {
	kvs, err := s.kv.Scan(ctx, recordPrefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, kv := range kvs {
		r, err := decode(kv.Value)
		if err != nil {
			return removed, err
		}
		if !r.Expired(now) || r.IsProvisional || r.IsTombstoned {
			continue
		}
		if keep != nil && keep(r) {
			continue
		}
		if err := s.kv.Delete(ctx, kv.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Stats returns the number of visible records per collection.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	kvs, err := s.kv.Scan(ctx, recordPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, kv := range kvs {
		r, err := decode(kv.Value)
		if err != nil {
			return nil, err
		}
		if !r.IsTombstoned {
			out[r.Collection]++
		}
	}
	return out, nil
}

// MarkListed remembers that collection was fully listed from the remote at.
func (s *Store) MarkListed(ctx context.Context, collection string, at time.Time) error {
	return s.kv.Set(ctx, listedPrefix+collection, []byte(at.UTC().Format(time.RFC3339Nano)), 0)
}

// ListedAt returns when collection was last fully listed from the remote.
func (s *Store) ListedAt(ctx context.Context, collection string) (time.Time, bool, error) {
	data, err := s.kv.Get(ctx, listedPrefix+collection)
	if errors.Is(err, core.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		return time.Time{}, false, nil
	}
	return at, true, nil
}
