// Package codec converts records and queue entries to and from the bytes
// stored in the KV engine.
package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/rzpsarthak13/offlinesync/internal/core"
)

// ErrCorrupt is returned when stored bytes cannot be decoded.
var ErrCorrupt = errors.New("corrupt stored value")

// EncodeRecord serializes a record for storage.
func EncodeRecord(r *core.Record) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("record cannot be nil")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %s/%s: %w", r.Collection, r.ID, err)
	}
	return data, nil
}

// DecodeRecord deserializes a stored record.
func DecodeRecord(data []byte) (*core.Record, error) {
	var r core.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: record: %v", ErrCorrupt, err)
	}
	if r.Fields == nil {
		r.Fields = core.NewFields()
	}
	return &r, nil
}

// EncodeEntry serializes a queue entry for storage.
func EncodeEntry(e *core.QueueEntry) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("queue entry cannot be nil")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue entry %d: %w", e.ID, err)
	}
	return data, nil
}

// DecodeEntry deserializes a stored queue entry.
func DecodeEntry(data []byte) (*core.QueueEntry, error) {
	var e core.QueueEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: queue entry: %v", ErrCorrupt, err)
	}
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("%w: queue entry %d has kind %q", ErrCorrupt, e.ID, e.Kind)
	}
	return &e, nil
}

// RecordFromDocument builds a clean cached record from a remote document.
// retention, when positive, stamps a hard expiry.
func RecordFromDocument(collection string, doc *core.Document, now time.Time, retention time.Duration) *core.Record {
	r := &core.Record{
		Collection: collection,
		ID:         doc.ID,
		Fields:     doc.Fields.Clone(),
		CachedAt:   now,
		UpdatedAt:  now,
	}
	if !doc.UpdateTime.IsZero() && doc.UpdateTime.After(now) {
		r.UpdatedAt = doc.UpdateTime
	}
	if retention > 0 {
		exp := now.Add(retention)
		r.ExpiresAt = &exp
	}
	return r
}
