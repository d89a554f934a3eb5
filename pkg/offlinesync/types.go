// Package offlinesync is the public entry point of the offline-first sync
// engine. A Facade serves reads from the local record store or the remote,
// queues writes while offline and drains the queue when connectivity
// returns.
//
// Typical usage:
//
//	f, _ := offlinesync.New(cfg, remote)
//	if err := f.Init(ctx); err != nil { ... }
//	defer f.Close()
//
//	rec, _ := f.Create(ctx, "courses", offlinesync.NewFields().Set("title", "A1"))
//	rec, _ = f.Get(ctx, "courses", rec.ID)
package offlinesync

import (
	"github.com/rzpsarthak13/offlinesync/internal/core"
	"github.com/rzpsarthak13/offlinesync/internal/writeback"
)

type (
	// Record is the locally cached copy of one document.
	Record = core.Record
	// Fields is an ordered field map.
	Fields = core.Fields
	// Document is a document as returned by the remote.
	Document = core.Document
	// Remote is the remote document database.
	Remote = core.Remote
	// Filter is an equality constraint used when listing from the remote.
	Filter = core.Filter
	// QueueEntry is one queued mutation.
	QueueEntry = core.QueueEntry
	// DrainReport summarizes one drain pass.
	DrainReport = core.DrainReport
	// DrainError describes one entry that failed during a drain.
	DrainError = core.DrainError
	// DrainObserver is notified after every drain pass.
	DrainObserver = core.DrainObserver
	// DrainObserverFunc adapts a function to DrainObserver.
	DrainObserverFunc = core.DrainObserverFunc
	// CacheNamespaceConfig is the per-collection cache policy.
	CacheNamespaceConfig = core.CacheNamespaceConfig
)

// Errors returned by the facade. Use errors.Is to test for them.
var (
	ErrNotFound           = core.ErrNotFound
	ErrNotFoundLocally    = core.ErrNotFoundLocally
	ErrDuplicateCreate    = core.ErrDuplicateCreate
	ErrStorageUnavailable = core.ErrStorageUnavailable
	ErrRemotePermanent    = core.ErrRemotePermanent
	ErrUnknownIndex       = core.ErrUnknownIndex
	ErrDrainInProgress    = core.ErrDrainInProgress
	ErrOffline            = core.ErrOffline
	ErrClosed             = core.ErrClosed
	ErrInvalidArgument    = core.ErrInvalidArgument
	ErrEntryNotFound      = writeback.ErrEntryNotFound
)

// NewFields returns an empty field map.
func NewFields() *Fields {
	return core.NewFields()
}

// FieldsFromMap builds a field map from m with keys in sorted order.
func FieldsFromMap(m map[string]interface{}) *Fields {
	return core.FieldsFromMap(m)
}

// Stats is a snapshot of the engine's local state.
type Stats struct {
	// Collections counts visible cached records per collection.
	Collections map[string]int `json:"collections"`
	Pending     int            `json:"pending"`
	Failed      int            `json:"failed"`
	Online      bool           `json:"online"`
	LastDrain   *DrainReport   `json:"last_drain,omitempty"`
}
