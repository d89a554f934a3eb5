package read

import (
	"errors"
	"time"

	"github.com/rzpsarthak13/offlinesync/internal/codec"
	"github.com/rzpsarthak13/offlinesync/internal/core"
)

// Source says where a read is served from.
type Source int

const (
	// SourceLocal serves the read from the record store.
	SourceLocal Source = iota
	// SourceRemote refreshes from the remote first.
	SourceRemote
)

func (s Source) String() string {
	if s == SourceRemote {
		return "remote"
	}
	return "local"
}

// Decide picks the source for a single-record read. Records with local
// changes the remote has not seen are always served locally, so a refresh
// can never overwrite them.
func (p *Policy) Decide(collection string, cached *core.Record, dirty, online bool, now time.Time) Source {
	if !online {
		return SourceLocal
	}
	if cached == nil {
		return SourceRemote
	}
	if dirty || cached.IsProvisional || cached.IsTombstoned {
		return SourceLocal
	}
	if p.IsStale(collection, cached.CachedAt, now) {
		return SourceRemote
	}
	return SourceLocal
}

// DecideList picks the source for a collection listing. listedAt is when
// the collection was last fully listed from the remote.
func (p *Policy) DecideList(collection string, listedAt time.Time, listed, online bool, now time.Time) Source {
	if !online {
		return SourceLocal
	}
	if !listed || p.IsStale(collection, listedAt, now) {
		return SourceRemote
	}
	return SourceLocal
}

// CanFallBack reports whether a failed remote read may be answered from the
// cache instead.
func CanFallBack(err error) bool {
	return errors.Is(err, core.ErrRemoteTransient)
}

// MergePlan is how a remote listing is applied to the record store.
type MergePlan struct {
	// Put holds fresh records mirrored from remote documents.
	Put []*core.Record
	// Remove holds cached records the remote no longer has.
	Remove []*core.Record
}

// PlanListMerge compares a remote listing with the cached records that
// match the same filters. Targets for which dirty returns true keep their
// local state. Provisional and tombstoned records are never removed.
func PlanListMerge(collection string, docs []*core.Document, cached []*core.Record, dirty func(id string) bool, now time.Time, retention time.Duration) MergePlan {
	var plan MergePlan
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		seen[doc.ID] = struct{}{}
		if dirty != nil && dirty(doc.ID) {
			continue
		}
		plan.Put = append(plan.Put, codec.RecordFromDocument(collection, doc, now, retention))
	}
	for _, r := range cached {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		if r.IsProvisional || r.IsTombstoned || (dirty != nil && dirty(r.ID)) {
			continue
		}
		plan.Remove = append(plan.Remove, r)
	}
	return plan
}
