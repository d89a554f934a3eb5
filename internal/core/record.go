package core

import (
	"fmt"
	"time"
)

// Record is the locally cached copy of one document.
type Record struct {
	Collection string  `json:"collection"`
	ID         string  `json:"id"`
	Fields     *Fields `json:"fields"`

	// CachedAt is the last successful sync from the remote, or the local
	// creation time for records that have never synced.
	CachedAt time.Time `json:"cached_at"`

	// UpdatedAt advances on every local or remote write.
	UpdatedAt time.Time `json:"updated_at"`

	// ExpiresAt is an optional hard expiry after which the record may be pruned.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// IsTombstoned marks a record deleted locally whose Delete has not drained yet.
	IsTombstoned bool `json:"is_tombstoned,omitempty"`

	// IsProvisional marks a record created locally that has no server id yet.
	IsProvisional bool `json:"is_provisional,omitempty"`

	// Seq is the insertion sequence assigned by the record store.
	Seq uint64 `json:"seq"`
}

// Clone returns a copy of r with its own Fields.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = r.Fields.Clone()
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

// Expired reports whether the record's hard expiry has passed at now.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// CacheNamespaceConfig holds the per-collection cache policy.
type CacheNamespaceConfig struct {
	// Collection is the collection the policy applies to.
	Collection string `yaml:"collection" json:"collection" koanf:"collection"`

	// TTL is how long a cached record counts as fresh while online.
	// Zero falls back to the cache default; a negative TTL never goes stale.
	TTL time.Duration `yaml:"ttl" json:"ttl" koanf:"ttl"`

	// Retention is the hard expiry stamped on records mirrored from the
	// remote. Zero keeps records until explicitly removed.
	Retention time.Duration `yaml:"retention,omitempty" json:"retention,omitempty" koanf:"retention"`

	// Indexes lists the field names List may filter on.
	Indexes []string `yaml:"indexes,omitempty" json:"indexes,omitempty" koanf:"indexes"`
}

// Filter is an equality constraint on a single field.
type Filter struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

// Matches reports whether fields hold Value under Field. Values are compared
// by their printed form so that decoded JSON numbers match Go integers.
func (f Filter) Matches(fields *Fields) bool {
	v, ok := fields.Get(f.Field)
	if !ok {
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(f.Value)
}

// MatchesAll reports whether fields satisfy every filter.
func MatchesAll(fields *Fields, filters []Filter) bool {
	for _, f := range filters {
		if !f.Matches(fields) {
			return false
		}
	}
	return true
}
