// Package read holds the read-path policy of the sync engine: per-collection
// freshness, deduplicated remote loads and the cache fallback rules.
package read

import (
	"sort"
	"time"

	"github.com/rzpsarthak13/offlinesync/internal/core"
)

// DefaultTTL applies to collections without their own policy.
const DefaultTTL = 5 * time.Minute

// Policy resolves the cache namespace configuration of each collection.
type Policy struct {
	defaultTTL time.Duration
	namespaces map[string]core.CacheNamespaceConfig
}

// NewPolicy builds a policy. defaultTTL of zero means DefaultTTL.
func NewPolicy(defaultTTL time.Duration, namespaces []core.CacheNamespaceConfig) *Policy {
	if defaultTTL == 0 {
		defaultTTL = DefaultTTL
	}
	p := &Policy{
		defaultTTL: defaultTTL,
		namespaces: make(map[string]core.CacheNamespaceConfig, len(namespaces)),
	}
	for _, ns := range namespaces {
		p.namespaces[ns.Collection] = ns
	}
	return p
}

// Namespace returns the effective configuration for collection.
func (p *Policy) Namespace(collection string) core.CacheNamespaceConfig {
	ns, ok := p.namespaces[collection]
	if !ok {
		ns = core.CacheNamespaceConfig{Collection: collection}
	}
	if ns.TTL == 0 {
		ns.TTL = p.defaultTTL
	}
	return ns
}

// TTL returns how long records of collection stay fresh. Negative means forever.
func (p *Policy) TTL(collection string) time.Duration {
	return p.Namespace(collection).TTL
}

// Retention returns the hard expiry stamped on records fetched from the
// remote, or zero for none.
func (p *Policy) Retention(collection string) time.Duration {
	return p.Namespace(collection).Retention
}

// Indexes returns the declared index fields per collection.
func (p *Policy) Indexes() map[string][]string {
	out := make(map[string][]string, len(p.namespaces))
	for c, ns := range p.namespaces {
		if len(ns.Indexes) > 0 {
			out[c] = append([]string(nil), ns.Indexes...)
		}
	}
	return out
}

// Collections returns the collections with an explicit policy, sorted.
func (p *Policy) Collections() []string {
	out := make([]string, 0, len(p.namespaces))
	for c := range p.namespaces {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// IsStale reports whether a record cached at cachedAt needs a remote refresh.
func (p *Policy) IsStale(collection string, cachedAt, now time.Time) bool {
	ttl := p.TTL(collection)
	if ttl < 0 {
		return false
	}
	return now.Sub(cachedAt) >= ttl
}
