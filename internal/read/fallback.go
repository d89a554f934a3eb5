package read

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/rzpsarthak13/offlinesync/internal/core"
)

// Loader fetches documents from the remote. Concurrent identical requests
// share one remote call.
type Loader struct {
	remote core.Remote
	group  singleflight.Group
}

// NewLoader creates a loader over remote.
func NewLoader(remote core.Remote) *Loader {
	return &Loader{remote: remote}
}

// Get fetches one document.
func (l *Loader) Get(ctx context.Context, collection, id string) (*core.Document, error) {
	v, err := l.do(ctx, "get\x00"+collection+"\x00"+id, func(ctx context.Context) (interface{}, error) {
		return l.remote.Get(ctx, collection, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.Document), nil
}

// List fetches the documents of collection matching filters.
func (l *Loader) List(ctx context.Context, collection string, filters []core.Filter) ([]*core.Document, error) {
	v, err := l.do(ctx, listKey(collection, filters), func(ctx context.Context) (interface{}, error) {
		return l.remote.List(ctx, collection, filters)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*core.Document), nil
}

// do runs fn once per key. The shared call is detached from the first
// caller's cancellation; each caller still stops waiting when its own
// context ends.
func (l *Loader) do(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	shared := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (interface{}, error) {
		return fn(shared)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func listKey(collection string, filters []core.Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, f.Field+"="+fmt.Sprint(f.Value))
	}
	sort.Strings(parts)
	return "list\x00" + collection + "\x00" + strings.Join(parts, "\x00")
}
