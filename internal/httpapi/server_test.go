package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/offlinesync/internal/connectivity"
	"github.com/rzpsarthak13/offlinesync/internal/kvstore"
	"github.com/rzpsarthak13/offlinesync/internal/remote"
	"github.com/rzpsarthak13/offlinesync/pkg/offlinesync"
)

type testAPI struct {
	facade  *offlinesync.Facade
	remote  *remote.MemoryRemote
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := offlinesync.DefaultConfig()
	cfg.Queue.DrainRate = 0
	cfg.Cache.Collections = []offlinesync.CacheNamespaceConfig{
		{Collection: "lessons", Indexes: []string{"courseId"}},
	}
	monitor := connectivity.NewMonitor(10 * time.Millisecond)
	mem := remote.NewMemoryRemote()

	f, err := offlinesync.New(cfg, mem,
		offlinesync.WithKVStore(kvstore.NewMemoryKVStore()),
		offlinesync.WithMonitor(monitor),
	)
	require.NoError(t, err)
	require.NoError(t, f.Init(context.Background()))
	t.Cleanup(func() {
		_ = f.Close()
		monitor.Close()
	})

	return &testAPI{facade: f, remote: mem, handler: New(f, 0).Routes()}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *Error          `json:"error"`
}

func (a *testAPI) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(bytes.NewReader(env.Data)).Decode(v))
}

func (a *testAPI) goOffline(t *testing.T) {
	t.Helper()
	code, _ := a.do(t, http.MethodPut, "/api/v1/connectivity", `{"online":false}`)
	require.Equal(t, http.StatusOK, code)
	require.False(t, a.facade.IsOnline())
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)

	code, env := a.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	var body map[string]interface{}
	decodeData(t, env, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["online"])
	assert.Equal(t, "closed", body["breaker"])
}

func TestCreateAndGetOnline(t *testing.T) {
	a := newTestAPI(t)

	code, env := a.do(t, http.MethodPost, "/api/v1/collections/courses", `{"title":"Algebra","level":2}`)
	require.Equal(t, http.StatusCreated, code)

	var created offlinesync.Record
	decodeData(t, env, &created)
	assert.Equal(t, "srv_1", created.ID)
	assert.False(t, created.IsProvisional)

	code, env = a.do(t, http.MethodGet, "/api/v1/collections/courses/srv_1", "")
	require.Equal(t, http.StatusOK, code)
	var got offlinesync.Record
	decodeData(t, env, &got)
	title, _ := got.Fields.Get("title")
	assert.Equal(t, "Algebra", title)
	assert.Equal(t, []string{"title", "level"}, got.Fields.Keys())
}

func TestOfflineCreateDrainsOnReconnect(t *testing.T) {
	a := newTestAPI(t)
	a.goOffline(t)

	code, env := a.do(t, http.MethodPost, "/api/v1/collections/courses?provisional_id=temp_1", `{"title":"A1"}`)
	require.Equal(t, http.StatusAccepted, code)
	var created offlinesync.Record
	decodeData(t, env, &created)
	assert.Equal(t, "temp_1", created.ID)
	assert.True(t, created.IsProvisional)

	code, env = a.do(t, http.MethodGet, "/api/v1/sync/queue", "")
	require.Equal(t, http.StatusOK, code)
	var entries []offlinesync.QueueEntry
	decodeData(t, env, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "temp_1", entries[0].TargetID)

	code, _ = a.do(t, http.MethodPost, "/api/v1/sync/drain", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = a.do(t, http.MethodPut, "/api/v1/connectivity", `{"online":true}`)
	require.Equal(t, http.StatusOK, code)

	require.Eventually(t, func() bool {
		n, err := a.facade.PendingCount(context.Background())
		return err == nil && n == 0
	}, 3*time.Second, 10*time.Millisecond)

	code, env = a.do(t, http.MethodGet, "/api/v1/collections/courses/srv_1", "")
	require.Equal(t, http.StatusOK, code)
	var synced offlinesync.Record
	decodeData(t, env, &synced)
	assert.False(t, synced.IsProvisional)

	code, _ = a.do(t, http.MethodGet, "/api/v1/collections/courses/temp_1", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	a.goOffline(t)

	code, env := a.do(t, http.MethodGet, "/api/v1/collections/courses/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_CACHED", env.Error.Code)
	assert.False(t, env.Success)

	code, env = a.do(t, http.MethodPatch, "/api/v1/collections/courses/x", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_ARGUMENT", env.Error.Code)

	code, env = a.do(t, http.MethodPost, "/api/v1/collections/courses", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_BODY", env.Error.Code)

	code, env = a.do(t, http.MethodGet, "/api/v1/collections/lessons?index=title&value=x", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_ARGUMENT", env.Error.Code)

	code, _ = a.do(t, http.MethodPost, "/api/v1/sync/failed/abc/retry", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = a.do(t, http.MethodPost, "/api/v1/sync/failed/99/retry", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "ENTRY_NOT_FOUND", env.Error.Code)

	code, _ = a.do(t, http.MethodPut, "/api/v1/connectivity", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(t, http.MethodPost, "/api/v1/collections/courses/prefetch", `{"ids":["a"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestListUpdateDelete(t *testing.T) {
	a := newTestAPI(t)
	a.remote.Seed("lessons", "l1", offlinesync.NewFields().Set("courseId", "c1"))
	a.remote.Seed("lessons", "l2", offlinesync.NewFields().Set("courseId", "c2"))

	code, env := a.do(t, http.MethodGet, "/api/v1/collections/lessons", "")
	require.Equal(t, http.StatusOK, code)
	var all []offlinesync.Record
	decodeData(t, env, &all)
	assert.Len(t, all, 2)

	code, env = a.do(t, http.MethodGet, "/api/v1/collections/lessons?index=courseId&value=c1", "")
	require.Equal(t, http.StatusOK, code)
	var byCourse []offlinesync.Record
	decodeData(t, env, &byCourse)
	require.Len(t, byCourse, 1)
	assert.Equal(t, "l1", byCourse[0].ID)

	code, env = a.do(t, http.MethodPatch, "/api/v1/collections/lessons/l1", `{"title":"Intro"}`)
	require.Equal(t, http.StatusOK, code)
	var updated offlinesync.Record
	decodeData(t, env, &updated)
	title, _ := updated.Fields.Get("title")
	assert.Equal(t, "Intro", title)

	code, _ = a.do(t, http.MethodDelete, "/api/v1/collections/lessons/l2", "")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Len(t, a.remote.Documents("lessons"), 1)
}

func TestQueueAdminAndStats(t *testing.T) {
	a := newTestAPI(t)
	a.goOffline(t)

	for _, title := range []string{"A", "B"} {
		code, _ := a.do(t, http.MethodPost, "/api/v1/collections/courses", `{"title":"`+title+`"}`)
		require.Equal(t, http.StatusAccepted, code)
	}

	code, env := a.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, code)
	var stats offlinesync.Stats
	decodeData(t, env, &stats)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 2, stats.Collections["courses"])
	assert.False(t, stats.Online)

	code, env = a.do(t, http.MethodGet, "/api/v1/sync/failed", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))

	code, env = a.do(t, http.MethodDelete, "/api/v1/sync/queue", "")
	require.Equal(t, http.StatusOK, code)
	var cleared CountResponse
	decodeData(t, env, &cleared)
	assert.Equal(t, 2, cleared.Count)

	// Provisional records survive a cache clear.
	code, env = a.do(t, http.MethodDelete, "/api/v1/collections/courses", "")
	require.Equal(t, http.StatusOK, code)
	var removed CountResponse
	decodeData(t, env, &removed)
	assert.Equal(t, 0, removed.Count)

	code, env = a.do(t, http.MethodPost, "/api/v1/cache/prune", "")
	require.Equal(t, http.StatusOK, code)
	var pruned CountResponse
	decodeData(t, env, &pruned)
	assert.Equal(t, 0, pruned.Count)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.do(t, http.MethodGet, "/healthz", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "offlinesync_http_requests_total")
}

func TestRateLimit(t *testing.T) {
	a := newTestAPI(t)
	h := New(a.facade, 1).Routes()

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/connectivity", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())

	// Health is outside the limited group.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
