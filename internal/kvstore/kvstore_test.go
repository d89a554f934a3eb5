package kvstore

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/offlinesync/internal/core"
)

func engines(t *testing.T) map[string]func(t *testing.T) core.KVStore {
	return map[string]func(t *testing.T) core.KVStore{
		"memory": func(t *testing.T) core.KVStore {
			return NewMemoryKVStore()
		},
		"badger": func(t *testing.T) core.KVStore {
			s, err := NewBadgerKVStore("", true)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) core.KVStore {
			s, err := NewSQLiteKVStore(filepath.Join(t.TempDir(), "kv.db"), false)
			require.NoError(t, err)
			return s
		},
	}
}

func TestEngines(t *testing.T) {
	for name, open := range engines(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("get set delete", func(t *testing.T) {
				s := open(t)
				defer s.Close()
				testGetSetDelete(t, s)
			})
			t.Run("scan prefix", func(t *testing.T) {
				s := open(t)
				defer s.Close()
				testScanPrefix(t, s)
			})
			t.Run("batch set", func(t *testing.T) {
				s := open(t)
				defer s.Close()
				testBatchSet(t, s)
			})
			t.Run("closed", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Close())
				_, err := s.Get(context.Background(), "k")
				assert.ErrorIs(t, err, core.ErrStorageUnavailable)
				assert.ErrorIs(t, s.Set(context.Background(), "k", []byte("v"), 0), core.ErrStorageUnavailable)
			})
		})
	}
}

func testGetSetDelete(t *testing.T, s core.KVStore) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "records:courses:1", []byte(`{"a":1}`), 0))
	got, err := s.Get(ctx, "records:courses:1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	ok, err := s.Exists(ctx, "records:courses:1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Set(ctx, "records:courses:1", []byte(`{"a":2}`), 0))
	got, err = s.Get(ctx, "records:courses:1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(got))

	require.NoError(t, s.Delete(ctx, "records:courses:1"))
	require.NoError(t, s.Delete(ctx, "records:courses:1"))
	ok, err = s.Exists(ctx, "records:courses:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testScanPrefix(t *testing.T, s core.KVStore) {
	ctx := context.Background()
	for _, k := range []string{"queue:00000000000000000002", "queue:00000000000000000001", "records:a:1", "queue:00000000000000000010", "meta:queue:seq"} {
		require.NoError(t, s.Set(ctx, k, []byte(k), 0))
	}

	kvs, err := s.Scan(ctx, "queue:")
	require.NoError(t, err)
	keys := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		keys = append(keys, kv.Key)
		assert.Equal(t, kv.Key, string(kv.Value))
	}
	assert.Equal(t, []string{
		"queue:00000000000000000001",
		"queue:00000000000000000002",
		"queue:00000000000000000010",
	}, keys)

	kvs, err = s.Scan(ctx, "nothing:")
	require.NoError(t, err)
	assert.Empty(t, kvs)
}

func testBatchSet(t *testing.T, s core.KVStore) {
	ctx := context.Background()
	items := make(map[string][]byte)
	for i := 0; i < 50; i++ {
		items["records:b:"+strconv.Itoa(i)] = []byte(strconv.Itoa(i))
	}
	require.NoError(t, s.BatchSet(ctx, items, 0))

	kvs, err := s.Scan(ctx, "records:b:")
	require.NoError(t, err)
	assert.Len(t, kvs, 50)
}

func TestMemoryTTL(t *testing.T) {
	s := NewMemoryKVStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
	kvs, err := s.Scan(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, kvs)
}

func TestBadgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBadgerKVStore(dir, false)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "queue:00000000000000000001", []byte("entry"), 0))
	require.NoError(t, s.Close())

	s, err = NewBadgerKVStore(dir, false)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "queue:00000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "entry", string(got))
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	s, err := NewSQLiteKVStore(path, false)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "records:c:1", []byte("x"), 0))
	require.NoError(t, s.Close())

	s, err = NewSQLiteKVStore(path, false)
	require.NoError(t, err)
	defer s.Close()
	ok, err := s.Exists(ctx, "records:c:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFactoryRegistry(t *testing.T) {
	assert.Equal(t, []string{"badger", "dynamodb", "memory", "redis", "sqlite"}, GetRegisteredTypes())

	s, err := Create(KVStoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Create(KVStoreConfig{Type: "etcd"})
	assert.Error(t, err)
	_, err = Create(KVStoreConfig{})
	assert.Error(t, err)

	assert.Error(t, Validate(KVStoreConfig{Type: "badger"}))
	assert.NoError(t, Validate(KVStoreConfig{Type: "badger", InMemory: true}))
	assert.Error(t, Validate(KVStoreConfig{Type: "redis", Endpoints: []string{"localhost:6379"}}))
	assert.NoError(t, Validate(KVStoreConfig{
		Type: "redis", Endpoints: []string{"localhost:6379"}, PoolSize: 4,
		DialTimeout: time.Second, ReadTimeout: time.Second, WriteTimeout: time.Second,
	}))
	assert.Error(t, Validate(KVStoreConfig{Type: "dynamodb", Region: "us-east-1"}))
	assert.NoError(t, Validate(KVStoreConfig{Type: "dynamodb", Region: "us-east-1", TableName: "offlinesync"}))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `records:a\*b\?:`, escapeGlob("records:a*b?:"))
	assert.Equal(t, `x\[1\]\\`, escapeGlob(`x[1]\`))
}

func TestDynamoItemExpired(t *testing.T) {
	now := time.Unix(1_000, 0)
	past := map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: "999"}}
	future := map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: "1001"}}

	assert.True(t, itemExpired(past, now))
	assert.False(t, itemExpired(future, now))
	assert.False(t, itemExpired(map[string]types.AttributeValue{}, now))
}
