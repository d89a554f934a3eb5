package offlinesync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}, cfg.Queue.BackoffSchedule)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 2*time.Second, cfg.Connectivity.StabilityWindow)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero retries", func(c *Config) { c.Queue.MaxRetries = 0 }},
		{"empty backoff", func(c *Config) { c.Queue.BackoffSchedule = nil }},
		{"negative backoff", func(c *Config) { c.Queue.BackoffSchedule = []time.Duration{-time.Second} }},
		{"negative drain rate", func(c *Config) { c.Queue.DrainRate = -1 }},
		{"unnamed collection", func(c *Config) { c.Cache.Collections = []CacheNamespaceConfig{{TTL: time.Minute}} }},
		{"colon in collection", func(c *Config) { c.Cache.Collections = []CacheNamespaceConfig{{Collection: "a:b"}} }},
		{"duplicate collection", func(c *Config) {
			c.Cache.Collections = []CacheNamespaceConfig{{Collection: "a"}, {Collection: "a"}}
		}},
		{"unknown store", func(c *Config) { c.Store.Type = "floppy" }},
		{"unknown remote", func(c *Config) { c.Remote.Type = "carrier-pigeon" }},
		{"feed without brokers", func(c *Config) {
			c.Feed.Enabled = true
			c.Feed.Kafka.Brokers = nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  type: memory
queue:
  max_retries: 5
  backoff_schedule: [2s, 10s]
cache:
  default_ttl: 10m
  collections:
    - collection: lessons
      ttl: 1m
      retention: 24h
      indexes: [courseId]
connectivity:
  probe_url: http://example.test/health
`), 0o600))

	t.Setenv("OFFLINESYNC_QUEUE__MAX_RETRIES", "7")
	t.Setenv("OFFLINESYNC_LOGGING__LEVEL", "debug")
	t.Setenv("OFFLINESYNC_FEED__KAFKA__BROKERS", "k1:9092, k2:9092")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 7, cfg.Queue.MaxRetries, "env wins over the file")
	assert.Equal(t, []time.Duration{2 * time.Second, 10 * time.Second}, cfg.Queue.BackoffSchedule)
	assert.Equal(t, 10*time.Minute, cfg.Cache.DefaultTTL)
	require.Len(t, cfg.Cache.Collections, 1)
	assert.Equal(t, "lessons", cfg.Cache.Collections[0].Collection)
	assert.Equal(t, time.Minute, cfg.Cache.Collections[0].TTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.Collections[0].Retention)
	assert.Equal(t, []string{"courseId"}, cfg.Cache.Collections[0].Indexes)
	assert.Equal(t, "http://example.test/health", cfg.Connectivity.ProbeURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Feed.Kafka.Brokers)

	// Untouched sections keep their defaults.
	assert.Equal(t, 50, cfg.Queue.DrainRate)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  max_retries: 0\n"), 0o600))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "max_retries")
}

func TestConfigYAML(t *testing.T) {
	out, err := DefaultConfig().YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "max_retries: 3")
	assert.Contains(t, string(out), "drain_rate: 50")
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "remote.mysql.host", envTransformFunc("OFFLINESYNC_REMOTE__MYSQL__HOST"))
	assert.Equal(t, "queue.drain_rate", envTransformFunc("OFFLINESYNC_QUEUE__DRAIN_RATE"))
	assert.Equal(t, "", envTransformFunc(ConfigPathEnvVar))
}
