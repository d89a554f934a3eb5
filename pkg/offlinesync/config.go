package offlinesync

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/offlinesync/internal/core"
	"github.com/rzpsarthak13/offlinesync/internal/kvstore"
	"github.com/rzpsarthak13/offlinesync/internal/logging"
	"github.com/rzpsarthak13/offlinesync/internal/remote"
	"github.com/rzpsarthak13/offlinesync/internal/supervisor"
	"github.com/rzpsarthak13/offlinesync/internal/writeback"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: OFFLINESYNC_QUEUE__MAX_RETRIES sets
// queue.max_retries.
const EnvPrefix = "OFFLINESYNC_"

// ConfigPathEnvVar names the variable consulted when LoadConfig gets no path.
const ConfigPathEnvVar = "OFFLINESYNC_CONFIG"

// Config represents the root configuration of the sync engine.
type Config struct {
	// Store configures the local key-value engine holding records and the queue.
	Store kvstore.KVStoreConfig `yaml:"store" json:"store" koanf:"store"`

	Queue        QueueConfig          `yaml:"queue" json:"queue" koanf:"queue"`
	Cache        CacheConfig          `yaml:"cache" json:"cache" koanf:"cache"`
	Remote       remote.Config        `yaml:"remote" json:"remote" koanf:"remote"`
	Connectivity ConnectivityConfig   `yaml:"connectivity" json:"connectivity" koanf:"connectivity"`
	Feed         FeedConfig           `yaml:"feed" json:"feed" koanf:"feed"`
	Logging      logging.Config       `yaml:"logging" json:"logging" koanf:"logging"`
	Server       ServerConfig         `yaml:"server" json:"server" koanf:"server"`
	Supervisor   supervisor.TreeConfig `yaml:"supervisor" json:"supervisor" koanf:"supervisor"`
}

// QueueConfig configures the mutation queue and its drainer.
type QueueConfig struct {
	// MaxRetries is how many transient failures an entry survives before it
	// is marked Failed.
	MaxRetries int `yaml:"max_retries" json:"max_retries" koanf:"max_retries"`

	// BackoffSchedule is the delay after the 1st, 2nd, ... failure. The last
	// value repeats.
	BackoffSchedule []time.Duration `yaml:"backoff_schedule" json:"backoff_schedule" koanf:"backoff_schedule"`

	// DrainRate is the maximum number of remote writes per second during a
	// drain. Zero removes the limit.
	DrainRate int `yaml:"drain_rate" json:"drain_rate" koanf:"drain_rate"`

	// DrainInterval is how often the scheduled drain checks for due entries.
	DrainInterval time.Duration `yaml:"drain_interval" json:"drain_interval" koanf:"drain_interval"`
}

// CacheConfig configures read staleness and expiry.
type CacheConfig struct {
	// DefaultTTL applies to collections without their own policy.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" koanf:"default_ttl"`

	// CleanupInterval is how often expired records are pruned.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" koanf:"cleanup_interval"`

	// Collections holds per-collection policies.
	Collections []core.CacheNamespaceConfig `yaml:"collections,omitempty" json:"collections,omitempty" koanf:"collections"`
}

// ConnectivityConfig configures the connectivity monitor and prober.
type ConnectivityConfig struct {
	// StabilityWindow is how long the network must stay up before a
	// restored event fires.
	StabilityWindow time.Duration `yaml:"stability_window" json:"stability_window" koanf:"stability_window"`

	// ProbeURL is polled to detect connectivity. Empty pings the remote.
	ProbeURL      string        `yaml:"probe_url,omitempty" json:"probe_url,omitempty" koanf:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval" json:"probe_interval" koanf:"probe_interval"`
}

// FeedConfig configures publication of drain reports to Kafka.
type FeedConfig struct {
	Enabled bool                      `yaml:"enabled" json:"enabled" koanf:"enabled"`
	Source  string                    `yaml:"source,omitempty" json:"source,omitempty" koanf:"source"`
	Kafka   writeback.KafkaFeedConfig `yaml:"kafka" json:"kafka" koanf:"kafka"`
}

// ServerConfig configures the HTTP admin API.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" json:"listen_addr" koanf:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" koanf:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" koanf:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" koanf:"shutdown_timeout"`

	// RateLimit caps requests per client IP per minute. Zero disables it.
	RateLimit int `yaml:"rate_limit" json:"rate_limit" koanf:"rate_limit"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	queue := writeback.DefaultConfig()
	return &Config{
		Store: kvstore.KVStoreConfig{
			Type: "badger",
			Path: "data/offlinesync",
		},
		Queue: QueueConfig{
			MaxRetries:      queue.MaxRetries,
			BackoffSchedule: queue.BackoffSchedule,
			DrainRate:       DefaultDrainerConfig().DrainRate,
			DrainInterval:   time.Second,
		},
		Cache: CacheConfig{
			DefaultTTL:      5 * time.Minute,
			CleanupInterval: 10 * time.Minute,
		},
		Remote: remote.DefaultConfig(),
		Connectivity: ConnectivityConfig{
			StabilityWindow: 2 * time.Second,
			ProbeInterval:   5 * time.Second,
		},
		Feed: FeedConfig{
			Source: "offlinesync",
			Kafka: writeback.KafkaFeedConfig{
				Brokers:      []string{"localhost:9092"},
				Topic:        "offlinesync-drain-reports",
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
			},
		},
		Logging: logging.DefaultConfig(),
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       600,
		},
		Supervisor: supervisor.DefaultTreeConfig(),
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if err := kvstore.Validate(c.Store); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("queue.max_retries must be at least 1")
	}
	if len(c.Queue.BackoffSchedule) == 0 {
		return fmt.Errorf("queue.backoff_schedule must not be empty")
	}
	for i, d := range c.Queue.BackoffSchedule {
		if d < 0 {
			return fmt.Errorf("queue.backoff_schedule[%d] must not be negative", i)
		}
	}
	if c.Queue.DrainRate < 0 {
		return fmt.Errorf("queue.drain_rate must not be negative")
	}
	seen := make(map[string]bool, len(c.Cache.Collections))
	for i, ns := range c.Cache.Collections {
		if ns.Collection == "" {
			return fmt.Errorf("cache.collections[%d].collection is required", i)
		}
		if strings.Contains(ns.Collection, ":") {
			return fmt.Errorf("cache.collections[%d].collection %q must not contain ':'", i, ns.Collection)
		}
		if seen[ns.Collection] {
			return fmt.Errorf("cache.collections: %q declared twice", ns.Collection)
		}
		seen[ns.Collection] = true
	}
	if c.Connectivity.StabilityWindow < 0 {
		return fmt.Errorf("connectivity.stability_window must not be negative")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if c.Feed.Enabled {
		if err := c.Feed.Kafka.Validate(); err != nil {
			return fmt.Errorf("feed: %w", err)
		}
	}
	return nil
}

// queueConfig converts the queue section for the writeback package.
func (c *Config) queueConfig() writeback.Config {
	return writeback.Config{
		MaxRetries:      c.Queue.MaxRetries,
		BackoffSchedule: c.Queue.BackoffSchedule,
	}
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yamlv3.Marshal(c)
}

// sliceConfigPaths are parsed from comma-separated environment values.
var sliceConfigPaths = []string{
	"store.endpoints",
	"queue.backoff_schedule",
	"feed.kafka.brokers",
}

// LoadConfig layers defaults, the YAML file at path (or the one named by
// OFFLINESYNC_CONFIG when path is empty) and OFFLINESYNC_ environment
// variables, then validates the result.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransformFunc maps OFFLINESYNC_REMOTE__MYSQL__HOST to remote.mysql.host.
// The config path variable itself is skipped.
func envTransformFunc(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// processSliceFields converts comma-separated string values to slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}
