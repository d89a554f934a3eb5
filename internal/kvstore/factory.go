package kvstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzpsarthak13/offlinesync/internal/core"
)

// KVStoreFactory is the Strategy interface for creating KV store implementations.
// Each engine implements this interface and registers itself from init().
type KVStoreFactory interface {
	// Create creates a new KV store instance based on the provided configuration.
	Create(config KVStoreConfig) (core.KVStore, error)

	// Type returns the type identifier for this factory (e.g., "badger", "redis").
	Type() string

	// Validate validates the configuration specific to this KV store type.
	Validate(config KVStoreConfig) error
}

// KVStoreConfig represents the configuration needed to create a KV store.
type KVStoreConfig struct {
	Type string `yaml:"type" json:"type" koanf:"type"`

	// Embedded engines (badger, sqlite)
	Path     string `yaml:"path,omitempty" json:"path,omitempty" koanf:"path"`
	InMemory bool   `yaml:"in_memory,omitempty" json:"in_memory,omitempty" koanf:"in_memory"`

	// Redis-specific fields
	Endpoints    []string      `yaml:"endpoints,omitempty" json:"endpoints,omitempty" koanf:"endpoints"`
	Password     string        `yaml:"password,omitempty" json:"password,omitempty" koanf:"password"`
	DB           int           `yaml:"db,omitempty" json:"db,omitempty" koanf:"db"`
	PoolSize     int           `yaml:"pool_size,omitempty" json:"pool_size,omitempty" koanf:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns,omitempty" json:"min_idle_conns,omitempty" koanf:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty" koanf:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty" koanf:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty" koanf:"write_timeout"`

	// DynamoDB-specific fields
	Region          string `yaml:"region,omitempty" json:"region,omitempty" koanf:"region"`
	TableName       string `yaml:"table_name,omitempty" json:"table_name,omitempty" koanf:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" koanf:"endpoint"`                   // Optional, for LocalStack
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty" koanf:"access_key_id"` // Optional, can use IAM role instead
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty" koanf:"secret_access_key"`
}

var (
	// factoryRegistry stores all registered KV store factories.
	factoryRegistry = make(map[string]KVStoreFactory)

	// registryMutex protects the registry from concurrent access.
	registryMutex sync.RWMutex
)

// RegisterFactory registers a KV store factory.
// This is called automatically by each implementation's init() function.
func RegisterFactory(factory KVStoreFactory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}

	factoryRegistry[factory.Type()] = factory
}

// Create creates a KV store instance using the factory registered for config.Type.
func Create(config KVStoreConfig) (core.KVStore, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("kvstore type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported KV store type: %s", config.Type)
	}

	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}

	return factory.Create(config)
}

// Validate checks config against the factory registered for its type
// without opening the store.
func Validate(config KVStoreConfig) error {
	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return fmt.Errorf("unsupported KV store type: %q", config.Type)
	}
	return factory.Validate(config)
}

// GetRegisteredTypes returns the registered KV store types, sorted.
func GetRegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsTypeRegistered checks if a KV store type is registered.
func IsTypeRegistered(storeType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[storeType]
	return exists
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", core.ErrStorageUnavailable, op, key, err)
}

var errClosed = fmt.Errorf("%w: KV store is closed", core.ErrStorageUnavailable)
