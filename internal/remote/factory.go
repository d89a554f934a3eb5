package remote

import (
	"context"
	"fmt"

	"github.com/rzpsarthak13/offlinesync/internal/core"
)

// Remote types understood by Open.
const (
	TypeMemory = "memory"
	TypeMySQL  = "mysql"
)

// Config selects and configures the remote document database.
type Config struct {
	// Type is "memory" or "mysql".
	Type  string      `yaml:"type" json:"type" koanf:"type"`
	MySQL MySQLConfig `yaml:"mysql" json:"mysql" koanf:"mysql"`
	Guard GuardConfig `yaml:"guard" json:"guard" koanf:"guard"`
}

// DefaultConfig returns an in-memory remote with default guard settings.
func DefaultConfig() Config {
	return Config{
		Type:  TypeMemory,
		MySQL: DefaultMySQLConfig(),
		Guard: DefaultGuardConfig(),
	}
}

// Validate checks the remote configuration.
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory:
		return nil
	case TypeMySQL:
		if c.MySQL.Host == "" {
			return fmt.Errorf("mysql host is required")
		}
		if c.MySQL.Database == "" {
			return fmt.Errorf("mysql database is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown remote type %q", c.Type)
	}
}

// Open creates the configured remote wrapped in a Guarded.
func Open(ctx context.Context, config Config) (*Guarded, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	var next core.Remote
	switch config.Type {
	case TypeMySQL:
		m, err := NewMySQLRemote(ctx, config.MySQL)
		if err != nil {
			return nil, err
		}
		next = m
	default:
		next = NewMemoryRemote()
	}
	return NewGuarded(next, config.Type, config.Guard), nil
}
