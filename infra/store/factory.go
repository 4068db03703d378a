package store

import (
	"fmt"

	"github.com/kmoreau/plugsched/core/schedule"
)

// Config selects and locates the schedule persistence backend.
type Config struct {
	// Backend is "file" or "sqlite".
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "file"
	}
	if c.Path == "" {
		switch c.Backend {
		case "sqlite":
			c.Path = "data/schedule.db"
		default:
			c.Path = "data/schedule.json"
		}
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case "file", "sqlite":
		return nil
	default:
		return fmt.Errorf("unknown schedule store backend %q", c.Backend)
	}
}

// New builds the configured persister.
func New(cfg Config) (schedule.Persister, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "sqlite":
		return NewSQLitePersister(cfg.Path)
	default:
		return NewFilePersister(cfg.Path)
	}
}
