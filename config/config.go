// Package config loads and validates the engine configuration from a
// json or yaml file, with environment overrides, and detects changes for
// hot reload.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kmoreau/plugsched/core/model"
	"github.com/kmoreau/plugsched/core/orchestrator"
	"github.com/kmoreau/plugsched/infra/journal"
	"github.com/kmoreau/plugsched/infra/market"
	"github.com/kmoreau/plugsched/infra/metrics"
	"github.com/kmoreau/plugsched/infra/notify"
	"github.com/kmoreau/plugsched/infra/plugmqtt"
	"github.com/kmoreau/plugsched/infra/store"
)

// PricingConfig tunes the price source cache.
type PricingConfig struct {
	// BackoffMinutes is how long the source fails fast after a fetch error.
	BackoffMinutes int `json:"backoff_minutes"`
}

// SetDefaults applies sane defaults.
func (c *PricingConfig) SetDefaults() {
	if c.BackoffMinutes <= 0 {
		c.BackoffMinutes = 15
	}
}

// Backoff returns the backoff window as a duration.
func (c PricingConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMinutes) * time.Minute
}

type Config struct {
	// Timezone is the IANA zone used for calendar days and window
	// placement. Empty means the host's local zone.
	Timezone     string              `json:"timezone"`
	Market       market.Config       `json:"market"`
	Pricing      PricingConfig       `json:"pricing"`
	Store        store.Config        `json:"store"`
	MQTT         plugmqtt.Config     `json:"mqtt"`
	Metrics      metrics.Config      `json:"metrics"`
	Notify       notify.Config       `json:"notify"`
	Journal      journal.Config      `json:"journal"`
	Orchestrator orchestrator.Config `json:"orchestrator"`
	Modes        ModesConfig         `json:"modes"`
	Devices      []DeviceEntry       `json:"devices"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Pricing.SetDefaults()
	cfg.Market.SetDefaults()
	cfg.Store.SetDefaults()
	cfg.MQTT.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Notify.SetDefaults()
	cfg.Journal.SetDefaults()
	cfg.Orchestrator.SetDefaults()
	cfg.Modes.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section and device entry.
func (c *Config) Validate() error {
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	if err := c.Notify.Validate(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Devices))
	for i, d := range c.Devices {
		if _, err := d.ToModel(); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		if _, dup := seen[d.Address]; dup {
			return fmt.Errorf("devices[%d]: duplicate address %s", i, d.Address)
		}
		seen[d.Address] = struct{}{}
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// DeviceConfigs materializes the device list with the persisted mode
// overlay applied: devices switched to manual mode are kept reachable but
// excluded from daily planning.
func (c *Config) DeviceConfigs() ([]model.DeviceConfig, error) {
	modes, err := NewModeStore(c.Modes.Path).Load()
	if err != nil {
		return nil, err
	}
	out := make([]model.DeviceConfig, 0, len(c.Devices))
	for i, d := range c.Devices {
		m, err := d.ToModel()
		if err != nil {
			return nil, fmt.Errorf("devices[%d]: %w", i, err)
		}
		if modes[m.Address] == ModeManual {
			m.Enabled = false
		}
		out = append(out, m)
	}
	return out, nil
}
