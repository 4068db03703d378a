package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/kmoreau/plugsched/core/model"
)

// DeviceEntry is one device block as written in the config file. Strategy
// parameters stay schemaless here and are decoded per strategy, so each
// strategy owns its own parameter shape.
type DeviceEntry struct {
	Name     string         `json:"name"`
	Address  string         `json:"address"`
	Strategy string         `json:"strategy"`
	Enabled  *bool          `json:"enabled"`
	Params   map[string]any `json:"params"`
}

// ToModel decodes the entry into the typed device configuration and
// validates it. A missing enabled flag means enabled.
func (e DeviceEntry) ToModel() (model.DeviceConfig, error) {
	cfg := model.DeviceConfig{
		Name:     e.Name,
		Address:  e.Address,
		Strategy: e.Strategy,
		Enabled:  e.Enabled == nil || *e.Enabled,
	}
	switch e.Strategy {
	case model.StrategyPeriod:
		var p struct {
			Periods []model.Period `json:"periods"`
		}
		if err := decodeParams(e.Params, &p); err != nil {
			return model.DeviceConfig{}, fmt.Errorf("device %q: %w", e.Name, err)
		}
		cfg.Periods = p.Periods
	case model.StrategyValley:
		var v model.ValleyParams
		if err := decodeParams(e.Params, &v); err != nil {
			return model.DeviceConfig{}, fmt.Errorf("device %q: %w", e.Name, err)
		}
		cfg.Valley = v
	}
	if err := cfg.Validate(); err != nil {
		return model.DeviceConfig{}, err
	}
	return cfg, nil
}

// decodeParams maps the raw parameter block onto the strategy's struct.
// Durations accept the human-readable "2h30m" form.
func decodeParams(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "json",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("invalid strategy parameters: %w", err)
	}
	return nil
}
