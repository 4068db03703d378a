package device

import (
	"context"
	"sync"

	"github.com/kmoreau/plugsched/core/logger"
	"github.com/kmoreau/plugsched/core/model"
)

// Factory connects a facade for a configured device.
type Factory func(cfg model.DeviceConfig) (Facade, error)

// Device pairs a configured outlet with its facade and the mutex that
// serializes every operation against it. The struct is allocated once per
// address and reused across configuration reloads, so goroutines already
// waiting on the lock are never orphaned.
type Device struct {
	mu     sync.Mutex
	cfg    model.DeviceConfig
	facade Facade
}

// Config returns the device's current configuration snapshot.
func (d *Device) Config() model.DeviceConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Do runs op against the facade while holding the device lock. The lock is
// released on every exit path. Ops on different devices proceed in
// parallel; two ops on the same device never do.
func (d *Device) Do(ctx context.Context, op func(ctx context.Context, f Facade) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return op(ctx, d.facade)
}

// Registry maps device addresses to their Device. The registry lock only
// guards the map; device operations hold per-device locks.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
	factory Factory
	log     logger.Logger
}

// NewRegistry builds an empty registry using factory to connect facades.
func NewRegistry(factory Factory, log logger.Logger) *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		factory: factory,
		log:     log,
	}
}

// Sync reconciles the registry with a fresh configuration snapshot.
// Devices at unchanged addresses keep their Device struct and therefore
// their mutex; new addresses are connected; removed addresses are dropped.
// A device whose facade fails to connect is skipped, the rest proceed.
func (r *Registry) Sync(cfgs []model.DeviceConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		seen[cfg.Address] = true
		if d, ok := r.devices[cfg.Address]; ok {
			d.mu.Lock()
			d.cfg = cfg
			d.mu.Unlock()
			continue
		}
		facade, err := r.factory(cfg)
		if err != nil {
			r.log.Errorf("Failed to connect device [address=%s, name=%s]: %v", cfg.Address, cfg.Name, err)
			continue
		}
		r.devices[cfg.Address] = &Device{cfg: cfg, facade: facade}
		r.log.Infof("Registered device [address=%s, name=%s]", cfg.Address, cfg.Name)
	}
	for addr := range r.devices {
		if !seen[addr] {
			delete(r.devices, addr)
			r.log.Infof("Removed device [address=%s]", addr)
		}
	}
}

// Lookup returns the device registered at the address.
func (r *Registry) Lookup(address string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[address]
	return d, ok
}

// Addresses returns the registered addresses.
func (r *Registry) Addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.devices))
	for addr := range r.devices {
		out = append(out, addr)
	}
	return out
}
