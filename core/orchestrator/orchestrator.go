// Package orchestrator runs the engine's tick loop: it reconciles
// configuration, plans each device's day from the price curve, executes
// due schedule entries under per-device locks and applies the retry
// policy on failures.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kmoreau/plugsched/core/device"
	"github.com/kmoreau/plugsched/core/events"
	"github.com/kmoreau/plugsched/core/logger"
	coremetrics "github.com/kmoreau/plugsched/core/metrics"
	"github.com/kmoreau/plugsched/core/model"
	"github.com/kmoreau/plugsched/core/pricing"
	"github.com/kmoreau/plugsched/core/schedule"
	"github.com/kmoreau/plugsched/core/strategy"
	"github.com/kmoreau/plugsched/internal/eventbus"
)

// Config tunes the tick loop.
type Config struct {
	TickSeconds      int         `json:"tick_seconds"`
	OpTimeoutSeconds int         `json:"op_timeout_seconds"`
	Retry            RetryConfig `json:"retry"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TickSeconds <= 0 {
		c.TickSeconds = 30
	}
	if c.OpTimeoutSeconds <= 0 {
		c.OpTimeoutSeconds = 15
	}
	c.Retry.SetDefaults()
}

// PriceProvider is the slice of the price source the orchestrator needs.
type PriceProvider interface {
	Prices(ctx context.Context, date time.Time) (model.PriceCurve, error)
}

// Snapshot is one fully-formed device configuration set. It is swapped
// atomically on reload; readers never observe a half-updated one.
type Snapshot struct {
	Devices []model.DeviceConfig
}

// ReloadFunc checks the configuration surface for changes. It returns the
// fresh snapshot and whether it differs from the last one served.
type ReloadFunc func() (*Snapshot, bool, error)

// Orchestrator is the concurrency core of the engine.
type Orchestrator struct {
	cfg      Config
	store    *schedule.Store
	prices   PriceProvider
	registry *device.Registry
	sink     coremetrics.Sink
	bus      *eventbus.Bus
	log      logger.Logger
	now      func() time.Time
	loc      *time.Location
	reload   ReloadFunc

	snapshot atomic.Pointer[Snapshot]

	mu       sync.Mutex
	inflight map[string]struct{}
	planned  map[string]string
	fetchDay string

	wg sync.WaitGroup
}

// Option adjusts an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLocation sets the timezone for calendar-day boundaries and strategy
// window placement.
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) { o.loc = loc }
}

// WithReload installs the configuration change detector polled each tick.
func WithReload(fn ReloadFunc) Option {
	return func(o *Orchestrator) { o.reload = fn }
}

// New assembles the orchestrator.
func New(cfg Config, store *schedule.Store, prices PriceProvider, registry *device.Registry,
	sink coremetrics.Sink, bus *eventbus.Bus, log logger.Logger, opts ...Option) *Orchestrator {
	cfg.SetDefaults()
	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		prices:   prices,
		registry: registry,
		sink:     sink,
		bus:      bus,
		log:      log,
		now:      time.Now,
		loc:      time.Local,
		inflight: make(map[string]struct{}),
		planned:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UpdateSnapshot swaps in a new configuration snapshot and reconciles the
// device registry. In-flight operations keep the snapshot they started
// with; lock objects for unchanged addresses are preserved.
func (o *Orchestrator) UpdateSnapshot(snap *Snapshot) {
	o.snapshot.Store(snap)
	o.registry.Sync(snap.Devices)
	o.log.Infof("Configuration applied [devices=%d]", len(snap.Devices))
}

// Run drives the tick loop until ctx is cancelled, then waits for
// in-flight device operations to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(o.cfg.TickSeconds) * time.Second)
	defer ticker.Stop()

	o.log.Infof("Orchestrator started [tick=%ds]", o.cfg.TickSeconds)
	for {
		o.Tick(ctx)
		select {
		case <-ctx.Done():
			o.wg.Wait()
			o.log.Infof("Orchestrator stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one loop iteration. Exposed for the CLI and tests; Run calls
// it on every tick.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.checkReload()
	now := o.now().UTC()
	o.planDaily(ctx, now)
	o.executeDue(ctx, now)
	if _, err := o.store.PurgeExpired(); err != nil {
		o.log.Errorf("Purge failed: %v", err)
	}
	pending := 0
	for _, e := range o.store.List("") {
		if e.Status == model.StatusPending {
			pending++
		}
	}
	if err := o.sink.RecordPending(pending); err != nil {
		o.log.Errorf("Failed to record pending gauge: %v", err)
	}
}

func (o *Orchestrator) checkReload() {
	if o.reload == nil {
		return
	}
	snap, changed, err := o.reload()
	if err != nil {
		o.log.Errorf("Configuration reload failed: %v", err)
		return
	}
	if changed {
		o.UpdateSnapshot(snap)
	}
}

// planDaily regenerates automatic entries once per calendar day per
// enabled device. A device whose planning failed this tick is retried on
// the next one; devices already planned for the day are skipped.
func (o *Orchestrator) planDaily(ctx context.Context, now time.Time) {
	snap := o.snapshot.Load()
	if snap == nil {
		return
	}
	day := now.In(o.loc)
	key := model.DayKey(day)

	var toPlan []model.DeviceConfig
	o.mu.Lock()
	for _, cfg := range snap.Devices {
		if cfg.Enabled && o.planned[cfg.Address] != key {
			toPlan = append(toPlan, cfg)
		}
	}
	o.mu.Unlock()
	if len(toPlan) == 0 {
		return
	}

	curve, err := o.prices.Prices(ctx, day)
	if err != nil {
		if !errors.Is(err, pricing.ErrUnavailable) {
			o.recordFetch(day, key, 0, err)
		}
		o.log.Warnf("Daily planning skipped, prices unavailable: %v", err)
		return
	}
	o.recordFetch(day, key, len(curve), nil)

	var plans []events.DevicePlan
	for _, cfg := range toPlan {
		plan, err := o.planDevice(day, curve, cfg)
		if err != nil {
			o.log.Warnf("Device planning failed [address=%s, name=%s]: %v", cfg.Address, cfg.Name, err)
			continue
		}
		o.mu.Lock()
		o.planned[cfg.Address] = key
		o.mu.Unlock()
		plans = append(plans, plan)
	}

	// The per-device planned map caps each device at one plan per day, so
	// every tick with fresh plans can publish. A device planned late, after
	// an earlier failure, gets a supplementary event instead of vanishing
	// from the daily summary.
	if len(plans) > 0 {
		o.bus.Publish(events.DailyPlanEvent{Date: day, Prices: curve, Plans: plans})
	}
}

func (o *Orchestrator) planDevice(day time.Time, curve model.PriceCurve, cfg model.DeviceConfig) (events.DevicePlan, error) {
	if err := cfg.Validate(); err != nil {
		return events.DevicePlan{}, err
	}
	strat, err := strategy.ForName(cfg.Strategy)
	if err != nil {
		return events.DevicePlan{}, err
	}
	windows, err := strat.Compute(day, curve, cfg)
	if err != nil {
		return events.DevicePlan{}, err
	}

	now := o.now().UTC()
	entries := make([]model.ScheduleEntry, 0, len(windows))
	var total time.Duration
	for _, w := range windows {
		total += w.Duration
		if w.Start.Before(now) {
			o.log.Debugf("Skipping past window [address=%s, start=%s]", cfg.Address, w.Start.Format(time.RFC3339))
			continue
		}
		entries = append(entries, model.ScheduleEntry{
			DeviceAddress: cfg.Address,
			DeviceName:    cfg.Name,
			TargetTime:    w.Start,
			DesiredState:  true,
			Duration:      w.Duration,
			Origin:        model.OriginAutomatic,
		})
	}
	if err := o.store.ReplaceAutomatic(cfg.Address, day, entries); err != nil {
		return events.DevicePlan{}, err
	}
	if err := o.sink.RecordPlan(coremetrics.PlanRecord{
		DeviceAddress: cfg.Address,
		Strategy:      cfg.Strategy,
		Windows:       len(windows),
		TotalRuntime:  total,
		Date:          day,
	}); err != nil {
		o.log.Errorf("Failed to record plan metric: %v", err)
	}
	o.log.Infof("Planned device [address=%s, name=%s, strategy=%s, windows=%d, runtime=%s]",
		cfg.Address, cfg.Name, cfg.Strategy, len(windows), total)
	return events.DevicePlan{Device: cfg, Windows: windows}, nil
}

func (o *Orchestrator) recordFetch(day time.Time, key string, points int, err error) {
	o.mu.Lock()
	first := o.fetchDay != key
	if err == nil {
		o.fetchDay = key
	}
	o.mu.Unlock()
	if !first {
		return
	}
	if rerr := o.sink.RecordPriceFetch(coremetrics.PriceFetchRecord{
		Date:    day,
		Points:  points,
		Success: err == nil,
		Time:    o.now().UTC(),
	}); rerr != nil {
		o.log.Errorf("Failed to record fetch metric: %v", rerr)
	}
	o.bus.Publish(events.PriceFetchEvent{Date: day, Count: points, Err: err})
}

// executeDue starts one goroutine per due entry so devices proceed in
// parallel; the per-device lock serializes entries that target the same
// outlet. Entries already being executed are skipped.
func (o *Orchestrator) executeDue(ctx context.Context, now time.Time) {
	for _, e := range o.store.ListPending(now) {
		if now.After(e.TargetTime.Add(o.cfg.Retry.Window())) {
			o.expireEntry(e)
			continue
		}
		if !e.Due(now) {
			continue
		}
		if !o.markInflight(e.ID) {
			continue
		}
		o.wg.Add(1)
		go func(entry model.ScheduleEntry) {
			defer o.wg.Done()
			defer o.clearInflight(entry.ID)
			o.execute(ctx, entry)
		}(e)
	}
}

// expireEntry abandons an entry whose retry window has closed.
func (o *Orchestrator) expireEntry(e model.ScheduleEntry) {
	cause := fmt.Sprintf("retry window expired (%dh)", o.cfg.Retry.RetryWindowHours)
	failed, err := o.store.MarkFailed(e.ID, cause)
	if err != nil {
		return
	}
	if _, _, err := o.store.MaterializeNext(e.ID); err != nil {
		o.log.Errorf("Failed to materialize next occurrence [id=%s]: %v", e.ID, err)
	}
	o.recordExecution(failed, false, 0)
	o.bus.Publish(events.ExecutionEvent{Entry: failed, Final: true, Err: errors.New(cause)})
}

func (o *Orchestrator) markInflight(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inflight[id]; ok {
		return false
	}
	o.inflight[id] = struct{}{}
	return true
}

func (o *Orchestrator) clearInflight(id string) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

// execute drives one entry against its device and updates the store per
// the outcome. All errors are folded into the retry policy; nothing
// propagates out of the goroutine.
func (o *Orchestrator) execute(ctx context.Context, entry model.ScheduleEntry) {
	start := o.now()
	opErr := o.switchDevice(ctx, entry.DeviceAddress, entry.DesiredState, entry.Duration)
	latency := o.now().Sub(start)

	if opErr == nil {
		completed, err := o.store.MarkCompleted(entry.ID)
		if err != nil {
			// Cancelled between listing and execution. The device was
			// switched, but the entry's terminal state wins.
			o.log.Warnf("Entry finished but not markable [id=%s]: %v", entry.ID, err)
			return
		}
		if _, _, err := o.store.MaterializeNext(entry.ID); err != nil {
			o.log.Errorf("Failed to materialize next occurrence [id=%s]: %v", entry.ID, err)
		}
		o.recordExecution(completed, true, latency)
		o.bus.Publish(events.ExecutionEvent{Entry: completed, Final: true, Duration: latency})
		o.log.Infof("Executed schedule entry [id=%s, device=%s, state=%t]",
			entry.ID, entry.DeviceAddress, entry.DesiredState)
		return
	}

	attempts := entry.Attempts + 1
	if attempts >= o.cfg.Retry.MaxAttempts {
		if _, err := o.store.RecordAttempt(entry.ID, opErr.Error(), o.now()); err != nil {
			o.log.Errorf("Failed to record attempt [id=%s]: %v", entry.ID, err)
			return
		}
		failed, err := o.store.MarkFailed(entry.ID, opErr.Error())
		if err != nil {
			o.log.Errorf("Failed to mark entry failed [id=%s]: %v", entry.ID, err)
			return
		}
		if _, _, err := o.store.MaterializeNext(entry.ID); err != nil {
			o.log.Errorf("Failed to materialize next occurrence [id=%s]: %v", entry.ID, err)
		}
		o.recordExecution(failed, false, latency)
		o.bus.Publish(events.ExecutionEvent{Entry: failed, Final: true, Err: opErr, Duration: latency})
		return
	}

	delay := o.cfg.Retry.Backoff(attempts)
	updated, err := o.store.RecordAttempt(entry.ID, opErr.Error(), o.now().Add(delay))
	if err != nil {
		o.log.Errorf("Failed to record attempt [id=%s]: %v", entry.ID, err)
		return
	}
	o.recordExecution(updated, false, latency)
	o.bus.Publish(events.ExecutionEvent{Entry: updated, Final: false, Err: opErr, Duration: latency})
	o.log.Warnf("Execution failed, will retry [id=%s, device=%s, attempts=%d, next_retry=%s]: %v",
		entry.ID, entry.DeviceAddress, updated.Attempts, updated.NextRetryAt.Format(time.RFC3339), opErr)
}

// switchDevice performs the actual device communication under the
// per-device lock, bounded by the operation timeout.
func (o *Orchestrator) switchDevice(ctx context.Context, address string, desiredState bool, duration time.Duration) error {
	dev, ok := o.registry.Lookup(address)
	if !ok {
		return device.NewCommError(address, errors.New("device not registered"))
	}
	opCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.OpTimeoutSeconds)*time.Second)
	defer cancel()

	err := dev.Do(opCtx, func(ctx context.Context, f device.Facade) error {
		// A countdown armed by an earlier window must not fire into the new
		// state, so it is cleared before switching.
		if err := f.ClearCountdown(ctx); err != nil {
			return err
		}
		if desiredState {
			if err := f.TurnOn(ctx); err != nil {
				return err
			}
		} else {
			if err := f.TurnOff(ctx); err != nil {
				return err
			}
		}
		if duration > 0 {
			return f.SetCountdown(ctx, duration, !desiredState)
		}
		return nil
	})
	if err != nil && !device.IsCommError(err) {
		err = device.NewCommError(address, err)
	}
	return err
}

// ExecuteManual switches a device immediately, outside the schedule. It
// shares the per-device lock with scheduled executions, so both paths
// never talk to the same outlet concurrently.
func (o *Orchestrator) ExecuteManual(ctx context.Context, address string, desiredState bool, duration time.Duration) error {
	if err := o.switchDevice(ctx, address, desiredState, duration); err != nil {
		return err
	}
	o.log.Infof("Manual switch executed [address=%s, state=%t]", address, desiredState)
	return nil
}

func (o *Orchestrator) recordExecution(e model.ScheduleEntry, success bool, latency time.Duration) {
	if err := o.sink.RecordExecution(coremetrics.ExecutionRecord{
		DeviceAddress: e.DeviceAddress,
		DeviceName:    e.DeviceName,
		Origin:        string(e.Origin),
		DesiredState:  e.DesiredState,
		Success:       success,
		Attempts:      e.Attempts,
		Latency:       latency,
		Time:          o.now().UTC(),
	}); err != nil {
		o.log.Errorf("Failed to record execution metric: %v", err)
	}
}
