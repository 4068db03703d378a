// Package app assembles the engine from its configuration: store, price
// source, device registry, orchestrator and the event consumers.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kmoreau/plugsched/config"
	"github.com/kmoreau/plugsched/core/device"
	"github.com/kmoreau/plugsched/core/events"
	coremetrics "github.com/kmoreau/plugsched/core/metrics"
	"github.com/kmoreau/plugsched/core/model"
	"github.com/kmoreau/plugsched/core/orchestrator"
	"github.com/kmoreau/plugsched/core/pricing"
	"github.com/kmoreau/plugsched/core/schedule"
	"github.com/kmoreau/plugsched/infra/journal"
	"github.com/kmoreau/plugsched/infra/logger"
	"github.com/kmoreau/plugsched/infra/market"
	"github.com/kmoreau/plugsched/infra/metrics"
	"github.com/kmoreau/plugsched/infra/notify"
	"github.com/kmoreau/plugsched/infra/plugmqtt"
	"github.com/kmoreau/plugsched/infra/store"
	"github.com/kmoreau/plugsched/internal/eventbus"
)

// Service wires the scheduling engine together.
type Service struct {
	Orchestrator *orchestrator.Orchestrator
	Store        *schedule.Store

	cfg      *config.Config
	log      logger.Logger
	client   *plugmqtt.Client
	sink     coremetrics.Sink
	bus      *eventbus.Bus
	notifier *notify.EmailNotifier
	journal  *journal.Journal
	loc      *time.Location
}

// New builds the service from the loaded configuration. The config path
// is kept so device and mode changes hot-reload; infra sections (broker,
// store backend, sinks) take effect on restart.
func New(cfgPath string, cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	persister, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("schedule persister: %w", err)
	}
	sched, err := schedule.Open(persister, logger.New("schedule"), schedule.WithLocation(loc))
	if err != nil {
		return nil, err
	}

	client, err := plugmqtt.NewClient(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	registry := device.NewRegistry(func(dc model.DeviceConfig) (device.Facade, error) {
		return client.Facade(dc.Address), nil
	}, logger.New("registry"))

	sink, err := metrics.New(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	prices := pricing.NewSource(market.NewOmieClient(cfg.Market), cfg.Pricing.Backoff(), logger.New("pricing"))
	bus := eventbus.New()

	watcher := config.NewWatcher(cfgPath, cfg.Modes.Path)
	reload := func() (*orchestrator.Snapshot, bool, error) {
		if !watcher.Changed() {
			return nil, false, nil
		}
		fresh, err := config.Load(cfgPath)
		if err != nil {
			return nil, false, err
		}
		devices, err := fresh.DeviceConfigs()
		if err != nil {
			return nil, false, err
		}
		return &orchestrator.Snapshot{Devices: devices}, true, nil
	}

	orch := orchestrator.New(cfg.Orchestrator, sched, prices, registry, sink, bus,
		logger.New("orchestrator"),
		orchestrator.WithLocation(loc),
		orchestrator.WithReload(reload))
	devices, err := cfg.DeviceConfigs()
	if err != nil {
		return nil, err
	}
	orch.UpdateSnapshot(&orchestrator.Snapshot{Devices: devices})

	svc := &Service{
		Orchestrator: orch,
		Store:        sched,
		cfg:          cfg,
		log:          logg,
		client:       client,
		sink:         sink,
		bus:          bus,
		loc:          loc,
	}

	if cfg.Notify.Enabled {
		mailer, err := notify.NewMailer(cfg.Notify)
		if err != nil {
			return nil, fmt.Errorf("mailer: %w", err)
		}
		svc.notifier = notify.NewEmailNotifier(mailer, loc)
	}
	if cfg.Journal.Enabled {
		j, err := journal.New(cfg.Journal)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		svc.journal = j
	}
	return svc, nil
}

// Run starts the event consumers and the orchestrator loop, blocking
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	sub := s.bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.consume(sub)
	}()

	if s.cfg.Metrics.Prometheus.Enabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.Prometheus.Addr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	err := s.Orchestrator.Run(ctx)
	s.bus.Close()
	<-done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// consume feeds bus events to the journal and the notifier. Only final
// execution outcomes notify; intermediate retries are journal-only.
func (s *Service) consume(sub <-chan eventbus.Event) {
	for ev := range sub {
		switch e := ev.(type) {
		case events.ExecutionEvent:
			if s.journal != nil {
				if err := s.journal.RecordExecution(e); err != nil {
					s.log.Errorf("journal write: %v", err)
				}
			}
			if e.Final && s.notifier != nil {
				s.notifier.NotifyExecution(e)
			}
		case events.DailyPlanEvent:
			if s.notifier != nil {
				s.notifier.NotifyDailyPlan(e)
			}
		case events.PriceFetchEvent:
			if e.Err != nil {
				s.log.Warnf("price fetch for %s failed: %v", e.Date.Format("2006-01-02"), e.Err)
			}
		}
	}
}

// Close releases the service's resources.
func (s *Service) Close() error {
	s.client.Disconnect()
	var errs []error
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	if closer, ok := s.sink.(interface{ Close() }); ok {
		closer.Close()
	}
	errs = append(errs, s.Store.Close())
	return errors.Join(errs...)
}
