package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/freight/api"
	"github.com/kilianp07/freight/config"
	"github.com/kilianp07/freight/core/assignment"
	"github.com/kilianp07/freight/core/coordinator"
	"github.com/kilianp07/freight/core/dispatch"
	"github.com/kilianp07/freight/core/dispatch/logging"
	coremetrics "github.com/kilianp07/freight/core/metrics"
	"github.com/kilianp07/freight/core/model"
	coremon "github.com/kilianp07/freight/core/monitoring"
	"github.com/kilianp07/freight/core/store"
	"github.com/kilianp07/freight/infra/logger"
	"github.com/kilianp07/freight/infra/metrics"
	inframon "github.com/kilianp07/freight/infra/monitoring"
	"github.com/kilianp07/freight/infra/mqtt"
	"github.com/kilianp07/freight/internal/eventbus"
)

// Service wires storage, the optimizer and its coordinator, and the outer
// sinks into one process.
type Service struct {
	Store        store.Store
	Orchestrator *dispatch.Orchestrator
	Coordinator  *coordinator.Coordinator
	Assignments  *assignment.Service
	Bus          eventbus.EventBus

	log       logger.Logger
	cfg       *config.Config
	logStore  logging.LogStore
	lockClose io.Closer
	notifier  *mqtt.PahoClient
	collector *metrics.EventCollector
}

// New creates a Service from the configuration. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config) (_ *Service, err error) {
	logg := logger.New("service")
	s := &Service{log: logg, cfg: cfg, Bus: eventbus.New()}
	defer func() {
		if err != nil {
			if cerr := s.Close(); cerr != nil {
				logg.Errorf("cleanup after failed start: %v", cerr)
			}
		}
	}()

	mon, err := inframon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	st, pg, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	s.Store = st
	lock, closer, err := openLock(cfg.Lock, pg)
	if err != nil {
		return nil, fmt.Errorf("run lock: %w", err)
	}
	s.lockClose = closer

	sink, err := s.buildSink()
	if err != nil {
		return nil, err
	}
	if s.logStore, err = logging.Open(cfg.PlanLog); err != nil {
		return nil, fmt.Errorf("plan log: %w", err)
	}

	orch, err := dispatch.NewOrchestrator(st, cfg.Dispatch, logger.New("orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	orch.SetEventBus(s.Bus)
	orch.SetMetricsSink(sink)
	if s.logStore != nil {
		orch.SetLogStore(s.logStore)
	}
	s.Orchestrator = orch

	run := func(ctx context.Context, req coordinator.Request) error {
		_, err := orch.OptimizeAndAssign(dispatch.WithCorrelationID(ctx, req.CorrelationID), req.Trigger, req.EntityID)
		return err
	}
	coord, err := coordinator.New(run, lock, cfg.Lock.Type, cfg.Coordinator, logger.New("coordinator"))
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	coord.SetLockRecorder(lockRecorder(sink))
	s.Coordinator = coord

	svcAssign, err := assignment.NewService(st, coord, cfg.Coordinator.WaitTimeout(), logger.New("assignment"))
	if err != nil {
		return nil, fmt.Errorf("assignment service: %w", err)
	}
	svcAssign.SetEventBus(s.Bus)
	svcAssign.SetMetricsSink(sink)
	s.Assignments = svcAssign

	if cfg.MQTT.Broker != "" {
		if s.notifier, err = mqtt.NewPahoClient(cfg.MQTT); err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
	}
	return s, nil
}

// lockRecorder returns the part of sink that records lock attempts, or a
// no-op recorder when the sink has none.
func lockRecorder(sink coremetrics.MetricsSink) coremetrics.LockRecorder {
	if rec, ok := sink.(coremetrics.LockRecorder); ok {
		return rec
	}
	return coremetrics.NopSink{}
}

// buildSink combines the configured sinks with the Prometheus sink when the
// metrics endpoint is enabled.
func (s *Service) buildSink() (coremetrics.MetricsSink, error) {
	sink, err := coremetrics.NewMetricsSink(s.cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sinks: %w", err)
	}
	if s.cfg.Metrics.PrometheusAddr == "" {
		return sink, nil
	}
	prom, err := metrics.NewPromSink()
	if err != nil {
		return nil, fmt.Errorf("prom sink: %w", err)
	}
	if s.collector, err = metrics.NewEventCollector(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("event collector: %w", err)
	}
	return coremetrics.NewMultiSink(sink, prom), nil
}

// Run starts the coordinator and the background consumers, then blocks until
// ctx is canceled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	s.Coordinator.Start()
	// Release reservations that expired while the process was down.
	s.Coordinator.RequestRun(coordinator.Request{Trigger: model.TriggerManual})

	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		g.Go(func() error { return metrics.StartPromServer(ctx, addr, prometheus.DefaultGatherer) })
	}
	if s.collector != nil {
		done := s.collector.Start(ctx, s.Bus)
		g.Go(func() error { <-done; return nil })
	}
	if addr := s.cfg.HTTP.Addr; addr != "" {
		h := api.NewRouter(s.Assignments, s.Bus, s.logStore, s.cfg.HTTP.Token, logger.New("api"))
		g.Go(func() error { return api.Serve(ctx, addr, h, logger.New("http")) })
	}
	if s.notifier != nil {
		done := mqtt.StartBridge(ctx, s.Bus, s.notifier, 0, logger.New("mqtt-bridge"))
		g.Go(func() error { <-done; return nil })
	}
	if sweep := s.cfg.Coordinator.Sweep(); sweep > 0 {
		g.Go(func() error {
			t := time.NewTicker(sweep)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					s.Coordinator.RequestRun(coordinator.Request{Trigger: model.TriggerManual})
				}
			}
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		s.Coordinator.Stop(s.cfg.Coordinator.Grace())
		return nil
	})
	s.log.Infof("service running with %s store and %s lock", s.cfg.Store.Type, s.cfg.Lock.Type)
	return g.Wait()
}

// Close releases resources held by the service. It is safe to call after a
// failed New.
func (s *Service) Close() error {
	var errs []error
	if s.Coordinator != nil {
		s.Coordinator.Stop(s.cfg.Coordinator.Grace())
	}
	if s.notifier != nil {
		s.notifier.Disconnect()
	}
	if s.Bus != nil {
		s.Bus.Close()
		if b, ok := s.Bus.(*eventbus.Bus); ok && b.Dropped() > 0 {
			s.log.Warnf("event bus dropped %d deliveries to slow consumers", b.Dropped())
		}
	}
	if s.logStore != nil {
		errs = append(errs, s.logStore.Close())
	}
	if s.lockClose != nil {
		errs = append(errs, s.lockClose.Close())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
