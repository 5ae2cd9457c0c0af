package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/config"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/rules"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/sink"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/tree/cache"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/velocity"
)

// Runtime is a fully wired service plus the resources it owns.
type Runtime struct {
	Service  *Service
	Executor *engine.Executor
	Registry *engine.Registry
	Velocity *velocity.Manager
	closers  []func() error
}

// Bootstrap wires registry, velocity manager, event sinks, executor and
// service from cfg.
func Bootstrap(ctx context.Context, cfg config.Runtime, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{}

	reg, err := rules.NewRegistry(cfg.Rules...)
	if err != nil {
		return nil, fmt.Errorf("build rule registry: %w", err)
	}
	rt.Registry = reg

	vopts := []velocity.Option{velocity.WithLogger(logger.Named("velocity"))}
	if cfg.Adaptive {
		vopts = append(vopts, velocity.WithAdaptive(velocity.NewAdaptiveThresholds(velocity.DefaultAlpha)))
	}
	vm, err := velocity.NewManager(cfg.Profile, vopts...)
	if err != nil {
		return nil, err
	}
	rt.Velocity = vm

	var durable engine.MultiSink
	if cfg.EventLog != "" {
		jl, err := sink.OpenJSONL(cfg.EventLog, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, jl.Close)
		durable = append(durable, jl)
	}
	if cfg.EventDB != "" {
		db, err := sink.OpenSQLite(ctx, cfg.EventDB, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		durable = append(durable, db)
	}

	// Log lines may be dropped under load; the event log files may not.
	logSink := engine.NewAsyncEventSink(engine.NewEventLogger(logger.Named("engine")), cfg.EventBuffer)
	sinks := engine.MultiSink{logSink}
	drains := []*engine.AsyncEventSink{logSink}
	if len(durable) > 0 {
		store := engine.NewBlockingEventSink(durable, cfg.EventBuffer)
		sinks = append(sinks, store)
		drains = append(drains, store)
	}
	// Drain the async sinks before the sinks they feed are closed.
	rt.closers = append([]func() error{func() error {
		for _, d := range drains {
			d.Close()
		}
		if n := logSink.Dropped(); n > 0 {
			logger.Debug("event log lines dropped", zap.Uint64("count", n))
		}
		return nil
	}}, rt.closers...)

	rt.Executor = engine.NewExecutor(reg, engine.Config{
		GlobalThreshold: cfg.GlobalThreshold,
		CumulativeCap:   cfg.CumulativeCap,
		MaxDepth:        cfg.MaxDepth,
	}, engine.WithEventSink(sinks), engine.WithRuleTimeout(cfg.RuleTimeout))

	rt.Service = NewService(rt.Executor, cache.NewInMemory(cfg.TreeCacheMaxItems),
		WithVelocity(vm, cfg.Profile != "" || cfg.Adaptive),
		WithLogger(logger))

	logger.Info("runtime ready",
		zap.Int("rules", reg.Len()),
		zap.String("profile", vm.Profile().Name),
		zap.Bool("adaptive", cfg.Adaptive),
		zap.String("event_log", cfg.EventLog),
		zap.String("event_db", cfg.EventDB))
	return rt, nil
}

// Close releases sinks in order; the async event sink is drained first.
func (r *Runtime) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
