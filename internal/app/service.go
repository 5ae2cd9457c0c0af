package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/tree"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/velocity"
)

var ErrInvalidRequest = errors.New("invalid run request")

type Executor interface {
	Run(ctx context.Context, root engine.Node, data engine.Vector, opts engine.RunOptions) (*engine.Run, error)
}

type Cache interface {
	GetOrCompute(key string, fn func() (engine.Node, error)) (engine.Node, error)
}

type Service struct {
	exec        Executor
	cache       Cache
	velocity    *velocity.Manager
	applyAlways bool
	defaultTree engine.Node
	newID       func() string
	logger      *zap.Logger
}

type Option func(*Service)

// WithVelocity attaches a velocity manager. Requests naming a profile use it;
// with always set, every other request runs under the manager's current
// (or adaptive) thresholds too.
func WithVelocity(m *velocity.Manager, always bool) Option {
	return func(s *Service) {
		s.velocity = m
		s.applyAlways = always
	}
}

func WithDefaultTree(root engine.Node) Option {
	return func(s *Service) {
		if root != nil {
			s.defaultTree = root
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(exec Executor, cache Cache, opts ...Option) *Service {
	s := &Service{
		exec:        exec,
		cache:       cache,
		defaultTree: tree.Default(),
		newID:       uuid.NewString,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run compiles (cached) the requested tree and executes it. Rule failures,
// blocks and cap hits are reported in the result; only malformed requests
// and trees return an error.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.Data == nil {
		return nil, fmt.Errorf("%w: data is required", ErrInvalidRequest)
	}

	root, err := s.resolveTree(req)
	if err != nil {
		return nil, err
	}

	opts := engine.RunOptions{
		RunID:           s.newID(),
		GlobalThreshold: req.GlobalThreshold,
		CumulativeCap:   req.CumulativeCap,
	}

	profile := ""
	switch {
	case req.Profile != "":
		if s.velocity == nil {
			return nil, fmt.Errorf("%w: velocity profiles are not enabled", ErrInvalidRequest)
		}
		p, ok := s.velocity.Lookup(req.Profile)
		if !ok {
			return nil, fmt.Errorf("%w: unknown profile %q", ErrInvalidRequest, req.Profile)
		}
		opts.LayerPolicy = p
		if req.CumulativeCap == nil {
			opts.CumulativeCap = engine.Float(p.CumulativeCap)
		}
		profile = p.Name
	case s.velocity != nil && s.applyAlways:
		opts.LayerPolicy = s.velocity
		if req.CumulativeCap == nil {
			opts.CumulativeCap = engine.Float(s.velocity.CumulativeCap())
		}
		profile = s.velocity.Profile().Name
	}

	run, err := s.exec.Run(ctx, root, engine.Vector(req.Data), opts)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidTree) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if opts.LayerPolicy != nil {
		s.observe(run.Events)
	}
	s.logger.Debug("run finished",
		zap.String("run_id", run.ID),
		zap.Bool("blocked", run.Result.Blocked),
		zap.Int("rules_executed", run.Summary.RulesExecuted),
		zap.Int("blocks", run.Summary.Blocks),
		zap.Int("cap_hits", run.Summary.CapHits),
		zap.Float64("cumulative", run.Summary.CumulativeVelocity))

	return &RunResult{
		RunID:    run.ID,
		Output:   run.Result.Output,
		Blocked:  run.Result.Blocked,
		Path:     run.Result.Path,
		State:    run.Result.State,
		Meta:     run.Result.Meta,
		Timeline: run.Timeline,
		Summary:  run.Summary,
		Events:   run.Events,
		Profile:  profile,
	}, nil
}

func (s *Service) resolveTree(req RunRequest) (engine.Node, error) {
	hasJSON := len(req.Tree) > 0 && string(req.Tree) != "null"
	switch {
	case hasJSON && req.TreeDOT != "":
		return nil, fmt.Errorf("%w: tree and tree_dot are mutually exclusive", ErrInvalidRequest)
	case hasJSON:
		src := req.Tree
		return s.cache.GetOrCompute("json:"+string(src), func() (engine.Node, error) {
			return tree.ParseJSON(src)
		})
	case req.TreeDOT != "":
		src := req.TreeDOT
		return s.cache.GetOrCompute("dot:"+src, func() (engine.Node, error) {
			return tree.ParseDOT(src)
		})
	}
	return s.defaultTree, nil
}

// observe records measured rule impacts of a run that used layer thresholds:
// breaches against the threshold each rule actually ran with, and per-layer
// samples for adaptive mode.
func (s *Service) observe(events []engine.LogEvent) {
	if s.velocity == nil {
		return
	}
	samples := map[engine.Layer][]float64{}
	for _, ev := range events {
		if ev.Type != engine.NodeRule || !ev.Layer.Valid() {
			continue
		}
		measured := ev.Event == engine.EventExit ||
			ev.Event == engine.EventCapHit ||
			(ev.Event == engine.EventBlock && ev.Cause == engine.CauseThreshold)
		if !measured {
			continue
		}
		s.velocity.RecordBreach(ev.Layer, ev.Impact, ev.Threshold)
		samples[ev.Layer] = append(samples[ev.Layer], ev.Impact)
	}
	for layer, impacts := range samples {
		s.velocity.Observe(layer, impacts)
	}
}

func (s *Service) Health() Health {
	h := Health{Status: "ok"}
	if s.velocity != nil {
		h.Profile = s.velocity.Profile().Name
		h.Adaptive = s.velocity.Adaptive() != nil
		h.Breaches = s.velocity.BreachStatistics().TotalBreaches
	}
	return h
}
