package engine

import (
	"context"
	"fmt"
	"math"
	"time"
)

type Config struct {
	GlobalThreshold float64
	CumulativeCap   float64
	MaxDepth        int
	Epsilon         float64
}

func DefaultConfig() Config {
	return Config{
		GlobalThreshold: 0.30,
		CumulativeCap:   0.50,
		MaxDepth:        64,
		Epsilon:         DefaultEpsilon,
	}
}

// LayerPolicy supplies per-layer default thresholds.
type LayerPolicy interface {
	Threshold(layer Layer) float64
}

type Executor struct {
	registry    *Registry
	cfg         Config
	impact      ImpactCalculator
	sink        EventSink
	policy      LayerPolicy
	ruleTimeout time.Duration
	now         func() time.Time
}

type ExecutorOption func(*Executor)

func WithEventSink(sink EventSink) ExecutorOption {
	return func(e *Executor) {
		e.sink = sink
	}
}

// WithLayerPolicy sets the policy used by runs that do not bring their own.
func WithLayerPolicy(policy LayerPolicy) ExecutorOption {
	return func(e *Executor) {
		e.policy = policy
	}
}

// WithRuleTimeout bounds every transform call. A timed-out rule is FAILED.
func WithRuleTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.ruleTimeout = d
	}
}

func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func NewExecutor(registry *Registry, cfg Config, opts ...ExecutorOption) *Executor {
	def := DefaultConfig()
	if cfg.GlobalThreshold <= 0 {
		cfg.GlobalThreshold = def.GlobalThreshold
	}
	if cfg.CumulativeCap <= 0 {
		cfg.CumulativeCap = def.CumulativeCap
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = def.Epsilon
	}
	if registry == nil {
		registry = NewRegistry()
	}

	e := &Executor{
		registry: registry,
		cfg:      cfg,
		impact:   NewImpactCalculator(cfg.Epsilon),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Config() Config      { return e.cfg }
func (e *Executor) Registry() *Registry { return e.registry }

type RunOptions struct {
	RunID string
	// GlobalThreshold and CumulativeCap fall back to the executor config when
	// nil. A global threshold of 0 blocks every rule that changes its input.
	GlobalThreshold *float64
	CumulativeCap   *float64
	// LayerPolicy overrides the executor's policy for this run.
	LayerPolicy LayerPolicy
}

type Run struct {
	ID       string          `json:"run_id"`
	Result   ExecutionResult `json:"result"`
	Events   []LogEvent      `json:"events"`
	Timeline string          `json:"timeline"`
	Summary  Summary         `json:"summary"`
}

// Run validates root, executes it against data with a fresh RunState and
// returns the result together with the log, timeline and summary. Only an
// invalid tree or invalid run options produce an error.
func (e *Executor) Run(ctx context.Context, root Node, data Vector, opts RunOptions) (*Run, error) {
	if err := Validate(root, e.cfg.MaxDepth); err != nil {
		return nil, err
	}
	state, err := e.NewRunState(opts)
	if err != nil {
		return nil, err
	}

	res := e.Execute(ctx, state, root, data)
	events := state.Events()
	return &Run{
		ID:       state.ID(),
		Result:   res,
		Events:   events,
		Timeline: RenderTimeline(events),
		Summary:  Summarize(events, state.Cumulative()),
	}, nil
}

func (e *Executor) NewRunState(opts RunOptions) (*RunState, error) {
	threshold := e.cfg.GlobalThreshold
	if opts.GlobalThreshold != nil {
		threshold = *opts.GlobalThreshold
	}
	if err := validThreshold(threshold); err != nil {
		return nil, fmt.Errorf("global threshold: %w", err)
	}

	limit := e.cfg.CumulativeCap
	if opts.CumulativeCap != nil {
		limit = *opts.CumulativeCap
	}
	if math.IsNaN(limit) || limit <= 0 || limit > 1 {
		return nil, fmt.Errorf("cumulative cap must be in (0, 1] (got %v)", limit)
	}

	policy := opts.LayerPolicy
	if policy == nil {
		policy = e.policy
	}
	return NewRunState(opts.RunID, threshold, limit).WithLayerPolicy(policy), nil
}

// Execute walks node depth-first using state. The caller owns state and must
// not share it between runs.
func (e *Executor) Execute(ctx context.Context, state *RunState, node Node, data Vector) ExecutionResult {
	if ctx == nil {
		ctx = context.Background()
	}
	return e.visit(ctx, state, node, data.Clone(), "", nil)
}

func (e *Executor) visit(ctx context.Context, state *RunState, node Node, data Vector, parent string, inherited *float64) ExecutionResult {
	path := joinPath(parent, node.NodeName())

	if err := ctx.Err(); err != nil {
		state.stop(CauseCanceled)
		return ExecutionResult{
			Output:  data,
			Path:    path,
			Blocked: true,
			State:   StateBlocked,
			Meta: ResultMeta{
				CumulativeAtExit: state.Cumulative(),
				Cause:            CauseCanceled,
				Error:            "canceled",
			},
		}
	}

	switch n := node.(type) {
	case *RuleRef:
		return e.runRule(state, n, data, path, inherited)
	case *Group:
		return e.runGroup(ctx, state, n, data, path, inherited)
	}
	return ExecutionResult{
		Output:  data,
		Path:    path,
		Blocked: true,
		State:   StateFailed,
		Meta:    ResultMeta{Error: fmt.Sprintf("unsupported node %T", node)},
	}
}

func (e *Executor) runRule(state *RunState, n *RuleRef, data Vector, path string, inherited *float64) ExecutionResult {
	start := e.now()

	rule, ok := e.registry.Lookup(n.RuleName())
	if !ok {
		threshold := e.resolveThreshold(state, n, nil, inherited)
		e.emit(state, LogEvent{Path: path, Node: n.Name, Type: NodeRule, Event: EventEnter, Threshold: threshold})
		e.emit(state, LogEvent{
			Path:       path,
			Node:       n.Name,
			Type:       NodeRule,
			Event:      EventBlock,
			Threshold:  threshold,
			DurationMS: sinceMS(start, e.now()),
			Cause:      CauseRuleNotFound,
			Note:       string(CauseRuleNotFound),
		})
		return e.blockedRule(state, data, path, 0, threshold, start, StateBlocked, CauseRuleNotFound, string(CauseRuleNotFound))
	}

	threshold := e.resolveThreshold(state, n, &rule, inherited)
	e.emit(state, LogEvent{Path: path, Node: n.Name, Type: NodeRule, Event: EventEnter, Threshold: threshold, Layer: rule.Layer})

	out := invoke(rule.Transform, data, e.ruleTimeout)
	switch out.kind {
	case outcomeError, outcomePanic, outcomeTimeout:
		msg := out.err.Error()
		e.emit(state, LogEvent{
			Path:       path,
			Node:       n.Name,
			Type:       NodeRule,
			Event:      EventError,
			Threshold:  threshold,
			DurationMS: sinceMS(start, e.now()),
			Layer:      rule.Layer,
			Cause:      CauseTransform,
			Note:       msg,
		})
		e.emit(state, LogEvent{
			Path:       path,
			Node:       n.Name,
			Type:       NodeRule,
			Event:      EventBlock,
			Threshold:  threshold,
			DurationMS: sinceMS(start, e.now()),
			Layer:      rule.Layer,
			Cause:      CauseTransform,
			Note:       msg,
		})
		return e.blockedRule(state, data, path, 0, threshold, start, StateFailed, CauseTransform, msg)
	}

	impact := e.impact.Calculate(data, out.output)
	filter := ThresholdFilter{Threshold: threshold}
	if filter.ShouldBlock(impact) {
		e.emit(state, LogEvent{
			Path:       path,
			Node:       n.Name,
			Type:       NodeRule,
			Event:      EventBlock,
			Impact:     impact,
			Threshold:  threshold,
			DurationMS: sinceMS(start, e.now()),
			Layer:      rule.Layer,
			Cause:      CauseThreshold,
			Note:       filter.Reason(impact),
		})
		return e.blockedRule(state, data, path, impact, threshold, start, StateBlocked, CauseThreshold, "")
	}

	if _, tripped := state.cumulative.Fold(impact); tripped {
		state.stop(CauseCap)
		note := fmt.Sprintf("cumulative=%.3f >= cap=%.3f", state.Cumulative(), state.CumulativeCap())
		e.emit(state, LogEvent{
			Path:      path,
			Node:      n.Name,
			Type:      NodeRule,
			Event:     EventCapHit,
			Impact:    impact,
			Threshold: threshold,
			Layer:     rule.Layer,
			Cause:     CauseCap,
			Note:      note,
		})
		e.emit(state, LogEvent{
			Path:       path,
			Node:       n.Name,
			Type:       NodeRule,
			Event:      EventBlock,
			Impact:     impact,
			Threshold:  threshold,
			DurationMS: sinceMS(start, e.now()),
			Layer:      rule.Layer,
			Cause:      CauseCap,
			Note:       note,
		})
		return e.blockedRule(state, data, path, impact, threshold, start, StateBlocked, CauseCap, "")
	}

	duration := sinceMS(start, e.now())
	e.emit(state, LogEvent{
		Path:       path,
		Node:       n.Name,
		Type:       NodeRule,
		Event:      EventExit,
		Impact:     impact,
		Threshold:  threshold,
		DurationMS: duration,
		Layer:      rule.Layer,
	})
	return ExecutionResult{
		Output: out.output,
		Impact: impact,
		Path:   path,
		State:  StateSuccess,
		Meta: ResultMeta{
			DurationMS:       duration,
			ThresholdUsed:    threshold,
			CumulativeAtExit: state.Cumulative(),
		},
	}
}

func (e *Executor) blockedRule(state *RunState, data Vector, path string, impact, threshold float64, start time.Time, st State, cause BlockCause, errMsg string) ExecutionResult {
	return ExecutionResult{
		Output:  data,
		Impact:  impact,
		Path:    path,
		Blocked: true,
		State:   st,
		Meta: ResultMeta{
			DurationMS:       sinceMS(start, e.now()),
			ThresholdUsed:    threshold,
			CumulativeAtExit: state.Cumulative(),
			Cause:            cause,
			Error:            errMsg,
		},
	}
}

func (e *Executor) runGroup(ctx context.Context, state *RunState, g *Group, data Vector, path string, inherited *float64) ExecutionResult {
	start := e.now()

	scope := inherited
	if t, ok := g.ThresholdOverride(); ok {
		scope = &t
	}
	threshold := state.GlobalThreshold()
	if scope != nil {
		threshold = *scope
	}

	e.emit(state, LogEvent{Path: path, Node: g.Name, Type: NodeGroup, Event: EventEnter, Threshold: threshold})

	current := data
	var cause BlockCause
	var culprit ResultMeta
	errMsg := ""
	for _, child := range g.Children {
		if state.Halted() {
			cause = state.HaltCause()
			break
		}

		res := e.visit(ctx, state, child, current, path, scope)
		if !res.Blocked {
			current = res.Output
			continue
		}
		if state.Halted() {
			cause = state.HaltCause()
			if cause == CauseCanceled {
				errMsg = "canceled"
			}
			culprit = origin(res)
			break
		}
		if child.Kind() == NodeGroup {
			// The child group already contained its own failure.
			current = res.Output
			continue
		}
		cause = CauseChild
		culprit = origin(res)
		errMsg = culprit.Error
		break
	}

	duration := sinceMS(start, e.now())
	ev := LogEvent{
		Path:       path,
		Node:       g.Name,
		Type:       NodeGroup,
		Event:      EventExit,
		Threshold:  threshold,
		DurationMS: duration,
	}
	if cause != "" {
		ev.Event = EventBlock
		ev.Cause = cause
	}
	e.emit(state, ev)

	res := ExecutionResult{
		Output: current,
		Path:   path,
		State:  StateSuccess,
		Meta: ResultMeta{
			DurationMS:       duration,
			ThresholdUsed:    threshold,
			CumulativeAtExit: state.Cumulative(),
		},
	}
	if cause != "" {
		res.Blocked = true
		res.State = StateBlocked
		res.Meta.Cause = cause
		res.Meta.Error = errMsg
		res.Meta.BlockedBy = culprit.BlockedBy
		res.Meta.RootCause = culprit.RootCause
	}
	return res
}

// origin traces a blocked result back to the rule that caused it.
func origin(res ExecutionResult) ResultMeta {
	if res.Meta.BlockedBy != "" {
		return ResultMeta{BlockedBy: res.Meta.BlockedBy, RootCause: res.Meta.RootCause, Error: res.Meta.Error}
	}
	return ResultMeta{BlockedBy: res.Path, RootCause: res.Meta.Cause, Error: res.Meta.Error}
}

// resolveThreshold picks, in order: the node override, the rule default, the
// nearest enclosing group threshold, the layer policy and the run's global
// threshold.
func (e *Executor) resolveThreshold(state *RunState, n *RuleRef, rule *Rule, inherited *float64) float64 {
	if t, ok := n.ThresholdOverride(); ok {
		return t
	}
	if rule != nil && rule.Threshold != nil {
		return *rule.Threshold
	}
	if inherited != nil {
		return *inherited
	}
	if rule != nil && state.layerPolicy != nil && rule.Layer.Valid() {
		if t := state.layerPolicy.Threshold(rule.Layer); t > 0 {
			return t
		}
	}
	return state.GlobalThreshold()
}

func (e *Executor) emit(state *RunState, ev LogEvent) {
	ev.Timestamp = e.now()
	ev.RunID = state.ID()
	ev.Cumulative = state.Cumulative()
	state.append(ev)
	if e.sink != nil {
		e.sink.Emit(ev)
	}
}

func sinceMS(start, end time.Time) float64 {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return float64(d.Microseconds()) / 1000.0
}
