package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multiply(f float64) Transform {
	return TransformFunc(func(in Vector) (Vector, error) {
		return scaled(in, f), nil
	})
}

type layerPolicyStub map[Layer]float64

func (p layerPolicyStub) Threshold(layer Layer) float64 { return p[layer] }

func fixedClock() time.Time { return time.Unix(1700000000, 0).UTC() }

func newTestExecutor(t *testing.T, opts ...ExecutorOption) *Executor {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(Rule{Name: "mul", Transform: multiply(1.1), Layer: 1}))
	require.NoError(t, reg.Register(Rule{Name: "blowup", Transform: multiply(5), Layer: 2}))
	require.NoError(t, reg.Register(Rule{Name: "fail", Layer: 3, Transform: TransformFunc(func(in Vector) (Vector, error) {
		return nil, errors.New("boom")
	})}))
	require.NoError(t, reg.Register(Rule{Name: "panics", Layer: 3, Transform: TransformFunc(func(in Vector) (Vector, error) {
		panic("kaboom")
	})}))
	opts = append([]ExecutorOption{WithClock(fixedClock)}, opts...)
	return NewExecutor(reg, DefaultConfig(), opts...)
}

func eventKinds(events []LogEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Path+":"+string(ev.Event))
	}
	return out
}

func TestExecutor_ScenarioA_PassesBelowThreshold(t *testing.T) {
	e := newTestExecutor(t)
	in := Vector{1, 2, 3, 4, 5}

	run, err := e.Run(context.Background(), Ref("mul"), in, RunOptions{GlobalThreshold: Float(0.30)})
	require.NoError(t, err)

	assert.False(t, run.Result.Blocked)
	assert.Equal(t, StateSuccess, run.Result.State)
	assert.InDelta(t, 0.1497, run.Result.Impact, 1e-4)
	assert.InDelta(t, 0.1497, run.Summary.CumulativeVelocity, 1e-4)
	assert.InDeltaSlice(t, scaled(in, 1.1), run.Result.Output, 1e-12)
	assert.Equal(t, 0.30, run.Result.Meta.ThresholdUsed)
	assert.Equal(t, "mul", run.Timeline)
	assert.Equal(t, []string{"mul:enter", "mul:exit"}, eventKinds(run.Events))
}

func TestExecutor_ScenarioB_BlocksAndPassesInputThrough(t *testing.T) {
	e := newTestExecutor(t)
	in := Vector{1, 2, 3, 4, 5}

	run, err := e.Run(context.Background(), Ref("mul"), in, RunOptions{GlobalThreshold: Float(0.10)})
	require.NoError(t, err)

	assert.True(t, run.Result.Blocked)
	assert.Equal(t, StateBlocked, run.Result.State)
	assert.Equal(t, CauseThreshold, run.Result.Meta.Cause)
	assert.Equal(t, in, run.Result.Output)
	assert.Equal(t, 0.0, run.Summary.CumulativeVelocity)
	assert.Equal(t, "[mul blocked: impact=0.15≥threshold=0.10]", run.Timeline)
	assert.Equal(t, 1, run.Summary.Blocks)
}

func TestExecutor_ZeroGlobalThresholdBlocksChanges(t *testing.T) {
	e := newTestExecutor(t)

	run, err := e.Run(context.Background(), Ref("mul"), Vector{1, 2}, RunOptions{GlobalThreshold: Float(0)})
	require.NoError(t, err)
	assert.True(t, run.Result.Blocked)
	assert.Equal(t, 0.0, run.Result.Meta.ThresholdUsed)

	run, err = e.Run(context.Background(), Ref("mul"), Vector{1, 2}, RunOptions{})
	require.NoError(t, err)
	assert.False(t, run.Result.Blocked)
	assert.Equal(t, 0.30, run.Result.Meta.ThresholdUsed)
}

func TestExecutor_ScenarioC_CapHitHaltsRun(t *testing.T) {
	e := newTestExecutor(t)
	in := Vector{1, 2, 3, 4, 5}
	tree := NewGroup("main",
		&RuleRef{Name: "A", Rule: "mul"},
		&RuleRef{Name: "B", Rule: "mul"},
		&RuleRef{Name: "C", Rule: "mul"},
	)

	run, err := e.Run(context.Background(), tree, in, RunOptions{CumulativeCap: Float(0.20)})
	require.NoError(t, err)

	assert.True(t, run.Result.Blocked)
	assert.Equal(t, CauseCap, run.Result.Meta.Cause)
	assert.InDeltaSlice(t, scaled(in, 1.1), run.Result.Output, 1e-12)
	assert.Equal(t, 1, run.Summary.CapHits)
	assert.Equal(t, 2, run.Summary.RulesExecuted)
	assert.InDelta(t, 0.2770, run.Summary.CumulativeVelocity, 1e-4)
	assert.Equal(t, "A → (subtree stop by cap)", run.Timeline)
	assert.Equal(t, []string{
		"main:enter",
		"main/A:enter", "main/A:exit",
		"main/B:enter", "main/B:cap_hit", "main/B:block",
		"main:block",
	}, eventKinds(run.Events))
}

func TestExecutor_CapHitStopsSiblingGroups(t *testing.T) {
	e := newTestExecutor(t)
	tree := NewGroup("main",
		NewGroup("g1", &RuleRef{Name: "A", Rule: "mul"}),
		NewGroup("g2", &RuleRef{Name: "B", Rule: "mul"}),
		NewGroup("g3", &RuleRef{Name: "C", Rule: "mul"}),
	)

	run, err := e.Run(context.Background(), tree, Vector{1, 2, 3}, RunOptions{CumulativeCap: Float(0.20)})
	require.NoError(t, err)

	for _, ev := range run.Events {
		assert.NotContains(t, ev.Path, "g3", "g3 must not be visited after the cap is hit")
	}
	assert.True(t, run.Result.Blocked)
	assert.Equal(t, 3, run.Summary.MaxDepth)
}

func TestExecutor_BlockedRuleHaltsOnlyItsGroup(t *testing.T) {
	e := newTestExecutor(t)
	in := Vector{1, 2, 3}
	tree := NewGroup("main",
		NewGroup("g1", Ref("blowup"), &RuleRef{Name: "after", Rule: "mul"}),
		NewGroup("g2", Ref("mul")),
	)

	run, err := e.Run(context.Background(), tree, in, RunOptions{CumulativeCap: Float(0.9)})
	require.NoError(t, err)

	assert.False(t, run.Result.Blocked, "containment is local to g1")
	assert.InDeltaSlice(t, scaled(in, 1.1), run.Result.Output, 1e-12)
	assert.Equal(t, "[blowup blocked: impact=1.00≥threshold=0.30] → mul", run.Timeline)
	assert.Equal(t, []string{
		"main:enter",
		"main/g1:enter",
		"main/g1/blowup:enter", "main/g1/blowup:block",
		"main/g1:block",
		"main/g2:enter",
		"main/g2/mul:enter", "main/g2/mul:exit",
		"main/g2:exit",
		"main:exit",
	}, eventKinds(run.Events))
}

func TestExecutor_FirstChildBlockReturnsGroupInput(t *testing.T) {
	e := newTestExecutor(t)
	in := Vector{2, 2}

	res := e.Execute(context.Background(), NewRunState("r", 0.3, 0.5), NewGroup("g", Ref("blowup"), Ref("mul")), in)
	assert.True(t, res.Blocked)
	assert.Equal(t, CauseChild, res.Meta.Cause)
	assert.Equal(t, in, res.Output)
}

func TestExecutor_UnknownRuleIsContained(t *testing.T) {
	e := newTestExecutor(t)
	in := Vector{1, 2, 3}
	tree := NewGroup("main",
		NewGroup("inner", Ref("missing"), Ref("mul")),
		&RuleRef{Name: "outer", Rule: "mul"},
	)

	run, err := e.Run(context.Background(), tree, in, RunOptions{})
	require.NoError(t, err)

	assert.False(t, run.Result.Blocked)
	assert.InDeltaSlice(t, scaled(in, 1.1), run.Result.Output, 1e-12)
	assert.Equal(t, "[missing blocked: rule_not_found] → outer", run.Timeline)
	assert.Equal(t, 1, run.Summary.RulesExecuted)

	state := NewRunState("r", 0.3, 0.5)
	res := e.Execute(context.Background(), state, Ref("missing"), in)
	assert.True(t, res.Blocked)
	assert.Equal(t, "rule_not_found", res.Meta.Error)
	assert.Equal(t, in, res.Output)
}

func TestExecutor_BlockedGroupNamesItsCause(t *testing.T) {
	e := newTestExecutor(t)

	res := e.Execute(context.Background(), NewRunState("r", 0.3, 0.5), NewGroup("main", Ref("mul"), Ref("missing")), Vector{1, 2, 3})
	assert.True(t, res.Blocked)
	assert.Equal(t, CauseChild, res.Meta.Cause)
	assert.Equal(t, "main/missing", res.Meta.BlockedBy)
	assert.Equal(t, CauseRuleNotFound, res.Meta.RootCause)
	assert.Equal(t, "rule_not_found", res.Meta.Error)

	tree := NewGroup("main", NewGroup("g", Ref("mul"), &RuleRef{Name: "second", Rule: "mul"}))
	run, err := e.Run(context.Background(), tree, Vector{1, 2, 3}, RunOptions{CumulativeCap: Float(0.20)})
	require.NoError(t, err)
	assert.Equal(t, CauseCap, run.Result.Meta.Cause)
	assert.Equal(t, "main/g/second", run.Result.Meta.BlockedBy)
	assert.Equal(t, CauseCap, run.Result.Meta.RootCause)

	run, err = e.Run(context.Background(), NewGroup("main", Ref("mul")), Vector{1, 2, 3}, RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, run.Result.Meta.BlockedBy)
}

func TestExecutor_TransformFailureIsFailSafe(t *testing.T) {
	for _, name := range []string{"fail", "panics"} {
		t.Run(name, func(t *testing.T) {
			e := newTestExecutor(t)
			in := Vector{1, 2, 3}

			run, err := e.Run(context.Background(), NewGroup("main", Ref("mul"), Ref(name), Ref("mul")), in, RunOptions{})
			require.NoError(t, err)

			assert.True(t, run.Result.Blocked)
			assert.InDeltaSlice(t, scaled(in, 1.1), run.Result.Output, 1e-12)
			assert.Equal(t, []string{
				"main:enter",
				"main/mul:enter", "main/mul:exit",
				"main/" + name + ":enter", "main/" + name + ":error", "main/" + name + ":block",
				"main:block",
			}, eventKinds(run.Events))

			res := e.Execute(context.Background(), NewRunState("r", 0.3, 0.5), Ref(name), in)
			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, 0.0, res.Impact)
			assert.NotEmpty(t, res.Meta.Error)
			assert.Equal(t, in, res.Output)
		})
	}
}

func TestExecutor_RuleTimeoutIsFailure(t *testing.T) {
	reg := NewRegistry()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	reg.MustRegister(Rule{Name: "slow", Layer: 1, Transform: TransformFunc(func(in Vector) (Vector, error) {
		<-release
		return in, nil
	})})
	e := NewExecutor(reg, DefaultConfig(), WithRuleTimeout(10*time.Millisecond))

	res := e.Execute(context.Background(), NewRunState("r", 0.3, 0.5), Ref("slow"), Vector{1})
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Meta.Error, "exceeded")
}

func TestExecutor_TransformCannotMutateInput(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Rule{Name: "mutate", Layer: 1, Threshold: Float(0), Transform: TransformFunc(func(in Vector) (Vector, error) {
		in[0] = 99
		return in, nil
	})})
	e := NewExecutor(reg, DefaultConfig())
	in := Vector{1, 2}

	run, err := e.Run(context.Background(), Ref("mutate"), in, RunOptions{})
	require.NoError(t, err)
	assert.True(t, run.Result.Blocked)
	assert.Equal(t, Vector{1, 2}, run.Result.Output)
	assert.Equal(t, Vector{1, 2}, in)
}

func TestExecutor_ThresholdResolutionOrder(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		Rule{Name: "plain", Layer: 4, Transform: multiply(1.1)},
		Rule{Name: "ruled", Layer: 4, Transform: multiply(1.1), Threshold: Float(0.21)},
	)
	policy := layerPolicyStub{4: 0.44}
	e := NewExecutor(reg, DefaultConfig(), WithLayerPolicy(policy))
	state := func() *RunState { return NewRunState("r", 0.55, 0.99).WithLayerPolicy(policy) }
	ctx := context.Background()

	node := e.Execute(ctx, state(), &RuleRef{Name: "ruled", Threshold: Float(0.11)}, Vector{1})
	assert.Equal(t, 0.11, node.Meta.ThresholdUsed)

	rule := e.Execute(ctx, state(), &Group{Name: "g", Threshold: Float(0.33), Children: []Node{Ref("ruled")}}, Vector{1})
	assert.Equal(t, 0.33, rule.Meta.ThresholdUsed, "group result reports its own threshold")

	st := state()
	e.Execute(ctx, st, &Group{Name: "g", Threshold: Float(0.33), Children: []Node{Ref("ruled"), Ref("plain")}}, Vector{1})
	thresholds := map[string]float64{}
	for _, ev := range st.Events() {
		if ev.Event == EventEnter && ev.Type == NodeRule {
			thresholds[ev.Node] = ev.Threshold
		}
	}
	assert.Equal(t, map[string]float64{"ruled": 0.21, "plain": 0.33}, thresholds)

	layered := e.Execute(ctx, state(), Ref("plain"), Vector{1})
	assert.Equal(t, 0.44, layered.Meta.ThresholdUsed)

	global := e.Execute(ctx, NewRunState("r", 0.55, 0.99), Ref("plain"), Vector{1})
	assert.Equal(t, 0.55, global.Meta.ThresholdUsed)
}

func TestExecutor_RunUsesExecutorLayerPolicyByDefault(t *testing.T) {
	e := newTestExecutor(t, WithLayerPolicy(layerPolicyStub{1: 0.12}))

	run, err := e.Run(context.Background(), Ref("mul"), Vector{1, 2, 3}, RunOptions{})
	require.NoError(t, err)
	assert.True(t, run.Result.Blocked, "0.1497 >= 0.12")
	assert.Equal(t, 0.12, run.Result.Meta.ThresholdUsed)
}

func TestExecutor_Deterministic(t *testing.T) {
	e := newTestExecutor(t)
	tree := func() Node {
		return NewGroup("main",
			NewGroup("g1", Ref("mul"), Ref("blowup")),
			Ref("missing"),
			NewGroup("g2", &RuleRef{Name: "again", Rule: "mul"}, Ref("fail")),
		)
	}

	first, err := e.Run(context.Background(), tree(), Vector{1, 2, 3, 4, 5}, RunOptions{RunID: "run"})
	require.NoError(t, err)
	second, err := e.Run(context.Background(), tree(), Vector{1, 2, 3, 4, 5}, RunOptions{RunID: "run"})
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("runs differ (-first +second):\n%s", diff)
	}
}

func TestExecutor_CanceledContextStopsBetweenNodes(t *testing.T) {
	e := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := e.Run(ctx, NewGroup("main", Ref("mul")), Vector{1}, RunOptions{})
	require.NoError(t, err)
	assert.True(t, run.Result.Blocked)
	assert.Equal(t, CauseCanceled, run.Result.Meta.Cause)
	assert.Empty(t, run.Events)
	assert.Equal(t, EmptyTimeline, run.Timeline)
}

func TestExecutor_EmptyGroupPasses(t *testing.T) {
	e := newTestExecutor(t)
	run, err := e.Run(context.Background(), NewGroup("main"), Vector{3}, RunOptions{})
	require.NoError(t, err)
	assert.False(t, run.Result.Blocked)
	assert.Equal(t, Vector{3}, run.Result.Output)
	assert.Equal(t, EmptyTimeline, run.Timeline)
}

func TestExecutor_SinkSeesEventsInOrder(t *testing.T) {
	var seen []LogEvent
	e := newTestExecutor(t, WithEventSink(EventSinkFunc(func(ev LogEvent) {
		seen = append(seen, ev)
	})))

	run, err := e.Run(context.Background(), NewGroup("main", Ref("mul"), Ref("mul")), Vector{1, 2}, RunOptions{RunID: "abc"})
	require.NoError(t, err)

	if diff := cmp.Diff(run.Events, seen); diff != "" {
		t.Fatalf("sink events differ (-log +sink):\n%s", diff)
	}
	for _, ev := range seen {
		assert.Equal(t, "abc", ev.RunID)
	}
}

func TestExecutor_RunRejectsInvalidInput(t *testing.T) {
	e := newTestExecutor(t)
	shared := Ref("mul")

	tests := []struct {
		name string
		root Node
		opts RunOptions
	}{
		{name: "nil root", root: nil},
		{name: "shared node", root: NewGroup("main", shared, shared)},
		{name: "empty name", root: NewGroup("main", Ref(""))},
		{name: "slash in name", root: Ref("a/b")},
		{name: "negative threshold", root: RefWithThreshold("mul", -1)},
		{name: "nil child", root: NewGroup("main", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Run(context.Background(), tt.root, Vector{1}, tt.opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTree)
		})
	}

	_, err := e.Run(context.Background(), Ref("mul"), Vector{1}, RunOptions{CumulativeCap: Float(1.5)})
	assert.Error(t, err)
}

func TestValidate_MaxDepth(t *testing.T) {
	var root Node = Ref("mul")
	for i := 0; i < 5; i++ {
		root = NewGroup("g", root)
	}
	assert.NoError(t, Validate(root, 6))
	assert.ErrorIs(t, Validate(root, 5), ErrInvalidTree)
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Rule{Name: "a", Layer: 1, Transform: multiply(2)}))

	assert.ErrorIs(t, reg.Register(Rule{Name: "a", Layer: 1, Transform: multiply(2)}), ErrDuplicateRule)
	assert.ErrorIs(t, reg.Register(Rule{Name: "b", Layer: 8, Transform: multiply(2)}), ErrInvalidLayer)
	assert.ErrorIs(t, reg.Register(Rule{Name: "c", Layer: 1}), ErrInvalidRule)
	assert.ErrorIs(t, reg.Register(Rule{Layer: 1, Transform: multiply(2)}), ErrInvalidRule)

	threshold := 0.2
	require.NoError(t, reg.Register(Rule{Name: "d", Layer: 2, Transform: multiply(2), Threshold: &threshold}))
	threshold = 0.9
	d, ok := reg.Lookup("d")
	require.True(t, ok)
	assert.Equal(t, 0.2, *d.Threshold)
	assert.Equal(t, []string{"a", "d"}, reg.Names())
}
