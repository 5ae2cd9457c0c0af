package engine

// RunState is owned by exactly one run: cumulative velocity, the halt flag
// and the event log. Create one per run with NewRunState; it is not safe for
// concurrent use.
type RunState struct {
	id              string
	globalThreshold float64
	layerPolicy     LayerPolicy
	cumulative      *CumulativeAggregator
	events          []LogEvent
	halt            BlockCause
}

func NewRunState(id string, globalThreshold, cumulativeCap float64) *RunState {
	return &RunState{
		id:              id,
		globalThreshold: globalThreshold,
		cumulative:      NewCumulativeAggregator(cumulativeCap),
	}
}

func (s *RunState) ID() string               { return s.id }
func (s *RunState) GlobalThreshold() float64 { return s.globalThreshold }
func (s *RunState) CumulativeCap() float64   { return s.cumulative.Cap() }
func (s *RunState) Cumulative() float64      { return s.cumulative.Velocity() }
func (s *RunState) CapStatus() CapStatus     { return s.cumulative.Status() }
func (s *RunState) Halted() bool             { return s.halt != "" }
func (s *RunState) HaltCause() BlockCause    { return s.halt }
func (s *RunState) WithLayerPolicy(p LayerPolicy) *RunState {
	s.layerPolicy = p
	return s
}

// Events returns a copy of the log.
func (s *RunState) Events() []LogEvent {
	out := make([]LogEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *RunState) stop(cause BlockCause) {
	if s.halt == "" {
		s.halt = cause
	}
}

func (s *RunState) append(ev LogEvent) {
	s.events = append(s.events, ev)
}
