package engine

import "time"

type EventKind string

const (
	EventEnter  EventKind = "enter"
	EventExit   EventKind = "exit"
	EventBlock  EventKind = "block"
	EventCapHit EventKind = "cap_hit"
	EventError  EventKind = "error"
)

// BlockCause says why a node ended BLOCKED or FAILED.
type BlockCause string

const (
	CauseThreshold    BlockCause = "threshold"
	CauseCap          BlockCause = "cap"
	CauseTransform    BlockCause = "transform_failure"
	CauseRuleNotFound BlockCause = "rule_not_found"
	CauseCanceled     BlockCause = "canceled"
	CauseChild        BlockCause = "child_blocked"
)

// LogEvent is one append-only entry of a run log. Slice order is execution
// order; Timestamp is informational only.
type LogEvent struct {
	Timestamp  time.Time  `json:"ts"`
	RunID      string     `json:"run_id,omitempty"`
	Path       string     `json:"path"`
	Node       string     `json:"node"`
	Type       NodeKind   `json:"type"`
	Event      EventKind  `json:"event"`
	Impact     float64    `json:"impact"`
	Threshold  float64    `json:"threshold"`
	Cumulative float64    `json:"cum"`
	DurationMS float64    `json:"duration_ms"`
	Layer      Layer      `json:"layer,omitempty"`
	Cause      BlockCause `json:"cause,omitempty"`
	Note       string     `json:"note,omitempty"`
}

// State is the terminal (or in-flight) state of one node visit.
type State int

const (
	StatePending State = iota
	StateRunning
	StateSuccess
	StateBlocked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSuccess:
		return "success"
	case StateBlocked:
		return "blocked"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type ExecutionResult struct {
	Output  Vector     `json:"output"`
	Impact  float64    `json:"impact"`
	Path    string     `json:"path"`
	Blocked bool       `json:"blocked"`
	State   State      `json:"state"`
	Meta    ResultMeta `json:"meta"`
}

type ResultMeta struct {
	DurationMS       float64    `json:"duration_ms"`
	ThresholdUsed    float64    `json:"threshold_used"`
	CumulativeAtExit float64    `json:"cumulative_at_exit"`
	Cause            BlockCause `json:"cause,omitempty"`
	Error            string     `json:"error,omitempty"`
	// BlockedBy is the path of the rule whose block stopped this group, and
	// RootCause why that rule blocked. Empty for rules and passing groups.
	BlockedBy string     `json:"blocked_by,omitempty"`
	RootCause BlockCause `json:"root_cause,omitempty"`
}
