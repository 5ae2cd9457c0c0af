package app

import (
	"context"
	"encoding/json"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

// RunService is what the transports depend on.
type RunService interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
	Health() Health
}

// RunRequest carries a data vector and at most one tree definition. With no
// tree the default pipeline runs. Nil pointers fall back to the engine
// configuration; Profile selects velocity layer thresholds.
type RunRequest struct {
	Data            []float64
	Tree            json.RawMessage
	TreeDOT         string
	GlobalThreshold *float64
	CumulativeCap   *float64
	Profile         string
}

type RunResult struct {
	RunID    string
	Output   engine.Vector
	Blocked  bool
	Path     string
	State    engine.State
	Meta     engine.ResultMeta
	Timeline string
	Summary  engine.Summary
	Events   []engine.LogEvent
	Profile  string
}

type Health struct {
	Status   string `json:"status"`
	Profile  string `json:"profile,omitempty"`
	Adaptive bool   `json:"adaptive"`
	Breaches int    `json:"breaches"`
}
