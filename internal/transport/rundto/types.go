// Package rundto holds the wire shapes shared by the HTTP and Lambda
// transports.
package rundto

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/app"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

type RunRequest struct {
	Data            []float64       `json:"data"`
	Tree            json.RawMessage `json:"tree,omitempty"`
	TreeDOT         string          `json:"tree_dot,omitempty"`
	GlobalThreshold *float64        `json:"global_threshold,omitempty"`
	CumulativeCap   *float64        `json:"cumulative_cap,omitempty"`
	Profile         string          `json:"profile,omitempty"`
}

func (r RunRequest) ToApp() app.RunRequest {
	return app.RunRequest{
		Data:            r.Data,
		Tree:            r.Tree,
		TreeDOT:         r.TreeDOT,
		GlobalThreshold: r.GlobalThreshold,
		CumulativeCap:   r.CumulativeCap,
		Profile:         r.Profile,
	}
}

type RunResponse struct {
	RunID    string            `json:"run_id"`
	Output   engine.Vector     `json:"output"`
	Blocked  bool              `json:"blocked"`
	Path     string            `json:"path"`
	State    engine.State      `json:"state"`
	Meta     engine.ResultMeta `json:"meta"`
	Profile  string            `json:"profile,omitempty"`
	Timeline string            `json:"timeline"`
	Summary  engine.Summary    `json:"summary"`
	Events   []engine.LogEvent `json:"events"`
}

func FromResult(r *app.RunResult) RunResponse {
	// JSON has no NaN or Inf.
	out := engine.Sanitize(r.Output)
	evs := r.Events
	if evs == nil {
		evs = []engine.LogEvent{}
	}
	return RunResponse{
		RunID:    r.RunID,
		Output:   out,
		Blocked:  r.Blocked,
		Path:     r.Path,
		State:    r.State,
		Meta:     r.Meta,
		Profile:  r.Profile,
		Timeline: r.Timeline,
		Summary:  r.Summary,
		Events:   evs,
	}
}

// ErrorBody maps a service error to a status code and response body.
func ErrorBody(err error) (int, map[string]any) {
	status := http.StatusInternalServerError
	if errors.Is(err, app.ErrInvalidRequest) || errors.Is(err, engine.ErrInvalidTree) {
		status = http.StatusBadRequest
	}
	return status, map[string]any{
		"error":   "run failed",
		"details": err.Error(),
	}
}
