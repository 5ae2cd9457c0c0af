// Package sink persists run events outside the engine: an append-only JSON
// lines file and a SQLite event table. Neither is read back during a run.
package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

// JSONL writes one JSON object per event and line.
type JSONL struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	logger *zap.Logger
	failed atomic.Uint64
}

func NewJSONL(w io.Writer, logger *zap.Logger) *JSONL {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &JSONL{enc: json.NewEncoder(w), logger: logger}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenJSONL appends to path, creating it when missing.
func OpenJSONL(path string, logger *zap.Logger) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return NewJSONL(f, logger), nil
}

func (s *JSONL) Emit(ev engine.LogEvent) {
	s.mu.Lock()
	err := s.enc.Encode(ev)
	s.mu.Unlock()
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("event log write failed", zap.String("run_id", ev.RunID), zap.Error(err))
	}
}

// Failed counts events that could not be written.
func (s *JSONL) Failed() uint64 { return s.failed.Load() }

func (s *JSONL) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
