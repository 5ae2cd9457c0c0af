package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

func events() []engine.LogEvent {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return []engine.LogEvent{
		{Timestamp: ts, RunID: "r1", Path: "main", Node: "main", Type: engine.NodeGroup, Event: engine.EventEnter},
		{Timestamp: ts, RunID: "r1", Path: "main/A_Init", Node: "A_Init", Type: engine.NodeRule, Event: engine.EventBlock,
			Impact: 0.15, Threshold: 0.1, Cumulative: 0, DurationMS: 0.2, Layer: 1, Cause: engine.CauseThreshold,
			Note: "impact=0.150 >= threshold=0.100"},
		{Timestamp: ts, RunID: "r2", Path: "x", Node: "x", Type: engine.NodeRule, Event: engine.EventExit, Impact: 0.01},
	}
}

func TestJSONLWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONL(&buf, nil)
	for _, ev := range events() {
		s.Emit(ev)
	}
	require.NoError(t, s.Close())

	sc := bufio.NewScanner(&buf)
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "main/A_Init", lines[1]["path"])
	assert.Equal(t, "block", lines[1]["event"])
	assert.Equal(t, 0.15, lines[1]["impact"])
	assert.Equal(t, 0.1, lines[1]["threshold"])
	assert.Equal(t, float64(1), lines[1]["layer"])
	assert.Contains(t, lines[1], "cum")
	assert.Contains(t, lines[1], "ts")
	assert.Equal(t, uint64(0), s.Failed())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestJSONLCountsFailures(t *testing.T) {
	s := NewJSONL(failingWriter{}, nil)
	s.Emit(events()[0])
	assert.Equal(t, uint64(1), s.Failed())
}

func TestOpenJSONLAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	for i := 0; i < 2; i++ {
		s, err := OpenJSONL(path, nil)
		require.NoError(t, err)
		s.Emit(events()[0])
		require.NoError(t, s.Close())
	}
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(raw, []byte("\n")))
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	for _, ev := range events() {
		s.Emit(ev)
	}
	assert.Equal(t, uint64(0), s.Failed())

	got, err := s.Events(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, events()[:2], got)

	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "r1"}, runs)

	none, err := s.Events(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteFileReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	s, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	s.Emit(events()[2])
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Events(ctx, "r2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].Node)
}
