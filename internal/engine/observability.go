package engine

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// EventSink receives every log event as it is appended to a run.
type EventSink interface {
	Emit(ev LogEvent)
}

type EventSinkFunc func(ev LogEvent)

func (f EventSinkFunc) Emit(ev LogEvent) { f(ev) }

type MultiSink []EventSink

func (m MultiSink) Emit(ev LogEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// EventLogger mirrors events to a zap logger. Blocks, cap hits and errors are
// logged at warn level, everything else at debug.
type EventLogger struct {
	logger *zap.Logger
}

func NewEventLogger(logger *zap.Logger) *EventLogger {
	return &EventLogger{logger: logger}
}

func (l *EventLogger) Emit(ev LogEvent) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("run_id", ev.RunID),
		zap.String("path", ev.Path),
		zap.String("type", string(ev.Type)),
		zap.String("event", string(ev.Event)),
		zap.Float64("impact", ev.Impact),
		zap.Float64("threshold", ev.Threshold),
		zap.Float64("cum", ev.Cumulative),
		zap.Float64("duration_ms", ev.DurationMS),
	}
	if ev.Cause != "" {
		fields = append(fields, zap.String("cause", string(ev.Cause)))
	}
	if ev.Note != "" {
		fields = append(fields, zap.String("note", ev.Note))
	}

	switch ev.Event {
	case EventBlock, EventCapHit, EventError:
		l.logger.Warn("hgp_node_event", fields...)
	default:
		l.logger.Debug("hgp_node_event", fields...)
	}
}

// AsyncEventSink forwards events to next on a background goroutine. A sink
// built with NewAsyncEventSink drops and counts events when its buffer is
// full; one built with NewBlockingEventSink makes Emit wait for room instead.
// Events emitted after Close are always dropped.
type AsyncEventSink struct {
	next    EventSink
	events  chan LogEvent
	block   bool
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

func NewAsyncEventSink(next EventSink, buffer int) *AsyncEventSink {
	return newAsyncEventSink(next, buffer, false)
}

// NewBlockingEventSink is for sinks that must see every event, such as the
// event log files: a slow consumer slows the runs down rather than losing
// entries.
func NewBlockingEventSink(next EventSink, buffer int) *AsyncEventSink {
	return newAsyncEventSink(next, buffer, true)
}

func newAsyncEventSink(next EventSink, buffer int, block bool) *AsyncEventSink {
	if buffer <= 0 {
		buffer = 1
	}

	s := &AsyncEventSink{
		next:   next,
		events: make(chan LogEvent, buffer),
		block:  block,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range s.events {
			if s.next == nil {
				continue
			}
			s.next.Emit(ev)
		}
	}()

	return s
}

func (s *AsyncEventSink) Emit(ev LogEvent) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	if s.block {
		s.events <- ev
		return
	}
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *AsyncEventSink) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Close stops accepting events and waits until the buffered ones are delivered.
func (s *AsyncEventSink) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		s.wg.Wait()
	})
}
