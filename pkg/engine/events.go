package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventSink receives every run event synchronously, in order. Sink failures
// and panics are counted and logged but never affect the run's outcome.
type EventSink interface {
	WriteEvent(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(ctx context.Context, event Event) error

// WriteEvent implements EventSink.
func (f SinkFunc) WriteEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// MultiSink fans an event out to several sinks. Every sink is invoked even
// when an earlier one fails; the first error is returned.
type MultiSink []EventSink

// WriteEvent implements EventSink.
func (m MultiSink) WriteEvent(ctx context.Context, event Event) error {
	var firstErr error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.WriteEvent(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LoggerSink writes events to a zerolog logger at a level derived from the
// event type.
type LoggerSink struct {
	logger zerolog.Logger
}

// NewLoggerSink returns a sink logging through the given logger.
func NewLoggerSink(logger zerolog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

// WriteEvent implements EventSink.
func (s *LoggerSink) WriteEvent(_ context.Context, event Event) error {
	var entry *zerolog.Event
	switch event.Type.Severity() {
	case "error":
		entry = s.logger.Error()
	case "debug":
		entry = s.logger.Debug()
	default:
		entry = s.logger.Info()
	}
	entry = entry.
		Str("event_type", string(event.Type)).
		Int("sequence", event.Sequence).
		Time("timestamp", event.TimestampUtc)
	if event.StepName != "" {
		entry = entry.Str("step", event.StepName)
	}
	if len(event.Data) > 0 {
		entry = entry.Interface("data", event.Data)
	}
	entry.Msg(event.Message)
	return nil
}

// Recorder is the append-only, ordered event buffer for one run. Data is
// redacted before an event is appended or forwarded, so nothing sensitive
// leaves the engine through the timeline.
type Recorder struct {
	mu         sync.Mutex
	events     []Event
	sink       EventSink
	sinkErrors int
	logger     zerolog.Logger
	now        func() time.Time
}

// NewRecorder returns a recorder forwarding to sink. A nil sink buffers only.
func NewRecorder(sink EventSink, logger zerolog.Logger) *Recorder {
	return &Recorder{
		sink:   sink,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record appends an event to the timeline and forwards it to the sink.
func (r *Recorder) Record(ctx context.Context, eventType EventType, message, stepName string, data map[string]interface{}) Event {
	r.mu.Lock()
	event := Event{
		Sequence:     len(r.events),
		Type:         eventType,
		Message:      message,
		StepName:     stepName,
		Data:         RedactData(data),
		TimestampUtc: r.now(),
	}
	r.events = append(r.events, event)
	r.mu.Unlock()

	r.forward(ctx, event)
	return event
}

// forward delivers one event to the sink, absorbing errors and panics.
func (r *Recorder) forward(ctx context.Context, event Event) {
	if r.sink == nil {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			r.mu.Lock()
			r.sinkErrors++
			r.mu.Unlock()
			r.logger.Warn().
				Str("event_type", string(event.Type)).
				Str("panic", fmt.Sprintf("%v", recovered)).
				Msg("Event sink panicked")
		}
	}()
	if err := r.sink.WriteEvent(ctx, event); err != nil {
		r.mu.Lock()
		r.sinkErrors++
		r.mu.Unlock()
		r.logger.Warn().
			Err(err).
			Str("event_type", string(event.Type)).
			Msg("Event sink rejected event")
	}
}

// Events returns a copy of the timeline so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// SinkErrors returns how many sink deliveries failed or panicked.
func (r *Recorder) SinkErrors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinkErrors
}
