package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/playtree/pkg/engine"
)

// Observer turns deploy events into log lines, metrics and published
// events. Any of its sinks may be nil.
type Observer struct {
	logger    zerolog.Logger
	metrics   *Metrics
	publisher *EventPublisher

	mu       sync.Mutex
	commands map[string]time.Time
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver creates an observer feeding the given sinks.
func NewObserver(logger zerolog.Logger, metrics *Metrics, publisher *EventPublisher) *Observer {
	return &Observer{
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
		commands:  make(map[string]time.Time),
	}
}

// Observe implements engine.Observer.
func (o *Observer) Observe(_ context.Context, event *engine.Event) {
	o.log(event)
	if o.metrics != nil {
		o.record(event)
	}
	if o.publisher != nil {
		o.publisher.Publish(convertEvent(event))
	}
}

func (o *Observer) log(event *engine.Event) {
	var e *zerolog.Event
	switch event.Type {
	case engine.EventTypeRunFailed, engine.EventTypeLeafFailed:
		e = o.logger.Error().Err(event.Err)
	case engine.EventTypeRunStarted, engine.EventTypeRunCompleted, engine.EventTypeLeafSucceeded:
		e = o.logger.Info()
	default:
		e = o.logger.Debug()
	}

	e = e.Str("run_id", event.RunID).Str("event", string(event.Type))
	if event.Leaf != "" {
		e = e.Str("leaf", event.Leaf)
	}
	if event.Result != nil {
		e = e.Int("exit_code", event.Result.ExitCode)
	}
	if event.Duration > 0 {
		e = e.Dur("duration", event.Duration)
	}
	if event.Run != nil && event.Run.Status.IsTerminal() {
		s := event.Run.Summary
		e = e.Int("total", s.Total).Int("succeeded", s.Succeeded).Int("failed", s.Failed)
	}
	e.Msg(event.Message)
}

func (o *Observer) record(event *engine.Event) {
	key := event.RunID + "/" + event.Leaf

	switch event.Type {
	case engine.EventTypeRunCompleted:
		o.metrics.RecordRun(string(engine.RunStatusSucceeded), event.Duration)
	case engine.EventTypeRunFailed:
		o.metrics.RecordRun(string(engine.RunStatusFailed), event.Duration)
	case engine.EventTypeCommandStarted:
		o.mu.Lock()
		o.commands[key] = event.Timestamp
		o.mu.Unlock()
		o.metrics.CommandStarted()
	case engine.EventTypeLeafSucceeded, engine.EventTypeLeafFailed:
		o.metrics.RecordLeaf(string(event.Status), event.Duration)

		o.mu.Lock()
		started, ok := o.commands[key]
		delete(o.commands, key)
		o.mu.Unlock()
		if !ok {
			return
		}

		result := ResultError
		duration := event.Timestamp.Sub(started)
		if event.Result != nil {
			duration = event.Result.Duration
			result = ResultFailure
			if event.Result.Success() {
				result = ResultSuccess
			}
		}
		o.metrics.CommandFinished(result, duration)
	}
}

// convertEvent maps a deploy event to its published form.
func convertEvent(event *engine.Event) Event {
	out := Event{
		Timestamp: event.Timestamp,
		Type:      string(event.Type),
		RunID:     event.RunID,
		Leaf:      event.Leaf,
		Status:    string(event.Status),
		Message:   event.Message,
		Level:     EventLevelInfo,
		Data:      map[string]interface{}{},
	}

	if event.Err != nil {
		out.Level = EventLevelError
		out.Data["error"] = event.Err.Error()
		if leaf := engine.LeafOf(event.Err); leaf != "" && leaf != event.Leaf {
			out.Data["failed_leaf"] = leaf
		}
	}
	if event.Duration > 0 {
		out.Data["duration"] = event.Duration.Seconds()
	}
	if event.Artifacts != nil {
		out.Data["playbook"] = event.Artifacts.PlaybookText
		out.Data["inventory"] = event.Artifacts.InventoryText
	}
	if event.Result != nil {
		out.Data["exit_code"] = event.Result.ExitCode
		if event.Result.Output != "" {
			out.Data["output"] = event.Result.Output
		}
	}
	if event.Run != nil {
		out.Status = string(event.Run.Status)
		out.Data["root"] = event.Run.Root
		out.Data["synth_only"] = event.Run.SynthOnly
		if event.Run.Status.IsTerminal() {
			out.Data["summary"] = event.Run.Summary
		}
	}
	if len(out.Data) == 0 {
		out.Data = nil
	}
	return out
}
