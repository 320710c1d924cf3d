package telemetry

import (
	"encoding/json"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is the published form of a deploy notification.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Leaf      string    `json:"leaf,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message"`
	// Level is one of the EventLevel constants.
	Level string                 `json:"level"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// levelRank orders levels by severity. Unknown levels rank as info.
func levelRank(level string) int {
	switch level {
	case EventLevelError:
		return 2
	case EventLevelWarning:
		return 1
	default:
		return 0
	}
}

// EventSubscriber receives published events.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

type subscription struct {
	deliver EventSubscriber
	accept  EventFilter
}

// EventPublisher fans events out to subscribers. Publish holds a lock while
// delivering, so subscribers observe publish order and are never called
// concurrently.
type EventPublisher struct {
	mu      sync.Mutex
	subs    []subscription
	filters []EventFilter
}

func NewEventPublisher() *EventPublisher {
	return &EventPublisher{}
}

// Publish stamps the event with an ID and time when missing, then delivers
// it to every subscriber whose filter accepts it. Publisher-wide filters
// apply first.
func (p *EventPublisher) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !allAccept(p.filters, event) {
		return
	}
	for _, s := range p.subs {
		if s.accept == nil || s.accept(event) {
			s.deliver(event)
		}
	}
}

func allAccept(filters []EventFilter, event Event) bool {
	for _, accept := range filters {
		if !accept(event) {
			return false
		}
	}
	return true
}

// Subscribe registers fn. A nil filter accepts every event.
func (p *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	p.mu.Lock()
	p.subs = append(p.subs, subscription{deliver: fn, accept: filter})
	p.mu.Unlock()
}

// AddFilter registers a filter every event must pass before any subscriber
// sees it.
func (p *EventPublisher) AddFilter(filter EventFilter) {
	p.mu.Lock()
	p.filters = append(p.filters, filter)
	p.mu.Unlock()
}

// JSONLines encodes each event as a single JSON line on w. Write errors are
// dropped.
func JSONLines(w io.Writer) EventSubscriber {
	enc := json.NewEncoder(w)
	return func(event Event) {
		_ = enc.Encode(event)
	}
}

// FilterByLevel accepts events at minLevel or more severe.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank(minLevel)
	return func(event Event) bool {
		return levelRank(event.Level) >= floor
	}
}

func FilterByType(types ...string) EventFilter {
	return func(event Event) bool {
		return slices.Contains(types, event.Type)
	}
}

func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
