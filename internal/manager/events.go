package manager

import "time"

// Event represents a coordinator or job lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string         `json:"name"`
	ModelID string         `json:"model,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
	Time    time.Time      `json:"time"`
}

// EventPublisher receives events. Implementations should be lightweight and
// non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func (m *Manager) publish(name, id string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	m.publisher.Publish(Event{Name: name, ModelID: id, Fields: fields, Time: m.now()})
}
