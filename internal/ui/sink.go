// Package ui provides the notification sink used to push incremental model
// output to the active UI session. The sink is a fire-and-forget,
// ordering-preserving, one-way path: delivery failures never affect the chat
// result.
package ui

// EventType classifies a pushed UI event.
type EventType string

const (
	// EventToken is an incremental piece of assistant output.
	EventToken EventType = "token"
	// EventNotice is an informational, non-fatal message (e.g. a failed
	// auxiliary web fetch).
	EventNotice EventType = "notice"
	// EventDone marks the end of a response stream.
	EventDone EventType = "done"
)

// Event is one UI notification.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
}

// Sink receives UI events. Implementations must never block the caller
// indefinitely and must preserve push order.
type Sink interface {
	Push(event Event)
}

// NopSink discards all events. Used when no UI session is bound.
type NopSink struct{}

// Push implements Sink.
func (NopSink) Push(Event) {}

// Token is shorthand for pushing incremental output.
func Token(sink Sink, content string) {
	if sink != nil {
		sink.Push(Event{Type: EventToken, Content: content})
	}
}

// Notice is shorthand for pushing an informational message.
func Notice(sink Sink, content string) {
	if sink != nil {
		sink.Push(Event{Type: EventNotice, Content: content})
	}
}

// Done signals the end of a stream.
func Done(sink Sink) {
	if sink != nil {
		sink.Push(Event{Type: EventDone})
	}
}
