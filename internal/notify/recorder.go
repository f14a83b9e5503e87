package notify

import (
	"context"
	"sync"
)

// Recorder is an in-memory Service used by tests to assert which lifecycle
// events were published and in what order.
type Recorder struct {
	mu     sync.Mutex
	events []RecordedEvent

	// Err, when set, is returned from Publish to exercise failure paths.
	Err error
}

// RecordedEvent pairs an event with the notification it carried.
type RecordedEvent struct {
	Event Event
	Note  Notification
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish records the event and returns Err.
func (r *Recorder) Publish(_ context.Context, event Event, note Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RecordedEvent{Event: event, Note: note})
	return r.Err
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]RecordedEvent, len(r.events))
	copy(cp, r.events)
	return cp
}

// EventsOf returns the recorded events matching kind.
func (r *Recorder) EventsOf(kind Event) []RecordedEvent {
	var matched []RecordedEvent
	for _, ev := range r.Events() {
		if ev.Event == kind {
			matched = append(matched, ev)
		}
	}
	return matched
}

// Reset clears all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
