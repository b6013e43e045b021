// Package eventstest provides an in-memory events.Emitter for tests.
package eventstest

import (
	"sync"
)

type Emitted struct {
	UserID  string
	Event   string
	Payload any
}

// Recorder records every emit. Users listed in Offline are reported as not
// connected and nothing is recorded for them.
type Recorder struct {
	mu      sync.Mutex
	emitted []Emitted
	Offline map[string]bool
}

func NewRecorder() *Recorder {
	return &Recorder{Offline: map[string]bool{}}
}

func (r *Recorder) Emit(userID, event string, payload any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Offline[userID] {
		return false
	}
	r.emitted = append(r.emitted, Emitted{UserID: userID, Event: event, Payload: payload})
	return true
}

// For returns what userID received, optionally filtered by event name.
func (r *Recorder) For(userID string, event string) []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Emitted
	for _, e := range r.emitted {
		if e.UserID == userID && (event == "" || e.Event == event) {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) All() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Emitted(nil), r.emitted...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = nil
}
