// Package events provides an SSE event broadcaster for live run progress.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/lassestilvang/code-migration-autopilot/internal/metrics"
)

const (
	EventStatus = "status" // workflow state changed
	EventLog    = "log"    // a log entry was appended
	EventFile   = "file"   // a target file changed status
	EventDone   = "done"   // the run reached completed or error

	EventConfirm = "confirm" // the run waits for confirmation to convert
)

// Event represents a change in a migration run.
type Event struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	Status    string `json:"status,omitempty"`
	Path      string `json:"path,omitempty"`
	Message   string `json:"message,omitempty"`
	Level     string `json:"level,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster manages SSE subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]string // channel -> run filter, "" for all runs
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]string),
	}
}

// Subscribe adds a new subscriber for runID (or every run when empty) and
// returns its event channel. The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(runID string) chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = runID
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown channels
// are ignored.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
}

// Publish sends an event to all matching subscribers. Non-blocking: drops
// events for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, runID := range b.subscribers {
		if runID != "" && runID != event.RunID {
			continue
		}
		select {
		case ch <- event:
		default:
			metrics.RecordSSEDrop()
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
