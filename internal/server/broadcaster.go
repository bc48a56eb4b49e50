package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// broadcastHistory is how many recent events a Broadcaster replays to a
// newly-subscribed client before switching it over to live events, so a
// browser tab that (re)connects mid-run doesn't start on a blank screen.
const broadcastHistory = 20

// Broadcaster fans a stream of named events out to any number of
// subscribers, replaying a short history to each new one.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[chan map[string]any]struct{}
	history []map[string]any
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan map[string]any]struct{})}
}

// Publish sends event to every current subscriber and records it in the
// replay history.
func (b *Broadcaster) Publish(event map[string]any) {
	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > broadcastHistory {
		b.history = b.history[len(b.history)-broadcastHistory:]
	}
	subs := make([]chan map[string]any, 0, len(b.subs))
	for ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
}

// Subscribe registers a new subscriber and returns its channel (buffered,
// so a burst of events doesn't immediately trip the slow-subscriber drop)
// along with a copy of the current replay history. Call the returned
// unsubscribe func when the client disconnects.
func (b *Broadcaster) Subscribe() (ch chan map[string]any, history []map[string]any, unsubscribe func()) {
	ch = make(chan map[string]any, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	history = append([]map[string]any{}, b.history...)
	b.mu.Unlock()

	return ch, history, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}
}

// WriteSSE writes one Server-Sent Events frame to w, flushing immediately
// if the underlying ResponseWriter supports it.
func WriteSSE(w http.ResponseWriter, event string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
