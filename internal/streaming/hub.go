// Package streaming fans report run events out to live subscribers.
package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by a report run.
const (
	EventStatus  = "status"  // main status changed
	EventSection = "section" // a section changed status
	EventDelta   = "delta"   // content appended to the writing section
	EventLog     = "log"     // a section log line was appended
	EventOutline = "outline" // an outline was produced or previewed
)

// Event is a minimal run event used by SSE.
type Event struct {
	RunID        string    `json:"run_id"`
	Type         string    `json:"type"`
	SectionIndex int       `json:"section_index"`
	Status       string    `json:"status,omitempty"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Seq          uint64    `json:"seq"`
}

// Marshal returns JSON for SSE payloads or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Hub provides in-memory pub/sub for run events with a per-run replay buffer.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]typeFilter
	history     map[string]*ring
	capacity    int
}

// NewHub creates a hub keeping the last capacity events of each run.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		subscribers: make(map[string]map[chan Event]typeFilter),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// typeFilter limits a subscription to some event types; nil accepts all.
type typeFilter map[string]bool

func (f typeFilter) accepts(typ string) bool { return f == nil || f[typ] }

// Subscribe adds a subscriber channel for runID; the caller must drain it and
// call Unsubscribe.
func (h *Hub) Subscribe(runID string, buffer int) chan Event {
	return h.subscribe(runID, buffer, nil)
}

// SubscribeTypes is Subscribe restricted to the given event types. Events of
// other types never occupy the subscriber's buffer.
func (h *Hub) SubscribeTypes(runID string, buffer int, types ...string) chan Event {
	f := make(typeFilter, len(types))
	for _, t := range types {
		f[t] = true
	}
	return h.subscribe(runID, buffer, f)
}

func (h *Hub) subscribe(runID string, buffer int, f typeFilter) chan Event {
	ch := make(chan Event, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]typeFilter)
		h.subscribers[runID] = subs
	}
	subs[ch] = f
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (h *Hub) Unsubscribe(runID string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subscribers[runID]; ok {
		if _, present := subs[ch]; !present {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.subscribers, runID)
		}
	}
}

// Publish assigns a sequence number and sends evt to all subscribers of its
// run without blocking. Slow subscribers miss events and can catch up with
// ReplaySince.
func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	rg := h.history[evt.RunID]
	if rg == nil {
		rg = newRing(h.capacity)
		h.history[evt.RunID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)

	for ch, f := range h.subscribers[evt.RunID] {
		if !f.accepts(evt.Type) {
			continue
		}
		select {
		case ch <- evt:
		default:
		}
	}
}

// ReplaySince returns buffered events with Seq > since.
func (h *Hub) ReplaySince(runID string, since uint64) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rg := h.history[runID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the replay buffer of a run.
func (h *Hub) Forget(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.history, runID)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		e := r.buf[(r.start+i)%len(r.buf)]
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}
