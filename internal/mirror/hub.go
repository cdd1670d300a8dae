package mirror

import (
	"sync"

	"github.com/strandworks/strand/pkg/models"
)

// subscriberBuffer is the per-subscriber queue depth. A subscriber that
// falls this far behind is evicted rather than stalling the producer; it
// can reconnect and replay from the mirror.
const subscriberBuffer = 256

// Subscriber is one live SSE consumer for a run.
type Subscriber struct {
	ch   chan *models.StreamChunk
	once sync.Once
}

// C is the subscriber's chunk channel. It is closed on removal.
func (s *Subscriber) C() <-chan *models.StreamChunk { return s.ch }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub tracks live subscribers per run. All operations are idempotent;
// removing a subscriber twice, or one the hub never held, is a no-op.
type Hub struct {
	mu   sync.Mutex
	runs map[string]map[*Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{runs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber for a run.
func (h *Hub) Subscribe(runID string) *Subscriber {
	sub := &Subscriber{ch: make(chan *models.StreamChunk, subscriberBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.runs[runID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.runs[runID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(runID string, sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if set, ok := h.runs[runID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.runs, runID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Close drops every subscriber for a run, closing their channels so SSE
// handlers unblock.
func (h *Hub) Close(runID string) {
	h.mu.Lock()
	set := h.runs[runID]
	delete(h.runs, runID)
	h.mu.Unlock()
	for sub := range set {
		sub.close()
	}
}

// Count returns the number of live subscribers for a run.
func (h *Hub) Count(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs[runID])
}

// broadcast delivers a chunk to every subscriber without blocking the
// producer. A subscriber with a full buffer is evicted, never handed a
// gapped sequence: what it saw stays a prefix of the run's stream.
func (h *Hub) broadcast(runID string, chunk *models.StreamChunk) {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.runs[runID]))
	for sub := range h.runs[runID] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- chunk:
		default:
			h.evict(runID, sub)
		}
	}
}

func (h *Hub) evict(runID string, sub *Subscriber) {
	h.mu.Lock()
	if set, ok := h.runs[runID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.runs, runID)
		}
	}
	h.mu.Unlock()
	sub.close()
}
