package progress

import (
	"sync"

	"restyle/internal/domain"
)

// subscriberBuffer is the per-connection channel capacity. A subscriber that
// stops draining loses events rather than blocking the worker; delivery is
// at-most-once and the status query remains the source of truth.
const subscriberBuffer = 16

// Hub fans out progress events on per-job topics. Any number of observers may
// subscribe to the same job concurrently; the hub keeps no history, so a
// reconnecting observer re-derives missed state from a status snapshot.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[chan domain.ProgressEvent]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[chan domain.ProgressEvent]struct{})}
}

// Subscribe registers an observer for the job and returns its event channel
// plus an unsubscribe func. The hub owns the channel and closes it on
// unsubscribe.
func (h *Hub) Subscribe(jobID string) (<-chan domain.ProgressEvent, func()) {
	ch := make(chan domain.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	subs, ok := h.topics[jobID]
	if !ok {
		subs = make(map[chan domain.ProgressEvent]struct{})
		h.topics[jobID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if subs, ok := h.topics[jobID]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(h.topics, jobID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every current subscriber of its job. Events
// for one job arrive in publish order; a full subscriber channel drops the
// event for that subscriber only.
func (h *Hub) Publish(event domain.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.topics[event.JobID] {
		select {
		case ch <- event:
		default:
			// subscriber not reading
		}
	}
}

// Subscribers reports the current observer count for a job.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[jobID])
}
