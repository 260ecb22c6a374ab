package ring

import (
	"sync"

	"schoolbell/internal/model"
)

// DefaultHistorySize is the number of ring events kept when no size is
// configured.
const DefaultHistorySize = 50

// History keeps the most recent ring events in memory.
type History struct {
	mu     sync.RWMutex
	events []model.RingEvent
	next   int
	full   bool
}

// NewHistory keeps the last size events, DefaultHistorySize when size <= 0.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{events: make([]model.RingEvent, size)}
}

// Add records ev, evicting the oldest event when full.
func (h *History) Add(ev model.RingEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[h.next] = ev
	h.next = (h.next + 1) % len(h.events)
	if h.next == 0 {
		h.full = true
	}
}

// Recent returns up to n events, newest first. n <= 0 returns all.
func (h *History) Recent(n int) []model.RingEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := h.next
	if h.full {
		count = len(h.events)
	}
	if n <= 0 || n > count {
		n = count
	}

	out := make([]model.RingEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.events)) % len(h.events)
		out = append(out, h.events[idx])
	}
	return out
}
