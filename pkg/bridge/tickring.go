package bridge

import (
	"sync"
)

// TickRing is a bounded, thread-safe ring of streaming ticks. Pushing
// past capacity evicts the oldest tick.
type TickRing struct {
	mu    sync.RWMutex
	buf   []Tick
	head  int
	count int
}

// NewTickRing creates a ring holding at most capacity ticks.
func NewTickRing(capacity int) *TickRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &TickRing{buf: make([]Tick, capacity)}
}

// Push adds a tick, evicting the oldest when full.
func (r *TickRing) Push(t Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.head + r.count) % len(r.buf)
	r.buf[idx] = t
	if r.count < len(r.buf) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
}

// Latest returns the most recent tick.
func (r *TickRing) Latest() (Tick, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return Tick{}, false
	}
	idx := (r.head + r.count - 1) % len(r.buf)
	return r.buf[idx], true
}

// Snapshot returns all buffered ticks, oldest first.
func (r *TickRing) Snapshot() []Tick {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tick, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of buffered ticks.
func (r *TickRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
