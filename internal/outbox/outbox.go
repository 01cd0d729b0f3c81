// Package outbox holds encoded frames produced while the client link is
// down. It is bounded: once full, new frames are dropped and the oldest
// are kept, so delivery after reconnect stays oldest-first and memory
// stays flat during long outages.
package outbox

import "sync"

// DefaultCapacity is the number of frames held before new ones are dropped.
const DefaultCapacity = 100

// Outbox is a bounded FIFO of encoded frames. One mutex covers both
// Enqueue and DrainAll so a drain never observes a half-applied enqueue.
type Outbox struct {
	mu       sync.Mutex
	capacity int
	frames   []string
	dropped  uint64
}

// New returns an outbox holding at most capacity frames. A non-positive
// capacity means DefaultCapacity.
func New(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Outbox{capacity: capacity}
}

// Enqueue appends msg. It reports false, and counts a drop, when the
// outbox is full.
func (o *Outbox) Enqueue(msg string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.frames) >= o.capacity {
		o.dropped++
		return false
	}
	o.frames = append(o.frames, msg)
	return true
}

// DrainAll returns every queued frame in FIFO order and empties the outbox.
func (o *Outbox) DrainAll() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	frames := o.frames
	o.frames = nil
	return frames
}

// Clear discards every queued frame.
func (o *Outbox) Clear() {
	o.mu.Lock()
	o.frames = nil
	o.mu.Unlock()
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

func (o *Outbox) Cap() int { return o.capacity }

// Dropped is the number of frames refused because the outbox was full.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
