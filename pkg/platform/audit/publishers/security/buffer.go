package security

import (
	"sync"

	audit "examboard/pkg/platform/audit"
)

const defaultBufferSize = 1000

// RingBuffer holds security events waiting to be persisted. A full buffer
// overwrites its oldest event.
type RingBuffer struct {
	mu      sync.Mutex
	events  []audit.SecurityEvent
	start   int
	size    int
	dropped int64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultBufferSize
	}
	return &RingBuffer{events: make([]audit.SecurityEvent, capacity)}
}

func (b *RingBuffer) Enqueue(event audit.SecurityEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.events)
	if b.size == capacity {
		b.events[b.start] = event
		b.start = (b.start + 1) % capacity
		b.dropped++
		return
	}
	b.events[(b.start+b.size)%capacity] = event
	b.size++
}

// DequeueBatch removes up to n events, oldest first.
func (b *RingBuffer) DequeueBatch(n int) []audit.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	n = min(n, b.size)
	if n == 0 {
		return nil
	}
	out := make([]audit.SecurityEvent, n)
	for i := range out {
		out[i] = b.events[(b.start+i)%len(b.events)]
	}
	b.start = (b.start + n) % len(b.events)
	b.size -= n
	return out
}

func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
