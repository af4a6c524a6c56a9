package stream

import (
	"sync"

	"notifylog/internal/record"
)

// ring is a fixed-capacity history; pushing onto a full ring evicts the oldest entry.
type ring struct {
	mu    sync.Mutex
	buf   []record.Message
	start int
	n     int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultMaxHistory
	}
	return &ring{buf: make([]record.Message, capacity)}
}

func (r *ring) push(m record.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = m
		r.n++
		return
	}
	r.buf[r.start] = m
	r.start = (r.start + 1) % len(r.buf)
}

// last returns up to limit most recent entries, oldest first.
// limit <= 0 means everything retained.
func (r *ring) last(limit int) []record.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.n
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]record.Message, n)
	skip := r.n - n
	for i := range n {
		out[i] = r.buf[(r.start+skip+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *ring) capacity() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// resize changes the capacity, keeping the most recent entries that fit.
func (r *ring) resize(capacity int) {
	if capacity <= 0 {
		capacity = DefaultMaxHistory
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := min(r.n, capacity)
	buf := make([]record.Message, capacity)
	skip := r.n - n
	for i := range n {
		buf[i] = r.buf[(r.start+skip+i)%len(r.buf)]
	}
	r.buf, r.start, r.n = buf, 0, n
}
