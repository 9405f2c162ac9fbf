// Package rtc holds endpoint-side helpers for the negotiation handshake.
// The server relays offers, answers and candidates as opaque blobs; ordering
// them correctly is the receiving endpoint's job, and this package is the
// reference implementation of that rule.
package rtc

import (
	"encoding/json"
	"sync"
)

// ApplyFunc hands one candidate to the underlying peer connection.
type ApplyFunc func(candidate json.RawMessage) error

// CandidateBuffer enforces the one ordering constraint of the handshake:
// no candidate may be applied before the remote session description. Until
// MarkReady is called, Add queues candidates in arrival order; MarkReady
// flushes the queue exactly once and every later Add applies directly.
//
// Safe for concurrent use: signaling events and the local description
// typically land on different goroutines.
type CandidateBuffer struct {
	mu      sync.Mutex
	ready   bool
	pending []json.RawMessage
	apply   ApplyFunc
}

func NewCandidateBuffer(apply ApplyFunc) *CandidateBuffer {
	return &CandidateBuffer{apply: apply}
}

// Add applies the candidate immediately when the remote description is set,
// otherwise queues it. Returns the apply error, or nil when queued.
func (b *CandidateBuffer) Add(candidate json.RawMessage) error {
	b.mu.Lock()
	if !b.ready {
		// Copy: callers commonly reuse their read buffer.
		c := make(json.RawMessage, len(candidate))
		copy(c, candidate)
		b.pending = append(b.pending, c)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	return b.apply(candidate)
}

// MarkReady records that the remote description has been applied and flushes
// queued candidates in arrival order. Returns the first apply error; the
// remaining candidates are still attempted so one bad candidate cannot stall
// the rest. Calling MarkReady again is a no-op.
func (b *CandidateBuffer) MarkReady() error {
	b.mu.Lock()
	if b.ready {
		b.mu.Unlock()
		return nil
	}
	b.ready = true
	queued := b.pending
	b.pending = nil
	b.mu.Unlock()

	var first error
	for _, c := range queued {
		if err := b.apply(c); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Reset returns the buffer to its initial state. Used when renegotiating
// after a reconnect, where a fresh remote description is expected.
func (b *CandidateBuffer) Reset() {
	b.mu.Lock()
	b.ready = false
	b.pending = nil
	b.mu.Unlock()
}

// Pending reports how many candidates are queued.
func (b *CandidateBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
