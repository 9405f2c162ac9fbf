package call

import (
	"sync"
	"time"
)

// timerArena keeps one pending timer per request/call id. Records reference
// timers by id only, so replacing a record can never leave a dangling
// handle: scheduling under an existing id stops the previous timer first.
//
// Cancellation is not assumed to win races with expiry. A fired callback
// checks that it is still the current timer for its id before running, and
// the coordinator re-checks entity state under its own lock, so an expiry
// that lost the race degrades to a no-op.
type timerArena struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerArena() *timerArena {
	return &timerArena{timers: make(map[string]*time.Timer)}
}

// Schedule arms fn to run after d, keyed by id. Any previous timer for the
// same id is stopped and replaced.
func (a *timerArena) Schedule(id string, d time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if old, ok := a.timers[id]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		a.mu.Lock()
		current, ok := a.timers[id]
		if !ok || current != t {
			// Cancelled or superseded after firing; do nothing.
			a.mu.Unlock()
			return
		}
		delete(a.timers, id)
		a.mu.Unlock()
		fn()
	})
	a.timers[id] = t
}

// Cancel stops and forgets the timer for id. Returns false when no timer
// was pending (already fired or never scheduled).
func (a *timerArena) Cancel(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.timers[id]
	if !ok {
		return false
	}
	delete(a.timers, id)
	t.Stop()
	return true
}

// Len reports the number of pending timers.
func (a *timerArena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.timers)
}
