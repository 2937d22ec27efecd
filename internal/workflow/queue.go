package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/hgpeer/internal/message"
)

// action is one unit of work on a hierarchy.
type action struct {
	// kind names the action for logs and metrics.
	kind     string
	activity Activity
	// msg is the triggering message, if any. Failures are reported back to
	// its sender.
	msg message.Message
	run func(ctx context.Context) error
}

// hierarchy is the shared action FIFO of a top-level activity and all of
// its descendants.
//
// A hierarchy is in the ready queue only while it has pending actions and
// no action running, so at most one of its actions executes at a time.
type hierarchy struct {
	root Activity

	mu      sync.Mutex
	actions []action
	running bool
	queued  bool

	// Mirrors of mutable fields read by the scheduler comparator without
	// taking mu.
	pending    atomic.Int64
	lastAction atomic.Int64
}

func newHierarchy(root Activity, now time.Time) *hierarchy {
	h := &hierarchy{root: root}
	h.lastAction.Store(now.UnixNano())
	return h
}

// add appends act and reports whether the hierarchy must be pushed onto
// the ready queue.
func (h *hierarchy) add(act action) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, act)
	h.pending.Store(int64(len(h.actions)))
	if h.running || h.queued {
		return false
	}
	h.queued = true
	return true
}

// take removes the head action and marks the hierarchy running.
// Pending actions are discarded once the root has finished.
func (h *hierarchy) take() (action, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queued = false
	if h.root.State().IsFinished() {
		h.dropLocked()
		return action{}, false
	}
	if len(h.actions) == 0 || h.running {
		return action{}, false
	}
	act := h.actions[0]
	h.actions[0] = action{}
	if len(h.actions) == 1 {
		h.actions = h.actions[:0]
	} else {
		h.actions = h.actions[1:]
	}
	h.pending.Store(int64(len(h.actions)))
	h.running = true
	return act, true
}

// release ends the running action and reports whether the hierarchy must be
// pushed back onto the ready queue.
func (h *hierarchy) release(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	h.lastAction.Store(now.UnixNano())
	if h.root.State().IsFinished() {
		h.dropLocked()
		return false
	}
	if len(h.actions) == 0 || h.queued {
		return false
	}
	h.queued = true
	return true
}

func (h *hierarchy) dropLocked() {
	clear(h.actions)
	h.actions = h.actions[:0]
	h.pending.Store(0)
}

// urgent reports whether someone waits on the root and work is pending.
func (h *hierarchy) urgent() bool {
	f := h.root.base().future
	return f != nil && f.IsWaitedOn() && h.pending.Load() > 0
}

// weight is (now - lastAction) * (1 + pending).
func (h *hierarchy) weight(now int64) int64 {
	idle := now - h.lastAction.Load()
	if idle < 0 {
		idle = 0
	}
	return idle * (1 + h.pending.Load())
}

// before reports whether a should be served before b.
func before(a, b *hierarchy, now int64) bool {
	if ua, ub := a.urgent(), b.urgent(); ua != ub {
		return ua
	}
	return a.weight(now) > b.weight(now)
}

// readyQueue holds hierarchies with pending work.
//
// Priorities change with time and with waiters on root futures, so the best
// entry is chosen at pop time instead of being kept in heap order; ties go
// to the earlier entry. Pushes signal a buffered(1) channel the scheduler
// blocks on.
type readyQueue struct {
	mu      sync.Mutex
	entries []*hierarchy
	signal  chan struct{}
}

func newReadyQueue() *readyQueue {
	return &readyQueue{
		entries: make([]*hierarchy, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// push adds h and wakes the scheduler.
func (q *readyQueue) push(h *hierarchy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, h)
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// tryPop removes and returns the highest priority hierarchy.
func (q *readyQueue) tryPop(now time.Time) (*hierarchy, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil, false
	}
	ts := now.UnixNano()
	best := 0
	for i := 1; i < len(q.entries); i++ {
		if before(q.entries[i], q.entries[best], ts) {
			best = i
		}
	}
	h := q.entries[best]
	copy(q.entries[best:], q.entries[best+1:])
	q.entries[len(q.entries)-1] = nil
	q.entries = q.entries[:len(q.entries)-1]
	return h, true
}

// wait returns a channel that signals when entries may be available.
func (q *readyQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *readyQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// reset drops every entry.
func (q *readyQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = make([]*hierarchy, 0, 16)
}
