package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StateListener is notified after every successful state change.
type StateListener func(from, to State)

type listenerEntry struct {
	id uint64
	fn StateListener
}

// WorkflowState is the mutable state cell owned by one activity.
//
// Assign and CompareAndAssign are safe for concurrent use. Listeners run on
// the goroutine that performed the change, after the new state is visible,
// in registration order.
type WorkflowState struct {
	mu        sync.Mutex
	current   State
	listeners []listenerEntry
	nextID    uint64
	waiting   map[State][]*StateFuture
}

// NewWorkflowState creates a state cell in Limbo.
func NewWorkflowState() *WorkflowState {
	return &WorkflowState{current: Limbo}
}

// Current returns the current state.
func (w *WorkflowState) Current() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// IsFinished reports whether the current state is terminal.
func (w *WorkflowState) IsFinished() bool {
	return w.Current().IsTerminal()
}

// Is reports whether the current state equals s.
func (w *WorkflowState) Is(s State) bool {
	return w.Current() == s
}

// Assign moves to next unconditionally.
//
// Fails when the current state is terminal or next is Limbo.
func (w *WorkflowState) Assign(next State) error {
	w.mu.Lock()
	from := w.current
	if err := checkAssign(from, next); err != nil {
		w.mu.Unlock()
		return err
	}
	w.current = next
	listeners, futures := w.takeNotifications(next)
	w.mu.Unlock()

	notify(listeners, futures, from, next)
	return nil
}

// CompareAndAssign moves to next only when the current state is expected.
// It returns false without error when another change won the race.
// A terminal current state or a Limbo target is an error.
func (w *WorkflowState) CompareAndAssign(expected, next State) (bool, error) {
	w.mu.Lock()
	from := w.current
	if err := checkAssign(from, next); err != nil {
		w.mu.Unlock()
		return false, err
	}
	if from != expected {
		w.mu.Unlock()
		return false, nil
	}
	w.current = next
	listeners, futures := w.takeNotifications(next)
	w.mu.Unlock()

	notify(listeners, futures, from, next)
	return true, nil
}

func checkAssign(from, next State) error {
	if from.IsTerminal() {
		return &RuntimeError{
			Code:    ErrCodeTerminalState,
			Message: fmt.Sprintf("cannot move from terminal state %s to %s", from, next),
		}
	}
	if next == Limbo {
		return &RuntimeError{
			Code:    ErrCodeInvalidStateChange,
			Message: fmt.Sprintf("cannot move from %s back to %s", from, Limbo),
		}
	}
	if next == "" {
		return &RuntimeError{
			Code:    ErrCodeInvalidStateChange,
			Message: "empty target state",
		}
	}
	return nil
}

// takeNotifications snapshots listeners and collects futures to resolve.
// Must be called with w.mu held.
func (w *WorkflowState) takeNotifications(next State) ([]listenerEntry, []*StateFuture) {
	listeners := make([]listenerEntry, len(w.listeners))
	copy(listeners, w.listeners)

	var futures []*StateFuture
	if fs, ok := w.waiting[next]; ok {
		futures = append(futures, fs...)
		delete(w.waiting, next)
	}
	if next.IsTerminal() {
		// Nothing else can be reached any more.
		for target, fs := range w.waiting {
			for _, f := range fs {
				f.abandon(target, next)
			}
		}
		w.waiting = nil
	}
	return listeners, futures
}

func notify(listeners []listenerEntry, futures []*StateFuture, from, to State) {
	for _, f := range futures {
		f.resolve()
	}
	for _, l := range listeners {
		l.fn(from, to)
	}
}

// AddListener registers fn and returns a function that removes it.
func (w *WorkflowState) AddListener(fn StateListener) (remove func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.listeners = append(w.listeners, listenerEntry{id: id, fn: fn})
	return func() { w.removeListener(id) }
}

func (w *WorkflowState) removeListener(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, l := range w.listeners {
		if l.id == id {
			w.listeners = append(w.listeners[:i:i], w.listeners[i+1:]...)
			return
		}
	}
}

// Reach returns a future that resolves the first time the state becomes
// target. It is already resolved when the state currently is target.
// If a different terminal state is reached first the future fails with an
// UNREACHABLE_STATE error.
func (w *WorkflowState) Reach(target State) *StateFuture {
	f := &StateFuture{target: target, done: make(chan struct{})}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.current == target:
		f.resolve()
	case w.current.IsTerminal():
		f.abandon(target, w.current)
	default:
		if w.waiting == nil {
			w.waiting = make(map[State][]*StateFuture)
		}
		w.waiting[target] = append(w.waiting[target], f)
	}
	return f
}

func (w *WorkflowState) String() string {
	return string(w.Current())
}

// StateFuture resolves when a WorkflowState reaches a target state.
type StateFuture struct {
	target State
	once   sync.Once
	done   chan struct{}
	err    error
}

func (f *StateFuture) resolve() {
	f.once.Do(func() { close(f.done) })
}

func (f *StateFuture) abandon(target, final State) {
	f.once.Do(func() {
		f.err = &RuntimeError{
			Code:    ErrCodeUnreachableState,
			Message: fmt.Sprintf("state %s can no longer be reached, finished in %s", target, final),
		}
		close(f.done)
	})
}

// Target returns the awaited state.
func (f *StateFuture) Target() State { return f.target }

// Done is closed once the future is settled.
func (f *StateFuture) Done() <-chan struct{} { return f.done }

// Wait blocks until the target state is reached, becomes unreachable, or
// ctx is done.
func (f *StateFuture) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout is Wait with a deadline relative to now.
func (f *StateFuture) WaitTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.Wait(ctx)
}
