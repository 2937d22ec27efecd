package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ActivityResult is the outcome of a finished activity.
type ActivityResult struct {
	Activity Activity
	// State is the terminal state the activity finished in.
	State State
	// Err is the failure recorded for the activity, if any.
	Err error
}

// Future is the completion handle returned by Manager.Initiate.
//
// The number of goroutines blocked in Wait is tracked; the scheduler serves
// hierarchies whose root future is being waited on first.
type Future struct {
	activity Activity
	done     chan struct{}
	once     sync.Once
	waiters  atomic.Int32

	mu     sync.Mutex
	err    error
	result ActivityResult
}

func newFuture(a Activity) *Future {
	return &Future{activity: a, done: make(chan struct{})}
}

// setErr records err as the activity's failure. Ignored once settled.
func (f *Future) setErr(err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IsDone() {
		return
	}
	f.err = err
}

func (f *Future) complete(final State) ActivityResult {
	f.once.Do(func() {
		f.mu.Lock()
		f.result = ActivityResult{Activity: f.activity, State: final, Err: f.err}
		f.mu.Unlock()
		close(f.done)
	})
	return f.Result()
}

// Wait blocks until the activity finishes or ctx is done.
// A ctx timeout leaves the activity running.
func (f *Future) Wait(ctx context.Context) (ActivityResult, error) {
	select {
	case <-f.done:
		return f.Result(), nil
	default:
	}

	f.waiters.Add(1)
	defer f.waiters.Add(-1)

	select {
	case <-f.done:
		return f.Result(), nil
	case <-ctx.Done():
		return ActivityResult{}, ctx.Err()
	}
}

// WaitTimeout is Wait with a deadline relative to now.
func (f *Future) WaitTimeout(d time.Duration) (ActivityResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.Wait(ctx)
}

// Activity returns the activity the future belongs to.
func (f *Future) Activity() Activity { return f.activity }

// Done is closed when the activity finishes. Selecting on Done does not
// count as waiting for scheduling purposes.
func (f *Future) Done() <-chan struct{} { return f.done }

// IsDone reports whether the activity has finished.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// IsCanceled reports whether the activity finished in Canceled.
func (f *Future) IsCanceled() bool {
	return f.IsDone() && f.Result().State == Canceled
}

// IsWaitedOn reports whether at least one goroutine is blocked in Wait.
func (f *Future) IsWaitedOn() bool {
	return f.waiters.Load() > 0
}

// Result returns the settled result, or the zero value before completion.
func (f *Future) Result() ActivityResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// Err returns the recorded failure so far.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
