package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHierarchy(t *testing.T, id string, last time.Time) *hierarchy {
	t.Helper()
	a := NewBase("test", id)
	a.future = newFuture(a)
	require.NoError(t, a.State().Assign(Started))
	return newHierarchy(a, last)
}

func noopAction(a Activity) action {
	return action{kind: "noop", activity: a, run: func(context.Context) error { return nil }}
}

func TestHierarchy_AddSignalsOnce(t *testing.T) {
	h := newTestHierarchy(t, "a", time.Unix(0, 0))

	assert.True(t, h.add(noopAction(h.root)))
	assert.False(t, h.add(noopAction(h.root)))
	assert.Equal(t, int64(2), h.pending.Load())
}

func TestHierarchy_SingleFlight(t *testing.T) {
	h := newTestHierarchy(t, "a", time.Unix(0, 0))
	h.add(noopAction(h.root))
	h.add(noopAction(h.root))

	_, ok := h.take()
	require.True(t, ok)

	// While running, more work never re-queues the hierarchy.
	assert.False(t, h.add(noopAction(h.root)))
	_, ok = h.take()
	assert.False(t, ok)

	// Completion re-queues because work remains.
	assert.True(t, h.release(time.Unix(1, 0)))
}

func TestHierarchy_DropsWorkWhenRootFinishes(t *testing.T) {
	h := newTestHierarchy(t, "a", time.Unix(0, 0))
	h.add(noopAction(h.root))
	h.add(noopAction(h.root))

	_, ok := h.take()
	require.True(t, ok)
	require.NoError(t, h.root.State().Assign(Completed))

	assert.False(t, h.release(time.Unix(1, 0)))
	assert.Equal(t, int64(0), h.pending.Load())
}

func TestReadyQueue_PrefersWaitedOnRoot(t *testing.T) {
	base := time.Unix(100, 0)
	old := newTestHierarchy(t, "old", base.Add(-time.Hour))
	awaited := newTestHierarchy(t, "awaited", base)
	old.add(noopAction(old.root))
	old.add(noopAction(old.root))
	awaited.add(noopAction(awaited.root))

	awaited.root.base().future.waiters.Add(1)

	q := newReadyQueue()
	q.push(old)
	q.push(awaited)

	h, ok := q.tryPop(base)
	require.True(t, ok)
	assert.Same(t, awaited, h)

	h, ok = q.tryPop(base)
	require.True(t, ok)
	assert.Same(t, old, h)

	_, ok = q.tryPop(base)
	assert.False(t, ok)
}

func TestReadyQueue_WeighsIdleTimeAndBacklog(t *testing.T) {
	now := time.Unix(100, 0)
	// idle 10s, 1 pending -> 20
	quiet := newTestHierarchy(t, "quiet", now.Add(-10*time.Second))
	quiet.add(noopAction(quiet.root))
	// idle 5s, 4 pending -> 25
	busy := newTestHierarchy(t, "busy", now.Add(-5*time.Second))
	for i := 0; i < 4; i++ {
		busy.add(noopAction(busy.root))
	}

	q := newReadyQueue()
	q.push(quiet)
	q.push(busy)

	h, _ := q.tryPop(now)
	assert.Same(t, busy, h)
}

func TestReadyQueue_TiesKeepPushOrder(t *testing.T) {
	now := time.Unix(100, 0)
	first := newTestHierarchy(t, "first", now)
	second := newTestHierarchy(t, "second", now)
	first.add(noopAction(first.root))
	second.add(noopAction(second.root))

	q := newReadyQueue()
	q.push(first)
	q.push(second)

	h, _ := q.tryPop(now)
	assert.Same(t, first, h)
}

func TestReadyQueue_PushSignals(t *testing.T) {
	q := newReadyQueue()
	h := newTestHierarchy(t, "a", time.Unix(0, 0))

	q.push(h)
	q.push(h)

	select {
	case <-q.wait():
	default:
		t.Fatal("push did not signal")
	}
	assert.Equal(t, 2, q.len())

	q.reset()
	assert.Equal(t, 0, q.len())
}
