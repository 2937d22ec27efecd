package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefineState_ReturnsSameValue(t *testing.T) {
	a := DefineState("Negotiating")
	b := DefineState("Negotiating")

	assert.Equal(t, a, b)
	got, err := LookupState("Negotiating")
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.Contains(t, DefinedStates(), a)
}

func TestDefineState_PanicsOnEmpty(t *testing.T) {
	assert.Panics(t, func() { DefineState("") })
}

func TestLookupState_Unknown(t *testing.T) {
	_, err := LookupState("NeverDefined")
	require.Error(t, err)
	assert.Equal(t, ErrCodeUnknownState, ErrorCode(err))
}

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{Limbo, false},
		{Started, false},
		{DefineState("Waiting"), false},
		{Completed, true},
		{Failed, true},
		{Canceled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
		})
	}
}

func TestWorkflowState_StartsInLimbo(t *testing.T) {
	w := NewWorkflowState()
	assert.Equal(t, Limbo, w.Current())
	assert.False(t, w.IsFinished())
}

func TestWorkflowState_TerminalIsAbsorbing(t *testing.T) {
	w := NewWorkflowState()
	require.NoError(t, w.Assign(Started))
	require.NoError(t, w.Assign(Completed))

	err := w.Assign(Started)
	require.Error(t, err)
	assert.True(t, IsTerminalStateError(err))

	_, err = w.CompareAndAssign(Completed, Failed)
	assert.True(t, IsTerminalStateError(err))
	assert.Equal(t, Completed, w.Current())
}

func TestWorkflowState_RejectsLimboTarget(t *testing.T) {
	w := NewWorkflowState()
	require.NoError(t, w.Assign(Started))

	err := w.Assign(Limbo)
	assert.Equal(t, ErrCodeInvalidStateChange, ErrorCode(err))
	assert.Equal(t, Started, w.Current())
}

func TestWorkflowState_CompareAndAssign(t *testing.T) {
	w := NewWorkflowState()

	ok, err := w.CompareAndAssign(Started, Completed)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Limbo, w.Current())

	ok, err = w.CompareAndAssign(Limbo, Started)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Started, w.Current())
}

func TestWorkflowState_CompareAndAssignRace(t *testing.T) {
	w := NewWorkflowState()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := w.CompareAndAssign(Limbo, Started)
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestWorkflowState_ListenersSeeEveryChange(t *testing.T) {
	w := NewWorkflowState()
	var seen []string
	w.AddListener(func(from, to State) {
		seen = append(seen, string(from)+">"+string(to))
		// The new state is already visible.
		assert.Equal(t, to, w.Current())
	})

	require.NoError(t, w.Assign(Started))
	require.NoError(t, w.Assign(Completed))

	assert.Equal(t, []string{"Limbo>Started", "Started>Completed"}, seen)
}

func TestWorkflowState_RemoveListener(t *testing.T) {
	w := NewWorkflowState()
	calls := 0
	remove := w.AddListener(func(from, to State) { calls++ })

	require.NoError(t, w.Assign(Started))
	remove()
	require.NoError(t, w.Assign(Completed))

	assert.Equal(t, 1, calls)
}

func TestWorkflowState_ReachResolves(t *testing.T) {
	waiting := DefineState("Waiting")
	w := NewWorkflowState()
	f := w.Reach(waiting)

	select {
	case <-f.Done():
		t.Fatal("future resolved before the state was reached")
	default:
	}

	go func() {
		_ = w.Assign(Started)
		_ = w.Assign(waiting)
	}()

	require.NoError(t, f.WaitTimeout(time.Second))
	assert.Equal(t, waiting, f.Target())
}

func TestWorkflowState_ReachCurrentIsImmediate(t *testing.T) {
	w := NewWorkflowState()
	require.NoError(t, w.Assign(Started))

	require.NoError(t, w.Reach(Started).Wait(context.Background()))
}

func TestWorkflowState_ReachUnreachable(t *testing.T) {
	w := NewWorkflowState()
	f := w.Reach(Completed)

	require.NoError(t, w.Assign(Started))
	require.NoError(t, w.Assign(Failed))

	err := f.WaitTimeout(time.Second)
	assert.Equal(t, ErrCodeUnreachableState, ErrorCode(err))

	// Once finished, any other target is immediately unreachable.
	err = w.Reach(Canceled).WaitTimeout(time.Second)
	assert.Equal(t, ErrCodeUnreachableState, ErrorCode(err))
}

func TestWorkflowState_ReachTimeout(t *testing.T) {
	w := NewWorkflowState()
	err := w.Reach(Completed).WaitTimeout(10 * time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
