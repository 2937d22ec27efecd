package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// State is a workflow state name. States compare by value.
type State string

// Predefined states. Limbo is the state of an activity that has not been
// initiated yet; Completed, Failed and Canceled are terminal.
const (
	Limbo     State = "Limbo"
	Started   State = "Started"
	Completed State = "Completed"
	Failed    State = "Failed"
	Canceled  State = "Canceled"
)

var statePool = struct {
	mu    sync.RWMutex
	names map[string]State
}{
	names: map[string]State{
		string(Limbo):     Limbo,
		string(Started):   Started,
		string(Completed): Completed,
		string(Failed):    Failed,
		string(Canceled):  Canceled,
	},
}

// DefineState declares an activity-specific state and returns it.
// Defining the same name twice returns the same State.
//
// Panics on an empty name; intended for package-level var blocks.
func DefineState(name string) State {
	if name == "" {
		panic("workflow: empty state name")
	}
	statePool.mu.Lock()
	defer statePool.mu.Unlock()
	if s, ok := statePool.names[name]; ok {
		return s
	}
	s := State(name)
	statePool.names[name] = s
	return s
}

// LookupState returns the state declared under name.
func LookupState(name string) (State, error) {
	statePool.mu.RLock()
	defer statePool.mu.RUnlock()
	if s, ok := statePool.names[name]; ok {
		return s, nil
	}
	return "", &RuntimeError{
		Code:    ErrCodeUnknownState,
		Message: fmt.Sprintf("state %q is not defined", name),
	}
}

// DefinedStates returns every known state name in sorted order.
func DefinedStates() []State {
	statePool.mu.RLock()
	defer statePool.mu.RUnlock()
	out := make([]State, 0, len(statePool.names))
	for _, s := range statePool.names {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsTerminal reports whether s is Completed, Failed or Canceled.
func (s State) IsTerminal() bool {
	switch s {
	case Completed, Failed, Canceled:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}
