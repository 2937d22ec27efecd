package workflow

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/hgpeer/internal/message"
)

// Outcome is the result of applying a transition: either stay in the
// current state or move to a new one.
type Outcome struct {
	next   State
	change bool
}

// Stay keeps the current state.
func Stay() Outcome { return Outcome{} }

// GoTo moves to s.
func GoTo(s State) Outcome { return Outcome{next: s, change: true} }

// Next returns the target state and whether a change was requested.
func (o Outcome) Next() (State, bool) { return o.next, o.change }

func (o Outcome) String() string {
	if !o.change {
		return "stay"
	}
	return "goto " + string(o.next)
}

// MessageFunc applies a message-triggered transition.
type MessageFunc func(ctx context.Context, a Activity, msg message.Message) (Outcome, error)

// ChildFunc applies a transition triggered by a child activity reaching a
// state.
type ChildFunc func(ctx context.Context, parent, child Activity) (Outcome, error)

// OnMessage adapts a typed method expression to a MessageFunc:
//
//	workflow.OnMessage((*AffirmIdentity).onInform)
func OnMessage[A Activity](fn func(A, context.Context, message.Message) (Outcome, error)) MessageFunc {
	return func(ctx context.Context, a Activity, msg message.Message) (Outcome, error) {
		typed, ok := a.(A)
		if !ok {
			return Stay(), newActivityError(ErrCodeInvalidTransition, a, "transition expects %T, got %T", *new(A), a)
		}
		return fn(typed, ctx, msg)
	}
}

// OnChild adapts a typed method expression to a ChildFunc:
//
//	workflow.OnChild((*Survey).onEchoCompleted)
func OnChild[P Activity, C Activity](fn func(P, context.Context, C) (Outcome, error)) ChildFunc {
	return func(ctx context.Context, parent, child Activity) (Outcome, error) {
		p, ok := parent.(P)
		if !ok {
			return Stay(), newActivityError(ErrCodeInvalidTransition, parent, "transition expects parent %T, got %T", *new(P), parent)
		}
		c, ok := child.(C)
		if !ok {
			return Stay(), newActivityError(ErrCodeInvalidTransition, parent, "transition expects child %T, got %T", *new(C), child)
		}
		return fn(p, ctx, c)
	}
}

// Match is the attribute set of a message trigger.
type Match map[string]string

// On matches messages with performative p.
func On(p message.Performative) Match {
	return Match{message.FieldPerformative: string(p)}
}

// And returns a copy of m that additionally requires key=value.
func (m Match) And(key, value string) Match {
	out := maps.Clone(m)
	if out == nil {
		out = Match{}
	}
	out[key] = value
	return out
}

// ChildTrigger fires when a child of type Type reaches State.
type ChildTrigger struct {
	Type  string
	State State
}

// WhenChild builds a ChildTrigger.
func WhenChild(typ string, s State) *ChildTrigger {
	return &ChildTrigger{Type: typ, State: s}
}

// TransitionSpec declares one transition of an activity type.
//
// A spec has one or more From states and exactly one trigger: either Match
// with a Message handler, or When with a Child handler. When Outcomes is
// non-empty, returning any other state is a runtime error.
type TransitionSpec struct {
	Name     string
	From     []State
	Match    Match
	Message  MessageFunc
	When     *ChildTrigger
	Child    ChildFunc
	Outcomes []State
}

func (s TransitionSpec) validate() error {
	invalid := func(format string, args ...any) error {
		return &RuntimeError{
			Code:    ErrCodeInvalidTransition,
			Message: fmt.Sprintf("transition %q: ", s.Name) + fmt.Sprintf(format, args...),
		}
	}
	if s.Name == "" {
		return &RuntimeError{Code: ErrCodeInvalidTransition, Message: "transition without a name"}
	}
	if len(s.From) == 0 {
		return invalid("no from state")
	}
	for _, from := range s.From {
		if from == "" {
			return invalid("empty from state")
		}
		if from.IsTerminal() {
			return invalid("cannot leave terminal state %s", from)
		}
	}
	hasMessage := s.Match != nil || s.Message != nil
	hasChild := s.When != nil || s.Child != nil
	switch {
	case hasMessage && hasChild:
		return invalid("both a message and a child trigger")
	case !hasMessage && !hasChild:
		return invalid("needs a message or a child trigger")
	case hasMessage && len(s.Match) == 0:
		return invalid("empty message attribute set")
	case hasMessage && s.Message == nil:
		return invalid("message trigger without handler")
	case hasChild && (s.When == nil || s.Child == nil):
		return invalid("child trigger needs both When and Child")
	case hasChild && (s.When.Type == "" || s.When.State == ""):
		return invalid("child trigger needs a type and a state")
	case hasChild && s.When.State == Limbo:
		return invalid("children never report %s", Limbo)
	}
	for k, v := range s.Match {
		if k == "" || v == "" {
			return invalid("empty attribute in %v", s.Match)
		}
	}
	for _, o := range s.Outcomes {
		if o == Limbo || o == "" {
			return invalid("invalid outcome %q", o)
		}
	}
	return nil
}

// Transition is a registered transition of an activity type.
type Transition struct {
	name     string
	keys     []string
	outcomes []State
	message  MessageFunc
	child    ChildFunc
}

func newTransition(s TransitionSpec) *Transition {
	keys := slices.Sorted(maps.Keys(s.Match))
	return &Transition{
		name:     s.Name,
		keys:     keys,
		outcomes: slices.Clone(s.Outcomes),
		message:  s.Message,
		child:    s.Child,
	}
}

// Name returns the transition name.
func (t *Transition) Name() string { return t.name }

func (t *Transition) String() string { return t.name }

// checkOutcome validates o against the declared outcomes.
func (t *Transition) checkOutcome(a Activity, o Outcome) error {
	next, change := o.Next()
	if !change || len(t.outcomes) == 0 {
		return nil
	}
	if slices.Contains(t.outcomes, next) {
		return nil
	}
	return newActivityError(ErrCodeUnexpectedOutcome, a,
		"transition %q returned %s, declared outcomes %v", t.name, next, t.outcomes)
}
