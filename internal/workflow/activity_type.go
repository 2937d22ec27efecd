package workflow

import (
	"fmt"

	"github.com/roach88/hgpeer/internal/message"
)

// Factory builds an activity for an inbound message that references an
// unknown correlation id. The id is the message's conversation-id.
type Factory func(id string, msg message.Message) (Activity, error)

// Definition describes an activity type for registration.
type Definition struct {
	Name        string
	Factory     Factory
	Transitions []TransitionSpec
}

// ActivityType is a registered activity type.
type ActivityType struct {
	name        string
	factory     Factory
	transitions *TransitionMap
}

func newActivityType(def Definition) (*ActivityType, error) {
	if def.Name == "" {
		return nil, &RuntimeError{Code: ErrCodeInvalidTransition, Message: "activity type without a name"}
	}
	if def.Factory == nil {
		return nil, &RuntimeError{
			Code:         ErrCodeInvalidTransition,
			Message:      "activity type without a factory",
			ActivityType: def.Name,
		}
	}
	tm, err := NewTransitionMap(def.Transitions)
	if err != nil {
		return nil, fmt.Errorf("activity type %s: %w", def.Name, err)
	}
	return &ActivityType{name: def.Name, factory: def.Factory, transitions: tm}, nil
}

// Name returns the type name.
func (t *ActivityType) Name() string { return t.name }

// Transitions returns the type's transition map.
func (t *ActivityType) Transitions() *TransitionMap { return t.transitions }

func (t *ActivityType) make(id string, msg message.Message) (Activity, error) {
	a, err := t.factory(id, msg)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &RuntimeError{Code: ErrCodeUnknownType, Message: "factory returned no activity", ActivityType: t.name}
	}
	if a.ID() != id {
		return nil, &RuntimeError{
			Code:         ErrCodeInvalidTransition,
			Message:      fmt.Sprintf("factory produced id %q for conversation %q", a.ID(), id),
			ActivityType: t.name,
		}
	}
	if a.Type() != t.name {
		return nil, &RuntimeError{
			Code:         ErrCodeInvalidTransition,
			Message:      fmt.Sprintf("factory produced an activity of type %q", a.Type()),
			ActivityType: t.name,
		}
	}
	return a, nil
}
