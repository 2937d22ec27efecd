package workflow

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

type attrKey struct {
	from  State
	name  string
	value string
}

type childKey struct {
	from       State
	childType  string
	childState State
}

// TransitionMap holds the transitions of one activity type.
//
// Message triggers are indexed per (from state, attribute=value). Resolution
// intersects the candidate sets of every attribute the message carries and
// breaks ties in favour of the transition whose attribute set is exactly the
// set of attributes that matched. Child triggers are exact-match.
//
// A TransitionMap is built once at registration and read-only afterwards.
type TransitionMap struct {
	byAttr   map[attrKey][]*Transition
	keysets  map[string]*Transition
	children map[childKey]*Transition
	names    map[string]*Transition
}

// NewTransitionMap builds a map from specs, rejecting malformed or
// conflicting declarations.
func NewTransitionMap(specs []TransitionSpec) (*TransitionMap, error) {
	tm := &TransitionMap{
		byAttr:   make(map[attrKey][]*Transition),
		keysets:  make(map[string]*Transition),
		children: make(map[childKey]*Transition),
		names:    make(map[string]*Transition),
	}
	for _, spec := range specs {
		if err := spec.validate(); err != nil {
			return nil, err
		}
		if _, dup := tm.names[spec.Name]; dup {
			return nil, &RuntimeError{
				Code:    ErrCodeDuplicateTransition,
				Message: fmt.Sprintf("transition %q declared twice", spec.Name),
			}
		}
		t := newTransition(spec)
		tm.names[spec.Name] = t
		for _, from := range spec.From {
			var err error
			if spec.When != nil {
				err = tm.addChild(from, spec.When.Type, spec.When.State, t)
			} else {
				err = tm.addMessage(from, spec.Match, t)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return tm, nil
}

func keysetID(from State, attrs map[string]string) string {
	var b strings.Builder
	b.WriteString(string(from))
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		b.WriteString("&")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(attrs[k])
	}
	return b.String()
}

func (tm *TransitionMap) addMessage(from State, attrs Match, t *Transition) error {
	id := keysetID(from, attrs)
	if existing, dup := tm.keysets[id]; dup {
		return &RuntimeError{
			Code: ErrCodeDuplicateTransition,
			Message: fmt.Sprintf("transitions %q and %q both trigger from %s on %v",
				existing.name, t.name, from, map[string]string(attrs)),
		}
	}
	tm.keysets[id] = t
	for k, v := range attrs {
		key := attrKey{from: from, name: k, value: v}
		tm.byAttr[key] = append(tm.byAttr[key], t)
	}
	return nil
}

func (tm *TransitionMap) addChild(from State, childType string, childState State, t *Transition) error {
	key := childKey{from: from, childType: childType, childState: childState}
	if existing, dup := tm.children[key]; dup {
		return &RuntimeError{
			Code: ErrCodeDuplicateTransition,
			Message: fmt.Sprintf("transitions %q and %q both trigger from %s when %s reaches %s",
				existing.name, t.name, from, childType, childState),
		}
	}
	tm.children[key] = t
	return nil
}

// Resolve finds the transition for a message with the given attributes
// received in state from. It returns (nil, nil) when no registered
// attribute matched at all.
func (tm *TransitionMap) Resolve(from State, attrs map[string]string) (*Transition, error) {
	var (
		candidates map[*Transition]struct{}
		found      []string
	)
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		value := attrs[name]
		if value == "" {
			continue
		}
		set := tm.byAttr[attrKey{from: from, name: name, value: value}]
		if len(set) == 0 {
			continue
		}
		found = append(found, name)
		if candidates == nil {
			candidates = make(map[*Transition]struct{}, len(set))
			for _, t := range set {
				candidates[t] = struct{}{}
			}
			continue
		}
		for t := range candidates {
			if !slices.Contains(set, t) {
				delete(candidates, t)
			}
		}
	}

	switch {
	case candidates == nil:
		return nil, nil
	case len(candidates) == 1:
		for t := range candidates {
			return t, nil
		}
	case len(candidates) == 0:
		return nil, ambiguous(from, attrs, "attributes select disjoint transitions")
	}

	var exact *Transition
	for t := range candidates {
		if !slices.Equal(t.keys, found) {
			continue
		}
		if exact != nil {
			return nil, ambiguous(from, attrs, fmt.Sprintf("both %q and %q match exactly", exact.name, t.name))
		}
		exact = t
	}
	if exact == nil {
		return nil, ambiguous(from, attrs, fmt.Sprintf("%d candidates, none keyed exactly by %v", len(candidates), found))
	}
	return exact, nil
}

func ambiguous(from State, attrs map[string]string, reason string) error {
	return &RuntimeError{
		Code:    ErrCodeAmbiguousTransition,
		Message: fmt.Sprintf("ambiguous transition from %s: %s", from, reason),
		Details: attrs,
	}
}

// ResolveChild finds the transition fired when a child of childType reaches
// childState while the parent is in from.
func (tm *TransitionMap) ResolveChild(from State, childType string, childState State) *Transition {
	return tm.children[childKey{from: from, childType: childType, childState: childState}]
}

// Transition looks a transition up by name.
func (tm *TransitionMap) Transition(name string) (*Transition, bool) {
	t, ok := tm.names[name]
	return t, ok
}

// Len returns the number of declared transitions.
func (tm *TransitionMap) Len() int {
	return len(tm.names)
}
