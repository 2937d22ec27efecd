package workflow

import (
	"errors"
	"fmt"
)

// RuntimeError is an error raised by the engine.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ActivityID identifies the affected activity, when known.
	ActivityID string

	// ActivityType is the type of the affected activity, when known.
	ActivityType string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	ErrCodeTerminalState       RuntimeErrorCode = "TERMINAL_STATE"
	ErrCodeInvalidStateChange  RuntimeErrorCode = "INVALID_STATE_CHANGE"
	ErrCodeUnknownState        RuntimeErrorCode = "UNKNOWN_STATE"
	ErrCodeUnreachableState    RuntimeErrorCode = "UNREACHABLE_STATE"
	ErrCodeAmbiguousTransition RuntimeErrorCode = "AMBIGUOUS_TRANSITION"
	ErrCodeDuplicateTransition RuntimeErrorCode = "DUPLICATE_TRANSITION"
	ErrCodeInvalidTransition   RuntimeErrorCode = "INVALID_TRANSITION"
	ErrCodeUnexpectedOutcome   RuntimeErrorCode = "UNEXPECTED_OUTCOME"
	ErrCodeDuplicateType       RuntimeErrorCode = "DUPLICATE_TYPE"
	ErrCodeUnknownType         RuntimeErrorCode = "UNKNOWN_TYPE"
	ErrCodeDuplicateActivity   RuntimeErrorCode = "DUPLICATE_ACTIVITY"
	ErrCodeUnknownActivity     RuntimeErrorCode = "UNKNOWN_ACTIVITY"
	ErrCodeUnknownPeer         RuntimeErrorCode = "UNKNOWN_PEER"
	ErrCodeNoHandler           RuntimeErrorCode = "NO_HANDLER"
	ErrCodeNotAttached         RuntimeErrorCode = "NOT_ATTACHED"
	ErrCodePanic               RuntimeErrorCode = "PANIC"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	switch {
	case e.ActivityID != "" && e.ActivityType != "":
		return fmt.Sprintf("%s: %s (activity=%s, type=%s)", e.Code, e.Message, e.ActivityID, e.ActivityType)
	case e.ActivityID != "":
		return fmt.Sprintf("%s: %s (activity=%s)", e.Code, e.Message, e.ActivityID)
	case e.ActivityType != "":
		return fmt.Sprintf("%s: %s (type=%s)", e.Code, e.Message, e.ActivityType)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode returns the RuntimeErrorCode carried by err, or "".
// Uses errors.As to handle wrapped errors.
func ErrorCode(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsTerminalStateError reports an attempt to leave a terminal state.
func IsTerminalStateError(err error) bool {
	return ErrorCode(err) == ErrCodeTerminalState
}

// IsAmbiguousTransition reports an unresolvable transition tie.
func IsAmbiguousTransition(err error) bool {
	return ErrorCode(err) == ErrCodeAmbiguousTransition
}

// IsDuplicateActivity reports an id collision in the activity registry.
func IsDuplicateActivity(err error) bool {
	return ErrorCode(err) == ErrCodeDuplicateActivity
}

// IsDuplicateType reports a second registration of an activity type.
func IsDuplicateType(err error) bool {
	return ErrorCode(err) == ErrCodeDuplicateType
}

// IsUnknownType reports a reference to an unregistered activity type.
func IsUnknownType(err error) bool {
	return ErrorCode(err) == ErrCodeUnknownType
}

// IsInvalidDefinition reports a rejected activity type definition.
func IsInvalidDefinition(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeInvalidTransition, ErrCodeDuplicateTransition:
		return true
	}
	return false
}

// PeerError is a failure reported by a remote peer, either through a
// Failure message or a NotUnderstood reply.
type PeerError struct {
	// Peer identifies the remote peer: its identity when known, otherwise
	// its network address.
	Peer string
	// Performative is the signal that carried the failure.
	Performative string
	// Reason is the peer's description of the problem.
	Reason string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("peer %s reported %s: %s", e.Peer, e.Performative, e.Reason)
}

// IsPeerError reports whether err originated at a remote peer.
func IsPeerError(err error) bool {
	var pe *PeerError
	return errors.As(err, &pe)
}

func newActivityError(code RuntimeErrorCode, a Activity, format string, args ...any) *RuntimeError {
	e := &RuntimeError{Code: code, Message: fmt.Sprintf(format, args...)}
	if a != nil {
		e.ActivityID = a.ID()
		e.ActivityType = a.Type()
	}
	return e
}

func newPanicError(a Activity, v any) *RuntimeError {
	if err, ok := v.(error); ok {
		return newActivityError(ErrCodePanic, a, "panic: %v", err)
	}
	return newActivityError(ErrCodePanic, a, "panic: %v", v)
}
