package workflow

import (
	"context"
	"fmt"

	"github.com/roach88/hgpeer/internal/message"
)

// FSM is embedded by activities whose behaviour is declared as transitions.
// Inbound messages are routed through the type's TransitionMap instead of a
// MessageHandler.
type FSM struct {
	*Base
}

// NewFSM creates the common part of a state machine activity.
func NewFSM(typ, id string) *FSM {
	return &FSM{Base: NewBase(typ, id)}
}

func (f *FSM) isStateMachine() {}

type stateMachine interface {
	isStateMachine()
}

// PeerFailureHandler handles a Failure message for which no transition is
// declared.
type PeerFailureHandler interface {
	OnPeerFailure(ctx context.Context, msg message.Message) (Outcome, error)
}

// PeerNotUnderstoodHandler handles a NotUnderstood message for which no
// transition is declared.
type PeerNotUnderstoodHandler interface {
	OnPeerNotUnderstood(ctx context.Context, msg message.Message) (Outcome, error)
}

// OnPeerFailure fails the activity with a PeerError carrying the peer's
// message. Activities override it by declaring a transition on Failure or by
// defining their own OnPeerFailure.
func (f *FSM) OnPeerFailure(ctx context.Context, msg message.Message) (Outcome, error) {
	f.RecordError(&PeerError{
		Peer:         f.peerName(msg),
		Performative: string(message.Failure),
		Reason:       contentText(msg.Content()),
	})
	return GoTo(Failed), nil
}

// OnPeerNotUnderstood fails the activity with a PeerError embedding the
// peer's stated reason.
func (f *FSM) OnPeerNotUnderstood(ctx context.Context, msg message.Message) (Outcome, error) {
	f.RecordError(&PeerError{
		Peer:         f.peerName(msg),
		Performative: string(message.NotUnderstood),
		Reason: fmt.Sprintf("peer did not understand last message %s, because %s",
			contentText(msg.Content()), msg.WhyNotUnderstood()),
	})
	return GoTo(Failed), nil
}

func (f *FSM) peerName(msg message.Message) string {
	sender := message.Sender(msg)
	if f.mgr != nil {
		if id, ok := f.mgr.peerAt(sender); ok {
			return id
		}
	}
	return sender
}

func contentText(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case message.Message:
		if data, err := message.MarshalCanonical(c); err == nil {
			return string(data)
		}
	case map[string]any:
		if data, err := message.MarshalCanonical(c); err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}
