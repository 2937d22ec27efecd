package workflow

import (
	"context"
	"fmt"

	"github.com/roach88/hgpeer/internal/message"
)

// Activity is one running protocol instance.
//
// Implementations embed *Base (imperative activities) or *FSM (state
// machine activities); the unexported method seals the interface.
type Activity interface {
	ID() string
	Type() string
	State() *WorkflowState
	// Initiate produces the first outbound message(s). It is called once,
	// only for locally initiated activities, after the activity is
	// registered and Started.
	Initiate(ctx context.Context) error
	base() *Base
}

// MessageHandler is implemented by imperative activities that consume
// inbound messages directly.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg message.Message) error
}

// PeerInterface is the messaging layer the engine sends through.
type PeerInterface interface {
	// Send delivers msg to one network target. It blocks until the message
	// is accepted by the transport.
	Send(ctx context.Context, target string, msg message.Message) error
	// Broadcast delivers msg to every known peer.
	Broadcast(ctx context.Context, msg message.Message) error
}

// Directory resolves between logical peer identities and network targets.
type Directory interface {
	NetworkTarget(peerID string) (string, bool)
	PeerAt(target string) (string, bool)
}

// Base carries the state shared by every activity.
type Base struct {
	id    string
	typ   string
	state *WorkflowState

	// Set by the Manager when the activity is registered.
	mgr    *Manager
	parent Activity
	future *Future
	h      *hierarchy
}

// NewBase creates the common part of an activity. An empty id is replaced
// with a generated one when the activity is initiated.
func NewBase(typ, id string) *Base {
	return &Base{id: id, typ: typ, state: NewWorkflowState()}
}

func (b *Base) base() *Base { return b }

// ID returns the correlation id.
func (b *Base) ID() string { return b.id }

// Type returns the activity type name.
func (b *Base) Type() string { return b.typ }

// State returns the activity's state cell.
func (b *Base) State() *WorkflowState { return b.state }

// Initiate does nothing. Activities that start conversations override it.
func (b *Base) Initiate(ctx context.Context) error { return nil }

// Manager returns the manager the activity is registered with, or nil.
func (b *Base) Manager() *Manager { return b.mgr }

// Parent returns the parent activity, or nil for a top-level activity.
func (b *Base) Parent() Activity { return b.parent }

// Future returns the completion future, or nil before registration.
func (b *Base) Future() *Future { return b.future }

// RecordError stores err as the activity's failure without changing state.
// The error becomes visible in the ActivityResult once the activity
// finishes.
func (b *Base) RecordError(err error) {
	if b.future != nil {
		b.future.setErr(err)
	}
}

func (b *Base) String() string {
	return fmt.Sprintf("%s[%s]", b.typ, b.id)
}

// CreateMessage stamps a new message with this activity's correlation id
// and type and, for a child, the parent's scope.
func (b *Base) CreateMessage(p message.Performative, content any) message.Message {
	m := message.New(p).
		Set(message.FieldConversationID, b.id).
		Set(message.FieldActivityType, b.typ).
		Set(message.FieldContent, content)
	if b.parent != nil {
		m.Set(message.FieldParentScope, b.parent.ID())
		m.Set(message.FieldParentType, b.parent.Type())
	}
	return m
}

// Send delivers msg to a network target, blocking until the transport
// accepts it.
func (b *Base) Send(ctx context.Context, target string, msg message.Message) error {
	if b.mgr == nil {
		return newActivityError(ErrCodeNotAttached, b, "activity is not registered with a manager")
	}
	return b.mgr.send(ctx, target, msg)
}

// SendToPeer resolves a peer identity to its network target and sends msg.
func (b *Base) SendToPeer(ctx context.Context, peerID string, msg message.Message) error {
	if b.mgr == nil {
		return newActivityError(ErrCodeNotAttached, b, "activity is not registered with a manager")
	}
	target, ok := b.mgr.networkTarget(peerID)
	if !ok {
		return newActivityError(ErrCodeUnknownPeer, b, "no network target for peer %s", peerID)
	}
	return b.mgr.send(ctx, target, msg)
}

// Post is the non-blocking variant of Send. The returned channel yields
// the send result once.
func (b *Base) Post(ctx context.Context, target string, msg message.Message) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- b.Send(ctx, target, msg)
	}()
	return result
}

// PostToPeer is the non-blocking variant of SendToPeer. The returned
// channel yields the send result once, an UNKNOWN_PEER error included.
func (b *Base) PostToPeer(ctx context.Context, peerID string, msg message.Message) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- b.SendToPeer(ctx, peerID, msg)
	}()
	return result
}

// Reply answers msg with performative p and the given content.
func (b *Base) Reply(ctx context.Context, msg message.Message, p message.Performative, content any) error {
	return b.Send(ctx, message.Sender(msg), message.ReplyWithContent(msg, p, content))
}

// Broadcast sends msg to every peer.
func (b *Base) Broadcast(ctx context.Context, msg message.Message) error {
	if b.mgr == nil {
		return newActivityError(ErrCodeNotAttached, b, "activity is not registered with a manager")
	}
	return b.mgr.broadcast(ctx, msg)
}
