package activities

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/hgpeer/internal/message"
	"github.com/roach88/hgpeer/internal/workflow"
)

// EchoType is the activity type name of Echo.
const EchoType = "echo"

// Echo asks a peer to send its content back.
type Echo struct {
	*workflow.Base
	target  string
	content any

	mu    sync.Mutex
	reply any
}

// NewEcho creates an initiator that sends content to target.
func NewEcho(target string, content any) *Echo {
	return &Echo{Base: workflow.NewBase(EchoType, ""), target: target, content: content}
}

// EchoDefinition is the registration of the echo type.
func EchoDefinition() workflow.Definition {
	return workflow.Definition{
		Name: EchoType,
		Factory: func(id string, msg message.Message) (workflow.Activity, error) {
			return &Echo{Base: workflow.NewBase(EchoType, id), target: message.Sender(msg)}, nil
		},
	}
}

// Target returns the network target of the other side.
func (e *Echo) Target() string { return e.target }

// Echoed returns the content echoed back, once Completed.
func (e *Echo) Echoed() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reply
}

func (e *Echo) Initiate(ctx context.Context) error {
	return e.Send(ctx, e.target, e.CreateMessage(message.Request, e.content))
}

// HandleMessage answers a Request on the responder side and collects the
// Inform on the initiator side.
func (e *Echo) HandleMessage(ctx context.Context, msg message.Message) error {
	switch p := msg.Performative(); p {
	case message.Request:
		if err := e.Reply(ctx, msg, message.Inform, msg.Content()); err != nil {
			return err
		}
		return e.State().Assign(workflow.Completed)
	case message.Inform:
		e.mu.Lock()
		e.reply = msg.Content()
		e.mu.Unlock()
		return e.State().Assign(workflow.Completed)
	case message.Refuse, message.Failure, message.NotUnderstood:
		reason := fmt.Sprint(msg.Content())
		if why := msg.WhyNotUnderstood(); why != "" {
			reason = why
		}
		e.RecordError(&workflow.PeerError{
			Peer:         message.Sender(msg),
			Performative: string(p),
			Reason:       reason,
		})
		return e.State().Assign(workflow.Failed)
	default:
		return fmt.Errorf("echo: unexpected %s", p)
	}
}
