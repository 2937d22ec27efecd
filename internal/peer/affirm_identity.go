package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/hgpeer/internal/message"
	"github.com/roach88/hgpeer/internal/workflow"
)

// AffirmIdentityType is the activity type name of the identity exchange.
const AffirmIdentityType = "affirm-identity"

// ErrIdentityRejected is recorded when the other side disconfirms our
// identity, which happens when both sides share an identity id.
var ErrIdentityRejected = errors.New("identity rejected")

// AffirmIdentity exchanges identities with one peer or, without a target,
// with everyone.
//
// The initiator sends Inform with its identity. A responder binds the
// sender and answers Confirm with its own identity, or Disconfirm when the
// announced identity is its own. The initiator binds on Confirm.
type AffirmIdentity struct {
	*workflow.FSM
	peer   *Peer
	target string

	mu     sync.Mutex
	remote Identity
}

// NewAffirmIdentity creates an initiator for target. An empty target
// broadcasts.
func NewAffirmIdentity(p *Peer, target string) *AffirmIdentity {
	return &AffirmIdentity{FSM: workflow.NewFSM(AffirmIdentityType, ""), peer: p, target: target}
}

func affirmIdentityDefinition(p *Peer) workflow.Definition {
	return workflow.Definition{
		Name: AffirmIdentityType,
		Factory: func(id string, msg message.Message) (workflow.Activity, error) {
			return &AffirmIdentity{FSM: workflow.NewFSM(AffirmIdentityType, id), peer: p}, nil
		},
		Transitions: []workflow.TransitionSpec{
			{
				Name:     "inform",
				From:     []workflow.State{workflow.Started},
				Match:    workflow.On(message.Inform),
				Message:  workflow.OnMessage((*AffirmIdentity).onInform),
				Outcomes: []workflow.State{workflow.Completed},
			},
			{
				Name:     "confirm",
				From:     []workflow.State{workflow.Started},
				Match:    workflow.On(message.Confirm),
				Message:  workflow.OnMessage((*AffirmIdentity).onConfirm),
				Outcomes: []workflow.State{workflow.Completed},
			},
			{
				Name:     "disconfirm",
				From:     []workflow.State{workflow.Started},
				Match:    workflow.On(message.Disconfirm),
				Message:  workflow.OnMessage((*AffirmIdentity).onDisconfirm),
				Outcomes: []workflow.State{workflow.Failed},
			},
		},
	}
}

// Remote returns the identity learned by the exchange.
func (a *AffirmIdentity) Remote() (Identity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remote, a.remote.ID != ""
}

func (a *AffirmIdentity) Initiate(ctx context.Context) error {
	inform := a.CreateMessage(message.Inform, a.peer.identity.Content())
	if a.target == "" {
		return a.Broadcast(ctx, inform)
	}
	return a.Send(ctx, a.target, inform)
}

func (a *AffirmIdentity) onInform(ctx context.Context, msg message.Message) (workflow.Outcome, error) {
	remote, err := ParseIdentity(msg.Content())
	if err != nil {
		return workflow.Stay(), err
	}
	own := a.peer.identity
	if remote.ID == own.ID {
		if err := a.Reply(ctx, msg, message.Disconfirm, nil); err != nil {
			return workflow.Stay(), err
		}
		return workflow.GoTo(workflow.Completed), nil
	}
	a.learn(remote, message.Sender(msg))
	if err := a.Reply(ctx, msg, message.Confirm, own.Content()); err != nil {
		return workflow.Stay(), err
	}
	return workflow.GoTo(workflow.Completed), nil
}

func (a *AffirmIdentity) onConfirm(ctx context.Context, msg message.Message) (workflow.Outcome, error) {
	remote, err := ParseIdentity(msg.Content())
	if err != nil {
		return workflow.Stay(), err
	}
	a.learn(remote, message.Sender(msg))
	return workflow.GoTo(workflow.Completed), nil
}

func (a *AffirmIdentity) onDisconfirm(ctx context.Context, msg message.Message) (workflow.Outcome, error) {
	a.RecordError(fmt.Errorf("%w by %s", ErrIdentityRejected, message.Sender(msg)))
	return workflow.GoTo(workflow.Failed), nil
}

func (a *AffirmIdentity) learn(remote Identity, target string) {
	a.mu.Lock()
	a.remote = remote
	a.mu.Unlock()
	a.peer.Bind(remote, target)
}
