package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/hgpeer/internal/message"
	"github.com/roach88/hgpeer/internal/workflow"
)

// Peer is one participant of the network: an activity manager, the
// transport it talks through and the identities it has learned.
type Peer struct {
	identity  Identity
	transport Transport
	manager   *workflow.Manager
	logger    *slog.Logger
	affirm    bool

	mu       sync.RWMutex
	byTarget map[string]Identity
	byID     map[string]string
	runCtx   context.Context
}

type options struct {
	logger      *slog.Logger
	affirm      bool
	managerOpts []workflow.Option
}

// Option configures a Peer.
type Option func(*options)

// WithLogger sets the logger for the peer and its manager.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAffirmIdentity controls whether the peer starts affirm-identity for
// every network target that joins. Default: true.
func WithAffirmIdentity(on bool) Option {
	return func(o *options) { o.affirm = on }
}

// WithManagerOptions passes options through to the workflow.Manager.
func WithManagerOptions(opts ...workflow.Option) Option {
	return func(o *options) { o.managerOpts = append(o.managerOpts, opts...) }
}

// New creates a peer. The identity's address defaults to the transport's.
// The affirm-identity activity type is registered on the manager.
func New(id Identity, t Transport, opts ...Option) (*Peer, error) {
	o := options{logger: slog.Default(), affirm: true}
	for _, opt := range opts {
		opt(&o)
	}
	if id.Address == "" {
		id.Address = t.Address()
	}

	p := &Peer{
		identity:  id,
		transport: t,
		logger:    o.logger.With("peer", id.String()),
		affirm:    o.affirm,
		byTarget:  make(map[string]Identity),
		byID:      make(map[string]string),
		runCtx:    context.Background(),
	}
	mopts := append([]workflow.Option{
		workflow.WithLogger(p.logger),
		workflow.WithPeerInterface(t),
		workflow.WithDirectory(p),
	}, o.managerOpts...)
	p.manager = workflow.New(mopts...)

	if err := p.manager.RegisterType(affirmIdentityDefinition(p)); err != nil {
		return nil, fmt.Errorf("register %s: %w", AffirmIdentityType, err)
	}
	t.AddPresenceListener(p.onPresence)
	return p, nil
}

// Identity returns this peer's identity.
func (p *Peer) Identity() Identity { return p.identity }

// Manager returns the peer's activity manager.
func (p *Peer) Manager() *workflow.Manager { return p.manager }

// Address returns the peer's own network target.
func (p *Peer) Address() string { return p.transport.Address() }

// Start runs the manager's scheduler and attaches the transport.
func (p *Peer) Start(ctx context.Context) error {
	if err := p.manager.Start(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.runCtx = ctx
	p.mu.Unlock()
	if err := p.transport.Start(ctx, p.receive); err != nil {
		p.manager.Stop()
		return fmt.Errorf("start transport: %w", err)
	}
	p.logger.Info("peer started", "address", p.Address(), "id", p.identity.ID)
	return nil
}

// Stop detaches the transport and stops the scheduler.
func (p *Peer) Stop() error {
	err := p.transport.Close()
	p.manager.Stop()
	p.logger.Info("peer stopped")
	return err
}

func (p *Peer) receive(ctx context.Context, msg message.Message) {
	if err := p.manager.HandleMessage(ctx, msg); err != nil {
		p.logger.Error("cannot handle message",
			"from", message.Sender(msg),
			"conversation", msg.ConversationID(),
			"error", err)
	}
}

func (p *Peer) onPresence(target string, joined bool) {
	if !joined {
		if id, ok := p.IdentityOf(target); ok {
			p.logger.Info("peer left", "target", target, "identity", id.String())
		}
		p.Unbind(target)
		return
	}
	if !p.affirm {
		return
	}
	if _, known := p.IdentityOf(target); known {
		return
	}
	p.mu.RLock()
	ctx := p.runCtx
	p.mu.RUnlock()
	if _, err := p.AffirmIdentity(ctx, target); err != nil {
		p.logger.Warn("cannot affirm identity", "target", target, "error", err)
	}
}

// AffirmIdentity starts an identity exchange with target, or with every
// peer when target is empty.
func (p *Peer) AffirmIdentity(ctx context.Context, target string) (*workflow.Future, error) {
	return p.manager.Initiate(ctx, NewAffirmIdentity(p, target))
}

// Bind associates id with a network target, replacing any previous
// association of either.
func (p *Peer) Bind(id Identity, target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.byTarget[target]; ok {
		delete(p.byID, old.ID)
	}
	if oldTarget, ok := p.byID[id.ID]; ok {
		delete(p.byTarget, oldTarget)
	}
	p.byTarget[target] = id
	p.byID[id.ID] = target
	p.logger.Debug("identity bound", "target", target, "identity", id.String())
}

// Unbind forgets the identity at target.
func (p *Peer) Unbind(target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.byTarget[target]; ok {
		delete(p.byID, id.ID)
		delete(p.byTarget, target)
	}
}

// NetworkTarget returns the target of the peer with the given identity id.
func (p *Peer) NetworkTarget(peerID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.byID[peerID]
	return t, ok
}

// PeerAt returns the identity id bound to target.
func (p *Peer) PeerAt(target string) (string, bool) {
	id, ok := p.IdentityOf(target)
	return id.ID, ok
}

// IdentityOf returns the identity bound to target.
func (p *Peer) IdentityOf(target string) (Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byTarget[target]
	return id, ok
}

// Peers returns the known identities ordered by name, then id.
func (p *Peer) Peers() []Identity {
	p.mu.RLock()
	out := make([]Identity, 0, len(p.byTarget))
	for _, id := range p.byTarget {
		out = append(out, id)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
