package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/hgpeer/internal/message"
)

// Network is an in-process message network.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	logger    *slog.Logger
}

// NetworkOption configures a Network.
type NetworkOption func(*Network)

// WithNetworkLogger sets the logger used by the network and its endpoints.
func WithNetworkLogger(l *slog.Logger) NetworkOption {
	return func(n *Network) { n.logger = l }
}

// NewNetwork creates an empty network.
func NewNetwork(opts ...NetworkOption) *Network {
	n := &Network{
		endpoints: make(map[string]*Endpoint),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Endpoint creates the endpoint for address. It receives nothing until
// started.
func (n *Network) Endpoint(address string) (*Endpoint, error) {
	if address == "" {
		return nil, errors.New("endpoint address is empty")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := n.endpoints[address]; dup {
		return nil, fmt.Errorf("endpoint %s already exists", address)
	}
	e := &Endpoint{
		net:     n,
		address: address,
		inbox:   newMailbox(),
		logger:  n.logger.With("endpoint", address),
	}
	n.endpoints[address] = e
	return e, nil
}

// Addresses returns the addresses of started endpoints in sorted order.
func (n *Network) Addresses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for addr, e := range n.endpoints {
		if e.isOnline() {
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out
}

func (n *Network) lookup(address string) (*Endpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.endpoints[address]
	if !ok || !e.isOnline() {
		return nil, false
	}
	return e, true
}

// online returns every started endpoint except self, ordered by address.
func (n *Network) online(self *Endpoint) []*Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*Endpoint
	for _, e := range n.endpoints {
		if e != self && e.isOnline() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].address < out[j].address })
	return out
}

func (n *Network) remove(e *Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[e.address] == e {
		delete(n.endpoints, e.address)
	}
}

// Endpoint is one peer's attachment to a Network. It implements Transport.
type Endpoint struct {
	net     *Network
	address string
	inbox   *mailbox
	logger  *slog.Logger

	mu        sync.Mutex
	listeners []PresenceListener
	started   bool
	closed    bool
	stop      chan struct{}
	done      chan struct{}
}

var _ Transport = (*Endpoint)(nil)

// Address returns the endpoint's network target.
func (e *Endpoint) Address() string { return e.address }

func (e *Endpoint) isOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.closed
}

// AddPresenceListener registers l for join/leave notifications.
func (e *Endpoint) AddPresenceListener(l PresenceListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Endpoint) notify(target string, joined bool) {
	e.mu.Lock()
	listeners := make([]PresenceListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()
	for _, l := range listeners {
		l(target, joined)
	}
}

// Send encodes msg, stamps this endpoint as reply-to and queues it at
// target. It does not wait for the target to process the message.
func (e *Endpoint) Send(ctx context.Context, target string, msg message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.isOnline() {
		return fmt.Errorf("send from %s: %w", e.address, ErrClosed)
	}
	out := msg.Clone().Set(message.FieldReplyTo, e.address)
	data, err := message.Encode(out)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", target, err)
	}
	dst, ok := e.net.lookup(target)
	if !ok {
		return fmt.Errorf("send to %s: %w", target, ErrUnknownTarget)
	}
	if !dst.inbox.put(data) {
		return fmt.Errorf("send to %s: %w", target, ErrClosed)
	}
	e.logger.Debug("message sent",
		"to", target,
		"performative", out.Performative(),
		"conversation", out.ConversationID())
	return nil
}

// Broadcast sends msg to every other started endpoint.
func (e *Endpoint) Broadcast(ctx context.Context, msg message.Message) error {
	var errs []error
	for _, dst := range e.net.online(e) {
		if err := e.Send(ctx, dst.address, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start begins delivery to inbox and announces the endpoint. Listeners on
// both sides learn about each other before Start returns.
func (e *Endpoint) Start(ctx context.Context, inbox Inbox) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("start %s: %w", e.address, ErrClosed)
	}
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("endpoint %s already started", e.address)
	}
	e.started = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	go e.deliver(ctx, inbox, stop, done)

	e.logger.Info("endpoint online")
	for _, other := range e.net.online(e) {
		other.notify(e.address, true)
		e.notify(other.address, true)
	}
	return nil
}

func (e *Endpoint) deliver(ctx context.Context, inbox Inbox, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		if data, ok := e.inbox.take(); ok {
			msg, err := message.Decode(data)
			if err != nil {
				e.logger.Warn("dropping undecodable message", "error", err)
				continue
			}
			inbox(ctx, msg)
			continue
		}
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-e.inbox.wait():
		}
	}
}

// Close stops delivery, detaches the endpoint and tells the remaining
// endpoints it left. Messages still queued are discarded.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	wasStarted := e.started
	e.closed = true
	stop, done := e.stop, e.done
	e.mu.Unlock()

	e.inbox.close()
	others := e.net.online(e)
	e.net.remove(e)
	if wasStarted {
		close(stop)
		<-done
		if n := e.inbox.len(); n > 0 {
			e.logger.Debug("discarding undelivered messages", "count", n)
		}
	}
	for _, other := range others {
		other.notify(e.address, false)
	}
	e.logger.Info("endpoint offline")
	return nil
}
