package peer

import (
	"context"
	"errors"

	"github.com/roach88/hgpeer/internal/message"
	"github.com/roach88/hgpeer/internal/workflow"
)

// Inbox receives decoded inbound messages, one at a time.
type Inbox func(ctx context.Context, msg message.Message)

// PresenceListener is told when another network target joins or leaves.
type PresenceListener func(target string, joined bool)

// Transport moves messages between peers.
type Transport interface {
	workflow.PeerInterface

	// Address is this transport's own network target.
	Address() string
	// AddPresenceListener registers l for join/leave notifications.
	AddPresenceListener(l PresenceListener)
	// Start begins delivering inbound messages to inbox and announces
	// this transport to the others.
	Start(ctx context.Context, inbox Inbox) error
	// Close stops delivery and announces departure.
	Close() error
}

var (
	// ErrUnknownTarget is returned when sending to an address nobody
	// listens on.
	ErrUnknownTarget = errors.New("unknown network target")
	// ErrClosed is returned by a closed endpoint or when the target closed.
	ErrClosed = errors.New("endpoint closed")
)
