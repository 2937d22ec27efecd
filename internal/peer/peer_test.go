package peer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hgpeer/internal/workflow"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPeer(t *testing.T, n *Network, addr string, id Identity, opts ...Option) *Peer {
	t.Helper()
	e, err := n.Endpoint(addr)
	require.NoError(t, err)
	p, err := New(id, e, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func TestPeer_AffirmsIdentitiesOnJoin(t *testing.T) {
	n := NewNetwork()
	alice := newTestPeer(t, n, "a", NewIdentity("alice", "host-a", ""))
	bob := newTestPeer(t, n, "b", NewIdentity("bob", "host-b", ""))

	require.NoError(t, alice.Start(context.Background()))
	require.NoError(t, bob.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(alice.Peers()) == 1 && len(bob.Peers()) == 1
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, bob.Identity(), alice.Peers()[0])
	assert.Equal(t, alice.Identity(), bob.Peers()[0])
	assert.Equal(t, "b", bob.Identity().Address)

	target, ok := alice.NetworkTarget(bob.Identity().ID)
	require.True(t, ok)
	assert.Equal(t, "b", target)
	id, ok := alice.PeerAt("b")
	require.True(t, ok)
	assert.Equal(t, bob.Identity().ID, id)
}

func TestPeer_UnbindsOnLeave(t *testing.T) {
	n := NewNetwork()
	alice := newTestPeer(t, n, "a", NewIdentity("alice", "host-a", ""))
	bob := newTestPeer(t, n, "b", NewIdentity("bob", "host-b", ""))
	require.NoError(t, alice.Start(context.Background()))
	require.NoError(t, bob.Start(context.Background()))
	require.Eventually(t, func() bool { return len(alice.Peers()) == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, bob.Stop())

	assert.Empty(t, alice.Peers())
	_, ok := alice.NetworkTarget(bob.Identity().ID)
	assert.False(t, ok)
}

func TestPeer_ExplicitAffirmIdentity(t *testing.T) {
	n := NewNetwork()
	alice := newTestPeer(t, n, "a", NewIdentity("alice", "host-a", ""), WithAffirmIdentity(false))
	bob := newTestPeer(t, n, "b", NewIdentity("bob", "host-b", ""), WithAffirmIdentity(false))
	require.NoError(t, alice.Start(context.Background()))
	require.NoError(t, bob.Start(context.Background()))
	assert.Empty(t, alice.Peers())

	f, err := alice.AffirmIdentity(context.Background(), "b")
	require.NoError(t, err)

	res, err := f.WaitTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, workflow.Completed, res.State)

	affirm, ok := res.Activity.(*AffirmIdentity)
	require.True(t, ok)
	remote, ok := affirm.Remote()
	require.True(t, ok)
	assert.Equal(t, bob.Identity(), remote)

	// The responder bound the initiator as well.
	require.Eventually(t, func() bool { return len(bob.Peers()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, alice.Identity(), bob.Peers()[0])
}

func TestPeer_DisconfirmsOwnIdentity(t *testing.T) {
	n := NewNetwork()
	shared := NewIdentity("twin", "host", "")
	one := newTestPeer(t, n, "a", shared, WithAffirmIdentity(false))
	two := newTestPeer(t, n, "b", shared, WithAffirmIdentity(false))
	require.NoError(t, one.Start(context.Background()))
	require.NoError(t, two.Start(context.Background()))

	f, err := one.AffirmIdentity(context.Background(), "b")
	require.NoError(t, err)

	res, err := f.WaitTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, workflow.Failed, res.State)
	assert.ErrorIs(t, res.Err, ErrIdentityRejected)
	assert.Empty(t, one.Peers())
	assert.Empty(t, two.Peers())
}

func TestPeer_BindReplacesStaleEntries(t *testing.T) {
	n := NewNetwork()
	p := newTestPeer(t, n, "a", NewIdentity("alice", "", ""))
	bob := NewIdentity("bob", "", "")

	p.Bind(bob, "b1")
	p.Bind(bob, "b2")

	_, ok := p.IdentityOf("b1")
	assert.False(t, ok)
	target, ok := p.NetworkTarget(bob.ID)
	require.True(t, ok)
	assert.Equal(t, "b2", target)

	p.Unbind("b2")
	assert.Empty(t, p.Peers())
}
