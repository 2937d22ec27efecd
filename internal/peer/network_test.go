package peer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hgpeer/internal/message"
)

// collector is an Inbox that keeps what it receives.
type collector struct {
	mu   sync.Mutex
	msgs []message.Message
}

func (c *collector) inbox(ctx context.Context, msg message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) received() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.Message(nil), c.msgs...)
}

func (c *collector) waitFor(t *testing.T, n int) []message.Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.received()) >= n }, 2*time.Second, time.Millisecond)
	return c.received()
}

func startEndpoint(t *testing.T, n *Network, addr string) (*Endpoint, *collector) {
	t.Helper()
	e, err := n.Endpoint(addr)
	require.NoError(t, err)
	c := &collector{}
	require.NoError(t, e.Start(context.Background(), c.inbox))
	t.Cleanup(func() { _ = e.Close() })
	return e, c
}

func TestNetwork_EndpointRejectsDuplicates(t *testing.T) {
	n := NewNetwork()
	_, err := n.Endpoint("a")
	require.NoError(t, err)

	_, err = n.Endpoint("a")
	assert.Error(t, err)
	_, err = n.Endpoint("")
	assert.Error(t, err)
}

func TestEndpoint_SendStampsReplyTo(t *testing.T) {
	n := NewNetwork()
	a, _ := startEndpoint(t, n, "a")
	_, inboxB := startEndpoint(t, n, "b")

	msg := message.New(message.Request).
		Set(message.FieldConversationID, "c-1").
		Set(message.FieldContent, map[string]any{"n": 3})
	require.NoError(t, a.Send(context.Background(), "b", msg))

	got := inboxB.waitFor(t, 1)[0]
	assert.Equal(t, "a", got.ReplyTo())
	assert.Equal(t, message.Request, got.Performative())
	assert.Equal(t, "c-1", got.ConversationID())
	// The caller's message is not modified.
	assert.False(t, msg.Has(message.FieldReplyTo))
}

func TestEndpoint_DeliversInOrder(t *testing.T) {
	n := NewNetwork()
	a, _ := startEndpoint(t, n, "a")
	_, inboxB := startEndpoint(t, n, "b")

	ids := []string{"1", "2", "3", "4", "5"}
	for _, id := range ids {
		require.NoError(t, a.Send(context.Background(), "b", message.New(message.Inform).Set(message.FieldConversationID, id)))
	}

	got := inboxB.waitFor(t, len(ids))
	for i, msg := range got {
		assert.Equal(t, ids[i], msg.ConversationID())
	}
}

func TestEndpoint_SendUnknownTarget(t *testing.T) {
	n := NewNetwork()
	a, _ := startEndpoint(t, n, "a")

	err := a.Send(context.Background(), "nowhere", message.New(message.Inform))
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestEndpoint_SendRejectsUnencodable(t *testing.T) {
	n := NewNetwork()
	a, _ := startEndpoint(t, n, "a")
	startEndpoint(t, n, "b")

	err := a.Send(context.Background(), "b", message.New(message.Inform).Set(message.FieldContent, 1.5))
	assert.Error(t, err)
}

func TestEndpoint_Broadcast(t *testing.T) {
	n := NewNetwork()
	a, inboxA := startEndpoint(t, n, "a")
	_, inboxB := startEndpoint(t, n, "b")
	_, inboxC := startEndpoint(t, n, "c")

	require.NoError(t, a.Broadcast(context.Background(), message.New(message.Inform)))

	inboxB.waitFor(t, 1)
	inboxC.waitFor(t, 1)
	assert.Empty(t, inboxA.received())
	assert.Equal(t, []string{"a", "b", "c"}, n.Addresses())
}

func TestEndpoint_Presence(t *testing.T) {
	n := NewNetwork()
	a, err := n.Endpoint("a")
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		events []string
	)
	a.AddPresenceListener(func(target string, joined bool) {
		mu.Lock()
		defer mu.Unlock()
		if joined {
			events = append(events, "+"+target)
		} else {
			events = append(events, "-"+target)
		}
	})
	require.NoError(t, a.Start(context.Background(), func(context.Context, message.Message) {}))
	t.Cleanup(func() { _ = a.Close() })

	b, _ := startEndpoint(t, n, "b")
	require.NoError(t, b.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"+b", "-b"}, events)
	assert.Equal(t, []string{"a"}, n.Addresses())
}

func TestEndpoint_ClosedRejectsTraffic(t *testing.T) {
	n := NewNetwork()
	a, _ := startEndpoint(t, n, "a")
	b, _ := startEndpoint(t, n, "b")
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err := a.Send(context.Background(), "b", message.New(message.Inform))
	assert.ErrorIs(t, err, ErrUnknownTarget)
	err = b.Send(context.Background(), "a", message.New(message.Inform))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Start(context.Background(), nil), ErrClosed)
}

func TestMailbox_FIFO(t *testing.T) {
	b := newMailbox()
	require.True(t, b.put([]byte("1")))
	require.True(t, b.put([]byte("2")))

	got, ok := b.take()
	require.True(t, ok)
	assert.Equal(t, "1", string(got))
	got, ok = b.take()
	require.True(t, ok)
	assert.Equal(t, "2", string(got))
	_, ok = b.take()
	assert.False(t, ok)

	b.close()
	assert.False(t, b.put([]byte("3")))
}
