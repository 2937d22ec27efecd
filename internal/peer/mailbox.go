package peer

import "sync"

// mailbox is the unbounded inbound FIFO of an endpoint.
//
// Senders never block on a slow receiver, so two peers replying to each
// other from inside their delivery loops cannot deadlock. The signal
// channel lets the delivery loop wait together with a stop channel.
type mailbox struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	signal chan struct{} // buffered, size 1
}

func newMailbox() *mailbox {
	return &mailbox{
		items:  make([][]byte, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// put appends data. Returns false once the mailbox is closed.
func (b *mailbox) put(data []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.items = append(b.items, data)
	select {
	case b.signal <- struct{}{}:
	default:
	}
	return true
}

// take removes the oldest item without blocking.
func (b *mailbox) take() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil, false
	}
	data := b.items[0]
	b.items[0] = nil
	if len(b.items) == 1 {
		b.items = b.items[:0]
	} else {
		b.items = b.items[1:]
	}
	return data, true
}

func (b *mailbox) wait() <-chan struct{} {
	return b.signal
}

func (b *mailbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// close rejects further puts. Items already queued stay readable.
func (b *mailbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
