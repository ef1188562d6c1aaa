package transport

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrMemClosed is returned by MemTransport operations after Close.
var ErrMemClosed = errors.New("transport: mem transport closed")

// MemTransport is an in-memory Transport used by tests to drive the
// producer/consumer pipeline without a real network connection. Inbound
// messages are injected with Inject; outbound messages written via
// WriteMessage are observable on Sent.
type MemTransport struct {
	mu     sync.Mutex
	closed bool
	inbox  chan io.Reader
	Sent   chan []byte
}

// NewMem creates a MemTransport with the given inbound queue depth.
func NewMem(inboxCapacity int) *MemTransport {
	return &MemTransport{
		inbox: make(chan io.Reader, inboxCapacity),
		Sent:  make(chan []byte, inboxCapacity),
	}
}

func (m *MemTransport) Open(ctx context.Context) error { return nil }

func (m *MemTransport) Close(ctx context.Context, code int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.inbox)
	return nil
}

func (m *MemTransport) WriteMessage(ctx context.Context, data []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrMemClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case m.Sent <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemTransport) NextReader(ctx context.Context) (io.Reader, error) {
	select {
	case r, ok := <-m.inbox:
		if !ok {
			return nil, io.EOF
		}
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *MemTransport) IsCloseError(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, ErrMemClosed)
}

// Inject enqueues an inbound message for the receive loop to read,
// optionally in multiple chunks to simulate fragmentation.
func (m *MemTransport) Inject(r io.Reader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.inbox <- r
}
