package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
)

// WSTransport implements Transport over a client-side *gorilla/websocket.Conn.
// It owns nothing but the connection: dialing, framing, and the close
// handshake. Message reassembly, routing, and waiter lifecycle all live one
// layer up, in the producer/consumer packages.
type WSTransport struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	writeMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	pingStop chan struct{}
}

// New creates a WSTransport that dials url when Open is called. dialer may
// be nil, in which case websocket.DefaultDialer is used.
func New(url string, header http.Header, dialer *websocket.Dialer) *WSTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WSTransport{url: url, header: header, dialer: dialer}
}

// Open dials the server. Open is not idempotent; it is called exactly once
// by the client façade during its own open().
func (t *WSTransport) Open(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return fmt.Errorf("transport: dial: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.closed = false
	t.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	t.pingStop = make(chan struct{})
	go t.pingLoop(conn, t.pingStop)

	return nil
}

func (t *WSTransport) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// WriteMessage writes data as a single text message.
func (t *WSTransport) WriteMessage(ctx context.Context, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if conn == nil || closed {
		return ErrNotOpen
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// NextReader blocks until the next inbound message begins and returns an
// io.Reader over it. gorilla/websocket already reassembles wire-level
// fragments into one logical message; reading from the returned reader in
// chunks is this client's unit of streaming handoff (see DESIGN.md).
func (t *WSTransport) NextReader(ctx context.Context) (io.Reader, error) {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if conn == nil || closed {
		return nil, ErrNotOpen
	}

	_, r, err := conn.NextReader()
	if err != nil {
		return nil, err
	}
	return r, nil
}

// IsCloseError reports whether err represents an ordinary close rather
// than a transport failure worth surfacing.
func (t *WSTransport) IsCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) || websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
	)
}

// Close performs the WebSocket close handshake with code/reason, then
// closes the underlying connection. Close is idempotent.
func (t *WSTransport) Close(ctx context.Context, code int, reason string) error {
	t.mu.Lock()
	conn := t.conn
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.pingStop != nil {
		close(t.pingStop)
	}

	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	t.writeMu.Unlock()

	return conn.Close()
}
