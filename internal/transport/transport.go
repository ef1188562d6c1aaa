// Package transport abstracts the byte-frame duplex channel the pipeline
// runs over, so the producer/consumer machinery never depends directly on
// a specific WebSocket library.
package transport

import (
	"context"
	"errors"
	"io"
)

// ErrNotOpen is returned by WriteMessage/NextReader when the transport has not
// been opened, or has already been closed.
var ErrNotOpen = errors.New("transport: not open")

// Transport is an abstract byte-frame duplex channel: a single-writer send
// side, a single-reader receive side, and a close handshake.
type Transport interface {
	// Open establishes the underlying connection.
	Open(ctx context.Context) error
	// Close performs the transport's close handshake and releases the
	// underlying connection. Close is idempotent.
	Close(ctx context.Context, code int, reason string) error
	// WriteMessage writes data as one complete message on the send side.
	// It may be called from several goroutines at once; implementations
	// serialize the writes so the connection has a single writer.
	WriteMessage(ctx context.Context, data []byte) error
	// NextReader blocks until the next inbound message begins, then
	// returns an io.Reader over that message's bytes. The reader may
	// yield bytes incrementally as more of the message arrives; io.EOF
	// marks the end of that one logical message.
	NextReader(ctx context.Context) (io.Reader, error)
	// IsCloseError reports whether err, returned from NextReader or
	// WriteMessage, represents the peer (or us) closing the connection
	// in the ordinary way.
	IsCloseError(err error) bool
}
