// Package producer implements the send-side (RxProducer) and receive-side
// (TxProducer) halves of the duplex pipeline: RxProducer owns the
// transport's send side, TxProducer owns its receive side.
package producer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/korvusdb/korvus-go/internal/transport"
	"golang.org/x/time/rate"
)

// ErrNotOpen is returned by Send when the producer has not been opened.
var ErrNotOpen = errors.New("rxproducer: not open")

// Metrics is the minimal counters interface the producer half of the
// pipeline reports through; callers wire their own exporter behind it. A
// nil Metrics is treated as a no-op.
type Metrics interface {
	MessageSent()
	MessageReceived()
}

// RxProducer owns the transport's send side. It allocates no background
// task: serialization and sending happen on the caller's goroutine. Send may
// be called from several goroutines at once; the transport keeps its
// single-writer invariant by serializing WriteMessage calls itself.
type RxProducer struct {
	transport transport.Transport
	limiter   *rate.Limiter
	metrics   Metrics

	mu   sync.Mutex
	open bool
}

// NewRx creates an RxProducer over transport. limiter may be nil to disable
// outbound throttling. metrics may be nil.
func NewRx(t transport.Transport, limiter *rate.Limiter, metrics Metrics) *RxProducer {
	return &RxProducer{transport: t, limiter: limiter, metrics: metrics}
}

// Open marks the producer ready to send. Idempotent.
func (p *RxProducer) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	return nil
}

// Close marks the producer no longer ready to send. Idempotent.
func (p *RxProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

// Send writes data as one complete WebSocket message. It fails with
// ErrNotOpen if the transport is not connected, or wraps the transport
// error otherwise. If an outbound rate limiter is configured, Send blocks
// (subject to ctx) until a token is available.
func (p *RxProducer) Send(ctx context.Context, data []byte) error {
	p.mu.Lock()
	open := p.open
	p.mu.Unlock()
	if !open {
		return ErrNotOpen
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rxproducer: rate limit wait: %w", err)
		}
	}

	if err := p.transport.WriteMessage(ctx, data); err != nil {
		return fmt.Errorf("rxproducer: transport: %w", err)
	}
	if p.metrics != nil {
		p.metrics.MessageSent()
	}
	return nil
}
