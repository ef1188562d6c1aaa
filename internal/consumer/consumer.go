// Package consumer implements TxConsumer: draining the inbound queue,
// peeking each message's header without consuming its body, and routing it
// to the waiter registered for its correlation id.
package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/korvusdb/korvus-go/internal/framereader"
	"github.com/korvusdb/korvus-go/internal/ttlcache"
	"github.com/korvusdb/korvus-go/internal/waiter"
	"github.com/korvusdb/korvus-go/internal/wire"
)

// ErrAlreadyOpen is returned by Open when the dispatch loop is already
// running.
var ErrAlreadyOpen = errors.New("txconsumer: already open")

// Metrics is the minimal counters interface TxConsumer reports through;
// callers wire their own exporter behind it. A nil Metrics is treated as a
// no-op.
type Metrics interface {
	MessageDropped(reason string)
	WaiterRegistered()
	WaiterDispatched()
	WaiterEvicted()
}

// Logger is the minimal structured-logging surface TxConsumer uses; it is
// satisfied by *zerolog.Logger through the small adapter in the root
// package, keeping this package free of a direct zerolog dependency.
type Logger interface {
	Debugf(format string, args ...any)
}

// TxConsumer owns the TTL cache exclusively and drains the inbound queue,
// dispatching each FrameReader to the waiter registered for its
// correlation id, or discarding it if none matches.
type TxConsumer struct {
	in             <-chan *framereader.FrameReader
	headerBytesMax int
	cache          *ttlcache.Cache
	metrics        Metrics
	log            Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a TxConsumer draining in, with waiters kept for
// slidingExpiration and swept every evictionInterval.
func New(in <-chan *framereader.FrameReader, headerBytesMax int, slidingExpiration, evictionInterval time.Duration, metrics Metrics, log Logger) *TxConsumer {
	if headerBytesMax <= 0 {
		headerBytesMax = 512
	}
	c := &TxConsumer{
		in:             in,
		headerBytesMax: headerBytesMax,
		metrics:        metrics,
		log:            log,
	}
	c.cache = ttlcache.New(slidingExpiration, evictionInterval, func(w *waiter.Waiter) {
		c.debugf("evicted stale waiter %q", w.ID)
		c.metric(func() { c.metrics.WaiterEvicted() })
	})
	return c
}

// Register inserts waiter; it returns false if its id already has a
// waiter registered.
func (c *TxConsumer) Register(w *waiter.Waiter) bool {
	ok := c.cache.TryAdd(w.ID, w)
	if ok {
		c.metric(func() { c.metrics.WaiterRegistered() })
	}
	return ok
}

// Unregister removes and releases the waiter for id, if any.
func (c *TxConsumer) Unregister(id string) {
	c.cache.TryRemove(id)
}

func (c *TxConsumer) metric(f func()) {
	if c.metrics != nil {
		f()
	}
}

func (c *TxConsumer) debugf(format string, args ...any) {
	if c.log != nil {
		c.log.Debugf(format, args...)
	}
}

// Open starts the dispatch loop. Fails with ErrAlreadyOpen if already
// running.
func (c *TxConsumer) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyOpen
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.dispatchLoop(loopCtx)
	return nil
}

// Close requests cancellation, awaits the dispatch loop's termination, and
// releases every waiter still registered in the TTL cache — this is what
// turns "close during a pending send" into that send observing
// cancellation rather than hanging forever.
func (c *TxConsumer) Close() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.cache.Close()
		return nil
	}
	cancel := c.cancel
	c.running = false
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	c.cache.Close()
	return nil
}

func (c *TxConsumer) dispatchLoop(ctx context.Context) {
	defer c.wg.Done()

	done := ctx.Done()
	for {
		var fr *framereader.FrameReader
		select {
		case r, ok := <-c.in:
			if !ok {
				// Queue marked complete: the producer stopped, so the
				// transport is gone and there is nothing left to dispatch.
				return
			}
			fr = r
		case <-done:
			return
		}

		c.handleOne(done, fr)
	}
}

func (c *TxConsumer) handleOne(done <-chan struct{}, fr *framereader.FrameReader) {
	// Wait for a full header's worth of bytes, not merely the first
	// Append: a fragmented message can split its header across multiple
	// WebSocket frames, and peeking at whatever happened to arrive first
	// would wrongly drop it as headerless.
	if err := fr.WaitBytes(int64(c.headerBytesMax), done); err != nil {
		fr.Close()
		return
	}

	peekLen := c.headerBytesMax
	if avail := fr.Len(); avail < int64(peekLen) {
		peekLen = int(avail)
	}
	buf := make([]byte, peekLen)
	if _, err := fr.ReadAt(buf, 0); err != nil && peekLen > 0 {
		// Truncated/unreadable peek window; treat like any other
		// malformed header.
	}

	header, ok := wire.PeekHeader(buf, c.headerBytesMax)
	if !ok {
		c.debugf("discarding message with no id in its header")
		c.metric(func() { c.metrics.MessageDropped("no-id") })
		fr.Close()
		return
	}

	w, ok := c.cache.TryGet(header.ID)
	if !ok {
		c.debugf("discarding unclaimed message for id %q", header.ID)
		c.metric(func() { c.metrics.MessageDropped("unknown-id") })
		fr.Close()
		return
	}

	if w.Canceled() {
		c.cache.TryRemove(header.ID)
		c.metric(func() { c.metrics.WaiterEvicted() })
		fr.Close()
		return
	}

	delivered := w.Dispatch(waiter.Delivery{Header: header, Reader: fr})
	if !delivered {
		c.metric(func() { c.metrics.MessageDropped("waiter-channel-full") })
		fr.Close()
	} else {
		c.metric(func() { c.metrics.WaiterDispatched() })
	}

	if !w.Persistent {
		c.cache.TryRemove(header.ID)
	}
}

// CacheLen reports how many waiters are currently registered; used by
// tests and metrics.
func (c *TxConsumer) CacheLen() int {
	return c.cache.Len()
}
