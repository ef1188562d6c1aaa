package producer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/korvusdb/korvus-go/internal/bufpool"
	"github.com/korvusdb/korvus-go/internal/framereader"
	"github.com/korvusdb/korvus-go/internal/transport"
)

// ErrAlreadyOpen is returned by Open when the receive loop is already
// running.
var ErrAlreadyOpen = errors.New("txproducer: already open")

// TxProducer owns the transport's receive side. Between Open and Close it
// runs exactly one background goroutine that reads one logical message at
// a time, publishing a FrameReader to Out as soon as the first chunk
// arrives so the consumer can begin header inspection before the message
// has finished arriving.
type TxProducer struct {
	transport       transport.Transport
	pool            *bufpool.Pool
	out             chan<- *framereader.FrameReader
	messageSizeHint int
	metrics         Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// err is the terminal error the receive loop stopped with, if any
	// other than cancellation or an ordinary transport close.
	errMu sync.Mutex
	err   error
}

// NewTx creates a TxProducer that reads from t, rents blocks from pool, and
// publishes each message's FrameReader to out. messageSizeHint pre-sizes
// each FrameReader's backing blocks slice so a typically-sized message
// never needs to reallocate it; it is advisory and has no effect on
// correctness. metrics may be nil.
func NewTx(t transport.Transport, pool *bufpool.Pool, out chan<- *framereader.FrameReader, messageSizeHint int, metrics Metrics) *TxProducer {
	return &TxProducer{transport: t, pool: pool, out: out, messageSizeHint: messageSizeHint, metrics: metrics}
}

// Open starts the receive loop. It fails with ErrAlreadyOpen if already
// running.
func (p *TxProducer) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyOpen
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go p.receiveLoop(loopCtx)
	return nil
}

// Close requests cancellation and awaits the receive loop's termination.
// It swallows the loop's own cancellation error and ordinary
// transport-closed errors; any other failure is returned.
func (p *TxProducer) Close() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	// The receive loop has fully exited, so p.out has no other sender left.
	// Closing it marks the queue complete, letting the consumer's dispatch
	// loop drain whatever is still buffered and then stop on its own
	// instead of relying solely on context cancellation.
	close(p.out)

	p.errMu.Lock()
	err := p.err
	p.errMu.Unlock()
	return err
}

func (p *TxProducer) setErr(err error) {
	p.errMu.Lock()
	p.err = err
	p.errMu.Unlock()
}

func (p *TxProducer) receiveLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.receiveOneMessage(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if p.transport.IsCloseError(err) {
				return
			}
			p.setErr(fmt.Errorf("txproducer: %w", err))
			return
		}
	}
}

// receiveOneMessage reads exactly one logical message, publishing its
// FrameReader to Out before the message necessarily finishes arriving.
func (p *TxProducer) receiveOneMessage(ctx context.Context) error {
	r, err := p.transport.NextReader(ctx)
	if err != nil {
		return err
	}

	fr := framereader.NewSized(p.pool, p.messageSizeHint)

	// Publish before the message necessarily finishes arriving: this is
	// the streaming handoff that lets the consumer start peeking the
	// header off the first chunk instead of waiting for the whole
	// message. FrameReader.WaitBytes is what makes this safe — nothing
	// reads from fr until enough bytes for a header peek have arrived
	// (or the message has fully terminated, if it was shorter).
	select {
	case p.out <- fr:
	case <-ctx.Done():
		fr.Close()
		return ctx.Err()
	}

	buf := p.pool.Get()
	defer p.pool.Put(buf)

	// Once published, fr is owned by the consumer; any early return below
	// must still close it so a consumer blocked in WaitBytes (or mid-read
	// of a never-completed message) is unblocked rather than hanging
	// forever on a message that will never arrive.
	for {
		select {
		case <-ctx.Done():
			fr.Close()
			return ctx.Err()
		default:
		}

		n, readErr := r.Read(buf)
		end := errors.Is(readErr, io.EOF)

		if n > 0 || end {
			if err := fr.Append(buf[:n], end); err != nil {
				if errors.Is(err, framereader.ErrClosed) {
					// The consumer discarded the message before it finished
					// arriving; the next NextReader call moves past the rest.
					return nil
				}
				fr.Close()
				return fmt.Errorf("append: %w", err)
			}
		}

		if end {
			if p.metrics != nil {
				p.metrics.MessageReceived()
			}
			return nil
		}
		if readErr != nil {
			fr.Close()
			return readErr
		}
	}
}
