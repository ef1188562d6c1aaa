// Package framereader implements the append-only, seekable byte stream that
// reassembles one logical WebSocket message out of the chunks the receive
// loop hands it, while it is still arriving.
package framereader

import (
	"errors"
	"io"
	"sync"

	"github.com/korvusdb/korvus-go/internal/bufpool"
)

var (
	// ErrAlreadyTerminal is returned by Append after EndOfMessage has
	// already been observed.
	ErrAlreadyTerminal = errors.New("framereader: append after end of message")
	// ErrClosed is returned by any operation performed after Close.
	ErrClosed = errors.New("framereader: use after close")
)

// FrameReader reassembles the chunks of one logical message into a
// seekable, append-only buffer backed by fixed-size blocks rented from a
// shared pool. It is safe for one writer (the receive loop) and one reader
// at a time; ownership transfers by hand-off, never by sharing.
type FrameReader struct {
	pool   *bufpool.Pool
	mu     sync.Mutex
	blocks [][]byte
	length int64
	closed bool

	terminal    bool
	firstAppend sync.Once
	firstReady  chan struct{}

	// notifyCh is closed and replaced every time length or terminal
	// changes, letting WaitBytes re-check its condition each time more
	// bytes arrive instead of only once, like firstReady does.
	notifyCh chan struct{}
}

// New creates an empty FrameReader drawing blocks from pool.
func New(pool *bufpool.Pool) *FrameReader {
	return NewSized(pool, 0)
}

// NewSized creates an empty FrameReader drawing blocks from pool, with its
// backing blocks slice pre-allocated to fit sizeHint bytes without
// reallocation. sizeHint is advisory only: Append still grows the slice on
// demand if the message turns out larger, and a non-positive sizeHint
// behaves exactly like New.
func NewSized(pool *bufpool.Pool, sizeHint int) *FrameReader {
	fr := &FrameReader{
		pool:       pool,
		firstReady: make(chan struct{}),
		notifyCh:   make(chan struct{}),
	}
	if sizeHint > 0 {
		blockSize := pool.BlockSize()
		nBlocks := (sizeHint + blockSize - 1) / blockSize
		fr.blocks = make([][]byte, 0, nBlocks)
	}
	return fr
}

// Append adds the bytes of one received chunk to the stream. If end is
// true, the stream transitions to its terminal, immutable state. Calling
// Append again after a terminal Append returns ErrAlreadyTerminal.
func (f *FrameReader) Append(data []byte, end bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if f.terminal {
		return ErrAlreadyTerminal
	}

	for len(data) > 0 {
		blockSize := f.pool.BlockSize()
		offsetInLast := int(f.length) % blockSize
		if offsetInLast == 0 {
			f.blocks = append(f.blocks, f.pool.Get())
		}
		last := f.blocks[len(f.blocks)-1]
		n := copy(last[offsetInLast:], data)
		data = data[n:]
		f.length += int64(n)
	}

	if end {
		f.terminal = true
	}

	f.firstAppend.Do(func() { close(f.firstReady) })
	f.wakeWaitersLocked()
	return nil
}

// wakeWaitersLocked closes the current notifyCh and installs a fresh one,
// waking anyone blocked in WaitBytes so it can re-check length/terminal.
// Callers must hold f.mu.
func (f *FrameReader) wakeWaitersLocked() {
	close(f.notifyCh)
	f.notifyCh = make(chan struct{})
}

// WaitFirstAppend blocks until the first Append has happened, the reader is
// closed, or doneCh fires, whichever comes first.
func (f *FrameReader) WaitFirstAppend(doneCh <-chan struct{}) error {
	select {
	case <-f.firstReady:
		return nil
	case <-doneCh:
		return errors.New("framereader: cancelled waiting for first append")
	}
}

// WaitBytes blocks until at least n bytes have been appended, the stream has
// reached its terminal state, the reader is closed, or doneCh fires,
// whichever comes first. Unlike WaitFirstAppend's one-shot ≥1-byte
// guarantee, WaitBytes re-checks its condition every time more data arrives,
// so it is safe to use when a caller needs a minimum amount of data (such as
// a full header) that may be split across several Append calls.
func (f *FrameReader) WaitBytes(n int64, doneCh <-chan struct{}) error {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return ErrClosed
		}
		if f.length >= n || f.terminal {
			f.mu.Unlock()
			return nil
		}
		ch := f.notifyCh
		f.mu.Unlock()

		select {
		case <-ch:
		case <-doneCh:
			return errors.New("framereader: cancelled waiting for bytes")
		}
	}
}

// ReadAt implements io.ReaderAt: a random-access read that never advances
// any internal cursor, so callers can peek without disturbing later reads.
func (f *FrameReader) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, errors.New("framereader: negative offset")
	}
	if off >= f.length {
		return 0, io.EOF
	}

	blockSize := int64(f.pool.BlockSize())
	total := 0
	for total < len(p) && off < f.length {
		blockIdx := off / blockSize
		blockOff := off % blockSize
		block := f.blocks[blockIdx]
		avail := f.length - off
		n := copy(p[total:], block[blockOff:min64(blockSize, blockOff+avail)])
		total += n
		off += int64(n)
	}

	var err error
	if total < len(p) {
		err = io.EOF
	}
	return total, err
}

// Len returns the current accumulated byte count.
func (f *FrameReader) Len() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.length
}

// Terminal reports whether an end-of-message Append has been observed.
func (f *FrameReader) Terminal() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminal
}

// Reader returns a sequential io.Reader over the stream starting at offset
// zero, suitable for full-body JSON decoding after the header has been
// peeked with ReadAt.
func (f *FrameReader) Reader() io.Reader {
	return &sequentialReader{fr: f}
}

// Close returns all backing blocks to the pool. Subsequent operations fail
// with ErrClosed. Close is idempotent.
func (f *FrameReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	for _, b := range f.blocks {
		f.pool.Put(b)
	}
	f.blocks = nil

	// Unblock anyone waiting for the first append: a reader closed
	// (aborted) before it ever received data has nothing coming.
	f.firstAppend.Do(func() { close(f.firstReady) })
	close(f.notifyCh)
	return nil
}

// Closed reports whether Close has already been called.
func (f *FrameReader) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type sequentialReader struct {
	fr  *FrameReader
	off int64
}

func (r *sequentialReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// Block until at least one unread byte exists or the message has
	// terminated, so a body decode that starts mid-message sees io.EOF only
	// at the real end of the message.
	if err := r.fr.WaitBytes(r.off+1, nil); err != nil {
		return 0, err
	}
	n, err := r.fr.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 && !r.fr.Terminal() {
		err = nil
	}
	return n, err
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
