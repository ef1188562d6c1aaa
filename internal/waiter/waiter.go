// Package waiter implements the registered consumer of a future inbound
// message: a handler waiting on one correlation id, one-shot or persistent.
package waiter

import (
	"sync"
	"sync/atomic"

	"github.com/korvusdb/korvus-go/internal/framereader"
	"github.com/korvusdb/korvus-go/internal/wire"
)

// Delivery is what the dispatch loop hands to a matched waiter: the
// already-peeked header plus the FrameReader to decode the body from.
type Delivery struct {
	Header wire.Header
	Reader *framereader.FrameReader
}

// Waiter is a registered consumer for inbound messages carrying a given
// correlation id. At most one Waiter per id exists in the TTL cache at a
// time; a non-persistent Waiter is removed after its first dispatch.
type Waiter struct {
	ID         string
	Persistent bool

	deliveries chan Delivery
	canceled   atomic.Bool
	releaseOne sync.Once
	doneCh     chan struct{}
}

// New creates a Waiter for id. capacity sizes the delivery channel:
// one-shot waiters need only 1, persistent (subscription-style) waiters
// are given a small backlog so a burst of notifications does not stall the
// dispatch loop.
func New(id string, persistent bool, capacity int) *Waiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Waiter{
		ID:         id,
		Persistent: persistent,
		deliveries: make(chan Delivery, capacity),
		doneCh:     make(chan struct{}),
	}
}

// Canceled reports whether Release has already been called — either by
// explicit cancellation, TTL eviction, or unregistration. The dispatch loop
// consults this immediately before attempting to dispatch so that a waiter
// whose caller has walked away is discarded rather than blocked on.
func (w *Waiter) Canceled() bool {
	return w.canceled.Load()
}

// Dispatch attempts to hand a Delivery to the waiter. It returns false
// (and hands nothing) if the waiter was already canceled or if its
// delivery channel is full (only possible for a persistent waiter that is
// not being drained fast enough).
func (w *Waiter) Dispatch(d Delivery) bool {
	if w.canceled.Load() {
		return false
	}
	select {
	case w.deliveries <- d:
		return true
	default:
		return false
	}
}

// Release is the TTL cache's / consumer's single release hook: it is safe
// to call from exactly one of (explicit unregister, TTL sweep eviction,
// post-dispatch cleanup, connection close) and is idempotent, so calling it
// from more than one of those paths for the same waiter is harmless.
func (w *Waiter) Release() {
	w.releaseOne.Do(func() {
		w.canceled.Store(true)
		close(w.doneCh)
	})
}

// Wait blocks until a Delivery arrives, the waiter is released (evicted,
// unregistered, or the connection closed), or ctxDone fires. A Delivery
// already sitting in the channel always wins over a concurrent Release: a
// successful Dispatch must never be reported as ErrReleased.
func (w *Waiter) Wait(ctxDone <-chan struct{}) (Delivery, error) {
	select {
	case d := <-w.deliveries:
		return d, nil
	default:
	}

	select {
	case d := <-w.deliveries:
		return d, nil
	case <-w.doneCh:
		select {
		case d := <-w.deliveries:
			return d, nil
		default:
		}
		return Delivery{}, ErrReleased
	case <-ctxDone:
		return Delivery{}, ErrCanceledByCaller
	}
}

// Notifications returns the channel of persistent deliveries for
// subscription-style waiters. Release does not close this channel; callers
// receive from it in a select together with Done to stop once the waiter is
// released.
func (w *Waiter) Notifications() <-chan Delivery {
	return w.deliveries
}

// Done returns the channel closed exactly once, by Release.
func (w *Waiter) Done() <-chan struct{} {
	return w.doneCh
}
