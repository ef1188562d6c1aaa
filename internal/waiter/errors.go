package waiter

import "errors"

// ErrReleased is returned by Wait when the waiter was released before a
// message arrived: TTL eviction, explicit unregistration, or the owning
// connection closing.
var ErrReleased = errors.New("waiter: released before dispatch")

// ErrCanceledByCaller is returned by Wait when the caller's own done
// channel (typically derived from a context) fired first.
var ErrCanceledByCaller = errors.New("waiter: canceled by caller")
