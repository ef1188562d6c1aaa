package korvus

import "fmt"

// ErrorKind classifies the failures this client's public API can return.
type ErrorKind int

const (
	// KindNotOpen means the client has not been opened, or was already
	// closed, when an operation requiring an open connection was called.
	KindNotOpen ErrorKind = iota + 1
	// KindAlreadyOpen classifies an attempt to open a client that is
	// already open. Client has no exported Open method (Dial and New open
	// it exactly once), so no API in this package returns KindAlreadyOpen.
	KindAlreadyOpen
	// KindTransport means the underlying WebSocket failed or was closed
	// unexpectedly; the pipeline is dead and must be reopened.
	KindTransport
	// KindCanceled means the caller's context, or the client closing out
	// from under a pending Send, ended the wait early.
	KindCanceled
	// KindProtocol covers the JSON-RPC-level failures in ProtocolSubKind.
	KindProtocol
	// KindCapacity is reserved for capacity-related failures. The send side
	// has no queue, and a full inbound queue suspends the receive loop
	// rather than failing, so nothing in this client returns KindCapacity;
	// it exists so callers can exhaustively switch on ErrorKind.
	KindCapacity
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotOpen:
		return "not_open"
	case KindAlreadyOpen:
		return "already_open"
	case KindTransport:
		return "transport"
	case KindCanceled:
		return "canceled"
	case KindProtocol:
		return "protocol"
	case KindCapacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// ProtocolSubKind distinguishes the specific protocol-level failures that
// share KindProtocol.
type ProtocolSubKind int

const (
	// ProtocolNone is the zero value: no protocol sub-kind applies.
	ProtocolNone ProtocolSubKind = iota
	// ProtocolExpectedResponseGotNotify means a waiter registered for a
	// request/response exchange was dispatched a notify-shaped message.
	ProtocolExpectedResponseGotNotify
	// ProtocolInvalidResponse means the dispatched header had neither a
	// response shape nor a notify shape, or its body failed to decode. Send
	// also returns it when the request itself cannot be encoded as JSON.
	ProtocolInvalidResponse
	// ProtocolDuplicateCorrelationId means Send generated or was given an
	// id that already had a waiter registered.
	ProtocolDuplicateCorrelationId
)

// Error is the concrete error type every public API in this package
// returns. It wraps an optional underlying cause and is usable with
// errors.Is/errors.As.
type Error struct {
	Kind ErrorKind
	Sub  ProtocolSubKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("korvus: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("korvus: %s: %s", e.Op, e.Kind)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind (and, when
// target specifies one, the same Sub). This lets callers write
// errors.Is(err, korvus.ErrNotOpen) against the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Sub != ProtocolNone && t.Sub != e.Sub {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(op string, kind ErrorKind, sub ProtocolSubKind, cause error) *Error {
	return &Error{Kind: kind, Sub: sub, Op: op, Err: cause}
}

// Sentinel values for use with errors.Is. Only Kind (and Sub, where
// present) are compared.
var (
	ErrNotOpen                   = &Error{Kind: KindNotOpen}
	ErrAlreadyOpen               = &Error{Kind: KindAlreadyOpen}
	ErrTransport                 = &Error{Kind: KindTransport}
	ErrCanceled                  = &Error{Kind: KindCanceled}
	ErrExpectedResponseGotNotify = &Error{Kind: KindProtocol, Sub: ProtocolExpectedResponseGotNotify}
	ErrInvalidResponse           = &Error{Kind: KindProtocol, Sub: ProtocolInvalidResponse}
	ErrDuplicateCorrelationId    = &Error{Kind: KindProtocol, Sub: ProtocolDuplicateCorrelationId}
)
