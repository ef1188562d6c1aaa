package korvus

import (
	"encoding/json"

	"github.com/korvusdb/korvus-go/internal/wire"
)

// emptyParams is the shared immutable empty-params sentinel used whenever a
// caller does not supply any; it is never mutated, only read.
var emptyParams = []any{}

// Request is a call awaiting a single response, identified by a
// correlation id the client either generates or the caller supplies.
type Request struct {
	ID     string
	Method string
	Params []any

	// Async marks a fire-and-forget request: Send still writes it to the
	// transport, but returns as soon as the write completes instead of
	// registering a waiter and blocking for a correlated response.
	Async bool
}

// Response is the reply to a Request.
type Response struct {
	ID     string
	Result json.RawMessage
	Error  *ResponseError
}

// ResponseError mirrors the error object a response-shaped envelope may
// carry.
type ResponseError struct {
	Code    int32
	Message string
}

// Notify is a server-initiated message sharing a subscription id, delivered
// to whichever waiter (one-shot or persistent) is registered for that id.
type Notify struct {
	ID     string
	Method string
	Params json.RawMessage
}

func toRequestWire(id string, r Request) wire.RequestWire {
	params := r.Params
	if params == nil {
		params = emptyParams
	}
	return wire.RequestWire{ID: id, Async: r.Async, Method: r.Method, Params: params}
}

func responseFromWire(rw wire.ResponseWire) Response {
	resp := Response{ID: rw.ID, Result: rw.Result}
	if rw.Error != nil {
		resp.Error = &ResponseError{Code: rw.Error.Code, Message: rw.Error.Message}
	}
	return resp
}
