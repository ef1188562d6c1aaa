// Package korvus is a client for the korvus graph/document database's
// JSON-RPC-over-WebSocket protocol.
//
// # Architecture
//
// A Client multiplexes many concurrent requests and subscriptions over a
// single WebSocket connection. Each outbound request carries a correlation
// id; the matching response, however long it takes to arrive and however
// many other messages are interleaved with it, is routed back to the
// caller that issued it. Server-initiated notifications share the same id
// space and are delivered to whichever subscription registered for them.
//
// Internally this is a small duplex pipeline: a send-side producer writes
// serialized requests to the socket, a receive-side producer reassembles
// incoming WebSocket messages into seekable buffers, and a consumer peeks
// just the leading bytes of each one to learn its correlation id before
// deciding where the rest of the message should go. A sliding-expiration
// registry holds the waiter for every in-flight request so a server that
// never replies does not leak memory forever.
//
// # Quick Start
//
//	client, err := korvus.Dial(ctx, "ws://localhost:9090/rpc")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
//	resp, err := client.Send(ctx, korvus.Request{
//	    Method: "query.run",
//	    Params: []any{"FOR d IN docs RETURN d"},
//	})
//
// # Subscriptions
//
//	notifs, cancel, err := client.Notifications("docs/reports")
//	defer cancel()
//	for n := range notifs {
//	    // handle n.Method / n.Params
//	}
//
// # Errors
//
// Every failure this package returns is an *Error; compare against the
// Err* sentinel values with errors.Is.
package korvus
