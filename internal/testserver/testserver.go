// Package testserver implements a minimal JSON-RPC-over-WebSocket server
// used only by this module's own integration tests, to exercise Client
// against something that behaves like a real korvus server without
// depending on one being reachable.
//
// Its accept loop and per-connection goroutine structure are adapted from
// the connection bookkeeping this repository's transport layer grew out
// of: one upgrade per incoming request, one reader goroutine per
// connection, handlers dispatched asynchronously so a slow handler never
// blocks the read loop.
package testserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/korvusdb/korvus-go/internal/wire"
)

// Handler answers one request, returning either a result or an error
// record to send back.
type Handler func(params []any) (json.RawMessage, *wire.ErrorRecord)

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Server is a tiny JSON-RPC WebSocket server for tests: it upgrades every
// request to the same handler set, and lets tests push unsolicited
// notifications to every connected client.
type Server struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	handlers map[string]Handler
	conns    map[*conn]struct{}
}

// New creates a Server with no registered handlers.
func New() *Server {
	return &Server{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		handlers: make(map[string]Handler),
		conns:    make(map[*conn]struct{}),
	}
}

// Handle registers h for method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// ServeHTTP upgrades the connection and runs its read loop until the peer
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		go s.handleOne(c, data)
	}
}

func (s *Server) handleOne(c *conn, data []byte) {
	var req wire.RequestWire
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	s.mu.Lock()
	h, ok := s.handlers[req.Method]
	s.mu.Unlock()

	var resp wire.ResponseWire
	resp.ID = req.ID
	if !ok {
		resp.Error = &wire.ErrorRecord{Code: -32601, Message: "method not found"}
	} else {
		result, errRec := h(req.Params)
		resp.Result = result
		resp.Error = errRec
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.write(out)
}

// Notify pushes an unsolicited notification to every connected client.
func (s *Server) Notify(ctx context.Context, id, method string, params []any) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return
	}
	nw := struct {
		ID     string          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params,omitempty"`
	}{ID: id, Method: method, Params: paramsJSON}

	out, err := json.Marshal(nw)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.write(out)
	}
}
