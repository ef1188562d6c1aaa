package korvus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/korvusdb/korvus-go/internal/bufpool"
	"github.com/korvusdb/korvus-go/internal/consumer"
	"github.com/korvusdb/korvus-go/internal/framereader"
	"github.com/korvusdb/korvus-go/internal/producer"
	"github.com/korvusdb/korvus-go/internal/transport"
	"github.com/korvusdb/korvus-go/internal/waiter"
	"github.com/korvusdb/korvus-go/internal/wire"
)

// Client is the korvus database's JSON-RPC-over-WebSocket façade. It owns
// the duplex message pipeline: RxProducer for sending, TxProducer for
// receiving, and a TxConsumer that peeks each inbound message's header and
// routes it to the waiter registered for its correlation id. Construct one
// with Dial or New; a Client is safe for concurrent use by multiple
// goroutines once Dial or New has returned.
type Client struct {
	cfg       *config
	sessionID uuid.UUID
	transport transport.Transport
	pool      *bufpool.Pool
	logger    zerolog.Logger

	rx *producer.RxProducer
	tx *producer.TxProducer
	cn *consumer.TxConsumer

	rxQueue chan *framereader.FrameReader

	mu     sync.Mutex
	isOpen bool
}

// Dial opens a WebSocket connection to url and returns a ready-to-use
// Client. The returned Client must eventually be closed with Close.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	t := transport.New(url, cfg.header, cfg.dialer)
	return newClient(ctx, t, cfg)
}

// New constructs a Client over an already-built Transport — primarily for
// tests, which substitute an in-memory Transport double in place of a real
// WebSocket connection.
func New(ctx context.Context, t transport.Transport, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return newClient(ctx, t, cfg)
}

func newClient(ctx context.Context, t transport.Transport, cfg *config) (*Client, error) {
	pool := bufpool.New(cfg.blockSize)
	rxQueue := make(chan *framereader.FrameReader, cfg.channelTxMax)

	sessionID := uuid.New()
	metrics := metricsAdapter{m: cfg.metrics}
	c := &Client{
		cfg:       cfg,
		sessionID: sessionID,
		transport: t,
		pool:      pool,
		logger:    cfg.logger.With().Str("session_id", sessionID.String()).Logger(),
		rx:        producer.NewRx(t, cfg.sendRateLimit, metrics),
		tx:        producer.NewTx(t, pool, rxQueue, cfg.messageSizeHint, metrics),
		rxQueue:   rxQueue,
	}
	c.cn = consumer.New(rxQueue, cfg.headerBytesMax, cfg.cacheSlidingExpiration, cfg.cacheEvictionInterval,
		metrics, loggerAdapter{log: c.logger})

	if err := c.open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) open(ctx context.Context) error {
	if err := c.transport.Open(ctx); err != nil {
		return newErr("open", KindTransport, ProtocolNone, err)
	}

	if err := c.rx.Open(); err != nil {
		return newErr("open", KindTransport, ProtocolNone, err)
	}
	if err := c.tx.Open(ctx); err != nil {
		return newErr("open", KindTransport, ProtocolNone, err)
	}
	if err := c.cn.Open(ctx); err != nil {
		return newErr("open", KindTransport, ProtocolNone, err)
	}

	c.mu.Lock()
	c.isOpen = true
	c.mu.Unlock()

	c.logger.Debug().Str("component", "client").Msg("opened")
	return nil
}

// SessionID identifies this Client instance in its own log lines. It has no
// meaning on the wire: correlation ids exchanged with the server are
// generated separately by wire.GenerateID.
func (c *Client) SessionID() uuid.UUID {
	return c.sessionID
}

// Close tears the pipeline down in dependency order: mark the client closed
// so new Send calls fail fast, close the transport to unblock any pending
// read or write, join the receive loop, then join the dispatch loop and
// release every waiter still registered (waking any pending Send with
// ErrCanceled instead of letting it hang).
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.isOpen {
		c.mu.Unlock()
		return nil
	}
	c.isOpen = false
	c.mu.Unlock()

	_ = c.transport.Close(ctx, 0, "Orderly connection close")
	_ = c.tx.Close()
	_ = c.cn.Close()
	_ = c.rx.Close()

	c.logger.Debug().Str("component", "client").Msg("closed")
	return nil
}

// Send issues req, blocking until a matching response arrives, ctx is
// done, or the client is closed. If req.ID is empty, a correlation id is
// generated. Send returns ErrDuplicateCorrelationId (with a zero-value
// Response) if req.ID was supplied and a waiter is already registered for
// it.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	open := c.isOpen
	c.mu.Unlock()
	if !open {
		return Response{}, newErr("send", KindNotOpen, ProtocolNone, nil)
	}

	id := req.ID
	if id == "" {
		gen, err := wire.GenerateID(c.cfg.idBytes)
		if err != nil {
			return Response{}, newErr("send", KindTransport, ProtocolNone, err)
		}
		id = gen
	}

	// An async request has no response to correlate: skip registering a
	// waiter entirely and return as soon as the write completes.
	if req.Async {
		payload, err := json.Marshal(toRequestWire(id, req))
		if err != nil {
			return Response{}, newErr("send", KindProtocol, ProtocolInvalidResponse, err)
		}
		if err := c.rx.Send(ctx, payload); err != nil {
			return Response{}, newErr("send", KindTransport, ProtocolNone, err)
		}
		return Response{ID: id}, nil
	}

	w := waiter.New(id, false, 1)
	if ok := c.cn.Register(w); !ok {
		return Response{}, newErr("send", KindProtocol, ProtocolDuplicateCorrelationId, nil)
	}

	payload, err := json.Marshal(toRequestWire(id, req))
	if err != nil {
		c.cn.Unregister(id)
		return Response{}, newErr("send", KindProtocol, ProtocolInvalidResponse, err)
	}

	if err := c.rx.Send(ctx, payload); err != nil {
		c.cn.Unregister(id)
		return Response{}, newErr("send", KindTransport, ProtocolNone, err)
	}

	delivery, err := w.Wait(ctx.Done())
	if err != nil {
		c.cn.Unregister(id)
		return Response{}, newErr("send", KindCanceled, ProtocolNone, err)
	}
	defer delivery.Reader.Close()

	return decodeResponse(delivery)
}

func decodeResponse(d waiter.Delivery) (Response, error) {
	if d.Header.IsNotify() {
		return Response{}, newErr("send", KindProtocol, ProtocolExpectedResponseGotNotify, nil)
	}
	if !d.Header.IsResponse() {
		return Response{}, newErr("send", KindProtocol, ProtocolInvalidResponse, nil)
	}

	var rw wire.ResponseWire
	if err := json.NewDecoder(d.Reader.Reader()).Decode(&rw); err != nil {
		return Response{}, newErr("send", KindProtocol, ProtocolInvalidResponse, err)
	}
	return responseFromWire(rw), nil
}

// Notifications registers a persistent waiter for subscription id and
// returns a channel of decoded Notify messages along with a cancel
// function that must be called when the caller is done consuming, which
// unregisters the waiter and closes the returned channel's upstream
// delivery.
func (c *Client) Notifications(id string) (<-chan *Notify, func(), error) {
	c.mu.Lock()
	open := c.isOpen
	c.mu.Unlock()
	if !open {
		return nil, nil, newErr("notifications", KindNotOpen, ProtocolNone, nil)
	}

	w := waiter.New(id, true, 16)
	if ok := c.cn.Register(w); !ok {
		return nil, nil, newErr("notifications", KindProtocol, ProtocolDuplicateCorrelationId, nil)
	}

	out := make(chan *Notify)
	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-w.Notifications():
				if !ok {
					return
				}
				n, err := decodeNotify(d)
				d.Reader.Close()
				if err != nil {
					c.logger.Debug().Err(err).Str("id", id).Msg("dropping undecodable notification")
					continue
				}
				select {
				case out <- n:
				case <-w.Done():
					return
				}
			case <-w.Done():
				return
			}
		}
	}()

	cancel := func() { c.cn.Unregister(id) }
	return out, cancel, nil
}

func decodeNotify(d waiter.Delivery) (*Notify, error) {
	var nw wire.NotifyWire
	if err := json.NewDecoder(d.Reader.Reader()).Decode(&nw); err != nil {
		return nil, fmt.Errorf("decode notify: %w", err)
	}
	return &Notify{ID: nw.ID, Method: nw.Method, Params: nw.Params}, nil
}

// loggerAdapter satisfies internal/consumer.Logger over zerolog.Logger.
type loggerAdapter struct{ log zerolog.Logger }

func (a loggerAdapter) Debugf(format string, args ...any) {
	a.log.Debug().Msgf(format, args...)
}
