package korvus

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// config collects everything an Option can set, with defaults tuned for a
// single-connection client talking to a korvus server over a local or
// nearby network link.
type config struct {
	header http.Header
	dialer *websocket.Dialer

	logger zerolog.Logger

	metrics Metrics

	channelTxMax    int
	channelRxMax    int
	headerBytesMax  int
	idBytes         int
	blockSize       int
	messageSizeHint int

	cacheSlidingExpiration time.Duration
	cacheEvictionInterval  time.Duration

	sendRateLimit *rate.Limiter
}

func defaultConfig() *config {
	return &config{
		logger:                 zerolog.Nop(),
		metrics:                noopMetrics{},
		channelTxMax:           16,
		channelRxMax:           16,
		headerBytesMax:         512,
		idBytes:                9,
		blockSize:              16 * 1024,
		messageSizeHint:        64 * 1024,
		cacheSlidingExpiration: 30 * time.Second,
		cacheEvictionInterval:  5 * time.Second,
	}
}

// Option configures a Client constructed by Dial or New.
type Option func(*config)

// WithHeader sets the HTTP header sent with the initial WebSocket upgrade
// request — used for authentication tokens and the like.
func WithHeader(h http.Header) Option {
	return func(c *config) { c.header = h }
}

// WithDialer overrides the gorilla/websocket.Dialer used to establish the
// connection, e.g. to set a custom TLS config or proxy.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *config) { c.dialer = d }
}

// WithLogger sets the structured logger the client reports lifecycle and
// dispatch events through. The default is a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics wires a Metrics implementation. The default records nothing.
func WithMetrics(m Metrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithChannelCapacity sets the bounded channel capacity between the
// receive-side producer and the consumer's dispatch loop (txMax) and the
// equivalent capacity reserved for the send side (rxMax), kept for
// configuration symmetry though nothing currently queues on the send side
// — RxProducer.Send either writes immediately or blocks the caller.
func WithChannelCapacity(txMax, rxMax int) Option {
	return func(c *config) {
		if txMax > 0 {
			c.channelTxMax = txMax
		}
		if rxMax > 0 {
			c.channelRxMax = rxMax
		}
	}
}

// WithHeaderBytesMax sets how many leading bytes of a message the consumer
// peeks to find its routing header before deciding where to dispatch it.
func WithHeaderBytesMax(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.headerBytesMax = n
		}
	}
}

// WithIDBytes sets how many random bytes back a generated correlation id
// (rendered as 2*n hex characters).
func WithIDBytes(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.idBytes = n
		}
	}
}

// WithBlockSize sets the fixed block size the frame-reassembly buffer pool
// hands out.
func WithBlockSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.blockSize = n
		}
	}
}

// WithMessageSizeHint pre-sizes a FrameReader's backing blocks slice to fit
// a message of this many bytes without reallocating it as chunks arrive.
// It is advisory only: a message larger than the hint still grows the
// slice on demand, and has no effect on correctness.
func WithMessageSizeHint(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.messageSizeHint = n
		}
	}
}

// WithCacheSlidingExpiration sets how long a registered waiter survives
// without being accessed before the background sweep evicts it.
func WithCacheSlidingExpiration(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.cacheSlidingExpiration = d
		}
	}
}

// WithCacheEvictionInterval sets how often the waiter registry's background
// sweep runs.
func WithCacheEvictionInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.cacheEvictionInterval = d
		}
	}
}

// WithSendRateLimit throttles outbound Send calls to a token bucket of r
// events per second with the given burst. By default, sending is
// unthrottled.
func WithSendRateLimit(r float64, burst int) Option {
	return func(c *config) {
		c.sendRateLimit = rate.NewLimiter(rate.Limit(r), burst)
	}
}
