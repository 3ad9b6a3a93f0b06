package transcriber

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"typeless/encoder"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultFlushGrace       = 2 * time.Second
	defaultPingInterval     = 20 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultChunkDuration    = time.Second
	defaultQueueSize        = 32

	// maxMessageSize bounds a single inbound message.
	maxMessageSize = 1 << 20
)

// Options tunes a Client. Zero values select defaults.
type Options struct {
	// Dialer is copied for every attempt. Nil uses websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Header is sent with every upgrade request in addition to the
	// session and connection id headers.
	Header http.Header

	Encoding      string // "wav" or "flac"
	ChunkDuration time.Duration
	QueueSize     int // outbound chunks kept while disconnected

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	FlushGrace       time.Duration
	Backoff          Backoff

	// AllowInsecure accepts ws:// endpoints, for local servers.
	AllowInsecure bool
	// UID identifies this client in audio messages. Empty generates one.
	UID string

	// OnStateChange is called on the dispatch goroutine, ordered with
	// inbound messages.
	OnStateChange func(s State, err error)

	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
}

func DefaultOptions() Options {
	return Options{
		Encoding:         string(encoder.FormatWAV),
		ChunkDuration:    defaultChunkDuration,
		QueueSize:        defaultQueueSize,
		HandshakeTimeout: defaultHandshakeTimeout,
		WriteTimeout:     defaultWriteTimeout,
		PingInterval:     defaultPingInterval,
		PongWait:         defaultPongWait,
		FlushGrace:       defaultFlushGrace,
		Backoff:          DefaultBackoff(),
	}
}

func (o Options) normalize() Options {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.ChunkDuration <= 0 {
		o.ChunkDuration = defaultChunkDuration
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = max(defaultPongWait, 3*o.PingInterval)
	}
	if o.FlushGrace <= 0 {
		o.FlushGrace = defaultFlushGrace
	}
	if o.UID == "" {
		o.UID = uuid.NewString()
	}
	o.Header = o.Header.Clone()
	o.Backoff = normalizeBackoff(o.Backoff)
	return o
}
