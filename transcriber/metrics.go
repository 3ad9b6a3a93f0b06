package transcriber

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "typeless"

type metrics struct {
	handshakes        *prometheus.CounterVec
	handshakeDuration prometheus.Histogram
	reconnects        prometheus.Counter
	chunksSent        prometheus.Counter
	bytesSent         prometheus.Counter
	chunksDropped     prometheus.Counter
	chunksDiscarded   prometheus.Counter
	messagesReceived  prometheus.Counter
	handlerErrors     prometheus.Counter
	state             prometheus.Gauge
}

// newMetrics registers the client collectors with reg. A nil reg leaves
// them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handshakes_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),
		handshakeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from dial to config message written.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Connections lost unexpectedly.",
		}),
		chunksSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "audio_chunks_sent_total",
			Help:      "Audio messages written to the server.",
		}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Bytes of audio messages written to the server.",
		}),
		chunksDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "audio_chunks_dropped_total",
			Help:      "Chunks evicted from a full outbound queue.",
		}),
		chunksDiscarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "audio_chunks_discarded_total",
			Help:      "Chunks still queued when a session ended.",
		}),
		messagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Inbound text messages.",
		}),
		handlerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handler_errors_total",
			Help:      "Messages whose handler returned an error or panicked.",
		}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connection_state",
			Help:      "Current client state (0 idle, 1 connecting, 2 open, 3 closing, 4 closed, 5 failed).",
		}),
	}
}

// Stats is a snapshot of client counters since New.
type Stats struct {
	Handshakes        int
	HandshakeFailures int
	Reconnects        int
	SentChunks        int
	SentBytes         int64
	DroppedChunks     int
	DiscardedChunks   int
	ReceivedMessages  int
	HandlerErrors     int
}

type counters struct {
	handshakes        atomic.Int64
	handshakeFailures atomic.Int64
	reconnects        atomic.Int64
	sentChunks        atomic.Int64
	sentBytes         atomic.Int64
	droppedChunks     atomic.Int64
	discardedChunks   atomic.Int64
	receivedMessages  atomic.Int64
	handlerErrors     atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Handshakes:        int(c.handshakes.Load()),
		HandshakeFailures: int(c.handshakeFailures.Load()),
		Reconnects:        int(c.reconnects.Load()),
		SentChunks:        int(c.sentChunks.Load()),
		SentBytes:         c.sentBytes.Load(),
		DroppedChunks:     int(c.droppedChunks.Load()),
		DiscardedChunks:   int(c.discardedChunks.Load()),
		ReceivedMessages:  int(c.receivedMessages.Load()),
		HandlerErrors:     int(c.handlerErrors.Load()),
	}
}

func (c *Client) recordHandshake(err error) {
	c.counters.handshakes.Add(1)
	if err != nil {
		c.counters.handshakeFailures.Add(1)
		c.metrics.handshakes.WithLabelValues("failure").Inc()
		return
	}
	c.metrics.handshakes.WithLabelValues("success").Inc()
}

func (c *Client) recordSent(n int) {
	c.counters.sentChunks.Add(1)
	c.counters.sentBytes.Add(int64(n))
	c.metrics.chunksSent.Inc()
	c.metrics.bytesSent.Add(float64(n))
}

func (c *Client) recordDropped() {
	c.counters.droppedChunks.Add(1)
	c.metrics.chunksDropped.Inc()
}

func (c *Client) recordDiscarded(n int) {
	if n == 0 {
		return
	}
	c.counters.discardedChunks.Add(int64(n))
	c.metrics.chunksDiscarded.Add(float64(n))
}

func (c *Client) recordReceived() {
	c.counters.receivedMessages.Add(1)
	c.metrics.messagesReceived.Inc()
}

func (c *Client) recordHandlerError() {
	c.counters.handlerErrors.Add(1)
	c.metrics.handlerErrors.Inc()
}

func (c *Client) recordReconnect() {
	c.counters.reconnects.Add(1)
	c.metrics.reconnects.Inc()
}
