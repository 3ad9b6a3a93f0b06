package transcriber

import (
	"context"
	"crypto/tls"
	"net"
	"net/http/httptrace"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "typeless/transcriber"

// HandshakeTiming breaks down one connection attempt. Phases the dialer
// did not reach stay zero.
type HandshakeTiming struct {
	Dial    time.Duration // TCP connect, including DNS
	TLS     time.Duration
	Upgrade time.Duration // request written to upgrade response read
	Config  time.Duration // initial config message write
	Total   time.Duration
}

type handshakeTracer struct {
	mu       sync.Mutex
	start    time.Time
	timing   HandshakeTiming
	tlsStart time.Time
	wrote    time.Time
}

func newHandshakeTracer() *handshakeTracer {
	return &handshakeTracer{start: time.Now()}
}

// withClientTrace attaches hooks the websocket dialer reports TLS and
// request progress through.
func (h *handshakeTracer) withClientTrace(ctx context.Context) context.Context {
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		TLSHandshakeStart: func() {
			h.mu.Lock()
			h.tlsStart = time.Now()
			h.mu.Unlock()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			h.mu.Lock()
			if !h.tlsStart.IsZero() {
				h.timing.TLS = time.Since(h.tlsStart)
			}
			h.mu.Unlock()
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			h.mu.Lock()
			h.wrote = time.Now()
			h.mu.Unlock()
		},
	})
}

// dial wraps base so the TCP connect is timed and the connection is
// unblocked if ctx ends before the upgrade completes. The returned release
// must be called once the handshake succeeds.
func (h *handshakeTracer) dial(ctx context.Context, base func(context.Context, string, string) (net.Conn, error)) (func(context.Context, string, string) (net.Conn, error), func()) {
	var (
		mu    sync.Mutex
		stops []func() bool
	)
	release := func() {
		mu.Lock()
		defer mu.Unlock()
		for _, stop := range stops {
			stop()
		}
		stops = nil
	}
	return func(dctx context.Context, network, addr string) (net.Conn, error) {
		start := time.Now()
		nc, err := base(dctx, network, addr)
		h.mu.Lock()
		h.timing.Dial = time.Since(start)
		h.mu.Unlock()
		if err != nil {
			return nil, err
		}
		stop := context.AfterFunc(ctx, func() {
			_ = nc.SetDeadline(time.Unix(1, 0))
		})
		mu.Lock()
		stops = append(stops, stop)
		mu.Unlock()
		return nc, nil
	}, release
}

func (h *handshakeTracer) upgraded() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.wrote.IsZero() {
		h.timing.Upgrade = time.Since(h.wrote)
	}
	h.wrote = time.Now()
}

func (h *handshakeTracer) finish() HandshakeTiming {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.wrote.IsZero() {
		h.timing.Config = time.Since(h.wrote)
	}
	h.timing.Total = time.Since(h.start)
	return h.timing
}

func newTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

func endHandshakeSpan(span trace.Span, timing HandshakeTiming, err error) {
	span.SetAttributes(
		attribute.Int64("handshake.dial_ms", timing.Dial.Milliseconds()),
		attribute.Int64("handshake.tls_ms", timing.TLS.Milliseconds()),
		attribute.Int64("handshake.upgrade_ms", timing.Upgrade.Milliseconds()),
		attribute.Int64("handshake.total_ms", timing.Total.Milliseconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
