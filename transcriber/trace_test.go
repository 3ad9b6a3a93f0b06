package transcriber

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestHandshakeSpans(t *testing.T) {
	srv := newTestServer(t)
	srv.reject.Store(1)

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	opts := testOptions(srv)
	opts.TracerProvider = tp
	c := newTestClient(t, testConfig(srv), newBlockingSource(), nopHandler, opts)

	c.Start()
	waitState(t, c, StateOpen)
	c.Stop()

	spans := sr.Ended()
	require.Len(t, spans, 2)

	failed := spans[0]
	assert.Equal(t, "transcriber.handshake", failed.Name())
	assert.Equal(t, codes.Error, failed.Status().Code)
	v, ok := spanAttr(failed, "attempt")
	require.True(t, ok)
	assert.Equal(t, int64(1), v.AsInt64())

	opened := spans[1]
	assert.Equal(t, codes.Ok, opened.Status().Code)
	v, ok = spanAttr(opened, "session.id")
	require.True(t, ok)
	assert.Equal(t, "session-1", v.AsString())
	v, ok = spanAttr(opened, "attempt")
	require.True(t, ok)
	assert.Equal(t, int64(2), v.AsInt64())
	_, ok = spanAttr(opened, "handshake.total_ms")
	assert.True(t, ok)

	a, _ := spanAttr(failed, "connection.id")
	b, _ := spanAttr(opened, "connection.id")
	assert.NotEqual(t, a.AsString(), b.AsString(), "each attempt gets its own connection id")
}

func TestHandshakeTracerTiming(t *testing.T) {
	h := newHandshakeTracer()
	time.Sleep(2 * time.Millisecond)
	h.upgraded()
	timing := h.finish()
	assert.GreaterOrEqual(t, timing.Total, 2*time.Millisecond)
	assert.Zero(t, timing.Upgrade, "no request written")
	assert.GreaterOrEqual(t, timing.Total, timing.Config)
}
