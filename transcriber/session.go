package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"typeless/encoder"
	"typeless/log"
)

// supervise owns the connection for one run: it connects, serves, and
// reconnects with backoff until Stop or the attempt budget runs out.
func (c *Client) supervise(r *run) {
	defer close(r.supervisorDone)

	var (
		failures int
		retry    int
		cause    error
	)
	for {
		if !c.setState(r, StateConnecting, cause) {
			return
		}
		if retry > 0 {
			delay := c.opts.Backoff.Delay(retry)
			log.ReconnectScheduled(retry, delay, cause)
			if !sleepWithContext(r.connectCtx, delay) {
				return
			}
		}

		conn, err := c.handshake(r, failures+1)
		if err != nil {
			if r.connectCtx.Err() != nil {
				return
			}
			failures++
			cause = err
			if c.opts.Backoff.Exhausted(failures) {
				c.fail(r, err)
				return
			}
			retry++
			continue
		}

		failures, retry, cause = 0, 0, nil
		if !c.setState(r, StateOpen, nil) {
			conn.Close()
			return
		}
		r.startCapture(c)

		err = c.serve(r, conn)
		if errors.Is(err, errFlushed) || r.connectCtx.Err() != nil {
			return
		}
		log.Warnf("connection lost: %v", err)
		c.recordReconnect()
		cause = err
		retry = 1
	}
}

// handshake dials the endpoint and sends the config message. The
// connection counts as open only once both succeed.
func (c *Client) handshake(r *run, attempt int) (*websocket.Conn, error) {
	connID := uuid.NewString()
	ctx, span := c.tracer.Start(r.connectCtx, "transcriber.handshake",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("session.id", c.cfg.SessionID),
			attribute.String("connection.id", connID),
			attribute.Int("attempt", attempt),
		))
	ctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	tracer := newHandshakeTracer()
	ctx = tracer.withClientTrace(ctx)

	dialer := *c.opts.Dialer
	dialer.HandshakeTimeout = c.opts.HandshakeTimeout
	base := dialer.NetDialContext
	if base == nil {
		base = (&net.Dialer{}).DialContext
	}
	var release func()
	dialer.NetDialContext, release = tracer.dial(ctx, base)
	defer release()

	header := c.opts.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(headerSessionID, c.cfg.SessionID)
	header.Set(headerConnectionID, connID)

	conn, herr := c.dialAndConfigure(ctx, &dialer, header, tracer)
	timing := tracer.finish()
	var err error
	if herr != nil {
		herr.Attempt = attempt
		err = herr
	}
	c.recordHandshake(err)
	c.metrics.handshakeDuration.Observe(timing.Total.Seconds())
	log.HandshakeResult(connID, attempt, timing.Total, err)
	endHandshakeSpan(span, timing, err)
	if err != nil {
		return nil, err
	}
	log.Debugf("handshake timing: dial=%s tls=%s upgrade=%s config=%s",
		timing.Dial, timing.TLS, timing.Upgrade, timing.Config)
	return conn, nil
}

func (c *Client) dialAndConfigure(ctx context.Context, dialer *websocket.Dialer, header http.Header, tracer *handshakeTracer) (*websocket.Conn, *HandshakeError) {
	conn, resp, err := dialer.DialContext(ctx, c.cfg.Endpoint, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &HandshakeError{StatusCode: status, Err: err}
	}
	tracer.upgraded()

	payload, err := json.Marshal(newConfigMessage(c.cfg))
	if err != nil {
		conn.Close()
		return nil, &HandshakeError{Err: fmt.Errorf("encoding config: %w", err)}
	}
	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return nil, &HandshakeError{Err: fmt.Errorf("sending config: %w", err)}
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

// serve runs the connection until it fails, the queue is flushed after
// Stop, or the run is cancelled. Only transmit writes to conn.
func (c *Client) serve(r *run, conn *websocket.Conn) error {
	g, ctx := errgroup.WithContext(r.ctx)
	g.Go(func() error {
		return c.receive(ctx, r, conn)
	})
	g.Go(func() error {
		return c.transmit(ctx, r, conn)
	})
	g.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})
	return g.Wait()
}

func (c *Client) transmit(ctx context.Context, r *run, conn *websocket.Conn) error {
	ping := time.NewTicker(c.opts.PingInterval)
	defer ping.Stop()

	for {
		if entry, ok := r.queue.Front(); ok {
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, entry.value); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &TransportError{Op: "write", Err: err}
			}
			r.queue.Advance(entry.seq)
			c.recordSent(len(entry.value))
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.queue.Ready():
		case <-r.flush:
			if r.queue.Len() > 0 {
				continue
			}
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReason)
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				log.Debugf("close frame: %v", err)
			}
			return errFlushed
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &TransportError{Op: "ping", Err: err}
			}
		}
	}
}

func (c *Client) receive(ctx context.Context, r *run, conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransportError{Op: "read", Err: err}
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		if typ == websocket.BinaryMessage {
			log.Debugf("binary message (%d bytes) delivered as text", len(data))
		}
		c.recordReceived()
		r.events.Push(event{message: string(data)})
	}
}

// dispatch delivers events to the handler one at a time, in order, until
// the event queue is closed and drained.
func (c *Client) dispatch(r *run) {
	defer close(r.dispatcherDone)
	for {
		if ev, ok := r.events.Pop(); ok {
			c.deliver(ev)
			continue
		}
		if r.events.Closed() {
			return
		}
		<-r.events.Ready()
	}
}

func (c *Client) deliver(ev event) {
	if ev.isState {
		if c.opts.OnStateChange == nil {
			return
		}
		if err := safeCall(func() error {
			c.opts.OnStateChange(ev.state, ev.err)
			return nil
		}); err != nil {
			log.Errorf("state callback: %v", err)
		}
		return
	}

	if err := safeCall(func() error { return c.handler.HandleMessage(ev.message) }); err != nil {
		herr := &HandlerError{Err: err}
		c.recordHandlerError()
		log.Error(herr.Error())
	}
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

// capture pulls frames from the source, cuts them into chunks and queues
// the encoded messages. It keeps running across reconnects.
func (c *Client) capture(r *run) {
	defer r.captureWG.Done()

	chunker := encoder.NewChunker(c.chunkBytes)
	defer func() {
		if tail := chunker.Flush(); tail != nil {
			c.enqueue(r, tail)
		}
	}()

	for {
		frame, err := c.source.NextFrame(r.captureCtx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Info("audio source ended")
			case r.captureCtx.Err() != nil:
			default:
				log.Errorf("audio source: %v", err)
			}
			return
		}
		for _, chunk := range chunker.Write(frame) {
			c.enqueue(r, chunk)
		}
	}
}

func (c *Client) enqueue(r *run, pcm []byte) {
	msg, err := encodeAudioMessage(c.enc, c.opts.UID, pcm)
	if err != nil {
		log.Errorf("dropping chunk: %v", err)
		return
	}
	if r.queue.Push(msg) {
		c.recordDropped()
		log.Warn("outbound queue full, dropped oldest chunk")
	}
}
