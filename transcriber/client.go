package transcriber

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"typeless/audio"
	"typeless/encoder"
	"typeless/log"
)

// Client streams audio from a FrameSource to a transcription server and
// delivers the server's text messages to a MessageHandler. A Client holds
// at most one connection at a time and reconnects on unexpected loss.
type Client struct {
	cfg        SessionConfig
	source     audio.FrameSource
	handler    MessageHandler
	opts       Options
	enc        encoder.Encoder
	chunkBytes int
	tracer     trace.Tracer
	metrics    *metrics
	counters   counters

	mu  sync.Mutex // serializes Start and Stop
	run *run

	stateMu sync.Mutex
	state   State
	err     error
}

// New validates cfg and builds an idle client. It performs no I/O.
func New(cfg SessionConfig, source audio.FrameSource, handler MessageHandler, opts Options) (*Client, error) {
	if source == nil {
		return nil, &ConfigError{Field: "source", Reason: "is required"}
	}
	if handler == nil {
		return nil, &ConfigError{Field: "handler", Reason: "is required"}
	}
	if err := cfg.Validate(opts.AllowInsecure); err != nil {
		return nil, err
	}
	enc, err := encoder.New(opts.Encoding)
	if err != nil {
		return nil, &ConfigError{Field: "encoding", Reason: err.Error()}
	}
	opts = opts.normalize()
	chunkBytes := encoder.ChunkBytes(int(opts.ChunkDuration / time.Millisecond))
	if chunkBytes < 2 {
		return nil, &ConfigError{Field: "chunk duration", Reason: "is shorter than one sample"}
	}
	chunkBytes -= chunkBytes % 2

	c := &Client{
		cfg:        cfg.clone(),
		source:     source,
		handler:    handler,
		opts:       opts,
		enc:        enc,
		chunkBytes: chunkBytes,
		tracer:     newTracer(opts.TracerProvider),
		metrics:    newMetrics(opts.Registerer),
	}
	c.metrics.state.Set(float64(StateIdle))
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Err returns the error behind the latest Failed or reconnecting state.
func (c *Client) Err() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.err
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats { return c.counters.snapshot() }

// Config returns a copy of the session parameters.
func (c *Client) Config() SessionConfig { return c.cfg.clone() }

// Start begins connecting and returns immediately. It is a no-op while the
// client is Connecting or Open.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State().Active() {
		log.Debugf("start ignored: client is %s", c.State())
		return
	}
	if c.run != nil {
		// previous run ended in Failed
		c.release(c.run)
		c.run = nil
	}

	r := newRun(c.opts.QueueSize)
	c.run = r
	c.stateMu.Lock()
	c.err = nil
	c.stateMu.Unlock()

	log.SessionStart(c.cfg.Endpoint, c.cfg.Language, c.cfg.SessionID, string(c.enc.Format()))
	go c.dispatch(r)
	c.setState(r, StateConnecting, nil)
	go c.supervise(r)
}

// Stop ends the session. Queued audio is flushed to an open connection for
// up to FlushGrace, then the connection is closed with a normal close
// frame. Stop waits for every goroutine the run started and is a no-op
// when nothing is running.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.run
	if r == nil {
		return
	}
	c.run = nil

	c.stateMu.Lock()
	wasOpen := c.state == StateOpen
	r.stopping = true
	c.transitionLocked(r, StateClosing, nil)
	c.stateMu.Unlock()

	r.cancelConnect()
	if !r.stopCapture(c.opts.FlushGrace) {
		log.Warn("audio source did not stop within grace period")
	}
	close(r.flush)
	if wasOpen && !waitChan(r.supervisorDone, c.opts.FlushGrace) {
		log.Warn("flush timed out, closing connection")
	}
	r.cancel()
	<-r.supervisorDone
	c.recordDiscarded(r.queue.Reset())

	c.stateMu.Lock()
	c.transitionLocked(r, StateClosed, nil)
	c.stateMu.Unlock()
	c.release(r)

	c.logSummary(r)
}

// logSummary reports the session totals once per run.
func (c *Client) logSummary(r *run) {
	r.summary.Do(func() {
		stats := c.Stats()
		log.SessionEnd(stats.ReceivedMessages)
		log.StreamMetrics(log.StreamMetricsData{
			DurationS:    time.Since(r.started).Seconds(),
			SentChunks:   stats.SentChunks,
			SentKB:       float64(stats.SentBytes) / 1024,
			DroppedChunk: stats.DroppedChunks,
			RecvMessages: stats.ReceivedMessages,
			Reconnects:   stats.Reconnects,
		})
	})
}

// release closes the event queue and waits for pending deliveries.
func (c *Client) release(r *run) {
	r.events.Close()
	if !waitChan(r.dispatcherDone, c.opts.FlushGrace) {
		log.Warn("message handler still busy after stop")
	}
}

// setState transitions unless Stop has taken over the run.
func (c *Client) setState(r *run, s State, err error) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if r.stopping {
		return false
	}
	c.transitionLocked(r, s, err)
	return true
}

func (c *Client) transitionLocked(r *run, s State, err error) {
	if err != nil {
		c.err = err
	}
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s
	c.metrics.state.Set(float64(s))
	log.StateChange(prev.String(), s.String())
	r.events.Push(event{state: s, err: err, isState: true})
}

// fail ends a run after the reconnection budget is spent.
func (c *Client) fail(r *run, err error) {
	if !c.setState(r, StateFailed, err) {
		return
	}
	log.Errorf("giving up after %d attempts: %v", c.opts.Backoff.MaxAttempts, err)
	r.cancelConnect()
	r.stopCapture(c.opts.FlushGrace)
	r.cancel()
	c.recordDiscarded(r.queue.Reset())
	c.logSummary(r)
}

type run struct {
	started time.Time

	// ctx bounds the live connection; it outlives connectCtx so Stop can
	// flush before closing.
	ctx    context.Context
	cancel context.CancelFunc
	// connectCtx bounds handshakes and backoff waits.
	connectCtx    context.Context
	cancelConnect context.CancelFunc
	captureCtx    context.Context
	cancelCapture context.CancelFunc

	flush    chan struct{}
	stopping bool // guarded by Client.stateMu

	queue  *queue[[]byte]
	events *queue[event]

	mu             sync.Mutex
	captureStarted bool
	captureStopped bool
	captureWG      sync.WaitGroup
	summary        sync.Once

	supervisorDone chan struct{}
	dispatcherDone chan struct{}
}

type event struct {
	message string
	isState bool
	state   State
	err     error
}

func newRun(queueSize int) *run {
	r := &run{
		started:        time.Now(),
		flush:          make(chan struct{}),
		queue:          newQueue[[]byte](queueSize),
		events:         newQueue[event](0),
		supervisorDone: make(chan struct{}),
		dispatcherDone: make(chan struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.connectCtx, r.cancelConnect = context.WithCancel(r.ctx)
	r.captureCtx, r.cancelCapture = context.WithCancel(r.ctx)
	return r
}

// startCapture launches the capture goroutine once per run.
func (r *run) startCapture(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.captureStarted || r.captureStopped {
		return
	}
	r.captureStarted = true
	r.captureWG.Add(1)
	go c.capture(r)
}

// stopCapture cancels capture and reports whether it ended within grace.
func (r *run) stopCapture(grace time.Duration) bool {
	r.mu.Lock()
	r.captureStopped = true
	r.mu.Unlock()
	r.cancelCapture()

	done := make(chan struct{})
	go func() {
		r.captureWG.Wait()
		close(done)
	}()
	return waitChan(done, grace)
}

func waitChan(ch <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
