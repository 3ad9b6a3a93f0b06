// Package mockserver is a local transcription server speaking the same
// websocket protocol as the production endpoint. For every audio chunk it
// answers with a JSON message describing what it received.
package mockserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/mewkiz/flac"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"typeless/encoder"
	"typeless/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20

	StreamPath = "/v1/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config mirrors the client's handshake message.
type Config struct {
	Language          string `json:"language"`
	Hotwords          string `json:"hotwords"`
	ManualPunctuation bool   `json:"manual_punctuation"`
	EndUserID         string `json:"end_user_id"`
	Domain            string `json:"domain"`
}

type audioMessage struct {
	Audio string `json:"audio"`
	UID   string `json:"uid"`
}

// Transcript is sent back for every accepted chunk.
type Transcript struct {
	Type         string `json:"type"`
	Seq          int    `json:"seq"`
	Text         string `json:"text"`
	Format       string `json:"format"`
	AudioMs      int    `json:"audio_ms"`
	SessionID    string `json:"session_id"`
	ConnectionID string `json:"connection_id"`
}

// ConnInfo describes one accepted connection.
type ConnInfo struct {
	SessionID    string    `json:"session_id"`
	ConnectionID string    `json:"connection_id"`
	Config       Config    `json:"config"`
	Chunks       int       `json:"chunks"`
	AudioMs      int       `json:"audio_ms"`
	Opened       time.Time `json:"opened"`
	Closed       bool      `json:"closed"`
	CloseCode    int       `json:"close_code,omitempty"`
}

type Server struct {
	echo *echo.Echo

	mu    sync.Mutex
	conns map[string]*ConnInfo
	order []string

	connections prometheus.Gauge
	chunks      *prometheus.CounterVec
	rejected    prometheus.Counter
}

// New builds a server whose collectors are registered with reg. A nil reg
// uses a private registry.
func New(reg *prometheus.Registry) *Server {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	s := &Server{
		echo:  echo.New(),
		conns: make(map[string]*ConnInfo),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "typeless_mock",
			Name:      "open_connections",
			Help:      "Websocket connections currently open.",
		}),
		chunks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "typeless_mock",
			Name:      "audio_chunks_total",
			Help:      "Audio chunks received by format.",
		}, []string{"format"}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "typeless_mock",
			Name:      "rejected_messages_total",
			Help:      "Messages that could not be decoded.",
		}),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.GET(StreamPath, s.handleStream)
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	s.echo.GET("/connections", func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.Connections())
	})
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	return s
}

func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	log.Infof("mock server listening on %s", addr)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Connections returns every connection seen so far, oldest first.
func (s *Server) Connections() []ConnInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConnInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.conns[id])
	}
	return out
}

func (s *Server) handleStream(c echo.Context) error {
	sessionID := c.Request().Header.Get("X-Session-Id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing X-Session-Id")
	}
	connID := c.Request().Header.Get("X-Connection-Id")
	if connID == "" {
		connID = fmt.Sprintf("%s-%d", sessionID, time.Now().UnixNano())
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return nil
	}

	conn := &streamConn{
		ws:     ws,
		server: s,
		info:   &ConnInfo{SessionID: sessionID, ConnectionID: connID, Opened: time.Now()},
		send:   make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	s.register(conn.info)
	s.connections.Inc()
	defer s.connections.Dec()

	go conn.writePump()
	conn.readPump()
	return nil
}

func (s *Server) register(info *ConnInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[info.ConnectionID] = info
	s.order = append(s.order, info.ConnectionID)
}

func (s *Server) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

type streamConn struct {
	ws     *websocket.Conn
	server *Server
	info   *ConnInfo
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *streamConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *streamConn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.ws.SetPingHandler(func(data string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	configured := false
	seq := 0
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.server.update(func() { c.info.CloseCode = ce.Code })
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("mock: connection %s read error: %v", c.info.ConnectionID, err)
			}
			c.server.update(func() { c.info.Closed = true })
			return
		}

		if !configured {
			var cfg Config
			if err := json.Unmarshal(data, &cfg); err != nil || cfg.Language == "" {
				c.server.rejected.Inc()
				c.closeWith(websocket.ClosePolicyViolation, "expected config message")
				return
			}
			c.server.update(func() { c.info.Config = cfg })
			configured = true
			log.Infof("mock: session %s connected (language=%s hotwords=%q)", c.info.SessionID, cfg.Language, cfg.Hotwords)
			continue
		}

		format, ms, err := decodeAudio(data)
		if err != nil {
			c.server.rejected.Inc()
			log.Warnf("mock: rejecting message: %v", err)
			continue
		}
		seq++
		c.server.chunks.WithLabelValues(format).Inc()
		c.server.update(func() {
			c.info.Chunks++
			c.info.AudioMs += ms
		})
		c.reply(Transcript{
			Type:         "partial",
			Seq:          seq,
			Text:         fmt.Sprintf("chunk %d: %d ms of %s audio", seq, ms, format),
			Format:       format,
			AudioMs:      ms,
			SessionID:    c.info.SessionID,
			ConnectionID: c.info.ConnectionID,
		})
	}
}

func (c *streamConn) reply(t Transcript) {
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		log.Warn("mock: send buffer full, dropping transcript")
	}
}

func (c *streamConn) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (c *streamConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// decodeAudio validates an audio message and returns its format and
// duration in milliseconds.
func decodeAudio(data []byte) (string, int, error) {
	var msg audioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", 0, fmt.Errorf("decoding audio message: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		return "", 0, fmt.Errorf("decoding base64 audio: %w", err)
	}

	switch {
	case bytes.HasPrefix(raw, []byte("RIFF")):
		if len(raw) < encoder.WAVHeaderSize || string(raw[8:12]) != "WAVE" {
			return "", 0, errors.New("truncated wav header")
		}
		dataLen := int(binary.LittleEndian.Uint32(raw[40:44]))
		return string(encoder.FormatWAV), dataLen * 1000 / encoder.BytesPerSecond, nil
	case bytes.HasPrefix(raw, []byte("fLaC")):
		samples, err := flacSamples(raw)
		if err != nil {
			return "", 0, err
		}
		return string(encoder.FormatFLAC), samples * 1000 / encoder.SampleRate, nil
	default:
		return "", 0, errors.New("unknown audio container")
	}
}

func flacSamples(raw []byte) (int, error) {
	stream, err := flac.New(bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing flac stream: %w", err)
	}
	defer stream.Close()

	n := 0
	for {
		f, err := stream.ParseNext()
		if err != nil {
			break
		}
		n += int(f.BlockSize)
	}
	return n, nil
}

// Summary renders the connection table for the CLI.
func Summary(conns []ConnInfo) string {
	sort.Slice(conns, func(i, j int) bool { return conns[i].Opened.Before(conns[j].Opened) })
	var b strings.Builder
	for _, c := range conns {
		fmt.Fprintf(&b, "%s  %s  lang=%s chunks=%d audio=%dms close=%d\n",
			c.SessionID, c.ConnectionID, c.Config.Language, c.Chunks, c.AudioMs, c.CloseCode)
	}
	return b.String()
}
