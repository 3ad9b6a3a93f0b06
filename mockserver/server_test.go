package mockserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeless/audio"
	"typeless/encoder"
	"typeless/transcriber"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(prometheus.NewRegistry())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + StreamPath
}

type transcripts struct {
	mu  sync.Mutex
	got []Transcript
}

func (r *transcripts) HandleMessage(msg string) error {
	var tr Transcript
	if err := json.Unmarshal([]byte(msg), &tr); err != nil {
		return err
	}
	r.mu.Lock()
	r.got = append(r.got, tr)
	r.mu.Unlock()
	return nil
}

func (r *transcripts) snapshot() []Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transcript(nil), r.got...)
}

func TestClientRoundTrip(t *testing.T) {
	for _, format := range []encoder.Format{encoder.FormatWAV, encoder.FormatFLAC} {
		t.Run(string(format), func(t *testing.T) {
			s, ts := newTestServer(t)

			pcm := make([]byte, encoder.BytesPerSecond*5/2)
			for i := range pcm {
				pcm[i] = byte(i % 7)
			}
			src, err := audio.NewFileSource(bytes.NewReader(pcm), false)
			require.NoError(t, err)

			h := &transcripts{}
			opts := transcriber.DefaultOptions()
			opts.AllowInsecure = true
			opts.Encoding = string(format)
			opts.Registerer = prometheus.NewRegistry()
			cfg := transcriber.SessionConfig{
				Endpoint:  wsURL(ts),
				Language:  "fr",
				Tags:      []string{"typeless", "mock"},
				Domain:    "gynécologie",
				SessionID: "12345",
			}
			c, err := transcriber.New(cfg, src, h, opts)
			require.NoError(t, err)

			c.Start()
			require.Eventually(t, func() bool { return len(h.snapshot()) == 3 }, 5*time.Second, 10*time.Millisecond)

			got := h.snapshot()
			for i, tr := range got {
				assert.Equal(t, i+1, tr.Seq)
				assert.Equal(t, string(format), tr.Format)
				assert.Equal(t, "12345", tr.SessionID)
			}
			assert.Equal(t, 1000, got[0].AudioMs)
			assert.Equal(t, 500, got[2].AudioMs)

			c.Stop()
			require.Eventually(t, func() bool {
				conns := s.Connections()
				return len(conns) == 1 && conns[0].Closed
			}, 5*time.Second, 10*time.Millisecond)

			info := s.Connections()[0]
			assert.Equal(t, websocket.CloseNormalClosure, info.CloseCode)
			assert.Equal(t, "typeless,mock", info.Config.Hotwords)
			assert.Equal(t, "gynécologie", info.Config.Domain)
			assert.Equal(t, 3, info.Chunks)
			assert.Equal(t, 2500, info.AudioMs)
			assert.NotEmpty(t, info.ConnectionID)
			assert.Equal(t, float64(3), testutil.ToFloat64(s.chunks.WithLabelValues(string(format))))
		})
	}
}

func TestRejectsMissingSessionHeader(t *testing.T) {
	_, ts := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClosesOnMissingConfig(t *testing.T) {
	s, ts := newTestServer(t)
	header := http.Header{"X-Session-Id": []string{"abc"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.rejected))
}

func TestDecodeAudio(t *testing.T) {
	wrap := func(raw []byte) []byte {
		data, _ := json.Marshal(audioMessage{Audio: base64.StdEncoding.EncodeToString(raw), UID: "u"})
		return data
	}
	pcm := make([]byte, encoder.ChunkBytes(250))

	wav, err := encoder.WAV{}.Encode(pcm)
	require.NoError(t, err)
	format, ms, err := decodeAudio(wrap(wav))
	require.NoError(t, err)
	assert.Equal(t, "wav", format)
	assert.Equal(t, 250, ms)

	fl, err := encoder.FLAC{}.Encode(pcm)
	require.NoError(t, err)
	format, ms, err = decodeAudio(wrap(fl))
	require.NoError(t, err)
	assert.Equal(t, "flac", format)
	assert.Equal(t, 250, ms)

	_, _, err = decodeAudio(wrap([]byte("OggS....")))
	assert.Error(t, err)
	_, _, err = decodeAudio([]byte(`{"audio":"!!"}`))
	assert.Error(t, err)
}

func TestHealthAndConnections(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/connections")
	require.NoError(t, err)
	defer resp.Body.Close()
	var conns []ConnInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conns))
	assert.Empty(t, conns)
}
