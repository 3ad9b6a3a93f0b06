package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"typeless/audio"
	"typeless/clipboard"
	"typeless/config"
	"typeless/encoder"
	"typeless/log"
	"typeless/shutdown"
	"typeless/transcriber"
)

type streamFlags struct {
	endpoint          string
	language          string
	tags              []string
	manualPunctuation bool
	domain            string
	sessionID         string
	encoding          string
	chunkMs           int
	queueSize         int
	maxAttempts       int
	insecure          bool
	metricsAddr       string

	wav        string
	realtime   bool
	linger     time.Duration
	device     string
	pickDevice bool
	gain       int
	tui        bool
	copy       bool
	silenceEnd bool
}

func streamCmd(g *globalFlags) *cobra.Command {
	f := &streamFlags{}
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream audio and print transcription messages",
		Long: `Connect to the transcription endpoint, stream microphone (or WAV file)
audio and print every message the server sends back. Stop with Ctrl+C.

Settings come from TYPELESS_* environment variables or the dotenv file;
flags override both.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.apply(cmd, g.cfg)
			return runStream(cmd, g.cfg, f)
		},
	}

	f.register(cmd.Flags())
	return cmd
}

func (f *streamFlags) register(fl *pflag.FlagSet) {
	fl.StringVar(&f.endpoint, "endpoint", "", "transcription websocket URI")
	fl.StringVarP(&f.language, "lang", "l", "", "language code (e.g. en, fr)")
	fl.StringSliceVar(&f.tags, "tags", nil, "hotwords sent with the session, comma separated")
	fl.BoolVar(&f.manualPunctuation, "manual-punctuation", false, "ask the server for manual punctuation")
	fl.StringVar(&f.domain, "domain", "", "domain hint for the recognizer")
	fl.StringVar(&f.sessionID, "session-id", "", "session id (default: generated)")
	fl.StringVar(&f.encoding, "encoding", "", "chunk encoding: wav or flac")
	fl.IntVar(&f.chunkMs, "chunk-ms", 0, "audio per message in milliseconds")
	fl.IntVar(&f.queueSize, "queue-size", 0, "chunks kept while disconnected")
	fl.IntVar(&f.maxAttempts, "max-attempts", 0, "consecutive failed handshakes before giving up (negative: never)")
	fl.BoolVar(&f.insecure, "insecure", false, "allow ws:// endpoints")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	fl.StringVar(&f.wav, "wav", "", "stream a WAV file instead of the microphone")
	fl.BoolVar(&f.realtime, "realtime", true, "pace WAV playback at recording speed")
	fl.DurationVar(&f.linger, "linger", 3*time.Second, "wait for final messages after the WAV file ends")
	fl.StringVar(&f.device, "device", "", "use named microphone device")
	fl.BoolVar(&f.pickDevice, "pick-device", false, "choose the microphone interactively")
	fl.IntVar(&f.gain, "gain", 0, "linear microphone gain")
	fl.BoolVar(&f.tui, "tui", false, "live terminal view")
	fl.BoolVar(&f.copy, "copy", false, "copy the last message to the clipboard on exit")
	fl.BoolVar(&f.silenceEnd, "silence-stop", false, "stop after 30s without voice")
}

// apply overrides cfg with every flag set on the command line.
func (f *streamFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("endpoint") {
		cfg.Endpoint = f.endpoint
	}
	if changed("lang") {
		cfg.Language = f.language
	}
	if changed("tags") {
		cfg.Tags = f.tags
	}
	if changed("manual-punctuation") {
		cfg.ManualPunctuation = f.manualPunctuation
	}
	if changed("domain") {
		cfg.Domain = f.domain
	}
	if changed("session-id") {
		cfg.SessionID = f.sessionID
	}
	if changed("encoding") {
		cfg.Encoding = f.encoding
	}
	if changed("chunk-ms") {
		cfg.ChunkMs = f.chunkMs
	}
	if changed("queue-size") {
		cfg.QueueSize = f.queueSize
	}
	if changed("max-attempts") {
		cfg.MaxAttempts = f.maxAttempts
	}
	if changed("insecure") {
		cfg.Insecure = f.insecure
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
}

func runStream(cmd *cobra.Command, cfg *config.Config, f *streamFlags) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, reg)
		defer stopMetricsServer(srv)
	}

	src, closeSource, label, err := openSource(f)
	if err != nil {
		return err
	}
	defer closeSource()

	var prog *tea.Program
	if f.tui {
		prog = newTUIProgram()
	}
	sink := &transcriptSink{out: cmd.OutOrStdout(), tui: prog}
	metered := newMeteredSource(src, func(level float64) {
		if prog != nil {
			prog.Send(AudioLevelMsg{Level: level})
		}
	})

	failed := make(chan error, 1)
	opts := cfg.Options()
	opts.Registerer = reg
	opts.OnStateChange = func(s transcriber.State, err error) {
		if prog != nil {
			prog.Send(StateMsg{State: s, Err: err})
		} else if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %v\n", s, err)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s]\n", s)
		}
		if s == transcriber.StateFailed {
			select {
			case failed <- err:
			default:
			}
		}
	}

	session := cfg.Session()
	client, err := transcriber.New(session, metered, sink, opts)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	shutdown.Notify(sig)
	defer signal.Stop(sig)

	tuiDone := make(chan struct{})
	if prog != nil {
		go func() {
			defer close(tuiDone)
			if _, err := prog.Run(); err != nil {
				log.Errorf("TUI error: %v", err)
			}
		}()
		prog.Send(HeaderMsg{
			Endpoint: session.Endpoint,
			Language: session.Language,
			Session:  session.SessionID,
			Source:   label,
			Encoding: cfg.Encoding,
		})
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "streaming %s to %s (lang=%s session=%s)\n", label, session.Endpoint, session.Language, session.SessionID)
	}

	client.Start()
	ticker := time.NewTicker(silenceTick)
	defer ticker.Stop()

	watch := &silenceWatch{
		monitor: newSilenceMonitor(f.silenceEnd),
		notify: func(silent bool) {
			switch {
			case prog != nil:
				prog.Send(SilenceMsg{Silent: silent})
			case silent:
				fmt.Fprintln(cmd.ErrOrStderr(), "no voice detected")
			}
		},
	}
	var (
		ticks       int
		sourceEnded = metered.ended
		lingerDone  <-chan time.Time
		failure     error
	)
loop:
	for {
		select {
		case <-sig:
			break loop
		case <-tuiDone:
			break loop
		case err := <-failed:
			failure = err
			break loop
		case <-sourceEnded:
			sourceEnded = nil
			watch.ended = true
			lingerDone = time.After(f.linger)
		case <-lingerDone:
			break loop
		case <-ticker.C:
			ticks++
			if prog != nil && ticks%5 == 0 {
				prog.Send(StatsMsg{Stats: client.Stats()})
			}
			if watch.tick(metered.Peak()) {
				break loop
			}
		}
	}

	client.Stop()
	if prog != nil {
		prog.Quit()
		<-tuiDone
	}

	if f.copy {
		if last := sink.Last(); last != "" {
			if err := clipboard.Copy(last); err != nil {
				log.Warnf("clipboard copy failed: %v", err)
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), "last message copied to clipboard")
			}
		}
	}

	st := client.Stats()
	fmt.Fprintf(cmd.ErrOrStderr(), "sent %d chunks (%.1f KB), dropped %d, received %d messages, reconnects %d\n",
		st.SentChunks, float64(st.SentBytes)/1024, st.DroppedChunks, st.ReceivedMessages, st.Reconnects)
	if failure != nil {
		return fmt.Errorf("connection failed: %w", failure)
	}
	return nil
}

func openSource(f *streamFlags) (audio.FrameSource, func(), string, error) {
	if f.wav != "" {
		src, err := audio.OpenFile(f.wav, f.realtime)
		if err != nil {
			return nil, nil, "", fmt.Errorf("opening %s: %w", f.wav, err)
		}
		return src, func() { src.Close() }, "file: " + filepath.Base(f.wav), nil
	}

	actx, err := audio.NewContext()
	if err != nil {
		return nil, nil, "", fmt.Errorf("initializing audio: %w", err)
	}

	var dev *audio.DeviceInfo
	switch {
	case f.pickDevice:
		dev, err = audio.SelectDevice(actx)
		if err != nil {
			actx.Close()
			return nil, nil, "", err
		}
	case f.device != "":
		dev, err = audio.FindDevice(actx, f.device)
		if err != nil {
			actx.Close()
			return nil, nil, "", err
		}
	}

	capture, err := actx.NewCapture(dev, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
		Gain:       f.gain,
	})
	if err != nil {
		actx.Close()
		return nil, nil, "", fmt.Errorf("initializing capture device: %w", err)
	}
	src := audio.NewCaptureSource(capture, 0)
	closeFn := func() {
		src.Close()
		capture.Close()
		actx.Close()
	}
	return src, closeFn, deviceLabel(dev), nil
}

func deviceLabel(dev *audio.DeviceInfo) string {
	if dev == nil {
		return "mic: system default"
	}
	if audio.IsBluetooth(dev.Name) {
		return "mic: " + dev.Name + " (BT!)"
	}
	return "mic: " + dev.Name
}

// meteredSource reports the level of every frame and closes ended when
// the wrapped source runs out.
type meteredSource struct {
	src     audio.FrameSource
	onLevel func(float64)
	ended   chan struct{}
	once    sync.Once
	peak    atomic.Uint64 // math.Float64bits of the loudest frame since Peak
}

func newMeteredSource(src audio.FrameSource, onLevel func(float64)) *meteredSource {
	return &meteredSource{src: src, onLevel: onLevel, ended: make(chan struct{})}
}

func (m *meteredSource) NextFrame(ctx context.Context) ([]byte, error) {
	frame, err := m.src.NextFrame(ctx)
	if errors.Is(err, io.EOF) {
		m.once.Do(func() { close(m.ended) })
	}
	if err != nil {
		return frame, err
	}
	level := rmsLevel(frame)
	for {
		old := m.peak.Load()
		if level <= math.Float64frombits(old) || m.peak.CompareAndSwap(old, math.Float64bits(level)) {
			break
		}
	}
	if m.onLevel != nil {
		m.onLevel(level)
	}
	return frame, nil
}

// Peak returns the loudest frame level since the previous call.
func (m *meteredSource) Peak() float64 {
	return math.Float64frombits(m.peak.Swap(0))
}

// rmsLevel returns the RMS of PCM16 audio scaled to [0, 1].
func rmsLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// transcriptSink prints or displays every server message and keeps the
// last one for --copy.
type transcriptSink struct {
	out io.Writer
	tui *tea.Program

	mu    sync.Mutex
	last  string
	count int
}

func (s *transcriptSink) HandleMessage(msg string) error {
	log.TranscriptText(msg)
	text := messageText(msg)

	s.mu.Lock()
	s.last = text
	s.count++
	n := s.count
	s.mu.Unlock()

	if s.tui != nil {
		s.tui.Send(TranscriptMsg{Seq: n, Text: text})
		return nil
	}
	_, err := fmt.Fprintln(s.out, text)
	return err
}

func (s *transcriptSink) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// messageText extracts the display text from a JSON message, falling back
// to the raw payload.
func messageText(msg string) string {
	var fields map[string]any
	if err := json.Unmarshal([]byte(msg), &fields); err != nil {
		return msg
	}
	for _, key := range []string{"text", "transcript", "result"} {
		if s, ok := fields[key].(string); ok {
			return s
		}
	}
	return msg
}
