package doctor

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"typeless/audio"
	"typeless/clipboard"
	"typeless/config"
	"typeless/encoder"
	"typeless/log"
	"typeless/shutdown"
	"typeless/transcriber"
)

const micSample = 2 * time.Second

type check struct {
	name string
	run  func(w io.Writer) bool
}

// Run executes the diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg *config.Config, w io.Writer) int {
	setupInterruptHandler()

	fmt.Fprintln(w, "typeless doctor - system diagnostics")
	fmt.Fprintln(w, "====================================")

	checks := []check{
		{"Log directory", checkLogDir},
		{"Microphone", checkMicrophone},
		{"Transcription endpoint", func(w io.Writer) bool {
			return CheckEndpoint(w, cfg.Session(), cfg.Options())
		}},
		{"Clipboard", checkClipboard},
	}

	allPass := true
	for i, c := range checks {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "[%d/%d] %s\n", i+1, len(checks), c.name)
		if !c.run(w) {
			allPass = false
		}
	}

	fmt.Fprintln(w)
	if allPass {
		fmt.Fprintln(w, "All checks passed!")
		return 0
	}
	fmt.Fprintln(w, "Some checks failed. See details above.")
	return 1
}

func setupInterruptHandler() {
	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		println("\nInterrupted")
		os.Exit(1)
	}()
}

func checkLogDir(w io.Writer) bool {
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(w, "  FAIL: %v\n", err)
		return false
	}
	probe := filepath.Join(log.Dir(), ".doctor")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		fmt.Fprintf(w, "  FAIL: %s is not writable: %v\n", log.Dir(), err)
		return false
	}
	os.Remove(probe)
	fmt.Fprintf(w, "  PASS: writing logs to %s\n", log.Dir())
	return true
}

func checkMicrophone(w io.Writer) bool {
	actx, err := audio.NewContext()
	if err != nil {
		fmt.Fprintf(w, "  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer actx.Close()

	devices, err := actx.Devices()
	if err != nil {
		fmt.Fprintf(w, "  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Fprintln(w, "  FAIL: no capture devices found")
		return false
	}
	for _, d := range devices {
		note := ""
		if audio.IsBluetooth(d.Name) {
			note = " (bluetooth, may switch to low quality profile)"
		}
		fmt.Fprintf(w, "  found: %s%s\n", d.Name, note)
	}

	dev, err := actx.NewCapture(nil, audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels})
	if err != nil {
		fmt.Fprintf(w, "  FAIL: cannot open default device: %v\n", err)
		return false
	}
	src := audio.NewCaptureSource(dev, 0)
	defer func() {
		src.Close()
		dev.Close()
	}()

	fmt.Fprintf(w, "  Sampling default device for %s...\n", micSample)
	ctx, cancel := context.WithTimeout(context.Background(), micSample)
	defer cancel()
	var pcm []byte
	for {
		frame, err := src.NextFrame(ctx)
		if err != nil {
			break
		}
		pcm = append(pcm, frame...)
	}
	if len(pcm) == 0 {
		fmt.Fprintln(w, "  FAIL: no audio captured")
		return false
	}
	fmt.Fprintf(w, "  PASS: captured %.1fs, level %.1f dBFS\n", encoder.Duration(len(pcm)), levelDBFS(pcm))
	return true
}

// levelDBFS returns the RMS level of PCM16 audio relative to full scale.
func levelDBFS(pcm []byte) float64 {
	samples := encoder.Samples(pcm)
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

// CheckEndpoint performs a single handshake against the configured
// endpoint and closes the connection again.
func CheckEndpoint(w io.Writer, session transcriber.SessionConfig, opts transcriber.Options) bool {
	opened := make(chan error, 1)
	opts.Backoff.MaxAttempts = 1
	opts.OnStateChange = func(s transcriber.State, err error) {
		if s != transcriber.StateOpen && s != transcriber.StateFailed {
			return
		}
		select {
		case opened <- err:
		default:
		}
	}

	c, err := transcriber.New(session, idleSource{}, transcriber.HandlerFunc(func(string) error { return nil }), opts)
	if err != nil {
		fmt.Fprintf(w, "  FAIL: %v\n", err)
		return false
	}
	fmt.Fprintf(w, "  Connecting to %s...\n", session.Endpoint)
	start := time.Now()
	c.Start()
	defer c.Stop()

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = transcriber.DefaultOptions().HandshakeTimeout
	}
	select {
	case err := <-opened:
		if err != nil {
			fmt.Fprintf(w, "  FAIL: %v\n", err)
			return false
		}
	case <-time.After(timeout + time.Second):
		fmt.Fprintln(w, "  FAIL: timed out waiting for handshake")
		return false
	}
	fmt.Fprintf(w, "  PASS: handshake completed in %s\n", time.Since(start).Round(time.Millisecond))
	return true
}

// idleSource produces no audio until the client stops.
type idleSource struct{}

func (idleSource) NextFrame(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func checkClipboard(w io.Writer) bool {
	probe := fmt.Sprintf("typeless-doctor-%d", time.Now().UnixNano())
	done := make(chan error, 1)
	go func() { done <- clipboard.Verify(probe) }()

	select {
	case err := <-done:
		if err != nil {
			fmt.Fprintf(w, "  FAIL: %v\n", err)
			return false
		}
		fmt.Fprintln(w, "  PASS: clipboard write/read verified")
		return true
	case <-time.After(3 * time.Second):
		fmt.Fprintln(w, "  FAIL: clipboard timed out (clipboard tool hung - compositor not accessible?)")
		return false
	}
}
