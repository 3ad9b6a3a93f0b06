package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	appName            = "typeless"
	diagFileName       = "diagnostics_log.txt"
	transcriptFileName = "transcript_log.txt"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       bool
	debug          bool
	pid            int
	dir            string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: --logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: TYPELESS_LOG_PATH environment variable
	if envPath := os.Getenv("TYPELESS_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return defaultDir(runtime.GOOS, os.Getenv)
}

func defaultDir(goos string, getenv func(string) string) (string, error) {
	if goos == "windows" {
		if local := getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appName, "logs"), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch goos {
	case "windows":
		return filepath.Join(home, "AppData", "Local", appName, "logs"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Logs", appName), nil
	}
	state := getenv("XDG_STATE_HOME")
	if state == "" {
		state = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(state, appName, "logs"), nil
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// SetDebug enables debug-level events. Must be called before Init.
func SetDebug(on bool) {
	debug = on
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagFile, err = os.OpenFile(filepath.Join(dir, diagFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcriptFile, err = os.OpenFile(filepath.Join(dir, transcriptFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	setWriter(diagFile)
	logReady = true
	return nil
}

// InitWriter routes diagnostics to w without touching the filesystem.
// Transcript lines are discarded.
func InitWriter(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	pid = os.Getpid()
	setWriter(w)
	logReady = true
}

func setWriter(w io.Writer) {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006-01-02 15:04:05.000",
		NoColor:    true,
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	diagLog = zerolog.New(consoleWriter).Level(level).With().Timestamp().Int("pid", pid).Logger()
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
	logReady = false
}

func Debugf(format string, args ...any) {
	if logReady {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(endpoint, language, sessionID, encoding string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("endpoint", endpoint).
		Str("language", language).
		Str("session", sessionID).
		Str("encoding", encoding).
		Msg("session_start")
}

func SessionEnd(messages int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("messages", messages).
		Msg("session_end")
}

func StateChange(from, to string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("from", from).
		Str("to", to).
		Msg("state")
}

func HandshakeResult(connID string, attempt int, d time.Duration, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Warn().Err(err)
	}
	ev.Str("conn", connID).
		Int("attempt", attempt).
		Float64("ms", float64(d.Microseconds())/1000).
		Msg("handshake")
}

func ReconnectScheduled(retry int, delay time.Duration, cause error) {
	if !logReady {
		return
	}
	ev := diagLog.Warn().
		Int("retry", retry).
		Dur("delay", delay)
	if cause != nil {
		ev = ev.Err(cause)
	}
	ev.Msg("reconnect_scheduled")
}

type StreamMetricsData struct {
	ConnectMs    float64
	DurationS    float64
	SentChunks   int
	SentKB       float64
	DroppedChunk int
	RecvMessages int
	Reconnects   int
}

func StreamMetrics(m StreamMetricsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("connect_ms", m.ConnectMs).
		Float64("duration_s", m.DurationS).
		Int("sent_chunks", m.SentChunks).
		Float64("sent_kb", m.SentKB).
		Int("dropped_chunks", m.DroppedChunk).
		Int("recv_messages", m.RecvMessages).
		Int("reconnects", m.Reconnects).
		Msg("stream_metrics")
}

func TranscriptText(text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if transcriptFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transcriptFile.WriteString(line)
}
