package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"typeless/transcriber"
)

const envPrefix = "TYPELESS_"

// Config holds everything the CLI needs to build a streaming session.
type Config struct {
	Endpoint          string
	Language          string
	Tags              []string
	ManualPunctuation bool
	Domain            string
	SessionID         string
	Insecure          bool // allow ws:// endpoints; off unless set explicitly

	Encoding         string
	ChunkMs          int
	QueueSize        int
	HandshakeTimeout time.Duration
	FlushGrace       time.Duration
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	MaxAttempts      int

	MetricsAddr string
	MockAddr    string
	LogPath     string
}

func Default() *Config {
	opts := transcriber.DefaultOptions()
	return &Config{
		Endpoint:         "ws://127.0.0.1:8765/v1/stream",
		Language:         "en",
		Encoding:         opts.Encoding,
		ChunkMs:          int(opts.ChunkDuration / time.Millisecond),
		QueueSize:        opts.QueueSize,
		HandshakeTimeout: opts.HandshakeTimeout,
		FlushGrace:       opts.FlushGrace,
		BackoffInitial:   opts.Backoff.Initial,
		BackoffMax:       opts.Backoff.MaxDelay,
		MaxAttempts:      opts.Backoff.MaxAttempts,
		MockAddr:         "127.0.0.1:8765",
	}
}

// Load reads the given .env files (".env" when none are named), then
// TYPELESS_* variables. Missing files are ignored and variables already
// set in the environment win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	str("ENDPOINT", &c.Endpoint)
	str("LANGUAGE", &c.Language)
	str("DOMAIN", &c.Domain)
	str("SESSION_ID", &c.SessionID)
	str("ENCODING", &c.Encoding)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("MOCK_ADDR", &c.MockAddr)
	str("LOG_PATH", &c.LogPath)

	if v, ok := lookup("TAGS"); ok {
		c.Tags = SplitTags(v)
	}

	var errs []error
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean("MANUAL_PUNCTUATION", &c.ManualPunctuation)
	boolean("INSECURE", &c.Insecure)
	integer("CHUNK_MS", &c.ChunkMs)
	integer("QUEUE_SIZE", &c.QueueSize)
	integer("MAX_ATTEMPTS", &c.MaxAttempts)
	duration("HANDSHAKE_TIMEOUT", &c.HandshakeTimeout)
	duration("FLUSH_GRACE", &c.FlushGrace)
	duration("BACKOFF_INITIAL", &c.BackoffInitial)
	duration("BACKOFF_MAX", &c.BackoffMax)
	return errors.Join(errs...)
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// SplitTags parses a comma separated tag list.
func SplitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func (c *Config) Session() transcriber.SessionConfig {
	return transcriber.SessionConfig{
		Endpoint:          c.Endpoint,
		Language:          c.Language,
		Tags:              append([]string(nil), c.Tags...),
		ManualPunctuation: c.ManualPunctuation,
		Domain:            c.Domain,
		SessionID:         c.SessionID,
	}
}

// Options maps the tuning fields onto client options; callbacks and
// collectors are left for the caller.
func (c *Config) Options() transcriber.Options {
	opts := transcriber.DefaultOptions()
	opts.Encoding = c.Encoding
	opts.ChunkDuration = time.Duration(c.ChunkMs) * time.Millisecond
	opts.QueueSize = c.QueueSize
	opts.HandshakeTimeout = c.HandshakeTimeout
	opts.FlushGrace = c.FlushGrace
	opts.Backoff.Initial = c.BackoffInitial
	opts.Backoff.MaxDelay = c.BackoffMax
	opts.Backoff.MaxAttempts = c.MaxAttempts
	opts.AllowInsecure = c.Insecure
	return opts
}
