package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"ENDPOINT", "LANGUAGE", "TAGS", "DOMAIN", "SESSION_ID", "ENCODING",
		"MANUAL_PUNCTUATION", "INSECURE", "CHUNK_MS", "QUEUE_SIZE", "MAX_ATTEMPTS",
		"HANDSHAKE_TIMEOUT", "FLUSH_GRACE", "BACKOFF_INITIAL", "BACKOFF_MAX",
		"METRICS_ADDR", "MOCK_ADDR", "LOG_PATH",
	} {
		t.Setenv(envPrefix+name, "")
		os.Unsetenv(envPrefix + name)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Endpoint, cfg.Endpoint)
	assert.Equal(t, "en", cfg.Language)
	assert.Equal(t, 1000, cfg.ChunkMs)
	assert.Equal(t, 32, cfg.QueueSize)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.NotEmpty(t, cfg.SessionID)
	assert.False(t, cfg.Insecure)
	assert.False(t, cfg.Options().AllowInsecure)
}

func TestPlainWebsocketNeedsOptIn(t *testing.T) {
	clearEnv(t)
	t.Setenv("TYPELESS_ENDPOINT", "ws://prod.example/x")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	opts := cfg.Options()
	assert.Error(t, cfg.Session().Validate(opts.AllowInsecure), "ws:// rejected by default")

	t.Setenv("TYPELESS_INSECURE", "true")
	cfg, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	opts = cfg.Options()
	assert.NoError(t, cfg.Session().Validate(opts.AllowInsecure))
}

func TestLoadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TYPELESS_ENDPOINT", "wss://stt.example.com/v1")
	t.Setenv("TYPELESS_LANGUAGE", "fr")
	t.Setenv("TYPELESS_TAGS", "typeless, whisper,,")
	t.Setenv("TYPELESS_MANUAL_PUNCTUATION", "true")
	t.Setenv("TYPELESS_DOMAIN", "gynécologie")
	t.Setenv("TYPELESS_SESSION_ID", "12345")
	t.Setenv("TYPELESS_CHUNK_MS", "500")
	t.Setenv("TYPELESS_BACKOFF_INITIAL", "250ms")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	s := cfg.Session()
	assert.Equal(t, "wss://stt.example.com/v1", s.Endpoint)
	assert.Equal(t, "fr", s.Language)
	assert.Equal(t, []string{"typeless", "whisper"}, s.Tags)
	assert.True(t, s.ManualPunctuation)
	assert.Equal(t, "gynécologie", s.Domain)
	assert.Equal(t, "12345", s.SessionID)

	opts := cfg.Options()
	assert.Equal(t, 500*time.Millisecond, opts.ChunkDuration)
	assert.Equal(t, 250*time.Millisecond, opts.Backoff.Initial)
}

func TestLoadDotEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TYPELESS_LANGUAGE=de\nTYPELESS_QUEUE_SIZE=8\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("TYPELESS_LANGUAGE")
		os.Unsetenv("TYPELESS_QUEUE_SIZE")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "de", cfg.Language)
	assert.Equal(t, 8, cfg.QueueSize)
}

func TestEnvironmentWinsOverDotEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TYPELESS_LANGUAGE", "es")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TYPELESS_LANGUAGE=de\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "es", cfg.Language)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("TYPELESS_QUEUE_SIZE", "many")
	t.Setenv("TYPELESS_HANDSHAKE_TIMEOUT", "soon")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TYPELESS_QUEUE_SIZE")
	assert.Contains(t, err.Error(), "TYPELESS_HANDSHAKE_TIMEOUT")
}

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitTags(" a ,b,"))
	assert.Nil(t, SplitTags(""))
}
