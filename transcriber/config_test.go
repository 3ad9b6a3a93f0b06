package transcriber

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeless/encoder"
)

func TestSessionConfigValidate(t *testing.T) {
	valid := SessionConfig{Endpoint: "wss://stt.example.com/v1", Language: "en", SessionID: "s-1"}
	for _, tt := range []struct {
		name     string
		mutate   func(*SessionConfig)
		insecure bool
		field    string
	}{
		{"valid", func(*SessionConfig) {}, false, ""},
		{"missing endpoint", func(c *SessionConfig) { c.Endpoint = "" }, false, "endpoint"},
		{"relative endpoint", func(c *SessionConfig) { c.Endpoint = "/v1/stream" }, false, "endpoint"},
		{"https endpoint", func(c *SessionConfig) { c.Endpoint = "https://stt.example.com" }, false, "endpoint"},
		{"plain ws", func(c *SessionConfig) { c.Endpoint = "ws://localhost:8080" }, false, "endpoint"},
		{"plain ws allowed", func(c *SessionConfig) { c.Endpoint = "ws://localhost:8080" }, true, ""},
		{"bad uri", func(c *SessionConfig) { c.Endpoint = "wss://%zz" }, false, "endpoint"},
		{"missing language", func(c *SessionConfig) { c.Language = " " }, false, "language"},
		{"missing session", func(c *SessionConfig) { c.SessionID = "" }, false, "session id"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate(tt.insecure)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
			assert.False(t, Retryable(err))
		})
	}
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"typeless", "whisper"}, normalizeTags([]string{" typeless", "", "whisper", "typeless "}))
	assert.Empty(t, normalizeTags(nil))
}

func TestConfigMessageFields(t *testing.T) {
	cfg := SessionConfig{
		Language:          "fr",
		Tags:              []string{"a", "b"},
		ManualPunctuation: true,
		Domain:            "gynécologie",
		SessionID:         "12345",
	}
	data, err := json.Marshal(newConfigMessage(cfg))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, map[string]any{
		"language":           "fr",
		"hotwords":           "a,b",
		"manual_punctuation": true,
		"end_user_id":        "12345",
		"domain":             "gynécologie",
	}, fields)
}

func TestEncodeAudioMessage(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	data, err := encodeAudioMessage(encoder.WAV{}, "uid-1", pcm)
	require.NoError(t, err)

	var msg audioMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "uid-1", msg.UID)
	raw, err := base64.StdEncoding.DecodeString(msg.Audio)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(raw[:4]))
	assert.Equal(t, pcm, raw[encoder.WAVHeaderSize:])
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("refused")
	he := &HandshakeError{Attempt: 2, StatusCode: 503, Err: cause}
	assert.ErrorIs(t, he, cause)
	assert.Contains(t, he.Error(), "status 503")
	assert.True(t, Retryable(he))

	te := &TransportError{Op: "read", Err: cause}
	assert.ErrorIs(t, te, cause)
	assert.True(t, Retryable(te))

	assert.False(t, Retryable(&HandlerError{Err: cause}))
	assert.False(t, Retryable(cause))
}
