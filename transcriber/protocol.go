package transcriber

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"typeless/encoder"
)

const (
	headerSessionID    = "X-Session-Id"
	headerConnectionID = "X-Connection-Id"

	closeReason = "Closing"
)

// configMessage is the first text message on every connection.
type configMessage struct {
	Language          string `json:"language"`
	Hotwords          string `json:"hotwords"`
	ManualPunctuation bool   `json:"manual_punctuation"`
	EndUserID         string `json:"end_user_id"`
	Domain            string `json:"domain"`
}

func newConfigMessage(cfg SessionConfig) configMessage {
	return configMessage{
		Language:          cfg.Language,
		Hotwords:          strings.Join(cfg.Tags, ","),
		ManualPunctuation: cfg.ManualPunctuation,
		EndUserID:         cfg.SessionID,
		Domain:            cfg.Domain,
	}
}

// audioMessage carries one encoded chunk.
type audioMessage struct {
	Audio string `json:"audio"`
	UID   string `json:"uid"`
}

func encodeAudioMessage(enc encoder.Encoder, uid string, pcm []byte) ([]byte, error) {
	data, err := enc.Encode(pcm)
	if err != nil {
		return nil, fmt.Errorf("encoding %s chunk: %w", enc.Format(), err)
	}
	return json.Marshal(audioMessage{
		Audio: base64.StdEncoding.EncodeToString(data),
		UID:   uid,
	})
}
