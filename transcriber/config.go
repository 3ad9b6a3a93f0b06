package transcriber

import (
	"net/url"
	"strings"
)

// SessionConfig holds the per-connection parameters sent in the handshake.
// ManualPunctuation and Domain are opaque to the client and passed through
// verbatim.
type SessionConfig struct {
	Endpoint          string
	Language          string
	Tags              []string
	ManualPunctuation bool
	Domain            string
	SessionID         string
}

// Validate checks the fields required to open a connection. Plain ws://
// endpoints are rejected unless allowInsecure is set.
func (c SessionConfig) Validate(allowInsecure bool) error {
	if c.Endpoint == "" {
		return &ConfigError{Field: "endpoint", Reason: "is required"}
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return &ConfigError{Field: "endpoint", Reason: "is not a valid URI: " + err.Error()}
	}
	if !u.IsAbs() || u.Host == "" {
		return &ConfigError{Field: "endpoint", Reason: "must be an absolute URI"}
	}
	switch u.Scheme {
	case "wss":
	case "ws":
		if !allowInsecure {
			return &ConfigError{Field: "endpoint", Reason: "must use the wss scheme"}
		}
	default:
		return &ConfigError{Field: "endpoint", Reason: "must use the wss scheme, got " + u.Scheme}
	}
	if strings.TrimSpace(c.Language) == "" {
		return &ConfigError{Field: "language", Reason: "is required"}
	}
	if strings.TrimSpace(c.SessionID) == "" {
		return &ConfigError{Field: "session id", Reason: "is required"}
	}
	return nil
}

// clone returns a deep copy with tags deduplicated in first-seen order.
func (c SessionConfig) clone() SessionConfig {
	out := c
	out.Tags = normalizeTags(c.Tags)
	return out
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
