package transcriber

import (
	"errors"
	"fmt"
)

// errFlushed ends a connection after Stop drained the outbound queue.
var errFlushed = errors.New("outbound queue flushed")

// ConfigError reports an invalid SessionConfig or Options field. It is
// returned synchronously by New and is never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid session config: %s %s", e.Field, e.Reason)
}

// HandshakeError reports a failed connection attempt: dial, TLS, upgrade
// or the initial config message.
type HandshakeError struct {
	Attempt    int
	StatusCode int // HTTP status of a rejected upgrade, 0 otherwise
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("handshake attempt %d: status %d: %v", e.Attempt, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("handshake attempt %d: %v", e.Attempt, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// TransportError reports a failure on an established connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HandlerError wraps an error returned, or a panic raised, by a
// MessageHandler. It is logged and counted, never propagated.
type HandlerError struct {
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("message handler: %v", e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Retryable reports whether err is handled by the reconnection policy.
func Retryable(err error) bool {
	var he *HandshakeError
	var te *TransportError
	return errors.As(err, &he) || errors.As(err, &te)
}
