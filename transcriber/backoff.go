package transcriber

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	defaultBackoffInitial     = time.Second
	defaultBackoffMaxDelay    = 30 * time.Second
	defaultBackoffMaxAttempts = 5
	defaultBackoffJitter      = 0.1
)

// Backoff controls reconnection delays. MaxAttempts bounds consecutive
// failed handshakes; zero selects the default and a negative value retries
// forever. Jitter is a fraction of the delay applied in both directions.
type Backoff struct {
	Initial     time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     defaultBackoffInitial,
		MaxDelay:    defaultBackoffMaxDelay,
		MaxAttempts: defaultBackoffMaxAttempts,
		Jitter:      defaultBackoffJitter,
	}
}

func normalizeBackoff(b Backoff) Backoff {
	if b.Initial <= 0 {
		b.Initial = defaultBackoffInitial
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = defaultBackoffMaxDelay
	}
	if b.MaxDelay < b.Initial {
		b.MaxDelay = b.Initial
	}
	if b.MaxAttempts == 0 {
		b.MaxAttempts = defaultBackoffMaxAttempts
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.Jitter > 1 {
		b.Jitter = 1
	}
	return b
}

// Exhausted reports whether failures consecutive handshake failures end the run.
func (b Backoff) Exhausted(failures int) bool {
	return b.MaxAttempts > 0 && failures >= b.MaxAttempts
}

// Delay returns the wait before retry n (1-based).
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := float64(b.Initial)
	for range retry - 1 {
		delay *= 2
		if delay >= float64(b.MaxDelay) {
			break
		}
	}
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter > 0 {
		delay += delay * b.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(delay)
}

// sleepWithContext returns false if ctx ended before d elapsed.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
