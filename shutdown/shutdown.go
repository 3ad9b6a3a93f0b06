// Package shutdown turns the platform's termination signals into channel
// notifications or context cancellation.
package shutdown

import (
	"context"
	"os"
	"os/signal"
)

// Notify relays termination signals to ch.
func Notify(ch chan<- os.Signal) {
	signal.Notify(ch, signals...)
}

// Context returns a copy of parent cancelled on the first termination
// signal. stop releases the signal registration.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}
