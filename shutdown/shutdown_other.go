//go:build !windows

package shutdown

import (
	"os"
	"syscall"
)

// SIGHUP covers a closed terminal while streaming.
var signals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
