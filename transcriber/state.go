package transcriber

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateOpen:       "open",
	StateClosing:    "closing",
	StateClosed:     "closed",
	StateFailed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Active reports whether a run is in progress.
func (s State) Active() bool {
	return s == StateConnecting || s == StateOpen
}
