package network

// ConnState is the lifecycle state of a Connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateClosing
	StateFailed
)

var connStateStrings = map[ConnState]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateReady:          "ready",
	StateClosing:        "closing",
	StateFailed:         "failed",
}

// String returns the lowercase name of the state.
func (s ConnState) String() string {
	if str, ok := connStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes the state as a JSON string (e.g. "ready").
func (s ConnState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Open reports whether the socket may still carry traffic in this state.
func (s ConnState) Open() bool {
	return s == StateAuthenticating || s == StateReady
}
