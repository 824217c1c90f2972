package feed

import "time"

// State is the connection state of the Adapter. A session moves
// Connecting -> Authenticating -> Subscribed, then to Streaming on the first
// monitored tick. Streaming returns to Subscribed when the monitored set
// empties. Any failure goes to Disconnected, or Exhausted once the reconnect
// budget is spent.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
	StateStreaming
	// StateExhausted means reconnect attempts ran out; the feed is unavailable
	// until restart.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Live reports whether subscription commands can be sent in this state.
func (s State) Live() bool {
	return s == StateSubscribed || s == StateStreaming
}

// Status is a point-in-time view of the Adapter.
type Status struct {
	State       State      `json:"state"`
	Monitored   []string   `json:"monitored"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	LastTickAt  *time.Time `json:"last_tick_at,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}
