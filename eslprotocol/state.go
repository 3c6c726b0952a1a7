package eslprotocol

// State is the lifecycle state of a connection.
type State int32

const (
	// StateDisconnected is the initial state, and the state after the server
	// drops the connection or sends a non-lingering disconnect notice.
	StateDisconnected State = iota
	// StateConnecting means the TCP connect is in progress.
	StateConnecting
	// StateAwaitingAuth means the socket is open and the client waits for
	// the server's auth/request.
	StateAwaitingAuth
	// StateAuthenticated means the password was accepted.
	StateAuthenticated
	// StateLingering means the server announced a lingering disconnect and
	// keeps delivering queued events.
	StateLingering
	// StateClosed is terminal: Stop has run.
	StateClosed
)

var stateNames = [...]string{
	"disconnected", "connecting", "awaiting-auth", "authenticated", "lingering", "closed",
}

// String returns the state's name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CanSend reports whether commands may be written in this state.
func (s State) CanSend() bool {
	return s == StateAuthenticated || s == StateLingering
}
