package server

// State tracks a session's progress from raw TCP connection to media
// delivery.
type State int

const (
	StateHandshakingTLS State = iota
	StateHandshakingWS
	StateNegotiating
	StateStreaming
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateHandshakingTLS:
		return "handshaking-tls"
	case StateHandshakingWS:
		return "handshaking-ws"
	case StateNegotiating:
		return "negotiating"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}
