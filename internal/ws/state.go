package ws

// ConnState represents the lifecycle state of a venue stream connection.
type ConnState int32

// Connection states for stream lifecycle management.
const (
	// StateDisconnected indicates the stream is not connected.
	StateDisconnected ConnState = iota
	// StateConnecting indicates a connection attempt is in flight.
	StateConnecting
	// StateConnected indicates an active connection.
	StateConnected
	// StateClosed indicates the stream has been permanently closed.
	StateClosed
)

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	return [...]string{
		"disconnected",
		"connecting",
		"connected",
		"closed",
	}[s]
}
