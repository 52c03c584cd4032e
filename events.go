package tquic

import "fmt"

// EventKind identifies the kind of a connection event.
type EventKind uint8

const (
	// EventKindNone is the zero value. PollEvent never returns it with ok == true.
	EventKindNone EventKind = iota
	// EventKindHandshakeComplete fires once, when the cryptographic handshake completes.
	EventKindHandshakeComplete
	// EventKindStreamOpened fires when the peer opens a new stream.
	EventKindStreamOpened
	// EventKindStreamReadable fires when a stream transitions from having no
	// readable data to having some (including arrival of the FIN or a reset).
	EventKindStreamReadable
	// EventKindStreamWritable fires when a write-blocked stream gains send capacity.
	EventKindStreamWritable
	// EventKindStreamReset fires when the peer resets the receiving side of a stream.
	EventKindStreamReset
	// EventKindStreamStopped fires when the peer sends STOP_SENDING for a stream.
	EventKindStreamStopped
	// EventKindDatagramReceived fires when an unreliable datagram arrives.
	EventKindDatagramReceived
	// EventKindPathValidated fires when a new peer address passed path
	// validation and the connection migrated to it.
	EventKindPathValidated
	// EventKindConnectionClosed fires once, when the connection is closed,
	// whether locally, by the peer, or by a timeout.
	EventKindConnectionClosed
)

func (k EventKind) String() string {
	switch k {
	case EventKindNone:
		return "none"
	case EventKindHandshakeComplete:
		return "handshake_complete"
	case EventKindStreamOpened:
		return "stream_opened"
	case EventKindStreamReadable:
		return "stream_readable"
	case EventKindStreamWritable:
		return "stream_writable"
	case EventKindStreamReset:
		return "stream_reset"
	case EventKindStreamStopped:
		return "stream_stopped"
	case EventKindDatagramReceived:
		return "datagram_received"
	case EventKindPathValidated:
		return "path_validated"
	case EventKindConnectionClosed:
		return "connection_closed"
	default:
		return fmt.Sprintf("unknown event (%d)", uint8(k))
	}
}

// An Event reports connection progress to the embedder.
// Events are returned by Connection.PollEvent in the order they occurred.
type Event struct {
	Kind EventKind
	// StreamID is set for stream events.
	StreamID StreamID
	// ErrorCode is set for EventKindStreamReset and EventKindStreamStopped.
	ErrorCode StreamErrorCode
	// Error is set for EventKindConnectionClosed. It is an *ApplicationError,
	// *TransportError, *IdleTimeoutError, *HandshakeTimeoutError or
	// *VersionNegotiationError.
	Error error
}
