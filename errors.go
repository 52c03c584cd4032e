package tquic

import (
	"errors"
	"fmt"

	"github.com/liunix61/tquic/internal/qerr"
)

type (
	// TransportError is a QUIC transport-level error (RFC 9000, section 20.1).
	TransportError = qerr.TransportError
	// ApplicationError is an application-defined error.
	ApplicationError = qerr.ApplicationError
	// VersionNegotiationError is returned when the client and the server can't agree on a QUIC version.
	VersionNegotiationError = qerr.VersionNegotiationError
	// IdleTimeoutError is returned when the connection is closed due to an idle timeout.
	IdleTimeoutError = qerr.IdleTimeoutError
	// HandshakeTimeoutError is returned when the handshake didn't complete in time.
	HandshakeTimeoutError = qerr.HandshakeTimeoutError
)

type (
	TransportErrorCode   = qerr.TransportErrorCode
	ApplicationErrorCode = qerr.ApplicationErrorCode
	StreamErrorCode      = qerr.StreamErrorCode
)

const (
	NoError                   = qerr.NoError
	InternalError             = qerr.InternalError
	ConnectionRefused         = qerr.ConnectionRefused
	FlowControlError          = qerr.FlowControlError
	StreamLimitError          = qerr.StreamLimitError
	StreamStateError          = qerr.StreamStateError
	FinalSizeError            = qerr.FinalSizeError
	FrameEncodingError        = qerr.FrameEncodingError
	TransportParameterError   = qerr.TransportParameterError
	ConnectionIDLimitError    = qerr.ConnectionIDLimitError
	ProtocolViolation         = qerr.ProtocolViolation
	InvalidToken              = qerr.InvalidToken
	ApplicationErrorErrorCode = qerr.ApplicationErrorErrorCode
	CryptoBufferExceeded      = qerr.CryptoBufferExceeded
	KeyUpdateError            = qerr.KeyUpdateError
	AEADLimitReached          = qerr.AEADLimitReached
	NoViablePathError         = qerr.NoViablePathError
)

// ErrNothingToSend is returned by Connection.Send when no datagram is due right now.
// The embedder should wait for the next timeout or for an incoming datagram.
var ErrNothingToSend = errors.New("nothing to send")

// ErrConnectionClosed is wrapped by errors returned from operations on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// ErrTooManyOpenStreams is returned by OpenStream and OpenUniStream when the peer's
// stream limit is reached. A STREAMS_BLOCKED frame is queued automatically; the caller
// should retry after the peer raises the limit.
var ErrTooManyOpenStreams = errors.New("too many open streams")

// A StreamError is used to signal stream cancellations.
// It is returned from Read and Write on a stream that was reset by the peer
// or canceled locally.
type StreamError struct {
	StreamID  StreamID
	ErrorCode StreamErrorCode
	Remote    bool
}

func (e *StreamError) Is(target error) bool {
	t, ok := target.(*StreamError)
	return ok && e.StreamID == t.StreamID && e.ErrorCode == t.ErrorCode && e.Remote == t.Remote
}

func (e *StreamError) Error() string {
	pers := "local"
	if e.Remote {
		pers = "remote"
	}
	return fmt.Sprintf("stream %d canceled by %s with error code %d", e.StreamID, pers, e.ErrorCode)
}
