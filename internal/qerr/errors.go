// Package qerr contains the error types that terminate a QUIC connection.
package qerr

import (
	"fmt"
	"strings"

	"github.com/liunix61/tquic/internal/protocol"
)

var (
	ErrHandshakeTimeout = &HandshakeTimeoutError{}
	ErrIdleTimeout      = &IdleTimeoutError{}
)

// A TransportError is a QUIC transport error, as defined in RFC 9000, section 20.1.
type TransportError struct {
	Remote       bool
	FrameType    uint64
	ErrorCode    TransportErrorCode
	ErrorMessage string
}

var _ error = &TransportError{}

// NewLocalCryptoError creates a new TransportError instance for a crypto error
func NewLocalCryptoError(tlsAlert uint8, errorMessage string) *TransportError {
	return &TransportError{
		ErrorCode:    0x100 + TransportErrorCode(tlsAlert),
		ErrorMessage: errorMessage,
	}
}

func (e *TransportError) Error() string {
	str := e.ErrorCode.String()
	if e.FrameType != 0 {
		str += fmt.Sprintf(" (frame type: %#x)", e.FrameType)
	}
	msg := e.ErrorMessage
	if len(msg) == 0 {
		msg = e.ErrorCode.Message()
	}
	if len(msg) == 0 {
		return str
	}
	return str + ": " + msg
}

func (e *TransportError) Is(target error) bool {
	_, ok := target.(*TransportError)
	return ok
}

// An ApplicationErrorCode is an application-defined error code.
type ApplicationErrorCode uint64

// An ApplicationError is an application-defined error, transported in a
// CONNECTION_CLOSE frame with type 0x1d.
type ApplicationError struct {
	Remote       bool
	ErrorCode    ApplicationErrorCode
	ErrorMessage string
}

var _ error = &ApplicationError{}

func (e *ApplicationError) Error() string {
	if len(e.ErrorMessage) == 0 {
		return fmt.Sprintf("Application error %#x", e.ErrorCode)
	}
	return fmt.Sprintf("Application error %#x: %s", e.ErrorCode, e.ErrorMessage)
}

func (e *ApplicationError) Is(target error) bool {
	_, ok := target.(*ApplicationError)
	return ok
}

// An IdleTimeoutError is returned when the connection times out.
// The connection is closed silently, without sending a CONNECTION_CLOSE.
type IdleTimeoutError struct{}

var _ error = &IdleTimeoutError{}

func (e *IdleTimeoutError) Timeout() bool { return true }
func (e *IdleTimeoutError) Error() string { return "timeout: no recent network activity" }

func (e *IdleTimeoutError) Is(target error) bool {
	_, ok := target.(*IdleTimeoutError)
	return ok
}

// A HandshakeTimeoutError is returned when the handshake doesn't complete in time.
type HandshakeTimeoutError struct{}

var _ error = &HandshakeTimeoutError{}

func (e *HandshakeTimeoutError) Timeout() bool { return true }
func (e *HandshakeTimeoutError) Error() string { return "timeout: handshake did not complete in time" }

func (e *HandshakeTimeoutError) Is(target error) bool {
	_, ok := target.(*HandshakeTimeoutError)
	return ok
}

// A VersionNegotiationError occurs when the client and the server can't agree on a QUIC version.
type VersionNegotiationError struct {
	Ours   []protocol.Version
	Theirs []protocol.Version
}

func (e *VersionNegotiationError) Error() string {
	return fmt.Sprintf("no compatible QUIC version found (we support %s, server offered %s)", versionsToString(e.Ours), versionsToString(e.Theirs))
}

func (e *VersionNegotiationError) Is(target error) bool {
	_, ok := target.(*VersionNegotiationError)
	return ok
}

// A StreamErrorCode identifies why a stream was reset.
type StreamErrorCode uint64

// A StreamError is used to reset a stream, or reported when the peer did.
type StreamError struct {
	StreamID  protocol.StreamID
	ErrorCode StreamErrorCode
	Remote    bool
}

var _ error = &StreamError{}

func (e *StreamError) Is(target error) bool {
	_, ok := target.(*StreamError)
	return ok
}

func (e *StreamError) Error() string {
	pers := "local"
	if e.Remote {
		pers = "remote"
	}
	return fmt.Sprintf("stream %d canceled by %s with error code %d", e.StreamID, pers, e.ErrorCode)
}

func versionsToString(versions []protocol.Version) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range versions {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.String())
	}
	b.WriteByte(']')
	return b.String()
}
