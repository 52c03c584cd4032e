package tquic

import (
	"github.com/liunix61/tquic/internal/handshake"
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/logging"
)

type (
	// StreamID is a QUIC stream ID.
	StreamID = protocol.StreamID
	// A Version is a QUIC version number.
	Version = protocol.Version
	// A ByteCount is used to count bytes.
	ByteCount = protocol.ByteCount
	// A ConnectionID is a QUIC connection ID.
	ConnectionID = protocol.ConnectionID
)

// Version1 is QUIC version 1, as defined in RFC 9000.
const Version1 = protocol.Version1

// A StreamType is the type of a QUIC stream.
type StreamType uint8

const (
	// StreamTypeUni is a unidirectional stream.
	StreamTypeUni StreamType = iota
	// StreamTypeBidi is a bidirectional stream.
	StreamTypeBidi
)

type (
	// A HandshakeProvider is an external TLS 1.3 engine driving the cryptographic
	// handshake. The transport itself performs no TLS: it moves the provider's
	// handshake bytes in CRYPTO frames and installs the keys the provider derives.
	HandshakeProvider = handshake.Provider
	// HandshakeRunner is the callback interface a HandshakeProvider reports
	// handshake progress through.
	HandshakeRunner = handshake.Runner
	// ConnectionState records properties of the completed handshake.
	ConnectionState = handshake.ConnectionState
)

// A ConnectionTracer records connection-level events, e.g. for qlog output.
type ConnectionTracer = logging.ConnectionTracer
