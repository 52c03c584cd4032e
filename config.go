package tquic

import (
	"time"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/logging"
)

// Config contains all configuration data needed for a QUIC connection.
type Config struct {
	// Versions are the QUIC versions offered (client) or accepted (server),
	// in order of preference. If empty, Version1 is used.
	Versions []Version

	// MaxIdleTimeout is the maximum duration that may pass without any incoming
	// network activity before the connection is closed silently.
	// The actual value used is the minimum of this value and the peer's.
	// If zero, protocol.DefaultIdleTimeout is used.
	MaxIdleTimeout time.Duration

	// HandshakeTimeout is the maximum duration the cryptographic handshake may take.
	// If zero, protocol.DefaultHandshakeTimeout is used.
	HandshakeTimeout time.Duration

	// InitialStreamReceiveWindow is the initial stream-level flow control window.
	InitialStreamReceiveWindow uint64
	// MaxStreamReceiveWindow is the ceiling the stream-level window may auto-tune to.
	MaxStreamReceiveWindow uint64
	// InitialConnectionReceiveWindow is the initial connection-level flow control window.
	InitialConnectionReceiveWindow uint64
	// MaxConnectionReceiveWindow is the ceiling the connection-level window may auto-tune to.
	MaxConnectionReceiveWindow uint64

	// MaxIncomingStreams is the maximum number of concurrent bidirectional streams
	// the peer may open. Values <= 0 disable peer-opened bidirectional streams.
	MaxIncomingStreams int64
	// MaxIncomingUniStreams is the same for unidirectional streams.
	MaxIncomingUniStreams int64

	// CongestionControl selects the congestion controller: "reno", "cubic" or "bbr".
	// The default is CUBIC.
	CongestionControl string

	// ConnectionIDLength is the length (in bytes) of the connection IDs issued.
	ConnectionIDLength int

	// Allow0RTT enables acceptance of 0-RTT data (server only).
	Allow0RTT bool

	// EnableDatagrams enables the unreliable datagram extension (RFC 9221).
	EnableDatagrams bool

	// KeepAlivePeriod, if nonzero, makes the connection send PING frames to keep
	// the connection alive when it would otherwise go idle. It is capped to half
	// the effective idle timeout.
	KeepAlivePeriod time.Duration

	// Tracer returns the tracer for a new connection, or nil.
	Tracer func(p logging.Perspective, odcid ConnectionID) *logging.ConnectionTracer
}

// Clone returns a shallow copy, or a fresh Config if c is nil.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	copied := *c
	return &copied
}

// populateConfig fills in default values for all fields that are left zero.
func populateConfig(config *Config) *Config {
	config = config.Clone()
	if len(config.Versions) == 0 {
		config.Versions = []Version{protocol.Version1}
	}
	if config.MaxIdleTimeout == 0 {
		config.MaxIdleTimeout = protocol.DefaultIdleTimeout
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = protocol.DefaultHandshakeTimeout
	}
	if config.InitialStreamReceiveWindow == 0 {
		config.InitialStreamReceiveWindow = protocol.InitialMaxStreamData
	}
	if config.MaxStreamReceiveWindow == 0 {
		config.MaxStreamReceiveWindow = protocol.DefaultMaxReceiveStreamFlowControlWindow
	}
	if config.InitialConnectionReceiveWindow == 0 {
		config.InitialConnectionReceiveWindow = protocol.InitialMaxData
	}
	if config.MaxConnectionReceiveWindow == 0 {
		config.MaxConnectionReceiveWindow = protocol.DefaultMaxReceiveConnectionFlowControlWindow
	}
	if config.MaxIncomingStreams == 0 {
		config.MaxIncomingStreams = protocol.DefaultMaxIncomingStreams
	} else if config.MaxIncomingStreams < 0 {
		config.MaxIncomingStreams = 0
	}
	if config.MaxIncomingUniStreams == 0 {
		config.MaxIncomingUniStreams = protocol.DefaultMaxIncomingUniStreams
	} else if config.MaxIncomingUniStreams < 0 {
		config.MaxIncomingUniStreams = 0
	}
	if config.ConnectionIDLength == 0 {
		config.ConnectionIDLength = protocol.DefaultConnectionIDLength
	}
	return config
}
