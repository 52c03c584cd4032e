// Package wire implements the wire encoding of QUIC packet headers and frames.
package wire

import (
	"github.com/liunix61/tquic/internal/protocol"
)

// A Frame in QUIC
type Frame interface {
	Append(b []byte, version protocol.Version) ([]byte, error)
	Length(version protocol.Version) protocol.ByteCount
}

// A FrameParser parses QUIC frames, one by one.
type FrameParser interface {
	ParseNext(data []byte, encLevel protocol.EncryptionLevel, v protocol.Version) (int, Frame, error)
	SetAckDelayExponent(uint8)
}
