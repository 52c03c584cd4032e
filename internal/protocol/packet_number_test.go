package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// the example from RFC 9000, appendix A.3
func TestDecodePacketNumber(t *testing.T) {
	assert.Equal(t, PacketNumber(0xa82f9b32), DecodePacketNumber(PacketNumberLen2, 0xa82f30ea, 0x9b32))
}

func TestDecodePacketNumberRoundTrip(t *testing.T) {
	for _, l := range []PacketNumberLen{PacketNumberLen1, PacketNumberLen2, PacketNumberLen3, PacketNumberLen4} {
		for _, pn := range []PacketNumber{1, 10_000, 1 << 20, (1 << 30) + 13} {
			// a truncated packet number, as it would appear on the wire
			truncated := pn & (1<<(l*8) - 1)
			// the receiver's largest received is somewhere shortly below pn
			for _, diff := range []PacketNumber{1, 2, 10} {
				largest := pn - diff
				if largest < 0 {
					continue
				}
				if PacketNumber(diff) >= 1<<(l*8)/2 {
					continue // not representable with this length
				}
				require.Equal(t, pn, DecodePacketNumber(l, largest, truncated), "len %d, pn %d, largest %d", l, pn, largest)
			}
		}
	}
}

func TestPacketNumberLengthForHeader(t *testing.T) {
	assert.Equal(t, PacketNumberLen2, PacketNumberLengthForHeader(1, InvalidPacketNumber))
	assert.Equal(t, PacketNumberLen2, PacketNumberLengthForHeader(1<<14, 1<<14-1))
	assert.Equal(t, PacketNumberLen3, PacketNumberLengthForHeader(1<<15+1, 1))
	assert.Equal(t, PacketNumberLen4, PacketNumberLengthForHeader(1<<24, 1))
}
