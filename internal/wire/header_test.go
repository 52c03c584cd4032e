package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liunix61/tquic/internal/protocol"
)

func TestParseConnectionIDLongHeader(t *testing.T) {
	b := []byte{0xc0, 0x0, 0x0, 0x0, 0x1, 0x4, 0xde, 0xad, 0xbe, 0xef, 0x0}
	connID, err := ParseConnectionID(b, 8)
	require.NoError(t, err)
	require.Equal(t, protocol.ParseConnectionID([]byte{0xde, 0xad, 0xbe, 0xef}), connID)
}

func TestParseConnectionIDShortHeader(t *testing.T) {
	b := []byte{0x40, 0xde, 0xad, 0xbe, 0xef, 0xca, 0xfe, 0x13, 0x37, 0x99}
	connID, err := ParseConnectionID(b, 8)
	require.NoError(t, err)
	require.Equal(t, protocol.ParseConnectionID([]byte{0xde, 0xad, 0xbe, 0xef, 0xca, 0xfe, 0x13, 0x37}), connID)

	// too short
	_, err = ParseConnectionID(b[:5], 8)
	require.Error(t, err)
}

func TestIsLongHeaderPacket(t *testing.T) {
	require.True(t, IsLongHeaderPacket(0xc0))
	require.True(t, IsLongHeaderPacket(0x80^0x40^0x12))
	require.False(t, IsLongHeaderPacket(0x40))
	require.False(t, IsLongHeaderPacket(0))
}

func TestParseVersion(t *testing.T) {
	b := []byte{0xc0, 0, 0, 0, 1}
	v, err := ParseVersion(b)
	require.NoError(t, err)
	require.Equal(t, protocol.Version1, v)

	_, err = ParseVersion(b[:4])
	require.Error(t, err)
}

func TestIsVersionNegotiationPacket(t *testing.T) {
	require.True(t, IsVersionNegotiationPacket([]byte{0x80, 0, 0, 0, 0}))
	require.False(t, IsVersionNegotiationPacket([]byte{0x80, 0, 0, 0, 1}))
	require.False(t, IsVersionNegotiationPacket([]byte{0x40, 0, 0, 0, 0}))
	require.False(t, IsVersionNegotiationPacket([]byte{0x80, 0, 0, 0}))
}

func buildInitialPacket(t *testing.T, hdr *ExtendedHeader, payloadLen int) []byte {
	t.Helper()
	hdr.Length = protocol.ByteCount(payloadLen) + protocol.ByteCount(hdr.PacketNumberLen)
	b, err := hdr.Append(nil, protocol.Version1)
	require.NoError(t, err)
	return append(b, make([]byte, payloadLen)...)
}

func TestParsePacketInitial(t *testing.T) {
	destConnID := protocol.ParseConnectionID([]byte{0xde, 0xad, 0xbe, 0xef, 0xca, 0xfe})
	srcConnID := protocol.ParseConnectionID([]byte{0x13, 0x37})
	hdrIn := &ExtendedHeader{
		Header: Header{
			Type:             protocol.PacketTypeInitial,
			DestConnectionID: destConnID,
			SrcConnectionID:  srcConnID,
			Token:            []byte("foobar"),
			Version:          protocol.Version1,
		},
		PacketNumber:    0x1337,
		PacketNumberLen: protocol.PacketNumberLen2,
	}
	data := buildInitialPacket(t, hdrIn, 25)

	hdr, packetData, rest, err := ParsePacket(data)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, len(data), len(packetData))
	require.Equal(t, protocol.PacketTypeInitial, hdr.Type)
	require.Equal(t, destConnID, hdr.DestConnectionID)
	require.Equal(t, srcConnID, hdr.SrcConnectionID)
	require.Equal(t, []byte("foobar"), hdr.Token)
	require.Equal(t, protocol.Version1, hdr.Version)

	extHdr, err := hdr.ParseExtended(data)
	require.NoError(t, err)
	require.Equal(t, protocol.PacketNumber(0x1337), extHdr.PacketNumber)
	require.Equal(t, protocol.PacketNumberLen2, extHdr.PacketNumberLen)
}

func TestParsePacketCutsCoalescedPackets(t *testing.T) {
	hdr1 := &ExtendedHeader{
		Header: Header{
			Type:             protocol.PacketTypeInitial,
			DestConnectionID: protocol.ParseConnectionID([]byte{1, 2, 3, 4}),
			Version:          protocol.Version1,
		},
		PacketNumber:    1,
		PacketNumberLen: protocol.PacketNumberLen1,
	}
	hdr2 := &ExtendedHeader{
		Header: Header{
			Type:             protocol.PacketTypeHandshake,
			DestConnectionID: protocol.ParseConnectionID([]byte{1, 2, 3, 4}),
			Version:          protocol.Version1,
		},
		PacketNumber:    2,
		PacketNumberLen: protocol.PacketNumberLen1,
	}
	packet1 := buildInitialPacket(t, hdr1, 10)
	packet2 := buildInitialPacket(t, hdr2, 20)
	data := append(append([]byte{}, packet1...), packet2...)

	hdr, packetData, rest, err := ParsePacket(data)
	require.NoError(t, err)
	require.Equal(t, protocol.PacketTypeInitial, hdr.Type)
	require.Equal(t, packet1, packetData)
	require.Equal(t, packet2, rest)

	hdrNext, packetData2, rest2, err := ParsePacket(rest)
	require.NoError(t, err)
	require.Equal(t, protocol.PacketTypeHandshake, hdrNext.Type)
	require.Equal(t, packet2, packetData2)
	require.Empty(t, rest2)
}

func TestParsePacketRejectsTruncatedPackets(t *testing.T) {
	hdr := &ExtendedHeader{
		Header: Header{
			Type:             protocol.PacketTypeHandshake,
			DestConnectionID: protocol.ParseConnectionID([]byte{1, 2, 3, 4}),
			Version:          protocol.Version1,
		},
		PacketNumber:    42,
		PacketNumberLen: protocol.PacketNumberLen2,
	}
	data := buildInitialPacket(t, hdr, 100)
	_, _, _, err := ParsePacket(data[:len(data)-1])
	require.Error(t, err)
}

func TestParsePacketUnsupportedVersion(t *testing.T) {
	b := []byte{0xc0}
	b = binary.BigEndian.AppendUint32(b, 0xdeadbeef) // unknown version
	b = append(b, 0x0, 0x0)                          // empty connection IDs
	hdr, _, _, err := ParsePacket(b)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
	require.NotNil(t, hdr)
	require.Equal(t, protocol.Version(0xdeadbeef), hdr.Version)
}

func TestParseShortHeaderPacket(t *testing.T) {
	connID := protocol.ParseConnectionID([]byte{0xde, 0xad, 0xbe, 0xef})
	b, err := AppendShortHeader(nil, connID, 0x1337, protocol.PacketNumberLen2, protocol.KeyPhaseOne)
	require.NoError(t, err)
	require.Equal(t, int(ShortHeaderLen(connID, protocol.PacketNumberLen2)), len(b))

	l, pn, pnLen, kp, err := ParseShortHeader(b, connID.Len())
	require.NoError(t, err)
	require.Equal(t, len(b), l)
	require.Equal(t, protocol.PacketNumber(0x1337), pn)
	require.Equal(t, protocol.PacketNumberLen2, pnLen)
	require.Equal(t, protocol.KeyPhaseOne, kp)
}

func TestVersionNegotiationPacket(t *testing.T) {
	srcConnID := protocol.ArbitraryLenConnectionID{1, 2, 3, 4}
	destConnID := protocol.ArbitraryLenConnectionID{5, 6, 7, 8, 9, 10}
	versions := []protocol.Version{0x22334455, 0x33445566}

	data := ComposeVersionNegotiation(destConnID, srcConnID, versions)
	require.True(t, IsVersionNegotiationPacket(data))

	dest, src, supportedVersions, err := ParseVersionNegotiationPacket(data)
	require.NoError(t, err)
	require.Equal(t, destConnID, dest)
	require.Equal(t, srcConnID, src)
	for _, v := range versions {
		require.Contains(t, supportedVersions, v)
	}
}

func TestParseArbitraryLenConnectionIDs(t *testing.T) {
	b := []byte{0x80, 0, 0, 0, 0}
	b = append(b, 10)
	b = append(b, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}...)
	b = append(b, 3)
	b = append(b, []byte{11, 12, 13}...)
	b = append(b, []byte("foobar")...) // payload

	parsed, dest, src, err := ParseArbitraryLenConnectionIDs(b)
	require.NoError(t, err)
	require.Equal(t, len(b)-6, parsed)
	require.Equal(t, protocol.ArbitraryLenConnectionID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, dest)
	require.Equal(t, protocol.ArbitraryLenConnectionID{11, 12, 13}, src)
}

func TestExtendedHeaderGetLength(t *testing.T) {
	hdr := &ExtendedHeader{
		Header: Header{
			Type:             protocol.PacketTypeHandshake,
			DestConnectionID: protocol.ParseConnectionID([]byte{1, 2, 3, 4}),
			SrcConnectionID:  protocol.ParseConnectionID([]byte{5, 6, 7, 8}),
			Length:           1,
			Version:          protocol.Version1,
		},
		PacketNumber:    0x42,
		PacketNumberLen: protocol.PacketNumberLen2,
	}
	b, err := hdr.Append(nil, protocol.Version1)
	require.NoError(t, err)
	require.Equal(t, hdr.GetLength(protocol.Version1), protocol.ByteCount(len(b)))
}

func TestParsePacketEmptyData(t *testing.T) {
	_, _, _, err := ParsePacket(nil)
	require.Error(t, err)
}
