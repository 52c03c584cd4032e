package wire

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"github.com/liunix61/tquic/internal/protocol"
)

// ParseVersionNegotiationPacket parses a Version Negotiation packet.
func ParseVersionNegotiationPacket(b []byte) (dest, src protocol.ArbitraryLenConnectionID, _ []protocol.Version, _ error) {
	n, dest, src, err := ParseArbitraryLenConnectionIDs(b)
	if err != nil { // should have been detected by Header.ParsePacket before
		return nil, nil, nil, err
	}
	b = b[n:]
	if len(b) == 0 {
		return nil, nil, nil, errors.New("Version Negotiation packet has empty version list")
	}
	if len(b)%4 != 0 {
		return nil, nil, nil, errors.New("Version Negotiation packet has a version list with an invalid length")
	}
	versions := make([]protocol.Version, len(b)/4)
	for i := 0; len(b) > 0; i++ {
		versions[i] = protocol.Version(binary.BigEndian.Uint32(b[:4]))
		b = b[4:]
	}
	return dest, src, versions, nil
}

// ComposeVersionNegotiation composes a Version Negotiation packet.
func ComposeVersionNegotiation(destConnID, srcConnID protocol.ArbitraryLenConnectionID, versions []protocol.Version) []byte {
	greasedVersions := protocol.GetGreasedVersions(versions)
	expectedLen := 1 /* type byte */ + 4 /* version field */ + 1 /* dest connection ID length field */ + destConnID.Len() + 1 /* src connection ID length field */ + srcConnID.Len() + len(greasedVersions)*4
	buf := make([]byte, 1, expectedLen)
	_, _ = rand.Read(buf) // ignore the error here. Failure to read random data doesn't break anything
	buf[0] |= 0xc0
	// The next 4 bytes are the version number, which is 0 for a Version Negotiation packet.
	buf = append(buf, 0, 0, 0, 0)
	buf = append(buf, uint8(destConnID.Len()))
	buf = append(buf, destConnID...)
	buf = append(buf, uint8(srcConnID.Len()))
	buf = append(buf, srcConnID...)
	for _, v := range greasedVersions {
		buf = binary.BigEndian.AppendUint32(buf, uint32(v))
	}
	return buf
}
