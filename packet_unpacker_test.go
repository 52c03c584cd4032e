package tquic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liunix61/tquic/internal/handshake"
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/wire"
)

// fakeLongHeaderOpener undoes the transformation applied by the fakeSealer.
type fakeLongHeaderOpener struct {
	overhead int
	openErr  error
}

var _ handshake.LongHeaderOpener = &fakeLongHeaderOpener{}

func (o *fakeLongHeaderOpener) DecodePacketNumber(wirePN protocol.PacketNumber, _ protocol.PacketNumberLen) protocol.PacketNumber {
	return wirePN
}
func (o *fakeLongHeaderOpener) DecryptHeader([]byte, *byte, []byte) {}

func (o *fakeLongHeaderOpener) Open(dst, src []byte, _ protocol.PacketNumber, _ []byte) ([]byte, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	return append(dst, src[:len(src)-o.overhead]...), nil
}

type fakeShortHeaderOpener struct {
	overhead int
	keyPhase protocol.KeyPhaseBit
	openErr  error
}

var _ handshake.ShortHeaderOpener = &fakeShortHeaderOpener{}

func (o *fakeShortHeaderOpener) DecodePacketNumber(wirePN protocol.PacketNumber, _ protocol.PacketNumberLen) protocol.PacketNumber {
	return wirePN
}
func (o *fakeShortHeaderOpener) DecryptHeader([]byte, *byte, []byte) {}

func (o *fakeShortHeaderOpener) Open(dst, src []byte, _ time.Time, _ protocol.PacketNumber, _ protocol.KeyPhaseBit, _ []byte) ([]byte, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	return append(dst, src[:len(src)-o.overhead]...), nil
}

type fakeOpenerManager struct {
	initial, handshake, zeroRTT          *fakeLongHeaderOpener
	oneRTT                               *fakeShortHeaderOpener
	initialErr, handshakeErr, zeroRTTErr error
	oneRTTErr                            error
}

func (m *fakeOpenerManager) GetInitialOpener() (handshake.LongHeaderOpener, error) {
	if m.initial == nil {
		return nil, m.initialErr
	}
	return m.initial, nil
}

func (m *fakeOpenerManager) GetHandshakeOpener() (handshake.LongHeaderOpener, error) {
	if m.handshake == nil {
		return nil, m.handshakeErr
	}
	return m.handshake, nil
}

func (m *fakeOpenerManager) Get0RTTOpener() (handshake.LongHeaderOpener, error) {
	if m.zeroRTT == nil {
		return nil, m.zeroRTTErr
	}
	return m.zeroRTT, nil
}

func (m *fakeOpenerManager) Get1RTTOpener() (handshake.ShortHeaderOpener, error) {
	if m.oneRTT == nil {
		return nil, m.oneRTTErr
	}
	return m.oneRTT, nil
}

func TestUnpackLongHeaderRoundTrip(t *testing.T) {
	env := newPackerTestEnv(t, protocol.PerspectiveClient)
	env.sealers.initial = &fakeSealer{overhead: 16}
	env.sealers.handshakeErr = handshake.ErrKeysNotYetAvailable
	env.sealers.zeroRTTErr = handshake.ErrKeysNotYetAvailable
	env.sealers.oneRTTErr = handshake.ErrKeysNotYetAvailable

	_, err := env.initialStream.Write([]byte("ClientHello"))
	require.NoError(t, err)
	packed, err := env.packer.PackCoalescedPacket(false, testMaxPacketSize, time.Now(), protocol.Version1)
	require.NoError(t, err)
	require.NotNil(t, packed)

	hdr, packetData, rest, err := wire.ParsePacket(packed.buffer.Data)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, protocol.PacketTypeInitial, hdr.Type)

	unpacker := newPacketUnpacker(&fakeOpenerManager{initial: &fakeLongHeaderOpener{overhead: 16}}, 4)
	unpacked, err := unpacker.UnpackLongHeader(hdr, packetData)
	require.NoError(t, err)
	require.Equal(t, protocol.EncryptionInitial, unpacked.encryptionLevel)
	require.Equal(t, packed.longHdrPackets[0].header.PacketNumber, unpacked.hdr.PacketNumber)

	parser := wire.NewFrameParser(true)
	var cryptoFrame *wire.CryptoFrame
	data := unpacked.data
	for len(data) > 0 {
		l, f, err := parser.ParseNext(data, protocol.EncryptionInitial, protocol.Version1)
		require.NoError(t, err)
		data = data[l:]
		if f == nil { // PADDING
			break
		}
		if cf, ok := f.(*wire.CryptoFrame); ok {
			cryptoFrame = cf
		}
	}
	require.NotNil(t, cryptoFrame)
	require.Equal(t, []byte("ClientHello"), cryptoFrame.Data)
}

func TestUnpackShortHeaderRoundTrip(t *testing.T) {
	env := newPackerTestEnv(t, protocol.PerspectiveClient)
	env.sealers.oneRTT = &fakeSealer{overhead: 16, keyPhase: protocol.KeyPhaseOne}
	env.framer.streamFrames = []*wire.StreamFrame{
		{StreamID: 4, Data: []byte("stream data")},
	}

	buf := getPacketBuffer()
	defer buf.Release()
	packed, err := env.packer.AppendPacket(buf, testMaxPacketSize, time.Now(), protocol.Version1)
	require.NoError(t, err)

	unpacker := newPacketUnpacker(&fakeOpenerManager{oneRTT: &fakeShortHeaderOpener{overhead: 16}}, 4)
	pn, pnLen, kp, decrypted, err := unpacker.UnpackShortHeader(time.Now(), buf.Data)
	require.NoError(t, err)
	require.Equal(t, packed.PacketNumber, pn)
	require.Equal(t, packed.PacketNumberLen, pnLen)
	require.Equal(t, protocol.KeyPhaseOne, kp)

	parser := wire.NewFrameParser(true)
	_, f, err := parser.ParseNext(decrypted, protocol.Encryption1RTT, protocol.Version1)
	require.NoError(t, err)
	sf, ok := f.(*wire.StreamFrame)
	require.True(t, ok)
	require.Equal(t, protocol.StreamID(4), sf.StreamID)
	require.Equal(t, []byte("stream data"), sf.Data)
}

func TestUnpackKeysNotYetAvailable(t *testing.T) {
	unpacker := newPacketUnpacker(&fakeOpenerManager{oneRTTErr: handshake.ErrKeysNotYetAvailable}, 4)
	_, _, _, _, err := unpacker.UnpackShortHeader(time.Now(), make([]byte, 100))
	require.ErrorIs(t, err, handshake.ErrKeysNotYetAvailable)
}

func TestUnpackShortHeaderTooSmall(t *testing.T) {
	unpacker := newPacketUnpacker(&fakeOpenerManager{oneRTT: &fakeShortHeaderOpener{overhead: 16}}, 4)
	// 1 byte first byte + 4 byte connection ID + less than 20 bytes left
	data := make([]byte, 1+4+19)
	data[0] = 0x40
	_, _, _, _, err := unpacker.UnpackShortHeader(time.Now(), data)
	require.Error(t, err)
	var hdrErr *headerParseError
	require.ErrorAs(t, err, &hdrErr)
}

func TestUnpackDecryptionFailure(t *testing.T) {
	env := newPackerTestEnv(t, protocol.PerspectiveClient)
	env.sealers.oneRTT = &fakeSealer{overhead: 16}
	env.framer.streamFrames = []*wire.StreamFrame{{StreamID: 4, Data: []byte("foobar")}}

	buf := getPacketBuffer()
	defer buf.Release()
	_, err := env.packer.AppendPacket(buf, testMaxPacketSize, time.Now(), protocol.Version1)
	require.NoError(t, err)

	unpacker := newPacketUnpacker(&fakeOpenerManager{oneRTT: &fakeShortHeaderOpener{overhead: 16, openErr: handshake.ErrDecryptionFailed}}, 4)
	_, _, _, _, err = unpacker.UnpackShortHeader(time.Now(), buf.Data)
	require.ErrorIs(t, err, handshake.ErrDecryptionFailed)
}
