package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/qerr"
	"github.com/liunix61/tquic/quicvarint"
)

func TestFrameParserReturnsNilWhenNothingToParse(t *testing.T) {
	parser := NewFrameParser(true)
	l, f, err := parser.ParseNext(nil, protocol.Encryption1RTT, protocol.Version1)
	require.NoError(t, err)
	require.Zero(t, l)
	require.Nil(t, f)
}

func TestFrameParserSkipsPadding(t *testing.T) {
	parser := NewFrameParser(true)
	b := []byte{0x0, 0x0, 0x0, pingFrameType}
	l, f, err := parser.ParseNext(b, protocol.Encryption1RTT, protocol.Version1)
	require.NoError(t, err)
	require.Equal(t, 4, l)
	require.Equal(t, &PingFrame{}, f)
}

func TestFrameParserPaddingUntilEnd(t *testing.T) {
	parser := NewFrameParser(true)
	b := make([]byte, 10) // all PADDING
	l, f, err := parser.ParseNext(b, protocol.Encryption1RTT, protocol.Version1)
	require.NoError(t, err)
	require.Equal(t, 10, l)
	require.Nil(t, f)
}

func TestFrameParserParsesSingleFrame(t *testing.T) {
	parser := NewFrameParser(true)
	var b []byte
	for i := 0; i < 10; i++ {
		var err error
		b, err = (&PingFrame{}).Append(b, protocol.Version1)
		require.NoError(t, err)
	}
	l, f, err := parser.ParseNext(b, protocol.Encryption1RTT, protocol.Version1)
	require.NoError(t, err)
	require.Equal(t, 1, l)
	require.IsType(t, &PingFrame{}, f)
}

func TestFrameParserUnknownFrameType(t *testing.T) {
	parser := NewFrameParser(true)
	b := quicvarint.Append(nil, 0x42)
	_, _, err := parser.ParseNext(b, protocol.Encryption1RTT, protocol.Version1)
	require.Error(t, err)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.FrameEncodingError, transportErr.ErrorCode)
	require.Equal(t, uint64(0x42), transportErr.FrameType)
}

func TestFrameParserDatagramSupport(t *testing.T) {
	frame := &DatagramFrame{Data: []byte("foobar"), DataLenPresent: true}
	b, err := frame.Append(nil, protocol.Version1)
	require.NoError(t, err)

	parser := NewFrameParser(true)
	l, f, err := parser.ParseNext(b, protocol.Encryption1RTT, protocol.Version1)
	require.NoError(t, err)
	require.Equal(t, len(b), l)
	require.Equal(t, frame, f)

	// when datagram support is disabled, the frame type is unknown
	parser = NewFrameParser(false)
	_, _, err = parser.ParseNext(b, protocol.Encryption1RTT, protocol.Version1)
	require.Error(t, err)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.FrameEncodingError, transportErr.ErrorCode)
}

func TestFrameParserAckDelayExponent(t *testing.T) {
	const exp = 10
	parser := NewFrameParser(false)
	parser.SetAckDelayExponent(exp)

	// ACK frame with a raw delay of 8 and a single range
	b := []byte{ackFrameType, 0x10, 0x8, 0x0, 0x0}

	_, f, err := parser.ParseNext(b, protocol.Encryption1RTT, protocol.Version1)
	require.NoError(t, err)
	require.Equal(t, 8*(1<<exp)*time.Microsecond, f.(*AckFrame).DelayTime)

	// at other encryption levels, the default exponent is used
	_, f, err = parser.ParseNext(b, protocol.EncryptionInitial, protocol.Version1)
	require.NoError(t, err)
	require.Equal(t, 8*(1<<protocol.DefaultAckDelayExponent)*time.Microsecond, f.(*AckFrame).DelayTime)
}

func TestFrameParserEncryptionLevelGating(t *testing.T) {
	streamFrame, err := (&StreamFrame{StreamID: 1, Data: []byte("foo")}).Append(nil, protocol.Version1)
	require.NoError(t, err)
	newTokenFrame, err := (&NewTokenFrame{Token: []byte("token")}).Append(nil, protocol.Version1)
	require.NoError(t, err)
	cryptoFrame, err := (&CryptoFrame{Data: []byte("foo")}).Append(nil, protocol.Version1)
	require.NoError(t, err)

	parser := NewFrameParser(false)

	// STREAM frames are not allowed in Initial and Handshake packets
	for _, encLevel := range []protocol.EncryptionLevel{protocol.EncryptionInitial, protocol.EncryptionHandshake} {
		_, _, err := parser.ParseNext(streamFrame, encLevel, protocol.Version1)
		require.Error(t, err)
		var transportErr *qerr.TransportError
		require.ErrorAs(t, err, &transportErr)
		require.Equal(t, qerr.FrameEncodingError, transportErr.ErrorCode)

		// CRYPTO frames are
		_, f, err := parser.ParseNext(cryptoFrame, encLevel, protocol.Version1)
		require.NoError(t, err)
		require.IsType(t, &CryptoFrame{}, f)
	}

	// NEW_TOKEN frames are not allowed in 0-RTT packets, but STREAM frames are
	_, _, err = parser.ParseNext(newTokenFrame, protocol.Encryption0RTT, protocol.Version1)
	require.Error(t, err)
	_, f, err := parser.ParseNext(streamFrame, protocol.Encryption0RTT, protocol.Version1)
	require.NoError(t, err)
	require.IsType(t, &StreamFrame{}, f)
}
