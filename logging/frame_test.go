package logging

import (
	"testing"

	"github.com/liunix61/tquic/internal/wire"

	"github.com/stretchr/testify/require"
)

func TestConvertFrameStripsPayloads(t *testing.T) {
	var f Frame

	f = ConvertFrame(&wire.CryptoFrame{Offset: 1234, Data: []byte("foobar")})
	require.Equal(t, &CryptoFrame{Offset: 1234, Length: 6}, f)

	f = ConvertFrame(&wire.StreamFrame{StreamID: 42, Offset: 1337, Data: []byte("foo"), Fin: true})
	require.Equal(t, &StreamFrame{StreamID: 42, Offset: 1337, Length: 3, Fin: true}, f)

	f = ConvertFrame(&wire.DatagramFrame{Data: []byte("foobar")})
	require.Equal(t, &DatagramFrame{Length: 6}, f)
}

func TestConvertFramePassesOtherFramesThrough(t *testing.T) {
	ping := &wire.PingFrame{}
	require.Equal(t, Frame(ping), ConvertFrame(ping))

	ack := &wire.AckFrame{AckRanges: []wire.AckRange{{Smallest: 1, Largest: 2}}}
	require.Equal(t, Frame(ack), ConvertFrame(ack))
}
