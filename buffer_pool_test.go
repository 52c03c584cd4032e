package tquic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liunix61/tquic/internal/protocol"
)

func TestBufferPool(t *testing.T) {
	buf := getPacketBuffer()
	require.Equal(t, int(protocol.MaxPacketBufferSize), cap(buf.Data))
	require.Zero(t, buf.Len())
	buf.Data = append(buf.Data, []byte("foobar")...)
	require.Equal(t, protocol.ByteCount(6), buf.Len())
	buf.Release()
}

func TestBufferPoolSplitting(t *testing.T) {
	buf := getPacketBuffer()
	buf.Split()
	buf.Split()
	// now we have 3 parts
	buf.Decrement()
	buf.Decrement()
	buf.Decrement()
	require.Panics(t, func() { buf.Decrement() })
}

func TestBufferPoolInvalidRelease(t *testing.T) {
	buf := getPacketBuffer()
	buf.Data = make([]byte, 10)
	require.Panics(t, func() { buf.Release() })
}
