package tquic

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/wire"
)

func TestReceiveStreamRead(t *testing.T) {
	sender := newMockStreamSender()
	str := newReceiveStream(protocol.StreamID(42), sender, newTestFlowController(42))
	now := time.Now()

	// reading from an empty stream doesn't block
	n, err := str.Read(make([]byte, 4))
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, str.handleStreamFrame(&wire.StreamFrame{Data: []byte("foobar")}, now))
	require.Equal(t, []Event{{Kind: EventKindStreamReadable, StreamID: 42}}, sender.events)

	b := make([]byte, 4)
	n, err = str.Read(b)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	assert.Equal(t, []byte("foob"), b)
	n, err = str.Read(b)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Equal(t, []byte("ar"), b[:n])
}

func TestReceiveStreamReassembly(t *testing.T) {
	sender := newMockStreamSender()
	str := newReceiveStream(protocol.StreamID(42), sender, newTestFlowController(42))
	now := time.Now()

	// receive the second frame first
	require.NoError(t, str.handleStreamFrame(&wire.StreamFrame{Offset: 3, Data: []byte("bar")}, now))
	// no data readable at offset 0 yet, so no event fires
	require.Empty(t, sender.events)
	n, err := str.Read(make([]byte, 10))
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, str.handleStreamFrame(&wire.StreamFrame{Data: []byte("foo")}, now))
	require.Equal(t, []Event{{Kind: EventKindStreamReadable, StreamID: 42}}, sender.events)
	b := make([]byte, 10)
	n, err = str.Read(b)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	assert.Equal(t, []byte("foobar"), b[:n])
}

func TestReceiveStreamReadableEventEdge(t *testing.T) {
	sender := newMockStreamSender()
	str := newReceiveStream(protocol.StreamID(42), sender, newTestFlowController(42))
	now := time.Now()

	require.NoError(t, str.handleStreamFrame(&wire.StreamFrame{Data: []byte("foo")}, now))
	// more data while the stream is already readable doesn't fire again
	require.NoError(t, str.handleStreamFrame(&wire.StreamFrame{Offset: 3, Data: []byte("bar")}, now))
	require.Len(t, sender.events, 1)

	// draining the stream re-arms the event
	b := make([]byte, 10)
	_, err := str.Read(b)
	require.NoError(t, err)
	require.NoError(t, str.handleStreamFrame(&wire.StreamFrame{Offset: 6, Data: []byte("baz")}, now))
	require.Len(t, sender.events, 2)
}

func TestReceiveStreamEOF(t *testing.T) {
	sender := newMockStreamSender()
	str := newReceiveStream(protocol.StreamID(42), sender, newTestFlowController(42))
	now := time.Now()

	require.NoError(t, str.handleStreamFrame(&wire.StreamFrame{Data: []byte("foobar"), Fin: true}, now))
	b := make([]byte, 10)
	n, err := str.Read(b)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 6, n)
	// the stream is completed once the FIN was read
	require.Equal(t, []protocol.StreamID{42}, sender.completedStreams)

	_, err = str.Read(b)
	require.ErrorIs(t, err, io.EOF)
}

func TestReceiveStreamReset(t *testing.T) {
	sender := newMockStreamSender()
	str := newReceiveStream(protocol.StreamID(42), sender, newTestFlowController(42))
	now := time.Now()

	require.NoError(t, str.handleStreamFrame(&wire.StreamFrame{Data: []byte("foobar")}, now))
	require.NoError(t, str.handleResetStreamFrame(&wire.ResetStreamFrame{
		StreamID:  42,
		ErrorCode: 1337,
		FinalSize: 42,
	}, now))
	require.Contains(t, sender.events, Event{Kind: EventKindStreamReset, StreamID: 42, ErrorCode: 1337})
	require.Equal(t, []protocol.StreamID{42}, sender.completedStreams)

	_, err := str.Read(make([]byte, 10))
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, StreamErrorCode(1337), streamErr.ErrorCode)
	assert.True(t, streamErr.Remote)

	// a duplicate RESET_STREAM is ignored
	require.NoError(t, str.handleResetStreamFrame(&wire.ResetStreamFrame{
		StreamID:  42,
		ErrorCode: 1337,
		FinalSize: 42,
	}, now))
	require.Len(t, sender.completedStreams, 1)
}

func TestReceiveStreamResetFinalSizeError(t *testing.T) {
	sender := newMockStreamSender()
	str := newReceiveStream(protocol.StreamID(42), sender, newTestFlowController(42))
	now := time.Now()

	require.NoError(t, str.handleStreamFrame(&wire.StreamFrame{Data: []byte("foobar")}, now))
	// the final size must not be smaller than data already received
	require.Error(t, str.handleResetStreamFrame(&wire.ResetStreamFrame{
		StreamID:  42,
		ErrorCode: 1337,
		FinalSize: 3,
	}, now))
}

func TestReceiveStreamCancelRead(t *testing.T) {
	sender := newMockStreamSender()
	str := newReceiveStream(protocol.StreamID(42), sender, newTestFlowController(42))
	now := time.Now()

	require.NoError(t, str.handleStreamFrame(&wire.StreamFrame{Data: []byte("foobar")}, now))
	str.CancelRead(1234)
	require.Equal(t, []wire.Frame{
		&wire.StopSendingFrame{StreamID: 42, ErrorCode: 1234},
	}, sender.queuedControlFrames)
	require.Equal(t, []protocol.StreamID{42}, sender.completedStreams)

	_, err := str.Read(make([]byte, 10))
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, StreamErrorCode(1234), streamErr.ErrorCode)
	assert.False(t, streamErr.Remote)

	// data arriving after the cancellation is discarded without error
	require.NoError(t, str.handleStreamFrame(&wire.StreamFrame{Offset: 6, Data: []byte("baz")}, now))
}

func TestReceiveStreamWindowUpdates(t *testing.T) {
	sender := newMockStreamSender()
	str := newReceiveStream(protocol.StreamID(42), sender, newTestFlowController(42))
	now := time.Now()

	// read a large chunk, so the flow control window needs to grow
	data := make([]byte, protocol.DefaultMaxReceiveStreamFlowControlWindow/2+1)
	require.NoError(t, str.handleStreamFrame(&wire.StreamFrame{Data: data}, now))
	b := make([]byte, len(data))
	var read int
	for read < len(data) {
		n, err := str.Read(b[read:])
		require.NoError(t, err)
		require.NotZero(t, n)
		read += n
	}
	require.Contains(t, sender.streamWindowUpdates, protocol.StreamID(42))
	require.NotZero(t, str.getWindowUpdate(now))
}
