package tquic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/utils"
	"github.com/liunix61/tquic/internal/wire"
)

func TestDatagramQueueSending(t *testing.T) {
	var queued int
	q := newDatagramQueue(func() { queued++ }, utils.DefaultLogger)
	require.Nil(t, q.Peek())
	require.False(t, q.HasData())

	q.Add(&wire.DatagramFrame{Data: []byte("foo")})
	q.Add(&wire.DatagramFrame{Data: []byte("bar")})
	require.Equal(t, 2, queued)
	require.True(t, q.HasData())

	require.Equal(t, []byte("foo"), q.Peek().Data)
	// Peek doesn't dequeue
	require.Equal(t, []byte("foo"), q.Peek().Data)
	q.Pop()
	require.Equal(t, []byte("bar"), q.Peek().Data)
	q.Pop()
	require.Nil(t, q.Peek())
}

func TestDatagramQueueReceiving(t *testing.T) {
	q := newDatagramQueue(nil, utils.DefaultLogger)
	_, ok := q.Receive()
	require.False(t, ok)

	// the first frame makes the queue non-empty
	require.True(t, q.HandleDatagramFrame(&wire.DatagramFrame{Data: []byte("foo")}))
	require.False(t, q.HandleDatagramFrame(&wire.DatagramFrame{Data: []byte("bar")}))

	data, ok := q.Receive()
	require.True(t, ok)
	require.Equal(t, []byte("foo"), data)
	data, ok = q.Receive()
	require.True(t, ok)
	require.Equal(t, []byte("bar"), data)
	_, ok = q.Receive()
	require.False(t, ok)
}

func TestDatagramQueueReceiveQueueLimit(t *testing.T) {
	q := newDatagramQueue(nil, utils.DefaultLogger)
	for i := 0; i < protocol.DatagramRcvQueueLen; i++ {
		q.HandleDatagramFrame(&wire.DatagramFrame{Data: []byte{uint8(i)}})
	}
	// the queue is full now, further datagrams are dropped
	require.False(t, q.HandleDatagramFrame(&wire.DatagramFrame{Data: []byte("dropped")}))

	var count int
	for {
		if _, ok := q.Receive(); !ok {
			break
		}
		count++
	}
	require.Equal(t, protocol.DatagramRcvQueueLen, count)
}
