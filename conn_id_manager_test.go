package tquic

import (
	"testing"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/qerr"
	"github.com/liunix61/tquic/internal/wire"

	"github.com/stretchr/testify/require"
)

func TestConnIDManagerInitialConnID(t *testing.T) {
	m := newConnIDManager(protocol.ParseConnectionID([]byte{1, 2, 3, 4}), func(wire.Frame) {})
	require.Equal(t, protocol.ParseConnectionID([]byte{1, 2, 3, 4}), m.Get())
	m.ChangeInitialConnID(protocol.ParseConnectionID([]byte{5, 6, 7, 8}))
	require.Equal(t, protocol.ParseConnectionID([]byte{5, 6, 7, 8}), m.Get())
}

func TestConnIDManagerAddAndRotate(t *testing.T) {
	var frameQueue []wire.Frame
	m := newConnIDManager(
		protocol.ParseConnectionID([]byte{1, 2, 3, 4}),
		func(f wire.Frame) { frameQueue = append(frameQueue, f) },
	)
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber:      1,
		ConnectionID:        protocol.ParseConnectionID([]byte{5, 6, 7, 8}),
		StatelessResetToken: protocol.StatelessResetToken{1},
	}))
	// no rotation until the handshake completes
	require.Equal(t, protocol.ParseConnectionID([]byte{1, 2, 3, 4}), m.Get())
	require.Empty(t, frameQueue)

	m.SetHandshakeComplete()
	// the first change happens as soon as possible
	require.Equal(t, protocol.ParseConnectionID([]byte{5, 6, 7, 8}), m.Get())
	require.Len(t, frameQueue, 1)
	require.Equal(t, &wire.RetireConnectionIDFrame{SequenceNumber: 0}, frameQueue[0])
	require.True(t, m.IsActiveStatelessResetToken(protocol.StatelessResetToken{1}))
}

func TestConnIDManagerReorderedFrames(t *testing.T) {
	var frameQueue []wire.Frame
	m := newConnIDManager(
		protocol.ParseConnectionID([]byte{1, 2, 3, 4}),
		func(f wire.Frame) { frameQueue = append(frameQueue, f) },
	)
	// a frame for a sequence number we already retired is answered immediately
	m.highestRetired = 10
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 4,
		ConnectionID:   protocol.ParseConnectionID([]byte{4, 4, 4, 4}),
	}))
	require.Len(t, frameQueue, 1)
	require.Equal(t, &wire.RetireConnectionIDFrame{SequenceNumber: 4}, frameQueue[0])
	require.Zero(t, m.queue.Len())
}

func TestConnIDManagerRetirePriorTo(t *testing.T) {
	var frameQueue []wire.Frame
	m := newConnIDManager(
		protocol.ParseConnectionID([]byte{1, 2, 3, 4}),
		func(f wire.Frame) { frameQueue = append(frameQueue, f) },
	)
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 1,
		ConnectionID:   protocol.ParseConnectionID([]byte{1, 1, 1, 1}),
	}))
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 2,
		ConnectionID:   protocol.ParseConnectionID([]byte{2, 2, 2, 2}),
	}))
	frameQueue = nil

	// retire_prior_to forces the active connection ID to be replaced
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 3,
		RetirePriorTo:  3,
		ConnectionID:   protocol.ParseConnectionID([]byte{3, 3, 3, 3}),
	}))
	// sequence numbers 0 (active), 1 and 2 are all retired
	require.Len(t, frameQueue, 3)
	seqs := make(map[uint64]struct{})
	for _, f := range frameQueue {
		seqs[f.(*wire.RetireConnectionIDFrame).SequenceNumber] = struct{}{}
	}
	require.Contains(t, seqs, uint64(0))
	require.Contains(t, seqs, uint64(1))
	require.Contains(t, seqs, uint64(2))
	require.Equal(t, protocol.ParseConnectionID([]byte{3, 3, 3, 3}), m.Get())
}

func TestConnIDManagerConnIDLimit(t *testing.T) {
	m := newConnIDManager(protocol.ParseConnectionID([]byte{1, 2, 3, 4}), func(wire.Frame) {})
	for i := uint8(1); i < protocol.MaxActiveConnectionIDs; i++ {
		require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
			SequenceNumber: uint64(i),
			ConnectionID:   protocol.ParseConnectionID([]byte{i, i, i, i}),
		}))
	}
	err := m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: protocol.MaxActiveConnectionIDs,
		ConnectionID:   protocol.ParseConnectionID([]byte{1, 3, 3, 7}),
	})
	require.Error(t, err)
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.ConnectionIDLimitError, transportErr.ErrorCode)
}

func TestConnIDManagerConflictingConnIDs(t *testing.T) {
	m := newConnIDManager(protocol.ParseConnectionID([]byte{1, 2, 3, 4}), func(wire.Frame) {})
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 42,
		ConnectionID:   protocol.ParseConnectionID([]byte{4, 2, 4, 2}),
	}))
	// receiving the same frame again is fine
	require.NoError(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 42,
		ConnectionID:   protocol.ParseConnectionID([]byte{4, 2, 4, 2}),
	}))
	// a different connection ID for the same sequence number is not
	require.Error(t, m.Add(&wire.NewConnectionIDFrame{
		SequenceNumber: 42,
		ConnectionID:   protocol.ParseConnectionID([]byte{1, 3, 3, 7}),
	}))
}

func TestConnIDManagerPreferredAddress(t *testing.T) {
	m := newConnIDManager(protocol.ParseConnectionID([]byte{1, 2, 3, 4}), func(wire.Frame) {})
	require.NoError(t, m.AddFromPreferredAddress(
		protocol.ParseConnectionID([]byte{8, 8, 8, 8}),
		protocol.StatelessResetToken{8},
	))
	require.Equal(t, 1, m.queue.Len())
	require.Equal(t, uint64(1), m.queue.Front().Value.SequenceNumber)
}
