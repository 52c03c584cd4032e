package tquic

import (
	"testing"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/qerr"
	"github.com/liunix61/tquic/internal/wire"

	"github.com/stretchr/testify/require"
)

type connIDGeneratorTestHarness struct {
	gen        *connIDGenerator
	added      []protocol.ConnectionID
	removed    []protocol.ConnectionID
	frameQueue []wire.Frame
}

func newConnIDGeneratorTestHarness(initialConnID protocol.ConnectionID, clientDestConnID *protocol.ConnectionID) *connIDGeneratorTestHarness {
	h := &connIDGeneratorTestHarness{}
	h.gen = newConnIDGenerator(
		initialConnID,
		clientDestConnID,
		4,
		func(c protocol.ConnectionID) { h.added = append(h.added, c) },
		func(c protocol.ConnectionID) { h.removed = append(h.removed, c) },
		func(f wire.Frame) { h.frameQueue = append(h.frameQueue, f) },
	)
	return h
}

func TestConnIDGeneratorIssuesConnIDs(t *testing.T) {
	h := newConnIDGeneratorTestHarness(protocol.ParseConnectionID([]byte{1, 2, 3, 4}), nil)
	require.NoError(t, h.gen.SetMaxActiveConnIDs(4))
	// 3 new connection IDs, in addition to the one used during the handshake
	require.Len(t, h.frameQueue, 3)
	require.Len(t, h.added, 3)
	seen := make(map[protocol.ConnectionID]struct{})
	for i, f := range h.frameQueue {
		nf := f.(*wire.NewConnectionIDFrame)
		require.Equal(t, uint64(i+1), nf.SequenceNumber)
		require.Equal(t, 4, nf.ConnectionID.Len())
		require.NotZero(t, nf.StatelessResetToken)
		seen[nf.ConnectionID] = struct{}{}
	}
	require.Len(t, seen, 3)
}

func TestConnIDGeneratorLimitCap(t *testing.T) {
	h := newConnIDGeneratorTestHarness(protocol.ParseConnectionID([]byte{1, 2, 3, 4}), nil)
	require.NoError(t, h.gen.SetMaxActiveConnIDs(9999))
	require.Len(t, h.frameQueue, protocol.MaxIssuedConnectionIDs-1)
}

func TestConnIDGeneratorRetirement(t *testing.T) {
	h := newConnIDGeneratorTestHarness(protocol.ParseConnectionID([]byte{1, 2, 3, 4}), nil)
	require.NoError(t, h.gen.SetMaxActiveConnIDs(4))
	issued := h.frameQueue[0].(*wire.NewConnectionIDFrame)
	h.frameQueue = nil

	// retiring an issued connection ID issues a replacement
	require.NoError(t, h.gen.Retire(issued.SequenceNumber, protocol.ParseConnectionID([]byte{9, 9, 9, 9})))
	require.Equal(t, issued.ConnectionID, h.removed[len(h.removed)-1])
	require.Len(t, h.frameQueue, 1)
	require.Equal(t, uint64(4), h.frameQueue[0].(*wire.NewConnectionIDFrame).SequenceNumber)

	// retiring the same sequence number again is a no-op
	h.frameQueue = nil
	require.NoError(t, h.gen.Retire(issued.SequenceNumber, protocol.ParseConnectionID([]byte{9, 9, 9, 9})))
	require.Empty(t, h.frameQueue)
}

func TestConnIDGeneratorRetirementErrors(t *testing.T) {
	h := newConnIDGeneratorTestHarness(protocol.ParseConnectionID([]byte{1, 2, 3, 4}), nil)
	require.NoError(t, h.gen.SetMaxActiveConnIDs(4))

	// retiring a sequence number that was never issued
	err := h.gen.Retire(42, protocol.ParseConnectionID([]byte{9, 9, 9, 9}))
	var transportErr *qerr.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.ProtocolViolation, transportErr.ErrorCode)

	// retiring the connection ID the frame was sent on
	issued := h.frameQueue[0].(*wire.NewConnectionIDFrame)
	err = h.gen.Retire(issued.SequenceNumber, issued.ConnectionID)
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, qerr.ProtocolViolation, transportErr.ErrorCode)
	require.ErrorContains(t, err, "Destination Connection ID")
}

func TestConnIDGeneratorHandshakeCompletion(t *testing.T) {
	clientDestConnID := protocol.ParseConnectionID([]byte{0xde, 0xad, 0xbe, 0xef})
	h := newConnIDGeneratorTestHarness(protocol.ParseConnectionID([]byte{1, 2, 3, 4}), &clientDestConnID)
	h.gen.SetHandshakeComplete()
	require.Equal(t, []protocol.ConnectionID{clientDestConnID}, h.removed)
	// calling it again doesn't remove it again
	h.gen.SetHandshakeComplete()
	require.Len(t, h.removed, 1)
}

func TestConnIDGeneratorRemoveAll(t *testing.T) {
	clientDestConnID := protocol.ParseConnectionID([]byte{0xde, 0xad, 0xbe, 0xef})
	h := newConnIDGeneratorTestHarness(protocol.ParseConnectionID([]byte{1, 2, 3, 4}), &clientDestConnID)
	require.NoError(t, h.gen.SetMaxActiveConnIDs(4))
	h.gen.RemoveAll()
	// the client's initial dest conn ID, our initial conn ID, and 3 issued ones
	require.Len(t, h.removed, 5)
}
