package ackhandler

import (
	"testing"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/wire"

	"github.com/stretchr/testify/require"
)

func TestReceivedPacketHistoryRanges(t *testing.T) {
	hist := newReceivedPacketHistory()

	require.True(t, hist.ReceivedPacket(4))
	require.Equal(t, 1, hist.ranges.Len())
	require.Equal(t, interval{Start: 4, End: 4}, hist.ranges.Front().Value)

	// duplicate packet
	require.False(t, hist.ReceivedPacket(4))
	require.Equal(t, 1, hist.ranges.Len())
	require.Equal(t, interval{Start: 4, End: 4}, hist.ranges.Front().Value)

	// consecutive packets extend the range at the end
	require.True(t, hist.ReceivedPacket(5))
	require.True(t, hist.ReceivedPacket(6))
	require.Equal(t, 1, hist.ranges.Len())
	require.Equal(t, interval{Start: 4, End: 6}, hist.ranges.Front().Value)

	// duplicate packet inside an existing range
	require.False(t, hist.ReceivedPacket(5))
	require.Equal(t, 1, hist.ranges.Len())

	// extend a range at the front
	require.True(t, hist.ReceivedPacket(3))
	require.Equal(t, 1, hist.ranges.Len())
	require.Equal(t, interval{Start: 3, End: 6}, hist.ranges.Front().Value)

	// create a new range at the end
	require.True(t, hist.ReceivedPacket(10))
	require.Equal(t, 2, hist.ranges.Len())
	require.Equal(t, interval{Start: 10, End: 10}, hist.ranges.Back().Value)

	// create a new range in the middle
	require.True(t, hist.ReceivedPacket(8))
	require.Equal(t, 3, hist.ranges.Len())
	require.Equal(t, interval{Start: 8, End: 8}, hist.ranges.Front().Next().Value)

	// merge two ranges
	require.True(t, hist.ReceivedPacket(7))
	require.Equal(t, 2, hist.ranges.Len())
	require.Equal(t, interval{Start: 3, End: 8}, hist.ranges.Front().Value)
	require.Equal(t, interval{Start: 10, End: 10}, hist.ranges.Back().Value)

	// create a new range at the front
	require.True(t, hist.ReceivedPacket(1))
	require.Equal(t, 3, hist.ranges.Len())
	require.Equal(t, interval{Start: 1, End: 1}, hist.ranges.Front().Value)
}

func TestReceivedPacketHistoryDeleteBelow(t *testing.T) {
	hist := newReceivedPacketHistory()

	require.True(t, hist.ReceivedPacket(2))
	require.True(t, hist.ReceivedPacket(4))
	require.True(t, hist.ReceivedPacket(5))
	require.True(t, hist.ReceivedPacket(8))
	require.True(t, hist.ReceivedPacket(9))
	require.Equal(t, 3, hist.ranges.Len())

	// deleting below the lowest range is a no-op
	hist.DeleteBelow(2)
	require.Equal(t, 3, hist.ranges.Len())

	// delete a whole range
	hist.DeleteBelow(3)
	require.Equal(t, 2, hist.ranges.Len())
	require.Equal(t, interval{Start: 4, End: 5}, hist.ranges.Front().Value)

	// cut a range
	hist.DeleteBelow(5)
	require.Equal(t, 2, hist.ranges.Len())
	require.Equal(t, interval{Start: 5, End: 5}, hist.ranges.Front().Value)

	// delete multiple ranges
	hist.DeleteBelow(9)
	require.Equal(t, 1, hist.ranges.Len())
	require.Equal(t, interval{Start: 9, End: 9}, hist.ranges.Front().Value)

	// a packet below the deletion threshold is not a new packet
	require.False(t, hist.ReceivedPacket(7))
	require.Equal(t, 1, hist.ranges.Len())
}

func TestReceivedPacketHistoryAckRanges(t *testing.T) {
	hist := newReceivedPacketHistory()
	require.Empty(t, hist.AppendAckRanges(nil))
	require.Equal(t, wire.AckRange{}, hist.GetHighestAckRange())

	require.True(t, hist.ReceivedPacket(4))
	require.True(t, hist.ReceivedPacket(5))
	require.True(t, hist.ReceivedPacket(9))
	require.True(t, hist.ReceivedPacket(11))

	// ACK ranges are ordered, the highest range first
	require.Equal(t, []wire.AckRange{
		{Smallest: 11, Largest: 11},
		{Smallest: 9, Largest: 9},
		{Smallest: 4, Largest: 5},
	}, hist.AppendAckRanges(nil))
	require.Equal(t, wire.AckRange{Smallest: 11, Largest: 11}, hist.GetHighestAckRange())
}

func TestReceivedPacketHistoryMaxNumAckRanges(t *testing.T) {
	hist := newReceivedPacketHistory()

	// every other packet is received, creating lots of ranges
	for i := protocol.PacketNumber(0); i < 2*protocol.MaxNumAckRanges; i += 2 {
		require.True(t, hist.ReceivedPacket(i))
	}
	require.Equal(t, protocol.MaxNumAckRanges, hist.ranges.Len())

	// old ranges are deleted when a new range is created
	require.True(t, hist.ReceivedPacket(2 * protocol.MaxNumAckRanges))
	require.Equal(t, protocol.MaxNumAckRanges, hist.ranges.Len())
	require.Equal(t, interval{Start: 2, End: 2}, hist.ranges.Front().Value)
}

func TestReceivedPacketHistoryDuplicateDetection(t *testing.T) {
	hist := newReceivedPacketHistory()

	require.False(t, hist.IsPotentiallyDuplicate(3))

	require.True(t, hist.ReceivedPacket(3))
	require.True(t, hist.ReceivedPacket(4))
	require.True(t, hist.ReceivedPacket(6))

	require.True(t, hist.IsPotentiallyDuplicate(3))
	require.True(t, hist.IsPotentiallyDuplicate(4))
	require.True(t, hist.IsPotentiallyDuplicate(6))
	require.False(t, hist.IsPotentiallyDuplicate(5))
	require.False(t, hist.IsPotentiallyDuplicate(7))

	// every packet below the deletion threshold is considered a potential duplicate
	hist.DeleteBelow(5)
	require.True(t, hist.IsPotentiallyDuplicate(2))
	require.True(t, hist.IsPotentiallyDuplicate(4))
}
