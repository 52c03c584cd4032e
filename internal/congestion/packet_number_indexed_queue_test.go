package congestion

import (
	"testing"

	"github.com/liunix61/tquic/internal/protocol"

	"github.com/stretchr/testify/require"
)

func newTestQueue() *packetNumberIndexedQueue[string] {
	return newPacketNumberIndexedQueue[string](8)
}

func emplace(t *testing.T, q *packetNumberIndexedQueue[string], pn protocol.PacketNumber, value string) {
	t.Helper()
	require.True(t, q.Emplace(pn, &value))
}

func TestPacketNumberIndexedQueueInitialState(t *testing.T) {
	q := newTestQueue()
	require.True(t, q.IsEmpty())
	require.Equal(t, protocol.InvalidPacketNumber, q.FirstPacket())
	require.Equal(t, protocol.InvalidPacketNumber, q.LastPacket())
	require.Zero(t, q.NumberOfPresentEntries())
	require.Zero(t, q.EntrySlotsUsed())
}

func TestPacketNumberIndexedQueueInsertingContinuousElements(t *testing.T) {
	q := newTestQueue()
	emplace(t, q, 1001, "one")
	require.Equal(t, "one", *q.GetEntry(1001))

	emplace(t, q, 1002, "two")
	require.Equal(t, "two", *q.GetEntry(1002))

	require.False(t, q.IsEmpty())
	require.Equal(t, protocol.PacketNumber(1001), q.FirstPacket())
	require.Equal(t, protocol.PacketNumber(1002), q.LastPacket())
	require.Equal(t, 2, q.NumberOfPresentEntries())
	require.Equal(t, 2, q.EntrySlotsUsed())
}

func TestPacketNumberIndexedQueueInsertingOutOfOrder(t *testing.T) {
	q := newTestQueue()

	emplace(t, q, 1001, "one")
	emplace(t, q, 1003, "three")
	require.Nil(t, q.GetEntry(1002))
	require.Equal(t, "three", *q.GetEntry(1003))

	require.Equal(t, protocol.PacketNumber(1001), q.FirstPacket())
	require.Equal(t, protocol.PacketNumber(1003), q.LastPacket())
	require.Equal(t, 2, q.NumberOfPresentEntries())
	require.Equal(t, 3, q.EntrySlotsUsed())

	// Inserting before the end is not allowed.
	value := "two"
	require.False(t, q.Emplace(1002, &value))
}

func TestPacketNumberIndexedQueueInsertingIntoPast(t *testing.T) {
	q := newTestQueue()
	emplace(t, q, 1001, "one")
	value := "zero"
	require.False(t, q.Emplace(1000, &value))
}

func TestPacketNumberIndexedQueueInsertingDuplicate(t *testing.T) {
	q := newTestQueue()
	emplace(t, q, 1001, "one")
	value := "one"
	require.False(t, q.Emplace(1001, &value))
}

func TestPacketNumberIndexedQueueRemoveInTheMiddle(t *testing.T) {
	q := newTestQueue()
	emplace(t, q, 1001, "one")
	emplace(t, q, 1002, "two")
	emplace(t, q, 1003, "three")

	require.True(t, q.Remove(1002, nil))
	require.Nil(t, q.GetEntry(1002))

	require.Equal(t, protocol.PacketNumber(1001), q.FirstPacket())
	require.Equal(t, protocol.PacketNumber(1003), q.LastPacket())
	require.Equal(t, 2, q.NumberOfPresentEntries())
	require.Equal(t, 3, q.EntrySlotsUsed())

	// The removed slot cannot be reused.
	value := "two"
	require.False(t, q.Emplace(1002, &value))
	emplace(t, q, 1004, "four")
}

func TestPacketNumberIndexedQueueRemoveAtImmediateEdges(t *testing.T) {
	q := newTestQueue()
	emplace(t, q, 1001, "one")
	emplace(t, q, 1002, "two")
	emplace(t, q, 1003, "three")

	require.True(t, q.Remove(1001, nil))
	require.Nil(t, q.GetEntry(1001))
	require.True(t, q.Remove(1003, nil))
	require.Nil(t, q.GetEntry(1003))

	// Removing the first element advances the front of the queue.
	require.Equal(t, protocol.PacketNumber(1002), q.FirstPacket())
	require.Equal(t, protocol.PacketNumber(1003), q.LastPacket())
	require.Equal(t, 1, q.NumberOfPresentEntries())

	emplace(t, q, 1004, "four")
}

func TestPacketNumberIndexedQueueRemoveAtDistantFront(t *testing.T) {
	q := newTestQueue()
	emplace(t, q, 1001, "one")
	emplace(t, q, 1002, "two")
	emplace(t, q, 2001, "one (new)")

	require.Equal(t, 3, q.NumberOfPresentEntries())
	require.Equal(t, 1001, q.EntrySlotsUsed())

	require.True(t, q.Remove(1002, nil))
	require.Equal(t, 2, q.NumberOfPresentEntries())
	require.Equal(t, 1001, q.EntrySlotsUsed())

	// Removing the front element trims all the not-present slots behind it.
	require.True(t, q.Remove(1001, nil))
	require.Equal(t, 1, q.NumberOfPresentEntries())
	require.Equal(t, 1, q.EntrySlotsUsed())
	require.Equal(t, protocol.PacketNumber(2001), q.FirstPacket())
}

func TestPacketNumberIndexedQueueRemoveAllElements(t *testing.T) {
	q := newTestQueue()
	emplace(t, q, 1001, "one")
	emplace(t, q, 1002, "two")

	require.True(t, q.Remove(1001, nil))
	require.True(t, q.Remove(1002, nil))

	// The queue returns to its initial state.
	require.True(t, q.IsEmpty())
	require.Equal(t, protocol.InvalidPacketNumber, q.FirstPacket())
	require.Equal(t, protocol.InvalidPacketNumber, q.LastPacket())
	require.Zero(t, q.NumberOfPresentEntries())
	require.Zero(t, q.EntrySlotsUsed())

	// It can be repopulated afterwards, at lower packet numbers as well.
	emplace(t, q, 101, "one")
	require.Equal(t, protocol.PacketNumber(101), q.FirstPacket())
}

func TestPacketNumberIndexedQueueRemoveNonexistent(t *testing.T) {
	q := newTestQueue()
	emplace(t, q, 1001, "one")

	require.False(t, q.Remove(1000, nil))
	require.False(t, q.Remove(1002, nil))
	require.True(t, q.Remove(1001, nil))
	require.False(t, q.Remove(1001, nil))
}

func TestPacketNumberIndexedQueueRemoveWithCallback(t *testing.T) {
	q := newTestQueue()
	emplace(t, q, 1001, "one")

	var removed []string
	require.True(t, q.Remove(1001, func(s string) { removed = append(removed, s) }))
	require.Equal(t, []string{"one"}, removed)
}

func TestPacketNumberIndexedQueueRemoveUpTo(t *testing.T) {
	q := newTestQueue()
	emplace(t, q, 1001, "one")
	emplace(t, q, 2001, "two")
	require.Equal(t, protocol.PacketNumber(1001), q.FirstPacket())
	require.Equal(t, 2, q.NumberOfPresentEntries())

	// No-op if the packet number is lower than the first element.
	q.RemoveUpTo(1000)
	require.Equal(t, protocol.PacketNumber(1001), q.FirstPacket())
	require.Equal(t, 2, q.NumberOfPresentEntries())

	// Removing up to the first present element also trims the not-present
	// slots that follow it.
	q.RemoveUpTo(1002)
	require.Equal(t, protocol.PacketNumber(2001), q.FirstPacket())
	require.Equal(t, 1, q.NumberOfPresentEntries())

	// Removing up to a point beyond the last element empties the queue.
	q.RemoveUpTo(2002)
	require.True(t, q.IsEmpty())
	require.Equal(t, protocol.InvalidPacketNumber, q.FirstPacket())
}
