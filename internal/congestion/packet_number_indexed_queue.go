package congestion

import (
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/utils/ringbuffer"
)

// packetNumberIndexedQueue is a queue of mostly continuous numbered entries
// which supports the following operations:
//   - adding elements to the end of the queue, or at some point past the end
//   - removing elements in any order
//   - retrieving elements
//
// If all elements are inserted in order, all of the operations above are
// amortized O(1) time.
//
// Internally, the data structure is a deque where each element is marked as
// present or not. The deque starts at the lowest present index. Whenever an
// element is removed, it's marked as not present, and the front of the deque
// is cleared of elements that are not present.
//
// The tail of the queue is not cleared due to the assumption of entries being
// inserted in order, though removing all elements of the queue will return it
// to its initial state.
//
// Note that this data structure is inherently hazardous, since an addition of
// just two entries with a large gap between their packet numbers will cause it
// to consume all of the memory available. Because of that, it is not a
// general-purpose container and should not be used as one.
type packetNumberIndexedQueue[T any] struct {
	entries                ringbuffer.RingBuffer[entryWrapper[T]]
	numberOfPresentEntries int
	firstPacket            protocol.PacketNumber
}

type entryWrapper[T any] struct {
	present bool
	entry   T
}

func newPacketNumberIndexedQueue[T any](size int) *packetNumberIndexedQueue[T] {
	q := &packetNumberIndexedQueue[T]{
		firstPacket: protocol.InvalidPacketNumber,
	}
	q.entries.Init(size)
	return q
}

// Emplace inserts data associated with packetNumber into the queue,
// filling up the missing intervals with not-present entries.
func (p *packetNumberIndexedQueue[T]) Emplace(packetNumber protocol.PacketNumber, entry *T) bool {
	if packetNumber == protocol.InvalidPacketNumber || entry == nil {
		return false
	}

	if p.IsEmpty() {
		p.entries.PushBack(entryWrapper[T]{present: true, entry: *entry})
		p.numberOfPresentEntries = 1
		p.firstPacket = packetNumber
		return true
	}

	// Do not allow insertion out-of-order.
	if packetNumber <= p.LastPacket() {
		return false
	}

	// Handle potentially missing elements.
	offset := int(packetNumber - p.firstPacket)
	for p.entries.Len() < offset {
		p.entries.PushBack(entryWrapper[T]{})
	}

	p.numberOfPresentEntries++
	p.entries.PushBack(entryWrapper[T]{present: true, entry: *entry})
	return true
}

// GetEntry retrieves the entry associated with the packet number. Returns the
// pointer to the entry in case of success, or nil if the entry does not exist.
func (p *packetNumberIndexedQueue[T]) GetEntry(packetNumber protocol.PacketNumber) *T {
	ew := p.getEntryWrapper(packetNumber)
	if ew == nil {
		return nil
	}
	return &ew.entry
}

// Remove removes the entry associated with the packet number. If a callback is
// provided, it is called with the entry before removing it.
func (p *packetNumberIndexedQueue[T]) Remove(packetNumber protocol.PacketNumber, f func(T)) bool {
	ew := p.getEntryWrapper(packetNumber)
	if ew == nil {
		return false
	}
	if f != nil {
		f(ew.entry)
	}
	ew.present = false
	p.numberOfPresentEntries--

	if packetNumber == p.firstPacket {
		p.cleanup()
	}
	return true
}

// RemoveUpTo removes all of the payloads up to (but not including) packetNumber.
// Unused slots in the front are also removed, which means when the function
// returns, FirstPacket() can be larger than packetNumber.
func (p *packetNumberIndexedQueue[T]) RemoveUpTo(packetNumber protocol.PacketNumber) {
	for !p.entries.Empty() &&
		p.firstPacket != protocol.InvalidPacketNumber &&
		p.firstPacket < packetNumber {
		if p.entries.PeekFront().present {
			p.numberOfPresentEntries--
		}
		p.entries.PopFront()
		p.firstPacket++
	}
	p.cleanup()
}

// IsEmpty returns if the queue is empty.
func (p *packetNumberIndexedQueue[T]) IsEmpty() bool {
	return p.numberOfPresentEntries == 0
}

// NumberOfPresentEntries returns the number of entries in the queue.
func (p *packetNumberIndexedQueue[T]) NumberOfPresentEntries() int {
	return p.numberOfPresentEntries
}

// EntrySlotsUsed returns the number of entries allocated in the underlying
// deque. This value is larger than NumberOfPresentEntries if the queue is
// sparse, or has been recently prefix-trimmed.
func (p *packetNumberIndexedQueue[T]) EntrySlotsUsed() int {
	return p.entries.Len()
}

// FirstPacket returns the packet number of the first entry in the queue.
func (p *packetNumberIndexedQueue[T]) FirstPacket() protocol.PacketNumber {
	return p.firstPacket
}

// LastPacket returns the packet number of the last entry ever inserted into
// the queue. Note that the entry in question may have already been removed.
func (p *packetNumberIndexedQueue[T]) LastPacket() protocol.PacketNumber {
	if p.IsEmpty() {
		return protocol.InvalidPacketNumber
	}
	return p.firstPacket + protocol.PacketNumber(p.entries.Len()-1)
}

func (p *packetNumberIndexedQueue[T]) cleanup() {
	for !p.entries.Empty() && !p.entries.PeekFront().present {
		p.entries.PopFront()
		p.firstPacket++
	}
	if p.entries.Empty() {
		p.firstPacket = protocol.InvalidPacketNumber
	}
}

func (p *packetNumberIndexedQueue[T]) getEntryWrapper(packetNumber protocol.PacketNumber) *entryWrapper[T] {
	if packetNumber == protocol.InvalidPacketNumber ||
		p.IsEmpty() ||
		packetNumber < p.firstPacket {
		return nil
	}

	offset := int(packetNumber - p.firstPacket)
	if offset >= p.entries.Len() {
		return nil
	}

	ew := p.entries.Offset(offset)
	if !ew.present {
		return nil
	}
	return ew
}
