package tquic

import (
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/utils"
	"github.com/liunix61/tquic/internal/utils/ringbuffer"
	"github.com/liunix61/tquic/internal/wire"
)

// datagramQueue buffers DATAGRAM frames (RFC 9221) in both directions.
// The send side holds frames to be packed into the next packets, the receive
// side holds payloads until the embedder drains them.
type datagramQueue struct {
	sendQueue    ringbuffer.RingBuffer[*wire.DatagramFrame]
	receiveQueue ringbuffer.RingBuffer[[]byte]

	hasData func()

	logger utils.Logger
}

func newDatagramQueue(hasData func(), logger utils.Logger) *datagramQueue {
	return &datagramQueue{
		hasData: hasData,
		logger:  logger,
	}
}

// Add queues a DATAGRAM frame for sending.
func (h *datagramQueue) Add(f *wire.DatagramFrame) {
	h.sendQueue.PushBack(f)
	if h.hasData != nil {
		h.hasData()
	}
}

// Peek returns the next DATAGRAM frame to send, without dequeueing it.
// It returns nil if the queue is empty.
func (h *datagramQueue) Peek() *wire.DatagramFrame {
	if h.sendQueue.Empty() {
		return nil
	}
	return h.sendQueue.PeekFront()
}

// Pop dequeues the frame returned by the last Peek call.
func (h *datagramQueue) Pop() {
	if h.sendQueue.Empty() {
		panic("datagramQueue: Pop called for an empty queue")
	}
	h.sendQueue.PopFront()
}

// HasData says if any DATAGRAM frames are queued for sending.
func (h *datagramQueue) HasData() bool {
	return !h.sendQueue.Empty()
}

// HandleDatagramFrame handles a received DATAGRAM frame.
// It reports whether the receive queue transitioned from empty to non-empty.
func (h *datagramQueue) HandleDatagramFrame(f *wire.DatagramFrame) bool {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	wasEmpty := h.receiveQueue.Empty()
	if h.receiveQueue.Len() >= protocol.DatagramRcvQueueLen {
		h.logger.Debugf("Discarding received DATAGRAM frame (%d bytes payload): receive queue full", len(f.Data))
		return false
	}
	h.receiveQueue.PushBack(data)
	return wasEmpty
}

// Receive dequeues a received datagram payload.
func (h *datagramQueue) Receive() ([]byte, bool) {
	if h.receiveQueue.Empty() {
		return nil, false
	}
	return h.receiveQueue.PopFront(), true
}
