package tquic

import (
	"github.com/liunix61/tquic/internal/ackhandler"
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/utils/ringbuffer"
	"github.com/liunix61/tquic/internal/wire"
	"github.com/liunix61/tquic/quicvarint"
)

const maxQueuedControlFrames = 16 << 10

// framer distributes the available packet space between streams with
// pending data, in round-robin fashion. Control frames take precedence.
type framer struct {
	activeStreams map[protocol.StreamID]sendStreamI
	streamQueue   ringbuffer.RingBuffer[protocol.StreamID]

	controlFrames              []wire.Frame
	queuedTooManyControlFrames bool
}

func newFramer() *framer {
	return &framer{activeStreams: make(map[protocol.StreamID]sendStreamI)}
}

func (f *framer) HasData() bool {
	return !f.streamQueue.Empty() || len(f.controlFrames) > 0
}

func (f *framer) QueueControlFrame(frame wire.Frame) {
	// This is a hack.
	// We need to make sure that the control frame queue doesn't grow indefinitely.
	// This queue is drained on every packet sent, so it can only fill up if the
	// peer makes us queue control frames faster than we can send them.
	if len(f.controlFrames) >= maxQueuedControlFrames {
		f.queuedTooManyControlFrames = true
		return
	}
	f.controlFrames = append(f.controlFrames, frame)
}

// QueuedTooManyControlFrames reports whether the control frame queue
// overflowed. This is a sign of misbehavior, and leads to connection closure.
func (f *framer) QueuedTooManyControlFrames() bool {
	return f.queuedTooManyControlFrames
}

func (f *framer) AppendControlFrames(frames []ackhandler.Frame, maxLen protocol.ByteCount, v protocol.Version) ([]ackhandler.Frame, protocol.ByteCount) {
	var length protocol.ByteCount
	for len(f.controlFrames) > 0 {
		frame := f.controlFrames[len(f.controlFrames)-1]
		frameLen := frame.Length(v)
		if length+frameLen > maxLen {
			break
		}
		frames = append(frames, ackhandler.Frame{Frame: frame})
		length += frameLen
		f.controlFrames = f.controlFrames[:len(f.controlFrames)-1]
	}
	return frames, length
}

// AddActiveStream marks a stream as having data to send.
// It is idempotent: a stream already scheduled is not scheduled again.
func (f *framer) AddActiveStream(id protocol.StreamID, str sendStreamI) {
	if _, ok := f.activeStreams[id]; !ok {
		f.streamQueue.PushBack(id)
		f.activeStreams[id] = str
	}
}

func (f *framer) RemoveActiveStream(id protocol.StreamID) {
	delete(f.activeStreams, id)
	// the id is not deleted from the stream queue,
	// it will be skipped when popping the next frame
}

func (f *framer) AppendStreamFrames(frames []ackhandler.StreamFrame, maxLen protocol.ByteCount, v protocol.Version) ([]ackhandler.StreamFrame, protocol.ByteCount) {
	startLen := len(frames)
	var length protocol.ByteCount
	// pop STREAM frames, round-robin
	numActiveStreams := f.streamQueue.Len()
	for i := 0; i < numActiveStreams; i++ {
		if protocol.MinStreamFrameSize+length > maxLen {
			break
		}
		id := f.streamQueue.PopFront()
		// the stream can be nil if it completed after it said it had data
		str, ok := f.activeStreams[id]
		if !ok {
			continue
		}
		remainingLen := maxLen - length
		// For the last STREAM frame, we'll remove the DataLen field later.
		// Therefore, we can pretend to have more bytes available when popping
		// the STREAM frame (which will always have the DataLen set).
		remainingLen += protocol.ByteCount(quicvarint.Len(uint64(remainingLen)))
		// remainingLen must stay encodable as a varint
		remainingLen = min(remainingLen, protocol.MaxByteCount)
		frame, ok, hasMoreData := str.popStreamFrame(remainingLen, v)
		if hasMoreData { // put the stream back in the queue (at the end)
			f.streamQueue.PushBack(id)
		} else { // no more data to send. Stream is not active
			delete(f.activeStreams, id)
		}
		// The frame can be "nil"
		// * if the stream was canceled after it said it had data
		// * the remaining size doesn't allow a smallest StreamFrame
		if !ok {
			continue
		}
		frames = append(frames, frame)
		length += frame.Frame.Length(v)
	}
	if len(frames) > startLen {
		l := frames[len(frames)-1].Frame.Length(v)
		// account for the smaller size of the last STREAM frame
		frames[len(frames)-1].Frame.DataLenPresent = false
		length += frames[len(frames)-1].Frame.Length(v) - l
	}
	return frames, length
}
