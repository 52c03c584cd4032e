package tquic

import (
	"fmt"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/wire"
)

type outgoingStream interface {
	// for sending
	updateSendWindow(protocol.ByteCount)
	// for shutdown
	closeForShutdown(error)
}

type outgoingStreamsMap[T outgoingStream] struct {
	streamType protocol.StreamType
	streams    map[protocol.StreamNum]T

	nextStream  protocol.StreamNum // stream ID of the stream returned by the next OpenStream call
	maxStream   protocol.StreamNum // the maximum stream ID we're allowed to open
	blockedSent bool               // was a STREAMS_BLOCKED sent for the current maxStream

	newStream            func(protocol.StreamNum) T
	queueStreamIDBlocked func(*wire.StreamsBlockedFrame)

	closeErr error
}

func newOutgoingStreamsMap[T outgoingStream](
	streamType protocol.StreamType,
	newStream func(protocol.StreamNum) T,
	queueControlFrame func(wire.Frame),
) *outgoingStreamsMap[T] {
	return &outgoingStreamsMap[T]{
		streamType:           streamType,
		streams:              make(map[protocol.StreamNum]T),
		maxStream:            protocol.InvalidStreamNum,
		nextStream:           1,
		newStream:            newStream,
		queueStreamIDBlocked: func(f *wire.StreamsBlockedFrame) { queueControlFrame(f) },
	}
}

// OpenStream opens the next stream, if the peer's stream limit allows it.
// If it doesn't, ErrTooManyOpenStreams is returned and a STREAMS_BLOCKED
// frame is queued (once per limit).
func (m *outgoingStreamsMap[T]) OpenStream() (T, error) {
	if m.closeErr != nil {
		var zero T
		return zero, m.closeErr
	}
	if m.maxStream == protocol.InvalidStreamNum || m.nextStream > m.maxStream {
		if !m.blockedSent {
			m.blockedSent = true
			streamNum := m.maxStream
			if streamNum == protocol.InvalidStreamNum {
				streamNum = 0
			}
			m.queueStreamIDBlocked(&wire.StreamsBlockedFrame{
				Type:        m.streamType,
				StreamLimit: streamNum,
			})
		}
		var zero T
		return zero, ErrTooManyOpenStreams
	}
	str := m.newStream(m.nextStream)
	m.streams[m.nextStream] = str
	m.nextStream++
	return str, nil
}

func (m *outgoingStreamsMap[T]) GetStream(num protocol.StreamNum) (T, error) {
	if num >= m.nextStream {
		var zero T
		return zero, streamError{
			message: "peer attempted to open stream %d",
			nums:    []protocol.StreamNum{num},
		}
	}
	return m.streams[num], nil
}

func (m *outgoingStreamsMap[T]) DeleteStream(num protocol.StreamNum) error {
	if _, ok := m.streams[num]; !ok {
		return streamError{
			message: "tried to delete unknown outgoing stream %d",
			nums:    []protocol.StreamNum{num},
		}
	}
	delete(m.streams, num)
	return nil
}

func (m *outgoingStreamsMap[T]) SetMaxStream(num protocol.StreamNum) {
	if num <= m.maxStream {
		return
	}
	m.maxStream = num
	m.blockedSent = false
}

// UpdateSendWindow is called when the peer's transport parameters arrive:
// it updates the initial send window for all streams already open.
func (m *outgoingStreamsMap[T]) UpdateSendWindow(limit protocol.ByteCount) {
	for _, str := range m.streams {
		str.updateSendWindow(limit)
	}
}

func (m *outgoingStreamsMap[T]) CloseWithError(err error) {
	m.closeErr = err
	for _, str := range m.streams {
		str.closeForShutdown(err)
	}
}

type streamError struct {
	message string
	nums    []protocol.StreamNum
}

func (e streamError) Error() string {
	args := make([]any, len(e.nums))
	for i, num := range e.nums {
		args[i] = num
	}
	return fmt.Sprintf(e.message, args...)
}
