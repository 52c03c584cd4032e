package tquic

import (
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/wire"
)

type incomingStream interface {
	closeForShutdown(error)
}

// incomingStreamsMap tracks streams opened by the peer.
// Streams are opened implicitly: receiving a frame for stream N opens all
// peer streams up to N. AcceptStream hands them to the application in order.
type incomingStreamsMap[T incomingStream] struct {
	streamType protocol.StreamType
	streams    map[protocol.StreamNum]T
	// streams deleted before being accepted. They are fully deleted
	// (and their flow control credit returned) when accepted.
	streamsToDelete map[protocol.StreamNum]struct{}

	nextStreamToAccept protocol.StreamNum // the next stream returned by AcceptStream()
	nextStreamToOpen   protocol.StreamNum // the lowest stream the peer hasn't opened yet
	maxStream          protocol.StreamNum // the highest stream the peer is allowed to open
	maxNumStreams      uint64             // the maximum number of streams concurrently open

	newStream        func(protocol.StreamNum) T
	queueMaxStreamID func(*wire.MaxStreamsFrame)

	closeErr error
}

func newIncomingStreamsMap[T incomingStream](
	streamType protocol.StreamType,
	newStream func(protocol.StreamNum) T,
	maxStreams uint64,
	queueControlFrame func(wire.Frame),
) *incomingStreamsMap[T] {
	return &incomingStreamsMap[T]{
		streamType:         streamType,
		streams:            make(map[protocol.StreamNum]T),
		streamsToDelete:    make(map[protocol.StreamNum]struct{}),
		maxStream:          protocol.StreamNum(maxStreams),
		maxNumStreams:      maxStreams,
		newStream:          newStream,
		nextStreamToOpen:   1,
		nextStreamToAccept: 1,
		queueMaxStreamID:   func(f *wire.MaxStreamsFrame) { queueControlFrame(f) },
	}
}

// AcceptStream returns the next stream opened by the peer, if there is one.
func (m *incomingStreamsMap[T]) AcceptStream() (T, bool) {
	var zero T
	if m.closeErr != nil || m.nextStreamToAccept >= m.nextStreamToOpen {
		return zero, false
	}
	num := m.nextStreamToAccept
	m.nextStreamToAccept++
	// If this stream was completed before being accepted,
	// it can be deleted right away.
	if _, ok := m.streamsToDelete[num]; ok {
		delete(m.streamsToDelete, num)
		str := m.streams[num]
		if err := m.deleteStream(num); err != nil {
			return zero, false
		}
		return str, true
	}
	return m.streams[num], true
}

func (m *incomingStreamsMap[T]) GetOrOpenStream(num protocol.StreamNum) (T, error) {
	var zero T
	if num > m.maxStream {
		return zero, streamError{
			message: "peer tried to open stream %d (current limit: %d)",
			nums:    []protocol.StreamNum{num, m.maxStream},
		}
	}
	// if the num is smaller than the highest we accepted
	// * this stream exists in the map, and we can return it, or
	// * this stream was deleted, and we can return the nil value
	if num >= m.nextStreamToOpen {
		for newNum := m.nextStreamToOpen; newNum <= num; newNum++ {
			m.streams[newNum] = m.newStream(newNum)
		}
		m.nextStreamToOpen = num + 1
	}
	if _, ok := m.streamsToDelete[num]; ok {
		return zero, nil
	}
	return m.streams[num], nil
}

func (m *incomingStreamsMap[T]) DeleteStream(num protocol.StreamNum) error {
	// The stream is only deleted once accepted, so that the MAX_STREAMS
	// frame is queued at the right time.
	if num >= m.nextStreamToAccept {
		if _, ok := m.streams[num]; !ok {
			return streamError{
				message: "tried to delete unknown incoming stream %d",
				nums:    []protocol.StreamNum{num},
			}
		}
		m.streamsToDelete[num] = struct{}{}
		return nil
	}
	return m.deleteStream(num)
}

func (m *incomingStreamsMap[T]) deleteStream(num protocol.StreamNum) error {
	if _, ok := m.streams[num]; !ok {
		return streamError{
			message: "tried to delete unknown incoming stream %d",
			nums:    []protocol.StreamNum{num},
		}
	}
	delete(m.streams, num)

	// queue a MAX_STREAMS frame, giving the peer the option to open a new stream
	if m.maxNumStreams > uint64(len(m.streams)) {
		maxStream := m.nextStreamToOpen + protocol.StreamNum(m.maxNumStreams-uint64(len(m.streams))) - 1
		// never send a value larger than the maximum value for a stream number
		if maxStream <= protocol.MaxStreamCount && maxStream > m.maxStream {
			m.maxStream = maxStream
			m.queueMaxStreamID(&wire.MaxStreamsFrame{
				Type:         m.streamType,
				MaxStreamNum: m.maxStream,
			})
		}
	}
	return nil
}

func (m *incomingStreamsMap[T]) CloseWithError(err error) {
	m.closeErr = err
	for _, str := range m.streams {
		str.closeForShutdown(err)
	}
}
