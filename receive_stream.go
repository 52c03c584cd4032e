package tquic

import (
	"fmt"
	"io"
	"time"

	"github.com/liunix61/tquic/internal/flowcontrol"
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/wire"
)

// A ReceiveStream is a unidirectional stream for receiving data, or the
// receive side of a bidirectional stream. Read never blocks: it returns
// however many contiguous bytes are buffered; an EventKindStreamReadable
// event fires when a drained stream has data (or the FIN, or a reset) again.
type ReceiveStream struct {
	streamID protocol.StreamID
	sender   streamSender

	flowController flowcontrol.StreamFlowController

	frameQueue  frameSorter
	finalOffset protocol.ByteCount

	currentFrame       []byte
	currentFrameDone   func()
	readPosInFrame     int
	currentFrameIsLast bool // is the currentFrame the last frame on this stream

	readOffset protocol.ByteCount

	// set once the final offset has been read
	finRead bool

	cancelReadErr       *StreamError
	resetRemotelyErr    *StreamError
	closeForShutdownErr error

	completed bool

	// notifiedReadable suppresses duplicate readable events: it is set when
	// the event fires and cleared when a Read drains the buffered data.
	notifiedReadable bool
}

var _ receiveStreamI = &ReceiveStream{}

func newReceiveStream(
	streamID protocol.StreamID,
	sender streamSender,
	flowController flowcontrol.StreamFlowController,
) *ReceiveStream {
	return &ReceiveStream{
		streamID:       streamID,
		sender:         sender,
		flowController: flowController,
		frameQueue:     *newFrameSorter(),
		finalOffset:    protocol.MaxByteCount,
	}
}

// StreamID returns the stream ID.
func (s *ReceiveStream) StreamID() StreamID { return s.streamID }

// Read reads data from the stream. It never blocks: if no data is buffered at
// the current read offset, it returns (0, nil). It returns io.EOF after the
// final byte of a finished stream was read, and a *StreamError if the stream
// was reset by the peer or canceled locally.
func (s *ReceiveStream) Read(p []byte) (int, error) {
	if s.finRead {
		return 0, io.EOF
	}
	if s.cancelReadErr != nil {
		return 0, s.cancelReadErr
	}
	if s.resetRemotelyErr != nil {
		return 0, s.resetRemotelyErr
	}
	if s.closeForShutdownErr != nil {
		return 0, s.closeForShutdownErr
	}

	var bytesRead int
	for bytesRead < len(p) {
		if s.currentFrame == nil || s.readPosInFrame >= len(s.currentFrame) {
			s.dequeueNextFrame()
		}
		if s.currentFrame == nil {
			// no contiguous data buffered right now
			s.notifiedReadable = false
			return bytesRead, nil
		}

		if s.readPosInFrame > len(s.currentFrame) {
			return bytesRead, fmt.Errorf("BUG: readPosInFrame > frame.DataLen")
		}

		m := copy(p[bytesRead:], s.currentFrame[s.readPosInFrame:])
		s.readPosInFrame += m
		bytesRead += m
		s.readOffset += protocol.ByteCount(m)

		// when a RESET_STREAM was received, the flow controller was already
		// informed about the final offset for this stream
		if s.resetRemotelyErr == nil {
			hasStream, hasConn := s.flowController.AddBytesRead(protocol.ByteCount(m))
			if hasStream {
				s.sender.onHasStreamWindowUpdate(s.streamID)
			}
			if hasConn {
				s.sender.onHasConnectionWindowUpdate()
			}
		}

		if s.readPosInFrame >= len(s.currentFrame) && s.currentFrameIsLast {
			s.finRead = true
			s.currentFrame = nil
			if s.currentFrameDone != nil {
				s.currentFrameDone()
			}
			s.currentFrameDone = nil
			s.checkIfCompleted()
			return bytesRead, io.EOF
		}
	}
	return bytesRead, nil
}

func (s *ReceiveStream) dequeueNextFrame() {
	var offset protocol.ByteCount
	// We're done with the last frame. Release the buffer.
	if s.currentFrameDone != nil {
		s.currentFrameDone()
	}
	offset, s.currentFrame, s.currentFrameDone = s.frameQueue.Pop()
	s.currentFrameIsLast = offset+protocol.ByteCount(len(s.currentFrame)) >= s.finalOffset
	s.readPosInFrame = 0
}

// CancelRead aborts receiving on this stream. A STOP_SENDING frame carrying
// errorCode is queued; data already received is discarded.
func (s *ReceiveStream) CancelRead(errorCode StreamErrorCode) {
	if s.finRead || s.cancelReadErr != nil || s.resetRemotelyErr != nil {
		return
	}
	s.cancelReadErr = &StreamError{StreamID: s.streamID, ErrorCode: errorCode, Remote: false}
	s.sender.queueControlFrame(&wire.StopSendingFrame{
		StreamID:  s.streamID,
		ErrorCode: errorCode,
	})
	// We're done with this stream.
	// Read the final offset from the flow controller's perspective: all
	// flow control credit for this stream is returned to the connection.
	s.flowController.Abandon()
	s.checkIfCompleted()
}

func (s *ReceiveStream) handleStreamFrame(frame *wire.StreamFrame, now time.Time) error {
	maxOffset := frame.Offset + frame.DataLen()
	if err := s.flowController.UpdateHighestReceived(maxOffset, frame.Fin, now); err != nil {
		return err
	}
	if frame.Fin {
		s.finalOffset = maxOffset
	}
	if s.cancelReadErr != nil || s.resetRemotelyErr != nil {
		// the stream was already canceled, discard the data
		s.flowController.Abandon()
		return nil
	}
	if err := s.frameQueue.Push(frame.Data, frame.Offset, frame.PutBack); err != nil {
		return err
	}
	s.maybeNotifyReadable()
	return nil
}

func (s *ReceiveStream) handleResetStreamFrame(frame *wire.ResetStreamFrame, now time.Time) error {
	if s.closeForShutdownErr != nil {
		return nil
	}
	if err := s.flowController.UpdateHighestReceived(frame.FinalSize, true, now); err != nil {
		return err
	}
	s.finalOffset = frame.FinalSize

	// ignore duplicate RESET_STREAM frames for this stream (after checking their final offset)
	if s.resetRemotelyErr != nil {
		return nil
	}
	s.flowController.Abandon()
	s.resetRemotelyErr = &StreamError{
		StreamID:  s.streamID,
		ErrorCode: frame.ErrorCode,
		Remote:    true,
	}
	s.sender.emitStreamEvent(Event{
		Kind:      EventKindStreamReset,
		StreamID:  s.streamID,
		ErrorCode: frame.ErrorCode,
	})
	s.checkIfCompleted()
	return nil
}

// maybeNotifyReadable fires a readable event when the stream transitions from
// having nothing to read to having something.
func (s *ReceiveStream) maybeNotifyReadable() {
	if s.notifiedReadable || s.finRead || s.cancelReadErr != nil || s.resetRemotelyErr != nil {
		return
	}
	if !s.hasReadableData() {
		return
	}
	s.notifiedReadable = true
	s.sender.emitStreamEvent(Event{Kind: EventKindStreamReadable, StreamID: s.streamID})
}

// hasReadableData says if a Read call would make progress right now.
func (s *ReceiveStream) hasReadableData() bool {
	if s.currentFrame != nil && s.readPosInFrame < len(s.currentFrame) {
		return true
	}
	if _, ok := s.frameQueue.queue[s.readOffset]; ok {
		return true
	}
	// a FIN at the current read offset is "readable" (Read returns io.EOF)
	return s.readOffset == s.finalOffset
}

func (s *ReceiveStream) getWindowUpdate(now time.Time) protocol.ByteCount {
	return s.flowController.GetWindowUpdate(now)
}

// closeForShutdown closes the stream for shutdown of the whole connection.
func (s *ReceiveStream) closeForShutdown(err error) {
	if err == nil {
		err = fmt.Errorf("%w", ErrConnectionClosed)
	}
	s.closeForShutdownErr = err
}

// isNewlyCompleted: a receive stream is completed when the FIN was read, the
// stream was reset by the peer, or reading was canceled locally.
func (s *ReceiveStream) checkIfCompleted() {
	if s.completed {
		return
	}
	if s.finRead || s.cancelReadErr != nil || s.resetRemotelyErr != nil {
		s.completed = true
		s.sender.onStreamCompleted(s.streamID)
	}
}
