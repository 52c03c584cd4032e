package tquic

import (
	"fmt"

	"github.com/liunix61/tquic/internal/ackhandler"
	"github.com/liunix61/tquic/internal/flowcontrol"
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/wire"
)

// A SendStream is a unidirectional stream for sending data, or the send side
// of a bidirectional stream. Write never blocks: it accepts as many bytes as
// flow control currently allows and reports partial progress; an
// EventKindStreamWritable event fires when a blocked stream can make progress
// again.
type SendStream struct {
	streamID protocol.StreamID
	sender   streamSender

	flowController flowcontrol.StreamFlowController

	writeOffset protocol.ByteCount

	cancelWriteErr      *StreamError
	closeForShutdownErr error

	finishedWriting bool // set once Close() is called
	finSent         bool // set when a STREAM frame with the FIN bit was sent
	completed       bool // set when this stream was reported to the streams map as completed

	dataForWriting      []byte
	retransmissionQueue []*wire.StreamFrame

	numOutstandingFrames int64
	// writeBlocked is set when Write couldn't accept all bytes.
	// The next send window increase fires an EventKindStreamWritable event.
	writeBlocked bool
}

var (
	_ sendStreamI                   = &SendStream{}
	_ ackhandler.StreamFrameHandler = &SendStream{}
)

func newSendStream(
	streamID protocol.StreamID,
	sender streamSender,
	flowController flowcontrol.StreamFlowController,
) *SendStream {
	return &SendStream{
		streamID:       streamID,
		sender:         sender,
		flowController: flowController,
	}
}

// StreamID returns the stream ID.
func (s *SendStream) StreamID() StreamID { return s.streamID }

// Write writes data to the stream. It never blocks: it buffers at most as
// many bytes as the stream's flow control window currently allows and returns
// the number of bytes accepted. A return value of (0, nil) means the stream
// is blocked on flow control.
func (s *SendStream) Write(p []byte) (int, error) {
	if s.closeForShutdownErr != nil {
		return 0, s.closeForShutdownErr
	}
	if s.cancelWriteErr != nil {
		return 0, s.cancelWriteErr
	}
	if s.finishedWriting {
		return 0, fmt.Errorf("write on closed stream %d", s.streamID)
	}
	if len(p) == 0 {
		return 0, nil
	}

	sendWindow := s.flowController.SendWindowSize()
	buffered := protocol.ByteCount(len(s.dataForWriting))
	var avail protocol.ByteCount
	if sendWindow > buffered {
		avail = sendWindow - buffered
	}
	n := min(protocol.ByteCount(len(p)), avail)
	if n < protocol.ByteCount(len(p)) {
		s.writeBlocked = true
	}
	if n == 0 {
		return 0, nil
	}
	s.dataForWriting = append(s.dataForWriting, p[:n]...)
	s.sender.onHasStreamData(s.streamID, s)
	return int(n), nil
}

func (s *SendStream) hasData() bool {
	return len(s.dataForWriting) > 0
}

// popStreamFrame returns the next STREAM frame that is supposed to be sent on this stream.
// maxBytes is the maximum length this frame (including frame header) will have.
func (s *SendStream) popStreamFrame(maxBytes protocol.ByteCount, v protocol.Version) (_ ackhandler.StreamFrame, ok, hasMore bool) {
	if s.closeForShutdownErr != nil || s.cancelWriteErr != nil {
		return ackhandler.StreamFrame{}, false, false
	}

	if len(s.retransmissionQueue) > 0 {
		f, hasMoreRetransmissions := s.maybeGetRetransmission(maxBytes, v)
		if f != nil || hasMoreRetransmissions {
			if f == nil {
				return ackhandler.StreamFrame{}, false, true
			}
			s.numOutstandingFrames++
			return ackhandler.StreamFrame{
				Frame:   f,
				Handler: s,
			}, true, hasMoreRetransmissions || s.hasDataToSend()
		}
	}

	f := wire.GetStreamFrame()
	f.Fin = false
	f.StreamID = s.streamID
	f.Offset = s.writeOffset
	f.DataLenPresent = true
	f.Data = f.Data[:0]

	hasMoreData := s.popNewStreamFrame(f, maxBytes, v)
	if len(f.Data) == 0 && !f.Fin {
		f.PutBack()
		return ackhandler.StreamFrame{}, false, hasMoreData
	}
	s.numOutstandingFrames++
	return ackhandler.StreamFrame{
		Frame:   f,
		Handler: s,
	}, true, hasMoreData
}

func (s *SendStream) popNewStreamFrame(f *wire.StreamFrame, maxBytes protocol.ByteCount, v protocol.Version) (hasMoreData bool) {
	maxDataLen := f.MaxDataLen(maxBytes, v)
	if maxDataLen == 0 { // a STREAM frame must have at least one byte of data
		return s.hasDataToSend()
	}
	s.getDataForWriting(f, maxDataLen)
	if len(f.Data) == 0 && !f.Fin {
		if s.flowController.IsNewlyBlocked() {
			s.sender.queueControlFrame(&wire.StreamDataBlockedFrame{
				StreamID:          s.streamID,
				MaximumStreamData: s.writeOffset,
			})
			return false
		}
	}
	f.Fin = s.finishedWriting && len(s.dataForWriting) == 0 && !s.finSent
	if f.Fin {
		s.finSent = true
	}
	return s.hasDataToSend()
}

func (s *SendStream) hasDataToSend() bool {
	if len(s.retransmissionQueue) > 0 || len(s.dataForWriting) > 0 {
		return true
	}
	return s.finishedWriting && !s.finSent
}

func (s *SendStream) maybeGetRetransmission(maxBytes protocol.ByteCount, v protocol.Version) (*wire.StreamFrame, bool /* has more retransmissions */) {
	f := s.retransmissionQueue[0]
	newFrame, needsSplit := f.MaybeSplitOffFrame(maxBytes, v)
	if needsSplit {
		return newFrame, true
	}
	s.retransmissionQueue = s.retransmissionQueue[1:]
	return f, len(s.retransmissionQueue) > 0
}

func (s *SendStream) getDataForWriting(f *wire.StreamFrame, maxBytes protocol.ByteCount) {
	if protocol.ByteCount(len(s.dataForWriting)) <= maxBytes {
		f.Data = f.Data[:len(s.dataForWriting)]
		copy(f.Data, s.dataForWriting)
		s.dataForWriting = nil
	} else {
		f.Data = f.Data[:maxBytes]
		copy(f.Data, s.dataForWriting)
		s.dataForWriting = s.dataForWriting[maxBytes:]
	}
	s.writeOffset += f.DataLen()
	s.flowController.AddBytesSent(f.DataLen())
}

// Close closes the write direction: all buffered data will still be delivered,
// followed by the FIN bit.
func (s *SendStream) Close() error {
	if s.closeForShutdownErr != nil {
		return nil
	}
	if s.cancelWriteErr != nil {
		return fmt.Errorf("close called for canceled stream %d", s.streamID)
	}
	s.finishedWriting = true
	s.sender.onHasStreamData(s.streamID, s) // need to send the FIN, must be called without holding the mutex
	return nil
}

// CancelWrite aborts sending on this stream. Data already written and not yet
// sent will not be sent. A RESET_STREAM frame carrying errorCode is queued.
func (s *SendStream) CancelWrite(errorCode StreamErrorCode) {
	s.cancelWrite(errorCode, false)
}

func (s *SendStream) cancelWrite(errorCode StreamErrorCode, remote bool) {
	if s.closeForShutdownErr != nil || s.cancelWriteErr != nil {
		return
	}
	// The FIN was already sent and acknowledged. Nothing to reset.
	if s.finSent && s.numOutstandingFrames == 0 && len(s.retransmissionQueue) == 0 {
		return
	}
	s.cancelWriteErr = &StreamError{StreamID: s.streamID, ErrorCode: errorCode, Remote: remote}
	s.numOutstandingFrames = 0
	s.retransmissionQueue = nil
	s.dataForWriting = nil
	s.sender.queueControlFrame(&wire.ResetStreamFrame{
		StreamID:  s.streamID,
		FinalSize: s.writeOffset,
		ErrorCode: errorCode,
	})
	s.checkIfCompleted()
}

// handleStopSendingFrame is called when the peer sends a STOP_SENDING frame.
// It resets the stream with the peer's error code.
func (s *SendStream) handleStopSendingFrame(frame *wire.StopSendingFrame) {
	s.cancelWrite(frame.ErrorCode, true)
	s.sender.emitStreamEvent(Event{
		Kind:      EventKindStreamStopped,
		StreamID:  s.streamID,
		ErrorCode: frame.ErrorCode,
	})
}

func (s *SendStream) updateSendWindow(limit protocol.ByteCount) {
	updated := s.flowController.UpdateSendWindow(limit)
	if !updated {
		return
	}
	if s.writeBlocked {
		s.writeBlocked = false
		s.sender.emitStreamEvent(Event{Kind: EventKindStreamWritable, StreamID: s.streamID})
	}
	if len(s.dataForWriting) > 0 {
		s.sender.onHasStreamData(s.streamID, s)
	}
}

func (s *SendStream) OnAcked(f *wire.StreamFrame) {
	f.PutBack()
	if s.cancelWriteErr != nil {
		return
	}
	s.numOutstandingFrames--
	if s.numOutstandingFrames < 0 {
		panic("numOutStandingFrames negative")
	}
	s.checkIfCompleted()
}

func (s *SendStream) OnLost(f *wire.StreamFrame) {
	if s.cancelWriteErr != nil {
		f.PutBack()
		return
	}
	s.numOutstandingFrames--
	if s.numOutstandingFrames < 0 {
		panic("numOutStandingFrames negative")
	}
	f.DataLenPresent = true
	s.retransmissionQueue = append(s.retransmissionQueue, f)
	s.sender.onHasStreamData(s.streamID, s)
}

// closeForShutdown closes the stream for shutdown of the whole connection.
func (s *SendStream) closeForShutdown(err error) {
	if err == nil {
		err = fmt.Errorf("%w", ErrConnectionClosed)
	}
	s.closeForShutdownErr = err
}

// isNewlyCompleted says if the stream completed since the last call.
// A send stream is completed when the FIN (or the reset) was acknowledged.
func (s *SendStream) checkIfCompleted() {
	if s.completed {
		return
	}
	if s.cancelWriteErr != nil ||
		(s.finSent && s.numOutstandingFrames == 0 && len(s.retransmissionQueue) == 0) {
		s.completed = true
		s.sender.onStreamCompleted(s.streamID)
	}
}
