package tquic

import (
	"time"

	"github.com/liunix61/tquic/internal/ackhandler"
	"github.com/liunix61/tquic/internal/flowcontrol"
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/wire"
)

type streamI interface {
	StreamID() StreamID
	closeForShutdown(error)
	// for receiving
	handleStreamFrame(*wire.StreamFrame, time.Time) error
	handleResetStreamFrame(*wire.ResetStreamFrame, time.Time) error
	getWindowUpdate(time.Time) protocol.ByteCount
	// for sending
	hasData() bool
	handleStopSendingFrame(*wire.StopSendingFrame)
	popStreamFrame(maxBytes protocol.ByteCount, v protocol.Version) (frame ackhandler.StreamFrame, ok, hasMore bool)
	updateSendWindow(protocol.ByteCount)
}

type receiveStreamI interface {
	StreamID() StreamID
	handleStreamFrame(*wire.StreamFrame, time.Time) error
	handleResetStreamFrame(*wire.ResetStreamFrame, time.Time) error
	getWindowUpdate(time.Time) protocol.ByteCount
	closeForShutdown(error)
}

type sendStreamI interface {
	StreamID() StreamID
	handleStopSendingFrame(*wire.StopSendingFrame)
	hasData() bool
	popStreamFrame(maxBytes protocol.ByteCount, v protocol.Version) (frame ackhandler.StreamFrame, ok, hasMore bool)
	closeForShutdown(error)
	updateSendWindow(protocol.ByteCount)
}

// The streamSender is the interface a stream uses to call back into the connection.
type streamSender interface {
	queueControlFrame(wire.Frame)
	onHasStreamData(protocol.StreamID, sendStreamI)
	onHasStreamWindowUpdate(protocol.StreamID)
	onHasConnectionWindowUpdate()
	onStreamCompleted(protocol.StreamID)
	emitStreamEvent(Event)
}

// uniStreamSender translates the completion of one half of a bidirectional
// stream into the completion of the whole stream.
type uniStreamSender struct {
	streamSender
	onStreamCompletedImpl func()
}

func (s *uniStreamSender) onStreamCompleted(protocol.StreamID) { s.onStreamCompletedImpl() }

var _ streamSender = &uniStreamSender{}

// A Stream is a bidirectional QUIC stream. Both directions operate
// independently: the send side behaves like a SendStream, the receive side
// like a ReceiveStream.
type Stream struct {
	receiveStream *ReceiveStream
	sendStream    *SendStream

	sender streamSender

	receiveStreamCompleted bool
	sendStreamCompleted    bool
}

var _ streamI = &Stream{}

func newStream(
	streamID protocol.StreamID,
	sender streamSender,
	flowController flowcontrol.StreamFlowController,
) *Stream {
	s := &Stream{sender: sender}
	senderForSendStream := &uniStreamSender{
		streamSender: sender,
		onStreamCompletedImpl: func() {
			s.sendStreamCompleted = true
			s.checkStreamCompleted()
		},
	}
	s.sendStream = newSendStream(streamID, senderForSendStream, flowController)
	senderForReceiveStream := &uniStreamSender{
		streamSender: sender,
		onStreamCompletedImpl: func() {
			s.receiveStreamCompleted = true
			s.checkStreamCompleted()
		},
	}
	s.receiveStream = newReceiveStream(streamID, senderForReceiveStream, flowController)
	return s
}

// StreamID returns the stream ID.
func (s *Stream) StreamID() StreamID { return s.sendStream.StreamID() }

// Read reads from the receive side of the stream. See ReceiveStream.Read.
func (s *Stream) Read(p []byte) (int, error) { return s.receiveStream.Read(p) }

// Write writes to the send side of the stream. See SendStream.Write.
func (s *Stream) Write(p []byte) (int, error) { return s.sendStream.Write(p) }

// Close closes the send side of the stream. It doesn't affect the receive side.
func (s *Stream) Close() error { return s.sendStream.Close() }

// CancelRead aborts receiving on this stream. See ReceiveStream.CancelRead.
func (s *Stream) CancelRead(errorCode StreamErrorCode) { s.receiveStream.CancelRead(errorCode) }

// CancelWrite aborts sending on this stream. See SendStream.CancelWrite.
func (s *Stream) CancelWrite(errorCode StreamErrorCode) { s.sendStream.CancelWrite(errorCode) }

func (s *Stream) handleStreamFrame(f *wire.StreamFrame, now time.Time) error {
	return s.receiveStream.handleStreamFrame(f, now)
}

func (s *Stream) handleResetStreamFrame(f *wire.ResetStreamFrame, now time.Time) error {
	return s.receiveStream.handleResetStreamFrame(f, now)
}

func (s *Stream) handleStopSendingFrame(f *wire.StopSendingFrame) {
	s.sendStream.handleStopSendingFrame(f)
}

func (s *Stream) getWindowUpdate(now time.Time) protocol.ByteCount {
	return s.receiveStream.getWindowUpdate(now)
}

func (s *Stream) hasData() bool { return s.sendStream.hasData() }

func (s *Stream) popStreamFrame(maxBytes protocol.ByteCount, v protocol.Version) (ackhandler.StreamFrame, bool, bool) {
	return s.sendStream.popStreamFrame(maxBytes, v)
}

func (s *Stream) updateSendWindow(limit protocol.ByteCount) {
	s.sendStream.updateSendWindow(limit)
}

// closeForShutdown closes the stream for shutdown of the whole connection.
func (s *Stream) closeForShutdown(err error) {
	s.sendStream.closeForShutdown(err)
	s.receiveStream.closeForShutdown(err)
}

// checkStreamCompleted reports the stream as completed to the streams map
// once both directions are done.
func (s *Stream) checkStreamCompleted() {
	if s.receiveStreamCompleted && s.sendStreamCompleted {
		s.sender.onStreamCompleted(s.StreamID())
	}
}
