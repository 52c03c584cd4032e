package tquic

import (
	"github.com/liunix61/tquic/internal/flowcontrol"
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/utils"
	"github.com/liunix61/tquic/internal/wire"
)

// mockStreamSender records everything the streams report upwards.
type mockStreamSender struct {
	queuedControlFrames []wire.Frame
	streamsWithData     map[protocol.StreamID]sendStreamI
	streamWindowUpdates []protocol.StreamID
	connWindowUpdates   int
	completedStreams    []protocol.StreamID
	events              []Event
}

var _ streamSender = &mockStreamSender{}

func newMockStreamSender() *mockStreamSender {
	return &mockStreamSender{streamsWithData: make(map[protocol.StreamID]sendStreamI)}
}

func (s *mockStreamSender) queueControlFrame(f wire.Frame) {
	s.queuedControlFrames = append(s.queuedControlFrames, f)
}

func (s *mockStreamSender) onHasStreamData(id protocol.StreamID, str sendStreamI) {
	s.streamsWithData[id] = str
}

func (s *mockStreamSender) onHasStreamWindowUpdate(id protocol.StreamID) {
	s.streamWindowUpdates = append(s.streamWindowUpdates, id)
}

func (s *mockStreamSender) onHasConnectionWindowUpdate() {
	s.connWindowUpdates++
}

func (s *mockStreamSender) onStreamCompleted(id protocol.StreamID) {
	s.completedStreams = append(s.completedStreams, id)
}

func (s *mockStreamSender) emitStreamEvent(e Event) {
	s.events = append(s.events, e)
}

// newTestFlowController builds a stream flow controller with large windows,
// suitable for tests that don't exercise flow control limits.
func newTestFlowController(id protocol.StreamID) flowcontrol.StreamFlowController {
	rttStats := &utils.RTTStats{}
	cfc := flowcontrol.NewConnectionFlowController(
		protocol.DefaultMaxReceiveConnectionFlowControlWindow,
		protocol.DefaultMaxReceiveConnectionFlowControlWindow,
		func(protocol.ByteCount) bool { return true },
		rttStats,
		utils.DefaultLogger,
	)
	cfc.UpdateSendWindow(protocol.MaxByteCount)
	return flowcontrol.NewStreamFlowController(
		id,
		cfc,
		protocol.DefaultMaxReceiveStreamFlowControlWindow,
		protocol.DefaultMaxReceiveStreamFlowControlWindow,
		protocol.DefaultMaxReceiveStreamFlowControlWindow,
		rttStats,
		utils.DefaultLogger,
	)
}
