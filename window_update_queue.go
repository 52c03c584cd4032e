package tquic

import (
	"time"

	"github.com/liunix61/tquic/internal/flowcontrol"
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/wire"
)

type windowUpdateQueue struct {
	queue     map[protocol.StreamID]struct{} // used as a set
	queueConn bool

	streamGetter       streamGetter
	connFlowController flowcontrol.ConnectionFlowController
	callback           func(wire.Frame)
}

func newWindowUpdateQueue(
	streamGetter streamGetter,
	connFC flowcontrol.ConnectionFlowController,
	cb func(wire.Frame),
) *windowUpdateQueue {
	return &windowUpdateQueue{
		queue:              make(map[protocol.StreamID]struct{}),
		streamGetter:       streamGetter,
		connFlowController: connFC,
		callback:           cb,
	}
}

func (q *windowUpdateQueue) AddStream(id protocol.StreamID) {
	q.queue[id] = struct{}{}
}

func (q *windowUpdateQueue) AddConnection() {
	q.queueConn = true
}

func (q *windowUpdateQueue) QueueAll(now time.Time) {
	// queue a connection-level window update
	if q.queueConn {
		if offset := q.connFlowController.GetWindowUpdate(now); offset > 0 {
			q.callback(&wire.MaxDataFrame{MaximumData: offset})
		}
		q.queueConn = false
	}
	// queue all stream-level window updates
	for id := range q.queue {
		delete(q.queue, id)
		str, err := q.streamGetter.GetOrOpenReceiveStream(id)
		if err != nil || str == nil { // the stream can be nil if it was completed before dequeueing the window update
			continue
		}
		offset := str.getWindowUpdate(now)
		if offset == 0 { // can happen if we received a final offset, right after queueing the window update
			continue
		}
		q.callback(&wire.MaxStreamDataFrame{
			StreamID:          id,
			MaximumStreamData: offset,
		})
	}
}
