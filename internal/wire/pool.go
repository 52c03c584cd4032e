package wire

import (
	"sync"

	"github.com/liunix61/tquic/internal/protocol"
)

var pool sync.Pool

func init() {
	pool.New = func() interface{} {
		return &StreamFrame{
			Data:     make([]byte, 0, protocol.MaxPacketBufferSize),
			fromPool: true,
		}
	}
}

// GetStreamFrame returns a StreamFrame with a preallocated data buffer.
func GetStreamFrame() *StreamFrame {
	f := pool.Get().(*StreamFrame)
	return f
}

func putStreamFrame(f *StreamFrame) {
	if !f.fromPool {
		return
	}
	if protocol.ByteCount(cap(f.Data)) != protocol.MaxPacketBufferSize {
		panic("wire.PutStreamFrame called with packet of wrong size!")
	}
	f.Data = f.Data[:0]
	f.Fin = false
	f.Offset = 0
	f.StreamID = 0
	f.DataLenPresent = false
	pool.Put(f)
}
