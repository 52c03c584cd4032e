package logging

import "github.com/liunix61/tquic/internal/wire"

// A CryptoFrame is a CRYPTO frame.
type CryptoFrame struct {
	Offset ByteCount
	Length ByteCount
}

// A StreamFrame is a STREAM frame.
type StreamFrame struct {
	StreamID StreamID
	Offset   ByteCount
	Length   ByteCount
	Fin      bool
}

// A DatagramFrame is a DATAGRAM frame.
type DatagramFrame struct {
	Length ByteCount
}

// ConvertFrame converts a wire.Frame into a logging.Frame.
// CRYPTO, STREAM and DATAGRAM frames are stripped of their data,
// only the length of the data is recorded.
func ConvertFrame(frame wire.Frame) Frame {
	switch f := frame.(type) {
	case *wire.AckFrame:
		// We treat it separately in order to obtain the ACK delay.
		return f
	case *wire.CryptoFrame:
		return &CryptoFrame{
			Offset: f.Offset,
			Length: ByteCount(len(f.Data)),
		}
	case *wire.StreamFrame:
		return &StreamFrame{
			StreamID: f.StreamID,
			Offset:   f.Offset,
			Length:   f.DataLen(),
			Fin:      f.Fin,
		}
	case *wire.DatagramFrame:
		return &DatagramFrame{
			Length: ByteCount(len(f.Data)),
		}
	default:
		return frame
	}
}
