package qlog

import (
	"io"
	"net"
	"time"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/logging"
)

// NewTracer creates a new tracer to record a qlog for events not tied to a single connection,
// e.g. version negotiation and stateless packet handling.
func NewTracer(w io.WriteCloser) *logging.Tracer {
	tr := trace{
		VantagePoint: vantagePoint{Type: "transport"},
		CommonFields: commonFields{ReferenceTime: time.Now()},
	}
	t := &tracer{w: newWriter(w, tr)}
	go t.w.Run()
	return &logging.Tracer{
		SentPacket: func(_ net.Addr, hdr *logging.Header, size logging.ByteCount, frames []logging.Frame) {
			t.SentPacket(hdr, size, frames)
		},
		SentVersionNegotiationPacket: func(_ net.Addr, dest, src logging.ArbitraryLenConnectionID, versions []logging.Version) {
			t.SentVersionNegotiationPacket(dest, src, versions)
		},
		DroppedPacket: func(_ net.Addr, pt logging.PacketType, size logging.ByteCount, reason logging.PacketDropReason) {
			t.DroppedPacket(pt, size, reason)
		},
		Debug: func(name, msg string) { t.Debug(name, msg) },
		Close: func() { t.Close() },
	}
}

type tracer struct {
	w *writer
}

func (t *tracer) recordEvent(details eventDetails) {
	t.w.RecordEvent(time.Now(), details)
}

func (t *tracer) SentPacket(hdr *logging.Header, size logging.ByteCount, frames []logging.Frame) {
	fs := make([]frame, 0, len(frames))
	for _, f := range frames {
		fs = append(fs, frame{Frame: f})
	}
	t.recordEvent(eventPacketSent{
		Header: transformHeader(hdr),
		Length: size,
		Frames: fs,
	})
}

func (t *tracer) SentVersionNegotiationPacket(dest, src logging.ArbitraryLenConnectionID, versions []logging.Version) {
	ver := make([]version, len(versions))
	for i, v := range versions {
		ver[i] = version(v)
	}
	t.recordEvent(eventVersionNegotiationSent{
		Header: packetHeaderVersionNegotiation{
			SrcConnectionID:  src,
			DestConnectionID: dest,
		},
		SupportedVersions: ver,
	})
}

func (t *tracer) DroppedPacket(pt logging.PacketType, size logging.ByteCount, reason logging.PacketDropReason) {
	t.recordEvent(eventPacketDropped{
		PacketType:   pt,
		PacketSize:   size,
		PacketNumber: protocol.InvalidPacketNumber,
		Trigger:      packetDropReason(reason),
	})
}

func (t *tracer) Debug(name, msg string) {
	t.recordEvent(eventGeneric{
		category: categoryTransport,
		name:     name,
		msg:      msg,
	})
}

func (t *tracer) Close() {
	t.w.Close()
}
