package congestion

import (
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/utils"
	"github.com/liunix61/tquic/logging"
)

// NewSendAlgorithm constructs the congestion controller selected by name.
// Recognized names are "reno", "cubic" and "bbr". Unknown names fall back to
// CUBIC, the default controller.
func NewSendAlgorithm(
	name string,
	clock Clock,
	rttStats *utils.RTTStats,
	initialMaxDatagramSize protocol.ByteCount,
	tracer *logging.ConnectionTracer,
) SendAlgorithmWithDebugInfos {
	switch name {
	case "reno":
		return NewCubicSender(clock, rttStats, initialMaxDatagramSize, true, tracer)
	case "bbr":
		return NewBBRSender(clock, rttStats, initialMaxDatagramSize, tracer)
	default:
		return NewCubicSender(clock, rttStats, initialMaxDatagramSize, false, tracer)
	}
}
