// Package ackhandler implements loss detection, congestion reaction and
// ACK generation for the three QUIC packet number spaces.
package ackhandler

import (
	"github.com/liunix61/tquic/internal/congestion"
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/utils"
	"github.com/liunix61/tquic/logging"
)

// NewAckHandler creates a new SentPacketHandler and a new ReceivedPacketHandler.
// If cc is nil, a Reno congestion controller is used.
// clientAddressValidated indicates whether the address was validated beforehand by an address validation token.
// The value is ignored for clients, as the server's address is always validated.
func NewAckHandler(
	initialPacketNumber protocol.PacketNumber,
	initialMaxDatagramSize protocol.ByteCount,
	rttStats *utils.RTTStats,
	cc congestion.SendAlgorithmWithDebugInfos,
	clientAddressValidated bool,
	pers protocol.Perspective,
	tracer *logging.ConnectionTracer,
	logger utils.Logger,
) (SentPacketHandler, ReceivedPacketHandler) {
	sph := newSentPacketHandler(initialPacketNumber, initialMaxDatagramSize, rttStats, cc, clientAddressValidated, pers, tracer, logger)
	return sph, newReceivedPacketHandler(sph, logger)
}
