package ackhandler

import (
	"testing"
	"time"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/utils"

	"github.com/stretchr/testify/require"
)

type mockSentPacketTracker struct {
	lowestNotConfirmedAcked protocol.PacketNumber
	receivedPackets         []protocol.EncryptionLevel
}

func (t *mockSentPacketTracker) GetLowestPacketNotConfirmedAcked() protocol.PacketNumber {
	return t.lowestNotConfirmedAcked
}

func (t *mockSentPacketTracker) ReceivedPacket(encLevel protocol.EncryptionLevel, _ time.Time) {
	t.receivedPackets = append(t.receivedPackets, encLevel)
}

func TestReceivedPacketHandlerAckGeneration(t *testing.T) {
	handler := newReceivedPacketHandler(&mockSentPacketTracker{}, utils.DefaultLogger)
	now := time.Now()

	sendTime := now.Add(-time.Second)
	require.NoError(t, handler.ReceivedPacket(2, protocol.EncryptionInitial, sendTime, true))
	require.NoError(t, handler.ReceivedPacket(1, protocol.EncryptionHandshake, sendTime, true))
	require.NoError(t, handler.ReceivedPacket(5, protocol.Encryption1RTT, sendTime, true))

	// Initial and Handshake ACKs are available immediately
	ack := handler.GetAckFrame(protocol.EncryptionInitial, now, true)
	require.NotNil(t, ack)
	require.Equal(t, protocol.PacketNumber(2), ack.LargestAcked())
	ack = handler.GetAckFrame(protocol.EncryptionHandshake, now, true)
	require.NotNil(t, ack)
	require.Equal(t, protocol.PacketNumber(1), ack.LargestAcked())
	// the first 1-RTT packet is acknowledged immediately as well
	ack = handler.GetAckFrame(protocol.Encryption1RTT, now, true)
	require.NotNil(t, ack)
	require.Equal(t, protocol.PacketNumber(5), ack.LargestAcked())
}

func TestReceivedPacketHandlerDropPackets(t *testing.T) {
	handler := newReceivedPacketHandler(&mockSentPacketTracker{}, utils.DefaultLogger)
	now := time.Now()

	require.NoError(t, handler.ReceivedPacket(2, protocol.EncryptionInitial, now, true))
	require.NoError(t, handler.ReceivedPacket(1, protocol.EncryptionHandshake, now, true))

	handler.DropPackets(protocol.EncryptionInitial)
	require.Nil(t, handler.GetAckFrame(protocol.EncryptionInitial, now, true))
	handler.DropPackets(protocol.EncryptionHandshake)
	require.Nil(t, handler.GetAckFrame(protocol.EncryptionHandshake, now, true))

	// dropping 0-RTT is a no-op
	require.NotPanics(t, func() { handler.DropPackets(protocol.Encryption0RTT) })
	// dropping 1-RTT packets is not allowed
	require.Panics(t, func() { handler.DropPackets(protocol.Encryption1RTT) })
}

func TestReceivedPacketHandler0RTTAnd1RTT(t *testing.T) {
	handler := newReceivedPacketHandler(&mockSentPacketTracker{}, utils.DefaultLogger)
	now := time.Now()

	require.NoError(t, handler.ReceivedPacket(2, protocol.Encryption0RTT, now, true))
	require.NoError(t, handler.ReceivedPacket(3, protocol.Encryption1RTT, now, true))

	// 0-RTT packets with higher packet numbers than a received 1-RTT packet are not allowed
	require.Error(t, handler.ReceivedPacket(4, protocol.Encryption0RTT, now, true))

	// 0-RTT and 1-RTT packets share a single packet number space
	require.True(t, handler.IsPotentiallyDuplicate(2, protocol.Encryption1RTT))
	require.True(t, handler.IsPotentiallyDuplicate(3, protocol.Encryption0RTT))
}

func TestReceivedPacketHandlerIgnoresBelowConfirmedAcked(t *testing.T) {
	sentPackets := &mockSentPacketTracker{}
	handler := newReceivedPacketHandler(sentPackets, utils.DefaultLogger)
	now := time.Now()

	for pn := protocol.PacketNumber(0); pn <= 3; pn++ {
		require.NoError(t, handler.ReceivedPacket(pn, protocol.Encryption1RTT, now, true))
	}
	// the peer now knows that our ACK for packets 0-3 arrived
	sentPackets.lowestNotConfirmedAcked = 4
	for pn := protocol.PacketNumber(4); pn <= 6; pn++ {
		require.NoError(t, handler.ReceivedPacket(pn, protocol.Encryption1RTT, now, true))
	}
	ack := handler.GetAckFrame(protocol.Encryption1RTT, now, false)
	require.NotNil(t, ack)
	require.Equal(t, protocol.PacketNumber(4), ack.LowestAcked())
	require.Equal(t, protocol.PacketNumber(6), ack.LargestAcked())
}

func TestReceivedPacketHandlerForwardsToSentPacketTracker(t *testing.T) {
	sentPackets := &mockSentPacketTracker{}
	handler := newReceivedPacketHandler(sentPackets, utils.DefaultLogger)
	now := time.Now()

	require.NoError(t, handler.ReceivedPacket(0, protocol.EncryptionInitial, now, true))
	require.NoError(t, handler.ReceivedPacket(0, protocol.EncryptionHandshake, now, true))
	require.Equal(t, []protocol.EncryptionLevel{
		protocol.EncryptionInitial,
		protocol.EncryptionHandshake,
	}, sentPackets.receivedPackets)
}
