package congestion

import (
	"time"

	"github.com/liunix61/tquic/internal/protocol"
)

// A bandwidthSample is the result of a single acknowledgement.
type bandwidthSample struct {
	// The bandwidth at that particular sample. Zero if no valid bandwidth
	// sample is available.
	bandwidth Bandwidth
	// The RTT measurement at this particular sample. Zero if no RTT sample is
	// available. Does not correct for delayed ack time.
	rtt time.Duration
	// Indicates whether the sample might be artificially low because the
	// sender did not have enough data to send in order to saturate the link.
	isAppLimited bool
}

// connectionStateOnSentPacket is a snapshot of the connection state taken when
// a packet is sent. The state totals are needed to compute the send and ack
// rates once the packet is acknowledged.
type connectionStateOnSentPacket struct {
	// Time at which the packet was sent.
	sentTime time.Time
	// Size of the packet.
	size protocol.ByteCount
	// The value of totalBytesSent at the time the packet was sent.
	// Includes the packet itself.
	totalBytesSent protocol.ByteCount
	// The value of totalBytesSentAtLastAckedPacket at the time the packet was
	// sent.
	totalBytesSentAtLastAckedPacket protocol.ByteCount
	// The value of lastAckedPacketSentTime at the time the packet was sent.
	lastAckedPacketSentTime time.Time
	// The value of lastAckedPacketAckTime at the time the packet was sent.
	lastAckedPacketAckTime time.Time
	// The value of totalBytesAcked at the time the packet was sent.
	totalBytesAckedAtTheLastAckedPacket protocol.ByteCount
	// Whether the sender was app-limited at the time the packet was sent.
	isAppLimited bool
}

// bandwidthSampler keeps track of sent and acknowledged packets and outputs a
// bandwidth sample for every packet acknowledged. The samples are taken for
// individual packets, and are not filtered; the consumer has to filter the
// bandwidth samples itself.
//
// The sampler also tracks the app-limited phases of the connection: samples
// taken during such a phase are marked, since they can be artificially low.
type bandwidthSampler struct {
	// The total number of congestion controlled bytes sent during the
	// connection.
	totalBytesSent protocol.ByteCount
	// The total number of congestion controlled bytes which were acknowledged.
	totalBytesAcked protocol.ByteCount
	// The total number of congestion controlled bytes which were lost.
	totalBytesLost protocol.ByteCount
	// The value of totalBytesSent at the time the last acknowledged packet was
	// sent. Valid only when lastAckedPacketSentTime is valid.
	totalBytesSentAtLastAckedPacket protocol.ByteCount
	// The time at which the last acknowledged packet was sent. Set to zero if
	// no valid timestamp is available.
	lastAckedPacketSentTime time.Time
	// The time at which the most recent packet was acknowledged.
	lastAckedPacketAckTime time.Time
	// The most recently sent packet.
	lastSentPacket protocol.PacketNumber
	// Indicates whether the bandwidth sampler is currently in an app-limited
	// phase.
	isAppLimited bool
	// The packet that will be acknowledged after this one will cause the
	// sampler to exit the app-limited phase.
	endOfAppLimitedPhase protocol.PacketNumber
	// Record of the connection state at the point where each packet in flight
	// was sent, indexed by the packet number.
	connectionStateMap *packetNumberIndexedQueue[connectionStateOnSentPacket]
}

func newBandwidthSampler() *bandwidthSampler {
	return &bandwidthSampler{
		connectionStateMap: newPacketNumberIndexedQueue[connectionStateOnSentPacket](defaultConnectionStateMapQueueSize),
	}
}

const defaultConnectionStateMapQueueSize = 256

func (s *bandwidthSampler) OnPacketSent(
	sentTime time.Time,
	packetNumber protocol.PacketNumber,
	bytes protocol.ByteCount,
	bytesInFlight protocol.ByteCount,
	isRetransmittable bool,
) {
	s.lastSentPacket = packetNumber

	if !isRetransmittable {
		return
	}

	s.totalBytesSent += bytes

	// If there are no packets in flight, the time at which the new transmission
	// opens can be treated as the A_0 point for the purpose of bandwidth
	// sampling. This underestimates bandwidth to some extent, and produces some
	// artificially low samples for most packets in flight, but it provides with
	// samples at important points where we would not have them otherwise, most
	// importantly at the beginning of the connection.
	if bytesInFlight == 0 {
		s.lastAckedPacketAckTime = sentTime
		s.totalBytesSentAtLastAckedPacket = s.totalBytesSent
		// In this situation ack compression is not a concern, set the send rate
		// reference point to the current time.
		s.lastAckedPacketSentTime = sentTime
	}

	s.connectionStateMap.Emplace(packetNumber, &connectionStateOnSentPacket{
		sentTime:                            sentTime,
		size:                                bytes,
		totalBytesSent:                      s.totalBytesSent,
		totalBytesSentAtLastAckedPacket:     s.totalBytesSentAtLastAckedPacket,
		lastAckedPacketSentTime:             s.lastAckedPacketSentTime,
		lastAckedPacketAckTime:              s.lastAckedPacketAckTime,
		totalBytesAckedAtTheLastAckedPacket: s.totalBytesAcked,
		isAppLimited:                        s.isAppLimited,
	})
}

// OnPacketAcknowledged processes the acknowledgement of a single packet and
// returns the bandwidth sample for it. A zero sample is returned if the packet
// is not being tracked.
func (s *bandwidthSampler) OnPacketAcknowledged(ackTime time.Time, packetNumber protocol.PacketNumber) bandwidthSample {
	sentPacket := s.connectionStateMap.GetEntry(packetNumber)
	if sentPacket == nil {
		return bandwidthSample{}
	}
	sample := s.onPacketAcknowledgedInner(ackTime, packetNumber, sentPacket)
	s.connectionStateMap.Remove(packetNumber, nil)
	return sample
}

func (s *bandwidthSampler) onPacketAcknowledgedInner(
	ackTime time.Time,
	packetNumber protocol.PacketNumber,
	sentPacket *connectionStateOnSentPacket,
) bandwidthSample {
	s.totalBytesAcked += sentPacket.size
	s.totalBytesSentAtLastAckedPacket = sentPacket.totalBytesSent
	s.lastAckedPacketSentTime = sentPacket.sentTime
	s.lastAckedPacketAckTime = ackTime

	// Exit app-limited phase once a packet that was sent while the connection
	// was not app-limited is acknowledged.
	if s.isAppLimited && packetNumber > s.endOfAppLimitedPhase {
		s.isAppLimited = false
	}

	// There might have been no packets acknowledged at the moment when the
	// current packet was sent. In that case, there is no bandwidth sample to
	// make.
	if sentPacket.lastAckedPacketSentTime.IsZero() {
		return bandwidthSample{}
	}

	// Infinite rate indicates that the sampler is supposed to discard the
	// current send rate sample and use only the ack rate.
	sendRate := infBandwidth
	if sentPacket.sentTime.After(sentPacket.lastAckedPacketSentTime) {
		sendRate = BandwidthFromDelta(
			sentPacket.totalBytesSent-sentPacket.totalBytesSentAtLastAckedPacket,
			sentPacket.sentTime.Sub(sentPacket.lastAckedPacketSentTime),
		)
	}

	// During the slope calculation, ensure that ack time of the current packet
	// is always larger than the time of the previous packet, otherwise division
	// by zero or integer underflow can occur.
	if !ackTime.After(sentPacket.lastAckedPacketAckTime) {
		return bandwidthSample{}
	}
	ackRate := BandwidthFromDelta(
		s.totalBytesAcked-sentPacket.totalBytesAckedAtTheLastAckedPacket,
		ackTime.Sub(sentPacket.lastAckedPacketAckTime),
	)

	return bandwidthSample{
		bandwidth: min(sendRate, ackRate),
		// Note: this sample does not account for delayed acknowledgement time.
		// This means that the RTT measurements here can be artificially high,
		// especially on low bandwidth connections.
		rtt:          ackTime.Sub(sentPacket.sentTime),
		isAppLimited: sentPacket.isAppLimited,
	}
}

// OnPacketLost informs the sampler that a packet is considered lost and it
// should no longer keep track of it.
func (s *bandwidthSampler) OnPacketLost(packetNumber protocol.PacketNumber) bool {
	return s.connectionStateMap.Remove(packetNumber, func(entry connectionStateOnSentPacket) {
		s.totalBytesLost += entry.size
	})
}

// OnAppLimited marks the connection as app-limited at the moment at which the
// method is called.
func (s *bandwidthSampler) OnAppLimited() {
	s.isAppLimited = true
	s.endOfAppLimitedPhase = s.lastSentPacket
}

// RemoveObsoletePackets removes all the packets lower than the specified
// packet number.
func (s *bandwidthSampler) RemoveObsoletePackets(leastUnacked protocol.PacketNumber) {
	s.connectionStateMap.RemoveUpTo(leastUnacked)
}
