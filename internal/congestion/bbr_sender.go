package congestion

import (
	"math"
	"time"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/utils"
	"github.com/liunix61/tquic/logging"
)

// bbrSender implements BBR congestion control, as described in
// https://datatracker.ietf.org/doc/html/draft-cardwell-iccrg-bbr-congestion-control.
// The structure of the algorithm follows the reference implementation in
// quiche's bbr_sender.cc.

const (
	// The minimum CWND to ensure delayed acks don't reduce bandwidth
	// measurements. Does not inflate the pacing rate.
	bbrMinCongestionWindowPackets = 4

	// The gain used for the STARTUP, equal to 2/ln(2).
	bbrHighGain = 2.885

	// The time after which the current min_rtt value expires.
	bbrMinRTTExpiry = 10 * time.Second

	// The minimum time the connection can spend in PROBE_RTT mode.
	bbrProbeRTTTime = 200 * time.Millisecond

	// If the bandwidth does not increase by the factor of bbrStartupGrowthTarget
	// within bbrRoundTripsWithoutGrowthBeforeExitingStartup rounds, the
	// connection will exit the STARTUP mode.
	bbrStartupGrowthTarget                         = 1.25
	bbrRoundTripsWithoutGrowthBeforeExitingStartup = int64(3)

	// The RTT used to seed the pacing rate before any RTT sample is available.
	bbrInitialRTT = 100 * time.Millisecond

	infRTT = time.Duration(math.MaxInt64)
)

// The cycle of gains used during the PROBE_BW stage.
var bbrPacingGain = [...]float64{1.25, 0.75, 1, 1, 1, 1, 1, 1}

const bbrGainCycleLength = len(bbrPacingGain)

// The size of the bandwidth filter window, in round-trips.
const bbrBandwidthWindowSize = int64(bbrGainCycleLength + 2)

type bbrMode int

const (
	// Startup phase of the connection.
	bbrModeStartup bbrMode = iota
	// After achieving the highest possible bandwidth during the startup, lower
	// the pacing rate in order to drain the queue.
	bbrModeDrain
	// Cruising mode.
	bbrModeProbeBW
	// Temporarily slow down sending in order to empty the buffer and measure
	// the real minimum RTT.
	bbrModeProbeRTT
)

type bbrRecoveryState int

const (
	// Do not limit.
	bbrRecoveryStateNotInRecovery bbrRecoveryState = iota
	// Allow an extra outstanding byte for each byte acknowledged.
	bbrRecoveryStateConservation
	// Allow two extra outstanding bytes for each byte acknowledged (slow
	// start).
	bbrRecoveryStateGrowth
)

type bbrSender struct {
	mode     bbrMode
	clock    Clock
	rttStats *utils.RTTStats
	rng      utils.Rand
	pacer    *pacer
	sampler  *bandwidthSampler

	maxDatagramSize         protocol.ByteCount
	initialCongestionWindow protocol.ByteCount
	maxCongestionWindow     protocol.ByteCount
	congestionWindow        protocol.ByteCount
	recoveryWindow          protocol.ByteCount

	lastSentPacket protocol.PacketNumber
	bytesInFlight  protocol.ByteCount
	endRecoveryAt  protocol.PacketNumber
	recoveryState  bbrRecoveryState

	// The filters for tracking the maximum bandwidth and the maximum degree of
	// ack aggregation, over a window of round-trips.
	maxBandwidth *WindowedFilter
	maxAckHeight *WindowedFilter

	aggregationEpochStartTime time.Time
	aggregationEpochBytes     protocol.ByteCount

	pacingRate           Bandwidth
	pacingGain           float64
	congestionWindowGain float64
	drainGain            float64

	cycleCurrentOffset int
	lastCycleStart     time.Time

	currentRoundTripEnd protocol.PacketNumber
	roundTripCount      int64

	lastSampleIsAppLimited bool

	minRTT                  time.Duration
	minRTTSinceLastProbeRTT time.Duration
	minRTTTimestamp         time.Time

	isAtFullBandwidth          bool
	bandwidthAtLastRound       Bandwidth
	roundsWithoutBandwidthGain int64

	// Set to true upon exiting quiescence.
	exitingQuiescence bool

	// Time at which PROBE_RTT has to be exited. Setting it to zero indicates
	// that the time is yet unknown as the number of packets in flight has not
	// reached the required value.
	exitProbeRTTAt time.Time
	// Indicates whether a round-trip has passed since PROBE_RTT became active.
	probeRTTRoundPassed bool

	// Bytes lost while in STARTUP.
	startupBytesLost protocol.ByteCount

	lastState logging.CongestionState
	tracer    *logging.ConnectionTracer
}

var (
	_ SendAlgorithm               = &bbrSender{}
	_ SendAlgorithmWithDebugInfos = &bbrSender{}
)

// NewBBRSender makes a new BBR sender
func NewBBRSender(
	clock Clock,
	rttStats *utils.RTTStats,
	initialMaxDatagramSize protocol.ByteCount,
	tracer *logging.ConnectionTracer,
) *bbrSender {
	b := &bbrSender{
		mode:                    bbrModeStartup,
		clock:                   clock,
		rttStats:                rttStats,
		sampler:                 newBandwidthSampler(),
		maxDatagramSize:         initialMaxDatagramSize,
		initialCongestionWindow: initialCongestionWindow * initialMaxDatagramSize,
		maxCongestionWindow:     protocol.MaxCongestionWindowPackets * initialMaxDatagramSize,
		congestionWindow:        initialCongestionWindow * initialMaxDatagramSize,
		recoveryWindow:          protocol.MaxCongestionWindowPackets * initialMaxDatagramSize,
		recoveryState:           bbrRecoveryStateNotInRecovery,
		maxBandwidth:            NewWindowedFilter(bbrBandwidthWindowSize),
		maxAckHeight:            NewWindowedFilter(bbrBandwidthWindowSize),
		pacingGain:              bbrHighGain,
		congestionWindowGain:    bbrHighGain,
		drainGain:               1.0 / bbrHighGain,
		minRTT:                  infRTT,
		minRTTSinceLastProbeRTT: infRTT,
		tracer:                  tracer,
	}
	b.pacingRate = Bandwidth(bbrHighGain * float64(BandwidthFromDelta(b.initialCongestionWindow, bbrInitialRTT)))
	b.pacer = newPacer(func() Bandwidth {
		// The pacer applies a 5/4 adjustment on top of the bandwidth it is
		// given. BBR's pacing_gain already controls how aggressively we pace,
		// so cancel the adjustment out here.
		return b.pacingRate * 4 / 5
	})
	if b.tracer != nil && b.tracer.UpdatedCongestionState != nil {
		b.lastState = logging.CongestionStateSlowStart
		b.tracer.UpdatedCongestionState(logging.CongestionStateSlowStart)
	}
	return b
}

// TimeUntilSend returns when the next packet should be sent.
func (b *bbrSender) TimeUntilSend(_ protocol.ByteCount) time.Time {
	return b.pacer.TimeUntilSend()
}

func (b *bbrSender) HasPacingBudget(now time.Time) bool {
	return b.pacer.Budget(now) >= b.maxDatagramSize
}

func (b *bbrSender) OnPacketSent(
	sentTime time.Time,
	bytesInFlight protocol.ByteCount,
	packetNumber protocol.PacketNumber,
	bytes protocol.ByteCount,
	isRetransmittable bool,
) {
	b.pacer.SentPacket(sentTime, bytes)
	b.lastSentPacket = packetNumber
	b.bytesInFlight = bytesInFlight

	// bytesInFlight already includes this packet, so the connection was
	// quiescent if this packet is the only one in flight.
	if bytesInFlight == bytes && b.sampler.isAppLimited {
		b.exitingQuiescence = true
	}

	if b.aggregationEpochStartTime.IsZero() {
		b.aggregationEpochStartTime = sentTime
	}

	b.sampler.OnPacketSent(sentTime, packetNumber, bytes, bytesInFlight, isRetransmittable)
}

func (b *bbrSender) CanSend(bytesInFlight protocol.ByteCount) bool {
	return bytesInFlight < b.GetCongestionWindow()
}

func (b *bbrSender) GetCongestionWindow() protocol.ByteCount {
	if b.mode == bbrModeProbeRTT {
		return b.probeRTTCongestionWindow()
	}
	if b.inRecovery() {
		return min(b.congestionWindow, b.recoveryWindow)
	}
	return b.congestionWindow
}

func (b *bbrSender) MaybeExitSlowStart() {}

func (b *bbrSender) OnPacketAcked(
	number protocol.PacketNumber,
	ackedBytes protocol.ByteCount,
	priorInFlight protocol.ByteCount,
	eventTime time.Time,
) {
	if priorInFlight >= ackedBytes {
		b.bytesInFlight = priorInFlight - ackedBytes
	} else {
		b.bytesInFlight = 0
	}
	b.onCongestionEvent(number, ackedBytes, 0, eventTime)
}

func (b *bbrSender) OnCongestionEvent(
	number protocol.PacketNumber,
	lostBytes protocol.ByteCount,
	priorInFlight protocol.ByteCount,
) {
	if priorInFlight >= lostBytes {
		b.bytesInFlight = priorInFlight - lostBytes
	} else {
		b.bytesInFlight = 0
	}
	b.onCongestionEvent(number, 0, lostBytes, b.clock.Now())
}

func (b *bbrSender) onCongestionEvent(
	number protocol.PacketNumber,
	ackedBytes protocol.ByteCount,
	lostBytes protocol.ByteCount,
	eventTime time.Time,
) {
	isRoundStart, minRTTExpired := false, false

	if lostBytes > 0 {
		b.discardLostPacket(number, lostBytes)
		b.updateRecoveryState(number, true, false)
	}

	// Input the new data into the BBR model of the connection.
	var excessAcked protocol.ByteCount
	if ackedBytes > 0 {
		isRoundStart = b.updateRoundTripCounter(number)
		minRTTExpired = b.updateBandwidthAndMinRTT(eventTime, number)
		b.updateRecoveryState(number, false, isRoundStart)
		excessAcked = b.updateAckAggregationBytes(eventTime, ackedBytes)
	}

	// Handle logic specific to PROBE_BW mode.
	if b.mode == bbrModeProbeBW {
		b.updateGainCyclePhase(eventTime, lostBytes > 0)
	}

	// Handle logic specific to STARTUP and DRAIN modes.
	if isRoundStart && !b.isAtFullBandwidth {
		b.checkIfFullBandwidthReached()
	}
	b.maybeExitStartupOrDrain(eventTime)

	// Handle logic specific to PROBE_RTT.
	b.maybeEnterOrExitProbeRTT(eventTime, isRoundStart, minRTTExpired)

	// After the model is updated, recalculate the pacing rate and congestion
	// window.
	b.calculatePacingRate()
	b.calculateCongestionWindow(ackedBytes, excessAcked)
	b.calculateRecoveryWindow(ackedBytes, lostBytes)

	// Cleanup internal state.
	b.sampler.RemoveObsoletePackets(number)
	b.maybeTraceStateChange()
}

func (b *bbrSender) OnRetransmissionTimeout(bool) {}

// OnConnectionMigration resets the sender to its initial state. The path
// characteristics may have changed completely.
func (b *bbrSender) OnConnectionMigration() {
	b.mode = bbrModeStartup
	b.sampler = newBandwidthSampler()
	b.maxBandwidth = NewWindowedFilter(bbrBandwidthWindowSize)
	b.maxAckHeight = NewWindowedFilter(bbrBandwidthWindowSize)
	b.congestionWindow = b.initialCongestionWindow
	b.recoveryWindow = b.maxCongestionWindow
	b.recoveryState = bbrRecoveryStateNotInRecovery
	b.pacingRate = Bandwidth(bbrHighGain * float64(BandwidthFromDelta(b.initialCongestionWindow, bbrInitialRTT)))
	b.pacingGain = bbrHighGain
	b.congestionWindowGain = bbrHighGain
	b.minRTT = infRTT
	b.minRTTSinceLastProbeRTT = infRTT
	b.minRTTTimestamp = time.Time{}
	b.isAtFullBandwidth = false
	b.bandwidthAtLastRound = 0
	b.roundsWithoutBandwidthGain = 0
	b.roundTripCount = 0
	b.currentRoundTripEnd = 0
	b.startupBytesLost = 0
}

func (b *bbrSender) SetMaxDatagramSize(s protocol.ByteCount) {
	if s < b.maxDatagramSize {
		return
	}
	cwndIsMinCwnd := b.congestionWindow == b.minCongestionWindow()
	b.maxDatagramSize = s
	if cwndIsMinCwnd {
		b.congestionWindow = b.minCongestionWindow()
	}
	b.pacer.SetMaxDatagramSize(s)
}

func (b *bbrSender) InSlowStart() bool {
	return b.mode == bbrModeStartup
}

func (b *bbrSender) InRecovery() bool {
	return b.inRecovery()
}

func (b *bbrSender) inRecovery() bool {
	return b.recoveryState != bbrRecoveryStateNotInRecovery
}

// BandwidthEstimate returns the windowed maximum of the bandwidth samples.
func (b *bbrSender) BandwidthEstimate() Bandwidth {
	return Bandwidth(b.maxBandwidth.GetBest())
}

func (b *bbrSender) minCongestionWindow() protocol.ByteCount {
	return bbrMinCongestionWindowPackets * b.maxDatagramSize
}

func (b *bbrSender) getMinRTT() time.Duration {
	if b.minRTT != infRTT {
		return b.minRTT
	}
	return b.rttStats.MinRTT()
}

func (b *bbrSender) getTargetCongestionWindow(gain float64) protocol.ByteCount {
	bdp := bytesFromBandwidthAndTimeDelta(b.BandwidthEstimate(), b.getMinRTT())
	congestionWindow := protocol.ByteCount(gain * float64(bdp))

	// BDP estimate will be zero if no bandwidth samples are available yet.
	if congestionWindow == 0 {
		congestionWindow = protocol.ByteCount(gain * float64(b.initialCongestionWindow))
	}

	return max(congestionWindow, b.minCongestionWindow())
}

func (b *bbrSender) probeRTTCongestionWindow() protocol.ByteCount {
	return b.minCongestionWindow()
}

func (b *bbrSender) updateRoundTripCounter(lastAckedPacket protocol.PacketNumber) bool {
	if lastAckedPacket > b.currentRoundTripEnd {
		b.currentRoundTripEnd = b.lastSentPacket
		b.roundTripCount++
		return true
	}
	return false
}

func (b *bbrSender) updateBandwidthAndMinRTT(now time.Time, lastAckedPacket protocol.PacketNumber) bool {
	sample := b.sampler.OnPacketAcknowledged(now, lastAckedPacket)

	b.lastSampleIsAppLimited = sample.isAppLimited

	if !sample.isAppLimited || sample.bandwidth > b.BandwidthEstimate() {
		b.maxBandwidth.Update(int64(sample.bandwidth), b.roundTripCount)
	}

	// If no RTT sample is available, return immediately.
	if sample.rtt <= 0 {
		return false
	}
	b.minRTTSinceLastProbeRTT = min(b.minRTTSinceLastProbeRTT, sample.rtt)

	// Do not expire min_rtt if none was ever available.
	minRTTExpired := b.minRTT != infRTT && now.After(b.minRTTTimestamp.Add(bbrMinRTTExpiry))
	if minRTTExpired || sample.rtt < b.minRTT || b.minRTT == infRTT {
		b.minRTT = sample.rtt
		b.minRTTTimestamp = now
		b.minRTTSinceLastProbeRTT = infRTT
	}

	return minRTTExpired
}

func (b *bbrSender) discardLostPacket(packetNumber protocol.PacketNumber, lostBytes protocol.ByteCount) {
	b.sampler.OnPacketLost(packetNumber)
	if b.mode == bbrModeStartup {
		b.startupBytesLost += lostBytes
	}
}

func (b *bbrSender) updateRecoveryState(lastAckedPacket protocol.PacketNumber, hasLosses, isRoundStart bool) {
	// Exit recovery if appropriate. Losses extend the recovery period, it is
	// only left when a packet sent after the last loss is acknowledged.
	if hasLosses {
		b.endRecoveryAt = b.lastSentPacket
	}

	switch b.recoveryState {
	case bbrRecoveryStateNotInRecovery:
		if hasLosses {
			b.recoveryState = bbrRecoveryStateConservation
			// This will cause the recovery window to be set to the correct
			// value in calculateRecoveryWindow.
			b.recoveryWindow = 0
			// Since the conservation phase is meant to last for a whole round,
			// extend the current round as if it were started right now.
			b.currentRoundTripEnd = b.lastSentPacket
		}
	case bbrRecoveryStateConservation:
		if isRoundStart {
			b.recoveryState = bbrRecoveryStateGrowth
		}
		fallthrough
	case bbrRecoveryStateGrowth:
		if !hasLosses && lastAckedPacket > b.endRecoveryAt {
			b.recoveryState = bbrRecoveryStateNotInRecovery
		}
	}
}

func (b *bbrSender) updateAckAggregationBytes(ackTime time.Time, ackedBytes protocol.ByteCount) protocol.ByteCount {
	// Compute how many bytes are expected to be delivered, assuming max
	// bandwidth is correct.
	expectedAckedBytes := bytesFromBandwidthAndTimeDelta(
		Bandwidth(b.maxBandwidth.GetBest()),
		ackTime.Sub(b.aggregationEpochStartTime),
	)
	// Reset the current aggregation epoch as soon as the ack arrival rate is
	// less than or equal to the max bandwidth.
	if b.aggregationEpochBytes <= expectedAckedBytes {
		b.aggregationEpochBytes = ackedBytes
		b.aggregationEpochStartTime = ackTime
		return 0
	}

	// Compute how many extra bytes were delivered vs max bandwidth.
	// Include the bytes most recently acknowledged to account for stretch acks.
	b.aggregationEpochBytes += ackedBytes
	b.maxAckHeight.Update(int64(b.aggregationEpochBytes-expectedAckedBytes), b.roundTripCount)
	return b.aggregationEpochBytes - expectedAckedBytes
}

func (b *bbrSender) updateGainCyclePhase(now time.Time, hasLosses bool) {
	// In most cases, the cycle is advanced after an RTT passes.
	shouldAdvanceGainCycling := now.Sub(b.lastCycleStart) > b.getMinRTT()

	// If the pacing gain is above 1.0, the connection is trying to probe the
	// bandwidth by increasing the number of bytes in flight to at least
	// pacing_gain * BDP. Make sure that it actually reaches the target, as
	// long as there are no losses suggesting that the buffers are not able to
	// hold that much.
	if b.pacingGain > 1.0 && !hasLosses && b.bytesInFlight < b.getTargetCongestionWindow(b.pacingGain) {
		shouldAdvanceGainCycling = false
	}

	// If pacing gain is below 1.0, the connection is trying to drain the extra
	// queue which could have been incurred by probing prior to it. If the
	// number of bytes in flight falls down to the estimated BDP value earlier,
	// conclude that the queue has been successfully drained and exit this cycle
	// early.
	if b.pacingGain < 1.0 && b.bytesInFlight <= b.getTargetCongestionWindow(1.0) {
		shouldAdvanceGainCycling = true
	}

	if shouldAdvanceGainCycling {
		b.cycleCurrentOffset = (b.cycleCurrentOffset + 1) % bbrGainCycleLength
		b.lastCycleStart = now
		b.pacingGain = bbrPacingGain[b.cycleCurrentOffset]
	}
}

func (b *bbrSender) checkIfFullBandwidthReached() {
	if b.lastSampleIsAppLimited {
		return
	}

	target := Bandwidth(float64(b.bandwidthAtLastRound) * bbrStartupGrowthTarget)
	if b.BandwidthEstimate() >= target {
		b.bandwidthAtLastRound = b.BandwidthEstimate()
		b.roundsWithoutBandwidthGain = 0
		return
	}

	b.roundsWithoutBandwidthGain++
	if b.roundsWithoutBandwidthGain >= bbrRoundTripsWithoutGrowthBeforeExitingStartup {
		b.isAtFullBandwidth = true
	}
}

func (b *bbrSender) maybeExitStartupOrDrain(now time.Time) {
	if b.mode == bbrModeStartup && b.isAtFullBandwidth {
		b.mode = bbrModeDrain
		b.pacingGain = b.drainGain
		b.congestionWindowGain = bbrHighGain
	}
	if b.mode == bbrModeDrain && b.bytesInFlight <= b.getTargetCongestionWindow(1) {
		b.enterProbeBandwidthMode(now)
	}
}

func (b *bbrSender) enterProbeBandwidthMode(now time.Time) {
	b.mode = bbrModeProbeBW
	b.congestionWindowGain = 2

	// Pick a random offset for the gain cycle out of {0, 2..7} range. 1 is
	// excluded because in that case increased gain and decreased gain would
	// not follow each other.
	b.cycleCurrentOffset = int(b.rng.Int31n(int32(bbrGainCycleLength - 1)))
	if b.cycleCurrentOffset >= 1 {
		b.cycleCurrentOffset++
	}

	b.lastCycleStart = now
	b.pacingGain = bbrPacingGain[b.cycleCurrentOffset]
}

func (b *bbrSender) enterStartupMode() {
	b.mode = bbrModeStartup
	b.pacingGain = bbrHighGain
	b.congestionWindowGain = bbrHighGain
}

func (b *bbrSender) maybeEnterOrExitProbeRTT(now time.Time, isRoundStart, minRTTExpired bool) {
	if minRTTExpired && !b.exitingQuiescence && b.mode != bbrModeProbeRTT {
		b.mode = bbrModeProbeRTT
		b.pacingGain = 1.0
		// Do not decide on the time to exit PROBE_RTT until the bytes in flight
		// have reached the target small value.
		b.exitProbeRTTAt = time.Time{}
	}

	if b.mode == bbrModeProbeRTT {
		b.sampler.OnAppLimited()

		if b.exitProbeRTTAt.IsZero() {
			// If the window has reached the appropriate size, schedule exiting
			// PROBE_RTT. The CWND during PROBE_RTT is the minimum congestion
			// window, but we allow an extra packet since QUIC checks CWND
			// before sending a packet.
			if b.bytesInFlight < b.probeRTTCongestionWindow()+b.maxDatagramSize {
				b.exitProbeRTTAt = now.Add(bbrProbeRTTTime)
				b.probeRTTRoundPassed = false
			}
		} else {
			if isRoundStart {
				b.probeRTTRoundPassed = true
			}
			if !now.Before(b.exitProbeRTTAt) && b.probeRTTRoundPassed {
				b.minRTTTimestamp = now
				if !b.isAtFullBandwidth {
					b.enterStartupMode()
				} else {
					b.enterProbeBandwidthMode(now)
				}
			}
		}
	}

	b.exitingQuiescence = false
}

func (b *bbrSender) calculatePacingRate() {
	if b.BandwidthEstimate() == 0 {
		return
	}

	targetRate := Bandwidth(b.pacingGain * float64(b.BandwidthEstimate()))
	if b.isAtFullBandwidth {
		b.pacingRate = targetRate
		return
	}

	// Do not decrease the pacing rate during startup.
	b.pacingRate = max(b.pacingRate, targetRate)
}

func (b *bbrSender) calculateCongestionWindow(ackedBytes, excessAcked protocol.ByteCount) {
	if b.mode == bbrModeProbeRTT {
		return
	}

	targetWindow := b.getTargetCongestionWindow(b.congestionWindowGain)
	if b.isAtFullBandwidth {
		// Add the max recently measured ack aggregation to CWND.
		targetWindow += protocol.ByteCount(b.maxAckHeight.GetBest())
	} else {
		// Add the most recent excess acked. Because CWND never decreases in
		// STARTUP, this will automatically create a very localized max filter.
		targetWindow += excessAcked
	}

	// Instead of immediately setting the target CWND as the new one, BBR grows
	// the CWND towards the target by only increasing it by bytes acked at a
	// time.
	if b.isAtFullBandwidth {
		b.congestionWindow = min(targetWindow, b.congestionWindow+ackedBytes)
	} else if b.congestionWindow < targetWindow || b.sampler.totalBytesAcked < b.initialCongestionWindow {
		// If the connection is not yet out of startup phase, do not decrease
		// the window.
		b.congestionWindow += ackedBytes
	}

	// Enforce the limits on the congestion window.
	b.congestionWindow = max(b.congestionWindow, b.minCongestionWindow())
	b.congestionWindow = min(b.congestionWindow, b.maxCongestionWindow)
}

func (b *bbrSender) calculateRecoveryWindow(ackedBytes, lostBytes protocol.ByteCount) {
	if b.recoveryState == bbrRecoveryStateNotInRecovery {
		return
	}

	// Set up the initial recovery window.
	if b.recoveryWindow == 0 {
		b.recoveryWindow = max(b.bytesInFlight+ackedBytes, b.minCongestionWindow())
		return
	}

	// Remove losses from the recovery window, while accounting for a potential
	// integer underflow.
	if b.recoveryWindow >= lostBytes {
		b.recoveryWindow -= lostBytes
	} else {
		b.recoveryWindow = b.maxDatagramSize
	}

	// In CONSERVATION mode, just subtracting losses is sufficient. In GROWTH,
	// release additional bytes acked to achieve a slow-start-like behavior.
	if b.recoveryState == bbrRecoveryStateGrowth {
		b.recoveryWindow += ackedBytes
	}

	// Always allow sending at least bytes acked in response.
	b.recoveryWindow = max(b.recoveryWindow, b.bytesInFlight+ackedBytes)
	b.recoveryWindow = max(b.recoveryWindow, b.minCongestionWindow())
}

func (b *bbrSender) maybeTraceStateChange() {
	if b.tracer == nil || b.tracer.UpdatedCongestionState == nil {
		return
	}
	var state logging.CongestionState
	switch {
	case b.mode == bbrModeStartup:
		state = logging.CongestionStateSlowStart
	case b.inRecovery():
		state = logging.CongestionStateRecovery
	default:
		state = logging.CongestionStateCongestionAvoidance
	}
	if state == b.lastState {
		return
	}
	b.tracer.UpdatedCongestionState(state)
	b.lastState = state
}

func bytesFromBandwidthAndTimeDelta(bandwidth Bandwidth, delta time.Duration) protocol.ByteCount {
	return protocol.ByteCount(bandwidth) * protocol.ByteCount(delta) /
		(protocol.ByteCount(time.Second) * protocol.ByteCount(BytesPerSecond))
}
