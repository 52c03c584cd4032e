package congestion

import (
	"testing"
	"time"

	"github.com/liunix61/tquic/internal/protocol"

	"github.com/stretchr/testify/require"
)

// newTestPacer returns a pacer sending at a fixed rate, in packets per second.
// The bandwidth callback cancels out the 5/4 adjustment the pacer applies, so
// the effective rate is exactly packetsPerSecond.
func newTestPacer(packetsPerSecond int) *pacer {
	bandwidth := Bandwidth(packetsPerSecond) * Bandwidth(initialMaxDatagramSize) * BytesPerSecond
	return newPacer(func() Bandwidth { return bandwidth * 4 / 5 })
}

func TestPacerBudget(t *testing.T) {
	t0 := time.Now()
	p := newTestPacer(50) // one packet every 20ms

	// The initial budget is the maximum burst size.
	require.Equal(t, maxBurstSizePackets*initialMaxDatagramSize, p.Budget(t0))

	// Sending a packet reduces the budget.
	p.SentPacket(t0, initialMaxDatagramSize)
	require.Equal(t, (maxBurstSizePackets-1)*initialMaxDatagramSize, p.Budget(t0))

	// The budget is replenished at the pacing rate.
	require.Equal(t,
		(maxBurstSizePackets-1)*initialMaxDatagramSize+initialMaxDatagramSize/2,
		p.Budget(t0.Add(10*time.Millisecond)),
	)

	// It never exceeds the maximum burst size.
	require.Equal(t, maxBurstSizePackets*initialMaxDatagramSize, p.Budget(t0.Add(time.Hour)))
}

func TestPacerPacing(t *testing.T) {
	t0 := time.Now()
	p := newTestPacer(50)

	// The initial burst can be sent immediately.
	for iter := 0; iter < maxBurstSizePackets; iter++ {
		require.Zero(t, p.TimeUntilSend())
		p.SentPacket(t0, initialMaxDatagramSize)
	}

	// Afterwards, packets are paced out one pacing interval apart.
	t1 := p.TimeUntilSend()
	require.Equal(t, t0.Add(20*time.Millisecond), t1)
	require.Equal(t, initialMaxDatagramSize, p.Budget(t1))
	p.SentPacket(t1, initialMaxDatagramSize)
	require.Equal(t, t1.Add(20*time.Millisecond), p.TimeUntilSend())
}

func TestPacerMinPacingDelay(t *testing.T) {
	t0 := time.Now()
	const packetsPerSecond = 10000 // pacing interval of 100µs
	p := newTestPacer(packetsPerSecond)

	// At high rates, the burst size is determined by the bandwidth.
	burst := p.Budget(t0)
	expected := protocol.ByteCount(packetsPerSecond) * initialMaxDatagramSize *
		protocol.ByteCount((protocol.MinPacingDelay + protocol.TimerGranularity).Nanoseconds()) / 1e9
	require.Equal(t, expected, burst)
	require.Greater(t, burst, maxBurstSizePackets*initialMaxDatagramSize)

	// Drain the budget.
	for p.Budget(t0) >= initialMaxDatagramSize {
		p.SentPacket(t0, initialMaxDatagramSize)
	}

	// Pacing delays shorter than the minimum are rounded up.
	require.Equal(t, t0.Add(protocol.MinPacingDelay), p.TimeUntilSend())
}

func TestPacerDatagramSizeIncrease(t *testing.T) {
	t0 := time.Now()
	p := newTestPacer(50)

	p.SetMaxDatagramSize(2 * initialMaxDatagramSize)
	require.Equal(t, maxBurstSizePackets*2*initialMaxDatagramSize, p.Budget(t0))
}
