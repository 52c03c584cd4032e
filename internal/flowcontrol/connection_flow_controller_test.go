package flowcontrol

import (
	"testing"
	"time"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/qerr"
	"github.com/liunix61/tquic/internal/utils"

	"github.com/stretchr/testify/require"
)

func newTestConnectionFlowController(receiveWindow, maxReceiveWindow protocol.ByteCount) *connectionFlowController {
	return NewConnectionFlowController(
		receiveWindow,
		maxReceiveWindow,
		nil,
		&utils.RTTStats{},
		utils.DefaultLogger,
	).(*connectionFlowController)
}

func TestConnectionFlowControllerViolation(t *testing.T) {
	fc := newTestConnectionFlowController(100, 100)
	require.NoError(t, fc.IncrementHighestReceived(60))
	require.NoError(t, fc.IncrementHighestReceived(40))

	err := fc.IncrementHighestReceived(1)
	require.Error(t, err)
	var terr *qerr.TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, qerr.FlowControlError, terr.ErrorCode)
	require.Equal(t, "received 101 bytes for the connection, allowed 100 bytes", terr.ErrorMessage)
}

func TestConnectionFlowControllerWindowUpdate(t *testing.T) {
	fc := newTestConnectionFlowController(100, 100)
	require.NoError(t, fc.IncrementHighestReceived(90))

	require.False(t, fc.AddBytesRead(20))
	require.True(t, fc.AddBytesRead(10))

	now := time.Now()
	require.Equal(t, protocol.ByteCount(30+100), fc.GetWindowUpdate(now))
	require.Zero(t, fc.GetWindowUpdate(now))
}

func TestConnectionFlowControllerSendWindow(t *testing.T) {
	fc := newTestConnectionFlowController(100, 100)
	// The send window starts at 0, it's only set by the peer's transport parameters.
	require.Zero(t, fc.SendWindowSize())
	// Blocking at offset 0 is not reported.
	blocked, _ := fc.IsNewlyBlocked()
	require.False(t, blocked)

	require.True(t, fc.UpdateSendWindow(1000))
	require.Equal(t, protocol.ByteCount(1000), fc.SendWindowSize())
	fc.AddBytesSent(1000)
	require.Zero(t, fc.SendWindowSize())
	blocked, offset := fc.IsNewlyBlocked()
	require.True(t, blocked)
	require.Equal(t, protocol.ByteCount(1000), offset)
}

func TestConnectionFlowControllerEnsureMinimumWindowSize(t *testing.T) {
	const rtt = 20 * time.Millisecond
	rttStats := &utils.RTTStats{}
	rttStats.UpdateRTT(rtt, 0, time.Time{})
	fc := NewConnectionFlowController(100, 500, nil, rttStats, utils.DefaultLogger).(*connectionFlowController)

	now := time.Now()
	// Smaller values don't change anything.
	fc.EnsureMinimumWindowSize(50, now)
	require.Equal(t, protocol.ByteCount(100), fc.receiveWindowSize)

	fc.EnsureMinimumWindowSize(300, now)
	require.Equal(t, protocol.ByteCount(300), fc.receiveWindowSize)

	// The window size is capped at the maximum.
	fc.EnsureMinimumWindowSize(1000, now)
	require.Equal(t, protocol.ByteCount(500), fc.receiveWindowSize)

	// Growing the window starts a new auto-tuning epoch.
	require.Equal(t, now, fc.epochStartTime)
}

func TestConnectionFlowControllerEnsureMinimumWindowSizeVetoed(t *testing.T) {
	fc := NewConnectionFlowController(
		100, 500,
		func(protocol.ByteCount) bool { return false },
		&utils.RTTStats{},
		utils.DefaultLogger,
	).(*connectionFlowController)

	fc.EnsureMinimumWindowSize(300, time.Now())
	require.Equal(t, protocol.ByteCount(100), fc.receiveWindowSize)
}

func TestConnectionFlowControllerReset(t *testing.T) {
	t.Run("fresh controller", func(t *testing.T) {
		fc := newTestConnectionFlowController(100, 100)
		fc.AddBytesSent(80)
		require.Equal(t, protocol.ByteCount(100), fc.receiveWindow)
		require.NoError(t, fc.Reset())
		require.Zero(t, fc.bytesSent)
	})

	t.Run("after receiving data", func(t *testing.T) {
		fc := newTestConnectionFlowController(100, 100)
		require.NoError(t, fc.IncrementHighestReceived(10))
		require.Error(t, fc.Reset())
	})

	t.Run("after reading data", func(t *testing.T) {
		fc := newTestConnectionFlowController(100, 100)
		fc.AddBytesRead(10)
		require.Error(t, fc.Reset())
	})
}
