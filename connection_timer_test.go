package tquic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectionTimer(t *testing.T) {
	now := time.Now()
	var timer connectionTimer

	_, ok := timer.Deadline()
	require.False(t, ok)

	// zero deadlines are ignored
	timer.Add(time.Time{})
	_, ok = timer.Deadline()
	require.False(t, ok)

	// the earliest deadline wins
	timer.Add(now.Add(time.Second))
	timer.Add(now.Add(time.Minute))
	timer.Add(now.Add(100 * time.Millisecond))
	deadline, ok := timer.Deadline()
	require.True(t, ok)
	require.Equal(t, now.Add(100*time.Millisecond), deadline)

	timer.Reset()
	_, ok = timer.Deadline()
	require.False(t, ok)
}
