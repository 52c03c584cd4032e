package tquic

import (
	"crypto/rand"
	"net/netip"

	"github.com/liunix61/tquic/internal/utils"
	"github.com/liunix61/tquic/internal/wire"
)

// pathManager tracks the peer address the connection sends to, and validates
// new peer addresses before migrating. At most one validation runs at a time;
// packets from further unknown addresses are served on the current path until
// the outstanding probe resolves.
type pathManager struct {
	remoteAddr netip.AddrPort

	probeAddr netip.AddrPort
	probeData [8]byte

	queueControlFrame func(wire.Frame)
	logger            utils.Logger
}

func newPathManager(remoteAddr netip.AddrPort, queueControlFrame func(wire.Frame), logger utils.Logger) *pathManager {
	return &pathManager{
		remoteAddr:        remoteAddr,
		queueControlFrame: queueControlFrame,
		logger:            logger,
	}
}

// RemoteAddr returns the peer address the connection currently sends to.
// It only changes after a new address passed path validation.
func (m *pathManager) RemoteAddr() netip.AddrPort { return m.remoteAddr }

// IsProbing reports whether a path validation is in flight.
func (m *pathManager) IsProbing() bool { return m.probeAddr.IsValid() }

// HandlePacketFromAddr is called for every decrypted short header packet.
// A packet from an unknown address starts a path validation, unless one is
// already running.
func (m *pathManager) HandlePacketFromAddr(from netip.AddrPort) {
	if !from.IsValid() || from == m.remoteAddr {
		return
	}
	if m.probeAddr.IsValid() {
		// at most one validation in flight
		return
	}
	m.probeAddr = from
	if _, err := rand.Read(m.probeData[:]); err != nil {
		panic("tquic: reading from crypto/rand failed")
	}
	m.logger.Debugf("Starting path validation for %s", from)
	m.queueControlFrame(&wire.PathChallengeFrame{Data: m.probeData})
}

// HandlePathResponseFrame checks a PATH_RESPONSE against the outstanding
// challenge. It reports whether the connection migrated to a new path.
func (m *pathManager) HandlePathResponseFrame(f *wire.PathResponseFrame) bool {
	if !m.probeAddr.IsValid() || f.Data != m.probeData {
		// e.g. a delayed response to an already abandoned probe
		return false
	}
	m.logger.Debugf("Path validation for %s succeeded, migrating", m.probeAddr)
	m.remoteAddr = m.probeAddr
	m.probeAddr = netip.AddrPort{}
	return true
}
