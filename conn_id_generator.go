package tquic

import (
	"crypto/rand"
	"fmt"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/qerr"
	"github.com/liunix61/tquic/internal/wire"
)

// connIDGenerator issues the connection IDs the peer may address us with,
// and retires them when the peer asks for it.
type connIDGenerator struct {
	connIDLen  int
	highestSeq uint64

	activeSrcConnIDs map[uint64]protocol.ConnectionID
	// initialClientDestConnID is the client's first choice of destination
	// connection ID (server only). It stays valid until the handshake completes.
	initialClientDestConnID *protocol.ConnectionID

	addConnectionID    func(protocol.ConnectionID)
	removeConnectionID func(protocol.ConnectionID)
	queueControlFrame  func(wire.Frame)
}

func newConnIDGenerator(
	initialConnectionID protocol.ConnectionID,
	initialClientDestConnID *protocol.ConnectionID, // nil for the client
	connIDLen int,
	addConnectionID func(protocol.ConnectionID),
	removeConnectionID func(protocol.ConnectionID),
	queueControlFrame func(wire.Frame),
) *connIDGenerator {
	m := &connIDGenerator{
		connIDLen:          connIDLen,
		activeSrcConnIDs:   make(map[uint64]protocol.ConnectionID),
		addConnectionID:    addConnectionID,
		removeConnectionID: removeConnectionID,
		queueControlFrame:  queueControlFrame,
	}
	m.activeSrcConnIDs[0] = initialConnectionID
	m.initialClientDestConnID = initialClientDestConnID
	return m
}

// SetMaxActiveConnIDs issues new connection IDs up to the peer's
// active_connection_id_limit, capped by MaxIssuedConnectionIDs.
// RFC 9000 section 5.1.1: an endpoint SHOULD ensure that its peer has a
// sufficient number of available and unused connection IDs.
func (m *connIDGenerator) SetMaxActiveConnIDs(limit uint64) error {
	if m.connIDLen == 0 {
		return nil
	}
	// The active_connection_id_limit transport parameter is the number of
	// connection IDs the peer will hold in total, including the one used
	// during the handshake.
	for i := uint64(len(m.activeSrcConnIDs)); i < min(limit, protocol.MaxIssuedConnectionIDs); i++ {
		if err := m.issueNewConnID(); err != nil {
			return err
		}
	}
	return nil
}

// Retire handles a RETIRE_CONNECTION_ID frame.
// sentWithDestConnID is the connection ID the frame arrived on: the peer is
// not allowed to retire the connection ID it used to send the retirement.
func (m *connIDGenerator) Retire(seq uint64, sentWithDestConnID protocol.ConnectionID) error {
	if seq > m.highestSeq {
		return &qerr.TransportError{
			ErrorCode: qerr.ProtocolViolation,
			ErrorMessage: fmt.Sprintf(
				"retired connection ID %d (highest issued: %d)",
				seq, m.highestSeq,
			),
		}
	}
	connID, ok := m.activeSrcConnIDs[seq]
	// We might have deleted this connection ID already.
	// If so, ignore this retirement.
	if !ok {
		return nil
	}
	if connID == sentWithDestConnID {
		return &qerr.TransportError{
			ErrorCode: qerr.ProtocolViolation,
			ErrorMessage: fmt.Sprintf(
				"retired connection ID %d (%s), which was used as the Destination Connection ID on this packet",
				seq, connID,
			),
		}
	}
	m.removeConnectionID(connID)
	delete(m.activeSrcConnIDs, seq)
	// Don't issue a replacement for the initial connection ID.
	if seq == 0 {
		return nil
	}
	return m.issueNewConnID()
}

func (m *connIDGenerator) issueNewConnID() error {
	connID, err := protocol.GenerateConnectionID(m.connIDLen)
	if err != nil {
		return err
	}
	m.highestSeq++
	m.activeSrcConnIDs[m.highestSeq] = connID
	m.addConnectionID(connID)
	var token protocol.StatelessResetToken
	if _, err := rand.Read(token[:]); err != nil {
		return err
	}
	m.queueControlFrame(&wire.NewConnectionIDFrame{
		SequenceNumber:      m.highestSeq,
		ConnectionID:        connID,
		StatelessResetToken: token,
	})
	return nil
}

// SetHandshakeComplete retires the connection ID the client chose for the
// server's Initial packets.
func (m *connIDGenerator) SetHandshakeComplete() {
	if m.initialClientDestConnID != nil {
		m.removeConnectionID(*m.initialClientDestConnID)
		m.initialClientDestConnID = nil
	}
}

// RemoveAll drops everything this generator issued. Used during teardown.
func (m *connIDGenerator) RemoveAll() {
	if m.initialClientDestConnID != nil {
		m.removeConnectionID(*m.initialClientDestConnID)
		m.initialClientDestConnID = nil
	}
	for _, connID := range m.activeSrcConnIDs {
		m.removeConnectionID(connID)
	}
	m.activeSrcConnIDs = make(map[uint64]protocol.ConnectionID)
}
