package handshake

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/qerr"
	"github.com/liunix61/tquic/internal/utils"
	"github.com/liunix61/tquic/internal/wire"
	"github.com/liunix61/tquic/logging"
)

type cryptoSetup struct {
	provider Provider

	version     protocol.Version
	perspective protocol.Perspective

	ourParams  *wire.TransportParameters
	peerParams *wire.TransportParameters

	allow0RTT bool
	used0RTT  bool

	rttStats *utils.RTTStats

	tracer *logging.ConnectionTracer
	logger utils.Logger

	events       []Event
	pendingAlert *qerr.TransportError

	handshakeCompleteTime time.Time
	connState             ConnectionState

	zeroRTTOpener LongHeaderOpener // only set for the server
	zeroRTTSealer LongHeaderSealer // only set for the client

	initialOpener LongHeaderOpener
	initialSealer LongHeaderSealer

	handshakeOpener LongHeaderOpener
	handshakeSealer LongHeaderSealer

	aead          *updatableAEAD
	has1RTTSealer bool
	has1RTTOpener bool
}

var (
	_ CryptoSetup = &cryptoSetup{}
	_ Runner      = &cryptoSetup{}
)

// NewCryptoSetupClient creates a new crypto setup for the client
func NewCryptoSetupClient(
	connID protocol.ConnectionID,
	tp *wire.TransportParameters,
	provider Provider,
	rttStats *utils.RTTStats,
	tracer *logging.ConnectionTracer,
	logger utils.Logger,
	version protocol.Version,
) CryptoSetup {
	cs := newCryptoSetup(connID, tp, rttStats, tracer, logger, protocol.PerspectiveClient, version)
	cs.provider = provider
	return cs
}

// NewCryptoSetupServer creates a new crypto setup for the server
func NewCryptoSetupServer(
	connID protocol.ConnectionID,
	tp *wire.TransportParameters,
	provider Provider,
	allow0RTT bool,
	rttStats *utils.RTTStats,
	tracer *logging.ConnectionTracer,
	logger utils.Logger,
	version protocol.Version,
) CryptoSetup {
	cs := newCryptoSetup(connID, tp, rttStats, tracer, logger, protocol.PerspectiveServer, version)
	cs.provider = provider
	cs.allow0RTT = allow0RTT
	return cs
}

func newCryptoSetup(
	connID protocol.ConnectionID,
	tp *wire.TransportParameters,
	rttStats *utils.RTTStats,
	tracer *logging.ConnectionTracer,
	logger utils.Logger,
	perspective protocol.Perspective,
	version protocol.Version,
) *cryptoSetup {
	initialSealer, initialOpener := NewInitialAEAD(connID, perspective, version)
	if tracer != nil && tracer.UpdatedKeyFromTLS != nil {
		tracer.UpdatedKeyFromTLS(protocol.EncryptionInitial, protocol.PerspectiveClient)
		tracer.UpdatedKeyFromTLS(protocol.EncryptionInitial, protocol.PerspectiveServer)
	}
	return &cryptoSetup{
		initialSealer: initialSealer,
		initialOpener: initialOpener,
		aead:          newUpdatableAEAD(rttStats, tracer, logger, version),
		events:        make([]Event, 0, 16),
		ourParams:     tp,
		rttStats:      rttStats,
		tracer:        tracer,
		logger:        logger,
		perspective:   perspective,
		version:       version,
	}
}

func (h *cryptoSetup) ChangeConnectionID(id protocol.ConnectionID) {
	initialSealer, initialOpener := NewInitialAEAD(id, h.perspective, h.version)
	h.initialSealer = initialSealer
	h.initialOpener = initialOpener
	if h.tracer != nil && h.tracer.UpdatedKeyFromTLS != nil {
		h.tracer.UpdatedKeyFromTLS(protocol.EncryptionInitial, protocol.PerspectiveClient)
		h.tracer.UpdatedKeyFromTLS(protocol.EncryptionInitial, protocol.PerspectiveServer)
	}
}

func (h *cryptoSetup) SetLargest1RTTAcked(pn protocol.PacketNumber) error {
	return h.aead.SetLargestAcked(pn)
}

func (h *cryptoSetup) StartHandshake() error {
	if err := h.provider.Start(h, h.ourParams.Marshal(h.perspective)); err != nil {
		return err
	}
	if alert := h.takePendingAlert(); alert != nil {
		return alert
	}
	return nil
}

// Close closes the crypto setup.
// It aborts the handshake, if it is still running.
func (h *cryptoSetup) Close() error { return h.provider.Close() }

// HandleMessage passes CRYPTO stream data to the handshake provider.
// It is called by the crypto streams when new data is available.
func (h *cryptoSetup) HandleMessage(data []byte, encLevel protocol.EncryptionLevel) error {
	if err := h.provider.HandleMessage(data, encLevel); err != nil {
		return err
	}
	if alert := h.takePendingAlert(); alert != nil {
		return alert
	}
	return nil
}

func (h *cryptoSetup) NextEvent() Event {
	if len(h.events) == 0 {
		return Event{Kind: EventNoEvent}
	}
	ev := h.events[0]
	h.events = h.events[1:]
	return ev
}

func (h *cryptoSetup) takePendingAlert() *qerr.TransportError {
	alert := h.pendingAlert
	h.pendingAlert = nil
	return alert
}

// OnReceivedParams is called by the provider when the peer's transport parameters arrive.
func (h *cryptoSetup) OnReceivedParams(data []byte) error {
	var tp wire.TransportParameters
	if err := tp.Unmarshal(data, h.perspective.Opposite()); err != nil {
		return err
	}
	h.peerParams = &tp
	h.events = append(h.events, Event{Kind: EventReceivedTransportParameters, TransportParameters: &tp})
	return nil
}

// QueueHandshakeData is called by the provider with handshake bytes to send
// out in CRYPTO frames. Only the Initial and Handshake levels are valid:
// post-handshake messages are retrieved via GetSessionTicket.
func (h *cryptoSetup) QueueHandshakeData(data []byte, encLevel protocol.EncryptionLevel) {
	switch encLevel {
	case protocol.EncryptionInitial:
		h.events = append(h.events, Event{Kind: EventWriteInitialData, Data: data})
	case protocol.EncryptionHandshake:
		h.events = append(h.events, Event{Kind: EventWriteHandshakeData, Data: data})
	default:
		panic(fmt.Sprintf("unexpected write encryption level: %s", encLevel))
	}
}

// SendAlert is called by the provider when the handshake fails.
// The alert is surfaced as the error return of the HandleMessage / StartHandshake
// call that triggered it.
func (h *cryptoSetup) SendAlert(alert uint8) {
	h.pendingAlert = qerr.NewLocalCryptoError(alert, "handshake alert")
}

// HandshakeComplete is called by the provider when the TLS handshake completes.
func (h *cryptoSetup) HandshakeComplete(state ConnectionState) {
	h.handshakeCompleteTime = time.Now()
	state.HandshakeComplete = true
	state.Used0RTT = h.used0RTT
	h.connState = state
	h.events = append(h.events, Event{Kind: EventHandshakeComplete})
}

// Rejected0RTT is called by the provider on the client when the server rejected 0-RTT.
func (h *cryptoSetup) Rejected0RTT() {
	h.logger.Debugf("0-RTT was rejected. Dropping 0-RTT keys.")
	had0RTTKeys := h.zeroRTTSealer != nil
	h.zeroRTTSealer = nil
	h.used0RTT = false
	if had0RTTKeys {
		h.events = append(h.events, Event{Kind: EventDiscard0RTTKeys})
	}
}

// SetReadSecret is called by the provider when a new read secret is derived.
func (h *cryptoSetup) SetReadSecret(encLevel protocol.EncryptionLevel, suiteID uint16, trafficSecret []byte) {
	suite := getCipherSuite(suiteID)
	//nolint:exhaustive // Initial keys are not derived by the provider.
	switch encLevel {
	case protocol.Encryption0RTT:
		if h.perspective == protocol.PerspectiveClient {
			panic("received 0-RTT read key for the client")
		}
		h.zeroRTTOpener = newLongHeaderOpener(
			createAEAD(suite, trafficSecret, h.version),
			newHeaderProtector(suite, trafficSecret, true, h.version),
		)
		h.used0RTT = true
		if h.logger.Debug() {
			h.logger.Debugf("Installed 0-RTT Read keys (using %s)", tls.CipherSuiteName(suite.ID))
		}
	case protocol.EncryptionHandshake:
		h.handshakeOpener = newHandshakeOpener(
			createAEAD(suite, trafficSecret, h.version),
			newHeaderProtector(suite, trafficSecret, true, h.version),
			h.dropInitialKeys,
			h.perspective,
		)
		if h.logger.Debug() {
			h.logger.Debugf("Installed Handshake Read keys (using %s)", tls.CipherSuiteName(suite.ID))
		}
	case protocol.Encryption1RTT:
		h.aead.SetReadKey(suite, trafficSecret)
		h.has1RTTOpener = true
		if h.logger.Debug() {
			h.logger.Debugf("Installed 1-RTT Read keys (using %s)", tls.CipherSuiteName(suite.ID))
		}
	default:
		panic("unexpected read encryption level")
	}
	h.events = append(h.events, Event{Kind: EventReceivedReadKeys})
	if h.tracer != nil && h.tracer.UpdatedKeyFromTLS != nil {
		h.tracer.UpdatedKeyFromTLS(encLevel, h.perspective.Opposite())
	}
}

// SetWriteSecret is called by the provider when a new write secret is derived.
func (h *cryptoSetup) SetWriteSecret(encLevel protocol.EncryptionLevel, suiteID uint16, trafficSecret []byte) {
	suite := getCipherSuite(suiteID)
	//nolint:exhaustive // Initial keys are not derived by the provider.
	switch encLevel {
	case protocol.Encryption0RTT:
		if h.perspective == protocol.PerspectiveServer {
			panic("received 0-RTT write key for the server")
		}
		h.zeroRTTSealer = newLongHeaderSealer(
			createAEAD(suite, trafficSecret, h.version),
			newHeaderProtector(suite, trafficSecret, true, h.version),
		)
		if h.logger.Debug() {
			h.logger.Debugf("Installed 0-RTT Write keys (using %s)", tls.CipherSuiteName(suite.ID))
		}
		if h.tracer != nil && h.tracer.UpdatedKeyFromTLS != nil {
			h.tracer.UpdatedKeyFromTLS(protocol.Encryption0RTT, h.perspective)
		}
		// don't set used0RTT here. 0-RTT might still get rejected.
		return
	case protocol.EncryptionHandshake:
		h.handshakeSealer = newHandshakeSealer(
			createAEAD(suite, trafficSecret, h.version),
			newHeaderProtector(suite, trafficSecret, true, h.version),
			h.dropInitialKeys,
			h.perspective,
		)
		if h.logger.Debug() {
			h.logger.Debugf("Installed Handshake Write keys (using %s)", tls.CipherSuiteName(suite.ID))
		}
		if h.zeroRTTSealer != nil {
			// Once we receive handshake keys, we know that 0-RTT was not rejected.
			h.used0RTT = true
		}
	case protocol.Encryption1RTT:
		h.aead.SetWriteKey(suite, trafficSecret)
		h.has1RTTSealer = true
		if h.logger.Debug() {
			h.logger.Debugf("Installed 1-RTT Write keys (using %s)", tls.CipherSuiteName(suite.ID))
		}
		if h.zeroRTTSealer != nil {
			// 0-RTT data packets are only sent up to the installation of 1-RTT keys.
			h.zeroRTTSealer = nil
			h.logger.Debugf("Dropping 0-RTT keys.")
			if h.tracer != nil && h.tracer.DroppedEncryptionLevel != nil {
				h.tracer.DroppedEncryptionLevel(protocol.Encryption0RTT)
			}
		}
	default:
		panic("unexpected write encryption level")
	}
	if h.tracer != nil && h.tracer.UpdatedKeyFromTLS != nil {
		h.tracer.UpdatedKeyFromTLS(encLevel, h.perspective)
	}
}

// used as a callback in the handshakeSealer and handshakeOpener
func (h *cryptoSetup) dropInitialKeys() {
	h.initialOpener = nil
	h.initialSealer = nil
	h.logger.Debugf("Dropping Initial keys.")
	if h.tracer != nil && h.tracer.DroppedEncryptionLevel != nil {
		h.tracer.DroppedEncryptionLevel(protocol.EncryptionInitial)
	}
}

// DiscardInitialKeys drops the Initial keys, if they haven't been dropped yet.
func (h *cryptoSetup) DiscardInitialKeys() {
	if h.initialOpener == nil && h.initialSealer == nil {
		return
	}
	h.dropInitialKeys()
}

func (h *cryptoSetup) SetHandshakeConfirmed() {
	h.aead.SetHandshakeConfirmed()
	// drop Handshake keys
	if h.handshakeOpener != nil || h.handshakeSealer != nil {
		h.handshakeOpener = nil
		h.handshakeSealer = nil
		h.logger.Debugf("Dropping Handshake keys.")
		if h.tracer != nil && h.tracer.DroppedEncryptionLevel != nil {
			h.tracer.DroppedEncryptionLevel(protocol.EncryptionHandshake)
		}
	}
}

// GetSessionTicket requests a session ticket from the provider.
// It is only valid for the server.
func (h *cryptoSetup) GetSessionTicket() ([]byte, error) {
	return h.provider.GetSessionTicket()
}

// MarshalSessionState marshals the QUIC state saved with a session ticket.
// It must only be called after the peer's transport parameters were received.
func (h *cryptoSetup) MarshalSessionState() []byte {
	t := sessionTicket{
		Parameters: h.peerParams,
		RTT:        h.rttStats.SmoothedRTT(),
	}
	return t.Marshal()
}

// RestoreSessionState restores the transport parameters and RTT estimate saved
// on a previous connection to this server.
func (h *cryptoSetup) RestoreSessionState(data []byte, earlyData bool) (*wire.TransportParameters, error) {
	var t sessionTicket
	if err := t.Unmarshal(data, earlyData); err != nil {
		return nil, err
	}
	h.rttStats.SetInitialRTT(t.RTT)
	if h.tracer != nil && h.tracer.RestoredTransportParameters != nil && t.Parameters != nil {
		h.tracer.RestoredTransportParameters(t.Parameters)
	}
	return t.Parameters, nil
}

// Accept0RTT is called on the server with the QUIC state from the client's session ticket.
// It decides whether to accept 0-RTT.
func (h *cryptoSetup) Accept0RTT(sessionState []byte) bool {
	var t sessionTicket
	if err := t.Unmarshal(sessionState, true); err != nil {
		h.logger.Debugf("Unmarshalling session ticket failed: %s", err.Error())
		return false
	}
	if !h.allow0RTT {
		h.logger.Debugf("0-RTT not allowed. Rejecting 0-RTT.")
		return false
	}
	if !h.ourParams.ValidFor0RTT(t.Parameters) {
		h.logger.Debugf("Transport parameters changed. Rejecting 0-RTT.")
		return false
	}
	h.logger.Debugf("Accepting 0-RTT. Restoring RTT from session ticket: %s", t.RTT)
	h.rttStats.SetInitialRTT(t.RTT)
	return true
}

func (h *cryptoSetup) GetInitialSealer() (LongHeaderSealer, error) {
	if h.initialSealer == nil {
		return nil, ErrKeysDropped
	}
	return h.initialSealer, nil
}

func (h *cryptoSetup) Get0RTTSealer() (LongHeaderSealer, error) {
	if h.zeroRTTSealer == nil {
		return nil, ErrKeysDropped
	}
	return h.zeroRTTSealer, nil
}

func (h *cryptoSetup) GetHandshakeSealer() (LongHeaderSealer, error) {
	if h.handshakeSealer == nil {
		if h.initialSealer == nil {
			return nil, ErrKeysDropped
		}
		return nil, ErrKeysNotYetAvailable
	}
	return h.handshakeSealer, nil
}

func (h *cryptoSetup) Get1RTTSealer() (ShortHeaderSealer, error) {
	if !h.has1RTTSealer {
		return nil, ErrKeysNotYetAvailable
	}
	return h.aead, nil
}

func (h *cryptoSetup) GetInitialOpener() (LongHeaderOpener, error) {
	if h.initialOpener == nil {
		return nil, ErrKeysDropped
	}
	return h.initialOpener, nil
}

func (h *cryptoSetup) Get0RTTOpener() (LongHeaderOpener, error) {
	if h.zeroRTTOpener == nil {
		if h.initialOpener != nil {
			return nil, ErrKeysNotYetAvailable
		}
		// if the initial opener is also not available, the keys were already dropped
		return nil, ErrKeysDropped
	}
	return h.zeroRTTOpener, nil
}

func (h *cryptoSetup) GetHandshakeOpener() (LongHeaderOpener, error) {
	if h.handshakeOpener == nil {
		if h.initialOpener != nil {
			return nil, ErrKeysNotYetAvailable
		}
		// if the initial opener is also not available, the keys were already dropped
		return nil, ErrKeysDropped
	}
	return h.handshakeOpener, nil
}

func (h *cryptoSetup) Get1RTTOpener() (ShortHeaderOpener, error) {
	if h.zeroRTTOpener != nil && time.Since(h.handshakeCompleteTime) > 3*h.rttStats.PTO(true) {
		h.zeroRTTOpener = nil
		h.logger.Debugf("Dropping 0-RTT keys.")
		if h.tracer != nil && h.tracer.DroppedEncryptionLevel != nil {
			h.tracer.DroppedEncryptionLevel(protocol.Encryption0RTT)
		}
	}
	if !h.has1RTTOpener {
		return nil, ErrKeysNotYetAvailable
	}
	return h.aead, nil
}

func (h *cryptoSetup) ConnectionState() ConnectionState {
	return h.connState
}
