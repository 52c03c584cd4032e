package handshake

import (
	"errors"
	"io"
	"time"

	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/wire"
)

var (
	// ErrKeysNotYetAvailable is returned when an opener or a sealer is requested for an encryption level,
	// but the corresponding opener has not yet been initialized
	// This can happen when packets arrive out of order.
	ErrKeysNotYetAvailable = errors.New("CryptoSetup: keys at this encryption level not yet available")
	// ErrKeysDropped is returned when an opener or a sealer is requested for an encryption level,
	// but the corresponding keys have already been dropped.
	ErrKeysDropped = errors.New("CryptoSetup: keys were already dropped")
	// ErrDecryptionFailed is returned when the AEAD fails to open the packet.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// ConnectionState contains information about the handshake.
type ConnectionState struct {
	// HandshakeComplete says if the handshake finished.
	HandshakeComplete bool
	// CipherSuite is the TLS 1.3 cipher suite negotiated for the connection.
	CipherSuite uint16
	// Used0RTT says if 0-RTT was both offered and accepted.
	Used0RTT bool
	// NegotiatedProtocol is the application protocol negotiated via ALPN.
	NegotiatedProtocol string
}

// A Runner is the interface the key schedule exposes to the handshake Provider.
// The Provider calls back into the connection whenever the TLS stack derives
// new secrets or produces handshake bytes.
type Runner interface {
	// OnReceivedParams is called when the peer's transport parameters arrive
	// in the TLS handshake (encoded, as received on the wire).
	OnReceivedParams(data []byte) error
	// SetReadSecret installs the read secret for an encryption level.
	SetReadSecret(level protocol.EncryptionLevel, suiteID uint16, secret []byte)
	// SetWriteSecret installs the write secret for an encryption level.
	SetWriteSecret(level protocol.EncryptionLevel, suiteID uint16, secret []byte)
	// QueueHandshakeData queues handshake bytes to be sent out in CRYPTO frames
	// at the given encryption level.
	QueueHandshakeData(data []byte, level protocol.EncryptionLevel)
	// HandshakeComplete is called when the TLS handshake completes.
	HandshakeComplete(state ConnectionState)
	// Rejected0RTT is called on the client when the server rejects 0-RTT.
	Rejected0RTT()
	// SendAlert sends a TLS alert to the peer (as a CONNECTION_CLOSE with a crypto error).
	SendAlert(alert uint8)
}

// A Provider is an external TLS 1.3 engine driving the cryptographic handshake.
// Implementations feed handshake messages in via HandleMessage and report
// results through the Runner.
type Provider interface {
	// Start begins the handshake. For clients, the Provider is expected to
	// queue the first flight immediately.
	Start(runner Runner, transportParameters []byte) error
	// HandleMessage processes CRYPTO stream bytes received at the given level.
	HandleMessage(data []byte, level protocol.EncryptionLevel) error
	// GetSessionTicket requests a session ticket (server only). It returns nil
	// if tickets are not supported.
	GetSessionTicket() ([]byte, error)
	io.Closer
}

// EventKind is the kind of handshake event.
type EventKind uint8

const (
	// EventNoEvent means that there are no new handshake events
	EventNoEvent EventKind = iota
	// EventWriteInitialData contains new CRYPTO data to send out at the Initial encryption level
	EventWriteInitialData
	// EventWriteHandshakeData contains new CRYPTO data to send out at the Handshake encryption level
	EventWriteHandshakeData
	// EventReceivedReadKeys means that new keys were derived at some encryption level
	EventReceivedReadKeys
	// EventDiscard0RTTKeys means that the 0-RTT keys should be discarded
	EventDiscard0RTTKeys
	// EventReceivedTransportParameters contains the transport parameters sent by the peer
	EventReceivedTransportParameters
	// EventHandshakeComplete means that the handshake completed
	EventHandshakeComplete
)

func (k EventKind) String() string {
	switch k {
	case EventNoEvent:
		return "EventNoEvent"
	case EventWriteInitialData:
		return "EventWriteInitialData"
	case EventWriteHandshakeData:
		return "EventWriteHandshakeData"
	case EventReceivedReadKeys:
		return "EventReceivedReadKeys"
	case EventDiscard0RTTKeys:
		return "EventDiscard0RTTKeys"
	case EventReceivedTransportParameters:
		return "EventReceivedTransportParameters"
	case EventHandshakeComplete:
		return "EventHandshakeComplete"
	default:
		return "unknown event"
	}
}

// Event is a handshake event.
type Event struct {
	Kind                EventKind
	Data                []byte
	TransportParameters *wire.TransportParameters
}

// CryptoSetup handles the key schedule for a connection.
// It is driven synchronously: HandleMessage never blocks, and results are
// retrieved by polling NextEvent.
type CryptoSetup interface {
	StartHandshake() error
	io.Closer
	ChangeConnectionID(protocol.ConnectionID)
	GetSessionTicket() ([]byte, error)

	// MarshalSessionState returns the QUIC state (transport parameters and RTT)
	// a client stores with a session ticket. Only valid after the peer's
	// transport parameters were received.
	MarshalSessionState() []byte
	// RestoreSessionState restores state saved by MarshalSessionState on a
	// previous connection. If earlyData is true, it returns the transport
	// parameters to use for sending 0-RTT data.
	RestoreSessionState(data []byte, earlyData bool) (*wire.TransportParameters, error)
	// Accept0RTT is called on the server with the QUIC state stored in a
	// session ticket. It decides whether to accept 0-RTT.
	Accept0RTT(sessionState []byte) bool

	HandleMessage([]byte, protocol.EncryptionLevel) error
	NextEvent() Event

	SetLargest1RTTAcked(protocol.PacketNumber) error
	DiscardInitialKeys()
	SetHandshakeConfirmed()
	ConnectionState() ConnectionState

	GetInitialOpener() (LongHeaderOpener, error)
	GetHandshakeOpener() (LongHeaderOpener, error)
	Get0RTTOpener() (LongHeaderOpener, error)
	Get1RTTOpener() (ShortHeaderOpener, error)

	GetInitialSealer() (LongHeaderSealer, error)
	GetHandshakeSealer() (LongHeaderSealer, error)
	Get0RTTSealer() (LongHeaderSealer, error)
	Get1RTTSealer() (ShortHeaderSealer, error)
}

// LongHeaderOpener opens a long header packet
type LongHeaderOpener interface {
	DecodePacketNumber(wirePN protocol.PacketNumber, wirePNLen protocol.PacketNumberLen) protocol.PacketNumber
	DecryptHeader(sample []byte, firstByte *byte, pnBytes []byte)
	Open(dst, src []byte, pn protocol.PacketNumber, associatedData []byte) ([]byte, error)
}

// LongHeaderSealer seals a long header packet
type LongHeaderSealer interface {
	Seal(dst, src []byte, pn protocol.PacketNumber, associatedData []byte) []byte
	EncryptHeader(sample []byte, firstByte *byte, pnBytes []byte)
	Overhead() int
}

// ShortHeaderOpener opens a short header packet
type ShortHeaderOpener interface {
	DecodePacketNumber(wirePN protocol.PacketNumber, wirePNLen protocol.PacketNumberLen) protocol.PacketNumber
	DecryptHeader(sample []byte, firstByte *byte, pnBytes []byte)
	Open(dst, src []byte, rcvTime time.Time, pn protocol.PacketNumber, kp protocol.KeyPhaseBit, associatedData []byte) ([]byte, error)
}

// ShortHeaderSealer seals a short header packet
type ShortHeaderSealer interface {
	LongHeaderSealer
	KeyPhase() protocol.KeyPhaseBit
}
