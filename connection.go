package tquic

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/liunix61/tquic/internal/ackhandler"
	"github.com/liunix61/tquic/internal/congestion"
	"github.com/liunix61/tquic/internal/flowcontrol"
	"github.com/liunix61/tquic/internal/handshake"
	"github.com/liunix61/tquic/internal/protocol"
	"github.com/liunix61/tquic/internal/qerr"
	"github.com/liunix61/tquic/internal/utils"
	"github.com/liunix61/tquic/internal/utils/ringbuffer"
	"github.com/liunix61/tquic/internal/wire"
	"github.com/liunix61/tquic/logging"
)

type connState uint8

const (
	stateInitial connState = iota
	stateHandshaking
	stateEstablished
	stateDraining
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateInitial:
		return "Initial"
	case stateHandshaking:
		return "Handshaking"
	case stateEstablished:
		return "Established"
	case stateDraining:
		return "Draining"
	case stateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("unknown state (%d)", uint8(s))
	}
}

type undecryptablePacket struct {
	data    []byte
	from    netip.AddrPort
	rcvTime time.Time
}

// A Connection is a single QUIC connection, driven entirely by the embedder:
// feed incoming datagrams with Recv, drain outgoing datagrams with Send,
// arm a timer for NextTimeout and call OnTimeout when it fires, and consume
// state changes with PollEvent. None of the methods block, start goroutines,
// or touch the network.
type Connection struct {
	perspective protocol.Perspective
	version     protocol.Version
	config      *Config

	state connState

	localAddr netip.AddrPort

	srcConnID           protocol.ConnectionID
	origDestConnID      protocol.ConnectionID
	handshakeDestConnID protocol.ConnectionID
	retrySrcConnID      *protocol.ConnectionID

	connIDManager   *connIDManager
	connIDGenerator *connIDGenerator
	localConnIDs    map[protocol.ConnectionID]struct{}

	cryptoSetup         handshake.CryptoSetup
	cryptoStreamManager *cryptoStreamManager
	initialStream       *cryptoStream
	handshakeStream     *cryptoStream
	oneRTTStream        *cryptoStream

	rttStats *utils.RTTStats

	sentPacketHandler     ackhandler.SentPacketHandler
	receivedPacketHandler ackhandler.ReceivedPacketHandler

	streamsMap         *streamsMap
	connFlowController flowcontrol.ConnectionFlowController
	windowUpdateQueue  *windowUpdateQueue

	framer              *framer
	retransmissionQueue *retransmissionQueue
	datagramQueue       *datagramQueue

	packer      *packetPacker
	unpacker    *packetUnpacker
	frameParser wire.FrameParser

	pathManager   *pathManager
	mtuDiscoverer mtuDiscoverer

	peerParams *wire.TransportParameters

	creationTime           time.Time
	lastTick               time.Time
	lastPacketReceivedTime time.Time
	// The time the first ack-eliciting packet was sent after the connection
	// last went idle. Cleared whenever a packet is processed.
	firstAckElicitingPacketAfterIdleSentTime time.Time

	idleTimeout       time.Duration
	handshakeTimeout  time.Duration
	keepAliveInterval time.Duration
	keepAlivePingSent bool

	handshakeComplete   bool
	handshakeConfirmed  bool
	receivedFirstPacket bool
	initialKeysDropped  bool

	maxPacketSize protocol.ByteCount

	// Close / draining state. closeDatagram holds the serialized
	// CONNECTION_CLOSE datagram for retransmission while draining.
	closeErr           error
	closeDatagram      []byte
	closePacketPending bool
	drainDeadline      time.Time
	packetsSinceClose  int
	closeSendThreshold int

	undecryptablePackets  []undecryptablePacket
	processUndecryptables bool

	events ringbuffer.RingBuffer[Event]

	logger utils.Logger
	tracer *logging.ConnectionTracer
}

var _ streamSender = &Connection{}

// Dial creates a client connection. It kicks off the cryptographic handshake
// using the given provider; the first Initial packet becomes available via
// Send. No sockets are opened; remoteAddr only seeds path tracking.
func Dial(
	provider HandshakeProvider,
	localAddr, remoteAddr netip.AddrPort,
	config *Config,
	now time.Time,
) (*Connection, error) {
	config = populateConfig(config)
	srcConnID, err := protocol.GenerateConnectionID(config.ConnectionIDLength)
	if err != nil {
		return nil, err
	}
	destConnID, err := protocol.GenerateConnectionIDForInitial()
	if err != nil {
		return nil, err
	}
	c := newConnection(protocol.PerspectiveClient, localAddr, remoteAddr, srcConnID, destConnID, destConnID, config, now)
	c.cryptoSetup = handshake.NewCryptoSetupClient(
		destConnID,
		c.ownTransportParameters(),
		provider,
		c.rttStats,
		c.tracer,
		c.logger,
		c.version,
	)
	c.finishInitialization()
	if err := c.cryptoSetup.StartHandshake(); err != nil {
		return nil, err
	}
	c.state = stateHandshaking
	if err := c.handleHandshakeEvents(now); err != nil {
		return nil, err
	}
	return c, nil
}

// Accept creates a server connection from the first datagram received for an
// unknown connection ID. The datagram is processed immediately; the
// handshake response becomes available via Send.
func Accept(
	provider HandshakeProvider,
	localAddr, remoteAddr netip.AddrPort,
	firstDatagram []byte,
	config *Config,
	now time.Time,
) (*Connection, error) {
	config = populateConfig(config)
	if len(firstDatagram) < int(protocol.MinInitialPacketSize) {
		return nil, fmt.Errorf("dropping too small Initial datagram (%d bytes)", len(firstDatagram))
	}
	hdr, _, _, err := wire.ParsePacket(firstDatagram)
	if err != nil {
		return nil, fmt.Errorf("error parsing packet: %w", err)
	}
	if hdr.Type != protocol.PacketTypeInitial {
		return nil, fmt.Errorf("expected an Initial packet, got %s", hdr.PacketType())
	}
	if hdr.Version != protocol.Version1 {
		return nil, &qerr.VersionNegotiationError{
			Ours:   []protocol.Version{protocol.Version1},
			Theirs: []protocol.Version{hdr.Version},
		}
	}
	srcConnID, err := protocol.GenerateConnectionID(config.ConnectionIDLength)
	if err != nil {
		return nil, err
	}
	c := newConnection(protocol.PerspectiveServer, localAddr, remoteAddr, srcConnID, hdr.SrcConnectionID, hdr.DestConnectionID, config, now)
	tp := c.ownTransportParameters()
	tp.OriginalDestinationConnectionID = hdr.DestConnectionID
	var token protocol.StatelessResetToken
	if _, err := rand.Read(token[:]); err != nil {
		return nil, err
	}
	tp.StatelessResetToken = &token
	c.cryptoSetup = handshake.NewCryptoSetupServer(
		hdr.DestConnectionID,
		tp,
		provider,
		config.Allow0RTT,
		c.rttStats,
		c.tracer,
		c.logger,
		c.version,
	)
	c.finishInitialization()
	if err := c.cryptoSetup.StartHandshake(); err != nil {
		return nil, err
	}
	c.state = stateHandshaking
	if err := c.Recv(firstDatagram, remoteAddr, now); err != nil {
		return nil, err
	}
	return c, nil
}

func newConnection(
	pers protocol.Perspective,
	localAddr, remoteAddr netip.AddrPort,
	srcConnID, destConnID, origDestConnID protocol.ConnectionID,
	config *Config,
	now time.Time,
) *Connection {
	c := &Connection{
		perspective:            pers,
		version:                config.Versions[0],
		config:                 config,
		state:                  stateInitial,
		localAddr:              localAddr,
		srcConnID:              srcConnID,
		origDestConnID:         origDestConnID,
		handshakeDestConnID:    destConnID,
		localConnIDs:           make(map[protocol.ConnectionID]struct{}),
		creationTime:           now,
		lastTick:               now,
		lastPacketReceivedTime: now,
		idleTimeout:            config.MaxIdleTimeout,
		handshakeTimeout:       config.HandshakeTimeout,
		maxPacketSize:          protocol.InitialPacketSize,
		closeSendThreshold:     2,
		logger:                 utils.DefaultLogger,
	}
	if config.Tracer != nil {
		c.tracer = config.Tracer(pers, origDestConnID)
	}
	c.rttStats = &utils.RTTStats{}
	c.framer = newFramer()
	c.retransmissionQueue = newRetransmissionQueue()
	c.datagramQueue = newDatagramQueue(func() {}, c.logger)
	c.connFlowController = flowcontrol.NewConnectionFlowController(
		protocol.ByteCount(config.InitialConnectionReceiveWindow),
		protocol.ByteCount(config.MaxConnectionReceiveWindow),
		func(protocol.ByteCount) bool { return true },
		c.rttStats,
		c.logger,
	)
	c.streamsMap = newStreamsMap(
		pers,
		c,
		c.newStreamFlowController,
		uint64(config.MaxIncomingStreams),
		uint64(config.MaxIncomingUniStreams),
	)
	c.windowUpdateQueue = newWindowUpdateQueue(c.streamsMap, c.connFlowController, c.framer.QueueControlFrame)
	var cc congestion.SendAlgorithmWithDebugInfos
	switch config.CongestionControl {
	case "reno":
		cc = congestion.NewCubicSender(congestion.DefaultClock{}, c.rttStats, c.maxPacketSize, true, c.tracer)
	case "bbr":
		cc = congestion.NewBBRSender(congestion.DefaultClock{}, c.rttStats, c.maxPacketSize, c.tracer)
	default:
		cc = congestion.NewCubicSender(congestion.DefaultClock{}, c.rttStats, c.maxPacketSize, false, c.tracer)
	}
	c.sentPacketHandler, c.receivedPacketHandler = ackhandler.NewAckHandler(
		0,
		c.maxPacketSize,
		c.rttStats,
		cc,
		pers == protocol.PerspectiveClient,
		pers,
		c.tracer,
		c.logger,
	)
	c.initialStream = newCryptoStream()
	c.handshakeStream = newCryptoStream()
	c.oneRTTStream = newCryptoStream()
	c.cryptoStreamManager = newCryptoStreamManager(c.initialStream, c.handshakeStream, c.oneRTTStream)
	c.connIDManager = newConnIDManager(destConnID, c.framer.QueueControlFrame)
	var clientDestConnID *protocol.ConnectionID
	if pers == protocol.PerspectiveServer {
		clientDestConnID = &origDestConnID
		c.localConnIDs[origDestConnID] = struct{}{}
	}
	c.connIDGenerator = newConnIDGenerator(
		srcConnID,
		clientDestConnID,
		config.ConnectionIDLength,
		c.addLocalConnID,
		c.removeLocalConnID,
		c.framer.QueueControlFrame,
	)
	c.localConnIDs[srcConnID] = struct{}{}
	c.pathManager = newPathManager(remoteAddr, c.framer.QueueControlFrame, c.logger)
	c.frameParser = wire.NewFrameParser(config.EnableDatagrams)
	c.setKeepAliveInterval()
	if c.tracer != nil && c.tracer.StartedConnection != nil {
		c.tracer.StartedConnection(
			net.UDPAddrFromAddrPort(localAddr),
			net.UDPAddrFromAddrPort(remoteAddr),
			srcConnID,
			destConnID,
		)
	}
	return c
}

// finishInitialization wires up the components that depend on the crypto setup.
func (c *Connection) finishInitialization() {
	c.unpacker = newPacketUnpacker(c.cryptoSetup, c.srcConnID.Len())
	c.packer = newPacketPacker(
		c.srcConnID,
		c.connIDManager.Get,
		c.initialStream,
		c.handshakeStream,
		c.sentPacketHandler,
		c.retransmissionQueue,
		c.cryptoSetup,
		c.framer,
		c.receivedPacketHandler,
		c.datagramQueue,
		c.perspective,
	)
}

func (c *Connection) ownTransportParameters() *wire.TransportParameters {
	p := &wire.TransportParameters{
		InitialMaxStreamDataBidiLocal:  protocol.ByteCount(c.config.InitialStreamReceiveWindow),
		InitialMaxStreamDataBidiRemote: protocol.ByteCount(c.config.InitialStreamReceiveWindow),
		InitialMaxStreamDataUni:        protocol.ByteCount(c.config.InitialStreamReceiveWindow),
		InitialMaxData:                 protocol.ByteCount(c.config.InitialConnectionReceiveWindow),
		MaxIdleTimeout:                 c.config.MaxIdleTimeout,
		MaxBidiStreamNum:               protocol.StreamNum(c.config.MaxIncomingStreams),
		MaxUniStreamNum:                protocol.StreamNum(c.config.MaxIncomingUniStreams),
		MaxAckDelay:                    protocol.MaxAckDelayInclGranularity,
		AckDelayExponent:               protocol.AckDelayExponent,
		MaxUDPPayloadSize:              protocol.MaxPacketBufferSize,
		ActiveConnectionIDLimit:        protocol.MaxActiveConnectionIDs,
		InitialSourceConnectionID:      c.srcConnID,
	}
	if c.config.EnableDatagrams {
		p.MaxDatagramFrameSize = protocol.MaxDatagramFrameSize
	}
	if c.tracer != nil && c.tracer.SentTransportParameters != nil {
		c.tracer.SentTransportParameters(p)
	}
	return p
}

func (c *Connection) newStreamFlowController(id protocol.StreamID) flowcontrol.StreamFlowController {
	var initialSendWindow protocol.ByteCount
	if c.peerParams != nil {
		if id.Type() == protocol.StreamTypeUni {
			initialSendWindow = c.peerParams.InitialMaxStreamDataUni
		} else if id.InitiatedBy() == c.perspective {
			initialSendWindow = c.peerParams.InitialMaxStreamDataBidiRemote
		} else {
			initialSendWindow = c.peerParams.InitialMaxStreamDataBidiLocal
		}
	}
	return flowcontrol.NewStreamFlowController(
		id,
		c.connFlowController,
		protocol.ByteCount(c.config.InitialStreamReceiveWindow),
		protocol.ByteCount(c.config.MaxStreamReceiveWindow),
		initialSendWindow,
		c.rttStats,
		c.logger,
	)
}

func (c *Connection) addLocalConnID(id protocol.ConnectionID)    { c.localConnIDs[id] = struct{}{} }
func (c *Connection) removeLocalConnID(id protocol.ConnectionID) { delete(c.localConnIDs, id) }

// LocalConnectionIDs returns the connection IDs the peer may currently use to
// address this connection. The embedder uses them to route datagrams.
func (c *Connection) LocalConnectionIDs() []ConnectionID {
	ids := make([]ConnectionID, 0, len(c.localConnIDs))
	for id := range c.localConnIDs {
		ids = append(ids, id)
	}
	return ids
}

// LocalAddr returns the local address the connection was created with.
func (c *Connection) LocalAddr() netip.AddrPort { return c.localAddr }

// RemoteAddr returns the current peer address, reflecting completed migrations.
func (c *Connection) RemoteAddr() netip.AddrPort { return c.pathManager.RemoteAddr() }

// ConnectionState reports details about the cryptographic handshake.
func (c *Connection) ConnectionState() ConnectionState { return c.cryptoSetup.ConnectionState() }

func (c *Connection) advanceTick(now time.Time) {
	if now.After(c.lastTick) {
		c.lastTick = now
	}
}

// Recv processes a single incoming UDP datagram. Malformed packets within the
// datagram are dropped without affecting the connection; protocol violations
// close it. The datagram is copied, the caller may reuse the buffer.
func (c *Connection) Recv(datagram []byte, from netip.AddrPort, now time.Time) error {
	switch c.state {
	case stateClosed:
		return nil
	case stateDraining:
		c.handlePacketAfterClose()
		return nil
	}
	c.advanceTick(now)
	// Stream and crypto reassembly retain slices of the packet, so the
	// datagram is copied into a buffer owned by the connection.
	data := make([]byte, len(datagram))
	copy(data, datagram)
	c.sentPacketHandler.ReceivedBytes(protocol.ByteCount(len(data)), now)

	var err error
	for len(data) > 0 {
		if wire.IsLongHeaderPacket(data[0]) {
			var hdr *wire.Header
			var packetData, rest []byte
			hdr, packetData, rest, err = wire.ParsePacket(data)
			if err != nil {
				c.dropPacket(logging.PacketTypeNotDetermined, protocol.ByteCount(len(data)), logging.PacketDropHeaderParseError)
				err = nil
				break
			}
			if hdr.Type == protocol.PacketTypeRetry {
				c.handleRetryPacket(hdr, packetData, now)
				break
			}
			if hdr.Version != c.version {
				c.dropPacket(logging.PacketTypeNotDetermined, protocol.ByteCount(len(packetData)), logging.PacketDropUnexpectedVersion)
				data = rest
				continue
			}
			err = c.handleLongHeaderPacket(hdr, packetData, from, now)
			data = rest
		} else {
			err = c.handleShortHeaderPacket(data, from, now)
			break
		}
		if err != nil || c.state == stateDraining || c.state == stateClosed {
			break
		}
	}
	if err == nil {
		c.reprocessUndecryptablePackets(now)
	}
	return err
}

func (c *Connection) dropPacket(pt logging.PacketType, size protocol.ByteCount, reason logging.PacketDropReason) {
	if c.tracer != nil && c.tracer.DroppedPacket != nil {
		c.tracer.DroppedPacket(pt, size, reason)
	}
}

func (c *Connection) handleLongHeaderPacket(hdr *wire.Header, data []byte, from netip.AddrPort, now time.Time) error {
	if hdr.Type == protocol.PacketType0RTT && c.perspective == protocol.PerspectiveClient {
		c.dropPacket(logging.PacketType0RTT, protocol.ByteCount(len(data)), logging.PacketDropUnexpectedPacket)
		return nil
	}
	packet, err := c.unpacker.UnpackLongHeader(hdr, data)
	if err != nil {
		return c.handleUnpackError(err, data, from, now)
	}
	encLevel := packet.encryptionLevel
	if c.receivedPacketHandler.IsPotentiallyDuplicate(packet.hdr.PacketNumber, encLevel) {
		c.dropPacket(logging.PacketTypeNotDetermined, protocol.ByteCount(len(data)), logging.PacketDropDuplicate)
		return nil
	}
	if c.perspective == protocol.PerspectiveClient && !c.receivedFirstPacket {
		// The server is allowed to choose a new connection ID in its first packet.
		c.receivedFirstPacket = true
		c.handshakeDestConnID = hdr.SrcConnectionID
		c.connIDManager.ChangeInitialConnID(hdr.SrcConnectionID)
	}
	c.onPacketProcessed(encLevel, now)
	// A Handshake packet proves that the client holds the Handshake keys,
	// so the server no longer needs the Initial keys.
	if c.perspective == protocol.PerspectiveServer && encLevel == protocol.EncryptionHandshake && !c.initialKeysDropped {
		c.dropEncryptionLevel(protocol.EncryptionInitial, now)
	}
	isAckEliciting, err := c.handleFrames(packet.data, hdr.DestConnectionID, encLevel, now)
	if err != nil {
		return c.closeWithError(err, now)
	}
	if err := c.receivedPacketHandler.ReceivedPacket(packet.hdr.PacketNumber, encLevel, now, isAckEliciting); err != nil {
		return c.closeWithError(err, now)
	}
	if err := c.handleHandshakeEvents(now); err != nil {
		return c.closeWithError(err, now)
	}
	return nil
}

func (c *Connection) handleShortHeaderPacket(data []byte, from netip.AddrPort, now time.Time) error {
	if len(data) < 1+c.srcConnID.Len() {
		c.dropPacket(logging.PacketType1RTT, protocol.ByteCount(len(data)), logging.PacketDropHeaderParseError)
		return nil
	}
	destConnID := protocol.ParseConnectionID(data[1 : 1+c.srcConnID.Len()])
	pn, _, _, decrypted, err := c.unpacker.UnpackShortHeader(now, data)
	if err != nil {
		return c.handleUnpackError(err, data, from, now)
	}
	if c.receivedPacketHandler.IsPotentiallyDuplicate(pn, protocol.Encryption1RTT) {
		c.dropPacket(logging.PacketType1RTT, protocol.ByteCount(len(data)), logging.PacketDropDuplicate)
		return nil
	}
	if c.perspective == protocol.PerspectiveServer && from != c.pathManager.RemoteAddr() {
		c.pathManager.HandlePacketFromAddr(from)
	}
	c.onPacketProcessed(protocol.Encryption1RTT, now)
	isAckEliciting, err := c.handleFrames(decrypted, destConnID, protocol.Encryption1RTT, now)
	if err != nil {
		return c.closeWithError(err, now)
	}
	if err := c.receivedPacketHandler.ReceivedPacket(pn, protocol.Encryption1RTT, now, isAckEliciting); err != nil {
		return c.closeWithError(err, now)
	}
	if err := c.handleHandshakeEvents(now); err != nil {
		return c.closeWithError(err, now)
	}
	return nil
}

func (c *Connection) onPacketProcessed(encLevel protocol.EncryptionLevel, now time.Time) {
	c.lastPacketReceivedTime = now
	c.firstAckElicitingPacketAfterIdleSentTime = time.Time{}
	c.keepAlivePingSent = false
	c.sentPacketHandler.ReceivedPacket(encLevel, now)
}

func (c *Connection) handleUnpackError(err error, data []byte, from netip.AddrPort, now time.Time) error {
	switch {
	case errors.Is(err, handshake.ErrKeysNotYetAvailable):
		c.bufferUndecryptablePacket(data, from, now)
		return nil
	case errors.Is(err, handshake.ErrKeysDropped):
		c.dropPacket(logging.PacketTypeNotDetermined, protocol.ByteCount(len(data)), logging.PacketDropKeyUnavailable)
		return nil
	case errors.Is(err, handshake.ErrDecryptionFailed):
		c.dropPacket(logging.PacketTypeNotDetermined, protocol.ByteCount(len(data)), logging.PacketDropPayloadDecryptError)
		return nil
	case errors.Is(err, wire.ErrInvalidReservedBits):
		return c.closeWithError(&qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: err.Error(),
		}, now)
	default:
		var headerErr *headerParseError
		if errors.As(err, &headerErr) {
			c.dropPacket(logging.PacketTypeNotDetermined, protocol.ByteCount(len(data)), logging.PacketDropHeaderParseError)
			return nil
		}
		return c.closeWithError(err, now)
	}
}

func (c *Connection) bufferUndecryptablePacket(data []byte, from netip.AddrPort, now time.Time) {
	if len(c.undecryptablePackets)+1 > protocol.MaxUndecryptablePackets {
		c.dropPacket(logging.PacketTypeNotDetermined, protocol.ByteCount(len(data)), logging.PacketDropDOSPrevention)
		return
	}
	if c.tracer != nil && c.tracer.BufferedPacket != nil {
		c.tracer.BufferedPacket(logging.PacketTypeNotDetermined, protocol.ByteCount(len(data)))
	}
	c.undecryptablePackets = append(c.undecryptablePackets, undecryptablePacket{data: data, from: from, rcvTime: now})
}

// reprocessUndecryptablePackets retries buffered packets after new read keys
// became available. Reprocessing may itself derive further keys, so it loops.
func (c *Connection) reprocessUndecryptablePackets(now time.Time) {
	for c.processUndecryptables {
		c.processUndecryptables = false
		if len(c.undecryptablePackets) == 0 {
			return
		}
		queue := c.undecryptablePackets
		c.undecryptablePackets = nil
		for _, p := range queue {
			if c.state == stateDraining || c.state == stateClosed {
				return
			}
			if wire.IsLongHeaderPacket(p.data[0]) {
				hdr, packetData, _, err := wire.ParsePacket(p.data)
				if err != nil || hdr.Version != c.version {
					continue
				}
				_ = c.handleLongHeaderPacket(hdr, packetData, p.from, p.rcvTime)
			} else {
				_ = c.handleShortHeaderPacket(p.data, p.from, p.rcvTime)
			}
		}
	}
}

func (c *Connection) handleRetryPacket(hdr *wire.Header, data []byte, now time.Time) {
	if c.perspective == protocol.PerspectiveServer {
		c.dropPacket(logging.PacketTypeRetry, protocol.ByteCount(len(data)), logging.PacketDropUnexpectedPacket)
		return
	}
	if c.receivedFirstPacket {
		c.dropPacket(logging.PacketTypeRetry, protocol.ByteCount(len(data)), logging.PacketDropUnexpectedPacket)
		return
	}
	destConnID := c.connIDManager.Get()
	if hdr.SrcConnectionID == destConnID {
		// The server has to choose a new connection ID in a Retry.
		c.dropPacket(logging.PacketTypeRetry, protocol.ByteCount(len(data)), logging.PacketDropUnexpectedPacket)
		return
	}
	if len(data) <= 16 {
		c.dropPacket(logging.PacketTypeRetry, protocol.ByteCount(len(data)), logging.PacketDropPayloadDecryptError)
		return
	}
	tag := handshake.GetRetryIntegrityTag(data[:len(data)-16], destConnID, hdr.Version)
	if [16]byte(data[len(data)-16:]) != *tag {
		c.dropPacket(logging.PacketTypeRetry, protocol.ByteCount(len(data)), logging.PacketDropPayloadDecryptError)
		return
	}
	if c.tracer != nil && c.tracer.ReceivedRetry != nil {
		c.tracer.ReceivedRetry(hdr)
	}
	newDestConnID := hdr.SrcConnectionID
	c.retrySrcConnID = &newDestConnID
	c.handshakeDestConnID = newDestConnID
	c.connIDManager.ChangeInitialConnID(newDestConnID)
	c.cryptoSetup.ChangeConnectionID(newDestConnID)
	c.packer.SetToken(hdr.Token)
	c.sentPacketHandler.ResetForRetry(now)
}

func (c *Connection) handleFrames(
	data []byte,
	destConnID protocol.ConnectionID,
	encLevel protocol.EncryptionLevel,
	now time.Time,
) (isAckEliciting bool, _ error) {
	for len(data) > 0 {
		l, frame, err := c.frameParser.ParseNext(data, encLevel, c.version)
		if err != nil {
			return false, err
		}
		data = data[l:]
		if frame == nil {
			break
		}
		if ackhandler.IsFrameAckEliciting(frame) {
			isAckEliciting = true
		}
		if err := c.handleFrame(frame, destConnID, encLevel, now); err != nil {
			return false, err
		}
		if c.state == stateDraining || c.state == stateClosed {
			break
		}
	}
	return isAckEliciting, nil
}

func (c *Connection) handleFrame(
	f wire.Frame,
	destConnID protocol.ConnectionID,
	encLevel protocol.EncryptionLevel,
	now time.Time,
) error {
	switch frame := f.(type) {
	case *wire.CryptoFrame:
		return c.handleCryptoFrame(frame, encLevel, now)
	case *wire.StreamFrame:
		return c.handleStreamFrame(frame, now)
	case *wire.AckFrame:
		return c.handleAckFrame(frame, encLevel, now)
	case *wire.ConnectionCloseFrame:
		c.handleConnectionCloseFrame(frame, now)
		return nil
	case *wire.ResetStreamFrame:
		return c.handleResetStreamFrame(frame, now)
	case *wire.MaxDataFrame:
		c.connFlowController.UpdateSendWindow(frame.MaximumData)
		return nil
	case *wire.MaxStreamDataFrame:
		return c.handleMaxStreamDataFrame(frame)
	case *wire.MaxStreamsFrame:
		c.streamsMap.HandleMaxStreamsFrame(frame)
		return nil
	case *wire.DataBlockedFrame, *wire.StreamDataBlockedFrame, *wire.StreamsBlockedFrame:
		return nil
	case *wire.StopSendingFrame:
		return c.handleStopSendingFrame(frame)
	case *wire.PingFrame:
		return nil
	case *wire.PathChallengeFrame:
		c.framer.QueueControlFrame(&wire.PathResponseFrame{Data: frame.Data})
		return nil
	case *wire.PathResponseFrame:
		if c.pathManager.HandlePathResponseFrame(frame) {
			c.events.PushBack(Event{Kind: EventKindPathValidated})
		}
		return nil
	case *wire.NewTokenFrame:
		if c.perspective == protocol.PerspectiveServer {
			return &qerr.TransportError{
				ErrorCode:    qerr.ProtocolViolation,
				ErrorMessage: "received NEW_TOKEN frame from the client",
			}
		}
		return nil
	case *wire.NewConnectionIDFrame:
		return c.connIDManager.Add(frame)
	case *wire.RetireConnectionIDFrame:
		return c.connIDGenerator.Retire(frame.SequenceNumber, destConnID)
	case *wire.HandshakeDoneFrame:
		return c.handleHandshakeDoneFrame(now)
	case *wire.DatagramFrame:
		return c.handleDatagramFrame(frame)
	default:
		return &qerr.TransportError{
			ErrorCode:    qerr.FrameEncodingError,
			ErrorMessage: fmt.Sprintf("unexpected frame type %T", f),
		}
	}
}

func (c *Connection) handleCryptoFrame(frame *wire.CryptoFrame, encLevel protocol.EncryptionLevel, now time.Time) error {
	if err := c.cryptoStreamManager.HandleCryptoFrame(frame, encLevel); err != nil {
		return err
	}
	for {
		data := c.cryptoStreamManager.GetCryptoData(encLevel)
		if data == nil {
			break
		}
		if err := c.cryptoSetup.HandleMessage(data, encLevel); err != nil {
			return err
		}
	}
	// Handshake events are polled after the packet is fully processed, so
	// that handshake completion sees the packet's bookkeeping (in particular
	// the dropping of the Initial packet number space).
	return nil
}

func (c *Connection) handleStreamFrame(frame *wire.StreamFrame, now time.Time) error {
	str, err := c.streamsMap.GetOrOpenReceiveStream(frame.StreamID)
	if err != nil {
		return err
	}
	if str == nil {
		// The stream was already completed and deleted; late data is discarded.
		return nil
	}
	return str.handleStreamFrame(frame, now)
}

func (c *Connection) handleResetStreamFrame(frame *wire.ResetStreamFrame, now time.Time) error {
	str, err := c.streamsMap.GetOrOpenReceiveStream(frame.StreamID)
	if err != nil {
		return err
	}
	if str == nil {
		return nil
	}
	return str.handleResetStreamFrame(frame, now)
}

func (c *Connection) handleMaxStreamDataFrame(frame *wire.MaxStreamDataFrame) error {
	str, err := c.streamsMap.GetOrOpenSendStream(frame.StreamID)
	if err != nil {
		return err
	}
	if str == nil {
		return nil
	}
	str.updateSendWindow(frame.MaximumStreamData)
	return nil
}

func (c *Connection) handleStopSendingFrame(frame *wire.StopSendingFrame) error {
	str, err := c.streamsMap.GetOrOpenSendStream(frame.StreamID)
	if err != nil {
		return err
	}
	if str == nil {
		return nil
	}
	str.handleStopSendingFrame(frame)
	return nil
}

func (c *Connection) handleAckFrame(frame *wire.AckFrame, encLevel protocol.EncryptionLevel, now time.Time) error {
	acked1RTTPacket, err := c.sentPacketHandler.ReceivedAck(frame, encLevel, now)
	if err != nil {
		return err
	}
	if !acked1RTTPacket {
		return nil
	}
	// The client confirms the handshake on the first acknowledgment of a 1-RTT packet.
	if c.perspective == protocol.PerspectiveClient && c.handshakeComplete && !c.handshakeConfirmed {
		c.handleHandshakeConfirmed(now)
	}
	return c.cryptoSetup.SetLargest1RTTAcked(frame.LargestAcked())
}

func (c *Connection) handleHandshakeDoneFrame(now time.Time) error {
	if c.perspective == protocol.PerspectiveServer {
		return &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: "received a HANDSHAKE_DONE frame",
		}
	}
	if !c.handshakeConfirmed {
		c.handleHandshakeConfirmed(now)
	}
	return nil
}

func (c *Connection) handleDatagramFrame(frame *wire.DatagramFrame) error {
	if !c.config.EnableDatagrams {
		return &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: "received DATAGRAM frame, but datagram support is not enabled",
		}
	}
	if protocol.ByteCount(len(frame.Data)) > protocol.MaxDatagramFrameSize {
		return &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: "DATAGRAM frame too large",
		}
	}
	if c.datagramQueue.HandleDatagramFrame(frame) {
		c.events.PushBack(Event{Kind: EventKindDatagramReceived})
	}
	return nil
}

func (c *Connection) handleConnectionCloseFrame(frame *wire.ConnectionCloseFrame, now time.Time) {
	var err error
	if frame.IsApplicationError {
		err = &qerr.ApplicationError{
			Remote:       true,
			ErrorCode:    qerr.ApplicationErrorCode(frame.ErrorCode),
			ErrorMessage: frame.ReasonPhrase,
		}
	} else {
		err = &qerr.TransportError{
			Remote:       true,
			ErrorCode:    qerr.TransportErrorCode(frame.ErrorCode),
			FrameType:    frame.FrameType,
			ErrorMessage: frame.ReasonPhrase,
		}
	}
	c.drain(err, nil, now)
}

func (c *Connection) handleHandshakeEvents(now time.Time) error {
	for {
		ev := c.cryptoSetup.NextEvent()
		var err error
		switch ev.Kind {
		case handshake.EventNoEvent:
			return nil
		case handshake.EventWriteInitialData:
			_, err = c.initialStream.Write(ev.Data)
		case handshake.EventWriteHandshakeData:
			_, err = c.handshakeStream.Write(ev.Data)
		case handshake.EventReceivedReadKeys:
			c.processUndecryptables = true
		case handshake.EventDiscard0RTTKeys:
			c.dropEncryptionLevel(protocol.Encryption0RTT, now)
		case handshake.EventReceivedTransportParameters:
			err = c.handleTransportParameters(ev.TransportParameters)
		case handshake.EventHandshakeComplete:
			err = c.handleHandshakeComplete(now)
		}
		if err != nil {
			return err
		}
	}
}

func (c *Connection) handleTransportParameters(params *wire.TransportParameters) error {
	if c.tracer != nil && c.tracer.ReceivedTransportParameters != nil {
		c.tracer.ReceivedTransportParameters(params)
	}
	if err := c.checkTransportParameters(params); err != nil {
		return err
	}
	c.peerParams = params
	// RFC 9000 section 10.1: the effective idle timeout is the minimum of
	// both endpoints' nonzero values.
	if params.MaxIdleTimeout > 0 && (c.idleTimeout == 0 || params.MaxIdleTimeout < c.idleTimeout) {
		c.idleTimeout = params.MaxIdleTimeout
	}
	c.setKeepAliveInterval()
	c.frameParser.SetAckDelayExponent(params.AckDelayExponent)
	c.streamsMap.UpdateLimits(params)
	c.connFlowController.UpdateSendWindow(params.InitialMaxData)
	c.rttStats.SetMaxAckDelay(params.MaxAckDelay)
	if err := c.connIDGenerator.SetMaxActiveConnIDs(params.ActiveConnectionIDLimit); err != nil {
		return err
	}
	if c.perspective == protocol.PerspectiveClient {
		if params.StatelessResetToken != nil {
			c.connIDManager.SetStatelessResetToken(*params.StatelessResetToken)
		}
		if params.PreferredAddress != nil {
			if err := c.connIDManager.AddFromPreferredAddress(
				params.PreferredAddress.ConnectionID,
				params.PreferredAddress.StatelessResetToken,
			); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Connection) checkTransportParameters(params *wire.TransportParameters) error {
	if c.perspective == protocol.PerspectiveClient && !c.receivedFirstPacket {
		// Parameters restored from a session ticket for 0-RTT. They were
		// negotiated on a previous connection, so the connection ID checks
		// don't apply. The server's authenticated parameters are validated
		// when they arrive.
		return nil
	}
	if c.perspective == protocol.PerspectiveClient {
		if params.OriginalDestinationConnectionID != c.origDestConnID {
			return &qerr.TransportError{
				ErrorCode:    qerr.TransportParameterError,
				ErrorMessage: "expected original_destination_connection_id to equal " + c.origDestConnID.String(),
			}
		}
		if c.retrySrcConnID != nil {
			if params.RetrySourceConnectionID == nil || *params.RetrySourceConnectionID != *c.retrySrcConnID {
				return &qerr.TransportError{
					ErrorCode:    qerr.TransportParameterError,
					ErrorMessage: "missing or invalid retry_source_connection_id",
				}
			}
		} else if params.RetrySourceConnectionID != nil {
			return &qerr.TransportError{
				ErrorCode:    qerr.TransportParameterError,
				ErrorMessage: "received retry_source_connection_id, although no Retry was performed",
			}
		}
	}
	if params.InitialSourceConnectionID != c.handshakeDestConnID {
		return &qerr.TransportError{
			ErrorCode: qerr.TransportParameterError,
			ErrorMessage: fmt.Sprintf("expected initial_source_connection_id to equal %s, is %s",
				c.handshakeDestConnID, params.InitialSourceConnectionID),
		}
	}
	return nil
}

func (c *Connection) handleHandshakeComplete(now time.Time) error {
	c.handshakeComplete = true
	c.state = stateEstablished
	c.events.PushBack(Event{Kind: EventKindHandshakeComplete})
	c.connIDManager.SetHandshakeComplete()
	c.connIDGenerator.SetHandshakeComplete()
	if c.perspective == protocol.PerspectiveServer {
		c.framer.QueueControlFrame(&wire.HandshakeDoneFrame{})
		c.handleHandshakeConfirmed(now)
	}
	return nil
}

func (c *Connection) handleHandshakeConfirmed(now time.Time) {
	if c.handshakeConfirmed {
		return
	}
	c.handshakeConfirmed = true
	// The Handshake packet number space must be gone before the sent packet
	// handler is told about the confirmation.
	c.dropEncryptionLevel(protocol.EncryptionHandshake, now)
	c.sentPacketHandler.SetHandshakeConfirmed(now)
	c.cryptoSetup.SetHandshakeConfirmed()
	maxMTU := protocol.MaxPacketBufferSize
	if c.peerParams != nil && c.peerParams.MaxUDPPayloadSize > 0 {
		maxMTU = min(maxMTU, c.peerParams.MaxUDPPayloadSize)
	}
	c.mtuDiscoverer = newMTUDiscoverer(c.rttStats, c.maxPacketSize, maxMTU, func(size protocol.ByteCount) {
		c.maxPacketSize = size
		c.sentPacketHandler.SetMaxDatagramSize(size)
	})
	c.mtuDiscoverer.Start(now)
}

func (c *Connection) dropEncryptionLevel(encLevel protocol.EncryptionLevel, now time.Time) {
	c.sentPacketHandler.DropPackets(encLevel, now)
	c.receivedPacketHandler.DropPackets(encLevel)
	c.retransmissionQueue.DropPackets(encLevel)
	if encLevel == protocol.EncryptionInitial || encLevel == protocol.EncryptionHandshake {
		if err := c.cryptoStreamManager.Drop(encLevel); err != nil {
			c.logger.Errorf("error dropping crypto stream for %s: %s", encLevel, err)
		}
	}
	if encLevel == protocol.EncryptionInitial {
		c.cryptoSetup.DiscardInitialKeys()
		c.initialKeysDropped = true
	}
	if c.tracer != nil && c.tracer.DroppedEncryptionLevel != nil {
		c.tracer.DroppedEncryptionLevel(encLevel)
	}
}

// Send fills b with the next outgoing UDP datagram. It returns
// ErrNothingToSend when no datagram is due; the embedder should then wait for
// the next Recv, OnTimeout or API call before trying again.
func (c *Connection) Send(b []byte, now time.Time) (int, error) {
	switch c.state {
	case stateClosed:
		return 0, ErrConnectionClosed
	case stateDraining:
		if !c.closePacketPending || c.closeDatagram == nil {
			return 0, ErrNothingToSend
		}
		if len(b) < len(c.closeDatagram) {
			return 0, io.ErrShortBuffer
		}
		c.closePacketPending = false
		return copy(b, c.closeDatagram), nil
	}
	c.advanceTick(now)
	c.windowUpdateQueue.QueueAll(now)
	if c.framer.QueuedTooManyControlFrames() {
		err := &qerr.TransportError{ErrorCode: qerr.InternalError, ErrorMessage: "control frame queue overflow"}
		if cerr := c.closeWithError(err, now); cerr != nil {
			return 0, cerr
		}
		return c.Send(b, now)
	}

	sendMode := c.sentPacketHandler.SendMode(now)
	switch sendMode {
	case ackhandler.SendNone, ackhandler.SendPacingLimited:
		return 0, ErrNothingToSend
	case ackhandler.SendAck:
		return c.sendAckOnlyPacket(b, now)
	case ackhandler.SendPTOInitial:
		return c.sendProbePacket(b, protocol.EncryptionInitial, now)
	case ackhandler.SendPTOHandshake:
		return c.sendProbePacket(b, protocol.EncryptionHandshake, now)
	case ackhandler.SendPTOAppData:
		return c.sendProbePacket(b, protocol.Encryption1RTT, now)
	case ackhandler.SendAny:
		return c.sendPacket(b, now)
	default:
		return 0, fmt.Errorf("BUG: invalid send mode %d", sendMode)
	}
}

func (c *Connection) sendPacket(b []byte, now time.Time) (int, error) {
	if !c.handshakeConfirmed {
		packet, err := c.packer.PackCoalescedPacket(false, c.maxPacketSize, now, c.version)
		if err != nil {
			return 0, err
		}
		if packet == nil {
			return 0, ErrNothingToSend
		}
		return c.emitCoalescedPacket(b, packet, now)
	}
	if c.mtuDiscoverer != nil && c.mtuDiscoverer.ShouldSendProbe(now) {
		ping, size := c.mtuDiscoverer.GetPing(now)
		p, buf, err := c.packer.PackMTUProbePacket(ping, size, c.version)
		if err != nil {
			return 0, err
		}
		return c.emitShortHeaderPacket(b, p, buf, now)
	}
	buf := getPacketBuffer()
	p, err := c.packer.AppendPacket(buf, c.maxPacketSize, now, c.version)
	if err != nil {
		buf.Release()
		if err == errNothingToPack {
			return 0, ErrNothingToSend
		}
		return 0, err
	}
	return c.emitShortHeaderPacket(b, p, buf, now)
}

func (c *Connection) sendAckOnlyPacket(b []byte, now time.Time) (int, error) {
	if !c.handshakeConfirmed {
		packet, err := c.packer.PackCoalescedPacket(true, c.maxPacketSize, now, c.version)
		if err != nil {
			return 0, err
		}
		if packet == nil {
			return 0, ErrNothingToSend
		}
		return c.emitCoalescedPacket(b, packet, now)
	}
	p, buf, err := c.packer.PackAckOnlyPacket(c.maxPacketSize, now, c.version)
	if err != nil {
		if err == errNothingToPack {
			return 0, ErrNothingToSend
		}
		return 0, err
	}
	return c.emitShortHeaderPacket(b, p, buf, now)
}

func (c *Connection) sendProbePacket(b []byte, encLevel protocol.EncryptionLevel, now time.Time) (int, error) {
	// Retransmit lost data if there is any, otherwise send a PING.
	packet, err := c.packer.MaybeGetProbePacket(encLevel, c.maxPacketSize, now, c.version)
	if err != nil {
		return 0, err
	}
	if packet == nil {
		if !c.sentPacketHandler.QueueProbePacket(encLevel) {
			switch encLevel {
			case protocol.EncryptionInitial:
				c.retransmissionQueue.addInitial(&wire.PingFrame{})
			case protocol.EncryptionHandshake:
				c.retransmissionQueue.addHandshake(&wire.PingFrame{})
			case protocol.Encryption1RTT:
				c.retransmissionQueue.addAppData(&wire.PingFrame{})
			}
		}
		packet, err = c.packer.MaybeGetProbePacket(encLevel, c.maxPacketSize, now, c.version)
		if err != nil {
			return 0, err
		}
	}
	if packet == nil || (len(packet.longHdrPackets) == 0 && packet.shortHdrPacket == nil) {
		return 0, ErrNothingToSend
	}
	return c.emitCoalescedPacket(b, packet, now)
}

func (c *Connection) emitCoalescedPacket(b []byte, packet *coalescedPacket, now time.Time) (int, error) {
	if len(b) < len(packet.buffer.Data) {
		packet.buffer.Release()
		return 0, io.ErrShortBuffer
	}
	var sentAckEliciting bool
	for _, p := range packet.longHdrPackets {
		largestAcked := protocol.InvalidPacketNumber
		if p.ack != nil {
			largestAcked = p.ack.LargestAcked()
		}
		c.sentPacketHandler.SentPacket(now, p.header.PacketNumber, largestAcked, p.streamFrames, p.frames, p.EncryptionLevel(), p.length)
		if p.IsAckEliciting() {
			sentAckEliciting = true
		}
		// The client drops Initial keys when it first sends a Handshake packet.
		if c.perspective == protocol.PerspectiveClient && p.EncryptionLevel() == protocol.EncryptionHandshake && !c.initialKeysDropped {
			c.dropEncryptionLevel(protocol.EncryptionInitial, now)
		}
	}
	if p := packet.shortHdrPacket; p != nil {
		largestAcked := protocol.InvalidPacketNumber
		if p.Ack != nil {
			largestAcked = p.Ack.LargestAcked()
		}
		c.sentPacketHandler.SentPacket(now, p.PacketNumber, largestAcked, p.StreamFrames, p.Frames, protocol.Encryption1RTT, p.Length)
		if p.IsAckEliciting() {
			sentAckEliciting = true
		}
	}
	n := copy(b, packet.buffer.Data)
	packet.buffer.Release()
	c.onPacketSent(sentAckEliciting, now)
	return n, nil
}

func (c *Connection) emitShortHeaderPacket(b []byte, p shortHeaderPacket, buf *packetBuffer, now time.Time) (int, error) {
	if len(b) < len(buf.Data) {
		buf.Release()
		return 0, io.ErrShortBuffer
	}
	largestAcked := protocol.InvalidPacketNumber
	if p.Ack != nil {
		largestAcked = p.Ack.LargestAcked()
	}
	c.sentPacketHandler.SentPacket(now, p.PacketNumber, largestAcked, p.StreamFrames, p.Frames, protocol.Encryption1RTT, p.Length)
	n := copy(b, buf.Data)
	buf.Release()
	c.onPacketSent(p.IsAckEliciting(), now)
	return n, nil
}

func (c *Connection) onPacketSent(ackEliciting bool, now time.Time) {
	c.connIDManager.SentPacket()
	if ackEliciting && c.firstAckElicitingPacketAfterIdleSentTime.IsZero() {
		c.firstAckElicitingPacketAfterIdleSentTime = now
	}
}

// NextTimeout reports the next deadline at which OnTimeout must be called.
// It returns false if no timer needs to be armed.
func (c *Connection) NextTimeout() (time.Time, bool) {
	switch c.state {
	case stateClosed:
		return time.Time{}, false
	case stateDraining:
		return c.drainDeadline, true
	}
	var timer connectionTimer
	if !c.handshakeComplete {
		timer.Add(c.creationTime.Add(c.handshakeTimeout))
	}
	if c.idleTimeout > 0 {
		timer.Add(c.idleTimeoutStartTime().Add(c.idleTimeout))
	}
	if t := c.sentPacketHandler.GetLossDetectionTimeout(); !t.IsZero() {
		timer.Add(t)
	}
	if t := c.receivedPacketHandler.GetAlarmTimeout(); !t.IsZero() {
		timer.Add(t)
	}
	if c.handshakeConfirmed && c.keepAliveInterval > 0 && !c.keepAlivePingSent {
		timer.Add(c.lastPacketReceivedTime.Add(c.keepAliveInterval))
	}
	if c.sentPacketHandler.SendMode(c.lastTick) == ackhandler.SendPacingLimited {
		timer.Add(c.sentPacketHandler.TimeUntilSend())
	}
	return timer.Deadline()
}

// OnTimeout performs all work that became due by the given time. Calling it
// early or spuriously is harmless.
func (c *Connection) OnTimeout(now time.Time) {
	switch c.state {
	case stateClosed:
		return
	case stateDraining:
		if !now.Before(c.drainDeadline) {
			c.state = stateClosed
		}
		return
	}
	c.advanceTick(now)
	if !c.handshakeComplete && !now.Before(c.creationTime.Add(c.handshakeTimeout)) {
		c.destroy(&qerr.HandshakeTimeoutError{})
		return
	}
	if c.idleTimeout > 0 && !now.Before(c.idleTimeoutStartTime().Add(c.idleTimeout)) {
		// An idle timeout is a silent close: no CONNECTION_CLOSE is sent.
		c.destroy(&qerr.IdleTimeoutError{})
		return
	}
	if c.handshakeConfirmed && c.keepAliveInterval > 0 && !c.keepAlivePingSent &&
		!now.Before(c.lastPacketReceivedTime.Add(c.keepAliveInterval)) {
		c.framer.QueueControlFrame(&wire.PingFrame{})
		c.keepAlivePingSent = true
	}
	if t := c.sentPacketHandler.GetLossDetectionTimeout(); !t.IsZero() && !now.Before(t) {
		if err := c.sentPacketHandler.OnLossDetectionTimeout(now); err != nil {
			_ = c.closeWithError(err, now)
		}
	}
}

func (c *Connection) idleTimeoutStartTime() time.Time {
	t := c.lastPacketReceivedTime
	if c.firstAckElicitingPacketAfterIdleSentTime.After(t) {
		t = c.firstAckElicitingPacketAfterIdleSentTime
	}
	return t
}

func (c *Connection) setKeepAliveInterval() {
	if c.config.KeepAlivePeriod == 0 {
		c.keepAliveInterval = 0
		return
	}
	interval := min(c.config.KeepAlivePeriod, protocol.MaxKeepAliveInterval)
	if c.idleTimeout > 0 {
		interval = min(interval, c.idleTimeout/2)
	}
	c.keepAliveInterval = interval
}

// PollEvent returns the next queued connection event.
func (c *Connection) PollEvent() (Event, bool) {
	if c.events.Empty() {
		return Event{}, false
	}
	return c.events.PopFront(), true
}

// CloseWithError closes the connection with an application error. The
// CONNECTION_CLOSE datagram is returned by the next call to Send.
func (c *Connection) CloseWithError(code ApplicationErrorCode, reason string) error {
	if c.state == stateDraining || c.state == stateClosed {
		return nil
	}
	e := &qerr.ApplicationError{ErrorCode: code, ErrorMessage: reason}
	packet, err := c.packer.PackApplicationClose(e, c.maxPacketSize, c.version)
	if err != nil {
		c.destroy(e)
		return err
	}
	c.drain(e, packet, c.lastTick)
	return nil
}

// closeWithError closes the connection with a local error, sending a
// CONNECTION_CLOSE to the peer. It returns the error it was given.
func (c *Connection) closeWithError(e error, now time.Time) error {
	if c.state == stateDraining || c.state == stateClosed {
		return e
	}
	c.advanceTick(now)
	var transportErr *qerr.TransportError
	if !errors.As(e, &transportErr) {
		transportErr = &qerr.TransportError{
			ErrorCode:    qerr.InternalError,
			ErrorMessage: e.Error(),
		}
	}
	packet, err := c.packer.PackConnectionClose(transportErr, c.maxPacketSize, c.version)
	if err != nil {
		c.destroy(transportErr)
		return e
	}
	c.drain(transportErr, packet, now)
	return e
}

// drain moves the connection into the draining state. closePacket may be nil
// when the close was initiated by the peer; in that case nothing is sent.
func (c *Connection) drain(e error, closePacket *coalescedPacket, now time.Time) {
	if c.state == stateDraining || c.state == stateClosed {
		return
	}
	c.closeErr = e
	if closePacket != nil {
		c.closeDatagram = make([]byte, len(closePacket.buffer.Data))
		copy(c.closeDatagram, closePacket.buffer.Data)
		closePacket.buffer.Release()
		c.closePacketPending = true
	}
	pto := c.rttStats.PTO(true)
	c.drainDeadline = now.Add(3 * pto)
	c.state = stateDraining
	c.shutdown(e)
}

// destroy closes the connection immediately and silently.
func (c *Connection) destroy(e error) {
	if c.state == stateClosed {
		return
	}
	c.closeErr = e
	c.state = stateClosed
	c.shutdown(e)
}

func (c *Connection) shutdown(e error) {
	c.streamsMap.CloseWithError(e)
	c.connIDGenerator.RemoveAll()
	if err := c.cryptoSetup.Close(); err != nil {
		c.logger.Errorf("error closing crypto setup: %s", err)
	}
	c.events.PushBack(Event{Kind: EventKindConnectionClosed, Error: e})
	if c.tracer != nil {
		if c.tracer.ClosedConnection != nil {
			c.tracer.ClosedConnection(e)
		}
		if c.tracer.Close != nil {
			c.tracer.Close()
		}
	}
}

// handlePacketAfterClose rate-limits retransmissions of the close datagram
// while draining: the response threshold doubles every time it is hit.
func (c *Connection) handlePacketAfterClose() {
	if c.closeDatagram == nil {
		return
	}
	c.packetsSinceClose++
	if c.packetsSinceClose >= c.closeSendThreshold {
		c.packetsSinceClose = 0
		c.closeSendThreshold *= 2
		c.closePacketPending = true
	}
}

// OpenStream opens a new outgoing bidirectional stream. It returns
// ErrTooManyOpenStreams if the peer's stream limit is exhausted.
func (c *Connection) OpenStream() (*Stream, error) {
	if c.state == stateDraining || c.state == stateClosed {
		return nil, ErrConnectionClosed
	}
	return c.streamsMap.OpenStream()
}

// OpenUniStream opens a new outgoing unidirectional stream.
func (c *Connection) OpenUniStream() (*SendStream, error) {
	if c.state == stateDraining || c.state == stateClosed {
		return nil, ErrConnectionClosed
	}
	return c.streamsMap.OpenUniStream()
}

// AcceptStream returns the next bidirectional stream opened by the peer, if any.
func (c *Connection) AcceptStream() (*Stream, bool) {
	return c.streamsMap.AcceptStream()
}

// AcceptUniStream returns the next unidirectional stream opened by the peer, if any.
func (c *Connection) AcceptUniStream() (*ReceiveStream, bool) {
	return c.streamsMap.AcceptUniStream()
}

// SendDatagram queues an unreliable datagram (RFC 9221).
func (c *Connection) SendDatagram(payload []byte) error {
	if c.state == stateDraining || c.state == stateClosed {
		return ErrConnectionClosed
	}
	if !c.config.EnableDatagrams {
		return errors.New("datagram support disabled")
	}
	if c.peerParams == nil || c.peerParams.MaxDatagramFrameSize == 0 {
		return errors.New("peer doesn't support datagrams")
	}
	f := &wire.DatagramFrame{DataLenPresent: true}
	if protocol.ByteCount(len(payload)) > f.MaxDataLen(min(c.peerParams.MaxDatagramFrameSize, c.maxPacketSize), c.version) {
		return errors.New("message too large")
	}
	f.Data = make([]byte, len(payload))
	copy(f.Data, payload)
	c.datagramQueue.Add(f)
	return nil
}

// ReceiveDatagram dequeues a received datagram, if any.
func (c *Connection) ReceiveDatagram() ([]byte, bool) {
	return c.datagramQueue.Receive()
}

// streamSender callbacks.

func (c *Connection) queueControlFrame(f wire.Frame) {
	c.framer.QueueControlFrame(f)
}

func (c *Connection) onHasStreamData(id protocol.StreamID, str sendStreamI) {
	c.framer.AddActiveStream(id, str)
}

func (c *Connection) onHasStreamWindowUpdate(id protocol.StreamID) {
	c.windowUpdateQueue.AddStream(id)
}

func (c *Connection) onHasConnectionWindowUpdate() {
	c.windowUpdateQueue.AddConnection()
}

func (c *Connection) onStreamCompleted(id protocol.StreamID) {
	if err := c.streamsMap.DeleteStream(id); err != nil {
		c.logger.Errorf("error deleting stream %d: %s", id, err)
	}
	c.framer.RemoveActiveStream(id)
}

func (c *Connection) emitStreamEvent(e Event) {
	c.events.PushBack(e)
}
