package quicore

import (
	"time"

	"github.com/nitishtalasu/msquic/internal/handshake"
	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/wire"
)

// handleDatagram is the entry point for one received UDP datagram. It
// runs inside the drain loop (queued by readLoop), so it needs no
// locking against anything else touching connection state (spec §4.2
// "Receive pipeline").
func (c *Connection) handleDatagram(data []byte, ecn protocol.ECN, rcvTime time.Time) {
	if len(data) == 0 {
		return
	}
	c.lastPacketReceivedTime = rcvTime
	c.keepAlivePingSent = false

	if wire.IsLongHeaderPacket(data[0]) {
		c.handleLongHeaderPacket(data, ecn, rcvTime)
		return
	}
	c.handleShortHeaderPacket(data, ecn, rcvTime)
}

func (c *Connection) handleLongHeaderPacket(data []byte, ecn protocol.ECN, rcvTime time.Time) {
	hdr, packetData, parsedLen, err := wire.ParsePacket(data)
	if err != nil {
		c.logger.Debugf("failed to parse long header packet: %v", err)
		return
	}

	if hdr.Type == protocol.PacketTypeRetry {
		c.handleRetryPacket(hdr, packetData, parsedLen)
		return
	}

	level := hdr.Type.EncryptionLevel()
	if !c.spaces.CanProcess(level) {
		if c.tracer != nil && c.tracer.DroppedPacket != nil {
			c.tracer.DroppedPacket(level, protocol.InvalidPacketNumber, "keys unavailable")
		}
		return
	}

	extHdr, err := hdr.ParseExtended(data)
	if err != nil {
		c.logger.Debugf("failed to parse extended header: %v", err)
		return
	}
	largest := c.receivedPacketHandler.LargestObserved(level)
	pn := wire.DecodePacketNumber(extHdr.PacketNumber, extHdr.PacketNumberLen, largest)
	if c.receivedPacketHandler.IsDuplicate(level, pn) {
		return
	}

	sp := c.spaces.Get(level)
	payload, err := sp.longOpener.Open(nil, packetData[extHdr.ParsedLen():], pn, packetData[:extHdr.ParsedLen()])
	if err != nil {
		c.logger.Debugf("failed to open long header packet %d: %v", pn, err)
		return
	}

	if err := c.receivedPacketHandler.ReceivedPacket(pn, ecn, level, rcvTime, ackElicitingPayload(payload, level, c.version)); err != nil {
		c.logger.Errorf("error recording received packet: %v", err)
		return
	}
	if c.tracer != nil && c.tracer.ReceivedPacket != nil {
		c.tracer.ReceivedPacket(pn, protocol.ByteCount(len(data)), level)
	}
	if c.isClient {
		c.gotFirstServerResponse = true
	}

	c.processFrames(payload, level)
	c.advanceHandshake()
	c.scheduleSending()
}

func (c *Connection) handleShortHeaderPacket(data []byte, ecn protocol.ECN, rcvTime time.Time) {
	_, truncatedPN, pnLen, kp, err := wire.ParseShortHeader(data, c.srcConnID.Len())
	if err != nil {
		c.logger.Debugf("failed to parse short header packet: %v", err)
		return
	}
	largest := c.receivedPacketHandler.LargestObserved(protocol.Encryption1RTT)
	pn := wire.DecodePacketNumber(truncatedPN, pnLen, largest)
	if c.receivedPacketHandler.IsDuplicate(protocol.Encryption1RTT, pn) {
		return
	}

	hdrLen := 1 + c.srcConnID.Len() + int(pnLen)
	sp := c.spaces.Get(protocol.Encryption1RTT)
	payload, err := sp.shortOpener.Open(nil, data[hdrLen:], rcvTime, pn, kp, data[:hdrLen])
	if err != nil {
		c.logger.Debugf("failed to open short header packet %d: %v", pn, err)
		return
	}

	if !c.isClient && !c.initialKeysDropped {
		c.dropInitialKeys()
	}

	if err := c.receivedPacketHandler.ReceivedPacket(pn, ecn, protocol.Encryption1RTT, rcvTime, ackElicitingPayload(payload, protocol.Encryption1RTT, c.version)); err != nil {
		c.logger.Errorf("error recording received packet: %v", err)
		return
	}

	c.processFrames(payload, protocol.Encryption1RTT)
	c.scheduleSending()
}

func (c *Connection) dropInitialKeys() {
	c.sentPacketHandler.DropPackets(protocol.EncryptionInitial, time.Now())
	c.receivedPacketHandler.DropPackets(protocol.EncryptionInitial)
	c.spaces.Discard(protocol.EncryptionInitial)
	c.initialKeysDropped = true
	c.logger.Debugf("[%s] dropped Initial packet space", c.side())
}

// advanceHandshake drains the crypto engine's event queue, reacting to
// the fake engine's handshake completion signal the way a real TLS
// engine's key-derivation events would be handled (spec §6 "the
// connection core reacts to CryptoEngine events, it does not drive the
// handshake state machine itself").
func (c *Connection) advanceHandshake() {
	for {
		switch c.cryptoEngine.NextEvent() {
		case handshake.EventNone:
			return
		case handshake.EventWriteCryptoData:
			c.framer.QueueControlFrame(&wire.CryptoFrame{Data: handshake.HelloMessage(c.persp())})
			c.scheduleSending()
		case handshake.EventReceivedTransportParameters:
			// Transport parameter negotiation is out of scope; the
			// demo engine's fixed defaults are already in effect.
		case handshake.EventHandshakeComplete:
			c.completeHandshake()
		}
	}
}

func (c *Connection) persp() protocol.Perspective {
	if c.isClient {
		return protocol.PerspectiveClient
	}
	return protocol.PerspectiveServer
}

func (c *Connection) completeHandshake() {
	if c.handshakeComplete {
		return
	}
	c.handshakeComplete = true
	close(c.handshakeCompleteChan)

	sealer, opener, err := c.cryptoEngine.GenerateNewKeys()
	if err == nil {
		c.spaces.InstallShortKeys(sealer, opener)
	}
	if !c.isClient {
		c.framer.QueueControlFrame(&wire.HandshakeDoneFrame{})
	}
	if c.isClient {
		c.dropInitialKeys()
	}
	if c.tracer != nil && c.tracer.UpdatedKeyPhase != nil {
		c.tracer.UpdatedKeyPhase(protocol.Encryption1RTT, protocol.KeyPhaseZero, 1)
	}
	c.scheduleSending()
}

// ackElicitingPayload reports whether payload contains any frame that
// obliges an ACK in response (RFC 9000 §13.2.1), so ReceivedPacket can
// be told the truth instead of assuming every packet is ack-eliciting
// — an ACK-only packet must never itself trigger an ACK, or two
// endpoints volley empty ACKs forever.
func ackElicitingPayload(payload []byte, level protocol.EncryptionLevel, version protocol.Version) bool {
	frameParser := wire.NewFrameParser(false, true)
	remaining := payload
	for len(remaining) > 0 {
		n, frame, err := frameParser.ParseNext(remaining, level, version)
		if err != nil || frame == nil {
			return false
		}
		if wire.IsAckEliciting(frame) {
			return true
		}
		remaining = remaining[n:]
	}
	return false
}

func (c *Connection) processFrames(payload []byte, level protocol.EncryptionLevel) {
	frameParser := wire.NewFrameParser(false, true)
	remaining := payload
	for len(remaining) > 0 {
		n, frame, err := frameParser.ParseNext(remaining, level, c.version)
		if err != nil {
			c.logger.Debugf("frame parse error at level %s: %v", level, err)
			c.closeLocal(err)
			return
		}
		if frame == nil {
			break
		}
		c.handleFrame(frame, level)
		remaining = remaining[n:]
	}
}
