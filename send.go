package quicore

import (
	"time"

	"github.com/nitishtalasu/msquic/internal/ackhandler"
	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/wire"
)

// sendPackets flushes every encryption level that currently has
// something to send: queued ACKs, control frames, retransmissions or
// active stream data (spec §4.1 "flush-send runs once per drain before
// the worker goes back to waiting").
func (c *Connection) sendPackets() error {
	for lvl := protocol.EncryptionLevel(0); lvl < protocol.NumEncryptionLevels; lvl++ {
		if !c.spaces.CanProcess(lvl) {
			continue
		}
		for {
			sent, err := c.maybeSendPacket(lvl)
			if err != nil {
				return err
			}
			if !sent {
				break
			}
		}
	}
	return nil
}

// maybeSendPacket packs and sends at most one packet at level, if there
// is anything worth sending: a pending ACK, retransmission data, or
// framer content. It returns false once the level has nothing left.
func (c *Connection) maybeSendPacket(level protocol.EncryptionLevel) (bool, error) {
	now := time.Now()
	ack := c.receivedPacketHandler.GetAckFrame(level, now, true)
	hasRetransmission := c.retransmissionQueue.HasData()
	hasFramerData := level == protocol.Encryption1RTT && c.framer.HasData()

	if ack == nil && !hasRetransmission && !hasFramerData {
		return false, nil
	}

	buf := getPacketBuffer()
	defer buf.Release()

	pn, pnLen := c.sentPacketHandler.PeekPacketNumber(level)

	var controlFrames []ackhandler.Frame
	var streamFrames []ackhandler.StreamFrame
	if ack != nil {
		controlFrames = append(controlFrames, ackhandler.Frame{Frame: ack})
	}
	for c.retransmissionQueue.HasData() {
		controlFrames = append(controlFrames, ackhandler.Frame{Frame: c.retransmissionQueue.GetFrame(), Handler: c.retransmissionQueue.FrameHandler(level)})
	}

	headerLen := c.estimateHeaderLen(level, pnLen)
	overhead := c.spaces.Get(level).overhead(level)
	maxPayload := protocol.ByteCount(protocolMaxPacketSize) - protocol.ByteCount(headerLen) - protocol.ByteCount(overhead)

	if hasFramerData {
		queued := len(controlFrames)
		controlFrames, streamFrames, _ = c.framer.Append(controlFrames, streamFrames, maxPayload, now, c.version)
		for i := queued; i < len(controlFrames); i++ {
			if controlFrames[i].Handler == nil {
				controlFrames[i].Handler = c.retransmissionQueue.FrameHandler(level)
			}
		}
	}

	if len(controlFrames) == 0 && len(streamFrames) == 0 {
		return false, nil
	}

	payload := buf.Data
	for _, f := range controlFrames {
		var err error
		payload, err = f.Frame.Append(payload, c.version)
		if err != nil {
			return false, err
		}
	}
	for _, sf := range streamFrames {
		var err error
		payload, err = sf.Frame.Append(payload, c.version)
		if err != nil {
			return false, err
		}
	}

	raw, err := c.sealPacket(level, pn, pnLen, payload)
	if err != nil {
		return false, err
	}

	c.sentPacketHandler.PopPacketNumber(level)
	c.sentPacketHandler.SentPacket(now, pn, protocol.InvalidPacketNumber, streamFrames, controlFrames, level, protocol.ECT0, protocol.ByteCount(len(raw)), false, false)

	if err := c.transport.WritePacket(raw, protocol.ECT0); err != nil {
		return false, err
	}
	if c.tracer != nil && c.tracer.SentPacket != nil {
		c.tracer.SentPacket(pn, protocol.ByteCount(len(raw)), level)
	}
	for _, f := range controlFrames {
		wire.LogFrame(c.logger, f.Frame, true)
	}
	return true, nil
}

func (c *Connection) estimateHeaderLen(level protocol.EncryptionLevel, pnLen protocol.PacketNumberLen) int {
	if level == protocol.Encryption1RTT {
		return 1 + c.destConnID.Len() + int(pnLen)
	}
	// long header: type(1) + version(4) + destLen(1) + dest + srcLen(1) + src + token-varint+bytes (Initial only) + length-varint(~2) + pn
	tokenLen := 0
	if level == protocol.EncryptionInitial {
		tokenLen = 1 + len(c.initialToken)
	}
	return 1 + 4 + 1 + c.destConnID.Len() + 1 + c.srcConnID.Len() + tokenLen + 2 + int(pnLen)
}

// sealPacket serializes the header and seals the payload, producing a
// ready-to-send datagram (spec §4.2's encode/seal half of the wire
// pipeline, the mirror of handleDatagram's parse/open half).
func (c *Connection) sealPacket(level protocol.EncryptionLevel, pn protocol.PacketNumber, pnLen protocol.PacketNumberLen, payload []byte) ([]byte, error) {
	sp := c.spaces.Get(level)

	if level == protocol.Encryption1RTT {
		hdr, err := wire.AppendShortHeader(nil, c.destConnID, pn, pnLen, sp.shortSealer.KeyPhase())
		if err != nil {
			return nil, err
		}
		sealed := sp.shortSealer.Seal(nil, payload, pn, hdr)
		raw := append(hdr, sealed...)
		sp.shortSealer.EncryptHeader(sample(raw, len(hdr)-int(pnLen)), &raw[0], raw[len(hdr)-int(pnLen):len(hdr)])
		return raw, nil
	}

	hdrType := longHeaderTypeFor(level)
	var token []byte
	if hdrType == protocol.PacketTypeInitial {
		token = c.initialToken
	}
	extHdr := &wire.ExtendedHeader{
		Header: wire.Header{
			Type:             hdrType,
			Version:          c.version,
			DestConnectionID: c.destConnID,
			SrcConnectionID:  c.srcConnID,
			Token:            token,
			Length:           protocol.ByteCount(int(pnLen) + len(payload) + sp.longSealer.Overhead()),
		},
		PacketNumber:    pn,
		PacketNumberLen: pnLen,
	}
	hdr, err := extHdr.Append(nil, c.version)
	if err != nil {
		return nil, err
	}
	sealed := sp.longSealer.Seal(nil, payload, pn, hdr)
	raw := append(hdr, sealed...)
	sp.longSealer.EncryptHeader(sample(raw, len(hdr)-int(pnLen)), &raw[0], raw[len(hdr)-int(pnLen):len(hdr)])
	return raw, nil
}

func longHeaderTypeFor(level protocol.EncryptionLevel) protocol.PacketType {
	switch level {
	case protocol.EncryptionInitial:
		return protocol.PacketTypeInitial
	case protocol.Encryption0RTT:
		return protocol.PacketType0RTT
	default:
		return protocol.PacketTypeHandshake
	}
}

// sample returns the 16-byte header-protection sample, which starts 4
// bytes into the packet-number field per RFC 9001 §5.4.2, clamped to
// whatever is available for the null/short test ciphers used by demo
// traffic.
func sample(raw []byte, pnOffset int) []byte {
	start := pnOffset + 4
	if start >= len(raw) {
		return nil
	}
	end := start + 16
	if end > len(raw) {
		end = len(raw)
	}
	return raw[start:end]
}
