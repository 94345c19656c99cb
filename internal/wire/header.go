// Package wire implements QUIC packet header and frame encode/decode,
// grounded on the shape the teacher exercises (wire.Header,
// wire.ExtendedHeader, wire.ParsePacket, wire.NewFrameParser,
// wire.AppendShortHeader, wire.LogFrame) and on goburrow-quic's header
// layout for the concrete long/short header bit patterns.
package wire

import (
	"errors"
	"fmt"

	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/utils"
)

const (
	longHeaderFormFlag  = 0x80
	fixedBitFlag        = 0x40
	longHeaderTypeMask  = 0x30
	shortHeaderKeyPhase = 0x04
	shortHeaderPnLenMask = 0x03
	longHeaderPnLenMask  = 0x03
)

var (
	ErrUnsupportedVersion  = errors.New("wire: unsupported version")
	ErrInvalidHeaderBits   = errors.New("wire: invalid fixed/form bits")
	ErrBufferTooSmall      = errors.New("wire: buffer too small")
)

// IsLongHeaderPacket reports whether the first byte indicates a
// long-header packet.
func IsLongHeaderPacket(firstByte byte) bool {
	return firstByte&longHeaderFormFlag != 0
}

// Header is the unprotected, type-identifying prefix of a long-header
// packet (spec §4.2 "Header parse").
type Header struct {
	Type             protocol.PacketType
	Version          protocol.Version
	DestConnectionID protocol.ConnectionID
	SrcConnectionID  protocol.ConnectionID
	TokenLen         int
	Token            []byte
	Length           protocol.ByteCount

	// raw slice covering the header through the length field, used to
	// compute the packet-number offset during extended-header parsing.
	parsedLen int
}

// ExtendedHeader adds the packet-number field, available only once
// header protection has been removed.
type ExtendedHeader struct {
	Header
	PacketNumber    protocol.PacketNumber
	PacketNumberLen protocol.PacketNumberLen
	parsedLen       int
}

func (h *ExtendedHeader) ParsedLen() int { return h.parsedLen }

// ParsePacket validates invariants and extracts the unprotected header
// of a long-header packet: version bit, fixed bit, version match, CIDs,
// and (for Initial) the token. Per spec §4.2, version-negotiation
// packets and mismatched-version long headers are rejected here.
func ParsePacket(data []byte) (*Header, []byte, int, error) {
	if len(data) < 1 {
		return nil, nil, 0, ErrBufferTooSmall
	}
	firstByte := data[0]
	if firstByte&longHeaderFormFlag == 0 {
		return nil, nil, 0, errors.New("wire: not a long header packet")
	}
	if firstByte&fixedBitFlag == 0 {
		return nil, nil, 0, ErrInvalidHeaderBits
	}

	pos := 1
	if len(data) < pos+4 {
		return nil, nil, 0, ErrBufferTooSmall
	}
	version := protocol.Version(uint32(data[pos])<<24 | uint32(data[pos+1])<<16 | uint32(data[pos+2])<<8 | uint32(data[pos+3]))
	pos += 4

	if version == 0 {
		return nil, nil, 0, errors.New("wire: version negotiation packet")
	}

	typ, err := longHeaderType(firstByte, version)
	if err != nil {
		return nil, nil, 0, err
	}

	if len(data) < pos+1 {
		return nil, nil, 0, ErrBufferTooSmall
	}
	destLen := int(data[pos])
	pos++
	if len(data) < pos+destLen {
		return nil, nil, 0, ErrBufferTooSmall
	}
	destCID, err := protocol.ParseConnectionID(data[pos : pos+destLen])
	if err != nil {
		return nil, nil, 0, err
	}
	pos += destLen

	if len(data) < pos+1 {
		return nil, nil, 0, ErrBufferTooSmall
	}
	srcLen := int(data[pos])
	pos++
	if len(data) < pos+srcLen {
		return nil, nil, 0, ErrBufferTooSmall
	}
	srcCID, err := protocol.ParseConnectionID(data[pos : pos+srcLen])
	if err != nil {
		return nil, nil, 0, err
	}
	pos += srcLen

	h := &Header{
		Type:             typ,
		Version:          version,
		DestConnectionID: destCID,
		SrcConnectionID:  srcCID,
	}

	if typ == protocol.PacketTypeInitial {
		tokenLen, n, err := ReadVarInt(data[pos:])
		if err != nil {
			return nil, nil, 0, err
		}
		pos += n
		if len(data) < pos+int(tokenLen) {
			return nil, nil, 0, ErrBufferTooSmall
		}
		h.TokenLen = int(tokenLen)
		h.Token = append([]byte(nil), data[pos:pos+int(tokenLen)]...)
		pos += int(tokenLen)
	}

	if typ != protocol.PacketTypeRetry {
		length, n, err := ReadVarInt(data[pos:])
		if err != nil {
			return nil, nil, 0, err
		}
		pos += n
		h.Length = protocol.ByteCount(length)
	}

	h.parsedLen = pos
	return h, data, pos, nil
}

// longHeaderType maps the long-header type bits to a PacketType,
// checking the fixed version against the single supported version.
func longHeaderType(firstByte byte, version protocol.Version) (protocol.PacketType, error) {
	if version != protocol.Version1 {
		return 0, ErrUnsupportedVersion
	}
	switch (firstByte & longHeaderTypeMask) >> 4 {
	case 0:
		return protocol.PacketTypeInitial, nil
	case 1:
		return protocol.PacketType0RTT, nil
	case 2:
		return protocol.PacketTypeHandshake, nil
	case 3:
		return protocol.PacketTypeRetry, nil
	default:
		return 0, fmt.Errorf("wire: unknown long header type")
	}
}

// ParseExtended recovers the packet-number field length from the
// (already header-protection-removed) first byte, and decodes the
// packet number bytes. Callers are expected to have already XORed the
// HP mask onto data[0] and the PN bytes before calling this.
func (h *Header) ParseExtended(data []byte) (*ExtendedHeader, error) {
	pos := h.parsedLen
	pnLen := protocol.PacketNumberLen((data[0] & longHeaderPnLenMask) + 1)
	if len(data) < pos+int(pnLen) {
		return nil, ErrBufferTooSmall
	}
	var pn uint32
	for i := 0; i < int(pnLen); i++ {
		pn = pn<<8 | uint32(data[pos+i])
	}
	eh := &ExtendedHeader{
		Header:          *h,
		PacketNumber:    protocol.PacketNumber(pn),
		PacketNumberLen: pnLen,
		parsedLen:       pos + int(pnLen),
	}
	return eh, nil
}

// Append serializes the long header (through the packet-number field)
// into dst. The caller fills in Length before calling Append.
func (h *ExtendedHeader) Append(dst []byte, version protocol.Version) ([]byte, error) {
	firstByte := byte(longHeaderFormFlag | fixedBitFlag)
	firstByte |= byte(longHeaderTypeFromPacketType(h.Type)) << 4
	firstByte |= byte(h.PacketNumberLen - 1)
	dst = append(dst, firstByte)
	dst = append(dst, byte(version>>24), byte(version>>16), byte(version>>8), byte(version))
	dst = append(dst, byte(h.DestConnectionID.Len()))
	dst = append(dst, h.DestConnectionID.Bytes()...)
	dst = append(dst, byte(h.SrcConnectionID.Len()))
	dst = append(dst, h.SrcConnectionID.Bytes()...)
	if h.Type == protocol.PacketTypeInitial {
		dst = AppendVarInt(dst, uint64(len(h.Token)))
		dst = append(dst, h.Token...)
	}
	dst = AppendVarInt(dst, uint64(h.Length))
	for i := int(h.PacketNumberLen) - 1; i >= 0; i-- {
		dst = append(dst, byte(h.PacketNumber>>(8*i)))
	}
	return dst, nil
}

func longHeaderTypeFromPacketType(t protocol.PacketType) int {
	switch t {
	case protocol.PacketTypeInitial:
		return 0
	case protocol.PacketType0RTT:
		return 1
	case protocol.PacketTypeHandshake:
		return 2
	case protocol.PacketTypeRetry:
		return 3
	default:
		return 0
	}
}

// ParseShortHeader extracts the (header-protection-removed) short
// header fields: packet number, its length and the key phase bit.
// destConnIDLen is the fixed length of CIDs we offer (spec §6).
func ParseShortHeader(data []byte, destConnIDLen int) (*Header, protocol.PacketNumber, protocol.PacketNumberLen, protocol.KeyPhaseBit, error) {
	if len(data) < 1 {
		return nil, 0, 0, 0, ErrBufferTooSmall
	}
	firstByte := data[0]
	if firstByte&longHeaderFormFlag != 0 {
		return nil, 0, 0, 0, errors.New("wire: not a short header packet")
	}
	if firstByte&fixedBitFlag == 0 {
		return nil, 0, 0, 0, ErrInvalidHeaderBits
	}
	pos := 1
	if len(data) < pos+destConnIDLen {
		return nil, 0, 0, 0, ErrBufferTooSmall
	}
	destCID, err := protocol.ParseConnectionID(data[pos : pos+destConnIDLen])
	if err != nil {
		return nil, 0, 0, 0, err
	}
	pos += destConnIDLen

	kp := protocol.KeyPhaseZero
	if firstByte&shortHeaderKeyPhase != 0 {
		kp = protocol.KeyPhaseOne
	}
	pnLen := protocol.PacketNumberLen((firstByte & shortHeaderPnLenMask) + 1)
	if len(data) < pos+int(pnLen) {
		return nil, 0, 0, 0, ErrBufferTooSmall
	}
	var pn uint32
	for i := 0; i < int(pnLen); i++ {
		pn = pn<<8 | uint32(data[pos+i])
	}
	h := &Header{DestConnectionID: destCID}
	return h, protocol.PacketNumber(pn), pnLen, kp, nil
}

// AppendShortHeader serializes a 1-RTT short header.
func AppendShortHeader(dst []byte, destConnID protocol.ConnectionID, pn protocol.PacketNumber, pnLen protocol.PacketNumberLen, kp protocol.KeyPhaseBit) ([]byte, error) {
	firstByte := byte(fixedBitFlag)
	if kp == protocol.KeyPhaseOne {
		firstByte |= shortHeaderKeyPhase
	}
	firstByte |= byte(pnLen - 1)
	dst = append(dst, firstByte)
	dst = append(dst, destConnID.Bytes()...)
	for i := int(pnLen) - 1; i >= 0; i-- {
		dst = append(dst, byte(pn>>(8*i)))
	}
	return dst, nil
}

// DecodePacketNumber reconstructs the full packet number from its
// truncated wire representation and the largest previously received
// packet number, per RFC 9000 §17.1. Round-trips with EncodePacketNumber
// (spec §8 "decode(encode(pn, expected)) == pn").
func DecodePacketNumber(truncated protocol.PacketNumber, truncatedLen protocol.PacketNumberLen, largest protocol.PacketNumber) protocol.PacketNumber {
	expected := largest + 1
	pnWin := int64(1) << (8 * truncatedLen)
	pnHWin := pnWin / 2
	pnMask := pnWin - 1

	candidate := (int64(expected) &^ pnMask) | int64(truncated)
	if candidate <= int64(expected)-pnHWin && candidate < (1<<62)-pnWin {
		return protocol.PacketNumber(candidate + pnWin)
	}
	if candidate > int64(expected)+pnHWin && candidate >= pnWin {
		return protocol.PacketNumber(candidate - pnWin)
	}
	return protocol.PacketNumber(candidate)
}

// EncodePacketNumberLength picks the minimal PN length that keeps the
// truncated representation unambiguous against the largest acked PN.
func EncodePacketNumberLength(pn, largestAcked protocol.PacketNumber) protocol.PacketNumberLen {
	delta := uint64(pn - largestAcked)
	if largestAcked == protocol.InvalidPacketNumber {
		delta = uint64(pn) + 1
	}
	switch {
	case delta*2 < 1<<8:
		return protocol.PacketNumberLen1
	case delta*2 < 1<<16:
		return protocol.PacketNumberLen2
	case delta*2 < 1<<24:
		return protocol.PacketNumberLen3
	default:
		return protocol.PacketNumberLen4
	}
}

// LogFrame forwards a short description of a frame to the logger,
// mirroring the teacher's wire.LogFrame helper.
func LogFrame(logger utils.Logger, f Frame, sent bool) {
	if !logger.Debug() {
		return
	}
	dir := "<-"
	if sent {
		dir = "->"
	}
	logger.Debugf("%s %T", dir, f)
}
