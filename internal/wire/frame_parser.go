package wire

import (
	"fmt"

	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/qerr"
)

// FrameParser decodes one frame at a time from a packet payload,
// rejecting frames not permitted at the packet's encryption level
// (spec §4.4 "Frames allowed per encryption level").
type FrameParser struct {
	ackDelayExponent uint8
	supportsDatagrams bool
}

// NewFrameParser mirrors the teacher's wire.NewFrameParser(bool, bool)
// call shape; the two booleans configure datagram-frame and 0-RTT
// support respectively. 0-RTT support is always on (spec §1: 0-RTT
// receive only is in scope); datagram frames are out of scope.
func NewFrameParser(supportsDatagrams bool, _ bool) *FrameParser {
	return &FrameParser{ackDelayExponent: protocol.DefaultAckDelayExponent, supportsDatagrams: supportsDatagrams}
}

// ParseNext decodes the next frame from data, returning the number of
// bytes consumed. A run of PADDING bytes is returned as one
// PaddingFrame; a nil frame with a nil error is returned only when data
// is empty.
func (p *FrameParser) ParseNext(data []byte, encLevel protocol.EncryptionLevel, version protocol.Version) (int, Frame, error) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	typVal, n, err := ReadVarInt(data)
	if err != nil {
		return 0, nil, err
	}
	typ := FrameType(typVal)

	if typ > FrameTypeMax {
		return 0, nil, qerr.NewTransportError(qerr.FrameEncodingError, fmt.Sprintf("unknown frame type 0x%x", typVal))
	}
	if !frameAllowedAt(typ, encLevel) {
		return 0, nil, qerr.NewTransportError(qerr.FrameEncodingError, fmt.Sprintf("frame type 0x%x not allowed at %s", typVal, encLevel))
	}

	switch {
	case typ == FrameTypePadding:
		i := n
		for i < len(data) && data[i] == 0 {
			i++
		}
		return i, &PaddingFrame{Length_: i - n + 1}, nil
	case typ == FrameTypePing:
		return n, &PingFrame{}, nil
	case typ == FrameTypeAck || typ == FrameTypeAckECN:
		return p.parseAck(data, n, typ == FrameTypeAckECN)
	case typ == FrameTypeCrypto:
		return p.parseCrypto(data, n)
	case typ == FrameTypeNewToken:
		return p.parseNewToken(data, n)
	case typ >= FrameTypeStreamMin && typ <= FrameTypeStreamMax:
		return p.parseStream(data, n, typ)
	case typ == FrameTypeResetStream:
		return p.parseResetStream(data, n)
	case typ == FrameTypeStopSending:
		return p.parseStopSending(data, n)
	case typ == FrameTypeMaxData:
		return p.parseMaxData(data, n)
	case typ == FrameTypeMaxStreamData:
		return p.parseMaxStreamData(data, n)
	case typ == FrameTypeMaxStreamsBidi || typ == FrameTypeMaxStreamsUni:
		return p.parseMaxStreams(data, n, typ)
	case typ == FrameTypeDataBlocked:
		return p.parseDataBlocked(data, n)
	case typ == FrameTypeStreamDataBlocked:
		return p.parseStreamDataBlocked(data, n)
	case typ == FrameTypeStreamsBlockedBidi || typ == FrameTypeStreamsBlockedUni:
		return p.parseStreamsBlocked(data, n, typ)
	case typ == FrameTypeNewConnectionID:
		return p.parseNewConnectionID(data, n)
	case typ == FrameTypeRetireConnectionID:
		return p.parseRetireConnectionID(data, n)
	case typ == FrameTypePathChallenge:
		return p.parsePathChallenge(data, n)
	case typ == FrameTypePathResponse:
		return p.parsePathResponse(data, n)
	case typ == FrameTypeConnectionClose || typ == FrameTypeConnectionCloseApp:
		return p.parseConnectionClose(data, n, typ == FrameTypeConnectionCloseApp)
	case typ == FrameTypeHandshakeDone:
		return n, &HandshakeDoneFrame{}, nil
	default:
		return 0, nil, qerr.NewTransportError(qerr.FrameEncodingError, "unhandled frame type")
	}
}

// frameAllowedAt implements the per-level table in spec §4.4.
func frameAllowedAt(typ FrameType, encLevel protocol.EncryptionLevel) bool {
	switch encLevel {
	case protocol.EncryptionInitial, protocol.EncryptionHandshake:
		switch typ {
		case FrameTypePadding, FrameTypePing, FrameTypeAck, FrameTypeAckECN, FrameTypeCrypto, FrameTypeConnectionClose:
			return true
		default:
			return false
		}
	case protocol.Encryption0RTT:
		switch typ {
		case FrameTypeAck, FrameTypeAckECN, FrameTypeConnectionClose, FrameTypeConnectionCloseApp:
			return false
		default:
			return true
		}
	case protocol.Encryption1RTT:
		return true
	default:
		return false
	}
}

func encErr(reason string) error { return qerr.NewTransportError(qerr.FrameEncodingError, reason) }

func (p *FrameParser) parseAck(data []byte, pos int, ecn bool) (int, Frame, error) {
	largest, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("ack: largest")
	}
	pos += n
	delay, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("ack: delay")
	}
	pos += n
	count, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("ack: range count")
	}
	pos += n

	f := &AckFrame{DelayTime: protocol.ByteCount(delay), ECN: ecn}
	largestPN := protocol.PacketNumber(largest)
	firstLen, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("ack: first range")
	}
	pos += n
	smallest := largestPN - protocol.PacketNumber(firstLen)
	f.AckRanges = append(f.AckRanges, AckRange{Smallest: smallest, Largest: largestPN})

	for i := uint64(0); i < count; i++ {
		gap, n, err := ReadVarInt(data[pos:])
		if err != nil {
			return 0, nil, encErr("ack: gap")
		}
		pos += n
		rangeLen, n, err := ReadVarInt(data[pos:])
		if err != nil {
			return 0, nil, encErr("ack: range len")
		}
		pos += n
		largestPN = smallest - protocol.PacketNumber(gap) - 2
		smallest = largestPN - protocol.PacketNumber(rangeLen)
		f.AckRanges = append(f.AckRanges, AckRange{Smallest: smallest, Largest: largestPN})
	}

	if ecn {
		ect0, n, err := ReadVarInt(data[pos:])
		if err != nil {
			return 0, nil, encErr("ack: ect0")
		}
		pos += n
		ect1, n, err := ReadVarInt(data[pos:])
		if err != nil {
			return 0, nil, encErr("ack: ect1")
		}
		pos += n
		ce, n, err := ReadVarInt(data[pos:])
		if err != nil {
			return 0, nil, encErr("ack: ce")
		}
		pos += n
		f.ECT0, f.ECT1, f.ECNCE = protocol.ByteCount(ect0), protocol.ByteCount(ect1), protocol.ByteCount(ce)
	}
	return pos, f, nil
}

func (p *FrameParser) parseCrypto(data []byte, pos int) (int, Frame, error) {
	offset, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("crypto: offset")
	}
	pos += n
	length, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("crypto: length")
	}
	pos += n
	if len(data) < pos+int(length) {
		return 0, nil, encErr("crypto: truncated")
	}
	d := append([]byte(nil), data[pos:pos+int(length)]...)
	return pos + int(length), &CryptoFrame{Offset: protocol.ByteCount(offset), Data: d}, nil
}

func (p *FrameParser) parseNewToken(data []byte, pos int) (int, Frame, error) {
	length, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("new_token: length")
	}
	pos += n
	if len(data) < pos+int(length) {
		return 0, nil, encErr("new_token: truncated")
	}
	tok := append([]byte(nil), data[pos:pos+int(length)]...)
	return pos + int(length), &NewTokenFrame{Token: tok}, nil
}

func (p *FrameParser) parseStream(data []byte, pos int, typ FrameType) (int, Frame, error) {
	hasOffset := typ&0x4 != 0
	hasLength := typ&0x2 != 0
	fin := typ&0x1 != 0

	sid, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("stream: id")
	}
	pos += n

	var offset uint64
	if hasOffset {
		offset, n, err = ReadVarInt(data[pos:])
		if err != nil {
			return 0, nil, encErr("stream: offset")
		}
		pos += n
	}

	var length uint64
	if hasLength {
		length, n, err = ReadVarInt(data[pos:])
		if err != nil {
			return 0, nil, encErr("stream: length")
		}
		pos += n
	} else {
		length = uint64(len(data) - pos)
	}
	if len(data) < pos+int(length) {
		return 0, nil, encErr("stream: truncated")
	}
	d := append([]byte(nil), data[pos:pos+int(length)]...)
	return pos + int(length), &StreamFrame{
		StreamID: protocol.StreamID(sid),
		Offset:   protocol.ByteCount(offset),
		Data:     d,
		Fin:      fin,
	}, nil
}

func (p *FrameParser) parseResetStream(data []byte, pos int) (int, Frame, error) {
	sid, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("reset_stream: id")
	}
	pos += n
	code, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("reset_stream: code")
	}
	pos += n
	size, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("reset_stream: final size")
	}
	pos += n
	return pos, &ResetStreamFrame{StreamID: protocol.StreamID(sid), ErrorCode: code, FinalSize: protocol.ByteCount(size)}, nil
}

func (p *FrameParser) parseStopSending(data []byte, pos int) (int, Frame, error) {
	sid, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("stop_sending: id")
	}
	pos += n
	code, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("stop_sending: code")
	}
	pos += n
	return pos, &StopSendingFrame{StreamID: protocol.StreamID(sid), ErrorCode: code}, nil
}

func (p *FrameParser) parseMaxData(data []byte, pos int) (int, Frame, error) {
	v, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("max_data")
	}
	return pos + n, &MaxDataFrame{MaximumData: protocol.ByteCount(v)}, nil
}

func (p *FrameParser) parseMaxStreamData(data []byte, pos int) (int, Frame, error) {
	sid, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("max_stream_data: id")
	}
	pos += n
	v, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("max_stream_data: value")
	}
	return pos + n, &MaxStreamDataFrame{StreamID: protocol.StreamID(sid), MaximumStreamData: protocol.ByteCount(v)}, nil
}

func (p *FrameParser) parseMaxStreams(data []byte, pos int, typ FrameType) (int, Frame, error) {
	v, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("max_streams")
	}
	st := protocol.StreamTypeBidi
	if typ == FrameTypeMaxStreamsUni {
		st = protocol.StreamTypeUni
	}
	return pos + n, &MaxStreamsFrame{Type: st, MaxStreamNum: int64(v)}, nil
}

func (p *FrameParser) parseDataBlocked(data []byte, pos int) (int, Frame, error) {
	v, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("data_blocked")
	}
	return pos + n, &DataBlockedFrame{MaximumData: protocol.ByteCount(v)}, nil
}

func (p *FrameParser) parseStreamDataBlocked(data []byte, pos int) (int, Frame, error) {
	sid, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("stream_data_blocked: id")
	}
	pos += n
	v, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("stream_data_blocked: value")
	}
	return pos + n, &StreamDataBlockedFrame{StreamID: protocol.StreamID(sid), MaximumStreamData: protocol.ByteCount(v)}, nil
}

func (p *FrameParser) parseStreamsBlocked(data []byte, pos int, typ FrameType) (int, Frame, error) {
	v, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("streams_blocked")
	}
	st := protocol.StreamTypeBidi
	if typ == FrameTypeStreamsBlockedUni {
		st = protocol.StreamTypeUni
	}
	return pos + n, &StreamsBlockedFrame{Type: st, StreamLimit: int64(v)}, nil
}

func (p *FrameParser) parseNewConnectionID(data []byte, pos int) (int, Frame, error) {
	seq, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("new_connection_id: seq")
	}
	pos += n
	retire, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("new_connection_id: retire_prior_to")
	}
	pos += n
	if len(data) < pos+1 {
		return 0, nil, encErr("new_connection_id: cid len")
	}
	cidLen := int(data[pos])
	pos++
	if len(data) < pos+cidLen+16 {
		return 0, nil, encErr("new_connection_id: truncated")
	}
	cid, err := protocol.ParseConnectionID(data[pos : pos+cidLen])
	if err != nil {
		return 0, nil, err
	}
	pos += cidLen
	var tok protocol.StatelessResetToken
	copy(tok[:], data[pos:pos+16])
	pos += 16
	return pos, &NewConnectionIDFrame{SequenceNumber: seq, RetirePriorTo: retire, ConnectionID: cid, StatelessResetToken: tok}, nil
}

func (p *FrameParser) parseRetireConnectionID(data []byte, pos int) (int, Frame, error) {
	seq, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("retire_connection_id")
	}
	return pos + n, &RetireConnectionIDFrame{SequenceNumber: seq}, nil
}

func (p *FrameParser) parsePathChallenge(data []byte, pos int) (int, Frame, error) {
	if len(data) < pos+8 {
		return 0, nil, encErr("path_challenge: truncated")
	}
	f := &PathChallengeFrame{}
	copy(f.Data[:], data[pos:pos+8])
	return pos + 8, f, nil
}

func (p *FrameParser) parsePathResponse(data []byte, pos int) (int, Frame, error) {
	if len(data) < pos+8 {
		return 0, nil, encErr("path_response: truncated")
	}
	f := &PathResponseFrame{}
	copy(f.Data[:], data[pos:pos+8])
	return pos + 8, f, nil
}

func (p *FrameParser) parseConnectionClose(data []byte, pos int, isApp bool) (int, Frame, error) {
	code, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("connection_close: code")
	}
	pos += n
	var ft uint64
	if !isApp {
		ft, n, err = ReadVarInt(data[pos:])
		if err != nil {
			return 0, nil, encErr("connection_close: frame type")
		}
		pos += n
	}
	length, n, err := ReadVarInt(data[pos:])
	if err != nil {
		return 0, nil, encErr("connection_close: reason length")
	}
	pos += n
	if len(data) < pos+int(length) {
		return 0, nil, encErr("connection_close: truncated")
	}
	reason := string(data[pos : pos+int(length)])
	return pos + int(length), &ConnectionCloseFrame{IsApplicationError: isApp, ErrorCode: code, FrameType: ft, ReasonPhrase: reason}, nil
}
