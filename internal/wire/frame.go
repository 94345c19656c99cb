package wire

import (
	"github.com/nitishtalasu/msquic/internal/protocol"
)

// Frame is the common interface implemented by every QUIC frame type
// (spec §4.4). Length is used by the framer to pack frames into a
// packet without exceeding the available size.
type Frame interface {
	Append(b []byte, version protocol.Version) ([]byte, error)
	Length(version protocol.Version) protocol.ByteCount
}

// FrameType is the raw wire type byte/varint identifying a frame. Per
// spec §4.4, 0x1E is the maximum defined type; anything past it is an
// unknown frame and must be rejected with FRAME_ENCODING_ERROR.
type FrameType uint64

const (
	FrameTypePadding             FrameType = 0x00
	FrameTypePing                FrameType = 0x01
	FrameTypeAck                 FrameType = 0x02
	FrameTypeAckECN              FrameType = 0x03
	FrameTypeResetStream         FrameType = 0x04
	FrameTypeStopSending         FrameType = 0x05
	FrameTypeCrypto              FrameType = 0x06
	FrameTypeNewToken            FrameType = 0x07
	FrameTypeStreamMin           FrameType = 0x08
	FrameTypeStreamMax           FrameType = 0x0f
	FrameTypeMaxData             FrameType = 0x10
	FrameTypeMaxStreamData       FrameType = 0x11
	FrameTypeMaxStreamsBidi      FrameType = 0x12
	FrameTypeMaxStreamsUni       FrameType = 0x13
	FrameTypeDataBlocked         FrameType = 0x14
	FrameTypeStreamDataBlocked   FrameType = 0x15
	FrameTypeStreamsBlockedBidi  FrameType = 0x16
	FrameTypeStreamsBlockedUni   FrameType = 0x17
	FrameTypeNewConnectionID     FrameType = 0x18
	FrameTypeRetireConnectionID  FrameType = 0x19
	FrameTypePathChallenge       FrameType = 0x1a
	FrameTypePathResponse        FrameType = 0x1b
	FrameTypeConnectionClose     FrameType = 0x1c
	FrameTypeConnectionCloseApp  FrameType = 0x1d
	FrameTypeHandshakeDone       FrameType = 0x1e
	FrameTypeMax                 FrameType = 0x1e
)

// PaddingFrame consumes a run of zero bytes. A single instance on the
// wire represents an arbitrary-length run; the parser collapses
// consecutive PADDING bytes into one logical frame.
type PaddingFrame struct{ Length_ int }

func (f *PaddingFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	for i := 0; i < f.Length_; i++ {
		b = append(b, 0)
	}
	return b, nil
}
func (f *PaddingFrame) Length(protocol.Version) protocol.ByteCount { return protocol.ByteCount(f.Length_) }

// PingFrame carries no data; it makes the packet ack-eliciting.
type PingFrame struct{}

func (f *PingFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	return AppendVarInt(b, uint64(FrameTypePing)), nil
}
func (f *PingFrame) Length(protocol.Version) protocol.ByteCount { return 1 }

// AckRange is a contiguous inclusive range of acknowledged packet numbers.
type AckRange struct {
	Smallest, Largest protocol.PacketNumber
}

// AckFrame acknowledges the packet numbers described by AckRanges.
type AckFrame struct {
	AckRanges []AckRange
	DelayTime protocol.ByteCount // microsecond ack delay, pre-shift; kept simple as a raw count
	ECT0, ECT1, ECNCE protocol.ByteCount
	ECN bool
}

func (f *AckFrame) LargestAcked() protocol.PacketNumber {
	if len(f.AckRanges) == 0 {
		return protocol.InvalidPacketNumber
	}
	return f.AckRanges[0].Largest
}

func (f *AckFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	typ := FrameTypeAck
	if f.ECN {
		typ = FrameTypeAckECN
	}
	b = AppendVarInt(b, uint64(typ))
	b = AppendVarInt(b, uint64(f.LargestAcked()))
	b = AppendVarInt(b, uint64(f.DelayTime))
	b = AppendVarInt(b, uint64(len(f.AckRanges)-1))
	for i, r := range f.AckRanges {
		blockLen := uint64(r.Largest - r.Smallest)
		if i == 0 {
			b = AppendVarInt(b, blockLen)
			continue
		}
		prev := f.AckRanges[i-1]
		gap := uint64(prev.Smallest-r.Largest) - 2
		b = AppendVarInt(b, gap)
		b = AppendVarInt(b, blockLen)
	}
	if f.ECN {
		b = AppendVarInt(b, uint64(f.ECT0))
		b = AppendVarInt(b, uint64(f.ECT1))
		b = AppendVarInt(b, uint64(f.ECNCE))
	}
	return b, nil
}

func (f *AckFrame) Length(protocol.Version) protocol.ByteCount {
	l := 1 + VarIntLen(uint64(f.LargestAcked())) + VarIntLen(uint64(f.DelayTime)) + VarIntLen(uint64(len(f.AckRanges)-1))
	for i, r := range f.AckRanges {
		if i == 0 {
			l += VarIntLen(uint64(r.Largest - r.Smallest))
			continue
		}
		prev := f.AckRanges[i-1]
		l += VarIntLen(uint64(prev.Smallest-r.Largest) - 2)
		l += VarIntLen(uint64(r.Largest - r.Smallest))
	}
	return protocol.ByteCount(l)
}

// CryptoFrame carries ordered handshake bytes to the TLS engine.
type CryptoFrame struct {
	Offset protocol.ByteCount
	Data   []byte
}

func (f *CryptoFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = AppendVarInt(b, uint64(FrameTypeCrypto))
	b = AppendVarInt(b, uint64(f.Offset))
	b = AppendVarInt(b, uint64(len(f.Data)))
	return append(b, f.Data...), nil
}
func (f *CryptoFrame) Length(protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + VarIntLen(uint64(f.Offset)) + VarIntLen(uint64(len(f.Data))) + len(f.Data))
}

// NewTokenFrame is accepted and reserved for future use (spec §4.4).
type NewTokenFrame struct{ Token []byte }

func (f *NewTokenFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = AppendVarInt(b, uint64(FrameTypeNewToken))
	b = AppendVarInt(b, uint64(len(f.Token)))
	return append(b, f.Token...), nil
}
func (f *NewTokenFrame) Length(protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + VarIntLen(uint64(len(f.Token))) + len(f.Token))
}

// ResetStreamFrame abruptly terminates the sending part of a stream.
type ResetStreamFrame struct {
	StreamID  protocol.StreamID
	ErrorCode uint64
	FinalSize protocol.ByteCount
}

func (f *ResetStreamFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = AppendVarInt(b, uint64(FrameTypeResetStream))
	b = AppendVarInt(b, uint64(f.StreamID))
	b = AppendVarInt(b, f.ErrorCode)
	b = AppendVarInt(b, uint64(f.FinalSize))
	return b, nil
}
func (f *ResetStreamFrame) Length(protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + VarIntLen(uint64(f.StreamID)) + VarIntLen(f.ErrorCode) + VarIntLen(uint64(f.FinalSize)))
}

// StopSendingFrame requests that the peer abandon its send side.
type StopSendingFrame struct {
	StreamID  protocol.StreamID
	ErrorCode uint64
}

func (f *StopSendingFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = AppendVarInt(b, uint64(FrameTypeStopSending))
	b = AppendVarInt(b, uint64(f.StreamID))
	b = AppendVarInt(b, f.ErrorCode)
	return b, nil
}
func (f *StopSendingFrame) Length(protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + VarIntLen(uint64(f.StreamID)) + VarIntLen(f.ErrorCode))
}

// StreamFrame carries application data for one stream.
type StreamFrame struct {
	StreamID protocol.StreamID
	Offset   protocol.ByteCount
	Data     []byte
	Fin      bool
}

func (f *StreamFrame) DataLen() protocol.ByteCount { return protocol.ByteCount(len(f.Data)) }

func (f *StreamFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	typ := uint64(FrameTypeStreamMin) | 0x2 /* has length */ | 0x4 /* has offset */
	if f.Fin {
		typ |= 0x1
	}
	b = AppendVarInt(b, typ)
	b = AppendVarInt(b, uint64(f.StreamID))
	b = AppendVarInt(b, uint64(f.Offset))
	b = AppendVarInt(b, uint64(len(f.Data)))
	return append(b, f.Data...), nil
}
func (f *StreamFrame) Length(protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + VarIntLen(uint64(f.StreamID)) + VarIntLen(uint64(f.Offset)) + VarIntLen(uint64(len(f.Data))) + len(f.Data))
}

// MaxDataFrame raises the connection-level flow-control limit.
type MaxDataFrame struct{ MaximumData protocol.ByteCount }

func (f *MaxDataFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = AppendVarInt(b, uint64(FrameTypeMaxData))
	return AppendVarInt(b, uint64(f.MaximumData)), nil
}
func (f *MaxDataFrame) Length(protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + VarIntLen(uint64(f.MaximumData)))
}

// MaxStreamDataFrame raises the per-stream flow-control limit.
type MaxStreamDataFrame struct {
	StreamID          protocol.StreamID
	MaximumStreamData protocol.ByteCount
}

func (f *MaxStreamDataFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = AppendVarInt(b, uint64(FrameTypeMaxStreamData))
	b = AppendVarInt(b, uint64(f.StreamID))
	return AppendVarInt(b, uint64(f.MaximumStreamData)), nil
}
func (f *MaxStreamDataFrame) Length(protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + VarIntLen(uint64(f.StreamID)) + VarIntLen(uint64(f.MaximumStreamData)))
}

// MaxStreamsFrame raises the stream-count limit for one direction.
type MaxStreamsFrame struct {
	Type         protocol.StreamType
	MaxStreamNum int64
}

func (f *MaxStreamsFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	typ := FrameTypeMaxStreamsBidi
	if f.Type == protocol.StreamTypeUni {
		typ = FrameTypeMaxStreamsUni
	}
	b = AppendVarInt(b, uint64(typ))
	return AppendVarInt(b, uint64(f.MaxStreamNum)), nil
}
func (f *MaxStreamsFrame) Length(protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + VarIntLen(uint64(f.MaxStreamNum)))
}

// DataBlockedFrame tells the peer our connection-level send is blocked.
type DataBlockedFrame struct{ MaximumData protocol.ByteCount }

func (f *DataBlockedFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = AppendVarInt(b, uint64(FrameTypeDataBlocked))
	return AppendVarInt(b, uint64(f.MaximumData)), nil
}
func (f *DataBlockedFrame) Length(protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + VarIntLen(uint64(f.MaximumData)))
}

// StreamDataBlockedFrame tells the peer our per-stream send is blocked.
type StreamDataBlockedFrame struct {
	StreamID          protocol.StreamID
	MaximumStreamData protocol.ByteCount
}

func (f *StreamDataBlockedFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = AppendVarInt(b, uint64(FrameTypeStreamDataBlocked))
	b = AppendVarInt(b, uint64(f.StreamID))
	return AppendVarInt(b, uint64(f.MaximumStreamData)), nil
}
func (f *StreamDataBlockedFrame) Length(protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + VarIntLen(uint64(f.StreamID)) + VarIntLen(uint64(f.MaximumStreamData)))
}

// StreamsBlockedFrame indicates the peer needs more streams.
type StreamsBlockedFrame struct {
	Type           protocol.StreamType
	StreamLimit    int64
}

func (f *StreamsBlockedFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	typ := FrameTypeStreamsBlockedBidi
	if f.Type == protocol.StreamTypeUni {
		typ = FrameTypeStreamsBlockedUni
	}
	b = AppendVarInt(b, uint64(typ))
	return AppendVarInt(b, uint64(f.StreamLimit)), nil
}
func (f *StreamsBlockedFrame) Length(protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + VarIntLen(uint64(f.StreamLimit)))
}

// NewConnectionIDFrame offers the peer a new CID to route to us.
type NewConnectionIDFrame struct {
	SequenceNumber      uint64
	RetirePriorTo       uint64
	ConnectionID        protocol.ConnectionID
	StatelessResetToken protocol.StatelessResetToken
}

func (f *NewConnectionIDFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = AppendVarInt(b, uint64(FrameTypeNewConnectionID))
	b = AppendVarInt(b, f.SequenceNumber)
	b = AppendVarInt(b, f.RetirePriorTo)
	b = append(b, byte(f.ConnectionID.Len()))
	b = append(b, f.ConnectionID.Bytes()...)
	return append(b, f.StatelessResetToken[:]...), nil
}
func (f *NewConnectionIDFrame) Length(protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + VarIntLen(f.SequenceNumber) + VarIntLen(f.RetirePriorTo) + 1 + f.ConnectionID.Len() + 16)
}

// RetireConnectionIDFrame tells the peer to stop using a CID we issued.
type RetireConnectionIDFrame struct{ SequenceNumber uint64 }

func (f *RetireConnectionIDFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = AppendVarInt(b, uint64(FrameTypeRetireConnectionID))
	return AppendVarInt(b, f.SequenceNumber), nil
}
func (f *RetireConnectionIDFrame) Length(protocol.Version) protocol.ByteCount {
	return protocol.ByteCount(1 + VarIntLen(f.SequenceNumber))
}

// PathChallengeFrame probes path validity; the peer must echo the data
// in a PATH_RESPONSE.
type PathChallengeFrame struct{ Data [8]byte }

func (f *PathChallengeFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = AppendVarInt(b, uint64(FrameTypePathChallenge))
	return append(b, f.Data[:]...), nil
}
func (f *PathChallengeFrame) Length(protocol.Version) protocol.ByteCount { return 9 }

// PathResponseFrame echoes a PATH_CHALLENGE's data.
type PathResponseFrame struct{ Data [8]byte }

func (f *PathResponseFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	b = AppendVarInt(b, uint64(FrameTypePathResponse))
	return append(b, f.Data[:]...), nil
}
func (f *PathResponseFrame) Length(protocol.Version) protocol.ByteCount { return 9 }

// ConnectionCloseFrame carries either a transport or application error
// (IsApplicationError distinguishes the two wire types, spec §4.4).
type ConnectionCloseFrame struct {
	IsApplicationError bool
	ErrorCode          uint64
	FrameType          uint64
	ReasonPhrase       string
}

func (f *ConnectionCloseFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	typ := FrameTypeConnectionClose
	if f.IsApplicationError {
		typ = FrameTypeConnectionCloseApp
	}
	b = AppendVarInt(b, uint64(typ))
	b = AppendVarInt(b, f.ErrorCode)
	if !f.IsApplicationError {
		b = AppendVarInt(b, f.FrameType)
	}
	b = AppendVarInt(b, uint64(len(f.ReasonPhrase)))
	return append(b, []byte(f.ReasonPhrase)...), nil
}
func (f *ConnectionCloseFrame) Length(protocol.Version) protocol.ByteCount {
	l := 1 + VarIntLen(f.ErrorCode) + VarIntLen(uint64(len(f.ReasonPhrase))) + len(f.ReasonPhrase)
	if !f.IsApplicationError {
		l += VarIntLen(f.FrameType)
	}
	return protocol.ByteCount(l)
}

// HandshakeDoneFrame is sent once by the server to confirm the handshake.
type HandshakeDoneFrame struct{}

func (f *HandshakeDoneFrame) Append(b []byte, _ protocol.Version) ([]byte, error) {
	return AppendVarInt(b, uint64(FrameTypeHandshakeDone)), nil
}
func (f *HandshakeDoneFrame) Length(protocol.Version) protocol.ByteCount { return 1 }

// IsAckEliciting reports whether receiving f obliges the receiver to
// eventually send an ACK (spec §4.4, §8 "any ack-eliciting frame causes
// the packet to appear in the ack tracker").
func IsAckEliciting(f Frame) bool {
	switch f.(type) {
	case *AckFrame, *PaddingFrame, *ConnectionCloseFrame:
		return false
	default:
		return true
	}
}
