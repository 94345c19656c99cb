// Package protocol defines the primitive wire-level types shared by the
// connection core, the frame/header codec and the handshake, ack and flow
// control collaborators: connection IDs, packet numbers, encryption
// levels and byte counts.
package protocol

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// Version is the 32-bit QUIC version number. This module supports exactly
// one version; no version negotiation is performed (spec §1 Non-goals).
type Version uint32

const Version1 Version = 0x00000001

// Perspective distinguishes the two roles a Connection can play.
type Perspective int

const (
	PerspectiveClient Perspective = iota
	PerspectiveServer
)

func (p Perspective) String() string {
	if p == PerspectiveClient {
		return "client"
	}
	return "server"
}

// Opposite returns the other perspective.
func (p Perspective) Opposite() Perspective {
	if p == PerspectiveClient {
		return PerspectiveServer
	}
	return PerspectiveClient
}

// ByteCount counts bytes of application or flow-controlled data.
type ByteCount int64

const MaxByteCount ByteCount = 1<<62 - 1

// PacketNumber identifies a packet within a single packet number space.
type PacketNumber int64

const InvalidPacketNumber PacketNumber = -1

// PacketNumberLen is the number of bytes (1-4) used to encode a packet
// number on the wire.
type PacketNumberLen uint8

const (
	PacketNumberLen1 PacketNumberLen = 1
	PacketNumberLen2 PacketNumberLen = 2
	PacketNumberLen3 PacketNumberLen = 3
	PacketNumberLen4 PacketNumberLen = 4
)

// EncryptionLevel indexes the four packet spaces a Connection may hold
// (spec §3 Packets[4]).
type EncryptionLevel int

const (
	EncryptionInitial EncryptionLevel = iota
	Encryption0RTT
	EncryptionHandshake
	Encryption1RTT
	NumEncryptionLevels
)

func (e EncryptionLevel) String() string {
	switch e {
	case EncryptionInitial:
		return "Initial"
	case Encryption0RTT:
		return "0-RTT"
	case EncryptionHandshake:
		return "Handshake"
	case Encryption1RTT:
		return "1-RTT"
	default:
		return "Unknown"
	}
}

// KeyPhaseBit is the single-bit key phase carried in short headers.
type KeyPhaseBit uint8

const (
	KeyPhaseZero KeyPhaseBit = iota
	KeyPhaseOne
)

func (k KeyPhaseBit) Other() KeyPhaseBit {
	if k == KeyPhaseZero {
		return KeyPhaseOne
	}
	return KeyPhaseZero
}

// PacketType enumerates the QUIC long-header packet types.
type PacketType uint8

const (
	PacketTypeInitial PacketType = iota
	PacketType0RTT
	PacketTypeHandshake
	PacketTypeRetry
	PacketTypeVersionNegotiation
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeInitial:
		return "Initial"
	case PacketType0RTT:
		return "0-RTT"
	case PacketTypeHandshake:
		return "Handshake"
	case PacketTypeRetry:
		return "Retry"
	case PacketTypeVersionNegotiation:
		return "VersionNegotiation"
	default:
		return "Unknown"
	}
}

// EncryptionLevel derives the packet space a given long-header packet
// type belongs to (spec §4.2 "Key availability").
func (t PacketType) EncryptionLevel() EncryptionLevel {
	switch t {
	case PacketTypeInitial:
		return EncryptionInitial
	case PacketType0RTT:
		return Encryption0RTT
	case PacketTypeHandshake:
		return EncryptionHandshake
	default:
		return EncryptionInitial
	}
}

// ECN carries explicit congestion notification markings end to end from
// the datapath through the receive pipeline into the ack tracker.
type ECN uint8

const (
	ECNUnsupported ECN = iota
	ECNNon
	ECT1
	ECT0
	ECNCE
)

// ConnectionIDLength is the fixed length of CIDs we offer to the peer
// (spec §6 "Wire protocol").
const ConnectionIDLength = 8

// MaxConnIDLen is the maximum CID length permitted by the wire format.
const MaxConnIDLen = 20

// ConnectionID is an immutable byte string routing packets to a
// connection independent of the 4-tuple.
type ConnectionID struct {
	b [MaxConnIDLen]byte
	l uint8
}

func ParseConnectionID(b []byte) (ConnectionID, error) {
	if len(b) > MaxConnIDLen {
		return ConnectionID{}, fmt.Errorf("protocol: connection ID too long: %d", len(b))
	}
	var c ConnectionID
	copy(c.b[:], b)
	c.l = uint8(len(b))
	return c, nil
}

// GenerateConnectionID returns a random CID of the given length, used
// both for locally offered CIDs and for test/demo destination CIDs.
func GenerateConnectionID(length int) (ConnectionID, error) {
	if length < 0 || length > MaxConnIDLen {
		return ConnectionID{}, errors.New("protocol: invalid connection ID length")
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return ConnectionID{}, err
	}
	return ParseConnectionID(b)
}

func (c ConnectionID) Bytes() []byte { return append([]byte(nil), c.b[:c.l]...) }
func (c ConnectionID) Len() int      { return int(c.l) }

func (c ConnectionID) Equal(o ConnectionID) bool {
	return c.l == o.l && c.b == o.b
}

func (c ConnectionID) String() string {
	return fmt.Sprintf("%x", c.b[:c.l])
}

// StreamID identifies one stream within a connection. The low two bits
// encode direction and initiator per the QUIC stream ID convention.
type StreamID int64

func (s StreamID) InitiatedBy() Perspective {
	if s&0x1 == 0 {
		return PerspectiveClient
	}
	return PerspectiveServer
}

type StreamType int

const (
	StreamTypeBidi StreamType = iota
	StreamTypeUni
)

func (s StreamID) Type() StreamType {
	if s&0x2 == 0 {
		return StreamTypeBidi
	}
	return StreamTypeUni
}

// StatelessResetToken is the 16-byte tag enabling out-of-state peers to
// terminate a connection safely (spec GLOSSARY).
type StatelessResetToken [16]byte

// Default policy constants. Of these, only the idle timeout can be
// overridden through config.Config.
const (
	DefaultIdleTimeoutMs        = 30_000
	DefaultMaxAckDelayMs        = 25
	DefaultAckDelayExponent     = 3
	DefaultActiveCidLimit       = 4
	DefaultInitialMaxData       = ByteCount(768 * 1024)
	DefaultInitialMaxStreamData = ByteCount(512 * 1024)
	DefaultMaxReceiveWindow     = ByteCount(6 * 1024 * 1024)
	// DefaultMaxReceiveConnectionFlowControlWindow is an alias kept for
	// call-site compatibility with the connection core's flow controller
	// construction.
	DefaultMaxReceiveConnectionFlowControlWindow = DefaultMaxReceiveWindow
	DefaultMaxIncomingStreams   = 100
	DefaultMaxIncomingUniStreams = 100
	MaxMaxStreams               = 1 << 60
	InitialPacketSize           = 1252
	MaxCidCollisionRetry        = 8
	MaxDeferredDatagrams        = 32
	MaxReceiveQueueCount        = 256
	MaxOperationsPerDrain       = 16
	MaxCryptoBatch              = 16
)
