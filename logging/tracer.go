// Package logging defines the event-tracing contract the connection
// core calls into. Tracing itself is an out-of-scope external
// collaborator (spec §1); this package only records the contract and a
// no-op default, the same role the teacher gives its logging.ConnectionTracer
// parameter.
package logging

import (
	"time"

	"github.com/nitishtalasu/msquic/internal/protocol"
)

// ConnectionTracer receives lifecycle and wire-level events for a single
// connection. All methods must return quickly; tracing must never block
// the drain loop (spec §5 "Suspension/blocking").
type ConnectionTracer struct {
	StartedConnection    func(local, remote string, srcConnID, destConnID protocol.ConnectionID)
	NegotiatedVersion    func(chosen protocol.Version)
	ClosedConnection     func(err error)
	SentPacket           func(pn protocol.PacketNumber, size protocol.ByteCount, encLevel protocol.EncryptionLevel)
	ReceivedPacket       func(pn protocol.PacketNumber, size protocol.ByteCount, encLevel protocol.EncryptionLevel)
	DroppedPacket        func(encLevel protocol.EncryptionLevel, pn protocol.PacketNumber, reason string)
	UpdatedKeyPhase      func(encLevel protocol.EncryptionLevel, kp protocol.KeyPhaseBit, generation uint64)
	UpdatedRTT           func(smoothed, rttVar, min time.Duration)
	UpdatedCongestionState func(state string)
}

// NewNopTracer returns a ConnectionTracer with every hook set to a no-op,
// safe to call unconditionally from the core without nil checks.
func NewNopTracer() *ConnectionTracer {
	return &ConnectionTracer{
		StartedConnection:      func(string, string, protocol.ConnectionID, protocol.ConnectionID) {},
		NegotiatedVersion:      func(protocol.Version) {},
		ClosedConnection:       func(error) {},
		SentPacket:             func(protocol.PacketNumber, protocol.ByteCount, protocol.EncryptionLevel) {},
		ReceivedPacket:         func(protocol.PacketNumber, protocol.ByteCount, protocol.EncryptionLevel) {},
		DroppedPacket:          func(protocol.EncryptionLevel, protocol.PacketNumber, string) {},
		UpdatedKeyPhase:        func(protocol.EncryptionLevel, protocol.KeyPhaseBit, uint64) {},
		UpdatedRTT:             func(time.Duration, time.Duration, time.Duration) {},
		UpdatedCongestionState: func(string) {},
	}
}
