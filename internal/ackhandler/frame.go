// Package ackhandler tracks sent and received packets per encryption
// level: packet-number generation, ACK-frame construction, duplicate
// detection and loss-timeout scheduling. The loss-detection algorithm
// and ack tracker themselves are out-of-scope external collaborators
// per spec §1; this package is the concrete handler the connection core
// calls into, grounded on the teacher's ackhandler.SentPacketHandler /
// ackhandler.ReceivedPacketHandler usage and on
// AeonDave-mp-quic-go__sent_packet_handler.go's packetNumberSpace shape.
package ackhandler

import (
	"github.com/nitishtalasu/msquic/internal/wire"
)

// FrameHandler receives the fate of a frame once its containing packet
// is acked or declared lost (spec §4.1's retransmission contract).
type FrameHandler interface {
	OnAcked(f wire.Frame)
	OnLost(f wire.Frame)
}

// Frame pairs a control frame with the handler that should learn its
// fate.
type Frame struct {
	Frame   wire.Frame
	Handler FrameHandler
}

// StreamFrame pairs a STREAM frame with the handler that should learn
// its fate (kept distinct from Frame because the stream set, not the
// generic retransmission queue, owns STREAM frame retransmission).
type StreamFrame struct {
	Frame   *wire.StreamFrame
	Handler FrameHandler
}
