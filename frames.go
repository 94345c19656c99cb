package quicore

import (
	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/qerr"
	"github.com/nitishtalasu/msquic/internal/wire"
)

// handleFrame dispatches one parsed frame to its owning collaborator.
// Unlike the teacher's permissive "ignore unknown frames" default, every
// frame type recognized by the parser gets real handling here; anything
// the parser itself rejects never reaches this point (spec §4.4's
// allowed-frames-per-level table lives in wire.frameAllowedAt).
func (c *Connection) handleFrame(f wire.Frame, level protocol.EncryptionLevel) {
	if wire.IsAckEliciting(f) {
		// recorded via ReceivedPacket before this loop runs; nothing
		// extra to do here beyond letting the per-frame handlers below
		// act on frame content.
	}

	switch frame := f.(type) {
	case *wire.PaddingFrame:
		// no-op
	case *wire.PingFrame:
		// no-op; its only effect is making the packet ack-eliciting
	case *wire.AckFrame:
		c.handleAckFrame(frame, level)
	case *wire.CryptoFrame:
		c.handleCryptoFrame(frame, level)
	case *wire.NewTokenFrame:
		// token caching/0-RTT resumption is out of scope; accept and drop
	case *wire.StreamFrame:
		if err := c.streamsMap.HandleStreamFrame(frame, c.lastPacketReceivedTime); err != nil {
			c.closeLocal(err)
		}
	case *wire.ResetStreamFrame:
		if err := c.streamsMap.HandleResetStreamFrame(frame, c.lastPacketReceivedTime); err != nil {
			c.closeLocal(err)
		}
	case *wire.StopSendingFrame:
		if err := c.streamsMap.HandleStopSendingFrame(frame); err != nil {
			c.closeLocal(err)
		}
	case *wire.MaxDataFrame:
		c.connFlowController.UpdateSendWindow(frame.MaximumData)
	case *wire.MaxStreamDataFrame:
		if err := c.streamsMap.HandleMaxStreamDataFrame(frame); err != nil {
			c.closeLocal(err)
		}
	case *wire.MaxStreamsFrame:
		c.streamsMap.HandleMaxStreamsFrame(frame)
	case *wire.DataBlockedFrame:
		// informational: the peer is blocked on our connection-level
		// window. Nothing to act on until an application raises it.
	case *wire.StreamDataBlockedFrame:
		// informational, same as DataBlockedFrame but per-stream.
	case *wire.StreamsBlockedFrame:
		// informational: only matters if we choose to raise our limit.
	case *wire.NewConnectionIDFrame:
		c.handleNewConnectionIDFrame(frame)
	case *wire.RetireConnectionIDFrame:
		c.handleRetireConnectionIDFrame(frame)
	case *wire.PathChallengeFrame:
		c.framer.QueueControlFrame(&wire.PathResponseFrame{Data: frame.Data})
	case *wire.PathResponseFrame:
		// path validation bookkeeping is out of scope; receiving an
		// unsolicited response is not an error.
	case *wire.ConnectionCloseFrame:
		c.handleConnectionCloseFrame(frame)
	case *wire.HandshakeDoneFrame:
		if c.isClient {
			c.completeHandshake()
		}
	default:
		c.closeLocal(qerr.NewTransportError(qerr.FrameEncodingError, "unhandled frame type"))
	}
}

func (c *Connection) handleAckFrame(f *wire.AckFrame, level protocol.EncryptionLevel) {
	acked, err := c.sentPacketHandler.ReceivedAck(f, level, c.lastPacketReceivedTime)
	if err != nil {
		c.closeLocal(err)
		return
	}
	if acked {
		c.congestionController.OnPacketAcked(f.LargestAcked(), 0, c.sentPacketHandler.BytesInFlight(), c.lastPacketReceivedTime)
	}
}

func (c *Connection) handleCryptoFrame(f *wire.CryptoFrame, level protocol.EncryptionLevel) {
	if err := c.cryptoEngine.ProcessFrame(level, f.Data); err != nil {
		c.closeLocal(err)
		return
	}
	c.advanceHandshake()
}

func (c *Connection) handleNewConnectionIDFrame(f *wire.NewConnectionIDFrame) {
	if err := c.destCIDs.Add(f.SequenceNumber, f.ConnectionID, f.StatelessResetToken); err != nil {
		c.closeLocal(err)
		return
	}
	for _, seq := range c.destCIDs.RetirePriorTo(f.RetirePriorTo) {
		c.framer.QueueControlFrame(&wire.RetireConnectionIDFrame{SequenceNumber: seq})
	}
}

// handleRetireConnectionIDFrame implements spec §4.4's
// RETIRE_CONNECTION_ID handling: retiring the connection's last active
// local CID is a protocol violation (the peer would have nothing left
// to address datagrams to), otherwise a replacement CID is minted and
// offered via NEW_CONNECTION_ID, its reset token derived the same way
// the connection's own initial CID's was (binding.GenerateStatelessResetToken).
func (c *Connection) handleRetireConnectionIDFrame(f *wire.RetireConnectionIDFrame) {
	if c.srcCIDs.Len() <= 1 {
		c.closeLocal(qerr.NewTransportError(qerr.ProtocolViolation, "peer retired the last active connection ID"))
		return
	}
	c.srcCIDs.Retire(f.SequenceNumber)

	newCID, err := protocol.GenerateConnectionID(protocol.ConnectionIDLength)
	if err != nil {
		c.closeLocal(qerr.NewStatusError(qerr.StatusInvalidState, "failed to generate a replacement connection ID"))
		return
	}
	seq := c.nextSrcCIDSeq
	c.nextSrcCIDSeq++
	token := c.binding.GenerateStatelessResetToken(newCID)
	if err := c.srcCIDs.Add(seq, newCID, token); err != nil {
		c.closeLocal(err)
		return
	}
	c.binding.Register(newCID, c)
	c.framer.QueueControlFrame(&wire.NewConnectionIDFrame{SequenceNumber: seq, ConnectionID: newCID, StatelessResetToken: token})
}

func (c *Connection) handleConnectionCloseFrame(f *wire.ConnectionCloseFrame) {
	reason := f.ReasonPhrase
	if reason == "" {
		reason = "peer closed the connection"
	}
	if c.close.CloseRemotely(qerr.NewTransportError(qerr.TransportErrorCode(f.ErrorCode), reason)) {
		c.close.EnterDraining(c.lastPacketReceivedTime, remoteDrainPeriod(c))
	} else if c.close.State() == StateClosingLocally {
		// Both sides have closed: the server drains, the client ends at once.
		period := remoteDrainPeriod(c)
		if c.isClient {
			period = 0
		}
		c.close.EnterDraining(c.lastPacketReceivedTime, period)
	}
}
