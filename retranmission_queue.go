package quicore

import (
	"sync"

	"github.com/nitishtalasu/msquic/internal/ackhandler"
	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/wire"
)

// retransmissionQueue holds control frames (NEW_CONNECTION_ID,
// RETIRE_CONNECTION_ID, HANDSHAKE_DONE, CONNECTION_CLOSE, ...) that were
// lost in flight and must go out again on the next packet this
// connection builds, regardless of encryption level. It is deliberately
// dumb: a FIFO plus an ackhandler.FrameHandler adapter, since frame
// loss recovery here needs no per-frame-type logic beyond "send it
// again" (spec §4.6 "Frame retransmission").
type retransmissionQueue struct {
	mu            sync.Mutex
	pendingFrames []wire.Frame
	conn          *Connection
}

func newRetransmissionQueue(conn *Connection) *retransmissionQueue {
	return &retransmissionQueue{
		conn: conn,
	}
}

func (q *retransmissionQueue) Add(f wire.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pendingFrames = append(q.pendingFrames, f)
}

func (q *retransmissionQueue) HasData() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pendingFrames) > 0
}

func (q *retransmissionQueue) GetFrame() wire.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pendingFrames) == 0 {
		return nil
	}
	f := q.pendingFrames[0]
	q.pendingFrames = q.pendingFrames[1:]
	return f
}

func (q *retransmissionQueue) FrameHandler(encLevel protocol.EncryptionLevel) ackhandler.FrameHandler {
	return (*retransmissionQueueAckHandler)(q)
}

type retransmissionQueueAckHandler retransmissionQueue

func (q *retransmissionQueueAckHandler) OnAcked(wire.Frame) {}

func (q *retransmissionQueueAckHandler) OnLost(f wire.Frame) {
	(*retransmissionQueue)(q).Add(f)
}
