package datapath

import (
	"errors"

	"github.com/nitishtalasu/msquic/internal/protocol"
)

// entry is one packet queued for transmission, adapted from the
// teacher's send_queue.go:queueEntry to additionally carry the ECN
// mark the connection core wants applied to the datagram.
type entry struct {
	data []byte
	ecn  protocol.ECN
}

// SendQueue decouples packet production (the connection core's drain
// loop) from the blocking syscall that actually puts bytes on the
// wire, so a slow write doesn't stall frame packing. Adapted from the
// teacher's send_queue.go/send_queue_deps.go sendQueue type, retargeted
// at the datapath.Transport interface instead of a bespoke sendConn.
type SendQueue struct {
	queue       chan entry
	closeCalled chan struct{}
	runStopped  chan struct{}
	available   chan struct{}
	transport   Transport
}

const sendQueueCapacity = 8

func NewSendQueue(t Transport) *SendQueue {
	return &SendQueue{
		transport:   t,
		runStopped:  make(chan struct{}),
		closeCalled: make(chan struct{}),
		available:   make(chan struct{}, 1),
		queue:       make(chan entry, sendQueueCapacity),
	}
}

// Send enqueues pkt for transmission. Callers must check WouldBlock
// first; Send panics rather than silently dropping a packet the
// caller believed would fit.
func (h *SendQueue) Send(pkt []byte, ecn protocol.ECN) {
	select {
	case h.queue <- entry{data: pkt, ecn: ecn}:
		if len(h.queue) == sendQueueCapacity {
			select {
			case <-h.available:
			default:
			}
		}
	case <-h.runStopped:
	default:
		panic("datapath: SendQueue.Send would have blocked")
	}
}

func (h *SendQueue) WouldBlock() bool { return len(h.queue) == sendQueueCapacity }

func (h *SendQueue) Available() <-chan struct{} { return h.available }

// Run drains the queue until Close is called and every queued packet
// has gone out.
func (h *SendQueue) Run() error {
	defer close(h.runStopped)
	var shouldClose bool
	for {
		if shouldClose && len(h.queue) == 0 {
			return nil
		}
		select {
		case <-h.closeCalled:
			h.closeCalled = nil
			shouldClose = true
		case e := <-h.queue:
			if err := h.transport.WritePacket(e.data, e.ecn); err != nil {
				if !errors.Is(err, errMsgTooLarge) {
					return err
				}
			}
			select {
			case h.available <- struct{}{}:
			default:
			}
		}
	}
}

var errMsgTooLarge = errors.New("datapath: message too large for transport")

func (h *SendQueue) Close() {
	close(h.closeCalled)
	<-h.runStopped
}
