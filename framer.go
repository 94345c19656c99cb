package quicore

import (
	"sync"
	"time"

	"github.com/nitishtalasu/msquic/internal/ackhandler"
	"github.com/nitishtalasu/msquic/internal/flowcontrol"
	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/wire"
)

// streamFrameSource is implemented by a stream that has pending
// application data the framer may pull into the next packet.
type streamFrameSource interface {
	popStreamFrame(maxLen protocol.ByteCount) (*ackhandler.StreamFrame, bool)
}

// streamControlFrameGetter is implemented by a stream that has a
// pending per-stream control frame (e.g. a generated MAX_STREAM_DATA)
// independent of its data queue.
type streamControlFrameGetter interface {
	popStreamControlFrame() (ackhandler.Frame, bool)
}

// framer multiplexes connection-level control frames and the active
// streams' data into the next outgoing packet, grounded on the
// teacher's framer.QueueControlFrame / Append / AddActiveStream call
// shape (connection.go's packAndSendPacket and onHasStreamData).
type framer struct {
	mu sync.Mutex

	connFlowController flowcontrol.ConnectionFlowController

	controlFrames []wire.Frame
	retransmitted map[wire.Frame]ackhandler.FrameHandler

	activeStreams       map[protocol.StreamID]streamFrameSource
	streamsWithControl  map[protocol.StreamID]streamControlFrameGetter
	streamOrder         []protocol.StreamID
}

func newFramer(connFC flowcontrol.ConnectionFlowController) *framer {
	return &framer{
		connFlowController: connFC,
		retransmitted:       make(map[wire.Frame]ackhandler.FrameHandler),
		activeStreams:       make(map[protocol.StreamID]streamFrameSource),
		streamsWithControl:  make(map[protocol.StreamID]streamControlFrameGetter),
	}
}

// QueueControlFrame queues a connection-level control frame (ACK,
// PING, MAX_DATA, ...) for inclusion in the next packet built for its
// encryption level.
func (f *framer) QueueControlFrame(frame wire.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controlFrames = append(f.controlFrames, frame)
}

func (f *framer) AddActiveStream(id protocol.StreamID, s streamFrameSource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.activeStreams[id]; !ok {
		f.streamOrder = append(f.streamOrder, id)
	}
	f.activeStreams[id] = s
}

func (f *framer) AddStreamWithControlFrames(id protocol.StreamID, s streamControlFrameGetter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamsWithControl[id] = s
}

func (f *framer) RemoveActiveStream(id protocol.StreamID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.activeStreams, id)
	delete(f.streamsWithControl, id)
	for i, sid := range f.streamOrder {
		if sid == id {
			f.streamOrder = append(f.streamOrder[:i], f.streamOrder[i+1:]...)
			break
		}
	}
}

// HasData reports whether a call to Append would currently produce at
// least one frame.
func (f *framer) HasData() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.controlFrames) > 0 || len(f.streamsWithControl) > 0 {
		return true
	}
	return len(f.activeStreams) > 0
}

// Append fills controlFrames and streamFrames up to maxSize (spec
// §4.1 "pack frames into the outgoing packet until either the framer
// is empty or the datagram is full") and returns the new slices plus
// the number of bytes consumed.
func (f *framer) Append(
	controlFrames []ackhandler.Frame,
	streamFrames []ackhandler.StreamFrame,
	maxSize protocol.ByteCount,
	now time.Time,
	version protocol.Version,
) ([]ackhandler.Frame, []ackhandler.StreamFrame, protocol.ByteCount) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var used protocol.ByteCount

	for len(f.controlFrames) > 0 {
		cf := f.controlFrames[0]
		l := cf.Length(version)
		if used+l > maxSize {
			break
		}
		f.controlFrames = f.controlFrames[1:]
		used += l
		controlFrames = append(controlFrames, ackhandler.Frame{Frame: cf, Handler: f.retransmitted[cf]})
	}

	for id, getter := range f.streamsWithControl {
		cf, ok := getter.popStreamControlFrame()
		if !ok {
			continue
		}
		l := cf.Frame.Length(version)
		if used+l > maxSize {
			continue
		}
		used += l
		controlFrames = append(controlFrames, cf)
		_ = id
	}

	for _, id := range f.streamOrder {
		s, ok := f.activeStreams[id]
		if !ok {
			continue
		}
		remaining := maxSize - used
		if remaining <= 0 {
			break
		}
		sf, hasMore := s.popStreamFrame(remaining)
		if sf == nil {
			continue
		}
		used += sf.Frame.Length(version)
		streamFrames = append(streamFrames, *sf)
		if !hasMore {
			delete(f.activeStreams, id)
		}
	}
	if len(f.activeStreams) != len(f.streamOrder) {
		order := f.streamOrder[:0]
		for _, id := range f.streamOrder {
			if _, ok := f.activeStreams[id]; ok {
				order = append(order, id)
			}
		}
		f.streamOrder = order
	}

	return controlFrames, streamFrames, used
}
