package quicore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/nitishtalasu/msquic/internal/ackhandler"
	"github.com/nitishtalasu/msquic/internal/flowcontrol"
	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/qerr"
	"github.com/nitishtalasu/msquic/internal/wire"
)

// Stream is the application-facing object for a single bidirectional
// stream, grounded on the teacher's Stream type and adapted to pull
// its write-side data through the framer instead of pushing directly
// to the connection on every Write call (spec §4.3 "Streams[]").
type Stream struct {
	streamID protocol.StreamID
	conn     *Connection

	readMu        sync.Mutex
	readBuffer    *bytes.Buffer
	readCond      *sync.Cond
	isFinished    bool
	readErr       error
	finalSize     protocol.ByteCount
	bytesRead     protocol.ByteCount
	readOffset    protocol.ByteCount
	receiveBuffer map[protocol.ByteCount][]byte

	writeMu         sync.Mutex
	sendQueue       [][]byte
	retransmitQueue []*wire.StreamFrame
	writeOffset     protocol.ByteCount
	writeFin        bool
	writeErr        error

	flowController flowcontrol.StreamFlowController

	ctx    context.Context
	cancel context.CancelFunc
}

func newStream(ctx context.Context, streamID protocol.StreamID, conn *Connection, fc flowcontrol.StreamFlowController) *Stream {
	s := &Stream{
		streamID:       streamID,
		conn:           conn,
		readBuffer:     new(bytes.Buffer),
		flowController: fc,
		finalSize:      protocol.MaxByteCount,
		receiveBuffer:  make(map[protocol.ByteCount][]byte),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.readCond = sync.NewCond(&s.readMu)
	return s
}

func (s *Stream) StreamID() protocol.StreamID { return s.streamID }

func (s *Stream) Read(p []byte) (n int, err error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for s.readBuffer.Len() == 0 && s.readErr == nil {
		if s.isFinished && s.bytesRead == s.finalSize {
			return 0, io.EOF
		}
		s.readCond.Wait()
	}
	if s.readErr != nil {
		return 0, s.readErr
	}
	n, err = s.readBuffer.Read(p)
	s.bytesRead += protocol.ByteCount(n)
	if err := s.flowController.AddBytesRead(protocol.ByteCount(n)); err != nil {
		return n, err
	}
	return n, err
}

const maxStreamFrameSize protocol.ByteCount = 1100

// Write chunks p into the stream's send queue and notifies the
// connection that the stream has data to drain into the next packet.
func (s *Stream) Write(p []byte) (n int, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	s.sendQueue = append(s.sendQueue, buf)
	s.conn.onHasStreamData(s.streamID, s)
	return len(p), nil
}

func (s *Stream) Close() error {
	s.writeMu.Lock()
	if s.writeErr != nil {
		s.writeMu.Unlock()
		return s.writeErr
	}
	s.writeFin = true
	s.writeErr = errors.New("stream closed")
	s.writeMu.Unlock()
	s.conn.onHasStreamData(s.streamID, s)
	return nil
}

// popStreamFrame implements streamFrameSource for the framer: it
// drains as much queued data as fits in maxLen, respecting the
// stream's send-window (spec §4.4's STREAM_DATA_BLOCKED trigger when
// the window is exhausted but data remains).
func (s *Stream) popStreamFrame(maxLen protocol.ByteCount) (*ackhandler.StreamFrame, bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Retransmissions carry their own original offset and must go out
	// unchanged (spec §4.1's per-frame retransmission contract); they
	// are served before any new data and never touch writeOffset or the
	// flow-control window, since the bytes they cover were already
	// accounted for when first sent.
	if len(s.retransmitQueue) > 0 {
		return s.popRetransmitFrame(maxLen)
	}

	window := s.flowController.SendWindowSize()
	if window == 0 && len(s.sendQueue) > 0 {
		if blocked, limit := s.flowController.IsNewlyBlocked(); blocked {
			s.conn.framer.QueueControlFrame(&wire.StreamDataBlockedFrame{StreamID: s.streamID, MaximumStreamData: limit})
		}
	}

	var data []byte
	for len(s.sendQueue) > 0 && protocol.ByteCount(len(data)) < maxLen && protocol.ByteCount(len(data)) < window {
		chunk := s.sendQueue[0]
		room := int(maxLen) - len(data)
		if protocol.ByteCount(room) > window-protocol.ByteCount(len(data)) {
			room = int(window) - len(data)
		}
		if room <= 0 {
			break
		}
		if len(chunk) <= room {
			data = append(data, chunk...)
			s.sendQueue = s.sendQueue[1:]
		} else {
			data = append(data, chunk[:room]...)
			s.sendQueue[0] = chunk[room:]
			break
		}
	}
	if len(data) == 0 && !(s.writeFin && len(s.sendQueue) == 0) {
		return nil, false
	}
	fin := s.writeFin && len(s.sendQueue) == 0
	offset := s.writeOffset
	s.writeOffset += protocol.ByteCount(len(data))
	s.flowController.AddBytesSent(protocol.ByteCount(len(data)))

	hasMore := len(s.sendQueue) > 0
	return &ackhandler.StreamFrame{
		Frame:   &wire.StreamFrame{StreamID: s.streamID, Offset: offset, Data: data, Fin: fin},
		Handler: &streamRetransmitHandler{stream: s},
	}, hasMore
}

// popRetransmitFrame serves the front of retransmitQueue, splitting it
// if it doesn't fit in maxLen and leaving the remainder (at its
// correctly advanced offset) at the front for the next call.
func (s *Stream) popRetransmitFrame(maxLen protocol.ByteCount) (*ackhandler.StreamFrame, bool) {
	frame := s.retransmitQueue[0]
	if protocol.ByteCount(len(frame.Data)) > maxLen && maxLen > 0 {
		head := &wire.StreamFrame{StreamID: frame.StreamID, Offset: frame.Offset, Data: frame.Data[:maxLen]}
		s.retransmitQueue[0] = &wire.StreamFrame{
			StreamID: frame.StreamID,
			Offset:   frame.Offset + maxLen,
			Data:     frame.Data[maxLen:],
			Fin:      frame.Fin,
		}
		frame = head
	} else {
		s.retransmitQueue = s.retransmitQueue[1:]
	}
	hasMore := len(s.retransmitQueue) > 0 || len(s.sendQueue) > 0
	return &ackhandler.StreamFrame{
		Frame:   frame,
		Handler: &streamRetransmitHandler{stream: s},
	}, hasMore
}

// streamRetransmitHandler re-queues a lost STREAM frame at the front of
// the stream's retransmit queue, preserving its original offset, so it
// is resent before any newer writes (spec §4.1's per-frame
// retransmission contract) without corrupting writeOffset bookkeeping.
type streamRetransmitHandler struct{ stream *Stream }

func (h *streamRetransmitHandler) OnAcked(wire.Frame) {}
func (h *streamRetransmitHandler) OnLost(f wire.Frame) {
	sf, ok := f.(*wire.StreamFrame)
	if !ok {
		return
	}
	h.stream.writeMu.Lock()
	defer h.stream.writeMu.Unlock()
	h.stream.retransmitQueue = append([]*wire.StreamFrame{sf}, h.stream.retransmitQueue...)
	h.stream.conn.onHasStreamData(h.stream.streamID, h.stream)
}

func (s *Stream) handleStreamFrame(frame *wire.StreamFrame) error {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if frame.DataLen() > 0 {
		if frame.Offset+frame.DataLen() <= s.readOffset {
			return nil
		}
		s.receiveBuffer[frame.Offset] = frame.Data
	}
	if frame.Fin {
		s.isFinished = true
		s.finalSize = frame.Offset + frame.DataLen()
	}
	s.reassemble()
	s.readCond.Broadcast()
	return nil
}

func (s *Stream) reassemble() {
	offsets := make([]protocol.ByteCount, 0, len(s.receiveBuffer))
	for offset := range s.receiveBuffer {
		offsets = append(offsets, offset)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	for _, offset := range offsets {
		if offset == s.readOffset {
			data := s.receiveBuffer[offset]
			s.readBuffer.Write(data)
			s.readOffset += protocol.ByteCount(len(data))
			delete(s.receiveBuffer, offset)
		} else if offset < s.readOffset {
			delete(s.receiveBuffer, offset)
		} else {
			break
		}
	}
}

func (s *Stream) cancelRead(err error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.readErr = err
	s.readCond.Broadcast()
}

// streamsMap owns the set of open streams and the bidi/uni stream-ID
// counters, grounded on the teacher's streamsMap call shape exercised
// from connection.go (newStreamsMap / OpenStream / AcceptStream /
// HandleStreamFrame / HandleMaxStreamsFrame / DeleteStream).
type streamsMap struct {
	ctx    context.Context
	conn   *Connection
	queueControlFrame func(wire.Frame)
	newFlowController func(protocol.StreamID) flowcontrol.StreamFlowController
	perspective protocol.Perspective

	mu             sync.Mutex
	streams        map[protocol.StreamID]*Stream
	closedStreams  map[protocol.StreamID]struct{}
	nextBidiID     protocol.StreamID
	nextUniID      protocol.StreamID
	maxBidiStreams int64
	maxUniStreams  int64
	openedBidi     int64

	acceptQueue chan *Stream
	closeErr    error
}

func newStreamsMap(
	ctx context.Context,
	conn *Connection,
	queueControlFrame func(wire.Frame),
	newFlowController func(protocol.StreamID) flowcontrol.StreamFlowController,
	maxIncomingBidi, maxIncomingUni int64,
	perspective protocol.Perspective,
) *streamsMap {
	m := &streamsMap{
		ctx:               ctx,
		conn:              conn,
		queueControlFrame: queueControlFrame,
		newFlowController: newFlowController,
		perspective:       perspective,
		streams:           make(map[protocol.StreamID]*Stream),
		closedStreams:     make(map[protocol.StreamID]struct{}),
		maxBidiStreams:    maxIncomingBidi,
		maxUniStreams:     maxIncomingUni,
		acceptQueue:       make(chan *Stream, 16),
	}
	// Stream IDs: low bit = initiator, next bit = direction (spec GLOSSARY).
	if perspective == protocol.PerspectiveClient {
		m.nextBidiID = 0
		m.nextUniID = 2
	} else {
		m.nextBidiID = 1
		m.nextUniID = 3
	}
	return m
}

func (m *streamsMap) OpenStream() (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return nil, m.closeErr
	}
	id := m.nextBidiID
	m.nextBidiID += 4
	s := newStream(m.ctx, id, m.conn, m.newFlowController(id))
	m.streams[id] = s
	return s, nil
}

func (m *streamsMap) AcceptStream(ctx context.Context) (*Stream, error) {
	select {
	case s := <-m.acceptQueue:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.ctx.Done():
		return nil, m.ctx.Err()
	}
}

// getOrCreatePeerStream returns the existing stream for id, or creates
// one if id is a stream the peer is allowed to open that we have never
// seen before. Two spec §4.4 rules are enforced here: a fresh id whose
// initiator/direction bits don't belong to the peer is a protocol
// violation (STREAM_STATE_ERROR), and a fresh frame for an id that was
// already fully closed and removed is skipped silently instead of
// resurrecting a new stream. A nil, nil return means "silently
// ignored" - callers must treat that as success, not absence.
func (m *streamsMap) getOrCreatePeerStream(id protocol.StreamID) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[id]; ok {
		return s, nil
	}
	if _, closed := m.closedStreams[id]; closed {
		return nil, nil
	}
	peerPerspective := protocol.PerspectiveServer
	if m.perspective == protocol.PerspectiveServer {
		peerPerspective = protocol.PerspectiveClient
	}
	if id.InitiatedBy() != peerPerspective {
		return nil, qerr.NewTransportError(qerr.StreamStateError, fmt.Sprintf("stream %d was never opened locally, peer cannot originate it", id))
	}
	if m.closeErr != nil {
		return nil, m.closeErr
	}
	s := newStream(m.ctx, id, m.conn, m.newFlowController(id))
	m.streams[id] = s
	select {
	case m.acceptQueue <- s:
	default:
		return nil, qerr.NewTransportError(qerr.StreamLimitError, fmt.Sprintf("accept queue full, refusing stream %d", id))
	}
	return s, nil
}

func (m *streamsMap) HandleStreamFrame(f *wire.StreamFrame, _ time.Time) error {
	s, err := m.getOrCreatePeerStream(f.StreamID)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	return s.handleStreamFrame(f)
}

func (m *streamsMap) HandleResetStreamFrame(f *wire.ResetStreamFrame, _ time.Time) error {
	m.mu.Lock()
	s, ok := m.streams[f.StreamID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	s.cancelRead(fmt.Errorf("quicore: stream reset by peer, code %d", f.ErrorCode))
	return nil
}

func (m *streamsMap) HandleStopSendingFrame(f *wire.StopSendingFrame) error {
	m.mu.Lock()
	s, ok := m.streams[f.StreamID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	s.writeMu.Lock()
	s.writeErr = fmt.Errorf("quicore: peer requested STOP_SENDING, code %d", f.ErrorCode)
	s.writeMu.Unlock()
	return nil
}

// HandleMaxStreamsFrame raises the local count of streams we're allowed
// to open, clamped to protocol.MaxMaxStreams (spec §4.4: MAX_STREAMS /
// MAX_STREAMS_UNI are "bounded by a hard MaxMaxStreams") so a
// misbehaving or malicious peer can't hand us a stream limit that
// overflows downstream stream-ID arithmetic.
func (m *streamsMap) HandleMaxStreamsFrame(f *wire.MaxStreamsFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := f.MaxStreamNum
	if n > protocol.MaxMaxStreams {
		n = protocol.MaxMaxStreams
	}
	if f.Type == protocol.StreamTypeBidi {
		m.maxBidiStreams = n
	} else {
		m.maxUniStreams = n
	}
}

func (m *streamsMap) HandleMaxStreamDataFrame(f *wire.MaxStreamDataFrame) error {
	m.mu.Lock()
	s, ok := m.streams[f.StreamID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	s.flowController.UpdateSendWindow(f.MaximumStreamData)
	return nil
}

func (m *streamsMap) DeleteStream(id protocol.StreamID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, id)
	m.closedStreams[id] = struct{}{}
	return nil
}

func (m *streamsMap) CloseWithError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return
	}
	if err == nil {
		err = errors.New("quicore: connection closed")
	}
	m.closeErr = err
	for _, s := range m.streams {
		s.cancelRead(err)
	}
}
