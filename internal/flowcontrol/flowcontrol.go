// Package flowcontrol implements connection- and stream-level flow
// control windows, grounded on the teacher's
// flowcontrol.NewConnectionFlowController / NewStreamFlowController
// call shape and on spec §4.4's MAX_DATA / MAX_STREAM_DATA /
// DATA_BLOCKED / STREAM_DATA_BLOCKED semantics.
package flowcontrol

import (
	"sync"

	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/utils"
)

// ConnectionFlowController tracks the connection-wide send and receive
// windows.
type ConnectionFlowController interface {
	AddBytesSent(n protocol.ByteCount)
	SendWindowSize() protocol.ByteCount
	UpdateSendWindow(limit protocol.ByteCount)
	IsNewlyBlocked() (bool, protocol.ByteCount)
	AddBytesRead(n protocol.ByteCount) error
	GetWindowUpdate() protocol.ByteCount
	HighestReceived() protocol.ByteCount
}

type connectionFlowController struct {
	mu sync.Mutex

	bytesSent       protocol.ByteCount
	sendWindow      protocol.ByteCount
	wasBlocked      bool

	bytesRead       protocol.ByteCount
	highestReceived protocol.ByteCount
	receiveWindow   protocol.ByteCount
	maxReceiveWindow protocol.ByteCount
	allowWindowIncrease func(protocol.ByteCount) bool

	rttStats *utils.RTTStats
	logger   utils.Logger
}

// NewConnectionFlowController mirrors the teacher's call: (initialWindow,
// maxReceiveWindow, allowWindowIncrease, rttStats, logger).
func NewConnectionFlowController(
	receiveWindow protocol.ByteCount,
	maxReceiveWindow protocol.ByteCount,
	allowWindowIncrease func(protocol.ByteCount) bool,
	rttStats *utils.RTTStats,
	logger utils.Logger,
) ConnectionFlowController {
	return &connectionFlowController{
		receiveWindow:       receiveWindow,
		maxReceiveWindow:    maxReceiveWindow,
		allowWindowIncrease: allowWindowIncrease,
		rttStats:            rttStats,
		logger:              logger,
	}
}

func (c *connectionFlowController) AddBytesSent(n protocol.ByteCount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesSent += n
}

func (c *connectionFlowController) SendWindowSize() protocol.ByteCount {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendWindow < c.bytesSent {
		return 0
	}
	return c.sendWindow - c.bytesSent
}

// UpdateSendWindow applies a peer MAX_DATA, only if it raises the
// window (spec §4.4 "if greater than current peer-max-data, raise it").
func (c *connectionFlowController) UpdateSendWindow(limit protocol.ByteCount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit > c.sendWindow {
		c.sendWindow = limit
		c.wasBlocked = false
	}
}

func (c *connectionFlowController) IsNewlyBlocked() (bool, protocol.ByteCount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bytesSent < c.sendWindow || c.wasBlocked {
		return false, 0
	}
	c.wasBlocked = true
	return true, c.sendWindow
}

func (c *connectionFlowController) AddBytesRead(n protocol.ByteCount) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesRead += n
	if c.bytesRead > c.highestReceived {
		c.highestReceived = c.bytesRead
	}
	return nil
}

func (c *connectionFlowController) HighestReceived() protocol.ByteCount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highestReceived
}

// GetWindowUpdate returns a non-zero new receive-window limit when the
// consumed fraction warrants raising it, else 0.
func (c *connectionFlowController) GetWindowUpdate() protocol.ByteCount {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.receiveWindow - c.bytesRead
	if remaining > c.receiveWindow/2 {
		return 0
	}
	newWindow := c.receiveWindow
	if c.allowWindowIncrease(newWindow*2) && newWindow*2 <= c.maxReceiveWindow {
		newWindow *= 2
	}
	c.receiveWindow = newWindow
	return c.bytesRead + newWindow
}

// StreamFlowController is the per-stream analogue of ConnectionFlowController,
// additionally clamped by the connection-wide controller.
type StreamFlowController interface {
	AddBytesSent(n protocol.ByteCount)
	SendWindowSize() protocol.ByteCount
	UpdateSendWindow(limit protocol.ByteCount)
	IsNewlyBlocked() (bool, protocol.ByteCount)
	AddBytesRead(n protocol.ByteCount) error
	GetWindowUpdate() protocol.ByteCount
	StreamID() protocol.StreamID
}

type streamFlowController struct {
	connectionFlowController
	id   protocol.StreamID
	conn ConnectionFlowController
}

// NewStreamFlowController mirrors the teacher's call: (streamID, conn,
// receiveWindow, maxReceiveWindow, sendWindow, rttStats, logger).
func NewStreamFlowController(
	id protocol.StreamID,
	conn ConnectionFlowController,
	receiveWindow protocol.ByteCount,
	maxReceiveWindow protocol.ByteCount,
	sendWindow protocol.ByteCount,
	rttStats *utils.RTTStats,
	logger utils.Logger,
) StreamFlowController {
	sfc := &streamFlowController{id: id, conn: conn}
	sfc.receiveWindow = receiveWindow
	sfc.maxReceiveWindow = maxReceiveWindow
	sfc.sendWindow = sendWindow
	sfc.allowWindowIncrease = func(protocol.ByteCount) bool { return true }
	sfc.rttStats = rttStats
	sfc.logger = logger
	return sfc
}

func (s *streamFlowController) StreamID() protocol.StreamID { return s.id }

func (s *streamFlowController) AddBytesSent(n protocol.ByteCount) {
	s.connectionFlowController.AddBytesSent(n)
	s.conn.AddBytesSent(n)
}

func (s *streamFlowController) SendWindowSize() protocol.ByteCount {
	local := s.connectionFlowController.SendWindowSize()
	connWindow := s.conn.SendWindowSize()
	if connWindow < local {
		return connWindow
	}
	return local
}

func (s *streamFlowController) AddBytesRead(n protocol.ByteCount) error {
	if err := s.connectionFlowController.AddBytesRead(n); err != nil {
		return err
	}
	return s.conn.AddBytesRead(n)
}
