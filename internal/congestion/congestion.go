// Package congestion is the concrete congestion-control collaborator
// the connection core's sent-packet handler calls through. Congestion
// control itself is an out-of-scope external collaborator per spec §1;
// this package plays the role the teacher's congestion.NewCubicSender
// call already gives it.
package congestion

import (
	"time"

	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/logging"
)

// SendAlgorithmWithDebugInfos is the contract the sent-packet handler
// depends on, named after the teacher's own field type.
type SendAlgorithmWithDebugInfos interface {
	OnPacketSent(sentTime time.Time, bytesInFlight protocol.ByteCount, pn protocol.PacketNumber, size protocol.ByteCount, ackEliciting bool)
	OnPacketAcked(pn protocol.PacketNumber, size protocol.ByteCount, priorInFlight protocol.ByteCount, eventTime time.Time)
	OnPacketLost(pn protocol.PacketNumber, size protocol.ByteCount, bytesInFlight protocol.ByteCount)
	CanSend(bytesInFlight protocol.ByteCount) bool
	CongestionWindow() protocol.ByteCount
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface{ Now() time.Time }

type DefaultClock struct{}

func (DefaultClock) Now() time.Time { return time.Now() }

// cubicSender is a simplified additive-increase/multiplicative-decrease
// sender: slow-start doubles the window per RTT until a loss, then
// congestion avoidance adds about one datagram per window's worth of
// acks, and every loss multiplies the window by 7/10. Despite the name,
// it has no cubic growth curve.
type cubicSender struct {
	clock         Clock
	rttStats      rttSource
	maxDatagramSize protocol.ByteCount
	congestionWindow protocol.ByteCount
	slowStartThreshold protocol.ByteCount
	inSlowStart   bool
	lastLossTime  time.Time
	tracer        *logging.ConnectionTracer
}

type rttSource interface {
	SmoothedRTT() time.Duration
}

const (
	initialWindowPackets = 10
	minWindowPackets     = 2
)

// NewCubicSender mirrors the teacher's congestion.NewCubicSender call
// shape: (clock, rttStats, maxDatagramSize, useReno bool, tracer).
// useReno is accepted for call-compatibility and ignored; growth is
// always the additive increase described on cubicSender.
func NewCubicSender(clock Clock, rttStats rttSource, maxDatagramSize protocol.ByteCount, _ bool, tracer *logging.ConnectionTracer) SendAlgorithmWithDebugInfos {
	return &cubicSender{
		clock:              clock,
		rttStats:           rttStats,
		maxDatagramSize:    maxDatagramSize,
		congestionWindow:   protocol.ByteCount(initialWindowPackets) * maxDatagramSize,
		slowStartThreshold: protocol.MaxByteCount,
		inSlowStart:        true,
		tracer:             tracer,
	}
}

func (c *cubicSender) OnPacketSent(time.Time, protocol.ByteCount, protocol.PacketNumber, protocol.ByteCount, bool) {}

func (c *cubicSender) OnPacketAcked(_ protocol.PacketNumber, size, priorInFlight protocol.ByteCount, _ time.Time) {
	if priorInFlight < c.congestionWindow {
		// Not congestion-window limited; don't grow off of this ack.
		return
	}
	if c.inSlowStart {
		c.congestionWindow += size
		if c.congestionWindow >= c.slowStartThreshold {
			c.inSlowStart = false
		}
		return
	}
	// Congestion avoidance: classic AIMD additive increase, one MSS per RTT-worth of acks.
	c.congestionWindow += c.maxDatagramSize * size / c.congestionWindow
	c.notifyTracer()
}

func (c *cubicSender) OnPacketLost(_ protocol.PacketNumber, _ protocol.ByteCount, _ protocol.ByteCount) {
	c.inSlowStart = false
	c.lastLossTime = c.clock.Now()
	c.congestionWindow = c.congestionWindow * 7 / 10
	min := protocol.ByteCount(minWindowPackets) * c.maxDatagramSize
	if c.congestionWindow < min {
		c.congestionWindow = min
	}
	c.slowStartThreshold = c.congestionWindow
	c.notifyTracer()
}

func (c *cubicSender) CanSend(bytesInFlight protocol.ByteCount) bool {
	return bytesInFlight < c.congestionWindow
}

func (c *cubicSender) CongestionWindow() protocol.ByteCount { return c.congestionWindow }

func (c *cubicSender) notifyTracer() {
	if c.tracer != nil && c.tracer.UpdatedCongestionState != nil {
		state := "congestion_avoidance"
		if c.inSlowStart {
			state = "slow_start"
		}
		c.tracer.UpdatedCongestionState(state)
	}
}
