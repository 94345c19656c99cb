package ackhandler

import (
	"time"

	"github.com/nitishtalasu/msquic/internal/congestion"
	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/utils"
	"github.com/nitishtalasu/msquic/internal/wire"
	"github.com/nitishtalasu/msquic/logging"
)

const packetThreshold = 3

// sentPacket records one outstanding packet awaiting ack or loss.
type sentPacket struct {
	pn            protocol.PacketNumber
	sendTime      time.Time
	size          protocol.ByteCount
	ackEliciting  bool
	controlFrames []Frame
	streamFrames  []StreamFrame
	declaredLost  bool
	isProbe       bool
}

type packetNumberSpace struct {
	next         protocol.PacketNumber
	largestAcked protocol.PacketNumber
	largestSent  protocol.PacketNumber
	sent         map[protocol.PacketNumber]*sentPacket
	lossTime     time.Time
}

func newPacketNumberSpace(initial protocol.PacketNumber) *packetNumberSpace {
	return &packetNumberSpace{
		next:         initial,
		largestAcked: protocol.InvalidPacketNumber,
		largestSent:  protocol.InvalidPacketNumber,
		sent:         make(map[protocol.PacketNumber]*sentPacket),
	}
}

// SentPacketHandler is the connection core's contract for everything
// related to packets it has sent: packet-number issuance, bookkeeping
// until acked/lost, and the PTO/loss-detection timer (spec §4.1 "flush-send",
// §4.6 "LossDetection" timer slot).
type SentPacketHandler interface {
	PeekPacketNumber(encLevel protocol.EncryptionLevel) (protocol.PacketNumber, protocol.PacketNumberLen)
	PopPacketNumber(encLevel protocol.EncryptionLevel)
	SentPacket(sendTime time.Time, pn protocol.PacketNumber, largestAcked protocol.PacketNumber,
		streamFrames []StreamFrame, controlFrames []Frame, encLevel protocol.EncryptionLevel,
		ecn protocol.ECN, size protocol.ByteCount, isMTUProbe, isPathProbe bool)
	ReceivedAck(f *wire.AckFrame, encLevel protocol.EncryptionLevel, rcvTime time.Time) (bool, error)
	GetLossDetectionTimeout() time.Time
	OnLossDetectionTimeout(now time.Time) error
	DropPackets(encLevel protocol.EncryptionLevel, now time.Time)
	ComputeProbeTimeout(attempt int) time.Duration
	BytesInFlight() protocol.ByteCount
}

type sentPacketHandler struct {
	spaces      [protocol.NumEncryptionLevels]*packetNumberSpace
	rttStats    *utils.RTTStats
	cc          congestion.SendAlgorithmWithDebugInfos
	perspective protocol.Perspective
	tracer      *logging.ConnectionTracer
	logger      utils.Logger
	maxAckDelay time.Duration
	bytesInFlight protocol.ByteCount
}

// NewAckHandler mirrors the teacher's ackhandler.NewAckHandler call
// shape: (initialPN, maxPacketSize, rttStats, peerAddressValidated,
// enableECN, perspective, tracer, logger) -> (sent, received).
func NewAckHandler(
	initialPN protocol.PacketNumber,
	maxPacketSize protocol.ByteCount,
	rttStats *utils.RTTStats,
	peerAddressValidated bool,
	enableECN bool,
	perspective protocol.Perspective,
	tracer *logging.ConnectionTracer,
	logger utils.Logger,
) (SentPacketHandler, ReceivedPacketHandler) {
	sph := &sentPacketHandler{
		rttStats:    rttStats,
		cc:          congestion.NewCubicSender(congestion.DefaultClock{}, rttStats, maxPacketSize, true, tracer),
		perspective: perspective,
		tracer:      tracer,
		logger:      logger,
		maxAckDelay: protocol.DefaultMaxAckDelayMs * time.Millisecond,
	}
	for i := range sph.spaces {
		sph.spaces[i] = newPacketNumberSpace(0)
	}
	sph.spaces[protocol.EncryptionInitial].next = initialPN

	rph := newReceivedPacketHandler(perspective, logger)
	return sph, rph
}

func (h *sentPacketHandler) PeekPacketNumber(encLevel protocol.EncryptionLevel) (protocol.PacketNumber, protocol.PacketNumberLen) {
	sp := h.spaces[encLevel]
	pnLen := wire.EncodePacketNumberLength(sp.next, sp.largestAcked)
	return sp.next, pnLen
}

func (h *sentPacketHandler) PopPacketNumber(encLevel protocol.EncryptionLevel) {
	h.spaces[encLevel].next++
}

func (h *sentPacketHandler) SentPacket(
	sendTime time.Time, pn protocol.PacketNumber, _ protocol.PacketNumber,
	streamFrames []StreamFrame, controlFrames []Frame, encLevel protocol.EncryptionLevel,
	_ protocol.ECN, size protocol.ByteCount, isMTUProbe, isPathProbe bool,
) {
	sp := h.spaces[encLevel]
	ackEliciting := len(streamFrames) > 0
	for _, f := range controlFrames {
		if wire.IsAckEliciting(f.Frame) {
			ackEliciting = true
		}
	}
	sp.sent[pn] = &sentPacket{
		pn: pn, sendTime: sendTime, size: size, ackEliciting: ackEliciting,
		controlFrames: controlFrames, streamFrames: streamFrames, isProbe: isMTUProbe || isPathProbe,
	}
	if pn > sp.largestSent {
		sp.largestSent = pn
	}
	h.bytesInFlight += size
	h.cc.OnPacketSent(sendTime, h.bytesInFlight, pn, size, ackEliciting)
	if h.tracer != nil && h.tracer.SentPacket != nil {
		h.tracer.SentPacket(pn, size, encLevel)
	}
}

func (h *sentPacketHandler) ReceivedAck(f *wire.AckFrame, encLevel protocol.EncryptionLevel, rcvTime time.Time) (bool, error) {
	sp := h.spaces[encLevel]
	ackedNew := false
	var priorInFlight = h.bytesInFlight

	for _, r := range f.AckRanges {
		for pn := r.Smallest; pn <= r.Largest; pn++ {
			sent, ok := sp.sent[pn]
			if !ok {
				continue
			}
			ackedNew = true
			delete(sp.sent, pn)
			h.bytesInFlight -= sent.size
			for _, cf := range sent.controlFrames {
				if cf.Handler != nil {
					cf.Handler.OnAcked(cf.Frame)
				}
			}
			for _, sf := range sent.streamFrames {
				if sf.Handler != nil {
					sf.Handler.OnAcked(sf.Frame)
				}
			}
			if pn == f.LargestAcked() && sent.ackEliciting {
				h.rttStats.UpdateRTT(rcvTime.Sub(sent.sendTime), ackDelayDuration(f.DelayTime))
			}
			h.cc.OnPacketAcked(pn, sent.size, priorInFlight, rcvTime)
		}
	}
	if f.LargestAcked() > sp.largestAcked {
		sp.largestAcked = f.LargestAcked()
	}
	h.detectAndRemoveLostPackets(sp, encLevel, rcvTime)
	return ackedNew, nil
}

func ackDelayDuration(raw protocol.ByteCount) time.Duration {
	return time.Duration(raw) * time.Microsecond * (1 << protocol.DefaultAckDelayExponent)
}

// detectAndRemoveLostPackets implements the packet-threshold half of
// loss detection (the time-threshold half is driven by
// OnLossDetectionTimeout). Loss detection proper is an out-of-scope
// external collaborator per spec §1; this is the minimal concrete
// policy the connection core needs to retransmit lost frames.
func (h *sentPacketHandler) detectAndRemoveLostPackets(sp *packetNumberSpace, encLevel protocol.EncryptionLevel, now time.Time) {
	for pn, sent := range sp.sent {
		if sent.declaredLost {
			continue
		}
		if sp.largestAcked-pn >= packetThreshold {
			sent.declaredLost = true
			h.bytesInFlight -= sent.size
			h.cc.OnPacketLost(pn, sent.size, h.bytesInFlight)
			for _, cf := range sent.controlFrames {
				if cf.Handler != nil {
					cf.Handler.OnLost(cf.Frame)
				}
			}
			for _, sf := range sent.streamFrames {
				if sf.Handler != nil {
					sf.Handler.OnLost(sf.Frame)
				}
			}
			delete(sp.sent, pn)
		}
	}
}

func (h *sentPacketHandler) GetLossDetectionTimeout() time.Time {
	var earliest time.Time
	for _, sp := range h.spaces {
		if len(sp.sent) == 0 {
			continue
		}
		for _, sent := range sp.sent {
			if !sent.ackEliciting {
				continue
			}
			deadline := sent.sendTime.Add(h.rttStats.PTO(h.maxAckDelay, 0))
			if earliest.IsZero() || deadline.Before(earliest) {
				earliest = deadline
			}
		}
	}
	return earliest
}

func (h *sentPacketHandler) OnLossDetectionTimeout(now time.Time) error {
	for encLevel, sp := range h.spaces {
		for pn, sent := range sp.sent {
			if sent.declaredLost || !sent.ackEliciting {
				continue
			}
			if now.Before(sent.sendTime.Add(h.rttStats.PTO(h.maxAckDelay, 0))) {
				continue
			}
			sent.declaredLost = true
			h.bytesInFlight -= sent.size
			h.cc.OnPacketLost(pn, sent.size, h.bytesInFlight)
			for _, cf := range sent.controlFrames {
				if cf.Handler != nil {
					cf.Handler.OnLost(cf.Frame)
				}
			}
			for _, sf := range sent.streamFrames {
				if sf.Handler != nil {
					sf.Handler.OnLost(sf.Frame)
				}
			}
			delete(sp.sent, pn)
			_ = encLevel
		}
	}
	return nil
}

func (h *sentPacketHandler) DropPackets(encLevel protocol.EncryptionLevel, _ time.Time) {
	sp := h.spaces[encLevel]
	for _, sent := range sp.sent {
		h.bytesInFlight -= sent.size
	}
	sp.sent = make(map[protocol.PacketNumber]*sentPacket)
}

func (h *sentPacketHandler) ComputeProbeTimeout(attempt int) time.Duration {
	return h.rttStats.PTO(h.maxAckDelay, attempt)
}

func (h *sentPacketHandler) BytesInFlight() protocol.ByteCount { return h.bytesInFlight }
