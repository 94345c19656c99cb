package ackhandler

import (
	"sort"
	"time"

	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/utils"
	"github.com/nitishtalasu/msquic/internal/wire"
)

// ReceivedPacketHandler tracks which packet numbers have been seen per
// encryption level (duplicate detection, spec §4.2 "Duplicate detection")
// and builds outgoing ACK frames (spec §4.6 "AckDelay" timer slot).
type ReceivedPacketHandler interface {
	ReceivedPacket(pn protocol.PacketNumber, ecn protocol.ECN, encLevel protocol.EncryptionLevel, rcvTime time.Time, ackEliciting bool) error
	GetAlarmTimeout() time.Time
	GetAckFrame(encLevel protocol.EncryptionLevel, now time.Time, onlyIfQueued bool) *wire.AckFrame
	DropPackets(encLevel protocol.EncryptionLevel)
	IsDuplicate(encLevel protocol.EncryptionLevel, pn protocol.PacketNumber) bool
	LargestObserved(encLevel protocol.EncryptionLevel) protocol.PacketNumber
}

type receivedSpace struct {
	seen             map[protocol.PacketNumber]struct{}
	largestObserved  protocol.PacketNumber
	ackQueued        bool
	ackAlarm         time.Time
	ect0, ect1, ce   protocol.ByteCount
}

func newReceivedSpace() *receivedSpace {
	return &receivedSpace{seen: make(map[protocol.PacketNumber]struct{}), largestObserved: protocol.InvalidPacketNumber}
}

type receivedPacketHandler struct {
	spaces      [protocol.NumEncryptionLevels]*receivedSpace
	perspective protocol.Perspective
	logger      utils.Logger
	ackDelay    time.Duration
}

func newReceivedPacketHandler(perspective protocol.Perspective, logger utils.Logger) ReceivedPacketHandler {
	h := &receivedPacketHandler{perspective: perspective, logger: logger, ackDelay: 25 * time.Millisecond}
	for i := range h.spaces {
		h.spaces[i] = newReceivedSpace()
	}
	return h
}

// ReceivedPacket implements AddPacketNumber: returns a duplicate error
// path via IsDuplicate instead of a bool, to keep the call shape
// closer to the teacher's (the connection core checks IsDuplicate
// itself before calling ReceivedPacket, see receive.go).
func (h *receivedPacketHandler) ReceivedPacket(pn protocol.PacketNumber, ecn protocol.ECN, encLevel protocol.EncryptionLevel, rcvTime time.Time, ackEliciting bool) error {
	sp := h.spaces[encLevel]
	sp.seen[pn] = struct{}{}
	if pn > sp.largestObserved {
		sp.largestObserved = pn
	}
	switch ecn {
	case protocol.ECT0:
		sp.ect0++
	case protocol.ECT1:
		sp.ect1++
	case protocol.ECNCE:
		sp.ce++
	}
	if ackEliciting {
		sp.ackQueued = true
		if sp.ackAlarm.IsZero() {
			sp.ackAlarm = rcvTime.Add(h.ackDelay)
		}
	}
	return nil
}

func (h *receivedPacketHandler) IsDuplicate(encLevel protocol.EncryptionLevel, pn protocol.PacketNumber) bool {
	_, ok := h.spaces[encLevel].seen[pn]
	return ok
}

func (h *receivedPacketHandler) LargestObserved(encLevel protocol.EncryptionLevel) protocol.PacketNumber {
	return h.spaces[encLevel].largestObserved
}

func (h *receivedPacketHandler) GetAlarmTimeout() time.Time {
	var earliest time.Time
	for _, sp := range h.spaces {
		if sp.ackAlarm.IsZero() {
			continue
		}
		if earliest.IsZero() || sp.ackAlarm.Before(earliest) {
			earliest = sp.ackAlarm
		}
	}
	return earliest
}

// GetAckFrame builds an ACK frame for encLevel if one is queued and
// returns nil otherwise. When onlyIfQueued is true (periodic flush path)
// it also returns nil while an armed ack alarm has not yet expired;
// callers wanting to force an immediate ACK (spec §4.1 "forced flush so
// ACK latency is not impaired") pass false.
func (h *receivedPacketHandler) GetAckFrame(encLevel protocol.EncryptionLevel, now time.Time, onlyIfQueued bool) *wire.AckFrame {
	sp := h.spaces[encLevel]
	if !sp.ackQueued {
		return nil
	}
	if onlyIfQueued && !sp.ackAlarm.IsZero() && now.Before(sp.ackAlarm) {
		return nil
	}
	pns := make([]protocol.PacketNumber, 0, len(sp.seen))
	for pn := range sp.seen {
		pns = append(pns, pn)
	}
	sort.Slice(pns, func(i, j int) bool { return pns[i] > pns[j] })

	var ranges []wire.AckRange
	for _, pn := range pns {
		if len(ranges) > 0 && ranges[len(ranges)-1].Smallest == pn+1 {
			ranges[len(ranges)-1].Smallest = pn
			continue
		}
		ranges = append(ranges, wire.AckRange{Smallest: pn, Largest: pn})
	}

	sp.ackQueued = false
	sp.ackAlarm = time.Time{}
	return &wire.AckFrame{
		AckRanges: ranges,
		DelayTime: protocol.ByteCount(h.ackDelay / time.Microsecond >> protocol.DefaultAckDelayExponent),
		ECT0:      sp.ect0, ECT1: sp.ect1, ECNCE: sp.ce,
	}
}

func (h *receivedPacketHandler) DropPackets(encLevel protocol.EncryptionLevel) {
	h.spaces[encLevel] = newReceivedSpace()
}
