package utils

import "time"

// RTTStats implements the RTT estimator of spec §4.8, verbatim formula.
type RTTStats struct {
	latestRTT  time.Duration
	smoothedRTT time.Duration
	rttVariance time.Duration
	minRTT      time.Duration
	maxRTT      time.Duration
	hasFirstSample bool
}

// UpdateRTT records a fresh sample, ignoring ackDelay beyond latestRTT
// (msquic clamps the ack-delay subtraction the same way).
func (r *RTTStats) UpdateRTT(sendDelta, ackDelay time.Duration) {
	if sendDelta <= 0 {
		return
	}
	latest := sendDelta
	if ackDelay > 0 && latest > ackDelay {
		latest -= ackDelay
	}
	r.latestRTT = latest

	if r.minRTT == 0 || latest < r.minRTT {
		r.minRTT = latest
	}
	if latest > r.maxRTT {
		r.maxRTT = latest
	}

	if !r.hasFirstSample {
		r.smoothedRTT = latest
		r.rttVariance = latest / 2
		r.hasFirstSample = true
		return
	}

	// Var = 3/4*Var + 1/4*|Smoothed - Latest|
	diff := r.smoothedRTT - latest
	if diff < 0 {
		diff = -diff
	}
	r.rttVariance = (3*r.rttVariance + diff) / 4
	// Smoothed = (7*Smoothed + Latest) / 8
	r.smoothedRTT = (7*r.smoothedRTT + latest) / 8
}

func (r *RTTStats) LatestRTT() time.Duration   { return r.latestRTT }
func (r *RTTStats) SmoothedRTT() time.Duration { return r.smoothedRTT }
func (r *RTTStats) RTTVariance() time.Duration { return r.rttVariance }
func (r *RTTStats) MinRTT() time.Duration      { return r.minRTT }
func (r *RTTStats) MaxRTT() time.Duration      { return r.maxRTT }
func (r *RTTStats) HasFirstSample() bool       { return r.hasFirstSample }

// PTO computes a probe timeout: smoothed + max(4*variance, granularity),
// plus the peer's max ack delay, doubled per retransmission attempt.
func (r *RTTStats) PTO(maxAckDelay time.Duration, attempt int) time.Duration {
	granularity := time.Millisecond
	rttVar := 4 * r.rttVariance
	if rttVar < granularity {
		rttVar = granularity
	}
	base := r.smoothedRTT + rttVar + maxAckDelay
	if base <= 0 {
		base = 999 * time.Millisecond
	}
	for i := 0; i < attempt; i++ {
		base *= 2
	}
	const maxPTO = 60 * time.Second
	if base > maxPTO {
		base = maxPTO
	}
	return base
}
