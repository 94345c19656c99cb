package quicore

import (
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// connState enumerates the close/shutdown state machine (spec §4.5):
// a connection starts Active and moves to ClosingLocally or
// ClosingRemotely the first time either side decides to tear down. A
// peer CONNECTION_CLOSE, whether or not a local close came first, moves
// it into Draining - a bounded grace period during which nothing is
// sent - before the connection ends. A local close that never hears
// back from the peer ends when its closing deadline expires, without
// draining.
type connState int

const (
	StateActive connState = iota
	StateClosingLocally
	StateClosingRemotely
	StateDraining
	StateClosed
)

func (s connState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosingLocally:
		return "closing_locally"
	case StateClosingRemotely:
		return "closing_remotely"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// minDrainingPeriod is the RFC 9000 §10.2.1 floor placed under
// 2*SmoothedRtt; it applies whenever 2*SmoothedRtt is shorter,
// including before the first RTT sample.
const minDrainingPeriod = 15 * time.Millisecond

// closeState tracks the connection's shutdown and aggregates the
// local and peer-reported close reasons into one error (spec §4.5
// "ShutdownComplete carries the reason(s) the connection ended"). The
// deadline it arms is not a fixed constant: the caller (connection.go,
// frames.go) computes it per spec §4.5 - one PTO
// (LossDetection.ComputeProbeTimeout) for the locally-initiated
// closing period, max(15ms, 2*SmoothedRtt) for the remotely-initiated
// draining period - and passes it in via ArmDeadline.
type closeState struct {
	mu            sync.Mutex
	state         connState
	errs          *multierror.Error
	deadline      time.Time
	deadlineArmed bool
}

func newCloseState() *closeState {
	return &closeState{state: StateActive}
}

func (c *closeState) State() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CloseLocally transitions Active -> ClosingLocally, recording err.
// Calling it again, or calling it after a remote close, only appends
// to the error set - the state machine never regresses.
func (c *closeState) CloseLocally(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.errs = multierror.Append(c.errs, err)
	}
	if c.state != StateActive {
		return false
	}
	c.state = StateClosingLocally
	return true
}

func (c *closeState) CloseRemotely(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.errs = multierror.Append(c.errs, err)
	}
	if c.state != StateActive {
		return false
	}
	c.state = StateClosingRemotely
	return true
}

// ArmDeadline records the deadline for the current closing/draining
// period, if one has not already been armed. It is idempotent so a
// caller can call it speculatively on every drain iteration without
// resetting an already-running timer.
func (c *closeState) ArmDeadline(now time.Time, period time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deadlineArmed {
		return
	}
	c.deadline = now.Add(period)
	c.deadlineArmed = true
}

func (c *closeState) DeadlineArmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadlineArmed
}

// EnterDraining moves into the draining period regardless of which
// side initiated closing, (re-)arming the deadline after which the
// connection is torn down for good.
func (c *closeState) EnterDraining(now time.Time, period time.Duration) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateDraining
	c.deadline = now.Add(period)
	c.deadlineArmed = true
	c.mu.Unlock()
}

func (c *closeState) DrainDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

func (c *closeState) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
}

// Err returns the aggregated close reason, or nil if the connection
// never closed with an error.
func (c *closeState) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errs == nil {
		return nil
	}
	return c.errs.ErrorOrNil()
}

// remoteDrainPeriod computes the remotely-initiated draining period
// spec §4.5 requires: max(15ms, 2*SmoothedRtt).
func remoteDrainPeriod(c *Connection) time.Duration {
	period := 2 * c.rttStats.SmoothedRTT()
	if period < minDrainingPeriod {
		period = minDrainingPeriod
	}
	return period
}

// localClosingPeriod computes the locally-initiated closing-period
// shutdown timer spec §4.5 requires: one PTO.
func localClosingPeriod(c *Connection) time.Duration {
	return c.sentPacketHandler.ComputeProbeTimeout(0)
}
