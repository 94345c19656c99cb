package quicore

import (
	"fmt"
	"time"
)

// ParamID names one tunable of a running connection (spec §4.9
// "typed parameter get/set surface"). Every ID here has exactly one
// Go type associated with it; GetParam/SetParam reject mismatches
// instead of silently coercing.
type ParamID int

const (
	ParamIdleTimeout ParamID = iota
	ParamKeepAliveInterval
	ParamMaxIncomingBidiStreams
	ParamMaxIncomingUniStreams
	ParamHandshakeComplete
	ParamBytesInFlight
)

func (p ParamID) String() string {
	switch p {
	case ParamIdleTimeout:
		return "IdleTimeout"
	case ParamKeepAliveInterval:
		return "KeepAliveInterval"
	case ParamMaxIncomingBidiStreams:
		return "MaxIncomingBidiStreams"
	case ParamMaxIncomingUniStreams:
		return "MaxIncomingUniStreams"
	case ParamHandshakeComplete:
		return "HandshakeComplete"
	case ParamBytesInFlight:
		return "BytesInFlight"
	default:
		return "Unknown"
	}
}

// GetParam reads a live connection tunable by ID, queued through the
// operation queue so it's consistent with any in-flight mutation
// (spec §4.9 "parameter access must not race the drain loop").
func (c *Connection) GetParam(id ParamID) (any, error) {
	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)
	c.ops.PushFront(func(c *Connection) {
		switch id {
		case ParamIdleTimeout:
			done <- result{val: c.idleTimeout}
		case ParamKeepAliveInterval:
			done <- result{val: c.keepAliveInterval}
		case ParamMaxIncomingBidiStreams:
			done <- result{val: c.streamsMap.maxBidiStreams}
		case ParamMaxIncomingUniStreams:
			done <- result{val: c.streamsMap.maxUniStreams}
		case ParamHandshakeComplete:
			done <- result{val: c.handshakeComplete}
		case ParamBytesInFlight:
			done <- result{val: c.sentPacketHandler.BytesInFlight()}
		default:
			done <- result{err: fmt.Errorf("quicore: unknown parameter %v", id)}
		}
	})
	select {
	case r := <-done:
		return r.val, r.err
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

// SetParam applies a live tunable change. Only parameters meaningful
// to change post-construction are settable; stream limits are
// negotiated by the peer and therefore read-only here.
func (c *Connection) SetParam(id ParamID, value any) error {
	errCh := make(chan error, 1)
	c.ops.PushFront(func(c *Connection) {
		switch id {
		case ParamIdleTimeout:
			d, ok := value.(time.Duration)
			if !ok {
				errCh <- fmt.Errorf("quicore: IdleTimeout wants time.Duration, got %T", value)
				return
			}
			c.idleTimeout = d
			errCh <- nil
		case ParamKeepAliveInterval:
			d, ok := value.(time.Duration)
			if !ok {
				errCh <- fmt.Errorf("quicore: KeepAliveInterval wants time.Duration, got %T", value)
				return
			}
			c.keepAliveInterval = d
			errCh <- nil
		default:
			errCh <- fmt.Errorf("quicore: parameter %v is not settable", id)
		}
	})
	select {
	case err := <-errCh:
		return err
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}
