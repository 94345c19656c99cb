// Package quicore implements the connection-core half of a QUIC
// stack: the per-connection state machine that turns received
// datagrams into delivered stream data and application writes into
// outgoing packets. Framing, header protection, loss detection and
// congestion control live in internal/ subpackages; this package owns
// the single-worker operation queue that drives them (spec §2, §4.1).
package quicore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nitishtalasu/msquic/binding"
	"github.com/nitishtalasu/msquic/datapath"
	"github.com/nitishtalasu/msquic/internal/ackhandler"
	"github.com/nitishtalasu/msquic/internal/congestion"
	"github.com/nitishtalasu/msquic/internal/flowcontrol"
	"github.com/nitishtalasu/msquic/internal/handshake"
	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/qerr"
	"github.com/nitishtalasu/msquic/internal/utils"
	"github.com/nitishtalasu/msquic/internal/wire"
	"github.com/nitishtalasu/msquic/logging"
	"github.com/nitishtalasu/msquic/sessioncache"
)

// DefaultIdleTimeout is the fallback idle timeout used when no config
// overrides it (spec §4.9's ParamIdleTimeout default).
const DefaultIdleTimeout = time.Duration(protocol.DefaultIdleTimeoutMs) * time.Millisecond

type closeError struct {
	err       error
	immediate bool
}

// Connection is one QUIC-core connection: an operation queue, a set
// of packet spaces, the stream set, and the ack/congestion/flow
// collaborators that the spec treats as external but that the
// teacher's connection.go already wires in by call shape (spec §2
// "Connection owns exactly the state enumerated here").
type Connection struct {
	transport   datapath.Transport
	perspective protocol.Perspective
	isClient    bool
	ctx         context.Context
	cancel      context.CancelFunc

	destConnID protocol.ConnectionID
	srcConnID  protocol.ConnectionID
	srcCIDs    *cidTable
	destCIDs   *cidTable

	binding       *binding.Binding
	nextSrcCIDSeq uint64

	streamsMap *streamsMap

	sentPacketHandler     ackhandler.SentPacketHandler
	receivedPacketHandler ackhandler.ReceivedPacketHandler
	congestionController  congestion.SendAlgorithmWithDebugInfos
	connFlowController    flowcontrol.ConnectionFlowController
	rttStats              *utils.RTTStats

	cryptoEngine handshake.CryptoEngine
	spaces       *packetSpaces

	framer              *framer
	retransmissionQueue *retransmissionQueue
	logger              utils.Logger
	tracer              *logging.ConnectionTracer

	ops    *operationQueue
	timers *timerArray
	close  *closeState

	handshakeComplete     bool
	handshakeCompleteChan chan struct{}
	handshakeTimeout      time.Duration
	handshakeAttempts     int
	initialKeysDropped    bool
	initialPacketSent     bool

	closeChan chan struct{}
	closeErr  atomic.Pointer[closeError]
	closeOnce sync.Once

	idleTimeout            time.Duration
	lastPacketReceivedTime time.Time

	keepAliveInterval time.Duration
	keepAlivePingSent bool

	version protocol.Version

	// Retry processing state (spec §4.3, client-only).
	gotFirstServerResponse bool
	receivedRetryPacket    bool
	origDestCID            protocol.ConnectionID
	initialToken           []byte

	serverName      string
	resumptionCache *sessioncache.Cache
}

// NewConnection constructs a connection in its initial Active state.
// Initial keys are derived from the destination CID (installInitialKeys);
// the 0-RTT, Handshake and 1-RTT levels start with the teacher's null
// AEAD (internal/handshake's demo backend) until other keys are
// installed via spaces.InstallLongKeys/InstallShortKeys.
func NewConnection(transport datapath.Transport, isClient bool, tracer *logging.ConnectionTracer) (*Connection, error) {
	srcConnID, err := protocol.GenerateConnectionID(protocol.ConnectionIDLength)
	if err != nil {
		return nil, err
	}
	destConnID, err := protocol.GenerateConnectionID(protocol.ConnectionIDLength)
	if err != nil {
		return nil, err
	}

	perspective := protocol.PerspectiveServer
	if isClient {
		perspective = protocol.PerspectiveClient
	}

	logger := utils.NewLogger(nil, perspective.String())
	rttStats := &utils.RTTStats{}

	c := &Connection{
		transport:              transport,
		perspective:            perspective,
		isClient:               isClient,
		destConnID:             destConnID,
		srcConnID:              srcConnID,
		srcCIDs:                newCidTable(protocol.DefaultActiveCidLimit),
		destCIDs:                newCidTable(protocol.DefaultActiveCidLimit),
		rttStats:               rttStats,
		spaces:                 newPacketSpaces(),
		logger:                 logger,
		tracer:                 tracer,
		ops:                    newOperationQueue(),
		timers:                 newTimerArray(),
		close:                  newCloseState(),
		handshakeCompleteChan:  make(chan struct{}),
		handshakeTimeout:       1 * time.Second,
		idleTimeout:            DefaultIdleTimeout,
		keepAliveInterval:      DefaultIdleTimeout / 2,
		lastPacketReceivedTime: time.Now(),
		closeChan:              make(chan struct{}, 1),
		version:                protocol.Version1,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	b, err := binding.NewBinding()
	if err != nil {
		return nil, err
	}
	c.binding = b
	c.nextSrcCIDSeq = 1
	if err := c.srcCIDs.Add(0, srcConnID, b.GenerateStatelessResetToken(srcConnID)); err != nil {
		return nil, err
	}
	c.binding.Register(srcConnID, c)

	shortSealer, shortOpener := handshake.NewNullShortHeaderAEAD()
	c.spaces.InstallShortKeys(shortSealer, shortOpener)
	for lvl := protocol.EncryptionLevel(0); lvl < protocol.NumEncryptionLevels; lvl++ {
		if lvl == protocol.Encryption1RTT || lvl == protocol.EncryptionInitial {
			continue
		}
		longSealer, longOpener := handshake.NewNullLongHeaderAEAD()
		c.spaces.InstallLongKeys(lvl, longSealer, longOpener)
	}
	if err := c.installInitialKeys(destConnID); err != nil {
		return nil, err
	}

	c.connFlowController = flowcontrol.NewConnectionFlowController(
		protocol.DefaultInitialMaxData,
		protocol.DefaultMaxReceiveConnectionFlowControlWindow,
		func(protocol.ByteCount) bool { return true },
		c.rttStats,
		c.logger,
	)
	c.connFlowController.UpdateSendWindow(protocol.DefaultInitialMaxData)

	c.framer = newFramer(c.connFlowController)

	c.streamsMap = newStreamsMap(
		c.ctx,
		c,
		c.framer.QueueControlFrame,
		func(id protocol.StreamID) flowcontrol.StreamFlowController {
			return flowcontrol.NewStreamFlowController(
				id,
				c.connFlowController,
				protocol.DefaultInitialMaxStreamData,
				protocol.DefaultMaxReceiveConnectionFlowControlWindow,
				protocol.DefaultInitialMaxStreamData,
				c.rttStats,
				c.logger,
			)
		},
		protocol.DefaultMaxIncomingStreams,
		protocol.DefaultMaxIncomingUniStreams,
		perspective,
	)
	c.streamsMap.HandleMaxStreamsFrame(&wire.MaxStreamsFrame{Type: protocol.StreamTypeBidi, MaxStreamNum: protocol.DefaultMaxIncomingStreams})
	c.streamsMap.HandleMaxStreamsFrame(&wire.MaxStreamsFrame{Type: protocol.StreamTypeUni, MaxStreamNum: protocol.DefaultMaxIncomingUniStreams})

	c.retransmissionQueue = newRetransmissionQueue(c)
	c.congestionController = congestion.NewCubicSender(congestion.DefaultClock{}, c.rttStats, protocol.InitialPacketSize, true, tracer)

	sentPacketHandler, receivedPacketHandler := ackhandler.NewAckHandler(0, protocol.InitialPacketSize, c.rttStats, !isClient, true, perspective, tracer, c.logger)
	c.sentPacketHandler = sentPacketHandler
	c.receivedPacketHandler = receivedPacketHandler

	c.cryptoEngine = handshake.NewFakeEngine(perspective, destConnID)
	if err := c.cryptoEngine.Initialize(); err != nil {
		return nil, err
	}
	if err := c.cryptoEngine.InitializeTls(&handshake.SecConfig{IsClient: isClient}, nil); err != nil {
		return nil, err
	}

	if tracer != nil && tracer.StartedConnection != nil {
		tracer.StartedConnection(perspective.String(), "", srcConnID, destConnID)
	}

	c.advanceHandshake()

	return c, nil
}

// installInitialKeys derives RFC 9001 §5.2 Initial secrets from
// destConnID and installs them as the Initial packet space's long
// header keys, used both at construction time and after a Retry
// changes the destination connection ID (spec §4.3).
func (c *Connection) installInitialKeys(destConnID protocol.ConnectionID) error {
	clientSecret, serverSecret, err := handshake.DeriveInitialSecrets(destConnID)
	if err != nil {
		return err
	}
	mySecret, peerSecret := serverSecret, clientSecret
	if c.isClient {
		mySecret, peerSecret = clientSecret, serverSecret
	}
	sealer, err := handshake.NewLongHeaderKeys(mySecret)
	if err != nil {
		return err
	}
	opener, err := handshake.NewLongHeaderKeys(peerSecret)
	if err != nil {
		return err
	}
	c.spaces.InstallLongKeys(protocol.EncryptionInitial, sealer, opener)
	return nil
}

// Run drives the connection until ctx is canceled, a protocol error
// occurs, or the peer closes it, replacing the teacher's two
// independent send/receive goroutines with one datagram-reading
// goroutine feeding a single-worker drain loop (spec §2, §4.1).
func (c *Connection) Run(ctx context.Context) error {
	readErrs := make(chan error, 1)
	go c.readLoop(readErrs)

	drainErr := c.drainLoop(ctx)

	c.Close(drainErr)
	<-readErrs

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return drainErr
}

func (c *Connection) readLoop(errs chan<- error) {
	for {
		data, ecn, err := c.transport.ReadPacket()
		if err != nil {
			errs <- nil
			return
		}
		rcvTime := time.Now()
		c.ops.PushBack(func(c *Connection) {
			c.handleDatagram(data, ecn, rcvTime)
		})
	}
}

// drainLoop is the connection's single worker: it executes queued
// operations in MaxOperationsPerDrain-sized batches and, once the
// queue is empty, blocks until either more work arrives or the
// earliest armed timer fires (spec §4.1, §4.6).
func (c *Connection) drainLoop(ctx context.Context) error {
	for {
		for _, op := range c.ops.DrainUpTo(protocol.MaxOperationsPerDrain) {
			op(c)
		}

		switch c.close.State() {
		case StateDraining:
			if !time.Now().Before(c.close.DrainDeadline()) {
				return c.close.Err()
			}
		case StateClosingLocally, StateClosingRemotely:
			if err := c.sendPackets(); err != nil {
				return err
			}
			if !c.close.DeadlineArmed() {
				c.close.ArmDeadline(time.Now(), localClosingPeriod(c))
			} else if !time.Now().Before(c.close.DrainDeadline()) {
				return c.close.Err()
			}
		default:
			if err := c.sendPackets(); err != nil {
				return err
			}
		}
		c.rearmTimers()

		deadline := c.close.DrainDeadline()
		hasTimer := c.close.State() == StateDraining
		if t, d, ok := c.timers.Next(); ok && (!hasTimer || d.Before(deadline)) {
			deadline, hasTimer = d, true
			_ = t
		}
		var timerChan <-chan time.Time
		var timer *time.Timer
		if hasTimer {
			timer = time.NewTimer(time.Until(deadline))
			timerChan = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-c.ops.Signal():
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-timerChan:
			if err := c.handleTimers(time.Now()); err != nil {
				return err
			}
		}
	}
}

func (c *Connection) rearmTimers() {
	now := time.Now()
	if lossTime := c.sentPacketHandler.GetLossDetectionTimeout(); !lossTime.IsZero() {
		c.timers.Set(TimerLossDetection, lossTime)
	} else {
		c.timers.Cancel(TimerLossDetection)
	}
	if ackTime := c.receivedPacketHandler.GetAlarmTimeout(); !ackTime.IsZero() {
		c.timers.Set(TimerAck, ackTime)
	} else {
		c.timers.Cancel(TimerAck)
	}
	c.timers.Set(TimerIdle, c.lastPacketReceivedTime.Add(c.idleTimeout))
	if c.sentPacketHandler.BytesInFlight() == 0 && !c.keepAlivePingSent {
		c.timers.Set(TimerKeepAlive, c.lastPacketReceivedTime.Add(c.keepAliveInterval))
	} else {
		c.timers.Cancel(TimerKeepAlive)
	}
	_ = now
}

func (c *Connection) handleTimers(now time.Time) error {
	for _, t := range c.timers.Expired(now) {
		switch t {
		case TimerLossDetection:
			if err := c.sentPacketHandler.OnLossDetectionTimeout(now); err != nil {
				return err
			}
			c.handshakeAttempts++
			c.framer.QueueControlFrame(&wire.PingFrame{})
			c.scheduleSending()
		case TimerIdle:
			c.closeLocal(qerr.NewStatusError(qerr.StatusConnectionIdle, "idle timeout"))
			return c.close.Err()
		case TimerKeepAlive:
			c.framer.QueueControlFrame(&wire.PingFrame{})
			c.keepAlivePingSent = true
			c.scheduleSending()
		case TimerAck:
			c.scheduleSending()
		}
	}
	return nil
}

func (c *Connection) OpenStream(ctx context.Context) (*Stream, error) {
	select {
	case <-c.handshakeCompleteChan:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
	return c.streamsMap.OpenStream()
}

func (c *Connection) AcceptStream(ctx context.Context) (*Stream, error) {
	return c.streamsMap.AcceptStream(ctx)
}

func (c *Connection) scheduleSending() {
	c.ops.PushBack(func(*Connection) {})
}

func (c *Connection) onHasConnectionData() { c.scheduleSending() }

func (c *Connection) onHasStreamData(id protocol.StreamID, s *Stream) {
	c.ops.PushBack(func(c *Connection) {
		c.framer.AddActiveStream(id, s)
	})
}

func (c *Connection) onHasStreamControlFrame(id protocol.StreamID, s streamControlFrameGetter) {
	c.ops.PushBack(func(c *Connection) {
		c.framer.AddStreamWithControlFrames(id, s)
	})
}

func (c *Connection) onStreamCompleted(id protocol.StreamID) {
	if err := c.streamsMap.DeleteStream(id); err != nil {
		c.closeLocal(err)
	}
	c.framer.RemoveActiveStream(id)
}

// Close tears the connection down immediately: the transport closes
// and every blocked stream call returns err. For a graceful
// CONNECTION_CLOSE handshake use closeLocal from inside the drain
// loop instead (close.go's state machine governs that path).
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.close.CloseLocally(err)
		c.close.Finish()
		c.cancel()
		c.transport.Close()
		c.ops.Close()
		if c.streamsMap != nil {
			c.streamsMap.CloseWithError(err)
		}
	})
}

func (c *Connection) closeLocal(e error) {
	c.setCloseError(&closeError{err: e, immediate: false})
	if c.close.CloseLocally(e) {
		c.queueConnectionClose(e)
	}
}

// queueConnectionClose schedules emission of a CONNECTION_CLOSE frame
// carrying e's wire-visible error code (spec §4.5, §7). StatusError
// values never cross the wire; a status-only close (idle timeout,
// internal failure) either sends a generic INTERNAL_ERROR or, for
// statuses where RFC 9000 prescribes silence (idle timeout), sends
// nothing at all.
func (c *Connection) queueConnectionClose(e error) {
	if e == nil {
		return
	}
	code := qerr.InternalError
	reason := e.Error()
	switch te := e.(type) {
	case *qerr.TransportError:
		code = te.Code
		reason = te.Reason
	case *qerr.StatusError:
		if te.Status == qerr.StatusConnectionIdle {
			return
		}
		code = qerr.InternalError
		reason = te.Reason
	}
	c.framer.QueueControlFrame(&wire.ConnectionCloseFrame{
		ErrorCode:    uint64(code),
		ReasonPhrase: reason,
	})
	c.scheduleSending()
}

func (c *Connection) setCloseError(e *closeError) {
	c.closeErr.CompareAndSwap(nil, e)
	select {
	case c.closeChan <- struct{}{}:
	default:
	}
}

// UseResumptionCache attaches an on-disk resumption ticket store (spec
// §4.7, §6 "Persisted state") that GetResumptionState writes through to
// under serverName. Call before Run; nil is a valid no-op cache.
func (c *Connection) UseResumptionCache(cache *sessioncache.Cache, serverName string) {
	c.resumptionCache = cache
	c.serverName = serverName
}

// GetResumptionState implements the probe-then-fill RESUMPTION_STATE
// contract (spec §4.9, SPEC_FULL.md C.6): called with buf == nil it
// reports the ticket size without copying anything; called again with
// a buffer of that size it fills buf and persists the ticket to the
// resumption cache, matching msquic's QUIC_PARAM_CONN_RESUMPTION_STATE
// two-call shape.
func (c *Connection) GetResumptionState(buf []byte) (int, error) {
	n, err := c.cryptoEngine.ReadTicket(buf == nil, buf)
	if err != nil {
		return 0, err
	}
	if buf != nil && c.resumptionCache != nil && c.serverName != "" {
		c.resumptionCache.Put(c.serverName, append([]byte(nil), buf[:n]...))
	}
	return n, nil
}

func (c *Connection) side() string {
	if c.isClient {
		return "CLIENT"
	}
	return "SERVER"
}
