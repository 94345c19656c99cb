package handshake

import (
	"bytes"
	"time"

	"github.com/nitishtalasu/msquic/internal/protocol"
)

// Event is the out-of-band signal the CryptoEngine raises when it has
// produced new handshake bytes, derived new keys, or finished.
type Event int

const (
	EventNone Event = iota
	EventWriteCryptoData
	EventReceivedTransportParameters
	EventHandshakeComplete
)

// SecConfig is an opaque, out-of-scope TLS configuration handle (spec
// §6 "SEC_CONFIG"). The connection core only ever passes it through.
type SecConfig struct {
	ServerName string
	IsClient   bool
}

// ConnectionState carries user-visible TLS results (negotiated ALPN,
// peer certs) the connection core exposes via the parameter surface.
type ConnectionState struct {
	NegotiatedALPN string
	ServerName     string
}

// CryptoEngine is the TLS engine contract (spec §6). The real engine
// (certificate chains, transcript hashing, 1-RTT secret export) is an
// out-of-scope external collaborator; this interface is everything the
// connection core is allowed to depend on.
type CryptoEngine interface {
	Initialize() error
	InitializeTls(cfg *SecConfig, localTP []byte) error
	ProcessFrame(level protocol.EncryptionLevel, data []byte) error
	ProcessData(late bool) error
	GenerateNewKeys() (ShortHeaderSealer, ShortHeaderOpener, error)
	DiscardKeys(level protocol.EncryptionLevel)
	UpdateKeyPhase(local bool) error
	ReadTicket(probe bool, buf []byte) (int, error)
	NextEvent() Event
	HandshakeComplete() bool
	ConnectionState() ConnectionState
	Close() error
}

// fakeEngine is a minimal, deterministic CryptoEngine used by the demo
// binaries and tests in place of a real TLS 1.3 stack: it exchanges a
// single CRYPTO frame each way and derives packet-protection keys from
// the Initial secrets (handshake.DeriveInitialSecrets) rather than a
// real transcript. It satisfies the contract; it provides none of TLS's
// security properties, exactly like the teacher's null AEAD.
type fakeEngine struct {
	perspective protocol.Perspective
	destConnID  protocol.ConnectionID
	cfg         *SecConfig
	sentHello   bool
	gotPeerMsg  bool
	complete    bool
	keyGen      uint64
	events      []Event
}

func NewFakeEngine(perspective protocol.Perspective, destConnID protocol.ConnectionID) CryptoEngine {
	return &fakeEngine{perspective: perspective, destConnID: destConnID}
}

func (e *fakeEngine) Initialize() error { return nil }

func (e *fakeEngine) InitializeTls(cfg *SecConfig, _ []byte) error {
	e.cfg = cfg
	if e.perspective == protocol.PerspectiveClient {
		e.sentHello = true
		e.events = append(e.events, EventWriteCryptoData)
	}
	return nil
}

func (e *fakeEngine) ProcessFrame(level protocol.EncryptionLevel, data []byte) error {
	if bytes.Contains(data, []byte("hello")) {
		e.gotPeerMsg = true
		if e.perspective == protocol.PerspectiveServer && !e.sentHello {
			e.sentHello = true
			e.events = append(e.events, EventWriteCryptoData)
		}
		e.complete = true
		e.events = append(e.events, EventReceivedTransportParameters, EventHandshakeComplete)
	}
	return nil
}

func (e *fakeEngine) ProcessData(bool) error { return nil }

func (e *fakeEngine) GenerateNewKeys() (ShortHeaderSealer, ShortHeaderOpener, error) {
	e.keyGen++
	_, serverSecret, err := DeriveInitialSecrets(e.destConnID)
	if err != nil {
		return nil, nil, err
	}
	phase := protocol.KeyPhaseZero
	if e.keyGen%2 == 1 {
		phase = protocol.KeyPhaseOne
	}
	k, err := NewShortHeaderKeys(append(serverSecret, byte(e.keyGen)), phase)
	if err != nil {
		return nil, nil, err
	}
	return k, k, nil
}

func (e *fakeEngine) DiscardKeys(protocol.EncryptionLevel) {}

func (e *fakeEngine) UpdateKeyPhase(bool) error { return nil }

func (e *fakeEngine) ReadTicket(probe bool, buf []byte) (int, error) {
	ticket := []byte("fake-session-ticket")
	if probe {
		return len(ticket), nil
	}
	n := copy(buf, ticket)
	return n, nil
}

func (e *fakeEngine) NextEvent() Event {
	if len(e.events) == 0 {
		return EventNone
	}
	ev := e.events[0]
	e.events = e.events[1:]
	return ev
}

func (e *fakeEngine) HandshakeComplete() bool { return e.complete }

func (e *fakeEngine) ConnectionState() ConnectionState {
	name := ""
	if e.cfg != nil {
		name = e.cfg.ServerName
	}
	return ConnectionState{NegotiatedALPN: "quicore-demo", ServerName: name}
}

func (e *fakeEngine) Close() error { return nil }

// HelloMessage is the fake handshake payload the demo engine exchanges,
// exported so connection.go can build the first CRYPTO frame.
func HelloMessage(perspective protocol.Perspective) []byte {
	if perspective == protocol.PerspectiveClient {
		return []byte("client hello " + time.Now().Format(time.RFC3339Nano))
	}
	return []byte("server hello")
}
