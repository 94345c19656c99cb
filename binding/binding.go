// Package binding maps connection IDs to the owning connection, and
// derives the stateless reset tokens handed out with every CID a
// connection offers (spec GLOSSARY "stateless reset token").
package binding

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"sync"

	"github.com/nitishtalasu/msquic/internal/protocol"
)

// Binding owns the HMAC key used to derive stateless
// reset tokens and the table that routes an incoming datagram's
// destination CID to a connection.
type Binding struct {
	key []byte

	mu    sync.RWMutex
	conns map[string]any
}

// NewBinding generates a fresh random HMAC key. Restarting the
// process invalidates previously issued reset tokens, matching the
// RFC 9000 §10.3 guidance that the key need only be stable for the
// lifetime of the connections it was issued to.
func NewBinding() (*Binding, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &Binding{key: key, conns: make(map[string]any)}, nil
}

// GenerateStatelessResetToken derives a token deterministically from
// the connection ID, so that regenerating it later (e.g. to answer a
// peer that lost the original NEW_CONNECTION_ID frame) reproduces the
// same value without persisting per-CID state.
func (b *Binding) GenerateStatelessResetToken(cid protocol.ConnectionID) protocol.StatelessResetToken {
	mac := hmac.New(sha256.New, b.key)
	mac.Write(cid.Bytes())
	sum := mac.Sum(nil)
	var token protocol.StatelessResetToken
	copy(token[:], sum[:16])
	return token
}

// VerifyStatelessReset reports whether token is the one this binding
// would have issued for cid, letting a connection recognize its own
// stateless reset signal when it arrives as an otherwise-unparseable
// short header packet.
func (b *Binding) VerifyStatelessReset(cid protocol.ConnectionID, token protocol.StatelessResetToken) bool {
	want := b.GenerateStatelessResetToken(cid)
	return hmac.Equal(want[:], token[:])
}

// Register associates a CID with its owning connection object so
// future datagrams addressed to that CID can be routed without a
// linear scan.
func (b *Binding) Register(cid protocol.ConnectionID, conn any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[string(cid.Bytes())] = conn
}

func (b *Binding) Unregister(cid protocol.ConnectionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, string(cid.Bytes()))
}

func (b *Binding) Lookup(cid protocol.ConnectionID) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conn, ok := b.conns[string(cid.Bytes())]
	return conn, ok
}
