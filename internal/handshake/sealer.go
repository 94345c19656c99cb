package handshake

import (
	"time"

	"github.com/nitishtalasu/msquic/internal/protocol"
)

// LongHeaderKeys is a concrete LongHeaderSealer+LongHeaderOpener pair
// derived from a single secret, used for the Initial level.
type LongHeaderKeys struct{ aead *derivedAEAD }

func NewLongHeaderKeys(secret []byte) (*LongHeaderKeys, error) {
	a, err := newDerivedAEAD(secret)
	if err != nil {
		return nil, err
	}
	return &LongHeaderKeys{aead: a}, nil
}

var (
	_ LongHeaderSealer = &LongHeaderKeys{}
	_ LongHeaderOpener = &LongHeaderKeys{}
)

func (k *LongHeaderKeys) Seal(dst, plaintext []byte, pn protocol.PacketNumber, ad []byte) []byte {
	return k.aead.aead.Seal(dst, k.aead.nonce(pn), plaintext, ad)
}

func (k *LongHeaderKeys) Open(dst, ciphertext []byte, pn protocol.PacketNumber, ad []byte) ([]byte, error) {
	out, err := k.aead.aead.Open(dst, k.aead.nonce(pn), ciphertext, ad)
	if err != nil {
		return nil, errAuthFailed
	}
	return out, nil
}

func (k *LongHeaderKeys) Overhead() int { return k.aead.Overhead() }
func (k *LongHeaderKeys) EncryptHeader(sample []byte, firstByte *byte, pnBytes []byte) {
	k.aead.EncryptHeader(sample, firstByte, pnBytes)
}
func (k *LongHeaderKeys) DecryptHeader(sample []byte, firstByte *byte, pnBytes []byte) {
	k.aead.DecryptHeader(sample, firstByte, pnBytes)
}
func (k *LongHeaderKeys) DecodePacketNumber(wirePN protocol.PacketNumber, l protocol.PacketNumberLen) protocol.PacketNumber {
	return k.aead.DecodePacketNumber(wirePN, l)
}

// ShortHeaderKeys adds key-phase bookkeeping on top of a derivedAEAD
// pair, used for the 1-RTT level (spec §4.2 "Key-phase handling").
type ShortHeaderKeys struct {
	aead     *derivedAEAD
	keyPhase protocol.KeyPhaseBit
}

func NewShortHeaderKeys(secret []byte, phase protocol.KeyPhaseBit) (*ShortHeaderKeys, error) {
	a, err := newDerivedAEAD(secret)
	if err != nil {
		return nil, err
	}
	return &ShortHeaderKeys{aead: a, keyPhase: phase}, nil
}

var (
	_ ShortHeaderSealer = &ShortHeaderKeys{}
	_ ShortHeaderOpener = &ShortHeaderKeys{}
)

func (k *ShortHeaderKeys) Seal(dst, plaintext []byte, pn protocol.PacketNumber, ad []byte) []byte {
	return k.aead.aead.Seal(dst, k.aead.nonce(pn), plaintext, ad)
}

func (k *ShortHeaderKeys) Open(dst, ciphertext []byte, _ time.Time, pn protocol.PacketNumber, _ protocol.KeyPhaseBit, ad []byte) ([]byte, error) {
	out, err := k.aead.aead.Open(dst, k.aead.nonce(pn), ciphertext, ad)
	if err != nil {
		return nil, errAuthFailed
	}
	return out, nil
}

func (k *ShortHeaderKeys) Overhead() int                  { return k.aead.Overhead() }
func (k *ShortHeaderKeys) KeyPhase() protocol.KeyPhaseBit { return k.keyPhase }
func (k *ShortHeaderKeys) EncryptHeader(sample []byte, firstByte *byte, pnBytes []byte) {
	k.aead.EncryptHeader(sample, firstByte, pnBytes)
}
func (k *ShortHeaderKeys) DecryptHeader(sample []byte, firstByte *byte, pnBytes []byte) {
	k.aead.DecryptHeader(sample, firstByte, pnBytes)
}
func (k *ShortHeaderKeys) DecodePacketNumber(wirePN protocol.PacketNumber, l protocol.PacketNumberLen) protocol.PacketNumber {
	return k.aead.DecodePacketNumber(wirePN, l)
}

// nullLongHeaderAEAD and nullShortHeaderAEAD are the teacher's no-op
// AEAD, kept as a demo/test backend for exercising the contract without
// a real TLS engine driving key derivation (spec §1 treats the TLS
// engine as an external collaborator; these stand in for it in tests
// the same way the teacher's crypto.go does).
type nullLongHeaderAEAD struct{}

var (
	_ LongHeaderSealer = &nullLongHeaderAEAD{}
	_ LongHeaderOpener = &nullLongHeaderAEAD{}
)

func (n *nullLongHeaderAEAD) Seal(dst, plaintext []byte, pn protocol.PacketNumber, ad []byte) []byte {
	return append(dst, plaintext...)
}
func (n *nullLongHeaderAEAD) Open(dst, ciphertext []byte, pn protocol.PacketNumber, ad []byte) ([]byte, error) {
	return append(dst, ciphertext...), nil
}
func (n *nullLongHeaderAEAD) Overhead() int                                                 { return 0 }
func (n *nullLongHeaderAEAD) EncryptHeader(sample []byte, firstByte *byte, pnBytes []byte)   {}
func (n *nullLongHeaderAEAD) DecryptHeader(sample []byte, firstByte *byte, pnBytes []byte)   {}
func (n *nullLongHeaderAEAD) DecodePacketNumber(wirePN protocol.PacketNumber, _ protocol.PacketNumberLen) protocol.PacketNumber {
	return wirePN
}

type nullShortHeaderAEAD struct{}

var (
	_ ShortHeaderSealer = &nullShortHeaderAEAD{}
	_ ShortHeaderOpener = &nullShortHeaderAEAD{}
)

func (n *nullShortHeaderAEAD) Seal(dst, plaintext []byte, pn protocol.PacketNumber, ad []byte) []byte {
	return append(dst, plaintext...)
}
func (n *nullShortHeaderAEAD) Open(dst, ciphertext []byte, rcvTime time.Time, pn protocol.PacketNumber, kp protocol.KeyPhaseBit, ad []byte) ([]byte, error) {
	return append(dst, ciphertext...), nil
}
func (n *nullShortHeaderAEAD) Overhead() int                  { return 0 }
func (n *nullShortHeaderAEAD) KeyPhase() protocol.KeyPhaseBit { return protocol.KeyPhaseZero }
func (n *nullShortHeaderAEAD) EncryptHeader(sample []byte, firstByte *byte, pnBytes []byte) {}
func (n *nullShortHeaderAEAD) DecryptHeader(sample []byte, firstByte *byte, pnBytes []byte) {}
func (n *nullShortHeaderAEAD) DecodePacketNumber(wirePN protocol.PacketNumber, _ protocol.PacketNumberLen) protocol.PacketNumber {
	return wirePN
}

// NewNullLongHeaderAEAD and NewNullShortHeaderAEAD expose the no-op
// backend to other packages (connection.go's test/demo construction
// path).
func NewNullLongHeaderAEAD() (LongHeaderSealer, LongHeaderOpener) {
	a := &nullLongHeaderAEAD{}
	return a, a
}

func NewNullShortHeaderAEAD() (ShortHeaderSealer, ShortHeaderOpener) {
	a := &nullShortHeaderAEAD{}
	return a, a
}
