// Package handshake defines the packet-protection contract the
// connection core calls into (spec §6 "TLS engine") and a concrete AEAD
// backend derived from the QUIC Initial secrets (RFC 9001 §5.2), used
// to exercise that contract end to end in tests and the demo binaries.
//
// The TLS engine itself — certificate validation, the handshake state
// machine, 1-RTT secret derivation from the real handshake transcript —
// is an out-of-scope external collaborator per spec §1; only the sealer
///opener contract it must satisfy lives here.
package handshake

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/nitishtalasu/msquic/internal/protocol"
)

// LongHeaderSealer protects Initial, 0-RTT and Handshake packets.
type LongHeaderSealer interface {
	Seal(dst, plaintext []byte, pn protocol.PacketNumber, associatedData []byte) []byte
	Overhead() int
	EncryptHeader(sample []byte, firstByte *byte, pnBytes []byte)
	DecodePacketNumber(wirePN protocol.PacketNumber, wirePNLen protocol.PacketNumberLen) protocol.PacketNumber
}

// LongHeaderOpener removes protection from Initial, 0-RTT and Handshake
// packets.
type LongHeaderOpener interface {
	Open(dst, ciphertext []byte, pn protocol.PacketNumber, associatedData []byte) ([]byte, error)
	DecryptHeader(sample []byte, firstByte *byte, pnBytes []byte)
	DecodePacketNumber(wirePN protocol.PacketNumber, wirePNLen protocol.PacketNumberLen) protocol.PacketNumber
}

// ShortHeaderSealer protects 1-RTT packets and tracks the current key
// phase for key-update support (spec §4.2 "Key-phase handling").
type ShortHeaderSealer interface {
	Seal(dst, plaintext []byte, pn protocol.PacketNumber, associatedData []byte) []byte
	Overhead() int
	KeyPhase() protocol.KeyPhaseBit
	EncryptHeader(sample []byte, firstByte *byte, pnBytes []byte)
}

// ShortHeaderOpener removes protection from 1-RTT packets.
type ShortHeaderOpener interface {
	Open(dst, ciphertext []byte, rcvTime time.Time, pn protocol.PacketNumber, kp protocol.KeyPhaseBit, associatedData []byte) ([]byte, error)
	DecryptHeader(sample []byte, firstByte *byte, pnBytes []byte)
	DecodePacketNumber(wirePN protocol.PacketNumber, wirePNLen protocol.PacketNumberLen) protocol.PacketNumber
}

var quicSaltV1 = []byte{0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3, 0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad, 0xcc, 0xbb, 0x7f, 0x0a}

// DeriveInitialSecrets implements RFC 9001 §5.2: derive the client and
// server Initial secrets from the client's chosen destination CID.
func DeriveInitialSecrets(destConnID protocol.ConnectionID) (clientSecret, serverSecret []byte, err error) {
	initialSecret := hkdfExtract(destConnID.Bytes(), quicSaltV1)
	clientSecret = hkdfExpandLabel(initialSecret, "client in", 32)
	serverSecret = hkdfExpandLabel(initialSecret, "server in", 32)
	return clientSecret, serverSecret, nil
}

func hkdfExtract(secret, salt []byte) []byte {
	r := hkdf.Extract(sha256New, secret, salt)
	return r
}

func hkdfExpandLabel(secret []byte, label string, length int) []byte {
	info := buildHKDFLabel(label, length)
	out := make([]byte, length)
	r := hkdf.Expand(sha256New, secret, info)
	_, _ = r.Read(out)
	return out
}

func buildHKDFLabel(label string, length int) []byte {
	full := "tls13 " + label
	b := make([]byte, 0, 3+len(full))
	b = append(b, byte(length>>8), byte(length))
	b = append(b, byte(len(full)))
	b = append(b, []byte(full)...)
	b = append(b, 0)
	return b
}

// derivedAEAD wraps a ChaCha20-Poly1305 AEAD keyed from a derived secret,
// the simplest RFC 9001-compatible cipher suite to stand in for "the
// TLS engine's derived packet-protection keys" the spec treats as an
// external input.
type derivedAEAD struct {
	aead   cipher.AEAD
	iv     []byte
	hpKey  []byte
}

func newDerivedAEAD(secret []byte) (*derivedAEAD, error) {
	key := hkdfExpandLabel(secret, "quic key", chacha20poly1305.KeySize)
	iv := hkdfExpandLabel(secret, "quic iv", chacha20poly1305.NonceSize)
	hp := hkdfExpandLabel(secret, "quic hp", chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &derivedAEAD{aead: aead, iv: iv, hpKey: hp}, nil
}

func (a *derivedAEAD) nonce(pn protocol.PacketNumber) []byte {
	nonce := make([]byte, len(a.iv))
	copy(nonce, a.iv)
	var pnBytes [8]byte
	binary.BigEndian.PutUint64(pnBytes[:], uint64(pn))
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-8+i] ^= pnBytes[i]
	}
	return nonce
}

func (a *derivedAEAD) Overhead() int { return a.aead.Overhead() }

// hpMask derives a 5-byte header-protection mask from a 16-byte sample
// using the ChaCha20 block function keyed by hpKey (RFC 9001 §5.4.4).
func (a *derivedAEAD) hpMask(sample []byte) []byte {
	if len(sample) < 16 {
		return make([]byte, 5)
	}
	block, err := newChaCha20HPCipher(a.hpKey, sample[4:16])
	if err != nil {
		return make([]byte, 5)
	}
	mask := make([]byte, 5)
	block.XORKeyStream(mask, mask)
	return mask
}

func (a *derivedAEAD) EncryptHeader(sample []byte, firstByte *byte, pnBytes []byte) {
	mask := a.hpMask(sample)
	applyHPMask(mask, firstByte, pnBytes, *firstByte&0x80 != 0)
}

func (a *derivedAEAD) DecryptHeader(sample []byte, firstByte *byte, pnBytes []byte) {
	mask := a.hpMask(sample)
	applyHPMask(mask, firstByte, pnBytes, *firstByte&0x80 != 0)
}

func applyHPMask(mask []byte, firstByte *byte, pnBytes []byte, long bool) {
	if long {
		*firstByte ^= mask[0] & 0x0f
	} else {
		*firstByte ^= mask[0] & 0x1f
	}
	for i := range pnBytes {
		pnBytes[i] ^= mask[1+i]
	}
}

func (a *derivedAEAD) DecodePacketNumber(wirePN protocol.PacketNumber, _ protocol.PacketNumberLen) protocol.PacketNumber {
	return wirePN
}

var errAuthFailed = errors.New("handshake: AEAD authentication failed")
