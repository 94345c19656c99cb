package handshake

import (
	"crypto/cipher"
	"crypto/sha256"
	"hash"

	"golang.org/x/crypto/chacha20"
)

func sha256New() hash.Hash { return sha256.New() }

// newChaCha20HPCipher builds a ChaCha20 stream cipher seeded with the
// 12-byte sample-derived nonce, used only to generate the 5-byte header
// protection mask (RFC 9001 §5.4.4 "chacha20_hp").
func newChaCha20HPCipher(key, nonce []byte) (cipher.Stream, error) {
	return chacha20.NewUnauthenticatedCipher(key, nonce)
}
