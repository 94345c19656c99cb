package quicore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"time"

	"github.com/nitishtalasu/msquic/internal/handshake"
	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/qerr"
	"github.com/nitishtalasu/msquic/internal/wire"
)

// retryIntegrityKey and retryIntegrityNonce are the version-1 fixed AEAD
// key/nonce RFC 9001 §5.8 defines for the Retry Integrity Tag - the same
// for every connection, unrelated to any negotiated secret.
var (
	retryIntegrityKey   = []byte{0xbe, 0x0c, 0x69, 0x0b, 0x9f, 0x66, 0x57, 0x5a, 0x1d, 0x76, 0x6b, 0x54, 0xe3, 0x68, 0xc8, 0x4e}
	retryIntegrityNonce = []byte{0x46, 0x15, 0x99, 0xd3, 0x5d, 0x63, 0x2b, 0xf2, 0x23, 0x98, 0x25, 0xbb}
)

const retryIntegrityTagLen = 16

// computeRetryIntegrityTag implements RFC 9001 §5.8: the tag authenticates
// the original destination connection ID (length-prefixed) followed by the
// Retry packet itself, minus the tag.
func computeRetryIntegrityTag(odcid protocol.ConnectionID, retryPacketWithoutTag []byte) ([]byte, error) {
	block, err := aes.NewCipher(retryIntegrityKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	pseudo := make([]byte, 0, 1+odcid.Len()+len(retryPacketWithoutTag))
	pseudo = append(pseudo, byte(odcid.Len()))
	pseudo = append(pseudo, odcid.Bytes()...)
	pseudo = append(pseudo, retryPacketWithoutTag...)
	return aead.Seal(nil, retryIntegrityNonce, nil, pseudo), nil
}

// handleRetryPacket implements spec §4.3 Retry Processing: a client-only
// reaction to a server's Retry packet, valid only as the very first
// packet received from the server. It validates the integrity tag,
// captures the retry token for future Initial packets, adopts the
// server's chosen connection ID, re-derives Initial keys under that CID,
// and restarts the Initial packet number space without losing the RTT
// estimate gathered so far (msquic's Restart(CompleteReset=false)).
func (c *Connection) handleRetryPacket(hdr *wire.Header, packetData []byte, parsedLen int) {
	if !c.isClient {
		return
	}
	if c.gotFirstServerResponse || c.receivedRetryPacket {
		c.logger.Debugf("[%s] ignoring Retry packet received after the handshake already progressed", c.side())
		return
	}
	if !hdr.DestConnectionID.Equal(c.srcConnID) {
		c.logger.Debugf("[%s] Retry packet echoes the wrong source connection ID, dropping", c.side())
		return
	}
	if len(packetData)-parsedLen < retryIntegrityTagLen {
		c.logger.Debugf("[%s] Retry packet too short for an integrity tag, dropping", c.side())
		return
	}

	withoutTag := packetData[:len(packetData)-retryIntegrityTagLen]
	tag := packetData[len(packetData)-retryIntegrityTagLen:]
	token := packetData[parsedLen : len(packetData)-retryIntegrityTagLen]

	expected, err := computeRetryIntegrityTag(c.destConnID, withoutTag)
	if err != nil || !bytes.Equal(expected, tag) {
		c.logger.Debugf("[%s] Retry integrity tag mismatch, dropping", c.side())
		return
	}

	c.receivedRetryPacket = true
	c.gotFirstServerResponse = true
	c.origDestCID = c.destConnID
	c.initialToken = append([]byte(nil), token...)
	c.destConnID = hdr.SrcConnectionID

	if err := c.installInitialKeys(c.destConnID); err != nil {
		c.closeLocal(qerr.NewStatusError(qerr.StatusInvalidState, "failed to rederive Initial keys after Retry"))
		return
	}
	c.restartAfterRetry()
	c.logger.Debugf("[%s] processed Retry, restarting handshake with new DCID %s", c.side(), c.destConnID)
}

// restartAfterRetry discards Initial-space packet history - the server
// will never acknowledge packet numbers sent under the pre-Retry CID -
// while deliberately leaving rttStats untouched, matching
// CompleteReset=false.
func (c *Connection) restartAfterRetry() {
	now := time.Now()
	c.sentPacketHandler.DropPackets(protocol.EncryptionInitial, now)
	c.receivedPacketHandler.DropPackets(protocol.EncryptionInitial)
	c.initialPacketSent = false
	c.framer.QueueControlFrame(&wire.CryptoFrame{Data: handshake.HelloMessage(c.persp())})
	c.scheduleSending()
}
