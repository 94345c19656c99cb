package quicore

import (
	"github.com/nitishtalasu/msquic/internal/handshake"
	"github.com/nitishtalasu/msquic/internal/protocol"
)

// packetSpace bundles the per-encryption-level state the connection
// core needs beyond what the ack handlers already track internally:
// whether keys are installed, whether the space has been discarded,
// and the sealer/opener pair active at that level (spec §3
// "Packets[4]", one per EncryptionLevel).
type packetSpace struct {
	level     protocol.EncryptionLevel
	keysAvailable bool
	discarded bool

	longSealer handshake.LongHeaderSealer
	longOpener handshake.LongHeaderOpener
	shortSealer handshake.ShortHeaderSealer
	shortOpener handshake.ShortHeaderOpener
}

// packetSpaces owns all four spaces a connection may hold across its
// lifetime. All four are allocated up front; a space can process
// packets only once keys are installed for it.
type packetSpaces struct {
	spaces [protocol.NumEncryptionLevels]*packetSpace
}

func newPacketSpaces() *packetSpaces {
	p := &packetSpaces{}
	for lvl := protocol.EncryptionLevel(0); lvl < protocol.NumEncryptionLevels; lvl++ {
		p.spaces[lvl] = &packetSpace{level: lvl}
	}
	return p
}

func (p *packetSpaces) Get(level protocol.EncryptionLevel) *packetSpace {
	return p.spaces[level]
}

// InstallLongKeys records that encryption/decryption is now possible at
// level (spec §4.2 "Key availability gates processing").
func (p *packetSpaces) InstallLongKeys(level protocol.EncryptionLevel, sealer handshake.LongHeaderSealer, opener handshake.LongHeaderOpener) {
	sp := p.spaces[level]
	sp.longSealer, sp.longOpener = sealer, opener
	sp.keysAvailable = true
}

func (p *packetSpaces) InstallShortKeys(sealer handshake.ShortHeaderSealer, opener handshake.ShortHeaderOpener) {
	sp := p.spaces[protocol.Encryption1RTT]
	sp.shortSealer, sp.shortOpener = sealer, opener
	sp.keysAvailable = true
}

// Discard retires a packet space permanently (spec §4.2 "Initial and
// Handshake keys are discarded once no longer needed"). Discarding is
// one-way; the caller is responsible for also dropping the matching
// ack-handler state.
func (p *packetSpaces) Discard(level protocol.EncryptionLevel) {
	sp := p.spaces[level]
	sp.discarded = true
	sp.keysAvailable = false
	sp.longSealer, sp.longOpener = nil, nil
	sp.shortSealer, sp.shortOpener = nil, nil
}

func (p *packetSpaces) CanProcess(level protocol.EncryptionLevel) bool {
	sp := p.spaces[level]
	return sp.keysAvailable && !sp.discarded
}

// overhead reports the AEAD tag length for the sealer active at this
// space's level, used to size the maximum frame payload that still
// fits in one datagram (spec §4.1's packing budget).
func (sp *packetSpace) overhead(level protocol.EncryptionLevel) int {
	if level == protocol.Encryption1RTT {
		if sp.shortSealer == nil {
			return 0
		}
		return sp.shortSealer.Overhead()
	}
	if sp.longSealer == nil {
		return 0
	}
	return sp.longSealer.Overhead()
}
