package quicore

import "sync"

// packetBuffer is a pooled byte slice used while packing an outgoing
// packet, grounded on quic-go's packet_buffer_pool pattern (see
// other_examples/quic-go-quic-go__connection.go's buffer.Release calls
// that the teacher's packAndSendPacket already exercises).
type packetBuffer struct {
	Data []byte
}

var packetBufferPool = sync.Pool{
	New: func() any { return &packetBuffer{Data: make([]byte, 0, protocolMaxPacketSize)} },
}

const protocolMaxPacketSize = 1452

func getPacketBuffer() *packetBuffer {
	buf := packetBufferPool.Get().(*packetBuffer)
	buf.Data = buf.Data[:0]
	return buf
}

func (b *packetBuffer) Release() {
	packetBufferPool.Put(b)
}
