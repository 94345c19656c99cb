package quicore

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nitishtalasu/msquic/datapath"
	"github.com/nitishtalasu/msquic/internal/protocol"
	"github.com/nitishtalasu/msquic/internal/wire"
)

// buildRetryPacket assembles a wire-format Retry packet (RFC 9001 §5.8)
// addressed back to srcCID, advertising newServerCID as the server's
// chosen connection ID, with a correctly computed integrity tag over
// odcid.
func buildRetryPacket(t *testing.T, odcid, srcCID, newServerCID protocol.ConnectionID, token []byte) []byte {
	t.Helper()
	var b []byte
	b = append(b, 0x80|0x40|(3<<4))
	b = append(b, byte(protocol.Version1>>24), byte(protocol.Version1>>16), byte(protocol.Version1>>8), byte(protocol.Version1))
	b = append(b, byte(srcCID.Len()))
	b = append(b, srcCID.Bytes()...)
	b = append(b, byte(newServerCID.Len()))
	b = append(b, newServerCID.Bytes()...)
	b = append(b, token...)
	tag, err := computeRetryIntegrityTag(odcid, b)
	require.NoError(t, err)
	return append(b, tag...)
}

func TestConnectionRetryUpdatesDestCIDAndCapturesToken(t *testing.T) {
	clientTransport, _ := datapath.NewInMemoryPair()
	client, err := NewConnection(clientTransport, true, nil)
	require.NoError(t, err)

	origDestCID := client.destConnID
	newServerCID, err := protocol.GenerateConnectionID(protocol.ConnectionIDLength)
	require.NoError(t, err)
	token := []byte("retry-token-bytes")

	raw := buildRetryPacket(t, origDestCID, client.srcConnID, newServerCID, token)
	hdr, packetData, parsedLen, err := wire.ParsePacket(raw)
	require.NoError(t, err)

	client.handleRetryPacket(hdr, packetData, parsedLen)

	require.True(t, client.receivedRetryPacket)
	require.Equal(t, newServerCID, client.destConnID)
	require.Equal(t, origDestCID, client.origDestCID)
	require.Equal(t, token, client.initialToken)
}

func TestConnectionRetryRejectsBadIntegrityTag(t *testing.T) {
	clientTransport, _ := datapath.NewInMemoryPair()
	client, err := NewConnection(clientTransport, true, nil)
	require.NoError(t, err)

	newServerCID, err := protocol.GenerateConnectionID(protocol.ConnectionIDLength)
	require.NoError(t, err)

	wrongODCID, err := protocol.GenerateConnectionID(protocol.ConnectionIDLength)
	require.NoError(t, err)
	raw := buildRetryPacket(t, wrongODCID, client.srcConnID, newServerCID, []byte("tok"))
	hdr, packetData, parsedLen, err := wire.ParsePacket(raw)
	require.NoError(t, err)

	client.handleRetryPacket(hdr, packetData, parsedLen)

	require.False(t, client.receivedRetryPacket)
	require.NotEqual(t, newServerCID, client.destConnID)
}

func TestConnectionHandshakeAndStreamRoundTrip(t *testing.T) {
	clientTransport, serverTransport := datapath.NewInMemoryPair()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, err := NewConnection(serverTransport, false, nil)
	require.NoError(t, err)
	client, err := NewConnection(clientTransport, true, nil)
	require.NoError(t, err)

	serverErrs := make(chan error, 1)
	clientErrs := make(chan error, 1)
	go func() { serverErrs <- server.Run(ctx) }()
	go func() { clientErrs <- client.Run(ctx) }()

	stream, err := client.OpenStream(ctx)
	require.NoError(t, err)

	const message = "hello over the wire"
	_, err = stream.Write([]byte(message))
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	serverStream, err := server.AcceptStream(ctx)
	require.NoError(t, err)

	got, err := io.ReadAll(serverStream)
	require.NoError(t, err)
	require.Equal(t, message, string(got))

	client.Close(nil)
	server.Close(nil)

	<-clientErrs
	<-serverErrs
}

func TestConnectionIdleTimeoutClosesConnection(t *testing.T) {
	clientTransport, serverTransport := datapath.NewInMemoryPair()
	defer clientTransport.Close()
	defer serverTransport.Close()

	server, err := NewConnection(serverTransport, false, nil)
	require.NoError(t, err)
	server.idleTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = server.Run(ctx)
	require.Error(t, err)
}
