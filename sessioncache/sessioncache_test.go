package sessioncache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.cache")
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get("example.test")
	require.False(t, ok)

	require.NoError(t, c.Put("example.test", []byte("ticket-bytes")))
	got, ok := c.Get("example.test")
	require.True(t, ok)
	require.Equal(t, []byte("ticket-bytes"), got)
}

func TestOpenReloadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.cache")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Put("a.test", []byte("tok-a")))
	first.Close()

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()

	got, ok := second.Get("a.test")
	require.True(t, ok)
	require.Equal(t, []byte("tok-a"), got)
}

func TestWatchLoopReloadsExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.cache")
	writer, err := Open(path)
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, writer.Put("b.test", []byte("tok-b")))

	reader, err := Open(path)
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, writer.Put("c.test", []byte("tok-c")))

	require.Eventually(t, func() bool {
		_, ok := reader.Get("c.test")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}
