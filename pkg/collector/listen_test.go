package collector

import (
	"net"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenTCP(t *testing.T) {
	ln, err := Listen(t.Context(), "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	assert.Equal(t, "tcp", ln.Addr().Network())
}

func TestListenUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets are not used on windows")
	}

	path := filepath.Join(t.TempDir(), "run", "collector.sock")

	ln, err := Listen(t.Context(), "unix://"+path)
	require.NoError(t, err)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	conn.Close()
	ln.Close()

	// A leftover socket file is replaced.
	ln, err = Listen(t.Context(), "unix://"+path)
	require.NoError(t, err)
	ln.Close()
}

func TestListenErrors(t *testing.T) {
	_, err := Listen(t.Context(), "unix://")
	require.Error(t, err)

	_, err = Listen(t.Context(), "fd://not-a-number")
	require.Error(t, err)

	if runtime.GOOS != "windows" {
		_, err = Listen(t.Context(), "npipe://regard")
		require.Error(t, err)
	}
}
