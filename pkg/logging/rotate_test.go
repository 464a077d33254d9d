package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFile_RotatesWhenFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)

	rf, err := NewRotatingFile(path, WithMaxSize(50), WithMaxBackups(2))
	require.NoError(t, err)
	defer rf.Close()

	first := bytes.Repeat([]byte("a"), 30)
	second := bytes.Repeat([]byte("b"), 30)

	_, err = rf.Write(first)
	require.NoError(t, err)
	_, err = rf.Write(second)
	require.NoError(t, err)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, second, current)

	backup, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, first, backup)
}

func TestRotatingFile_KeepsAtMostMaxBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	rf, err := NewRotatingFile(path, WithMaxSize(20), WithMaxBackups(2))
	require.NoError(t, err)
	defer rf.Close()

	for i := range 5 {
		_, err = rf.Write(bytes.Repeat([]byte{byte('a' + i)}, 15))
		require.NoError(t, err)
	}

	assert.FileExists(t, path)
	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	assert.NoFileExists(t, path+".3")

	newest, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("d"), 15), newest)
}

func TestRotatingFile_NoBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	rf, err := NewRotatingFile(path, WithMaxSize(10), WithMaxBackups(0))
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("12345678"))
	require.NoError(t, err)
	_, err = rf.Write([]byte("abcdefgh"))
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(content))
	assert.NoFileExists(t, path+".1")
}

func TestRotatingFile_OversizedWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	rf, err := NewRotatingFile(path, WithMaxSize(4))
	require.NoError(t, err)
	defer rf.Close()

	n, err := rf.Write([]byte("much longer than four bytes"))
	require.NoError(t, err)
	assert.Equal(t, 27, n)
	assert.NoFileExists(t, path+".1", "an empty file is not rotated")
}

func TestRotatingFile_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0o600))

	rf, err := NewRotatingFile(path, WithMaxSize(1000))
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("new\n"))
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing\nnew\n", string(content))
}

func TestRotatingFile_ExplicitRotateAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.log")

	rf, err := NewRotatingFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, rf.Path())

	_, err = rf.Write([]byte("before"))
	require.NoError(t, err)
	require.NoError(t, rf.Rotate())
	assert.FileExists(t, path+".1")

	require.NoError(t, rf.Close())
	require.NoError(t, rf.Close(), "closing twice is fine")

	_, err = rf.Write([]byte("after"))
	require.ErrorIs(t, err, os.ErrClosed)
	require.ErrorIs(t, rf.Rotate(), os.ErrClosed)
}

func TestRotatingFile_AsSlogOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	rf, err := NewRotatingFile(path)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(rf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger.Debug("[Regard] Froze events", "events", 2)
	require.NoError(t, rf.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "[Regard] Froze events")
	assert.Contains(t, string(content), "events=2")
}

func TestNewRotatingFile_InvalidSize(t *testing.T) {
	_, err := NewRotatingFile(filepath.Join(t.TempDir(), "test.log"), WithMaxSize(0))
	require.Error(t, err)
}

func TestRotatingFile_PrivateToOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	rf, err := NewRotatingFile(path)
	require.NoError(t, err)
	defer rf.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, rf.Rotate())

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
