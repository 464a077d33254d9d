package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirsHonourEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REGARD_CONFIG_DIR", filepath.Join(dir, "cfg"))
	t.Setenv("REGARD_DATA_DIR", filepath.Join(dir, "data", ".."))

	assert.Equal(t, filepath.Join(dir, "cfg"), GetConfigDir())
	assert.Equal(t, dir, GetDataDir())
}

func TestDirsDefaultUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("REGARD_CONFIG_DIR", "")
	t.Setenv("REGARD_DATA_DIR", "")

	assert.Equal(t, filepath.Join(home, ".config", "regard"), GetConfigDir())
	assert.Equal(t, filepath.Join(home, ".regard"), GetDataDir())
}

func TestGetHomeDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, home, GetHomeDir())
}
