package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveProject(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "My Song.logicx")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	root, id, err := ResolveProject([]string{dir}, "")
	require.NoError(t, err)
	assert.Equal(t, dir, root)
	assert.Equal(t, "my-song", id)

	_, id, err = ResolveProject([]string{dir}, "album")
	require.NoError(t, err)
	assert.Equal(t, "album", id)

	_, _, err = ResolveProject([]string{filepath.Join(dir, "missing")}, "")
	assert.Error(t, err)

	file := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, _, err = ResolveProject([]string{file}, "")
	assert.Error(t, err)
}

func TestPrinter_PlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	assert.False(t, p.Styled())
	assert.Equal(t, "ok", p.Success("ok"))
	p.Printf("%s %d\n", p.Bold("n"), 3)
	assert.Equal(t, "n 3\n", buf.String())
}

func TestEnv_ConfigLoadsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identity:\n  holder: carol\n"), 0o644))

	env := NewEnv("test")
	env.ConfigFile = path
	env.LogLevel = "debug"
	cfg, err := env.Config()
	require.NoError(t, err)
	assert.Equal(t, "carol", cfg.Identity.Holder)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)

	again, err := env.Config()
	require.NoError(t, err)
	assert.Same(t, cfg, again)

	reg, err := env.Registry()
	require.NoError(t, err)
	assert.Contains(t, reg.Names(), "logic")
}
