package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/aimloop/internal/cv"
	"jordanella.com/aimloop/internal/platform"
)

// execute runs the CLI in a scratch directory with a config that keeps logs
// and history inside it.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cfg := filepath.Join(dir, "aimloop.yaml")
	if _, err := os.Stat(cfg); os.IsNotExist(err) {
		body := "log:\n  file: \"\"\n  level: warn\n" +
			"database:\n  path: " + filepath.Join(dir, "history.db") + "\n"
		require.NoError(t, os.WriteFile(cfg, []byte(body), 0o644))
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfg}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigCommandAppliesFlags(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aimloop.yaml"),
		[]byte("log:\n  file: \"\"\nserver:\n  addr: \":6000\"\n"), 0o644))

	out, err := execute(t, dir, "config", "--log-level", "error")
	require.NoError(t, err)
	assert.Regexp(t, `addr: "?:6000"?`, out)
	assert.Contains(t, out, "level: error")
}

func TestConfigRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aimloop.yaml"),
		[]byte("log:\n  file: \"\"\nloop:\n  mode: psychic\n"), 0o644))

	_, err := execute(t, dir, "config")
	assert.ErrorContains(t, err, "psychic")
}

func TestAliasesSetAndRemove(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "aliases.ini")

	_, err := execute(t, dir, "aliases", "set", "--file", file, "MyGame", "My Game", "mygame.exe")
	require.NoError(t, err)

	out, err := execute(t, dir, "aliases", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "mygame")
	assert.Contains(t, out, "My Game, mygame.exe")

	_, err = execute(t, dir, "aliases", "rm", "--file", file, "mygame")
	require.NoError(t, err)
	out, err = execute(t, dir, "aliases", "--file", file)
	require.NoError(t, err)
	assert.NotContains(t, out, "mygame")

	_, err = execute(t, dir, "aliases", "rm", "--file", file, "mygame")
	assert.ErrorContains(t, err, "no alias")
}

func TestAliasesSetNeedsFile(t *testing.T) {
	_, err := execute(t, t.TempDir(), "aliases", "set", "x", "y")
	assert.ErrorContains(t, err, "no alias file")
}

func TestHistoryOnEmptyDatabase(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "history")
	require.NoError(t, err)
	assert.Regexp(t, `sessions\s+0`, out)

	out, err = execute(t, dir, "history", "actions", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "DETECTOR")
}

func TestPrintWindowsSkipsUntitled(t *testing.T) {
	windows := []platform.Window{
		{Handle: 0x10, Title: "Game", Process: "game.exe", Rect: platform.Rect{Width: 800, Height: 600}},
		{Handle: 0x20, Title: "  "},
	}

	var table bytes.Buffer
	require.NoError(t, printWindows(&table, windows, false))
	assert.Contains(t, table.String(), "game.exe")
	assert.Equal(t, 2, bytes.Count(table.Bytes(), []byte("\n")))

	var js bytes.Buffer
	require.NoError(t, printWindows(&js, windows, true))
	assert.Contains(t, js.String(), `"Title": "Game"`)
	assert.NotContains(t, js.String(), `"Handle": 32`)
}

func TestNewFrameSource(t *testing.T) {
	src, err := newFrameSource(cv.CaptureMethodScreen, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "screen", src.Name())

	_, err = newFrameSource(cv.CaptureMethodADB, nil, 0)
	assert.ErrorContains(t, err, "needs a device")

	_, err = newFrameSource("vnc", nil, 0)
	assert.Error(t, err)
}
