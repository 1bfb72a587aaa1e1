package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/aimloop/internal/input"
	"jordanella.com/aimloop/internal/loop"
	"jordanella.com/aimloop/internal/policy"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Tracker.ForegroundDelay)
	assert.Equal(t, "screen", cfg.Capture.Method)
	assert.Equal(t, 500*time.Millisecond, cfg.LoopConfig().CaptureTimeout)
	assert.Equal(t, [3]int{0, 70, 70}, cfg.Perception.Color.Lower)
	assert.Equal(t, [3]int{179, 255, 255}, cfg.Perception.Color.Upper)
	assert.Equal(t, 1.2, cfg.Perception.Hough.DP)
	assert.Equal(t, uint(800), cfg.Preview.MaxWidth)
	assert.Equal(t, "F8", cfg.Hotkeys.Stop)

	want := loop.DefaultConfig()
	want.CaptureTimeout = 500 * time.Millisecond
	if diff := cmp.Diff(want, cfg.LoopConfig()); diff != "" {
		t.Errorf("loop config mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(policy.DefaultConfig(), cfg.Policy); diff != "" {
		t.Errorf("policy config mismatch (-want +got):\n%s", diff)
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "aimloop.yaml", `
loop:
  mode: template
  poll_interval: 40ms
policy:
  cooldown: 1s
  keys: [a, s]
  select: highest_score
input:
  backend: adb
  adb:
    device: emulator-5554
perception:
  color:
    min_area: 100
`)
	t.Setenv("AIMLOOP_SERVER_ADDR", "127.0.0.1:6000")

	l, err := Load(path)
	require.NoError(t, err)
	cfg := l.Config()

	assert.Equal(t, path, l.File())
	assert.Equal(t, loop.ModeTemplate, cfg.Loop.Mode)
	assert.Equal(t, 40*time.Millisecond, cfg.Loop.PollInterval)
	assert.Equal(t, time.Second, cfg.Policy.Cooldown)
	assert.Equal(t, []string{"a", "s"}, cfg.Policy.Keys)
	assert.Equal(t, policy.SelectHighest, cfg.Policy.Select)
	assert.Equal(t, "adb", cfg.Input.Backend)
	assert.Equal(t, "emulator-5554", cfg.Input.ADB.Device)
	assert.Equal(t, input.PathBoth, cfg.Input.PointerPath)
	assert.Equal(t, 100, cfg.Perception.Color.MinArea)
	assert.Equal(t, 5000, cfg.Perception.Color.MaxArea)
	assert.Equal(t, "127.0.0.1:6000", cfg.Server.Addr)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", `
capture:
  method: vnc
policy:
  miss_rate: 2
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vnc")
	assert.Contains(t, err.Error(), "miss_rate")
}

func TestLoadMissingDefaultFileIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	l, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, l.File())
	assert.Equal(t, ":5000", l.Config().Server.Addr)
}

func TestReloadKeepsLastGoodConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "aimloop.yaml", "policy:\n  cooldown: 3s\n")
	l, err := Load(path)
	require.NoError(t, err)

	l.Viper().Set("loop.mode", "sideways")
	cfg, err := l.Reload()
	require.Error(t, err)
	assert.Equal(t, 3*time.Second, cfg.Policy.Cooldown)
	assert.Equal(t, loop.ModeHybrid, l.Config().Loop.Mode)

	l.Viper().Set("loop.mode", "template")
	cfg, err = l.Reload()
	require.NoError(t, err)
	assert.Equal(t, loop.ModeTemplate, cfg.Loop.Mode)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "aimloop.yaml", "policy:\n  cooldown: 3s\n")
	l, err := Load(path)
	require.NoError(t, err)

	changed := make(chan Config, 4)
	l.Watch(func(c Config) { changed <- c })

	require.NoError(t, os.WriteFile(path, []byte("policy:\n  cooldown: 750ms\n"), 0o644))
	select {
	case c := <-changed:
		assert.Equal(t, 750*time.Millisecond, c.Policy.Cooldown)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not delivered")
	}
}

func TestLoadAliases(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "aliases.ini", `
[aliases]
Celeste = Celeste, celeste.exe
epic7 = MuMu
empty =
`)
	aliases, err := LoadAliases(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"Celeste", "celeste.exe"}, aliases["celeste"])
	assert.Equal(t, []string{"MuMu"}, aliases["epic7"])
	assert.Equal(t, []string{"osu!"}, aliases["osu"])
	assert.NotContains(t, aliases, "empty")

	builtin, err := LoadAliases("")
	require.NoError(t, err)
	assert.Equal(t, []string{"BlueStacks", "LDPlayer", "MuMu"}, builtin["epic7"])

	_, err = LoadAliases(filepath.Join(dir, "missing.ini"))
	assert.Error(t, err)
}

func TestSaveAliasesIsReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.ini")
	require.NoError(t, SaveAliases(path, map[string][]string{"game": {"My Game", "MyGame.exe"}}))

	aliases, err := LoadAliases(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"My Game", "MyGame.exe"}, aliases["game"])
}
