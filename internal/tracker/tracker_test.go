package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/platform"
	"jordanella.com/aimloop/internal/platform/platformtest"
)

var rect = platform.Rect{X: 100, Y: 50, Width: 800, Height: 600}

func TestResolveByAliasPriority(t *testing.T) {
	fake := platformtest.New()
	fake.Open("MuMu Player 12", "MuMuPlayer.exe", rect)
	bs := fake.Open("BlueStacks App Player", "HD-Player.exe", rect)

	tr := New(fake)
	target, err := tr.Resolve("Epic7", "")
	require.NoError(t, err)

	// BlueStacks is listed first in the alias, so it wins even though MuMu opened first
	assert.Equal(t, bs, target.Handle)
	assert.Equal(t, "Epic7", target.ID)
	assert.Equal(t, "bluestacks", target.Match)
}

func TestResolveUnknownIDUsesExe(t *testing.T) {
	fake := platformtest.New()
	h := fake.Open("Celeste", "Celeste.exe", rect)

	tr := New(fake)
	target, err := tr.Resolve("mygame", "celeste.exe")
	require.NoError(t, err)
	assert.Equal(t, h, target.Handle)
}

func TestResolveNotFoundThenFound(t *testing.T) {
	fake := platformtest.New()
	fake.Open("Notepad", "notepad.exe", rect)
	tr := New(fake)

	_, err := tr.Resolve("exampleApp", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrTargetNotFound)

	h := fake.Open("ExampleApp — Main", "example.exe", rect)
	target, err := tr.Resolve("exampleApp", "")
	require.NoError(t, err)
	assert.Equal(t, h, target.Handle)
	assert.Equal(t, "ExampleApp — Main", target.Title)
}

func TestResolveForeground(t *testing.T) {
	fake := platformtest.New()
	tr := New(fake)

	_, err := tr.Resolve(ForegroundID, "")
	assert.ErrorIs(t, err, faults.ErrTargetNotFound)

	h := fake.Open("Hollow Knight", "hollow_knight.exe", rect)
	fake.Focus(h)
	target, err := tr.Resolve(ForegroundID, "")
	require.NoError(t, err)
	assert.Equal(t, h, target.Handle)
	assert.Equal(t, "hollow knight", target.Match)
}

func TestCustomAliasesOverride(t *testing.T) {
	fake := platformtest.New()
	h := fake.Open("Bloco de Notas", "notepad.exe", rect)
	tr := New(fake)
	tr.SetAliases(MergeAliases(DefaultAliases(), map[string][]string{"Editor": {"Bloco"}}))

	target, err := tr.Resolve("editor", "")
	require.NoError(t, err)
	assert.Equal(t, h, target.Handle)
}

func TestRevalidate(t *testing.T) {
	fake := platformtest.New()
	h := fake.Open("osu!", "osu!.exe", rect)
	tr := New(fake)
	target, err := tr.Resolve("osu", "")
	require.NoError(t, err)
	tr.Track(target)

	moved := platform.Rect{X: 0, Y: 0, Width: 1024, Height: 768}
	fake.Move(h, moved)
	got, err := tr.Revalidate(target)
	require.NoError(t, err)
	assert.Equal(t, moved, got)
	assert.True(t, tr.Valid())

	fake.Close(h)
	_, err = tr.Revalidate(target)
	assert.ErrorIs(t, err, faults.ErrStaleHandle)
	assert.False(t, tr.Valid())
}

func TestReacquireIfForegroundMatches(t *testing.T) {
	fake := platformtest.New()
	old := fake.Open("osu!", "osu!.exe", rect)
	other := fake.Open("Discord", "Discord.exe", rect)
	tr := New(fake)
	target, err := tr.Resolve("osu", "")
	require.NoError(t, err)
	tr.Track(target)

	// foreground is the tracked window: no-op, every time
	fake.Focus(old)
	for i := 0; i < 3; i++ {
		next, err := tr.ReacquireIfForegroundMatches("osu!")
		require.NoError(t, err)
		assert.Nil(t, next)
		assert.Equal(t, old, tr.Current().Handle)
	}

	// unrelated title: no-op
	fake.Focus(other)
	next, err := tr.ReacquireIfForegroundMatches("osu!")
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, old, tr.Current().Handle)

	// restarted instance with a new handle: switch once, then stay put
	fake.Close(old)
	restarted := fake.Open("osu! (cutting edge)", "osu!.exe", rect)
	fake.Focus(restarted)
	next, err = tr.ReacquireIfForegroundMatches("OSU!")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, restarted, tr.Current().Handle)
	assert.Equal(t, "osu", tr.Current().ID)

	next, err = tr.ReacquireIfForegroundMatches("osu!")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestReacquireRequireSameProcess(t *testing.T) {
	fake := platformtest.New()
	fake.Open("osu!", "osu!.exe", rect)
	tr := New(fake)
	tr.SetConfig(Config{RequireSameProcess: true})
	target, err := tr.Resolve("osu", "")
	require.NoError(t, err)
	tr.Track(target)

	browser := fake.Open("osu! - beatmap listing - Firefox", "firefox.exe", rect)
	fake.Focus(browser)
	next, err := tr.ReacquireIfForegroundMatches("osu!")
	require.NoError(t, err)
	assert.Nil(t, next)

	tr.SetConfig(Config{})
	next, err = tr.ReacquireIfForegroundMatches("osu!")
	require.NoError(t, err)
	assert.NotNil(t, next)
}

func TestCheckFocus(t *testing.T) {
	fake := platformtest.New()
	h := fake.Open("osu!", "osu!.exe", rect)
	other := fake.Open("Discord", "Discord.exe", rect)
	tr := New(fake)
	target, err := tr.Resolve("osu", "")
	require.NoError(t, err)
	tr.Track(target)

	fake.Focus(h)
	focus, got, _, err := tr.CheckFocus(target, true)
	require.NoError(t, err)
	assert.Equal(t, Focused, focus)
	assert.Same(t, target, got)

	fake.Focus(other)
	focus, _, fg, err := tr.CheckFocus(target, true)
	require.NoError(t, err)
	assert.Equal(t, Unfocused, focus)
	assert.Equal(t, "Discord", fg.Title)
}
