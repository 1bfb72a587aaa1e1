package input

import (
	"context"
	"errors"
	"image"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/platform"
)

type fakeInjector struct {
	mu     sync.Mutex
	events []string
	failOn string
	pos    image.Point
}

func (f *fakeInjector) record(ev string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	if f.failOn != "" && ev == f.failOn {
		return errors.New("injection refused")
	}
	return nil
}

func (f *fakeInjector) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeInjector) Name() string { return "fake" }

func (f *fakeInjector) MoveTo(_ context.Context, p image.Point, _ PointerPath) error {
	f.mu.Lock()
	f.pos = p
	f.mu.Unlock()
	return f.record("move " + p.String())
}

func (f *fakeInjector) ButtonDown(_ context.Context, b Button) error {
	return f.record("down " + string(b))
}

func (f *fakeInjector) ButtonUp(_ context.Context, b Button) error {
	return f.record("up " + string(b))
}

func (f *fakeInjector) KeyDown(_ context.Context, k string) error { return f.record("keydown " + k) }

func (f *fakeInjector) KeyUp(_ context.Context, k string) error { return f.record("keyup " + k) }

type fakeSink struct {
	reports []Report
}

func (s *fakeSink) update(r Report) error {
	s.reports = append(s.reports, r)
	return nil
}

func (s *fakeSink) close() error { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ClickHold = time.Millisecond
	cfg.KeyHold = time.Millisecond
	cfg.TypeDelay = 0
	return cfg
}

var rect = platform.Rect{X: 100, Y: 50, Width: 400, Height: 300}

func TestClickWithKey(t *testing.T) {
	inj := &fakeInjector{}
	s := NewSynthesizer(inj, testConfig())

	err := s.Execute(context.Background(), Intent{
		Kind:  KindClick,
		Space: SpaceFrame,
		Point: image.Pt(10, 20),
		Key:   "Z",
	}, rect)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"move (110,70)",
		"keydown z",
		"keyup z",
		"down left",
		"up left",
	}, inj.Events())
	assert.True(t, s.Neutral())
}

func TestNormalizedMove(t *testing.T) {
	inj := &fakeInjector{}
	s := NewSynthesizer(inj, testConfig())

	require.NoError(t, s.Execute(context.Background(), Intent{
		Kind:  KindPointerMove,
		Space: SpaceNormalized,
		Norm:  Vec{X: 0.5, Y: 0.25},
	}, rect))
	assert.Equal(t, []string{"move (300,125)"}, inj.Events())

	err := s.Execute(context.Background(), Intent{Kind: KindPointerMove, Space: SpaceNormalized, Norm: Vec{X: 0.5}}, platform.Rect{})
	assert.ErrorIs(t, err, faults.ErrActuation)
}

func TestCancelledHoldReleasesKey(t *testing.T) {
	inj := &fakeInjector{}
	s := NewSynthesizer(inj, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Execute(ctx, Intent{Kind: KindKeyTap, Key: "space", Hold: time.Minute}, rect)
	}()

	require.Eventually(t, func() bool { return len(inj.Events()) == 1 }, time.Second, time.Millisecond)
	assert.False(t, s.Neutral())
	cancel()

	err := <-done
	assert.ErrorIs(t, err, faults.ErrActuation)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"keydown space", "keyup space"}, inj.Events())
	assert.True(t, s.Neutral())
}

func TestFailedButtonDownStillReleases(t *testing.T) {
	inj := &fakeInjector{failOn: "down left"}
	s := NewSynthesizer(inj, testConfig())

	err := s.Execute(context.Background(), Intent{Kind: KindClick}, rect)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrActuation)
	assert.Equal(t, []string{"down left", "up left"}, inj.Events())
	assert.True(t, s.Neutral())
}

func TestTextPacing(t *testing.T) {
	inj := &fakeInjector{}
	s := NewSynthesizer(inj, testConfig())

	require.NoError(t, s.Execute(context.Background(), Intent{Kind: KindText, Text: "a b"}, rect))
	assert.Equal(t, []string{
		"keydown a", "keyup a",
		"keydown space", "keyup space",
		"keydown b", "keyup b",
	}, inj.Events())
}

func TestStickResetsToNeutral(t *testing.T) {
	sink := &fakeSink{}
	s := NewSynthesizer(&fakeInjector{}, testConfig(), WithGamepad(newVirtualPad(sink)))

	require.NoError(t, s.Execute(context.Background(), Intent{
		Kind:    KindStickDeflect,
		Stick:   StickLeft,
		Deflect: Vec{X: 1, Y: -0.5},
	}, rect))

	require.Len(t, sink.reports, 2)
	assert.Equal(t, int16(32767), sink.reports[0].LX)
	assert.Equal(t, int16(-16384), sink.reports[0].LY)
	assert.True(t, sink.reports[1].Neutral())
	assert.True(t, s.Neutral())
}

func TestGamepadButton(t *testing.T) {
	sink := &fakeSink{}
	s := NewSynthesizer(&fakeInjector{}, testConfig(), WithGamepad(newVirtualPad(sink)))

	require.NoError(t, s.Execute(context.Background(), Intent{Kind: KindGamepadButton, Pad: PadA}, rect))
	require.Len(t, sink.reports, 2)
	assert.Equal(t, uint16(0x1000), sink.reports[0].Buttons)
	assert.True(t, sink.reports[1].Neutral())
}

func TestGamepadUnsupported(t *testing.T) {
	s := NewSynthesizer(&fakeInjector{}, testConfig())
	err := s.Execute(context.Background(), Intent{Kind: KindStickDeflect, Stick: StickRight}, rect)
	assert.True(t, faults.IsUnsupported(err))

	s = NewSynthesizer(&fakeInjector{}, testConfig(), WithGamepadOpener(OpenGamepadUnavailable))
	err = s.Execute(context.Background(), Intent{Kind: KindGamepadButton, Pad: PadB}, rect)
	assert.True(t, faults.IsUnsupported(err))
}

func OpenGamepadUnavailable() (Gamepad, error) {
	return nil, faults.Unsupported("gamepad", "no driver")
}

func TestGlideEndsAtTarget(t *testing.T) {
	inj := &locatingInjector{fakeInjector: &fakeInjector{}}
	cfg := testConfig()
	cfg.Glide = true
	cfg.GlideMin = 50 * time.Millisecond
	cfg.GlideMax = 50 * time.Millisecond
	s := NewSynthesizer(inj, cfg, WithRand(rand.New(rand.NewSource(1))))

	require.NoError(t, s.Execute(context.Background(), Intent{Kind: KindPointerMove, Space: SpaceAbsolute, Point: image.Pt(100, 100)}, rect))
	events := inj.Events()
	require.Len(t, events, 5)
	assert.Equal(t, "move (100,100)", events[len(events)-1])
}

type locatingInjector struct {
	*fakeInjector
}

func (l *locatingInjector) Position(context.Context) (image.Point, error) {
	return image.Point{}, nil
}

func TestResetReleasesHeldState(t *testing.T) {
	inj := &fakeInjector{}
	s := NewSynthesizer(inj, testConfig())
	s.hold(func() {
		s.keys["x"] = struct{}{}
		s.buttons[ButtonRight] = struct{}{}
	})
	require.False(t, s.Neutral())
	require.NoError(t, s.Reset())
	assert.ElementsMatch(t, []string{"keyup x", "up right"}, inj.Events())
	assert.True(t, s.Neutral())
}

func TestInvalidIntents(t *testing.T) {
	s := NewSynthesizer(&fakeInjector{}, testConfig())
	for _, in := range []Intent{
		{Kind: "wave"},
		{Kind: KindKeyTap},
		{Kind: KindText},
		{Kind: KindPointerMove},
		{Kind: KindClick, Button: "side"},
		{Kind: KindStickDeflect, Stick: StickLeft, Deflect: Vec{X: 2}},
		{Kind: KindGamepadButton, Pad: "Z"},
		{Kind: KindPointerMove, Space: SpaceNormalized, Norm: Vec{X: 1.5}},
		{Kind: KindPointerMove, Space: SpaceNormalized, Norm: Vec{X: math.NaN(), Y: 0.5}},
		{Kind: KindClick, Space: SpaceNormalized, Norm: Vec{X: 0.5, Y: math.NaN()}},
		{Kind: KindStickDeflect, Stick: StickLeft, Deflect: Vec{X: math.NaN()}},
		{Kind: KindStickDeflect, Stick: StickRight, Deflect: Vec{Y: math.Inf(-1)}},
	} {
		assert.Error(t, s.Execute(context.Background(), in, rect), in.String())
	}
}

func TestAxis(t *testing.T) {
	assert.Equal(t, int16(0), Axis(0))
	assert.Equal(t, int16(32767), Axis(1))
	assert.Equal(t, int16(-32767), Axis(-1))
	assert.Equal(t, int16(32767), Axis(3))
	assert.Equal(t, int16(0), Axis(math.NaN()))
}
