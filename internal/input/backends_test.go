package input

import (
	"bytes"
	"context"
	"image"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/platform"
)

type fakePort struct {
	io.Reader
	written bytes.Buffer
	closed  bool
}

func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestSerialProtocol(t *testing.T) {
	port := &fakePort{Reader: strings.NewReader("ok\nok\nok\nok\nok\n")}
	s := NewSerialInjector(port, true)
	ctx := context.Background()

	require.NoError(t, s.MoveTo(ctx, image.Pt(640, 360), PathHardware))
	require.NoError(t, s.ButtonDown(ctx, ButtonLeft))
	require.NoError(t, s.ButtonUp(ctx, ButtonLeft))
	require.NoError(t, s.KeyDown(ctx, "Return"))
	require.NoError(t, s.KeyUp(ctx, "Return"))

	assert.Equal(t, "move:640,360\nmouse_down:left\nmouse_up:left\nkey_down:enter\nkey_up:enter\n", port.written.String())
	require.NoError(t, s.Close())
	assert.True(t, port.closed)
}

func TestSerialRejectedAck(t *testing.T) {
	s := NewSerialInjector(&fakePort{Reader: strings.NewReader("err busy\n")}, true)
	assert.ErrorContains(t, s.KeyDown(context.Background(), "z"), "busy")

	s = NewSerialInjector(&fakePort{Reader: strings.NewReader("")}, true)
	assert.Error(t, s.KeyDown(context.Background(), "z"))
}

type fakeDevice struct {
	calls []string
}

func (d *fakeDevice) Tap(_ context.Context, x, y int) error {
	d.calls = append(d.calls, "tap "+image.Pt(x, y).String())
	return nil
}

func (d *fakeDevice) Press(_ context.Context, x, y int, hold time.Duration) error {
	d.calls = append(d.calls, "press "+image.Pt(x, y).String()+" "+hold.String())
	return nil
}

func (d *fakeDevice) KeyEvent(_ context.Context, code string) error {
	d.calls = append(d.calls, "key "+code)
	return nil
}

func (d *fakeDevice) Text(_ context.Context, text string) error {
	d.calls = append(d.calls, "text "+text)
	return nil
}

func (d *fakeDevice) WindowSize(context.Context) (int, int, error) { return 1080, 1920, nil }

func TestADBInjectorThroughSynthesizer(t *testing.T) {
	dev := &fakeDevice{}
	window := platform.Rect{X: 100, Y: 100, Width: 540, Height: 1000}
	inj := NewADBInjector(dev, func() platform.Rect { return window }, 40)
	s := NewSynthesizer(inj, testConfig())

	// frame point (270, 520) is the middle of the 540x960 area under the title bar
	require.NoError(t, s.Execute(context.Background(), Intent{
		Kind:  KindClick,
		Space: SpaceFrame,
		Point: image.Pt(270, 520),
		Key:   "x",
	}, window))
	assert.Equal(t, []string{"key KEYCODE_X", "tap (540,960)"}, dev.calls)

	dev.calls = nil
	require.NoError(t, s.Execute(context.Background(), Intent{Kind: KindText, Text: "a b"}, window))
	assert.Equal(t, []string{"text a", "key KEYCODE_SPACE", "text b"}, dev.calls)

	err := s.Execute(context.Background(), Intent{Kind: KindPointerMove, Space: SpaceFrame}, window)
	assert.True(t, faults.IsUnsupported(err))
}

func TestTranslator(t *testing.T) {
	tr := Translator{SourceWidth: 540, SourceHeight: 960, TargetWidth: 1080, TargetHeight: 1920, TitleBarHeight: 40}
	require.NoError(t, tr.Validate())
	assert.Equal(t, image.Pt(0, 0), tr.Point(image.Pt(0, 40)))
	assert.Equal(t, image.Pt(200, 400), tr.Point(image.Pt(100, 240)))
	assert.Equal(t, image.Pt(1079, 0), tr.Point(image.Pt(5000, 0)))

	assert.Error(t, Translator{SourceWidth: 10, SourceHeight: 10}.Validate())
}

func TestParsePadButton(t *testing.T) {
	b, ok := ParsePadButton(" dpad_up ")
	assert.True(t, ok)
	assert.Equal(t, PadDpadUp, b)
	_, ok = ParsePadButton("turbo")
	assert.False(t, ok)
}

func TestKeyName(t *testing.T) {
	assert.Equal(t, "enter", KeyName("Return"))
	assert.Equal(t, "space", KeyName(" "))
	assert.Equal(t, "z", KeyName("Z"))
}
