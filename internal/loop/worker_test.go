package loop

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"jordanella.com/aimloop/internal/cv"
	"jordanella.com/aimloop/internal/events"
	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/input"
	"jordanella.com/aimloop/internal/logging"
	"jordanella.com/aimloop/internal/platform"
	"jordanella.com/aimloop/internal/platform/platformtest"
	"jordanella.com/aimloop/internal/policy"
	"jordanella.com/aimloop/internal/tracker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var winRect = platform.Rect{X: 100, Y: 50, Width: 200, Height: 200}

// frameSource draws one red 40x40 square at (50,50) unless empty is set.
type frameSource struct {
	calls atomic.Int64
	empty atomic.Bool
	err   error
	block bool
}

func (f *frameSource) Name() string { return "fake" }

func (f *frameSource) Capture(ctx context.Context, rect platform.Rect) (*image.RGBA, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if err := cv.CheckRegion(rect); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, rect.Width, rect.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{20, 20, 20, 255}), image.Point{}, draw.Src)
	if !f.empty.Load() {
		draw.Draw(img, image.Rect(50, 50, 90, 90), image.NewUniform(color.RGBA{230, 30, 30, 255}), image.Point{}, draw.Src)
	}
	return img, nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
	moves  []image.Point
}

func (r *recorder) add(ev string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Moves() []image.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]image.Point(nil), r.moves...)
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) MoveTo(_ context.Context, p image.Point, _ input.PointerPath) error {
	r.mu.Lock()
	r.moves = append(r.moves, p)
	r.mu.Unlock()
	return r.add("move")
}

func (r *recorder) ButtonDown(_ context.Context, b input.Button) error {
	return r.add("down " + string(b))
}

func (r *recorder) ButtonUp(_ context.Context, b input.Button) error { return r.add("up " + string(b)) }

func (r *recorder) KeyDown(_ context.Context, k string) error { return r.add("keydown " + k) }

func (r *recorder) KeyUp(_ context.Context, k string) error { return r.add("keyup " + k) }

type fixture struct {
	fake    *platformtest.Backend
	handle  platform.Handle
	tracker *tracker.Tracker
	source  *frameSource
	inj     *recorder
	synth   *input.Synthesizer
	bus     *events.DefaultEventBus
	worker  *Worker
	rep     *logging.ErrorReporter
}

func newFixture(t *testing.T, pcfg policy.Config) *fixture {
	t.Helper()
	f := &fixture{
		fake:   platformtest.New(),
		source: &frameSource{},
		inj:    &recorder{},
		bus:    events.NewEventBus(256),
		rep:    logging.NewErrorReporter(),
	}
	f.handle = f.fake.Open("ExampleApp — Main", "example.exe", winRect)
	f.fake.Focus(f.handle)
	f.tracker = tracker.New(f.fake)

	target, err := f.tracker.Resolve("exampleapp", "")
	require.NoError(t, err)
	f.tracker.Track(target)

	icfg := input.DefaultConfig()
	icfg.ClickHold = time.Millisecond
	icfg.Timeout = 200 * time.Millisecond
	f.synth = input.NewSynthesizer(f.inj, icfg)

	cfg := DefaultConfig()
	cfg.NoTargetSleep = 5 * time.Millisecond
	cfg.UnfocusedSleep = 5 * time.Millisecond
	cfg.ErrorSleep = 5 * time.Millisecond
	cfg.PollInterval = 2 * time.Millisecond
	cfg.CaptureTimeout = 100 * time.Millisecond

	f.worker = New(Deps{
		Tracker:  f.tracker,
		Source:   f.source,
		Policy:   policy.New(pcfg, rand.New(rand.NewSource(7))),
		Input:    f.synth,
		Bus:      f.bus,
		Reporter: f.rep,
	}, cfg)

	t.Cleanup(func() {
		f.worker.StopAndWait()
		f.bus.Stop()
	})
	return f
}

func fastPolicy() policy.Config {
	cfg := policy.DefaultConfig()
	cfg.MissRate = 0
	cfg.HoldMin = time.Millisecond
	cfg.HoldMax = time.Millisecond
	return cfg
}

func waitFor(t *testing.T, ch chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}

func subscribe(f *fixture, typ events.EventType) chan events.Event {
	ch := make(chan events.Event, 64)
	f.bus.Subscribe(typ, func(e events.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	return ch
}

func TestLoopActsOnDetectedTarget(t *testing.T) {
	f := newFixture(t, fastPolicy())
	actions := subscribe(f, events.EventTypeCycleAction)

	require.NoError(t, f.worker.Start(context.Background()))
	e := waitFor(t, actions)

	// blob center (70,70) in frame, window at (100,50), jitter up to 5
	assert.InDelta(t, 170, e.Int("x"), 6)
	assert.InDelta(t, 120, e.Int("y"), 6)
	assert.Equal(t, string(cv.SourceColor), e.String("detector"))
	assert.Contains(t, []string{"z", "x"}, e.String("key"))

	f.worker.StopAndWait()
	assert.False(t, f.worker.Running())
	assert.True(t, f.synth.Neutral())

	stats := f.worker.Stats()
	assert.GreaterOrEqual(t, stats.Actions, int64(1))
	assert.Positive(t, stats.Hits[cv.SourceColor])
	assert.Equal(t, "color", stats.LastSource)

	sent := f.inj.Events()
	require.NotEmpty(t, sent)
	assert.Equal(t, "move", sent[0])
	assert.Contains(t, sent, "down left")
	assert.Contains(t, sent, "up left")
}

func TestCooldownSpacesActions(t *testing.T) {
	f := newFixture(t, fastPolicy())
	require.NoError(t, f.worker.Start(context.Background()))

	require.Eventually(t, func() bool { return f.worker.Stats().Actions == 1 }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.worker.Stats().Cycles > 20 }, 3*time.Second, 5*time.Millisecond)
	// the default 2s cooldown holds every later cycle back
	assert.Equal(t, int64(1), f.worker.Stats().Actions)
}

func TestStartTwiceReportsAlreadyRunning(t *testing.T) {
	f := newFixture(t, fastPolicy())
	require.NoError(t, f.worker.Start(context.Background()))
	assert.ErrorIs(t, f.worker.Start(context.Background()), ErrAlreadyRunning)

	f.worker.StopAndWait()
	f.worker.Stop() // stopping a stopped loop is fine
	require.NoError(t, f.worker.Start(context.Background()))
}

func TestStopReleasesHeldKey(t *testing.T) {
	pcfg := fastPolicy()
	pcfg.HoldMin = 10 * time.Second
	pcfg.HoldMax = 10 * time.Second
	f := newFixture(t, pcfg)

	require.NoError(t, f.worker.Start(context.Background()))
	require.Eventually(t, func() bool {
		for _, e := range f.inj.Events() {
			if len(e) > 8 && e[:8] == "keydown " {
				return true
			}
		}
		return false
	}, 3*time.Second, 2*time.Millisecond)

	start := time.Now()
	f.worker.StopAndWait()
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, f.synth.Neutral())

	evs := f.inj.Events()
	last := evs[len(evs)-1]
	assert.Contains(t, last, "keyup ")
}

func TestPausesWhileUnfocused(t *testing.T) {
	f := newFixture(t, fastPolicy())
	other := f.fake.Open("Terminal", "term", winRect)
	f.fake.Focus(other)
	paused := subscribe(f, events.EventTypeLoopPaused)

	require.NoError(t, f.worker.Start(context.Background()))
	e := waitFor(t, paused)
	assert.Equal(t, "unfocused", e.String("reason"))
	assert.Equal(t, "Terminal", e.String("foreground"))
	assert.Zero(t, f.source.calls.Load())

	stats := f.worker.Stats()
	assert.Equal(t, "paused", stats.Phase)
	assert.Equal(t, "unfocused", stats.PauseReason)
}

func TestRehooksForegroundInstance(t *testing.T) {
	f := newFixture(t, fastPolicy())
	f.source.empty.Store(true)
	rehooked := subscribe(f, events.EventTypeTargetRehooked)

	require.NoError(t, f.worker.Start(context.Background()))
	next := f.fake.Open("ExampleApp — Main", "example.exe", winRect)
	f.fake.Focus(next)

	e := waitFor(t, rehooked)
	assert.Equal(t, int(next), e.Int("to"))
	assert.Equal(t, next, f.tracker.Current().Handle)
}

func TestRehooksWithoutFocusGate(t *testing.T) {
	f := newFixture(t, fastPolicy())
	f.source.empty.Store(true)
	cfg := f.worker.Config()
	cfg.RequireFocus = false
	f.worker.SetConfig(cfg)
	rehooked := subscribe(f, events.EventTypeTargetRehooked)
	paused := subscribe(f, events.EventTypeLoopPaused)

	other := f.fake.Open("Terminal", "term", winRect)
	f.fake.Focus(other)
	require.NoError(t, f.worker.Start(context.Background()))
	require.Eventually(t, func() bool { return f.source.calls.Load() >= 3 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, f.handle, f.tracker.Current().Handle)
	assert.Empty(t, paused)

	next := f.fake.Open("ExampleApp — Main", "example.exe", winRect)
	f.fake.Focus(next)
	e := waitFor(t, rehooked)
	assert.Equal(t, int(next), e.Int("to"))
	assert.Equal(t, next, f.tracker.Current().Handle)
}

func TestReresolvesStaleHandle(t *testing.T) {
	f := newFixture(t, fastPolicy())
	f.source.empty.Store(true)
	lost := subscribe(f, events.EventTypeTargetLost)
	rehooked := subscribe(f, events.EventTypeTargetRehooked)

	f.fake.Close(f.handle)
	require.NoError(t, f.worker.Start(context.Background()))
	waitFor(t, lost)

	next := f.fake.Open("ExampleApp — Main", "example.exe", winRect)
	f.fake.Focus(next)
	waitFor(t, rehooked)

	cur := f.tracker.Current()
	require.NotNil(t, cur)
	assert.Equal(t, next, cur.Handle)
	assert.Equal(t, "exampleapp", cur.ID)
	assert.True(t, f.tracker.Valid())
}

func TestNoTargetPauses(t *testing.T) {
	f := newFixture(t, fastPolicy())
	f.tracker.Clear()
	paused := subscribe(f, events.EventTypeLoopPaused)

	require.NoError(t, f.worker.Start(context.Background()))
	e := waitFor(t, paused)
	assert.Equal(t, "no_target", e.String("reason"))
	assert.True(t, f.worker.Running())
	assert.Zero(t, f.source.calls.Load())
}

func TestCaptureErrorIsReportedAndRetried(t *testing.T) {
	f := newFixture(t, fastPolicy())
	f.source.err = faults.New(faults.ErrDetection, faults.StageCapture, "fake", errors.New("device busy"))
	errs := subscribe(f, events.EventTypeCycleError)

	require.NoError(t, f.worker.Start(context.Background()))
	e := waitFor(t, errs)
	assert.Equal(t, "capture", e.String("stage"))
	assert.Equal(t, "detection", e.String("kind"))
	assert.Equal(t, "exampleapp", e.String("target_id"))

	require.Eventually(t, func() bool { return f.source.calls.Load() >= 3 }, 3*time.Second, 2*time.Millisecond)
	assert.True(t, f.worker.Running())

	stats := f.worker.Stats()
	assert.Contains(t, stats.LastError, "device busy")
	assert.Equal(t, "capture", stats.LastStage)
	require.NotNil(t, f.rep.Last())
	assert.Equal(t, logging.ErrorCategoryCapture, f.rep.Last().Category)
}

func TestCaptureTimeout(t *testing.T) {
	f := newFixture(t, fastPolicy())
	f.source.block = true
	cfg := f.worker.Config()
	cfg.CaptureTimeout = 10 * time.Millisecond
	f.worker.SetConfig(cfg)
	errs := subscribe(f, events.EventTypeCycleError)

	require.NoError(t, f.worker.Start(context.Background()))
	e := waitFor(t, errs)
	assert.Equal(t, "capture", e.String("stage"))
	assert.Contains(t, e.String("error"), "deadline")
}

func TestTemplateModeWithoutTemplates(t *testing.T) {
	f := newFixture(t, fastPolicy())
	cfg := f.worker.Config()
	cfg.Mode = ModeTemplate
	f.worker.SetConfig(cfg)
	errs := subscribe(f, events.EventTypeCycleError)

	require.NoError(t, f.worker.Start(context.Background()))
	e := waitFor(t, errs)
	assert.Equal(t, "detect", e.String("stage"))
	assert.Contains(t, e.String("error"), "no templates")
}

func TestParentCancelStopsWorker(t *testing.T) {
	f := newFixture(t, fastPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.worker.Start(ctx))
	cancel()
	f.worker.Wait()
	assert.False(t, f.worker.Running())
	assert.Equal(t, "idle", f.worker.Stats().Phase)
}
