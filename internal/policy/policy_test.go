package policy

import (
	"image"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/aimloop/internal/cv"
	"jordanella.com/aimloop/internal/input"
)

func noMiss() Config {
	cfg := DefaultConfig()
	cfg.MissRate = 0
	return cfg
}

func candidates(points ...image.Point) []cv.Candidate {
	out := make([]cv.Candidate, len(points))
	for i, p := range points {
		out[i] = cv.Candidate{Center: p, Radius: 10, Source: cv.SourceColor, Score: float64(100 * (i + 1))}
	}
	return out
}

func TestNoCandidates(t *testing.T) {
	p := New(noMiss(), rand.New(rand.NewSource(1)))
	assert.Equal(t, NoAction, p.Decide(nil, time.Now()).Kind)
	assert.True(t, p.LastAction().IsZero())
}

func TestCooldown(t *testing.T) {
	p := New(noMiss(), rand.New(rand.NewSource(1)))
	start := time.Unix(1000, 0)
	cs := candidates(image.Pt(50, 50))

	var acted []time.Duration
	for step := time.Duration(0); step <= 5*time.Second; step += 20 * time.Millisecond {
		if p.Decide(cs, start.Add(step)).Kind == Act {
			acted = append(acted, step)
		}
	}
	assert.Equal(t, []time.Duration{0, 2 * time.Second, 4 * time.Second}, acted)
}

func TestMissPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MissRate = 1
	p := New(cfg, rand.New(rand.NewSource(1)))

	d := p.Decide(candidates(image.Pt(5, 5)), time.Now())
	assert.Equal(t, Miss, d.Kind)
	assert.Equal(t, 50*time.Millisecond, d.Sleep)
	// a miss does not start the cooldown
	assert.True(t, p.LastAction().IsZero())
}

func TestJitterHoldAndKeys(t *testing.T) {
	p := New(noMiss(), rand.New(rand.NewSource(7)))
	center := image.Pt(200, 150)
	keys := map[string]int{}
	now := time.Unix(0, 0)

	for i := 0; i < 500; i++ {
		now = now.Add(3 * time.Second)
		d := p.Decide(candidates(center), now)
		require.Equal(t, Act, d.Kind)

		in := d.Intent
		assert.Equal(t, input.KindClick, in.Kind)
		assert.Equal(t, input.SpaceFrame, in.Space)
		assert.Equal(t, input.ButtonLeft, in.Button)
		assert.LessOrEqual(t, math.Abs(float64(in.Point.X-center.X)), 5.0)
		assert.LessOrEqual(t, math.Abs(float64(in.Point.Y-center.Y)), 5.0)
		assert.Equal(t, center.Add(in.Jitter), in.Point)
		assert.GreaterOrEqual(t, in.Hold, 10*time.Millisecond)
		assert.LessOrEqual(t, in.Hold, 30*time.Millisecond)
		keys[in.Key]++
	}
	assert.Len(t, keys, 2)
	assert.Positive(t, keys["z"])
	assert.Positive(t, keys["x"])
}

func TestSelection(t *testing.T) {
	cs := candidates(image.Pt(10, 10), image.Pt(90, 90), image.Pt(40, 40))

	cfg := noMiss()
	cfg.Jitter = 0
	d := New(cfg, nil).Decide(cs, time.Now())
	assert.Equal(t, image.Pt(10, 10), d.Candidate.Center)

	cfg.Select = SelectHighest
	d = New(cfg, nil).Decide(cs, time.Now())
	assert.Equal(t, image.Pt(40, 40), d.Candidate.Center)
	assert.Equal(t, image.Pt(40, 40), d.Intent.Point)

	cfg.Select = SelectRandom
	seen := map[image.Point]bool{}
	p := New(cfg, rand.New(rand.NewSource(3)))
	now := time.Unix(0, 0)
	for i := 0; i < 100; i++ {
		now = now.Add(3 * time.Second)
		seen[p.Decide(cs, now).Candidate.Center] = true
	}
	assert.Len(t, seen, 3)
}

func TestMalformedCandidate(t *testing.T) {
	p := New(noMiss(), nil)
	d := p.Decide([]cv.Candidate{{Center: image.Pt(1, 1), Radius: -3}}, time.Now())
	assert.Equal(t, NoAction, d.Kind)

	d = p.Decide([]cv.Candidate{{Center: image.Pt(1, 1), Score: math.Inf(1)}}, time.Now())
	assert.Equal(t, NoAction, d.Kind)
	assert.True(t, p.LastAction().IsZero())
}

func TestKeyOnlyPolicy(t *testing.T) {
	cfg := noMiss()
	cfg.Click = false
	cfg.Keys = []string{"Space"}
	d := New(cfg, nil).Decide(candidates(image.Pt(3, 3)), time.Now())
	assert.Equal(t, input.KindKeyTap, d.Intent.Kind)
	assert.Equal(t, "space", d.Intent.Key)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.MissRate = 2
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.HoldMin, bad.HoldMax = 30*time.Millisecond, 10*time.Millisecond
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Select = "closest"
	assert.Error(t, bad.Validate())
}

func TestSetConfigKeepsCooldown(t *testing.T) {
	p := New(noMiss(), nil)
	now := time.Unix(0, 0)
	require.Equal(t, Act, p.Decide(candidates(image.Pt(1, 1)), now).Kind)

	cfg := noMiss()
	cfg.Cooldown = 10 * time.Second
	p.SetConfig(cfg)
	assert.Equal(t, NoAction, p.Decide(candidates(image.Pt(1, 1)), now.Add(5*time.Second)).Kind)
	assert.Equal(t, Act, p.Decide(candidates(image.Pt(1, 1)), now.Add(10*time.Second)).Kind)
}
