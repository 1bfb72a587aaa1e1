package cv

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/aimloop/internal/faults"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func disc(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			if (x-cx)*(x-cx)+(y-cy)*(y-cy) <= r*r {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

var (
	gray128 = color.RGBA{128, 128, 128, 255}
	red     = color.RGBA{255, 0, 0, 255}
)

func TestToHSV(t *testing.T) {
	assert.Equal(t, HSV{0, 255, 255}, ToHSV(255, 0, 0))
	assert.Equal(t, HSV{60, 255, 255}, ToHSV(0, 255, 0))
	assert.Equal(t, HSV{120, 255, 255}, ToHSV(0, 0, 255))
	assert.Equal(t, HSV{0, 0, 128}, ToHSV(128, 128, 128))
	assert.Equal(t, HSV{0, 0, 0}, ToHSV(0, 0, 0))
}

func TestColorDetectorAreaBand(t *testing.T) {
	frame := solid(400, 300, gray128)
	fill(frame, image.Rect(20, 20, 51, 51), red)     // 961
	fill(frame, image.Rect(100, 20, 120, 30), red)   // 200, lower bound
	fill(frame, image.Rect(300, 20, 310, 30), red)   // 100, too small
	fill(frame, image.Rect(200, 100, 250, 200), red) // 5000, upper bound
	fill(frame, image.Rect(300, 200, 371, 271), red) // 5041, too large

	got, err := NewColorDetector(DefaultColorConfig()).Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, image.Pt(35, 35), got[0].Center)
	assert.Equal(t, 17, got[0].Radius)
	assert.Equal(t, SourceColor, got[0].Source)
	assert.Equal(t, []float64{961, 200, 5000}, []float64{got[0].Score, got[1].Score, got[2].Score})
}

func TestColorDetectorDiagonalConnectivity(t *testing.T) {
	frame := solid(100, 100, gray128)
	// two 15x15 squares touching only at a corner form one 8-connected blob
	fill(frame, image.Rect(10, 10, 25, 25), red)
	fill(frame, image.Rect(25, 25, 40, 40), red)

	got, err := NewColorDetector(DefaultColorConfig()).Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float64(450), got[0].Score)
}

// roundRegion paints the n pixels nearest (cx, cy), a disc of exactly n px.
func roundRegion(img *image.RGBA, cx, cy, n int, c color.RGBA) {
	r := int(math.Sqrt(float64(n)/math.Pi)) + 2
	var pts []image.Point
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			pts = append(pts, image.Pt(x, y))
		}
	}
	d2 := func(p image.Point) int { return (p.X-cx)*(p.X-cx) + (p.Y-cy)*(p.Y-cy) }
	sort.SliceStable(pts, func(i, j int) bool { return d2(pts[i]) < d2(pts[j]) })
	for _, p := range pts[:n] {
		img.SetRGBA(p.X, p.Y, c)
	}
}

func TestColorDetectorDiscRadius(t *testing.T) {
	frame := solid(200, 200, gray128)
	roundRegion(frame, 100, 100, 1000, red)

	got, err := NewColorDetector(DefaultColorConfig()).Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float64(1000), got[0].Score)
	assert.Equal(t, int(math.Round(math.Sqrt(1000/math.Pi))), got[0].Radius)
	assert.Equal(t, 18, got[0].Radius)
	assert.InDelta(t, 100, got[0].Center.X, 1)
	assert.InDelta(t, 100, got[0].Center.Y, 1)
}

func TestPipelineFallsBackToHough(t *testing.T) {
	frame := solid(200, 200, color.RGBA{50, 50, 50, 255})
	disc(frame, 100, 100, 40, color.RGBA{200, 200, 200, 255})

	p := NewHybridPipeline(DefaultColorConfig(), DefaultHoughConfig())
	got, src, err := p.Detect(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, SourceGeometric, src)
	require.NotEmpty(t, got)

	c := got[0]
	assert.InDelta(t, 100, c.Center.X, 3)
	assert.InDelta(t, 100, c.Center.Y, 3)
	assert.InDelta(t, 40, c.Radius, 4)
	for _, o := range got[1:] {
		dist := math.Hypot(float64(o.Center.X-c.Center.X), float64(o.Center.Y-c.Center.Y))
		assert.GreaterOrEqual(t, dist, DefaultHoughConfig().MinDist)
	}
}

func TestPipelineColorShortCircuits(t *testing.T) {
	frame := solid(200, 200, gray128)
	fill(frame, image.Rect(40, 40, 70, 70), red)

	hough := &countingDetector{name: SourceGeometric}
	p := NewPipeline(NewColorDetector(DefaultColorConfig()), hough)
	got, src, err := p.Detect(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, SourceColor, src)
	assert.Len(t, got, 1)
	assert.Zero(t, hough.calls)
}

func TestPipelineEmptyAndErrors(t *testing.T) {
	p := NewHybridPipeline(DefaultColorConfig(), DefaultHoughConfig())

	got, src, err := p.Detect(context.Background(), solid(120, 120, gray128))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, Source(""), src)

	_, _, err = p.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 0, 0)))
	assert.ErrorIs(t, err, faults.ErrDetection)

	broken := &countingDetector{name: SourceColor, err: errors.New("boom")}
	_, src, err = NewPipeline(broken).Detect(context.Background(), solid(10, 10, gray128))
	assert.ErrorIs(t, err, faults.ErrDetection)
	assert.Equal(t, SourceColor, src)
}

func TestPipelineNormalizesOffsetFrames(t *testing.T) {
	frame := solid(200, 200, gray128)
	fill(frame, image.Rect(100, 100, 131, 131), red)
	shifted := frame.SubImage(image.Rect(50, 50, 200, 200)).(*image.RGBA)

	got, _, err := NewPipeline(NewColorDetector(DefaultColorConfig())).Detect(context.Background(), shifted)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, image.Pt(65, 65), got[0].Center)
}

type countingDetector struct {
	name  Source
	calls int
	out   []Candidate
	err   error
}

func (d *countingDetector) Name() Source { return d.name }

func (d *countingDetector) Detect(context.Context, *image.RGBA) ([]Candidate, error) {
	d.calls++
	return d.out, d.err
}

func noise(w, h int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

// cut copies a w x h patch of img starting at (x, y).
func cut(img *image.Gray, x, y, w, h int) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, w, h))
	for j := 0; j < h; j++ {
		copy(out.Pix[j*out.Stride:j*out.Stride+w], img.Pix[(y+j)*img.Stride+x:])
	}
	return out
}

// blurred is noise smoothed with a box filter, so correlation falls off over
// a few pixels around a match.
func blurred(w, h int, seed int64, radius int) *image.Gray {
	src := noise(w, h, seed)
	out := image.NewGray(src.Rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum, n := 0, 0
			for j := max(y-radius, 0); j <= min(y+radius, h-1); j++ {
				for i := max(x-radius, 0); i <= min(x+radius, w-1); i++ {
					sum += int(src.Pix[j*src.Stride+i])
					n++
				}
			}
			out.Pix[y*out.Stride+x] = uint8(sum / n)
		}
	}
	return out
}

func TestFindTemplateExact(t *testing.T) {
	hay := noise(160, 120, 1)
	for _, at := range []image.Point{{90, 70}, {91, 71}, {0, 0}, {136, 102}} {
		res, err := FindTemplate(hay, cut(hay, at.X, at.Y, 24, 18), nil)
		require.NoError(t, err)
		assert.True(t, res.Found, "at %v", at)
		assert.Equal(t, at, res.Location)
		assert.GreaterOrEqual(t, res.Confidence, 0.99)
	}

	res, err := FindTemplate(hay, cut(hay, 90, 70, 24, 18), nil)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(102, 79), res.Center())
}

func TestFindTemplateCoarseRefinesOffGrid(t *testing.T) {
	hay := blurred(160, 120, 7, 2)
	needle := cut(hay, 91, 71, 40, 30)

	res, err := FindTemplate(hay, needle, &MatchConfig{Threshold: 0.9, Stride: 2})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, image.Pt(91, 71), res.Location)
	assert.GreaterOrEqual(t, res.Confidence, 0.99)
}

func TestKeepPeak(t *testing.T) {
	var peaks []coarsePeak
	for i := 0; i < 20; i++ {
		peaks = keepPeak(peaks, coarsePeak{image.Pt(i, 0), float64((i * 7) % 20)})
	}
	require.Len(t, peaks, coarsePeaks)
	for i := 1; i < len(peaks); i++ {
		assert.GreaterOrEqual(t, peaks[i-1].score, peaks[i].score)
	}
	assert.Equal(t, float64(19), peaks[0].score)
	assert.Equal(t, float64(12), peaks[coarsePeaks-1].score)
}

func TestFindTemplateErrors(t *testing.T) {
	hay := noise(40, 40, 2)
	_, err := FindTemplate(hay, noise(50, 10, 3), nil)
	assert.ErrorIs(t, err, ErrTemplateTooLarge)

	_, err = FindTemplate(hay, image.NewGray(image.Rect(0, 0, 8, 8)), nil)
	assert.ErrorIs(t, err, ErrFlatTemplate)

	region := image.Rect(0, 0, 20, 20)
	_, err = FindTemplate(hay, noise(25, 5, 4), &MatchConfig{Threshold: 0.8, SearchRegion: &region})
	assert.ErrorIs(t, err, ErrTemplateTooLarge)
}

func TestScales(t *testing.T) {
	s := Scales(0.8, 1.2, 10)
	require.Len(t, s, 10)
	assert.InDelta(t, 0.8, s[0], 1e-9)
	assert.InDelta(t, 1.2, s[9], 1e-9)
	assert.Equal(t, []float64{1}, Scales(0.8, 1.2, 1))
}

type memTemplates struct {
	img  map[string]*image.Gray
	defs map[string]Template
}

func (m memTemplates) List() []string {
	var out []string
	for name := range m.defs {
		out = append(out, name)
	}
	return out
}

func (m memTemplates) Get(name string) (Template, bool) {
	t, ok := m.defs[name]
	return t, ok
}

func (m memTemplates) Scaled(name string, scales []float64) ([]ScaledTemplate, error) {
	img, ok := m.img[name]
	if !ok {
		return nil, errors.New("missing")
	}
	return []ScaledTemplate{{Scale: 1, Image: img}}, nil
}

func TestTemplateDetector(t *testing.T) {
	hay := noise(200, 150, 5)
	frame := image.NewRGBA(image.Rect(0, 0, 200, 150))
	for i, v := range hay.Pix {
		frame.Pix[i*4], frame.Pix[i*4+1], frame.Pix[i*4+2], frame.Pix[i*4+3] = v, v, v, 255
	}
	patch := image.NewGray(image.Rect(0, 0, 30, 20))
	for y := 0; y < 20; y++ {
		copy(patch.Pix[y*patch.Stride:y*patch.Stride+30], hay.Pix[(y+40)*hay.Stride+60:])
	}

	src := memTemplates{
		img:  map[string]*image.Gray{"button": patch, "other": noise(30, 20, 99)},
		defs: map[string]Template{"button": {Name: "button"}, "other": {Name: "other"}},
	}
	d := NewTemplateDetector(src, DefaultTemplateConfig(), WithTemplates("button", "other"))

	got, err := d.Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "button", got[0].Template)
	assert.Equal(t, image.Pt(75, 50), got[0].Center)
	assert.Equal(t, image.Pt(30, 20), got[0].Size)
	assert.Equal(t, SourceTemplate, got[0].Source)
	assert.GreaterOrEqual(t, got[0].Score, 0.99)

	_, err = NewTemplateDetector(src, DefaultTemplateConfig(), WithTemplates("nope")).Detect(context.Background(), frame)
	assert.Error(t, err)
}

func TestTemplateDetectorOddOffset(t *testing.T) {
	hay := noise(200, 150, 5)
	frame := image.NewRGBA(image.Rect(0, 0, 200, 150))
	for i, v := range hay.Pix {
		frame.Pix[i*4], frame.Pix[i*4+1], frame.Pix[i*4+2], frame.Pix[i*4+3] = v, v, v, 255
	}
	src := memTemplates{
		img:  map[string]*image.Gray{"button": cut(hay, 61, 41, 30, 20)},
		defs: map[string]Template{"button": {Name: "button"}},
	}

	got, err := NewTemplateDetector(src, DefaultTemplateConfig()).Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, image.Pt(76, 51), got[0].Center)
	assert.GreaterOrEqual(t, got[0].Score, 0.99)
}

func TestCandidateValidate(t *testing.T) {
	assert.NoError(t, Candidate{Center: image.Pt(1, 1), Radius: 3, Score: 1}.Validate())
	assert.Error(t, Candidate{Center: image.Pt(1, 1), Radius: -1}.Validate())
	assert.Error(t, Candidate{Center: image.Pt(1, 1), Score: math.NaN()}.Validate())
	assert.Error(t, Candidate{Center: image.Pt(-1, 1)}.Validate())
}

func TestAnnotateLeavesSourceUntouched(t *testing.T) {
	frame := solid(50, 50, gray128)
	out := Annotate(frame, []Candidate{{Center: image.Pt(25, 25), Radius: 5, Source: SourceColor}})
	assert.Equal(t, gray128, frame.RGBAAt(20, 20))
	assert.Equal(t, red, out.RGBAAt(20, 20))
}
