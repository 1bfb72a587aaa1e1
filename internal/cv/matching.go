package cv

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
)

var (
	ErrTemplateTooLarge = errors.New("template larger than search area")
	ErrFlatTemplate     = errors.New("template has no contrast")
)

// MatchResult contains template matching results
type MatchResult struct {
	Found      bool
	Location   image.Point // top-left of the best window
	Confidence float64     // normalized correlation, -1..1
	Size       image.Point // matched template size
	Scale      float64
}

// Center returns the middle of the matched window.
func (m MatchResult) Center() image.Point {
	return m.Location.Add(image.Pt(m.Size.X/2, m.Size.Y/2))
}

// MatchConfig configures template matching
type MatchConfig struct {
	Threshold    float64          // accept at or above, -1..1
	SearchRegion *image.Rectangle // optional: limit search area
	// Stride is the coarse step between tested positions; the best coarse hits
	// are refined at stride 1. Zero or one means exhaustive. Coarse search only
	// suits smooth imagery where the score falls off gradually around a match.
	Stride int
}

// DefaultMatchConfig returns recommended settings
func DefaultMatchConfig() *MatchConfig {
	return &MatchConfig{Threshold: 0.8, Stride: 1}
}

// integral holds summed-area tables for window sums and sums of squares.
type integral struct {
	w     int
	sum   []float64
	sumSq []float64
}

func newIntegral(img *image.Gray) *integral {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	stride := w + 1
	in := &integral{w: stride, sum: make([]float64, stride*(h+1)), sumSq: make([]float64, stride*(h+1))}
	for y := 0; y < h; y++ {
		var rowSum, rowSq float64
		for x := 0; x < w; x++ {
			v := float64(img.Pix[y*img.Stride+x])
			rowSum += v
			rowSq += v * v
			in.sum[(y+1)*stride+x+1] = in.sum[y*stride+x+1] + rowSum
			in.sumSq[(y+1)*stride+x+1] = in.sumSq[y*stride+x+1] + rowSq
		}
	}
	return in
}

func (in *integral) window(x, y, w, h int) (sum, sumSq float64) {
	a, b := y*in.w+x, y*in.w+x+w
	c, d := (y+h)*in.w+x, (y+h)*in.w+x+w
	return in.sum[d] - in.sum[b] - in.sum[c] + in.sum[a],
		in.sumSq[d] - in.sumSq[b] - in.sumSq[c] + in.sumSq[a]
}

// preparedTemplate is a zero-mean copy of the template.
type preparedTemplate struct {
	w, h  int
	zero  []float64
	normT float64 // sum of squared zero-mean values
}

func prepare(t *image.Gray) (*preparedTemplate, error) {
	w, h := t.Rect.Dx(), t.Rect.Dy()
	n := float64(w * h)
	var mean float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mean += float64(t.Pix[y*t.Stride+x])
		}
	}
	mean /= n

	p := &preparedTemplate{w: w, h: h, zero: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(t.Pix[y*t.Stride+x]) - mean
			p.zero[y*w+x] = v
			p.normT += v * v
		}
	}
	if p.normT < 1e-9 {
		return nil, ErrFlatTemplate
	}
	return p, nil
}

// score is the mean-subtracted normalized correlation at (x, y):
// sum(T'·I) / sqrt(sum(T'^2) · sum(I'^2)). Because T' has zero mean,
// sum(T'·I') equals sum(T'·I).
func (p *preparedTemplate) score(img *image.Gray, in *integral, x, y int) float64 {
	var num float64
	for j := 0; j < p.h; j++ {
		row := img.Pix[(y+j)*img.Stride+x:]
		tr := p.zero[j*p.w : (j+1)*p.w]
		for i, tv := range tr {
			num += tv * float64(row[i])
		}
	}
	s, sq := in.window(x, y, p.w, p.h)
	varI := sq - s*s/float64(p.w*p.h)
	if varI < 1e-9 {
		return 0
	}
	return num / math.Sqrt(p.normT*varI)
}

// FindTemplate finds the best normalized-correlation match of needle in haystack.
// Both images must start at (0,0).
func FindTemplate(haystack, needle *image.Gray, config *MatchConfig) (MatchResult, error) {
	return findWithIntegral(haystack, newIntegral(haystack), needle, config)
}

func findWithIntegral(haystack *image.Gray, in *integral, needle *image.Gray, config *MatchConfig) (MatchResult, error) {
	if config == nil {
		config = DefaultMatchConfig()
	}
	area := haystack.Rect
	if config.SearchRegion != nil {
		area = config.SearchRegion.Intersect(haystack.Rect)
	}
	nw, nh := needle.Rect.Dx(), needle.Rect.Dy()
	if nw > area.Dx() || nh > area.Dy() || nw == 0 || nh == 0 {
		return MatchResult{}, ErrTemplateTooLarge
	}
	p, err := prepare(needle)
	if err != nil {
		return MatchResult{}, err
	}

	stride := max(config.Stride, 1)
	maxX, maxY := area.Max.X-nw, area.Max.Y-nh
	best := MatchResult{Confidence: -2, Size: image.Pt(nw, nh), Scale: 1}
	try := func(x, y int) float64 {
		s := p.score(haystack, in, x, y)
		if s > best.Confidence {
			best.Confidence = s
			best.Location = image.Pt(x, y)
		}
		return s
	}

	if stride == 1 {
		for y := area.Min.Y; y <= maxY; y++ {
			for x := area.Min.X; x <= maxX; x++ {
				try(x, y)
			}
		}
		best.Found = best.Confidence >= config.Threshold
		return best, nil
	}

	var peaks []coarsePeak
	for y := area.Min.Y; y <= maxY; y += stride {
		for x := area.Min.X; x <= maxX; x += stride {
			peaks = keepPeak(peaks, coarsePeak{image.Pt(x, y), try(x, y)})
		}
	}
	for _, c := range peaks {
		for y := max(c.at.Y-stride+1, area.Min.Y); y <= min(c.at.Y+stride-1, maxY); y++ {
			for x := max(c.at.X-stride+1, area.Min.X); x <= min(c.at.X+stride-1, maxX); x++ {
				try(x, y)
			}
		}
	}

	best.Found = best.Confidence >= config.Threshold
	return best, nil
}

// coarsePeaks is how many coarse hits are refined when Stride > 1.
const coarsePeaks = 8

type coarsePeak struct {
	at    image.Point
	score float64
}

// keepPeak inserts p into peaks, kept sorted by descending score and capped at
// coarsePeaks entries.
func keepPeak(peaks []coarsePeak, p coarsePeak) []coarsePeak {
	if len(peaks) == coarsePeaks && p.score <= peaks[len(peaks)-1].score {
		return peaks
	}
	i := len(peaks)
	for i > 0 && peaks[i-1].score < p.score {
		i--
	}
	if len(peaks) < coarsePeaks {
		peaks = append(peaks, coarsePeak{})
	}
	copy(peaks[i+1:], peaks[i:len(peaks)-1])
	peaks[i] = p
	return peaks
}

// ScaledTemplate is one resampled variant of a template.
type ScaledTemplate struct {
	Scale float64
	Image *image.Gray
}

// FindTemplateMultiScale tries every variant and keeps the best-scoring one.
// Variants that do not fit the search area are skipped.
func FindTemplateMultiScale(haystack *image.Gray, variants []ScaledTemplate, config *MatchConfig) (MatchResult, error) {
	in := newIntegral(haystack)
	best := MatchResult{Confidence: -2}
	tried := 0
	var lastErr error
	for _, v := range variants {
		res, err := findWithIntegral(haystack, in, v.Image, config)
		if err != nil {
			lastErr = err
			continue
		}
		tried++
		if res.Confidence > best.Confidence {
			best = res
			best.Scale = v.Scale
		}
	}
	if tried == 0 {
		if lastErr == nil {
			lastErr = ErrTemplateTooLarge
		}
		return MatchResult{}, lastErr
	}
	return best, nil
}

// Scales returns steps evenly spaced factors from lo to hi inclusive.
func Scales(lo, hi float64, steps int) []float64 {
	if steps <= 1 {
		return []float64{(lo + hi) / 2}
	}
	out := make([]float64, steps)
	for i := range out {
		out[i] = lo + float64(i)*(hi-lo)/float64(steps-1)
	}
	return out
}

// Gray converts any image to 8-bit luminance (299/587/114 weights) at (0,0).
func Gray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			row := rgba.Pix[(y+b.Min.Y-rgba.Rect.Min.Y)*rgba.Stride+(b.Min.X-rgba.Rect.Min.X)*4:]
			for x := 0; x < b.Dx(); x++ {
				i := x * 4
				gray.Pix[y*gray.Stride+x] = uint8((int(row[i])*299 + int(row[i+1])*587 + int(row[i+2])*114) / 1000)
			}
		}
		return gray
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(x+b.Min.X, y+b.Min.Y).RGBA()
			gray.Pix[y*gray.Stride+x] = uint8((int(r>>8)*299 + int(g>>8)*587 + int(bl>>8)*114) / 1000)
		}
	}
	return gray
}

// CropRegion copies a rectangle out of img into a new image at (0,0).
func CropRegion(img *image.RGBA, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(img.Rect)
	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(cropped, cropped.Rect, img, rect.Min, draw.Src)
	return cropped
}

// Annotate returns a copy of frame with a box drawn around each candidate.
func Annotate(frame *image.RGBA, candidates []Candidate) *image.RGBA {
	out := image.NewRGBA(frame.Rect)
	copy(out.Pix, frame.Pix)

	for _, c := range candidates {
		half := image.Pt(c.Radius, c.Radius)
		if c.Size != (image.Point{}) {
			half = image.Pt(c.Size.X/2, c.Size.Y/2)
		}
		col := color.RGBA{255, 0, 0, 255}
		switch c.Source {
		case SourceGeometric:
			col = color.RGBA{0, 200, 255, 255}
		case SourceTemplate:
			col = color.RGBA{0, 255, 0, 255}
		}
		drawRect(out, image.Rectangle{Min: c.Center.Sub(half), Max: c.Center.Add(half)}.Intersect(out.Rect), col)
	}
	return out
}

func drawRect(img *image.RGBA, rect image.Rectangle, col color.RGBA) {
	if rect.Empty() {
		return
	}
	for x := rect.Min.X; x < rect.Max.X; x++ {
		img.SetRGBA(x, rect.Min.Y, col)
		img.SetRGBA(x, rect.Max.Y-1, col)
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		img.SetRGBA(rect.Min.X, y, col)
		img.SetRGBA(rect.Max.X-1, y, col)
	}
}
