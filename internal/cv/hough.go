package cv

import (
	"context"
	"image"
	"math"
	"sort"
)

// HoughConfig tunes the gradient Hough circle transform.
type HoughConfig struct {
	BlurKernel int     `mapstructure:"blur_kernel"`
	BlurSigma  float64 `mapstructure:"blur_sigma"`
	// DP is the inverse accumulator resolution: 1.2 means one cell per 1.2 px.
	DP      float64 `mapstructure:"dp"`
	MinDist float64 `mapstructure:"min_dist"`
	// Param1 is the upper edge threshold; the lower one is half of it.
	Param1 float64 `mapstructure:"param1"`
	// Param2 is the minimum accumulator votes for a center.
	Param2     float64 `mapstructure:"param2"`
	MinRadius  int     `mapstructure:"min_radius"`
	MaxRadius  int     `mapstructure:"max_radius"`
	MaxCircles int     `mapstructure:"max_circles"`
}

func DefaultHoughConfig() HoughConfig {
	return HoughConfig{
		BlurKernel: 9,
		BlurSigma:  2,
		DP:         1.2,
		MinDist:    60,
		Param1:     50,
		Param2:     30,
		MinRadius:  15,
		MaxRadius:  100,
		MaxCircles: 16,
	}
}

// HoughDetector finds circular edge patterns regardless of color.
type HoughDetector struct {
	cfg HoughConfig
}

func NewHoughDetector(cfg HoughConfig) *HoughDetector {
	if cfg.DP <= 0 {
		cfg.DP = 1
	}
	if cfg.MaxCircles <= 0 {
		cfg.MaxCircles = 16
	}
	return &HoughDetector{cfg: cfg}
}

func (d *HoughDetector) Name() Source { return SourceGeometric }

type edgeMap struct {
	w, h   int
	edge   []bool
	dx, dy []float32 // unit gradient direction at edge pixels
}

// Detect runs grayscale, Gaussian blur, Canny-style edges, then votes along each
// edge pixel's gradient for every radius in range.
func (d *HoughDetector) Detect(ctx context.Context, frame *image.RGBA) ([]Candidate, error) {
	w, h := frame.Rect.Dx(), frame.Rect.Dy()
	if w < 3 || h < 3 {
		return nil, nil
	}

	gray := grayFloats(frame)
	if d.cfg.BlurKernel > 1 {
		gray = gaussianBlur(gray, w, h, d.cfg.BlurKernel, d.cfg.BlurSigma)
	}
	em := cannyEdges(gray, w, h, d.cfg.Param1/2, d.cfg.Param1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	centers := d.vote(em)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Candidate
	var edges []image.Point
	for i, e := range em.edge {
		if e {
			edges = append(edges, image.Pt(i%w, i/w))
		}
	}
	for _, c := range centers {
		if len(out) >= d.cfg.MaxCircles {
			break
		}
		tooClose := false
		for _, o := range out {
			if math.Hypot(float64(c.x-o.Center.X), float64(c.y-o.Center.Y)) < d.cfg.MinDist {
				tooClose = true
				break
			}
		}
		if tooClose {
			continue
		}
		r, support := d.bestRadius(edges, c.x, c.y)
		if r == 0 || support < 1 {
			continue
		}
		out = append(out, Candidate{
			Center: image.Pt(c.x, c.y),
			Radius: r,
			Source: SourceGeometric,
			Score:  float64(c.votes),
		})
	}
	return out, nil
}

type center struct {
	x, y  int
	votes int
}

func (d *HoughDetector) vote(em edgeMap) []center {
	dp := d.cfg.DP
	aw := int(math.Ceil(float64(em.w)/dp)) + 1
	ah := int(math.Ceil(float64(em.h)/dp)) + 1
	acc := make([]int32, aw*ah)

	for i, e := range em.edge {
		if !e {
			continue
		}
		x, y := float64(i%em.w), float64(i/em.w)
		gx, gy := float64(em.dx[i]), float64(em.dy[i])
		for _, sign := range [2]float64{1, -1} {
			last := -1
			for r := d.cfg.MinRadius; r <= d.cfg.MaxRadius; r++ {
				cx := (x + sign*float64(r)*gx) / dp
				cy := (y + sign*float64(r)*gy) / dp
				ix, iy := int(cx), int(cy)
				if cx < 0 || cy < 0 || ix >= aw || iy >= ah {
					break
				}
				cell := iy*aw + ix
				if cell != last {
					acc[cell]++
					last = cell
				}
			}
		}
	}

	threshold := int32(d.cfg.Param2)
	var centers []center
	for y := 1; y < ah-1; y++ {
		for x := 1; x < aw-1; x++ {
			v := acc[y*aw+x]
			if v <= threshold {
				continue
			}
			// strict local maximum against earlier neighbours, non-strict against later
			if v <= acc[y*aw+x-1] || v <= acc[(y-1)*aw+x] || v <= acc[(y-1)*aw+x-1] || v <= acc[(y-1)*aw+x+1] ||
				v < acc[y*aw+x+1] || v < acc[(y+1)*aw+x] || v < acc[(y+1)*aw+x-1] || v < acc[(y+1)*aw+x+1] {
				continue
			}
			centers = append(centers, center{
				x:     int(math.Round((float64(x) + 0.5) * dp)),
				y:     int(math.Round((float64(y) + 0.5) * dp)),
				votes: int(v),
			})
		}
	}
	sort.SliceStable(centers, func(i, j int) bool { return centers[i].votes > centers[j].votes })
	return centers
}

// bestRadius picks the radius with the most edge pixels at that distance from
// (cx, cy), smoothing each bin with its neighbours.
func (d *HoughDetector) bestRadius(edges []image.Point, cx, cy int) (int, int) {
	hist := make([]int, d.cfg.MaxRadius+2)
	for _, p := range edges {
		dist := math.Hypot(float64(p.X-cx), float64(p.Y-cy))
		r := int(math.Round(dist))
		if r >= d.cfg.MinRadius && r <= d.cfg.MaxRadius {
			hist[r]++
		}
	}
	best, support := 0, 0
	for r := d.cfg.MinRadius; r <= d.cfg.MaxRadius; r++ {
		s := hist[r] + hist[r+1]
		if r > 0 {
			s += hist[r-1]
		}
		if s > support {
			best, support = r, s
		}
	}
	return best, support
}

// grayFloats converts to luminance with the 299/587/114 weights.
func grayFloats(frame *image.RGBA) []float32 {
	w, h := frame.Rect.Dx(), frame.Rect.Dy()
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		row := frame.Pix[y*frame.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			out[y*w+x] = float32(299*int(row[i])+587*int(row[i+1])+114*int(row[i+2])) / 1000
		}
	}
	return out
}

func gaussianKernel(size int, sigma float64) []float32 {
	if size%2 == 0 {
		size++
	}
	if sigma <= 0 {
		sigma = 0.3*(float64(size-1)*0.5-1) + 0.8
	}
	k := make([]float32, size)
	half := size / 2
	var sum float64
	for i := range k {
		x := float64(i - half)
		v := math.Exp(-(x * x) / (2 * sigma * sigma))
		k[i] = float32(v)
		sum += v
	}
	for i := range k {
		k[i] /= float32(sum)
	}
	return k
}

// gaussianBlur is a separable blur with replicated borders.
func gaussianBlur(src []float32, w, h, size int, sigma float64) []float32 {
	k := gaussianKernel(size, sigma)
	half := len(k) / 2
	tmp := make([]float32, len(src))
	out := make([]float32, len(src))

	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v > hi {
			return hi
		}
		return v
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float32
			for i, kv := range k {
				s += kv * src[y*w+clamp(x+i-half, w-1)]
			}
			tmp[y*w+x] = s
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float32
			for i, kv := range k {
				s += kv * tmp[clamp(y+i-half, h-1)*w+x]
			}
			out[y*w+x] = s
		}
	}
	return out
}

// cannyEdges applies 3x3 Sobel, non-maximum suppression and hysteresis.
func cannyEdges(g []float32, w, h int, low, high float64) edgeMap {
	n := w * h
	gx := make([]float32, n)
	gy := make([]float32, n)
	mag := make([]float32, n)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			sx := (g[i-w+1] + 2*g[i+1] + g[i+w+1]) - (g[i-w-1] + 2*g[i-1] + g[i+w-1])
			sy := (g[i+w-1] + 2*g[i+w] + g[i+w+1]) - (g[i-w-1] + 2*g[i-w] + g[i-w+1])
			gx[i], gy[i] = sx, sy
			mag[i] = float32(math.Hypot(float64(sx), float64(sy)))
		}
	}

	// 0 none, 1 weak, 2 strong
	class := make([]uint8, n)
	var stack []int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m == 0 || float64(m) < low {
				continue
			}
			var a, b float32
			angle := math.Atan2(float64(gy[i]), float64(gx[i])) * 180 / math.Pi
			if angle < 0 {
				angle += 180
			}
			switch {
			case angle < 22.5 || angle >= 157.5:
				a, b = mag[i-1], mag[i+1]
			case angle < 67.5:
				a, b = mag[i-w-1], mag[i+w+1]
			case angle < 112.5:
				a, b = mag[i-w], mag[i+w]
			default:
				a, b = mag[i-w+1], mag[i+w-1]
			}
			if m < a || m < b {
				continue
			}
			if float64(m) >= high {
				class[i] = 2
				stack = append(stack, i)
			} else {
				class[i] = 1
			}
		}
	}

	em := edgeMap{w: w, h: h, edge: make([]bool, n), dx: make([]float32, n), dy: make([]float32, n)}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if em.edge[i] {
			continue
		}
		em.edge[i] = true
		em.dx[i] = gx[i] / mag[i]
		em.dy[i] = gy[i] / mag[i]
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if class[j] == 1 && !em.edge[j] {
					class[j] = 2
					stack = append(stack, j)
				}
			}
		}
	}
	return em
}
