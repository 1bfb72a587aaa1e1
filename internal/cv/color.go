package cv

import (
	"context"
	"image"
	"math"
)

// HSV is a color on the 8-bit OpenCV scale: hue 0..179, saturation and value 0..255.
type HSV struct {
	H, S, V uint8
}

// ColorConfig is the "vibrant" band and the accepted blob area.
type ColorConfig struct {
	Lower   [3]int `mapstructure:"lower"`
	Upper   [3]int `mapstructure:"upper"`
	MinArea int    `mapstructure:"min_area"`
	MaxArea int    `mapstructure:"max_area"`
}

// DefaultColorConfig matches any strongly saturated, reasonably bright pixel.
func DefaultColorConfig() ColorConfig {
	return ColorConfig{
		Lower:   [3]int{0, 70, 70},
		Upper:   [3]int{179, 255, 255},
		MinArea: 200,
		MaxArea: 5000,
	}
}

// ToHSV converts 8-bit RGB to HSV.
func ToHSV(r, g, b uint8) HSV {
	rf, gf, bf := float64(r), float64(g), float64(b)
	v := math.Max(rf, math.Max(gf, bf))
	mn := math.Min(rf, math.Min(gf, bf))
	delta := v - mn

	var s, h float64
	if v > 0 {
		s = delta / v * 255
	}
	if delta > 0 {
		switch v {
		case rf:
			h = 60 * (gf - bf) / delta
		case gf:
			h = 120 + 60*(bf-rf)/delta
		default:
			h = 240 + 60*(rf-gf)/delta
		}
		if h < 0 {
			h += 360
		}
	}
	hh := math.Round(h / 2)
	if hh >= 180 {
		hh = 0
	}
	return HSV{H: uint8(hh), S: uint8(math.Round(s)), V: uint8(v)}
}

// InBand reports whether c lies inside [lower, upper] on every channel.
func (cfg ColorConfig) InBand(c HSV) bool {
	return int(c.H) >= cfg.Lower[0] && int(c.H) <= cfg.Upper[0] &&
		int(c.S) >= cfg.Lower[1] && int(c.S) <= cfg.Upper[1] &&
		int(c.V) >= cfg.Lower[2] && int(c.V) <= cfg.Upper[2]
}

// Mask returns one bool per pixel, row-major, true where the pixel is in band.
func (cfg ColorConfig) Mask(frame *image.RGBA) []bool {
	w, h := frame.Rect.Dx(), frame.Rect.Dy()
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		row := frame.Pix[y*frame.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			mask[y*w+x] = cfg.InBand(ToHSV(row[i], row[i+1], row[i+2]))
		}
	}
	return mask
}

// Blob is one 8-connected component of a mask.
type Blob struct {
	Area     int
	Centroid image.Point
	Bounds   image.Rectangle
}

// Components labels the 8-connected components of mask, in raster order of
// their first pixel.
func Components(mask []bool, w, h int) []Blob {
	seen := make([]bool, len(mask))
	var blobs []Blob
	stack := make([]int, 0, 256)

	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		seen[start] = true
		stack = append(stack[:0], start)

		var area, sumX, sumY int
		minX, minY, maxX, maxY := w, h, -1, -1
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%w, p/w

			area++
			sumX += x
			sumY += y
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)

			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					q := ny*w + nx
					if mask[q] && !seen[q] {
						seen[q] = true
						stack = append(stack, q)
					}
				}
			}
		}

		// centroid from first-order moments m10/m00, m01/m00
		blobs = append(blobs, Blob{
			Area: area,
			Centroid: image.Pt(
				int(math.Round(float64(sumX)/float64(area))),
				int(math.Round(float64(sumY)/float64(area))),
			),
			Bounds: image.Rect(minX, minY, maxX+1, maxY+1),
		})
	}
	return blobs
}

// ColorDetector finds flat-colored blobs inside the configured HSV band.
type ColorDetector struct {
	cfg ColorConfig
}

func NewColorDetector(cfg ColorConfig) *ColorDetector {
	return &ColorDetector{cfg: cfg}
}

func (d *ColorDetector) Name() Source { return SourceColor }

// Detect returns one candidate per blob whose area lies in [MinArea, MaxArea].
// The radius is that of a disc with the blob's area.
func (d *ColorDetector) Detect(_ context.Context, frame *image.RGBA) ([]Candidate, error) {
	w, h := frame.Rect.Dx(), frame.Rect.Dy()
	var out []Candidate
	for _, b := range Components(d.cfg.Mask(frame), w, h) {
		if b.Area < d.cfg.MinArea || b.Area > d.cfg.MaxArea {
			continue
		}
		out = append(out, Candidate{
			Center: b.Centroid,
			Radius: int(math.Round(math.Sqrt(float64(b.Area) / math.Pi))),
			Source: SourceColor,
			Score:  float64(b.Area),
		})
	}
	return out, nil
}
