package cv

import (
	"context"
	"fmt"
	"image"
	"math"
)

// TemplateConfig tunes multi-scale template matching.
type TemplateConfig struct {
	Dir       string   `mapstructure:"dir"`
	Threshold float64  `mapstructure:"threshold"`
	MinScale  float64  `mapstructure:"min_scale"`
	MaxScale  float64  `mapstructure:"max_scale"`
	Steps     int      `mapstructure:"steps"`
	Stride    int      `mapstructure:"stride"`
	Only      []string `mapstructure:"only"`
}

func DefaultTemplateConfig() TemplateConfig {
	return TemplateConfig{
		Dir:       "templates",
		Threshold: 0.8,
		MinScale:  0.8,
		MaxScale:  1.2,
		Steps:     10,
		Stride:    1,
	}
}

// TemplateDetector runs every template over the frame at several scales.
type TemplateDetector struct {
	src    TemplateSource
	cfg    TemplateConfig
	scales []float64
}

func NewTemplateDetector(src TemplateSource, cfg TemplateConfig, opts ...Option) *TemplateDetector {
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.Steps <= 0 {
		cfg.Steps = 10
	}
	return &TemplateDetector{src: src, cfg: cfg, scales: Scales(cfg.MinScale, cfg.MaxScale, cfg.Steps)}
}

func (d *TemplateDetector) Name() Source { return SourceTemplate }

// Detect returns one candidate per template whose best scale scores at or above
// its threshold. Candidates follow template list order.
func (d *TemplateDetector) Detect(ctx context.Context, frame *image.RGBA) ([]Candidate, error) {
	names := d.cfg.Only
	if len(names) == 0 {
		names = d.src.List()
	}
	if len(names) == 0 {
		return nil, nil
	}

	gray := Gray(frame)
	var out []Candidate
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		tmpl, ok := d.src.Get(name)
		if !ok {
			return out, fmt.Errorf("template %q is not registered", name)
		}
		variants, err := d.src.Scaled(name, d.scales)
		if err != nil {
			return out, fmt.Errorf("failed to load template %q: %w", name, err)
		}

		threshold := d.cfg.Threshold
		if tmpl.Threshold > 0 {
			threshold = tmpl.Threshold
		}
		cfg := &MatchConfig{Threshold: threshold, Stride: d.cfg.Stride}
		if tmpl.Region != nil {
			cfg.SearchRegion = tmpl.Region.ToImageRectangle()
		}

		res, err := FindTemplateMultiScale(gray, variants, cfg)
		if err != nil {
			// a template bigger than the frame simply cannot match
			continue
		}
		if !res.Found {
			continue
		}
		out = append(out, Candidate{
			Center:   res.Center(),
			Radius:   int(math.Min(float64(res.Size.X), float64(res.Size.Y)) / 2),
			Size:     res.Size,
			Source:   SourceTemplate,
			Score:    res.Confidence,
			Template: name,
		})
	}
	return out, nil
}
