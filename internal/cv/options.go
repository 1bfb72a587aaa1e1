package cv

// Option tunes a TemplateDetector
type Option func(*TemplateConfig)

// WithThreshold sets the default acceptance score
func WithThreshold(t float64) Option {
	return func(cfg *TemplateConfig) {
		cfg.Threshold = t
	}
}

// WithScaleRange sets the resampling range and step count
func WithScaleRange(lo, hi float64, steps int) Option {
	return func(cfg *TemplateConfig) {
		cfg.MinScale, cfg.MaxScale, cfg.Steps = lo, hi, steps
	}
}

// WithStride sets the coarse search step
func WithStride(stride int) Option {
	return func(cfg *TemplateConfig) {
		cfg.Stride = stride
	}
}

// WithTemplates restricts detection to the named templates
func WithTemplates(names ...string) Option {
	return func(cfg *TemplateConfig) {
		cfg.Only = names
	}
}
