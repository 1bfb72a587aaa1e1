package cv

// Template is a named reference image for template mode
type Template struct {
	Name      string
	Path      string
	Threshold float64 // zero means the detector default
	Region    *Region // optional search region in frame pixels
}

// InRegion sets the search region for the template
func (t Template) InRegion(x1, y1, x2, y2 int) Template {
	region := NewRegion(x1, y1, x2, y2)
	t.Region = &region
	return t
}

// WithThreshold sets the matching threshold
func (t Template) WithThreshold(threshold float64) Template {
	t.Threshold = threshold
	return t
}

// TemplateSource supplies templates and their resampled grayscale variants.
type TemplateSource interface {
	List() []string
	Get(name string) (Template, bool)
	Scaled(name string, scales []float64) ([]ScaledTemplate, error)
}
