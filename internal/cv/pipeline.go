package cv

import (
	"context"
	"fmt"
	"image"
	"math"

	"jordanella.com/aimloop/internal/faults"
)

// Source names the strategy that produced a candidate.
type Source string

const (
	SourceColor     Source = "color"
	SourceGeometric Source = "geometric"
	SourceTemplate  Source = "template"
)

// Candidate is one detected point of interest, in frame-local pixels.
// Candidates live for a single cycle.
type Candidate struct {
	Center image.Point
	Radius int
	// Size is the matched template's scaled size; zero for blob and circle hits.
	Size     image.Point
	Source   Source
	Score    float64
	Template string
}

// Validate rejects candidates no strategy should produce.
func (c Candidate) Validate() error {
	switch {
	case c.Radius < 0:
		return fmt.Errorf("candidate at %v has negative radius %d", c.Center, c.Radius)
	case math.IsNaN(c.Score) || math.IsInf(c.Score, 0):
		return fmt.Errorf("candidate at %v has non-finite score", c.Center)
	case c.Center.X < 0 || c.Center.Y < 0:
		return fmt.Errorf("candidate center %v is outside the frame", c.Center)
	}
	return nil
}

// Detector attempts detection on a frame. Frames always start at (0,0).
type Detector interface {
	Name() Source
	Detect(ctx context.Context, frame *image.RGBA) ([]Candidate, error)
}

// Pipeline runs detectors in priority order and stops at the first that finds
// anything. It returns every candidate that detector found, in detection order.
type Pipeline struct {
	detectors []Detector
}

// NewPipeline builds a pipeline; order is priority.
func NewPipeline(detectors ...Detector) *Pipeline {
	return &Pipeline{detectors: detectors}
}

// NewHybridPipeline is color segmentation with the Hough fallback.
func NewHybridPipeline(color ColorConfig, hough HoughConfig) *Pipeline {
	return NewPipeline(NewColorDetector(color), NewHoughDetector(hough))
}

// Detectors returns the strategies in priority order.
func (p *Pipeline) Detectors() []Detector {
	return p.detectors
}

// Detect returns the first non-empty candidate set and the strategy that produced it.
func (p *Pipeline) Detect(ctx context.Context, frame *image.RGBA) ([]Candidate, Source, error) {
	if frame == nil || frame.Bounds().Empty() {
		return nil, "", faults.New(faults.ErrDetection, faults.StageDetect, "detect", fmt.Errorf("empty frame"))
	}
	frame = Normalize(frame)

	for _, d := range p.detectors {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		candidates, err := d.Detect(ctx, frame)
		if err != nil {
			return nil, d.Name(), faults.New(faults.ErrDetection, faults.StageDetect, string(d.Name()), err)
		}
		if len(candidates) > 0 {
			return candidates, d.Name(), nil
		}
	}
	return nil, "", nil
}

// Normalize returns frame re-based at (0,0), sharing pixel memory.
func Normalize(frame *image.RGBA) *image.RGBA {
	if frame.Rect.Min == (image.Point{}) {
		return frame
	}
	out := *frame
	out.Rect = frame.Rect.Sub(frame.Rect.Min)
	return &out
}
