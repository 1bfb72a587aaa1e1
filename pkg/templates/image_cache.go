package templates

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"sync"

	"github.com/nfnt/resize"

	"jordanella.com/aimloop/internal/cv"
)

// entry holds one template's decoded image and its resampled variants.
type entry struct {
	mu     sync.Mutex
	gray   *image.Gray
	scaled map[float64]*image.Gray
}

// ImageCache decodes template images once and keeps their scaled variants.
type ImageCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	stats   CacheStats
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits    int64 // variant served from memory
	Misses  int64 // variant had to be resampled
	Loads   int64 // PNG decodes
	Unloads int64
}

func NewImageCache() *ImageCache {
	return &ImageCache{entries: make(map[string]*entry)}
}

func (ic *ImageCache) entry(name string) *entry {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	e, ok := ic.entries[name]
	if !ok {
		e = &entry{scaled: make(map[float64]*image.Gray)}
		ic.entries[name] = e
	}
	return e
}

func (ic *ImageCache) count(f func(*CacheStats)) {
	ic.mu.Lock()
	f(&ic.stats)
	ic.mu.Unlock()
}

// Load decodes the template's image if it is not already in memory.
func (ic *ImageCache) Load(t cv.Template) (*image.Gray, error) {
	e := ic.entry(t.Name)
	e.mu.Lock()
	defer e.mu.Unlock()
	return ic.loadLocked(t, e)
}

func (ic *ImageCache) loadLocked(t cv.Template, e *entry) (*image.Gray, error) {
	if e.gray != nil {
		return e.gray, nil
	}
	file, err := os.Open(t.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", t.Path, err)
	}
	e.gray = cv.Gray(img)
	ic.count(func(s *CacheStats) { s.Loads++ })
	return e.gray, nil
}

// Scaled returns one variant per scale, skipping scales that would shrink the
// template below 1px.
func (ic *ImageCache) Scaled(t cv.Template, scales []float64) ([]cv.ScaledTemplate, error) {
	e := ic.entry(t.Name)
	e.mu.Lock()
	defer e.mu.Unlock()

	base, err := ic.loadLocked(t, e)
	if err != nil {
		return nil, err
	}

	out := make([]cv.ScaledTemplate, 0, len(scales))
	for _, s := range scales {
		if v, ok := e.scaled[s]; ok {
			ic.count(func(st *CacheStats) { st.Hits++ })
			out = append(out, cv.ScaledTemplate{Scale: s, Image: v})
			continue
		}
		w := uint(math.Round(float64(base.Rect.Dx()) * s))
		h := uint(math.Round(float64(base.Rect.Dy()) * s))
		if w == 0 || h == 0 {
			continue
		}
		var v *image.Gray
		if s == 1 {
			v = base
		} else {
			v = cv.Gray(resize.Resize(w, h, base, resize.Bilinear))
		}
		e.scaled[s] = v
		ic.count(func(st *CacheStats) { st.Misses++ })
		out = append(out, cv.ScaledTemplate{Scale: s, Image: v})
	}
	return out, nil
}

// Forget discards a template's cached images.
func (ic *ImageCache) Forget(name string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	delete(ic.entries, name)
}

// UnloadAll releases every decoded image.
func (ic *ImageCache) UnloadAll() {
	ic.mu.Lock()
	entries := make([]*entry, 0, len(ic.entries))
	for _, e := range ic.entries {
		entries = append(entries, e)
	}
	ic.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.gray != nil {
			e.gray = nil
			e.scaled = make(map[float64]*image.Gray)
			ic.count(func(s *CacheStats) { s.Unloads++ })
		}
		e.mu.Unlock()
	}
}

// Stats returns cache statistics
func (ic *ImageCache) Stats() CacheStats {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.stats
}
