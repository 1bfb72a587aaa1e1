package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"jordanella.com/aimloop/internal/cv"
	"jordanella.com/aimloop/internal/logging"
)

// DefaultThreshold applies to definitions that leave threshold unset.
const DefaultThreshold = 0.8

// Registry holds the templates available to template mode. It satisfies
// cv.TemplateSource.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]cv.Template
	order     []string
	basePath  string
	cache     *ImageCache
	log       *logging.Logger
}

// Definition is one entry of a templates YAML file.
type Definition struct {
	Name      string     `yaml:"name"`
	Path      string     `yaml:"path"`
	Threshold float64    `yaml:"threshold"`
	Region    *RegionDef `yaml:"region,omitempty"`
	Preload   bool       `yaml:"preload,omitempty"`
}

// RegionDef bounds where a template is searched, in frame pixels.
type RegionDef struct {
	X1 int `yaml:"x1"`
	Y1 int `yaml:"y1"`
	X2 int `yaml:"x2"`
	Y2 int `yaml:"y2"`
}

// File is the layout of a templates YAML file.
type File struct {
	Templates []Definition `yaml:"templates"`
}

// NewRegistry creates an empty registry. Image paths resolve against basePath.
func NewRegistry(basePath string) *Registry {
	return &Registry{
		templates: make(map[string]cv.Template),
		basePath:  basePath,
		cache:     NewImageCache(),
		log:       logging.NewLogger("templates"),
	}
}

// LoadFromFile loads definitions from one YAML file.
func (r *Registry) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read template file %s: %w", filePath, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal template YAML: %w", err)
	}

	for i, def := range file.Templates {
		if def.Name == "" {
			return fmt.Errorf("template %d: name cannot be empty", i+1)
		}
		if def.Path == "" {
			return fmt.Errorf("template %d (%s): path cannot be empty", i+1, def.Name)
		}
		if def.Threshold < 0 || def.Threshold > 1 {
			return fmt.Errorf("template %s: threshold %.2f outside [0,1]", def.Name, def.Threshold)
		}

		t := cv.Template{
			Name:      def.Name,
			Path:      filepath.Join(r.basePath, def.Path),
			Threshold: def.Threshold,
		}
		if t.Threshold == 0 {
			t.Threshold = DefaultThreshold
		}
		if def.Region != nil {
			t = t.InRegion(def.Region.X1, def.Region.Y1, def.Region.X2, def.Region.Y2)
		}
		r.put(t)

		if def.Preload {
			// a missing image is reported again when template mode first needs it
			if _, err := r.cache.Load(t); err != nil {
				r.log.Warn(fmt.Sprintf("Preload of %s failed: %v", t.Name, err))
			}
		}
	}
	return nil
}

// LoadFromDirectory loads every .yaml and .yml file in dirPath. A directory of
// bare PNGs with no YAML registers each image under its file stem.
func (r *Registry) LoadFromDirectory(dirPath string) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read template directory %s: %w", dirPath, err)
	}

	var loadErrors []error
	var pngs []string
	yamlFiles := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			yamlFiles++
			if err := r.LoadFromFile(filepath.Join(dirPath, entry.Name())); err != nil {
				loadErrors = append(loadErrors, fmt.Errorf("file %s: %w", entry.Name(), err))
			}
		case ".png":
			pngs = append(pngs, entry.Name())
		}
	}

	if yamlFiles == 0 {
		for _, name := range pngs {
			stem := name[:len(name)-len(filepath.Ext(name))]
			r.put(cv.Template{Name: stem, Path: filepath.Join(dirPath, name), Threshold: DefaultThreshold})
		}
	}

	if len(loadErrors) > 0 {
		return fmt.Errorf("failed to load %d template files (first error): %w", len(loadErrors), loadErrors[0])
	}
	return nil
}

func (r *Registry) put(t cv.Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[t.Name]; !ok {
		r.order = append(r.order, t.Name)
	}
	r.templates[t.Name] = t
	r.cache.Forget(t.Name)
}

// Register adds a template programmatically.
func (r *Registry) Register(t cv.Template) error {
	if t.Name == "" {
		return fmt.Errorf("template name cannot be empty")
	}
	if t.Threshold == 0 {
		t.Threshold = DefaultThreshold
	}
	r.put(t)
	return nil
}

// Get retrieves a template by name.
func (r *Registry) Get(name string) (cv.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// Has checks if a template exists in the registry
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns template names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Sorted returns template names alphabetically, for display.
func (r *Registry) Sorted() []string {
	names := r.List()
	sort.Strings(names)
	return names
}

// Count returns the number of templates in the registry
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// Remove drops a template and its cached images.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.templates[name]; !ok {
		return false
	}
	delete(r.templates, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.cache.Forget(name)
	return true
}

// Scaled returns the template's grayscale variants at each scale, loading and
// resampling on first use.
func (r *Registry) Scaled(name string, scales []float64) ([]cv.ScaledTemplate, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("template %q not found", name)
	}
	return r.cache.Scaled(t, scales)
}

// UnloadAll drops every cached image; they reload on demand.
func (r *Registry) UnloadAll() {
	r.cache.UnloadAll()
}

// CacheStats returns image cache statistics
func (r *Registry) CacheStats() CacheStats {
	return r.cache.Stats()
}
