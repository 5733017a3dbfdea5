package experiment

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/san-kum/momentservo/internal/config"
	"github.com/san-kum/momentservo/internal/display"
	"github.com/san-kum/momentservo/internal/loop"
	"github.com/san-kum/momentservo/internal/metrics"
	"github.com/san-kum/momentservo/internal/scene"
)

// ConvergenceThreshold is the squared error at which a run counts as converged.
const ConvergenceThreshold = 1e-4

// Registry maps the names used in configuration files to capabilities.
type Registry struct {
	// In and Out are handed to interactive displays.
	In  io.Reader
	Out *os.File

	extractors map[string]func(config.ExtractorConfig) scene.Extractor
	displays   map[string]func(r *Registry, title string) (display.Display, error)
}

func NewRegistry() *Registry {
	r := &Registry{
		In:         os.Stdin,
		Out:        os.Stdout,
		extractors: make(map[string]func(config.ExtractorConfig) scene.Extractor),
		displays:   make(map[string]func(*Registry, string) (display.Display, error)),
	}

	r.extractors["polygon"] = func(c config.ExtractorConfig) scene.Extractor {
		return scene.PolygonExtractor{Order: c.Order}
	}
	r.extractors["image"] = func(c config.ExtractorConfig) scene.Extractor {
		return scene.ImageExtractor{Order: c.Order, Threshold: c.Threshold}
	}

	r.displays["headless"] = func(*Registry, string) (display.Display, error) {
		return display.NewHeadless(), nil
	}
	r.displays["terminal"] = func(r *Registry, title string) (display.Display, error) {
		t, err := display.NewTerminal(title, r.In, r.Out)
		if err != nil {
			return nil, fmt.Errorf("%w: terminal display: %w", loop.ErrMissingCapability, err)
		}
		return t, nil
	}

	return r
}

func (r *Registry) GetExtractor(c config.ExtractorConfig) (scene.Extractor, error) {
	fn, ok := r.extractors[c.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: extractor %q", loop.ErrMissingCapability, c.Kind)
	}
	return fn(c), nil
}

func (r *Registry) GetDisplay(kind, title string) (display.Display, error) {
	fn, ok := r.displays[kind]
	if !ok {
		return nil, fmt.Errorf("%w: display %q", loop.ErrMissingCapability, kind)
	}
	return fn(r, title)
}

func (r *Registry) ListExtractors() []string { return sortedKeys(r.extractors) }
func (r *Registry) ListDisplays() []string   { return sortedKeys(r.displays) }

func (r *Registry) DefaultMetrics() []loop.Metric {
	return metrics.Default(ConvergenceThreshold)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
