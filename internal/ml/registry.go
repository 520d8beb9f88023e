package ml

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
)

// ErrUnknownModel is returned when a prediction names a model that is not in
// the registry. There is no partial matching and no fallback model.
var ErrUnknownModel = errors.New("unknown model")

// Registry maps model names to fitted pipelines. It is populated once at
// startup and read-only afterwards, so concurrent predictions need no
// locking.
type Registry struct {
	models map[string]*Pipeline
}

// LoadRegistry loads one artifact per configured model name from dir
// (<name>.json). A missing or corrupt artifact is an error: the service must
// not start serving with a partial model set.
func LoadRegistry(dir string, names []string) (*Registry, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("ml: no models configured")
	}

	models := make(map[string]*Pipeline, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name+".json")
		p, err := LoadPipeline(path)
		if err != nil {
			return nil, fmt.Errorf("ml: load model %q: %w", name, err)
		}
		models[name] = p
		log.Info().
			Str("model", name).
			Str("kind", p.Kind).
			Int("features", p.NFeatures()).
			Strs("classes", p.Classes).
			Msg("model loaded")
	}

	return &Registry{models: models}, nil
}

// NewRegistry builds a registry from already-constructed pipelines. Used by
// tests and the trainer's self-check.
func NewRegistry(models map[string]*Pipeline) *Registry {
	return &Registry{models: models}
}

// Predict dispatches to the named pipeline and returns its class labels and
// probabilities in the classifier's native class ordering.
func (r *Registry) Predict(name string, features []float64) (classes []string, probs []float64, err error) {
	p, ok := r.models[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return p.PredictProba(features)
}

// Has reports whether a model name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.models[name]
	return ok
}

// Loaded returns the registered model names in sorted order, for the
// readiness endpoint.
func (r *Registry) Loaded() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
