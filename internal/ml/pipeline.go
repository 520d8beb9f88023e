// Package ml holds the fitted classification pipelines and the registry that
// serves them. A pipeline is a per-feature standardizer followed by a linear
// probabilistic classifier; both are fitted offline (cmd/trainmodel) and
// loaded once at startup from JSON artifacts. Loaded pipelines are immutable
// and safe for concurrent prediction.
package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Classifier kinds stored in artifacts. Both reduce to a linear decision
// function with softmax probabilities; the kind records how the weights
// were fitted.
const (
	KindLDA    = "lda"
	KindLogReg = "logreg"
)

// Scaler standardizes features to zero mean and unit variance using the
// statistics captured at fit time.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Transform returns the standardized copy of x.
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return out
}

// Pipeline is one immutable fitted model: standardizer, linear decision
// weights and the class labels in fit-time order.
type Pipeline struct {
	Kind      string      `json:"kind"`
	Classes   []string    `json:"classes"`
	Scaler    Scaler      `json:"scaler"`
	Coef      [][]float64 `json:"coef"`      // nClasses x nFeatures
	Intercept []float64   `json:"intercept"` // nClasses
}

// NFeatures returns the feature vector length the pipeline was fitted on.
func (p *Pipeline) NFeatures() int { return len(p.Scaler.Mean) }

// PredictProba returns the class labels in their fit-time order together
// with softmax probabilities for the given feature vector.
func (p *Pipeline) PredictProba(features []float64) (classes []string, probs []float64, err error) {
	if len(features) != p.NFeatures() {
		return nil, nil, fmt.Errorf("ml: feature vector length %d, model fitted on %d", len(features), p.NFeatures())
	}

	x := p.Scaler.Transform(features)

	scores := make([]float64, len(p.Classes))
	for c := range p.Classes {
		z := p.Intercept[c]
		for i, v := range x {
			z += p.Coef[c][i] * v
		}
		scores[c] = z
	}

	return p.Classes, softmax(scores), nil
}

func softmax(z []float64) []float64 {
	max := z[0]
	for _, v := range z[1:] {
		if v > max {
			max = v
		}
	}
	probs := make([]float64, len(z))
	var sum float64
	for i, v := range z {
		probs[i] = math.Exp(v - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// validate checks structural consistency of a loaded artifact.
func (p *Pipeline) validate() error {
	if p.Kind != KindLDA && p.Kind != KindLogReg {
		return fmt.Errorf("unknown classifier kind %q", p.Kind)
	}
	n := p.NFeatures()
	if n == 0 {
		return fmt.Errorf("empty scaler")
	}
	if len(p.Scaler.Scale) != n {
		return fmt.Errorf("scaler mean/scale length mismatch: %d vs %d", n, len(p.Scaler.Scale))
	}
	for i, s := range p.Scaler.Scale {
		if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("scaler scale[%d] is %v", i, s)
		}
	}
	if len(p.Classes) < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", len(p.Classes))
	}
	if len(p.Coef) != len(p.Classes) || len(p.Intercept) != len(p.Classes) {
		return fmt.Errorf("coef/intercept rows (%d/%d) do not match %d classes",
			len(p.Coef), len(p.Intercept), len(p.Classes))
	}
	for c, row := range p.Coef {
		if len(row) != n {
			return fmt.Errorf("coef row %d has %d weights, want %d", c, len(row), n)
		}
	}
	return nil
}

// Save writes the pipeline artifact to path.
func (p *Pipeline) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pipeline: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadPipeline reads and validates a pipeline artifact.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var p Pipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse model artifact %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact %s: %w", path, err)
	}
	return &p, nil
}
