// Package predict orchestrates the prediction path: trial validation,
// feature extraction and classifier dispatch. It has no side effects; the
// gateway is responsible for broadcasting each successful prediction exactly
// once before answering the caller.
package predict

import (
	"errors"
	"fmt"
	"time"

	"ssvep-backend/internal/features"
	"ssvep-backend/internal/ml"
)

// ErrInvalidTrial is returned when the submitted trial is not a non-empty
// rectangular channels x samples matrix.
var ErrInvalidTrial = errors.New("invalid trial")

// Prediction is the result payload for one classified trial. Probabilities
// are keyed by stringified class label and sum to 1; PredictedLabel carries
// the maximum-probability label, ties broken by the classifier's class order.
type Prediction struct {
	ModelName          string             `json:"model_name"`
	PredictedLabel     string             `json:"predicted_label"`
	ClassProbabilities map[string]float64 `json:"class_probabilities"`
}

// MetricsTracker is the metrics surface the service reports to.
type MetricsTracker interface {
	PredictionInc()
	PredictionFailureInc()
	InvalidTrialInc()
	UnknownModelInc()
	ExtractDuration(time.Duration)
	InferenceDuration(time.Duration)
}

// SignalParams fixes the deployment's spectral configuration. It must match
// the configuration the loaded models were trained with.
type SignalParams struct {
	SampleRate    float64
	TargetFreqs   []float64
	Harmonics     []int
	BandHalfWidth float64
}

// Service wires the feature extractor to the model registry.
type Service struct {
	registry *ml.Registry
	params   SignalParams
	metrics  MetricsTracker
}

func NewService(registry *ml.Registry, params SignalParams, metrics MetricsTracker) *Service {
	return &Service{registry: registry, params: params, metrics: metrics}
}

// Predict validates the trial, extracts its feature vector and dispatches to
// the named model. The feature extractor is the same code path used at
// training time, so vectors line up with the fitted pipelines.
func (s *Service) Predict(trial [][]float64, modelName string) (Prediction, error) {
	if err := validateTrial(trial); err != nil {
		s.metrics.InvalidTrialInc()
		s.metrics.PredictionFailureInc()
		return Prediction{}, err
	}

	extractStart := time.Now()
	vecs, err := features.Extract([][][]float64{trial},
		s.params.SampleRate, s.params.TargetFreqs, s.params.Harmonics, s.params.BandHalfWidth)
	s.metrics.ExtractDuration(time.Since(extractStart))
	if err != nil {
		s.metrics.PredictionFailureInc()
		return Prediction{}, fmt.Errorf("extract features: %w", err)
	}

	inferStart := time.Now()
	classes, probs, err := s.registry.Predict(modelName, vecs[0])
	s.metrics.InferenceDuration(time.Since(inferStart))
	if err != nil {
		if errors.Is(err, ml.ErrUnknownModel) {
			s.metrics.UnknownModelInc()
		}
		s.metrics.PredictionFailureInc()
		return Prediction{}, err
	}

	classProbs := make(map[string]float64, len(classes))
	best := 0
	for i, class := range classes {
		classProbs[class] = probs[i]
		// Strict comparison: ties resolve to the first occurrence in the
		// classifier's class ordering.
		if probs[i] > probs[best] {
			best = i
		}
	}

	s.metrics.PredictionInc()
	return Prediction{
		ModelName:          modelName,
		PredictedLabel:     classes[best],
		ClassProbabilities: classProbs,
	}, nil
}

// HasModel reports whether the named model is registered, letting the
// gateway reject unknown names before decoding large payloads further.
func (s *Service) HasModel(name string) bool {
	return s.registry.Has(name)
}

// Models returns the loaded model names in sorted order.
func (s *Service) Models() []string {
	return s.registry.Loaded()
}

func validateTrial(trial [][]float64) error {
	if len(trial) == 0 {
		return fmt.Errorf("%w: trial has no channels", ErrInvalidTrial)
	}
	nSamples := len(trial[0])
	if nSamples == 0 {
		return fmt.Errorf("%w: channels are empty", ErrInvalidTrial)
	}
	for ch, sig := range trial {
		if len(sig) != nSamples {
			return fmt.Errorf("%w: channel %d has %d samples, expected %d", ErrInvalidTrial, ch, len(sig), nSamples)
		}
	}
	return nil
}
