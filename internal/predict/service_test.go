package predict

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssvep-backend/internal/ml"
)

type mockMetrics struct {
	predictions     int
	failures        int
	invalidTrials   int
	unknownModels   int
	extractObserved int
	inferObserved   int
}

func (m *mockMetrics) PredictionInc()                    { m.predictions++ }
func (m *mockMetrics) PredictionFailureInc()             { m.failures++ }
func (m *mockMetrics) InvalidTrialInc()                  { m.invalidTrials++ }
func (m *mockMetrics) UnknownModelInc()                  { m.unknownModels++ }
func (m *mockMetrics) ExtractDuration(_ time.Duration)   { m.extractObserved++ }
func (m *mockMetrics) InferenceDuration(_ time.Duration) { m.inferObserved++ }

// testParams keeps the feature space tiny: 2 channels x 2 freqs x 1 harmonic.
var testParams = SignalParams{
	SampleRate:    256,
	TargetFreqs:   []float64{10, 20},
	Harmonics:     []int{1},
	BandHalfWidth: 0.5,
}

func testService(m *mockMetrics) *Service {
	nFeatures := 4
	pipeline := &ml.Pipeline{
		Kind:    ml.KindLDA,
		Classes: []string{"left", "up"},
		Scaler: ml.Scaler{
			Mean:  make([]float64, nFeatures),
			Scale: []float64{1, 1, 1, 1},
		},
		Coef:      [][]float64{{1, 0, 0, 0}, {0, 1, 0, 0}},
		Intercept: []float64{0, 0},
	}
	reg := ml.NewRegistry(map[string]*ml.Pipeline{"lda": pipeline})
	return NewService(reg, testParams, m)
}

func testTrial(freq float64) [][]float64 {
	trial := make([][]float64, 2)
	for ch := range trial {
		sig := make([]float64, 1024)
		for i := range sig {
			sig[i] = math.Sin(2 * math.Pi * freq * float64(i) / 256)
		}
		trial[ch] = sig
	}
	return trial
}

func TestService_Predict(t *testing.T) {
	t.Parallel()
	m := &mockMetrics{}
	svc := testService(m)

	pred, err := svc.Predict(testTrial(10), "lda")
	require.NoError(t, err)

	assert.Equal(t, "lda", pred.ModelName)
	require.Len(t, pred.ClassProbabilities, 2)

	var sum float64
	maxLabel, maxProb := "", -1.0
	for label, p := range pred.ClassProbabilities {
		sum += p
		if p > maxProb {
			maxLabel, maxProb = label, p
		}
	}
	assert.InDelta(t, 1.0, sum, 1e-6, "probabilities must sum to 1")
	assert.Equal(t, maxLabel, pred.PredictedLabel, "predicted label must be the argmax key")

	assert.Equal(t, 1, m.predictions)
	assert.Equal(t, 0, m.failures)
	assert.Equal(t, 1, m.extractObserved)
	assert.Equal(t, 1, m.inferObserved)
}

func TestService_Predict_InvalidTrial(t *testing.T) {
	t.Parallel()
	m := &mockMetrics{}
	svc := testService(m)

	cases := map[string][][]float64{
		"nil trial":     nil,
		"no channels":   {},
		"empty channel": {{}},
		"ragged":        {{1, 2, 3}, {1, 2}},
	}
	for name, trial := range cases {
		_, err := svc.Predict(trial, "lda")
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrInvalidTrial), "%s: expected ErrInvalidTrial, got %v", name, err)
	}
	assert.Equal(t, len(cases), m.invalidTrials)
	assert.Equal(t, len(cases), m.failures)
	assert.Equal(t, 0, m.predictions)
}

func TestService_Predict_UnknownModel(t *testing.T) {
	t.Parallel()
	m := &mockMetrics{}
	svc := testService(m)

	_, err := svc.Predict(testTrial(10), "svm")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ml.ErrUnknownModel))
	assert.Equal(t, 1, m.unknownModels)
	assert.Equal(t, 1, m.failures)
	assert.Equal(t, 0, m.predictions)
}

func TestService_Predict_TieBreaksToFirstClass(t *testing.T) {
	t.Parallel()
	// Identical decision rows force identical probabilities; the argmax must
	// resolve to the first class in the classifier's ordering.
	pipeline := &ml.Pipeline{
		Kind:      ml.KindLDA,
		Classes:   []string{"down", "up"},
		Scaler:    ml.Scaler{Mean: make([]float64, 4), Scale: []float64{1, 1, 1, 1}},
		Coef:      [][]float64{{1, 1, 1, 1}, {1, 1, 1, 1}},
		Intercept: []float64{0, 0},
	}
	svc := NewService(ml.NewRegistry(map[string]*ml.Pipeline{"lda": pipeline}), testParams, &mockMetrics{})

	pred, err := svc.Predict(testTrial(10), "lda")
	require.NoError(t, err)
	assert.Equal(t, "down", pred.PredictedLabel)
}

func TestService_HasModel(t *testing.T) {
	t.Parallel()
	svc := testService(&mockMetrics{})
	assert.True(t, svc.HasModel("lda"))
	assert.False(t, svc.HasModel("svm"))
}
