package mockdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssvep-backend/internal/features"
)

func TestGenerator_TrialShape(t *testing.T) {
	g := NewGenerator(1)

	trial, err := g.Trial("up")
	require.NoError(t, err)

	assert.Len(t, trial, NumChannels)
	wantSamples := int(TrialSeconds * SampleRate)
	for ch, sig := range trial {
		assert.Len(t, sig, wantSamples, "channel %d", ch)
	}
}

func TestGenerator_UnknownDirection(t *testing.T) {
	g := NewGenerator(1)
	_, err := g.Trial("sideways")
	assert.Error(t, err)
}

func TestGenerator_Deterministic(t *testing.T) {
	a, err := NewGenerator(42).Trial("left")
	require.NoError(t, err)
	b, err := NewGenerator(42).Trial("left")
	require.NoError(t, err)

	assert.Equal(t, a, b, "same seed must reproduce the same trial")

	c, err := NewGenerator(43).Trial("left")
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "different seeds must differ")
}

func TestGenerator_StimulusDominatesTargetBand(t *testing.T) {
	// The flicker frequency band must carry more power than a band with no
	// stimulus component, despite the noise floor.
	g := NewGenerator(7)
	trial, err := g.Trial("right") // 15 Hz
	require.NoError(t, err)

	freqs, psd, err := features.Welch(trial[0], SampleRate, features.MaxSegmentLength)
	require.NoError(t, err)

	onTarget := features.BandPower(freqs, psd, 14.5, 15.5)
	offTarget := features.BandPower(freqs, psd, 33.5, 34.5)
	assert.Greater(t, onTarget, offTarget,
		"stimulus band power %v must exceed quiet band power %v", onTarget, offTarget)
}

func TestGenerator_HarmonicsPresent(t *testing.T) {
	g := NewGenerator(7)
	trial, err := g.Trial("up") // 10 Hz
	require.NoError(t, err)

	freqs, psd, err := features.Welch(trial[0], SampleRate, features.MaxSegmentLength)
	require.NoError(t, err)

	quiet := features.BandPower(freqs, psd, 43.5, 44.5)
	second := features.BandPower(freqs, psd, 19.5, 20.5)
	third := features.BandPower(freqs, psd, 29.5, 30.5)
	assert.Greater(t, second, quiet, "second harmonic missing")
	assert.Greater(t, third, quiet, "third harmonic missing")
}

func TestGenerator_Dataset(t *testing.T) {
	g := NewGenerator(3)

	trials, labels, err := g.Dataset(2)
	require.NoError(t, err)

	require.Len(t, trials, 2*len(Directions))
	require.Len(t, labels, len(trials))

	counts := map[string]int{}
	for _, label := range labels {
		counts[label]++
	}
	for label := range Directions {
		assert.Equal(t, 2, counts[label], "class %s", label)
	}

	_, _, err = g.Dataset(0)
	assert.Error(t, err)
}

func TestLabels_Sorted(t *testing.T) {
	assert.Equal(t, []string{"down", "left", "right", "up"}, Labels())
}

func TestDirections_BelowNyquistWithHarmonics(t *testing.T) {
	for label, freq := range Directions {
		assert.Less(t, 3*freq, SampleRate/2, "third harmonic of %s aliases", label)
	}
}
