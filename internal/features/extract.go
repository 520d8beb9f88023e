package features

import "fmt"

// Extract computes one feature vector per trial from a batch shaped
// trials x channels x samples. For every channel the Welch PSD is estimated
// once with a segment length of min(MaxSegmentLength, nSamples), then the
// mean band power in [f*h - bandHalfWidth, f*h + bandHalfWidth] is taken for
// each target base frequency f and harmonic multiplier h.
//
// Feature ordering is fixed: channels in physical order, then target base
// frequencies in the given order, then harmonics in the given order. The
// ordering is part of the model contract; vectors fed to a classifier must
// be laid out exactly as the vectors it was fitted on.
func Extract(batch [][][]float64, fs float64, targetFreqs []float64, harmonics []int, bandHalfWidth float64) ([][]float64, error) {
	if len(targetFreqs) == 0 {
		return nil, fmt.Errorf("features: no target frequencies")
	}
	if len(harmonics) == 0 {
		return nil, fmt.Errorf("features: no harmonic multipliers")
	}
	if bandHalfWidth <= 0 {
		return nil, fmt.Errorf("features: invalid band half-width %v", bandHalfWidth)
	}

	out := make([][]float64, len(batch))
	for i, trial := range batch {
		vec, err := ExtractTrial(trial, fs, targetFreqs, harmonics, bandHalfWidth)
		if err != nil {
			return nil, fmt.Errorf("trial %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// ExtractTrial computes the feature vector for a single channels x samples
// trial. The vector length is len(trial) * len(targetFreqs) * len(harmonics)
// regardless of the sample count.
func ExtractTrial(trial [][]float64, fs float64, targetFreqs []float64, harmonics []int, bandHalfWidth float64) ([]float64, error) {
	if len(trial) == 0 {
		return nil, fmt.Errorf("features: trial has no channels")
	}
	nSamples := len(trial[0])
	if nSamples == 0 {
		return nil, fmt.Errorf("features: channel 0 is empty")
	}
	for ch, sig := range trial {
		if len(sig) != nSamples {
			return nil, fmt.Errorf("features: channel %d has %d samples, want %d", ch, len(sig), nSamples)
		}
	}

	nperseg := MaxSegmentLength
	if nSamples < nperseg {
		nperseg = nSamples
	}

	vec := make([]float64, 0, len(trial)*len(targetFreqs)*len(harmonics))
	for ch, sig := range trial {
		freqs, psd, err := Welch(sig, fs, nperseg)
		if err != nil {
			return nil, fmt.Errorf("features: channel %d: %w", ch, err)
		}
		for _, base := range targetFreqs {
			for _, h := range harmonics {
				freq := base * float64(h)
				vec = append(vec, BandPower(freqs, psd, freq-bandHalfWidth, freq+bandHalfWidth))
			}
		}
	}
	return vec, nil
}

// VectorLen returns the feature vector length for the given configuration.
func VectorLen(nChannels, nFreqs, nHarmonics int) int {
	return nChannels * nFreqs * nHarmonics
}
