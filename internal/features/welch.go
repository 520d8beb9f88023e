// Package features implements the spectral feature extraction used by both
// offline training and online inference. The extractor computes band power
// around tagged stimulus frequencies and their harmonics from a Welch PSD
// estimate, and must produce identical vectors for identical inputs: the
// classifier artifacts are fitted on these vectors, so any drift in ordering
// or numerics silently corrupts predictions.
package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// MaxSegmentLength caps the Welch segment length. Shorter trials get a
// shorter segment (and coarser frequency resolution) instead of failing.
const MaxSegmentLength = 512

// Welch estimates the one-sided power spectral density of signal sampled at
// fs Hz, using Hann-windowed segments of length nperseg with 50% overlap and
// per-segment mean removal. Returned bin centers are k*fs/nperseg for
// k = 0..nperseg/2, and psd values carry density scaling (power per Hz).
func Welch(signal []float64, fs float64, nperseg int) (freqs, psd []float64, err error) {
	n := len(signal)
	if n == 0 {
		return nil, nil, fmt.Errorf("welch: empty signal")
	}
	if fs <= 0 {
		return nil, nil, fmt.Errorf("welch: invalid sampling rate %v", fs)
	}
	if nperseg < 1 {
		return nil, nil, fmt.Errorf("welch: invalid segment length %d", nperseg)
	}
	if nperseg > n {
		nperseg = n
	}

	window := hannPeriodic(nperseg)
	var winSq float64
	for _, w := range window {
		winSq += w * w
	}
	scale := 1 / (fs * winSq)

	step := nperseg - nperseg/2
	nBins := nperseg/2 + 1

	fft := fourier.NewFFT(nperseg)
	acc := make([]float64, nBins)
	buf := make([]float64, nperseg)
	coeffs := make([]complex128, nBins)

	nSegs := 0
	for start := 0; start+nperseg <= n; start += step {
		seg := signal[start : start+nperseg]

		// Constant detrend: remove the segment mean before windowing.
		var mean float64
		for _, v := range seg {
			mean += v
		}
		mean /= float64(nperseg)
		for i, v := range seg {
			buf[i] = (v - mean) * window[i]
		}

		coeffs = fft.Coefficients(coeffs, buf)
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			acc[k] += re*re + im*im
		}
		nSegs++
	}

	freqs = make([]float64, nBins)
	psd = make([]float64, nBins)
	for k := 0; k < nBins; k++ {
		freqs[k] = float64(k) * fs / float64(nperseg)
		psd[k] = scale * acc[k] / float64(nSegs)
	}

	// One-sided spectrum: double every bin except DC and, for even segment
	// lengths, the Nyquist bin.
	last := nBins - 1
	for k := 1; k < nBins; k++ {
		if k == last && nperseg%2 == 0 {
			continue
		}
		psd[k] *= 2
	}

	return freqs, psd, nil
}

// BandPower averages psd over all bins whose center lies in [lo, hi]
// (inclusive). Returns exactly 0 when no bin falls inside the band, which
// happens for very short trials whose resolution is coarser than the band,
// or for bands past the Nyquist edge.
func BandPower(freqs, psd []float64, lo, hi float64) float64 {
	var sum float64
	var count int
	for i, f := range freqs {
		if f >= lo && f <= hi {
			sum += psd[i]
			count++
		}
	}
	if count == 0 {
		return 0.0
	}
	return sum / float64(count)
}

// hannPeriodic returns a periodic Hann window of length n, matching the
// window the PSD scaling above is normalized for.
func hannPeriodic(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}
