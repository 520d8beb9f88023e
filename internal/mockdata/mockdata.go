// Package mockdata synthesizes labeled SSVEP trials for training and replay.
// Each trial is a fixed-duration multichannel recording in which the flicker
// response, the target frequency plus attenuated second and third harmonics,
// is present only inside the stimulus window, buried in Gaussian noise.
package mockdata

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Recording geometry and stimulus shape for the synthetic headset.
const (
	NumChannels   = 8
	SampleRate    = 256.0
	TrialSeconds  = 7.0
	StimulusStart = 2.0
	StimulusEnd   = 5.0

	noiseStd      = 0.3
	secondHarmAmp = 0.5
	thirdHarmAmp  = 0.25
)

// Directions maps each gaze direction to its flicker frequency in Hz.
var Directions = map[string]float64{
	"up":    10.0,
	"down":  20.0,
	"left":  12.0,
	"right": 15.0,
}

// Labels returns the direction labels in sorted order.
func Labels() []string {
	labels := make([]string, 0, len(Directions))
	for label := range Directions {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Generator produces reproducible synthetic trials. The same seed yields the
// same trial sequence.
type Generator struct {
	noise distuv.Normal
}

func NewGenerator(seed uint64) *Generator {
	return &Generator{
		noise: distuv.Normal{
			Mu:    0,
			Sigma: noiseStd,
			Src:   rand.NewSource(seed),
		},
	}
}

// Trial generates one channels x samples trial for the given direction.
func (g *Generator) Trial(direction string) ([][]float64, error) {
	freq, ok := Directions[direction]
	if !ok {
		return nil, fmt.Errorf("unknown direction %q", direction)
	}
	return g.trialAt(freq), nil
}

func (g *Generator) trialAt(freq float64) [][]float64 {
	nSamples := int(TrialSeconds * SampleRate)
	trial := make([][]float64, NumChannels)
	for ch := 0; ch < NumChannels; ch++ {
		sig := make([]float64, nSamples)
		for i := 0; i < nSamples; i++ {
			t := float64(i) / SampleRate
			v := g.noise.Rand()
			if t >= StimulusStart && t < StimulusEnd {
				v += math.Sin(2 * math.Pi * freq * t)
				v += secondHarmAmp * math.Sin(2*math.Pi*2*freq*t)
				v += thirdHarmAmp * math.Sin(2*math.Pi*3*freq*t)
			}
			sig[i] = v
		}
		trial[ch] = sig
	}
	return trial
}

// Dataset generates trialsPerClass labeled trials for every direction,
// interleaved by class so deterministic splits stay stratified. The returned
// labels are parallel to the trials slice.
func (g *Generator) Dataset(trialsPerClass int) (trials [][][]float64, labels []string, err error) {
	if trialsPerClass <= 0 {
		return nil, nil, fmt.Errorf("trialsPerClass must be positive, got %d", trialsPerClass)
	}

	ordered := Labels()
	for i := 0; i < trialsPerClass; i++ {
		for _, label := range ordered {
			trial, err := g.Trial(label)
			if err != nil {
				return nil, nil, err
			}
			trials = append(trials, trial)
			labels = append(labels, label)
		}
	}
	return trials, labels, nil
}
