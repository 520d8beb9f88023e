package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ssvep-backend/internal/cfg"
	"ssvep-backend/internal/features"
	"ssvep-backend/internal/ml"
	"ssvep-backend/internal/mockdata"
	"ssvep-backend/internal/storage"
)

func main() {
	var (
		outDir         = flag.String("out", "models", "Output directory for model artifacts")
		trialsPerClass = flag.Int("trials", 30, "Synthetic trials per direction")
		holdout        = flag.Float64("holdout", 0.25, "Fraction of trials held out for evaluation")
		seed           = flag.Uint64("seed", 42, "Generator seed")
		dataPath       = flag.String("data", "", "Optional BoltDB path for persisting training features")
		logLevel       = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	_ = godotenv.Load()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if c.SampleRate != mockdata.SampleRate {
		log.Warn().
			Float64("configured", c.SampleRate).
			Float64("generator", mockdata.SampleRate).
			Msg("configured sample rate differs from the synthetic generator's")
	}

	log.Info().
		Int("trials_per_class", *trialsPerClass).
		Uint64("seed", *seed).
		Floats64("target_freqs", c.TargetFreqs).
		Ints("harmonics", c.Harmonics).
		Msg("building synthetic dataset")

	gen := mockdata.NewGenerator(*seed)
	trials, labels, err := gen.Dataset(*trialsPerClass)
	if err != nil {
		log.Fatal().Err(err).Msg("dataset generation failed")
	}

	X, err := features.Extract(trials, c.SampleRate, c.TargetFreqs, c.Harmonics, c.BandHalfWidth)
	if err != nil {
		log.Fatal().Err(err).Msg("feature extraction failed")
	}

	persistFeatures(*dataPath, X, labels)

	trainX, trainY, testX, testY := splitDataset(X, labels, len(mockdata.Directions), *holdout)
	log.Info().
		Int("train", len(trainX)).
		Int("holdout", len(testX)).
		Int("features", len(X[0])).
		Msg("dataset ready")

	pipelines := map[string]*ml.Pipeline{}

	lda, err := ml.FitLDA(trainX, trainY)
	if err != nil {
		log.Fatal().Err(err).Msg("LDA fit failed")
	}
	pipelines["lda"] = lda

	logreg, err := ml.FitLogReg(trainX, trainY)
	if err != nil {
		log.Fatal().Err(err).Msg("logistic regression fit failed")
	}
	pipelines["logreg"] = logreg

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", *outDir).Msg("cannot create output directory")
	}

	for name, pipeline := range pipelines {
		acc := accuracy(pipeline, testX, testY)
		path := filepath.Join(*outDir, name+".json")
		if err := pipeline.Save(path); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("artifact save failed")
		}
		log.Info().
			Str("model", name).
			Float64("holdout_accuracy", acc).
			Str("path", path).
			Msg("model written")
		fmt.Printf("%-8s holdout accuracy %.1f%%  -> %s\n", name, acc*100, path)
	}
}

// splitDataset takes the leading cycles of the class-interleaved dataset for
// training and the trailing ones for evaluation, keeping the split stratified
// and reproducible.
func splitDataset(X [][]float64, labels []string, nClasses int, holdout float64) (trainX [][]float64, trainY []string, testX [][]float64, testY []string) {
	cycles := len(X) / nClasses
	testCycles := int(float64(cycles) * holdout)
	if testCycles < 1 {
		testCycles = 1
	}
	trainCycles := cycles - testCycles

	for i := range X {
		if i/nClasses < trainCycles {
			trainX = append(trainX, X[i])
			trainY = append(trainY, labels[i])
		} else {
			testX = append(testX, X[i])
			testY = append(testY, labels[i])
		}
	}
	return trainX, trainY, testX, testY
}

func accuracy(pipeline *ml.Pipeline, X [][]float64, y []string) float64 {
	if len(X) == 0 {
		return 0
	}
	correct := 0
	for i, x := range X {
		classes, probs, err := pipeline.PredictProba(x)
		if err != nil {
			continue
		}
		best := 0
		for j := range probs {
			if probs[j] > probs[best] {
				best = j
			}
		}
		if classes[best] == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(X))
}

// persistFeatures writes the extracted vectors to the feature bucket so the
// training set can be audited alongside served predictions.
func persistFeatures(dataPath string, X [][]float64, labels []string) {
	if dataPath == "" {
		return
	}
	store, err := storage.New(dataPath)
	if err != nil {
		log.Warn().Err(err).Msg("feature persistence unavailable")
		return
	}
	defer store.Close()

	base := time.Now()
	for i := range X {
		record := storage.FeatureRecord{
			Model:     "training",
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			Features:  X[i],
			Label:     labels[i],
		}
		if err := store.StoreFeatures(record); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("feature record not stored")
			return
		}
	}
	log.Info().Int("records", len(X)).Str("path", dataPath).Msg("training features persisted")
}
