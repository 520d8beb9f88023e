package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ssvep-backend/internal/mockdata"
)

type predictRequest struct {
	Data      [][]float64 `json:"data"`
	ModelName string      `json:"model_name"`
}

type predictResponse struct {
	ModelName          string             `json:"model_name"`
	PredictedLabel     string             `json:"predicted_label"`
	ClassProbabilities map[string]float64 `json:"class_probabilities"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func main() {
	var (
		addr     = flag.String("addr", "http://localhost:8000", "Prediction server base URL")
		model    = flag.String("model", "lda", "Model to query")
		trials   = flag.Int("trials", 8, "Number of trials to replay")
		seed     = flag.Uint64("seed", 7, "Generator seed")
		interval = flag.Duration("interval", time.Duration(mockdata.TrialSeconds*float64(time.Second)),
			"Pause between trials (defaults to the trial duration)")
		logLevel = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	_ = godotenv.Load()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	client := resty.New().
		SetBaseURL(*addr).
		SetTimeout(30 * time.Second)

	gen := mockdata.NewGenerator(*seed)
	directions := mockdata.Labels()

	log.Info().
		Str("server", *addr).
		Str("model", *model).
		Int("trials", *trials).
		Dur("interval", *interval).
		Msg("replaying synthetic trials")

	correct := 0
	sent := 0
	for i := 0; i < *trials; i++ {
		direction := directions[i%len(directions)]
		trial, err := gen.Trial(direction)
		if err != nil {
			log.Fatal().Err(err).Msg("trial generation failed")
		}

		var (
			result predictResponse
			apiErr errorResponse
		)
		resp, err := client.R().
			SetBody(predictRequest{Data: trial, ModelName: *model}).
			SetResult(&result).
			SetError(&apiErr).
			Post("/predict")
		if err != nil {
			log.Fatal().Err(err).Msg("request failed")
		}
		if resp.IsError() {
			log.Fatal().
				Int("status", resp.StatusCode()).
				Str("error", apiErr.Error).
				Msg("server rejected trial")
		}

		sent++
		hit := result.PredictedLabel == direction
		if hit {
			correct++
		}
		log.Info().
			Int("trial", i+1).
			Str("true", direction).
			Str("predicted", result.PredictedLabel).
			Float64("confidence", result.ClassProbabilities[result.PredictedLabel]).
			Bool("hit", hit).
			Msg("trial classified")

		if i < *trials-1 {
			time.Sleep(*interval)
		}
	}

	fmt.Printf("replayed %d trials against %s: %d/%d correct (%.1f%%)\n",
		sent, *model, correct, sent, 100*float64(correct)/float64(sent))
}
