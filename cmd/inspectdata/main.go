// Command inspectdata dumps persisted prediction and feature records for
// offline review of a running deployment's data directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ssvep-backend/internal/storage"
)

func main() {
	var (
		dataPath = flag.String("data", "./data", "Data directory path")
		model    = flag.String("model", "lda", "Model whose records to inspect")
		since    = flag.Duration("since", 24*time.Hour, "How far back to scan")
		limit    = flag.Int("limit", 50, "Maximum records to print per bucket")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	store, err := storage.New(*dataPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *dataPath).Msg("failed to open storage")
	}
	defer store.Close()

	end := time.Now()
	start := end.Add(-*since)

	predictions, err := store.GetPredictions(*model, start, end)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to fetch predictions")
	}
	fmt.Printf("%d prediction records for %q since %s\n", len(predictions), *model, start.Format(time.RFC3339))
	for i, r := range predictions {
		if i >= *limit {
			fmt.Printf("... %d more\n", len(predictions)-*limit)
			break
		}
		fmt.Printf("%s  label=%-6s  conf=%.3f  shape=%dx%d\n",
			r.Timestamp.Format(time.RFC3339),
			r.PredictedLabel,
			r.Probabilities[r.PredictedLabel],
			r.Channels, r.Samples)
	}

	features, err := store.GetFeaturesInRange(*model, start, end)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to fetch feature records")
	}
	fmt.Printf("\n%d feature records for %q\n", len(features), *model)
	for i, r := range features {
		if i >= *limit {
			fmt.Printf("... %d more\n", len(features)-*limit)
			break
		}
		fmt.Printf("%s  label=%-6s  dims=%d\n",
			r.Timestamp.Format(time.RFC3339), r.Label, len(r.Features))
	}
}
