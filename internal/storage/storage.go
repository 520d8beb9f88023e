// Package storage persists classified trials for offline review. It uses
// BoltDB as the underlying engine and keeps two buckets: prediction records
// (model output per trial) and feature records (the extracted band-power
// vectors), both keyed by "model_timestamp" for efficient range scans.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	predictionsBucket = "predictions"
	featuresBucket    = "features"
)

// PredictionRecord is one classified trial as persisted.
type PredictionRecord struct {
	Model          string             `json:"model"`
	Timestamp      time.Time          `json:"timestamp"`
	PredictedLabel string             `json:"predicted_label"`
	Probabilities  map[string]float64 `json:"probabilities"`
	Channels       int                `json:"channels"`
	Samples        int                `json:"samples"`
}

// FeatureRecord is the band-power vector extracted from one trial, kept so
// served trials can later be folded back into a training set.
type FeatureRecord struct {
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
	Features  []float64 `json:"features"`
	Label     string    `json:"label,omitempty"`
}

// Store provides persistent storage for prediction history using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens the database under dataPath and creates the buckets.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "ssvep-data.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(featuresBucket)); err != nil {
			return fmt.Errorf("create features bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StorePrediction appends one prediction record. The key format is
// "model_timestamp" so per-model range queries stay a single cursor scan.
func (s *Store) StorePrediction(record PredictionRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal prediction record: %w", err)
		}

		key := fmt.Sprintf("%s_%d", record.Model, record.Timestamp.UnixNano())
		return b.Put([]byte(key), data)
	})
}

// StoreFeatures appends one feature record under the same key scheme as
// predictions.
func (s *Store) StoreFeatures(record FeatureRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(featuresBucket))

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal feature record: %w", err)
		}

		key := fmt.Sprintf("%s_%d", record.Model, record.Timestamp.UnixNano())
		return b.Put([]byte(key), data)
	})
}

// GetPredictions retrieves prediction records for one model within a time
// range, inclusive of both ends, ordered by timestamp.
func (s *Store) GetPredictions(model string, start, end time.Time) ([]PredictionRecord, error) {
	var records []PredictionRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))
		c := b.Cursor()

		prefix := []byte(model + "_")
		startKey := []byte(fmt.Sprintf("%s_%d", model, start.UnixNano()))
		endKey := []byte(fmt.Sprintf("%s_%d", model, end.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}

			var record PredictionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue // Skip malformed records
			}
			records = append(records, record)
		}

		return nil
	})

	return records, err
}

// GetFeaturesInRange retrieves feature records for one model within a time
// range, inclusive of both ends.
func (s *Store) GetFeaturesInRange(model string, start, end time.Time) ([]FeatureRecord, error) {
	var records []FeatureRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(featuresBucket))
		c := b.Cursor()

		prefix := []byte(model + "_")
		startKey := []byte(fmt.Sprintf("%s_%d", model, start.UnixNano()))
		endKey := []byte(fmt.Sprintf("%s_%d", model, end.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}

			var record FeatureRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue
			}
			records = append(records, record)
		}

		return nil
	})

	return records, err
}
