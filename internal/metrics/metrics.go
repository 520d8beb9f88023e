// Package metrics provides Prometheus metrics collection for the SSVEP
// backend. It covers the prediction path (request counts, failures, feature
// extraction and inference latency) and the WebSocket fan-out (subscriber
// count, broadcasts, per-connection delivery failures), exposed via the
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the prediction service.
type Metrics struct {
	// Prediction path
	PredictionsTotal   prometheus.Counter   // Successful predictions served
	PredictionFailures prometheus.Counter   // Prediction requests rejected or failed
	InvalidTrials      prometheus.Counter   // Requests rejected for malformed trial data
	UnknownModels      prometheus.Counter   // Requests naming a model not in the registry
	ExtractLatency     prometheus.Histogram // Feature extraction latency in seconds
	InferenceLatency   prometheus.Histogram // Classifier inference latency in seconds

	// WebSocket fan-out
	WSClients         prometheus.Gauge   // Currently connected subscribers
	BroadcastsTotal   prometheus.Counter // Broadcast calls issued
	DeliveriesTotal   prometheus.Counter // Successful per-connection deliveries
	DeliveryFailures  prometheus.Counter // Per-connection send failures (pruned)
	ConnectionsOpened prometheus.Counter // Subscriber connections accepted

	// System
	ErrorsTotal prometheus.Counter // Errors outside the taxonomy above
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for tests,
// which need isolated collectors).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of successful predictions served",
		}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total number of prediction requests rejected or failed",
		}),
		InvalidTrials: factory.NewCounter(prometheus.CounterOpts{
			Name: "invalid_trials_total",
			Help: "Total number of requests rejected for malformed trial data",
		}),
		UnknownModels: factory.NewCounter(prometheus.CounterOpts{
			Name: "unknown_model_requests_total",
			Help: "Total number of requests naming a model absent from the registry",
		}),
		ExtractLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "feature_extract_latency_seconds",
			Help:    "Feature extraction latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "inference_latency_seconds",
			Help:    "Classifier inference latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Number of currently connected prediction subscribers",
		}),
		BroadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "broadcasts_total",
			Help: "Total number of prediction broadcasts issued",
		}),
		DeliveriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Total number of successful per-connection deliveries",
		}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "delivery_failures_total",
			Help: "Total number of per-connection send failures",
		}),
		ConnectionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "connections_opened_total",
			Help: "Total number of subscriber connections accepted",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}
