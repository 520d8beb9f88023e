// Package server is the HTTP gateway: it decodes prediction requests, maps
// the service's error taxonomy onto status codes, and guarantees that every
// successful prediction is persisted (when storage is configured) and
// broadcast to subscribers before the HTTP response is written.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"ssvep-backend/internal/cfg"
	"ssvep-backend/internal/hub"
	"ssvep-backend/internal/ml"
	"ssvep-backend/internal/predict"
	"ssvep-backend/internal/storage"
)

// Server wires the prediction service, the broadcaster and optional storage
// behind the HTTP API.
type Server struct {
	settings cfg.Settings
	service  *predict.Service
	hub      *hub.Hub
	store    *storage.Store // nil when persistence is not configured
	httpSrv  *http.Server
}

// predictRequest carries the raw trial payload. Data stays raw until the
// model name is resolved so shape errors map onto the invalid-trial message.
type predictRequest struct {
	Data      json.RawMessage `json:"data"`
	ModelName string          `json:"model_name"`
}

// predictionEvent is the frame pushed to every live subscriber.
type predictionEvent struct {
	Type               string             `json:"type"`
	ModelName          string             `json:"model_name"`
	PredictedLabel     string             `json:"predicted_label"`
	ClassProbabilities map[string]float64 `json:"class_probabilities"`
}

func New(settings cfg.Settings, service *predict.Service, h *hub.Hub, store *storage.Store) *Server {
	s := &Server{
		settings: settings,
		service:  service,
		hub:      h,
		store:    store,
	}

	r := mux.NewRouter()
	r.HandleFunc("/predict", s.handlePredict).Methods("POST", "OPTIONS")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ws", h.ServeWS).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.Use(s.corsMiddleware)

	// No blanket read/write timeouts: /ws connections are long-lived and the
	// hub enforces its own per-send deadlines after the upgrade.
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", settings.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start blocks serving the API until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("address", s.httpSrv.Addr).Msg("prediction gateway listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// CheckOrigin returns the WebSocket origin policy matching the CORS
// configuration. Requests without an Origin header (non-browser clients)
// are allowed.
func CheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return originAllowed(origin, allowedOrigins)
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origin, s.settings.AllowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	modelName := req.ModelName
	if modelName == "" {
		modelName = s.settings.DefaultModel
	}

	var trial [][]float64
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &trial); err != nil {
			writeError(w, http.StatusBadRequest, "data must be a 2D array: channels x samples")
			return
		}
	}

	pred, err := s.service.Predict(trial, modelName)
	if err != nil {
		switch {
		case errors.Is(err, predict.ErrInvalidTrial):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ml.ErrUnknownModel):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown model %q", modelName))
		default:
			log.Error().Err(err).Str("model", modelName).Msg("prediction failed")
			writeError(w, http.StatusInternalServerError, "prediction failed")
		}
		return
	}

	if s.store != nil {
		record := storage.PredictionRecord{
			Model:          pred.ModelName,
			Timestamp:      time.Now(),
			PredictedLabel: pred.PredictedLabel,
			Probabilities:  pred.ClassProbabilities,
			Channels:       len(trial),
			Samples:        len(trial[0]),
		}
		if err := s.store.StorePrediction(record); err != nil {
			log.Warn().Err(err).Msg("failed to persist prediction record")
		}
	}

	// Subscribers see the event before the HTTP caller sees the response.
	s.hub.BroadcastJSON(predictionEvent{
		Type:               "prediction",
		ModelName:          pred.ModelName,
		PredictedLabel:     pred.PredictedLabel,
		ClassProbabilities: pred.ClassProbabilities,
	})

	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	models := make(map[string]bool)
	for _, name := range s.service.Models() {
		models[name] = true
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"models": models,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
