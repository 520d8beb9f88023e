package server

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssvep-backend/internal/cfg"
	"ssvep-backend/internal/hub"
	"ssvep-backend/internal/metrics"
	"ssvep-backend/internal/ml"
	"ssvep-backend/internal/predict"
	"ssvep-backend/internal/storage"
)

func testSettings() cfg.Settings {
	return cfg.Settings{
		Port:           8000,
		AllowedOrigins: []string{"http://localhost:3000"},
		SendTimeout:    time.Second,
		ModelsDir:      "models",
		Models:         []string{"lda"},
		DefaultModel:   "lda",
		SampleRate:     256,
		TargetFreqs:    []float64{10, 20},
		Harmonics:      []int{1},
		BandHalfWidth:  0.5,
	}
}

// newTestServer assembles a gateway around a hand-built two-class pipeline.
// Returns the running test server and the optional store it persists to.
func newTestServer(t *testing.T, withStore bool) (*httptest.Server, *storage.Store) {
	t.Helper()

	settings := testSettings()
	mw := metrics.NewWrapper(metrics.NewWithRegistry(prometheus.NewRegistry()))

	pipeline := &ml.Pipeline{
		Kind:    ml.KindLDA,
		Classes: []string{"left", "up"},
		Scaler: ml.Scaler{
			Mean:  make([]float64, 4),
			Scale: []float64{1, 1, 1, 1},
		},
		Coef:      [][]float64{{1, 0, 0, 0}, {0, 1, 0, 0}},
		Intercept: []float64{0, 0},
	}
	reg := ml.NewRegistry(map[string]*ml.Pipeline{"lda": pipeline})

	params := predict.SignalParams{
		SampleRate:    settings.SampleRate,
		TargetFreqs:   settings.TargetFreqs,
		Harmonics:     settings.Harmonics,
		BandHalfWidth: settings.BandHalfWidth,
	}
	service := predict.NewService(reg, params, mw)

	h := hub.New(settings.SendTimeout, CheckOrigin(settings.AllowedOrigins), mw)

	var store *storage.Store
	if withStore {
		var err error
		store, err = storage.New(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
	}

	srv := httptest.NewServer(New(settings, service, h, store).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func testTrial(freq float64) [][]float64 {
	trial := make([][]float64, 2)
	for ch := range trial {
		sig := make([]float64, 1024)
		for i := range sig {
			sig[i] = math.Sin(2 * math.Pi * freq * float64(i) / 256)
		}
		trial[ch] = sig
	}
	return trial
}

func postPredict(t *testing.T, srv *httptest.Server, body map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/predict", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_PredictBroadcastsToSubscribers(t *testing.T) {
	srv, _ := newTestServer(t, false)
	conn := dialWS(t, srv)

	resp, body := postPredict(t, srv, map[string]any{
		"data":       testTrial(10),
		"model_name": "lda",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "lda", body["model_name"])
	label, ok := body["predicted_label"].(string)
	require.True(t, ok)
	probs, ok := body["class_probabilities"].(map[string]any)
	require.True(t, ok)
	require.Len(t, probs, 2)

	var sum float64
	for _, p := range probs {
		sum += p.(float64)
	}
	assert.InDelta(t, 1.0, sum, 1e-6)

	// The subscriber saw the same prediction as the HTTP caller.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event map[string]any
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "prediction", event["type"])
	assert.Equal(t, "lda", event["model_name"])
	assert.Equal(t, label, event["predicted_label"])
}

func TestServer_Predict_1DDataRejected(t *testing.T) {
	srv, _ := newTestServer(t, false)
	conn := dialWS(t, srv)

	resp, body := postPredict(t, srv, map[string]any{
		"data":       []float64{1, 2, 3},
		"model_name": "lda",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "2D array")

	// Nothing was broadcast for the rejected trial.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "no event expected for a rejected trial")
}

func TestServer_Predict_InvalidTrials(t *testing.T) {
	srv, _ := newTestServer(t, false)

	cases := map[string]any{
		"missing data":  nil,
		"no channels":   [][]float64{},
		"empty channel": [][]float64{{}},
		"ragged":        [][]float64{{1, 2, 3}, {1, 2}},
	}
	for name, data := range cases {
		req := map[string]any{"model_name": "lda"}
		if data != nil {
			req["data"] = data
		}
		resp, body := postPredict(t, srv, req)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
		assert.Contains(t, body["error"], "invalid trial", name)
	}
}

func TestServer_Predict_UnknownModel(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, body := postPredict(t, srv, map[string]any{
		"data":       testTrial(10),
		"model_name": "svm",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], `unknown model "svm"`)
}

func TestServer_Predict_DefaultModel(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, body := postPredict(t, srv, map[string]any{"data": testTrial(10)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "lda", body["model_name"])
}

func TestServer_Predict_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, err := http.Post(srv.URL+"/predict", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Predict_PersistsRecord(t *testing.T) {
	srv, store := newTestServer(t, true)

	before := time.Now().Add(-time.Second)
	resp, _ := postPredict(t, srv, map[string]any{"data": testTrial(10)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	records, err := store.GetPredictions("lda", before, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "lda", records[0].Model)
	assert.Equal(t, 2, records[0].Channels)
	assert.Equal(t, 1024, records[0].Samples)
	assert.NotEmpty(t, records[0].PredictedLabel)
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string          `json:"status"`
		Models map[string]bool `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.Models["lda"])
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_CORS(t *testing.T) {
	srv, _ := newTestServer(t, false)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/predict", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req2, err := http.NewRequest(http.MethodOptions, srv.URL+"/predict", nil)
	require.NoError(t, err)
	req2.Header.Set("Origin", "http://evil.example.com")

	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestCheckOrigin(t *testing.T) {
	check := CheckOrigin([]string{"http://localhost:3000"})

	makeReq := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, check(makeReq("")), "non-browser clients allowed")
	assert.True(t, check(makeReq("http://localhost:3000")))
	assert.False(t, check(makeReq("http://evil.example.com")))

	wildcard := CheckOrigin([]string{"*"})
	assert.True(t, wildcard(makeReq("http://anywhere.example.com")))
}
