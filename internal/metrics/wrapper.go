package metrics

import "time"

// Wrapper exposes the narrow metrics surface the prediction service and the
// hub consume, so those packages depend on small interfaces they can mock in
// tests instead of on Prometheus types.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

// Prediction path.

func (w *Wrapper) PredictionInc()        { w.m.PredictionsTotal.Inc() }
func (w *Wrapper) PredictionFailureInc() { w.m.PredictionFailures.Inc() }
func (w *Wrapper) InvalidTrialInc()      { w.m.InvalidTrials.Inc() }
func (w *Wrapper) UnknownModelInc()      { w.m.UnknownModels.Inc() }

func (w *Wrapper) ExtractDuration(d time.Duration) {
	w.m.ExtractLatency.Observe(d.Seconds())
}

func (w *Wrapper) InferenceDuration(d time.Duration) {
	w.m.InferenceLatency.Observe(d.Seconds())
}

// WebSocket fan-out.

func (w *Wrapper) ClientCountSet(n int) { w.m.WSClients.Set(float64(n)) }
func (w *Wrapper) ConnectionOpenedInc() { w.m.ConnectionsOpened.Inc() }
func (w *Wrapper) BroadcastInc()        { w.m.BroadcastsTotal.Inc() }
func (w *Wrapper) DeliveryInc()         { w.m.DeliveriesTotal.Inc() }
func (w *Wrapper) DeliveryFailureInc()  { w.m.DeliveryFailures.Inc() }

func (w *Wrapper) ErrorInc() { w.m.ErrorsTotal.Inc() }
