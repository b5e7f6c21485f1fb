package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels
const (
	OutcomeOffered   = "offered"
	OutcomeParked    = "parked"
	OutcomeAccepted  = "accepted"
	OutcomeDeclined  = "declined"
	OutcomeExpired   = "expired"
	OutcomeReclaimed = "reclaimed"
	OutcomeError     = "error"
)

// Dispatch groups the dispatcher counters. A nil *Dispatch records nothing.
type Dispatch struct {
	dispatches  *prometheus.CounterVec
	responses   *prometheus.CounterVec
	reclaims    *prometheus.CounterVec
	sweep       *prometheus.CounterVec
	redispatch  *prometheus.CounterVec
	opDurations *prometheus.HistogramVec
}

// NewDispatch creates unregistered dispatcher metrics.
func NewDispatch() *Dispatch {
	return &Dispatch{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_attempts_total",
			Help: "Dispatch attempts by outcome (offered, parked, error)",
		}, []string{"outcome"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offer_responses_total",
			Help: "Driver responses to offers by outcome",
		}, []string{"outcome"}),
		reclaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reclaims_total",
			Help: "Reclaim attempts by outcome",
		}, []string{"outcome"}),
		sweep: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweep_items_total",
			Help: "Items handled by the expiry sweeper (expired, reoffered, repaired, retried)",
		}, []string{"kind"}),
		redispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redispatch_failures_total",
			Help: "Redispatch hand-offs that failed by stage (enqueue, dropped)",
		}, []string{"stage"}),
		opDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_operation_duration_seconds",
			Help:    "Duration of dispatcher operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

// Collectors returns every collector for registration.
func (m *Dispatch) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.dispatches, m.responses, m.reclaims, m.sweep, m.redispatch, m.opDurations}
}

// Register registers all collectors with reg.
func (m *Dispatch) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Dispatched counts one dispatch attempt.
func (m *Dispatch) Dispatched(outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(outcome).Inc()
}

// Responded counts one driver response.
func (m *Dispatch) Responded(outcome string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(outcome).Inc()
}

// Reclaimed counts one reclaim attempt.
func (m *Dispatch) Reclaimed(outcome string) {
	if m == nil {
		return
	}
	m.reclaims.WithLabelValues(outcome).Inc()
}

// Swept adds the counts of one sweep run.
func (m *Dispatch) Swept(expired, reoffered, repaired, retried int) {
	if m == nil {
		return
	}
	m.sweep.WithLabelValues("expired").Add(float64(expired))
	m.sweep.WithLabelValues("reoffered").Add(float64(reoffered))
	m.sweep.WithLabelValues("repaired").Add(float64(repaired))
	m.sweep.WithLabelValues("retried").Add(float64(retried))
}

// RedispatchFailed counts a redispatch that did not reach the dispatcher.
func (m *Dispatch) RedispatchFailed(stage string) {
	if m == nil {
		return
	}
	m.redispatch.WithLabelValues(stage).Inc()
}

// ObserveSince records the duration of op started at start.
func (m *Dispatch) ObserveSince(op string, start time.Time) {
	if m == nil {
		return
	}
	m.opDurations.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
