package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Action dispatcher
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudcompanion_actions_total",
			Help: "Dispatched actions by name and outcome",
		},
		[]string{"action", "outcome"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudcompanion_action_duration_seconds",
			Help:    "Time spent handling an action, including upstream calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// Upstream provider
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudcompanion_upstream_requests_total",
			Help: "Requests sent to the DigitalOcean API by method and result class",
		},
		[]string{"method", "result"},
	)

	// Key pool
	KeyDeactivationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudcompanion_api_key_deactivations_total",
			Help: "Provider API keys deactivated after an authentication failure",
		},
	)

	// Reconciler
	ReconciledDropletsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudcompanion_reconciled_droplets_total",
			Help: "Droplets examined by the reconciler by result",
		},
		[]string{"result"},
	)

	// Sweeper
	SweptDropletsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudcompanion_auto_destroyed_droplets_total",
			Help: "Droplets removed by the auto-destroy sweeper",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudcompanion_sweep_duration_seconds",
			Help:    "Duration of an auto-destroy sweep",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		ActionsTotal,
		ActionDuration,
		UpstreamRequestsTotal,
		KeyDeactivationsTotal,
		ReconciledDropletsTotal,
		SweptDropletsTotal,
		SweepDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(time.Since(t.start).Seconds())
}
