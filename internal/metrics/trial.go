package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Trial Prometheus metrics.
var (
	TrialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tuner",
			Name:      "trials_total",
			Help:      "Total number of evaluated trials",
		},
		[]string{"exp_key", "status", "error_kind"}, // status: done / error
	)

	TrialPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tuner",
			Name:      "trial_phase_duration_seconds",
			Help:      "Duration of the train and eval phases of a trial",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"exp_key", "phase"},
	)

	TrialsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tuner",
			Name:      "trials_in_flight",
			Help:      "Trials currently evaluated by this process",
		},
		[]string{"exp_key"},
	)

	BestLoss = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tuner",
			Name:      "best_loss",
			Help:      "Lowest loss observed in the experiment",
		},
		[]string{"exp_key"},
	)

	StoreRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tuner",
			Name:      "store_retries_total",
			Help:      "Trial store operations retried after a transient failure",
		},
		[]string{"op"},
	)
)

var registerTrialOnce sync.Once

// RegisterTrialMetrics registers Prometheus trial metrics. Safe to call more than once.
func RegisterTrialMetrics() {
	registerTrialOnce.Do(func() {
		prometheus.MustRegister(TrialsTotal)
		prometheus.MustRegister(TrialPhaseDuration)
		prometheus.MustRegister(TrialsInFlight)
		prometheus.MustRegister(BestLoss)
		prometheus.MustRegister(StoreRetriesTotal)
	})
}
