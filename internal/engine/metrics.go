package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_admissions_total",
			Help: "Total number of response admission attempts by result.",
		},
		[]string{"result"},
	)

	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_evaluations_total",
			Help: "Total number of quorum evaluations by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(admissionsTotal)
	prometheus.MustRegister(evaluationsTotal)
}
