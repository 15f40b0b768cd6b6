// Package metrics holds the Prometheus collectors for dispatch and scheduling.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_sends_total",
			Help: "Total number of single-token push attempts",
		},
		[]string{"result", "error_code"},
	)

	TokenEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_token_evictions_total",
			Help: "Invalid device tokens pruned from user records",
		},
		[]string{"result"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "push_dispatch_duration_seconds",
			Help: "Duration of a full dispatch in seconds",
		},
		[]string{"type"},
	)

	SchedulerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_scheduler_ticks_total",
			Help: "Scheduler sweeps by result",
		},
		[]string{"result"},
	)

	ScheduledProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_scheduled_processed_total",
			Help: "Scheduled notifications handled by the scheduler",
		},
		[]string{"outcome"},
	)
)

// ObserveSend records one transport outcome.
func ObserveSend(success bool, errorCode string) {
	if success {
		SendsTotal.WithLabelValues("success", "").Inc()
		return
	}
	SendsTotal.WithLabelValues("failure", errorCode).Inc()
}
