package domain

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskOpCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_task_operations_total",
			Help: "Total number of task operations by outcome",
		},
		[]string{"op", "status"},
	)

	taskOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journal_task_operation_duration_seconds",
			Help:    "Duration of task operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func observeOp(op string, start time.Time, errp *error) {
	status := "ok"
	if errp != nil && *errp != nil {
		status = "error"
	}
	taskOpCount.WithLabelValues(op, status).Inc()
	taskOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
