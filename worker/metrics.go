package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reportsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_processed_total",
			Help: "The total number of report requests processed",
		},
		[]string{"report_type", "status"},
	)

	reportGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "report_generation_duration_seconds",
			Help:    "Duration of report generation including the archive call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"report_type"},
	)

	reportsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_dropped_total",
			Help: "Work items dropped by the idempotency gate or as malformed",
		},
		[]string{"reason"},
	)
)
