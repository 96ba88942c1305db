package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reportsSubmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reports_submitted_total",
		Help: "The total number of report submissions by outcome",
	},
	[]string{"report_type", "outcome"},
)
