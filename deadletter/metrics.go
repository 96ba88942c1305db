package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deadLettersStored = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dead_letters_stored_total",
		Help: "The total number of dead-letter envelopes persisted",
	},
	[]string{"subject"},
)
