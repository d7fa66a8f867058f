package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "sprinklerd",
	Subsystem:   "api",
	Name:        "requests_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

var requestErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "sprinklerd",
	Subsystem:   "api",
	Name:        "request_errors_total",
	Help:        "",
	ConstLabels: map[string]string{},
})
