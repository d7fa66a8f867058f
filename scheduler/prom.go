package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "sprinklerd",
	Subsystem:   "scheduler",
	Name:        "ticks_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

var tickErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "sprinklerd",
	Subsystem:   "scheduler",
	Name:        "tick_errors_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

var zonesStarted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "sprinklerd",
	Subsystem:   "scheduler",
	Name:        "zones_started_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

var etAccruals = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "sprinklerd",
	Subsystem:   "scheduler",
	Name:        "et_accruals_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

var postponeHours = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace:   "sprinklerd",
	Subsystem:   "scheduler",
	Name:        "postpone_hours",
	Help:        "",
	ConstLabels: map[string]string{},
})

var zoneActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "sprinklerd",
	Subsystem:   "zone",
	Name:        "active",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"name"})

var zoneET = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "sprinklerd",
	Subsystem:   "zone",
	Name:        "accumulated_et_inches",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"name"})
