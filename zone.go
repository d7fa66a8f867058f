// Package sprinkler controls irrigation zones: each zone owns a relay and an
// optional rain sensor and converts accumulated water demand into run time.
package sprinkler

import (
	"fmt"
	"os"
	"sync"
	"time"

	logp "github.com/charmbracelet/log"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "sprinkler",
})

// Relay is the valve actuation capability. Implementations must tolerate
// repeated On/Off calls.
type Relay interface {
	On() error
	Off() error
}

// RainSensor reports whether rain is currently detected.
type RainSensor interface {
	IsActive() bool
}

// ZoneOptions tune per-zone behavior.
type ZoneOptions struct {
	// Name is used for logging only.
	Name string
	// Enabled zones may be activated; a disabled zone never turns on.
	Enabled bool
	// RatePerHour is the applied water depth per hour of run time, in the
	// same depth unit as the ET accumulator (inches by convention).
	RatePerHour float64
	// RainBlocksBookkeeping controls what a tripped rain sensor suppresses.
	// When false (the default policy), rain blocks the relay but the zone
	// still flips to On and records its start time, so the schedule moves
	// on instead of re-trying the zone all block long.
	RainBlocksBookkeeping bool
}

// Zone is a two-state (Off/On) controller for a single irrigation zone.
// All methods are safe for concurrent use; the scheduling engine and the
// HTTP handlers both talk to it.
type Zone struct {
	relay Relay
	rain  RainSensor
	opts  ZoneOptions

	mu        sync.Mutex
	active    bool
	lastStart time.Time
	lastStop  time.Time

	now func() time.Time
}

func NewZone(relay Relay, rain RainSensor, opts ZoneOptions) *Zone {
	z := &Zone{
		relay: relay,
		rain:  rain,
		opts:  opts,
		now:   time.Now,
	}
	// Start from a known relay state.
	if err := relay.Off(); err != nil {
		log.Warn("could not reset relay", "zone", opts.Name, "err", err)
	}
	return z
}

func (z *Zone) Name() string  { return z.opts.Name }
func (z *Zone) Enabled() bool { return z.opts.Enabled }
func (z *Zone) Rate() float64 { return z.opts.RatePerHour }

// On opens the valve. It is a no-op if the zone is already on, and refuses
// to activate a disabled zone. A tripped rain sensor suppresses the relay
// actuation; whether it also suppresses the state flip depends on
// RainBlocksBookkeeping.
func (z *Zone) On() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.active {
		return nil
	}
	if !z.opts.Enabled {
		return fmt.Errorf("zone %s is disabled", z.opts.Name)
	}

	raining := z.rain != nil && z.rain.IsActive()
	if raining {
		log.Info("rain sensor active, skipping watering", "zone", z.opts.Name)
		if z.opts.RainBlocksBookkeeping {
			return nil
		}
	} else {
		if err := z.relay.On(); err != nil {
			// Hardware faults must not stall the engine: log, assume set.
			log.Error("relay on failed", "zone", z.opts.Name, "err", err)
		}
	}

	z.active = true
	z.lastStart = z.now()
	return nil
}

// Off closes the valve. It is a no-op if the zone is already off.
func (z *Zone) Off() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if !z.active {
		return nil
	}
	if err := z.relay.Off(); err != nil {
		log.Error("relay off failed", "zone", z.opts.Name, "err", err)
	}
	z.active = false
	z.lastStop = z.now()
	return nil
}

func (z *Zone) IsActive() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.active
}

// LastRun returns the time the zone last started watering.
func (z *Zone) LastRun() time.Time {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.lastStart
}

func (z *Zone) LastStop() time.Time {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.lastStop
}

// DurationFromDemand converts an accumulated demand depth into the run time
// needed to apply it at the zone's rate.
func (z *Zone) DurationFromDemand(depth float64) time.Duration {
	if z.opts.RatePerHour <= 0 || depth <= 0 {
		return 0
	}
	return time.Duration(depth / z.opts.RatePerHour * float64(time.Hour))
}
