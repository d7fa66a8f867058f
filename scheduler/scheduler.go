// Package scheduler runs the irrigation control loop: every few seconds it
// reconciles wall-clock time, per-zone ET demand, weather constraints, and
// zone state, one zone watering at a time.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	logp "github.com/charmbracelet/log"

	"github.com/pi2go/sprinklerd/archive"
	"github.com/pi2go/sprinklerd/config"
	"github.com/pi2go/sprinklerd/weather"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "scheduler",
})

const (
	defaultInterval = 5 * time.Second

	// blockEntryWindow is how long after the scheduled start a tick still
	// counts as entering the block.
	blockEntryWindow = time.Minute

	// minSafeTempF is the freeze guard: at or below this the schedule is
	// postponed an hour at a time.
	minSafeTempF = 35.0
	postponeStep = time.Hour
	maxPostpone  = 24 * time.Hour

	// etAccrualWindow is how long after local midnight the daily ET loss
	// may be added to the zone accumulators.
	etAccrualWindow = time.Hour
)

// Zone is the controller surface the engine drives. *sprinkler.Zone
// implements it; tests substitute fakes.
type Zone interface {
	Name() string
	Enabled() bool
	On() error
	Off() error
	IsActive() bool
	LastRun() time.Time
	DurationFromDemand(depth float64) time.Duration
}

// History is the slice of the archive the engine needs.
type History interface {
	WriteData(timestamp int64, zone int, status string, adjustment *float64) error
}

// WeatherService is the slice of the weather gateway the engine needs.
// Failures are recoverable by contract: a tick skips the affected check and
// retries later.
type WeatherService interface {
	CurrentTemperature(ctx context.Context, st weather.Station) (float64, error)
	DailyET(ctx context.Context, st weather.Station, crop weather.Crop) (float64, error)
}

// ScheduleProcessor is the engine. All of its mutable run state is owned by
// the tick goroutine; the only cross-thread write is the ET persistence
// through the config store, which synchronizes itself.
type ScheduleProcessor struct {
	cfg     *config.Store
	zones   []Zone // index 0 is zone 1
	history History
	gateway WeatherService

	interval time.Duration

	mu    sync.Mutex
	alive chan struct{}
	done  chan struct{}

	// tick-owned state, reset per §block
	blockActive      bool
	processedInBlock map[int]bool
	tDelay           time.Duration
	updatedET        time.Time

	now func() time.Time
}

func New(cfg *config.Store, zones []Zone, history History, gateway WeatherService) *ScheduleProcessor {
	return &ScheduleProcessor{
		cfg:              cfg,
		zones:            zones,
		history:          history,
		gateway:          gateway,
		interval:         defaultInterval,
		processedInBlock: make(map[int]bool),
		now:              time.Now,
	}
}

// Start spins up the polling loop. It is a no-op if already running.
func (p *ScheduleProcessor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alive != nil {
		return
	}
	p.alive = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.alive, p.done)
	log.Info("started the schedule processor", "interval", p.interval)
}

// Stop clears the liveness flag and joins the loop. The current tick always
// finishes first; there is no mid-tick preemption.
func (p *ScheduleProcessor) Stop() {
	p.mu.Lock()
	alive, done := p.alive, p.done
	p.alive, p.done = nil, nil
	p.mu.Unlock()
	if alive == nil {
		return
	}
	close(alive)
	<-done
	log.Info("stopped the schedule processor")
}

func (p *ScheduleProcessor) run(alive <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-alive:
			return
		case <-ticker.C:
			p.safeTick()
		}
	}
}

// safeTick isolates one tick: whatever goes wrong inside is logged and the
// loop moves on. The engine can only be stopped by Stop.
func (p *ScheduleProcessor) safeTick() {
	defer func() {
		if r := recover(); r != nil {
			tickErrors.Inc()
			log.Error("tick failed", "panic", r)
			log.Debug("tick panic trace", "stack", string(debug.Stack()))
		}
	}()
	ticksTotal.Inc()
	if err := p.tick(p.now().Truncate(time.Second)); err != nil {
		tickErrors.Inc()
		log.Error("tick failed", "err", err)
		log.Debug("tick failure trace", "stack", string(debug.Stack()))
	}
}

func (p *ScheduleProcessor) tick(tNow time.Time) error {
	month := p.cfg.Month(tNow.Month())

	// A disabled month sheds all accumulated demand so spring does not
	// start with a winter's worth of ET.
	if !month.Enabled {
		p.resetDemand(month)
		return nil
	}

	p.accrueDailyET(tNow, month)

	hour, minute, err := month.StartClock()
	if err != nil {
		return fmt.Errorf("bad schedule for %s: %w", tNow.Month(), err)
	}
	tSchedule := time.Date(tNow.Year(), tNow.Month(), tNow.Day(), hour, minute, 0, 0, tNow.Location()).
		Add(p.tDelay)

	entering := !tNow.Before(tSchedule) && tNow.Sub(tSchedule) < blockEntryWindow
	if !entering && !p.blockActive {
		return nil
	}
	log.Debug("scheduling block entering or active", "start", tSchedule, "delay", p.tDelay)

	if !p.freezeGuardClear() {
		return nil
	}

	p.scanZones(tNow, month)
	return nil
}

func (p *ScheduleProcessor) resetDemand(month config.MonthSchedule) {
	for zone := 1; zone <= len(p.zones); zone++ {
		if month.Skips(zone) || p.cfg.ZoneET(zone) == 0 {
			continue
		}
		log.Info("schedule disabled this month, clearing demand", "zone", zone)
		if err := p.cfg.SetZoneET(zone, 0); err != nil {
			log.Error("could not clear zone demand", "zone", zone, "err", err)
		}
		zoneET.WithLabelValues(p.zones[zone-1].Name()).Set(0)
	}
}

// accrueDailyET adds the day's estimated ET loss to every enabled,
// non-skipped zone once per 24 h, within an hour of local midnight.
func (p *ScheduleProcessor) accrueDailyET(tNow time.Time, month config.MonthSchedule) {
	w := p.cfg.Weather()
	if !w.Enabled {
		return
	}
	midnight := time.Date(tNow.Year(), tNow.Month(), tNow.Day(), 0, 0, 0, 0, tNow.Location())
	if tNow.Sub(midnight) >= etAccrualWindow {
		return
	}
	if !p.updatedET.IsZero() && tNow.Sub(p.updatedET) < 24*time.Hour {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	et, err := p.gateway.DailyET(ctx, p.station(w), weather.Crop{Coefficient: w.CropCoefficient})
	if err != nil {
		// Recoverable: try again next tick while still in the window.
		log.Warn("could not fetch daily ET, skipping accrual", "err", err)
		return
	}

	for zone := 1; zone <= len(p.zones); zone++ {
		z := p.zones[zone-1]
		if !z.Enabled() || month.Skips(zone) {
			continue
		}
		next := p.cfg.ZoneET(zone) + et
		if err := p.cfg.SetZoneET(zone, next); err != nil {
			log.Error("could not persist zone demand", "zone", zone, "err", err)
			continue
		}
		zoneET.WithLabelValues(z.Name()).Set(next)
	}
	p.updatedET = tNow
	etAccruals.Inc()
	log.Info("accrued daily ET demand", "et", et)
}

// freezeGuardClear checks the temperature safety limit, postponing the
// block an hour at a time while it is freezing. A gateway failure counts as
// safe so zones are never blocked indefinitely on upstream trouble.
func (p *ScheduleProcessor) freezeGuardClear() bool {
	w := p.cfg.Weather()
	if !w.Enabled {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	temp, err := p.gateway.CurrentTemperature(ctx, p.station(w))
	if err != nil {
		log.Warn("could not check temperature, skipping safety check", "err", err)
		return true
	}

	if temp <= minSafeTempF {
		p.tDelay += postponeStep
		postponeHours.Set(p.tDelay.Hours())
		if p.tDelay >= maxPostpone {
			// No eligible window left today; give up on this block.
			log.Info("freezing all day, abandoning schedule block", "temp", temp)
			p.tDelay = 0
			p.blockActive = false
			p.processedInBlock = make(map[int]bool)
			postponeHours.Set(0)
			return false
		}
		log.Info("temperature too low, postponing schedule", "temp", temp, "delay", p.tDelay)
		return false
	}

	if p.tDelay > 0 {
		log.Info("temperature recovered, resuming schedule", "temp", temp, "delay", p.tDelay)
		p.tDelay = 0
		postponeHours.Set(0)
	}
	return true
}

// scanZones walks the zones in index order under the single-zone token: a
// zone that is still running, or one that was just turned on, ends the scan
// so zones always water sequentially.
func (p *ScheduleProcessor) scanZones(tNow time.Time, month config.MonthSchedule) {
	threshold := month.Threshold
	zoneCap := p.cfg.DailyZoneCap()

	for idx, z := range p.zones {
		zone := idx + 1
		if z.Enabled() && !month.Skips(zone) {
			if z.IsActive() {
				if !p.stopIfDone(tNow, zone, z, threshold) {
					// Still running: it holds the token.
					p.blockActive = true
					return
				}
				// Just finished; the next zone may start this tick.
			} else if p.maybeStart(tNow, zone, z, threshold, zoneCap) {
				return
			}
		}

		if zone == len(p.zones) && !z.IsActive() {
			if p.blockActive {
				log.Info("schedule block complete")
			}
			p.blockActive = false
			p.processedInBlock = make(map[int]bool)
		}
	}
}

// stopIfDone turns an active zone off once it has run long enough,
// reporting whether the zone is now off.
func (p *ScheduleProcessor) stopIfDone(tNow time.Time, zone int, z Zone, threshold float64) bool {
	duration := z.DurationFromDemand(threshold)
	elapsed := tNow.Sub(z.LastRun())
	if elapsed < duration {
		return false
	}

	_ = z.Off()
	zoneActive.WithLabelValues(z.Name()).Set(0)
	if err := p.history.WriteData(tNow.Unix(), zone, "off", nil); err != nil {
		log.Error("could not record zone off", "zone", zone, "err", err)
	}
	log.Info("zone off", "zone", zone, "name", z.Name(), "ran", elapsed)
	return true
}

// maybeStart decides whether an idle zone should water, reporting whether
// the scan should stop here.
func (p *ScheduleProcessor) maybeStart(tNow time.Time, zone int, z Zone, threshold float64, zoneCap int) bool {
	if p.blockActive && p.processedInBlock[zone] {
		return false
	}
	demand := p.cfg.ZoneET(zone)
	if threshold <= 0 || demand < threshold {
		return false
	}

	if zoneCap > 0 && len(p.processedInBlock) >= zoneCap {
		log.Info("zone cap reached, skipping this block", "zone", zone, "cap", zoneCap)
		p.blockActive = true
		p.processedInBlock[zone] = true
		return false
	}

	if err := z.On(); err != nil {
		log.Error("could not start zone", "zone", zone, "err", err)
		p.blockActive = true
		p.processedInBlock[zone] = true
		return false
	}
	zoneActive.WithLabelValues(z.Name()).Set(1)
	zonesStarted.Inc()

	remaining := demand - threshold
	if err := p.cfg.SetZoneET(zone, remaining); err != nil {
		log.Error("could not persist zone demand", "zone", zone, "err", err)
	}
	zoneET.WithLabelValues(z.Name()).Set(remaining)

	adj := archive.AdjustmentETDriven
	if err := p.history.WriteData(tNow.Unix(), zone, "on", &adj); err != nil {
		log.Error("could not record zone on", "zone", zone, "err", err)
	}

	log.Info("zone on", "zone", zone, "name", z.Name(),
		"duration", z.DurationFromDemand(threshold), "remaining_et", remaining)
	p.blockActive = true
	p.processedInBlock[zone] = true
	return true
}

func (p *ScheduleProcessor) station(w config.WeatherSettings) weather.Station {
	return weather.Station{ID: w.StationID, Lat: w.Latitude, Lon: w.Longitude}
}
