// Package config holds the runtime-mutable controller settings behind a
// thread-safe store. The scheduling engine reads schedules and writes back
// per-zone ET accumulators; the HTTP handlers read and update everything
// through the same accessor, so no caller needs its own locking.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	logp "github.com/charmbracelet/log"
	"golang.org/x/exp/slices"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "config",
})

// MaxZones bounds how many zones a controller can drive.
const MaxZones = 6

// ZoneSettings describes one irrigation zone.
type ZoneSettings struct {
	Name          string `json:"name"`
	Enabled       bool   `json:"enabled"`
	Pin           int    `json:"pin"`
	RainSensorPin int    `json:"rainSensorPin"`
	// RainBlocksBookkeeping extends rain suppression from the relay to the
	// zone's state and start-time bookkeeping.
	RainBlocksBookkeeping bool    `json:"rainBlocksBookkeeping"`
	MQTTTopic             string  `json:"mqttTopic,omitempty"`
	RatePerHour           float64 `json:"ratePerHour"`
	// CurrentET is the zone's accumulated unmet demand in inches. It is
	// owned by the engine but persisted here so it survives restarts.
	CurrentET float64 `json:"currentET"`
}

// MonthSchedule configures one calendar month.
type MonthSchedule struct {
	Enabled     bool    `json:"enabled"`
	Start       string  `json:"start"` // HH:MM local time
	Threshold   float64 `json:"threshold"`
	ZonesToSkip []int   `json:"zonesToSkip,omitempty"`
}

// StartClock parses the HH:MM start time.
func (m MonthSchedule) StartClock() (hour, minute int, err error) {
	parts := strings.SplitN(m.Start, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid start time %q", m.Start)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid start hour %q", m.Start)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid start minute %q", m.Start)
	}
	return hour, minute, nil
}

// Skips reports whether the month exempts the 1-based zone index.
func (m MonthSchedule) Skips(zone int) bool {
	return slices.Contains(m.ZonesToSkip, zone)
}

// WeatherSettings configures the upstream weather service.
type WeatherSettings struct {
	Enabled           bool          `json:"enabled"`
	APIKey            string        `json:"apiKey"`
	StationID         string        `json:"stationId"`
	Latitude          float64       `json:"latitude"`
	Longitude         float64       `json:"longitude"`
	RequestsPerMinute int           `json:"requestsPerMinute"`
	CacheTTL          time.Duration `json:"cacheTTL"`
	CropCoefficient   float64       `json:"cropCoefficient"`
}

// Settings is the full controller configuration.
type Settings struct {
	Zones     []ZoneSettings    `json:"zones"`
	Schedules [12]MonthSchedule `json:"schedules"`
	Weather   WeatherSettings   `json:"weather"`
	// DailyZoneCap limits how many zones may water per scheduling block;
	// zero means unlimited.
	DailyZoneCap int `json:"dailyZoneCap"`
}

// Store is the thread-safe settings accessor.
type Store struct {
	path string

	mu sync.RWMutex
	s  Settings
}

// Defaults returns a disabled single-zone configuration to seed a fresh
// install.
func Defaults() Settings {
	s := Settings{
		Zones: []ZoneSettings{
			{Name: "Zone 1", RatePerHour: 0.5},
		},
		Weather: WeatherSettings{
			RequestsPerMinute: 10,
			CacheTTL:          45 * time.Minute,
			CropCoefficient:   1.0,
		},
	}
	for i := range s.Schedules {
		s.Schedules[i].Start = "06:00"
		s.Schedules[i].Threshold = 0.5
	}
	return s
}

// Load reads the settings file at path, seeding it with defaults when it
// does not exist yet.
func Load(path string) (*Store, error) {
	st := &Store{path: path}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Info("no settings file, starting from defaults", "path", path)
		st.s = Defaults()
		return st, st.save(st.s)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read settings: %w", err)
	}
	if err := json.Unmarshal(raw, &st.s); err != nil {
		return nil, fmt.Errorf("could not parse settings: %w", err)
	}
	if len(st.s.Zones) > MaxZones {
		return nil, fmt.Errorf("too many zones: %d (max %d)", len(st.s.Zones), MaxZones)
	}
	return st, nil
}

// Settings returns a copy of the current configuration.
func (st *Store) Settings() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.copyLocked()
}

func (st *Store) copyLocked() Settings {
	out := st.s
	out.Zones = slices.Clone(st.s.Zones)
	for i := range out.Schedules {
		out.Schedules[i].ZonesToSkip = slices.Clone(st.s.Schedules[i].ZonesToSkip)
	}
	return out
}

// Month returns the schedule for the given calendar month.
func (st *Store) Month(m time.Month) MonthSchedule {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sched := st.s.Schedules[int(m)-1]
	sched.ZonesToSkip = slices.Clone(sched.ZonesToSkip)
	return sched
}

// Zones returns a copy of the zone settings.
func (st *Store) Zones() []ZoneSettings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return slices.Clone(st.s.Zones)
}

// Weather returns the weather service settings.
func (st *Store) Weather() WeatherSettings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Weather
}

// DailyZoneCap returns the per-block zone cap (zero = unlimited).
func (st *Store) DailyZoneCap() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.DailyZoneCap
}

// ZoneET returns the accumulated ET for the 1-based zone index.
func (st *Store) ZoneET(zone int) float64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if zone < 1 || zone > len(st.s.Zones) {
		return 0
	}
	return st.s.Zones[zone-1].CurrentET
}

// SetZoneET updates and persists the accumulated ET for the 1-based zone
// index. This is the engine's only cross-thread write path.
func (st *Store) SetZoneET(zone int, et float64) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if zone < 1 || zone > len(st.s.Zones) {
		return fmt.Errorf("no such zone: %d", zone)
	}
	if et < 0 {
		et = 0
	}
	st.s.Zones[zone-1].CurrentET = et
	return st.save(st.s)
}

// Update applies fn to a copy of the settings and persists the result.
func (st *Store) Update(fn func(*Settings) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	next := st.copyLocked()
	if err := fn(&next); err != nil {
		return err
	}
	if len(next.Zones) > MaxZones {
		return fmt.Errorf("too many zones: %d (max %d)", len(next.Zones), MaxZones)
	}
	st.s = next
	return st.save(st.s)
}

// save writes atomically so a crash mid-write never corrupts the settings.
// Callers must hold the write lock.
func (st *Store) save(s Settings) error {
	if st.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode settings: %w", err)
	}
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("could not write settings: %w", err)
	}
	if err := os.Rename(tmp, st.path); err != nil {
		return fmt.Errorf("could not replace settings: %w", err)
	}
	return nil
}
