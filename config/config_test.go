package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Load(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	return st
}

func TestLoadSeedsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	st, err := Load(path)
	require.NoError(t, err)

	s := st.Settings()
	require.Len(t, s.Zones, 1)
	require.False(t, s.Zones[0].Enabled)
	require.Equal(t, "06:00", s.Schedules[5].Start)

	// The seed must have been written out.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	st, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, st.Update(func(s *Settings) error {
		s.Zones = []ZoneSettings{
			{Name: "Front lawn", Enabled: true, Pin: 17, RatePerHour: 0.4, CurrentET: 0.2},
			{Name: "Beds", Enabled: true, Pin: 27, RatePerHour: 0.6},
		}
		s.Schedules[5].Enabled = true
		s.Schedules[5].ZonesToSkip = []int{2}
		s.DailyZoneCap = 1
		return nil
	}))

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, st.Settings(), reloaded.Settings())
}

func TestZoneET(t *testing.T) {
	st := newTestStore(t)

	require.Zero(t, st.ZoneET(1))
	require.NoError(t, st.SetZoneET(1, 0.35))
	require.Equal(t, 0.35, st.ZoneET(1))

	// Negative accumulators clamp to zero.
	require.NoError(t, st.SetZoneET(1, -0.1))
	require.Zero(t, st.ZoneET(1))

	require.Error(t, st.SetZoneET(9, 1))
	require.Zero(t, st.ZoneET(9))
}

func TestMonthSkips(t *testing.T) {
	m := MonthSchedule{ZonesToSkip: []int{2, 4}}
	require.True(t, m.Skips(2))
	require.False(t, m.Skips(1))
}

func TestStartClock(t *testing.T) {
	h, min, err := MonthSchedule{Start: "06:30"}.StartClock()
	require.NoError(t, err)
	require.Equal(t, 6, h)
	require.Equal(t, 30, min)

	for _, bad := range []string{"", "25:00", "06:61", "six"} {
		_, _, err := MonthSchedule{Start: bad}.StartClock()
		require.Error(t, err, bad)
	}
}

func TestUpdateRejectsTooManyZones(t *testing.T) {
	st := newTestStore(t)
	err := st.Update(func(s *Settings) error {
		s.Zones = make([]ZoneSettings, MaxZones+1)
		return nil
	})
	require.Error(t, err)
	require.Len(t, st.Zones(), 1)
}

func TestSettingsReturnsCopy(t *testing.T) {
	st := newTestStore(t)
	s := st.Settings()
	s.Zones[0].Name = "mutated"
	require.NotEqual(t, "mutated", st.Zones()[0].Name)
}

func TestFormMapRoundTrip(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.FromMap(map[string]string{
		"zone1.name":                  "Front lawn",
		"zone1.enabled":               "on",
		"zone1.pin":                   "17",
		"zone1.ratePerHour":           "0.4",
		"zone1.rainBlocksBookkeeping": "on",
		"schedule6.enabled":           "on",
		"schedule6.start":             "05:45",
		"schedule6.threshold":         "0.6",
		"schedule6.zonesToSkip":       "2,3",
		"weather.enabled":             "on",
		"weather.station":             "KNMALBUQ1",
		"weather.cacheTTL":            "30m",
		"general.dailyZoneCap":        "2",
	}))

	s := st.Settings()
	require.Equal(t, "Front lawn", s.Zones[0].Name)
	require.True(t, s.Zones[0].Enabled)
	require.True(t, s.Zones[0].RainBlocksBookkeeping)
	require.Equal(t, 17, s.Zones[0].Pin)
	require.True(t, s.Schedules[5].Enabled)
	require.Equal(t, "05:45", s.Schedules[5].Start)
	require.Equal(t, []int{2, 3}, s.Schedules[5].ZonesToSkip)
	require.Equal(t, 30*time.Minute, s.Weather.CacheTTL)
	require.Equal(t, 2, s.DailyZoneCap)

	m := st.AsMap()
	require.Equal(t, "Front lawn", m["zone1.name"])
	require.Equal(t, "on", m["zone1.rainBlocksBookkeeping"])
	require.Equal(t, "on", m["schedule6.enabled"])
	require.Equal(t, "2,3", m["schedule6.zonesToSkip"])
	require.Equal(t, "2", m["general.dailyZoneCap"])
}

func TestFromMapRejectsUnknownKeys(t *testing.T) {
	st := newTestStore(t)
	require.Error(t, st.FromMap(map[string]string{"zone9.name": "nope"}))
	require.Error(t, st.FromMap(map[string]string{"bogus": "x"}))
	require.Error(t, st.FromMap(map[string]string{"schedule6.start": "25:99"}))
}
