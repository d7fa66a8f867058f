package sprinkler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	on    bool
	fails bool
	ons   int
	offs  int
}

func (r *fakeRelay) On() error {
	r.ons++
	if r.fails {
		return errors.New("gpio write failed")
	}
	r.on = true
	return nil
}

func (r *fakeRelay) Off() error {
	r.offs++
	if r.fails {
		return errors.New("gpio write failed")
	}
	r.on = false
	return nil
}

type fakeRain struct{ active bool }

func (s fakeRain) IsActive() bool { return s.active }

func TestZoneOnOff(t *testing.T) {
	relay := &fakeRelay{}
	z := NewZone(relay, nil, ZoneOptions{Name: "front", Enabled: true, RatePerHour: 0.5})

	require.False(t, z.IsActive())
	require.NoError(t, z.On())
	require.True(t, z.IsActive())
	require.True(t, relay.on)

	require.NoError(t, z.Off())
	require.False(t, z.IsActive())
	require.False(t, relay.on)
	require.False(t, z.LastStop().IsZero())
}

func TestZoneOnIsIdempotent(t *testing.T) {
	relay := &fakeRelay{}
	z := NewZone(relay, nil, ZoneOptions{Name: "front", Enabled: true})

	now := time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)
	z.now = func() time.Time { return now }

	require.NoError(t, z.On())
	start := z.LastRun()

	now = now.Add(time.Minute)
	require.NoError(t, z.On())
	require.Equal(t, start, z.LastRun(), "second On must not touch lastStart")
	require.Equal(t, 1, relay.ons)
}

func TestZoneDisabledNeverActivates(t *testing.T) {
	relay := &fakeRelay{}
	z := NewZone(relay, nil, ZoneOptions{Name: "back", Enabled: false})

	require.Error(t, z.On())
	require.False(t, z.IsActive())
	require.False(t, relay.on)
}

func TestZoneRainSuppressesRelayNotBookkeeping(t *testing.T) {
	relay := &fakeRelay{}
	z := NewZone(relay, fakeRain{active: true}, ZoneOptions{Name: "front", Enabled: true})

	require.NoError(t, z.On())
	require.True(t, z.IsActive(), "state still flips by default policy")
	require.False(t, relay.on, "relay must stay off while raining")
	require.False(t, z.LastRun().IsZero())
}

func TestZoneRainBlocksBookkeeping(t *testing.T) {
	relay := &fakeRelay{}
	z := NewZone(relay, fakeRain{active: true}, ZoneOptions{
		Name:                  "front",
		Enabled:               true,
		RainBlocksBookkeeping: true,
	})

	require.NoError(t, z.On())
	require.False(t, z.IsActive())
	require.False(t, relay.on)
	require.True(t, z.LastRun().IsZero())
}

func TestZoneSwallowsHardwareErrors(t *testing.T) {
	relay := &fakeRelay{fails: true}
	z := NewZone(relay, nil, ZoneOptions{Name: "front", Enabled: true})

	// Relay faults are logged and swallowed; state is optimistic.
	require.NoError(t, z.On())
	require.True(t, z.IsActive())
	require.NoError(t, z.Off())
	require.False(t, z.IsActive())
}

func TestDurationFromDemand(t *testing.T) {
	z := NewZone(&fakeRelay{}, nil, ZoneOptions{Enabled: true, RatePerHour: 0.5})

	require.Equal(t, time.Hour, z.DurationFromDemand(0.5))
	require.Equal(t, 30*time.Minute, z.DurationFromDemand(0.25))
	require.Zero(t, z.DurationFromDemand(0))

	none := NewZone(&fakeRelay{}, nil, ZoneOptions{Enabled: true})
	require.Zero(t, none.DurationFromDemand(1))
}
