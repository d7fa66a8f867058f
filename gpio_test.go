package sprinkler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGPIORelayWritesValue(t *testing.T) {
	dir := t.TempDir()
	old := gpioRoot
	gpioRoot = dir
	t.Cleanup(func() { gpioRoot = old })

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "gpio17"), 0o755))

	relay := NewGPIORelay(17)
	require.NoError(t, relay.On())
	raw, err := os.ReadFile(filepath.Join(dir, "gpio17", "value"))
	require.NoError(t, err)
	require.Equal(t, "1", string(raw))

	require.NoError(t, relay.Off())
	raw, err = os.ReadFile(filepath.Join(dir, "gpio17", "value"))
	require.NoError(t, err)
	require.Equal(t, "0", string(raw))
}

func TestGPIODisabledPin(t *testing.T) {
	relay := NewGPIORelay(0)
	require.NoError(t, relay.On())
	require.NoError(t, relay.Off())

	sensor := NewGPIORainSensor(-1)
	require.False(t, sensor.IsActive())
}

func TestGPIORainSensor(t *testing.T) {
	dir := t.TempDir()
	old := gpioRoot
	gpioRoot = dir
	t.Cleanup(func() { gpioRoot = old })

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "gpio27"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gpio27", "value"), []byte("1\n"), 0o644))

	sensor := NewGPIORainSensor(27)
	require.True(t, sensor.IsActive())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "gpio27", "value"), []byte("0\n"), 0o644))
	require.False(t, sensor.IsActive())
}
