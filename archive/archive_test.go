package archive

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a := New(filepath.Join(t.TempDir(), "sprinklerd.db"))
	require.NoError(t, a.Start())
	t.Cleanup(a.Stop)
	return a
}

func ptr(f float64) *float64 { return &f }

func TestStartIsIdempotent(t *testing.T) {
	a := newTestArchive(t)
	require.NoError(t, a.Start())
	require.NoError(t, a.Start())
}

func TestWriteAndGetData(t *testing.T) {
	a := newTestArchive(t)
	base := time.Now().Unix() - 100

	require.NoError(t, a.WriteData(base, 1, "on", ptr(AdjustmentETDriven)))
	require.NoError(t, a.WriteData(base+60, 1, "off", nil))
	require.NoError(t, a.WriteData(base+70, 2, "on", ptr(AdjustmentManual)))

	records, err := a.GetData(0, false)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, 1, records[0].Zone)
	require.Equal(t, base, records[0].Start)
	require.Equal(t, base+60, records[0].Stop)
	require.Equal(t, AdjustmentETDriven, records[0].WeatherAdjustment)
	require.Equal(t, 2, records[1].Zone)
	require.Zero(t, records[1].Stop, "zone 2 run is still open")
}

func TestGetDataScheduledOnly(t *testing.T) {
	a := newTestArchive(t)
	base := time.Now().Unix() - 100

	require.NoError(t, a.WriteData(base, 1, "on", ptr(AdjustmentManual)))
	require.NoError(t, a.WriteData(base+10, 1, "off", nil))
	require.NoError(t, a.WriteData(base+20, 1, "on", ptr(AdjustmentETDriven)))
	require.NoError(t, a.WriteData(base+30, 1, "off", nil))
	require.NoError(t, a.WriteData(base+40, 1, "on", ptr(0.85)))
	require.NoError(t, a.WriteData(base+50, 1, "off", nil))

	records, err := a.GetData(3600, true)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		require.True(t, r.Scheduled())
	}

	all, err := a.GetData(3600, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestGetDataAgeWindow(t *testing.T) {
	a := newTestArchive(t)
	now := time.Now().Unix()

	require.NoError(t, a.WriteData(now-7200, 1, "on", nil))
	require.NoError(t, a.WriteData(now-7100, 1, "off", nil))
	require.NoError(t, a.WriteData(now-30, 1, "on", nil))
	require.NoError(t, a.WriteData(now-10, 1, "off", nil))

	recent, err := a.GetData(3600, false)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, now-30, recent[0].Start)
}

func TestInvalidStatus(t *testing.T) {
	a := newTestArchive(t)
	err := a.WriteData(time.Now().Unix(), 1, "paused", nil)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestOffWithoutOpenRun(t *testing.T) {
	a := newTestArchive(t)

	err := a.WriteData(time.Now().Unix(), 3, "off", nil)
	require.ErrorIs(t, err, ErrNoOpenRun)

	// No record may be fabricated out of nothing.
	records, getErr := a.GetData(0, false)
	require.NoError(t, getErr)
	require.Empty(t, records)
}

func TestAtMostOneOpenRunPerZone(t *testing.T) {
	a := newTestArchive(t)
	now := time.Now().Unix()

	require.NoError(t, a.WriteData(now, 1, "on", nil))
	require.ErrorIs(t, a.WriteData(now+1, 1, "on", nil), ErrOpenRun)

	records, err := a.GetData(0, false)
	require.NoError(t, err)
	require.Len(t, records, 1)

	// A different zone is unaffected.
	require.NoError(t, a.WriteData(now+2, 2, "on", nil))
}

func TestConcurrentWritesStaySerialized(t *testing.T) {
	a := newTestArchive(t)
	now := time.Now().Unix()

	var wg sync.WaitGroup
	for z := 1; z <= 4; z++ {
		z := z
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(0); i < 20; i++ {
				require.NoError(t, a.WriteData(now+i*2, z, "on", nil))
				require.NoError(t, a.WriteData(now+i*2+1, z, "off", nil))
			}
		}()
	}
	wg.Wait()

	// The open-run invariant must hold after any interleaving.
	records, err := a.GetData(0, false)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for _, r := range records {
		require.NotZero(t, r.Stop)
	}
}

func TestPrune(t *testing.T) {
	a := newTestArchive(t)
	now := time.Now().Unix()

	require.NoError(t, a.WriteData(now-90*24*3600, 1, "on", nil))
	require.NoError(t, a.WriteData(now-90*24*3600+60, 1, "off", nil))
	require.NoError(t, a.WriteData(now-60, 1, "on", nil))

	n, err := a.Prune(30 * 24 * time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	// Open runs survive pruning no matter how old they are.
	records, err := a.GetData(0, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Zero(t, records[0].Stop)
}

func TestStoppedArchiveRejectsRequests(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), "sprinklerd.db"))
	require.NoError(t, a.Start())
	a.Stop()

	err := a.WriteData(time.Now().Unix(), 1, "on", nil)
	require.ErrorIs(t, err, ErrStopped)
	_, err = a.GetData(0, false)
	require.ErrorIs(t, err, ErrStopped)
}
