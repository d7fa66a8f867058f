// Package archive is the serialized data access layer for the run-history
// store. A single worker goroutine owns the SQLite handle; callers submit
// commands and wait on a per-request response channel, so no two writers
// ever interleave and nobody holds a lock across disk I/O.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	logp "github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "archive",
})

// Weather adjustment sentinels stored on each record.
const (
	// AdjustmentManual marks a run started by hand or through the API.
	AdjustmentManual = -1.0
	// AdjustmentETDriven marks a run triggered by accumulated ET demand,
	// with no percentage scaling applied.
	AdjustmentETDriven = -2.0
)

var (
	// ErrInvalidStatus is a contract violation: status must be on or off.
	ErrInvalidStatus = errors.New("status must be \"on\" or \"off\"")
	// ErrNoOpenRun is returned when closing a zone that has no open run.
	// No record is created.
	ErrNoOpenRun = errors.New("no open run for zone")
	// ErrOpenRun is returned when opening a zone that already has an open
	// run; a zone cannot have two runs in flight.
	ErrOpenRun = errors.New("zone already has an open run")
	// ErrStopped is returned for requests submitted after Stop.
	ErrStopped = errors.New("archive is stopped")
)

// Record is one zone activation. Stop is zero while the run is open.
type Record struct {
	Zone              int     `json:"zone"`
	Start             int64   `json:"start"`
	Stop              int64   `json:"stop"`
	WeatherAdjustment float64 `json:"weatherAdjustment"`
}

// Scheduled reports whether weather or ET logic governed the run: anything
// but a plain manual override. Weather-scaled runs carry the applied 0..2
// factor, ET-driven runs the -2 sentinel.
func (r Record) Scheduled() bool { return r.WeatherAdjustment != AdjustmentManual }

type response struct {
	records []Record
	n       int64
	err     error
}

type request struct {
	id   uuid.UUID
	exec func(db *sql.DB) response
	resp chan response
}

// Archive serializes all access to the run-history store.
type Archive struct {
	path string

	mu      sync.Mutex
	running bool
	reqs    chan request
	done    chan struct{}

	now func() time.Time
}

func New(path string) *Archive {
	return &Archive{path: path, now: time.Now}
}

// Start opens the store and spins up the worker. It is idempotent.
func (a *Archive) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}

	db, err := sql.Open("sqlite", a.path)
	if err != nil {
		return fmt.Errorf("could not open archive %s: %w", a.path, err)
	}
	// The worker is the only user of the handle.
	db.SetMaxOpenConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	a.reqs = make(chan request, 256)
	a.done = make(chan struct{})
	a.running = true
	go a.work(db)
	log.Info("started archive worker", "path", a.path)
	return nil
}

// Stop drains the queue, closes the store, and joins the worker. It must be
// called at most once per Start.
func (a *Archive) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.reqs)
	done := a.done
	a.mu.Unlock()

	<-done
	log.Info("stopped archive worker")
}

func (a *Archive) work(db *sql.DB) {
	defer close(a.done)
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("could not close archive store", "err", err)
		}
	}()

	for req := range a.reqs {
		res := a.execute(db, req)
		if res.err != nil {
			log.Debug("request failed", "id", req.id, "err", res.err,
				"stack", string(debug.Stack()))
		}
		// Every request gets exactly one response, error or not, so no
		// caller can deadlock on a swallowed failure.
		req.resp <- res
	}
}

func (a *Archive) execute(db *sql.DB, req request) (res response) {
	defer func() {
		if r := recover(); r != nil {
			res = response{err: fmt.Errorf("archive command panicked: %v", r)}
		}
	}()
	return req.exec(db)
}

func (a *Archive) submit(exec func(db *sql.DB) response) response {
	req := request{
		id:   uuid.New(),
		exec: exec,
		resp: make(chan response, 1),
	}

	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return response{err: ErrStopped}
	}
	a.reqs <- req
	a.mu.Unlock()

	return <-req.resp
}

// GetData returns run history. With maxAgeSeconds <= 0 it returns the most
// recent record per zone; otherwise it returns every record that started
// within the trailing window. scheduledOnly excludes manual runs.
func (a *Archive) GetData(maxAgeSeconds int64, scheduledOnly bool) ([]Record, error) {
	res := a.submit(func(db *sql.DB) response {
		if maxAgeSeconds <= 0 {
			return queryRecords(db, `
				SELECT r.zone, r.start_time, r.stop_time, r.wx_adjust
				FROM runs r
				JOIN (
					SELECT zone, MAX(start_time) AS latest
					FROM runs
					WHERE ? = 0 OR wx_adjust <> ?
					GROUP BY zone
				) t ON r.zone = t.zone AND r.start_time = t.latest
				WHERE ? = 0 OR r.wx_adjust <> ?
				ORDER BY r.zone`,
				boolArg(scheduledOnly), AdjustmentManual,
				boolArg(scheduledOnly), AdjustmentManual)
		}
		cutoff := a.now().Unix() - maxAgeSeconds
		return queryRecords(db, `
			SELECT zone, start_time, stop_time, wx_adjust
			FROM runs
			WHERE start_time >= ? AND (? = 0 OR wx_adjust <> ?)
			ORDER BY start_time`,
			cutoff, boolArg(scheduledOnly), AdjustmentManual)
	})
	return res.records, res.err
}

// WriteData records a zone transition. "on" opens a new run; "off" closes
// the zone's open run. The weather adjustment defaults to 1.0 (full
// duration, no scaling) when nil.
func (a *Archive) WriteData(timestamp int64, zone int, status string, adjustment *float64) error {
	if status != "on" && status != "off" {
		return fmt.Errorf("%w: got %q", ErrInvalidStatus, status)
	}
	adj := 1.0
	if adjustment != nil {
		adj = *adjustment
	}

	res := a.submit(func(db *sql.DB) response {
		if status == "on" {
			return response{err: openRun(db, timestamp, zone, adj)}
		}
		return response{err: closeRun(db, timestamp, zone)}
	})
	return res.err
}

// Prune deletes closed records older than the retention window and returns
// how many rows went away.
func (a *Archive) Prune(olderThan time.Duration) (int64, error) {
	cutoff := a.now().Add(-olderThan).Unix()
	res := a.submit(func(db *sql.DB) response {
		r, err := db.Exec(
			`DELETE FROM runs WHERE stop_time <> 0 AND start_time < ?`, cutoff)
		if err != nil {
			return response{err: fmt.Errorf("could not prune: %w", err)}
		}
		n, _ := r.RowsAffected()
		return response{n: n}
	})
	return res.n, res.err
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			zone       INTEGER NOT NULL,
			start_time INTEGER NOT NULL,
			stop_time  INTEGER NOT NULL DEFAULT 0,
			wx_adjust  REAL    NOT NULL DEFAULT 1.0
		);
		CREATE INDEX IF NOT EXISTS runs_zone_start ON runs (zone, start_time);`)
	if err != nil {
		return fmt.Errorf("could not create schema: %w", err)
	}
	return nil
}

func openRun(db *sql.DB, ts int64, zone int, adj float64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var open int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM runs WHERE zone = ? AND stop_time = 0`, zone,
	).Scan(&open); err != nil {
		return fmt.Errorf("could not check open runs: %w", err)
	}
	if open > 0 {
		return fmt.Errorf("zone %d: %w", zone, ErrOpenRun)
	}
	if _, err := tx.Exec(
		`INSERT INTO runs (zone, start_time, stop_time, wx_adjust) VALUES (?, ?, 0, ?)`,
		zone, ts, adj,
	); err != nil {
		return fmt.Errorf("could not insert run: %w", err)
	}
	return tx.Commit()
}

func closeRun(db *sql.DB, ts int64, zone int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRow(
		`SELECT id FROM runs WHERE zone = ? AND stop_time = 0 ORDER BY start_time DESC LIMIT 1`,
		zone,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("zone %d: %w", zone, ErrNoOpenRun)
	}
	if err != nil {
		return fmt.Errorf("could not find open run: %w", err)
	}
	if _, err := tx.Exec(`UPDATE runs SET stop_time = ? WHERE id = ?`, ts, id); err != nil {
		return fmt.Errorf("could not close run: %w", err)
	}
	return tx.Commit()
}

func queryRecords(db *sql.DB, query string, args ...any) response {
	rows, err := db.Query(query, args...)
	if err != nil {
		return response{err: fmt.Errorf("could not query runs: %w", err)}
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Zone, &r.Start, &r.Stop, &r.WeatherAdjustment); err != nil {
			return response{err: fmt.Errorf("could not scan run: %w", err)}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return response{err: fmt.Errorf("could not read runs: %w", err)}
	}
	return response{records: out}
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}
