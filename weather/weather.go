// Package weather fetches outside conditions and turns them into the two
// signals the scheduling engine cares about: the current temperature and the
// estimated daily evapotranspiration loss. Every network call goes through a
// rate limiter and a short-lived cache so polling inside the TTL window
// never re-hits the upstream API.
package weather

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	logp "github.com/charmbracelet/log"

	"github.com/pi2go/sprinklerd/ratelimit"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "weather",
})

// Station identifies the weather station queried upstream.
type Station struct {
	ID  string
	Lat float64
	Lon float64
}

// Conditions are the current observations at a station, in metric units as
// delivered by the provider.
type Conditions struct {
	TempC       float64
	HumidityPct float64
	WindMS      float64
	PressureHpa float64
	PrecipMm    float64
}

// Summary describes one day at a station, with enough fields to feed the
// FAO-56 evapotranspiration estimate.
type Summary struct {
	Date     time.Time
	TminC    float64
	TmaxC    float64
	RHminPct float64
	RHmaxPct float64
	WindMS   float64
	PrecipMm float64
}

// Crop tunes the ET estimate for what is actually growing.
type Crop struct {
	// Coefficient scales the reference ET0 (grass) to the crop; 1.0 for
	// a typical lawn.
	Coefficient float64
}

// Provider is a weather data source.
type Provider interface {
	Name() string
	Current(ctx context.Context, st Station) (Conditions, error)
	DailySummary(ctx context.Context, st Station) (Summary, error)
}

// UpstreamError marks a failure of the external weather service. It is
// always recoverable: callers skip the current check and retry later.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("weather %s: %v", e.Op, e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err is (or wraps) an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

type cacheEntry struct {
	value   float64
	expires time.Time
}

// Gateway wraps a Provider with the rate limiter and a TTL cache keyed on
// (operation, station).
type Gateway struct {
	provider Provider
	limiter  *ratelimit.Limiter
	ttl      time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

const defaultTTL = 45 * time.Minute

func NewGateway(p Provider, limiter *ratelimit.Limiter, ttl time.Duration) *Gateway {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Gateway{
		provider: p,
		limiter:  limiter,
		ttl:      ttl,
		cache:    make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// CurrentTemperature returns the station's current temperature in °F.
func (g *Gateway) CurrentTemperature(ctx context.Context, st Station) (float64, error) {
	return g.cached(ctx, "temperature", st, func(ctx context.Context) (float64, error) {
		cond, err := g.provider.Current(ctx, st)
		if err != nil {
			return 0, &UpstreamError{Op: "current conditions", Err: err}
		}
		return cToF(cond.TempC), nil
	})
}

// DailyET returns today's estimated evapotranspiration loss in inches.
func (g *Gateway) DailyET(ctx context.Context, st Station, crop Crop) (float64, error) {
	kc := crop.Coefficient
	if kc <= 0 {
		kc = 1.0
	}
	return g.cached(ctx, "et", st, func(ctx context.Context) (float64, error) {
		sum, err := g.provider.DailySummary(ctx, st)
		if err != nil {
			return 0, &UpstreamError{Op: "daily summary", Err: err}
		}
		et0 := EstimateDailyET(st, sum)
		et := mmToIn(et0) * kc
		log.Debug("estimated daily ET", "station", st.ID, "et0_mm", et0, "et_in", et)
		return et, nil
	})
}

// Adjustment computes a 0..2 watering scale factor from current and recent
// conditions, for percentage-scaled manual runs.
func (g *Gateway) Adjustment(ctx context.Context, st Station) (float64, error) {
	return g.cached(ctx, "adjustment", st, func(ctx context.Context) (float64, error) {
		cond, err := g.provider.Current(ctx, st)
		if err != nil {
			return 0, &UpstreamError{Op: "current conditions", Err: err}
		}
		sum, err := g.provider.DailySummary(ctx, st)
		if err != nil {
			return 0, &UpstreamError{Op: "daily summary", Err: err}
		}
		return WateringAdjustment(cond, sum), nil
	})
}

func (g *Gateway) cached(
	ctx context.Context,
	op string,
	st Station,
	fetch func(context.Context) (float64, error),
) (float64, error) {
	key := op + "|" + st.ID

	g.mu.Lock()
	if e, ok := g.cache[key]; ok && g.now().Before(e.expires) {
		g.mu.Unlock()
		return e.value, nil
	}
	g.mu.Unlock()

	if err := g.limiter.Acquire(ctx); err != nil {
		return 0, &UpstreamError{Op: op, Err: err}
	}
	v, err := fetch(ctx)
	if err != nil {
		return 0, err
	}

	g.mu.Lock()
	g.cache[key] = cacheEntry{value: v, expires: g.now().Add(g.ttl)}
	g.mu.Unlock()
	return v, nil
}

func cToF(c float64) float64    { return c*9.0/5.0 + 32.0 }
func mmToIn(mm float64) float64 { return mm / 25.4 }
