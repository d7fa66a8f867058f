package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// OpenWeather queries the OpenWeatherMap API. HTTP calls run behind a
// circuit breaker and an exponential-backoff retry so a flaky upstream
// degrades into UpstreamErrors instead of long stalls.
type OpenWeather struct {
	apiKey  string
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewOpenWeather(apiKey string) *OpenWeather {
	return &OpenWeather{
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org",
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openweather",
			MaxRequests: 5,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
		}),
	}
}

func (p *OpenWeather) Name() string { return "openweathermap" }

func (p *OpenWeather) Current(ctx context.Context, st Station) (Conditions, error) {
	var payload struct {
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity float64 `json:"humidity"`
			Pressure float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Rain struct {
			OneH   float64 `json:"1h"`
			ThreeH float64 `json:"3h"`
		} `json:"rain"`
	}
	if err := p.getJSON(ctx, "/data/2.5/weather", st, &payload); err != nil {
		return Conditions{}, err
	}

	precip := payload.Rain.OneH
	if precip == 0 {
		precip = payload.Rain.ThreeH
	}
	return Conditions{
		TempC:       payload.Main.Temp,
		HumidityPct: payload.Main.Humidity,
		WindMS:      payload.Wind.Speed,
		PressureHpa: payload.Main.Pressure,
		PrecipMm:    precip,
	}, nil
}

func (p *OpenWeather) DailySummary(ctx context.Context, st Station) (Summary, error) {
	var payload struct {
		Daily []struct {
			Dt   int64 `json:"dt"`
			Temp struct {
				Min float64 `json:"min"`
				Max float64 `json:"max"`
			} `json:"temp"`
			Humidity  float64 `json:"humidity"`
			WindSpeed float64 `json:"wind_speed"`
			Rain      float64 `json:"rain"`
		} `json:"daily"`
	}
	if err := p.getJSON(ctx, "/data/3.0/onecall", st, &payload); err != nil {
		return Summary{}, err
	}
	if len(payload.Daily) == 0 {
		return Summary{}, fmt.Errorf("no daily data for station %s", st.ID)
	}

	// The one-call response carries a single humidity per day; use it for
	// both bounds rather than pretending to know the range.
	d := payload.Daily[0]
	return Summary{
		Date:     time.Unix(d.Dt, 0).UTC(),
		TminC:    d.Temp.Min,
		TmaxC:    d.Temp.Max,
		RHminPct: d.Humidity,
		RHmaxPct: d.Humidity,
		WindMS:   d.WindSpeed,
		PrecipMm: d.Rain,
	}, nil
}

func (p *OpenWeather) getJSON(ctx context.Context, path string, st Station, out any) error {
	if p.apiKey == "" {
		return fmt.Errorf("openweather api key is not configured")
	}

	values := url.Values{}
	values.Set("appid", p.apiKey)
	values.Set("units", "metric")
	values.Set("lat", fmt.Sprintf("%f", st.Lat))
	values.Set("lon", fmt.Sprintf("%f", st.Lon))
	if path == "/data/3.0/onecall" {
		values.Set("exclude", "current,minutely,hourly,alerts")
	}
	u := fmt.Sprintf("%s%s?%s", p.baseURL, path, values.Encode())

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.RetryNotify(func() error {
		_, err := p.breaker.Execute(func() (any, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			resp, err := p.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, fmt.Errorf("openweather status %d", resp.StatusCode)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, backoff.Permanent(fmt.Errorf("openweather status %d", resp.StatusCode))
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, backoff.Permanent(fmt.Errorf("could not decode response: %w", err))
			}
			return nil, nil
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}, bo, func(err error, _ time.Duration) {
		log.Warn("openweather request failed, retrying", "path", path, "err", err)
	})
}
