package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	sprinkler "github.com/pi2go/sprinklerd"
	"github.com/pi2go/sprinklerd/archive"
	"github.com/pi2go/sprinklerd/config"
	"github.com/pi2go/sprinklerd/weather"
)

var validate = validator.New()

type api struct {
	cfg     *config.Store
	zones   []*sprinkler.Zone
	archive *archive.Archive
	gateway *weather.Gateway
}

func (a *api) register(app *fiber.App) {
	v1 := app.Group("/api/v1")
	v1.Get("/status", a.status)
	v1.Get("/history", a.history)
	v1.Post("/zones/:zone/on", a.zoneOn)
	v1.Post("/zones/:zone/off", a.zoneOff)
	v1.Get("/config", a.getConfig)
	v1.Put("/config", a.putConfig)
}

type zoneStatus struct {
	Zone      int       `json:"zone"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Active    bool      `json:"active"`
	CurrentET float64   `json:"currentET"`
	LastStart time.Time `json:"lastStart,omitempty"`
	LastStop  time.Time `json:"lastStop,omitempty"`
}

func (a *api) status(c *fiber.Ctx) error {
	out := make([]zoneStatus, 0, len(a.zones))
	for i, z := range a.zones {
		out = append(out, zoneStatus{
			Zone:      i + 1,
			Name:      z.Name(),
			Enabled:   z.Enabled(),
			Active:    z.IsActive(),
			CurrentET: a.cfg.ZoneET(i + 1),
			LastStart: z.LastRun(),
			LastStop:  z.LastStop(),
		})
	}
	month := a.cfg.Month(time.Now().Month())
	return c.JSON(fiber.Map{
		"zones": out,
		"schedule": fiber.Map{
			"enabled":   month.Enabled,
			"start":     month.Start,
			"threshold": month.Threshold,
		},
	})
}

type historyQuery struct {
	Age       int64 `query:"age" validate:"gte=0"`
	Scheduled bool  `query:"scheduled"`
}

type historyRecord struct {
	Zone              int     `json:"zone"`
	Start             int64   `json:"start"`
	Stop              int64   `json:"stop,omitempty"`
	WeatherAdjustment float64 `json:"weatherAdjustment"`
	Scheduled         bool    `json:"scheduled"`
}

func (a *api) history(c *fiber.Ctx) error {
	req := historyQuery{Age: 7 * 24 * 3600}
	if err := c.QueryParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	records, err := a.archive.GetData(req.Age, req.Scheduled)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not read watering history")
	}

	out := make([]historyRecord, 0, len(records))
	for _, r := range records {
		out = append(out, historyRecord{
			Zone:              r.Zone,
			Start:             r.Start,
			Stop:              r.Stop,
			WeatherAdjustment: r.WeatherAdjustment,
			Scheduled:         r.Scheduled(),
		})
	}
	return c.JSON(fiber.Map{"records": out})
}

type manualRunRequest struct {
	// Minutes of run time; zero leaves the zone on until turned off.
	Minutes       float64 `json:"minutes" validate:"gte=0,lte=720"`
	WeatherScaled bool    `json:"weatherScaled"`
}

func (a *api) zoneOn(c *fiber.Ctx) error {
	zone, z, err := a.zoneParam(c)
	if err != nil {
		return err
	}

	req := manualRunRequest{}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if z.IsActive() {
		return fiber.NewError(fiber.StatusConflict, "zone is already running")
	}

	duration, adj := a.runDuration(c, req)

	// Activate first: a failed activation must leave no record behind.
	if err := z.On(); err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	if err := a.archive.WriteData(time.Now().Unix(), zone, "on", &adj); err != nil {
		if offErr := z.Off(); offErr != nil {
			log.Error("could not roll back zone start", "zone", zone, "err", offErr)
		}
		if errors.Is(err, archive.ErrOpenRun) {
			return fiber.NewError(fiber.StatusConflict, "zone already has an open run")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "could not record the run")
	}
	if duration > 0 {
		time.AfterFunc(duration, func() {
			if err := z.Off(); err != nil {
				log.Error("could not stop zone after manual run", "zone", zone, "err", err)
			}
			if err := a.archive.WriteData(time.Now().Unix(), zone, "off", nil); err != nil {
				log.Error("could not record manual run end", "zone", zone, "err", err)
			}
			log.Info("manual run finished", "zone", zone, "duration", duration)
		})
	}

	log.Info("manual run started", "zone", zone, "duration", duration)
	return c.JSON(fiber.Map{"zone": zone, "active": true, "duration": duration.String()})
}

// runDuration resolves the requested run time and the adjustment to record:
// a plain manual run carries the manual sentinel, a weather-scaled run
// carries the applied 0..2 factor. Hotter and drier runs longer, recent
// rain shortens or cancels.
func (a *api) runDuration(c *fiber.Ctx, req manualRunRequest) (time.Duration, float64) {
	adj := archive.AdjustmentManual
	if req.Minutes <= 0 {
		return 0, adj
	}
	factor := 1.0
	if req.WeatherScaled {
		w := a.cfg.Weather()
		if w.Enabled {
			f, err := a.gateway.Adjustment(c.Context(), weather.Station{
				ID:  w.StationID,
				Lat: w.Latitude,
				Lon: w.Longitude,
			})
			if err != nil {
				log.Warn("could not fetch weather adjustment, running unscaled", "err", err)
			} else {
				factor = f
				adj = f
			}
		}
	}
	return time.Duration(req.Minutes * factor * float64(time.Minute)), adj
}

func (a *api) zoneOff(c *fiber.Ctx) error {
	zone, z, err := a.zoneParam(c)
	if err != nil {
		return err
	}

	// Always close the valve, even if the bookkeeping is out of step.
	if err := z.Off(); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if err := a.archive.WriteData(time.Now().Unix(), zone, "off", nil); err != nil {
		if errors.Is(err, archive.ErrNoOpenRun) {
			return fiber.NewError(fiber.StatusConflict, "zone has no open run")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "could not record the stop")
	}
	log.Info("manual stop", "zone", zone)
	return c.JSON(fiber.Map{"zone": zone, "active": false})
}

func (a *api) getConfig(c *fiber.Ctx) error {
	return c.JSON(a.cfg.AsMap())
}

func (a *api) putConfig(c *fiber.Ctx) error {
	var values map[string]string
	if err := c.BodyParser(&values); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := a.cfg.FromMap(values); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	// Pin and topic changes only take effect on the next start.
	return c.JSON(a.cfg.AsMap())
}

func (a *api) zoneParam(c *fiber.Ctx) (int, *sprinkler.Zone, error) {
	zone, err := c.ParamsInt("zone")
	if err != nil || zone < 1 || zone > len(a.zones) {
		return 0, nil, fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("no such zone: %s", c.Params("zone")))
	}
	return zone, a.zones[zone-1], nil
}
