package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	logp "github.com/charmbracelet/log"
	"github.com/go-co-op/gocron"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pi2go/sprinklerd/archive"
	"github.com/pi2go/sprinklerd/config"
	"github.com/pi2go/sprinklerd/ratelimit"
	"github.com/pi2go/sprinklerd/scheduler"
	"github.com/pi2go/sprinklerd/weather"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "sprinklerd",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	log.Info("sprinklerd", "version", version, "commit", commit, "date", date)

	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded", "err", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(
			"could not parse env",
			"err",
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: ")+"\n",
		)
	}

	settings, err := config.Load(cfg.Settings)
	if err != nil {
		log.Fatal("could not load settings", "path", cfg.Settings, "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zones, err := buildZones(ctx, cfg, settings.Zones())
	if err != nil {
		log.Fatal("could not set up zones", "err", err)
	}

	arch := archive.New(cfg.Database)
	if err := arch.Start(); err != nil {
		log.Fatal("could not open the watering archive", "path", cfg.Database, "err", err)
	}
	defer arch.Stop()

	ws := settings.Weather()
	gateway := weather.NewGateway(
		weather.NewOpenWeather(ws.APIKey),
		ratelimit.New(ws.RequestsPerMinute),
		ws.CacheTTL,
	)

	engineZones := make([]scheduler.Zone, len(zones))
	for i, z := range zones {
		engineZones[i] = z
	}
	engine := scheduler.New(settings, engineZones, arch, gateway)
	engine.Start()
	defer engine.Stop()

	cron := gocron.NewScheduler(time.Local)
	if _, err := cron.Every(1).Day().At(cfg.PruneAt).Do(func() {
		n, err := arch.Prune(cfg.Retention)
		if err != nil {
			log.Error("could not prune the archive", "err", err)
			return
		}
		log.Info("pruned the archive", "removed", n, "retention", cfg.Retention)
	}); err != nil {
		log.Fatal("could not schedule archive pruning", "err", err)
	}
	cron.StartAsync()
	defer cron.Stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener failed", "err", err)
		}
	}()

	app := fiber.New(fiber.Config{
		AppName:               "sprinklerd",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})
	app.Use(recover.New())
	app.Use(func(c *fiber.Ctx) error {
		requestCounter.Inc()
		err := c.Next()
		if err != nil || c.Response().StatusCode() >= fiber.StatusInternalServerError {
			requestErrorCounter.Inc()
		}
		return err
	})
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	srv := &api{cfg: settings, zones: zones, archive: arch, gateway: gateway}
	srv.register(app)

	go func() {
		log.Info("starting api", "addr", cfg.Listen)
		if err := app.Listen(cfg.Listen); err != nil {
			log.Error("api server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("could not shut down the api cleanly", "err", err)
	}

	engine.Stop()
	for _, z := range zones {
		if err := z.Off(); err != nil {
			log.Error("could not stop zone", "zone", z.Name(), "err", err)
		}
	}
}
