/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the capacity service. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (-config file + environment)
  2. Set up the logger for the environment
  3. Open the SQLite store and seed holidays on first start
  4. Create the upstream client, metrics registry and session registry
  5. Configure the HTTP router and start the session reaper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to the YAML config file (default: $CAPACITY_CONFIG or
           ./config/local.yaml). Empty reads the environment only.

HOLIDAY SEEDING:
  When the holidays table is empty, it is filled from holidays_file if
  configured, else from the built-in national holidays for the current
  and next year.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete
  3. Stop the reaper and close every session (cancels in-flight cycles)
  4. Close database connection

SEE ALSO:
  - config/config.go: Configuration
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/warp/capacity-engine/api"
	"github.com/warp/capacity-engine/backend"
	"github.com/warp/capacity-engine/capacity"
	"github.com/warp/capacity-engine/config"
	"github.com/warp/capacity-engine/generic"
	"github.com/warp/capacity-engine/store/sqlite"
)

func main() {
	defaultConfig := os.Getenv("CAPACITY_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "./config/local.yaml"
	}
	configPath := flag.String("config", defaultConfig, "path to the YAML config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	log := setupLogger(cfg.Env)

	// Initialize store
	if cfg.Storage.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			log.Error("failed to create storage directory", slog.Any("error", err))
			os.Exit(1)
		}
	}
	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		log.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	if err := seedHolidays(context.Background(), store, cfg.HolidaysFile, log); err != nil {
		log.Warn("holiday seeding failed", slog.Any("error", err))
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := capacity.NewMetrics(reg)

	// Sessions
	client := backend.New(cfg.Backend.BaseURL,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		backend.WithPageSize(cfg.Backend.PageSize),
		backend.WithLogger(log),
	)
	sessionCfg := capacity.SessionConfig{
		Loader: capacity.LoaderConfig{
			BatchSize:   cfg.Backend.BatchSize,
			Concurrency: cfg.Backend.Concurrency,
			Timeout:     cfg.Backend.Timeout,
		},
		Pipeline: capacity.PipelineConfig{
			OptionsDebounce: cfg.Pipeline.OptionsDebounce,
			ReloadDebounce:  cfg.Pipeline.ReloadDebounce,
		},
	}
	deps := capacity.SessionDeps{Holidays: store, Cycles: store, Logger: log, Metrics: metrics}
	registry := api.NewSessionRegistry(func(cookie string) *capacity.Session {
		return capacity.NewSession(client.WithCookie(cookie), deps, sessionCfg)
	})

	reaper := api.NewSessionReaper(registry, cfg.Sessions.IdleTTL, cfg.Sessions.SweepInterval, log)
	reaper.Start()

	// Router
	handler := api.NewHandler(store, store, registry, log)
	handler.DB = store
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.HTTPServer.AllowedOrigins,
		Gatherer:       reg,
	})

	server := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("server started",
			slog.String("address", cfg.HTTPServer.Address),
			slog.String("backend", cfg.Backend.BaseURL),
			slog.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.Any("error", err))
	}
	reaper.Stop()
	registry.CloseAll()

	log.Info("server stopped")
}

func setupLogger(env string) *slog.Logger {
	var handler slog.Handler
	switch env {
	case config.EnvDev:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	case config.EnvProd:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler)
}

// seedHolidays fills an empty holidays table.
func seedHolidays(ctx context.Context, store generic.HolidayStore, file string, log *slog.Logger) error {
	existing, err := store.ListHolidays(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	var holidays []generic.Holiday
	source := "built-in"
	if file != "" {
		holidays, err = config.LoadHolidayFile(file)
		if err != nil {
			return err
		}
		source = file
	} else {
		year := time.Now().Year()
		holidays = config.DefaultHolidays(year, year+1)
	}

	for _, h := range holidays {
		if err := store.SaveHoliday(ctx, h); err != nil {
			return err
		}
	}
	log.Info("holidays seeded", slog.Int("count", len(holidays)), slog.String("source", source))
	return nil
}
