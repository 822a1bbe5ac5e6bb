package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/run"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/api"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/camera"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/config"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/dataset"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/store"
)

func main() {
	configPath := config.PathFromArgs(os.Args[1:])
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var assets string
	flag.StringVar(&configPath, "config", configPath, "YAML config file")
	flag.StringVar(&cfg.CSVPath, "csv", cfg.CSVPath, "CSV log path")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite mirror path")
	flag.StringVar(&cfg.Dashboard.Source, "source", cfg.Dashboard.Source, "Record source (csv, sqlite)")
	flag.StringVar(&cfg.Dashboard.Addr, "http", cfg.Dashboard.Addr, "HTTP server address")
	flag.StringVar(&cfg.Dashboard.APIBaseURL, "api-base", cfg.Dashboard.APIBaseURL, "Proxy /api/people-data to this API (empty serves locally)")
	flag.StringVar(&assets, "assets", "", "Static asset directories (comma-separated)")
	flag.IntVar(&cfg.Dashboard.Camera, "camera", cfg.Dashboard.Camera, "Camera index for the timelapse (negative disables)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&cfg.LogColor, "log-color", cfg.LogColor, "Enable colored log output")
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	var g run.Group
	g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	var src dataset.Source
	switch cfg.Dashboard.Source {
	case config.SourceSQLite:
		db, err := store.Open(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		defer db.Close()
		src = dataset.StoreSource{DB: db}
	default:
		csvSrc := dataset.NewCSVSource(cfg.CSVPath)
		src = csvSrc
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			if err := csvSrc.Watch(ctx); err != nil {
				// Without the watcher the cache still reloads on mtime change.
				logger.Warn("Main", "File watch disabled: %v", err)
				<-ctx.Done()
			}
			return nil
		}, func(error) {
			cancel()
		})
	}

	var timelapse *camera.Timelapse
	if cfg.Dashboard.Camera >= 0 {
		dev, err := camera.Open(cfg.Dashboard.Camera)
		if err != nil {
			logger.Warn("Main", "Camera disabled: %v", err)
		} else {
			defer dev.Close()
			timelapse = camera.NewTimelapse(dev, camera.Config{})
			timelapse.Start()
			ctx, cancel := context.WithCancel(context.Background())
			g.Add(func() error {
				return timelapse.Run(ctx)
			}, func(error) {
				cancel()
			})
			logger.Info("Main", "Camera %d initialized, timelapse started", cfg.Dashboard.Camera)
		}
	}

	server := api.NewServer(api.Config{
		Addr:       cfg.Dashboard.Addr,
		CSVPath:    cfg.CSVPath,
		APIBaseURL: cfg.Dashboard.APIBaseURL,
		AssetsDirs: splitList(assets),
		Timelapse:  timelapse,
	}, src)
	httpServer := server.HTTPServer()

	logger.Info("Main", "Dashboard listening on %s", cfg.Dashboard.Addr)
	logger.Info("Main", "Data source: %s", src.Name())
	logger.Info("Main", "Log level: %s", level)

	g.Add(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	})

	if err := g.Run(); err != nil {
		var sig run.SignalError
		if errors.As(err, &sig) {
			logger.Info("Main", "Received %v, stopped", sig.Signal)
			return
		}
		log.Fatalf("server error: %v", err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
