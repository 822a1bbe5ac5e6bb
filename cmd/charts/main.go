package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/charts"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/config"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/dataset"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/report"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/store"
)

func main() {
	configPath := config.PathFromArgs(os.Args[1:])
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	flag.StringVar(&configPath, "config", configPath, "YAML config file")
	flag.StringVar(&cfg.CSVPath, "csv", cfg.CSVPath, "CSV log path")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Read the SQLite mirror instead of the CSV log")
	flag.StringVar(&cfg.Dashboard.ChartsDir, "out", cfg.Dashboard.ChartsDir, "Output directory")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&cfg.LogColor, "log-color", cfg.LogColor, "Enable colored log output")
	flag.Parse()

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	var src dataset.Source = dataset.NewCSVSource(cfg.CSVPath)
	if cfg.DBPath != "" {
		db, err := store.Open(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		defer db.Close()
		src = dataset.StoreSource{DB: db}
	}

	records, err := src.Records(context.Background())
	if err != nil {
		log.Fatalf("Failed to load records from %s: %v", src.Name(), err)
	}
	if len(records) == 0 {
		log.Fatalf("No data available in %s", src.Name())
	}
	logger.Info("Main", "Loaded %d records from %s", len(records), src.Name())

	written, err := charts.RenderAll(cfg.Dashboard.ChartsDir, records)
	if err != nil {
		log.Fatalf("Failed to generate charts: %v", err)
	}
	logger.Info("Main", "Wrote %d charts to %s", len(written), cfg.Dashboard.ChartsDir)

	stats, err := report.Statistics(records)
	if err != nil {
		log.Fatalf("Failed to compute statistics: %v", err)
	}
	printStatistics(os.Stdout, stats)
}

func printStatistics(w io.Writer, s report.Stats) {
	rows := []struct {
		label string
		value any
	}{
		{"Total Records", s.TotalRecords},
		{"Date Range", s.DateRange},
		{"Total Unique People", s.TotalUniquePeople},
		{"Max People (1 minute)", s.MaxPeopleMinute},
		{"Max People (1 hour)", s.MaxPeopleHour},
		{"Max People (1 day)", s.MaxPeopleDay},
		{"Avg People per Minute", fmt.Sprintf("%.2f", s.AvgPeoplePerMinute)},
		{"Avg People per Hour", fmt.Sprintf("%.2f", s.AvgPeoplePerHour)},
		{"Peak Hour", fmt.Sprintf("%02d:00", s.PeakHour)},
		{"Total Detections", s.TotalDetections},
	}
	line := strings.Repeat("=", 60)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "SUMMARY STATISTICS")
	fmt.Fprintln(w, line)
	for _, r := range rows {
		fmt.Fprintf(w, "%-25s: %v\n", r.label, r.value)
	}
	fmt.Fprintln(w, line)
}
