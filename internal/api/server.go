// Package api serves the reporting REST API, the dashboard JSON endpoints,
// chart images and the HTML dashboard over the record history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/camera"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/csvlog"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/dataset"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/report"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

// Name and Version are reported by GET /api.
const (
	Name    = "Hailo AI People Counter API"
	Version = "1.0.0"
)

// Config defines the runtime configuration for the reporting server.
type Config struct {
	Addr       string
	CSVPath    string            // inspected by /api/debug/csv
	APIBaseURL string            // when set, /api/people-data proxies this API
	AssetsDirs []string          // searched in order for /assets/
	Timelapse  *camera.Timelapse // nil when no camera is attached
}

// Server serves the reporting endpoints.
type Server struct {
	cfg    Config
	source dataset.Source
	client *http.Client
	now    func() time.Time
}

// NewServer returns a reporting server over source.
func NewServer(cfg Config, source dataset.Source) *Server {
	return &Server{
		cfg:    cfg,
		source: source,
		client: &http.Client{Timeout: 5 * time.Second},
		now:    time.Now,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/assets/", http.StripPrefix("/assets/", newAssetHandler(s.cfg.AssetsDirs...)))
	mux.HandleFunc("/api", s.handleInfo)
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/data", s.handleData)
	mux.HandleFunc("/data/latest", s.handleLatest)
	mux.HandleFunc("/data/summary", s.handleSummary)
	mux.HandleFunc("/data/hourly", s.handleHourly)
	mux.HandleFunc("/data/daily", s.handleDaily)
	mux.HandleFunc("/data/current", s.handleCurrent)

	mux.HandleFunc("/api/data", s.handleDashboardData)
	mux.HandleFunc("/api/debug/csv", s.handleDebugCSV)
	mux.HandleFunc("/api/chart/", s.handleChart)
	mux.HandleFunc("/charts/", s.handleChartPNG)
	mux.HandleFunc("/api/people-data", s.handlePeopleData)

	mux.HandleFunc("/api/timelapse", s.handleTimelapse)
	mux.HandleFunc("/api/timelapse/start", s.handleTimelapseStart)
	mux.HandleFunc("/api/timelapse/stop", s.handleTimelapseStop)
	mux.HandleFunc("/api/camera/status", s.handleCameraStatus)
	mux.HandleFunc("/api/camera/frame", s.handleCameraFrame)

	return recoverer(mux)
}

// HTTPServer wraps Handler in an *http.Server bound to cfg.Addr.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.Std("API", logger.WARN),
	}
}

// recoverer turns a handler panic into the generic 500 response.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("API", "Panic serving %s: %v\n%s", r.URL.Path, v, debug.Stack())
				writeError(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Endpoint not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"api_name":    Name,
		"version":     Version,
		"description": "RESTful API for accessing people counter data",
		"endpoints": map[string]string{
			"GET /api":               "API information",
			"GET /data":              "All logged records (limit, offset)",
			"GET /data/latest":       "Latest record",
			"GET /data/summary":      "Summary statistics",
			"GET /data/hourly":       "Hourly aggregated data (hours)",
			"GET /data/daily":        "Daily aggregated data (days)",
			"GET /data/current":      "Current time period data",
			"GET /api/data":          "Dashboard statistics",
			"GET /api/debug/csv":     "CSV log structure",
			"GET /api/chart/{name}":  "Chart series",
			"GET /charts/{name}.png": "Chart image",
			"GET /api/people-data":   "Combined current, hourly and summary data",
			"GET /api/timelapse":     "Timelapse frames",
			"GET /api/camera/status": "Camera status",
			"GET /api/camera/frame":  "Current camera frame",
		},
		"data_source": s.source.Name(),
		"csv_file":    s.cfg.CSVPath,
		"timestamp":   report.Time(s.now()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":      "ok",
		"data_source": s.source.Name(),
		"timestamp":   report.Time(s.now()),
	}
	records, err := s.source.Records(r.Context())
	if err != nil {
		payload["status"] = "degraded"
		payload["error"] = err.Error()
	} else {
		payload["records"] = len(records)
	}
	writeJSON(w, payload)
}

// records loads the history. A missing log reads as empty.
func (s *Server) records(ctx context.Context) ([]types.Record, error) {
	records, err := s.source.Records(ctx)
	if errors.Is(err, csvlog.ErrNotFound) {
		return nil, nil
	}
	return records, err
}

// withRecords loads the history and writes the load error, if any. It
// reports whether the handler should continue.
func (s *Server) withRecords(w http.ResponseWriter, r *http.Request) ([]types.Record, bool) {
	records, err := s.records(r.Context())
	if err != nil {
		logger.Error("API", "Failed to load records from %s: %v", s.source.Name(), err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return records, true
}

// intParam parses a query integer, falling back to def when absent or
// malformed.
func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSONWithStatus(w, map[string]string{"error": msg}, status)
}
