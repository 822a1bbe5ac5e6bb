package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/charts"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/csvlog"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/report"
)

// debugRows is how many raw and parsed rows /api/debug/csv shows.
const debugRows = 3

func (s *Server) handleDashboardData(w http.ResponseWriter, r *http.Request) {
	records, ok := s.withRecords(w, r)
	if !ok {
		return
	}
	stats, err := report.Dashboard(records)
	if err != nil {
		writeReportError(w, err, noDataMessage)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleDebugCSV(w http.ResponseWriter, r *http.Request) {
	if s.cfg.CSVPath == "" {
		writeError(w, "CSV log is not configured", http.StatusNotFound)
		return
	}
	in, err := csvlog.Inspect(s.cfg.CSVPath, debugRows)
	if err != nil {
		writeError(w, fmt.Sprintf("Debug error: %v", err), http.StatusInternalServerError)
		return
	}
	if !in.FileExists {
		writeError(w, "CSV file not found: "+s.cfg.CSVPath, http.StatusNotFound)
		return
	}
	writeJSON(w, in)
}

// handleChart serves /api/chart/{name} as a Plotly figure.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/chart/")
	records, ok := s.withRecords(w, r)
	if !ok {
		return
	}
	fig, err := BuildFigure(name, records)
	if errors.Is(err, charts.ErrUnknownChart) {
		writeError(w, "Endpoint not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeReportError(w, err, noDataMessage)
		return
	}
	writeJSON(w, fig)
}

// handleChartPNG serves /charts/{name}.png rendered from the current records.
func (s *Server) handleChartPNG(w http.ResponseWriter, r *http.Request) {
	file := strings.TrimPrefix(r.URL.Path, "/charts/")
	name, isPNG := strings.CutSuffix(file, ".png")
	if !isPNG {
		writeError(w, "Endpoint not found", http.StatusNotFound)
		return
	}
	records, ok := s.withRecords(w, r)
	if !ok {
		return
	}
	img, err := charts.Render(name, records)
	if errors.Is(err, charts.ErrUnknownChart) {
		writeError(w, "Endpoint not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeReportError(w, err, noDataMessage)
		return
	}

	var buf bytes.Buffer
	if err := charts.WritePNG(&buf, img); err != nil {
		logger.Error("API", "Failed to encode %s chart: %v", name, err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(buf.Bytes())
}

// peopleData is the /api/people-data payload.
type peopleData struct {
	Current   any         `json:"current"`
	Hourly    any         `json:"hourly"`
	Summary   any         `json:"summary"`
	Timestamp report.Time `json:"timestamp"`
}

func (s *Server) handlePeopleData(w http.ResponseWriter, r *http.Request) {
	if s.cfg.APIBaseURL != "" {
		out, err := s.remotePeopleData(r.Context())
		if err != nil {
			logger.Warn("API", "People data proxy to %s failed: %v", s.cfg.APIBaseURL, err)
			writeError(w, fmt.Sprintf("API connection error: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, out)
		return
	}

	records, ok := s.withRecords(w, r)
	if !ok {
		return
	}
	now := s.now()
	out := peopleData{
		Current:   map[string]any{},
		Hourly:    []any{},
		Summary:   map[string]any{},
		Timestamp: report.Time(now),
	}
	if cur, err := report.CurrentData(records, now); err == nil {
		out.Current = cur
	}
	if hourly, err := report.Hourly(records, now, 24); err == nil {
		out.Hourly = hourly
	}
	if summary, err := report.Summarize(records); err == nil {
		out.Summary = summary
	}
	writeJSON(w, out)
}

// remotePeopleData gathers the three views from another instance of this
// API. Non-200 responses yield empty sections; transport errors fail.
func (s *Server) remotePeopleData(ctx context.Context) (peopleData, error) {
	base := strings.TrimRight(s.cfg.APIBaseURL, "/")
	out := peopleData{
		Current:   map[string]any{},
		Hourly:    []any{},
		Summary:   map[string]any{},
		Timestamp: report.Time(s.now()),
	}

	sections := []struct {
		path string
		key  string
		dst  *any
	}{
		{"/data/current", "current_data", &out.Current},
		{"/data/hourly?hours=24", "hourly_data", &out.Hourly},
		{"/data/summary", "summary", &out.Summary},
	}
	for _, sec := range sections {
		body, err := s.fetch(ctx, base+sec.path)
		if err != nil {
			return peopleData{}, err
		}
		if v, ok := body[sec.key]; ok {
			*sec.dst = v
		}
	}
	return out, nil
}

// fetch GETs url and decodes a JSON object. A non-200 status yields nil.
func (s *Server) fetch(ctx context.Context, url string) (map[string]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid response from %s: %w", url, err)
	}
	return body, nil
}
