package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/report"
)

const noDataMessage = "No data available"

// writeReportError maps report errors to the API's 404 responses.
func writeReportError(w http.ResponseWriter, err error, noData string) {
	switch {
	case errors.Is(err, report.ErrNoData):
		writeError(w, noData, http.StatusNotFound)
	case errors.Is(err, report.ErrInsufficientData):
		writeError(w, "Insufficient data for heatmap (need at least 2 records)", http.StatusNotFound)
	default:
		logger.Error("API", "Report failed: %v", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	records, ok := s.withRecords(w, r)
	if !ok {
		return
	}
	if len(records) == 0 {
		writeError(w, noDataMessage, http.StatusNotFound)
		return
	}

	page := report.Page(records, intParam(r, "limit", 0), intParam(r, "offset", 0))
	writeJSON(w, map[string]any{
		"data":          report.Rows(page),
		"total_records": len(page),
		"timestamp":     report.Time(s.now()),
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	records, ok := s.withRecords(w, r)
	if !ok {
		return
	}
	latest, err := report.Latest(records)
	if err != nil {
		writeReportError(w, err, noDataMessage)
		return
	}
	writeJSON(w, map[string]any{
		"latest_data": report.RowOf(latest),
		"timestamp":   report.Time(s.now()),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	records, ok := s.withRecords(w, r)
	if !ok {
		return
	}
	summary, err := report.Summarize(records)
	if err != nil {
		writeReportError(w, err, noDataMessage)
		return
	}
	writeJSON(w, map[string]any{
		"summary":   summary,
		"timestamp": report.Time(s.now()),
	})
}

func (s *Server) handleHourly(w http.ResponseWriter, r *http.Request) {
	records, ok := s.withRecords(w, r)
	if !ok {
		return
	}
	if len(records) == 0 {
		writeError(w, noDataMessage, http.StatusNotFound)
		return
	}

	hours := intParam(r, "hours", 24)
	hourly, err := report.Hourly(records, s.now(), hours)
	if err != nil {
		writeReportError(w, err, fmt.Sprintf("No data available for the last %d hours", hours))
		return
	}
	writeJSON(w, map[string]any{
		"hourly_data":    hourly,
		"hours_analyzed": hours,
		"timestamp":      report.Time(s.now()),
	})
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	records, ok := s.withRecords(w, r)
	if !ok {
		return
	}
	if len(records) == 0 {
		writeError(w, noDataMessage, http.StatusNotFound)
		return
	}

	days := intParam(r, "days", 7)
	daily, err := report.Daily(records, s.now(), days)
	if err != nil {
		writeReportError(w, err, fmt.Sprintf("No data available for the last %d days", days))
		return
	}
	writeJSON(w, map[string]any{
		"daily_data":    daily,
		"days_analyzed": days,
		"timestamp":     report.Time(s.now()),
	})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	records, ok := s.withRecords(w, r)
	if !ok {
		return
	}
	current, err := report.CurrentData(records, s.now())
	if err != nil {
		writeReportError(w, err, noDataMessage)
		return
	}
	writeJSON(w, map[string]any{
		"current_data": current,
		"timestamp":    report.Time(s.now()),
	})
}
