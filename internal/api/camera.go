package api

import (
	"errors"
	"net/http"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/camera"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/report"
)

func (s *Server) handleTimelapse(w http.ResponseWriter, r *http.Request) {
	frames := []camera.Frame{}
	if s.cfg.Timelapse != nil {
		frames = s.cfg.Timelapse.Frames()
	}
	writeJSON(w, map[string]any{
		"frames":    frames,
		"count":     len(frames),
		"timestamp": report.Time(s.now()),
	})
}

func (s *Server) handleTimelapseStart(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Timelapse != nil {
		s.cfg.Timelapse.Start()
	}
	writeJSON(w, map[string]string{"status": "started", "message": "Timelapse started"})
}

func (s *Server) handleTimelapseStop(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Timelapse != nil {
		s.cfg.Timelapse.Stop()
	}
	writeJSON(w, map[string]string{"status": "stopped", "message": "Timelapse stopped"})
}

func (s *Server) handleCameraStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Timelapse == nil {
		writeJSON(w, map[string]string{"status": "not_initialized"})
		return
	}
	opened := s.cfg.Timelapse.Opened()
	status := "disconnected"
	if opened {
		status = "connected"
	}
	writeJSON(w, map[string]any{"status": status, "opened": opened})
}

func (s *Server) handleCameraFrame(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Timelapse == nil {
		writeError(w, "No frame available", http.StatusNotFound)
		return
	}
	f, err := s.cfg.Timelapse.Snapshot()
	if err != nil {
		if !errors.Is(err, camera.ErrNoFrame) {
			logger.Warn("API", "Camera capture failed: %v", err)
		}
		writeError(w, "No frame available", http.StatusNotFound)
		return
	}
	writeJSON(w, f)
}
