// Package live is the counter daemon's HTTP surface: health, the current
// counts, an SSE stream of count updates, HTTP detection ingest and the
// WebRTC signalling endpoint.
package live

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/counter"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/ingest"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/webrtc"
)

// MaxBodyBytes bounds detection and offer request bodies.
const MaxBodyBytes = 1 << 20

// Config defines the runtime configuration for the live server.
type Config struct {
	Addr        string
	AllowOrigin string // empty sends no CORS header
}

// Server serves the live endpoints.
type Server struct {
	cfg         Config
	counter     *counter.Counter
	broadcaster *Broadcaster
	queue       *ingest.Queue
	rtc         *webrtc.Server
	metrics     *metrics.Metrics
	started     time.Time
}

// Option configures optional collaborators.
type Option func(*Server)

// WithQueue enables POST /api/detections.
func WithQueue(q *ingest.Queue) Option { return func(s *Server) { s.queue = q } }

// WithWebRTC enables POST /api/webrtc/offer.
func WithWebRTC(rtc *webrtc.Server) Option { return func(s *Server) { s.rtc = rtc } }

// WithMetrics reports ingest errors to m.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

// NewServer returns a configured live server.
func NewServer(cfg Config, c *counter.Counter, b *Broadcaster, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		counter:     c,
		broadcaster: b,
		started:     time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/counts", s.handleCounts)
	mux.HandleFunc("/api/counts/stream", s.handleCountsStream)
	mux.HandleFunc("/api/detections", s.handleDetections)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	return s.cors(mux)
}

// HTTPServer wraps Handler in an *http.Server bound to cfg.Addr.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.Std("Live", logger.WARN),
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	if s.cfg.AllowOrigin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.counter.Snapshot()
	payload := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"frames":         snap.Frames,
		"total_unique":   snap.TotalUniquePeople,
		"sse_clients":    s.broadcaster.ClientCount(),
		"timestamp":      float64(time.Now().Unix()),
	}
	if s.queue != nil {
		payload["frames_dropped"] = s.queue.Dropped()
	}
	if s.rtc != nil {
		payload["webrtc_clients"] = s.rtc.ClientCount()
	}
	writeJSON(w, payload)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, CountsEvent{Type: EventType, Snapshot: s.counter.Snapshot()})
}

func (s *Server) handleCountsStream(w http.ResponseWriter, r *http.Request) {
	// The first event is queued atomically with the subscription so no update
	// is lost or repeated between the initial snapshot and the stream.
	id, eventCh := s.broadcaster.SubscribeWith(s.counter.Snapshot)
	defer s.broadcaster.Unsubscribe(id)

	streamEvents(r.Context(), w, eventCh, wantsProtobuf(r))
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.queue == nil {
		writeJSONWithStatus(w, map[string]any{"error": "HTTP ingest is disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid detection data"}, http.StatusBadRequest)
		return
	}
	messages, err := decodeMessages(body)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IngestErrors.Add(1)
		}
		logger.Warn("Live", "Rejected detection post from %s: %v", r.RemoteAddr, err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	accepted, dropped := 0, 0
	for _, m := range messages {
		f := m.Frame()
		if f.Source == "" {
			f.Source = "http"
		}
		if s.queue.Push(f) {
			accepted++
		} else {
			dropped++
		}
	}
	writeJSONWithStatus(w, map[string]any{
		"accepted": accepted,
		"dropped":  dropped,
	}, http.StatusAccepted)
}

// decodeMessages accepts a single frame object or an array of frames.
func decodeMessages(body []byte) ([]ingest.Message, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if body[0] == '[' {
		var ms []ingest.Message
		if err := json.Unmarshal(body, &ms); err != nil {
			return nil, fmt.Errorf("invalid frame batch: %w", err)
		}
		return ms, nil
	}
	var m ingest.Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	return []ingest.Message{m}, nil
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.rtc == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.rtc.HandleOffer(body)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, webrtc.ErrTooManyClients) {
			status = http.StatusServiceUnavailable
		}
		logger.Warn("Live", "WebRTC offer from %s failed: %v", r.RemoteAddr, err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
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
