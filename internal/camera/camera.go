// Package camera captures JPEG frames from a local camera and keeps a rolling
// timelapse of them for the dashboard.
package camera

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/report"
)

// Defaults match ten minutes of history at one frame every two seconds.
const (
	DefaultInterval = 2 * time.Second
	DefaultCapacity = 300
)

var (
	// ErrUnavailable is returned by Open when the binary was built without
	// camera support.
	ErrUnavailable = errors.New("camera support not built in (build with -tags gocv)")
	// ErrNoFrame means the device returned no image.
	ErrNoFrame = errors.New("no frame available")
)

// Capturer grabs single JPEG-encoded frames.
type Capturer interface {
	Capture() ([]byte, error)
	Opened() bool
	Close() error
}

// Frame is one captured image, base64 encoded.
type Frame struct {
	Timestamp report.Time `json:"timestamp"`
	Frame     string      `json:"frame"`
}

// Config tunes a Timelapse.
type Config struct {
	Interval time.Duration
	Capacity int
	Now      func() time.Time
}

// Timelapse records a frame every interval while running and keeps the most
// recent Capacity frames.
type Timelapse struct {
	cam      Capturer
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	ring    []Frame
	next    int
	full    bool
	running bool
}

// NewTimelapse returns a stopped timelapse over cam.
func NewTimelapse(cam Capturer, cfg Config) *Timelapse {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Timelapse{
		cam:      cam,
		interval: cfg.Interval,
		now:      cfg.Now,
		ring:     make([]Frame, cfg.Capacity),
	}
}

// Start resumes capturing on the next tick.
func (t *Timelapse) Start() {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
}

// Stop pauses capturing. Frames already taken are kept.
func (t *Timelapse) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

// Running reports whether frames are being captured.
func (t *Timelapse) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Opened reports whether the underlying device is open.
func (t *Timelapse) Opened() bool {
	return t.cam.Opened()
}

// Snapshot captures a frame now without adding it to the timelapse.
func (t *Timelapse) Snapshot() (Frame, error) {
	jpg, err := t.cam.Capture()
	if err != nil {
		return Frame{}, err
	}
	if len(jpg) == 0 {
		return Frame{}, ErrNoFrame
	}
	return Frame{
		Timestamp: report.Time(t.now()),
		Frame:     base64.StdEncoding.EncodeToString(jpg),
	}, nil
}

// Frames returns the kept frames, oldest first.
func (t *Timelapse) Frames() []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]Frame(nil), t.ring[:t.next]...)
	}
	out := make([]Frame, 0, len(t.ring))
	out = append(out, t.ring[t.next:]...)
	return append(out, t.ring[:t.next]...)
}

// Tick captures one frame if running. Capture failures are logged and
// skipped.
func (t *Timelapse) Tick() {
	if !t.Running() {
		return
	}
	f, err := t.Snapshot()
	if err != nil {
		logger.Debug("Camera", "Capture skipped: %v", err)
		return
	}
	t.mu.Lock()
	t.ring[t.next] = f
	t.next++
	if t.next == len(t.ring) {
		t.next = 0
		t.full = true
	}
	t.mu.Unlock()
}

// Run ticks every interval until ctx is done.
func (t *Timelapse) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Tick()
		}
	}
}
