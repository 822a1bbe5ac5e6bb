// Package counter deduplicates person detections by tracker ID and rolls
// them into minute, hour, day and lifetime unique counts.
package counter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

// Sink receives every count record the counter produces.
type Sink interface {
	Append(types.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(types.Record) error

// Append implements Sink.
func (f SinkFunc) Append(r types.Record) error { return f(r) }

// Config controls which detections are counted.
type Config struct {
	Label         string
	MinConfidence float64
	DebugInterval time.Duration
	Now           func() time.Time
}

// Snapshot is a point-in-time view of the counts.
type Snapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	Minute            int64     `json:"minute"`
	Hour              int64     `json:"hour"`
	Day               int64     `json:"day"`
	PeopleThisMinute  int       `json:"people_this_minute"`
	PeopleThisHour    int       `json:"people_this_hour"`
	PeopleThisDay     int       `json:"people_this_day"`
	TotalUniquePeople int       `json:"total_unique_people"`
	Frames            uint64    `json:"frames"`
	LastLog           time.Time `json:"last_log"`
}

// Result describes what one frame changed.
type Result struct {
	FramePeople int
	NewIDs      []int64
	Untracked   int
	Rolled      bool
	Snapshot    Snapshot
}

// NewPerson is passed to the new-person hook.
type NewPerson struct {
	TrackID    int64
	Label      string
	Confidence float64
	Snapshot   Snapshot
}

// Option configures a Counter.
type Option func(*Counter)

// WithSinks appends record sinks, called in order.
func WithSinks(sinks ...Sink) Option {
	return func(c *Counter) { c.sinks = append(c.sinks, sinks...) }
}

// WithMetrics reports counts to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Counter) { c.metrics = m }
}

// WithNewPersonHook calls fn for every track ID seen for the first time.
func WithNewPersonHook(fn func(NewPerson)) Option {
	return func(c *Counter) { c.onNew = fn }
}

// WithSnapshotHook calls fn after every frame and tick that changed counts.
func WithSnapshotHook(fn func(Snapshot)) Option {
	return func(c *Counter) { c.onSnapshot = fn }
}

type idSet map[int64]struct{}

func (s idSet) add(id int64) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Counter holds the unique-person sets. It is safe for concurrent use.
type Counter struct {
	cfg        Config
	sinks      []Sink
	metrics    *metrics.Metrics
	onNew      func(NewPerson)
	onSnapshot func(Snapshot)

	mu       sync.Mutex
	lifetime idSet
	minute   idSet
	hour     idSet
	day      idSet

	started   bool
	curMinute int64
	curHour   int64
	curDay    int64
	frames    uint64
	lastLog   time.Time

	// emitMu keeps sink writes in the order records were produced
	emitMu sync.Mutex
	status rate.Sometimes
}

// New creates a Counter.
func New(cfg Config, opts ...Option) *Counter {
	if cfg.Label == "" {
		cfg.Label = "person"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DebugInterval <= 0 {
		cfg.DebugInterval = 10 * time.Second
	}
	c := &Counter{
		cfg:      cfg,
		lifetime: idSet{},
		minute:   idSet{},
		hour:     idSet{},
		day:      idSet{},
		status:   rate.Sometimes{Interval: cfg.DebugInterval},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process counts the people in one frame. Period rollover is evaluated
// against the frame timestamp before its detections are applied.
func (c *Counter) Process(frame types.Frame) Result {
	t := frame.Timestamp
	if t.IsZero() {
		t = c.cfg.Now()
	}

	c.mu.Lock()
	c.frames++
	var pending []types.Record
	res := Result{}
	if rec, rolled := c.rolloverLocked(t); rolled {
		res.Rolled = true
		if rec != nil {
			pending = append(pending, *rec)
		}
	}

	var fresh []NewPerson
	for _, det := range frame.Detections {
		if det.Label != c.cfg.Label || det.Confidence < c.cfg.MinConfidence {
			continue
		}
		res.FramePeople++
		if det.TrackID == nil {
			res.Untracked++
			continue
		}
		id := *det.TrackID
		isNew := c.lifetime.add(id)
		c.minute.add(id)
		c.hour.add(id)
		c.day.add(id)
		if isNew {
			res.NewIDs = append(res.NewIDs, id)
			pending = append(pending, c.recordLocked(t))
			fresh = append(fresh, NewPerson{TrackID: id, Label: det.Label, Confidence: det.Confidence})
		}
	}
	if len(pending) > 0 {
		c.lastLog = t
	}
	res.Snapshot = c.snapshotLocked(t)

	c.emitMu.Lock()
	c.mu.Unlock()
	c.emit(pending)
	c.emitMu.Unlock()

	c.observe(res)
	for _, p := range fresh {
		p.Snapshot = res.Snapshot
		logger.Info("Counter", "New person: id=%d label=%s confidence=%.2f", p.TrackID, p.Label, p.Confidence)
		if c.onNew != nil {
			c.onNew(p)
		}
	}
	if c.onSnapshot != nil && (res.FramePeople > 0 || res.Rolled) {
		c.onSnapshot(res.Snapshot)
	}
	c.debugStatus(res.Snapshot)
	return res
}

// Tick performs period rollover without a frame so that an idle camera still
// produces one record per minute.
func (c *Counter) Tick(now time.Time) bool {
	c.mu.Lock()
	rec, rolled := c.rolloverLocked(now)
	var pending []types.Record
	if rec != nil {
		pending = append(pending, *rec)
		c.lastLog = now
	}
	snap := c.snapshotLocked(now)

	c.emitMu.Lock()
	c.mu.Unlock()
	c.emit(pending)
	c.emitMu.Unlock()

	if c.metrics != nil {
		c.metrics.UpdateCounts(snap.PeopleThisMinute, snap.PeopleThisHour, snap.PeopleThisDay, snap.TotalUniquePeople)
	}
	if rolled && c.onSnapshot != nil {
		c.onSnapshot(snap)
	}
	c.debugStatus(snap)
	return rolled
}

// Snapshot returns the current counts.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(c.cfg.Now())
}

// rolloverLocked moves the period indices forward to t. A minute change
// yields a record describing the closing minute; hour and day changes only
// clear their sets. Timestamps older than the current minute are counted in
// the current periods.
func (c *Counter) rolloverLocked(t time.Time) (*types.Record, bool) {
	m, h, d := types.MinuteIndex(t), types.HourIndex(t), types.DayIndex(t)
	if !c.started {
		c.started = true
		c.curMinute, c.curHour, c.curDay = m, h, d
		c.lastLog = t
		return nil, false
	}
	if m <= c.curMinute {
		return nil, false
	}

	rec := c.recordLocked(t)
	logger.Info("Counter", "Minute closed: %d people in the last minute, %d total unique people",
		rec.PeopleThisMinute, rec.TotalUniquePeople)

	clear(c.minute)
	c.curMinute = m
	if h > c.curHour {
		clear(c.hour)
		c.curHour = h
	}
	if d > c.curDay {
		clear(c.day)
		c.curDay = d
	}
	return &rec, true
}

func (c *Counter) recordLocked(t time.Time) types.Record {
	return types.Record{
		Timestamp:         t,
		Minute:            c.curMinute,
		Hour:              c.curHour,
		Day:               c.curDay,
		PeopleThisMinute:  len(c.minute),
		PeopleThisHour:    len(c.hour),
		PeopleThisDay:     len(c.day),
		TotalUniquePeople: len(c.lifetime),
	}
}

func (c *Counter) snapshotLocked(t time.Time) Snapshot {
	return Snapshot{
		Timestamp:         t,
		Minute:            c.curMinute,
		Hour:              c.curHour,
		Day:               c.curDay,
		PeopleThisMinute:  len(c.minute),
		PeopleThisHour:    len(c.hour),
		PeopleThisDay:     len(c.day),
		TotalUniquePeople: len(c.lifetime),
		Frames:            c.frames,
		LastLog:           c.lastLog,
	}
}

// emit must be called with emitMu held.
func (c *Counter) emit(records []types.Record) {
	for _, rec := range records {
		if c.metrics != nil {
			c.metrics.RecordsLogged.Add(1)
		}
		for _, sink := range c.sinks {
			if err := sink.Append(rec); err != nil {
				logger.Error("Counter", "Sink %T append failed: %v", sink, err)
				if c.metrics != nil {
					c.metrics.SinkErrors.Add(1)
				}
			}
		}
	}
}

func (c *Counter) observe(res Result) {
	if c.metrics == nil {
		return
	}
	c.metrics.Detections.Add(uint64(res.FramePeople))
	c.metrics.Untracked.Add(uint64(res.Untracked))
	c.metrics.NewPeople.Add(uint64(len(res.NewIDs)))
	s := res.Snapshot
	c.metrics.UpdateCounts(s.PeopleThisMinute, s.PeopleThisHour, s.PeopleThisDay, s.TotalUniquePeople)
}

func (c *Counter) debugStatus(s Snapshot) {
	c.status.Do(func() {
		untilNext := time.Minute - s.Timestamp.Sub(time.Unix(s.Minute*60, 0))
		logger.Debug("Counter", "Status: minute=%d hour=%d day=%d total=%d frames=%d next log in %.1fs",
			s.PeopleThisMinute, s.PeopleThisHour, s.PeopleThisDay, s.TotalUniquePeople, s.Frames, untilNext.Seconds())
	})
}
