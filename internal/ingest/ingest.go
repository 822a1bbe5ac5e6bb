// Package ingest feeds detection frames from the detector pipeline into the
// counter through a bounded Queue. Push transports (HTTP, NATS) drop when the
// queue is full; pull sources (stdin lines, worker stdout) block instead, so
// replayed or bursty input is never lost.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

// Message is the wire form of a frame on every transport. The detector may
// stamp frames with either ts (unix seconds) or timestamp (RFC 3339); frames
// with neither are stamped on arrival by the counter.
type Message struct {
	Seq        uint64            `json:"seq" msgpack:"seq"`
	TS         float64           `json:"ts,omitempty" msgpack:"ts,omitempty"`
	Timestamp  *time.Time        `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
	Source     string            `json:"source,omitempty" msgpack:"source,omitempty"`
	Detections []types.Detection `json:"detections" msgpack:"detections"`
}

// Frame converts the message.
func (m Message) Frame() types.Frame {
	f := types.Frame{Seq: m.Seq, Source: m.Source, Detections: m.Detections}
	switch {
	case m.TS > 0:
		sec, frac := math.Modf(m.TS)
		f.Timestamp = time.Unix(int64(sec), int64(frac*1e9))
	case m.Timestamp != nil:
		f.Timestamp = *m.Timestamp
	}
	return f
}

// MessageOf converts a frame to its wire form.
func MessageOf(f types.Frame) Message {
	m := Message{Seq: f.Seq, Source: f.Source, Detections: f.Detections}
	if !f.Timestamp.IsZero() {
		m.TS = float64(f.Timestamp.UnixNano()) / 1e9
	}
	return m
}

// DecodeJSON parses one JSON frame.
func DecodeJSON(data []byte) (types.Frame, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return types.Frame{}, fmt.Errorf("invalid frame: %w", err)
	}
	return m.Frame(), nil
}

// Queue is the bounded frame channel between the transports and the counter.
type Queue struct {
	ch      chan types.Frame
	metrics *metrics.Metrics
	dropped atomic.Uint64
	warn    rate.Sometimes
}

// NewQueue creates a queue holding up to size frames. m may be nil.
func NewQueue(size int, m *metrics.Metrics) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		ch:      make(chan types.Frame, size),
		metrics: m,
		warn:    rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Push enqueues f without blocking. It reports false when the frame was dropped.
func (q *Queue) Push(f types.Frame) bool {
	if q.metrics != nil {
		q.metrics.FramesReceived.Add(1)
	}
	select {
	case q.ch <- f:
		return true
	default:
		n := q.dropped.Add(1)
		if q.metrics != nil {
			q.metrics.FramesDropped.Add(1)
		}
		q.warn.Do(func() {
			logger.Warn("Ingest", "Counter is behind, dropped %d frames so far", n)
		})
		return false
	}
}

// PushWait enqueues f, blocking while the queue is full. It returns ctx.Err()
// if ctx is done first; the frame is then not counted as dropped.
func (q *Queue) PushWait(ctx context.Context, f types.Frame) error {
	if q.metrics != nil {
		q.metrics.FramesReceived.Add(1)
	}
	select {
	case q.ch <- f:
		return nil
	default:
	}
	select {
	case q.ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Frames returns the receive side.
func (q *Queue) Frames() <-chan types.Frame { return q.ch }

// Dropped returns the number of frames dropped.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// malformed records a frame that could not be decoded.
func (q *Queue) malformed(source string, err error) {
	if q.metrics != nil {
		q.metrics.IngestErrors.Add(1)
	}
	logger.Warn("Ingest", "Dropping malformed frame from %s: %v", source, err)
}
