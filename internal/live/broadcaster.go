package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/counter"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/metrics"
)

// EventType tags every payload sent to live clients.
const EventType = "counts"

// CountsEvent is the JSON payload of one live update.
type CountsEvent struct {
	Type string `json:"type"`
	counter.Snapshot
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // google.protobuf.Struct, base64 encoded for SSE
}

// Encode serializes a snapshot in both live formats.
func Encode(snap counter.Snapshot) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(CountsEvent{Type: EventType, Snapshot: snap})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot fields: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build protobuf struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal protobuf: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// Broadcaster manages fanout of count snapshots to SSE subscribers and any
// forwarders (the WebRTC data channel).
type Broadcaster struct {
	mu      sync.Mutex
	clients map[string]chan *SerializedEvent
	forward []func(*SerializedEvent)
	last    *SerializedEvent
	lastAt  counter.Snapshot
	metrics *metrics.Metrics
}

// NewBroadcaster creates an empty broadcaster. m may be nil.
func NewBroadcaster(m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan *SerializedEvent),
		metrics: m,
	}
}

// Forward registers fn to receive every published event.
func (b *Broadcaster) Forward(fn func(*SerializedEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forward = append(b.forward, fn)
}

// Subscribe adds a new client and returns a channel for receiving events.
// The latest event, if any, is queued immediately.
func (b *Broadcaster) Subscribe() (string, <-chan *SerializedEvent) {
	return b.SubscribeWith(nil)
}

// SubscribeWith is Subscribe for clients that need a first event even before
// anything was published: when there is no latest event, current is encoded
// and queued instead. Exactly one event is queued either way.
func (b *Broadcaster) SubscribeWith(current func() counter.Snapshot) (string, <-chan *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan *SerializedEvent, 4)
	switch {
	case b.last != nil:
		ch <- b.last
	case current != nil:
		if ev, err := Encode(current()); err == nil {
			ch <- ev
		} else {
			logger.Error("Broadcaster", "Initial snapshot for %s: %v", id, err)
		}
	}
	b.clients[id] = ch
	b.updateGauge()

	logger.Debug("Broadcaster", "Client %s subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		b.updateGauge()
		logger.Debug("Broadcaster", "Client %s unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// ClientCount returns the number of SSE subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Publish serializes snap and sends it to every subscriber. Its signature
// matches counter.WithSnapshotHook. A snapshot older than the last published
// one is dropped.
func (b *Broadcaster) Publish(snap counter.Snapshot) {
	event, err := Encode(snap)
	if err != nil {
		logger.Error("Broadcaster", "Dropping snapshot: %v", err)
		return
	}

	b.mu.Lock()
	if b.last != nil && olderThan(snap, b.lastAt) {
		latest := b.lastAt.Frames
		b.mu.Unlock()
		logger.Debug("Broadcaster", "Dropping stale snapshot (frame %d, latest %d)", snap.Frames, latest)
		return
	}
	b.last, b.lastAt = event, snap
	for _, ch := range b.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
	forward := b.forward
	b.mu.Unlock()

	for _, fn := range forward {
		fn(event)
	}
}

// Run republishes the current snapshot every interval so idle clients still
// see the clock advance. It returns when ctx is done.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration, snapshot func() counter.Snapshot) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.mu.Lock()
			idle := len(b.clients) == 0 && len(b.forward) == 0
			b.mu.Unlock()
			if idle {
				continue
			}
			b.Publish(snapshot())
		}
	}
}

// olderThan orders snapshots by frames processed, then by timestamp.
func olderThan(a, b counter.Snapshot) bool {
	if a.Frames != b.Frames {
		return a.Frames < b.Frames
	}
	return a.Timestamp.Before(b.Timestamp)
}

func (b *Broadcaster) updateGauge() {
	if b.metrics != nil {
		b.metrics.SSEClients.Store(uint64(len(b.clients)))
	}
}
