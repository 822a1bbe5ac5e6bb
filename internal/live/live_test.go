package live

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/counter"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/ingest"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

var testNow = time.Date(2025, 1, 6, 10, 0, 30, 0, time.UTC)

type fixture struct {
	counter *counter.Counter
	b       *Broadcaster
	queue   *ingest.Queue
	metrics *metrics.Metrics
	srv     *httptest.Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	m := metrics.New()
	b := NewBroadcaster(m)
	c := counter.New(counter.Config{Now: func() time.Time { return testNow }}, counter.WithSnapshotHook(b.Publish))
	q := ingest.NewQueue(4, m)
	opts = append([]Option{WithQueue(q), WithMetrics(m)}, opts...)
	s := NewServer(Config{AllowOrigin: "*"}, c, b, opts...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{counter: c, b: b, queue: q, metrics: m, srv: srv}
}

func person(id int64) types.Detection {
	return types.Detection{Label: "person", Confidence: 0.9, TrackID: types.TrackID(id)}
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp
}

func TestCountsAndHealth(t *testing.T) {
	f := newFixture(t)
	f.counter.Process(types.Frame{Timestamp: testNow, Detections: []types.Detection{person(1), person(2)}})

	var ev CountsEvent
	resp := getJSON(t, f.srv.URL+"/api/counts", &ev)
	if ev.Type != EventType || ev.TotalUniquePeople != 2 || ev.PeopleThisMinute != 2 {
		t.Fatalf("counts = %+v", ev)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("CORS header = %q", got)
	}

	var health map[string]any
	getJSON(t, f.srv.URL+"/health", &health)
	if health["status"] != "ok" || health["total_unique"] != float64(2) {
		t.Fatalf("health = %v", health)
	}
	if _, ok := health["webrtc_clients"]; ok {
		t.Fatalf("webrtc_clients reported without a WebRTC server")
	}
}

func TestPostDetections(t *testing.T) {
	f := newFixture(t)

	body := `[{"seq":1,"ts":1736157630,"detections":[{"label":"person","confidence":0.9,"track_id":5,"bbox":{"x":0,"y":0,"w":1,"h":1}}]},
		{"seq":2,"detections":[]}]`
	resp, err := http.Post(f.srv.URL+"/api/detections", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]int
	json.NewDecoder(resp.Body).Decode(&out)
	if out["accepted"] != 2 || out["dropped"] != 0 {
		t.Fatalf("response = %v", out)
	}

	frame := <-f.queue.Frames()
	if frame.Seq != 1 || frame.Source != "http" || *frame.Detections[0].TrackID != 5 {
		t.Fatalf("frame = %+v", frame)
	}

	resp, err = http.Post(f.srv.URL+"/api/detections", "application/json", strings.NewReader("{nope"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed status = %d", resp.StatusCode)
	}
	if f.metrics.IngestErrors.Load() != 1 {
		t.Fatalf("IngestErrors = %d", f.metrics.IngestErrors.Load())
	}

	resp, err = http.Get(f.srv.URL + "/api/detections")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d", resp.StatusCode)
	}
}

// readEvent returns the payload of the next SSE data line.
func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: "); ok {
			return data
		}
	}
}

func openStream(t *testing.T, url, accept string) (*http.Response, *bufio.Reader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

func TestCountsStreamJSON(t *testing.T) {
	f := newFixture(t)
	resp, r := openStream(t, f.srv.URL+"/api/counts/stream", "")
	if got := resp.Header.Get("X-Content-Format"); got != "application/json" {
		t.Fatalf("X-Content-Format = %q", got)
	}

	var ev CountsEvent
	if err := json.Unmarshal([]byte(readEvent(t, r)), &ev); err != nil {
		t.Fatalf("initial event: %v", err)
	}
	if ev.TotalUniquePeople != 0 {
		t.Fatalf("initial event = %+v", ev)
	}

	f.counter.Process(types.Frame{Timestamp: testNow, Detections: []types.Detection{person(7)}})
	if err := json.Unmarshal([]byte(readEvent(t, r)), &ev); err != nil {
		t.Fatalf("update event: %v", err)
	}
	if ev.TotalUniquePeople != 1 {
		t.Fatalf("update event = %+v", ev)
	}
	if f.metrics.SSEClients.Load() != 1 {
		t.Fatalf("SSEClients = %d", f.metrics.SSEClients.Load())
	}
}

func TestCountsStreamProtobuf(t *testing.T) {
	f := newFixture(t)
	f.counter.Process(types.Frame{Timestamp: testNow, Detections: []types.Detection{person(1), person(2), person(3)}})

	resp, r := openStream(t, f.srv.URL+"/api/counts/stream", "application/x-protobuf")
	if got := resp.Header.Get("X-Content-Format"); got != "application/protobuf" {
		t.Fatalf("X-Content-Format = %q", got)
	}

	raw, err := base64.StdEncoding.DecodeString(readEvent(t, r))
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		t.Fatalf("protobuf: %v", err)
	}
	fields := st.GetFields()
	if fields["type"].GetStringValue() != EventType || fields["total_unique_people"].GetNumberValue() != 3 {
		t.Fatalf("struct = %v", st.AsMap())
	}
}

func TestCountsStreamSendsOneInitialEvent(t *testing.T) {
	f := newFixture(t)
	f.counter.Process(types.Frame{Timestamp: testNow, Detections: []types.Detection{person(1), person(2)}})

	_, r := openStream(t, f.srv.URL+"/api/counts/stream", "")
	var ev CountsEvent
	if err := json.Unmarshal([]byte(readEvent(t, r)), &ev); err != nil {
		t.Fatalf("initial event: %v", err)
	}
	if ev.TotalUniquePeople != 2 {
		t.Fatalf("initial event = %+v", ev)
	}

	// The next event on the wire must be the update, not a repeat of the
	// initial snapshot.
	f.counter.Process(types.Frame{Timestamp: testNow, Detections: []types.Detection{person(3)}})
	if err := json.Unmarshal([]byte(readEvent(t, r)), &ev); err != nil {
		t.Fatalf("update event: %v", err)
	}
	if ev.TotalUniquePeople != 3 {
		t.Fatalf("second event = %+v, want the update", ev)
	}
}

func TestSubscribeWithQueuesOneEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	current := func() counter.Snapshot { return counter.Snapshot{Frames: 1} }

	_, fresh := b.SubscribeWith(current)
	if len(fresh) != 1 {
		t.Fatalf("queued %d events before any publish", len(fresh))
	}

	b.Publish(counter.Snapshot{Frames: 2})
	_, late := b.SubscribeWith(current)
	if len(late) != 1 {
		t.Fatalf("queued %d events after publish", len(late))
	}
	var ev CountsEvent
	json.Unmarshal((<-late).JSONData, &ev)
	if ev.Frames != 2 {
		t.Fatalf("late subscriber got %+v, want the published event", ev)
	}
}

func TestPublishDropsStaleSnapshot(t *testing.T) {
	b := NewBroadcaster(nil)
	var forwarded []uint64
	b.Forward(func(ev *SerializedEvent) {
		var got CountsEvent
		json.Unmarshal(ev.JSONData, &got)
		forwarded = append(forwarded, got.Frames)
	})

	b.Publish(counter.Snapshot{Frames: 10, Timestamp: testNow})
	b.Publish(counter.Snapshot{Frames: 9, Timestamp: testNow.Add(time.Minute)})
	b.Publish(counter.Snapshot{Frames: 10, Timestamp: testNow.Add(-time.Second)})
	b.Publish(counter.Snapshot{Frames: 10, Timestamp: testNow.Add(time.Second)})
	b.Publish(counter.Snapshot{Frames: 11, Timestamp: testNow})

	want := []uint64{10, 10, 11}
	if len(forwarded) != len(want) {
		t.Fatalf("forwarded frames = %v, want %v", forwarded, want)
	}
	for i := range want {
		if forwarded[i] != want[i] {
			t.Fatalf("forwarded frames = %v, want %v", forwarded, want)
		}
	}

	_, ch := b.Subscribe()
	var ev CountsEvent
	json.Unmarshal((<-ch).JSONData, &ev)
	if ev.Frames != 11 {
		t.Fatalf("latest event = %+v", ev)
	}
}

func TestBroadcasterForwardAndSlowClient(t *testing.T) {
	b := NewBroadcaster(nil)
	var forwarded int
	b.Forward(func(*SerializedEvent) { forwarded++ })

	id, ch := b.Subscribe()
	for i := 0; i < 10; i++ {
		b.Publish(counter.Snapshot{TotalUniquePeople: i})
	}
	if forwarded != 10 {
		t.Fatalf("forwarded = %d", forwarded)
	}
	if len(ch) != cap(ch) {
		t.Fatalf("slow client buffered %d of %d", len(ch), cap(ch))
	}

	// A late subscriber starts from the latest event.
	_, late := b.Subscribe()
	var ev CountsEvent
	json.Unmarshal((<-late).JSONData, &ev)
	if ev.TotalUniquePeople != 9 {
		t.Fatalf("late subscriber got %+v", ev)
	}

	b.Unsubscribe(id)
	if _, ok := <-ch; !ok {
		t.Fatalf("buffered events lost on unsubscribe")
	}
	if b.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d", b.ClientCount())
	}
}

func TestBroadcasterRun(t *testing.T) {
	b := NewBroadcaster(nil)
	_, ch := b.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx, 10*time.Millisecond, func() counter.Snapshot { return counter.Snapshot{Frames: 42} })
	}()

	select {
	case ev := <-ch:
		var got CountsEvent
		json.Unmarshal(ev.JSONData, &got)
		if got.Frames != 42 {
			t.Fatalf("event = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no periodic event")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestWebRTCOfferValidation(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.srv.URL+"/api/webrtc/offer", "application/json", strings.NewReader(`{"sdp":"x","type":"offer"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("disabled status = %d", resp.StatusCode)
	}
}
