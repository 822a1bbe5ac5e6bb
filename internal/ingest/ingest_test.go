package ingest

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/broker"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/counter"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

func sampleMessage(seq uint64) Message {
	return Message{
		Seq: seq,
		TS:  1736157600.5,
		Detections: []types.Detection{
			{Label: "person", Confidence: 0.91, TrackID: types.TrackID(12), BBox: types.BBox{X: 1, Y: 2, W: 3, H: 4}},
			{Label: "person", Confidence: 0.75},
		},
	}
}

func recv(t *testing.T, q *Queue) types.Frame {
	t.Helper()
	select {
	case f := <-q.Frames():
		return f
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a frame")
		return types.Frame{}
	}
}

func TestMessageFrameTimestamps(t *testing.T) {
	f := sampleMessage(1).Frame()
	want := time.Unix(1736157600, 500000000)
	if !f.Timestamp.Equal(want) {
		t.Fatalf("ts frame at %v, want %v", f.Timestamp, want)
	}

	ts := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	if got := (Message{Timestamp: &ts}).Frame().Timestamp; !got.Equal(ts) {
		t.Fatalf("timestamp frame at %v", got)
	}
	if got := (Message{}).Frame().Timestamp; !got.IsZero() {
		t.Fatalf("unstamped frame got %v", got)
	}

	back := MessageOf(f).Frame()
	if back.Seq != f.Seq || back.Timestamp.Sub(f.Timestamp).Abs() > time.Microsecond {
		t.Fatalf("MessageOf round trip = %+v, want %+v", back, f)
	}
}

func TestReadMessages(t *testing.T) {
	var buf bytes.Buffer
	for i := uint64(1); i <= 3; i++ {
		if err := WriteMessage(&buf, sampleMessage(i)); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}
	// A well-framed payload that is not a message is dropped.
	binary.Write(&buf, binary.BigEndian, uint32(3))
	buf.Write([]byte{0xc1, 0xc1, 0xc1})
	WriteMessage(&buf, sampleMessage(4))

	m := metrics.New()
	q := NewQueue(10, m)
	if err := ReadMessages(context.Background(), &buf, q, "test"); err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	if got := len(q.Frames()); got != 4 {
		t.Fatalf("queued %d frames, want 4", got)
	}
	first := recv(t, q)
	if diff := cmp.Diff(sampleMessage(1).Detections, first.Detections); diff != "" {
		t.Fatalf("detections (-want +got):\n%s", diff)
	}
	if first.Source != "test" {
		t.Fatalf("source = %q", first.Source)
	}
	if m.IngestErrors.Load() != 1 {
		t.Fatalf("IngestErrors = %d, want 1", m.IngestErrors.Load())
	}
}

func TestReadMessagesRejectsBadLength(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(MaxMessageSize+1))
	if err := ReadMessages(context.Background(), &buf, NewQueue(1, nil), "test"); err == nil {
		t.Fatalf("oversized frame accepted")
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	m := metrics.New()
	q := NewQueue(2, m)
	for i := 0; i < 5; i++ {
		q.Push(types.Frame{Seq: uint64(i)})
	}
	if q.Dropped() != 3 || m.FramesDropped.Load() != 3 || m.FramesReceived.Load() != 5 {
		t.Fatalf("dropped=%d metrics dropped=%d received=%d", q.Dropped(), m.FramesDropped.Load(), m.FramesReceived.Load())
	}
	if f := recv(t, q); f.Seq != 0 {
		t.Fatalf("oldest frame not kept: seq=%d", f.Seq)
	}
}

func TestPushWaitHonorsContext(t *testing.T) {
	q := NewQueue(1, nil)
	if err := q.PushWait(context.Background(), types.Frame{Seq: 1}); err != nil {
		t.Fatalf("PushWait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := q.PushWait(ctx, types.Frame{Seq: 2}); err != context.DeadlineExceeded {
		t.Fatalf("PushWait on full queue = %v, want deadline exceeded", err)
	}
	if q.Dropped() != 0 {
		t.Fatalf("Dropped = %d, want 0", q.Dropped())
	}
}

// Replayed input must reach the counter in full even when it arrives much
// faster than frames are consumed.
func TestLinesReplayCountsEveryone(t *testing.T) {
	const n = 2000
	var in strings.Builder
	for i := 0; i < n; i++ {
		m := Message{
			Seq: uint64(i),
			TS:  1736157600 + float64(i)/1e4,
			Detections: []types.Detection{
				{Label: "person", Confidence: 0.9, TrackID: types.TrackID(int64(i + 1))},
			},
		}
		b, _ := json.Marshal(m)
		in.Write(b)
		in.WriteByte('\n')
	}

	c := counter.New(counter.Config{Label: "person", MinConfidence: 0.7})
	q := NewQueue(4, nil)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for i := 0; i < n; i++ {
			c.Process(<-q.Frames())
		}
	}()

	if err := NewLines(strings.NewReader(in.String()), "stdin", q).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case <-consumed:
	case <-time.After(10 * time.Second):
		t.Fatalf("consumer saw fewer than %d frames, dropped=%d", n, q.Dropped())
	}
	if got := c.Snapshot().TotalUniquePeople; got != n {
		t.Fatalf("TotalUniquePeople = %d, want %d", got, n)
	}
	if q.Dropped() != 0 {
		t.Fatalf("Dropped = %d, want 0", q.Dropped())
	}
}

func TestReadMessagesWaitsForSpace(t *testing.T) {
	var buf bytes.Buffer
	for i := uint64(1); i <= 50; i++ {
		WriteMessage(&buf, sampleMessage(i))
	}
	q := NewQueue(2, nil)
	got := make(chan uint64, 50)
	go func() {
		for i := 0; i < 50; i++ {
			got <- (<-q.Frames()).Seq
		}
		close(got)
	}()
	if err := ReadMessages(context.Background(), &buf, q, "test"); err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	var want uint64 = 1
	for seq := range got {
		if seq != want {
			t.Fatalf("seq = %d, want %d", seq, want)
		}
		want++
	}
	if want != 51 || q.Dropped() != 0 {
		t.Fatalf("received up to %d, dropped %d", want-1, q.Dropped())
	}
}

func TestLines(t *testing.T) {
	var in strings.Builder
	b, _ := json.Marshal(sampleMessage(7))
	in.Write(b)
	in.WriteString("\n\nnot json\n")
	in.WriteString(`{"seq":8,"timestamp":"2025-01-06T10:00:00Z","detections":[{"label":"person","confidence":0.8,"track_id":3,"bbox":{"x":0,"y":0,"w":1,"h":1}}]}` + "\n")

	q := NewQueue(10, nil)
	if err := NewLines(strings.NewReader(in.String()), "stdin", q).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f := recv(t, q); f.Seq != 7 || f.Source != "stdin" {
		t.Fatalf("first frame = %+v", f)
	}
	f := recv(t, q)
	if f.Seq != 8 || *f.Detections[0].TrackID != 3 {
		t.Fatalf("second frame = %+v", f)
	}
}

func TestNATSSource(t *testing.T) {
	ns, err := broker.StartEmbedded(broker.EmbeddedOptions{Port: -1})
	if err != nil {
		t.Fatalf("StartEmbedded: %v", err)
	}
	defer ns.Shutdown()
	nc, err := broker.Connect(ns.ClientURL(), "", "ingest-test")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer nc.Close()

	q := NewQueue(10, nil)
	src := NewNATS(nc, broker.DetectionsSubject("pc"), q)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	// Retry until the subscription is live.
	b, _ := json.Marshal(sampleMessage(9))
	deadline := time.Now().Add(5 * time.Second)
	for len(q.Frames()) == 0 && time.Now().Before(deadline) {
		nc.Publish("pc.detections", b)
		nc.Flush()
		time.Sleep(50 * time.Millisecond)
	}
	f := recv(t, q)
	if f.Seq != 9 || f.Source != "pc.detections" {
		t.Fatalf("frame = %+v", f)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// TestHelperProcess is not a real test. It acts as the detector worker for
// the Process tests.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("INGEST_HELPER")
	if mode == "" {
		return
	}
	for i := uint64(1); i <= 2; i++ {
		WriteMessage(os.Stdout, sampleMessage(i))
	}
	fmt.Fprintln(os.Stderr, "[WARNING] helper warning")
	switch mode {
	case "wait":
		io.Copy(io.Discard, os.Stdin)
		os.Exit(0)
	case "crash":
		os.Exit(3)
	case "hang":
		time.Sleep(time.Minute)
	}
	os.Exit(0)
}

func helper(mode string, q *Queue) *Process {
	p := NewProcess([]string{os.Args[0], "-test.run=TestHelperProcess"}, q)
	p.Env = []string{"INGEST_HELPER=" + mode}
	p.StopTimeout = 500 * time.Millisecond
	return p
}

func TestProcessStopsOnCancel(t *testing.T) {
	q := NewQueue(10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- helper("wait", q).Run(ctx) }()

	recv(t, q)
	recv(t, q)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("process not stopped")
	}
}

func TestProcessKillsHungWorker(t *testing.T) {
	q := NewQueue(10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- helper("hang", q).Run(ctx) }()

	recv(t, q)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after kill: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("hung worker not killed")
	}
}

func TestProcessReportsUnexpectedExit(t *testing.T) {
	q := NewQueue(10, nil)
	err := helper("crash", q).Run(context.Background())
	if err == nil {
		t.Fatalf("crash not reported")
	}
	if len(q.Frames()) != 2 {
		t.Fatalf("frames before crash = %d, want 2", len(q.Frames()))
	}
}
