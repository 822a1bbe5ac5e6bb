package charts

import (
	"bytes"
	"errors"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/report"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

func records(n int) []types.Record {
	start := time.Date(2025, 1, 6, 8, 0, 0, 0, time.Local)
	var out []types.Record
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * 37 * time.Minute)
		out = append(out, types.Record{
			Timestamp:         ts,
			Minute:            types.MinuteIndex(ts),
			Hour:              types.HourIndex(ts),
			Day:               types.DayIndex(ts),
			PeopleThisMinute:  i % 3,
			PeopleThisHour:    i % 5,
			PeopleThisDay:     i,
			TotalUniquePeople: i + 1,
		})
	}
	return out
}

func TestRenderProducesPNG(t *testing.T) {
	recs := records(60)
	for _, name := range Names {
		img, err := Render(name, recs)
		if err != nil {
			t.Fatalf("Render(%s): %v", name, err)
		}
		var buf bytes.Buffer
		if err := WritePNG(&buf, img); err != nil {
			t.Fatalf("WritePNG(%s): %v", name, err)
		}
		cfg, err := png.DecodeConfig(&buf)
		if err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
		if cfg.Width != width || cfg.Height != height {
			t.Fatalf("%s is %dx%d", name, cfg.Width, cfg.Height)
		}
	}
}

func TestRenderUnknown(t *testing.T) {
	if _, err := Render("pie", records(3)); !errors.Is(err, ErrUnknownChart) {
		t.Fatalf("err = %v, want ErrUnknownChart", err)
	}
}

func TestRenderAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "charts")
	written, err := RenderAll(dir, records(10))
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if len(written) != len(Names) {
		t.Fatalf("wrote %d charts, want %d", len(written), len(Names))
	}
	for _, name := range Names {
		if _, err := os.Stat(filepath.Join(dir, name+".png")); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
}

func TestRenderAllSkipsHeatmapForSingleRecord(t *testing.T) {
	written, err := RenderAll(t.TempDir(), records(1))
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if len(written) != len(Names)-1 {
		t.Fatalf("wrote %v", written)
	}
	if _, err := RenderAll(t.TempDir(), nil); !errors.Is(err, report.ErrNoData) {
		t.Fatalf("empty input err = %v", err)
	}
}

func TestHeatmapUniformValues(t *testing.T) {
	data := report.HeatmapData{
		Days:   []string{"Monday", "Tuesday"},
		Hours:  []int{9},
		Values: [][]float64{{2}, {2}},
	}
	img, err := Heatmap(data)
	if err != nil {
		t.Fatalf("Heatmap: %v", err)
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		t.Fatalf("bounds = %v", b)
	}
	if _, err := Heatmap(report.HeatmapData{}); !errors.Is(err, report.ErrInsufficientData) {
		t.Fatalf("empty heatmap err = %v", err)
	}
}

func TestYlOrRdRamp(t *testing.T) {
	p := newYlOrRd(16)
	if len(p.Colors()) != 16 {
		t.Fatalf("len = %d", len(p.Colors()))
	}
	if p[0] != ylOrRdStops[0] || p[15] != ylOrRdStops[len(ylOrRdStops)-1] {
		t.Fatalf("ends = %v, %v", p[0], p[15])
	}
	// Green only falls from pale yellow to dark red.
	for i := 1; i < len(p); i++ {
		a, b := p[i-1].(color.RGBA), p[i].(color.RGBA)
		if b.G > a.G {
			t.Fatalf("green rises at %d: %v -> %v", i, a, b)
		}
	}
}
