// Package charts renders the people count charts as PNG images.
package charts

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/report"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

// Chart names, also the PNG file base names.
const (
	TimeSeriesChart    = "time_series"
	HourlyPatternChart = "hourly_pattern"
	DailySummaryChart  = "daily_summary"
	HeatmapChart       = "heatmap"
	StatisticsChart    = "summary_statistics"
)

// Names lists every chart in render order.
var Names = []string{TimeSeriesChart, HourlyPatternChart, DailySummaryChart, HeatmapChart, StatisticsChart}

// ErrUnknownChart is returned by Render for an unsupported name.
var ErrUnknownChart = errors.New("unknown chart")

// Output size in pixels.
const (
	width  = 1200
	height = 800
)

// Render draws the named chart from records.
func Render(name string, records []types.Record) (image.Image, error) {
	switch name {
	case TimeSeriesChart:
		series, err := report.TimeSeries(records)
		if err != nil {
			return nil, err
		}
		return TimeSeries(series)
	case HourlyPatternChart:
		stats, err := report.HourlyPattern(records)
		if err != nil {
			return nil, err
		}
		return HourlyPattern(stats)
	case DailySummaryChart:
		stats, err := report.DailySummary(records)
		if err != nil {
			return nil, err
		}
		return DailySummary(stats)
	case HeatmapChart:
		data, err := report.Heatmap(records)
		if err != nil {
			return nil, err
		}
		return Heatmap(data)
	case StatisticsChart:
		stats, err := report.Statistics(records)
		if err != nil {
			return nil, err
		}
		return Statistics(stats)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownChart, name)
}

// WritePNG encodes img to w.
func WritePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}

// RenderAll writes every chart to dir as <name>.png and returns the written
// paths. Charts that lack enough data are skipped with a warning.
func RenderAll(dir string, records []types.Record) ([]string, error) {
	if len(records) == 0 {
		return nil, report.ErrNoData
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create charts dir: %w", err)
	}

	var written []string
	for _, name := range Names {
		img, err := Render(name, records)
		if errors.Is(err, report.ErrInsufficientData) {
			logger.Warn("Charts", "Skipping %s: %v", name, err)
			continue
		}
		if err != nil {
			return written, fmt.Errorf("render %s: %w", name, err)
		}
		path := filepath.Join(dir, name+".png")
		if err := writeFile(path, img); err != nil {
			return written, err
		}
		logger.Info("Charts", "Saved %s", path)
		written = append(written, path)
	}
	return written, nil
}

func writeFile(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WritePNG(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

var seriesTitles = map[string]string{
	"People per Minute":   "People Detection per Minute Over Time",
	"People per Hour":     "People Detection per Hour Over Time",
	"Total Unique People": "Total Unique People Over Time",
}

// TimeSeries stacks one panel per series, sharing the time axis.
func TimeSeries(series []report.Series) (image.Image, error) {
	if len(series) == 0 {
		return nil, report.ErrNoData
	}
	colors := []color.Color{blue, orange, green}
	shapes := []draw.GlyphDrawer{draw.CircleGlyph{}, draw.SquareGlyph{}, draw.TriangleGlyph{}}
	widths := []float64{1, 1, 1.5}

	rows := make([][]*plot.Plot, len(series))
	for i, s := range series {
		pts := make([]xy, len(s.Points))
		for j, p := range s.Points {
			pts[j] = xy{x: float64(p.Time.Unix()), y: p.Value}
		}
		title, ok := seriesTitles[s.Name]
		if !ok {
			title = s.Name
		}
		p, err := linePanel(title, s.Name, pts, colors[i%len(colors)], shapes[i%len(shapes)], widths[i%len(widths)])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		rows[i] = []*plot.Plot{p}
	}
	rows[len(rows)-1][0].X.Label.Text = "Time"
	return rasterize(rows), nil
}

// HourlyPattern draws average and maximum people per hour by hour of day.
func HourlyPattern(stats []report.HourStat) (image.Image, error) {
	cats := make([]string, len(stats))
	avg := make([]float64, len(stats))
	peak := make([]float64, len(stats))
	for i, s := range stats {
		cats[i] = strconv.Itoa(s.Hour)
		avg[i] = s.AvgPeoplePerHour
		peak[i] = float64(s.MaxPeoplePerHour)
	}
	top, err := barPanel("Average People Detection by Hour of Day", "", "Average People Count",
		cats, avg, []color.Color{skyBlue}, "%.1f")
	if err != nil {
		return nil, err
	}
	bottom, err := barPanel("Maximum People Detection by Hour of Day", "Hour of Day", "Maximum People Count",
		cats, peak, []color.Color{lightCoral}, "%.0f")
	if err != nil {
		return nil, err
	}
	return rasterize([][]*plot.Plot{{top}, {bottom}}), nil
}

// DailySummary draws the daily people count and total minute detections per date.
func DailySummary(stats []report.DayStat) (image.Image, error) {
	cats := make([]string, len(stats))
	count := make([]float64, len(stats))
	detections := make([]float64, len(stats))
	for i, s := range stats {
		cats[i] = s.Date
		count[i] = float64(s.DailyPeopleCount)
		detections[i] = float64(s.TotalMinuteDetections)
	}
	top, err := barPanel("Daily People Detection Summary", "", "Daily People Count",
		cats, count, []color.Color{lightGreen}, "%.0f")
	if err != nil {
		return nil, err
	}
	bottom, err := barPanel("Total Minute-by-Minute Detections per Day", "Date", "Total Detections",
		cats, detections, []color.Color{gold}, "%.0f")
	if err != nil {
		return nil, err
	}
	return rasterize([][]*plot.Plot{{top}, {bottom}}), nil
}

// Statistics draws the key metrics and the averages side by side.
func Statistics(s report.Stats) (image.Image, error) {
	left, err := barPanel("Key Detection Metrics", "", "People Count",
		[]string{"Max People\n(Minute)", "Max People\n(Hour)", "Max People\n(Day)", "Total Unique\nPeople"},
		[]float64{float64(s.MaxPeopleMinute), float64(s.MaxPeopleHour), float64(s.MaxPeopleDay), float64(s.TotalUniquePeople)},
		[]color.Color{lightBlue, lightGreen, lightCoral, gold}, "%.0f")
	if err != nil {
		return nil, err
	}
	right, err := barPanel("Average Metrics and Peak Hour", "", "Count / Hour",
		[]string{"Avg People\n(Minute)", "Avg People\n(Hour)", "Peak Hour"},
		[]float64{s.AvgPeoplePerMinute, s.AvgPeoplePerHour, float64(s.PeakHour)},
		[]color.Color{skyBlue, orange, red}, "%.1f")
	if err != nil {
		return nil, err
	}
	return rasterize([][]*plot.Plot{{left, right}}), nil
}

// Heatmap draws mean people per hour by weekday and hour of day, with the
// value printed in each cell.
func Heatmap(data report.HeatmapData) (image.Image, error) {
	if len(data.Days) == 0 || len(data.Hours) == 0 {
		return nil, report.ErrInsufficientData
	}
	p := newPlot("People Detection Heatmap: Average Count by Hour and Day of Week", "Hour of Day", "Day of Week")
	p.Add(cellPlotters(data)...)

	var xTicks []plot.Tick
	for c, h := range data.Hours {
		xTicks = append(xTicks, plot.Tick{Value: float64(c), Label: strconv.Itoa(h)})
	}
	var yTicks []plot.Tick
	for r, day := range data.Days {
		yTicks = append(yTicks, plot.Tick{Value: float64(len(data.Days) - 1 - r), Label: day})
	}
	p.X.Tick.Marker = plot.ConstantTicks(xTicks)
	p.Y.Tick.Marker = plot.ConstantTicks(yTicks)
	p.X.Min, p.X.Max = -0.5, float64(len(data.Hours))-0.5
	p.Y.Min, p.Y.Max = -0.5, float64(len(data.Days))-0.5
	return rasterize([][]*plot.Plot{{p}}), nil
}

// cellPlotters returns the heat map and its per-cell value labels. Labels on
// the darker upper part of the ramp are white.
func cellPlotters(data report.HeatmapData) []plot.Plotter {
	grid := cellGrid{values: data.Values}
	hm := plotter.NewHeatMap(grid, newYlOrRd(64))
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}

	labels := plotter.XYLabels{}
	var inks []color.Color
	for r, row := range data.Values {
		for c, v := range row {
			labels.XYs = append(labels.XYs, plotter.XY{X: float64(c), Y: float64(len(data.Values) - 1 - r)})
			labels.Labels = append(labels.Labels, fmt.Sprintf("%.1f", v))
			ink := color.Color(color.Black)
			if (v-hm.Min)/(hm.Max-hm.Min) > 0.6 {
				ink = white
			}
			inks = append(inks, ink)
		}
	}
	annot, err := plotter.NewLabels(labels)
	if err != nil {
		return []plot.Plotter{hm}
	}
	for i := range annot.TextStyle {
		annot.TextStyle[i].XAlign = text.XCenter
		annot.TextStyle[i].YAlign = text.YCenter
		annot.TextStyle[i].Color = inks[i]
		annot.TextStyle[i].Font.Size = vg.Points(8)
	}
	return []plot.Plotter{hm, annot}
}
