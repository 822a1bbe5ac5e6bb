package api

import (
	"fmt"
	"strconv"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/charts"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/report"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

// Figure is a Plotly figure: the dashboard page hands it to Plotly.newPlot
// unchanged.
type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

// Trace is one Plotly trace. Only the attributes the dashboard uses are
// modelled.
type Trace struct {
	Type         string      `json:"type"`
	Name         string      `json:"name,omitempty"`
	Mode         string      `json:"mode,omitempty"`
	X            any         `json:"x,omitempty"`
	Y            any         `json:"y,omitempty"`
	Z            [][]float64 `json:"z,omitempty"`
	Text         [][]string  `json:"text,omitempty"`
	TextTemplate string      `json:"texttemplate,omitempty"`
	ColorScale   string      `json:"colorscale,omitempty"`
	Marker       *Marker     `json:"marker,omitempty"`
	Line         *Line       `json:"line,omitempty"`
}

// Marker styles bars and points.
type Marker struct {
	Color any `json:"color,omitempty"`
	Size  int `json:"size,omitempty"`
}

// Line styles a scatter line.
type Line struct {
	Color string `json:"color"`
	Width int    `json:"width"`
}

// Layout is the subset of Plotly layout attributes in use.
type Layout struct {
	Title     Text   `json:"title"`
	XAxis     Axis   `json:"xaxis"`
	YAxis     Axis   `json:"yaxis"`
	BarMode   string `json:"barmode,omitempty"`
	HoverMode string `json:"hovermode,omitempty"`
	Height    int    `json:"height"`
}

// Axis carries an axis title.
type Axis struct {
	Title Text `json:"title"`
}

// Text is a Plotly title object.
type Text struct {
	Text string `json:"text"`
}

func layout(title, x, y string) Layout {
	return Layout{Title: Text{title}, XAxis: Axis{Text{x}}, YAxis: Axis{Text{y}}, Height: 500}
}

// BuildFigure returns the named chart as a Plotly figure.
func BuildFigure(name string, records []types.Record) (Figure, error) {
	switch name {
	case charts.TimeSeriesChart:
		return timeSeriesFigure(records)
	case charts.HourlyPatternChart:
		return hourlyPatternFigure(records)
	case charts.DailySummaryChart:
		return dailySummaryFigure(records)
	case charts.HeatmapChart:
		return heatmapFigure(records)
	case charts.StatisticsChart:
		return statisticsFigure(records)
	}
	return Figure{}, fmt.Errorf("%w: %s", charts.ErrUnknownChart, name)
}

func timeSeriesFigure(records []types.Record) (Figure, error) {
	series, err := report.TimeSeries(records)
	if err != nil {
		return Figure{}, err
	}
	colors := []string{"blue", "orange", "green"}
	fig := Figure{Layout: layout("People Detection Over Time", "Time", "People Count")}
	fig.Layout.HoverMode = "x unified"
	for i, s := range series {
		xs := make([]string, 0, len(s.Points))
		ys := make([]float64, 0, len(s.Points))
		for _, p := range s.Points {
			xs = append(xs, report.Time(p.Time).String())
			ys = append(ys, p.Value)
		}
		fig.Data = append(fig.Data, Trace{
			Type:   "scatter",
			Mode:   "lines+markers",
			Name:   s.Name,
			X:      xs,
			Y:      ys,
			Line:   &Line{Color: colors[i%len(colors)], Width: 2},
			Marker: &Marker{Size: 4},
		})
	}
	return fig, nil
}

func hourlyPatternFigure(records []types.Record) (Figure, error) {
	stats, err := report.HourlyPattern(records)
	if err != nil {
		return Figure{}, err
	}
	hours := make([]int, 0, len(stats))
	avg := make([]float64, 0, len(stats))
	peak := make([]int, 0, len(stats))
	for _, s := range stats {
		hours = append(hours, s.Hour)
		avg = append(avg, s.AvgPeoplePerHour)
		peak = append(peak, s.MaxPeoplePerHour)
	}
	fig := Figure{Layout: layout("People Detection by Hour of Day", "Hour of Day", "People Count")}
	fig.Layout.BarMode = "group"
	fig.Data = []Trace{
		{Type: "bar", Name: "Average People per Hour", X: hours, Y: avg, Marker: &Marker{Color: "skyblue"}},
		{Type: "bar", Name: "Maximum People per Hour", X: hours, Y: peak, Marker: &Marker{Color: "lightcoral"}},
	}
	return fig, nil
}

func dailySummaryFigure(records []types.Record) (Figure, error) {
	stats, err := report.DailySummary(records)
	if err != nil {
		return Figure{}, err
	}
	dates := make([]string, 0, len(stats))
	people := make([]int, 0, len(stats))
	detections := make([]int, 0, len(stats))
	for _, s := range stats {
		dates = append(dates, s.Date)
		people = append(people, s.DailyPeopleCount)
		detections = append(detections, s.TotalMinuteDetections)
	}
	fig := Figure{Layout: layout("Daily People Detection Summary", "Date", "People Count")}
	fig.Layout.BarMode = "group"
	fig.Data = []Trace{
		{Type: "bar", Name: "Daily People Count", X: dates, Y: people, Marker: &Marker{Color: "lightgreen"}},
		{Type: "bar", Name: "Total Minute Detections", X: dates, Y: detections, Marker: &Marker{Color: "gold"}},
	}
	return fig, nil
}

func heatmapFigure(records []types.Record) (Figure, error) {
	hm, err := report.Heatmap(records)
	if err != nil {
		return Figure{}, err
	}
	text := make([][]string, len(hm.Values))
	for i, row := range hm.Values {
		text[i] = make([]string, len(row))
		for j, v := range row {
			text[i][j] = strconv.FormatFloat(v, 'f', 1, 64)
		}
	}
	return Figure{
		Data: []Trace{{
			Type:         "heatmap",
			X:            hm.Hours,
			Y:            hm.Days,
			Z:            hm.Values,
			Text:         text,
			TextTemplate: "%{text}",
			ColorScale:   "YlOrRd",
		}},
		Layout: layout("People Detection Heatmap: Average Count by Hour and Day", "Hour of Day", "Day of Week"),
	}, nil
}

func statisticsFigure(records []types.Record) (Figure, error) {
	st, err := report.Statistics(records)
	if err != nil {
		return Figure{}, err
	}
	fig := Figure{Layout: layout("Key Metrics ("+st.DateRange+")", "", "Count")}
	fig.Data = []Trace{{
		Type: "bar",
		Name: "Key Metrics",
		X:    []string{"Total Unique", "Max/Minute", "Max/Hour", "Max/Day", "Avg/Minute", "Avg/Hour"},
		Y: []float64{
			float64(st.TotalUniquePeople),
			float64(st.MaxPeopleMinute),
			float64(st.MaxPeopleHour),
			float64(st.MaxPeopleDay),
			st.AvgPeoplePerMinute,
			st.AvgPeoplePerHour,
		},
		Marker: &Marker{Color: []string{"skyblue", "lightcoral", "lightgreen", "gold", "plum", "orange"}},
	}}
	return fig, nil
}
