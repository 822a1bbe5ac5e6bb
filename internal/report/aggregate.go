package report

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

// ErrInsufficientData is returned by Heatmap for fewer than two records.
var ErrInsufficientData = errors.New("insufficient data for heatmap (need at least 2 records)")

// Weekdays in heatmap row order.
var Weekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

// Point is one sample of a time series.
type Point struct {
	Time  time.Time
	Value float64
}

// Series is a named sequence of points.
type Series struct {
	Name   string
	Points []Point
}

// TimeSeries returns people per minute, people per hour and total unique
// people over time.
func TimeSeries(records []types.Record) ([]Series, error) {
	if len(records) == 0 {
		return nil, ErrNoData
	}
	perMinute := Series{Name: "People per Minute"}
	perHour := Series{Name: "People per Hour"}
	total := Series{Name: "Total Unique People"}
	for _, r := range records {
		perMinute.Points = append(perMinute.Points, Point{r.Timestamp, float64(r.PeopleThisMinute)})
		perHour.Points = append(perHour.Points, Point{r.Timestamp, float64(r.PeopleThisHour)})
		total.Points = append(total.Points, Point{r.Timestamp, float64(r.TotalUniquePeople)})
	}
	return []Series{perMinute, perHour, total}, nil
}

// HourStat aggregates People_This_Hour over one local hour of day.
type HourStat struct {
	Hour             int     `json:"hour"`
	AvgPeoplePerHour float64 `json:"avg_people_per_hour"`
	MaxPeoplePerHour int     `json:"max_people_per_hour"`
	MaxTotalUnique   int     `json:"max_total_unique"`
	Records          int     `json:"records"`
}

// HourlyPattern groups records by local hour of day, sorted by hour.
func HourlyPattern(records []types.Record) ([]HourStat, error) {
	if len(records) == 0 {
		return nil, ErrNoData
	}
	var sums [24]int
	var stats [24]*HourStat
	for _, r := range records {
		h := r.Timestamp.Local().Hour()
		s := stats[h]
		if s == nil {
			s = &HourStat{Hour: h}
			stats[h] = s
		}
		s.Records++
		sums[h] += r.PeopleThisHour
		s.MaxPeoplePerHour = max(s.MaxPeoplePerHour, r.PeopleThisHour)
		s.MaxTotalUnique = max(s.MaxTotalUnique, r.TotalUniquePeople)
	}
	var out []HourStat
	for h, s := range stats {
		if s == nil {
			continue
		}
		s.AvgPeoplePerHour = round(float64(sums[h])/float64(s.Records), 2)
		out = append(out, *s)
	}
	return out, nil
}

// DayStat aggregates one local calendar date.
type DayStat struct {
	Date                  string `json:"date"`
	DailyPeopleCount      int    `json:"daily_people_count"`
	DailyTotalUnique      int    `json:"daily_total_unique"`
	TotalMinuteDetections int    `json:"total_minute_detections"`
}

// DailySummary groups records by local date, sorted by date.
func DailySummary(records []types.Record) ([]DayStat, error) {
	if len(records) == 0 {
		return nil, ErrNoData
	}
	byDate := map[string]*DayStat{}
	for _, r := range records {
		d := r.Timestamp.Local().Format("2006-01-02")
		s := byDate[d]
		if s == nil {
			s = &DayStat{Date: d}
			byDate[d] = s
		}
		s.DailyPeopleCount = max(s.DailyPeopleCount, r.PeopleThisDay)
		s.DailyTotalUnique = max(s.DailyTotalUnique, r.TotalUniquePeople)
		s.TotalMinuteDetections += r.PeopleThisMinute
	}
	out := make([]DayStat, 0, len(byDate))
	for _, s := range byDate {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// HeatmapData is the mean People_This_Hour per weekday and hour of day.
// Rows are the weekdays present, Monday first; columns are the hours present.
// Cells without records are 0.
type HeatmapData struct {
	Days   []string    `json:"days"`
	Hours  []int       `json:"hours"`
	Values [][]float64 `json:"values"`
}

// Heatmap pivots records by weekday and hour.
func Heatmap(records []types.Record) (HeatmapData, error) {
	if len(records) == 0 {
		return HeatmapData{}, ErrNoData
	}
	if len(records) < 2 {
		return HeatmapData{}, ErrInsufficientData
	}

	var sums, counts [7][24]float64
	var dayPresent [7]bool
	var hourPresent [24]bool
	for _, r := range records {
		t := r.Timestamp.Local()
		d := (int(t.Weekday()) + 6) % 7 // Monday = 0
		h := t.Hour()
		sums[d][h] += float64(r.PeopleThisHour)
		counts[d][h]++
		dayPresent[d] = true
		hourPresent[h] = true
	}

	var out HeatmapData
	for h, ok := range hourPresent {
		if ok {
			out.Hours = append(out.Hours, h)
		}
	}
	for d, ok := range dayPresent {
		if !ok {
			continue
		}
		out.Days = append(out.Days, Weekdays[d].String())
		row := make([]float64, 0, len(out.Hours))
		for _, h := range out.Hours {
			v := 0.0
			if counts[d][h] > 0 {
				v = sums[d][h] / counts[d][h]
			}
			row = append(row, v)
		}
		out.Values = append(out.Values, row)
	}
	return out, nil
}

// Stats is the summary statistics panel.
type Stats struct {
	TotalRecords       int     `json:"total_records"`
	DateRange          string  `json:"date_range"`
	TotalUniquePeople  int     `json:"total_unique_people"`
	MaxPeopleMinute    int     `json:"max_people_in_one_minute"`
	MaxPeopleHour      int     `json:"max_people_in_one_hour"`
	MaxPeopleDay       int     `json:"max_people_in_one_day"`
	AvgPeoplePerMinute float64 `json:"average_people_per_minute"`
	AvgPeoplePerHour   float64 `json:"average_people_per_hour"`
	PeakHour           int     `json:"peak_hour"`
	TotalDetections    int     `json:"total_detections"`
}

// Statistics computes the summary statistics panel. PeakHour is the local
// hour of day of the first record with the highest People_This_Hour.
func Statistics(records []types.Record) (Stats, error) {
	if len(records) == 0 {
		return Stats{}, ErrNoData
	}
	first, last := timeRange(records)
	s := Stats{
		TotalRecords:  len(records),
		DateRange:     first.Local().Format("2006-01-02") + " to " + last.Local().Format("2006-01-02"),
		MaxPeopleHour: -1,
	}
	var sumMin, sumHour int
	for _, r := range records {
		s.TotalUniquePeople = max(s.TotalUniquePeople, r.TotalUniquePeople)
		s.MaxPeopleMinute = max(s.MaxPeopleMinute, r.PeopleThisMinute)
		s.MaxPeopleDay = max(s.MaxPeopleDay, r.PeopleThisDay)
		if r.PeopleThisHour > s.MaxPeopleHour {
			s.MaxPeopleHour = r.PeopleThisHour
			s.PeakHour = r.Timestamp.Local().Hour()
		}
		sumMin += r.PeopleThisMinute
		sumHour += r.PeopleThisHour
	}
	n := float64(len(records))
	s.AvgPeoplePerMinute = float64(sumMin) / n
	s.AvgPeoplePerHour = float64(sumHour) / n
	s.TotalDetections = sumMin
	return s, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
