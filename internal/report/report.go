// Package report computes the JSON views served by the reporting API from
// the record history. All functions are pure and treat the input slice as
// ordered by log position.
package report

import (
	"errors"
	"math"
	"time"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

// ErrNoData is returned when there are no records to report on, or when a
// time window selects none.
var ErrNoData = errors.New("no data available")

// ISOLayout is the timestamp layout of every JSON response.
const ISOLayout = "2006-01-02T15:04:05"

// Time marshals as a local ISO-8601 timestamp without zone.
type Time time.Time

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Local().Format(ISOLayout) + `"`), nil
}

// String returns the ISO form.
func (t Time) String() string { return time.Time(t).Local().Format(ISOLayout) }

// Row is a record as served by /data.
type Row struct {
	Timestamp         Time  `json:"Timestamp"`
	Minute            int64 `json:"Minute"`
	Hour              int64 `json:"Hour"`
	Day               int64 `json:"Day"`
	PeopleThisMinute  int   `json:"People_This_Minute"`
	PeopleThisHour    int   `json:"People_This_Hour"`
	PeopleThisDay     int   `json:"People_This_Day"`
	TotalUniquePeople int   `json:"Total_Unique_People"`
}

// RowOf converts a record.
func RowOf(r types.Record) Row {
	return Row{
		Timestamp:         Time(r.Timestamp),
		Minute:            r.Minute,
		Hour:              r.Hour,
		Day:               r.Day,
		PeopleThisMinute:  r.PeopleThisMinute,
		PeopleThisHour:    r.PeopleThisHour,
		PeopleThisDay:     r.PeopleThisDay,
		TotalUniquePeople: r.TotalUniquePeople,
	}
}

// Rows converts records, never returning nil.
func Rows(records []types.Record) []Row {
	out := make([]Row, 0, len(records))
	for _, r := range records {
		out = append(out, RowOf(r))
	}
	return out
}

// Page slices records like /data, with Python slice semantics:
// records[offset:offset+limit], or records[offset:] when limit is 0.
// Negative values count from the end, so offset=-5 returns the last five.
func Page(records []types.Record, limit, offset int) []types.Record {
	stop := len(records)
	if limit != 0 && !(limit > 0 && offset > math.MaxInt-limit) {
		stop = offset + limit
	}
	lo, hi := sliceBound(offset, len(records)), sliceBound(stop, len(records))
	if hi < lo {
		return records[:0]
	}
	return records[lo:hi]
}

// sliceBound resolves a Python-style slice index against length n.
func sliceBound(i, n int) int {
	if i < 0 {
		i += n
	}
	return min(max(i, 0), n)
}

// Latest returns the last record.
func Latest(records []types.Record) (types.Record, error) {
	if len(records) == 0 {
		return types.Record{}, ErrNoData
	}
	return records[len(records)-1], nil
}

// Counts is the four counters of one record.
type Counts struct {
	Timestamp         *Time `json:"timestamp,omitempty"`
	PeopleThisMinute  int   `json:"people_this_minute"`
	PeopleThisHour    int   `json:"people_this_hour"`
	PeopleThisDay     int   `json:"people_this_day"`
	TotalUniquePeople int   `json:"total_unique_people"`
}

func countsOf(r types.Record, withTime bool) Counts {
	c := Counts{
		PeopleThisMinute:  r.PeopleThisMinute,
		PeopleThisHour:    r.PeopleThisHour,
		PeopleThisDay:     r.PeopleThisDay,
		TotalUniquePeople: r.TotalUniquePeople,
	}
	if withTime {
		ts := Time(r.Timestamp)
		c.Timestamp = &ts
	}
	return c
}

// Range is a first/last timestamp pair.
type Range struct {
	Start Time `json:"start"`
	End   Time `json:"end"`
}

// PeopleStatistics holds maxima and means over all records.
type PeopleStatistics struct {
	MaxPeopleThisMinute  int     `json:"max_people_this_minute"`
	MaxPeopleThisHour    int     `json:"max_people_this_hour"`
	MaxPeopleThisDay     int     `json:"max_people_this_day"`
	MaxTotalUniquePeople int     `json:"max_total_unique_people"`
	AvgPeopleThisMinute  float64 `json:"avg_people_this_minute"`
	AvgPeopleThisHour    float64 `json:"avg_people_this_hour"`
	AvgPeopleThisDay     float64 `json:"avg_people_this_day"`
}

// Summary is the /data/summary payload.
type Summary struct {
	TotalRecords     int              `json:"total_records"`
	DateRange        Range            `json:"date_range"`
	PeopleStatistics PeopleStatistics `json:"people_statistics"`
	CurrentTotals    Counts           `json:"current_totals"`
}

// Summarize computes the summary of all records.
func Summarize(records []types.Record) (Summary, error) {
	if len(records) == 0 {
		return Summary{}, ErrNoData
	}
	first, last := timeRange(records)
	s := Summary{
		TotalRecords:  len(records),
		DateRange:     Range{Start: Time(first), End: Time(last)},
		CurrentTotals: countsOf(records[len(records)-1], false),
	}

	var sumMin, sumHour, sumDay int
	ps := &s.PeopleStatistics
	for _, r := range records {
		ps.MaxPeopleThisMinute = max(ps.MaxPeopleThisMinute, r.PeopleThisMinute)
		ps.MaxPeopleThisHour = max(ps.MaxPeopleThisHour, r.PeopleThisHour)
		ps.MaxPeopleThisDay = max(ps.MaxPeopleThisDay, r.PeopleThisDay)
		ps.MaxTotalUniquePeople = max(ps.MaxTotalUniquePeople, r.TotalUniquePeople)
		sumMin += r.PeopleThisMinute
		sumHour += r.PeopleThisHour
		sumDay += r.PeopleThisDay
	}
	n := float64(len(records))
	ps.AvgPeopleThisMinute = float64(sumMin) / n
	ps.AvgPeopleThisHour = float64(sumHour) / n
	ps.AvgPeopleThisDay = float64(sumDay) / n
	return s, nil
}

// HourlyEntry is the latest record of one hour of day.
type HourlyEntry struct {
	Hour              int  `json:"hour"`
	Timestamp         Time `json:"timestamp"`
	PeopleThisHour    int  `json:"people_this_hour"`
	TotalUniquePeople int  `json:"total_unique_people"`
}

// Hourly selects records no older than hours before now and returns, for each
// local hour of day 0..23 present, the last record in that hour.
func Hourly(records []types.Record, now time.Time, hours int) ([]HourlyEntry, error) {
	if len(records) == 0 {
		return nil, ErrNoData
	}
	recent := since(records, windowStart(now, hours, time.Hour))
	if len(recent) == 0 {
		return nil, ErrNoData
	}

	var latest [24]*types.Record
	for i := range recent {
		latest[recent[i].Timestamp.Local().Hour()] = &recent[i]
	}
	out := []HourlyEntry{}
	for h, r := range latest {
		if r == nil {
			continue
		}
		out = append(out, HourlyEntry{
			Hour:              h,
			Timestamp:         Time(r.Timestamp),
			PeopleThisHour:    r.PeopleThisHour,
			TotalUniquePeople: r.TotalUniquePeople,
		})
	}
	return out, nil
}

// DailyEntry is the latest record of one day index.
type DailyEntry struct {
	Day               int64 `json:"day"`
	Timestamp         Time  `json:"timestamp"`
	PeopleThisDay     int   `json:"people_this_day"`
	TotalUniquePeople int   `json:"total_unique_people"`
}

// Daily selects records no older than days before now and returns the last
// record of each Day index, in order of first appearance.
func Daily(records []types.Record, now time.Time, days int) ([]DailyEntry, error) {
	if len(records) == 0 {
		return nil, ErrNoData
	}
	recent := since(records, windowStart(now, days, 24*time.Hour))
	if len(recent) == 0 {
		return nil, ErrNoData
	}

	index := map[int64]int{}
	out := []DailyEntry{}
	for _, r := range recent {
		e := DailyEntry{
			Day:               r.Day,
			Timestamp:         Time(r.Timestamp),
			PeopleThisDay:     r.PeopleThisDay,
			TotalUniquePeople: r.TotalUniquePeople,
		}
		if i, ok := index[r.Day]; ok {
			out[i] = e
			continue
		}
		index[r.Day] = len(out)
		out = append(out, e)
	}
	return out, nil
}

// Periods are epoch bucket indices.
type Periods struct {
	Minute int64 `json:"minute"`
	Hour   int64 `json:"hour"`
	Day    int64 `json:"day"`
}

// Current is the /data/current payload.
type Current struct {
	CurrentTime    Time    `json:"current_time"`
	CurrentPeriods Periods `json:"current_periods"`
	LatestData     Counts  `json:"latest_data"`
}

// CurrentData reports the periods containing now and the last record.
func CurrentData(records []types.Record, now time.Time) (Current, error) {
	if len(records) == 0 {
		return Current{}, ErrNoData
	}
	return Current{
		CurrentTime: Time(now),
		CurrentPeriods: Periods{
			Minute: types.MinuteIndex(now),
			Hour:   types.HourIndex(now),
			Day:    types.DayIndex(now),
		},
		LatestData: countsOf(records[len(records)-1], true),
	}, nil
}

// DashboardStats is the /api/data payload.
type DashboardStats struct {
	TotalRecords        int         `json:"total_records"`
	TotalUniquePeople   int         `json:"total_unique_people"`
	CurrentMinutePeople int         `json:"current_minute_people"`
	CurrentHourPeople   int         `json:"current_hour_people"`
	CurrentDayPeople    int         `json:"current_day_people"`
	LastUpdate          string      `json:"last_update"`
	DataRange           StringRange `json:"data_range"`
}

// StringRange is a formatted first/last timestamp pair.
type StringRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

const displayLayout = "2006-01-02 15:04:05"

// Dashboard computes the headline numbers of the dashboard page.
func Dashboard(records []types.Record) (DashboardStats, error) {
	if len(records) == 0 {
		return DashboardStats{}, ErrNoData
	}
	last := records[len(records)-1]
	first, end := timeRange(records)
	return DashboardStats{
		TotalRecords:        len(records),
		TotalUniquePeople:   last.TotalUniquePeople,
		CurrentMinutePeople: last.PeopleThisMinute,
		CurrentHourPeople:   last.PeopleThisHour,
		CurrentDayPeople:    last.PeopleThisDay,
		LastUpdate:          last.Timestamp.Local().Format(displayLayout),
		DataRange: StringRange{
			Start: first.Local().Format(displayLayout),
			End:   end.Local().Format(displayLayout),
		},
	}, nil
}

// windowStart returns now minus n units. Windows too long for a
// time.Duration saturate: a huge n reaches back to the zero time.
func windowStart(now time.Time, n int, unit time.Duration) time.Time {
	limit := int64(math.MaxInt64) / int64(unit)
	switch {
	case int64(n) > limit:
		return time.Time{}
	case int64(n) < -limit:
		n = int(-limit)
	}
	return now.Add(-time.Duration(n) * unit)
}

func since(records []types.Record, cutoff time.Time) []types.Record {
	var out []types.Record
	for _, r := range records {
		if !r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func timeRange(records []types.Record) (first, last time.Time) {
	first, last = records[0].Timestamp, records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp.Before(first) {
			first = r.Timestamp
		}
		if r.Timestamp.After(last) {
			last = r.Timestamp
		}
	}
	return first, last
}
