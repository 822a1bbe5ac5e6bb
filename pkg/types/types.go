package types

import "time"

// BBox is a detection bounding box in pixels (or normalized units, as the detector reports it)
type BBox struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	W float64 `json:"w" msgpack:"w"`
	H float64 `json:"h" msgpack:"h"`
}

// Detection is a single object reported by the inference pipeline
type Detection struct {
	Label      string  `json:"label" msgpack:"label"`
	Confidence float64 `json:"confidence" msgpack:"confidence"`
	TrackID    *int64  `json:"track_id,omitempty" msgpack:"track_id,omitempty"` // nil when the tracker assigned none
	BBox       BBox    `json:"bbox" msgpack:"bbox"`
}

// Frame groups the detections of one video frame
type Frame struct {
	Seq        uint64      `json:"seq" msgpack:"seq"`
	Timestamp  time.Time   `json:"timestamp" msgpack:"timestamp"`
	Source     string      `json:"source,omitempty" msgpack:"source,omitempty"`
	Detections []Detection `json:"detections" msgpack:"detections"`
}

// Record is one row of the people count log
type Record struct {
	Timestamp         time.Time `json:"Timestamp"`
	Minute            int64     `json:"Minute"`
	Hour              int64     `json:"Hour"`
	Day               int64     `json:"Day"`
	PeopleThisMinute  int       `json:"People_This_Minute"`
	PeopleThisHour    int       `json:"People_This_Hour"`
	PeopleThisDay     int       `json:"People_This_Day"`
	TotalUniquePeople int       `json:"Total_Unique_People"`
}

// Columns is the CSV header of the people count log
var Columns = []string{
	"Timestamp",
	"Minute",
	"Hour",
	"Day",
	"People_This_Minute",
	"People_This_Hour",
	"People_This_Day",
	"Total_Unique_People",
}

// Epoch bucket indices, aligned to UTC like the log's Minute/Hour/Day columns
func MinuteIndex(t time.Time) int64 { return t.Unix() / 60 }
func HourIndex(t time.Time) int64   { return t.Unix() / 3600 }
func DayIndex(t time.Time) int64    { return t.Unix() / 86400 }

// TrackID returns a pointer usable as Detection.TrackID
func TrackID(id int64) *int64 {
	return &id
}
