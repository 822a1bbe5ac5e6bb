// Package publish sends count records and new-person events to NATS.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/broker"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/counter"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

// RecordEvent is published for every log row.
type RecordEvent struct {
	Timestamp         time.Time `json:"timestamp"`
	Minute            int64     `json:"minute"`
	Hour              int64     `json:"hour"`
	Day               int64     `json:"day"`
	PeopleThisMinute  int       `json:"people_this_minute"`
	PeopleThisHour    int       `json:"people_this_hour"`
	PeopleThisDay     int       `json:"people_this_day"`
	TotalUniquePeople int       `json:"total_unique_people"`
}

// NewPersonEvent is published the first time a track ID is counted.
type NewPersonEvent struct {
	Timestamp         time.Time `json:"timestamp"`
	TrackID           int64     `json:"track_id"`
	Label             string    `json:"label"`
	Confidence        float64   `json:"confidence"`
	TotalUniquePeople int       `json:"total_unique_people"`
}

// Publisher is a counter.Sink that mirrors records onto NATS.
type Publisher struct {
	nc      *nats.Conn
	prefix  string
	metrics *metrics.Metrics
}

// New creates a publisher using subjects under prefix. m may be nil.
func New(nc *nats.Conn, prefix string, m *metrics.Metrics) *Publisher {
	return &Publisher{nc: nc, prefix: prefix, metrics: m}
}

// Append implements counter.Sink.
func (p *Publisher) Append(r types.Record) error {
	return p.publish(broker.RecordsSubject(p.prefix), RecordEvent{
		Timestamp:         r.Timestamp,
		Minute:            r.Minute,
		Hour:              r.Hour,
		Day:               r.Day,
		PeopleThisMinute:  r.PeopleThisMinute,
		PeopleThisHour:    r.PeopleThisHour,
		PeopleThisDay:     r.PeopleThisDay,
		TotalUniquePeople: r.TotalUniquePeople,
	})
}

// PublishNew announces a newly counted person. It matches the signature of
// counter.WithNewPersonHook; failures are logged.
func (p *Publisher) PublishNew(np counter.NewPerson) {
	err := p.publish(broker.NewPersonSubject(p.prefix), NewPersonEvent{
		Timestamp:         np.Snapshot.Timestamp,
		TrackID:           np.TrackID,
		Label:             np.Label,
		Confidence:        np.Confidence,
		TotalUniquePeople: np.Snapshot.TotalUniquePeople,
	})
	if err != nil {
		logger.Warn("Publish", "New person event for id=%d: %v", np.TrackID, err)
	}
}

func (p *Publisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", subject, err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	if p.metrics != nil {
		p.metrics.PublishedEvents.Add(1)
	}
	return nil
}
