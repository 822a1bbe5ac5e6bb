package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
)

// NATS subscribes to JSON frames on a subject.
type NATS struct {
	Conn    *nats.Conn
	Subject string

	queue *Queue
}

// NewNATS creates a NATS source.
func NewNATS(nc *nats.Conn, subject string, q *Queue) *NATS {
	return &NATS{Conn: nc, Subject: subject, queue: q}
}

// Name identifies the source in logs.
func (n *NATS) Name() string { return "nats:" + n.Subject }

// Run subscribes and blocks until ctx is cancelled.
func (n *NATS) Run(ctx context.Context) error {
	sub, err := n.Conn.Subscribe(n.Subject, func(msg *nats.Msg) {
		f, err := DecodeJSON(msg.Data)
		if err != nil {
			n.queue.malformed(n.Subject, err)
			return
		}
		if f.Source == "" {
			f.Source = n.Subject
		}
		n.queue.Push(f)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.Subject, err)
	}
	logger.Info("Ingest", "Subscribed to %s", n.Subject)

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && n.Conn.IsConnected() {
		logger.Warn("Ingest", "Unsubscribe %s: %v", n.Subject, err)
	}
	return nil
}

// Lines reads one JSON frame per line, typically from stdin.
type Lines struct {
	Reader io.Reader
	Label  string

	queue *Queue
}

// NewLines creates a line source.
func NewLines(r io.Reader, label string, q *Queue) *Lines {
	return &Lines{Reader: r, Label: label, queue: q}
}

// Name identifies the source in logs.
func (l *Lines) Name() string { return "lines:" + l.Label }

// Run reads until EOF or ctx is cancelled. EOF returns nil.
func (l *Lines) Run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(l.Reader)
		scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			f, err := DecodeJSON([]byte(line))
			if err != nil {
				l.queue.malformed(l.Label, err)
				continue
			}
			if f.Source == "" {
				f.Source = l.Label
			}
			if l.queue.PushWait(ctx, f) != nil {
				done <- nil
				return
			}
		}
		done <- scanner.Err()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		if err != nil {
			return fmt.Errorf("read %s: %w", l.Label, err)
		}
		logger.Info("Ingest", "Input %s closed", l.Label)
		return nil
	}
}
