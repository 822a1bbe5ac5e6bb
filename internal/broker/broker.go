// Package broker connects to NATS and optionally runs an embedded server.
package broker

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
)

// Subjects derived from a prefix.
func DetectionsSubject(prefix string) string { return prefix + ".detections" }
func RecordsSubject(prefix string) string    { return prefix + ".records" }
func NewPersonSubject(prefix string) string  { return prefix + ".people.new" }

// EmbeddedOptions configures StartEmbedded.
type EmbeddedOptions struct {
	Host  string
	Port  int // -1 picks a random port
	Token string
}

// StartEmbedded starts an in-process NATS server and waits until it accepts
// connections.
func StartEmbedded(o EmbeddedOptions) (*server.Server, error) {
	host := o.Host
	if host == "" {
		host = "127.0.0.1"
	}
	opts := &server.Options{
		Host:          host,
		Port:          o.Port,
		Authorization: o.Token,
		NoLog:         true,
		NoSigs:        true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("error creating nats server: %w", err)
	}

	authEnabled := "no"
	if o.Token != "" {
		authEnabled = "yes"
	}
	logger.Info("NATS", "Starting embedded server on %s:%d, auth enabled: %s", host, o.Port, authEnabled)

	ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready")
	}
	return ns, nil
}

// Connect dials url and reconnects forever, logging connection changes.
func Connect(url, token, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS", "Disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS", "Reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS", "Async error on %q: %v", subject, err)
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats %s: %w", url, err)
	}
	logger.Info("NATS", "Connected to %s", nc.ConnectedUrl())
	return nc, nil
}
