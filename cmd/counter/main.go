package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/run"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/broker"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/config"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/counter"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/csvlog"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/ingest"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/live"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/publish"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/store"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/webrtc"
)

// source is a frame producer that runs until ctx is done.
type source interface {
	Run(ctx context.Context) error
	Name() string
}

func main() {
	configPath := config.PathFromArgs(os.Args[1:])
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var ingestCmd, stun string
	flag.StringVar(&configPath, "config", configPath, "YAML config file")
	flag.StringVar(&cfg.CSVPath, "csv", cfg.CSVPath, "CSV log path")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite mirror path (empty disables)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics server address (empty disables)")
	flag.StringVar(&cfg.PprofAddr, "pprof", cfg.PprofAddr, "pprof server address (empty disables)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&cfg.LogColor, "log-color", cfg.LogColor, "Enable colored log output")
	flag.StringVar(&cfg.Counter.Label, "label", cfg.Counter.Label, "Detection label to count")
	flag.Float64Var(&cfg.Counter.MinConfidence, "min-confidence", cfg.Counter.MinConfidence, "Minimum detection confidence")
	flag.StringVar(&cfg.Ingest.Mode, "ingest", cfg.Ingest.Mode, "Frame source (process, nats, stdin, http)")
	flag.StringVar(&ingestCmd, "ingest-cmd", strings.Join(cfg.Ingest.Command, " "), "Detector command for process mode")
	flag.IntVar(&cfg.Ingest.QueueSize, "queue", cfg.Ingest.QueueSize, "Frame queue size")
	flag.StringVar(&cfg.NATS.URL, "nats", cfg.NATS.URL, "NATS server URL")
	flag.StringVar(&cfg.NATS.SubjectPrefix, "nats-prefix", cfg.NATS.SubjectPrefix, "NATS subject prefix")
	flag.BoolVar(&cfg.NATS.Embedded, "nats-embedded", cfg.NATS.Embedded, "Run an embedded NATS server")
	flag.IntVar(&cfg.NATS.EmbeddedPort, "nats-port", cfg.NATS.EmbeddedPort, "Embedded NATS server port")
	flag.StringVar(&cfg.NATS.Token, "nats-token", cfg.NATS.Token, "NATS auth token")
	flag.StringVar(&cfg.Live.Addr, "http", cfg.Live.Addr, "Live HTTP server address")
	flag.IntVar(&cfg.Live.MaxClients, "max-clients", cfg.Live.MaxClients, "Maximum WebRTC clients")
	flag.StringVar(&stun, "stun", strings.Join(cfg.Live.STUNServers, ","), "STUN server URLs (comma-separated)")
	flag.StringVar(&cfg.Live.AllowOrigin, "allow-origin", cfg.Live.AllowOrigin, "CORS allowed origin (empty disables)")
	flag.Parse()

	cfg.Ingest.Command = strings.Fields(ingestCmd)
	cfg.Live.STUNServers = splitList(stun)

	// Initialize logger
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logger.Info("Main", "People counter starting...")
	logger.Info("Main", "  CSV log: %s", cfg.CSVPath)
	logger.Info("Main", "  Ingest: %s", cfg.Ingest.Mode)
	logger.Info("Main", "  Live HTTP: %s", cfg.Live.Addr)
	logger.Info("Main", "  Log level: %s", level)

	if err := runCounter(cfg); err != nil {
		var sig run.SignalError
		if errors.As(err, &sig) {
			logger.Info("Main", "Received %v, stopped", sig.Signal)
			return
		}
		log.Fatalf("Counter stopped: %v", err)
	}
}

func runCounter(cfg config.Config) error {
	m := metrics.New()

	csvWriter, err := csvlog.Open(cfg.CSVPath)
	if err != nil {
		return err
	}
	defer csvWriter.Close()
	sinks := []counter.Sink{csvWriter}

	if cfg.DBPath != "" {
		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		sinks = append(sinks, db)
		logger.Info("Main", "  SQLite mirror: %s", cfg.DBPath)
	}

	var g run.Group
	g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	natsURL := cfg.NATSURL()
	if cfg.NATS.Embedded {
		ns, err := broker.StartEmbedded(broker.EmbeddedOptions{
			Port:  cfg.NATS.EmbeddedPort,
			Token: cfg.NATS.Token,
		})
		if err != nil {
			return err
		}
		natsURL = ns.ClientURL()
		g.Add(func() error {
			ns.WaitForShutdown()
			return nil
		}, func(error) {
			ns.Shutdown()
		})
	}

	opts := []counter.Option{counter.WithMetrics(m)}
	var nc *nats.Conn
	if natsURL != "" {
		nc, err = broker.Connect(natsURL, cfg.NATS.Token, "people-counter")
		if err != nil {
			return err
		}
		defer nc.Close()
		pub := publish.New(nc, cfg.NATS.SubjectPrefix, m)
		sinks = append(sinks, pub)
		opts = append(opts, counter.WithNewPersonHook(pub.PublishNew))
	}

	broadcaster := live.NewBroadcaster(m)
	rtc := webrtc.NewServer(webrtc.Options{
		STUNServers: cfg.Live.STUNServers,
		MaxClients:  cfg.Live.MaxClients,
		Metrics:     m,
	})
	broadcaster.Forward(func(ev *live.SerializedEvent) { rtc.Broadcast(ev.JSONData) })

	opts = append(opts, counter.WithSinks(sinks...), counter.WithSnapshotHook(broadcaster.Publish))
	c := counter.New(counter.Config{
		Label:         cfg.Counter.Label,
		MinConfidence: cfg.Counter.MinConfidence,
		DebugInterval: cfg.Counter.DebugInterval,
	}, opts...)

	queue := ingest.NewQueue(cfg.Ingest.QueueSize, m)

	var src source
	switch cfg.Ingest.Mode {
	case config.IngestProcess:
		src = ingest.NewProcess(cfg.Ingest.Command, queue)
	case config.IngestNATS:
		src = ingest.NewNATS(nc, broker.DetectionsSubject(cfg.NATS.SubjectPrefix), queue)
	case config.IngestStdin:
		src = ingest.NewLines(os.Stdin, "stdin", queue)
	}
	if src != nil {
		addContext(&g, func(ctx context.Context) error {
			logger.Info("Ingest", "Reading frames from %s", src.Name())
			err := src.Run(ctx)
			logger.Info("Ingest", "Source %s finished", src.Name())
			return err
		})
	}

	addContext(&g, func(ctx context.Context) error {
		return consume(ctx, c, queue, cfg.Counter.TickInterval)
	})
	addContext(&g, func(ctx context.Context) error {
		return broadcaster.Run(ctx, cfg.Live.StatusInterval, c.Snapshot)
	})

	liveServer := live.NewServer(live.Config{
		Addr:        cfg.Live.Addr,
		AllowOrigin: cfg.Live.AllowOrigin,
	}, c, broadcaster, live.WithQueue(queue), live.WithWebRTC(rtc), live.WithMetrics(m))
	addHTTP(&g, "Live", liveServer.HTTPServer())
	rtcDone := make(chan struct{})
	g.Add(func() error {
		<-rtcDone
		return nil
	}, func(error) {
		rtc.Close()
		close(rtcDone)
	})

	if cfg.MetricsAddr != "" {
		addHTTP(&g, "Metrics", m.Server(cfg.MetricsAddr))
	}
	if cfg.PprofAddr != "" {
		addHTTP(&g, "pprof", &http.Server{Addr: cfg.PprofAddr, Handler: http.DefaultServeMux})
	}

	err = g.Run()
	logger.Info("Main", "Logged %d rows to %s", csvWriter.Rows(), csvWriter.Path())
	return err
}

// consume feeds queued frames to the counter and ticks it so idle minutes
// still roll over. On shutdown it drains frames already queued.
func consume(ctx context.Context, c *counter.Counter, q *ingest.Queue, tick time.Duration) error {
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case f := <-q.Frames():
					c.Process(f)
				default:
					return nil
				}
			}
		case f := <-q.Frames():
			c.Process(f)
		case now := <-ticker.C:
			c.Tick(now)
		}
	}
}

// addContext runs fn until the group is interrupted.
func addContext(g *run.Group, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	g.Add(func() error {
		return fn(ctx)
	}, func(error) {
		cancel()
	})
}

func addHTTP(g *run.Group, name string, srv *http.Server) {
	g.Add(func() error {
		logger.Info("Main", "Starting %s server on %s", name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("Main", "%s server shutdown: %v", name, err)
		}
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
