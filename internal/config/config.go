package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Ingest modes
const (
	IngestProcess = "process"
	IngestNATS    = "nats"
	IngestStdin   = "stdin"
	IngestHTTP    = "http"
)

// Dashboard data sources
const (
	SourceCSV    = "csv"
	SourceSQLite = "sqlite"
)

// Config defines the runtime configuration shared by the counter and the dashboard.
type Config struct {
	CSVPath     string `yaml:"csv_path"`
	DBPath      string `yaml:"db_path"` // empty disables the SQLite mirror
	MetricsAddr string `yaml:"metrics_addr"`
	PprofAddr   string `yaml:"pprof_addr"`
	LogLevel    string `yaml:"log_level"`
	LogColor    bool   `yaml:"log_color"`

	Counter   CounterConfig   `yaml:"counter"`
	Ingest    IngestConfig    `yaml:"ingest"`
	NATS      NATSConfig      `yaml:"nats"`
	Live      LiveConfig      `yaml:"live"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// CounterConfig tunes which detections count as people.
type CounterConfig struct {
	Label         string        `yaml:"label"`
	MinConfidence float64       `yaml:"min_confidence"`
	DebugInterval time.Duration `yaml:"debug_interval"`
	TickInterval  time.Duration `yaml:"tick_interval"`
}

// IngestConfig selects where detection frames come from.
type IngestConfig struct {
	Mode      string   `yaml:"mode"`
	Command   []string `yaml:"command"` // detector worker argv for process mode
	QueueSize int      `yaml:"queue_size"`
}

// NATSConfig configures the broker connection used for ingest and publishing.
type NATSConfig struct {
	URL           string `yaml:"url"` // empty disables publishing
	SubjectPrefix string `yaml:"subject_prefix"`
	Embedded      bool   `yaml:"embedded"`
	EmbeddedPort  int    `yaml:"embedded_port"`
	Token         string `yaml:"token"`
}

// LiveConfig configures the counter's HTTP surface.
type LiveConfig struct {
	Addr           string        `yaml:"addr"`
	StatusInterval time.Duration `yaml:"status_interval"`
	MaxClients     int           `yaml:"max_clients"`
	STUNServers    []string      `yaml:"stun_servers"`
	AllowOrigin    string        `yaml:"allow_origin"`
}

// DashboardConfig configures the reporting server.
type DashboardConfig struct {
	Addr       string `yaml:"addr"`
	Source     string `yaml:"source"`
	ChartsDir  string `yaml:"charts_dir"`
	APIBaseURL string `yaml:"api_base_url"` // empty serves /api/people-data from the local source
	Camera     int    `yaml:"camera"`       // camera device index, negative disables the timelapse
}

// Default returns a config aligned with the Python deployment (CSV next to the
// counter, API on 8000, dashboard on 5000).
func Default() Config {
	return Config{
		CSVPath:     "people_count_log.csv",
		MetricsAddr: ":9090",
		PprofAddr:   "",
		LogLevel:    "info",
		LogColor:    true,
		Counter: CounterConfig{
			Label:         "person",
			MinConfidence: 0.70,
			DebugInterval: 10 * time.Second,
			TickInterval:  time.Second,
		},
		Ingest: IngestConfig{
			Mode:      IngestStdin,
			QueueSize: 30,
		},
		NATS: NATSConfig{
			SubjectPrefix: "peoplecounter",
			EmbeddedPort:  4222,
		},
		Live: LiveConfig{
			Addr:           ":8081",
			StatusInterval: 2 * time.Second,
			MaxClients:     10,
			STUNServers:    []string{"stun:stun.l.google.com:19302"},
			AllowOrigin:    "*",
		},
		Dashboard: DashboardConfig{
			Addr:      ":8000",
			Source:    SourceCSV,
			ChartsDir: "charts",
			Camera:    -1,
		},
	}
}

// Load reads a YAML file over the defaults. Fields absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c Config) Validate() error {
	var problems []string

	if c.CSVPath == "" {
		problems = append(problems, "csv_path is required")
	}
	if c.Counter.MinConfidence < 0 || c.Counter.MinConfidence > 1 {
		problems = append(problems, fmt.Sprintf("counter.min_confidence %.2f out of [0,1]", c.Counter.MinConfidence))
	}
	if c.Counter.Label == "" {
		problems = append(problems, "counter.label is required")
	}
	switch c.Ingest.Mode {
	case IngestProcess:
		if len(c.Ingest.Command) == 0 {
			problems = append(problems, "ingest.command is required in process mode")
		}
	case IngestNATS:
		if c.NATS.URL == "" && !c.NATS.Embedded {
			problems = append(problems, "nats.url or nats.embedded is required in nats mode")
		}
	case IngestStdin, IngestHTTP:
	default:
		problems = append(problems, fmt.Sprintf("unknown ingest.mode %q", c.Ingest.Mode))
	}
	if c.Ingest.QueueSize <= 0 {
		problems = append(problems, "ingest.queue_size must be positive")
	}
	switch c.Dashboard.Source {
	case SourceCSV:
	case SourceSQLite:
		if c.DBPath == "" {
			problems = append(problems, "db_path is required for the sqlite source")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown dashboard.source %q", c.Dashboard.Source))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// NATSURL returns the broker URL, pointing at the embedded server when enabled.
func (c Config) NATSURL() string {
	if c.NATS.URL != "" {
		return c.NATS.URL
	}
	if c.NATS.Embedded {
		return fmt.Sprintf("nats://127.0.0.1:%d", c.NATS.EmbeddedPort)
	}
	return ""
}

// PathFromArgs finds the -config value in args so the file can be loaded
// before the remaining flags are bound over it.
func PathFromArgs(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
