package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mehmetymw/typedupe/internal/dialect"
	typerr "github.com/mehmetymw/typedupe/internal/errors"
	"github.com/mehmetymw/typedupe/internal/stream"
)

type DestinationConfig struct {
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
	// RawTableDatabase is the namespace holding raw tables and the state table.
	RawTableDatabase string `yaml:"raw_table_database"`
	DefaultNamespace string `yaml:"default_namespace"`
}

type StateConfig struct {
	Type string `yaml:"type"` // table, file or memory
	Dir  string `yaml:"dir"`
}

type SyncConfig struct {
	Parallelism    int    `yaml:"parallelism"`
	Schedule       string `yaml:"schedule"`
	ForceSoftReset bool   `yaml:"force_soft_reset"`
	// RequestSoftReset leaves every stream flagged for a soft reset on its next pass.
	RequestSoftReset bool `yaml:"request_soft_reset"`
}

type KafkaReport struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type ReportConfig struct {
	Type  string      `yaml:"type"` // log or kafka
	Kafka KafkaReport `yaml:"kafka"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Destination DestinationConfig `yaml:"destination"`
	CatalogPath string            `yaml:"catalog_path"`
	State       StateConfig       `yaml:"state"`
	Sync        SyncConfig        `yaml:"sync"`
	Report      ReportConfig      `yaml:"report"`
	HTTP        HTTPConfig        `yaml:"http"`
	Log         LogConfig         `yaml:"log"`
}

func LoadFromEnv() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		return Config{}, typerr.Wrap(typerr.Config, "locate configuration", errors.New("CONFIG_PATH is not set"))
	}
	return Load(path)
}

// Load reads path, or CONFIG_PATH when path is empty.
func Load(path string) (Config, error) {
	if path == "" {
		return LoadFromEnv()
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, typerr.Wrap(typerr.Config, "read "+path, err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, typerr.Wrap(typerr.Config, "parse "+path, err)
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Destination.RawTableDatabase == "" {
		c.Destination.RawTableDatabase = stream.DefaultRawNamespace
	}
	if c.Destination.DefaultNamespace == "" {
		c.Destination.DefaultNamespace = "public"
	}
	if c.State.Type == "" {
		c.State.Type = "table"
	}
	if c.Sync.Parallelism <= 0 {
		c.Sync.Parallelism = 4
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "@every 15m"
	}
	if c.Report.Type == "" {
		c.Report.Type = "log"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports the first problem found as a config error.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return typerr.New(typerr.Config, fmt.Sprintf(format, args...))
	}
	if _, err := dialect.ByName(c.Destination.Dialect); err != nil {
		return typerr.Wrap(typerr.Config, "destination.dialect", err)
	}
	if c.Destination.DSN == "" {
		return invalid("destination.dsn is required")
	}
	if c.CatalogPath == "" {
		return invalid("catalog_path is required")
	}
	switch c.State.Type {
	case "table", "memory":
	case "file":
		if c.State.Dir == "" {
			return invalid("state.dir is required for file state")
		}
	default:
		return invalid("unknown state.type %q", c.State.Type)
	}
	switch c.Report.Type {
	case "log":
	case "kafka":
		if len(c.Report.Kafka.Brokers) == 0 || c.Report.Kafka.Topic == "" {
			return invalid("report.kafka.brokers and report.kafka.topic are required")
		}
	default:
		return invalid("unknown report.type %q", c.Report.Type)
	}
	return nil
}

// Namer returns the identifier rules for the configured destination.
func (c Config) Namer(d dialect.Dialect) stream.Namer {
	return stream.Namer{
		MaxLength:        d.MaxIdentifierLength(),
		RawNamespace:     c.Destination.RawTableDatabase,
		DefaultNamespace: c.Destination.DefaultNamespace,
	}
}
