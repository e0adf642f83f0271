// Package config loads and validates the service configuration from YAML or
// JSON5 files with environment-variable expansion.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Queue    QueueConfig    `yaml:"queue" json:"queue"`
	Provider ProviderConfig `yaml:"provider" json:"provider"`
	Audit    AuditConfig    `yaml:"audit" json:"audit"`
	Gates    GatesConfig    `yaml:"gates" json:"gates"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host" json:"host"`
	HTTPPort    int    `yaml:"http_port" json:"http_port"`
	MetricsPort int    `yaml:"metrics_port" json:"metrics_port"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

type QueueConfig struct {
	// Backend is "memory" or "amqp".
	Backend     string `yaml:"backend" json:"backend"`
	URL         string `yaml:"url" json:"url"`
	Exchange    string `yaml:"exchange" json:"exchange"`
	QueueName   string `yaml:"queue_name" json:"queue_name"`
	RoutingKey  string `yaml:"routing_key" json:"routing_key"`
	Concurrency int    `yaml:"concurrency" json:"concurrency"`
	Buffer      int    `yaml:"buffer" json:"buffer"`
}

type ProviderConfig struct {
	Model   string        `yaml:"model" json:"model"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type AuditConfig struct {
	// FileDir enables the JSONL file sink when set.
	FileDir string `yaml:"file_dir" json:"file_dir"`
}

type GatesConfig struct {
	Maintenance       bool     `yaml:"maintenance" json:"maintenance"`
	MaintenanceNotice string   `yaml:"maintenance_notice" json:"maintenance_notice"`
	AllowList         []string `yaml:"allow_list" json:"allow_list"`
	Hosted            bool     `yaml:"hosted" json:"hosted"`
	Testing           bool     `yaml:"testing" json:"testing"`
	ForwardURL        string   `yaml:"forward_url" json:"forward_url"`
}

type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" json:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format" json:"format"`
}

// Default returns a runnable configuration for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			HTTPPort:    8080,
			MetricsPort: 9090,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "atende.db",
		},
		Queue: QueueConfig{
			Backend:     "memory",
			Exchange:    "atende",
			QueueName:   "atende.jobs",
			RoutingKey:  "jobs",
			Concurrency: 3,
			Buffer:      256,
		},
		Provider: ProviderConfig{
			Model:   "gpt-4.1",
			Timeout: 120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration and fills unset fields from defaults.
func (c *Config) Validate() error {
	def := Default()
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = def.Server.HTTPPort
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = def.Server.MetricsPort
	}
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}

	switch c.Database.Driver {
	case "":
		c.Database.Driver = def.Database.Driver
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		c.Database.DSN = def.Database.DSN
	}

	switch c.Queue.Backend {
	case "":
		c.Queue.Backend = def.Queue.Backend
	case "memory":
	case "amqp":
		if c.Queue.URL == "" {
			return fmt.Errorf("queue.url is required for the amqp backend")
		}
	default:
		return fmt.Errorf("queue.backend must be memory or amqp, got %q", c.Queue.Backend)
	}
	if c.Queue.Exchange == "" {
		c.Queue.Exchange = def.Queue.Exchange
	}
	if c.Queue.QueueName == "" {
		c.Queue.QueueName = def.Queue.QueueName
	}
	if c.Queue.RoutingKey == "" {
		c.Queue.RoutingKey = def.Queue.RoutingKey
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = def.Queue.Concurrency
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = def.Queue.Buffer
	}

	if c.Provider.Model == "" {
		c.Provider.Model = def.Provider.Model
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = def.Provider.Timeout
	}

	switch c.Logging.Level {
	case "":
		c.Logging.Level = def.Logging.Level
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "":
		c.Logging.Format = def.Logging.Format
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	return nil
}
