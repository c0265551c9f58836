package mainthread

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Swind/go-mainthread/core"
)

// Config describes the process-wide instance created by Init.
//
// The serializable fields can be loaded from YAML with LoadConfig; the
// handler fields are set in code.
type Config struct {
	// Workers is the number of goroutines serving Background tasks.
	Workers int `yaml:"workers,omitempty"`

	// Synchronous flattens routines within the drain instead of stepping
	// them across ticks.
	Synchronous bool `yaml:"synchronous,omitempty"`

	// MaxFlattenSteps bounds each synchronous flattening run.
	MaxFlattenSteps int `yaml:"max_flatten_steps,omitempty"`

	// TickInterval is the pump cadence used by RunMainLoop.
	TickInterval time.Duration `yaml:"tick_interval,omitempty"`

	// MetricsNamespace prefixes exported Prometheus metrics.
	MetricsNamespace string `yaml:"metrics_namespace,omitempty"`

	// ReportFaults posts an error log record for every faulted task.
	ReportFaults bool `yaml:"report_faults,omitempty"`

	Logger          core.Logger          `yaml:"-"`
	Sink            core.LogSink         `yaml:"-"`
	Metrics         core.Metrics         `yaml:"-"`
	PanicHandler    core.PanicHandler    `yaml:"-"`
	RejectedHandler core.RejectedHandler `yaml:"-"`
	Driver          core.RoutineDriver   `yaml:"-"`
}

// DefaultConfig returns the configuration used when Init is given nil.
func DefaultConfig() *Config {
	return &Config{
		Workers:          4,
		MaxFlattenSteps:  core.DefaultMaxSteps,
		TickInterval:     core.DefaultTickInterval,
		MetricsNamespace: "mainthread",
	}
}

// LoadConfig reads a YAML config file. Fields missing from the file keep
// their DefaultConfig values; unknown fields are an error.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML config data on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the serializable fields.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.MaxFlattenSteps < 0 {
		return fmt.Errorf("max_flatten_steps must not be negative, got %d", c.MaxFlattenSteps)
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("tick_interval must not be negative, got %v", c.TickInterval)
	}
	return nil
}

// DispatcherConfig converts c into the core dispatcher configuration.
func (c *Config) DispatcherConfig() *core.DispatcherConfig {
	return &core.DispatcherConfig{
		Logger:          c.Logger,
		Sink:            c.Sink,
		Metrics:         c.Metrics,
		PanicHandler:    c.PanicHandler,
		RejectedHandler: c.RejectedHandler,
		Driver:          c.Driver,
		Synchronous:     c.Synchronous,
		MaxFlattenSteps: c.MaxFlattenSteps,
	}
}

func (c *Config) schedulerConfig() *core.WorkSchedulerConfig {
	return &core.WorkSchedulerConfig{
		PanicHandler:    c.PanicHandler,
		Metrics:         c.Metrics,
		RejectedHandler: c.RejectedHandler,
	}
}
