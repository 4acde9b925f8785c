// Package config resolves agentflow settings once at startup from a YAML
// file, optional .env files and AGENTFLOW_* environment variables, and builds
// the logger, memory store, tracer provider and engine options from them.
//
// Precedence, lowest first: defaults, YAML file, environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/engine"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/memory"
	"github.com/hupe1980/agentflow/memory/sqlite"
	"github.com/hupe1980/agentflow/telemetry"
)

// EnvProduction is the environment name that enables telemetry by default.
const EnvProduction = "production"

// Memory backends.
const (
	MemoryNone   = "none"
	MemoryInProc = "memory"
	MemorySQLite = "sqlite"
)

// Config is the resolved configuration.
type Config struct {
	// Environment names the deployment, e.g. "development" or "production".
	Environment string          `yaml:"environment"`
	Logging     LoggingConfig   `yaml:"logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Memory      MemoryConfig    `yaml:"memory"`
	Engine      EngineConfig    `yaml:"engine"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // json or text
	AddSource bool   `yaml:"add_source"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// Enabled overrides the environment based default when set.
	Enabled       *bool             `yaml:"enabled"`
	FunctionID    string            `yaml:"function_id"`
	Metadata      map[string]string `yaml:"metadata"`
	RecordInputs  *bool             `yaml:"record_inputs"`
	RecordOutputs *bool             `yaml:"record_outputs"`

	ServiceName string            `yaml:"service_name"`
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	SampleRate  float64           `yaml:"sample_rate"`
}

// MemoryConfig selects the agent memory backend.
type MemoryConfig struct {
	Backend string `yaml:"backend"`
	// Path of the SQLite database file.
	Path string `yaml:"path"`
}

// EngineConfig tunes the engine.
type EngineConfig struct {
	MaxParallelTools    int  `yaml:"max_parallel_tools"`
	SerializeMemoryKeys bool `yaml:"serialize_memory_keys"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Environment: "development",
		Logging:     LoggingConfig{Level: "info", Format: "json"},
		Telemetry:   TelemetryConfig{ServiceName: "agentflow", SampleRate: 1},
		Memory:      MemoryConfig{Backend: MemoryInProc, Path: "agentflow.db"},
	}
}

// Parse decodes YAML on top of Default and validates the result. Environment
// overrides are not applied.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOptions configure Load.
type LoadOptions struct {
	// DotEnvFiles are loaded into the process environment before overrides
	// are read. Missing files are ignored. Variables already set win.
	DotEnvFiles []string
	// LookupEnv reads environment variables. Defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

// Load reads the YAML file at path (skipped when path is empty), then applies
// environment overrides.
func Load(path string, optFns ...func(o *LoadOptions)) (*Config, error) {
	opts := LoadOptions{LookupEnv: os.LookupEnv}

	for _, fn := range optFns {
		fn(&opts)
	}

	for _, f := range opts.DotEnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(opts.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	boolean := func(key string, set func(bool)) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}

		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}

		set(b)

		return nil
	}

	str("AGENTFLOW_ENV", &c.Environment)
	str("AGENTFLOW_LOG_LEVEL", &c.Logging.Level)
	str("AGENTFLOW_LOG_FORMAT", &c.Logging.Format)
	str("AGENTFLOW_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	str("AGENTFLOW_SERVICE_NAME", &c.Telemetry.ServiceName)
	str("AGENTFLOW_MEMORY_BACKEND", &c.Memory.Backend)
	str("AGENTFLOW_MEMORY_PATH", &c.Memory.Path)

	if err := boolean("AGENTFLOW_TELEMETRY", func(b bool) { c.Telemetry.Enabled = telemetry.Bool(b) }); err != nil {
		return err
	}

	if err := boolean("AGENTFLOW_OTLP_INSECURE", func(b bool) { c.Telemetry.Insecure = b }); err != nil {
		return err
	}

	if err := boolean("AGENTFLOW_SERIALIZE_MEMORY_KEYS", func(b bool) { c.Engine.SerializeMemoryKeys = b }); err != nil {
		return err
	}

	if v, ok := lookup("AGENTFLOW_SAMPLE_RATE"); ok && v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("AGENTFLOW_SAMPLE_RATE: %w", err)
		}

		c.Telemetry.SampleRate = rate
	}

	if v, ok := lookup("AGENTFLOW_MAX_PARALLEL_TOOLS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENTFLOW_MAX_PARALLEL_TOOLS: %w", err)
		}

		c.Engine.MaxParallelTools = n
	}

	return nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}

	switch c.Memory.Backend {
	case "", MemoryNone, MemoryInProc:
	case MemorySQLite:
		if c.Memory.Path == "" {
			return errors.New("memory.path: required for the sqlite backend")
		}
	default:
		return fmt.Errorf("memory.backend: unknown backend %q", c.Memory.Backend)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate: %v is outside [0,1]", c.Telemetry.SampleRate)
	}

	if c.Engine.MaxParallelTools < 0 {
		return errors.New("engine.max_parallel_tools: must not be negative")
	}

	return nil
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// TelemetryEnabled resolves the engine-level telemetry toggle: the explicit
// setting when present, else whether the environment is production.
func (c *Config) TelemetryEnabled() bool {
	if c.Telemetry.Enabled != nil {
		return *c.Telemetry.Enabled
	}

	return c.IsProduction()
}

// TelemetryPolicy returns the engine telemetry policy.
func (c *Config) TelemetryPolicy() telemetry.Policy {
	if !c.TelemetryEnabled() {
		return telemetry.Enabled(false)
	}

	var md map[string]any
	if len(c.Telemetry.Metadata) > 0 {
		md = make(map[string]any, len(c.Telemetry.Metadata))
		for k, v := range c.Telemetry.Metadata {
			md[k] = v
		}
	}

	return telemetry.WithSettings(telemetry.Settings{
		Enabled:       telemetry.Bool(true),
		FunctionID:    c.Telemetry.FunctionID,
		Metadata:      md,
		RecordInputs:  c.Telemetry.RecordInputs,
		RecordOutputs: c.Telemetry.RecordOutputs,
	})
}

// NewLogger builds the structured logger writing to w, or stdout when w is
// nil.
func (c *Config) NewLogger(w io.Writer) *logging.StructuredLogger {
	level, _ := logging.ParseLevel(c.Logging.Level)

	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    c.Logging.Format,
		Output:    w,
		AddSource: c.Logging.AddSource,
		Attrs:     map[string]any{"env": c.Environment},
	})
}

// NewMemoryStore opens the configured memory backend. The returned close
// function is never nil. A nil store means memory is disabled.
func (c *Config) NewMemoryStore() (core.MemoryStore, func() error, error) {
	noop := func() error { return nil }

	switch c.Memory.Backend {
	case MemoryNone:
		return nil, noop, nil
	case MemorySQLite:
		s, err := sqlite.Open(c.Memory.Path)
		if err != nil {
			return nil, noop, err
		}

		return s, s.Close, nil
	default:
		return memory.NewInMemoryStore(), noop, nil
	}
}

// NewTracerProvider builds an OTLP tracer provider. It returns nil when
// telemetry is disabled.
func (c *Config) NewTracerProvider(ctx context.Context) (*sdktrace.TracerProvider, error) {
	if !c.TelemetryEnabled() {
		return nil, nil
	}

	return telemetry.NewTracerProvider(ctx, telemetry.ExporterConfig{
		ServiceName: c.Telemetry.ServiceName,
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		Headers:     c.Telemetry.Headers,
		SampleRate:  c.Telemetry.SampleRate,
		SetGlobal:   true,
	})
}

// EngineOptions returns an engine option applying this configuration.
func (c *Config) EngineOptions(logger logging.Logger) func(o *engine.Options) {
	return func(o *engine.Options) {
		o.Logger = logger
		o.Telemetry = c.TelemetryPolicy()
		o.MaxParallelTools = c.Engine.MaxParallelTools
		o.SerializeMemoryKeys = c.Engine.SerializeMemoryKeys
	}
}
