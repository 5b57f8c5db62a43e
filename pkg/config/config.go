// Package config provides configuration file support for the embedding
// server. It handles loading, validation, and environment variable
// interpolation for textembed.yaml configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Siddhant-K-code/textembed/pkg/engine"
	"github.com/Siddhant-K-code/textembed/pkg/executor"
)

// Config represents the full server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Models    []ModelConfig   `mapstructure:"models"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	QueueBound   int           `mapstructure:"queue_bound"`
}

// ModelConfig holds one engine's arguments.
type ModelConfig struct {
	Model           string `mapstructure:"model"`
	ServedModelName string `mapstructure:"served_model_name"`
	TrustRemoteCode *bool  `mapstructure:"trust_remote_code"`
	Workers         int    `mapstructure:"workers"`
	BatchSize       int    `mapstructure:"batch_size"`
	EmbeddingDtype  string `mapstructure:"embedding_dtype"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8000,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Auth: AuthConfig{
			APIKeys: []string{},
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "otlp",
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Load reads configuration from the given viper instance and returns
// a validated Config. Environment variables in string values are
// interpolated using ${VAR} syntax.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Interpolate environment variables in string fields
	interpolateConfig(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads a specific config file and returns a validated Config.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Load(v)
}

// EngineArgs converts the model list into engine argument records.
func (c *Config) EngineArgs() []engine.Args {
	argsList := make([]engine.Args, len(c.Models))
	for i, m := range c.Models {
		trust := true
		if m.TrustRemoteCode != nil {
			trust = *m.TrustRemoteCode
		}
		argsList[i] = engine.Args{
			Model:           m.Model,
			ServedModelName: m.ServedModelName,
			TrustRemoteCode: trust,
			Workers:         m.Workers,
			BatchSize:       m.BatchSize,
			EmbeddingDtype:  executor.EmbeddingDtype(m.EmbeddingDtype),
		}
	}
	return argsList
}

// Validate checks the configuration for errors and returns a descriptive
// error if any field is invalid.
func Validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port: must be between 0 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout: must be non-negative")
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout: must be non-negative")
	}
	if cfg.Server.QueueBound < 0 {
		errs = append(errs, "server.queue_bound: must be non-negative")
	}

	// Model validation
	seen := map[string]bool{}
	for i, m := range cfg.Models {
		if m.Model == "" {
			errs = append(errs, fmt.Sprintf("models[%d].model: is required", i))
		}
		if m.Workers < 0 {
			errs = append(errs, fmt.Sprintf("models[%d].workers: must be non-negative", i))
		}
		if m.BatchSize < 0 {
			errs = append(errs, fmt.Sprintf("models[%d].batch_size: must be non-negative", i))
		}
		if _, err := executor.ParseDtype(m.EmbeddingDtype); err != nil {
			errs = append(errs, fmt.Sprintf("models[%d].embedding_dtype: %v", i, err))
		}
		name := m.ServedModelName
		if name == "" {
			name = m.Model
		}
		if name != "" && seen[name] {
			errs = append(errs, fmt.Sprintf("models[%d].served_model_name: duplicate name %q", i, name))
		}
		seen[name] = true
	}

	// Telemetry validation
	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	if !validExporters[cfg.Telemetry.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.exporter: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Telemetry.Tracing.Exporter))
	}
	if cfg.Telemetry.Tracing.SampleRate < 0 || cfg.Telemetry.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.sample_rate: must be between 0 and 1, got %f", cfg.Telemetry.Tracing.SampleRate))
	}

	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level: unsupported level %q", cfg.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in a string
// with the corresponding environment variable values.
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		return match
	})
}

// interpolateConfig applies environment variable interpolation to the
// server host, each model's id and served name, the API keys and the
// tracing endpoint. Other string fields are used as written.
func interpolateConfig(cfg *Config) {
	cfg.Server.Host = InterpolateEnv(cfg.Server.Host)
	for i := range cfg.Models {
		cfg.Models[i].Model = InterpolateEnv(cfg.Models[i].Model)
		cfg.Models[i].ServedModelName = InterpolateEnv(cfg.Models[i].ServedModelName)
	}
	for i := range cfg.Auth.APIKeys {
		cfg.Auth.APIKeys[i] = InterpolateEnv(cfg.Auth.APIKeys[i])
	}
	cfg.Telemetry.Tracing.Endpoint = InterpolateEnv(cfg.Telemetry.Tracing.Endpoint)
}

// GenerateTemplate returns a YAML template string with all available
// configuration options and their defaults, suitable for writing to
// a textembed.yaml file.
func GenerateTemplate() string {
	return `# TextEmbed Configuration
# See: https://github.com/Siddhant-K-code/textembed

server:
  port: 8000
  host: 0.0.0.0
  read_timeout: 30s
  write_timeout: 60s
  queue_bound: 0         # 0 = unbounded request queue

models:
  - model: ./models/all-MiniLM-L6-v2   # directory with model.onnx + tokenizer.json
    served_model_name: all-MiniLM-L6-v2
    trust_remote_code: true
    workers: 0           # 0 = number of CPUs
    batch_size: 32
    embedding_dtype: float32   # float32, float16, or binary

auth:
  api_keys:
    # - ${TEXTEMBED_API_KEY}

telemetry:
  tracing:
    enabled: false
    exporter: otlp       # otlp, stdout, or none
    endpoint: localhost:4317
    sample_rate: 1.0     # 0.0 to 1.0
    insecure: true

logging:
  level: info            # trace, debug, info, warn, error
  pretty: false
`
}
