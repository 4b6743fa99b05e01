package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/torosent/lopnur/internal/threshold"
)

const (
	DefaultCount         = 10
	DefaultConcurrency   = 3
	DefaultTimeout       = 30 * time.Second
	DefaultProvidersFile = "config/providers.json"
	DefaultDataDir       = "data"
	DefaultLogLevel      = "info"

	// HighConcurrency is the worker count above which Warnings asks the
	// operator to confirm they may load the providers that hard.
	HighConcurrency = 500

	// DefaultDLMMProgramID is the Meteora DLMM program on mainnet.
	DefaultDLMMProgramID = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
)

type Config struct {
	Count         int           `mapstructure:"count"`
	Concurrency   int           `mapstructure:"concurrency"`
	Types         []string      `mapstructure:"types"`
	DelayMs       int           `mapstructure:"delay"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ProvidersFile string        `mapstructure:"providers_file"`
	DataDir       string        `mapstructure:"data_dir"`
	JSONOutput    bool          `mapstructure:"json_output"`
	HTMLOutput    string        `mapstructure:"html_output"`
	LogErrors     bool          `mapstructure:"log_errors"`
	LogLevel      string        `mapstructure:"log_level"`
	Thresholds    []string      `mapstructure:"thresholds"`
	Meteora       MeteoraConfig `mapstructure:"meteora"`
	Tracing       TracingConfig `mapstructure:"tracing"`
	ConfigFile    string        `mapstructure:"-"`
}

// MeteoraConfig parameterizes the getDLMMPositions request type.
type MeteoraConfig struct {
	Owner     string `mapstructure:"owner"`
	ProgramID string `mapstructure:"program_id"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether an OTLP endpoint is configured, either directly or
// through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate defaults to Enabled unless set explicitly.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Default returns the configuration used when neither a config file nor
// flags say otherwise. Types is left empty; callers fill it with every
// recognized request type.
func Default() Config {
	return Config{
		Count:         DefaultCount,
		Concurrency:   DefaultConcurrency,
		Timeout:       DefaultTimeout,
		ProvidersFile: DefaultProvidersFile,
		DataDir:       DefaultDataDir,
		LogLevel:      DefaultLogLevel,
		Meteora:       MeteoraConfig{ProgramID: DefaultDLMMProgramID},
		Tracing:       TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// Delay returns the pacing interval between work item starts.
func (c Config) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the configuration against the request types the caller
// can execute. unavailable maps a known type to the reason it cannot run
// with the current configuration; selecting such a type is an issue. It
// must pass before any provider is benchmarked.
func (c Config) Validate(known []string, unavailable map[string]string) error {
	var issues []string

	if c.Count < 0 {
		issues = append(issues, "count must be >= 0")
	}
	if c.Concurrency < 1 {
		issues = append(issues, "concurrency must be >= 1")
	}
	if c.DelayMs < 0 {
		issues = append(issues, "delay must be >= 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}

	issues = append(issues, validateTypes(c.Types, known)...)
	for _, t := range c.Types {
		if reason, ok := unavailable[t]; ok {
			issues = append(issues, fmt.Sprintf("request type %s cannot run: %s", t, reason))
		}
	}

	for _, raw := range c.Thresholds {
		if _, err := threshold.Parse(raw); err != nil {
			issues = append(issues, fmt.Sprintf("threshold %q: %v", raw, err))
		}
	}

	if p := strings.ToLower(strings.TrimSpace(c.Tracing.Protocol)); p != "" && p != "grpc" && p != "http" {
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", c.Tracing.Protocol))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing: sample_rate must be between 0.0 and 1.0")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings lists settings that are valid but worth a second look.
func (c Config) Warnings() []string {
	var warnings []string
	if c.Concurrency > HighConcurrency {
		warnings = append(warnings, fmt.Sprintf(
			"high concurrency configured (%d workers), ensure you are authorized to load the providers", c.Concurrency))
	}
	return warnings
}

func validateTypes(types, known []string) []string {
	if len(types) == 0 {
		return []string{"at least one request type is required"}
	}
	recognized := make(map[string]struct{}, len(known))
	for _, k := range known {
		recognized[k] = struct{}{}
	}
	var unknown []string
	for _, t := range types {
		if _, ok := recognized[t]; !ok {
			unknown = append(unknown, t)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	return []string{fmt.Sprintf("invalid request types: %s (available: %s)",
		strings.Join(unknown, ", "), strings.Join(known, ", "))}
}
