package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all benchmark flags on a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lopnur",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Workload flags
	flags.IntP("count", "c", DefaultCount, "Number of requests per request type and provider")
	flags.IntP("concurrency", "p", DefaultConcurrency, "Number of concurrent workers per provider")
	flags.StringSliceP("types", "t", nil, "Comma-separated request types to run (default: all)")
	flags.Int("delay", 0, "Minimum delay between request starts in milliseconds")
	flags.Duration("timeout", DefaultTimeout, "Per-request timeout")

	// Input and storage flags
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.String("providers", DefaultProvidersFile, "Path to the providers file")
	flags.String("data-dir", DefaultDataDir, "Directory where session results are stored")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.String("html-output", "", "Generate HTML report to the specified file path")
	flags.Bool("log-errors", false, "Log each failed request")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Provider thresholds (repeatable, e.g., 'latency:p99 < 500')")

	// Meteora flags
	flags.String("meteora-owner", "", "Wallet address used by getDLMMPositions")
	flags.String("meteora-program", DefaultDLMMProgramID, "DLMM program id used by getDLMMPositions")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.String("tracing-service-name", "", "Service name reported in spans")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sampling ratio between 0.0 and 1.0")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Bool("tracing-propagate", true, "Inject W3C trace context into provider requests")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("count") {
		val, err := fs.GetInt("count")
		if err != nil {
			return err
		}
		cfg.Count = val
	}
	if fs.Changed("concurrency") {
		val, err := fs.GetInt("concurrency")
		if err != nil {
			return err
		}
		cfg.Concurrency = val
	}
	if fs.Changed("types") {
		val, err := fs.GetStringSlice("types")
		if err != nil {
			return err
		}
		cfg.Types = normalizeTypes(val)
	}
	if fs.Changed("delay") {
		val, err := fs.GetInt("delay")
		if err != nil {
			return err
		}
		cfg.DelayMs = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("providers") {
		val, err := fs.GetString("providers")
		if err != nil {
			return err
		}
		cfg.ProvidersFile = strings.TrimSpace(val)
	}
	if fs.Changed("data-dir") {
		val, err := fs.GetString("data-dir")
		if err != nil {
			return err
		}
		cfg.DataDir = strings.TrimSpace(val)
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("html-output") {
		val, err := fs.GetString("html-output")
		if err != nil {
			return err
		}
		cfg.HTMLOutput = strings.TrimSpace(val)
	}
	if fs.Changed("log-errors") {
		val, err := fs.GetBool("log-errors")
		if err != nil {
			return err
		}
		cfg.LogErrors = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	if fs.Changed("meteora-owner") {
		val, err := fs.GetString("meteora-owner")
		if err != nil {
			return err
		}
		cfg.Meteora.Owner = strings.TrimSpace(val)
	}
	if fs.Changed("meteora-program") {
		val, err := fs.GetString("meteora-program")
		if err != nil {
			return err
		}
		cfg.Meteora.ProgramID = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		cfg.Tracing.ServiceName = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}

	return nil
}

// normalizeTypes trims entries and drops empty ones, keeping order.
func normalizeTypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
