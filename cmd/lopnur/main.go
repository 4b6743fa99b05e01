package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/torosent/lopnur/internal/clientmetrics"
	"github.com/torosent/lopnur/internal/config"
	"github.com/torosent/lopnur/internal/metrics"
	"github.com/torosent/lopnur/internal/model"
	"github.com/torosent/lopnur/internal/output"
	"github.com/torosent/lopnur/internal/provider"
	"github.com/torosent/lopnur/internal/requester"
	"github.com/torosent/lopnur/internal/runner"
	"github.com/torosent/lopnur/internal/session"
	"github.com/torosent/lopnur/internal/storage"
	"github.com/torosent/lopnur/internal/threshold"
	"github.com/torosent/lopnur/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
	dotEnvFile       = ".env"
)

var (
	errNoProviders      = errors.New("no providers configured")
	errThresholdsFailed = errors.New("one or more thresholds failed")
)

type logrusFailureLogger struct {
	log logrus.FieldLogger
}

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lopnur",
		Short: "Benchmark Solana RPC providers against each other",
		Long: "lopnur sends the same JSON-RPC, websocket and gRPC workload to every configured\n" +
			"provider, one provider at a time, and reports which one answered best.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader().FromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			only, err := cmd.Flags().GetStringSlice("only")
			if err != nil {
				return err
			}
			return runBenchmark(cmd.Context(), cfg, only, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	config.RegisterFlags(cmd)
	cmd.Flags().StringSlice("only", nil, "Benchmark only the named providers, in the given order")

	cmd.AddCommand(
		newSessionsCommand(stdout, stderr),
		newProvidersCommand(stdout, stderr),
		newServeCommand(stderr),
	)
	return cmd
}

func newLogger(level string, w io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log, nil
}

func runBenchmark(parent context.Context, cfg *config.Config, only []string, stdout, stderr io.Writer) error {
	log, err := newLogger(cfg.LogLevel, stderr)
	if err != nil {
		return err
	}

	if err := provider.LoadDotEnv(dotEnvFile); err != nil {
		log.WithError(err).Warn("could not load .env file")
	}

	providers, err := loadProviders(cfg.ProvidersFile, only, log)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.WithAttributes(providerAttribute(providers)))
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	traffic := clientmetrics.NewRegistry()
	reqOpts := requester.Options{
		Timeout:       cfg.Timeout,
		Propagate:     tp.ShouldPropagate(),
		DLMMOwner:     cfg.Meteora.Owner,
		DLMMProgramID: cfg.Meteora.ProgramID,
		Traffic:       traffic,
		Log:           log,
	}
	catalog, closeCatalog := requester.DefaultCatalog(reqOpts)
	defer func() {
		if err := closeCatalog(); err != nil {
			log.WithError(err).Debug("closing connections")
		}
	}()

	if cfg.LogErrors {
		catalog = runner.LogFailures(catalog, logrusFailureLogger{log: log})
	}

	unavailable := requester.Unavailable(reqOpts, providers)
	if len(cfg.Types) == 0 {
		cfg.Types = requester.DefaultTypes(catalog.Types(), unavailable)
		for _, t := range catalog.Types() {
			if reason, ok := unavailable[t]; ok {
				log.WithFields(logrus.Fields{"request_type": t, "reason": reason}).Info("request type left out of the default workload")
			}
		}
	}
	if err := cfg.Validate(catalog.Types(), unavailable); err != nil {
		return err
	}
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	bench := benchmarkConfig(cfg)
	collector := metrics.NewCollector()
	var reporter *output.ProgressReporter
	if !cfg.JSONOutput {
		reporter = output.NewProgressReporter(collector, progressInterval, stderr)
		reporter.Start()
	}

	orchestrator := session.New(storage.NewFileStore(cfg.DataDir), session.Options{
		Catalog:   catalog,
		Timeout:   cfg.Timeout,
		Tracer:    tp.Tracer(),
		Traffic:   traffic,
		Log:       log,
		Collector: collector,
		OnProviderStart: func(p model.Provider) {
			if reporter != nil {
				reporter.SetProvider(p, bench.Total())
			}
		},
	})

	result, location, err := orchestrator.Run(ctx, providers, bench)
	if reporter != nil {
		reporter.Stop()
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		log.Warn("benchmark interrupted, reporting partial results")
	}

	var results []threshold.Result
	report := output.NewReport(result, nil)
	if report.Best != nil && len(thresholds) > 0 {
		results = threshold.NewEvaluator(thresholds).Evaluate(*report.Best)
		report = output.NewReport(result, results)
	}

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, report); err != nil {
			return fmt.Errorf("failed to write JSON report: %w", err)
		}
	} else {
		output.PrintReport(stdout, report)
		if location != "" {
			fmt.Fprintf(stdout, "\nResults saved to %s\n", location)
		}
	}

	if cfg.HTMLOutput != "" {
		if err := writeHTMLReport(cfg.HTMLOutput, report); err != nil {
			return err
		}
		log.WithField("path", cfg.HTMLOutput).Info("html report written")
	}

	if len(thresholds) > 0 && report.Best == nil {
		return fmt.Errorf("%w: no provider results to evaluate", errThresholdsFailed)
	}
	if !threshold.AllPassed(results) {
		return errThresholdsFailed
	}
	return nil
}

// loadProviders reads the providers file, narrows it to the names in only
// when given and drops entries whose endpoint is not a usable URL.
func loadProviders(path string, only []string, log logrus.FieldLogger) ([]model.Provider, error) {
	registry := provider.LoadFile(path, log)
	if len(only) > 0 {
		selected, err := registry.Select(only)
		if err != nil {
			return nil, err
		}
		registry = provider.NewRegistry(selected...)
	}
	valid, invalid := registry.Partition()
	for _, p := range invalid {
		log.WithFields(logrus.Fields{
			"provider": p.Name,
			"endpoint": p.Endpoint,
		}).Warn("skipping provider with invalid endpoint")
	}
	if len(valid) == 0 {
		return nil, errNoProviders
	}
	return valid, nil
}

func providerAttribute(providers []model.Provider) attribute.KeyValue {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name
	}
	return attribute.StringSlice("lopnur.providers", names)
}

func benchmarkConfig(cfg *config.Config) model.BenchmarkConfig {
	bench := model.BenchmarkConfig{
		RequestCount: cfg.Count,
		Concurrency:  cfg.Concurrency,
		RequestTypes: append([]string(nil), cfg.Types...),
	}
	if cfg.DelayMs > 0 {
		delay := cfg.DelayMs
		bench.DelayBetweenRequestsMs = &delay
	}
	return bench
}

func writeHTMLReport(path string, report output.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create HTML report: %w", err)
	}
	if err := output.GenerateHTMLReport(f, report); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to generate HTML report: %w", err)
	}
	return f.Close()
}

func (l logrusFailureLogger) LogFailure(providerName, requestType string, err error) {
	if err == nil {
		return
	}
	l.log.WithFields(logrus.Fields{
		"provider":     providerName,
		"request_type": requestType,
	}).WithError(err).Warn("request failed")
}
