// Package session runs a benchmark across providers and records the result
// as one session.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/lopnur/internal/clientmetrics"
	"github.com/torosent/lopnur/internal/metrics"
	"github.com/torosent/lopnur/internal/model"
	"github.com/torosent/lopnur/internal/runner"
	"github.com/torosent/lopnur/internal/storage"
	"github.com/torosent/lopnur/internal/tracing"
)

// Sink durably stores a finished session and returns where it was written.
type Sink interface {
	Save(session model.Session) (string, error)
}

// TrafficSource reports the websocket and gRPC traffic a provider's run
// generated, keyed by protocol.
type TrafficSource interface {
	Snapshots(provider string) map[string]clientmetrics.Snapshot
}

// Options configures an Orchestrator. Only Catalog is required.
type Options struct {
	Catalog *runner.Catalog
	// Timeout bounds every work item. Zero disables it.
	Timeout time.Duration
	// Tracer records a session span with one child span per provider.
	// Nil disables tracing.
	Tracer trace.Tracer
	// Traffic, when set, adds per-protocol traffic to the log line written
	// after each provider.
	Traffic TrafficSource
	Log     logrus.FieldLogger
	// Collector receives every outcome of the provider being run. It is
	// restarted before each provider.
	Collector *metrics.Collector
	// OnProviderStart is called before a provider run begins.
	OnProviderStart func(p model.Provider)
	// OnProviderDone is called with the interim summary of a finished provider.
	OnProviderDone func(summary model.Summary)
	NewID          func() string
	Now            func() time.Time
}

// Orchestrator benchmarks providers one after another.
type Orchestrator struct {
	opts Options
	sink Sink
}

// New returns an Orchestrator that hands finished sessions to sink. A nil
// sink skips persistence.
func New(sink Sink, opts Options) *Orchestrator {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.NewID == nil {
		opts.NewID = storage.NewSessionID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Orchestrator{opts: opts, sink: sink}
}

// Run benchmarks every provider in order and returns the session together
// with the location the sink reported. Providers never overlap: one
// provider's run completes before the next begins.
//
// A cancelled ctx stops the current provider from claiming new work and
// skips the remaining providers; the partial session is still finalized and
// saved. When the sink fails, the in-memory session is returned along with
// the error.
func (o *Orchestrator) Run(ctx context.Context, providers []model.Provider, cfg model.BenchmarkConfig) (model.Session, string, error) {
	if err := o.check(cfg); err != nil {
		return model.Session{}, "", err
	}

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name
	}

	session := model.Session{
		ID:        o.opts.NewID(),
		StartTime: model.EpochMillis(o.opts.Now()),
		Providers: names,
		Results:   []model.Outcome{},
		Config:    cfg,
	}
	ctx, span := tracing.StartSessionSpan(ctx, o.opts.Tracer, session.ID, names, cfg)

	for _, p := range providers {
		if ctx.Err() != nil {
			o.opts.Log.WithField("provider", p.Name).Warn("benchmark interrupted, skipping provider")
			continue
		}
		outcomes := o.runProvider(ctx, p, cfg)
		session.Results = append(session.Results, outcomes...)
	}

	end := model.EpochMillis(o.opts.Now())
	session.EndTime = &end

	if o.sink == nil {
		tracing.EndSpan(span, ctx.Err())
		return session, "", nil
	}
	location, err := o.sink.Save(session)
	if err != nil {
		err = fmt.Errorf("persist session %s: %w", session.ID, err)
		tracing.EndSpan(span, err)
		return session, "", err
	}
	tracing.EndSpan(span, ctx.Err(), attribute.String("lopnur.location", location))
	o.opts.Log.WithFields(logrus.Fields{
		"session": session.ID,
		"path":    location,
	}).Info("session saved")
	return session, location, nil
}

// runProvider runs one provider under its own span, then logs and reports
// its interim summary.
func (o *Orchestrator) runProvider(ctx context.Context, p model.Provider, cfg model.BenchmarkConfig) []model.Outcome {
	o.opts.Log.WithFields(logrus.Fields{
		"provider": p.Name,
		"requests": cfg.Total(),
	}).Debug("benchmarking provider")
	if o.opts.OnProviderStart != nil {
		o.opts.OnProviderStart(p)
	}

	ctx, span := tracing.StartProviderSpan(ctx, o.opts.Tracer, p, cfg.Total())
	outcomes := o.execute(ctx, p, cfg)
	summary := metrics.SummarizeProvider(p.Name, outcomes)
	tracing.EndSpan(span, ctx.Err(), tracing.SummaryAttributes(summary)...)

	fields := logrus.Fields{
		"provider":       summary.Provider,
		"success_rate":   fmt.Sprintf("%.2f", summary.SuccessRate),
		"avg_latency_ms": fmt.Sprintf("%.2f", summary.AverageLatencyMs),
		"requests":       summary.RequestCount,
	}
	if o.opts.Traffic != nil {
		addTrafficFields(fields, o.opts.Traffic.Snapshots(p.Name))
	}
	o.opts.Log.WithFields(fields).Info("provider benchmark complete")
	if o.opts.OnProviderDone != nil {
		o.opts.OnProviderDone(summary)
	}
	return outcomes
}

// addTrafficFields adds <protocol>_bytes_sent style fields for every
// protocol that saw traffic.
func addTrafficFields(fields logrus.Fields, traffic map[string]clientmetrics.Snapshot) {
	for _, protocol := range clientmetrics.Protocols(traffic) {
		s := traffic[protocol]
		if s.Idle() {
			continue
		}
		fields[protocol+"_connections"] = s.Connections
		fields[protocol+"_messages"] = s.MessagesSent + s.MessagesReceived
		fields[protocol+"_bytes_sent"] = s.BytesSent
		fields[protocol+"_bytes_received"] = s.BytesReceived
		fields[protocol+"_errors"] = s.Errors
	}
}

func (o *Orchestrator) execute(ctx context.Context, p model.Provider, cfg model.BenchmarkConfig) []model.Outcome {
	var onOutcome func(model.Outcome)
	if c := o.opts.Collector; c != nil {
		c.Start()
		onOutcome = c.RecordOutcome
	}

	return runner.New(runner.Options{
		Provider:     p,
		RequestTypes: cfg.RequestTypes,
		Count:        cfg.RequestCount,
		Concurrency:  cfg.Concurrency,
		Catalog:      o.opts.Catalog,
		Timeout:      o.opts.Timeout,
		Delay:        cfg.Delay(),
		Tracer:       o.opts.Tracer,
		OnOutcome:    onOutcome,
	}).Run(ctx)
}

// check rejects configurations the scheduler must never see.
func (o *Orchestrator) check(cfg model.BenchmarkConfig) error {
	if cfg.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", cfg.Concurrency)
	}
	if cfg.RequestCount < 0 {
		return fmt.Errorf("request count must be >= 0, got %d", cfg.RequestCount)
	}
	if o.opts.Catalog == nil {
		return fmt.Errorf("no request catalog configured")
	}
	if unknown := o.opts.Catalog.Unknown(cfg.RequestTypes); len(unknown) > 0 {
		return fmt.Errorf("invalid request types: %s (available: %s)",
			strings.Join(unknown, ", "), strings.Join(o.opts.Catalog.Types(), ", "))
	}
	return nil
}
