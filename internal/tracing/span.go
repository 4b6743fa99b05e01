package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"

	"github.com/torosent/lopnur/internal/model"
)

// Span attribute keys.
const (
	AttrSession      = attribute.Key("lopnur.session")
	AttrProvider     = attribute.Key("lopnur.provider")
	AttrRequestType  = attribute.Key("lopnur.request_type")
	AttrRequests     = attribute.Key("lopnur.requests")
	AttrConcurrency  = attribute.Key("lopnur.concurrency")
	AttrSuccessRate  = attribute.Key("lopnur.success_rate")
	AttrAvgLatencyMs = attribute.Key("lopnur.avg_latency_ms")
)

// StartSessionSpan starts the root span of a benchmark session.
func StartSessionSpan(ctx context.Context, tracer trace.Tracer, sessionID string, providers []string, cfg model.BenchmarkConfig) (context.Context, trace.Span) {
	return tracer.Start(ctx, "benchmark session",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrSession.String(sessionID),
			attribute.StringSlice("lopnur.providers", providers),
			attribute.StringSlice("lopnur.request_types", cfg.RequestTypes),
			AttrConcurrency.Int(cfg.Concurrency),
		),
	)
}

// StartProviderSpan starts the span of one provider's run. Request spans
// started from the returned context are its children.
func StartProviderSpan(ctx context.Context, tracer trace.Tracer, p model.Provider, total int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "benchmark "+p.Name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrProvider.String(p.Name),
			attribute.String("server.address", p.Endpoint),
			AttrRequests.Int(total),
		),
	)
}

// SummaryAttributes describes a finished provider run.
func SummaryAttributes(s model.Summary) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSuccessRate.Float64(s.SuccessRate),
		AttrAvgLatencyMs.Float64(s.AverageLatencyMs),
		attribute.Int("lopnur.errors", s.ErrorCount),
	}
}

// StartRequestSpan starts a client span for one work item.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, requestType, provider string) (context.Context, trace.Span) {
	spanName := requestType + " request"
	if provider != "" {
		spanName = requestType + " " + provider
	}
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("rpc.method", requestType),
	)
	if provider != "" {
		span.SetAttributes(AttrProvider.String(provider))
	}
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// grpcMetadataCarrier adapts grpc metadata.MD to the OTel TextMapCarrier interface.
type grpcMetadataCarrier metadata.MD

func (c grpcMetadataCarrier) Get(key string) string {
	vals := metadata.MD(c).Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (c grpcMetadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c grpcMetadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectGRPCMetadata injects W3C trace context into gRPC metadata.
func InjectGRPCMetadata(ctx context.Context, md metadata.MD) {
	otel.GetTextMapPropagator().Inject(ctx, grpcMetadataCarrier(md))
}
