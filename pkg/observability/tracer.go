package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerConfig is the minimal config InitGlobalTracer needs; kept for
// call sites that only want a bare trace.TracerProvider rather than the
// full session-aware Tracer below.
type TracerConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter_type"`
	EndpointURL  string  `yaml:"endpoint_url"`
	SamplingRate float64 `yaml:"sampling_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// InitGlobalTracer installs a process-wide OTel TracerProvider and
// returns it. Most callers in this system want NewTracer instead, which
// wraps the same plumbing with the span/attribute vocabulary the rest of
// this package's Recorder and DebugExporter expect.
func InitGlobalTracer(ctx context.Context, cfg TracerConfig) (trace.TracerProvider, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.EndpointURL),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// GetTracer returns a named tracer off the process-wide TracerProvider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// TracerOption configures a Tracer at construction.
type TracerOption func(*Tracer)

// WithDebugExporter attaches an in-memory span exporter, used by the
// local debug/web UI to inspect recent spans without a full collector.
func WithDebugExporter(d *DebugExporter) TracerOption {
	return func(t *Tracer) { t.debug = d }
}

// WithCapturePayloads enables attaching full LLM/tool payloads to spans
// via AddPayload/AddToolPayload. Off by default since payloads can be
// large and may contain sensitive captures.
func WithCapturePayloads(capture bool) TracerOption {
	return func(t *Tracer) { t.capturePayloads = capture }
}

// Tracer is the session-aware wrapper around an OTel TracerProvider,
// exposing the domain-specific span vocabulary (agent runs, LLM calls,
// tool executions, memory searches) the rest of this system's components
// call directly rather than hand-building span names and attributes.
// Grounded on the teacher's debug_exporter.go + recorder.go conventions,
// extended with the session/prompt binding spec §4.7 requires.
type Tracer struct {
	tracer          trace.Tracer
	provider        *sdktrace.TracerProvider
	debug           *DebugExporter
	capturePayloads bool
}

// NewTracer builds a Tracer from cfg. When cfg.Enabled is false the
// returned Tracer degrades to a no-op provider so callers never need a
// nil check before using it.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	t := &Tracer{}
	for _, opt := range opts {
		opt(t)
	}

	if cfg == nil || !cfg.Enabled {
		t.tracer = noop.NewTracerProvider().Tracer(DefaultServiceName)
		return t, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	}
	if t.debug != nil {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(t.debug)))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	t.provider = tp
	t.tracer = tp.Tracer(cfg.ServiceName)
	return t, nil
}

// Start opens a bare span, for call sites without a more specific helper.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noopSpan()
	}
	return t.tracer.Start(ctx, name, opts...)
}

// StartAgentRun opens the top-level span for one agent invocation.
func (t *Tracer) StartAgentRun(ctx context.Context, sessionID, userID, workflowType, agentType, model string) (context.Context, trace.Span) {
	ctx2, span := t.Start(ctx, SpanAgentCall)
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("user.id", userID),
		attribute.String("workflow.type", workflowType),
		attribute.String(AttrAgentName, agentType),
		attribute.String(AttrAgentLLM, model),
	)
	return ctx2, span
}

// StartLLMCall opens a span around one chat-completions call.
func (t *Tracer) StartLLMCall(ctx context.Context, model string, maxTokens int, temperature, topP float64) (context.Context, trace.Span) {
	ctx2, span := t.Start(ctx, SpanLLMRequest)
	span.SetAttributes(
		attribute.String(AttrLLMModel, model),
		attribute.Int("llm.max_tokens", maxTokens),
		attribute.Float64("llm.temperature", temperature),
		attribute.Float64("llm.top_p", topP),
	)
	return ctx2, span
}

// StartToolExecution opens a span around one tool.Call invocation.
func (t *Tracer) StartToolExecution(ctx context.Context, toolName, sessionID, phase string) (context.Context, trace.Span) {
	ctx2, span := t.Start(ctx, SpanToolExecution)
	span.SetAttributes(
		attribute.String(AttrToolName, toolName),
		attribute.String("session.id", sessionID),
		attribute.String("phase", phase),
	)
	return ctx2, span
}

// StartMemorySearch opens a span around one BatchingMemory.Search call.
func (t *Tracer) StartMemorySearch(ctx context.Context, query string, topK int) (context.Context, trace.Span) {
	ctx2, span := t.Start(ctx, SpanMemoryLookup)
	span.SetAttributes(attribute.String("memory.query", query), attribute.Int("memory.top_k", topK))
	return ctx2, span
}

// AddLLMUsage attaches token accounting to an LLM span.
func (t *Tracer) AddLLMUsage(span trace.Span, promptTokens, completionTokens int) {
	span.SetAttributes(
		attribute.Int(AttrLLMTokensInput, promptTokens),
		attribute.Int(AttrLLMTokensOutput, completionTokens),
	)
}

// AddLLMFinishReason records why the model stopped generating.
func (t *Tracer) AddLLMFinishReason(span trace.Span, reason string) {
	span.SetAttributes(attribute.String("llm.finish_reason", reason))
}

// AddPayload attaches a captured request/response payload, only when
// capturePayloads was enabled at construction (payloads can be large and
// carry sensitive capture content).
func (t *Tracer) AddPayload(span trace.Span, key, value string) {
	if t == nil || !t.capturePayloads {
		return
	}
	span.SetAttributes(attribute.String("payload."+key, value))
}

// AddToolPayload attaches a tool-specific payload under the same
// capture-payloads gate as AddPayload.
func (t *Tracer) AddToolPayload(span trace.Span, key, value string) {
	if t == nil || !t.capturePayloads {
		return
	}
	span.SetAttributes(attribute.String("tool_payload."+key, value))
}

// RecordError marks span as failed and attaches the error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(AttrErrorType, fmt.Sprintf("%T", err)))
}

// DebugExporter returns the in-memory span exporter, or nil if none was
// configured.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debug
}

// Shutdown flushes and releases the underlying TracerProvider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func noopSpan() trace.Span {
	_, span := noop.NewTracerProvider().Tracer("").Start(context.Background(), "noop")
	return span
}
