package hooks

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	pipeline "github.com/goliatone/go-pipeline"
)

// LoggingHook logs every step boundary.
type LoggingHook struct {
	Logger pipeline.Logger
}

func (h LoggingHook) log(ctx context.Context, exec pipeline.ProcessorExecution) pipeline.Logger {
	return pipeline.WithFields(pipeline.NormalizeLogger(h.Logger).WithContext(ctx), map[string]any{
		"job_id":       exec.JobID,
		"step_id":      exec.StepID,
		"processor":    exec.ProcessorSlug,
		"execution_id": exec.ID,
	})
}

func (h LoggingHook) Before(ctx context.Context, exec pipeline.ProcessorExecution) error {
	h.log(ctx, exec).Info("step %d starting", exec.StepIndex)
	return nil
}

func (h LoggingHook) After(ctx context.Context, exec pipeline.ProcessorExecution, output map[string]any) error {
	h.log(ctx, exec).Info("step %d completed with %d output keys", exec.StepIndex, len(output))
	return nil
}

func (h LoggingHook) OnFailure(ctx context.Context, exec pipeline.ProcessorExecution, err error) error {
	h.log(ctx, exec).Error("step %d failed: %v", exec.StepIndex, err)
	return nil
}

// MetricsHook counts executions by processor and outcome and records their
// duration.
type MetricsHook struct {
	Executions *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Tokens     *prometheus.CounterVec
}

// NewMetricsHook registers the collectors with reg.
func NewMetricsHook(reg prometheus.Registerer) (*MetricsHook, error) {
	h := &MetricsHook{
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docpipe_processor_executions_total",
			Help: "Processor executions by processor and outcome",
		}, []string{"processor", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docpipe_processor_duration_seconds",
			Help:    "Processor execution duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"processor"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docpipe_processor_tokens_total",
			Help: "Tokens reported by processors",
		}, []string{"processor"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{h.Executions, h.Duration, h.Tokens} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}

func (h *MetricsHook) Before(_ context.Context, exec pipeline.ProcessorExecution) error {
	h.Executions.WithLabelValues(exec.ProcessorSlug, "started").Inc()
	return nil
}

func (h *MetricsHook) After(_ context.Context, exec pipeline.ProcessorExecution, _ map[string]any) error {
	h.Executions.WithLabelValues(exec.ProcessorSlug, "completed").Inc()
	h.observe(exec)
	if exec.TokensUsed > 0 {
		h.Tokens.WithLabelValues(exec.ProcessorSlug).Add(float64(exec.TokensUsed))
	}
	return nil
}

func (h *MetricsHook) OnFailure(_ context.Context, exec pipeline.ProcessorExecution, _ error) error {
	h.Executions.WithLabelValues(exec.ProcessorSlug, "failed").Inc()
	h.observe(exec)
	return nil
}

func (h *MetricsHook) observe(exec pipeline.ProcessorExecution) {
	if exec.DurationMS != nil {
		h.Duration.WithLabelValues(exec.ProcessorSlug).Observe(float64(*exec.DurationMS) / 1000)
	}
}

// TracingHook opens one span per execution, from Before to After or
// OnFailure.
type TracingHook struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewTracingHook uses tp, or the global provider when tp is nil.
func NewTracingHook(tp trace.TracerProvider) *TracingHook {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingHook{
		tracer: tp.Tracer("github.com/goliatone/go-pipeline/hooks"),
		spans:  make(map[string]trace.Span),
	}
}

func (h *TracingHook) Before(ctx context.Context, exec pipeline.ProcessorExecution) error {
	_, span := h.tracer.Start(ctx, "processor."+exec.ProcessorSlug,
		trace.WithTimestamp(startTime(exec)),
		trace.WithAttributes(
			attribute.String("job.id", exec.JobID),
			attribute.String("step.id", exec.StepID),
			attribute.Int("step.index", exec.StepIndex),
			attribute.String("execution.id", exec.ID),
		),
	)
	h.mu.Lock()
	h.spans[exec.ID] = span
	h.mu.Unlock()
	return nil
}

func (h *TracingHook) After(_ context.Context, exec pipeline.ProcessorExecution, output map[string]any) error {
	if span := h.take(exec.ID); span != nil {
		span.SetAttributes(
			attribute.Int("output.keys", len(output)),
			attribute.Int64("tokens.used", exec.TokensUsed),
		)
		span.SetStatus(codes.Ok, "")
		span.End()
	}
	return nil
}

func (h *TracingHook) OnFailure(_ context.Context, exec pipeline.ProcessorExecution, err error) error {
	if span := h.take(exec.ID); span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, exec.Error)
		span.End()
	}
	return nil
}

func (h *TracingHook) take(id string) trace.Span {
	h.mu.Lock()
	defer h.mu.Unlock()
	span := h.spans[id]
	delete(h.spans, id)
	return span
}

// Open returns the number of spans not yet ended.
func (h *TracingHook) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.spans)
}

func startTime(exec pipeline.ProcessorExecution) time.Time {
	if exec.StartedAt != nil {
		return *exec.StartedAt
	}
	return time.Now()
}
