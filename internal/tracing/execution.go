package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loadforge/loadforge/internal/testplan"
)

// StepTracer spans one test run's execution tree: a root span per test run,
// one child span per VU iteration, and one grandchild span per step. It
// wraps a Tracer so callers never need to branch on whether tracing is
// enabled.
type StepTracer struct {
	tracer *Tracer
}

// NewStepTracer builds a StepTracer over an existing Tracer.
func NewStepTracer(tracer *Tracer) *StepTracer {
	return &StepTracer{tracer: tracer}
}

// StartTestRun opens the root span for one TestConfiguration's execution.
func (t *StepTracer) StartTestRun(ctx context.Context, testName string) (context.Context, trace.Span) {
	return t.tracer.StartSpan(ctx, "testrun.execute",
		AttrTestName.String(testName),
	)
}

// StartVU opens a span covering one VU's one pass through a scenario.
func (t *StepTracer) StartVU(ctx context.Context, vuID, iteration int, scenario string) (context.Context, trace.Span) {
	return t.tracer.StartSpan(ctx, "vu.iteration",
		AttrVUID.Int(vuID),
		AttrScenario.String(scenario),
		attribute.Int("loadforge.vu.iteration", iteration),
	)
}

// StartStep opens a span for a single step dispatch.
func (t *StepTracer) StartStep(ctx context.Context, stepName, stepKind string) (context.Context, trace.Span) {
	return t.tracer.StartSpan(ctx, "step."+stepKind,
		AttrStepName.String(stepName),
		AttrStepKind.String(stepKind),
	)
}

// RecordStepResult annotates span with a completed step's outcome and marks
// the span errored when the step failed.
func (t *StepTracer) RecordStepResult(span trace.Span, res testplan.TestResult) {
	span.SetAttributes(
		attribute.Bool("loadforge.step.success", res.Success),
		attribute.Int64("loadforge.step.duration_ms", res.Duration.Milliseconds()),
		attribute.Int("loadforge.step.status", res.Status),
	)
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
}

// RecordHTTPRequest annotates span with an HTTP-style step's request/response
// shape (REST, SOAP, web handlers).
func (t *StepTracer) RecordHTTPRequest(span trace.Span, method, url string, statusCode int, duration time.Duration) {
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", url),
		attribute.Int("http.status_code", statusCode),
		attribute.Int64("http.duration_ms", duration.Milliseconds()),
	)
}

// RecordDatabaseQuery annotates span with a database step's statement shape.
func (t *StepTracer) RecordDatabaseQuery(span trace.Span, driver, query string, rowsAffected int64, duration time.Duration) {
	span.SetAttributes(
		attribute.String("db.system", driver),
		attribute.String("db.statement", truncateQuery(query)),
		attribute.Int64("db.rows_affected", rowsAffected),
		attribute.Int64("db.duration_ms", duration.Milliseconds()),
	)
}

// RecordKafkaMessage annotates span with a Kafka step's topic/partition.
func (t *StepTracer) RecordKafkaMessage(span trace.Span, topic string, partition int32, offset int64, isProducer bool) {
	operation := "receive"
	if isProducer {
		operation = "send"
	}
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination.name", topic),
		attribute.Int("messaging.kafka.partition", int(partition)),
		attribute.Int64("messaging.kafka.offset", offset),
	)
}

// RecordAssertion annotates span with the outcome of one check.
func (t *StepTracer) RecordAssertion(span trace.Span, expression string, passed bool, actual, expected interface{}) {
	span.AddEvent("assertion", trace.WithAttributes(
		attribute.String("assertion.expression", expression),
		attribute.Bool("assertion.passed", passed),
		attribute.String("assertion.actual", formatValue(actual)),
		attribute.String("assertion.expected", formatValue(expected)),
	))
}

// RecordVariable annotates the span in ctx with a value extracted into VU
// state.
func (t *StepTracer) RecordVariable(ctx context.Context, name string, value interface{}) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("variable.set", trace.WithAttributes(
		attribute.String("variable.name", name),
		attribute.String("variable.value", formatValue(value)),
	))
}

func truncateQuery(query string) string {
	const maxLen = 500
	if len(query) > maxLen {
		return query[:maxLen] + "..."
	}
	return query
}

func formatValue(v interface{}) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		if len(val) > 100 {
			return val[:100] + "..."
		}
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}
