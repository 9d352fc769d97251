package tracing

import (
	"context"
	"testing"

	"github.com/loadforge/loadforge/internal/testplan"
)

func TestNewTracerDisabledIsNoop(t *testing.T) {
	tr, err := NewTracer(DefaultConfig())
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	defer tr.Shutdown(context.Background())

	ctx, span := tr.Start(context.Background(), "test")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	span.End()
}

func TestNewTracerEnabledUsesStdoutExporter(t *testing.T) {
	tr, err := NewTracer(&Config{ServiceName: "loadforge-test", Enabled: true, SampleRate: 1.0})
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	defer tr.Shutdown(context.Background())

	ctx, span := tr.StartSpan(context.Background(), "test", AttrTestName.String("plan"))
	if !span.SpanContext().IsValid() {
		t.Fatal("expected a valid span context from an enabled tracer")
	}
	span.End()
	_ = ctx
}

func TestStepTracerSpansTestRunVUAndStep(t *testing.T) {
	tr, err := NewTracer(DefaultConfig())
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	st := NewStepTracer(tr)

	ctx, runSpan := st.StartTestRun(context.Background(), "smoke")
	ctx, vuSpan := st.StartVU(ctx, 1, 0, "checkout")
	_, stepSpan := st.StartStep(ctx, "login", "rest")

	st.RecordStepResult(stepSpan, testplan.TestResult{Success: true, Status: 200})
	stepSpan.End()
	vuSpan.End()
	runSpan.End()
}
