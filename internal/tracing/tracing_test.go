package tracing

import (
	"context"
	"errors"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestProvider(recorder *tracetest.SpanRecorder) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
}

func TestNewDisabledReturnsNoopTracer(t *testing.T) {
	m, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, span := m.StartRun(context.Background(), "job-1")
	if ctx == nil || span == nil {
		t.Fatal("StartRun() on a disabled manager returned a nil context/span")
	}
	span.End()

	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() on a no-op manager error = %v", err)
	}
}

func TestStartRunAndStartTaskAttachExpectedAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := newTestProvider(recorder)
	defer tp.Shutdown(context.Background())

	m := &Manager{tracer: tp.Tracer("test")}

	runCtx, runSpan := m.StartRun(context.Background(), "job-1")
	runSpan.End()
	_, taskSpan := m.StartTask(runCtx, "source_data_extractor_task")
	taskSpan.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("recorded spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "pipeline.run" {
		t.Errorf("spans[0].Name() = %q, want pipeline.run", spans[0].Name())
	}
	if spans[1].Name() != "pipeline.task" {
		t.Errorf("spans[1].Name() = %q, want pipeline.task", spans[1].Name())
	}
	if spans[1].Parent().SpanID() != spans[0].SpanContext().SpanID() {
		t.Error("expected the task span to be a child of the run span")
	}

	var sawSlot bool
	for _, attr := range spans[1].Attributes() {
		if string(attr.Key) == "task_slot" && attr.Value.AsString() == "source_data_extractor_task" {
			sawSlot = true
		}
	}
	if !sawSlot {
		t.Error("expected pipeline.task span to carry a task_slot attribute")
	}
}

func TestRecordErrorNoopOnNilError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := newTestProvider(recorder)
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "span")
	RecordError(span, nil)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	if spans[0].Status().Code.String() == "Error" {
		t.Error("expected span status to remain unset for a nil error")
	}
}

func TestRecordErrorMarksSpanFailed(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := newTestProvider(recorder)
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "span")
	RecordError(span, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected RecordError to attach an exception event")
	}
}
