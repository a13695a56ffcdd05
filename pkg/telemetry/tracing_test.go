package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestTracerProviderWritesSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	tp, err := NewTracerProvider("blockbench", "test", &buf)
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "benchmark.trial", AttrTrial.Int(3))
	AddEvent(ctx, "session_restart", AttrReason.String("timeout"))
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"Name":"benchmark.trial"`, "blockbench.trial", "session_restart", "service.name"} {
		if !strings.Contains(out, want) {
			t.Errorf("exported span missing %q:\n%s", want, out)
		}
	}
}

func TestShutdownNilProvider(t *testing.T) {
	var tp *TracerProvider
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil Shutdown = %v", err)
	}
}
