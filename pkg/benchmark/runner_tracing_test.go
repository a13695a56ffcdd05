package benchmark

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/odvcencio/blockbench/pkg/browser"
	"github.com/odvcencio/blockbench/pkg/browser/browsertest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = provider.Shutdown(context.Background())
	})
	return rec
}

func spansNamed(rec *tracetest.SpanRecorder, name string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

func attrValue(s sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestRunEmitsTrialSpans(t *testing.T) {
	rec := recordSpans(t)
	h := newHarness(t)
	h.launcher.Script(browser.RoleTreatment, browsertest.Load(100), browsertest.Timeout())
	h.launcher.Script(browser.RoleBaseline, browsertest.Load(150), browsertest.Load(120))

	r := h.runner(t, Config{Sites: []Site{"example.com"}, NumTests: 2})
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, spansNamed(rec, "benchmark.run"), 1)
	require.Len(t, spansNamed(rec, "benchmark.site"), 1)
	require.Len(t, spansNamed(rec, "benchmark.visit"), 4)

	trials := spansNamed(rec, "benchmark.trial")
	require.Len(t, trials, 2)
	verdict, ok := attrValue(trials[0], "blockbench.verdict")
	require.True(t, ok)
	assert.Equal(t, VerdictTreatmentFaster.String(), verdict.AsString())

	var restarts int
	for _, ev := range trials[1].Events() {
		if ev.Name == "session_restart" {
			restarts++
		}
	}
	assert.Equal(t, 1, restarts)
}

func TestAbandonedTrialSpanIsError(t *testing.T) {
	rec := recordSpans(t)
	h := newHarness(t)
	h.launcher.Script(browser.RoleTreatment, browsertest.Step{Panic: "renderer crashed"})

	r := h.runner(t, Config{Sites: []Site{"example.com"}, NumTests: 1})
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	trials := spansNamed(rec, "benchmark.trial")
	require.Len(t, trials, 1)
	assert.Equal(t, codes.Error, trials[0].Status().Code)
	assert.Contains(t, trials[0].Status().Description, "renderer crashed")
	assert.Equal(t, codes.Unset, spansNamed(rec, "benchmark.run")[0].Status().Code)
}
