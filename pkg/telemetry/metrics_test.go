package telemetry

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/makr-code/themis-policy/pkg/domain"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func counterValue(t *testing.T, m metricdata.Metrics, key attribute.Key, want string) int64 {
	t.Helper()

	data, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for %s", m.Name)
	}
	for _, dp := range data.DataPoints {
		if value, ok := dp.Attributes.Value(key); ok && value.Emit() == want {
			return dp.Value
		}
	}
	t.Fatalf("no datapoint with %s=%s on %s", key, want, m.Name)
	return 0
}

func newManualMeter(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
	})
	ResetMetricsForTest()
	return reader
}

func TestRecordAuthzDecision(t *testing.T) {
	reader := newManualMeter(t)
	ctx := context.Background()

	RecordAuthzDecision(ctx, true)
	RecordAuthzDecision(ctx, true)
	RecordAuthzDecision(ctx, false)

	metrics := collectMetrics(t, reader)
	m, ok := metrics["themis.authz.evaluations_total"]
	if !ok {
		t.Fatalf("missing authz evaluations metric")
	}
	if got := counterValue(t, m, "authz.outcome", "allow"); got != 2 {
		t.Fatalf("expected 2 allows, got %d", got)
	}
	if got := counterValue(t, m, "authz.outcome", "deny"); got != 1 {
		t.Fatalf("expected 1 deny, got %d", got)
	}
}

func TestRecordGovernanceDecision(t *testing.T) {
	reader := newManualMeter(t)
	ctx := context.Background()

	RecordGovernanceDecision(ctx, "geheim", "enforce")
	RecordGovernanceDecision(ctx, "geheim", "enforce")

	metrics := collectMetrics(t, reader)
	m, ok := metrics["themis.governance.decisions_total"]
	if !ok {
		t.Fatalf("missing governance decisions metric")
	}
	if got := counterValue(t, m, "governance.classification", "geheim"); got != 2 {
		t.Fatalf("expected 2 decisions, got %d", got)
	}

	data := m.Data.(metricdata.Sum[int64])
	if value, ok := data.DataPoints[0].Attributes.Value(attribute.Key("governance.mode")); !ok || value.AsString() != "enforce" {
		t.Fatalf("expected governance.mode attribute enforce, got %v", value)
	}
}

func TestRecordSyncAttempt(t *testing.T) {
	reader := newManualMeter(t)
	ctx := context.Background()

	RecordSyncAttempt(ctx, true, 12)
	RecordSyncAttempt(ctx, false, 0)

	metrics := collectMetrics(t, reader)
	attempts, ok := metrics["themis.sync.attempts_total"]
	if !ok {
		t.Fatalf("missing sync attempts metric")
	}
	if got := counterValue(t, attempts, "sync.success", "true"); got != 1 {
		t.Fatalf("expected 1 successful attempt, got %d", got)
	}
	if got := counterValue(t, attempts, "sync.success", "false"); got != 1 {
		t.Fatalf("expected 1 failed attempt, got %d", got)
	}

	hist, ok := metrics["themis.sync.policies"]
	if !ok {
		t.Fatalf("missing sync batch size metric")
	}
	histData, ok := hist.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatalf("unexpected data type for batch size metric")
	}
	// Failed attempts must not record a batch size.
	if histData.DataPoints[0].Count != 1 {
		t.Fatalf("expected histogram count 1, got %d", histData.DataPoints[0].Count)
	}
	if histData.DataPoints[0].Sum != 12 {
		t.Fatalf("expected histogram sum 12, got %v", histData.DataPoints[0].Sum)
	}
}

func TestRecordPolicyDecisionSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	tracer := tp.Tracer("test")

	_, span := tracer.Start(context.Background(), "authorize")
	RecordPolicyDecision(span, domain.Decision{
		Allowed:  false,
		PolicyID: "deny-exports",
		Reason:   domain.ReasonMatchedDenyPolicy,
	})
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	attrs := attribute.NewSet(spans[0].Attributes()...)
	if value, ok := attrs.Value(attribute.Key("authz.allowed")); !ok || value.AsBool() {
		t.Fatalf("expected authz.allowed false")
	}
	if value, ok := attrs.Value(attribute.Key("authz.policy_id")); !ok || value.AsString() != "deny-exports" {
		t.Fatalf("expected policy id attribute, got %v", value)
	}

	events := spans[0].Events()
	if len(events) != 1 || events[0].Name != "authz.denied" {
		t.Fatalf("expected a single authz.denied event, got %v", events)
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown tracer provider: %v", err)
	}
}

func TestRecordGovernanceSpanRedactsExtras(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	tracer := tp.Tracer("test")

	decision := domain.PolicyDecision{
		Classification: "geheim",
		Mode:           domain.ModeEnforce,
		Redaction:      domain.RedactionStrict,
	}
	_, span := tracer.Start(context.Background(), "governance")
	RecordGovernanceSpan(span, decision, attribute.String("user.id", "alice@example.com"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	attrs := attribute.NewSet(spans[0].Attributes()...)
	if value, ok := attrs.Value(attribute.Key("governance.classification")); !ok || value.AsString() != "geheim" {
		t.Fatalf("expected classification attribute, got %v", value)
	}
	value, ok := attrs.Value(attribute.Key("user.id"))
	if !ok {
		t.Fatalf("expected user.id attribute to survive in hashed form")
	}
	if got := value.AsString(); !strings.HasPrefix(got, "[REDACTED:hash:") {
		t.Fatalf("expected hashed user.id, got %q", got)
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown tracer provider: %v", err)
	}
}
