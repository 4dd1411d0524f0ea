package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/makr-code/themis-policy/pkg/domain"
)

// RecordPolicyDecision annotates the provided span with the authorization outcome.
func RecordPolicyDecision(span trace.Span, d domain.Decision) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.Bool("authz.allowed", d.Allowed),
		attribute.String("authz.reason", d.Reason),
	)
	if d.PolicyID != "" {
		span.SetAttributes(attribute.String("authz.policy_id", d.PolicyID))
	}
	if !d.Allowed {
		span.AddEvent("authz.denied")
	}
}

// RecordGovernanceSpan attaches the resolved obligations to the span. extra
// carries request identity attributes and is redacted per the decision's own
// redaction grade before export.
func RecordGovernanceSpan(span trace.Span, d domain.PolicyDecision, extra ...attribute.KeyValue) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.String("governance.classification", d.Classification),
		attribute.String("governance.mode", string(d.Mode)),
		attribute.String("governance.redaction", string(d.Redaction)),
		attribute.Bool("governance.encryption_required", d.RequireContentEncryption),
	)
	if len(extra) > 0 {
		span.SetAttributes(RedactAttributes(d.Redaction, extra)...)
	}
}
