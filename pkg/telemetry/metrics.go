package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce        sync.Once
	metricsInitErr     error
	authzCounter       metric.Int64Counter
	governanceCounter  metric.Int64Counter
	syncAttemptCounter metric.Int64Counter
	syncBatchSize      metric.Int64Histogram
)

// RecordAuthzDecision counts one authorization evaluation by outcome.
func RecordAuthzDecision(ctx context.Context, allowed bool) {
	if err := ensureMetrics(); err != nil {
		return
	}

	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	authzCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("authz.outcome", outcome)))
}

// RecordGovernanceDecision counts one governance decision partitioned by the
// resolved classification and mode.
func RecordGovernanceDecision(ctx context.Context, classification, mode string) {
	if err := ensureMetrics(); err != nil {
		return
	}

	governanceCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("governance.classification", classification),
		attribute.String("governance.mode", mode),
	))
}

// RecordSyncAttempt counts one policy synchronization attempt and, on
// success, records the size of the applied list.
func RecordSyncAttempt(ctx context.Context, success bool, policies int) {
	if err := ensureMetrics(); err != nil {
		return
	}

	syncAttemptCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("sync.success", success)))
	if success {
		syncBatchSize.Record(ctx, int64(policies))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("themis.policy")

		authzCounter, metricsInitErr = meter.Int64Counter(
			"themis.authz.evaluations_total",
			metric.WithDescription("Authorization evaluations partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		governanceCounter, metricsInitErr = meter.Int64Counter(
			"themis.governance.decisions_total",
			metric.WithDescription("Governance decisions partitioned by classification and mode"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		syncAttemptCounter, metricsInitErr = meter.Int64Counter(
			"themis.sync.attempts_total",
			metric.WithDescription("Policy synchronization attempts partitioned by result"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		syncBatchSize, metricsInitErr = meter.Int64Histogram(
			"themis.sync.policies",
			metric.WithDescription("Policies applied per successful synchronization"),
			metric.WithUnit("{policy}"),
		)
	})

	return metricsInitErr
}
