package telemetry

import "sync"

// ResetMetricsForTest drops the cached instruments and re-arms the init
// guard, letting a test install a fresh MeterProvider and rebuild them.
// Never call this outside tests.
func ResetMetricsForTest() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	authzCounter = nil
	governanceCounter = nil
	syncAttemptCounter = nil
	syncBatchSize = nil
}
