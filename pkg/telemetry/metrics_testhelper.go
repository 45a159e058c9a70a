package telemetry

import "sync"

// ResetMetricsForTest drops the cached instruments so a test can bind them
// to a fresh MeterProvider. Test code only.
func ResetMetricsForTest() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	invocationCounter = nil
	retryCounter = nil
	circuitOpenCount = nil
	rateLimitedCount = nil
	timeoutCounter = nil
	latencyHistogram = nil
	runCounter = nil
}
