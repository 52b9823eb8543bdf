package r2mig

import "time"

// Item outcomes reported to Metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Metrics receives run telemetry. The Prometheus implementation lives in
// internal/metrics.
type Metrics interface {
	ItemProcessed(outcome string, bytes int64, elapsed time.Duration)
	RetryAttempted(stage string)
	InFlight(n int)
	URLsUpdated(outcome string, n int)
	RunFinished(status string, elapsed time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ItemProcessed(string, int64, time.Duration) {}
func (NopMetrics) RetryAttempted(string)                      {}
func (NopMetrics) InFlight(int)                               {}
func (NopMetrics) URLsUpdated(string, int)                    {}
func (NopMetrics) RunFinished(string, time.Duration)          {}
