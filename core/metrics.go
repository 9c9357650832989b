package core

import "context"

// Metric names emitted outside the generic per-operation counters.
const (
	MetricDeliveryAttempt     = "outbound.delivery.attempt"
	MetricDeliveryDuplicate   = "outbound.delivery.duplicate"
	MetricProcessThrottled    = "outbound.process.throttled"
	MetricBatchWorkers        = "outbound.batch.workers"
	MetricCooldownActive      = "outbound.cooldown.active"
	MetricRedriveDeadLettered = "outbound.redrive.count"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
