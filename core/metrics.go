package core

import (
	"context"
	"fmt"
	"strings"
)

// Tag keys attached to every operation metric.
const (
	MetricTagOperation = "operation"
	MetricTagStatus    = "status"
	MetricTagFlowState = "flow_state"
	MetricTagEventType = "event_type"
	MetricTagErrorCode = "error_code"
)

// MetricTagKeys is the full tag set an observer may emit, in a stable order
// for backends that need fixed label names.
var MetricTagKeys = []string{
	MetricTagOperation,
	MetricTagStatus,
	MetricTagFlowState,
	MetricTagEventType,
	MetricTagErrorCode,
}

// optionalMetricTags are copied from the operation fields when present.
var optionalMetricTags = []string{MetricTagFlowState, MetricTagEventType, MetricTagErrorCode}

// MetricName joins prefix, operation and suffix, e.g. "bff.oauth_callback.total".
func MetricName(prefix string, operation string, suffix string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{prefix, operation, suffix} {
		if trimmed := strings.Trim(strings.TrimSpace(part), "."); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ".")
}

func operationTags(operation string, status string, fields map[string]any) map[string]string {
	tags := map[string]string{
		MetricTagOperation: operation,
		MetricTagStatus:    status,
	}
	for _, key := range optionalMetricTags {
		value, ok := fields[key]
		if !ok || value == nil {
			continue
		}
		if text := strings.TrimSpace(fmt.Sprint(value)); text != "" {
			tags[key] = text
		}
	}
	return tags
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
