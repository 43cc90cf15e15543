package core

import (
	"context"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Observer logs one line and records counter/histogram metrics per operation.
type Observer struct {
	logger  Logger
	metrics MetricsRecorder
	prefix  string
}

func NewObserver(logger Logger, metrics MetricsRecorder, prefix string) *Observer {
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bff"
	}
	return &Observer{
		logger:  glog.Ensure(logger),
		metrics: metrics,
		prefix:  prefix,
	}
}

func (o *Observer) Observe(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if o == nil {
		return
	}
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := RedactSensitiveMap(fields)
	contextFields["operation"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = RedactSecrets(err.Error())
		if code := TextCode(err); code != "" {
			contextFields["error_code"] = code
		}
	}

	tags := operationTags(operation, status, contextFields)
	elapsed := float64(time.Since(startedAt).Milliseconds())
	o.recordCounter(ctx, MetricName(o.prefix, operation, "total"), 1, tags)
	o.recordHistogram(ctx, MetricName(o.prefix, operation, "duration_ms"), elapsed, tags)

	if err != nil {
		o.Log(ctx, "error", operation+" failed", contextFields)
		return
	}
	o.Log(ctx, "info", operation+" succeeded", contextFields)
}

func (o *Observer) Log(ctx context.Context, level string, message string, fields map[string]any) {
	if o == nil || o.logger == nil {
		return
	}
	logger := o.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	var args []any
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	} else {
		args = flattenFields(fields)
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (o *Observer) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (o *Observer) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
