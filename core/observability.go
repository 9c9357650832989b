package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// observeOperation emits the per-operation counter and latency histogram and
// logs the outcome. Failures are tagged with their outbound error text code.
func (s *Service) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if s == nil {
		return
	}
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	elapsed := time.Since(startedAt).Milliseconds()

	status, errorCode := "success", "none"
	if err != nil {
		status = "failure"
		errorCode = OutboundErrorInternal
		if mapped := MapError(err); mapped != nil && mapped.TextCode != "" {
			errorCode = mapped.TextCode
		}
	}

	logFields := cloneFields(fields)
	logFields["event_type"] = operation
	logFields["status"] = status
	logFields["duration_ms"] = elapsed

	tags := map[string]string{
		"operation":  operation,
		"status":     status,
		"error_code": errorCode,
	}
	for _, key := range []string{"project_id", "connector_type"} {
		if value := strings.TrimSpace(fmt.Sprint(logFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	s.recordCounter(ctx, "outbound."+operation+".total", 1, tags)
	s.recordHistogram(ctx, "outbound."+operation+".duration_ms", float64(elapsed), tags)

	if err != nil {
		logFields["error"] = err.Error()
		logFields["error_code"] = errorCode
		s.logWithLevel(ctx, "error", "outbound "+operation+" failed", logFields)
		return
	}
	s.logWithLevel(ctx, "info", "outbound "+operation+" completed", logFields)
}

// recordDeliveryOutcome counts a finished attempt loop by its final status.
// Retrying and dead-lettered outcomes carry the retry class of the last error.
func (s *Service) recordDeliveryOutcome(ctx context.Context, delivery Delivery) {
	tags := map[string]string{
		"connector_type": string(delivery.ConnectorType),
		"project_id":     delivery.ProjectID,
	}
	if delivery.Status == DeliveryStatusRetrying || delivery.Status == DeliveryStatusDeadLettered {
		tags["retry_class"] = string(ClassifyRetry(delivery.LastError))
	}
	s.recordCounter(ctx, "outbound.delivery."+string(delivery.Status), 1, tags)
	if delivery.AttemptCount > 0 {
		s.recordHistogram(ctx, "outbound.delivery.attempts", float64(delivery.AttemptCount), map[string]string{
			"connector_type": string(delivery.ConnectorType),
		})
	}
}

func (s *Service) logWarn(ctx context.Context, message string, fields map[string]any) {
	s.logWithLevel(ctx, "warn", message, fields)
}

func (s *Service) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if s == nil {
		return
	}
	LogWithFields(ctx, s.logger, level, message, fields)
}

// LogWithFields writes a structured entry, attaching fields through
// FieldsLogger when supported and as sorted key/value args otherwise.
func LogWithFields(ctx context.Context, logger Logger, level string, message string, fields map[string]any) {
	if logger == nil {
		return
	}
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	fields = RedactSensitiveMap(fields)
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logger.Debug(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
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
