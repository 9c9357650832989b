package core

import (
	"sort"
	"strings"
)

const RedactedValue = "[REDACTED]"

// RedactSensitiveMap returns a copy of metadata with secret-shaped keys
// replaced by RedactedValue. Nested maps and slices are walked.
func RedactSensitiveMap(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(metadata)
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactSensitiveValue(value)
	}
	return target
}

func redactSensitiveValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case map[string]string:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = item
		}
		return redactSensitiveMap(out)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactSensitiveValue(typed[i])
		}
		return out
	default:
		return value
	}
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) {
		return false
	}
	sensitiveTokens := []string{
		"password",
		"secret",
		"token",
		"authorization",
		"api_key",
		"apikey",
		"access_key",
		"private_key",
		"credential",
		"signature",
	}
	for _, token := range sensitiveTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func isTraceabilityKey(key string) bool {
	switch key {
	case "project_id",
		"connector_type",
		"delivery_id",
		"idempotency_key",
		"payload_hash",
		"trace_id",
		"request_id":
		return true
	default:
		return false
	}
}

// mergeConnectorConfig overlays request config on the fallback, merging
// nested maps key by key. A redacted placeholder at any depth counts as
// absent: it never replaces a fallback value and is dropped when there is
// none, so adapters see a missing secret instead of the placeholder.
func mergeConnectorConfig(fallback ConnectorConfig, request ConnectorConfig) ConnectorConfig {
	merged := make(ConnectorConfig, len(fallback)+len(request))
	for key, value := range fallback {
		if isRedactedValue(value) {
			continue
		}
		if nested, ok := stringAnyMap(value); ok {
			merged[key] = mergeConnectorConfig(nested, nil)
			continue
		}
		merged[key] = value
	}
	for key, value := range request {
		if isRedactedValue(value) {
			continue
		}
		if nested, ok := stringAnyMap(value); ok {
			base, _ := stringAnyMap(merged[key])
			merged[key] = mergeConnectorConfig(base, nested)
			continue
		}
		merged[key] = value
	}
	return merged
}

// unresolvedSecrets lists the dotted paths of secret values present in
// request that resolved does not carry. These are the credentials a delivery
// loses once its config is stored redacted.
func unresolvedSecrets(request ConnectorConfig, resolved ConnectorConfig) []string {
	return appendUnresolvedSecrets(nil, "", request, resolved)
}

func appendUnresolvedSecrets(out []string, prefix string, request map[string]any, resolved map[string]any) []string {
	for key, value := range request {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if shouldRedactKey(key) {
			// The whole value is redacted at rest, nested maps included.
			if isRedactedValue(value) || isEmptyValue(value) {
				continue
			}
			if current, ok := resolved[key]; !ok || isEmptyValue(current) || isRedactedValue(current) {
				out = append(out, path)
			}
			continue
		}
		if nested, ok := stringAnyMap(value); ok {
			resolvedNested, _ := stringAnyMap(resolved[key])
			out = appendUnresolvedSecrets(out, path, nested, resolvedNested)
		}
	}
	sort.Strings(out)
	return out
}

func isRedactedValue(value any) bool {
	text, ok := value.(string)
	return ok && text == RedactedValue
}

func isEmptyValue(value any) bool {
	if value == nil {
		return true
	}
	text, ok := value.(string)
	return ok && strings.TrimSpace(text) == ""
}

func stringAnyMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[string]string:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = item
		}
		return out, true
	default:
		return nil, false
	}
}
