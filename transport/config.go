package transport

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/goliatone/go-outbound/core"
)

func stringValue(cfg core.ConnectorConfig, key string) string {
	if len(cfg) == 0 {
		return ""
	}
	value, ok := cfg[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}

// headersValue accepts a header map decoded from JSON or built in Go.
func headersValue(cfg core.ConnectorConfig, key string) (map[string]string, error) {
	raw, ok := cfg[key]
	if !ok || raw == nil {
		return map[string]string{}, nil
	}
	out := map[string]string{}
	switch typed := raw.(type) {
	case map[string]string:
		for name, value := range typed {
			out[name] = value
		}
	case map[string]any:
		for name, value := range typed {
			text, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("header %q must be a string", name)
			}
			out[name] = text
		}
	default:
		return nil, fmt.Errorf("%s must be an object", key)
	}
	return out, nil
}

// intValue reads an optional integer. Floats must be whole numbers.
func intValue(cfg core.ConnectorConfig, key string) (int, bool, error) {
	raw, ok := cfg[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch typed := raw.(type) {
	case int:
		return typed, true, nil
	case int32:
		return int(typed), true, nil
	case int64:
		return int(typed), true, nil
	case float64:
		if typed != math.Trunc(typed) {
			return 0, true, fmt.Errorf("%s must be an integer", key)
		}
		return int(typed), true, nil
	case json.Number:
		parsed, err := strconv.Atoi(typed.String())
		if err != nil {
			return 0, true, fmt.Errorf("%s must be an integer", key)
		}
		return parsed, true, nil
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0, false, nil
		}
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, true, fmt.Errorf("%s must be an integer", key)
		}
		return parsed, true, nil
	default:
		return 0, true, fmt.Errorf("%s must be an integer", key)
	}
}

func validHTTPURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return (scheme == "http" || scheme == "https") && parsed.Host != ""
}

func encodeJSON(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

func payloadText(payload map[string]any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprint(payload)
	}
	return string(raw)
}

func payloadString(payload map[string]any, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}
