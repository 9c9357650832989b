package core

import "testing"

func TestRedactSensitiveMapPreservesTraceabilityMetadata(t *testing.T) {
	redacted := RedactSensitiveMap(map[string]any{
		"project_id":        "proj_1",
		"idempotency_key":   "evt-1",
		"api_token":         "secret-token",
		"secret_access_key": "aws-secret",
		"headers":           map[string]string{"authorization": "Bearer x", "x-trace": "t1"},
		"nested":            map[string]any{"bearer_token": "tok", "table": "events"},
		"events":            []any{map[string]any{"password": "pw"}},
		"queue_url":         "https://sqs.eu-west-1.amazonaws.com/1/q",
	})

	if redacted["project_id"] != "proj_1" || redacted["idempotency_key"] != "evt-1" {
		t.Fatalf("expected traceability keys visible, got %#v", redacted)
	}
	if redacted["api_token"] != RedactedValue || redacted["secret_access_key"] != RedactedValue {
		t.Fatalf("expected secrets redacted, got %#v", redacted)
	}
	headers, ok := redacted["headers"].(map[string]any)
	if !ok || headers["authorization"] != RedactedValue || headers["x-trace"] != "t1" {
		t.Fatalf("expected header authorization redacted, got %#v", redacted["headers"])
	}
	nested := redacted["nested"].(map[string]any)
	if nested["bearer_token"] != RedactedValue || nested["table"] != "events" {
		t.Fatalf("unexpected nested map %#v", nested)
	}
	events := redacted["events"].([]any)
	if events[0].(map[string]any)["password"] != RedactedValue {
		t.Fatalf("expected slice entries redacted")
	}
	if redacted["queue_url"] != "https://sqs.eu-west-1.amazonaws.com/1/q" {
		t.Fatalf("expected queue_url visible")
	}
}

func TestMergeConnectorConfig(t *testing.T) {
	merged := mergeConnectorConfig(
		ConnectorConfig{"url": "https://fallback", "bearer_token": "fallback"},
		ConnectorConfig{"url": "https://request", "bearer_token": RedactedValue, "table": "events"},
	)
	if merged["url"] != "https://request" || merged["bearer_token"] != "fallback" || merged["table"] != "events" {
		t.Fatalf("unexpected merge %#v", merged)
	}
	onlyRedacted := mergeConnectorConfig(nil, ConnectorConfig{"api_token": RedactedValue})
	if _, ok := onlyRedacted["api_token"]; ok {
		t.Fatalf("expected placeholder dropped without fallback, got %#v", onlyRedacted)
	}
}

func TestMergeConnectorConfigMergesNestedHeaders(t *testing.T) {
	merged := mergeConnectorConfig(
		ConnectorConfig{"headers": map[string]string{"Authorization": "Bearer real", "X-Env": "prod"}},
		ConnectorConfig{"headers": map[string]any{"Authorization": RedactedValue, "X-Trace": "t1"}},
	)
	headers, ok := merged["headers"].(map[string]any)
	if !ok {
		t.Fatalf("expected merged headers map, got %#v", merged["headers"])
	}
	if headers["Authorization"] != "Bearer real" || headers["X-Env"] != "prod" || headers["X-Trace"] != "t1" {
		t.Fatalf("unexpected headers %#v", headers)
	}

	bare := mergeConnectorConfig(nil, ConnectorConfig{"headers": map[string]any{"Authorization": RedactedValue}})
	if headers := bare["headers"].(map[string]any); len(headers) != 0 {
		t.Fatalf("expected redacted header dropped, got %#v", headers)
	}
}

func TestUnresolvedSecrets(t *testing.T) {
	request := ConnectorConfig{
		"url":          "https://hooks.example.com",
		"bearer_token": "live-token",
		"headers":      map[string]string{"Authorization": "Bearer live", "X-Trace": "t1"},
	}
	stored := mergeConnectorConfig(nil, RedactSensitiveMap(request))
	missing := unresolvedSecrets(request, stored)
	if len(missing) != 2 || missing[0] != "bearer_token" || missing[1] != "headers.Authorization" {
		t.Fatalf("unexpected missing secrets %#v", missing)
	}

	withFallback := mergeConnectorConfig(
		ConnectorConfig{"bearer_token": "process-token", "headers": map[string]any{"Authorization": "Bearer process"}},
		RedactSensitiveMap(request),
	)
	if missing := unresolvedSecrets(request, withFallback); len(missing) != 0 {
		t.Fatalf("expected fallback to resolve secrets, got %#v", missing)
	}
}
