package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-outbound/core"
)

type capturedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

type captureServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
}

func newCaptureServer(t *testing.T, status int, response string) *captureServer {
	t.Helper()
	capture := &captureServer{}
	capture.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		capture.mu.Lock()
		capture.requests = append(capture.requests, capturedRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Headers: r.Header.Clone(),
			Body:    body,
		})
		capture.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(capture.Close)
	return capture
}

func (s *captureServer) last(t *testing.T) capturedRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatalf("expected a captured request")
	}
	return s.requests[len(s.requests)-1]
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func decodeBody(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	decoded := map[string]any{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode body %q: %v", raw, err)
	}
	return decoded
}

func TestWebhookAdapterPostsPayloadWithHeaders(t *testing.T) {
	server := newCaptureServer(t, http.StatusAccepted, `{"ok":true}`)
	adapter := NewWebhookAdapter(server.Client())

	result := adapter.Dispatch(context.Background(), map[string]any{"event": "build.failed"}, core.ConnectorConfig{
		"url":     server.URL + "/hooks",
		"headers": map[string]any{"X-Signature": "abc"},
	})
	if !result.Success || result.StatusCode == nil || *result.StatusCode != http.StatusAccepted {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.ResponseBody != `{"ok":true}` {
		t.Fatalf("unexpected response body %q", result.ResponseBody)
	}
	req := server.last(t)
	if req.Method != http.MethodPost || req.Path != "/hooks" {
		t.Fatalf("unexpected request %s %s", req.Method, req.Path)
	}
	if req.Headers.Get("Content-Type") != "application/json" || req.Headers.Get("X-Signature") != "abc" {
		t.Fatalf("unexpected headers %#v", req.Headers)
	}
	if decodeBody(t, req.Body)["event"] != "build.failed" {
		t.Fatalf("expected raw payload body, got %s", req.Body)
	}
}

func TestWebhookAdapterValidate(t *testing.T) {
	adapter := NewWebhookAdapter(nil)
	if err := adapter.Validate(core.ConnectorConfig{}); !core.IsConfigError(err) {
		t.Fatalf("expected config error for missing url, got %v", err)
	}
	if err := adapter.Validate(core.ConnectorConfig{"url": "ftp://example.com"}); !core.IsConfigError(err) {
		t.Fatalf("expected config error for ftp url, got %v", err)
	}
	if err := adapter.Validate(core.ConnectorConfig{"url": "https://example.com", "headers": "nope"}); !core.IsConfigError(err) {
		t.Fatalf("expected config error for invalid headers, got %v", err)
	}
}

func TestSenderReportsNon2xxWithStatusPrefix(t *testing.T) {
	server := newCaptureServer(t, http.StatusServiceUnavailable, strings.Repeat("x", 2500))
	adapter := NewWebhookAdapter(server.Client())

	result := adapter.Dispatch(context.Background(), map[string]any{}, core.ConnectorConfig{"url": server.URL})
	if result.Success || result.StatusCode == nil || *result.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 failure, got %+v", result)
	}
	if !strings.HasPrefix(result.ErrorMessage, "HTTP 503") {
		t.Fatalf("expected HTTP prefix, got %q", result.ErrorMessage)
	}
	if len(result.ResponseBody) != core.MaxResponseBodyChars {
		t.Fatalf("expected body truncated to %d, got %d", core.MaxResponseBodyChars, len(result.ResponseBody))
	}
	if core.ClassifyRetry(result.ErrorMessage) != core.RetryClassServerError {
		t.Fatalf("expected server error classification")
	}
}

func TestSenderNetworkFailureHasNoStatusCode(t *testing.T) {
	server := newCaptureServer(t, http.StatusOK, "")
	target := server.URL
	server.Close()

	result := NewWebhookAdapter(nil).Dispatch(context.Background(), map[string]any{}, core.ConnectorConfig{"url": target})
	if result.Success || result.StatusCode != nil || result.ErrorMessage == "" {
		t.Fatalf("expected network failure without status, got %+v", result)
	}
}

func TestSlackAdapterWrapsText(t *testing.T) {
	server := newCaptureServer(t, http.StatusOK, "ok")
	adapter := NewSlackAdapter(server.Client())

	result := adapter.Dispatch(context.Background(), map[string]any{"text": "deploy done"}, core.ConnectorConfig{"webhook_url": server.URL})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if decodeBody(t, server.last(t).Body)["text"] != "deploy done" {
		t.Fatalf("expected text field passthrough")
	}

	adapter.Dispatch(context.Background(), map[string]any{"count": 2}, core.ConnectorConfig{"webhook_url": server.URL})
	if got := decodeBody(t, server.last(t).Body)["text"]; got != `{"count":2}` {
		t.Fatalf("expected JSON text fallback, got %#v", got)
	}
	if err := adapter.Validate(core.ConnectorConfig{}); !core.IsConfigError(err) {
		t.Fatalf("expected config error for missing webhook_url")
	}
}

func TestJiraAdapterCreatesIssue(t *testing.T) {
	server := newCaptureServer(t, http.StatusCreated, `{"key":"OPS-1"}`)
	adapter := NewJiraAdapter(server.Client(), fixedNow)
	cfg := core.ConnectorConfig{
		"base_url":    server.URL + "/",
		"email":       "ops@example.com",
		"api_token":   "jira-token",
		"project_key": "OPS",
	}

	result := adapter.Dispatch(context.Background(), map[string]any{
		"title":       "Disk full",
		"description": strings.Repeat("d", 7000),
	}, cfg)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	req := server.last(t)
	if req.Path != "/rest/api/3/issue" {
		t.Fatalf("unexpected path %s", req.Path)
	}
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("ops@example.com:jira-token"))
	if req.Headers.Get("Authorization") != wantAuth {
		t.Fatalf("unexpected auth header %q", req.Headers.Get("Authorization"))
	}
	fields := decodeBody(t, req.Body)["fields"].(map[string]any)
	if fields["summary"] != "Disk full" {
		t.Fatalf("expected title summary fallback, got %#v", fields["summary"])
	}
	if len(fields["description"].(string)) != 6000 {
		t.Fatalf("expected description truncated to 6000")
	}
	if fields["issuetype"].(map[string]any)["name"] != "Task" || fields["project"].(map[string]any)["key"] != "OPS" {
		t.Fatalf("unexpected issue fields %#v", fields)
	}

	adapter.Dispatch(context.Background(), map[string]any{}, cfg)
	fields = decodeBody(t, server.last(t).Body)["fields"].(map[string]any)
	if fields["summary"] != "Connector event 2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected default summary %#v", fields["summary"])
	}
}

func TestJiraAdapterRequiresFields(t *testing.T) {
	err := NewJiraAdapter(nil, nil).Validate(core.ConnectorConfig{"base_url": "https://jira.example.com", "email": "a@b.c"})
	if !core.IsConfigError(err) || !strings.Contains(err.Error(), "api_token") {
		t.Fatalf("expected api_token config error, got %v", err)
	}
}

func TestSQSAdapterSignsSendMessage(t *testing.T) {
	server := newCaptureServer(t, http.StatusOK, "<SendMessageResponse/>")
	adapter := NewSQSAdapter(server.Client(), fixedNow)

	result := adapter.Dispatch(context.Background(), map[string]any{"order": "42"}, core.ConnectorConfig{
		"queue_url":         server.URL + "/123456789012/orders.fifo",
		"access_key_id":     "AKIDEXAMPLE",
		"secret_access_key": "secret",
		"session_token":     "session",
		"region":            "eu-west-1",
		"message_group_id":  "orders",
		"delay_seconds":     float64(0),
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	req := server.last(t)
	auth := req.Headers.Get("Authorization")
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20260301/eu-west-1/sqs/aws4_request") {
		t.Fatalf("unexpected authorization %q", auth)
	}
	if !strings.Contains(auth, "SignedHeaders=content-type;host;x-amz-date;x-amz-security-token,") {
		t.Fatalf("unexpected signed headers %q", auth)
	}
	if req.Headers.Get("X-Amz-Date") != "20260301T120000Z" || req.Headers.Get("X-Amz-Security-Token") != "session" {
		t.Fatalf("unexpected amz headers %#v", req.Headers)
	}
	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		t.Fatalf("parse form: %v", err)
	}
	if form.Get("Action") != "SendMessage" || form.Get("Version") != "2012-11-05" {
		t.Fatalf("unexpected form %#v", form)
	}
	if form.Get("MessageBody") != `{"order":"42"}` || form.Get("MessageGroupId") != "orders" || form.Get("DelaySeconds") != "0" {
		t.Fatalf("unexpected message fields %#v", form)
	}
	wantDedup, _ := core.PayloadHash(map[string]any{"order": "42"})
	if form.Get("MessageDeduplicationId") != wantDedup {
		t.Fatalf("expected payload hash dedup id")
	}
}

func TestSQSAdapterValidate(t *testing.T) {
	adapter := NewSQSAdapter(nil, nil)
	base := func() core.ConnectorConfig {
		return core.ConnectorConfig{
			"queue_url":         "https://sqs.eu-west-1.amazonaws.com/1/q.fifo",
			"access_key_id":     "a",
			"secret_access_key": "b",
			"message_group_id":  "g",
		}
	}
	if err := adapter.Validate(base()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	missingGroup := base()
	delete(missingGroup, "message_group_id")
	if err := adapter.Validate(missingGroup); !core.IsConfigError(err) {
		t.Fatalf("expected fifo group error")
	}
	for _, delay := range []any{float64(901), float64(-1), 1.5, "soon"} {
		cfg := base()
		cfg["delay_seconds"] = delay
		if err := adapter.Validate(cfg); !core.IsConfigError(err) {
			t.Fatalf("expected delay %v to fail", delay)
		}
	}
}

func TestResolveSQSRegion(t *testing.T) {
	if got := ResolveSQSRegion("https://sqs.ap-south-1.amazonaws.com/1/q", ""); got != "ap-south-1" {
		t.Fatalf("expected region from host, got %s", got)
	}
	if got := ResolveSQSRegion("https://sqs.ap-south-1.amazonaws.com/1/q", "us-west-2"); got != "us-west-2" {
		t.Fatalf("expected explicit region, got %s", got)
	}
	if got := ResolveSQSRegion("http://localhost:4566/1/q", ""); got != "us-east-1" {
		t.Fatalf("expected default region, got %s", got)
	}
}

func TestDBAdapterPostsRecord(t *testing.T) {
	server := newCaptureServer(t, http.StatusOK, "")
	adapter := NewDBAdapter(server.Client(), fixedNow)

	result := adapter.Dispatch(context.Background(), map[string]any{"id": "r1"}, core.ConnectorConfig{
		"ingest_url":   server.URL,
		"bearer_token": "db-token",
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	req := server.last(t)
	if req.Headers.Get("Authorization") != "Bearer db-token" {
		t.Fatalf("expected bearer header")
	}
	body := decodeBody(t, req.Body)
	if body["table"] != DefaultDBTable || body["source"] != "go-outbound" {
		t.Fatalf("unexpected body %#v", body)
	}
	if body["record"].(map[string]any)["id"] != "r1" || body["inserted_at"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected record %#v", body)
	}
}

func TestRegistryResolvesDefaults(t *testing.T) {
	registry := NewDefaultRegistry()
	if got := len(registry.Types()); got != len(core.ConnectorTypes()) {
		t.Fatalf("expected all connector types registered, got %d", got)
	}
	for _, connectorType := range core.ConnectorTypes() {
		adapter, err := registry.Adapter(connectorType)
		if err != nil || adapter.Type() != connectorType {
			t.Fatalf("expected adapter for %s, got %v", connectorType, err)
		}
	}
	if err := registry.Register(NewSlackAdapter(nil)); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if _, err := NewRegistry().Adapter(core.ConnectorTypeDB); err == nil {
		t.Fatalf("expected missing adapter error")
	}
}
