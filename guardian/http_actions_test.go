package guardian

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
)

func TestHTTPActionsProcessAndRedrive(t *testing.T) {
	var processBody core.ProcessRequest
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/api/v1/projects/proj_1/connectors/process":
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			_ = json.NewDecoder(r.Body).Decode(&processBody)
			_ = json.NewEncoder(w).Encode(core.ProcessResult{ProcessedCount: 4, Delivered: 3, Retrying: 1})
		case "/api/v1/projects/proj_1/connectors/redrive":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"cooldown active"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	actions := NewHTTPActions(server.URL+"/", "tok", server.Client())
	ctx := context.Background()

	processed, err := actions.Process(ctx, core.ProcessRequest{ProjectID: "proj_1", ConnectorType: core.ConnectorTypeSQS, Limit: 25, Actor: DefaultActor})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed.ProcessedCount != 4 || processed.Delivered != 3 {
		t.Fatalf("unexpected process result %+v", processed)
	}
	if processBody.ConnectorType != core.ConnectorTypeSQS || processBody.Limit != 25 || processBody.Actor != DefaultActor {
		t.Fatalf("unexpected process body %+v", processBody)
	}
	if authHeader != "Bearer tok" {
		t.Fatalf("expected bearer token, got %q", authHeader)
	}

	redriven, err := actions.Redrive(ctx, core.RedriveRequest{ProjectID: "proj_1", ConnectorType: core.ConnectorTypeDB})
	if err != nil {
		t.Fatalf("redrive: %v", err)
	}
	if !redriven.CooldownActive {
		t.Fatalf("expected 429 to report cooldown")
	}
}

func TestHTTPActionsReliabilityQuery(t *testing.T) {
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(core.ReliabilityResult{
			ProjectID:  "proj_1",
			Connectors: []core.RankedItem{{ConnectorType: core.ConnectorTypeWebhook, RiskScore: 55, Recommendation: core.RecommendationRedriveDeadLetters}},
		})
	}))
	defer server.Close()

	actions := NewHTTPActions(server.URL, "", server.Client())
	result, err := actions.Reliability(context.Background(), core.ReliabilityRequest{
		ProjectID:      "proj_1",
		ConnectorTypes: []core.ConnectorType{core.ConnectorTypeWebhook, core.ConnectorTypeSQS},
		LookbackHours:  12,
	})
	if err != nil {
		t.Fatalf("reliability: %v", err)
	}
	if query != "connector_types=webhook%2Csqs&lookback_hours=12" {
		t.Fatalf("unexpected query %q", query)
	}
	if len(result.Connectors) != 1 || result.Connectors[0].RiskScore != 55 {
		t.Fatalf("unexpected reliability %+v", result)
	}
}

func TestHTTPActionsPolicyLookupStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/projects/proj_found/connector-guardian-policy":
			_, _ = w.Write([]byte(`{"enabled":true,"risk_threshold":42}`))
		case "/api/v1/projects/proj_denied/connector-guardian-policy":
			w.WriteHeader(http.StatusForbidden)
		case "/api/v1/projects/proj_broken/connector-guardian-policy":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	actions := NewHTTPActions(server.URL, "tok", server.Client())
	ctx := context.Background()

	policy, found, err := actions.ConnectorGuardianPolicy(ctx, "proj_found")
	if err != nil || !found || policy.RiskThreshold != 42 || !policy.Enabled {
		t.Fatalf("unexpected found policy=%+v found=%v err=%v", policy, found, err)
	}
	defaults := testDefaults()
	resolved := policy.withDefaults(defaults)
	if resolved.CooldownMinutes != defaults.CooldownMinutes || resolved.ActionLimit != defaults.ActionLimit {
		t.Fatalf("expected omitted limits to inherit defaults, got %+v", resolved)
	}
	_, found, err = actions.ConnectorGuardianPolicy(ctx, "proj_missing")
	if err != nil || found {
		t.Fatalf("expected 404 to be not found, found=%v err=%v", found, err)
	}
	_, _, err = actions.ConnectorGuardianPolicy(ctx, "proj_denied")
	if !IsAccessDenied(err) {
		t.Fatalf("expected access denied, got %v", err)
	}
	_, _, err = actions.ConnectorGuardianPolicy(ctx, "proj_broken")
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Code != http.StatusInternalServerError || IsAccessDenied(err) {
		t.Fatalf("expected external 500 error, got %v", err)
	}
}

func TestHTTPActionsListProjects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/organizations/org_1/projects" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"projects":[{"id":"a"},{"id":" "},{"id":"b"}]}`))
	}))
	defer server.Close()

	projects, err := NewHTTPActions(server.URL, "", server.Client()).ListProjects(context.Background(), "org_1")
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 2 || projects[0] != "a" || projects[1] != "b" {
		t.Fatalf("unexpected projects %#v", projects)
	}
}

func TestHTTPActionsTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := server.URL
	server.Close()

	_, err := NewHTTPActions(baseURL, "", nil).Process(context.Background(), core.ProcessRequest{ProjectID: "p"})
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != core.OutboundErrorTransportFailed {
		t.Fatalf("expected transport failure, got %v", err)
	}
}
