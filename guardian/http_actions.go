package guardian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
)

const (
	defaultHTTPActionsTimeout       = 30 * time.Second
	maxActionResponseBytes    int64 = 4 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPActions calls a remote action endpoint surface:
//
//	POST /api/v1/projects/{id}/connectors/process
//	POST /api/v1/projects/{id}/connectors/redrive
//	GET  /api/v1/projects/{id}/connectors/reliability
//	GET  /api/v1/projects/{id}/connector-guardian-policy
//	GET  /api/v1/organizations/{org}/projects
type HTTPActions struct {
	BaseURL string
	Token   string
	Headers map[string]string
	Client  HTTPDoer
}

func NewHTTPActions(baseURL string, token string, client HTTPDoer) *HTTPActions {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPActionsTimeout}
	}
	return &HTTPActions{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:   strings.TrimSpace(token),
		Headers: map[string]string{},
		Client:  client,
	}
}

func (a *HTTPActions) Process(ctx context.Context, req core.ProcessRequest) (core.ProcessResult, error) {
	var result core.ProcessResult
	path := projectPath(req.ProjectID, "connectors/process")
	status, err := a.do(ctx, http.MethodPost, path, nil, req, &result)
	if err != nil {
		return core.ProcessResult{}, err
	}
	if status == http.StatusTooManyRequests {
		result.CooldownActive = true
	}
	return result, nil
}

func (a *HTTPActions) Redrive(ctx context.Context, req core.RedriveRequest) (core.RedriveResult, error) {
	var result core.RedriveResult
	path := projectPath(req.ProjectID, "connectors/redrive")
	status, err := a.do(ctx, http.MethodPost, path, nil, req, &result)
	if err != nil {
		return core.RedriveResult{}, err
	}
	if status == http.StatusTooManyRequests {
		result.CooldownActive = true
	}
	return result, nil
}

func (a *HTTPActions) Reliability(ctx context.Context, req core.ReliabilityRequest) (core.ReliabilityResult, error) {
	query := url.Values{}
	if req.LookbackHours > 0 {
		query.Set("lookback_hours", fmt.Sprint(req.LookbackHours))
	}
	if len(req.ConnectorTypes) > 0 {
		types := make([]string, 0, len(req.ConnectorTypes))
		for _, connectorType := range req.ConnectorTypes {
			types = append(types, string(connectorType))
		}
		query.Set("connector_types", strings.Join(types, ","))
	}
	var result core.ReliabilityResult
	if _, err := a.do(ctx, http.MethodGet, projectPath(req.ProjectID, "connectors/reliability"), query, nil, &result); err != nil {
		return core.ReliabilityResult{}, err
	}
	return result, nil
}

// ConnectorGuardianPolicy returns found=false on 404 and wraps
// ErrPolicyAccessDenied on 401 or 403. Limits missing from the response body
// stay unset and resolve to the guardian defaults.
func (a *HTTPActions) ConnectorGuardianPolicy(ctx context.Context, projectID string) (Policy, bool, error) {
	policy := unsetPolicy()
	_, err := a.do(ctx, http.MethodGet, projectPath(projectID, "connector-guardian-policy"), nil, nil, &policy)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) && richErr.Code == http.StatusNotFound {
			return Policy{}, false, nil
		}
		return Policy{}, false, err
	}
	return policy, true, nil
}

func (a *HTTPActions) ListProjects(ctx context.Context, orgID string) ([]string, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("guardian: organization id is required")
	}
	var body struct {
		Projects []struct {
			ID string `json:"id"`
		} `json:"projects"`
	}
	if _, err := a.do(ctx, http.MethodGet, "/api/v1/organizations/"+url.PathEscape(orgID)+"/projects", nil, nil, &body); err != nil {
		return nil, err
	}
	projects := make([]string, 0, len(body.Projects))
	for _, project := range body.Projects {
		if id := strings.TrimSpace(project.ID); id != "" {
			projects = append(projects, id)
		}
	}
	return projects, nil
}

func projectPath(projectID string, suffix string) string {
	return "/api/v1/projects/" + url.PathEscape(strings.TrimSpace(projectID)) + "/" + suffix
}

// do sends one JSON request. 429 is returned as a status with a nil error so
// callers can report cooldowns; other non-2xx statuses become go-errors.
func (a *HTTPActions) do(ctx context.Context, method string, path string, query url.Values, in any, out any) (int, error) {
	if a == nil || a.Client == nil || a.BaseURL == "" {
		return 0, fmt.Errorf("guardian: http actions are not configured")
	}
	target := a.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("guardian: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if a.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.Token)
	}
	for key, value := range a.Headers {
		if strings.TrimSpace(key) != "" {
			httpReq.Header.Set(key, value)
		}
	}

	res, err := a.Client.Do(httpReq)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryExternal, "guardian: action request failed").
			WithCode(http.StatusBadGateway).
			WithTextCode(core.OutboundErrorTransportFailed).
			WithMetadata(map[string]any{"method": method, "path": path})
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxActionResponseBytes))
	if err != nil {
		return res.StatusCode, fmt.Errorf("guardian: read response: %w", err)
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return res.StatusCode, nil
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return res.StatusCode, goerrors.Wrap(ErrPolicyAccessDenied, goerrors.CategoryAuthz, fmt.Sprintf("guardian: %s %s denied", method, path)).
			WithCode(res.StatusCode).
			WithMetadata(map[string]any{"status_code": res.StatusCode})
	case res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices:
		category := goerrors.CategoryExternal
		if res.StatusCode == http.StatusNotFound {
			category = goerrors.CategoryNotFound
		}
		return res.StatusCode, goerrors.New(
			fmt.Sprintf("guardian: %s %s returned HTTP %d: %s", method, path, res.StatusCode, core.TruncateRunes(strings.TrimSpace(string(raw)), 300)),
			category,
		).WithCode(res.StatusCode)
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return res.StatusCode, fmt.Errorf("guardian: decode response: %w", err)
		}
	}
	return res.StatusCode, nil
}

var (
	_ Actions       = (*HTTPActions)(nil)
	_ PolicySource  = (*HTTPActions)(nil)
	_ ProjectLister = (*HTTPActions)(nil)
)
