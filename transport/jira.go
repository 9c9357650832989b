package transport

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-outbound/core"
)

const (
	defaultJiraIssueType    = "Task"
	maxJiraDescriptionChars = 6000
)

// JiraAdapter creates one issue per delivery through the REST v3 API.
type JiraAdapter struct {
	sender sender
	now    func() time.Time
}

func NewJiraAdapter(client HTTPDoer, now func() time.Time) *JiraAdapter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &JiraAdapter{sender: newSender(client), now: now}
}

func (*JiraAdapter) Type() core.ConnectorType {
	return core.ConnectorTypeJira
}

func (a *JiraAdapter) Validate(cfg core.ConnectorConfig) error {
	for _, field := range []string{"base_url", "email", "api_token", "project_key"} {
		if stringValue(cfg, field) == "" {
			return requiredField(core.ConnectorTypeJira, field)
		}
	}
	if !validHTTPURL(stringValue(cfg, "base_url")) {
		return configError(core.ConnectorTypeJira, "base_url must be an http or https url", map[string]any{"field": "base_url"})
	}
	return nil
}

func (a *JiraAdapter) Dispatch(ctx context.Context, payload map[string]any, cfg core.ConnectorConfig) core.DeliveryResult {
	if err := a.Validate(cfg); err != nil {
		return failedResult(err.Error())
	}
	body, err := encodeJSON(a.issue(payload, cfg))
	if err != nil {
		return failedResult(err.Error())
	}
	credentials := stringValue(cfg, "email") + ":" + stringValue(cfg, "api_token")
	return a.sender.send(ctx, outboundRequest{
		Method: http.MethodPost,
		URL:    strings.TrimRight(stringValue(cfg, "base_url"), "/") + "/rest/api/3/issue",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Accept":        "application/json",
			"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials)),
		},
		Body: body,
	})
}

func (a *JiraAdapter) issue(payload map[string]any, cfg core.ConnectorConfig) map[string]any {
	issueType := stringValue(cfg, "issue_type")
	if issueType == "" {
		issueType = defaultJiraIssueType
	}
	summary := payloadString(payload, "summary")
	if summary == "" {
		summary = payloadString(payload, "title")
	}
	if summary == "" {
		summary = "Connector event " + a.now().UTC().Format(time.RFC3339)
	}
	description := payloadString(payload, "description")
	if description == "" {
		description = payloadText(payload)
	}
	return map[string]any{
		"fields": map[string]any{
			"project":     map[string]any{"key": stringValue(cfg, "project_key")},
			"summary":     summary,
			"description": core.TruncateRunes(description, maxJiraDescriptionChars),
			"issuetype":   map[string]any{"name": issueType},
		},
	}
}
