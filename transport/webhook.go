package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/goliatone/go-outbound/core"
)

// WebhookAdapter posts the raw payload as JSON to a configured URL.
type WebhookAdapter struct {
	sender sender
}

func NewWebhookAdapter(client HTTPDoer) *WebhookAdapter {
	return &WebhookAdapter{sender: newSender(client)}
}

func (*WebhookAdapter) Type() core.ConnectorType {
	return core.ConnectorTypeWebhook
}

func (a *WebhookAdapter) Validate(cfg core.ConnectorConfig) error {
	target := stringValue(cfg, "url")
	if target == "" {
		return requiredField(core.ConnectorTypeWebhook, "url")
	}
	if !validHTTPURL(target) {
		return configError(core.ConnectorTypeWebhook, "url must be an http or https url", map[string]any{"field": "url"})
	}
	if _, err := headersValue(cfg, "headers"); err != nil {
		return configError(core.ConnectorTypeWebhook, err.Error(), map[string]any{"field": "headers"})
	}
	return nil
}

func (a *WebhookAdapter) Dispatch(ctx context.Context, payload map[string]any, cfg core.ConnectorConfig) core.DeliveryResult {
	if err := a.Validate(cfg); err != nil {
		return failedResult(err.Error())
	}
	body, err := encodeJSON(payload)
	if err != nil {
		return failedResult(err.Error())
	}
	custom, _ := headersValue(cfg, "headers")
	headers := map[string]string{"Content-Type": "application/json"}
	for name, value := range custom {
		if strings.EqualFold(strings.TrimSpace(name), "content-type") {
			headers["Content-Type"] = value
			continue
		}
		headers[name] = value
	}
	return a.sender.send(ctx, outboundRequest{
		Method:  http.MethodPost,
		URL:     stringValue(cfg, "url"),
		Headers: headers,
		Body:    body,
	})
}
