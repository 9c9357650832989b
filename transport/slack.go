package transport

import (
	"context"
	"net/http"

	"github.com/goliatone/go-outbound/core"
)

// SlackAdapter posts {text} to an incoming webhook.
type SlackAdapter struct {
	sender sender
}

func NewSlackAdapter(client HTTPDoer) *SlackAdapter {
	return &SlackAdapter{sender: newSender(client)}
}

func (*SlackAdapter) Type() core.ConnectorType {
	return core.ConnectorTypeSlack
}

func (a *SlackAdapter) Validate(cfg core.ConnectorConfig) error {
	target := stringValue(cfg, "webhook_url")
	if target == "" {
		return requiredField(core.ConnectorTypeSlack, "webhook_url")
	}
	if !validHTTPURL(target) {
		return configError(core.ConnectorTypeSlack, "webhook_url must be an http or https url", map[string]any{"field": "webhook_url"})
	}
	return nil
}

func (a *SlackAdapter) Dispatch(ctx context.Context, payload map[string]any, cfg core.ConnectorConfig) core.DeliveryResult {
	if err := a.Validate(cfg); err != nil {
		return failedResult(err.Error())
	}
	text := payloadString(payload, "text")
	if text == "" {
		text = payloadText(payload)
	}
	body, err := encodeJSON(map[string]any{"text": text})
	if err != nil {
		return failedResult(err.Error())
	}
	return a.sender.send(ctx, outboundRequest{
		Method:  http.MethodPost,
		URL:     stringValue(cfg, "webhook_url"),
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})
}
