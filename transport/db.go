package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/goliatone/go-outbound/core"
)

const (
	DefaultDBTable = "connector_events"
	dbEventSource  = "go-outbound"
)

// DBAdapter forwards records to an HTTP ingest endpoint in front of a table.
type DBAdapter struct {
	sender sender
	now    func() time.Time
}

func NewDBAdapter(client HTTPDoer, now func() time.Time) *DBAdapter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &DBAdapter{sender: newSender(client), now: now}
}

func (*DBAdapter) Type() core.ConnectorType {
	return core.ConnectorTypeDB
}

func (a *DBAdapter) Validate(cfg core.ConnectorConfig) error {
	target := stringValue(cfg, "ingest_url")
	if target == "" {
		return requiredField(core.ConnectorTypeDB, "ingest_url")
	}
	if !validHTTPURL(target) {
		return configError(core.ConnectorTypeDB, "ingest_url must be an http or https url", map[string]any{"field": "ingest_url"})
	}
	return nil
}

func (a *DBAdapter) Dispatch(ctx context.Context, payload map[string]any, cfg core.ConnectorConfig) core.DeliveryResult {
	if err := a.Validate(cfg); err != nil {
		return failedResult(err.Error())
	}
	table := stringValue(cfg, "table")
	if table == "" {
		table = DefaultDBTable
	}
	body, err := encodeJSON(map[string]any{
		"table":       table,
		"record":      payload,
		"inserted_at": a.now().UTC().Format(time.RFC3339Nano),
		"source":      dbEventSource,
	})
	if err != nil {
		return failedResult(err.Error())
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if token := stringValue(cfg, "bearer_token"); token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return a.sender.send(ctx, outboundRequest{
		Method:  http.MethodPost,
		URL:     stringValue(cfg, "ingest_url"),
		Headers: headers,
		Body:    body,
	})
}
