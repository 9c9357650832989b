package outbound

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goliatone/go-outbound/core"
)

func TestQueuedDBDeliverySendsConnectorToken(t *testing.T) {
	var (
		mu            sync.Mutex
		authorization []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		authorization = append(authorization, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Connectors = map[string]map[string]any{
		"db": {"bearer_token": "real-secret"},
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	queued, err := svc.Deliver(ctx, core.DeliverRequest{
		ProjectID:     "proj",
		ConnectorType: core.ConnectorTypeDB,
		Mode:          core.DeliveryModeQueue,
		Payload:       map[string]any{"id": 1},
		Config: core.ConnectorConfig{
			"ingest_url":   server.URL,
			"bearer_token": "real-secret",
		},
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if queued.Delivery.Config["bearer_token"] != core.RedactedValue {
		t.Fatalf("expected stored token redacted, got %#v", queued.Delivery.Config["bearer_token"])
	}

	result, err := svc.ProcessDelivery(ctx, queued.Delivery.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Delivery.Status != core.DeliveryStatusDelivered {
		t.Fatalf("expected delivered, got %s (%s)", result.Delivery.Status, result.LastResult.ErrorMessage)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(authorization) != 1 || authorization[0] != "Bearer real-secret" {
		t.Fatalf("expected connector token on the wire, got %v", authorization)
	}
}

func TestQueuedDBDeliveryRejectsRequestOnlyToken(t *testing.T) {
	svc, err := NewService(DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.Deliver(context.Background(), core.DeliverRequest{
		ProjectID:     "proj",
		ConnectorType: core.ConnectorTypeDB,
		Mode:          core.DeliveryModeQueue,
		Payload:       map[string]any{"id": 1},
		Config: core.ConnectorConfig{
			"ingest_url":   "https://ingest.example.com/records",
			"bearer_token": "real-secret",
		},
	})
	if !core.IsConfigError(err) {
		t.Fatalf("expected config error for a token only the request carries, got %v", err)
	}
}
