package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// ConnectorAdapter builds, signs and executes the outbound request for one
// connector type. Dispatch never returns an error: transport failures are
// reported through DeliveryResult.
type ConnectorAdapter interface {
	Type() ConnectorType
	Validate(cfg ConnectorConfig) error
	Dispatch(ctx context.Context, payload map[string]any, cfg ConnectorConfig) DeliveryResult
}

type AdapterResolver interface {
	Adapter(connectorType ConnectorType) (ConnectorAdapter, error)
}

type DeliveryOrder string

const (
	DeliveryOrderOldestUpdate DeliveryOrder = "updated_at_asc"
	DeliveryOrderNewestUpdate DeliveryOrder = "updated_at_desc"
)

type DeliveryFilter struct {
	ProjectID     string
	ConnectorType ConnectorType
	Statuses      []DeliveryStatus
	UpdatedSince  *time.Time
	Limit         int
	Order         DeliveryOrder
}

// ClaimRequest selects due deliveries to lease. DeliveryID, when set, narrows
// the claim to that single delivery.
type ClaimRequest struct {
	ProjectID     string
	ConnectorType ConnectorType
	DeliveryID    string
	Limit         int
	Owner         string
	Lease         time.Duration
	Now           time.Time
}

// LedgerStore is the persistence boundary for deliveries and their attempts.
// Implementations must serialize concurrent writers for a single delivery.
type LedgerStore interface {
	// CreateDelivery inserts a delivery. When an idempotency key is set and a
	// delivery already exists for (project, connector type, key), the existing
	// record is returned with existing=true and nothing is written.
	CreateDelivery(ctx context.Context, delivery Delivery) (stored Delivery, existing bool, err error)
	GetDelivery(ctx context.Context, id string) (Delivery, error)
	UpdateDelivery(ctx context.Context, delivery Delivery) error
	AppendAttempt(ctx context.Context, attempt DeliveryAttempt) error
	ListAttempts(ctx context.Context, deliveryID string) ([]DeliveryAttempt, error)
	ListAttemptsForDeliveries(ctx context.Context, deliveryIDs []string) (map[string][]DeliveryAttempt, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error)
	ClaimDue(ctx context.Context, req ClaimRequest) ([]Delivery, error)
	CountByStatus(ctx context.Context, projectID string, connectorType ConnectorType, now time.Time) (StatusCounts, error)
}

type AuditSink interface {
	Record(ctx context.Context, record AuditRecord) error
}

// CooldownStore keeps the last guardian action per (project, connector, action)
// so repeated remediation inside a cooldown window can be refused.
type CooldownStore interface {
	LastAction(ctx context.Context, projectID string, connectorType ConnectorType, action GuardianAction) (time.Time, bool, error)
	RecordAction(ctx context.Context, record ActionRecord) error
}
