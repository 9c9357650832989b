package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidConnectorType            = errors.New("core: invalid connector type")
	ErrInvalidDeliveryStatusTransition = errors.New("core: invalid delivery status transition")
	ErrInvalidAttemptSequence          = errors.New("core: invalid delivery attempt sequence")
	ErrDeliveryNotFound                = errors.New("core: delivery not found")
)

type ConnectorType string

const (
	ConnectorTypeWebhook ConnectorType = "webhook"
	ConnectorTypeSlack   ConnectorType = "slack"
	ConnectorTypeJira    ConnectorType = "jira"
	ConnectorTypeSQS     ConnectorType = "sqs"
	ConnectorTypeDB      ConnectorType = "db"
)

// ConnectorTypes returns the fixed set of supported connector types in a
// stable order.
func ConnectorTypes() []ConnectorType {
	return []ConnectorType{
		ConnectorTypeWebhook,
		ConnectorTypeSlack,
		ConnectorTypeJira,
		ConnectorTypeSQS,
		ConnectorTypeDB,
	}
}

func (t ConnectorType) Valid() bool {
	switch t {
	case ConnectorTypeWebhook, ConnectorTypeSlack, ConnectorTypeJira, ConnectorTypeSQS, ConnectorTypeDB:
		return true
	default:
		return false
	}
}

func ParseConnectorType(raw string) (ConnectorType, error) {
	candidate := ConnectorType(strings.ToLower(strings.TrimSpace(raw)))
	if !candidate.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidConnectorType, raw)
	}
	return candidate, nil
}

type DeliveryStatus string

const (
	DeliveryStatusQueued       DeliveryStatus = "queued"
	DeliveryStatusRetrying     DeliveryStatus = "retrying"
	DeliveryStatusDelivered    DeliveryStatus = "delivered"
	DeliveryStatusDeadLettered DeliveryStatus = "dead_lettered"
)

func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusDeadLettered
}

type Delivery struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"project_id"`
	ConnectorType    ConnectorType   `json:"connector_type"`
	IdempotencyKey   string          `json:"idempotency_key,omitempty"`
	PayloadHash      string          `json:"payload_hash"`
	Payload          map[string]any  `json:"payload"`
	Config           ConnectorConfig `json:"config,omitempty"`
	Status           DeliveryStatus  `json:"status"`
	AttemptCount     int             `json:"attempt_count"`
	MaxAttempts      int             `json:"max_attempts"`
	LastStatusCode   *int            `json:"last_status_code,omitempty"`
	LastError        string          `json:"last_error,omitempty"`
	NextAttemptAt    *time.Time      `json:"next_attempt_at,omitempty"`
	DeadLetterReason string          `json:"dead_letter_reason,omitempty"`
	DeliveredAt      *time.Time      `json:"delivered_at,omitempty"`
	ClaimedBy        string          `json:"claimed_by,omitempty"`
	ClaimExpiresAt   *time.Time      `json:"claim_expires_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// DeliveryAttempt is append-only; a delivery exclusively owns its attempts.
type DeliveryAttempt struct {
	ID            string    `json:"id"`
	DeliveryID    string    `json:"delivery_id"`
	AttemptNumber int       `json:"attempt_number"`
	Success       bool      `json:"success"`
	StatusCode    *int      `json:"status_code,omitempty"`
	Error         string    `json:"error,omitempty"`
	ResponseBody  string    `json:"response_body,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DeliveryResult is the uniform outcome of a single connector dispatch.
type DeliveryResult struct {
	Success      bool
	StatusCode   *int
	ErrorMessage string
	ResponseBody string
}

type ConnectorConfig = map[string]any

type StatusCounts struct {
	Queued       int `json:"queued"`
	Retrying     int `json:"retrying"`
	Delivered    int `json:"delivered"`
	DeadLettered int `json:"dead_lettered"`
	DueNow       int `json:"due_now"`
}

func (c StatusCounts) Total() int {
	return c.Queued + c.Retrying + c.Delivered + c.DeadLettered
}

type AuditRecord struct {
	ID        string
	EventType string
	Actor     string
	ProjectID string
	Metadata  map[string]any
	CreatedAt time.Time
}

const (
	AuditEventDeliveryQueued       = "connector.delivery.queued"
	AuditEventDeliveryDuplicate    = "connector.delivery.duplicate"
	AuditEventDeliveryAttempt      = "connector.delivery.attempt"
	AuditEventDeliveryDelivered    = "connector.delivery.delivered"
	AuditEventDeliveryRetrying     = "connector.delivery.retrying"
	AuditEventDeliveryDeadLettered = "connector.delivery.dead_lettered"
	AuditEventDeliveryRedriven     = "connector.delivery.redriven"
	AuditEventGuardianAction       = "connector.guardian.action"
)

type GuardianAction string

const (
	GuardianActionProcessQueue       GuardianAction = "process_queue"
	GuardianActionRedriveDeadLetters GuardianAction = "redrive_dead_letters"
)

type ActionRecord struct {
	ProjectID     string         `json:"project_id"`
	ConnectorType ConnectorType  `json:"connector_type"`
	Action        GuardianAction `json:"action"`
	Actor         string         `json:"actor"`
	AffectedCount int            `json:"affected_count"`
	CreatedAt     time.Time      `json:"created_at"`
}

// PayloadHash returns the sha256 hex digest of the payload's JSON encoding.
// encoding/json sorts map keys, so equal payloads hash equally.
func PayloadHash(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("core: encode payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func cloneDelivery(d Delivery) Delivery {
	out := d
	out.Payload = copyAnyMap(d.Payload)
	out.Config = copyAnyMap(d.Config)
	out.LastStatusCode = cloneIntPointer(d.LastStatusCode)
	out.NextAttemptAt = cloneTimePointer(d.NextAttemptAt)
	out.DeliveredAt = cloneTimePointer(d.DeliveredAt)
	out.ClaimExpiresAt = cloneTimePointer(d.ClaimExpiresAt)
	return out
}

func cloneIntPointer(value *int) *int {
	if value == nil {
		return nil
	}
	out := *value
	return &out
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	out := value.UTC()
	return &out
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
