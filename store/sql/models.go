package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/guardian"
	"github.com/uptrace/bun"
)

type deliveryRecord struct {
	bun.BaseModel `bun:"table:outbound_deliveries,alias:od"`

	ID               string         `bun:"id,pk"`
	ProjectID        string         `bun:"project_id,notnull"`
	ConnectorType    string         `bun:"connector_type,notnull"`
	IdempotencyKey   *string        `bun:"idempotency_key"`
	PayloadHash      string         `bun:"payload_hash,notnull"`
	Payload          map[string]any `bun:"payload,type:jsonb,notnull"`
	Config           map[string]any `bun:"config,type:jsonb,notnull"`
	Status           string         `bun:"status,notnull"`
	AttemptCount     int            `bun:"attempt_count,notnull"`
	MaxAttempts      int            `bun:"max_attempts,notnull"`
	LastStatusCode   *int           `bun:"last_status_code"`
	LastError        string         `bun:"last_error,notnull"`
	NextAttemptAt    *time.Time     `bun:"next_attempt_at,nullzero"`
	DeadLetterReason string         `bun:"dead_letter_reason,notnull"`
	DeliveredAt      *time.Time     `bun:"delivered_at,nullzero"`
	ClaimedBy        string         `bun:"claimed_by,notnull"`
	ClaimExpiresAt   *time.Time     `bun:"claim_expires_at,nullzero"`
	CreatedAt        time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type attemptRecord struct {
	bun.BaseModel `bun:"table:outbound_delivery_attempts,alias:oda"`

	ID            string    `bun:"id,pk"`
	DeliveryID    string    `bun:"delivery_id,notnull"`
	AttemptNumber int       `bun:"attempt_number,notnull"`
	Success       bool      `bun:"success,notnull"`
	StatusCode    *int      `bun:"status_code"`
	Error         string    `bun:"error,notnull"`
	ResponseBody  string    `bun:"response_body,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type auditRecord struct {
	bun.BaseModel `bun:"table:outbound_audit_events,alias:oae"`

	ID        string         `bun:"id,pk"`
	EventType string         `bun:"event_type,notnull"`
	Actor     string         `bun:"actor,notnull"`
	ProjectID string         `bun:"project_id,notnull"`
	Metadata  map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type guardianActionRecord struct {
	bun.BaseModel `bun:"table:outbound_guardian_actions,alias:oga"`

	ID            string    `bun:"id,pk"`
	ProjectID     string    `bun:"project_id,notnull"`
	ConnectorType string    `bun:"connector_type,notnull"`
	Action        string    `bun:"action,notnull"`
	Actor         string    `bun:"actor,notnull"`
	AffectedCount int       `bun:"affected_count,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type guardianPolicyRecord struct {
	bun.BaseModel `bun:"table:outbound_guardian_policies,alias:ogp"`

	ProjectID              string    `bun:"project_id,pk"`
	Enabled                bool      `bun:"enabled,notnull"`
	RiskThreshold          float64   `bun:"risk_threshold,notnull"`
	MaxActionsPerProject   int       `bun:"max_actions_per_project,notnull"`
	ActionLimit            int       `bun:"action_limit,notnull"`
	MinDeadLetterMinutes   int       `bun:"min_dead_letter_minutes,notnull"`
	CooldownMinutes        int       `bun:"cooldown_minutes,notnull"`
	AllowedRecommendations []string  `bun:"allowed_recommendations,type:jsonb,notnull"`
	ProcessAfterRedrive    bool      `bun:"process_after_redrive,notnull"`
	CreatedAt              time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt              time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newDeliveryRecord(delivery core.Delivery) *deliveryRecord {
	record := &deliveryRecord{
		ID:               strings.TrimSpace(delivery.ID),
		ProjectID:        strings.TrimSpace(delivery.ProjectID),
		ConnectorType:    string(delivery.ConnectorType),
		PayloadHash:      delivery.PayloadHash,
		Payload:          copyAnyMap(delivery.Payload),
		Config:           copyAnyMap(delivery.Config),
		Status:           string(delivery.Status),
		AttemptCount:     delivery.AttemptCount,
		MaxAttempts:      delivery.MaxAttempts,
		LastStatusCode:   copyIntPointer(delivery.LastStatusCode),
		LastError:        delivery.LastError,
		NextAttemptAt:    utcPointer(delivery.NextAttemptAt),
		DeadLetterReason: delivery.DeadLetterReason,
		DeliveredAt:      utcPointer(delivery.DeliveredAt),
		ClaimedBy:        delivery.ClaimedBy,
		ClaimExpiresAt:   utcPointer(delivery.ClaimExpiresAt),
		CreatedAt:        delivery.CreatedAt.UTC(),
		UpdatedAt:        delivery.UpdatedAt.UTC(),
	}
	if key := strings.TrimSpace(delivery.IdempotencyKey); key != "" {
		record.IdempotencyKey = &key
	}
	return record
}

func (r *deliveryRecord) toDomain() core.Delivery {
	if r == nil {
		return core.Delivery{}
	}
	delivery := core.Delivery{
		ID:               r.ID,
		ProjectID:        r.ProjectID,
		ConnectorType:    core.ConnectorType(r.ConnectorType),
		PayloadHash:      r.PayloadHash,
		Payload:          copyAnyMap(r.Payload),
		Status:           core.DeliveryStatus(r.Status),
		AttemptCount:     r.AttemptCount,
		MaxAttempts:      r.MaxAttempts,
		LastStatusCode:   copyIntPointer(r.LastStatusCode),
		LastError:        r.LastError,
		NextAttemptAt:    utcPointer(r.NextAttemptAt),
		DeadLetterReason: r.DeadLetterReason,
		DeliveredAt:      utcPointer(r.DeliveredAt),
		ClaimedBy:        r.ClaimedBy,
		ClaimExpiresAt:   utcPointer(r.ClaimExpiresAt),
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if len(r.Config) > 0 {
		delivery.Config = copyAnyMap(r.Config)
	}
	if r.IdempotencyKey != nil {
		delivery.IdempotencyKey = *r.IdempotencyKey
	}
	return delivery
}

func newAttemptRecord(attempt core.DeliveryAttempt) *attemptRecord {
	return &attemptRecord{
		ID:            strings.TrimSpace(attempt.ID),
		DeliveryID:    strings.TrimSpace(attempt.DeliveryID),
		AttemptNumber: attempt.AttemptNumber,
		Success:       attempt.Success,
		StatusCode:    copyIntPointer(attempt.StatusCode),
		Error:         attempt.Error,
		ResponseBody:  attempt.ResponseBody,
		CreatedAt:     attempt.CreatedAt.UTC(),
	}
}

func (r *attemptRecord) toDomain() core.DeliveryAttempt {
	if r == nil {
		return core.DeliveryAttempt{}
	}
	return core.DeliveryAttempt{
		ID:            r.ID,
		DeliveryID:    r.DeliveryID,
		AttemptNumber: r.AttemptNumber,
		Success:       r.Success,
		StatusCode:    copyIntPointer(r.StatusCode),
		Error:         r.Error,
		ResponseBody:  r.ResponseBody,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func (r *guardianPolicyRecord) toDomain() guardian.Policy {
	if r == nil {
		return guardian.Policy{}
	}
	return guardian.Policy{
		Enabled:                r.Enabled,
		RiskThreshold:          r.RiskThreshold,
		MaxActionsPerProject:   r.MaxActionsPerProject,
		ActionLimit:            r.ActionLimit,
		MinDeadLetterMinutes:   r.MinDeadLetterMinutes,
		CooldownMinutes:        r.CooldownMinutes,
		AllowedRecommendations: append([]string(nil), r.AllowedRecommendations...),
		ProcessAfterRedrive:    r.ProcessAfterRedrive,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func copyIntPointer(value *int) *int {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	copied := value.UTC()
	return &copied
}
