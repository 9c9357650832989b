package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	MinMaxAttempts = 1
	MaxMaxAttempts = 10
)

type CreateDeliveryInput struct {
	ProjectID      string
	ConnectorType  ConnectorType
	IdempotencyKey string
	Payload        map[string]any
	Config         ConnectorConfig
	MaxAttempts    int
}

// TransitionFields replaces the mutable bookkeeping columns of a delivery.
// Zero values clear the corresponding field.
type TransitionFields struct {
	AttemptCount     int
	LastStatusCode   *int
	LastError        string
	NextAttemptAt    *time.Time
	DeadLetterReason string
	DeliveredAt      *time.Time
}

var allowedDeliveryTransitions = map[DeliveryStatus]map[DeliveryStatus]bool{
	DeliveryStatusQueued: {
		DeliveryStatusDelivered:    true,
		DeliveryStatusRetrying:     true,
		DeliveryStatusDeadLettered: true,
	},
	DeliveryStatusRetrying: {
		DeliveryStatusDelivered:    true,
		DeliveryStatusRetrying:     true,
		DeliveryStatusDeadLettered: true,
	},
}

// Ledger owns every state change of a delivery and its attempts. Each change
// is persisted through the LedgerStore and mirrored to the AuditSink.
type Ledger struct {
	store  LedgerStore
	audit  AuditSink
	logger Logger
	nowFn  func() time.Time
}

func NewLedger(store LedgerStore, audit AuditSink, logger Logger, now func() time.Time) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{store: store, audit: audit, logger: logger, nowFn: now}
}

func (l *Ledger) Store() LedgerStore {
	if l == nil {
		return nil
	}
	return l.store
}

func (l *Ledger) Create(ctx context.Context, in CreateDeliveryInput) (Delivery, bool, error) {
	if l == nil || l.store == nil {
		return Delivery{}, false, internalError(nil, "core: ledger store is not configured")
	}
	projectID := strings.TrimSpace(in.ProjectID)
	if projectID == "" {
		return Delivery{}, false, badInputError("core: project id is required")
	}
	if !in.ConnectorType.Valid() {
		return Delivery{}, false, MapError(fmt.Errorf("%w: %q", ErrInvalidConnectorType, in.ConnectorType))
	}
	hash, err := PayloadHash(in.Payload)
	if err != nil {
		return Delivery{}, false, badInputError(err.Error())
	}

	now := l.nowFn()
	candidate := Delivery{
		ID:             uuid.NewString(),
		ProjectID:      projectID,
		ConnectorType:  in.ConnectorType,
		IdempotencyKey: strings.TrimSpace(in.IdempotencyKey),
		PayloadHash:    hash,
		Payload:        copyAnyMap(in.Payload),
		Status:         DeliveryStatusQueued,
		MaxAttempts:    ClampMaxAttempts(in.MaxAttempts),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if candidate.Payload == nil {
		candidate.Payload = map[string]any{}
	}
	if len(in.Config) > 0 {
		candidate.Config = RedactSensitiveMap(in.Config)
	}

	stored, existing, err := l.store.CreateDelivery(ctx, candidate)
	if err != nil {
		return Delivery{}, false, err
	}
	if existing {
		l.emit(ctx, AuditEventDeliveryDuplicate, stored, map[string]any{
			"idempotency_key": stored.IdempotencyKey,
			"payload_hash":    hash,
		})
		return stored, true, nil
	}
	l.emit(ctx, AuditEventDeliveryQueued, stored, map[string]any{
		"idempotency_key": stored.IdempotencyKey,
		"max_attempts":    stored.MaxAttempts,
	})
	return stored, false, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (Delivery, error) {
	if l == nil || l.store == nil {
		return Delivery{}, internalError(nil, "core: ledger store is not configured")
	}
	return l.store.GetDelivery(ctx, strings.TrimSpace(id))
}

// Transition moves a non-terminal delivery to the next status and releases
// any claim lease held on it.
func (l *Ledger) Transition(ctx context.Context, delivery Delivery, to DeliveryStatus, fields TransitionFields) (Delivery, error) {
	if l == nil || l.store == nil {
		return Delivery{}, internalError(nil, "core: ledger store is not configured")
	}
	if !allowedDeliveryTransitions[delivery.Status][to] {
		return Delivery{}, invalidTransitionError(delivery, to)
	}
	if fields.AttemptCount < 0 || fields.AttemptCount > delivery.MaxAttempts {
		return Delivery{}, invalidTransitionError(delivery, to).
			WithMetadata(map[string]any{"attempt_count": fields.AttemptCount, "max_attempts": delivery.MaxAttempts})
	}

	next := cloneDelivery(delivery)
	next.Status = to
	next.AttemptCount = fields.AttemptCount
	next.LastStatusCode = cloneIntPointer(fields.LastStatusCode)
	next.LastError = fields.LastError
	next.NextAttemptAt = cloneTimePointer(fields.NextAttemptAt)
	next.DeadLetterReason = fields.DeadLetterReason
	next.DeliveredAt = cloneTimePointer(fields.DeliveredAt)
	next.ClaimedBy = ""
	next.ClaimExpiresAt = nil
	next.UpdatedAt = l.nowFn()

	if err := l.store.UpdateDelivery(ctx, next); err != nil {
		return Delivery{}, err
	}

	metadata := map[string]any{
		"from_status":   string(delivery.Status),
		"attempt_count": next.AttemptCount,
	}
	switch to {
	case DeliveryStatusDelivered:
		l.emit(ctx, AuditEventDeliveryDelivered, next, metadata)
	case DeliveryStatusRetrying:
		if next.NextAttemptAt != nil {
			metadata["next_attempt_at"] = next.NextAttemptAt.Format(time.RFC3339Nano)
		}
		metadata["last_error"] = next.LastError
		l.emit(ctx, AuditEventDeliveryRetrying, next, metadata)
	case DeliveryStatusDeadLettered:
		metadata["dead_letter_reason"] = next.DeadLetterReason
		l.emit(ctx, AuditEventDeliveryDeadLettered, next, metadata)
	}
	return next, nil
}

// AppendAttempt records the next attempt for a delivery. Attempt numbers are
// assigned from the stored history and stay monotonic across redrives.
func (l *Ledger) AppendAttempt(ctx context.Context, delivery Delivery, attempt DeliveryAttempt) (DeliveryAttempt, error) {
	if l == nil || l.store == nil {
		return DeliveryAttempt{}, internalError(nil, "core: ledger store is not configured")
	}
	if delivery.Status.Terminal() {
		return DeliveryAttempt{}, MapError(fmt.Errorf("%w: delivery %s is %s", ErrInvalidAttemptSequence, delivery.ID, delivery.Status))
	}
	if delivery.AttemptCount >= delivery.MaxAttempts {
		return DeliveryAttempt{}, MapError(fmt.Errorf("%w: delivery %s exhausted %d attempts", ErrInvalidAttemptSequence, delivery.ID, delivery.MaxAttempts))
	}
	history, err := l.store.ListAttempts(ctx, delivery.ID)
	if err != nil {
		return DeliveryAttempt{}, err
	}
	nextNumber := 1
	if len(history) > 0 {
		nextNumber = history[len(history)-1].AttemptNumber + 1
	}
	if attempt.AttemptNumber != 0 && attempt.AttemptNumber != nextNumber {
		return DeliveryAttempt{}, MapError(fmt.Errorf("%w: expected attempt %d, got %d", ErrInvalidAttemptSequence, nextNumber, attempt.AttemptNumber))
	}

	record := attempt
	record.DeliveryID = delivery.ID
	record.AttemptNumber = nextNumber
	record.StatusCode = cloneIntPointer(attempt.StatusCode)
	record.ResponseBody = TruncateRunes(attempt.ResponseBody, MaxResponseBodyChars)
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = l.nowFn()
	}
	if err := l.store.AppendAttempt(ctx, record); err != nil {
		return DeliveryAttempt{}, err
	}

	metadata := map[string]any{
		"attempt_number": record.AttemptNumber,
		"success":        record.Success,
	}
	if record.StatusCode != nil {
		metadata["status_code"] = *record.StatusCode
	}
	if record.Error != "" {
		metadata["error"] = record.Error
	}
	l.emit(ctx, AuditEventDeliveryAttempt, delivery, metadata)
	return record, nil
}

// Reset returns a dead-lettered delivery to queued. Any other status is left
// untouched and reported with reset=false.
func (l *Ledger) Reset(ctx context.Context, delivery Delivery) (Delivery, bool, error) {
	if l == nil || l.store == nil {
		return Delivery{}, false, internalError(nil, "core: ledger store is not configured")
	}
	if delivery.Status != DeliveryStatusDeadLettered {
		return delivery, false, nil
	}
	next := ResetFields(delivery, l.nowFn())
	if err := l.store.UpdateDelivery(ctx, next); err != nil {
		return Delivery{}, false, err
	}
	l.emit(ctx, AuditEventDeliveryRedriven, next, map[string]any{
		"previous_attempt_count":      delivery.AttemptCount,
		"previous_dead_letter_reason": delivery.DeadLetterReason,
	})
	return next, true, nil
}

func IsTerminal(status DeliveryStatus) bool {
	return status.Terminal()
}

// IsConnectorDeliveryDue reports whether a delivery may be attempted now: it
// is queued or retrying, its next attempt time has passed and no unexpired
// claim lease is held on it.
func IsConnectorDeliveryDue(delivery Delivery, now time.Time) bool {
	if delivery.Status != DeliveryStatusQueued && delivery.Status != DeliveryStatusRetrying {
		return false
	}
	if delivery.NextAttemptAt != nil && delivery.NextAttemptAt.After(now) {
		return false
	}
	if delivery.ClaimExpiresAt != nil && delivery.ClaimExpiresAt.After(now) {
		return false
	}
	return true
}

func ClampMaxAttempts(value int) int {
	if value < MinMaxAttempts {
		return MinMaxAttempts
	}
	if value > MaxMaxAttempts {
		return MaxMaxAttempts
	}
	return value
}

func (l *Ledger) emit(ctx context.Context, eventType string, delivery Delivery, metadata map[string]any) {
	if l == nil || l.audit == nil {
		return
	}
	payload := cloneFields(metadata)
	payload["delivery_id"] = delivery.ID
	payload["connector_type"] = string(delivery.ConnectorType)
	payload["status"] = string(delivery.Status)
	record := AuditRecord{
		ID:        uuid.NewString(),
		EventType: eventType,
		Actor:     ActorFromContext(ctx),
		ProjectID: delivery.ProjectID,
		Metadata:  RedactSensitiveMap(payload),
		CreatedAt: l.nowFn(),
	}
	if err := l.audit.Record(ctx, record); err != nil {
		LogWithFields(ctx, l.logger, "warn", "audit record failed", map[string]any{
			"event_type":  eventType,
			"delivery_id": delivery.ID,
			"error":       err.Error(),
		})
	}
}

func invalidTransitionError(delivery Delivery, to DeliveryStatus) *goerrors.Error {
	return ensureOutboundErrorEnvelope(
		goerrors.Wrap(ErrInvalidDeliveryStatusTransition, goerrors.CategoryConflict,
			fmt.Sprintf("core: delivery %s cannot move from %s to %s", delivery.ID, delivery.Status, to)).
			WithTextCode(OutboundErrorInvalidTransition),
	)
}
