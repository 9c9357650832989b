package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultRedriveLimit = 25
	maxRedriveLimit     = 500
)

// IsEligible reports whether a dead-lettered delivery has rested long enough
// to be redriven.
func IsEligible(delivery Delivery, minDeadLetterMinutes int, now time.Time) bool {
	if delivery.Status != DeliveryStatusDeadLettered {
		return false
	}
	if minDeadLetterMinutes <= 0 {
		return true
	}
	return now.Sub(delivery.UpdatedAt) >= time.Duration(minDeadLetterMinutes)*time.Minute
}

// ResetFields returns the delivery as it looks after a redrive: queued, no
// attempts and every error field cleared.
func ResetFields(delivery Delivery, now time.Time) Delivery {
	next := cloneDelivery(delivery)
	next.Status = DeliveryStatusQueued
	next.AttemptCount = 0
	next.NextAttemptAt = nil
	next.DeadLetterReason = ""
	next.LastError = ""
	next.LastStatusCode = nil
	next.DeliveredAt = nil
	next.ClaimedBy = ""
	next.ClaimExpiresAt = nil
	next.UpdatedAt = now
	return next
}

type RedriveBatchRequest struct {
	ProjectID            string
	ConnectorType        ConnectorType
	Limit                int
	MinDeadLetterMinutes int
}

type RedriveBatchResult struct {
	Redriven []Delivery
	Failures []string
}

type RedriveManager struct {
	ledger *Ledger
	nowFn  func() time.Time
}

func NewRedriveManager(ledger *Ledger, now func() time.Time) *RedriveManager {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &RedriveManager{ledger: ledger, nowFn: now}
}

// RedriveBatch resets up to Limit eligible dead-lettered deliveries, oldest
// first. A failed reset is reported and does not stop the batch.
func (m *RedriveManager) RedriveBatch(ctx context.Context, req RedriveBatchRequest) (RedriveBatchResult, error) {
	result := RedriveBatchResult{Redriven: []Delivery{}, Failures: []string{}}
	if m == nil || m.ledger == nil || m.ledger.Store() == nil {
		return result, internalError(nil, "core: redrive manager is not configured")
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		return result, badInputError("core: project id is required")
	}
	if !req.ConnectorType.Valid() {
		return result, MapError(fmt.Errorf("%w: %q", ErrInvalidConnectorType, req.ConnectorType))
	}
	limit := normalizeBatchLimit(req.Limit, defaultRedriveLimit, maxRedriveLimit)

	candidates, err := m.ledger.Store().ListDeliveries(ctx, DeliveryFilter{
		ProjectID:     strings.TrimSpace(req.ProjectID),
		ConnectorType: req.ConnectorType,
		Statuses:      []DeliveryStatus{DeliveryStatusDeadLettered},
		Limit:         limit,
		Order:         DeliveryOrderOldestUpdate,
	})
	if err != nil {
		return result, err
	}

	now := m.nowFn()
	for _, candidate := range candidates {
		if len(result.Redriven) >= limit {
			break
		}
		if !IsEligible(candidate, req.MinDeadLetterMinutes, now) {
			continue
		}
		reset, changed, err := m.ledger.Reset(ctx, candidate)
		if err != nil {
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", candidate.ID, err))
			continue
		}
		if changed {
			result.Redriven = append(result.Redriven, reset)
		}
	}
	return result, nil
}

func normalizeBatchLimit(limit int, fallback int, ceiling int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}
