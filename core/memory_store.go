package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryLedgerStore is a mutex-serialized LedgerStore for tests and
// single-process use.
type MemoryLedgerStore struct {
	mu          sync.Mutex
	deliveries  map[string]Delivery
	idempotency map[string]string
	attempts    map[string][]DeliveryAttempt
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		deliveries:  map[string]Delivery{},
		idempotency: map[string]string{},
		attempts:    map[string][]DeliveryAttempt{},
	}
}

func idempotencyIndexKey(projectID string, connectorType ConnectorType, key string) string {
	return projectID + "|" + string(connectorType) + "|" + key
}

func (s *MemoryLedgerStore) CreateDelivery(_ context.Context, delivery Delivery) (Delivery, bool, error) {
	if s == nil {
		return Delivery{}, false, fmt.Errorf("core: memory ledger store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if key := strings.TrimSpace(delivery.IdempotencyKey); key != "" {
		indexKey := idempotencyIndexKey(delivery.ProjectID, delivery.ConnectorType, key)
		if existingID, ok := s.idempotency[indexKey]; ok {
			return cloneDelivery(s.deliveries[existingID]), true, nil
		}
		s.idempotency[indexKey] = delivery.ID
	}
	s.deliveries[delivery.ID] = cloneDelivery(delivery)
	return cloneDelivery(delivery), false, nil
}

func (s *MemoryLedgerStore) GetDelivery(_ context.Context, id string) (Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery, ok := s.deliveries[id]
	if !ok {
		return Delivery{}, MapError(fmt.Errorf("%w: %s", ErrDeliveryNotFound, id))
	}
	return cloneDelivery(delivery), nil
}

func (s *MemoryLedgerStore) UpdateDelivery(_ context.Context, delivery Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[delivery.ID]; !ok {
		return MapError(fmt.Errorf("%w: %s", ErrDeliveryNotFound, delivery.ID))
	}
	s.deliveries[delivery.ID] = cloneDelivery(delivery)
	return nil
}

func (s *MemoryLedgerStore) AppendAttempt(_ context.Context, attempt DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[attempt.DeliveryID]; !ok {
		return MapError(fmt.Errorf("%w: %s", ErrDeliveryNotFound, attempt.DeliveryID))
	}
	history := s.attempts[attempt.DeliveryID]
	if len(history) > 0 && history[len(history)-1].AttemptNumber >= attempt.AttemptNumber {
		return MapError(fmt.Errorf("%w: attempt %d already recorded", ErrInvalidAttemptSequence, attempt.AttemptNumber))
	}
	attempt.StatusCode = cloneIntPointer(attempt.StatusCode)
	s.attempts[attempt.DeliveryID] = append(history, attempt)
	return nil
}

func (s *MemoryLedgerStore) ListAttempts(_ context.Context, deliveryID string) ([]DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeliveryAttempt(nil), s.attempts[deliveryID]...), nil
}

func (s *MemoryLedgerStore) ListAttemptsForDeliveries(_ context.Context, deliveryIDs []string) (map[string][]DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]DeliveryAttempt, len(deliveryIDs))
	for _, id := range deliveryIDs {
		if history := s.attempts[id]; len(history) > 0 {
			out[id] = append([]DeliveryAttempt(nil), history...)
		}
	}
	return out, nil
}

func (s *MemoryLedgerStore) ListDeliveries(_ context.Context, filter DeliveryFilter) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := map[DeliveryStatus]bool{}
	for _, status := range filter.Statuses {
		statuses[status] = true
	}
	out := make([]Delivery, 0)
	for _, delivery := range s.deliveries {
		if filter.ProjectID != "" && delivery.ProjectID != filter.ProjectID {
			continue
		}
		if filter.ConnectorType != "" && delivery.ConnectorType != filter.ConnectorType {
			continue
		}
		if len(statuses) > 0 && !statuses[delivery.Status] {
			continue
		}
		if filter.UpdatedSince != nil && delivery.UpdatedAt.Before(*filter.UpdatedSince) {
			continue
		}
		out = append(out, cloneDelivery(delivery))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			if filter.Order == DeliveryOrderNewestUpdate {
				return out[i].UpdatedAt.After(out[j].UpdatedAt)
			}
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ClaimDue leases up to Limit due deliveries to Owner, earliest due first.
func (s *MemoryLedgerStore) ClaimDue(_ context.Context, req ClaimRequest) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]Delivery, 0)
	for _, delivery := range s.deliveries {
		if delivery.ProjectID != req.ProjectID || delivery.ConnectorType != req.ConnectorType {
			continue
		}
		if req.DeliveryID != "" && delivery.ID != req.DeliveryID {
			continue
		}
		if !IsConnectorDeliveryDue(delivery, req.Now) {
			continue
		}
		candidates = append(candidates, delivery)
	}
	sort.Slice(candidates, func(i, j int) bool {
		left, right := dueSortKey(candidates[i]), dueSortKey(candidates[j])
		if !left.Equal(right) {
			return left.Before(right)
		}
		return candidates[i].ID < candidates[j].ID
	})
	if req.Limit > 0 && len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	expiresAt := req.Now.Add(req.Lease)
	claimed := make([]Delivery, 0, len(candidates))
	for _, delivery := range candidates {
		delivery.ClaimedBy = req.Owner
		delivery.ClaimExpiresAt = &expiresAt
		s.deliveries[delivery.ID] = cloneDelivery(delivery)
		claimed = append(claimed, cloneDelivery(delivery))
	}
	return claimed, nil
}

func (s *MemoryLedgerStore) CountByStatus(_ context.Context, projectID string, connectorType ConnectorType, now time.Time) (StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := StatusCounts{}
	for _, delivery := range s.deliveries {
		if delivery.ProjectID != projectID || delivery.ConnectorType != connectorType {
			continue
		}
		switch delivery.Status {
		case DeliveryStatusQueued:
			counts.Queued++
		case DeliveryStatusRetrying:
			counts.Retrying++
		case DeliveryStatusDelivered:
			counts.Delivered++
		case DeliveryStatusDeadLettered:
			counts.DeadLettered++
		}
		if IsConnectorDeliveryDue(delivery, now) {
			counts.DueNow++
		}
	}
	return counts, nil
}

func dueSortKey(delivery Delivery) time.Time {
	if delivery.NextAttemptAt != nil {
		return *delivery.NextAttemptAt
	}
	return delivery.CreatedAt
}

type MemoryAuditSink struct {
	mu      sync.Mutex
	records []AuditRecord
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) Record(_ context.Context, record AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.Metadata = copyAnyMap(record.Metadata)
	s.records = append(s.records, record)
	return nil
}

func (s *MemoryAuditSink) Records() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditRecord(nil), s.records...)
}

type MemoryCooldownStore struct {
	mu      sync.Mutex
	actions map[string]ActionRecord
	history []ActionRecord
}

func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{actions: map[string]ActionRecord{}}
}

func cooldownKey(projectID string, connectorType ConnectorType, action GuardianAction) string {
	return projectID + "|" + string(connectorType) + "|" + string(action)
}

func (s *MemoryCooldownStore) LastAction(_ context.Context, projectID string, connectorType ConnectorType, action GuardianAction) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.actions[cooldownKey(projectID, connectorType, action)]
	if !ok {
		return time.Time{}, false, nil
	}
	return record.CreatedAt, true, nil
}

func (s *MemoryCooldownStore) RecordAction(_ context.Context, record ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, record)
	key := cooldownKey(record.ProjectID, record.ConnectorType, record.Action)
	if existing, ok := s.actions[key]; ok && existing.CreatedAt.After(record.CreatedAt) {
		return nil
	}
	s.actions[key] = record
	return nil
}

// ListActions returns a project's recorded actions newest first.
func (s *MemoryCooldownStore) ListActions(_ context.Context, projectID string, limit int) ([]ActionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActionRecord, 0)
	for _, record := range s.history {
		if record.ProjectID == projectID {
			out = append(out, record)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
