package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-outbound/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AuditStore struct {
	repo repository.Repository[*auditRecord]
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditRecord](db, auditHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit repository wiring: %w", err)
		}
	}
	return &AuditStore{repo: repo}, nil
}

// Record stores an audit event with its metadata redacted.
func (s *AuditStore) Record(ctx context.Context, record core.AuditRecord) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	eventType := strings.TrimSpace(record.EventType)
	if eventType == "" {
		return fmt.Errorf("sqlstore: audit event type is required")
	}
	id := strings.TrimSpace(record.ID)
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := record.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.repo.Create(ctx, &auditRecord{
		ID:        id,
		EventType: eventType,
		Actor:     strings.TrimSpace(record.Actor),
		ProjectID: strings.TrimSpace(record.ProjectID),
		Metadata:  core.RedactSensitiveMap(record.Metadata),
		CreatedAt: createdAt,
	})
	return err
}

type AuditFilter struct {
	ProjectID string
	EventType string
	From      *time.Time
	Limit     int
}

// List returns audit events newest first.
func (s *AuditStore) List(ctx context.Context, filter AuditFilter) ([]core.AuditRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: audit store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
	}
	if projectID := strings.TrimSpace(filter.ProjectID); projectID != "" {
		selectors = append(selectors, repository.SelectBy("project_id", "=", projectID))
	}
	if eventType := strings.TrimSpace(filter.EventType); eventType != "" {
		selectors = append(selectors, repository.SelectBy("event_type", "=", eventType))
	}
	if filter.From != nil {
		selectors = append(selectors, repository.SelectByTimetz("created_at", ">=", filter.From.UTC()))
	}
	if filter.Limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(filter.Limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.AuditRecord, 0, len(records))
	for _, record := range records {
		out = append(out, core.AuditRecord{
			ID:        record.ID,
			EventType: record.EventType,
			Actor:     record.Actor,
			ProjectID: record.ProjectID,
			Metadata:  copyAnyMap(record.Metadata),
			CreatedAt: record.CreatedAt.UTC(),
		})
	}
	return out, nil
}
