package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-outbound/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CooldownStore keeps the guardian action history. The latest row per
// (project, connector, action) drives the cooldown window.
type CooldownStore struct {
	db   *bun.DB
	repo repository.Repository[*guardianActionRecord]
}

func NewCooldownStore(db *bun.DB) (*CooldownStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*guardianActionRecord](db, guardianActionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid guardian action repository wiring: %w", err)
		}
	}
	return &CooldownStore{db: db, repo: repo}, nil
}

func (s *CooldownStore) LastAction(ctx context.Context, projectID string, connectorType core.ConnectorType, action core.GuardianAction) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, fmt.Errorf("sqlstore: cooldown store is not configured")
	}
	record := &guardianActionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.project_id = ?", strings.TrimSpace(projectID)).
		Where("?TableAlias.connector_type = ?", string(connectorType)).
		Where("?TableAlias.action = ?", string(action)).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return record.CreatedAt.UTC(), true, nil
}

func (s *CooldownStore) RecordAction(ctx context.Context, record core.ActionRecord) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: cooldown store is not configured")
	}
	projectID := strings.TrimSpace(record.ProjectID)
	if projectID == "" || !record.ConnectorType.Valid() {
		return fmt.Errorf("sqlstore: guardian action requires a project id and a valid connector type")
	}
	createdAt := record.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.repo.Create(ctx, &guardianActionRecord{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		ConnectorType: string(record.ConnectorType),
		Action:        string(record.Action),
		Actor:         strings.TrimSpace(record.Actor),
		AffectedCount: record.AffectedCount,
		CreatedAt:     createdAt,
	})
	return err
}

// ListActions returns a project's guardian actions newest first.
func (s *CooldownStore) ListActions(ctx context.Context, projectID string, limit int) ([]core.ActionRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: cooldown store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.SelectBy("project_id", "=", strings.TrimSpace(projectID)),
		repository.OrderBy("created_at DESC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.ActionRecord, 0, len(records))
	for _, record := range records {
		out = append(out, core.ActionRecord{
			ProjectID:     record.ProjectID,
			ConnectorType: core.ConnectorType(record.ConnectorType),
			Action:        core.GuardianAction(record.Action),
			Actor:         record.Actor,
			AffectedCount: record.AffectedCount,
			CreatedAt:     record.CreatedAt.UTC(),
		})
	}
	return out, nil
}
