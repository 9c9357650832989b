package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/guardian"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// GuardianPolicyStore holds per-project guardian policy overrides.
type GuardianPolicyStore struct {
	db   *bun.DB
	repo repository.Repository[*guardianPolicyRecord]
}

func NewGuardianPolicyStore(db *bun.DB) (*GuardianPolicyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*guardianPolicyRecord](db, guardianPolicyHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid guardian policy repository wiring: %w", err)
		}
	}
	return &GuardianPolicyStore{db: db, repo: repo}, nil
}

func (s *GuardianPolicyStore) ConnectorGuardianPolicy(ctx context.Context, projectID string) (guardian.Policy, bool, error) {
	if s == nil || s.db == nil {
		return guardian.Policy{}, false, fmt.Errorf("sqlstore: guardian policy store is not configured")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return guardian.Policy{}, false, fmt.Errorf("sqlstore: project id is required")
	}
	record := &guardianPolicyRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.project_id = ?", projectID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return guardian.Policy{}, false, nil
		}
		return guardian.Policy{}, false, err
	}
	return record.toDomain(), true, nil
}

// Upsert creates or replaces a project's policy.
func (s *GuardianPolicyStore) Upsert(ctx context.Context, projectID string, policy guardian.Policy) (guardian.Policy, error) {
	if s == nil || s.db == nil {
		return guardian.Policy{}, fmt.Errorf("sqlstore: guardian policy store is not configured")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return guardian.Policy{}, fmt.Errorf("sqlstore: project id is required")
	}
	if err := validatePolicy(policy); err != nil {
		return guardian.Policy{}, err
	}
	now := time.Now().UTC()
	record := &guardianPolicyRecord{
		ProjectID:              projectID,
		Enabled:                policy.Enabled,
		RiskThreshold:          policy.RiskThreshold,
		MaxActionsPerProject:   policy.MaxActionsPerProject,
		ActionLimit:            policy.ActionLimit,
		MinDeadLetterMinutes:   policy.MinDeadLetterMinutes,
		CooldownMinutes:        policy.CooldownMinutes,
		AllowedRecommendations: append([]string{}, policy.AllowedRecommendations...),
		ProcessAfterRedrive:    policy.ProcessAfterRedrive,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (project_id) DO UPDATE").
		Set("enabled = EXCLUDED.enabled").
		Set("risk_threshold = EXCLUDED.risk_threshold").
		Set("max_actions_per_project = EXCLUDED.max_actions_per_project").
		Set("action_limit = EXCLUDED.action_limit").
		Set("min_dead_letter_minutes = EXCLUDED.min_dead_letter_minutes").
		Set("cooldown_minutes = EXCLUDED.cooldown_minutes").
		Set("allowed_recommendations = EXCLUDED.allowed_recommendations").
		Set("process_after_redrive = EXCLUDED.process_after_redrive").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return guardian.Policy{}, err
	}
	return record.toDomain(), nil
}

func (s *GuardianPolicyStore) Delete(ctx context.Context, projectID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: guardian policy store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*guardianPolicyRecord)(nil)).
		Where("project_id = ?", strings.TrimSpace(projectID)).
		Exec(ctx)
	return err
}

func validatePolicy(policy guardian.Policy) error {
	if policy.RiskThreshold < 0 || policy.MaxActionsPerProject < 0 || policy.ActionLimit < 0 ||
		policy.MinDeadLetterMinutes < 0 || policy.CooldownMinutes < 0 {
		return fmt.Errorf("sqlstore: guardian policy values must be non-negative")
	}
	for _, recommendation := range policy.AllowedRecommendations {
		switch recommendation {
		case core.RecommendationProcessQueue, core.RecommendationRedriveDeadLetters:
		default:
			return fmt.Errorf("sqlstore: guardian policy recommendation %q is not actionable", recommendation)
		}
	}
	return nil
}

// List returns every stored policy keyed by project id.
func (s *GuardianPolicyStore) List(ctx context.Context) (map[string]guardian.Policy, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: guardian policy store is not configured")
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("project_id ASC"))
	if err != nil {
		return nil, err
	}
	out := make(map[string]guardian.Policy, len(records))
	for _, record := range records {
		out[record.ProjectID] = record.toDomain()
	}
	return out, nil
}
