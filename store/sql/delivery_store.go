package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-outbound/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// DeliveryStore persists deliveries and their attempt history. Claims use a
// single CTE update so concurrent workers never lease the same row.
type DeliveryStore struct {
	db       *bun.DB
	repo     repository.Repository[*deliveryRecord]
	attempts repository.Repository[*attemptRecord]
}

func NewDeliveryStore(db *bun.DB) (*DeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryRecord](db, deliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery repository wiring: %w", err)
		}
	}
	attempts := repository.NewRepository[*attemptRecord](db, attemptHandlers())
	if validator, ok := attempts.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery attempt repository wiring: %w", err)
		}
	}
	return &DeliveryStore{db: db, repo: repo, attempts: attempts}, nil
}

func (s *DeliveryStore) CreateDelivery(ctx context.Context, delivery core.Delivery) (core.Delivery, bool, error) {
	if s == nil || s.db == nil {
		return core.Delivery{}, false, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	if strings.TrimSpace(delivery.ID) == "" {
		return core.Delivery{}, false, fmt.Errorf("sqlstore: delivery id is required")
	}
	record := newDeliveryRecord(delivery)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if record.IdempotencyKey != nil && isUniqueViolation(err) {
			existing, findErr := s.findByIdempotencyKey(ctx, record.ProjectID, record.ConnectorType, *record.IdempotencyKey)
			if findErr != nil {
				return core.Delivery{}, false, findErr
			}
			return existing, true, nil
		}
		return core.Delivery{}, false, err
	}
	return record.toDomain(), false, nil
}

func (s *DeliveryStore) findByIdempotencyKey(ctx context.Context, projectID string, connectorType string, key string) (core.Delivery, error) {
	record := &deliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.project_id = ?", projectID).
		Where("?TableAlias.connector_type = ?", connectorType).
		Where("?TableAlias.idempotency_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Delivery{}, core.MapError(fmt.Errorf("%w: idempotency key %q", core.ErrDeliveryNotFound, key))
		}
		return core.Delivery{}, err
	}
	return record.toDomain(), nil
}

func (s *DeliveryStore) GetDelivery(ctx context.Context, id string) (core.Delivery, error) {
	if s == nil || s.db == nil {
		return core.Delivery{}, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	record := &deliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Delivery{}, core.MapError(fmt.Errorf("%w: %s", core.ErrDeliveryNotFound, id))
		}
		return core.Delivery{}, err
	}
	return record.toDomain(), nil
}

// UpdateDelivery overwrites the mutable columns of an existing delivery.
// Identity, payload and idempotency columns are never rewritten.
func (s *DeliveryStore) UpdateDelivery(ctx context.Context, delivery core.Delivery) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery store is not configured")
	}
	record := newDeliveryRecord(delivery)
	if record.ID == "" {
		return fmt.Errorf("sqlstore: delivery id is required")
	}
	result, err := s.db.NewUpdate().
		Model(record).
		Column(
			"status",
			"attempt_count",
			"max_attempts",
			"last_status_code",
			"last_error",
			"next_attempt_at",
			"dead_letter_reason",
			"delivered_at",
			"claimed_by",
			"claim_expires_at",
			"config",
			"updated_at",
		).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected == 0 {
		return core.MapError(fmt.Errorf("%w: %s", core.ErrDeliveryNotFound, record.ID))
	}
	return nil
}

// AppendAttempt inserts the next attempt row. Attempt numbers must increase
// strictly per delivery.
func (s *DeliveryStore) AppendAttempt(ctx context.Context, attempt core.DeliveryAttempt) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery store is not configured")
	}
	record := newAttemptRecord(attempt)
	if record.ID == "" || record.DeliveryID == "" {
		return fmt.Errorf("sqlstore: attempt id and delivery id are required")
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*deliveryRecord)(nil)).
			Where("?TableAlias.id = ?", record.DeliveryID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return core.MapError(fmt.Errorf("%w: %s", core.ErrDeliveryNotFound, record.DeliveryID))
		}

		var last sql.NullInt64
		if err := tx.NewSelect().
			Model((*attemptRecord)(nil)).
			ColumnExpr("MAX(?TableAlias.attempt_number)").
			Where("?TableAlias.delivery_id = ?", record.DeliveryID).
			Scan(ctx, &last); err != nil {
			return err
		}
		if last.Valid && int(last.Int64) >= record.AttemptNumber {
			return core.MapError(fmt.Errorf("%w: attempt %d already recorded", core.ErrInvalidAttemptSequence, record.AttemptNumber))
		}

		if _, err := s.attempts.CreateTx(ctx, tx, record); err != nil {
			if isUniqueViolation(err) {
				return core.MapError(fmt.Errorf("%w: attempt %d already recorded", core.ErrInvalidAttemptSequence, record.AttemptNumber))
			}
			return err
		}
		return nil
	})
}

func (s *DeliveryStore) ListAttempts(ctx context.Context, deliveryID string) ([]core.DeliveryAttempt, error) {
	if s == nil || s.attempts == nil {
		return nil, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	records, _, err := s.attempts.List(ctx,
		repository.SelectBy("delivery_id", "=", strings.TrimSpace(deliveryID)),
		repository.OrderBy("attempt_number ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.DeliveryAttempt, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *DeliveryStore) ListAttemptsForDeliveries(ctx context.Context, deliveryIDs []string) (map[string][]core.DeliveryAttempt, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	out := make(map[string][]core.DeliveryAttempt, len(deliveryIDs))
	ids := make([]string, 0, len(deliveryIDs))
	for _, id := range deliveryIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		return out, nil
	}
	var records []attemptRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.delivery_id IN (?)", bun.In(ids)).
		OrderExpr("?TableAlias.delivery_id ASC, ?TableAlias.attempt_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	for index := range records {
		attempt := records[index].toDomain()
		out[attempt.DeliveryID] = append(out[attempt.DeliveryID], attempt)
	}
	return out, nil
}

func (s *DeliveryStore) ListDeliveries(ctx context.Context, filter core.DeliveryFilter) ([]core.Delivery, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	selectors := []repository.SelectCriteria{}
	if projectID := strings.TrimSpace(filter.ProjectID); projectID != "" {
		selectors = append(selectors, repository.SelectBy("project_id", "=", projectID))
	}
	if filter.ConnectorType != "" {
		selectors = append(selectors, repository.SelectBy("connector_type", "=", string(filter.ConnectorType)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.status IN (?)", bun.In(statuses))
		}))
	}
	if filter.UpdatedSince != nil {
		selectors = append(selectors, repository.SelectByTimetz("updated_at", ">=", filter.UpdatedSince.UTC()))
	}
	if filter.Order == core.DeliveryOrderNewestUpdate {
		selectors = append(selectors, repository.OrderBy("updated_at DESC"), repository.OrderBy("id ASC"))
	} else {
		selectors = append(selectors, repository.OrderBy("updated_at ASC"), repository.OrderBy("id ASC"))
	}
	if filter.Limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(filter.Limit, 0))
	}

	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Delivery, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// ClaimDue leases up to req.Limit due deliveries to req.Owner, earliest due
// first. A row is due when it is queued or retrying, its next attempt time
// has passed and any previous lease has expired. req.DeliveryID narrows the
// claim to one row.
func (s *DeliveryStore) ClaimDue(ctx context.Context, req core.ClaimRequest) ([]core.Delivery, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 1
	}
	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	expiresAt := now.Add(req.Lease)
	deliveryID := strings.TrimSpace(req.DeliveryID)

	var records []deliveryRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM outbound_deliveries
	WHERE project_id = ?
	  AND connector_type = ?
	  AND status IN (?, ?)
	  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
	  AND (claim_expires_at IS NULL OR claim_expires_at <= ?)
	  AND (? = '' OR id = ?)
	ORDER BY COALESCE(next_attempt_at, created_at) ASC, id ASC
	LIMIT ?
)
UPDATE outbound_deliveries
SET claimed_by = ?, claim_expires_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND (claim_expires_at IS NULL OR claim_expires_at <= ?)
RETURNING
	id,
	project_id,
	connector_type,
	idempotency_key,
	payload_hash,
	payload,
	config,
	status,
	attempt_count,
	max_attempts,
	last_status_code,
	last_error,
	next_attempt_at,
	dead_letter_reason,
	delivered_at,
	claimed_by,
	claim_expires_at,
	created_at,
	updated_at
`
		return tx.NewRaw(
			query,
			strings.TrimSpace(req.ProjectID),
			string(req.ConnectorType),
			string(core.DeliveryStatusQueued),
			string(core.DeliveryStatusRetrying),
			now,
			now,
			deliveryID,
			deliveryID,
			limit,
			strings.TrimSpace(req.Owner),
			expiresAt,
			now,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	out := make([]core.Delivery, 0, len(records))
	for index := range records {
		out = append(out, records[index].toDomain())
	}
	sort.Slice(out, func(i, j int) bool {
		left, right := dueAt(out[i]), dueAt(out[j])
		if !left.Equal(right) {
			return left.Before(right)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type statusCountRow struct {
	Status string `bun:"status"`
	Total  int    `bun:"total"`
}

func (s *DeliveryStore) CountByStatus(ctx context.Context, projectID string, connectorType core.ConnectorType, now time.Time) (core.StatusCounts, error) {
	if s == nil || s.db == nil {
		return core.StatusCounts{}, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	projectID = strings.TrimSpace(projectID)
	var rows []statusCountRow
	err := s.db.NewSelect().
		Model((*deliveryRecord)(nil)).
		ColumnExpr("?TableAlias.status AS status").
		ColumnExpr("COUNT(*) AS total").
		Where("?TableAlias.project_id = ?", projectID).
		Where("?TableAlias.connector_type = ?", string(connectorType)).
		GroupExpr("?TableAlias.status").
		Scan(ctx, &rows)
	if err != nil {
		return core.StatusCounts{}, err
	}

	counts := core.StatusCounts{}
	for _, row := range rows {
		switch core.DeliveryStatus(row.Status) {
		case core.DeliveryStatusQueued:
			counts.Queued = row.Total
		case core.DeliveryStatusRetrying:
			counts.Retrying = row.Total
		case core.DeliveryStatusDelivered:
			counts.Delivered = row.Total
		case core.DeliveryStatusDeadLettered:
			counts.DeadLettered = row.Total
		}
	}

	now = now.UTC()
	dueNow, err := s.db.NewSelect().
		Model((*deliveryRecord)(nil)).
		Where("?TableAlias.project_id = ?", projectID).
		Where("?TableAlias.connector_type = ?", string(connectorType)).
		Where("?TableAlias.status IN (?)", bun.In([]string{string(core.DeliveryStatusQueued), string(core.DeliveryStatusRetrying)})).
		Where("(?TableAlias.next_attempt_at IS NULL OR ?TableAlias.next_attempt_at <= ?)", now).
		Where("(?TableAlias.claim_expires_at IS NULL OR ?TableAlias.claim_expires_at <= ?)", now).
		Count(ctx)
	if err != nil {
		return core.StatusCounts{}, err
	}
	counts.DueNow = dueNow
	return counts, nil
}

func dueAt(delivery core.Delivery) time.Time {
	if delivery.NextAttemptAt != nil {
		return *delivery.NextAttemptAt
	}
	return delivery.CreatedAt
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
