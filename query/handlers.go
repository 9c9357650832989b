package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/guardian"
)

type ReliabilityReader interface {
	Reliability(ctx context.Context, req core.ReliabilityRequest) (core.ReliabilityResult, error)
	Insights(ctx context.Context, projectID string, connectorType core.ConnectorType, lookbackHours int) (core.Insights, error)
}

type DeliveryReader interface {
	GetDelivery(ctx context.Context, deliveryID string) (core.DeliveryDetail, error)
}

type GuardianActionReader interface {
	ListActions(ctx context.Context, projectID string, limit int) ([]core.ActionRecord, error)
}

type ReliabilityQuery struct {
	reader ReliabilityReader
}

func NewReliabilityQuery(reader ReliabilityReader) *ReliabilityQuery {
	return &ReliabilityQuery{reader: reader}
}

func (q *ReliabilityQuery) Query(ctx context.Context, msg ReliabilityMessage) (core.ReliabilityResult, error) {
	if q == nil || q.reader == nil {
		return core.ReliabilityResult{}, queryDependencyError("query: reliability reader is required")
	}
	return q.reader.Reliability(ctx, msg.Request)
}

type InsightsQuery struct {
	reader ReliabilityReader
}

func NewInsightsQuery(reader ReliabilityReader) *InsightsQuery {
	return &InsightsQuery{reader: reader}
}

func (q *InsightsQuery) Query(ctx context.Context, msg InsightsMessage) (core.Insights, error) {
	if q == nil || q.reader == nil {
		return core.Insights{}, queryDependencyError("query: insights reader is required")
	}
	return q.reader.Insights(ctx, msg.ProjectID, msg.ConnectorType, msg.LookbackHours)
}

type GetDeliveryQuery struct {
	reader DeliveryReader
}

func NewGetDeliveryQuery(reader DeliveryReader) *GetDeliveryQuery {
	return &GetDeliveryQuery{reader: reader}
}

func (q *GetDeliveryQuery) Query(ctx context.Context, msg GetDeliveryMessage) (core.DeliveryDetail, error) {
	if q == nil || q.reader == nil {
		return core.DeliveryDetail{}, queryDependencyError("query: delivery reader is required")
	}
	return q.reader.GetDelivery(ctx, strings.TrimSpace(msg.DeliveryID))
}

// GuardianPolicyResult carries a project's stored override. Found is false
// when the project runs on the configured defaults.
type GuardianPolicyResult struct {
	ProjectID string          `json:"project_id"`
	Found     bool            `json:"found"`
	Policy    guardian.Policy `json:"policy"`
}

type GuardianPolicyQuery struct {
	source guardian.PolicySource
}

func NewGuardianPolicyQuery(source guardian.PolicySource) *GuardianPolicyQuery {
	return &GuardianPolicyQuery{source: source}
}

func (q *GuardianPolicyQuery) Query(ctx context.Context, msg GuardianPolicyMessage) (GuardianPolicyResult, error) {
	if q == nil || q.source == nil {
		return GuardianPolicyResult{}, queryDependencyError("query: guardian policy source is required")
	}
	projectID := strings.TrimSpace(msg.ProjectID)
	policy, found, err := q.source.ConnectorGuardianPolicy(ctx, projectID)
	if err != nil {
		return GuardianPolicyResult{}, err
	}
	return GuardianPolicyResult{ProjectID: projectID, Found: found, Policy: policy}, nil
}

type ListGuardianActionsQuery struct {
	reader GuardianActionReader
}

func NewListGuardianActionsQuery(reader GuardianActionReader) *ListGuardianActionsQuery {
	return &ListGuardianActionsQuery{reader: reader}
}

func (q *ListGuardianActionsQuery) Query(ctx context.Context, msg ListGuardianActionsMessage) ([]core.ActionRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: guardian action reader is required")
	}
	return q.reader.ListActions(ctx, strings.TrimSpace(msg.ProjectID), msg.Limit)
}
