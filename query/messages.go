package query

import (
	"strings"

	"github.com/goliatone/go-outbound/core"
)

const (
	TypeReliability         = "outbound.query.reliability"
	TypeInsights            = "outbound.query.insights"
	TypeGetDelivery         = "outbound.query.delivery.get"
	TypeGuardianPolicy      = "outbound.query.guardian_policy.get"
	TypeListGuardianActions = "outbound.query.guardian_actions.list"
	maxGuardianActionsLimit = 500
)

type ReliabilityMessage struct {
	Request core.ReliabilityRequest
}

func (ReliabilityMessage) Type() string { return TypeReliability }

func (m ReliabilityMessage) Validate() error {
	if strings.TrimSpace(m.Request.ProjectID) == "" {
		return queryValidationError("project_id", "project id is required")
	}
	for _, connectorType := range m.Request.ConnectorTypes {
		if !connectorType.Valid() {
			return queryValidationError("connector_types", "unknown connector type "+string(connectorType))
		}
	}
	return nil
}

type InsightsMessage struct {
	ProjectID     string
	ConnectorType core.ConnectorType
	LookbackHours int
}

func (InsightsMessage) Type() string { return TypeInsights }

func (m InsightsMessage) Validate() error {
	if strings.TrimSpace(m.ProjectID) == "" {
		return queryValidationError("project_id", "project id is required")
	}
	if !m.ConnectorType.Valid() {
		return queryValidationError("connector_type", "unknown connector type "+string(m.ConnectorType))
	}
	return nil
}

type GetDeliveryMessage struct {
	DeliveryID string
}

func (GetDeliveryMessage) Type() string { return TypeGetDelivery }

func (m GetDeliveryMessage) Validate() error {
	if strings.TrimSpace(m.DeliveryID) == "" {
		return queryValidationError("delivery_id", "delivery id is required")
	}
	return nil
}

type GuardianPolicyMessage struct {
	ProjectID string
}

func (GuardianPolicyMessage) Type() string { return TypeGuardianPolicy }

func (m GuardianPolicyMessage) Validate() error {
	if strings.TrimSpace(m.ProjectID) == "" {
		return queryValidationError("project_id", "project id is required")
	}
	return nil
}

type ListGuardianActionsMessage struct {
	ProjectID string
	Limit     int
}

func (ListGuardianActionsMessage) Type() string { return TypeListGuardianActions }

func (m ListGuardianActionsMessage) Validate() error {
	if strings.TrimSpace(m.ProjectID) == "" {
		return queryValidationError("project_id", "project id is required")
	}
	if m.Limit < 0 || m.Limit > maxGuardianActionsLimit {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	return nil
}
