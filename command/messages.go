package command

import (
	"strings"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/guardian"
)

const (
	TypeDeliver              = "outbound.command.deliver"
	TypeProcessDelivery      = "outbound.command.delivery.process"
	TypeProcess              = "outbound.command.queue.process"
	TypeRedrive              = "outbound.command.dead_letters.redrive"
	TypeRunGuardianTick      = "outbound.command.guardian.tick"
	TypeUpsertGuardianPolicy = "outbound.command.guardian_policy.upsert"
	TypeDeleteGuardianPolicy = "outbound.command.guardian_policy.delete"
)

const maxAttemptsCeiling = 10

type DeliverMessage struct {
	Request core.DeliverRequest
}

func (DeliverMessage) Type() string { return TypeDeliver }

func (m DeliverMessage) Validate() error {
	if err := validateTarget(m.Request.ProjectID, m.Request.ConnectorType); err != nil {
		return err
	}
	switch m.Request.Mode {
	case "", core.DeliveryModeSync, core.DeliveryModeQueue:
	default:
		return commandValidationError("mode", "mode must be sync or queue")
	}
	if m.Request.MaxAttempts < 0 || m.Request.MaxAttempts > maxAttemptsCeiling {
		return commandValidationError("max_attempts", "max attempts must be between 1 and 10")
	}
	if m.Request.InitialBackoffMs < 0 {
		return commandValidationError("initial_backoff_ms", "initial backoff must not be negative")
	}
	return nil
}

type ProcessDeliveryMessage struct {
	DeliveryID string
}

func (ProcessDeliveryMessage) Type() string { return TypeProcessDelivery }

func (m ProcessDeliveryMessage) Validate() error {
	if strings.TrimSpace(m.DeliveryID) == "" {
		return commandValidationError("delivery_id", "delivery id is required")
	}
	return nil
}

type ProcessMessage struct {
	Request core.ProcessRequest
}

func (ProcessMessage) Type() string { return TypeProcess }

func (m ProcessMessage) Validate() error {
	if err := validateTarget(m.Request.ProjectID, m.Request.ConnectorType); err != nil {
		return err
	}
	if m.Request.Limit < 0 {
		return commandValidationError("limit", "limit must not be negative")
	}
	if m.Request.CooldownMinutes < 0 {
		return commandValidationError("cooldown_minutes", "cooldown must not be negative")
	}
	return nil
}

type RedriveMessage struct {
	Request core.RedriveRequest
}

func (RedriveMessage) Type() string { return TypeRedrive }

func (m RedriveMessage) Validate() error {
	if err := validateTarget(m.Request.ProjectID, m.Request.ConnectorType); err != nil {
		return err
	}
	if m.Request.Limit < 0 {
		return commandValidationError("limit", "limit must not be negative")
	}
	if m.Request.MinDeadLetterMinutes < 0 {
		return commandValidationError("min_dead_letter_minutes", "minimum dead letter age must not be negative")
	}
	if m.Request.CooldownMinutes < 0 {
		return commandValidationError("cooldown_minutes", "cooldown must not be negative")
	}
	return nil
}

type RunGuardianTickMessage struct{}

func (RunGuardianTickMessage) Type() string { return TypeRunGuardianTick }

func (RunGuardianTickMessage) Validate() error { return nil }

type UpsertGuardianPolicyMessage struct {
	ProjectID string
	Policy    guardian.Policy
}

func (UpsertGuardianPolicyMessage) Type() string { return TypeUpsertGuardianPolicy }

func (m UpsertGuardianPolicyMessage) Validate() error {
	if strings.TrimSpace(m.ProjectID) == "" {
		return commandValidationError("project_id", "project id is required")
	}
	if m.Policy.RiskThreshold < 0 {
		return commandValidationError("risk_threshold", "risk threshold must not be negative")
	}
	if m.Policy.MaxActionsPerProject < 0 || m.Policy.ActionLimit < 0 ||
		m.Policy.MinDeadLetterMinutes < 0 || m.Policy.CooldownMinutes < 0 {
		return commandValidationError("policy", "policy limits must not be negative")
	}
	for _, recommendation := range m.Policy.AllowedRecommendations {
		switch strings.TrimSpace(recommendation) {
		case core.RecommendationProcessQueue, core.RecommendationRedriveDeadLetters:
		default:
			return commandValidationError("allowed_recommendations", "recommendation "+recommendation+" is not actionable")
		}
	}
	return nil
}

type DeleteGuardianPolicyMessage struct {
	ProjectID string
}

func (DeleteGuardianPolicyMessage) Type() string { return TypeDeleteGuardianPolicy }

func (m DeleteGuardianPolicyMessage) Validate() error {
	if strings.TrimSpace(m.ProjectID) == "" {
		return commandValidationError("project_id", "project id is required")
	}
	return nil
}

func validateTarget(projectID string, connectorType core.ConnectorType) error {
	if strings.TrimSpace(projectID) == "" {
		return commandValidationError("project_id", "project id is required")
	}
	if _, err := core.ParseConnectorType(string(connectorType)); err != nil {
		return commandWrapValidation(err, "connector_type")
	}
	return nil
}
