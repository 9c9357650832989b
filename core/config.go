package core

import (
	"fmt"
	"strings"
	"time"
)

type DeliveryConfig struct {
	MaxAttempts       int `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs  int `koanf:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	ClaimLeaseSeconds int `koanf:"claim_lease_seconds" mapstructure:"claim_lease_seconds"`
}

func (c DeliveryConfig) ClaimLease() time.Duration {
	if c.ClaimLeaseSeconds <= 0 {
		return defaultClaimLease
	}
	return time.Duration(c.ClaimLeaseSeconds) * time.Second
}

type BackpressureConfig struct {
	Enabled     bool `koanf:"enabled" mapstructure:"enabled"`
	MaxRetrying int  `koanf:"max_retrying" mapstructure:"max_retrying"`
	MaxDueNow   int  `koanf:"max_due_now" mapstructure:"max_due_now"`
	MinLimit    int  `koanf:"min_limit" mapstructure:"min_limit"`
}

type BatchConfig struct {
	Workers         int     `koanf:"workers" mapstructure:"workers"`
	MinWorkers      int     `koanf:"min_workers" mapstructure:"min_workers"`
	ShrinkThreshold float64 `koanf:"shrink_threshold" mapstructure:"shrink_threshold"`
}

// GuardianConfig carries the process-wide guardian defaults. Per-project
// policies override these values.
type GuardianConfig struct {
	Enabled                bool     `koanf:"enabled" mapstructure:"enabled"`
	RiskThreshold          float64  `koanf:"risk_threshold" mapstructure:"risk_threshold"`
	MaxActionsPerProject   int      `koanf:"max_actions_per_project" mapstructure:"max_actions_per_project"`
	ActionLimit            int      `koanf:"action_limit" mapstructure:"action_limit"`
	MinDeadLetterMinutes   int      `koanf:"min_dead_letter_minutes" mapstructure:"min_dead_letter_minutes"`
	CooldownMinutes        int      `koanf:"cooldown_minutes" mapstructure:"cooldown_minutes"`
	AllowedRecommendations []string `koanf:"allowed_recommendations" mapstructure:"allowed_recommendations"`
	ProcessAfterRedrive    bool     `koanf:"process_after_redrive" mapstructure:"process_after_redrive"`
	PollIntervalSeconds    int      `koanf:"poll_interval_seconds" mapstructure:"poll_interval_seconds"`
	LookbackHours          int      `koanf:"lookback_hours" mapstructure:"lookback_hours"`
}

type Config struct {
	ServiceName  string                    `koanf:"service_name" mapstructure:"service_name"`
	Delivery     DeliveryConfig            `koanf:"delivery" mapstructure:"delivery"`
	Backpressure BackpressureConfig        `koanf:"backpressure" mapstructure:"backpressure"`
	Batch        BatchConfig               `koanf:"batch" mapstructure:"batch"`
	Guardian     GuardianConfig            `koanf:"guardian" mapstructure:"guardian"`
	Connectors   map[string]map[string]any `koanf:"connectors" mapstructure:"connectors"`
}

const (
	defaultClaimLease         = 60 * time.Second
	defaultInsightsLookbackHr = 24
)

func DefaultConfig() Config {
	return Config{
		ServiceName: "outbound",
		Delivery: DeliveryConfig{
			MaxAttempts:       3,
			InitialBackoffMs:  1000,
			ClaimLeaseSeconds: 60,
		},
		Backpressure: BackpressureConfig{
			Enabled:     false,
			MaxRetrying: 50,
			MaxDueNow:   100,
			MinLimit:    5,
		},
		Batch: BatchConfig{
			Workers:         4,
			MinWorkers:      1,
			ShrinkThreshold: 0.5,
		},
		Guardian: GuardianConfig{
			Enabled:              true,
			RiskThreshold:        25,
			MaxActionsPerProject: 2,
			ActionLimit:          25,
			MinDeadLetterMinutes: 15,
			CooldownMinutes:      10,
			AllowedRecommendations: []string{
				RecommendationProcessQueue,
				RecommendationRedriveDeadLetters,
			},
			ProcessAfterRedrive: true,
			PollIntervalSeconds: 300,
			LookbackHours:       defaultInsightsLookbackHr,
		},
		Connectors: map[string]map[string]any{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Delivery.MaxAttempts < 0 || c.Delivery.InitialBackoffMs < 0 || c.Delivery.ClaimLeaseSeconds < 0 {
		return fmt.Errorf("core: delivery settings must be non-negative")
	}
	if c.Backpressure.MaxRetrying < 0 || c.Backpressure.MaxDueNow < 0 || c.Backpressure.MinLimit < 0 {
		return fmt.Errorf("core: backpressure settings must be non-negative")
	}
	if c.Batch.Workers < 0 || c.Batch.MinWorkers < 0 {
		return fmt.Errorf("core: batch workers must be non-negative")
	}
	if c.Batch.ShrinkThreshold < 0 || c.Batch.ShrinkThreshold > 1 {
		return fmt.Errorf("core: batch shrink_threshold must be between 0 and 1")
	}
	if c.Guardian.RiskThreshold < 0 || c.Guardian.MaxActionsPerProject < 0 || c.Guardian.ActionLimit < 0 {
		return fmt.Errorf("core: guardian thresholds must be non-negative")
	}
	for _, recommendation := range c.Guardian.AllowedRecommendations {
		switch strings.TrimSpace(recommendation) {
		case RecommendationProcessQueue, RecommendationRedriveDeadLetters:
		default:
			return fmt.Errorf("core: guardian allowed recommendation %q is invalid", recommendation)
		}
	}
	for key := range c.Connectors {
		if _, err := ParseConnectorType(key); err != nil {
			return fmt.Errorf("core: connectors: %w", err)
		}
	}
	return nil
}

// ConnectorFallback returns a copy of the process-wide configuration for a
// connector type.
func (c Config) ConnectorFallback(connectorType ConnectorType) ConnectorConfig {
	for key, values := range c.Connectors {
		if strings.EqualFold(strings.TrimSpace(key), string(connectorType)) {
			return copyAnyMap(values)
		}
	}
	return nil
}
