// Package guardian runs the autonomous remediation loop: per tick it ranks
// each project's connectors and processes queues or redrives dead letters
// where risk crosses the project's policy threshold.
package guardian

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-outbound/core"
)

const (
	DefaultActor        = "guardian"
	defaultPollInterval = 5 * time.Minute
)

type Config struct {
	OrgID          string
	ProjectIDs     []string
	ConnectorTypes []core.ConnectorType
	PollInterval   time.Duration
	LookbackHours  int
	Defaults       Policy
	Actor          string
}

// ConfigFromCore maps the process-wide guardian settings onto a loop config.
func ConfigFromCore(cfg core.GuardianConfig) Config {
	return Config{
		PollInterval:  time.Duration(cfg.PollIntervalSeconds) * time.Second,
		LookbackHours: cfg.LookbackHours,
		Defaults:      DefaultPolicy(cfg),
	}
}

type ActionReport struct {
	ProjectID      string              `json:"project_id"`
	ConnectorType  core.ConnectorType  `json:"connector_type"`
	Action         core.GuardianAction `json:"action"`
	RiskScore      float64             `json:"risk_score"`
	AffectedCount  int                 `json:"affected_count"`
	ProcessedCount int                 `json:"processed_count"`
	CooldownActive bool                `json:"cooldown_active"`
	Error          string              `json:"error,omitempty"`
	Failures       []string            `json:"failures,omitempty"`
}

type TickReport struct {
	StartedAt     time.Time      `json:"started_at"`
	Projects      int            `json:"projects"`
	Candidates    int            `json:"candidates"`
	ActionedCount int            `json:"actioned_count"`
	SkippedCount  int            `json:"skipped_count"`
	Failures      []string       `json:"failures"`
	Actions       []ActionReport `json:"actions"`
}

type Option func(*Guardian)

func WithPolicySource(source PolicySource) Option {
	return func(g *Guardian) {
		g.policies = source
	}
}

func WithProjectLister(lister ProjectLister) Option {
	return func(g *Guardian) {
		g.projects = lister
	}
}

func WithLogger(logger core.Logger) Option {
	return func(g *Guardian) {
		g.logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(g *Guardian) {
		g.metrics = recorder
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Guardian) {
		g.now = now
	}
}

type Guardian struct {
	actions  Actions
	policies PolicySource
	projects ProjectLister
	cfg      Config
	logger   core.Logger
	metrics  core.MetricsRecorder
	now      func() time.Time
}

func New(actions Actions, cfg Config, opts ...Option) (*Guardian, error) {
	if actions == nil {
		return nil, fmt.Errorf("guardian: actions are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if strings.TrimSpace(cfg.Actor) == "" {
		cfg.Actor = DefaultActor
	}
	cfg.ProjectIDs = normalizeProjects(cfg.ProjectIDs)
	g := &Guardian{
		actions: actions,
		cfg:     cfg,
		metrics: core.NopMetricsRecorder{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if len(g.cfg.ProjectIDs) == 0 && (g.projects == nil || strings.TrimSpace(g.cfg.OrgID) == "") {
		return nil, fmt.Errorf("guardian: project ids or an organization id with a project lister are required")
	}
	_, g.logger = glog.Resolve("outbound.guardian", nil, g.logger)
	g.logger = glog.Ensure(g.logger)
	if g.metrics == nil {
		g.metrics = core.NopMetricsRecorder{}
	}
	return g, nil
}

// Run executes a tick immediately and then every PollInterval until ctx is
// done. Tick failures are logged and never stop the loop.
func (g *Guardian) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		report, err := g.RunOnce(ctx)
		if err != nil {
			core.LogWithFields(ctx, g.logger, "error", "guardian tick failed", map[string]any{"error": err.Error()})
		} else {
			core.LogWithFields(ctx, g.logger, "info", "guardian tick completed", map[string]any{
				"projects":       report.Projects,
				"candidates":     report.Candidates,
				"actioned_count": report.ActionedCount,
				"skipped_count":  report.SkippedCount,
				"failures":       len(report.Failures),
			})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one pass over every project. Only failing to resolve the
// project set is returned as an error; everything else lands in Failures.
func (g *Guardian) RunOnce(ctx context.Context) (TickReport, error) {
	report := TickReport{
		StartedAt: g.now().UTC(),
		Failures:  []string{},
		Actions:   []ActionReport{},
	}
	projects, err := g.resolveProjects(ctx)
	if err != nil {
		return report, err
	}
	report.Projects = len(projects)
	for _, projectID := range projects {
		if ctx.Err() != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("%s: %v", projectID, ctx.Err()))
			break
		}
		g.runProject(ctx, projectID, &report)
	}
	g.metrics.IncCounter(ctx, "outbound.guardian.tick", 1, map[string]string{
		"status": tickStatus(report),
	})
	return report, nil
}

func (g *Guardian) runProject(ctx context.Context, projectID string, report *TickReport) {
	policy := g.resolvePolicy(ctx, projectID)
	if !policy.Enabled {
		return
	}
	reliability, err := g.actions.Reliability(ctx, core.ReliabilityRequest{
		ProjectID:      projectID,
		ConnectorTypes: g.cfg.ConnectorTypes,
		LookbackHours:  g.cfg.LookbackHours,
	})
	if err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("%s: reliability: %v", projectID, err))
		core.LogWithFields(ctx, g.logger, "error", "guardian reliability lookup failed", map[string]any{
			"project_id": projectID,
			"error":      err.Error(),
		})
		return
	}

	candidates := SelectCandidates(reliability.Connectors, policy)
	report.Candidates += len(candidates)
	for index, item := range candidates {
		if policy.MaxActionsPerProject > 0 && index >= policy.MaxActionsPerProject {
			report.SkippedCount++
			continue
		}
		action := g.act(ctx, projectID, item, policy)
		report.Actions = append(report.Actions, action)
		switch {
		case action.Error != "":
			report.Failures = append(report.Failures, fmt.Sprintf("%s/%s: %s: %s", projectID, item.ConnectorType, action.Action, action.Error))
		case action.CooldownActive:
			report.SkippedCount++
		default:
			report.ActionedCount++
		}
	}
}

// SelectCandidates keeps ranked items at or above the policy threshold whose
// recommendation the policy allows, preserving rank order.
func SelectCandidates(items []core.RankedItem, policy Policy) []core.RankedItem {
	out := make([]core.RankedItem, 0, len(items))
	for _, item := range items {
		if item.RiskScore < policy.RiskThreshold {
			continue
		}
		if !policy.Allows(item.Recommendation) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (g *Guardian) act(ctx context.Context, projectID string, item core.RankedItem, policy Policy) ActionReport {
	action := ActionReport{
		ProjectID:     projectID,
		ConnectorType: item.ConnectorType,
		Action:        core.GuardianAction(item.Recommendation),
		RiskScore:     item.RiskScore,
	}
	fields := map[string]any{
		"project_id":     projectID,
		"connector_type": string(item.ConnectorType),
		"action":         item.Recommendation,
		"risk_score":     item.RiskScore,
	}

	switch item.Recommendation {
	case core.RecommendationProcessQueue:
		result, err := g.actions.Process(ctx, core.ProcessRequest{
			ProjectID:       projectID,
			ConnectorType:   item.ConnectorType,
			Limit:           policy.ActionLimit,
			CooldownMinutes: policy.CooldownMinutes,
			Actor:           g.cfg.Actor,
		})
		if err != nil {
			action.Error = err.Error()
			break
		}
		action.AffectedCount = result.ProcessedCount
		action.ProcessedCount = result.ProcessedCount
		action.CooldownActive = result.CooldownActive
		action.Failures = result.Failures
	case core.RecommendationRedriveDeadLetters:
		result, err := g.actions.Redrive(ctx, core.RedriveRequest{
			ProjectID:            projectID,
			ConnectorType:        item.ConnectorType,
			Limit:                policy.ActionLimit,
			MinDeadLetterMinutes: policy.MinDeadLetterMinutes,
			ProcessAfter:         policy.ProcessAfterRedrive,
			CooldownMinutes:      policy.CooldownMinutes,
			Actor:                g.cfg.Actor,
		})
		if err != nil {
			action.Error = err.Error()
			break
		}
		action.AffectedCount = result.RedrivenCount
		action.ProcessedCount = result.ProcessedCount
		action.CooldownActive = result.CooldownActive
		action.Failures = result.Failures
	default:
		action.Error = fmt.Sprintf("unsupported recommendation %q", item.Recommendation)
	}

	status := "success"
	switch {
	case action.Error != "":
		status = "failure"
		fields["error"] = action.Error
		core.LogWithFields(ctx, g.logger, "error", "guardian action failed", fields)
	case action.CooldownActive:
		status = "cooldown"
		core.LogWithFields(ctx, g.logger, "info", "guardian action skipped by cooldown", fields)
	default:
		fields["affected_count"] = action.AffectedCount
		core.LogWithFields(ctx, g.logger, "info", "guardian action applied", fields)
	}
	g.metrics.IncCounter(ctx, "outbound.guardian.action", 1, map[string]string{
		"action":         item.Recommendation,
		"connector_type": string(item.ConnectorType),
		"status":         status,
	})
	return action
}

// resolvePolicy merges an enabled project override over the defaults. A
// missing or disabled override, a lookup failure and an access denial all
// resolve to the defaults; failures are logged as warnings.
func (g *Guardian) resolvePolicy(ctx context.Context, projectID string) Policy {
	defaults := clonePolicy(g.cfg.Defaults)
	if g.policies == nil {
		return defaults
	}
	policy, found, err := g.policies.ConnectorGuardianPolicy(ctx, projectID)
	if err != nil {
		message := "guardian policy lookup failed, using defaults"
		if IsAccessDenied(err) {
			message = "guardian policy access denied, using defaults"
		}
		core.LogWithFields(ctx, g.logger, "warn", message, map[string]any{
			"project_id": projectID,
			"error":      err.Error(),
		})
		return defaults
	}
	if !found {
		return defaults
	}
	if !policy.Enabled {
		core.LogWithFields(ctx, g.logger, "debug", "guardian policy override disabled, using defaults", map[string]any{
			"project_id": projectID,
		})
		return defaults
	}
	return policy.withDefaults(defaults)
}

func (g *Guardian) resolveProjects(ctx context.Context) ([]string, error) {
	if len(g.cfg.ProjectIDs) > 0 {
		return append([]string(nil), g.cfg.ProjectIDs...), nil
	}
	projects, err := g.projects.ListProjects(ctx, g.cfg.OrgID)
	if err != nil {
		return nil, fmt.Errorf("guardian: list projects for %q: %w", g.cfg.OrgID, err)
	}
	return normalizeProjects(projects), nil
}

func IsAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPolicyAccessDenied) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryAuthz || richErr.Category == goerrors.CategoryAuth
	}
	return false
}

func normalizeProjects(projects []string) []string {
	seen := make(map[string]struct{}, len(projects))
	out := make([]string, 0, len(projects))
	for _, project := range projects {
		trimmed := strings.TrimSpace(project)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func tickStatus(report TickReport) string {
	if len(report.Failures) > 0 {
		return "partial"
	}
	return "success"
}
