package guardian

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/goliatone/go-outbound/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

var (
	ErrPolicyNotFound     = errors.New("guardian: policy not found")
	ErrPolicyAccessDenied = errors.New("guardian: policy access denied")
)

// Policy bounds what the guardian may do for one project.
type Policy struct {
	Enabled                bool     `json:"enabled"`
	RiskThreshold          float64  `json:"risk_threshold"`
	MaxActionsPerProject   int      `json:"max_actions_per_project"`
	ActionLimit            int      `json:"action_limit"`
	MinDeadLetterMinutes   int      `json:"min_dead_letter_minutes"`
	CooldownMinutes        int      `json:"cooldown_minutes"`
	AllowedRecommendations []string `json:"allowed_recommendations"`
	ProcessAfterRedrive    bool     `json:"process_after_redrive"`
}

func DefaultPolicy(cfg core.GuardianConfig) Policy {
	return Policy{
		Enabled:                cfg.Enabled,
		RiskThreshold:          cfg.RiskThreshold,
		MaxActionsPerProject:   cfg.MaxActionsPerProject,
		ActionLimit:            cfg.ActionLimit,
		MinDeadLetterMinutes:   cfg.MinDeadLetterMinutes,
		CooldownMinutes:        cfg.CooldownMinutes,
		AllowedRecommendations: append([]string(nil), cfg.AllowedRecommendations...),
		ProcessAfterRedrive:    cfg.ProcessAfterRedrive,
	}
}

// Allows reports whether the policy permits acting on a recommendation.
// healthy is never actionable.
func (p Policy) Allows(recommendation string) bool {
	recommendation = strings.TrimSpace(recommendation)
	if recommendation == "" || recommendation == core.RecommendationHealthy {
		return false
	}
	return slices.Contains(p.AllowedRecommendations, recommendation)
}

// unsetPolicy marks every numeric limit as unset so a partial override
// decoded over it inherits the defaults for the fields it omits.
func unsetPolicy() Policy {
	return Policy{
		RiskThreshold:        -1,
		MaxActionsPerProject: -1,
		ActionLimit:          -1,
		MinDeadLetterMinutes: -1,
		CooldownMinutes:      -1,
	}
}

// withDefaults resolves an override against defaults. Stored values win,
// zero included: a zero threshold or window is a valid setting. Negative
// limits are unset and an empty allow list inherits the defaults. Enabled
// and ProcessAfterRedrive are taken from the override as stored.
func (p Policy) withDefaults(defaults Policy) Policy {
	out := p
	if out.RiskThreshold < 0 {
		out.RiskThreshold = defaults.RiskThreshold
	}
	if out.MaxActionsPerProject < 0 {
		out.MaxActionsPerProject = defaults.MaxActionsPerProject
	}
	if out.ActionLimit < 0 {
		out.ActionLimit = defaults.ActionLimit
	}
	if out.MinDeadLetterMinutes < 0 {
		out.MinDeadLetterMinutes = defaults.MinDeadLetterMinutes
	}
	if out.CooldownMinutes < 0 {
		out.CooldownMinutes = defaults.CooldownMinutes
	}
	if len(out.AllowedRecommendations) == 0 {
		out.AllowedRecommendations = append([]string(nil), defaults.AllowedRecommendations...)
	} else {
		out.AllowedRecommendations = append([]string(nil), out.AllowedRecommendations...)
	}
	return out
}

// PolicySource looks up a project's policy override. found=false means the
// project has no override.
type PolicySource interface {
	ConnectorGuardianPolicy(ctx context.Context, projectID string) (policy Policy, found bool, err error)
}

type ProjectLister interface {
	ListProjects(ctx context.Context, orgID string) ([]string, error)
}

const policyCacheKeyPrefix = "go-outbound::guardian_policy::v1"

type cachedPolicy struct {
	Policy Policy
	Found  bool
}

// CachedPolicySource memoizes policy lookups per project. Lookup errors are
// never cached.
type CachedPolicySource struct {
	base  PolicySource
	cache repositorycache.CacheService
}

func NewCachedPolicySource(base PolicySource, cacheService repositorycache.CacheService) (*CachedPolicySource, error) {
	if base == nil {
		return nil, fmt.Errorf("guardian: base policy source is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("guardian: policy cache service is required")
	}
	return &CachedPolicySource{base: base, cache: cacheService}, nil
}

// PolicyCacheKey returns go-outbound::guardian_policy::v1::<project>, with the
// project id path-escaped.
func PolicyCacheKey(projectID string) (string, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return "", fmt.Errorf("guardian: project id is required")
	}
	return policyCacheKeyPrefix + "::" + url.PathEscape(projectID), nil
}

func (s *CachedPolicySource) ConnectorGuardianPolicy(ctx context.Context, projectID string) (Policy, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return Policy{}, false, fmt.Errorf("guardian: cached policy source is not configured")
	}
	cacheKey, err := PolicyCacheKey(projectID)
	if err != nil {
		return Policy{}, false, err
	}
	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedPolicy, error) {
		policy, found, fetchErr := s.base.ConnectorGuardianPolicy(ctx, strings.TrimSpace(projectID))
		if fetchErr != nil {
			return cachedPolicy{}, fetchErr
		}
		return cachedPolicy{Policy: clonePolicy(policy), Found: found}, nil
	})
	if err != nil {
		return Policy{}, false, err
	}
	return clonePolicy(entry.Policy), entry.Found, nil
}

// Invalidate drops the cached policy for a project.
func (s *CachedPolicySource) Invalidate(ctx context.Context, projectID string) error {
	if s == nil || s.cache == nil {
		return fmt.Errorf("guardian: cached policy source is not configured")
	}
	cacheKey, err := PolicyCacheKey(projectID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func clonePolicy(policy Policy) Policy {
	out := policy
	out.AllowedRecommendations = append([]string(nil), policy.AllowedRecommendations...)
	return out
}

var _ PolicySource = (*CachedPolicySource)(nil)
