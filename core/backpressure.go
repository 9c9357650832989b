package core

import (
	"fmt"
	"strings"
)

type BackpressureDecision struct {
	RequestedLimit int    `json:"requested_limit"`
	Limit          int    `json:"limit"`
	Throttled      bool   `json:"throttled"`
	Reason         string `json:"reason,omitempty"`
}

// EffectiveLimit shrinks a requested processing limit while the downstream
// target shows pressure. Each pressured dimension halves the limit; the
// result never drops below MinLimit nor rises above the request.
func EffectiveLimit(policy BackpressureConfig, requested int, counts StatusCounts) BackpressureDecision {
	decision := BackpressureDecision{RequestedLimit: requested, Limit: requested}
	if !policy.Enabled || requested <= 0 {
		return decision
	}

	floor := min(max(policy.MinLimit, 1), requested)
	limit := requested
	reasons := []string{}
	if counts.Retrying > policy.MaxRetrying {
		limit = max(floor, limit/2)
		reasons = append(reasons, fmt.Sprintf("retrying %d > %d", counts.Retrying, policy.MaxRetrying))
	}
	if counts.DueNow > policy.MaxDueNow {
		limit = max(floor, limit/2)
		reasons = append(reasons, fmt.Sprintf("due_now %d > %d", counts.DueNow, policy.MaxDueNow))
	}
	if len(reasons) == 0 {
		return decision
	}
	decision.Limit = limit
	decision.Throttled = limit < requested
	decision.Reason = strings.Join(reasons, "; ")
	return decision
}
