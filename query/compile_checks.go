package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-outbound/core"
)

var (
	_ gocmd.Querier[ReliabilityMessage, core.ReliabilityResult]      = (*ReliabilityQuery)(nil)
	_ gocmd.Querier[InsightsMessage, core.Insights]                  = (*InsightsQuery)(nil)
	_ gocmd.Querier[GetDeliveryMessage, core.DeliveryDetail]         = (*GetDeliveryQuery)(nil)
	_ gocmd.Querier[GuardianPolicyMessage, GuardianPolicyResult]     = (*GuardianPolicyQuery)(nil)
	_ gocmd.Querier[ListGuardianActionsMessage, []core.ActionRecord] = (*ListGuardianActionsQuery)(nil)

	_ ReliabilityReader = (*core.Service)(nil)
	_ DeliveryReader    = (*core.Service)(nil)
)
