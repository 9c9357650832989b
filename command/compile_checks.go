package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/guardian"
)

var (
	_ gocmd.Commander[DeliverMessage]              = (*DeliverCommand)(nil)
	_ gocmd.Commander[ProcessDeliveryMessage]      = (*ProcessDeliveryCommand)(nil)
	_ gocmd.Commander[ProcessMessage]              = (*ProcessCommand)(nil)
	_ gocmd.Commander[RedriveMessage]              = (*RedriveCommand)(nil)
	_ gocmd.Commander[RunGuardianTickMessage]      = (*RunGuardianTickCommand)(nil)
	_ gocmd.Commander[UpsertGuardianPolicyMessage] = (*UpsertGuardianPolicyCommand)(nil)
	_ gocmd.Commander[DeleteGuardianPolicyMessage] = (*DeleteGuardianPolicyCommand)(nil)

	_ DeliveryService   = (*core.Service)(nil)
	_ GuardianRunner    = (*guardian.Guardian)(nil)
	_ PolicyInvalidator = (*guardian.CachedPolicySource)(nil)
)
