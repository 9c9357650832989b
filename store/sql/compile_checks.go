package sqlstore

import (
	"github.com/goliatone/go-outbound/command"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/guardian"
	"github.com/goliatone/go-outbound/query"
)

var (
	_ core.LedgerStore             = (*DeliveryStore)(nil)
	_ core.AuditSink               = (*AuditStore)(nil)
	_ core.CooldownStore           = (*CooldownStore)(nil)
	_ core.StoreProvider           = (*RepositoryFactory)(nil)
	_ guardian.PolicySource        = (*GuardianPolicyStore)(nil)
	_ command.GuardianPolicyWriter = (*GuardianPolicyStore)(nil)
	_ query.GuardianActionReader   = (*CooldownStore)(nil)
)
