package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ LedgerStore     = (*MemoryLedgerStore)(nil)
	_ AuditSink       = (*MemoryAuditSink)(nil)
	_ CooldownStore   = (*MemoryCooldownStore)(nil)
	_ MetricsRecorder = NopMetricsRecorder{}
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
