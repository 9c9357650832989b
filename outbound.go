package outbound

import (
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/transport"
)

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type LedgerStore = core.LedgerStore
type AuditSink = core.AuditSink
type CooldownStore = core.CooldownStore
type StoreProvider = core.StoreProvider
type ConnectorAdapter = core.ConnectorAdapter
type AdapterResolver = core.AdapterResolver
type MetricsRecorder = core.MetricsRecorder

type ConnectorType = core.ConnectorType
type DeliveryMode = core.DeliveryMode
type DeliverRequest = core.DeliverRequest
type DeliverResult = core.DeliverResult
type ProcessRequest = core.ProcessRequest
type ProcessResult = core.ProcessResult
type RedriveRequest = core.RedriveRequest
type RedriveResult = core.RedriveResult
type ReliabilityRequest = core.ReliabilityRequest
type ReliabilityResult = core.ReliabilityResult
type DeliveryDetail = core.DeliveryDetail

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithStoreProvider   = core.WithStoreProvider
	WithLedgerStore     = core.WithLedgerStore
	WithAuditSink       = core.WithAuditSink
	WithCooldownStore   = core.WithCooldownStore
	WithAdapterResolver = core.WithAdapterResolver
	WithClock           = core.WithClock
	WithWaitFunc        = core.WithWaitFunc
	WithWorkerID        = core.WithWorkerID
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// NewService builds the outbound service with the built-in HTTP connector
// adapters. A WithAdapterResolver option replaces them.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	withDefaults := make([]Option, 0, len(opts)+1)
	withDefaults = append(withDefaults, core.WithAdapterResolver(transport.NewDefaultRegistry()))
	withDefaults = append(withDefaults, opts...)
	return core.NewService(cfg, withDefaults...)
}
