package outbound

import (
	"context"
	"fmt"

	outboundcommand "github.com/goliatone/go-outbound/command"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/guardian"
	outboundquery "github.com/goliatone/go-outbound/query"
)

type CommandQueryService interface {
	outboundcommand.DeliveryService
	outboundquery.ReliabilityReader
	outboundquery.DeliveryReader
}

// DeliveryScheduler hands a queued delivery to a background processor.
type DeliveryScheduler interface {
	EnqueueDelivery(ctx context.Context, deliveryID string) error
}

type Commands struct {
	Deliver              *outboundcommand.DeliverCommand
	ProcessDelivery      *outboundcommand.ProcessDeliveryCommand
	Process              *outboundcommand.ProcessCommand
	Redrive              *outboundcommand.RedriveCommand
	RunGuardianTick      *outboundcommand.RunGuardianTickCommand
	UpsertGuardianPolicy *outboundcommand.UpsertGuardianPolicyCommand
	DeleteGuardianPolicy *outboundcommand.DeleteGuardianPolicyCommand
}

type Queries struct {
	Reliability         *outboundquery.ReliabilityQuery
	Insights            *outboundquery.InsightsQuery
	GetDelivery         *outboundquery.GetDeliveryQuery
	GuardianPolicy      *outboundquery.GuardianPolicyQuery
	ListGuardianActions *outboundquery.ListGuardianActionsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	guardian          outboundcommand.GuardianRunner
	policyWriter      outboundcommand.GuardianPolicyWriter
	policyInvalidator outboundcommand.PolicyInvalidator
	policySource      guardian.PolicySource
	actionReader      outboundquery.GuardianActionReader
	scheduler         DeliveryScheduler
}

func WithGuardian(runner outboundcommand.GuardianRunner) FacadeOption {
	return func(options *facadeOptions) {
		options.guardian = runner
	}
}

// WithPolicyStore wires policy writes and, when store can also read policies,
// the policy query.
func WithPolicyStore(store outboundcommand.GuardianPolicyWriter) FacadeOption {
	return func(options *facadeOptions) {
		options.policyWriter = store
		if source, ok := store.(guardian.PolicySource); ok && options.policySource == nil {
			options.policySource = source
		}
	}
}

// WithPolicySource reads policies through source, typically a
// guardian.CachedPolicySource, which is also invalidated on writes.
func WithPolicySource(source guardian.PolicySource) FacadeOption {
	return func(options *facadeOptions) {
		options.policySource = source
		if invalidator, ok := source.(outboundcommand.PolicyInvalidator); ok {
			options.policyInvalidator = invalidator
		}
	}
}

func WithActionReader(reader outboundquery.GuardianActionReader) FacadeOption {
	return func(options *facadeOptions) {
		options.actionReader = reader
	}
}

// WithDeliveryScheduler enqueues every fresh queue-mode delivery after it is
// recorded.
func WithDeliveryScheduler(scheduler DeliveryScheduler) FacadeOption {
	return func(options *facadeOptions) {
		options.scheduler = scheduler
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("outbound: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.actionReader
	if reader == nil {
		reader = resolveActionReader(service)
	}

	var delivering outboundcommand.DeliveryService = service
	if cfg.scheduler != nil {
		delivering = schedulingService{DeliveryService: service, scheduler: cfg.scheduler}
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Deliver:         outboundcommand.NewDeliverCommand(delivering),
		ProcessDelivery: outboundcommand.NewProcessDeliveryCommand(service),
		Process:         outboundcommand.NewProcessCommand(service),
		Redrive:         outboundcommand.NewRedriveCommand(service),
	}
	if cfg.guardian != nil {
		facade.commands.RunGuardianTick = outboundcommand.NewRunGuardianTickCommand(cfg.guardian)
	}
	if cfg.policyWriter != nil {
		facade.commands.UpsertGuardianPolicy = outboundcommand.NewUpsertGuardianPolicyCommand(cfg.policyWriter, cfg.policyInvalidator)
		facade.commands.DeleteGuardianPolicy = outboundcommand.NewDeleteGuardianPolicyCommand(cfg.policyWriter, cfg.policyInvalidator)
	}
	facade.queries = Queries{
		Reliability: outboundquery.NewReliabilityQuery(service),
		Insights:    outboundquery.NewInsightsQuery(service),
		GetDelivery: outboundquery.NewGetDeliveryQuery(service),
	}
	if cfg.policySource != nil {
		facade.queries.GuardianPolicy = outboundquery.NewGuardianPolicyQuery(cfg.policySource)
	}
	if reader != nil {
		facade.queries.ListGuardianActions = outboundquery.NewListGuardianActionsQuery(reader)
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// resolveActionReader falls back to the service's cooldown store when it can
// list actions.
func resolveActionReader(service CommandQueryService) outboundquery.GuardianActionReader {
	provider, ok := service.(interface {
		Dependencies() core.ServiceDependencies
	})
	if !ok {
		return nil
	}
	reader, ok := provider.Dependencies().CooldownStore.(outboundquery.GuardianActionReader)
	if !ok {
		return nil
	}
	return reader
}

type schedulingService struct {
	outboundcommand.DeliveryService
	scheduler DeliveryScheduler
}

func (s schedulingService) Deliver(ctx context.Context, req core.DeliverRequest) (core.DeliverResult, error) {
	result, err := s.DeliveryService.Deliver(ctx, req)
	if err != nil {
		return result, err
	}
	if result.Duplicate || result.Delivery.Status.Terminal() || len(result.Attempts) > 0 {
		return result, nil
	}
	if err := s.scheduler.EnqueueDelivery(ctx, result.Delivery.ID); err != nil {
		return result, core.MapError(fmt.Errorf("outbound: schedule delivery %s: %w", result.Delivery.ID, err))
	}
	return result, nil
}
