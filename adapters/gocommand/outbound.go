package gocommand

import (
	"fmt"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	outboundcommand "github.com/goliatone/go-outbound/command"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/guardian"
	outboundquery "github.com/goliatone/go-outbound/query"
)

// Service is the outbound surface behind the registered handlers.
// *core.Service satisfies it.
type Service interface {
	outboundcommand.DeliveryService
	outboundquery.ReliabilityReader
	outboundquery.DeliveryReader
}

// Handlers collects the collaborators for RegisterOutbound. Only Service is
// required; handlers whose collaborator is nil are not registered.
type Handlers struct {
	Service           Service
	Guardian          outboundcommand.GuardianRunner
	PolicyWriter      outboundcommand.GuardianPolicyWriter
	PolicyInvalidator outboundcommand.PolicyInvalidator
	PolicySource      guardian.PolicySource
	ActionReader      outboundquery.GuardianActionReader
}

// Registration tracks dispatcher subscriptions created by RegisterOutbound.
type Registration struct {
	mu            sync.Mutex
	subscriptions []commanddispatcher.Subscription
	types         []string
}

// Types lists the registered message types in registration order.
func (r *Registration) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

// Close unsubscribes every handler from the global dispatcher.
func (r *Registration) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, subscription := range r.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	r.subscriptions = nil
	r.types = nil
}

func (r *Registration) track(subscription commanddispatcher.Subscription, msgType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions = append(r.subscriptions, subscription)
	r.types = append(r.types, msgType)
}

// RegisterOutbound registers and subscribes the outbound commands and queries.
// On failure every subscription made so far is released.
func RegisterOutbound(adapter *RegistryAdapter, handlers Handlers, runnerOpts ...runner.Option) (*Registration, error) {
	if handlers.Service == nil {
		return nil, fmt.Errorf("gocommand: outbound service is required")
	}
	reg := &Registration{}
	steps := []func() error{
		func() error {
			return registerCommand(reg, adapter, outboundcommand.NewDeliverCommand(handlers.Service), outboundcommand.TypeDeliver, runnerOpts)
		},
		func() error {
			return registerCommand(reg, adapter, outboundcommand.NewProcessDeliveryCommand(handlers.Service), outboundcommand.TypeProcessDelivery, runnerOpts)
		},
		func() error {
			return registerCommand(reg, adapter, outboundcommand.NewProcessCommand(handlers.Service), outboundcommand.TypeProcess, runnerOpts)
		},
		func() error {
			return registerCommand(reg, adapter, outboundcommand.NewRedriveCommand(handlers.Service), outboundcommand.TypeRedrive, runnerOpts)
		},
		func() error {
			return registerQuery(reg, adapter, outboundquery.NewReliabilityQuery(handlers.Service), outboundquery.TypeReliability, runnerOpts)
		},
		func() error {
			return registerQuery(reg, adapter, outboundquery.NewInsightsQuery(handlers.Service), outboundquery.TypeInsights, runnerOpts)
		},
		func() error {
			return registerQuery(reg, adapter, outboundquery.NewGetDeliveryQuery(handlers.Service), outboundquery.TypeGetDelivery, runnerOpts)
		},
	}
	if handlers.Guardian != nil {
		steps = append(steps, func() error {
			return registerCommand(reg, adapter, outboundcommand.NewRunGuardianTickCommand(handlers.Guardian), outboundcommand.TypeRunGuardianTick, runnerOpts)
		})
	}
	if handlers.PolicyWriter != nil {
		steps = append(steps,
			func() error {
				return registerCommand(reg, adapter, outboundcommand.NewUpsertGuardianPolicyCommand(handlers.PolicyWriter, handlers.PolicyInvalidator), outboundcommand.TypeUpsertGuardianPolicy, runnerOpts)
			},
			func() error {
				return registerCommand(reg, adapter, outboundcommand.NewDeleteGuardianPolicyCommand(handlers.PolicyWriter, handlers.PolicyInvalidator), outboundcommand.TypeDeleteGuardianPolicy, runnerOpts)
			},
		)
	}
	if handlers.PolicySource != nil {
		steps = append(steps, func() error {
			return registerQuery(reg, adapter, outboundquery.NewGuardianPolicyQuery(handlers.PolicySource), outboundquery.TypeGuardianPolicy, runnerOpts)
		})
	}
	if handlers.ActionReader != nil {
		steps = append(steps, func() error {
			return registerQuery(reg, adapter, outboundquery.NewListGuardianActionsQuery(handlers.ActionReader), outboundquery.TypeListGuardianActions, runnerOpts)
		})
	}
	for _, step := range steps {
		if err := step(); err != nil {
			reg.Close()
			return nil, err
		}
	}
	return reg, nil
}

func registerCommand[T any](reg *Registration, adapter *RegistryAdapter, cmd command.Commander[T], msgType string, runnerOpts []runner.Option) error {
	subscription, err := subscribeCommand(adapter, cmd, runnerOpts)
	if err != nil {
		return fmt.Errorf("gocommand: register %s: %w", msgType, err)
	}
	reg.track(subscription, msgType)
	return nil
}

func registerQuery[T any, R any](reg *Registration, adapter *RegistryAdapter, qry command.Querier[T, R], msgType string, runnerOpts []runner.Option) error {
	subscription, err := subscribeQuery(adapter, qry, runnerOpts)
	if err != nil {
		return fmt.Errorf("gocommand: register %s: %w", msgType, err)
	}
	reg.track(subscription, msgType)
	return nil
}

var _ Service = (*core.Service)(nil)
