package gocommand

import (
	"context"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	goerrors "github.com/goliatone/go-errors"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/goliatone/go-outbound/core"
)

// QueueResolverKey names the resolver that mirrors registered handlers into a
// go-job queue command registry.
const QueueResolverKey = "outbound.queue"

// ValidateMessageContract checks that msg carries a message type and passes
// its own Validate, if it has one. Failures come back as outbound error
// envelopes.
func ValidateMessageContract(msg any) error {
	typed, ok := msg.(command.Message)
	if !ok {
		return contractError("message must implement Type() string")
	}
	if strings.TrimSpace(typed.Type()) == "" {
		return contractError("message type is required")
	}
	if validator, ok := msg.(interface{ Validate() error }); ok {
		if err := validator.Validate(); err != nil {
			return mapDispatchError(err)
		}
	}
	return nil
}

// RegistryAdapter owns the go-command registry the outbound handlers are
// registered in.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

// AddQueueResolver mirrors every handler registered afterwards into
// queueRegistry so go-job workers can execute outbound messages.
func (a *RegistryAdapter) AddQueueResolver(queueRegistry *jobqueuecommand.Registry) error {
	if err := a.ready(); err != nil {
		return err
	}
	if queueRegistry == nil {
		return configError("gocommand: queue registry is required")
	}
	return a.registry.AddResolver(QueueResolverKey, jobqueuecommand.QueueResolver(queueRegistry))
}

// Initialize runs the registry resolvers over the registered handlers.
func (a *RegistryAdapter) Initialize() error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.Initialize()
}

func (a *RegistryAdapter) ready() error {
	if a == nil || a.registry == nil {
		return configError("gocommand: registry is not configured")
	}
	return nil
}

// Dispatch validates msg and sends it to its subscribed outbound command.
func Dispatch[T command.Message](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return mapDispatchError(commanddispatcher.Dispatch(ctx, msg))
}

// Query validates msg and runs its subscribed outbound query.
func Query[T command.Message, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	result, err := commanddispatcher.Query[T, R](ctx, msg)
	return result, mapDispatchError(err)
}

func subscribeCommand[T any](adapter *RegistryAdapter, cmd command.Commander[T], runnerOpts []runner.Option) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.registry.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func subscribeQuery[T any, R any](adapter *RegistryAdapter, qry command.Querier[T, R], runnerOpts []runner.Option) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.registry.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func contractError(message string) error {
	return goerrors.NewValidation(message, goerrors.FieldError{Field: "type", Message: message}).
		WithCode(400).
		WithTextCode(core.OutboundErrorBadInput)
}

func configError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(500).
		WithTextCode(core.OutboundErrorInternal)
}

func mapDispatchError(err error) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return err
	}
	return core.MapError(err)
}
