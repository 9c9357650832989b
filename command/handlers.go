package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/guardian"
)

// DeliveryService is the mutating surface of the outbound service.
type DeliveryService interface {
	Deliver(ctx context.Context, req core.DeliverRequest) (core.DeliverResult, error)
	ProcessDelivery(ctx context.Context, deliveryID string) (core.AttemptLoopResult, error)
	Process(ctx context.Context, req core.ProcessRequest) (core.ProcessResult, error)
	Redrive(ctx context.Context, req core.RedriveRequest) (core.RedriveResult, error)
}

type GuardianRunner interface {
	RunOnce(ctx context.Context) (guardian.TickReport, error)
}

type GuardianPolicyWriter interface {
	Upsert(ctx context.Context, projectID string, policy guardian.Policy) (guardian.Policy, error)
	Delete(ctx context.Context, projectID string) error
}

// PolicyInvalidator drops a cached policy after it changes.
type PolicyInvalidator interface {
	Invalidate(ctx context.Context, projectID string) error
}

type DeliverCommand struct {
	service DeliveryService
}

func NewDeliverCommand(service DeliveryService) *DeliverCommand {
	return &DeliverCommand{service: service}
}

func (c *DeliverCommand) Execute(ctx context.Context, msg DeliverMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: deliver service is required")
	}
	out, err := c.service.Deliver(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ProcessDeliveryCommand struct {
	service DeliveryService
}

func NewProcessDeliveryCommand(service DeliveryService) *ProcessDeliveryCommand {
	return &ProcessDeliveryCommand{service: service}
}

func (c *ProcessDeliveryCommand) Execute(ctx context.Context, msg ProcessDeliveryMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: process delivery service is required")
	}
	out, err := c.service.ProcessDelivery(ctx, msg.DeliveryID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

// ProcessCommand runs a bounded queue pass. An active cooldown is stored as
// a result and also reported as OUTBOUND_COOLDOWN_ACTIVE.
type ProcessCommand struct {
	service DeliveryService
}

func NewProcessCommand(service DeliveryService) *ProcessCommand {
	return &ProcessCommand{service: service}
}

func (c *ProcessCommand) Execute(ctx context.Context, msg ProcessMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: process service is required")
	}
	out, err := c.service.Process(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	if out.CooldownActive {
		return core.CooldownError(msg.Request.ProjectID, msg.Request.ConnectorType, core.GuardianActionProcessQueue)
	}
	return nil
}

type RedriveCommand struct {
	service DeliveryService
}

func NewRedriveCommand(service DeliveryService) *RedriveCommand {
	return &RedriveCommand{service: service}
}

func (c *RedriveCommand) Execute(ctx context.Context, msg RedriveMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: redrive service is required")
	}
	out, err := c.service.Redrive(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	if out.CooldownActive {
		return core.CooldownError(msg.Request.ProjectID, msg.Request.ConnectorType, core.GuardianActionRedriveDeadLetters)
	}
	return nil
}

type RunGuardianTickCommand struct {
	runner GuardianRunner
}

func NewRunGuardianTickCommand(runner GuardianRunner) *RunGuardianTickCommand {
	return &RunGuardianTickCommand{runner: runner}
}

func (c *RunGuardianTickCommand) Execute(ctx context.Context, _ RunGuardianTickMessage) error {
	if c == nil || c.runner == nil {
		return commandDependencyError("command: guardian runner is required")
	}
	report, err := c.runner.RunOnce(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, report)
	return nil
}

type UpsertGuardianPolicyCommand struct {
	store       GuardianPolicyWriter
	invalidator PolicyInvalidator
}

// NewUpsertGuardianPolicyCommand builds the policy write command. invalidator
// may be nil when policies are not cached.
func NewUpsertGuardianPolicyCommand(store GuardianPolicyWriter, invalidator PolicyInvalidator) *UpsertGuardianPolicyCommand {
	return &UpsertGuardianPolicyCommand{store: store, invalidator: invalidator}
}

func (c *UpsertGuardianPolicyCommand) Execute(ctx context.Context, msg UpsertGuardianPolicyMessage) error {
	if c == nil || c.store == nil {
		return commandDependencyError("command: guardian policy store is required")
	}
	saved, err := c.store.Upsert(ctx, msg.ProjectID, msg.Policy)
	if err != nil {
		return err
	}
	if err := invalidatePolicy(ctx, c.invalidator, msg.ProjectID); err != nil {
		return err
	}
	storeResult(ctx, saved)
	return nil
}

type DeleteGuardianPolicyCommand struct {
	store       GuardianPolicyWriter
	invalidator PolicyInvalidator
}

func NewDeleteGuardianPolicyCommand(store GuardianPolicyWriter, invalidator PolicyInvalidator) *DeleteGuardianPolicyCommand {
	return &DeleteGuardianPolicyCommand{store: store, invalidator: invalidator}
}

func (c *DeleteGuardianPolicyCommand) Execute(ctx context.Context, msg DeleteGuardianPolicyMessage) error {
	if c == nil || c.store == nil {
		return commandDependencyError("command: guardian policy store is required")
	}
	if err := c.store.Delete(ctx, msg.ProjectID); err != nil {
		return err
	}
	return invalidatePolicy(ctx, c.invalidator, msg.ProjectID)
}

func invalidatePolicy(ctx context.Context, invalidator PolicyInvalidator, projectID string) error {
	if invalidator == nil {
		return nil
	}
	return invalidator.Invalidate(ctx, projectID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
