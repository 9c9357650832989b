package guardian

import (
	"context"

	"github.com/goliatone/go-outbound/core"
)

// Actions is the action endpoint surface the guardian drives. *core.Service
// satisfies it in-process; HTTPActions reaches a remote deployment.
type Actions interface {
	Reliability(ctx context.Context, req core.ReliabilityRequest) (core.ReliabilityResult, error)
	Process(ctx context.Context, req core.ProcessRequest) (core.ProcessResult, error)
	Redrive(ctx context.Context, req core.RedriveRequest) (core.RedriveResult, error)
}

var _ Actions = (*core.Service)(nil)
