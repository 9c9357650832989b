package core

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DispatchTimeout      = 10 * time.Second
	MaxResponseBodyChars = 2000
)

type AttemptMode string

const (
	// ModeImmediate exhausts the attempt budget in one call, sleeping the
	// computed backoff between attempts.
	ModeImmediate AttemptMode = "immediate"
	// ModeScheduled runs one attempt and leaves retries to a later due pass.
	ModeScheduled AttemptMode = "scheduled"
)

// ClaimFunc leases a delivery to the caller before an attempt. ok=false means
// another worker holds it or it is no longer due.
type ClaimFunc func(ctx context.Context, delivery Delivery) (claimed Delivery, ok bool, err error)

type RunOptions struct {
	Mode             AttemptMode
	InitialBackoffMs int
	// Claim, when set, runs before every attempt.
	Claim ClaimFunc
}

type AttemptLoopResult struct {
	Delivery   Delivery
	Attempts   []DeliveryAttempt
	LastResult DeliveryResult
	RetryClass RetryClass
	// Yielded is set when a claim was lost and the loop stopped without
	// dispatching.
	Yielded bool
}

type AttemptEngine struct {
	ledger   *Ledger
	adapters AdapterResolver
	logger   Logger
	nowFn    func() time.Time
	waitFn   WaitFunc
}

func NewAttemptEngine(ledger *Ledger, adapters AdapterResolver, logger Logger, now func() time.Time, wait WaitFunc) *AttemptEngine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if wait == nil {
		wait = waitWithContext
	}
	return &AttemptEngine{ledger: ledger, adapters: adapters, logger: logger, nowFn: now, waitFn: wait}
}

// ResolveAdapter returns the adapter for a connector type and validates cfg
// against it. Configuration errors surface here and are never attempted.
func (e *AttemptEngine) ResolveAdapter(connectorType ConnectorType, cfg ConnectorConfig) (ConnectorAdapter, error) {
	if e == nil || e.adapters == nil {
		return nil, internalError(nil, "core: adapter resolver is not configured")
	}
	adapter, err := e.adapters.Adapter(connectorType)
	if err != nil {
		return nil, MapError(err)
	}
	if err := adapter.Validate(cfg); err != nil {
		return nil, MapError(err)
	}
	return adapter, nil
}

// RunAttemptLoop drives attempts for one delivery until it is delivered,
// dead-lettered or (in scheduled mode) moved to retrying. Retry
// classification never cuts the loop short.
func (e *AttemptEngine) RunAttemptLoop(ctx context.Context, delivery Delivery, cfg ConnectorConfig, opts RunOptions) (AttemptLoopResult, error) {
	result := AttemptLoopResult{Delivery: delivery}
	if e == nil || e.ledger == nil {
		return result, internalError(nil, "core: attempt engine is not configured")
	}
	if delivery.Status.Terminal() {
		return result, nil
	}
	adapter, err := e.ResolveAdapter(delivery.ConnectorType, cfg)
	if err != nil {
		return result, err
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeScheduled
	}
	initialBackoff := ClampInitialBackoffMs(opts.InitialBackoffMs)
	delivery.MaxAttempts = ClampMaxAttempts(delivery.MaxAttempts)

	current := delivery
	for current.AttemptCount < current.MaxAttempts {
		if opts.Claim != nil {
			claimed, ok, err := opts.Claim(ctx, current)
			if err != nil {
				result.Delivery = current
				return result, err
			}
			if !ok {
				result.Delivery = current
				result.Yielded = true
				return result, nil
			}
			claimed.MaxAttempts = ClampMaxAttempts(claimed.MaxAttempts)
			current = claimed
		}
		attemptNumber := current.AttemptCount + 1
		outcome := e.dispatch(ctx, adapter, current.Payload, cfg)
		result.LastResult = outcome

		errText := ""
		if !outcome.Success {
			errText = strings.TrimSpace(outcome.ErrorMessage)
			if errText == "" {
				errText = "delivery failed"
			}
		}
		attempt, err := e.ledger.AppendAttempt(ctx, current, DeliveryAttempt{
			Success:      outcome.Success,
			StatusCode:   outcome.StatusCode,
			Error:        errText,
			ResponseBody: outcome.ResponseBody,
		})
		if err != nil {
			result.Delivery = current
			return result, err
		}
		result.Attempts = append(result.Attempts, attempt)

		now := e.nowFn()
		if outcome.Success {
			current, err = e.ledger.Transition(ctx, current, DeliveryStatusDelivered, TransitionFields{
				AttemptCount:   attemptNumber,
				LastStatusCode: outcome.StatusCode,
				LastError:      current.LastError,
				DeliveredAt:    &now,
			})
			result.Delivery = current
			result.RetryClass = ""
			return result, err
		}

		result.RetryClass = ClassifyRetry(errText)
		if attemptNumber >= current.MaxAttempts {
			current, err = e.ledger.Transition(ctx, current, DeliveryStatusDeadLettered, TransitionFields{
				AttemptCount:     attemptNumber,
				LastStatusCode:   outcome.StatusCode,
				LastError:        errText,
				DeadLetterReason: errText,
			})
			result.Delivery = current
			return result, err
		}

		backoff := RetryBackoff(initialBackoff, attemptNumber)
		nextAttemptAt := now.Add(backoff)
		current, err = e.ledger.Transition(ctx, current, DeliveryStatusRetrying, TransitionFields{
			AttemptCount:   attemptNumber,
			LastStatusCode: outcome.StatusCode,
			LastError:      errText,
			NextAttemptAt:  &nextAttemptAt,
		})
		result.Delivery = current
		if err != nil {
			return result, err
		}
		if mode != ModeImmediate {
			return result, nil
		}
		if err := e.waitFn(ctx, backoff); err != nil {
			return result, err
		}
	}
	result.Delivery = current
	return result, nil
}

// dispatch runs one adapter call. The call is detached from caller
// cancellation and bounded only by DispatchTimeout.
func (e *AttemptEngine) dispatch(ctx context.Context, adapter ConnectorAdapter, payload map[string]any, cfg ConnectorConfig) DeliveryResult {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DispatchTimeout)
	defer cancel()
	outcome := adapter.Dispatch(callCtx, copyAnyMap(payload), cfg)
	outcome.ResponseBody = TruncateRunes(outcome.ResponseBody, MaxResponseBodyChars)
	return outcome
}

// TruncateRunes cuts value to at most limit characters.
func TruncateRunes(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
