package gojob

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/guardian"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	JobIDProcessDelivery = "outbound.delivery.process"
	JobIDProcessQueue    = "outbound.queue.process"
	JobIDRedrive         = "outbound.dead_letters.redrive"
	JobIDGuardianTick    = "outbound.guardian.tick"
)

const (
	dedupDrop    = job.DeduplicationPolicy("drop")
	dedupReplace = job.DeduplicationPolicy("replace")
)

// RetryPolicy bounds how often a failed job is handed back to the queue.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeNack enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeNack(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// Enqueuer turns outbound operations into go-job execution messages.
type Enqueuer struct {
	enqueuer queue.Enqueuer
	now      func() time.Time
}

func NewEnqueuer(enqueuer queue.Enqueuer) *Enqueuer {
	return &Enqueuer{enqueuer: enqueuer, now: func() time.Time { return time.Now().UTC() }}
}

// EnqueueDelivery schedules one processing pass for a queued delivery.
// Messages for the same delivery collapse while one is pending.
func (e *Enqueuer) EnqueueDelivery(ctx context.Context, deliveryID string) error {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return fmt.Errorf("gojob: delivery id is required")
	}
	return e.enqueue(ctx, &job.ExecutionMessage{
		JobID:          JobIDProcessDelivery,
		ScriptPath:     JobIDProcessDelivery,
		Parameters:     map[string]any{"delivery_id": deliveryID},
		IdempotencyKey: "outbound:delivery:" + deliveryID,
		DedupPolicy:    dedupDrop,
	})
}

func (e *Enqueuer) EnqueueProcess(ctx context.Context, req core.ProcessRequest) error {
	params, err := encodeParameters(req)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, &job.ExecutionMessage{
		JobID:          JobIDProcessQueue,
		ScriptPath:     JobIDProcessQueue,
		Parameters:     params,
		IdempotencyKey: "outbound:process:" + strings.TrimSpace(req.ProjectID) + ":" + string(req.ConnectorType),
		DedupPolicy:    dedupReplace,
	})
}

func (e *Enqueuer) EnqueueRedrive(ctx context.Context, req core.RedriveRequest) error {
	params, err := encodeParameters(req)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, &job.ExecutionMessage{
		JobID:          JobIDRedrive,
		ScriptPath:     JobIDRedrive,
		Parameters:     params,
		IdempotencyKey: "outbound:redrive:" + strings.TrimSpace(req.ProjectID) + ":" + string(req.ConnectorType),
		DedupPolicy:    dedupDrop,
	})
}

// EnqueueGuardianTick schedules a guardian pass keyed to the current minute.
func (e *Enqueuer) EnqueueGuardianTick(ctx context.Context) error {
	minute := e.now().Truncate(time.Minute).Format(time.RFC3339)
	return e.enqueue(ctx, &job.ExecutionMessage{
		JobID:          JobIDGuardianTick,
		ScriptPath:     JobIDGuardianTick,
		Parameters:     map[string]any{"scheduled_for": minute},
		IdempotencyKey: "outbound:guardian:" + minute,
		DedupPolicy:    dedupDrop,
	})
}

func (e *Enqueuer) enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	return e.enqueuer.Enqueue(ctx, msg)
}

// Service is the outbound surface the worker drives.
type Service interface {
	ProcessDelivery(ctx context.Context, deliveryID string) (core.AttemptLoopResult, error)
	Process(ctx context.Context, req core.ProcessRequest) (core.ProcessResult, error)
	Redrive(ctx context.Context, req core.RedriveRequest) (core.RedriveResult, error)
}

type GuardianRunner interface {
	RunOnce(ctx context.Context) (guardian.TickReport, error)
}

type WorkerOption func(*Worker)

func WithGuardian(runner GuardianRunner) WorkerOption {
	return func(w *Worker) {
		w.guardian = runner
	}
}

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *Worker) {
		w.policy = policy
	}
}

func WithHook(hook worker.Hook) WorkerOption {
	return func(w *Worker) {
		if hook != nil {
			w.hook = hook
		}
	}
}

func WithLogger(logger core.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

func WithPollInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// Worker pulls outbound jobs from a go-job queue and runs them against the
// service. A delivery left retrying is requeued for its next due time
// instead of blocking the worker on backoff.
type Worker struct {
	dequeuer     queue.Dequeuer
	service      Service
	guardian     GuardianRunner
	policy       RetryPolicy
	hook         worker.Hook
	logger       core.Logger
	now          func() time.Time
	pollInterval time.Duration
	attempts     map[string]int
}

func NewWorker(dequeuer queue.Dequeuer, service Service, opts ...WorkerOption) (*Worker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if service == nil {
		return nil, fmt.Errorf("gojob: outbound service is required")
	}
	w := &Worker{
		dequeuer:     dequeuer,
		service:      service,
		hook:         nopHook{},
		now:          func() time.Time { return time.Now().UTC() },
		pollInterval: time.Second,
		attempts:     map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	_, w.logger = glog.Resolve("outbound.jobs", nil, w.logger)
	w.logger = glog.Ensure(w.logger)
	return w, nil
}

// Run polls the queue until ctx is done. Dequeue errors back off for one
// poll interval.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.RunOnce(ctx); err != nil {
			core.LogWithFields(ctx, w.logger, "debug", "outbound job poll failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// RunOnce dequeues and settles a single job.
func (w *Worker) RunOnce(ctx context.Context) error {
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return fmt.Errorf("gojob: empty delivery")
	}
	msg := delivery.Message()
	key := attemptKey(msg)
	w.attempts[key]++
	attempt := w.attempts[key]

	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: w.now()}
	w.hook.OnStart(ctx, event)

	requeueAfter, err := w.handle(ctx, msg)
	event.Duration = w.now().Sub(event.StartedAt)
	switch {
	case err != nil:
		opts := w.policy.NormalizeNack(queue.NackOptions{
			Requeue:    isRetryable(err),
			DeadLetter: !isRetryable(err),
			Delay:      retryDelay(attempt),
			Reason:     err.Error(),
		}, attempt)
		event.Err = err
		event.Delay = opts.Delay
		if opts.Requeue {
			w.hook.OnRetry(ctx, event)
		} else {
			delete(w.attempts, key)
			w.hook.OnFailure(ctx, event)
		}
		return delivery.Nack(ctx, opts)
	case requeueAfter > 0:
		delete(w.attempts, key)
		event.Delay = requeueAfter
		w.hook.OnRetry(ctx, event)
		return delivery.Nack(ctx, queue.NackOptions{
			Requeue: true,
			Delay:   requeueAfter,
			Reason:  "delivery retrying",
		})
	default:
		delete(w.attempts, key)
		w.hook.OnSuccess(ctx, event)
		return delivery.Ack(ctx)
	}
}

func (w *Worker) handle(ctx context.Context, msg *job.ExecutionMessage) (time.Duration, error) {
	if msg == nil {
		return 0, core.MapError(fmt.Errorf("gojob: execution message is required"))
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDProcessDelivery:
		deliveryID, _ := msg.Parameters["delivery_id"].(string)
		if strings.TrimSpace(deliveryID) == "" {
			return 0, core.MapError(fmt.Errorf("gojob: delivery id is required"))
		}
		result, err := w.service.ProcessDelivery(ctx, deliveryID)
		if err != nil {
			return 0, err
		}
		return w.untilDue(result.Delivery), nil
	case JobIDProcessQueue:
		var req core.ProcessRequest
		if err := decodeParameters(msg.Parameters, &req); err != nil {
			return 0, err
		}
		_, err := w.service.Process(ctx, req)
		return 0, err
	case JobIDRedrive:
		var req core.RedriveRequest
		if err := decodeParameters(msg.Parameters, &req); err != nil {
			return 0, err
		}
		_, err := w.service.Redrive(ctx, req)
		return 0, err
	case JobIDGuardianTick:
		if w.guardian == nil {
			return 0, core.MapError(fmt.Errorf("gojob: guardian runner is required"))
		}
		_, err := w.guardian.RunOnce(ctx)
		return 0, err
	default:
		return 0, core.MapError(fmt.Errorf("gojob: unknown job id %q is invalid", msg.JobID))
	}
}

func (w *Worker) untilDue(delivery core.Delivery) time.Duration {
	if delivery.Status.Terminal() || delivery.NextAttemptAt == nil {
		return 0
	}
	wait := delivery.NextAttemptAt.Sub(w.now())
	if wait <= 0 {
		return time.Millisecond
	}
	return wait
}

// isRetryable treats caller mistakes and missing records as permanent.
func isRetryable(err error) bool {
	mapped := core.MapError(err)
	if mapped == nil {
		return false
	}
	switch mapped.TextCode {
	case core.OutboundErrorBadInput, core.OutboundErrorConfigInvalid, core.OutboundErrorNotFound:
		return false
	default:
		return true
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * 5 * time.Second
}

func attemptKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID)
}

func encodeParameters(value any) (map[string]any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("gojob: encode parameters: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("gojob: encode parameters: %w", err)
	}
	return out, nil
}

func decodeParameters(params map[string]any, target any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return core.MapError(fmt.Errorf("gojob: invalid parameters: %w", err))
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return core.MapError(fmt.Errorf("gojob: invalid parameters: %w", err))
	}
	return nil
}

type nopHook struct{}

func (nopHook) OnStart(context.Context, worker.Event)   {}
func (nopHook) OnSuccess(context.Context, worker.Event) {}
func (nopHook) OnFailure(context.Context, worker.Event) {}
func (nopHook) OnRetry(context.Context, worker.Event)   {}

// MetricsHook reports job outcomes through a core.MetricsRecorder.
type MetricsHook struct {
	recorder core.MetricsRecorder
}

func NewMetricsHook(recorder core.MetricsRecorder) *MetricsHook {
	if recorder == nil {
		recorder = core.NopMetricsRecorder{}
	}
	return &MetricsHook{recorder: recorder}
}

func (h *MetricsHook) OnStart(context.Context, worker.Event) {}

func (h *MetricsHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.observe(ctx, event, "success")
}

func (h *MetricsHook) OnFailure(ctx context.Context, event worker.Event) {
	h.observe(ctx, event, "failure")
}

func (h *MetricsHook) OnRetry(ctx context.Context, event worker.Event) {
	h.observe(ctx, event, "retry")
}

func (h *MetricsHook) observe(ctx context.Context, event worker.Event, outcome string) {
	if h == nil || h.recorder == nil {
		return
	}
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	jobID := "unknown"
	if message != nil && strings.TrimSpace(message.JobID) != "" {
		jobID = strings.TrimSpace(message.JobID)
	}
	tags := map[string]string{"job_id": jobID, "outcome": outcome}
	h.recorder.IncCounter(ctx, MetricJobOutcome, 1, tags)
	h.recorder.ObserveHistogram(ctx, MetricJobDuration, float64(event.Duration.Milliseconds()), tags)
}

const (
	MetricJobOutcome  = "outbound.job.outcome"
	MetricJobDuration = "outbound.job.duration_ms"
)

var (
	_ worker.Hook    = (*MetricsHook)(nil)
	_ worker.Hook    = nopHook{}
	_ Service        = (*core.Service)(nil)
	_ GuardianRunner = (*guardian.Guardian)(nil)
)
