package gojob

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/guardian"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestEnqueuerBuildsDeliveryJob(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	if err := NewEnqueuer(enqueuer).EnqueueDelivery(context.Background(), " d1 "); err != nil {
		t.Fatalf("enqueue delivery: %v", err)
	}
	msg := enqueuer.last()
	if msg.JobID != JobIDProcessDelivery || msg.Parameters["delivery_id"] != "d1" {
		t.Fatalf("unexpected job message %#v", msg)
	}
	if msg.IdempotencyKey != "outbound:delivery:d1" || msg.DedupPolicy != dedupDrop {
		t.Fatalf("expected dedup on delivery id, got %q/%q", msg.IdempotencyKey, msg.DedupPolicy)
	}
	if err := NewEnqueuer(enqueuer).EnqueueDelivery(context.Background(), " "); err == nil {
		t.Fatalf("expected blank delivery id to fail")
	}
}

func TestEnqueuerGuardianTickKeyedByMinute(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	e := NewEnqueuer(enqueuer)
	e.now = func() time.Time { return time.Date(2026, 4, 2, 10, 15, 42, 0, time.UTC) }
	if err := e.EnqueueGuardianTick(context.Background()); err != nil {
		t.Fatalf("enqueue tick: %v", err)
	}
	if got := enqueuer.last().IdempotencyKey; got != "outbound:guardian:2026-04-02T10:15:00Z" {
		t.Fatalf("unexpected tick key %q", got)
	}
}

func TestWorkerProcessesQueuedDelivery(t *testing.T) {
	ctx := context.Background()
	adapter := &countingAdapter{results: []core.DeliveryResult{{Success: true, StatusCode: intPtr(200)}}}
	svc := newQueueService(t, adapter)
	delivered, err := svc.Deliver(ctx, core.DeliverRequest{
		ProjectID:     "proj_1",
		ConnectorType: core.ConnectorTypeWebhook,
		Payload:       map[string]any{"event": "created"},
		Config:        core.ConnectorConfig{"url": "https://example.com/hook"},
		Mode:          core.DeliveryModeQueue,
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	enqueuer := &stubQueueEnqueuer{}
	if err := NewEnqueuer(enqueuer).EnqueueDelivery(ctx, delivered.Delivery.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	raw := &stubQueueDelivery{msg: enqueuer.last()}
	hook := &capturingHook{}
	w, err := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{raw}}, svc, WithHook(hook))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := w.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !raw.acked {
		t.Fatalf("expected job ack")
	}
	if hook.successes != 1 {
		t.Fatalf("expected success hook, got %+v", hook)
	}
	detail, err := svc.GetDelivery(ctx, delivered.Delivery.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if detail.Delivery.Status != core.DeliveryStatusDelivered || len(detail.Attempts) != 1 {
		t.Fatalf("expected delivered after one attempt, got %+v", detail)
	}
}

func TestWorkerRequeuesRetryingDeliveryUntilDue(t *testing.T) {
	ctx := context.Background()
	adapter := &countingAdapter{results: []core.DeliveryResult{{StatusCode: intPtr(503), ErrorMessage: "HTTP 503"}}}
	svc := newQueueService(t, adapter)
	delivered, err := svc.Deliver(ctx, core.DeliverRequest{
		ProjectID:     "proj_1",
		ConnectorType: core.ConnectorTypeWebhook,
		Payload:       map[string]any{"event": "created"},
		Config:        core.ConnectorConfig{"url": "https://example.com/hook"},
		Mode:          core.DeliveryModeQueue,
		MaxAttempts:   3,
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	enqueuer := &stubQueueEnqueuer{}
	if err := NewEnqueuer(enqueuer).EnqueueDelivery(ctx, delivered.Delivery.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	raw := &stubQueueDelivery{msg: enqueuer.last()}
	hook := &capturingHook{}
	w, err := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{raw}}, svc, WithHook(hook))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := w.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if raw.acked || !raw.nacked {
		t.Fatalf("expected nack for retrying delivery")
	}
	if !raw.nackOpts.Requeue || raw.nackOpts.DeadLetter || raw.nackOpts.Delay <= 0 {
		t.Fatalf("expected delayed requeue, got %+v", raw.nackOpts)
	}
	if hook.retries != 1 {
		t.Fatalf("expected retry hook, got %+v", hook)
	}
}

func TestWorkerBoundsTransientErrors(t *testing.T) {
	transient := goerrors.New("upstream unavailable", goerrors.CategoryExternal)
	svc := &stubService{processErr: transient}
	params, err := encodeParameters(core.ProcessRequest{ProjectID: "p", ConnectorType: core.ConnectorTypeSQS, Limit: 5})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg := &job.ExecutionMessage{JobID: JobIDProcessQueue, Parameters: params, IdempotencyKey: "outbound:process:p:sqs"}
	first := &stubQueueDelivery{msg: msg}
	second := &stubQueueDelivery{msg: msg}

	w, err := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{first, second}}, svc,
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, MaxDelay: 3 * time.Second, DeadLetterOnMax: true}))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !first.nackOpts.Requeue || first.nackOpts.Delay != 3*time.Second {
		t.Fatalf("expected bounded requeue on first failure, got %+v", first.nackOpts)
	}
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.nackOpts.Requeue || !second.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %+v", second.nackOpts)
	}
	if svc.lastProcess.Limit != 5 || svc.lastProcess.ConnectorType != core.ConnectorTypeSQS {
		t.Fatalf("expected decoded process request, got %+v", svc.lastProcess)
	}
}

func TestWorkerDeadLettersPermanentErrors(t *testing.T) {
	raw := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: "outbound.unknown"}}
	hook := &capturingHook{}
	w, err := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{raw}}, &stubService{}, WithHook(hook))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if raw.nackOpts.Requeue || !raw.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter for unknown job, got %+v", raw.nackOpts)
	}
	if hook.failures != 1 || hook.last.Err == nil {
		t.Fatalf("expected failure hook with error, got %+v", hook)
	}
}

func TestWorkerRunsGuardianTickAndRedrive(t *testing.T) {
	runner := &stubRunner{}
	svc := &stubService{}
	enqueuer := &stubQueueEnqueuer{}
	e := NewEnqueuer(enqueuer)
	if err := e.EnqueueGuardianTick(context.Background()); err != nil {
		t.Fatalf("enqueue tick: %v", err)
	}
	if err := e.EnqueueRedrive(context.Background(), core.RedriveRequest{ProjectID: "p", ConnectorType: core.ConnectorTypeDB, Limit: 7, ProcessAfter: true}); err != nil {
		t.Fatalf("enqueue redrive: %v", err)
	}
	tick := &stubQueueDelivery{msg: enqueuer.messages[0]}
	redrive := &stubQueueDelivery{msg: roundTrip(t, enqueuer.messages[1])}

	w, err := NewWorker(&stubQueueDequeuer{deliveries: []queue.Delivery{tick, redrive}}, svc, WithGuardian(runner))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	for range 2 {
		if err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("run once: %v", err)
		}
	}
	if runner.calls != 1 || !tick.acked {
		t.Fatalf("expected guardian tick run and acked")
	}
	if !redrive.acked || svc.lastRedrive.Limit != 7 || !svc.lastRedrive.ProcessAfter {
		t.Fatalf("expected redrive decoded from serialized params, got %+v", svc.lastRedrive)
	}
}

func TestRetryPolicyNormalizeNack(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}
	opts := policy.NormalizeNack(queue.NackOptions{Delay: 30 * time.Second, Requeue: true, Reason: " transient "}, 1)
	if opts.Delay != 10*time.Second || !opts.Requeue || opts.Reason != "transient" {
		t.Fatalf("unexpected normalized options %+v", opts)
	}
	opts = policy.NormalizeNack(queue.NackOptions{Requeue: true}, 3)
	if opts.Requeue || !opts.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %+v", opts)
	}
	opts = RetryPolicy{}.NormalizeNack(queue.NackOptions{Delay: -time.Second}, 9)
	if !opts.Requeue || opts.Delay != 0 {
		t.Fatalf("expected unbounded policy to requeue, got %+v", opts)
	}
}

func TestMetricsHookRecordsOutcome(t *testing.T) {
	recorder := &capturingRecorder{}
	hook := NewMetricsHook(recorder)
	hook.OnRetry(context.Background(), worker.Event{
		Message:  &job.ExecutionMessage{JobID: JobIDProcessDelivery},
		Duration: 250 * time.Millisecond,
	})
	hook.OnSuccess(context.Background(), worker.Event{})
	if len(recorder.counters) != 2 {
		t.Fatalf("expected two counters, got %+v", recorder.counters)
	}
	if recorder.counters[0]["job_id"] != JobIDProcessDelivery || recorder.counters[0]["outcome"] != "retry" {
		t.Fatalf("unexpected retry tags %+v", recorder.counters[0])
	}
	if recorder.counters[1]["job_id"] != "unknown" {
		t.Fatalf("expected unknown job id tag, got %+v", recorder.counters[1])
	}
	if recorder.histograms[0] != 250 {
		t.Fatalf("expected 250ms duration, got %v", recorder.histograms[0])
	}
}

func newQueueService(t *testing.T, adapter *countingAdapter) *core.Service {
	t.Helper()
	svc, err := core.NewService(core.Config{}, core.WithAdapterResolver(singleResolver{adapter: adapter}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

// roundTrip mimics a queue backend serializing the message.
func roundTrip(t *testing.T, msg *job.ExecutionMessage) *job.ExecutionMessage {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := &job.ExecutionMessage{}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func intPtr(value int) *int { return &value }

type countingAdapter struct {
	results []core.DeliveryResult
	calls   int
}

func (a *countingAdapter) Type() core.ConnectorType { return core.ConnectorTypeWebhook }

func (a *countingAdapter) Validate(core.ConnectorConfig) error { return nil }

func (a *countingAdapter) Dispatch(context.Context, map[string]any, core.ConnectorConfig) core.DeliveryResult {
	index := a.calls
	a.calls++
	if index >= len(a.results) {
		index = len(a.results) - 1
	}
	return a.results[index]
}

type singleResolver struct {
	adapter core.ConnectorAdapter
}

func (r singleResolver) Adapter(core.ConnectorType) (core.ConnectorAdapter, error) {
	return r.adapter, nil
}

type stubService struct {
	processErr  error
	lastProcess core.ProcessRequest
	lastRedrive core.RedriveRequest
}

func (s *stubService) ProcessDelivery(context.Context, string) (core.AttemptLoopResult, error) {
	return core.AttemptLoopResult{}, nil
}

func (s *stubService) Process(_ context.Context, req core.ProcessRequest) (core.ProcessResult, error) {
	s.lastProcess = req
	return core.ProcessResult{}, s.processErr
}

func (s *stubService) Redrive(_ context.Context, req core.RedriveRequest) (core.RedriveResult, error) {
	s.lastRedrive = req
	return core.RedriveResult{}, nil
}

type stubRunner struct {
	calls int
}

func (r *stubRunner) RunOnce(context.Context) (guardian.TickReport, error) {
	r.calls++
	return guardian.TickReport{}, nil
}

type stubQueueEnqueuer struct {
	messages []*job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.messages = append(s.messages, msg)
	return nil
}

func (s *stubQueueEnqueuer) last() *job.ExecutionMessage {
	if len(s.messages) == 0 {
		return nil
	}
	return s.messages[len(s.messages)-1]
}

type stubQueueDequeuer struct {
	deliveries []queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	if len(s.deliveries) == 0 {
		return nil, errors.New("queue empty")
	}
	next := s.deliveries[0]
	s.deliveries = s.deliveries[1:]
	return next, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nacked   bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nacked = true
	s.nackOpts = opts
	return nil
}

type capturingHook struct {
	successes int
	failures  int
	retries   int
	last      worker.Event
}

func (h *capturingHook) OnStart(context.Context, worker.Event) {}

func (h *capturingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.successes++
	h.last = event
}

func (h *capturingHook) OnFailure(_ context.Context, event worker.Event) {
	h.failures++
	h.last = event
}

func (h *capturingHook) OnRetry(_ context.Context, event worker.Event) {
	h.retries++
	h.last = event
}

type capturingRecorder struct {
	counters   []map[string]string
	histograms []float64
}

func (r *capturingRecorder) IncCounter(_ context.Context, _ string, _ int64, tags map[string]string) {
	r.counters = append(r.counters, tags)
}

func (r *capturingRecorder) ObserveHistogram(_ context.Context, _ string, value float64, _ map[string]string) {
	r.histograms = append(r.histograms, value)
}
