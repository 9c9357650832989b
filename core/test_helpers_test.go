package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedWaits struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *recordedWaits) Wait(_ context.Context, delay time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.delays = append(w.delays, delay)
	return nil
}

func (w *recordedWaits) snapshot() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.delays...)
}

// scriptedAdapter returns results in order, repeating the last one.
type scriptedAdapter struct {
	mu          sync.Mutex
	kind        ConnectorType
	results     []DeliveryResult
	validateErr error
	calls       int
	configs     []ConnectorConfig
}

func (a *scriptedAdapter) Type() ConnectorType { return a.kind }

func (a *scriptedAdapter) Validate(cfg ConnectorConfig) error {
	if a.validateErr != nil {
		return a.validateErr
	}
	return nil
}

func (a *scriptedAdapter) Dispatch(_ context.Context, _ map[string]any, cfg ConnectorConfig) DeliveryResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configs = append(a.configs, copyAnyMap(cfg))
	index := a.calls
	a.calls++
	if len(a.results) == 0 {
		return DeliveryResult{Success: true, StatusCode: intPtr(200)}
	}
	if index >= len(a.results) {
		index = len(a.results) - 1
	}
	return a.results[index]
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type staticResolver map[ConnectorType]ConnectorAdapter

func (r staticResolver) Adapter(connectorType ConnectorType) (ConnectorAdapter, error) {
	adapter, ok := r[connectorType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidConnectorType, connectorType)
	}
	return adapter, nil
}

func intPtr(value int) *int {
	return &value
}

func timePtr(value time.Time) *time.Time {
	return &value
}

func failure(code int, message string) DeliveryResult {
	return DeliveryResult{Success: false, StatusCode: intPtr(code), ErrorMessage: message}
}

func success() DeliveryResult {
	return DeliveryResult{Success: true, StatusCode: intPtr(200), ResponseBody: "ok"}
}

type testHarness struct {
	service *Service
	store   *MemoryLedgerStore
	audit   *MemoryAuditSink
	clock   *testClock
	waits   *recordedWaits
	adapter *scriptedAdapter
}

func newTestHarness(cfg Config, adapter *scriptedAdapter, opts ...Option) (*testHarness, error) {
	if adapter == nil {
		adapter = &scriptedAdapter{kind: ConnectorTypeWebhook}
	}
	if adapter.kind == "" {
		adapter.kind = ConnectorTypeWebhook
	}
	h := &testHarness{
		store:   NewMemoryLedgerStore(),
		audit:   NewMemoryAuditSink(),
		clock:   newTestClock(),
		waits:   &recordedWaits{},
		adapter: adapter,
	}
	base := []Option{
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
		WithLedgerStore(h.store),
		WithAuditSink(h.audit),
		WithAdapterResolver(staticResolver{adapter.kind: adapter}),
		WithClock(h.clock.Now),
		WithWaitFunc(h.waits.Wait),
		WithWorkerID("worker-test"),
	}
	svc, err := NewService(cfg, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	h.service = svc
	return h, nil
}

func (h *testHarness) auditEvents(eventType string) []AuditRecord {
	out := []AuditRecord{}
	for _, record := range h.audit.Records() {
		if record.EventType == eventType {
			out = append(out, record)
		}
	}
	return out
}
