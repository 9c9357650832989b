package core

import (
	"context"
	"testing"
)

func seedQueued(t *testing.T, ledger *Ledger, count int) []BatchItem {
	t.Helper()
	items := make([]BatchItem, 0, count)
	for index := 0; index < count; index++ {
		delivery, _, err := ledger.Create(context.Background(), CreateDeliveryInput{
			ProjectID:     "p",
			ConnectorType: ConnectorTypeWebhook,
			MaxAttempts:   3,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		items = append(items, BatchItem{Delivery: delivery})
	}
	return items
}

func TestBatchRunnerShrinksWorkersOnRetryableFailures(t *testing.T) {
	adapter := &scriptedAdapter{kind: ConnectorTypeWebhook, results: []DeliveryResult{failure(503, "HTTP 503")}}
	engine, ledger, _, _, _ := newTestEngine(adapter)
	runner := NewBatchRunner(engine, BatchConfig{Workers: 4, MinWorkers: 1, ShrinkThreshold: 0.5})

	result, err := runner.Run(context.Background(), seedQueued(t, ledger, 7), RunOptions{Mode: ModeScheduled})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// waves of 4, 2, 1 as workers halve after each overloaded wave
	if result.Waves != 3 || result.FinalWorkers != 1 {
		t.Fatalf("expected 3 waves ending at 1 worker, got waves=%d workers=%d", result.Waves, result.FinalWorkers)
	}
	if len(result.Outcomes) != 7 {
		t.Fatalf("expected 7 outcomes, got %d", len(result.Outcomes))
	}
	for _, outcome := range result.Outcomes {
		if !outcome.Retryable || outcome.Result.Delivery.Status != DeliveryStatusRetrying {
			t.Fatalf("expected retryable retrying outcome, got %+v", outcome)
		}
	}
}

func TestBatchRunnerKeepsWorkersWhenHealthy(t *testing.T) {
	adapter := &scriptedAdapter{kind: ConnectorTypeWebhook, results: []DeliveryResult{success()}}
	engine, ledger, _, _, _ := newTestEngine(adapter)
	runner := NewBatchRunner(engine, BatchConfig{Workers: 3, MinWorkers: 1})

	result, err := runner.Run(context.Background(), seedQueued(t, ledger, 7), RunOptions{Mode: ModeScheduled})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Waves != 3 || result.FinalWorkers != 3 {
		t.Fatalf("expected 3 waves at 3 workers, got waves=%d workers=%d", result.Waves, result.FinalWorkers)
	}
	for _, outcome := range result.Outcomes {
		if outcome.Result.Delivery.Status != DeliveryStatusDelivered {
			t.Fatalf("expected delivered, got %s", outcome.Result.Delivery.Status)
		}
	}
}

func TestBatchRunnerNonRetryableFailuresDoNotShrink(t *testing.T) {
	adapter := &scriptedAdapter{kind: ConnectorTypeWebhook, results: []DeliveryResult{failure(404, "HTTP 404")}}
	engine, ledger, _, _, _ := newTestEngine(adapter)
	runner := NewBatchRunner(engine, BatchConfig{Workers: 2, MinWorkers: 1})

	result, err := runner.Run(context.Background(), seedQueued(t, ledger, 4), RunOptions{Mode: ModeScheduled})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.FinalWorkers != 2 {
		t.Fatalf("expected workers unchanged, got %d", result.FinalWorkers)
	}
}
