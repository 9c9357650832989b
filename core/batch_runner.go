package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const defaultShrinkThreshold = 0.5

type BatchItem struct {
	Delivery Delivery
	Config   ConnectorConfig
}

type BatchOutcome struct {
	DeliveryID string
	Result     AttemptLoopResult
	Err        error
	Retryable  bool
}

type BatchResult struct {
	Outcomes     []BatchOutcome
	Waves        int
	FinalWorkers int
}

// BatchRunner drives many deliveries in concurrent waves. After each wave the
// worker count halves (down to MinWorkers) when the share of retryable
// failures reaches ShrinkThreshold.
type BatchRunner struct {
	engine *AttemptEngine
	config BatchConfig
}

func NewBatchRunner(engine *AttemptEngine, cfg BatchConfig) *BatchRunner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MinWorkers > cfg.Workers {
		cfg.MinWorkers = cfg.Workers
	}
	if cfg.ShrinkThreshold <= 0 {
		cfg.ShrinkThreshold = defaultShrinkThreshold
	}
	return &BatchRunner{engine: engine, config: cfg}
}

func (r *BatchRunner) Run(ctx context.Context, items []BatchItem, opts RunOptions) (BatchResult, error) {
	result := BatchResult{Outcomes: make([]BatchOutcome, 0, len(items)), FinalWorkers: r.config.Workers}
	workers := r.config.Workers

	for start := 0; start < len(items); {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := min(start+workers, len(items))
		wave := items[start:end]
		outcomes := make([]BatchOutcome, len(wave))

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(workers)
		for index, item := range wave {
			group.Go(func() error {
				loop, err := r.engine.RunAttemptLoop(groupCtx, item.Delivery, item.Config, opts)
				outcomes[index] = BatchOutcome{
					DeliveryID: item.Delivery.ID,
					Result:     loop,
					Err:        err,
					Retryable:  isRetryableOutcome(loop, err),
				}
				return nil
			})
		}
		_ = group.Wait()

		result.Outcomes = append(result.Outcomes, outcomes...)
		result.Waves++
		start = end

		retryable := 0
		for _, outcome := range outcomes {
			if outcome.Retryable {
				retryable++
			}
		}
		if float64(retryable)/float64(len(outcomes)) >= r.config.ShrinkThreshold {
			workers = max(r.config.MinWorkers, workers/2)
		}
		result.FinalWorkers = workers
	}
	return result, nil
}

func isRetryableOutcome(loop AttemptLoopResult, err error) bool {
	if err != nil {
		return ClassifyRetry(err.Error()).Retryable()
	}
	if loop.Delivery.Status == DeliveryStatusDelivered {
		return false
	}
	return loop.RetryClass.Retryable()
}
