package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

type DeliveryMode string

const (
	DeliveryModeSync  DeliveryMode = "sync"
	DeliveryModeQueue DeliveryMode = "queue"
)

const (
	defaultProcessLimit = 25
	maxProcessLimit     = 500
)

type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	ledgerStore     LedgerStore
	auditSink       AuditSink
	cooldownStore   CooldownStore
	adapters        AdapterResolver
	ledger          *Ledger
	engine          *AttemptEngine
	redrive         *RedriveManager
	batch           *BatchRunner
	nowFn           func() time.Time
	workerID        string
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	LedgerStore     LedgerStore
	AuditSink       AuditSink
	CooldownStore   CooldownStore
	Adapters        AdapterResolver
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("outbound", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("outbound"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.nowFn == nil {
		builder.nowFn = func() time.Time { return time.Now().UTC() }
	}
	if builder.waitFn == nil {
		builder.waitFn = waitWithContext
	}
	if strings.TrimSpace(builder.workerID) == "" {
		builder.workerID = "outbound-" + uuid.NewString()
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.storeProvider != nil {
		if builder.ledgerStore == nil {
			builder.ledgerStore = builder.storeProvider.LedgerStore()
		}
		if builder.auditSink == nil {
			builder.auditSink = builder.storeProvider.AuditSink()
		}
		if builder.cooldownStore == nil {
			builder.cooldownStore = builder.storeProvider.CooldownStore()
		}
	}
	if builder.ledgerStore == nil {
		builder.ledgerStore = NewMemoryLedgerStore()
	}
	if builder.auditSink == nil {
		builder.auditSink = NewMemoryAuditSink()
	}
	if builder.cooldownStore == nil {
		builder.cooldownStore = NewMemoryCooldownStore()
	}

	ledger := NewLedger(builder.ledgerStore, builder.auditSink, logger, builder.nowFn)
	engine := NewAttemptEngine(ledger, builder.adapters, logger, builder.nowFn, builder.waitFn)

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		ledgerStore:     builder.ledgerStore,
		auditSink:       builder.auditSink,
		cooldownStore:   builder.cooldownStore,
		adapters:        builder.adapters,
		ledger:          ledger,
		engine:          engine,
		redrive:         NewRedriveManager(ledger, builder.nowFn),
		batch:           NewBatchRunner(engine, finalConfig.Batch),
		nowFn:           builder.nowFn,
		workerID:        builder.workerID,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Ledger() *Ledger {
	if s == nil {
		return nil
	}
	return s.ledger
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		LedgerStore:     s.ledgerStore,
		AuditSink:       s.auditSink,
		CooldownStore:   s.cooldownStore,
		Adapters:        s.adapters,
	}
}

type DeliverRequest struct {
	ProjectID        string          `json:"project_id"`
	ConnectorType    ConnectorType   `json:"connector_type"`
	Payload          map[string]any  `json:"payload"`
	IdempotencyKey   string          `json:"idempotency_key,omitempty"`
	Config           ConnectorConfig `json:"config,omitempty"`
	Mode             DeliveryMode    `json:"mode"`
	MaxAttempts      int             `json:"max_attempts,omitempty"`
	InitialBackoffMs int             `json:"initial_backoff_ms,omitempty"`
	Actor            string          `json:"actor,omitempty"`
}

type DeliverResult struct {
	Delivery  Delivery          `json:"delivery"`
	Attempts  []DeliveryAttempt `json:"attempts"`
	Duplicate bool              `json:"duplicate"`
}

// Deliver records a delivery and, in sync mode, runs its full attempt loop
// before returning. Configuration errors are reported before anything is
// written.
func (s *Service) Deliver(ctx context.Context, req DeliverRequest) (result DeliverResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"project_id":     req.ProjectID,
		"connector_type": string(req.ConnectorType),
		"mode":           string(req.Mode),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "deliver", err, fields)
	}()
	ctx = WithActor(ctx, req.Actor)

	mode := req.Mode
	if mode == "" {
		mode = DeliveryModeSync
	}
	if mode != DeliveryModeSync && mode != DeliveryModeQueue {
		err = badInputError(fmt.Sprintf("core: delivery mode %q is invalid", req.Mode))
		return DeliverResult{}, err
	}
	if err = s.validateTarget(req.ProjectID, req.ConnectorType); err != nil {
		return DeliverResult{}, err
	}
	fallback := s.config.ConnectorFallback(req.ConnectorType)
	resolved := mergeConnectorConfig(fallback, req.Config)
	if mode == DeliveryModeQueue {
		// Queued deliveries run from the stored, redacted config.
		resolved = mergeConnectorConfig(fallback, RedactSensitiveMap(req.Config))
		if missing := unresolvedSecrets(req.Config, resolved); len(missing) > 0 {
			err = NewConfigError(
				"core: queued delivery secrets must come from the connector config",
				map[string]any{"connector_type": string(req.ConnectorType), "fields": missing},
			)
			return DeliverResult{}, err
		}
	}
	if _, err = s.engine.ResolveAdapter(req.ConnectorType, resolved); err != nil {
		err = s.mapError(err)
		return DeliverResult{}, err
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.config.Delivery.MaxAttempts
	}
	delivery, duplicate, err := s.ledger.Create(ctx, CreateDeliveryInput{
		ProjectID:      req.ProjectID,
		ConnectorType:  req.ConnectorType,
		IdempotencyKey: req.IdempotencyKey,
		Payload:        req.Payload,
		Config:         req.Config,
		MaxAttempts:    maxAttempts,
	})
	if err != nil {
		err = s.mapError(err)
		return DeliverResult{}, err
	}
	fields["delivery_id"] = delivery.ID
	fields["duplicate"] = duplicate

	if duplicate {
		s.recordCounter(ctx, MetricDeliveryDuplicate, 1, map[string]string{"connector_type": string(req.ConnectorType)})
		attempts, listErr := s.ledgerStore.ListAttempts(ctx, delivery.ID)
		if listErr != nil {
			err = s.mapError(listErr)
			return DeliverResult{}, err
		}
		return DeliverResult{Delivery: delivery, Attempts: attempts, Duplicate: true}, nil
	}
	if mode == DeliveryModeQueue {
		return DeliverResult{Delivery: delivery, Attempts: []DeliveryAttempt{}}, nil
	}

	initialBackoff := req.InitialBackoffMs
	if initialBackoff == 0 {
		initialBackoff = s.config.Delivery.InitialBackoffMs
	}
	loop, err := s.engine.RunAttemptLoop(ctx, delivery, resolved, RunOptions{
		Mode:             ModeImmediate,
		InitialBackoffMs: initialBackoff,
		Claim:            s.claimDelivery,
	})
	if loop.Yielded {
		fields["yielded"] = true
	}
	result = DeliverResult{Delivery: loop.Delivery, Attempts: loop.Attempts}
	if result.Attempts == nil {
		result.Attempts = []DeliveryAttempt{}
	}
	s.recordAttempts(ctx, loop)
	s.recordDeliveryOutcome(ctx, loop.Delivery)
	fields["status"] = string(loop.Delivery.Status)
	if err != nil {
		err = s.mapError(err)
		return result, err
	}
	return result, nil
}

// ProcessDelivery runs one scheduled attempt for a single delivery by id.
// Terminal and not-yet-due deliveries are returned unchanged.
func (s *Service) ProcessDelivery(ctx context.Context, deliveryID string) (result AttemptLoopResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"delivery_id": deliveryID}
	defer func() {
		s.observeOperation(ctx, startedAt, "process_delivery", err, fields)
	}()

	delivery, err := s.ledger.Get(ctx, deliveryID)
	if err != nil {
		err = s.mapError(err)
		return AttemptLoopResult{}, err
	}
	fields["project_id"] = delivery.ProjectID
	fields["connector_type"] = string(delivery.ConnectorType)
	if !IsConnectorDeliveryDue(delivery, s.nowFn()) {
		return AttemptLoopResult{Delivery: delivery}, nil
	}
	resolved := mergeConnectorConfig(s.config.ConnectorFallback(delivery.ConnectorType), delivery.Config)
	result, err = s.engine.RunAttemptLoop(ctx, delivery, resolved, RunOptions{
		Mode:             ModeScheduled,
		InitialBackoffMs: s.config.Delivery.InitialBackoffMs,
		Claim:            s.claimDelivery,
	})
	if result.Yielded {
		fields["yielded"] = true
	}
	s.recordAttempts(ctx, result)
	if len(result.Attempts) > 0 {
		s.recordDeliveryOutcome(ctx, result.Delivery)
	}
	if err != nil {
		err = s.mapError(err)
	}
	return result, err
}

type ProcessRequest struct {
	ProjectID        string        `json:"project_id"`
	ConnectorType    ConnectorType `json:"connector_type"`
	Limit            int           `json:"limit"`
	CooldownMinutes  int           `json:"cooldown_minutes"`
	InitialBackoffMs int           `json:"initial_backoff_ms,omitempty"`
	Actor            string        `json:"actor,omitempty"`
}

type ProcessResult struct {
	ProcessedCount int      `json:"processed_count"`
	Delivered      int      `json:"delivered"`
	Retrying       int      `json:"retrying"`
	DeadLettered   int      `json:"dead_lettered"`
	RequestedLimit int      `json:"requested_limit"`
	EffectiveLimit int      `json:"effective_limit"`
	Throttled      bool     `json:"throttled"`
	ThrottleReason string   `json:"throttle_reason,omitempty"`
	Workers        int      `json:"workers"`
	CooldownActive bool     `json:"cooldown_active"`
	Failures       []string `json:"failures"`
}

// Process claims due deliveries for one connector and runs one scheduled
// attempt for each, bounded by backpressure and adaptive concurrency.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (result ProcessResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"project_id":     req.ProjectID,
		"connector_type": string(req.ConnectorType),
		"limit":          req.Limit,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "process", err, fields)
	}()
	ctx = WithActor(ctx, req.Actor)

	result = ProcessResult{Failures: []string{}}
	if err = s.validateTarget(req.ProjectID, req.ConnectorType); err != nil {
		return result, err
	}
	if s.cooldownActive(ctx, req.ProjectID, req.ConnectorType, GuardianActionProcessQueue, req.CooldownMinutes) {
		result.CooldownActive = true
		fields["cooldown_active"] = true
		return result, nil
	}

	limit := normalizeBatchLimit(req.Limit, defaultProcessLimit, maxProcessLimit)
	counts, err := s.ledgerStore.CountByStatus(ctx, req.ProjectID, req.ConnectorType, s.nowFn())
	if err != nil {
		err = s.mapError(err)
		return result, err
	}
	decision := EffectiveLimit(s.config.Backpressure, limit, counts)
	result.RequestedLimit = decision.RequestedLimit
	result.EffectiveLimit = decision.Limit
	result.Throttled = decision.Throttled
	result.ThrottleReason = decision.Reason
	if decision.Throttled {
		s.recordCounter(ctx, MetricProcessThrottled, 1, map[string]string{"connector_type": string(req.ConnectorType)})
		s.logWarn(ctx, "processing limit throttled", map[string]any{
			"project_id":      req.ProjectID,
			"connector_type":  string(req.ConnectorType),
			"requested_limit": decision.RequestedLimit,
			"effective_limit": decision.Limit,
			"reason":          decision.Reason,
		})
	}

	processed, err := s.processClaimed(ctx, req.ProjectID, req.ConnectorType, decision.Limit, req.InitialBackoffMs)
	mergeProcessResult(&result, processed)
	fields["processed_count"] = result.ProcessedCount
	if err != nil {
		err = s.mapError(err)
		return result, err
	}
	s.recordAction(ctx, req.ProjectID, req.ConnectorType, GuardianActionProcessQueue, result.ProcessedCount)
	return result, nil
}

// claimDelivery leases a single delivery to this worker. An immediate-mode
// loop claims as of the retry time it has just waited for, so a clock that
// lags the backoff sleep does not lose the claim.
func (s *Service) claimDelivery(ctx context.Context, delivery Delivery) (Delivery, bool, error) {
	now := s.nowFn()
	if delivery.NextAttemptAt != nil && delivery.NextAttemptAt.After(now) {
		now = *delivery.NextAttemptAt
	}
	claimed, err := s.ledgerStore.ClaimDue(ctx, ClaimRequest{
		ProjectID:     delivery.ProjectID,
		ConnectorType: delivery.ConnectorType,
		DeliveryID:    delivery.ID,
		Limit:         1,
		Owner:         s.workerID,
		Lease:         s.config.Delivery.ClaimLease(),
		Now:           now,
	})
	if err != nil {
		return delivery, false, err
	}
	if len(claimed) == 0 {
		return delivery, false, nil
	}
	return claimed[0], true, nil
}

func (s *Service) processClaimed(ctx context.Context, projectID string, connectorType ConnectorType, limit int, initialBackoffMs int) (ProcessResult, error) {
	out := ProcessResult{Failures: []string{}}
	claimed, err := s.ledgerStore.ClaimDue(ctx, ClaimRequest{
		ProjectID:     projectID,
		ConnectorType: connectorType,
		Limit:         limit,
		Owner:         s.workerID,
		Lease:         s.config.Delivery.ClaimLease(),
		Now:           s.nowFn(),
	})
	if err != nil {
		return out, err
	}
	if len(claimed) == 0 {
		out.Workers = s.batch.config.Workers
		return out, nil
	}

	fallback := s.config.ConnectorFallback(connectorType)
	items := make([]BatchItem, 0, len(claimed))
	for _, delivery := range claimed {
		items = append(items, BatchItem{
			Delivery: delivery,
			Config:   mergeConnectorConfig(fallback, delivery.Config),
		})
	}
	if initialBackoffMs == 0 {
		initialBackoffMs = s.config.Delivery.InitialBackoffMs
	}
	batch, err := s.batch.Run(ctx, items, RunOptions{Mode: ModeScheduled, InitialBackoffMs: initialBackoffMs})
	out.Workers = batch.FinalWorkers
	s.recordHistogram(ctx, MetricBatchWorkers, float64(batch.FinalWorkers), map[string]string{"connector_type": string(connectorType)})
	for _, outcome := range batch.Outcomes {
		s.recordAttempts(ctx, outcome.Result)
		if outcome.Err != nil {
			out.Failures = append(out.Failures, fmt.Sprintf("%s: %v", outcome.DeliveryID, outcome.Err))
			continue
		}
		out.ProcessedCount++
		s.recordDeliveryOutcome(ctx, outcome.Result.Delivery)
		switch outcome.Result.Delivery.Status {
		case DeliveryStatusDelivered:
			out.Delivered++
		case DeliveryStatusRetrying:
			out.Retrying++
		case DeliveryStatusDeadLettered:
			out.DeadLettered++
		}
	}
	return out, err
}

type RedriveRequest struct {
	ProjectID            string        `json:"project_id"`
	ConnectorType        ConnectorType `json:"connector_type"`
	Limit                int           `json:"limit"`
	MinDeadLetterMinutes int           `json:"min_dead_letter_minutes"`
	ProcessAfter         bool          `json:"process_after"`
	CooldownMinutes      int           `json:"cooldown_minutes"`
	Actor                string        `json:"actor,omitempty"`
}

type RedriveResult struct {
	RedrivenCount  int      `json:"redriven_count"`
	ProcessedCount int      `json:"processed_count"`
	Delivered      int      `json:"delivered"`
	Retrying       int      `json:"retrying"`
	DeadLettered   int      `json:"dead_lettered"`
	CooldownActive bool     `json:"cooldown_active"`
	Failures       []string `json:"failures"`
}

// Redrive resets eligible dead letters to queued and, when ProcessAfter is
// set, immediately processes as many due deliveries as were redriven.
func (s *Service) Redrive(ctx context.Context, req RedriveRequest) (result RedriveResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"project_id":     req.ProjectID,
		"connector_type": string(req.ConnectorType),
		"limit":          req.Limit,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "redrive", err, fields)
	}()
	ctx = WithActor(ctx, req.Actor)

	result = RedriveResult{Failures: []string{}}
	if err = s.validateTarget(req.ProjectID, req.ConnectorType); err != nil {
		return result, err
	}
	if s.cooldownActive(ctx, req.ProjectID, req.ConnectorType, GuardianActionRedriveDeadLetters, req.CooldownMinutes) {
		result.CooldownActive = true
		fields["cooldown_active"] = true
		return result, nil
	}

	batch, err := s.redrive.RedriveBatch(ctx, RedriveBatchRequest{
		ProjectID:            req.ProjectID,
		ConnectorType:        req.ConnectorType,
		Limit:                req.Limit,
		MinDeadLetterMinutes: req.MinDeadLetterMinutes,
	})
	if err != nil {
		err = s.mapError(err)
		return result, err
	}
	result.RedrivenCount = len(batch.Redriven)
	result.Failures = append(result.Failures, batch.Failures...)
	fields["redriven_count"] = result.RedrivenCount
	s.recordCounter(ctx, MetricRedriveDeadLettered, int64(result.RedrivenCount), map[string]string{"connector_type": string(req.ConnectorType)})
	s.recordAction(ctx, req.ProjectID, req.ConnectorType, GuardianActionRedriveDeadLetters, result.RedrivenCount)

	if req.ProcessAfter && result.RedrivenCount > 0 {
		processed, processErr := s.processClaimed(ctx, req.ProjectID, req.ConnectorType, result.RedrivenCount, 0)
		result.ProcessedCount = processed.ProcessedCount
		result.Delivered = processed.Delivered
		result.Retrying = processed.Retrying
		result.DeadLettered = processed.DeadLettered
		result.Failures = append(result.Failures, processed.Failures...)
		if processErr != nil {
			result.Failures = append(result.Failures, processErr.Error())
		}
	}
	return result, nil
}

type ReliabilityRequest struct {
	ProjectID      string          `json:"project_id"`
	ConnectorTypes []ConnectorType `json:"connector_types"`
	LookbackHours  int             `json:"lookback_hours"`
}

type ReliabilityResult struct {
	ProjectID     string       `json:"project_id"`
	LookbackHours int          `json:"lookback_hours"`
	GeneratedAt   time.Time    `json:"generated_at"`
	Connectors    []RankedItem `json:"connectors"`
}

// Reliability ranks the requested connectors (all types when none are given)
// for a project by risk.
func (s *Service) Reliability(ctx context.Context, req ReliabilityRequest) (result ReliabilityResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"project_id": req.ProjectID}
	defer func() {
		s.observeOperation(ctx, startedAt, "reliability", err, fields)
	}()

	if strings.TrimSpace(req.ProjectID) == "" {
		err = badInputError("core: project id is required")
		return ReliabilityResult{}, err
	}
	connectorTypes := req.ConnectorTypes
	if len(connectorTypes) == 0 {
		connectorTypes = ConnectorTypes()
	}
	lookback := NormalizeLookbackHours(req.LookbackHours)
	now := s.nowFn()

	inputs := make([]RankInput, 0, len(connectorTypes))
	seen := map[ConnectorType]bool{}
	for _, connectorType := range connectorTypes {
		if !connectorType.Valid() {
			err = s.mapError(fmt.Errorf("%w: %q", ErrInvalidConnectorType, connectorType))
			return ReliabilityResult{}, err
		}
		if seen[connectorType] {
			continue
		}
		seen[connectorType] = true
		counts, countErr := s.ledgerStore.CountByStatus(ctx, req.ProjectID, connectorType, now)
		if countErr != nil {
			err = s.mapError(countErr)
			return ReliabilityResult{}, err
		}
		insights, insightsErr := s.computeInsights(ctx, req.ProjectID, connectorType, lookback, now)
		if insightsErr != nil {
			err = s.mapError(insightsErr)
			return ReliabilityResult{}, err
		}
		inputs = append(inputs, RankInput{ConnectorType: connectorType, Summary: counts, Insights: insights})
	}

	return ReliabilityResult{
		ProjectID:     req.ProjectID,
		LookbackHours: lookback,
		GeneratedAt:   now,
		Connectors:    Rank(inputs),
	}, nil
}

func (s *Service) Insights(ctx context.Context, projectID string, connectorType ConnectorType, lookbackHours int) (insights Insights, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"project_id": projectID, "connector_type": string(connectorType)}
	defer func() {
		s.observeOperation(ctx, startedAt, "insights", err, fields)
	}()
	if err = s.validateTarget(projectID, connectorType); err != nil {
		return Insights{}, err
	}
	insights, err = s.computeInsights(ctx, projectID, connectorType, NormalizeLookbackHours(lookbackHours), s.nowFn())
	if err != nil {
		err = s.mapError(err)
	}
	return insights, err
}

type DeliveryDetail struct {
	Delivery Delivery          `json:"delivery"`
	Attempts []DeliveryAttempt `json:"attempts"`
}

// GetDelivery returns a delivery with its attempt history in attempt order.
func (s *Service) GetDelivery(ctx context.Context, deliveryID string) (detail DeliveryDetail, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"delivery_id": deliveryID}
	defer func() {
		s.observeOperation(ctx, startedAt, "get_delivery", err, fields)
	}()
	delivery, err := s.ledger.Get(ctx, deliveryID)
	if err != nil {
		return DeliveryDetail{}, s.mapError(err)
	}
	attempts, err := s.ledgerStore.ListAttempts(ctx, delivery.ID)
	if err != nil {
		return DeliveryDetail{}, s.mapError(err)
	}
	if attempts == nil {
		attempts = []DeliveryAttempt{}
	}
	fields["project_id"] = delivery.ProjectID
	fields["connector_type"] = string(delivery.ConnectorType)
	return DeliveryDetail{Delivery: delivery, Attempts: attempts}, nil
}

func (s *Service) computeInsights(ctx context.Context, projectID string, connectorType ConnectorType, lookbackHours int, now time.Time) (Insights, error) {
	since := now.Add(-time.Duration(lookbackHours) * time.Hour)
	deliveries, err := s.ledgerStore.ListDeliveries(ctx, DeliveryFilter{
		ProjectID:     projectID,
		ConnectorType: connectorType,
		UpdatedSince:  &since,
	})
	if err != nil {
		return Insights{}, err
	}
	ids := make([]string, 0, len(deliveries))
	for _, delivery := range deliveries {
		ids = append(ids, delivery.ID)
	}
	attempts, err := s.ledgerStore.ListAttemptsForDeliveries(ctx, ids)
	if err != nil {
		return Insights{}, err
	}
	return ComputeInsights(deliveries, attempts, lookbackHours, now), nil
}

func (s *Service) validateTarget(projectID string, connectorType ConnectorType) error {
	if s == nil || s.ledger == nil {
		return internalError(nil, "core: service is not configured")
	}
	if strings.TrimSpace(projectID) == "" {
		return badInputError("core: project id is required")
	}
	if !connectorType.Valid() {
		return s.mapError(fmt.Errorf("%w: %q", ErrInvalidConnectorType, connectorType))
	}
	return nil
}

// cooldownActive reports whether the same action already ran for the
// connector inside the window. Lookup failures never block the action.
func (s *Service) cooldownActive(ctx context.Context, projectID string, connectorType ConnectorType, action GuardianAction, minutes int) bool {
	if minutes <= 0 || s.cooldownStore == nil {
		return false
	}
	last, found, err := s.cooldownStore.LastAction(ctx, projectID, connectorType, action)
	if err != nil {
		s.logWarn(ctx, "cooldown lookup failed", map[string]any{
			"project_id":     projectID,
			"connector_type": string(connectorType),
			"action":         string(action),
			"error":          err.Error(),
		})
		return false
	}
	if !found {
		return false
	}
	active := s.nowFn().Sub(last) < time.Duration(minutes)*time.Minute
	if active {
		s.recordCounter(ctx, MetricCooldownActive, 1, map[string]string{
			"connector_type": string(connectorType),
			"action":         string(action),
		})
	}
	return active
}

func (s *Service) recordAction(ctx context.Context, projectID string, connectorType ConnectorType, action GuardianAction, affected int) {
	now := s.nowFn()
	actor := ActorFromContext(ctx)
	if s.cooldownStore != nil {
		if err := s.cooldownStore.RecordAction(ctx, ActionRecord{
			ProjectID:     projectID,
			ConnectorType: connectorType,
			Action:        action,
			Actor:         actor,
			AffectedCount: affected,
			CreatedAt:     now,
		}); err != nil {
			s.logWarn(ctx, "cooldown record failed", map[string]any{
				"project_id":     projectID,
				"connector_type": string(connectorType),
				"action":         string(action),
				"error":          err.Error(),
			})
		}
	}
	if s.auditSink == nil {
		return
	}
	if err := s.auditSink.Record(ctx, AuditRecord{
		ID:        uuid.NewString(),
		EventType: AuditEventGuardianAction,
		Actor:     actor,
		ProjectID: projectID,
		Metadata: map[string]any{
			"connector_type": string(connectorType),
			"action":         string(action),
			"affected_count": affected,
		},
		CreatedAt: now,
	}); err != nil {
		s.logWarn(ctx, "audit record failed", map[string]any{"event_type": AuditEventGuardianAction, "error": err.Error()})
	}
}

func (s *Service) recordAttempts(ctx context.Context, loop AttemptLoopResult) {
	for _, attempt := range loop.Attempts {
		status := "failure"
		if attempt.Success {
			status = "success"
		}
		s.recordCounter(ctx, MetricDeliveryAttempt, 1, map[string]string{
			"connector_type": string(loop.Delivery.ConnectorType),
			"status":         status,
		})
	}
}

func mergeProcessResult(target *ProcessResult, source ProcessResult) {
	target.ProcessedCount += source.ProcessedCount
	target.Delivered += source.Delivered
	target.Retrying += source.Retrying
	target.DeadLettered += source.DeadLettered
	target.Workers = source.Workers
	target.Failures = append(target.Failures, source.Failures...)
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

// CooldownError reports a refused action for callers that surface cooldowns
// as errors instead of CooldownActive flags.
func CooldownError(projectID string, connectorType ConnectorType, action GuardianAction) *goerrors.Error {
	return newOutboundError(
		fmt.Sprintf("core: %s for %s/%s is cooling down", action, projectID, connectorType),
		goerrors.CategoryRateLimit,
		OutboundErrorCooldownActive,
	)
}
