package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StoreProvider exposes a coherent set of stores, typically backed by one
// persistence client.
type StoreProvider interface {
	LedgerStore() LedgerStore
	AuditSink() AuditSink
	CooldownStore() CooldownStore
}

type WaitFunc func(ctx context.Context, delay time.Duration) error

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	storeProvider   StoreProvider
	ledgerStore     LedgerStore
	auditSink       AuditSink
	cooldownStore   CooldownStore
	adapters        AdapterResolver
	nowFn           func() time.Time
	waitFn          WaitFunc
	workerID        string
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithStoreProvider(provider StoreProvider) Option {
	return func(b *serviceBuilder) {
		b.storeProvider = provider
	}
}

func WithLedgerStore(store LedgerStore) Option {
	return func(b *serviceBuilder) {
		b.ledgerStore = store
	}
}

func WithAuditSink(sink AuditSink) Option {
	return func(b *serviceBuilder) {
		b.auditSink = sink
	}
}

func WithCooldownStore(store CooldownStore) Option {
	return func(b *serviceBuilder) {
		b.cooldownStore = store
	}
}

func WithAdapterResolver(resolver AdapterResolver) Option {
	return func(b *serviceBuilder) {
		b.adapters = resolver
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.nowFn = now
	}
}

// WithWaitFunc replaces the backoff sleep used by immediate-mode attempt loops.
func WithWaitFunc(wait WaitFunc) Option {
	return func(b *serviceBuilder) {
		b.waitFn = wait
	}
}

// WithWorkerID sets the owner recorded on claimed deliveries.
func WithWorkerID(id string) Option {
	return func(b *serviceBuilder) {
		b.workerID = id
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("outbound", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		nowFn:           func() time.Time { return time.Now().UTC() },
		waitFn:          waitWithContext,
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfigLoader serves a fixed raw config map, usually decoded from a file.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap renders a config as an options layer. Zero values are
// dropped from non-default layers so they do not mask lower layers.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	delivery := map[string]any{}
	putInt(delivery, "max_attempts", cfg.Delivery.MaxAttempts, includeZero)
	putInt(delivery, "initial_backoff_ms", cfg.Delivery.InitialBackoffMs, includeZero)
	putInt(delivery, "claim_lease_seconds", cfg.Delivery.ClaimLeaseSeconds, includeZero)
	putSection(layer, "delivery", delivery)

	backpressure := map[string]any{}
	if includeZero || cfg.Backpressure.Enabled {
		backpressure["enabled"] = cfg.Backpressure.Enabled
	}
	putInt(backpressure, "max_retrying", cfg.Backpressure.MaxRetrying, includeZero)
	putInt(backpressure, "max_due_now", cfg.Backpressure.MaxDueNow, includeZero)
	putInt(backpressure, "min_limit", cfg.Backpressure.MinLimit, includeZero)
	putSection(layer, "backpressure", backpressure)

	batch := map[string]any{}
	putInt(batch, "workers", cfg.Batch.Workers, includeZero)
	putInt(batch, "min_workers", cfg.Batch.MinWorkers, includeZero)
	if includeZero || cfg.Batch.ShrinkThreshold != 0 {
		batch["shrink_threshold"] = cfg.Batch.ShrinkThreshold
	}
	putSection(layer, "batch", batch)

	guardian := map[string]any{}
	if includeZero || cfg.Guardian.Enabled {
		guardian["enabled"] = cfg.Guardian.Enabled
	}
	if includeZero || cfg.Guardian.RiskThreshold != 0 {
		guardian["risk_threshold"] = cfg.Guardian.RiskThreshold
	}
	putInt(guardian, "max_actions_per_project", cfg.Guardian.MaxActionsPerProject, includeZero)
	putInt(guardian, "action_limit", cfg.Guardian.ActionLimit, includeZero)
	putInt(guardian, "min_dead_letter_minutes", cfg.Guardian.MinDeadLetterMinutes, includeZero)
	putInt(guardian, "cooldown_minutes", cfg.Guardian.CooldownMinutes, includeZero)
	putInt(guardian, "poll_interval_seconds", cfg.Guardian.PollIntervalSeconds, includeZero)
	putInt(guardian, "lookback_hours", cfg.Guardian.LookbackHours, includeZero)
	if includeZero || len(cfg.Guardian.AllowedRecommendations) > 0 {
		guardian["allowed_recommendations"] = append([]string(nil), cfg.Guardian.AllowedRecommendations...)
	}
	if includeZero || cfg.Guardian.ProcessAfterRedrive {
		guardian["process_after_redrive"] = cfg.Guardian.ProcessAfterRedrive
	}
	putSection(layer, "guardian", guardian)

	if includeZero || len(cfg.Connectors) > 0 {
		connectors := make(map[string]any, len(cfg.Connectors))
		for key, values := range cfg.Connectors {
			connectors[key] = copyAnyMap(values)
		}
		layer["connectors"] = connectors
	}
	return layer
}

func putInt(section map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		layer[key] = section
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
