package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	outbound "github.com/goliatone/go-outbound"
	prometheusadapter "github.com/goliatone/go-outbound/adapters/prometheus"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/guardian"
	sqlstore "github.com/goliatone/go-outbound/store/sql"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

func main() {
	bootLogger := newLogger(os.Stderr, false)
	env, err := loadProcessEnv(context.Background(), ".env", bootLogger)
	if err != nil {
		bootLogger.Error("invalid environment", "error", err)
		os.Exit(2)
	}

	configPath := flag.String("config", "", "Path to a JSON, YAML or TOML configuration file")
	driver := flag.String("driver", env.DBDriver, "Ledger database driver (postgres or sqlite3)")
	dsn := flag.String("dsn", env.DBDSN, "Ledger database DSN")
	actions := flag.String("actions", actionsLocal, "Where guardian actions run: local or http")
	baseURL := flag.String("base-url", env.BaseURL, "Outbound HTTP API base URL for http actions")
	token := flag.String("token", env.Token, "Bearer token for http actions")
	orgID := flag.String("org", "", "Organization whose projects are listed through the HTTP API")
	projects := flag.String("projects", "", "Comma separated project ids")
	once := flag.Bool("once", false, "Run a single tick, print the report and exit")
	metricsAddr := flag.String("metrics-addr", "", "Address serving /metrics; empty disables it")
	policyTTL := flag.Duration("policy-ttl", time.Minute, "Guardian policy cache TTL")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger := newLogger(os.Stderr, *debug)
	opts := options{
		ConfigPath:  *configPath,
		Driver:      *driver,
		DSN:         *dsn,
		Actions:     *actions,
		BaseURL:     *baseURL,
		Token:       *token,
		OrgID:       *orgID,
		Projects:    splitList(*projects),
		Once:        *once,
		MetricsAddr: *metricsAddr,
		PolicyTTL:   *policyTTL,
		Debug:       *debug,
	}
	if err := opts.validate(); err != nil {
		logger.Error("invalid flags", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("outbound guardian failed", "error", err)
		os.Exit(1)
	}
	logger.Info("outbound guardian stopped")
}

type runtime struct {
	guardian *guardian.Guardian
	recorder *prometheusadapter.Recorder
	closers  []func() error
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

func run(ctx context.Context, opts options, logger core.Logger) error {
	rt, err := build(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	if opts.Once {
		report, err := rt.guardian.RunOnce(ctx)
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	var server *http.Server
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.recorder.Handler())
		server = &http.Server{Addr: opts.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", opts.MetricsAddr)
	}

	err = rt.guardian.Run(ctx)

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("metrics server shutdown failed", "error", shutdownErr)
		}
	}
	return err
}

func build(ctx context.Context, opts options, logger core.Logger) (*runtime, error) {
	rt := &runtime{
		recorder: prometheusadapter.NewRecorder(
			prometheusadapter.WithNamespace("outbound"),
			prometheusadapter.WithLogger(logger),
		),
	}
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = opts.PolicyTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("policy cache: %w", err)
	}

	var (
		actions    guardian.Actions
		basePolicy guardian.PolicySource
		lister     guardian.ProjectLister
		guardCfg   core.GuardianConfig
	)

	switch opts.Actions {
	case actionsHTTP:
		httpActions := guardian.NewHTTPActions(opts.BaseURL, opts.Token, nil)
		actions, basePolicy, lister = httpActions, httpActions, httpActions
		cfg, err := loadConfig(ctx, opts.ConfigPath, logger)
		if err != nil {
			return nil, err
		}
		guardCfg = cfg.Guardian
	default:
		client, err := sqlstore.Open(sqlstore.PersistenceConfig{Driver: opts.Driver, DSN: opts.DSN, Debug: opts.Debug})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
		if err := sqlstore.Migrate(ctx, client, opts.Driver); err != nil {
			rt.close()
			return nil, err
		}
		factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
		if err != nil {
			rt.close()
			return nil, err
		}
		svc, err := outbound.NewService(outbound.Config{},
			outbound.WithLogger(logger),
			outbound.WithLoggerProvider(glog.ProviderFromLogger(logger)),
			outbound.WithConfigProvider(core.NewCfgxConfigProvider(containerConfigLoader{path: opts.ConfigPath, logger: logger})),
			outbound.WithStoreProvider(factory),
			outbound.WithMetricsRecorder(rt.recorder),
		)
		if err != nil {
			rt.close()
			return nil, err
		}
		actions, basePolicy = svc, factory.GuardianPolicyStore()
		guardCfg = svc.Config().Guardian
	}

	policies, err := guardian.NewCachedPolicySource(basePolicy, cacheService)
	if err != nil {
		rt.close()
		return nil, err
	}
	cfg := guardian.ConfigFromCore(guardCfg)
	cfg.OrgID = opts.OrgID
	cfg.ProjectIDs = opts.Projects

	guardOpts := []guardian.Option{
		guardian.WithPolicySource(policies),
		guardian.WithLogger(logger),
		guardian.WithMetricsRecorder(rt.recorder),
	}
	if lister != nil {
		guardOpts = append(guardOpts, guardian.WithProjectLister(lister))
	}
	g, err := guardian.New(actions, cfg, guardOpts...)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.guardian = g
	return rt, nil
}

// loadConfig resolves the guardian settings when no in-process service is
// built to do it.
func loadConfig(ctx context.Context, path string, logger core.Logger) (core.Config, error) {
	cfg, err := core.NewCfgxConfigProvider(containerConfigLoader{path: path, logger: logger}).Load(ctx, core.DefaultConfig())
	if err != nil {
		return core.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
