package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/goliatone/go-config/config"
	"github.com/goliatone/go-outbound/core"
	sqlstore "github.com/goliatone/go-outbound/store/sql"
	"github.com/joho/godotenv"
)

const (
	actionsLocal = "local"
	actionsHTTP  = "http"
)

type options struct {
	ConfigPath  string
	Driver      string
	DSN         string
	Actions     string
	BaseURL     string
	Token       string
	OrgID       string
	Projects    []string
	Once        bool
	MetricsAddr string
	PolicyTTL   time.Duration
	Debug       bool
}

func (o options) validate() error {
	switch o.Actions {
	case actionsLocal:
		if strings.TrimSpace(o.Driver) == "" || strings.TrimSpace(o.DSN) == "" {
			return fmt.Errorf("local actions need -driver and -dsn")
		}
		if len(o.Projects) == 0 {
			return fmt.Errorf("local actions need -projects")
		}
	case actionsHTTP:
		if strings.TrimSpace(o.BaseURL) == "" {
			return fmt.Errorf("http actions need -base-url")
		}
		if len(o.Projects) == 0 && strings.TrimSpace(o.OrgID) == "" {
			return fmt.Errorf("http actions need -projects or -org")
		}
	default:
		return fmt.Errorf("unknown actions mode %q", o.Actions)
	}
	return nil
}

const envPrefix = "OUTBOUND_"

// containerConfigLoader builds the raw map consumed by
// core.CfgxConfigProvider from a go-config container: the config file, when
// set, then OUTBOUND_* environment variables, later sources winning. Nested
// keys use a double underscore, so OUTBOUND_GUARDIAN__RISK_THRESHOLD sets
// guardian.risk_threshold.
type containerConfigLoader struct {
	path   string
	logger core.Logger
}

func (l containerConfigLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	cfg := core.DefaultConfig()
	providers := []config.ProviderBuilder[*core.Config]{}
	if path := strings.TrimSpace(l.path); path != "" {
		providers = append(providers, config.FileProvider[*core.Config](path))
	}
	providers = append(providers, config.EnvProvider[*core.Config](envPrefix, "__"))

	container := config.New(&cfg).
		WithConfigPath("").
		WithProvider(providers...)
	if l.logger != nil {
		container.WithLogger(l.logger)
	}
	if err := container.Load(ctx); err != nil {
		return nil, fmt.Errorf("load config %s: %w", l.path, err)
	}
	return container.K.Raw(), nil
}

var _ core.RawConfigLoader = containerConfigLoader{}

// processEnv holds the OUTBOUND_* variables used as flag defaults.
type processEnv struct {
	DBDriver string `koanf:"db_driver"`
	DBDSN    string `koanf:"db_dsn"`
	BaseURL  string `koanf:"base_url"`
	Token    string `koanf:"token"`
}

func (e *processEnv) Validate() error {
	switch strings.TrimSpace(e.DBDriver) {
	case "", sqlstore.DriverPostgres, sqlstore.DriverSQLite:
		return nil
	default:
		return fmt.Errorf("unsupported %sDB_DRIVER %q", envPrefix, e.DBDriver)
	}
}

// loadProcessEnv reads envFile into the environment when it exists and
// resolves the flag defaults from OUTBOUND_* variables.
func loadProcessEnv(ctx context.Context, envFile string, logger core.Logger) (processEnv, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return processEnv{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	env := processEnv{DBDriver: sqlstore.DriverPostgres}
	container := config.New(&env).
		WithConfigPath("").
		WithProvider(config.EnvProvider[*processEnv](envPrefix, "__"))
	if logger != nil {
		container.WithLogger(logger)
	}
	if err := container.Load(ctx); err != nil {
		return processEnv{}, err
	}
	if strings.TrimSpace(env.DBDriver) == "" {
		env.DBDriver = sqlstore.DriverPostgres
	}
	return env, nil
}

func splitList(value string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
