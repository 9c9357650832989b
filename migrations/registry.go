package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"strings"

	outbound "github.com/goliatone/go-outbound"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const (
	schemaRoot = "data/sql/migrations"
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Schema is the migration tree of the delivery ledger for one dialect.
// Versions lists the migration names without their up/down suffix, in apply
// order.
type Schema struct {
	Dialect  Dialect
	Path     string
	FS       fs.FS
	Versions []string
}

type RegisterFunc func(ctx context.Context, schema Schema) error

type Option func(*registerConfig)

type registerConfig struct {
	root     fs.FS
	dialects []Dialect
}

// WithDialects limits registration to the given dialects.
func WithDialects(dialects ...Dialect) Option {
	return func(c *registerConfig) {
		next := make([]Dialect, 0, len(dialects))
		for _, dialect := range dialects {
			normalized := Dialect(strings.ToLower(strings.TrimSpace(string(dialect))))
			if normalized != "" && !slices.Contains(next, normalized) {
				next = append(next, normalized)
			}
		}
		if len(next) > 0 {
			c.dialects = next
		}
	}
}

// WithRoot reads migrations from fsys instead of the embedded tree. fsys may
// hold data/sql/migrations or the .sql files directly.
func WithRoot(fsys fs.FS) Option {
	return func(c *registerConfig) {
		if fsys != nil {
			c.root = fsys
		}
	}
}

// Schemas resolves the postgres tree and its sqlite variant and checks that
// both carry the same up/down pairs.
func Schemas(root fs.FS) ([]Schema, error) {
	if root == nil {
		root = outbound.GetMigrationsFS()
	}
	base, basePath, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	schemas := []Schema{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: joinPath(basePath, "sqlite"), FS: sqliteFS},
	}
	for index := range schemas {
		versions, err := versions(schemas[index])
		if err != nil {
			return nil, err
		}
		schemas[index].Versions = versions
	}
	if !slices.Equal(schemas[0].Versions, schemas[1].Versions) {
		return nil, fmt.Errorf("migrations: postgres versions %v and sqlite versions %v differ",
			schemas[0].Versions, schemas[1].Versions)
	}
	return schemas, nil
}

// Register hands every selected dialect schema to fn, postgres first.
func Register(ctx context.Context, fn RegisterFunc, opts ...Option) ([]Schema, error) {
	if fn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	cfg := registerConfig{dialects: []Dialect{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	for _, dialect := range cfg.dialects {
		if dialect != DialectPostgres && dialect != DialectSQLite {
			return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
		}
	}

	schemas, err := Schemas(cfg.root)
	if err != nil {
		return nil, err
	}
	registered := make([]Schema, 0, len(cfg.dialects))
	for _, schema := range schemas {
		if !slices.Contains(cfg.dialects, schema.Dialect) {
			continue
		}
		if err := fn(ctx, schema); err != nil {
			return registered, fmt.Errorf("migrations: register %s (%s): %w", schema.Dialect, schema.Path, err)
		}
		registered = append(registered, schema)
	}
	return registered, nil
}

func versions(schema Schema) ([]string, error) {
	ups, err := fs.Glob(schema.FS, "*"+upSuffix)
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", schema.Dialect, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s tree %q has no %s files", schema.Dialect, schema.Path, upSuffix)
	}
	out := make([]string, 0, len(ups))
	for _, name := range ups {
		version := strings.TrimSuffix(name, upSuffix)
		if _, err := fs.Stat(schema.FS, version+downSuffix); err != nil {
			return nil, fmt.Errorf("migrations: %s %s has no down migration", schema.Dialect, version)
		}
		out = append(out, version)
	}
	sort.Strings(out)
	return out, nil
}

func resolveRoot(root fs.FS) (fs.FS, string, error) {
	if sub, err := fs.Sub(root, schemaRoot); err == nil {
		if _, statErr := fs.Stat(sub, "."); statErr == nil {
			if matches, _ := fs.Glob(sub, "*"+upSuffix); len(matches) > 0 {
				return sub, schemaRoot, nil
			}
		}
	}
	if matches, _ := fs.Glob(root, "*"+upSuffix); len(matches) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", schemaRoot)
}

func joinPath(base string, suffix string) string {
	if base == "." {
		return suffix
	}
	return strings.TrimSuffix(base, "/") + "/" + suffix
}
