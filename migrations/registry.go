// Package migrations hands the embedded credential, webhook event and audit
// migrations to a migration runner, one filesystem per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"strings"

	squarebff "github.com/goliatone/go-square-bff"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	defaultSourceLabel = "go-square-bff"
	rootPath           = "data/sql/migrations"
)

// Dialects lists the supported dialects in registration order.
var Dialects = []string{DialectPostgres, DialectSQLite}

// FilesystemSpec is the migration tree for one dialect.
type FilesystemSpec struct {
	Dialect  string
	Path     string
	FS       fs.FS
	Versions []string
}

type Registration struct {
	SourceLabel string
	// Targets limits registration to these dialects.
	Targets     []string
	Filesystems []FilesystemSpec
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithSourceLabel(label string) Option {
	return func(r *Registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.SourceLabel = trimmed
		}
	}
}

// WithValidationTargets restricts registration to the given dialects.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		next := normalizeDialects(targets)
		if len(next) > 0 {
			r.Targets = next
		}
	}
}

// Filesystems resolves the postgres tree and its sqlite sibling from root
// (the embedded tree by default) and checks that both dialects ship the
// same up/down pairs.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := squarebff.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}
	base, err := fs.Sub(root, rootPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: %s not found: %w", rootPath, err)
	}
	sqliteFS, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	specs := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: rootPath, FS: base},
		{Dialect: DialectSQLite, Path: rootPath + "/" + DialectSQLite, FS: sqliteFS},
	}
	for i := range specs {
		versions, err := pairedVersions(specs[i].FS)
		if err != nil {
			return nil, fmt.Errorf("migrations: %s: %w", specs[i].Dialect, err)
		}
		specs[i].Versions = versions
	}
	if !slices.Equal(specs[0].Versions, specs[1].Versions) {
		return nil, fmt.Errorf("migrations: dialects diverge: postgres %v, sqlite %v", specs[0].Versions, specs[1].Versions)
	}
	return specs, nil
}

// Register calls registerFn once per targeted dialect.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel: defaultSourceLabel,
		Targets:     slices.Clone(Dialects),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}
	for _, target := range reg.Targets {
		if !slices.Contains(Dialects, target) {
			return reg, fmt.Errorf("migrations: unsupported dialect %q", target)
		}
	}

	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems

	for _, spec := range filesystems {
		if !slices.Contains(reg.Targets, spec.Dialect) {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
	}
	return reg, nil
}

// pairedVersions returns the sorted migration names, failing when an up file
// has no down file or the reverse.
func pairedVersions(fsys fs.FS) ([]string, error) {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	downs, err := fs.Glob(fsys, "*.down.sql")
	if err != nil {
		return nil, err
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("no *.up.sql files")
	}
	upNames := trimSuffixes(ups, ".up.sql")
	downNames := trimSuffixes(downs, ".down.sql")
	for _, name := range upNames {
		if !slices.Contains(downNames, name) {
			return nil, fmt.Errorf("%s has no down migration", name)
		}
	}
	for _, name := range downNames {
		if !slices.Contains(upNames, name) {
			return nil, fmt.Errorf("%s has no up migration", name)
		}
	}
	return upNames, nil
}

func trimSuffixes(files []string, suffix string) []string {
	out := make([]string, 0, len(files))
	for _, file := range files {
		out = append(out, strings.TrimSuffix(file, suffix))
	}
	sort.Strings(out)
	return out
}

func normalizeDialects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		dialect := strings.ToLower(strings.TrimSpace(value))
		if dialect == "" || slices.Contains(out, dialect) {
			continue
		}
		out = append(out, dialect)
	}
	return out
}
