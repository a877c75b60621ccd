// Package service provides migration business logic
package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/model"
	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/repository"
)

// Catalog is the result of one discovery pass
type Catalog struct {
	// All holds every recognized filename in discovery order
	All []string
	// BySource maps a source name to the filenames found directly in it
	BySource map[string][]string
	// Files holds the parsed migrations in discovery order
	Files []*model.MigrationFile
}

// ForSource returns the parsed migrations of one source
func (c *Catalog) ForSource(name string) []*model.MigrationFile {
	var files []*model.MigrationFile
	for _, f := range c.Files {
		if f.Source.Name == name {
			files = append(files, f)
		}
	}
	return files
}

// MigrationCatalog discovers migration files across the configured sources
type MigrationCatalog struct {
	sources []model.Source
	lister  repository.Lister
	pattern *regexp.Regexp
}

// NewMigrationCatalog creates a catalog over sources, listed in priority
// order. scriptExts are the extensions, with their dot, that run as scripts.
func NewMigrationCatalog(sources []model.Source, lister repository.Lister, scriptExts []string) *MigrationCatalog {
	return &MigrationCatalog{
		sources: sources,
		lister:  lister,
		pattern: filenamePattern(scriptExts),
	}
}

// filenamePattern matches YYYYMMDD[-N]-name.ext for .sql and the given
// script extensions.
func filenamePattern(scriptExts []string) *regexp.Regexp {
	exts := []string{"sql"}
	for _, ext := range scriptExts {
		ext = strings.TrimPrefix(ext, ".")
		if ext == "" || ext == "sql" {
			continue
		}
		exts = append(exts, regexp.QuoteMeta(ext))
	}
	sort.Strings(exts[1:])
	return regexp.MustCompile(`^\d{8}(-\d+)?-.*\.(` + strings.Join(exts, "|") + `)$`)
}

// Sources returns the configured sources in priority order
func (c *MigrationCatalog) Sources() []model.Source {
	return c.sources
}

// MigratableFiles keeps the names that are migrations: a valid date prefix,
// an optional counter and a recognized extension. Order is preserved.
func (c *MigrationCatalog) MigratableFiles(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if !c.pattern.MatchString(name) {
			continue
		}
		if _, err := model.ParseKey(name); err != nil {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Discover lists every source in priority order. Unrecognized names are
// dropped silently; a listing failure is a DiscoveryError.
func (c *MigrationCatalog) Discover(ctx context.Context) (*Catalog, error) {
	catalog := &Catalog{
		BySource: make(map[string][]string, len(c.sources)),
	}

	for _, src := range c.sources {
		names, err := c.lister.List(ctx, src.Path)
		if err != nil {
			return nil, &model.DiscoveryError{Source: src.Name, Path: src.Path, Err: err}
		}

		found := c.MigratableFiles(names)
		catalog.BySource[src.Name] = found
		catalog.All = append(catalog.All, found...)

		for _, name := range found {
			file, err := model.NewMigrationFile(name, src)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", name, err)
			}
			catalog.Files = append(catalog.Files, file)
		}
	}

	return catalog, nil
}

// Read returns the content of a discovered migration
func (c *MigrationCatalog) Read(ctx context.Context, file *model.MigrationFile) ([]byte, error) {
	return c.lister.Read(ctx, file.Source.Path, file.Filename)
}
