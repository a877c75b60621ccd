// Package source lists and reads migration files from the places a source
// path can point at: local directories, any io/fs.FS, and S3 prefixes.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalLister reads migration directories from the local filesystem
type LocalLister struct{}

// NewLocalLister creates a local filesystem lister
func NewLocalLister() *LocalLister {
	return &LocalLister{}
}

// List returns the names of regular files directly inside dir, sorted by
// name. A directory that does not exist has no migrations.
func (l *LocalLister) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}
	return fileNames(entries), nil
}

// Read returns the content of name inside dir
func (l *LocalLister) Read(ctx context.Context, dir, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
	}
	return content, nil
}

// FSLister lists migrations from an io/fs.FS such as an embedded directory
type FSLister struct {
	fsys fs.FS
}

// NewFSLister creates a lister over fsys
func NewFSLister(fsys fs.FS) *FSLister {
	return &FSLister{fsys: fsys}
}

// List returns the names of regular files directly inside dir
func (l *FSLister) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(l.fsys, fsPath(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}
	return fileNames(entries), nil
}

// Read returns the content of name inside dir
func (l *FSLister) Read(ctx context.Context, dir, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := fs.ReadFile(l.fsys, path.Join(fsPath(dir), name))
	if err != nil {
		return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
	}
	return content, nil
}

func fsPath(dir string) string {
	p := path.Clean(filepath.ToSlash(dir))
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "."
	}
	return p
}

func fileNames(entries []fs.DirEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}
