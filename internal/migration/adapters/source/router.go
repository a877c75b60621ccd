package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/linkflow-ai/dbmigrate/internal/migration/domain/repository"
)

// Router dispatches to the lister registered for a path's scheme and falls
// back to a default for plain paths.
type Router struct {
	schemes  map[string]repository.Lister
	fallback repository.Lister
}

// NewRouter creates a router that sends plain paths to fallback
func NewRouter(fallback repository.Lister) *Router {
	return &Router{
		schemes:  make(map[string]repository.Lister),
		fallback: fallback,
	}
}

// Handle registers l for paths starting with scheme, e.g. "s3://"
func (r *Router) Handle(scheme string, l repository.Lister) *Router {
	r.schemes[scheme] = l
	return r
}

func (r *Router) route(path string) (repository.Lister, error) {
	for scheme, l := range r.schemes {
		if strings.HasPrefix(path, scheme) {
			return l, nil
		}
	}
	if i := strings.Index(path, "://"); i > 0 {
		return nil, fmt.Errorf("no lister for scheme %q", path[:i+3])
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("no lister for path %q", path)
	}
	return r.fallback, nil
}

// List implements repository.Lister
func (r *Router) List(ctx context.Context, path string) ([]string, error) {
	l, err := r.route(path)
	if err != nil {
		return nil, err
	}
	return l.List(ctx, path)
}

// Read implements repository.Lister
func (r *Router) Read(ctx context.Context, path, name string) ([]byte, error) {
	l, err := r.route(path)
	if err != nil {
		return nil, err
	}
	return l.Read(ctx, path, name)
}
