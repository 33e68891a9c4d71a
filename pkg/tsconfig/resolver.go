package tsconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Resolution is the outcome of resolving configurations for a session.
type Resolution struct {
	Origin Origin
	Paths  []string
	// TypeChecking is false when type-aware analysis is off for the session.
	TypeChecking bool
}

// Resolver picks the first origin yielding configurations and seeds the cache with it.
type Resolver struct {
	cache     *Cache
	providers []Provider
	logger    *slog.Logger
}

// NewResolver creates a resolver trying providers in order.
func NewResolver(cache *Cache, logger *slog.Logger, providers ...Provider) *Resolver {
	return &Resolver{cache: cache, providers: providers, logger: logger}
}

// Cache returns the underlying cache.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve returns the configurations for the session. Origins already
// initialized in the cache are reused without calling their provider again.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	for _, provider := range r.providers {
		origin := provider.Origin()

		paths, cached := r.cache.Paths(origin)
		if !cached {
			provided, err := provider.Provide(ctx, req)

			switch {
			case errors.Is(err, ErrTypeCheckingDisabled):
				return Resolution{Origin: origin}, nil
			case err != nil:
				return Resolution{}, fmt.Errorf("resolve %s tsconfigs: %w", origin, err)
			}

			paths = provided

			if len(paths) > 0 || origin != OriginFallback {
				r.cache.InitializeWith(origin, paths)
			}
		}

		if len(paths) == 0 {
			continue
		}

		r.cache.InitializeWith(origin, paths)
		r.logger.Debug("resolved tsconfigs", "origin", origin, "count", len(paths))

		return Resolution{Origin: origin, Paths: paths, TypeChecking: true}, nil
	}

	return Resolution{TypeChecking: true}, nil
}
