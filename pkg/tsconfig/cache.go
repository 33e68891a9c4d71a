package tsconfig

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
)

// Loader parses a configuration, typically by asking the engine.
type Loader interface {
	LoadTsConfig(ctx context.Context, path string) (*File, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, path string) (*File, error)

// LoadTsConfig calls fn.
func (fn LoaderFunc) LoadTsConfig(ctx context.Context, path string) (*File, error) {
	return fn(ctx, path)
}

// Stats are cumulative cache counters.
type Stats struct {
	// Hits counts lookups served without loading a configuration.
	Hits int64
	// Loads counts configurations parsed through the Loader.
	Loads int64
}

// originCache holds the resolution state of one origin.
type originCache struct {
	mu          sync.Mutex
	settled     *sync.Cond // broadcast when a load finishes or the state resets
	initialized bool
	generation  uint64 // bumped on every reset; loads from an older one are discarded
	inflight    int
	original    []string
	pending     []string
	discovered  map[string]struct{}
	owners      map[string]*File // input path -> owner; nil records a miss.
}

func newOriginCache() *originCache {
	oc := &originCache{
		discovered: make(map[string]struct{}),
		owners:     make(map[string]*File),
	}
	oc.settled = sync.NewCond(&oc.mu)

	return oc
}

func (oc *originCache) resetLocked(paths []string) {
	oc.original = slices.Clone(paths)
	oc.resetOwnershipLocked()
}

func (oc *originCache) resetOwnershipLocked() {
	oc.generation++
	oc.pending = slices.Clone(oc.original)
	oc.discovered = make(map[string]struct{})
	oc.owners = make(map[string]*File)
	oc.settled.Broadcast()
}

// nextLocked pops the next configuration not yet visited and marks it visited.
func (oc *originCache) nextLocked() (string, bool) {
	for len(oc.pending) > 0 {
		cfgPath := oc.pending[0]
		oc.pending = oc.pending[1:]

		if _, seen := oc.discovered[cfgPath]; seen {
			continue
		}

		oc.discovered[cfgPath] = struct{}{}

		return cfgPath, true
	}

	return "", false
}

// claimLocked records cfg as owner of its files, first claim wins, and queues
// its unvisited references ahead of the remaining configurations.
func (oc *originCache) claimLocked(cfg *File) {
	for _, f := range cfg.files {
		if _, owned := oc.owners[f]; !owned {
			oc.owners[f] = cfg
		}
	}

	var refs []string

	for _, ref := range cfg.references {
		if _, seen := oc.discovered[ref]; seen || slices.Contains(oc.pending, ref) {
			continue
		}

		refs = append(refs, ref)
	}

	oc.pending = append(refs, oc.pending...)
}

// Cache maps input files to their owning configuration. It is shared between
// the analysis flow and the file watcher.
type Cache struct {
	loader  Loader
	logger  *slog.Logger
	warn    func(string)
	origins map[Origin]*originCache

	arenaMu sync.Mutex
	arena   map[string]*File

	traceMu sync.Mutex
	trace   []string

	active      atomic.Value // Origin
	depsChanged atomic.Bool
	hits        atomic.Int64
	loads       atomic.Int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// WithWarnings routes user-facing warnings to fn.
func WithWarnings(fn func(string)) CacheOption {
	return func(c *Cache) { c.warn = fn }
}

// NewCache creates an empty cache backed by loader.
func NewCache(loader Loader, opts ...CacheOption) *Cache {
	c := &Cache{
		loader:  loader,
		logger:  slog.Default(),
		warn:    func(string) {},
		origins: make(map[Origin]*originCache, len(Origins)),
		arena:   make(map[string]*File),
	}

	for _, origin := range Origins {
		c.origins[origin] = newOriginCache()
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetLoader replaces the loader. Already loaded configurations are kept.
func (c *Cache) SetLoader(loader Loader) {
	c.arenaMu.Lock()
	defer c.arenaMu.Unlock()

	c.loader = loader
}

// InitializeWith makes origin the active origin with the given configurations.
// An unchanged list keeps the existing resolution state; the fallback origin
// is only ever initialized once.
func (c *Cache) InitializeWith(origin Origin, paths []string) {
	oc := c.origins[origin]
	c.active.Store(origin)

	oc.mu.Lock()
	defer oc.mu.Unlock()

	if oc.initialized && (origin == OriginFallback || slices.Equal(oc.original, paths)) {
		return
	}

	oc.resetLocked(paths)
	oc.initialized = true
}

// Paths returns the configurations of origin, if the origin was initialized.
func (c *Cache) Paths(origin Origin) ([]string, bool) {
	oc := c.origins[origin]

	oc.mu.Lock()
	defer oc.mu.Unlock()

	if !oc.initialized {
		return nil, false
	}

	return slices.Clone(oc.original), true
}

// Active returns the origin last initialized, or an empty string.
func (c *Cache) Active() Origin {
	origin, _ := c.active.Load().(Origin)

	return origin
}

// Clear drops every resolution for origin so it is re-provided on next use.
func (c *Cache) Clear(origin Origin) {
	oc := c.origins[origin]

	oc.mu.Lock()
	defer oc.mu.Unlock()

	oc.initialized = false
	oc.resetLocked(nil)
}

// ConfigForFile returns the configuration owning path in the active origin,
// or nil when none claims it. Configurations whose directory contains the
// file are tried first, deepest first; the rest keep their list order.
func (c *Cache) ConfigForFile(ctx context.Context, path string) *File {
	origin := c.Active()
	if origin == "" {
		return nil
	}

	path = filepath.Clean(path)
	oc := c.origins[origin]

	oc.mu.Lock()
	defer oc.mu.Unlock()

	if owner, ok := oc.owners[path]; ok {
		c.hits.Add(1)

		return owner
	}

	prioritize(oc.pending, path)

	var trace []string

	defer func() { c.setTrace(trace) }()

	for {
		if owner, ok := oc.owners[path]; ok {
			return owner
		}

		cfgPath, ok := oc.nextLocked()
		if !ok {
			if oc.inflight == 0 {
				break
			}

			// Another lookup is still loading a configuration that may own path.
			oc.settled.Wait()

			continue
		}

		trace = append(trace, cfgPath)
		generation := oc.generation

		cfg, err := c.loadReleased(ctx, oc, cfgPath)
		if err != nil {
			continue
		}

		if generation != oc.generation {
			prioritize(oc.pending, path)

			continue
		}

		oc.claimLocked(cfg)
	}

	oc.owners[path] = nil

	return nil
}

// loadReleased loads path with oc.mu released so a slow loader does not stall
// event handling on the origin. oc.mu is held again on return.
func (c *Cache) loadReleased(ctx context.Context, oc *originCache, path string) (*File, error) {
	oc.inflight++
	oc.mu.Unlock()

	defer func() {
		oc.mu.Lock()
		oc.inflight--
		oc.settled.Broadcast()
	}()

	cfg, err := c.Load(ctx, path)
	if err != nil {
		c.logger.Debug("skipping tsconfig", "path", path, "error", err)
		c.warn(fmt.Sprintf("Failed to load tsconfig %s, it will be ignored", path))

		return nil, err
	}

	return cfg, nil
}

// prioritize moves configurations located above path to the front, deepest first.
func prioritize(pending []string, path string) {
	depth := func(cfg string) int {
		dir := filepath.Dir(cfg)
		if !containsDir(dir, path) {
			return -1
		}

		return len(dir)
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return depth(pending[i]) > depth(pending[j])
	})
}

// Load returns the configuration at path, parsing it at most once until it is
// invalidated.
func (c *Cache) Load(ctx context.Context, path string) (*File, error) {
	path = filepath.Clean(path)

	c.arenaMu.Lock()
	cfg, ok := c.arena[path]
	loader := c.loader
	c.arenaMu.Unlock()

	if ok {
		c.hits.Add(1)

		return cfg, nil
	}

	if loader == nil {
		return nil, fmt.Errorf("%w: no loader for %s", ErrConfigResolution, path)
	}

	c.loads.Add(1)

	loaded, err := loader.LoadTsConfig(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigResolution, path, err)
	}

	c.arenaMu.Lock()
	defer c.arenaMu.Unlock()

	if existing, dup := c.arena[path]; dup {
		return existing, nil
	}

	c.arena[path] = loaded

	return loaded, nil
}

// Stats returns the cumulative counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Loads: c.loads.Load()}
}

// Trace returns the configurations visited by the last resolution that had to load.
func (c *Cache) Trace() []string {
	c.traceMu.Lock()
	defer c.traceMu.Unlock()

	return slices.Clone(c.trace)
}

func (c *Cache) setTrace(trace []string) {
	c.traceMu.Lock()
	defer c.traceMu.Unlock()

	c.trace = trace
}

// ShouldClearDependencyCache reports whether a dependency manifest changed
// since the last call.
func (c *Cache) ShouldClearDependencyCache() bool {
	return c.depsChanged.Swap(false)
}

// DigestEvents applies file-system changes. Configuration changes invalidate
// the lookup origin and, when the configuration came from there, the property
// origin; resolution happens again lazily on the next lookup.
func (c *Cache) DigestEvents(events []host.FileEvent) {
	for _, ev := range events {
		name := filepath.Base(ev.Path)

		switch {
		case IsConfigName(name):
			c.digestConfigChange(filepath.Clean(ev.Path))
		case name == "package.json":
			c.depsChanged.Store(true)
		case ev.Kind == host.EventCreated && isSourceName(name):
			c.logger.Debug("new source file, clearing file ownership", "path", ev.Path)
			c.clearArena()

			for _, origin := range Origins {
				c.resetOwnership(origin)
			}
		}
	}
}

func (c *Cache) digestConfigChange(path string) {
	c.logger.Debug("tsconfig changed, invalidating", "path", path)
	c.invalidateArena(path)
	c.Clear(OriginLookup)

	prop := c.origins[OriginProperty]

	prop.mu.Lock()
	_, known := prop.discovered[path]
	known = known || slices.Contains(prop.original, path)
	prop.mu.Unlock()

	if known {
		c.Clear(OriginProperty)
	}
}

// invalidateArena drops path and every loaded configuration referencing it, transitively.
func (c *Cache) invalidateArena(path string) {
	c.arenaMu.Lock()
	defer c.arenaMu.Unlock()

	stale := []string{path}
	for len(stale) > 0 {
		target := stale[0]
		stale = stale[1:]

		if _, ok := c.arena[target]; !ok && target != path {
			continue
		}

		delete(c.arena, target)

		for cfgPath, cfg := range c.arena {
			if slices.Contains(cfg.references, target) {
				stale = append(stale, cfgPath)
			}
		}
	}
}

func (c *Cache) clearArena() {
	c.arenaMu.Lock()
	defer c.arenaMu.Unlock()

	c.arena = make(map[string]*File)
}

func (c *Cache) resetOwnership(origin Origin) {
	oc := c.origins[origin]

	oc.mu.Lock()
	defer oc.mu.Unlock()

	oc.resetOwnershipLocked()
}
