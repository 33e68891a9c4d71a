package tsconfig_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
	"github.com/Sumatoshi-tech/jsbridge/pkg/tsconfig"
)

// stubLoader serves configurations from a fixed table and counts calls.
type stubLoader struct {
	configs map[string]*tsconfig.File
	calls   atomic.Int32
}

func (s *stubLoader) LoadTsConfig(_ context.Context, path string) (*tsconfig.File, error) {
	s.calls.Add(1)

	cfg, ok := s.configs[path]
	if !ok {
		return nil, errors.New("no such tsconfig")
	}

	return cfg, nil
}

func newStub(files ...*tsconfig.File) *stubLoader {
	stub := &stubLoader{configs: make(map[string]*tsconfig.File)}
	for _, f := range files {
		stub.configs[f.Path()] = f
	}

	return stub
}

func TestCache_Load_Idempotent(t *testing.T) {
	t.Parallel()

	cfg := tsconfig.NewFile("/p/tsconfig.json", []string{"/p/a.ts"}, nil)
	stub := newStub(cfg)
	cache := tsconfig.NewCache(stub)
	ctx := context.Background()

	first, err := cache.Load(ctx, "/p/tsconfig.json")
	require.NoError(t, err)

	hitsBefore := cache.Stats().Hits

	for range 3 {
		again, loadErr := cache.Load(ctx, "/p/tsconfig.json")
		require.NoError(t, loadErr)
		assert.Same(t, first, again)

		hits := cache.Stats().Hits
		assert.GreaterOrEqual(t, hits, hitsBefore)
		hitsBefore = hits
	}

	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Equal(t, int64(1), cache.Stats().Loads)
}

func TestCache_ConfigForFile_ReferenceCycleTerminates(t *testing.T) {
	t.Parallel()

	a := tsconfig.NewFile("/p/a/tsconfig.json", []string{"/p/a/x.ts"}, []string{"/p/b/tsconfig.json"})
	b := tsconfig.NewFile("/p/b/tsconfig.json", []string{"/p/b/y.ts"}, []string{"/p/a/tsconfig.json"})
	cache := tsconfig.NewCache(newStub(a, b))
	cache.InitializeWith(tsconfig.OriginLookup, []string{"/p/a/tsconfig.json"})

	owner := cache.ConfigForFile(context.Background(), "/p/b/y.ts")
	require.NotNil(t, owner)
	assert.Equal(t, "/p/b/tsconfig.json", owner.Path())

	trace := cache.Trace()
	assert.ElementsMatch(t, []string{"/p/a/tsconfig.json", "/p/b/tsconfig.json"}, trace)
	assert.Len(t, trace, 2)

	assert.Nil(t, cache.ConfigForFile(context.Background(), "/p/c/z.ts"))
	assert.Empty(t, cache.Trace())
}

func TestCache_ConfigForFile_ClosestDirectoryFirst(t *testing.T) {
	t.Parallel()

	root := tsconfig.NewFile("/p/tsconfig.json", []string{"/p/sub/a.ts"}, nil)
	sub := tsconfig.NewFile("/p/sub/tsconfig.json", []string{"/p/sub/a.ts"}, nil)
	other := tsconfig.NewFile("/q/tsconfig.json", []string{"/p/sub/a.ts"}, nil)
	cache := tsconfig.NewCache(newStub(root, sub, other))
	cache.InitializeWith(tsconfig.OriginLookup, []string{"/q/tsconfig.json", "/p/tsconfig.json", "/p/sub/tsconfig.json"})

	owner := cache.ConfigForFile(context.Background(), "/p/sub/a.ts")
	require.NotNil(t, owner)
	assert.Equal(t, "/p/sub/tsconfig.json", owner.Path())
}

func TestCache_ConfigForFile_ListOrderWhenNoneAbove(t *testing.T) {
	t.Parallel()

	first := tsconfig.NewFile("/cfg/one.json", []string{"/src/a.ts"}, nil)
	second := tsconfig.NewFile("/cfg/two.json", []string{"/src/a.ts"}, nil)
	cache := tsconfig.NewCache(newStub(first, second))
	cache.InitializeWith(tsconfig.OriginProperty, []string{"/cfg/one.json", "/cfg/two.json"})

	owner := cache.ConfigForFile(context.Background(), "/src/a.ts")
	require.NotNil(t, owner)
	assert.Equal(t, "/cfg/one.json", owner.Path())
}

func TestCache_ConfigForFile_MissIsCached(t *testing.T) {
	t.Parallel()

	cfg := tsconfig.NewFile("/p/tsconfig.json", []string{"/p/a.ts"}, nil)
	stub := newStub(cfg)
	cache := tsconfig.NewCache(stub)
	cache.InitializeWith(tsconfig.OriginLookup, []string{"/p/tsconfig.json"})

	assert.Nil(t, cache.ConfigForFile(context.Background(), "/p/b.ts"))
	hits := cache.Stats().Hits

	assert.Nil(t, cache.ConfigForFile(context.Background(), "/p/b.ts"))
	assert.Equal(t, hits+1, cache.Stats().Hits)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestCache_ConfigForFile_LoaderFailureWarns(t *testing.T) {
	t.Parallel()

	var warnings []string

	cache := tsconfig.NewCache(newStub(), tsconfig.WithWarnings(func(msg string) { warnings = append(warnings, msg) }))
	cache.InitializeWith(tsconfig.OriginLookup, []string{"/p/tsconfig.json"})

	assert.Nil(t, cache.ConfigForFile(context.Background(), "/p/a.ts"))
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "/p/tsconfig.json")
}

func TestCache_ConfigForFile_NoActiveOrigin(t *testing.T) {
	t.Parallel()

	cache := tsconfig.NewCache(newStub())

	assert.Nil(t, cache.ConfigForFile(context.Background(), "/p/a.ts"))
}

func TestCache_InitializeWith_UnchangedKeepsState(t *testing.T) {
	t.Parallel()

	cfg := tsconfig.NewFile("/p/tsconfig.json", []string{"/p/a.ts"}, nil)
	stub := newStub(cfg)
	cache := tsconfig.NewCache(stub)
	ctx := context.Background()

	cache.InitializeWith(tsconfig.OriginLookup, []string{"/p/tsconfig.json"})
	require.NotNil(t, cache.ConfigForFile(ctx, "/p/a.ts"))

	cache.InitializeWith(tsconfig.OriginLookup, []string{"/p/tsconfig.json"})
	require.NotNil(t, cache.ConfigForFile(ctx, "/p/a.ts"))

	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestCache_InitializeWith_FallbackOnlyOnce(t *testing.T) {
	t.Parallel()

	cache := tsconfig.NewCache(newStub())
	cache.InitializeWith(tsconfig.OriginFallback, []string{"/tmp/one.json"})
	cache.InitializeWith(tsconfig.OriginFallback, []string{"/tmp/two.json"})

	paths, ok := cache.Paths(tsconfig.OriginFallback)
	require.True(t, ok)
	assert.Equal(t, []string{"/tmp/one.json"}, paths)
}

func TestCache_DigestEvents_TsConfigChangeClearsLookup(t *testing.T) {
	t.Parallel()

	cache := tsconfig.NewCache(newStub())
	cache.InitializeWith(tsconfig.OriginProperty, []string{"/p/custom.json"})
	cache.InitializeWith(tsconfig.OriginLookup, []string{"/p/tsconfig.json"})

	cache.DigestEvents([]host.FileEvent{{Path: "/p/other/tsconfig.app.json", Kind: host.EventModified}})

	_, lookupOK := cache.Paths(tsconfig.OriginLookup)
	assert.False(t, lookupOK)

	_, propertyOK := cache.Paths(tsconfig.OriginProperty)
	assert.True(t, propertyOK)

	cache.DigestEvents([]host.FileEvent{{Path: "/p/custom.json", Kind: host.EventModified}})

	_, propertyOK = cache.Paths(tsconfig.OriginProperty)
	assert.True(t, propertyOK, "custom.json is not a tsconfig-named file")

	cache.InitializeWith(tsconfig.OriginProperty, []string{"/p/tsconfig.base.json"})
	cache.DigestEvents([]host.FileEvent{{Path: "/p/tsconfig.base.json", Kind: host.EventDeleted}})

	_, propertyOK = cache.Paths(tsconfig.OriginProperty)
	assert.False(t, propertyOK)
}

func TestCache_DigestEvents_ReloadsChangedConfig(t *testing.T) {
	t.Parallel()

	base := tsconfig.NewFile("/p/tsconfig.base.json", nil, nil)
	app := tsconfig.NewFile("/p/tsconfig.json", []string{"/p/a.ts"}, []string{"/p/tsconfig.base.json"})
	unrelated := tsconfig.NewFile("/q/tsconfig.json", []string{"/q/b.ts"}, nil)
	stub := newStub(base, app, unrelated)
	cache := tsconfig.NewCache(stub)
	ctx := context.Background()

	for _, p := range []string{"/p/tsconfig.base.json", "/p/tsconfig.json", "/q/tsconfig.json"} {
		_, err := cache.Load(ctx, p)
		require.NoError(t, err)
	}

	cache.DigestEvents([]host.FileEvent{{Path: "/p/tsconfig.base.json", Kind: host.EventModified}})

	loads := cache.Stats().Loads

	_, err := cache.Load(ctx, "/q/tsconfig.json")
	require.NoError(t, err)
	assert.Equal(t, loads, cache.Stats().Loads)

	_, err = cache.Load(ctx, "/p/tsconfig.json")
	require.NoError(t, err)
	assert.Equal(t, loads+1, cache.Stats().Loads)
}

func TestCache_DigestEvents_DependencyFlagConsumedOnce(t *testing.T) {
	t.Parallel()

	cache := tsconfig.NewCache(newStub())
	cache.InitializeWith(tsconfig.OriginLookup, []string{"/p/tsconfig.json"})

	assert.False(t, cache.ShouldClearDependencyCache())

	cache.DigestEvents([]host.FileEvent{{Path: "/p/package.json", Kind: host.EventModified}})

	_, lookupOK := cache.Paths(tsconfig.OriginLookup)
	assert.True(t, lookupOK)
	assert.True(t, cache.ShouldClearDependencyCache())
	assert.False(t, cache.ShouldClearDependencyCache())
}

func TestCache_DigestEvents_CreatedSourceResetsOwnership(t *testing.T) {
	t.Parallel()

	before := tsconfig.NewFile("/p/tsconfig.json", []string{"/p/a.ts"}, nil)
	stub := newStub(before)
	cache := tsconfig.NewCache(stub)
	ctx := context.Background()
	cache.InitializeWith(tsconfig.OriginLookup, []string{"/p/tsconfig.json"})

	assert.Nil(t, cache.ConfigForFile(ctx, "/p/new.ts"))

	stub.configs["/p/tsconfig.json"] = tsconfig.NewFile("/p/tsconfig.json", []string{"/p/a.ts", "/p/new.ts"}, nil)
	cache.DigestEvents([]host.FileEvent{{Path: "/p/new.ts", Kind: host.EventCreated}})

	owner := cache.ConfigForFile(ctx, "/p/new.ts")
	require.NotNil(t, owner)
	assert.True(t, owner.Contains("/p/new.ts"))
}

func TestCache_ConcurrentLookupsAndEvents(t *testing.T) {
	t.Parallel()

	cfg := tsconfig.NewFile("/p/tsconfig.json", []string{"/p/a.ts"}, nil)
	cache := tsconfig.NewCache(newStub(cfg))
	cache.InitializeWith(tsconfig.OriginLookup, []string{"/p/tsconfig.json"})

	var wg sync.WaitGroup

	for i := range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 50 {
				if i%2 == 0 {
					cache.ConfigForFile(context.Background(), "/p/a.ts")
				} else {
					cache.DigestEvents([]host.FileEvent{{Path: "/p/b.ts", Kind: host.EventCreated}})
				}
			}
		}()
	}

	wg.Wait()

	assert.NotNil(t, cache.ConfigForFile(context.Background(), "/p/a.ts"))
}

// gatedLoader blocks every load until release is closed.
type gatedLoader struct {
	cfg     *tsconfig.File
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newGated(cfg *tsconfig.File) *gatedLoader {
	return &gatedLoader{cfg: cfg, entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gatedLoader) LoadTsConfig(ctx context.Context, _ string) (*tsconfig.File, error) {
	g.calls.Add(1)
	g.entered <- struct{}{}

	select {
	case <-g.release:
		return g.cfg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCache_ConfigForFile_SlowLoaderDoesNotBlockEvents(t *testing.T) {
	t.Parallel()

	gated := newGated(tsconfig.NewFile("/p/tsconfig.json", []string{"/p/a.ts"}, nil))
	cache := tsconfig.NewCache(gated)
	cache.InitializeWith(tsconfig.OriginProperty, []string{"/p/tsconfig.json"})

	result := make(chan *tsconfig.File, 1)

	go func() { result <- cache.ConfigForFile(context.Background(), "/p/a.ts") }()

	<-gated.entered

	handled := make(chan struct{})

	go func() {
		cache.DigestEvents([]host.FileEvent{{Path: "/p/package.json", Kind: host.EventModified}})
		cache.Clear(tsconfig.OriginProperty)
		close(handled)
	}()

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("events were blocked by an in-flight tsconfig load")
	}

	close(gated.release)

	// The origin was cleared mid-load, so the stale result is not applied.
	assert.Nil(t, <-result)
	assert.True(t, cache.ShouldClearDependencyCache())
}

func TestCache_ConfigForFile_ConcurrentLookupsShareOneLoad(t *testing.T) {
	t.Parallel()

	cfg := tsconfig.NewFile("/p/tsconfig.json", []string{"/p/a.ts", "/p/b.ts"}, nil)
	gated := newGated(cfg)
	cache := tsconfig.NewCache(gated)
	cache.InitializeWith(tsconfig.OriginLookup, []string{"/p/tsconfig.json"})

	first := make(chan *tsconfig.File, 1)
	second := make(chan *tsconfig.File, 1)

	go func() { first <- cache.ConfigForFile(context.Background(), "/p/a.ts") }()

	<-gated.entered

	go func() { second <- cache.ConfigForFile(context.Background(), "/p/b.ts") }()

	close(gated.release)

	assert.Same(t, cfg, <-first)
	assert.Same(t, cfg, <-second)
	assert.Equal(t, int32(1), gated.calls.Load())
}

func TestFile_Immutable(t *testing.T) {
	t.Parallel()

	files := []string{"/p/a.ts"}
	cfg := tsconfig.NewFile("/p/tsconfig.json", files, nil)
	files[0] = "/p/changed.ts"

	got := cfg.Files()
	got[0] = "/p/mutated.ts"

	assert.Equal(t, []string{"/p/a.ts"}, cfg.Files())
	assert.True(t, cfg.Contains("/p/a.ts"))
}
