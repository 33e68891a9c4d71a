package analysis

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
	"github.com/Sumatoshi-tech/jsbridge/pkg/persist"
)

// DefaultCPDCacheSize is the number of files whose tokens are kept.
const DefaultCPDCacheSize = 4096

const cpdStateName = "cpd-tokens"

// CacheStrategy tells whether a file needs the engine or can be served from cache.
type CacheStrategy int

const (
	// StrategyNoCache analyzes the file and stores nothing.
	StrategyNoCache CacheStrategy = iota
	// StrategyWriteOnly analyzes the file and stores its tokens.
	StrategyWriteOnly
	// StrategyReadAndWrite replays cached tokens without contacting the engine.
	StrategyReadAndWrite
)

func (s CacheStrategy) String() string {
	switch s {
	case StrategyNoCache:
		return "NO_CACHE"
	case StrategyWriteOnly:
		return "WRITE_ONLY"
	case StrategyReadAndWrite:
		return "READ_AND_WRITE"
	default:
		return "CacheStrategy(" + strconv.Itoa(int(s)) + ")"
	}
}

// AnalysisRequired reports whether the engine must see the file.
func (s CacheStrategy) AnalysisRequired() bool {
	return s != StrategyReadAndWrite
}

// CPDCache keeps duplication tokens keyed by file path and content hash.
type CPDCache struct {
	entries   *lru.Cache[string, []host.CPDToken]
	persister *persist.Persister[cpdState]
	hits      atomic.Int64
	misses    atomic.Int64
}

type cpdState struct {
	Entries []cpdEntry `json:"entries"`
}

type cpdEntry struct {
	Key    string          `json:"key"`
	Tokens []host.CPDToken `json:"tokens"`
}

// NewCPDCache creates a cache holding up to size files.
func NewCPDCache(size int) (*CPDCache, error) {
	if size <= 0 {
		size = DefaultCPDCacheSize
	}

	entries, err := lru.New[string, []host.CPDToken](size)
	if err != nil {
		return nil, fmt.Errorf("create cpd cache: %w", err)
	}

	return &CPDCache{
		entries:   entries,
		persister: persist.NewPersister[cpdState](cpdStateName, persist.NewLZ4Codec(nil)),
	}, nil
}

// CacheKey derives the cache key of a file version.
func CacheKey(path string, content []byte) string {
	return path + "#" + strconv.FormatUint(xxhash.Sum64(content), 16)
}

// Get returns the tokens cached for this file version.
func (c *CPDCache) Get(path string, content []byte) ([]host.CPDToken, bool) {
	tokens, ok := c.entries.Get(CacheKey(path, content))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}

	return tokens, ok
}

// Contains reports whether this file version is cached, without counting a
// lookup or refreshing its recency.
func (c *CPDCache) Contains(path string, content []byte) bool {
	return c.entries.Contains(CacheKey(path, content))
}

// Put stores the tokens of this file version.
func (c *CPDCache) Put(path string, content []byte, tokens []host.CPDToken) {
	c.entries.Add(CacheKey(path, content), tokens)
}

// Len returns the number of cached files.
func (c *CPDCache) Len() int {
	return c.entries.Len()
}

// Hits returns the number of successful lookups.
func (c *CPDCache) Hits() int64 {
	return c.hits.Load()
}

// Misses returns the number of failed lookups.
func (c *CPDCache) Misses() int64 {
	return c.misses.Load()
}

// StrategyFor picks the cache strategy of a file. Only unchanged files
// with a cached entry skip the engine, and only when the host allows it.
func (c *CPDCache) StrategyFor(file host.InputFile, canSkipUnchanged bool) (CacheStrategy, []host.CPDToken) {
	if c == nil {
		return StrategyNoCache, nil
	}

	if !canSkipUnchanged || file.Status != host.StatusSame {
		return StrategyWriteOnly, nil
	}

	content, err := file.ReadContent()
	if err != nil {
		return StrategyWriteOnly, nil
	}

	tokens, ok := c.Get(file.Path, content)
	if !ok {
		return StrategyWriteOnly, nil
	}

	return StrategyReadAndWrite, tokens
}

// Save writes the cache to dir, least recently used entries first.
func (c *CPDCache) Save(dir string) error {
	keys := c.entries.Keys()
	state := cpdState{Entries: make([]cpdEntry, 0, len(keys))}

	for _, key := range keys {
		tokens, ok := c.entries.Peek(key)
		if ok {
			state.Entries = append(state.Entries, cpdEntry{Key: key, Tokens: tokens})
		}
	}

	err := c.persister.Save(dir, &state)
	if err != nil {
		return fmt.Errorf("save cpd cache: %w", err)
	}

	return nil
}

// Load restores entries saved by Save. A missing cache is not an error.
func (c *CPDCache) Load(dir string) (int, error) {
	state, found, err := c.persister.Load(dir)
	if err != nil {
		return 0, fmt.Errorf("load cpd cache: %w", err)
	}

	if !found {
		return 0, nil
	}

	for _, entry := range state.Entries {
		c.entries.Add(entry.Key, entry.Tokens)
	}

	return len(state.Entries), nil
}
