package footprint

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb"
)

// ChunkCache keeps decoded chunks in memory with LRU eviction.
//
// Reading and decoding a chunk file dominates indexed query latency, so
// an extractor serving repeated queries over the same region keeps the
// decoded feature slices around and evicts the least-recently-used
// chunks when the memory budget is exceeded.
//
// Memory estimation is approximate, based on feature count and geometry
// coordinate count.
//
// Example:
//
//	cache := footprint.NewChunkCache(256 * 1024 * 1024) // 256MB limit
//
//	features, err := cache.Get("0213", func() ([]Feature, error) {
//	    return footprint.ReadChunk("kenya_chunks", "0213")
//	})
type ChunkCache struct {
	maxMemory  int64 // Maximum memory in bytes
	usedMemory int64 // Current memory usage estimate
	chunks     map[string]*chunkCacheEntry
	lru        *list.List // LRU list (most recent at front)
	mu         sync.RWMutex
}

// chunkCacheEntry tracks a cached chunk and its metadata
type chunkCacheEntry struct {
	id           string
	features     []Feature
	memorySize   int64
	element      *list.Element // Position in LRU list
	lastAccessed time.Time
	accessCount  int
}

// NewChunkCache creates a cache with the specified memory limit in
// bytes.
//
// The limit is enforced approximately; usage may temporarily exceed it
// while a chunk is being loaded. Set to 0 for unlimited cache size.
func NewChunkCache(maxMemoryBytes int64) *ChunkCache {
	return &ChunkCache{
		maxMemory: maxMemoryBytes,
		chunks:    make(map[string]*chunkCacheEntry),
		lru:       list.New(),
	}
}

// Get retrieves a chunk from cache or loads it using the provided
// loader function.
//
// On a hit the chunk moves to the front of the LRU list. On a miss the
// loader runs and the result is cached for future access. If caching
// the chunk would exceed the memory limit, least-recently-used chunks
// are evicted first.
func (c *ChunkCache) Get(id string, loader func() ([]Feature, error)) ([]Feature, error) {
	// Fast path: check cache with read lock
	c.mu.RLock()
	if entry, ok := c.chunks[id]; ok {
		c.mu.RUnlock()

		// Update access metadata with write lock
		c.mu.Lock()
		entry.lastAccessed = time.Now()
		entry.accessCount++
		c.lru.MoveToFront(entry.element)
		c.mu.Unlock()

		return entry.features, nil
	}
	c.mu.RUnlock()

	// Cache miss - load chunk
	features, err := loader()
	if err != nil {
		return nil, fmt.Errorf("load chunk: %w", err)
	}

	// Add to cache; if that fails the caller still gets the chunk
	if err := c.Add(id, features); err != nil {
		return features, nil
	}

	return features, nil
}

// Add adds a chunk to the cache.
//
// If the cache is at capacity, least-recently-used chunks are evicted
// to make room. Returns an error if the chunk alone exceeds the memory
// limit.
func (c *ChunkCache) Add(id string, features []Feature) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Check if already cached
	if entry, ok := c.chunks[id]; ok {
		entry.features = features
		entry.lastAccessed = time.Now()
		entry.accessCount++
		c.lru.MoveToFront(entry.element)
		return nil
	}

	memSize := estimateChunkMemory(features)

	if c.maxMemory > 0 && memSize > c.maxMemory {
		return fmt.Errorf("chunk too large for cache (%d bytes > %d bytes max)",
			memSize, c.maxMemory)
	}

	// Evict until we have space
	if c.maxMemory > 0 {
		for c.usedMemory+memSize > c.maxMemory && c.lru.Len() > 0 {
			c.evictLRU()
		}
	}

	entry := &chunkCacheEntry{
		id:           id,
		features:     features,
		memorySize:   memSize,
		lastAccessed: time.Now(),
		accessCount:  1,
	}
	entry.element = c.lru.PushFront(entry)
	c.chunks[id] = entry
	c.usedMemory += memSize

	return nil
}

// evictLRU removes the least recently used chunk from cache.
// Must be called with c.mu locked.
func (c *ChunkCache) evictLRU() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}

	entry := elem.Value.(*chunkCacheEntry)
	c.lru.Remove(elem)
	delete(c.chunks, entry.id)
	c.usedMemory -= entry.memorySize
}

// Remove explicitly removes a chunk from the cache.
func (c *ChunkCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.chunks[id]; ok {
		c.lru.Remove(entry.element)
		delete(c.chunks, id)
		c.usedMemory -= entry.memorySize
	}
}

// Clear removes all chunks from the cache.
func (c *ChunkCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chunks = make(map[string]*chunkCacheEntry)
	c.lru.Init()
	c.usedMemory = 0
}

// Stats returns cache statistics.
func (c *ChunkCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	totalAccess := 0
	for _, entry := range c.chunks {
		totalAccess += entry.accessCount
	}

	return CacheStats{
		ChunkCount:  len(c.chunks),
		UsedMemory:  c.usedMemory,
		MaxMemory:   c.maxMemory,
		TotalAccess: totalAccess,
	}
}

// CacheStats holds cache performance metrics.
type CacheStats struct {
	ChunkCount  int   // Number of chunks currently cached
	UsedMemory  int64 // Estimated memory usage in bytes
	MaxMemory   int64 // Maximum memory limit in bytes
	TotalAccess int   // Total number of accesses across all cached chunks
}

// estimateChunkMemory estimates memory usage for a decoded chunk.
//
// This is approximate and based on:
//   - Base overhead: ~1KB per chunk
//   - Feature overhead: ~512 bytes per feature (properties, headers)
//   - Geometry coordinates: 16 bytes per coordinate pair
func estimateChunkMemory(features []Feature) int64 {
	size := int64(1024)
	size += int64(len(features)) * 512

	for _, f := range features {
		size += int64(geometryPoints(f.Geometry)) * 16
	}
	return size
}

// geometryPoints counts the coordinate pairs of a geometry.
func geometryPoints(g orb.Geometry) int {
	switch geom := g.(type) {
	case orb.Point:
		return 1
	case orb.MultiPoint:
		return len(geom)
	case orb.LineString:
		return len(geom)
	case orb.MultiLineString:
		n := 0
		for _, ls := range geom {
			n += len(ls)
		}
		return n
	case orb.Ring:
		return len(geom)
	case orb.Polygon:
		n := 0
		for _, r := range geom {
			n += len(r)
		}
		return n
	case orb.MultiPolygon:
		n := 0
		for _, p := range geom {
			for _, r := range p {
				n += len(r)
			}
		}
		return n
	case orb.Collection:
		n := 0
		for _, sub := range geom {
			n += geometryPoints(sub)
		}
		return n
	case orb.Bound:
		return 2
	}
	return 0
}
