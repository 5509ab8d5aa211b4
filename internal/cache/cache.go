// Package cache provides caching for rendered tiles and live chunks.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pyratiles/server/internal/octree"
)

// Config contains cache configuration.
type Config struct {
	TileCacheSizeMB int
	TileTTL         time.Duration
	ChunkCacheSize  int
}

// Manager holds the two cache tiers kept in memory: encoded PNG tiles in
// bigcache and live chunks in an LRU keyed by their ChunkKey. Evicting a
// chunk only drops this process's reference; the tree node owning it still
// holds its own.
type Manager struct {
	tileCache  *bigcache.BigCache
	chunkCache *lru.Cache[string, *octree.Chunk]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	tileCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.TileTTL,
		CleanWindow:        cfg.TileTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       100 * 1024, // 100KB per tile
		HardMaxCacheSize:   cfg.TileCacheSizeMB,
		Verbose:            false,
	}

	tileCache, err := bigcache.New(context.Background(), tileCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	chunkCache, err := lru.New[string, *octree.Chunk](cfg.ChunkCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk cache: %w", err)
	}

	return &Manager{
		tileCache:  tileCache,
		chunkCache: chunkCache,
	}, nil
}

// GetTile retrieves an encoded tile from cache.
func (m *Manager) GetTile(key string) ([]byte, bool) {
	data, err := m.tileCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetTile stores an encoded tile in cache.
func (m *Manager) SetTile(key string, data []byte) error {
	return m.tileCache.Set(key, data)
}

// GetChunk retrieves a live chunk by its composite key.
func (m *Manager) GetChunk(key octree.ChunkKey) (*octree.Chunk, bool) {
	return m.chunkCache.Get(key.String())
}

// SetChunk stores a live chunk under its composite key.
func (m *Manager) SetChunk(key octree.ChunkKey, c *octree.Chunk) {
	m.chunkCache.Add(key.String(), c)
}

// TileKey generates a cache key for a rendered tile. The colormap is part
// of the key because it changes the encoded bytes.
func TileKey(key octree.ChunkKey, colormap string) string {
	return fmt.Sprintf("tile:%s:%s", key.String(), colormap)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"tile_cache_len":  m.tileCache.Len(),
		"tile_cache_cap":  m.tileCache.Capacity(),
		"chunk_cache_len": m.chunkCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.tileCache.Close()
}
