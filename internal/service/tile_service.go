// Package service implements the tile pipeline: resolve the chunk for a
// tile request, load its pixels through the loader, render a PNG, and keep
// the caches warm.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/pyratiles/server/internal/cache"
	"github.com/pyratiles/server/internal/data/tiledb"
	"github.com/pyratiles/server/internal/data/zarr"
	"github.com/pyratiles/server/internal/loader"
	"github.com/pyratiles/server/internal/octree"
	"github.com/pyratiles/server/internal/render"
	"github.com/pyratiles/server/internal/tilestore"
)

// ErrLevelOutOfRange indicates a request for a pyramid level the dataset
// does not have.
var ErrLevelOutOfRange = errors.New("level out of range")

// Source provides pyramid structure and deferred tile reads. Both the
// Zarr and TileDB readers satisfy it.
type Source interface {
	Levels() []octree.Level
	Level(index int) (octree.Level, error)
	TileRef(level, row, col int) (octree.DeferredRef, error)
}

// Meta describes the served dataset, independent of the backing store.
type Meta struct {
	Name     string  `json:"name"`
	Levels   int     `json:"levels"`
	TileSize int     `json:"tile_size"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	DataType string  `json:"data_type"`
	VMin     float64 `json:"vmin"`
	VMax     float64 `json:"vmax"`
}

// MetaFromZarr adapts Zarr store metadata.
func MetaFromZarr(md *zarr.Metadata) Meta {
	return Meta{
		Name:     md.Name,
		Levels:   md.Levels,
		TileSize: md.TileSize,
		Width:    md.Width,
		Height:   md.Height,
		DataType: md.DataType,
		VMin:     md.VMin,
		VMax:     md.VMax,
	}
}

// MetaFromTileDB adapts TileDB group metadata.
func MetaFromTileDB(md *tiledb.Metadata) Meta {
	return Meta{
		Name:     md.Name,
		Levels:   md.Levels,
		TileSize: md.TileSize,
		Width:    md.Width,
		Height:   md.Height,
		DataType: md.DataType,
		VMin:     md.VMin,
		VMax:     md.VMax,
	}
}

// Options configures a TileService.
type Options struct {
	DatasetID string
	Source    Source
	Meta      Meta
	Cache     *cache.Manager
	Store     *tilestore.Store // optional persistent tier, may be nil
	Renderer  *render.TileRenderer
	Loader    *loader.Loader

	// SliceID and Index pin the 2D plane this service serves out of the
	// source array. A nil Index means the whole array.
	SliceID int
	Index   octree.IndexTuple

	DefaultColormap string
	CacheEnabled    bool
	Prefetch        bool
}

// TileService serves rendered tiles for one dataset.
type TileService struct {
	datasetID string
	source    Source
	meta      Meta
	cache     *cache.Manager
	store     *tilestore.Store
	renderer  *render.TileRenderer
	loader    *loader.Loader

	sliceID int
	index   octree.IndexTuple

	defaultColormap string
	cacheEnabled    bool
	prefetch        bool
}

// NewTileService creates a tile service for one dataset.
func NewTileService(opts Options) *TileService {
	cm := opts.DefaultColormap
	if cm == "" {
		cm = "gray"
	}
	return &TileService{
		datasetID:       opts.DatasetID,
		source:          opts.Source,
		meta:            opts.Meta,
		cache:           opts.Cache,
		store:           opts.Store,
		renderer:        opts.Renderer,
		loader:          opts.Loader,
		sliceID:         opts.SliceID,
		index:           opts.Index,
		defaultColormap: cm,
		cacheEnabled:    opts.CacheEnabled,
		prefetch:        opts.Prefetch,
	}
}

// Metadata returns the dataset metadata.
func (s *TileService) Metadata() Meta {
	return s.meta
}

// Levels returns the pyramid levels.
func (s *TileService) Levels() []octree.Level {
	return s.source.Levels()
}

// GetTile returns the PNG tile at the given pyramid coordinate. Requests
// outside the level's grid get an empty transparent tile.
func (s *TileService) GetTile(ctx context.Context, level, row, col int, colormapName string) ([]byte, error) {
	lv, err := s.source.Level(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrLevelOutOfRange, level)
	}
	if !lv.Contains(row, col) {
		return s.renderer.CreateEmptyTile()
	}

	if colormapName == "" {
		colormapName = s.defaultColormap
	}

	loc := octree.Location{SliceID: s.sliceID, LevelIndex: level, Row: row, Col: col}
	key := octree.NewChunkKey(s.datasetID, s.index, loc)
	tileKey := cache.TileKey(key, colormapName)

	if s.cacheEnabled {
		if data, ok := s.cache.GetTile(tileKey); ok {
			return data, nil
		}
		if s.store != nil {
			data, ok, err := s.store.Get(s.datasetID, tileKey)
			if err != nil {
				log.Printf("tile store read failed for %s: %v", tileKey, err)
			} else if ok {
				if err := s.cache.SetTile(tileKey, data); err != nil {
					log.Printf("failed to cache tile %s: %v", tileKey, err)
				}
				return data, nil
			}
		}
	}

	chunk, err := s.resolveChunk(key, loc, lv)
	if err != nil {
		return nil, err
	}

	if err := s.loader.Load(ctx, chunk); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", chunk, err)
	}

	m, ok := chunk.Materialized()
	if !ok {
		// Load returned success, so this cannot happen unless a
		// concurrent Clear raced us. Treat it as a transient miss.
		return s.renderer.CreateEmptyTile()
	}

	data, err := s.renderer.RenderChunk(m, lv.TileSize, s.meta.VMin, s.meta.VMax, colormapName)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", chunk, err)
	}

	if s.cacheEnabled {
		if err := s.cache.SetTile(tileKey, data); err != nil {
			log.Printf("failed to cache tile %s: %v", tileKey, err)
		}
		if s.store != nil {
			if err := s.store.Put(s.datasetID, tileKey, data); err != nil {
				log.Printf("failed to persist tile %s: %v", tileKey, err)
			}
		}
	} else {
		// Without the cache every visit recomputes, so drop the pixels.
		s.loader.Clear(chunk)
	}

	if s.prefetch {
		s.prefetchNeighbors(lv, level, row, col)
	}

	return data, nil
}

// resolveChunk finds the live chunk for a key, creating and registering it
// on first sight. With caching disabled every request gets a fresh chunk.
func (s *TileService) resolveChunk(key octree.ChunkKey, loc octree.Location, lv octree.Level) (*octree.Chunk, error) {
	if s.cacheEnabled {
		if c, ok := s.cache.GetChunk(key); ok {
			return c, nil
		}
	}

	ref, err := s.source.TileRef(loc.LevelIndex, loc.Row, loc.Col)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", loc, err)
	}

	c := octree.NewChunk(ref, loc, octree.NewGeometry(loc, lv))
	if s.cacheEnabled {
		s.cache.SetChunk(key, c)
	}
	return c, nil
}

// prefetchNeighbors queues the four in-grid neighbors for background
// loading. Best effort: a full queue just skips them.
func (s *TileService) prefetchNeighbors(lv octree.Level, level, row, col int) {
	neighbors := [][2]int{
		{row - 1, col},
		{row + 1, col},
		{row, col - 1},
		{row, col + 1},
	}
	for _, n := range neighbors {
		if !lv.Contains(n[0], n[1]) {
			continue
		}
		loc := octree.Location{SliceID: s.sliceID, LevelIndex: level, Row: n[0], Col: n[1]}
		key := octree.NewChunkKey(s.datasetID, s.index, loc)
		c, err := s.resolveChunk(key, loc, lv)
		if err != nil {
			continue
		}
		s.loader.Prefetch(c)
	}
}

// Stats returns cache statistics for this dataset's shared cache tiers.
func (s *TileService) Stats() map[string]interface{} {
	stats := s.cache.Stats()
	stats["dataset"] = s.datasetID
	stats["cache_enabled"] = s.cacheEnabled
	if s.store != nil {
		if n, err := s.store.Len(); err == nil {
			stats["store_tiles"] = n
		}
	}
	return stats
}
