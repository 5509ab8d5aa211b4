package service

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/pyratiles/server/internal/cache"
	"github.com/pyratiles/server/internal/data/zarr"
	"github.com/pyratiles/server/internal/loader"
	"github.com/pyratiles/server/internal/render"
	"github.com/pyratiles/server/internal/tilestore"
)

func writeTestStore(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	fill := 0.0
	w, err := zarr.CreateStore(dir, zarr.WriterOptions{
		Name:      "test",
		Levels:    2,
		TileSize:  4,
		Width:     8,
		Height:    8,
		DataType:  "uint8",
		VMin:      0,
		VMax:      255,
		FillValue: &fill,
	})
	if err != nil {
		t.Fatalf("CreateStore failed: %v", err)
	}
	defer w.Close()

	tile := make([]float32, 16)
	for i := range tile {
		tile[i] = float32(i * 10)
	}
	if err := w.WriteTile(0, 0, 0, tile); err != nil {
		t.Fatalf("WriteTile failed: %v", err)
	}
	return dir
}

func newTestService(t *testing.T, store *tilestore.Store, cacheEnabled bool) *TileService {
	t.Helper()

	reader, err := zarr.NewReader(writeTestStore(t))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	t.Cleanup(reader.Close)

	mgr, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: 8,
		TileTTL:         time.Minute,
		ChunkCacheSize:  32,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	return NewTileService(Options{
		DatasetID:    "test",
		Source:       reader,
		Meta:         MetaFromZarr(reader.Metadata()),
		Cache:        mgr,
		Store:        store,
		Renderer:     render.NewTileRenderer(render.Config{TileSize: 4, DefaultColormap: "gray"}),
		Loader:       loader.New(),
		CacheEnabled: cacheEnabled,
	})
}

func TestGetTileRendersPNG(t *testing.T) {
	s := newTestService(t, nil, true)

	data, err := s.GetTile(context.Background(), 0, 0, 0, "gray")
	if err != nil {
		t.Fatalf("GetTile failed: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("response is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Fatalf("unexpected tile bounds: %v", img.Bounds())
	}
}

func TestGetTileCachesResult(t *testing.T) {
	s := newTestService(t, nil, true)

	first, err := s.GetTile(context.Background(), 0, 0, 0, "gray")
	if err != nil {
		t.Fatalf("first GetTile failed: %v", err)
	}
	second, err := s.GetTile(context.Background(), 0, 0, 0, "gray")
	if err != nil {
		t.Fatalf("second GetTile failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("cached tile differs from rendered tile")
	}
}

func TestGetTileOutOfGridReturnsEmptyTile(t *testing.T) {
	s := newTestService(t, nil, true)

	data, err := s.GetTile(context.Background(), 0, 9, 9, "gray")
	if err != nil {
		t.Fatalf("GetTile failed: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("response is not a PNG: %v", err)
	}
	_, _, _, a := img.At(0, 0).RGBA()
	if a != 0 {
		t.Fatal("expected transparent empty tile")
	}
}

func TestGetTileBadLevel(t *testing.T) {
	s := newTestService(t, nil, true)

	if _, err := s.GetTile(context.Background(), 5, 0, 0, "gray"); !errors.Is(err, ErrLevelOutOfRange) {
		t.Fatalf("expected ErrLevelOutOfRange, got %v", err)
	}
}

func TestGetTileWithoutCacheClearsChunk(t *testing.T) {
	s := newTestService(t, nil, false)

	if _, err := s.GetTile(context.Background(), 0, 0, 0, "gray"); err != nil {
		t.Fatalf("GetTile failed: %v", err)
	}

	// With caching off nothing should be retained between requests.
	stats := s.Stats()
	if stats["chunk_cache_len"].(int) != 0 {
		t.Fatalf("expected empty chunk cache, got %v", stats["chunk_cache_len"])
	}
	if stats["tile_cache_len"].(int) != 0 {
		t.Fatalf("expected empty tile cache, got %v", stats["tile_cache_len"])
	}
}

func TestGetTilePersistsToStore(t *testing.T) {
	store, err := tilestore.Open(filepath.Join(t.TempDir(), "tiles.sqlite"))
	if err != nil {
		t.Fatalf("tilestore.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s := newTestService(t, store, true)

	data, err := s.GetTile(context.Background(), 0, 0, 0, "gray")
	if err != nil {
		t.Fatalf("GetTile failed: %v", err)
	}

	n, err := store.Len()
	if err != nil {
		t.Fatalf("store.Len failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one persisted tile, got %d", n)
	}

	// A fresh service over the same store should serve the persisted bytes.
	s2 := newTestService(t, store, true)
	got, err := s2.GetTile(context.Background(), 0, 0, 0, "gray")
	if err != nil {
		t.Fatalf("GetTile from store failed: %v", err)
	}
	if !bytes.Equal(data, got) {
		t.Fatal("persisted tile differs from rendered tile")
	}
}
