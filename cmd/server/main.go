// Package main is the entry point for the Pyratiles server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/pyratiles/server/internal/api"
	"github.com/pyratiles/server/internal/cache"
	"github.com/pyratiles/server/internal/config"
	"github.com/pyratiles/server/internal/data/tiledb"
	"github.com/pyratiles/server/internal/data/zarr"
	"github.com/pyratiles/server/internal/loader"
	"github.com/pyratiles/server/internal/render"
	"github.com/pyratiles/server/internal/service"
	"github.com/pyratiles/server/internal/tilestore"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting Pyratiles server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: cfg.Cache.TileSizeMB,
		TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		ChunkCacheSize:  cfg.Cache.ChunkLRUSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize persistent tile store (optional)
	var store *tilestore.Store
	if cfg.Cache.StorePath != "" {
		store, err = tilestore.Open(cfg.Cache.StorePath)
		if err != nil {
			log.Fatalf("Failed to open tile store: %v", err)
		}
		defer store.Close()
		if n, err := store.Len(); err == nil {
			log.Printf("Tile store: %s (%d tiles)", cfg.Cache.StorePath, n)
		}
	}

	// Initialize tile renderer (shared across all datasets)
	tileRenderer := render.NewTileRenderer(render.Config{
		TileSize:        cfg.Render.TileSize,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	// Initialize chunk loader (shared worker pool for prefetch)
	chunkLoader := loader.New()
	chunkLoader.Start(runtime.GOMAXPROCS(0))
	defer chunkLoader.Stop()

	// Initialize dataset registry
	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, cfg.Server.Title)

	log.Printf("Initializing %d dataset(s), default: %s", len(datasetIDs), cfg.Data.DefaultDataset)

	for _, datasetID := range datasetIDs {
		ds := cfg.Data.Datasets[datasetID]

		var (
			source service.Source
			meta   service.Meta
		)
		switch {
		case ds.ZarrPath != "":
			reader, err := zarr.NewReader(ds.ZarrPath)
			if err != nil {
				log.Fatalf("Failed to initialize Zarr reader for dataset %q: %v", datasetID, err)
			}
			defer reader.Close()
			source = reader
			meta = service.MetaFromZarr(reader.Metadata())
			log.Printf("  [%s] Zarr pyramid: %s (%d levels, %dx%d)",
				datasetID, ds.ZarrPath, meta.Levels, meta.Width, meta.Height)
		case ds.TileDBPath != "":
			reader, err := tiledb.NewReader(ds.TileDBPath)
			if err != nil {
				log.Fatalf("Failed to initialize TileDB reader for dataset %q: %v", datasetID, err)
			}
			defer reader.Close()
			if !reader.Supported() {
				log.Printf("  [%s] TileDB pyramid configured but tiledb support is not compiled in", datasetID)
			}
			source = reader
			meta = service.MetaFromTileDB(reader.Metadata())
			log.Printf("  [%s] TileDB pyramid: %s (%d levels, %dx%d)",
				datasetID, ds.TileDBPath, meta.Levels, meta.Width, meta.Height)
		default:
			log.Fatalf("Dataset %q has no zarr_path or tiledb_path", datasetID)
		}

		defaultColormap := ds.Colormap
		if defaultColormap == "" {
			defaultColormap = cfg.Render.DefaultColormap
		}

		tileService := service.NewTileService(service.Options{
			DatasetID:       datasetID,
			Source:          source,
			Meta:            meta,
			Cache:           cacheManager,
			Store:           store,
			Renderer:        tileRenderer,
			Loader:          chunkLoader,
			DefaultColormap: defaultColormap,
			CacheEnabled:    !cfg.Cache.Disabled,
			Prefetch:        cfg.Cache.Prefetch,
		})
		registry.Register(datasetID, tileService)
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
