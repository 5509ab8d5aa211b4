package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pyratiles/server/internal/cache"
	"github.com/pyratiles/server/internal/data/zarr"
	"github.com/pyratiles/server/internal/loader"
	"github.com/pyratiles/server/internal/render"
	"github.com/pyratiles/server/internal/service"
)

// setupTestServer builds a router over a small generated pyramid.
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	dir := t.TempDir()
	fill := 0.0
	w, err := zarr.CreateStore(dir, zarr.WriterOptions{
		Name:      "demo",
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
	if err := w.WriteTile(0, 0, 0, make([]float32, 16)); err != nil {
		t.Fatalf("WriteTile failed: %v", err)
	}
	w.Close()

	reader, err := zarr.NewReader(dir)
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

	svc := service.NewTileService(service.Options{
		DatasetID:    "demo",
		Source:       reader,
		Meta:         service.MetaFromZarr(reader.Metadata()),
		Cache:        mgr,
		Renderer:     render.NewTileRenderer(render.Config{TileSize: 4, DefaultColormap: "gray"}),
		Loader:       loader.New(),
		CacheEnabled: true,
	})

	registry := NewDatasetRegistry("demo", []string{"demo"}, "")
	registry.Register("demo", svc)

	router := NewRouter(RouterConfig{
		Registry:    registry,
		CORSOrigins: []string{"*"},
	})

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("GET %s: bad JSON: %v", url, err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

func TestDatasetsEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	var body struct {
		Default  string        `json:"default"`
		Datasets []DatasetInfo `json:"datasets"`
	}
	getJSON(t, ts.URL+"/api/datasets", &body)

	if body.Default != "demo" {
		t.Fatalf("unexpected default dataset %q", body.Default)
	}
	if len(body.Datasets) != 1 || body.Datasets[0].ID != "demo" {
		t.Fatalf("unexpected datasets: %+v", body.Datasets)
	}
}

func TestTileEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/d/demo/tiles/0/0/0.png?colormap=viridis")
	if err != nil {
		t.Fatalf("GET tile failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if len(data) < 8 || string(data[1:4]) != "PNG" {
		t.Fatal("response is not a PNG")
	}
}

func TestTileEndpointBadLevel(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/d/demo/tiles/9/0/0.png")
	if err != nil {
		t.Fatalf("GET tile failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for bad level, got %d", resp.StatusCode)
	}
}

func TestUnknownDataset(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/d/nope/api/metadata")
	if err != nil {
		t.Fatalf("GET metadata failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown dataset, got %d", resp.StatusCode)
	}
}

func TestMetadataAndLevels(t *testing.T) {
	ts := setupTestServer(t)

	var md struct {
		Name     string `json:"name"`
		Levels   int    `json:"levels"`
		TileSize int    `json:"tile_size"`
	}
	getJSON(t, ts.URL+"/d/demo/api/metadata", &md)
	if md.Name != "demo" || md.Levels != 2 || md.TileSize != 4 {
		t.Fatalf("unexpected metadata: %+v", md)
	}

	var lv struct {
		Levels []struct {
			Index int `json:"index"`
			Rows  int `json:"rows"`
			Cols  int `json:"cols"`
		} `json:"levels"`
	}
	getJSON(t, ts.URL+"/d/demo/api/levels", &lv)
	if len(lv.Levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(lv.Levels))
	}
	if lv.Levels[0].Rows != 2 || lv.Levels[0].Cols != 2 {
		t.Fatalf("unexpected level 0 grid: %+v", lv.Levels[0])
	}
}

func TestColormapsEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	var body struct {
		Colormaps []string `json:"colormaps"`
	}
	getJSON(t, ts.URL+"/api/colormaps", &body)

	found := false
	for _, n := range body.Colormaps {
		if n == "viridis" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected viridis in %v", body.Colormaps)
	}
}
