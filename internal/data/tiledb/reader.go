// Package tiledb provides read-only access to image pyramids stored as
// dense TileDB arrays, one array per level. The TileDB engine links a C
// library, so real reads sit behind the "tiledb" build tag; the default
// build carries a stub that still validates configuration.
package tiledb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pyratiles/server/internal/octree"
)

// ErrUnsupported indicates this binary was built without TileDB support.
var ErrUnsupported = errors.New("tiledb support is not enabled in this build (build server with: go build -tags tiledb)")

// Metadata mirrors the pyramid metadata stored next to the level arrays.
type Metadata struct {
	Name     string  `json:"name"`
	Levels   int     `json:"levels"`
	TileSize int     `json:"tile_size"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	DataType string  `json:"data_type"`
	VMin     float64 `json:"vmin"`
	VMax     float64 `json:"vmax"`
}

// ResolveGroupURI normalizes the configured path to the pyramid group
// directory holding metadata.json and the level_<n> arrays.
func ResolveGroupURI(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", errors.New("empty tiledb_path")
	}
	p = os.ExpandEnv(p)
	return filepath.Clean(p), nil
}

func loadMetadata(groupURI string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(groupURI, "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read pyramid metadata: %w", err)
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to parse pyramid metadata: %w", err)
	}
	if md.Levels <= 0 || md.TileSize <= 0 || md.Width <= 0 || md.Height <= 0 {
		return nil, fmt.Errorf("invalid pyramid metadata in %s", groupURI)
	}
	return &md, nil
}

func buildLevels(md *Metadata) []octree.Level {
	levels := make([]octree.Level, 0, md.Levels)
	for i := 0; i < md.Levels; i++ {
		scale := 1 << i
		w := ceilDiv(md.Width, scale)
		h := ceilDiv(md.Height, scale)
		levels = append(levels, octree.Level{
			Index:    i,
			Scale:    float64(scale),
			TileSize: md.TileSize,
			Rows:     ceilDiv(h, md.TileSize),
			Cols:     ceilDiv(w, md.TileSize),
		})
	}
	return levels
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Metadata returns the pyramid metadata.
func (r *Reader) Metadata() *Metadata {
	return r.metadata
}

// Levels returns the pyramid levels.
func (r *Reader) Levels() []octree.Level {
	return r.levels
}

// Level returns one pyramid level by index.
func (r *Reader) Level(index int) (octree.Level, error) {
	if index < 0 || index >= len(r.levels) {
		return octree.Level{}, fmt.Errorf("level %d out of range [0, %d)", index, len(r.levels))
	}
	return r.levels[index], nil
}

// TileRef returns a deferred reference to one tile. The read itself only
// works in tiledb-tagged builds.
func (r *Reader) TileRef(level, row, col int) (octree.DeferredRef, error) {
	lv, err := r.Level(level)
	if err != nil {
		return nil, err
	}
	if !lv.Contains(row, col) {
		return nil, fmt.Errorf("tile (%d, %d) out of range for level %d", row, col, level)
	}
	return &tileRef{reader: r, level: level, row: row, col: col}, nil
}

type tileRef struct {
	reader *Reader
	level  int
	row    int
	col    int
}

func (t *tileRef) Read(ctx context.Context) (*octree.Materialized, error) {
	return t.reader.readTile(ctx, t.level, t.row, t.col)
}

func (t *tileRef) String() string {
	return fmt.Sprintf("tiledb:%s level_%d/%d/%d", t.reader.groupURI, t.level, t.row, t.col)
}

// levelURI returns the array URI for one pyramid level.
func (r *Reader) levelURI(level int) string {
	return filepath.Join(r.groupURI, fmt.Sprintf("level_%d", level))
}

// tileBounds computes the pixel rectangle of a tile within its level,
// clamped to the level extent. Returns x0, y0 and the clamped width and
// height.
func (r *Reader) tileBounds(level, row, col int) (x0, y0, w, h int) {
	lv := r.levels[level]
	scale := 1 << level
	levelW := ceilDiv(r.metadata.Width, scale)
	levelH := ceilDiv(r.metadata.Height, scale)

	x0 = col * lv.TileSize
	y0 = row * lv.TileSize
	w = lv.TileSize
	if x0+w > levelW {
		w = levelW - x0
	}
	h = lv.TileSize
	if y0+h > levelH {
		h = levelH - y0
	}
	return x0, y0, w, h
}
