//go:build !tiledb

package tiledb

import (
	"context"
	"fmt"
	"os"

	"github.com/pyratiles/server/internal/octree"
)

// Reader is a stub when built without "-tags tiledb". It still resolves
// and validates the group path, so config issues can be caught early, but
// tile reads return ErrUnsupported.
type Reader struct {
	groupURI string
	metadata *Metadata
	levels   []octree.Level
}

// NewReader creates a TileDB pyramid reader (stub).
func NewReader(path string) (*Reader, error) {
	uri, err := ResolveGroupURI(path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(uri); statErr != nil {
		return nil, fmt.Errorf("tiledb pyramid not found at %s: %w", uri, statErr)
	}
	md, err := loadMetadata(uri)
	if err != nil {
		return nil, err
	}
	return &Reader{groupURI: uri, metadata: md, levels: buildLevels(md)}, nil
}

// Supported reports whether tile reads work in this build.
func (r *Reader) Supported() bool { return false }

func (r *Reader) readTile(ctx context.Context, level, row, col int) (*octree.Materialized, error) {
	return nil, ErrUnsupported
}

// Close releases reader resources.
func (r *Reader) Close() {}
