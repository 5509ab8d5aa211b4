//go:build tiledb

package tiledb

import (
	"context"
	"fmt"
	"os"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/pyratiles/server/internal/octree"
)

// Reader reads pyramid tiles from dense TileDB arrays, one per level.
// Each array is 2D with int64 dimensions "y" and "x" and a single
// attribute "v" holding the samples.
type Reader struct {
	groupURI string
	metadata *Metadata
	levels   []octree.Level
	ctx      *tiledb.Context
}

// NewReader creates a TileDB pyramid reader.
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

	tctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create TileDB context: %w", err)
	}

	return &Reader{
		groupURI: uri,
		metadata: md,
		levels:   buildLevels(md),
		ctx:      tctx,
	}, nil
}

// Supported reports whether tile reads work in this build.
func (r *Reader) Supported() bool { return true }

func (r *Reader) readTile(ctx context.Context, level, row, col int) (*octree.Materialized, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x0, y0, w, h := r.tileBounds(level, row, col)
	uri := r.levelURI(level)

	arr, err := tiledb.NewArray(r.ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open level array (%s): %w", uri, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return nil, fmt.Errorf("failed to open level array for read: %w", err)
	}
	defer arr.Close()

	sub, err := arr.NewSubarray()
	if err != nil {
		return nil, fmt.Errorf("failed to create subarray: %w", err)
	}
	defer sub.Free()

	if err := sub.AddRangeByName("y", tiledb.MakeRange[int64](int64(y0), int64(y0+h-1))); err != nil {
		return nil, fmt.Errorf("failed to add y range: %w", err)
	}
	if err := sub.AddRangeByName("x", tiledb.MakeRange[int64](int64(x0), int64(x0+w-1))); err != nil {
		return nil, fmt.Errorf("failed to add x range: %w", err)
	}

	q, err := tiledb.NewQuery(r.ctx, arr)
	if err != nil {
		return nil, fmt.Errorf("failed to create query: %w", err)
	}
	defer q.Free()

	if err := q.SetSubarray(sub); err != nil {
		return nil, fmt.Errorf("failed to set subarray: %w", err)
	}
	if err := q.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return nil, fmt.Errorf("failed to set layout: %w", err)
	}

	n := w * h
	pix := make([]float32, n)

	// Buffer type must match the attribute's storage type.
	switch r.metadata.DataType {
	case "uint8":
		buf := make([]uint8, n)
		if _, err := q.SetDataBuffer("v", buf); err != nil {
			return nil, fmt.Errorf("failed to set buffer: %w", err)
		}
		if err := submit(q); err != nil {
			return nil, err
		}
		for i, v := range buf {
			pix[i] = float32(v)
		}
	case "uint16":
		buf := make([]uint16, n)
		if _, err := q.SetDataBuffer("v", buf); err != nil {
			return nil, fmt.Errorf("failed to set buffer: %w", err)
		}
		if err := submit(q); err != nil {
			return nil, err
		}
		for i, v := range buf {
			pix[i] = float32(v)
		}
	case "float32":
		if _, err := q.SetDataBuffer("v", pix); err != nil {
			return nil, fmt.Errorf("failed to set buffer: %w", err)
		}
		if err := submit(q); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported data type: %s", r.metadata.DataType)
	}

	return &octree.Materialized{Pix: pix, Width: w, Height: h}, nil
}

func submit(q *tiledb.Query) error {
	if err := q.Submit(); err != nil {
		return fmt.Errorf("query submit failed: %w", err)
	}
	status, err := q.Status()
	if err != nil {
		return fmt.Errorf("query status failed: %w", err)
	}
	if status != tiledb.TILEDB_COMPLETED {
		return fmt.Errorf("unexpected query status: %v", status)
	}
	return nil
}

// Close releases reader resources.
func (r *Reader) Close() {
	if r.ctx != nil {
		r.ctx.Free()
	}
}
