package octree

import "context"

// TileData is chunk pixel data in one of exactly two states: Deferred
// (a reference to a source that has not been realized in memory) or
// *Materialized (pixels fully in memory, ready to render). The closed set
// of implementations makes the distinction a type check instead of a
// runtime inspection of the value.
type TileData interface {
	isTileData()
}

// DeferredRef is a reference to un-materialized tile data, such as a chunk
// of a Zarr array still on disk. Read realizes it; the octree core never
// calls Read itself, that is the loader's job.
type DeferredRef interface {
	Read(ctx context.Context) (*Materialized, error)
	String() string
}

// Deferred wraps a DeferredRef as TileData.
type Deferred struct {
	Ref DeferredRef
}

func (Deferred) isTileData() {}

func (d Deferred) String() string {
	if d.Ref == nil {
		return "deferred(nil)"
	}
	return "deferred(" + d.Ref.String() + ")"
}

// Materialized is tile data fully realized in memory. Pix holds Width*Height
// samples in row-major order.
type Materialized struct {
	Pix    []float32
	Width  int
	Height int
}

func (*Materialized) isTileData() {}
