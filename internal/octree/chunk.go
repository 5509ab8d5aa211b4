package octree

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNotMaterialized indicates an attempt to complete a load with data that
// is not fully realized in memory. Accepting it would corrupt the
// in-memory/loading invariant, so the assignment is rejected outright.
var ErrNotMaterialized = errors.New("chunk data must be materialized")

// chunkSeq numbers chunks at construction. The number is only used in debug
// strings, never for equality or caching.
var chunkSeq atomic.Uint64

// RenderKey is a lightweight identity derived from a chunk's geometry and
// level, used where a full ChunkKey comparison is unnecessary. Chunks with
// equal RenderKeys always have equal level and geometry position.
//
// TODO: fold RenderKey into ChunkKey once profiling shows the cheap path
// isn't needed.
type RenderKey struct {
	X     float64
	Y     float64
	Level int
}

// Chunk is one tile of the pyramid: a square region of pixels at one
// resolution level. At level 0 the pixels are 1:1 with the full image; at
// higher levels they are downsampled.
//
// A chunk is created with deferred data by the tree builder and owned by
// the tree node that holds it. The loader borrows it to materialize the
// data; it never takes ownership. The chunk itself is passive: it performs
// no locking and initiates no loads, it only exposes the load state so an
// external scheduler can decide. Callers mutating a chunk from more than
// one goroutine must provide their own synchronization.
type Chunk struct {
	data     TileData
	origData TileData // retained so Clear can reset to the unloaded state
	location Location
	geom     Geometry
	loading  bool
	seq      uint64
}

// NewChunk creates a chunk with deferred data at the given location. The
// geometry is computed once by the caller and never changes.
func NewChunk(ref DeferredRef, loc Location, geom Geometry) *Chunk {
	orig := Deferred{Ref: ref}
	return &Chunk{
		data:     orig,
		origData: orig,
		location: loc,
		geom:     geom,
		seq:      chunkSeq.Add(1),
	}
}

// Data returns the chunk's current data, deferred or materialized.
func (c *Chunk) Data() TileData {
	return c.data
}

// DeferredData returns the deferred reference if the chunk's data has not
// been materialized.
func (c *Chunk) DeferredData() (DeferredRef, bool) {
	if d, ok := c.data.(Deferred); ok {
		return d.Ref, true
	}
	return nil, false
}

// Materialized returns the in-memory pixels if the chunk is loaded.
func (c *Chunk) Materialized() (*Materialized, bool) {
	m, ok := c.data.(*Materialized)
	return m, ok
}

// SetLoaded completes a load: the materialized data replaces the deferred
// reference and the loading flag clears in the same step. A nil value is a
// contract violation and leaves the chunk unchanged.
func (c *Chunk) SetLoaded(m *Materialized) error {
	if m == nil {
		return fmt.Errorf("%w: %s", ErrNotMaterialized, c.location)
	}
	c.data = m
	c.loading = false
	return nil
}

// Loading reports whether a load has been queued for this chunk.
func (c *Chunk) Loading() bool {
	return c.loading
}

// SetLoading marks or unmarks the chunk as queued for loading. The loader
// sets it when it enqueues work and reverts it if the load fails.
func (c *Chunk) SetLoading(v bool) {
	c.loading = v
}

// InMemory reports whether the data is fully in memory. Unloaded data may
// be a Zarr chunk or similar deferred reference; loaded data is always
// materialized pixels.
func (c *Chunk) InMemory() bool {
	_, ok := c.data.(*Materialized)
	return ok
}

// NeedsLoad reports whether the chunk should be handed to the loader: its
// data is deferred and no load is in flight.
func (c *Chunk) NeedsLoad() bool {
	return !c.InMemory() && !c.loading
}

// Location returns the chunk's position in the pyramid.
func (c *Chunk) Location() Location {
	return c.location
}

// Geometry returns the chunk's precomputed render geometry.
func (c *Chunk) Geometry() Geometry {
	return c.geom
}

// RenderKey returns the chunk's lightweight identity.
func (c *Chunk) RenderKey() RenderKey {
	return RenderKey{
		X:     c.geom.Pos[0],
		Y:     c.geom.Pos[1],
		Level: c.location.LevelIndex,
	}
}

// Clear drops any loaded data and returns to the original deferred
// reference. This is only used when running without the cache, so that
// revisiting the chunk recomputes its data.
func (c *Chunk) Clear() {
	c.data = c.origData
	c.loading = false
}

func (c *Chunk) String() string {
	return fmt.Sprintf("%s id=%d", c.location, c.seq)
}
