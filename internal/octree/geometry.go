package octree

// Level describes one resolution tier of the pyramid. Level 0 is full
// resolution; higher levels are progressively downsampled by Scale.
type Level struct {
	Index    int
	Scale    float64 // downsample factor relative to level 0
	TileSize int     // tile edge length in source pixels
	Rows     int
	Cols     int
}

// Contains reports whether (row, col) addresses a tile inside the level.
func (lv Level) Contains(row, col int) bool {
	return row >= 0 && row < lv.Rows && col >= 0 && col < lv.Cols
}

// Geometry is the render-space position and scale of one chunk.
//
// It is computed exactly once at chunk creation so the per-frame render
// path never redoes the math. A chunk at a different location gets a new
// Geometry; an existing one is never mutated.
type Geometry struct {
	Pos   [2]float64 // x, y in level-0 pixel coordinates
	Scale [2]float64
}

// NewGeometry derives the render geometry for a location from its level
// metadata.
func NewGeometry(loc Location, lv Level) Geometry {
	span := float64(lv.TileSize) * lv.Scale
	return Geometry{
		Pos:   [2]float64{float64(loc.Col) * span, float64(loc.Row) * span},
		Scale: [2]float64{lv.Scale, lv.Scale},
	}
}
