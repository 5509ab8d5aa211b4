// Package octree models a single tile ("chunk") of a multiresolution image
// pyramid: where it sits in the tree, how its pixel data moves between
// deferred and in-memory states, and the composite key the caches use to
// deduplicate chunks.
package octree

import "fmt"

// Location identifies one chunk's position within the pyramid.
//
// It is part of the ChunkKey that uniquely identifies a chunk for caching,
// so it must never change after construction. Two locations address the
// same tile iff all four fields match.
type Location struct {
	SliceID    int
	LevelIndex int
	Row        int
	Col        int
}

// NullLocation returns the sentinel location that points to nothing,
// used before a real location has been assigned.
func NullLocation() Location {
	return Location{}
}

// IsNull reports whether the location is the null sentinel.
func (l Location) IsNull() bool {
	return l == Location{}
}

func (l Location) String() string {
	return fmt.Sprintf("location=(%d, %d, %d) slice=%d", l.LevelIndex, l.Row, l.Col, l.SliceID)
}
