package octree

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"
)

// DimSlice selects a range along one axis of a higher-dimensional array.
// Stop is exclusive. A zero Step means step 1.
type DimSlice struct {
	Start int
	Stop  int
	Step  int
}

func (s DimSlice) String() string {
	if s.Step > 1 {
		return fmt.Sprintf("%d:%d:%d", s.Start, s.Stop, s.Step)
	}
	return fmt.Sprintf("%d:%d", s.Start, s.Stop)
}

// IndexTuple is an ordered sequence of per-axis selectors describing which
// slice of the source array a chunk draws from. A nil entry selects the
// whole axis.
type IndexTuple []*DimSlice

func (t IndexTuple) String() string {
	if len(t) == 0 {
		return "-"
	}
	parts := make([]string, len(t))
	for i, s := range t {
		if s == nil {
			parts[i] = "-"
		} else {
			parts[i] = s.String()
		}
	}
	return strings.Join(parts, ",")
}

// Equal reports whether two index tuples select the same ranges.
func (t IndexTuple) Equal(other IndexTuple) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		a, b := t[i], other[i]
		if (a == nil) != (b == nil) {
			return false
		}
		if a != nil && *a != *b {
			return false
		}
	}
	return true
}

// ChunkKey uniquely identifies a chunk for the caches and the loader.
//
// Chunks with the same owner, index tuple and location are the same cached
// unit regardless of which Chunk instance holds the data. The key is a pure
// function of its three components; it must never reflect load state, and
// its inputs must not be mutated after construction or cache lookups will
// silently miss.
type ChunkKey struct {
	OwnerID  string
	Index    IndexTuple
	Location Location
}

// NewChunkKey builds a key from the owning view's identity, the view's
// current index tuple, and the chunk's location.
func NewChunkKey(ownerID string, index IndexTuple, loc Location) ChunkKey {
	return ChunkKey{OwnerID: ownerID, Index: index, Location: loc}
}

// Equal reports whether two keys identify the same cached unit.
func (k ChunkKey) Equal(other ChunkKey) bool {
	return k.OwnerID == other.OwnerID &&
		k.Location == other.Location &&
		k.Index.Equal(other.Index)
}

// Hash returns a 64-bit hash of the key. Equal keys hash identically for
// the lifetime of the process; cross-run stability is not guaranteed.
func (k ChunkKey) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte

	h.Write([]byte(k.OwnerID))
	h.Write([]byte{0})

	for _, s := range k.Index {
		if s == nil {
			h.Write([]byte{0xff})
			continue
		}
		h.Write([]byte{1})
		for _, v := range [3]int{s.Start, s.Stop, s.Step} {
			binary.LittleEndian.PutUint64(buf[:], uint64(v))
			h.Write(buf[:])
		}
	}
	h.Write([]byte{0})

	for _, v := range [4]int{k.Location.SliceID, k.Location.LevelIndex, k.Location.Row, k.Location.Col} {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}

	return h.Sum64()
}

// String returns the canonical form of the key, suitable as a string cache
// key. Equal keys produce identical strings.
func (k ChunkKey) String() string {
	return fmt.Sprintf("%s|%s|%d/%d/%d/%d",
		k.OwnerID, k.Index.String(),
		k.Location.SliceID, k.Location.LevelIndex, k.Location.Row, k.Location.Col)
}
