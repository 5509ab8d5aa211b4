// Package zarr reads a multiresolution image pyramid from a Zarr v3 store.
//
// The store holds one 2D array per pyramid level (level_0 is full
// resolution, level_<n> is downsampled by 2^n) with one Zarr chunk per
// tile. Chunks stay on disk until a tile is actually needed; TileRef hands
// out deferred references the loader materializes on demand.
package zarr

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/pyratiles/server/internal/octree"
)

// Metadata describes the pyramid stored alongside the level arrays.
type Metadata struct {
	Name          string  `json:"name"`
	Levels        int     `json:"levels"`
	TileSize      int     `json:"tile_size"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	DataType      string  `json:"data_type"`
	VMin          float64 `json:"vmin"`
	VMax          float64 `json:"vmax"`
	FormatVersion string  `json:"format_version"`
}

// ArrayMeta represents Zarr v3 array metadata (zarr.json).
type ArrayMeta struct {
	Shape     []int  `json:"shape"`
	DataType  string `json:"data_type"`
	ChunkGrid struct {
		Name          string `json:"name"`
		Configuration struct {
			ChunkShape []int `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid"`
	ChunkKeyEncoding struct {
		Name          string `json:"name"`
		Configuration struct {
			Separator string `json:"separator"`
		} `json:"configuration"`
	} `json:"chunk_key_encoding"`
	FillValue interface{} `json:"fill_value"`
	Codecs    []struct {
		Name          string                 `json:"name"`
		Configuration map[string]interface{} `json:"configuration"`
	} `json:"codecs"`
	ZarrFormat int    `json:"zarr_format"`
	NodeType   string `json:"node_type"`
}

// Reader provides access to pyramid tiles in a Zarr store.
type Reader struct {
	basePath string
	metadata *Metadata
	decoder  *zstd.Decoder

	levelMeta map[int]*ArrayMeta
	levels    []octree.Level
}

// NewReader opens the store at basePath and preloads per-level metadata.
func NewReader(basePath string) (*Reader, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	r := &Reader{
		basePath:  basePath,
		decoder:   decoder,
		levelMeta: make(map[int]*ArrayMeta),
	}

	if err := r.loadMetadata(); err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	for i := 0; i < r.metadata.Levels; i++ {
		if err := r.loadLevel(i); err != nil {
			return nil, fmt.Errorf("failed to load level %d: %w", i, err)
		}
	}

	return r, nil
}

// Metadata returns the pyramid metadata.
func (r *Reader) Metadata() *Metadata {
	return r.metadata
}

// Levels returns the pyramid levels in ascending index order (level 0 is
// full resolution).
func (r *Reader) Levels() []octree.Level {
	return r.levels
}

// Level returns metadata for a single level.
func (r *Reader) Level(index int) (octree.Level, error) {
	if index < 0 || index >= len(r.levels) {
		return octree.Level{}, fmt.Errorf("invalid level: %d (levels=%d)", index, len(r.levels))
	}
	return r.levels[index], nil
}

func (r *Reader) loadMetadata() error {
	metadataPath := filepath.Join(r.basePath, "metadata.json")
	data, err := os.ReadFile(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to read metadata.json: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to parse metadata.json: %w", err)
	}

	if metadata.Levels <= 0 {
		return fmt.Errorf("invalid level count: %d", metadata.Levels)
	}
	if metadata.TileSize <= 0 {
		return fmt.Errorf("invalid tile size: %d", metadata.TileSize)
	}
	if metadata.VMax <= metadata.VMin {
		metadata.VMin = 0
		metadata.VMax = 1
	}

	r.metadata = &metadata
	return nil
}

func (r *Reader) loadLevel(index int) error {
	levelPath := filepath.Join(r.basePath, fmt.Sprintf("level_%d", index))
	if _, err := os.Stat(levelPath); os.IsNotExist(err) {
		return fmt.Errorf("level %d not found", index)
	}

	meta, err := r.loadArrayMeta(levelPath)
	if err != nil {
		return fmt.Errorf("failed to load level array metadata: %w", err)
	}
	if len(meta.Shape) != 2 || len(meta.ChunkGrid.Configuration.ChunkShape) != 2 {
		return fmt.Errorf("level %d is not a 2D chunked array: shape=%v", index, meta.Shape)
	}
	if _, err := dtypeSize(meta.DataType); err != nil {
		return err
	}

	r.levelMeta[index] = meta
	r.levels = append(r.levels, octree.Level{
		Index:    index,
		Scale:    float64(int(1) << index),
		TileSize: r.metadata.TileSize,
		Rows:     ceilDiv(meta.Shape[0], meta.ChunkGrid.Configuration.ChunkShape[0]),
		Cols:     ceilDiv(meta.Shape[1], meta.ChunkGrid.Configuration.ChunkShape[1]),
	})
	return nil
}

// loadArrayMeta loads Zarr v3 array metadata.
func (r *Reader) loadArrayMeta(arrayPath string) (*ArrayMeta, error) {
	metaPath := filepath.Join(arrayPath, "zarr.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// TileRef returns a deferred reference to one tile. Nothing is read from
// disk until the reference is materialized.
func (r *Reader) TileRef(level, row, col int) (octree.DeferredRef, error) {
	lv, err := r.Level(level)
	if err != nil {
		return nil, err
	}
	if !lv.Contains(row, col) {
		return nil, fmt.Errorf("tile out of range: %d/%d/%d (rows=%d cols=%d)", level, row, col, lv.Rows, lv.Cols)
	}
	return &tileRef{reader: r, level: level, row: row, col: col}, nil
}

// tileRef is an octree.DeferredRef backed by one Zarr chunk.
type tileRef struct {
	reader *Reader
	level  int
	row    int
	col    int
}

// Read materializes the tile: the chunk is read, decompressed and decoded
// into float32 samples.
func (t *tileRef) Read(ctx context.Context) (*octree.Materialized, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := t.reader
	meta := r.levelMeta[t.level]
	indices := []int{t.row, t.col}

	shape, err := chunkShapeAt(meta, indices)
	if err != nil {
		return nil, err
	}

	raw, err := r.readChunkAt(t.levelPath(), meta, indices)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile %d/%d/%d: %w", t.level, t.row, t.col, err)
	}

	pix, err := decodeSamples(raw, meta.DataType, shape[0]*shape[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile %d/%d/%d: %w", t.level, t.row, t.col, err)
	}

	return &octree.Materialized{Pix: pix, Width: shape[1], Height: shape[0]}, nil
}

func (t *tileRef) levelPath() string {
	return filepath.Join(t.reader.basePath, fmt.Sprintf("level_%d", t.level))
}

func (t *tileRef) String() string {
	return fmt.Sprintf("zarr:level_%d/%d/%d", t.level, t.row, t.col)
}

// readChunk reads and decompresses a chunk from Zarr v3 format.
func (r *Reader) readChunk(arrayPath string, chunkKey string) ([]byte, error) {
	// Zarr v3 stores chunks in c/ directory
	chunkPath := filepath.Join(arrayPath, "c", chunkKey)

	compressedData, err := os.ReadFile(chunkPath)
	if err != nil {
		return nil, err
	}

	decompressed, err := r.decoder.DecodeAll(compressedData, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress failed: %w", err)
	}

	return decompressed, nil
}

func (r *Reader) readChunkAt(arrayPath string, meta *ArrayMeta, chunkIndices []int) ([]byte, error) {
	key := r.encodeChunkKey(meta, chunkIndices)
	data, err := r.readChunk(arrayPath, key)
	if err == nil {
		return data, nil
	}

	// A chunk missing on disk represents an all-fill-value chunk.
	if os.IsNotExist(err) {
		shape, shapeErr := chunkShapeAt(meta, chunkIndices)
		if shapeErr != nil {
			return nil, shapeErr
		}
		fillBytes, fillErr := fillValueBytes(meta)
		if fillErr != nil {
			return nil, fillErr
		}
		return repeatFillBytes(fillBytes, product(shape)), nil
	}

	return nil, err
}

func (r *Reader) encodeChunkKey(meta *ArrayMeta, chunkIndices []int) string {
	sep := meta.ChunkKeyEncoding.Configuration.Separator
	if sep == "" {
		sep = "/"
	}
	parts := make([]string, len(chunkIndices))
	for i, idx := range chunkIndices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, sep)
}

func chunkShapeAt(meta *ArrayMeta, chunkIndices []int) ([]int, error) {
	if len(meta.Shape) == 0 || len(meta.ChunkGrid.Configuration.ChunkShape) == 0 {
		return nil, fmt.Errorf("invalid zarr metadata: missing shape/chunk_shape")
	}
	if len(meta.Shape) != len(meta.ChunkGrid.Configuration.ChunkShape) {
		return nil, fmt.Errorf("invalid zarr metadata: shape dims (%d) != chunk dims (%d)", len(meta.Shape), len(meta.ChunkGrid.Configuration.ChunkShape))
	}
	if len(chunkIndices) != len(meta.Shape) {
		return nil, fmt.Errorf("invalid chunk indices: got %d dims, expected %d", len(chunkIndices), len(meta.Shape))
	}

	actual := make([]int, len(meta.Shape))
	for d := range meta.Shape {
		chunkLen := meta.ChunkGrid.Configuration.ChunkShape[d]
		if chunkLen <= 0 {
			return nil, fmt.Errorf("invalid chunk shape at dim %d: %d", d, chunkLen)
		}
		start := chunkIndices[d] * chunkLen
		if start < 0 || start >= meta.Shape[d] {
			return nil, fmt.Errorf("chunk index out of range at dim %d: start=%d shape=%d", d, start, meta.Shape[d])
		}
		remaining := meta.Shape[d] - start
		if remaining < chunkLen {
			chunkLen = remaining
		}
		actual[d] = chunkLen
	}

	return actual, nil
}

func dtypeSize(dataType string) (int, error) {
	switch dataType {
	case "uint8":
		return 1, nil
	case "uint16":
		return 2, nil
	case "float32":
		return 4, nil
	default:
		return 0, fmt.Errorf("unsupported zarr data_type: %s", dataType)
	}
}

// decodeSamples converts raw little-endian chunk bytes to float32 samples.
func decodeSamples(raw []byte, dataType string, n int) ([]float32, error) {
	size, err := dtypeSize(dataType)
	if err != nil {
		return nil, err
	}
	if len(raw) < n*size {
		return nil, fmt.Errorf("chunk too short: got %d bytes, expected %d", len(raw), n*size)
	}

	out := make([]float32, n)
	switch dataType {
	case "uint8":
		for i := 0; i < n; i++ {
			out[i] = float32(raw[i])
		}
	case "uint16":
		for i := 0; i < n; i++ {
			out[i] = float32(uint16(raw[i*2]) | uint16(raw[i*2+1])<<8)
		}
	case "float32":
		for i := 0; i < n; i++ {
			off := i * 4
			bits := uint32(raw[off]) |
				uint32(raw[off+1])<<8 |
				uint32(raw[off+2])<<16 |
				uint32(raw[off+3])<<24
			out[i] = math.Float32frombits(bits)
		}
	}
	return out, nil
}

func fillValueBytes(meta *ArrayMeta) ([]byte, error) {
	size, err := dtypeSize(meta.DataType)
	if err != nil {
		return nil, err
	}

	// Default fill to 0 if unspecified.
	fill := meta.FillValue
	if fill == nil {
		return make([]byte, size), nil
	}

	v, ok := fill.(float64) // JSON numbers decode as float64
	if !ok {
		return nil, fmt.Errorf("unsupported fill_value type: %T", fill)
	}

	switch meta.DataType {
	case "uint8":
		return []byte{uint8(v)}, nil
	case "uint16":
		u := uint16(v)
		return []byte{byte(u), byte(u >> 8)}, nil
	case "float32":
		bits := math.Float32bits(float32(v))
		return []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}, nil
	default:
		return nil, fmt.Errorf("unsupported zarr data_type: %s", meta.DataType)
	}
}

func repeatFillBytes(fill []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	if len(fill) == 0 {
		return make([]byte, n)
	}
	// Fast path: fill is all zeros; make() already zero-initializes.
	allZero := true
	for _, b := range fill {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return make([]byte, len(fill)*n)
	}

	out := make([]byte, len(fill)*n)
	for i := 0; i < n; i++ {
		copy(out[i*len(fill):(i+1)*len(fill)], fill)
	}
	return out
}

func product(ints []int) int {
	p := 1
	for _, v := range ints {
		p *= v
	}
	return p
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Close releases resources.
func (r *Reader) Close() {
	if r.decoder != nil {
		r.decoder.Close()
	}
}
