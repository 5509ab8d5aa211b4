package zarr

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zstd"
)

// WriterOptions configures a new pyramid store.
type WriterOptions struct {
	Name      string
	Levels    int
	TileSize  int
	Width     int // level-0 width in pixels
	Height    int // level-0 height in pixels
	DataType  string
	VMin      float64
	VMax      float64
	FillValue *float64
}

// Writer creates a Zarr v3 pyramid store tile by tile. Tiles that are never
// written read back as all-fill-value chunks.
type Writer struct {
	basePath string
	metadata Metadata
	encoder  *zstd.Encoder

	levelMeta map[int]*ArrayMeta
}

// CreateStore initializes a store at basePath: metadata.json plus one level
// directory with array metadata per pyramid level.
func CreateStore(basePath string, opts WriterOptions) (*Writer, error) {
	if opts.Levels <= 0 {
		return nil, fmt.Errorf("invalid level count: %d", opts.Levels)
	}
	if opts.TileSize <= 0 {
		return nil, fmt.Errorf("invalid tile size: %d", opts.TileSize)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid image size: %dx%d", opts.Width, opts.Height)
	}
	if _, err := dtypeSize(opts.DataType); err != nil {
		return nil, err
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	w := &Writer{
		basePath: basePath,
		metadata: Metadata{
			Name:          opts.Name,
			Levels:        opts.Levels,
			TileSize:      opts.TileSize,
			Width:         opts.Width,
			Height:        opts.Height,
			DataType:      opts.DataType,
			VMin:          opts.VMin,
			VMax:          opts.VMax,
			FormatVersion: "1.0",
		},
		encoder:   encoder,
		levelMeta: make(map[int]*ArrayMeta),
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}

	md, err := json.MarshalIndent(w.metadata, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(basePath, "metadata.json"), md, 0o644); err != nil {
		return nil, err
	}

	for i := 0; i < opts.Levels; i++ {
		if err := w.createLevel(i, opts); err != nil {
			return nil, fmt.Errorf("failed to create level %d: %w", i, err)
		}
	}

	return w, nil
}

func (w *Writer) createLevel(index int, opts WriterOptions) error {
	scale := 1 << index
	height := ceilDiv(opts.Height, scale)
	width := ceilDiv(opts.Width, scale)

	var meta ArrayMeta
	meta.Shape = []int{height, width}
	meta.DataType = opts.DataType
	meta.ChunkGrid.Name = "regular"
	meta.ChunkGrid.Configuration.ChunkShape = []int{opts.TileSize, opts.TileSize}
	meta.ChunkKeyEncoding.Name = "default"
	meta.ChunkKeyEncoding.Configuration.Separator = "/"
	if opts.FillValue != nil {
		meta.FillValue = *opts.FillValue
	}
	meta.ZarrFormat = 3
	meta.NodeType = "array"

	levelPath := filepath.Join(w.basePath, fmt.Sprintf("level_%d", index))
	if err := os.MkdirAll(levelPath, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(levelPath, "zarr.json"), data, 0o644); err != nil {
		return err
	}

	w.levelMeta[index] = &meta
	return nil
}

// WriteTile compresses and stores one tile. pix must hold exactly the
// samples of the tile's chunk shape (edge tiles are smaller) in row-major
// order.
func (w *Writer) WriteTile(level, row, col int, pix []float32) error {
	meta, ok := w.levelMeta[level]
	if !ok {
		return fmt.Errorf("invalid level: %d", level)
	}

	shape, err := chunkShapeAt(meta, []int{row, col})
	if err != nil {
		return err
	}
	if len(pix) != shape[0]*shape[1] {
		return fmt.Errorf("tile %d/%d/%d: got %d samples, expected %d", level, row, col, len(pix), shape[0]*shape[1])
	}

	raw, err := encodeSamples(pix, meta.DataType)
	if err != nil {
		return err
	}
	compressed := w.encoder.EncodeAll(raw, nil)

	chunkDir := filepath.Join(w.basePath, fmt.Sprintf("level_%d", level), "c", strconv.Itoa(row))
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(chunkDir, strconv.Itoa(col)), compressed, 0o644)
}

// encodeSamples converts float32 samples to raw little-endian chunk bytes.
func encodeSamples(pix []float32, dataType string) ([]byte, error) {
	size, err := dtypeSize(dataType)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(pix)*size)
	switch dataType {
	case "uint8":
		for i, v := range pix {
			out[i] = uint8(v)
		}
	case "uint16":
		for i, v := range pix {
			u := uint16(v)
			out[i*2] = byte(u)
			out[i*2+1] = byte(u >> 8)
		}
	case "float32":
		for i, v := range pix {
			bits := math.Float32bits(v)
			off := i * 4
			out[off] = byte(bits)
			out[off+1] = byte(bits >> 8)
			out[off+2] = byte(bits >> 16)
			out[off+3] = byte(bits >> 24)
		}
	}
	return out, nil
}

// Close releases the encoder.
func (w *Writer) Close() error {
	return w.encoder.Close()
}
