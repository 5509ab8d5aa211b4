// Package render rasterizes materialized chunks into PNG tiles using
// fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"

	"github.com/pyratiles/server/internal/octree"
	"github.com/pyratiles/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	TileSize        int
	DefaultColormap string
}

// TileRenderer renders tiles from chunk pixel data.
type TileRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewTileRenderer creates a new tile renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	return &TileRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.TileSize, cfg.TileSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// RenderChunk renders materialized chunk pixels into a PNG tile. Sample
// values are normalized into [vmin, vmax] before the colormap is applied.
// grid is the nominal samples-per-side of a full chunk; edge chunks carry
// fewer samples and leave the remainder white.
func (r *TileRenderer) RenderChunk(m *octree.Materialized, grid int, vmin, vmax float64, colormapName string) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	// Clear canvas with white background
	dc.SetColor(color.White)
	dc.Clear()

	if m == nil || m.Width <= 0 || m.Height <= 0 {
		return r.encodeContext(dc)
	}

	cmap, ok := colormap.ByName(colormapName)
	if !ok {
		cmap, ok = colormap.ByName(r.config.DefaultColormap)
		if !ok {
			cmap = colormap.Gray
		}
	}

	valueRange := vmax - vmin
	if valueRange == 0 {
		valueRange = 1
	}

	if grid < m.Width {
		grid = m.Width
	}
	if grid < m.Height {
		grid = m.Height
	}

	// One filled rectangle per sample, sized for a full chunk so edge
	// chunks keep the same scale as their neighbors.
	cell := float64(r.config.TileSize) / float64(grid)

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := float64(m.Pix[y*m.Width+x])
			normalized := (v - vmin) / valueRange
			if normalized < 0 {
				normalized = 0
			} else if normalized > 1 {
				normalized = 1
			}

			dc.SetColor(cmap.At(normalized))
			dc.DrawRectangle(float64(x)*cell, float64(y)*cell, cell, cell)
			dc.Fill()
		}
	}

	return r.encodeContext(dc)
}

func (r *TileRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyTile creates an empty transparent tile, served for regions
// outside the image or while data is still loading.
func (r *TileRenderer) CreateEmptyTile() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.TileSize, r.config.TileSize))
	// Fill with transparent white
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255   // R
		img.Pix[i+1] = 255 // G
		img.Pix[i+2] = 255 // B
		img.Pix[i+3] = 0   // A (transparent)
	}

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
