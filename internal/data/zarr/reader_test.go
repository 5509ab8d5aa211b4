package zarr

import (
	"context"
	"testing"
)

// writeTestStore builds a 2-level 8x8 pyramid with 4px tiles. Only the
// top-left level-0 tile and the single level-1 tile are written; the rest
// fall back to the fill value.
func writeTestStore(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	fill := 7.0
	w, err := CreateStore(dir, WriterOptions{
		Name:      "test",
		Levels:    2,
		TileSize:  4,
		Width:     8,
		Height:    8,
		DataType:  "uint8",
		VMin:      0,
		VMax:      255,
		FillValue: &fill,
	})
	if err != nil {
		t.Fatalf("CreateStore failed: %v", err)
	}
	defer w.Close()

	tile := make([]float32, 16)
	for i := range tile {
		tile[i] = float32(i * 10)
	}
	if err := w.WriteTile(0, 0, 0, tile); err != nil {
		t.Fatalf("WriteTile(0,0,0) failed: %v", err)
	}
	if err := w.WriteTile(1, 0, 0, make([]float32, 16)); err != nil {
		t.Fatalf("WriteTile(1,0,0) failed: %v", err)
	}

	return dir
}

func TestReaderLevels(t *testing.T) {
	r, err := NewReader(writeTestStore(t))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	levels := r.Levels()
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if levels[0].Rows != 2 || levels[0].Cols != 2 {
		t.Fatalf("unexpected level 0 grid: %dx%d", levels[0].Rows, levels[0].Cols)
	}
	if levels[1].Rows != 1 || levels[1].Cols != 1 {
		t.Fatalf("unexpected level 1 grid: %dx%d", levels[1].Rows, levels[1].Cols)
	}
	if levels[1].Scale != 2 {
		t.Fatalf("unexpected level 1 scale: %v", levels[1].Scale)
	}
}

func TestTileRefRoundTrip(t *testing.T) {
	r, err := NewReader(writeTestStore(t))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	ref, err := r.TileRef(0, 0, 0)
	if err != nil {
		t.Fatalf("TileRef failed: %v", err)
	}

	m, err := ref.Read(context.Background())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if m.Width != 4 || m.Height != 4 {
		t.Fatalf("unexpected tile shape: %dx%d", m.Width, m.Height)
	}
	for i, v := range m.Pix {
		if v != float32(i*10) {
			t.Fatalf("pixel %d: got %v, want %v", i, v, float32(i*10))
		}
	}
}

func TestMissingChunkUsesFillValue(t *testing.T) {
	r, err := NewReader(writeTestStore(t))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	// Tile (1,1) was never written.
	ref, err := r.TileRef(0, 1, 1)
	if err != nil {
		t.Fatalf("TileRef failed: %v", err)
	}
	m, err := ref.Read(context.Background())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	for i, v := range m.Pix {
		if v != 7 {
			t.Fatalf("pixel %d: got %v, want fill value 7", i, v)
		}
	}
}

func TestTileRefOutOfRange(t *testing.T) {
	r, err := NewReader(writeTestStore(t))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	cases := []struct{ level, row, col int }{
		{2, 0, 0},
		{-1, 0, 0},
		{0, 2, 0},
		{0, 0, 2},
		{0, -1, 0},
	}
	for _, tc := range cases {
		if _, err := r.TileRef(tc.level, tc.row, tc.col); err == nil {
			t.Fatalf("expected error for %d/%d/%d", tc.level, tc.row, tc.col)
		}
	}
}

func TestReadCanceledContext(t *testing.T) {
	r, err := NewReader(writeTestStore(t))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	ref, err := r.TileRef(0, 0, 0)
	if err != nil {
		t.Fatalf("TileRef failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ref.Read(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestDecodeSamples(t *testing.T) {
	t.Run("uint16", func(t *testing.T) {
		raw := []byte{0x01, 0x00, 0x00, 0x01}
		got, err := decodeSamples(raw, "uint16", 2)
		if err != nil {
			t.Fatalf("decodeSamples failed: %v", err)
		}
		if got[0] != 1 || got[1] != 256 {
			t.Fatalf("unexpected samples: %v", got)
		}
	})

	t.Run("short", func(t *testing.T) {
		if _, err := decodeSamples([]byte{1, 2}, "float32", 2); err == nil {
			t.Fatal("expected error for short chunk")
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if _, err := decodeSamples(nil, "int64", 0); err == nil {
			t.Fatal("expected error for unsupported dtype")
		}
	})
}
