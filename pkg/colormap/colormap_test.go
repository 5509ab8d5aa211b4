package colormap

import (
	"image/color"
	"testing"
)

func TestGrayEndpoints(t *testing.T) {
	t.Parallel()

	c0, ok := Gray.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{R: 0, G: 0, B: 0, A: 255}) {
		t.Fatalf("unexpected Gray.At(0): %#v", c0)
	}

	c1, ok := Gray.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Fatalf("unexpected Gray.At(1): %#v", c1)
	}
}

func TestByName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"gray", "viridis", "plasma", "inferno", "magma"} {
		if _, ok := ByName(name); !ok {
			t.Fatalf("missing colormap %q", name)
		}
	}
	if _, ok := ByName("jet"); ok {
		t.Fatal("unexpected colormap \"jet\"")
	}
}
