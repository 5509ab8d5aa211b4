package octree

import "testing"

func TestLocationEquality(t *testing.T) {
	a := Location{SliceID: 1, LevelIndex: 2, Row: 0, Col: 3}
	b := Location{SliceID: 1, LevelIndex: 2, Row: 0, Col: 3}
	if a != b {
		t.Fatalf("expected %v == %v", a, b)
	}

	variants := []Location{
		{SliceID: 2, LevelIndex: 2, Row: 0, Col: 3},
		{SliceID: 1, LevelIndex: 3, Row: 0, Col: 3},
		{SliceID: 1, LevelIndex: 2, Row: 1, Col: 3},
		{SliceID: 1, LevelIndex: 2, Row: 0, Col: 4},
	}
	for _, v := range variants {
		if a == v {
			t.Fatalf("expected %v != %v", a, v)
		}
	}
}

func TestNullLocation(t *testing.T) {
	null := NullLocation()
	if null != (Location{}) {
		t.Fatalf("expected all-zero location, got %v", null)
	}
	if !null.IsNull() {
		t.Fatal("expected IsNull for the null location")
	}
	if (Location{SliceID: 1}).IsNull() {
		t.Fatal("expected non-null for a real location")
	}
}

func TestLocationString(t *testing.T) {
	loc := Location{SliceID: 7, LevelIndex: 2, Row: 4, Col: 5}
	want := "location=(2, 4, 5) slice=7"
	if got := loc.String(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestLevelContains(t *testing.T) {
	lv := Level{Index: 1, Scale: 2, TileSize: 256, Rows: 3, Cols: 4}

	cases := []struct {
		row, col int
		want     bool
	}{
		{0, 0, true},
		{2, 3, true},
		{3, 0, false},
		{0, 4, false},
		{-1, 0, false},
		{0, -1, false},
	}
	for _, tc := range cases {
		if got := lv.Contains(tc.row, tc.col); got != tc.want {
			t.Fatalf("Contains(%d, %d) = %v, want %v", tc.row, tc.col, got, tc.want)
		}
	}
}

func TestNewGeometry(t *testing.T) {
	lv := Level{Index: 2, Scale: 4, TileSize: 256, Rows: 8, Cols: 8}
	loc := Location{SliceID: 1, LevelIndex: 2, Row: 3, Col: 5}

	g := NewGeometry(loc, lv)
	if g.Pos[0] != 5*256*4 || g.Pos[1] != 3*256*4 {
		t.Fatalf("unexpected position: %v", g.Pos)
	}
	if g.Scale[0] != 4 || g.Scale[1] != 4 {
		t.Fatalf("unexpected scale: %v", g.Scale)
	}
}
