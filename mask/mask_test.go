package mask

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func fromRows(rows ...string) Mask {
	m := New(len(rows[0]), len(rows))
	for y, row := range rows {
		for x, c := range row {
			m.Set(x, y, c == '#')
		}
	}

	return m
}

func TestContourFullSquare(t *testing.T) {
	m := fromRows(
		"####",
		"####",
		"####",
		"####",
	)

	fg, bg := Contours(m)

	want := [][]Point{{{0, 0}, {3, 0}, {3, 3}, {0, 3}}}
	if diff := cmp.Diff(want, fg); diff != "" {
		t.Errorf("foreground mismatch (-want +got):\n%s", diff)
	}
	if len(bg) != 0 {
		t.Errorf("Expected no holes, got %v", bg)
	}
}

func TestContourEmpty(t *testing.T) {
	raw, err := ContourEncoder{}.EncodeMask(New(4, 4))
	if err != nil {
		t.Fatal(err)
	}

	if string(raw) != `{"foreground":[],"background":[]}` {
		t.Errorf("Unexpected encoding %s", raw)
	}
}

func TestContourSinglePixel(t *testing.T) {
	m := fromRows(
		"...",
		".#.",
		"...",
	)

	fg, _ := Contours(m)

	want := [][]Point{{{1, 1}}}
	if diff := cmp.Diff(want, fg); diff != "" {
		t.Errorf("foreground mismatch (-want +got):\n%s", diff)
	}
}

func TestContourWithHole(t *testing.T) {
	m := fromRows(
		"###",
		"#.#",
		"###",
	)

	fg, bg := Contours(m)

	wantFG := [][]Point{{{0, 0}, {2, 0}, {2, 2}, {0, 2}}}
	if diff := cmp.Diff(wantFG, fg); diff != "" {
		t.Errorf("foreground mismatch (-want +got):\n%s", diff)
	}

	wantBG := [][]Point{{{1, 1}}}
	if diff := cmp.Diff(wantBG, bg); diff != "" {
		t.Errorf("background mismatch (-want +got):\n%s", diff)
	}
}

func TestContourTwoRegions(t *testing.T) {
	m := fromRows(
		"##..",
		"##..",
		"....",
		"...#",
	)

	fg, _ := Contours(m)
	if len(fg) != 2 {
		t.Fatalf("Expected 2 regions, got %d: %v", len(fg), fg)
	}

	if diff := cmp.Diff([]Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}, fg[0]); diff != "" {
		t.Errorf("first region mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Point{{3, 3}}, fg[1]); diff != "" {
		t.Errorf("second region mismatch (-want +got):\n%s", diff)
	}
}

func TestContourDiagonalIsOneRegion(t *testing.T) {
	m := fromRows(
		"#.",
		".#",
	)

	fg, _ := Contours(m)

	want := [][]Point{{{0, 0}, {1, 1}}}
	if diff := cmp.Diff(want, fg); diff != "" {
		t.Errorf("foreground mismatch (-want +got):\n%s", diff)
	}
}

func TestRLERoundTrip(t *testing.T) {
	m := fromRows(
		"#..#",
		"##..",
		"....",
	)

	raw, err := RLEEncoder{}.EncodeMask(m)
	if err != nil {
		t.Fatal(err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["width"] != 4.0 || payload["height"] != 3.0 {
		t.Errorf("Unexpected dimensions in %s", raw)
	}

	got, err := DecodeRLE(raw)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncoderByName(t *testing.T) {
	if _, ok := mustEncoder(t, "contour").(ContourEncoder); !ok {
		t.Error("Expected ContourEncoder")
	}
	if _, ok := mustEncoder(t, "rle").(RLEEncoder); !ok {
		t.Error("Expected RLEEncoder")
	}
	if _, err := EncoderByName("png"); err == nil {
		t.Error("Expected an error for an unknown encoding")
	}
}

func mustEncoder(t *testing.T, name string) Encoder {
	t.Helper()

	enc, err := EncoderByName(name)
	if err != nil {
		t.Fatal(err)
	}

	return enc
}

func TestCount(t *testing.T) {
	m := fromRows(
		"#.#",
		"...",
	)
	if m.Count() != 2 {
		t.Errorf("Expected 2 foreground pixels, got %d", m.Count())
	}
}
