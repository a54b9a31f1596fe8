package mask

import (
	"encoding/json"

	"github.com/theodesp/unionfind"
)

// Point is an [x, y] pixel coordinate.
type Point [2]int

// ContourEncoder emits the md.ai mask format: outer contours of each
// 8-connected foreground region under "foreground", and contours of enclosed
// holes under "background". Points along straight runs are dropped so only
// the vertices remain.
type ContourEncoder struct{}

type contourPayload struct {
	Foreground [][]Point `json:"foreground"`
	Background [][]Point `json:"background"`
}

func (ContourEncoder) EncodeMask(m Mask) (json.RawMessage, error) {
	fg, bg := Contours(m)

	return json.Marshal(contourPayload{Foreground: fg, Background: bg})
}

// Moore neighbourhood, clockwise (y grows downward) starting from west.
var neighbors = [8]Point{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

func neighborIndex(dx, dy int) int {
	for i, n := range neighbors {
		if n[0] == dx && n[1] == dy {
			return i
		}
	}

	return 0
}

// Contours returns the foreground outlines and the hole outlines of m, each
// in raster order of their top-left pixel.
func Contours(m Mask) (foreground, background [][]Point) {
	foreground = make([][]Point, 0)
	background = make([][]Point, 0)

	if m.Width == 0 || m.Height == 0 {
		return
	}

	fgSets := label(m, true, true)
	bgSets := label(m, false, false)

	// Background regions touching the image edge are not holes
	open := make(map[int]struct{})
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.At(x, y) {
				continue
			}
			if x == 0 || y == 0 || x == m.Width-1 || y == m.Height-1 {
				open[bgSets.Root(y*m.Width+x)] = struct{}{}
			}
		}
	}

	seen := make(map[int]struct{})
	seenHole := make(map[int]struct{})

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			idx := y*m.Width + x

			if m.At(x, y) {
				root := fgSets.Root(idx)
				if _, done := seen[root]; done {
					continue
				}
				seen[root] = struct{}{}

				member := func(px, py int) bool {
					return m.At(px, py) && fgSets.Root(py*m.Width+px) == root
				}
				foreground = append(foreground, simplify(trace(Point{x, y}, member, m.Width*m.Height)))
				continue
			}

			root := bgSets.Root(idx)
			if _, isOpen := open[root]; isOpen {
				continue
			}
			if _, done := seenHole[root]; done {
				continue
			}
			seenHole[root] = struct{}{}

			member := func(px, py int) bool {
				if px < 0 || py < 0 || px >= m.Width || py >= m.Height {
					return false
				}
				return !m.At(px, py) && bgSets.Root(py*m.Width+px) == root
			}
			background = append(background, simplify(trace(Point{x, y}, member, m.Width*m.Height)))
		}
	}

	return
}

// label joins adjacent pixels whose value equals want. Foreground uses
// 8-connectivity and background 4-connectivity so that the two never cross.
func label(m Mask, want, eightConnected bool) *unionfind.UnionFind {
	uf := unionfind.New(m.Width * m.Height)

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.At(x, y) != want {
				continue
			}
			idx := y*m.Width + x

			if x > 0 && m.At(x-1, y) == want {
				uf.Union(idx, idx-1)
			}
			if y > 0 && m.At(x, y-1) == want {
				uf.Union(idx, idx-m.Width)
			}
			if !eightConnected || y == 0 {
				continue
			}
			if x > 0 && m.At(x-1, y-1) == want {
				uf.Union(idx, idx-m.Width-1)
			}
			if x < m.Width-1 && m.At(x+1, y-1) == want {
				uf.Union(idx, idx-m.Width+1)
			}
		}
	}

	return uf
}

// trace walks the outer boundary of the region containing start, which must
// be the region's first pixel in raster order. It stops once it would repeat
// its first move from start.
func trace(start Point, member func(x, y int) bool, maxSteps int) []Point {
	out := []Point{start}

	cur := start
	back := 0 // entered start from the west

	for step := 0; step < 4*maxSteps+8; step++ {
		next, nextBack, ok := advance(cur, back, member)
		if !ok {
			// Isolated pixel
			return out
		}

		if cur == start && len(out) > 1 && next == out[1] {
			break
		}

		out = append(out, next)
		cur, back = next, nextBack
	}

	if len(out) > 1 && out[len(out)-1] == start {
		out = out[:len(out)-1]
	}

	return out
}

// advance searches the neighbours of cur clockwise, beginning just after the
// backtrack direction, and returns the first member along with the direction
// from it back to the last non-member examined.
func advance(cur Point, back int, member func(x, y int) bool) (Point, int, bool) {
	for i := 1; i <= 8; i++ {
		d := (back + i) % 8
		n := Point{cur[0] + neighbors[d][0], cur[1] + neighbors[d][1]}
		if !member(n[0], n[1]) {
			continue
		}

		prevDir := (d + 7) % 8
		prev := Point{cur[0] + neighbors[prevDir][0], cur[1] + neighbors[prevDir][1]}

		return n, neighborIndex(prev[0]-n[0], prev[1]-n[1]), true
	}

	return cur, back, false
}

// simplify drops points that lie on a straight run between their neighbours.
func simplify(contour []Point) []Point {
	if len(contour) < 3 {
		return contour
	}

	out := make([]Point, 0, len(contour))
	n := len(contour)
	for i, p := range contour {
		prev := contour[(i+n-1)%n]
		next := contour[(i+1)%n]

		dx1, dy1 := p[0]-prev[0], p[1]-prev[1]
		dx2, dy2 := next[0]-p[0], next[1]-p[1]
		if dx1 == dx2 && dy1 == dy2 {
			continue
		}

		out = append(out, p)
	}

	return out
}
