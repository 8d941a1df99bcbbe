package mask

import (
	"image"
	"math"
	"sort"
)

// FillPolygon sets every pixel inside or on the boundary of the closed
// polygon pts to v. Pixels outside img are ignored. The result depends only
// on pts and v.
func FillPolygon(img *image.Gray, pts []image.Point, v uint8) {
	if len(pts) == 0 {
		return
	}
	b := img.Bounds()
	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts[1:] {
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)
	}
	minY = max(minY, b.Min.Y)
	maxY = min(maxY, b.Max.Y-1)

	xs := make([]float64, 0, 8)
	for y := minY; y <= maxY; y++ {
		xs = xs[:0]
		fy := float64(y)
		for i := range pts {
			a, c := pts[i], pts[(i+1)%len(pts)]
			if a.Y == c.Y {
				continue
			}
			lo, hi := a, c
			if lo.Y > hi.Y {
				lo, hi = hi, lo
			}
			// Half-open on the upper end so shared vertices count once.
			if y < lo.Y || y >= hi.Y {
				continue
			}
			t := (fy - float64(lo.Y)) / float64(hi.Y-lo.Y)
			xs = append(xs, float64(lo.X)+t*float64(hi.X-lo.X))
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			x0 := int(math.Ceil(xs[i]))
			x1 := int(math.Floor(xs[i+1]))
			fillSpan(img, y, x0, x1, v)
		}
	}

	for i := range pts {
		drawLine(img, pts[i], pts[(i+1)%len(pts)], v)
	}
}

func fillSpan(img *image.Gray, y, x0, x1 int, v uint8) {
	b := img.Bounds()
	x0 = max(x0, b.Min.X)
	x1 = min(x1, b.Max.X-1)
	if x0 > x1 {
		return
	}
	off := img.PixOffset(x0, y)
	row := img.Pix[off : off+x1-x0+1]
	for i := range row {
		row[i] = v
	}
}

// drawLine paints the Bresenham segment a-b.
func drawLine(img *image.Gray, a, b image.Point, v uint8) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	x, y := a.X, a.Y
	r := img.Bounds()
	for {
		if (image.Point{x, y}).In(r) {
			img.Pix[img.PixOffset(x, y)] = v
		}
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
