package annotate

import (
	"image"
	"image/color"
)

// stamp paints a filled disc of the given diameter centered on c.
func stamp(img *image.RGBA, c image.Point, diameter int, ink color.RGBA) {
	r := float64(diameter) / 2
	if r < 0.5 {
		r = 0.5
	}
	ri := int(r + 0.5)
	bounds := img.Bounds()
	for y := c.Y - ri; y <= c.Y+ri; y++ {
		for x := c.X - ri; x <= c.X+ri; x++ {
			if !image.Pt(x, y).In(bounds) {
				continue
			}
			dx := float64(x - c.X)
			dy := float64(y - c.Y)
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(x, y, ink)
			}
		}
	}
}

// segment walks the line from a to b with Bresenham steps and stamps a disc
// at every step, which gives round caps and joins.
func segment(img *image.RGBA, a, b image.Point, diameter int, ink color.RGBA) {
	x0, y0, x1, y1 := a.X, a.Y, b.X, b.Y
	dx := abs(x1 - x0)
	dy := abs(y1 - y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy
	for {
		stamp(img, image.Pt(x0, y0), diameter, ink)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
