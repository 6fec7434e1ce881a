package render

import (
	"image"
	"image/color"
	"math"
)

// ------------------------------------------------------------
// Minimal raster helpers
// ------------------------------------------------------------

func fill(img *image.RGBA, c color.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// blend mixes c over the pixel at (x, y) using c.A as opacity.
func blend(img *image.RGBA, x, y int, c color.RGBA) {
	if c.A == 255 {
		img.SetRGBA(x, y, c)
		return
	}
	dst := img.RGBAAt(x, y)
	a := float64(c.A) / 255
	mix := func(s, d uint8) uint8 {
		return uint8(math.Round(a*float64(s) + (1-a)*float64(d)))
	}
	img.SetRGBA(x, y, color.RGBA{mix(c.R, dst.R), mix(c.G, dst.G), mix(c.B, dst.B), 255})
}

func drawRectFilled(img *image.RGBA, cx, cy, w, h float64, c color.RGBA) {
	b := img.Bounds()
	minX := max(int(math.Round(cx-w/2)), b.Min.X)
	maxX := min(int(math.Round(cx+w/2)), b.Max.X)
	minY := max(int(math.Round(cy-h/2)), b.Min.Y)
	maxY := min(int(math.Round(cy+h/2)), b.Max.Y)

	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			blend(img, x, y, c)
		}
	}
}

func drawCircleFilled(img *image.RGBA, cx, cy, r float64, c color.RGBA) {
	minX := int(math.Floor(cx - r))
	maxX := int(math.Ceil(cx + r))
	minY := int(math.Floor(cy - r))
	maxY := int(math.Ceil(cy + r))

	rsq := r * r
	b := img.Bounds()

	for y := minY; y <= maxY; y++ {
		if y < b.Min.Y || y >= b.Max.Y {
			continue
		}
		for x := minX; x <= maxX; x++ {
			if x < b.Min.X || x >= b.Max.X {
				continue
			}
			dx := (float64(x) + 0.5) - cx
			dy := (float64(y) + 0.5) - cy
			if dx*dx+dy*dy <= rsq {
				blend(img, x, y, c)
			}
		}
	}
}

// drawThickLine draws a line of the given width. Each pixel is painted at
// most once so translucent lines stay even.
func drawThickLine(img *image.RGBA, x1, y1, x2, y2, width float64, c color.RGBA) {
	half := width / 2
	b := img.Bounds()
	minX := max(int(math.Floor(math.Min(x1, x2)-half)), b.Min.X)
	maxX := min(int(math.Ceil(math.Max(x1, x2)+half)), b.Max.X-1)
	minY := max(int(math.Floor(math.Min(y1, y2)-half)), b.Min.Y)
	maxY := min(int(math.Ceil(math.Max(y1, y2)+half)), b.Max.Y-1)

	dx, dy := x2-x1, y2-y1
	lsq := dx*dx + dy*dy
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			px, py := float64(x)+0.5, float64(y)+0.5
			t := 0.0
			if lsq > 1e-12 {
				t = math.Max(0, math.Min(1, ((px-x1)*dx+(py-y1)*dy)/lsq))
			}
			ex, ey := px-(x1+t*dx), py-(y1+t*dy)
			if ex*ex+ey*ey <= half*half {
				blend(img, x, y, c)
			}
		}
	}
}

func drawTriangleFilled(img *image.RGBA, ax, ay, bx, by, cx, cy float64, col color.RGBA) {
	b := img.Bounds()
	minX := max(int(math.Floor(math.Min(ax, math.Min(bx, cx)))), b.Min.X)
	maxX := min(int(math.Ceil(math.Max(ax, math.Max(bx, cx)))), b.Max.X)
	minY := max(int(math.Floor(math.Min(ay, math.Min(by, cy)))), b.Min.Y)
	maxY := min(int(math.Ceil(math.Max(ay, math.Max(by, cy)))), b.Max.Y)

	edge := func(x0, y0, x1, y1, x, y float64) float64 {
		return (x-x0)*(y1-y0) - (y-y0)*(x1-x0)
	}

	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			px := float64(x) + 0.5
			py := float64(y) + 0.5

			w0 := edge(bx, by, cx, cy, px, py)
			w1 := edge(cx, cy, ax, ay, px, py)
			w2 := edge(ax, ay, bx, by, px, py)

			if (w0 >= 0 && w1 >= 0 && w2 >= 0) || (w0 <= 0 && w1 <= 0 && w2 <= 0) {
				blend(img, x, y, col)
			}
		}
	}
}

// drawArrow draws a shaft from (x1, y1) to (x2, y2) with a head at the end.
func drawArrow(img *image.RGBA, x1, y1, x2, y2 float64, col color.RGBA) {
	drawThickLine(img, x1, y1, x2, y2, 4.0, col)

	dx := x2 - x1
	dy := y2 - y1
	length := math.Hypot(dx, dy)
	if length < 1e-6 {
		return
	}

	ux := dx / length
	uy := dy / length
	nx := -uy
	ny := ux

	headLen := 14.0
	headW := 7.0

	baseX := x2 - ux*headLen
	baseY := y2 - uy*headLen

	drawTriangleFilled(img, x2, y2,
		baseX+nx*headW, baseY+ny*headW,
		baseX-nx*headW, baseY-ny*headW, col)
}
