package raster

import (
	"image"
	"image/color"
	"math"
)

// FrameBuffer holds NRGBA colour and a depth buffer. Smaller depth is nearer.
type FrameBuffer struct {
	W, H  int
	Color []uint8
	Depth []float64
}

func NewFrameBuffer(w, h int, bg color.NRGBA) *FrameBuffer {
	fb := &FrameBuffer{
		W:     w,
		H:     h,
		Color: make([]uint8, w*h*4),
		Depth: make([]float64, w*h),
	}
	for i := 0; i < w*h; i++ {
		fb.Color[i*4] = bg.R
		fb.Color[i*4+1] = bg.G
		fb.Color[i*4+2] = bg.B
		fb.Color[i*4+3] = bg.A
		fb.Depth[i] = math.Inf(1)
	}
	return fb
}

func (fb *FrameBuffer) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, fb.W, fb.H))
	copy(img.Pix, fb.Color)
	return img
}

// plot writes c at (x, y) when depth passes. With alpha below one the colour
// is blended and depth is left untouched.
func (fb *FrameBuffer) plot(x, y int, depth float64, c color.NRGBA, alpha float64) {
	if x < 0 || y < 0 || x >= fb.W || y >= fb.H {
		return
	}
	i := y*fb.W + x
	if depth > fb.Depth[i] {
		return
	}
	p := i * 4
	if alpha >= 1 {
		fb.Color[p] = c.R
		fb.Color[p+1] = c.G
		fb.Color[p+2] = c.B
		fb.Color[p+3] = 255
		fb.Depth[i] = depth
		return
	}
	if alpha <= 0 {
		return
	}
	fb.Color[p] = blend(fb.Color[p], c.R, alpha)
	fb.Color[p+1] = blend(fb.Color[p+1], c.G, alpha)
	fb.Color[p+2] = blend(fb.Color[p+2], c.B, alpha)
}

func blend(dst, src uint8, alpha float64) uint8 {
	return clamp255(float64(dst)*(1-alpha) + float64(src)*alpha)
}

func clamp255(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// vertex is a projected point: screen position plus depth.
type vertex struct {
	X, Y, Z float64
}

// fillTriangle rasterizes a flat-coloured triangle with a z-test.
func (fb *FrameBuffer) fillTriangle(a, b, c vertex, col color.NRGBA) {
	minX := int(math.Floor(math.Min(a.X, math.Min(b.X, c.X))))
	maxX := int(math.Ceil(math.Max(a.X, math.Max(b.X, c.X))))
	minY := int(math.Floor(math.Min(a.Y, math.Min(b.Y, c.Y))))
	maxY := int(math.Ceil(math.Max(a.Y, math.Max(b.Y, c.Y))))
	minX = max(minX, 0)
	minY = max(minY, 0)
	maxX = min(maxX, fb.W-1)
	maxY = min(maxY, fb.H-1)
	if minX > maxX || minY > maxY {
		return
	}

	area := edge(a, b, c.X, c.Y)
	if math.Abs(area) < 1e-9 {
		return
	}
	inv := 1 / area

	for y := minY; y <= maxY; y++ {
		py := float64(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float64(x) + 0.5
			w0 := edge(b, c, px, py) * inv
			w1 := edge(c, a, px, py) * inv
			w2 := edge(a, b, px, py) * inv
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			z := w0*a.Z + w1*b.Z + w2*c.Z
			fb.plot(x, y, z, col, 1)
		}
	}
}

func edge(a, b vertex, px, py float64) float64 {
	return (b.X-a.X)*(py-a.Y) - (b.Y-a.Y)*(px-a.X)
}

// drawLine draws a depth-tested line of the given pixel thickness.
func (fb *FrameBuffer) drawLine(a, b vertex, thickness float64, col color.NRGBA) {
	dx := b.X - a.X
	dy := b.Y - a.Y
	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))))
	if steps == 0 {
		steps = 1
	}
	if steps > 4*(fb.W+fb.H) {
		// Endpoints far off screen; the projected segment is not worth walking.
		return
	}
	r := math.Max(thickness/2, 0.5)
	ri := int(math.Ceil(r))
	for s := 0; s <= steps; s++ {
		t := float64(s) / float64(steps)
		x := a.X + dx*t
		y := a.Y + dy*t
		// Bias lines towards the viewer so they sit on top of coplanar surfaces.
		z := a.Z + (b.Z-a.Z)*t - 1e-4
		cx, cy := int(x), int(y)
		for oy := -ri; oy <= ri; oy++ {
			for ox := -ri; ox <= ri; ox++ {
				if float64(ox*ox+oy*oy) > r*r {
					continue
				}
				fb.plot(cx+ox, cy+oy, z, col, 1)
			}
		}
	}
}

// fillDisc draws a shaded sphere impostor of radius r pixels at depth z.
func (fb *FrameBuffer) fillDisc(c vertex, r float64, base color.NRGBA, emissive float64, alpha float64) {
	if r < 0.5 {
		r = 0.5
	}
	minX := int(math.Floor(c.X - r))
	maxX := int(math.Ceil(c.X + r))
	minY := int(math.Floor(c.Y - r))
	maxY := int(math.Ceil(c.Y + r))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := (float64(x) + 0.5 - c.X) / r
			dy := (float64(y) + 0.5 - c.Y) / r
			d2 := dx*dx + dy*dy
			if d2 > 1 {
				continue
			}
			// Fake lighting from the upper left.
			nz := math.Sqrt(1 - d2)
			shade := 0.45 + 0.55*math.Max(0, -0.4*dx-0.4*dy+0.82*nz)
			shade += emissive
			col := color.NRGBA{
				R: clamp255(float64(base.R) * shade),
				G: clamp255(float64(base.G) * shade),
				B: clamp255(float64(base.B) * shade),
				A: 255,
			}
			fb.plot(x, y, c.Z, col, alpha)
		}
	}
}
