// Package raster is a software backend for render.Scene. It paints the view
// into an image with a z-buffer, flat-shaded faces and sphere impostors, so
// snapshots can be served without a GPU or a browser.
package raster

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/san-kum/cricket-hawkeye/server/pitch"
	"github.com/san-kum/cricket-hawkeye/server/render"
	"golang.org/x/image/draw"
)

// Background matches the dark panel the WebGL view sits in.
var Background = color.NRGBA{R: 3, G: 7, B: 18, A: 255}

type Options struct {
	Width       int
	Height      int
	Supersample int
}

func DefaultOptions() Options {
	return Options{Width: 960, Height: 540, Supersample: 2}
}

// Canvas records what the renderer sends and rasterizes it on Image.
type Canvas struct {
	opts    Options
	camera  *render.Camera
	lights  []render.Light
	statics []render.Static
	markers []render.Marker
}

func NewCanvas(opts Options) *Canvas {
	if opts.Width <= 0 {
		opts.Width = DefaultOptions().Width
	}
	if opts.Height <= 0 {
		opts.Height = DefaultOptions().Height
	}
	if opts.Supersample < 1 {
		opts.Supersample = 1
	}
	return &Canvas{opts: opts}
}

func (c *Canvas) SetCamera(cam render.Camera)   { c.camera = &cam }
func (c *Canvas) AddLight(light render.Light)   { c.lights = append(c.lights, light) }
func (c *Canvas) AddStatic(shape render.Static) { c.statics = append(c.statics, shape) }
func (c *Canvas) AddMarker(m render.Marker)     { c.markers = append(c.markers, m) }

// projector maps world positions to supersampled screen space.
type projector struct {
	mvp    mgl64.Mat4
	w, h   float64
	focal  float64
	target mgl64.Vec3
}

func newProjector(cam render.Camera, w, h int) projector {
	eye := mgl64.Vec3{cam.Position.X, cam.Position.Y, cam.Position.Z}
	target := mgl64.Vec3{cam.Target.X, cam.Target.Y, cam.Target.Z}
	up := mgl64.Vec3{cam.Up.X, cam.Up.Y, cam.Up.Z}
	if up.Len() == 0 {
		up = mgl64.Vec3{0, 1, 0}
	}
	fov := mgl64.DegToRad(cam.FOV)
	proj := mgl64.Perspective(fov, float64(w)/float64(h), cam.Near, cam.Far)
	view := mgl64.LookAtV(eye, target, up)
	return projector{
		mvp:    proj.Mul4(view),
		w:      float64(w),
		h:      float64(h),
		focal:  float64(h) / 2 / math.Tan(fov/2),
		target: target,
	}
}

// project returns the screen vertex and the clip-space w (view depth).
// ok is false for points behind the near plane.
func (p projector) project(pos models.Position3D) (vertex, float64, bool) {
	clip := p.mvp.Mul4x1(mgl64.Vec4{pos.X, pos.Y, pos.Z, 1})
	w := clip.W()
	if w <= 1e-6 {
		return vertex{}, w, false
	}
	ndc := clip.Vec3().Mul(1 / w)
	return vertex{
		X: (ndc.X() + 1) / 2 * p.w,
		Y: (1 - ndc.Y()) / 2 * p.h,
		Z: ndc.Z(),
	}, w, true
}

// Image rasterizes everything recorded so far. Without a camera (the
// analyzing and idle states) it returns a blank background.
func (c *Canvas) Image() *image.NRGBA {
	ss := c.opts.Supersample
	w, h := c.opts.Width*ss, c.opts.Height*ss
	fb := NewFrameBuffer(w, h, Background)

	if c.camera != nil {
		p := newProjector(*c.camera, w, h)
		sh := newShader(c.lights)
		for _, s := range c.statics {
			c.drawStatic(fb, p, sh, s, float64(ss))
		}
		c.drawMarkers(fb, p, float64(ss))
	}

	img := fb.Image()
	if ss == 1 {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, c.opts.Width, c.opts.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

func (c *Canvas) drawStatic(fb *FrameBuffer, p projector, sh shader, s render.Static, scale float64) {
	switch shape := s.(type) {
	case pitch.Rect:
		col := sh.shade(parseHex(shape.Color), mgl64.Vec3{0, 1, 0}, shape.Center)
		hl, hw := shape.Length/2, shape.Width/2
		y := shape.Center.Y
		corners := [4]models.Position3D{
			{X: shape.Center.X - hl, Y: y, Z: shape.Center.Z - hw},
			{X: shape.Center.X + hl, Y: y, Z: shape.Center.Z - hw},
			{X: shape.Center.X + hl, Y: y, Z: shape.Center.Z + hw},
			{X: shape.Center.X - hl, Y: y, Z: shape.Center.Z + hw},
		}
		fillQuad(fb, p, corners, col)
	case pitch.Box:
		drawBox(fb, p, sh, shape)
	case pitch.Segment:
		drawPolyline(fb, p, []models.Position3D{shape.From, shape.To}, shape.Width*scale, parseHex(shape.Color))
	case render.Polyline:
		drawPolyline(fb, p, shape.Points, shape.Width*scale, parseHex(shape.Color))
	case pitch.Grid:
		drawGrid(fb, p, shape, scale)
	case render.Axes:
		o := models.Position3D{}
		drawPolyline(fb, p, []models.Position3D{o, {X: shape.Size}}, scale, color.NRGBA{R: 255, A: 255})
		drawPolyline(fb, p, []models.Position3D{o, {Y: shape.Size}}, scale, color.NRGBA{G: 255, A: 255})
		drawPolyline(fb, p, []models.Position3D{o, {Z: shape.Size}}, scale, color.NRGBA{B: 255, A: 255})
	}
}

func fillQuad(fb *FrameBuffer, p projector, corners [4]models.Position3D, col color.NRGBA) {
	var vs [4]vertex
	for i, c := range corners {
		v, _, ok := p.project(c)
		if !ok {
			return
		}
		vs[i] = v
	}
	fb.fillTriangle(vs[0], vs[1], vs[2], col)
	fb.fillTriangle(vs[0], vs[2], vs[3], col)
}

func drawBox(fb *FrameBuffer, p projector, sh shader, b pitch.Box) {
	hx, hy, hz := b.Size.X/2, b.Size.Y/2, b.Size.Z/2
	cx, cy, cz := b.Center.X, b.Center.Y, b.Center.Z
	at := func(sx, sy, sz float64) models.Position3D {
		return models.Position3D{X: cx + sx*hx, Y: cy + sy*hy, Z: cz + sz*hz}
	}
	faces := []struct {
		normal  mgl64.Vec3
		corners [4]models.Position3D
	}{
		{mgl64.Vec3{1, 0, 0}, [4]models.Position3D{at(1, -1, -1), at(1, 1, -1), at(1, 1, 1), at(1, -1, 1)}},
		{mgl64.Vec3{-1, 0, 0}, [4]models.Position3D{at(-1, -1, -1), at(-1, -1, 1), at(-1, 1, 1), at(-1, 1, -1)}},
		{mgl64.Vec3{0, 1, 0}, [4]models.Position3D{at(-1, 1, -1), at(-1, 1, 1), at(1, 1, 1), at(1, 1, -1)}},
		{mgl64.Vec3{0, -1, 0}, [4]models.Position3D{at(-1, -1, -1), at(1, -1, -1), at(1, -1, 1), at(-1, -1, 1)}},
		{mgl64.Vec3{0, 0, 1}, [4]models.Position3D{at(-1, -1, 1), at(1, -1, 1), at(1, 1, 1), at(-1, 1, 1)}},
		{mgl64.Vec3{0, 0, -1}, [4]models.Position3D{at(-1, -1, -1), at(-1, 1, -1), at(1, 1, -1), at(1, -1, -1)}},
	}
	base := parseHex(b.Color)
	for _, f := range faces {
		fillQuad(fb, p, f.corners, sh.shade(base, f.normal, b.Center))
	}
}

func drawPolyline(fb *FrameBuffer, p projector, pts []models.Position3D, thickness float64, col color.NRGBA) {
	for i := 1; i < len(pts); i++ {
		a, _, okA := p.project(pts[i-1])
		b, _, okB := p.project(pts[i])
		if !okA || !okB {
			continue
		}
		fb.drawLine(a, b, thickness, col)
	}
}

func drawGrid(fb *FrameBuffer, p projector, g pitch.Grid, scale float64) {
	if g.CellSize <= 0 {
		return
	}
	half := g.Size / 2
	cells := int(math.Round(g.Size / g.CellSize))
	cell, section := parseHex(g.CellColor), parseHex(g.SectionColor)
	for i := 0; i <= cells; i++ {
		off := -half + float64(i)*g.CellSize
		col := cell
		if g.SectionSize > 0 && math.Mod(math.Abs(off), g.SectionSize) < 1e-9 {
			col = section
		}
		drawPolyline(fb, p, []models.Position3D{{X: off, Z: -half}, {X: off, Z: half}}, scale, col)
		drawPolyline(fb, p, []models.Position3D{{X: -half, Z: off}, {X: half, Z: off}}, scale, col)
	}
}

// drawMarkers paints opaque markers first, then transparent ones far to near.
func (c *Canvas) drawMarkers(fb *FrameBuffer, p projector, scale float64) {
	type placed struct {
		m render.Marker
		v vertex
		w float64
	}
	var opaque, blended []placed
	for _, m := range c.markers {
		v, w, ok := p.project(m.Center)
		if !ok {
			continue
		}
		pm := placed{m: m, v: v, w: w}
		if m.Transparent() {
			blended = append(blended, pm)
		} else {
			opaque = append(opaque, pm)
		}
	}
	sort.SliceStable(blended, func(i, j int) bool { return blended[i].w > blended[j].w })

	for _, group := range [][]placed{opaque, blended} {
		for _, pm := range group {
			r := pm.m.Radius * p.focal / pm.w
			alpha := pm.m.Opacity
			if !pm.m.Transparent() {
				alpha = 1
			}
			fb.fillDisc(pm.v, math.Max(r, scale/2), parseHex(pm.m.Color), pm.m.EmissiveIntensity, alpha)
		}
	}
}
