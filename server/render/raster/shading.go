package raster

import (
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/san-kum/cricket-hawkeye/server/render"
)

// shader applies flat per-face lighting from the scene lights.
type shader struct {
	ambient     float64
	directional []directional
	points      []point
}

type directional struct {
	dir       mgl64.Vec3
	intensity float64
}

type point struct {
	pos       mgl64.Vec3
	intensity float64
}

// maxShade limits over-exposure where several lights overlap.
const maxShade = 1.35

func newShader(lights []render.Light) shader {
	var sh shader
	for _, l := range lights {
		pos := mgl64.Vec3{l.Position.X, l.Position.Y, l.Position.Z}
		switch l.Kind {
		case render.LightAmbient:
			sh.ambient += l.Intensity
		case render.LightDirectional:
			if pos.Len() > 0 {
				sh.directional = append(sh.directional, directional{dir: pos.Normalize(), intensity: l.Intensity})
			}
		case render.LightPoint:
			sh.points = append(sh.points, point{pos: pos, intensity: l.Intensity})
		}
	}
	if len(lights) == 0 {
		sh.ambient = 1
	}
	return sh
}

func (sh shader) shade(base color.NRGBA, normal mgl64.Vec3, at models.Position3D) color.NRGBA {
	k := sh.ambient
	for _, d := range sh.directional {
		k += math.Max(0, normal.Dot(d.dir)) * d.intensity
	}
	origin := mgl64.Vec3{at.X, at.Y, at.Z}
	for _, p := range sh.points {
		toLight := p.pos.Sub(origin)
		if toLight.Len() == 0 {
			continue
		}
		k += math.Max(0, normal.Dot(toLight.Normalize())) * p.intensity * 0.5
	}
	k = math.Min(k, maxShade)
	return color.NRGBA{
		R: clamp255(float64(base.R) * k),
		G: clamp255(float64(base.G) * k),
		B: clamp255(float64(base.B) * k),
		A: 255,
	}
}

// parseHex reads "#rrggbb" or "#rgb". Anything else is mid grey.
func parseHex(s string) color.NRGBA {
	grey := color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	s = strings.TrimPrefix(s, "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return grey
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return grey
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}
