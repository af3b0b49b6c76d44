package render

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/cricket-hawkeye/server/models"
)

const (
	// MaxPolarAngle keeps the camera at or above the ground plane.
	MaxPolarAngle = math.Pi / 2
	MinPolarAngle = 0.0

	MinDistance = 1.0
	MaxDistance = 200.0

	DefaultFOV  = 75.0
	DefaultNear = 0.1
	DefaultFar  = 1000.0
)

// DefaultEye is where the camera sits before any user interaction.
var DefaultEye = models.Position3D{X: 15, Y: 8, Z: 15}

// OrbitCamera orbits Target on a sphere. Polar is measured from the +y axis,
// Azimuth around it from +z towards +x. Every mutator re-applies the clamps,
// so the polar angle can never exceed MaxPolarAngle.
type OrbitCamera struct {
	Target   models.Position3D
	Azimuth  float64
	Polar    float64
	Distance float64
	FOV      float64
}

func NewOrbitCamera(eye, target models.Position3D) OrbitCamera {
	offset := toVec(eye).Sub(toVec(target))
	dist := offset.Len()
	c := OrbitCamera{Target: target, Distance: dist, FOV: DefaultFOV}
	if dist > 0 {
		c.Polar = math.Acos(offset.Y() / dist)
		c.Azimuth = math.Atan2(offset.X(), offset.Z())
	}
	c.clamp()
	return c
}

func DefaultOrbitCamera() OrbitCamera {
	return NewOrbitCamera(DefaultEye, models.Position3D{})
}

// WithOrbit places the camera at the given angles and distance around its
// target, clamped like every other mutation.
func (c OrbitCamera) WithOrbit(azimuth, polar, distance float64) OrbitCamera {
	c.Azimuth = azimuth
	c.Polar = polar
	c.Distance = distance
	c.clamp()
	return c
}

// Zoom scales the distance to the target; factors below one move closer.
func (c OrbitCamera) Zoom(factor float64) OrbitCamera {
	if factor > 0 && !math.IsInf(factor, 0) {
		c.Distance *= factor
	}
	c.clamp()
	return c
}

// Pan slides the target in the camera's screen plane.
func (c OrbitCamera) Pan(right, up float64) OrbitCamera {
	eye := toVec(c.Eye())
	target := toVec(c.Target)
	forward := target.Sub(eye).Normalize()
	worldUp := mgl64.Vec3{0, 1, 0}
	r := forward.Cross(worldUp)
	if r.Len() < 1e-9 {
		// Looking straight down: azimuth defines the screen axes.
		r = mgl64.Vec3{math.Cos(c.Azimuth), 0, -math.Sin(c.Azimuth)}
	}
	r = r.Normalize()
	u := r.Cross(forward).Normalize()
	c.Target = fromVec(target.Add(r.Mul(right)).Add(u.Mul(up)))
	return c
}

func (c OrbitCamera) Eye() models.Position3D {
	s := math.Sin(c.Polar)
	offset := mgl64.Vec3{
		c.Distance * s * math.Sin(c.Azimuth),
		c.Distance * math.Cos(c.Polar),
		c.Distance * s * math.Cos(c.Azimuth),
	}
	return fromVec(toVec(c.Target).Add(offset))
}

func (c OrbitCamera) View() mgl64.Mat4 {
	return mgl64.LookAtV(toVec(c.Eye()), toVec(c.Target), c.up())
}

func (c OrbitCamera) Projection(aspect float64) mgl64.Mat4 {
	if aspect <= 0 {
		aspect = 1
	}
	return mgl64.Perspective(mgl64.DegToRad(c.fov()), aspect, DefaultNear, DefaultFar)
}

// Resolve produces the backend camera description.
func (c OrbitCamera) Resolve() Camera {
	return Camera{
		Position: c.Eye(),
		Target:   c.Target,
		Up:       fromVec(c.up()),
		FOV:      c.fov(),
		Near:     DefaultNear,
		Far:      DefaultFar,
		Controls: Controls{
			EnablePan:     true,
			EnableZoom:    true,
			EnableRotate:  true,
			MinPolarAngle: MinPolarAngle,
			MaxPolarAngle: MaxPolarAngle,
			MinDistance:   MinDistance,
			MaxDistance:   MaxDistance,
		},
	}
}

// up avoids a degenerate LookAt when the camera is directly overhead.
func (c OrbitCamera) up() mgl64.Vec3 {
	if math.Sin(c.Polar) < 1e-6 {
		return mgl64.Vec3{-math.Sin(c.Azimuth), 0, -math.Cos(c.Azimuth)}
	}
	return mgl64.Vec3{0, 1, 0}
}

func (c OrbitCamera) fov() float64 {
	if c.FOV <= 0 || c.FOV >= 180 {
		return DefaultFOV
	}
	return c.FOV
}

func (c *OrbitCamera) clamp() {
	if math.IsNaN(c.Polar) {
		c.Polar = MaxPolarAngle
	}
	c.Polar = mgl64.Clamp(c.Polar, MinPolarAngle, MaxPolarAngle)
	if math.IsNaN(c.Azimuth) || math.IsInf(c.Azimuth, 0) {
		c.Azimuth = 0
	}
	c.Azimuth = math.Remainder(c.Azimuth, 2*math.Pi)
	if math.IsNaN(c.Distance) {
		c.Distance = MinDistance
	}
	c.Distance = mgl64.Clamp(c.Distance, MinDistance, MaxDistance)
}

func toVec(p models.Position3D) mgl64.Vec3 {
	return mgl64.Vec3{p.X, p.Y, p.Z}
}

func fromVec(v mgl64.Vec3) models.Position3D {
	return models.Position3D{X: v.X(), Y: v.Y(), Z: v.Z()}
}
