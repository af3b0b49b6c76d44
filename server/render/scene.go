// Package render composes the Hawk-Eye view: the pitch model, the full
// flight path, the ball at the current playback frame, its ground shadow and
// periodic path markers, all seen through an orbit camera.
//
// The renderer does not draw anything itself. It describes the view to a
// Scene, and backends decide what to do with it: Graph serializes it for a
// WebGL client, the raster package paints it into an image.
package render

import (
	"github.com/san-kum/cricket-hawkeye/server/models"
)

// Scene is the capability set a rendering backend provides.
type Scene interface {
	SetCamera(cam Camera)
	AddLight(light Light)
	AddStatic(shape Static)
	AddMarker(marker Marker)
}

// Static is a piece of geometry that does not depend on playback time.
// Implementations are pitch.Rect, pitch.Box, pitch.Segment, pitch.Grid,
// Polyline and Axes.
type Static interface {
	Kind() string
}

// Polyline is a connected line strip through Points.
type Polyline struct {
	Name   string              `json:"name"`
	Points []models.Position3D `json:"points"`
	Color  string              `json:"color"`
	Width  float64             `json:"width"`
}

func (Polyline) Kind() string { return "polyline" }

// Axes is an RGB axis helper of the given length at the origin.
type Axes struct {
	Size float64 `json:"size"`
}

func (Axes) Kind() string { return "axes" }

type LightKind string

const (
	LightAmbient     LightKind = "ambient"
	LightDirectional LightKind = "directional"
	LightPoint       LightKind = "point"
)

type Light struct {
	Kind       LightKind         `json:"kind"`
	Position   models.Position3D `json:"position"`
	Intensity  float64           `json:"intensity"`
	CastShadow bool              `json:"cast_shadow,omitempty"`
}

type MarkerKind string

const (
	MarkerBall   MarkerKind = "ball"
	MarkerShadow MarkerKind = "shadow"
	MarkerSample MarkerKind = "sample"
)

// Marker is a sphere whose placement depends on the trajectory.
type Marker struct {
	Kind              MarkerKind        `json:"kind"`
	Index             int               `json:"index"`
	Center            models.Position3D `json:"center"`
	Radius            float64           `json:"radius"`
	Segments          int               `json:"segments"`
	Color             string            `json:"color"`
	Opacity           float64           `json:"opacity"`
	Emissive          string            `json:"emissive,omitempty"`
	EmissiveIntensity float64           `json:"emissive_intensity,omitempty"`
}

// Transparent reports whether the marker needs blending.
func (m Marker) Transparent() bool {
	return m.Opacity < 1
}

// Camera is the resolved view handed to a backend.
type Camera struct {
	Position models.Position3D `json:"position"`
	Target   models.Position3D `json:"target"`
	Up       models.Position3D `json:"up"`
	FOV      float64           `json:"fov"`
	Near     float64           `json:"near"`
	Far      float64           `json:"far"`
	Controls Controls          `json:"controls"`
}

// Controls describes the interaction allowed on the client; MaxPolarAngle
// is in radians from straight down the vertical axis.
type Controls struct {
	EnablePan     bool    `json:"enable_pan"`
	EnableZoom    bool    `json:"enable_zoom"`
	EnableRotate  bool    `json:"enable_rotate"`
	MinPolarAngle float64 `json:"min_polar_angle"`
	MaxPolarAngle float64 `json:"max_polar_angle"`
	MinDistance   float64 `json:"min_distance"`
	MaxDistance   float64 `json:"max_distance"`
}
