package render

import (
	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/san-kum/cricket-hawkeye/server/pitch"
)

type State string

const (
	StateAnalyzing State = "analyzing"
	StateIdle      State = "idle"
	StateScene     State = "scene"
)

const (
	AnalyzingMessage = "Analyzing ball trajectory..."
	IdleMessage      = "Upload a video and click \"Analyze Bowling\""
	IdleHint         = "3D trajectory visualization will appear here"
)

const (
	PathColor      = "#ff0000"
	PathWidth      = 3.0
	BallColor      = "#ff0000"
	BallRadius     = 0.15
	ShadowColor    = "#000000"
	ShadowRadius   = 0.1
	ShadowHeight   = 0.05
	ShadowOpacity  = 0.3
	SampleColor    = "#ffaa00"
	SampleRadius   = 0.05
	SampleOpacity  = 0.6
	SampleInterval = 5
)

// Input is everything the view depends on.
type Input struct {
	Trajectory models.Trajectory
	Frame      int
	Analyzing  bool
}

// Frame reports what was displayed.
type Frame struct {
	State   State              `json:"state"`
	Message string             `json:"message,omitempty"`
	Hint    string             `json:"hint,omitempty"`
	Index   int                `json:"index"`
	Length  int                `json:"length"`
	Ball    *models.Position3D `json:"ball,omitempty"`
}

type Renderer struct {
	camera OrbitCamera
	lights []Light
	model  pitch.Model
}

func NewRenderer() *Renderer {
	return &Renderer{
		camera: DefaultOrbitCamera(),
		lights: DefaultLights(),
		model:  pitch.NewModel(),
	}
}

// Camera returns the default camera, for callers that adjust it per request.
func (r *Renderer) Camera() OrbitCamera {
	return r.camera
}

func DefaultLights() []Light {
	return []Light{
		{Kind: LightAmbient, Intensity: 0.5},
		{Kind: LightDirectional, Position: models.Position3D{X: 10, Y: 20, Z: 10}, Intensity: 1, CastShadow: true},
		{Kind: LightDirectional, Position: models.Position3D{X: -10, Y: 10, Z: -10}, Intensity: 0.5},
		{Kind: LightPoint, Position: models.Position3D{X: 0, Y: 10, Z: 0}, Intensity: 0.8},
	}
}

// DisplayIndex wraps a raw playback frame into [0, length). Playback beyond
// the delivery loops instead of running off the end of the path.
func DisplayIndex(frame, length int) int {
	if length <= 0 {
		return 0
	}
	idx := frame % length
	if idx < 0 {
		idx += length
	}
	return idx
}

// Render describes the view for in to scene using the default camera.
func (r *Renderer) Render(in Input, scene Scene) Frame {
	return r.RenderWith(in, r.camera, scene)
}

// RenderWith describes the view through cam. Nothing is sent to scene
// unless there is a trajectory to show and no analysis is running.
func (r *Renderer) RenderWith(in Input, cam OrbitCamera, scene Scene) Frame {
	if in.Analyzing {
		return Frame{State: StateAnalyzing, Message: AnalyzingMessage}
	}
	if len(in.Trajectory) == 0 {
		return Frame{State: StateIdle, Message: IdleMessage, Hint: IdleHint}
	}

	n := len(in.Trajectory)
	idx := DisplayIndex(in.Frame, n)
	ball := in.Trajectory[idx]

	scene.SetCamera(cam.Resolve())
	for _, l := range r.lights {
		scene.AddLight(l)
	}

	scene.AddStatic(r.model.Grid)
	r.addPitch(scene)
	scene.AddStatic(Axes{Size: r.model.Axes})

	path := make([]models.Position3D, n)
	copy(path, in.Trajectory)
	scene.AddStatic(Polyline{Name: "trajectory", Points: path, Color: PathColor, Width: PathWidth})

	scene.AddMarker(Marker{
		Kind:              MarkerBall,
		Index:             idx,
		Center:            ball,
		Radius:            BallRadius,
		Segments:          32,
		Color:             BallColor,
		Opacity:           1,
		Emissive:          BallColor,
		EmissiveIntensity: 0.5,
	})
	scene.AddMarker(Marker{
		Kind:     MarkerShadow,
		Index:    idx,
		Center:   models.Position3D{X: ball.X, Y: ShadowHeight, Z: ball.Z},
		Radius:   ShadowRadius,
		Segments: 16,
		Color:    ShadowColor,
		Opacity:  ShadowOpacity,
	})
	for i := 0; i < n; i += SampleInterval {
		scene.AddMarker(Marker{
			Kind:     MarkerSample,
			Index:    i,
			Center:   in.Trajectory[i],
			Radius:   SampleRadius,
			Segments: 16,
			Color:    SampleColor,
			Opacity:  SampleOpacity,
		})
	}

	return Frame{State: StateScene, Index: idx, Length: n, Ball: &ball}
}

func (r *Renderer) addPitch(scene Scene) {
	m := r.model
	scene.AddStatic(m.Ground)
	scene.AddStatic(m.Pitch)
	for _, c := range m.Creases {
		scene.AddStatic(c)
	}
	for _, s := range m.Stumps {
		scene.AddStatic(s)
	}
	for _, b := range m.Bails {
		scene.AddStatic(b)
	}
}
