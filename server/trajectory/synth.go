// Package trajectory synthesizes the simulated flight path of a delivery.
//
// The path is a fixed shape: linear progress down the pitch, a quadratic
// descent to the bounce, a sine-shaped kick after it and a half-period
// lateral bump with a linear drift. There is no randomness here; the same
// frame count and parameters always produce the same positions.
package trajectory

import (
	"math"

	"github.com/san-kum/cricket-hawkeye/server/models"
)

const DefaultFrames = 60

type Params struct {
	Start models.Position3D
	End   models.Position3D

	// BounceFraction is the normalized time at which the vertical model
	// switches from the descent branch to the post-bounce branch.
	BounceFraction float64
	BounceHeight   float64
	PeakHeight     float64

	// SwingAmplitude scales the mid-flight lateral bump; Drift is the
	// lateral offset accumulated by t = 1.
	SwingAmplitude float64
	Drift          float64

	// KickPhase is the fraction of a half sine period spanned after the bounce.
	KickPhase float64
}

func DefaultParams() Params {
	return Params{
		Start:          models.Position3D{X: -10, Y: 2.5, Z: 0},
		End:            models.Position3D{X: 10, Y: 0.7, Z: 0},
		BounceFraction: 0.6,
		BounceHeight:   0.3,
		PeakHeight:     1.2,
		SwingAmplitude: 0.5,
		Drift:          0.3,
		KickPhase:      0.6,
	}
}

// Synthesize samples n positions at t = i/n for i in [0, n). The arrival
// point itself (t = 1) is never sampled. n < 1 yields an empty trajectory.
func Synthesize(n int, p Params) models.Trajectory {
	if n < 1 {
		return models.Trajectory{}
	}
	path := make(models.Trajectory, n)
	for i := range path {
		path[i] = p.At(float64(i) / float64(n))
	}
	return path
}

// Default synthesizes DefaultFrames positions with DefaultParams.
func Default() models.Trajectory {
	return Synthesize(DefaultFrames, DefaultParams())
}

func (p Params) At(t float64) models.Position3D {
	return models.Position3D{X: p.Along(t), Y: p.Height(t), Z: p.Lateral(t)}
}

func (p Params) Along(t float64) float64 {
	return p.Start.X + (p.End.X-p.Start.X)*t
}

// Height evaluates the vertical model. The two branches meet in value but
// not in slope at the bounce fraction, so the path shows a kink there.
// The result is not clamped to the ground.
func (p Params) Height(t float64) float64 {
	b := p.BounceFraction
	if t < b {
		local := t / b
		return p.Start.Y + (p.BounceHeight-p.Start.Y)*local*local
	}
	local := (t - b) / (1 - b)
	lift := (p.PeakHeight - p.BounceHeight) * math.Sin(local*math.Pi*p.KickPhase)
	return p.BounceHeight + lift - local*(p.PeakHeight-p.End.Y)
}

func (p Params) Lateral(t float64) float64 {
	return math.Sin(t*math.Pi)*p.SwingAmplitude - t*p.Drift
}

// BounceIndex is the first sample index that falls on the post-bounce
// branch, or n when every sample precedes the bounce.
func (p Params) BounceIndex(n int) int {
	for i := 0; i < n; i++ {
		if float64(i)/float64(n) >= p.BounceFraction {
			return i
		}
	}
	return max(n, 0)
}
