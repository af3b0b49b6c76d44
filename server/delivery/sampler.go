// Package delivery draws the randomized bowling metrics reported alongside a
// synthesized trajectory.
//
// Every field is sampled independently. In particular the prediction label
// has no relation to the trajectory the synthesizer produces.
package delivery

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/san-kum/cricket-hawkeye/server/pitch"
)

// Range is a closed interval [Min, Max] sampled uniformly.
type Range struct {
	Min float64
	Max float64
}

func (r Range) sample(rng *rand.Rand) float64 {
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// Contains reports whether v lies in the closed interval.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

var (
	SpeedRange        = Range{Min: 130, Max: 150}
	ReleaseAngleRange = Range{Min: 12, Max: 15}
	SwingRange        = Range{Min: 0.3, Max: 0.8}
	SpinRange         = Range{Min: 300, Max: 800}
	SeamRange         = Range{Min: 15, Max: 25}
	PitchFraction     = Range{Min: 0.5, Max: 0.7}
)

// Nominal arrival point and the half-width of the per-axis noise applied to it.
var (
	NominalImpact = models.Position3D{X: 10, Y: 0.7, Z: 0}
	ImpactNoise   = models.Position3D{X: 0.1, Y: 0.15, Z: 0.1}
)

type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a sampler seeded from the clock.
func NewSampler() *Sampler {
	now := uint64(time.Now().UnixNano())
	return NewSeededSampler(now, now>>17)
}

func NewSeededSampler(seed1, seed2 uint64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

func (s *Sampler) Sample() models.DeliveryMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	rng := s.rng
	m := models.DeliveryMetrics{
		Speed:        round(SpeedRange.sample(rng), 1),
		ReleaseAngle: round(ReleaseAngleRange.sample(rng), 1),
		PitchPoint:   round(pitch.Length*PitchFraction.sample(rng), 2),
		Swing:        round(SwingRange.sample(rng), 1),
		Spin:         round(SpinRange.sample(rng), 0),
		Seam:         round(SeamRange.sample(rng), 1),
		ImpactPoint: models.Position3D{
			X: round(NominalImpact.X+noise(rng, ImpactNoise.X), 2),
			Y: round(NominalImpact.Y+noise(rng, ImpactNoise.Y), 2),
			Z: round(NominalImpact.Z+noise(rng, ImpactNoise.Z), 2),
		},
		Prediction: models.PredictionMissing,
		LineLength: pitch.Length,
	}
	if rng.Float64() > 0.5 {
		m.Prediction = models.PredictionHitting
	}
	return m
}

func noise(rng *rand.Rand, half float64) float64 {
	return (rng.Float64() - 0.5) * 2 * half
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
