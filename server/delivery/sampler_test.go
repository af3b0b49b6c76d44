package delivery

import (
	"math"
	"sync"
	"testing"

	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/san-kum/cricket-hawkeye/server/pitch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRanges(t *testing.T) {
	s := NewSeededSampler(1, 2)
	for i := 0; i < 2000; i++ {
		m := s.Sample()

		require.True(t, SpeedRange.Contains(m.Speed), "speed %v", m.Speed)
		require.True(t, ReleaseAngleRange.Contains(m.ReleaseAngle), "release angle %v", m.ReleaseAngle)
		require.True(t, SwingRange.Contains(m.Swing), "swing %v", m.Swing)
		require.True(t, SpinRange.Contains(m.Spin), "spin %v", m.Spin)
		require.True(t, SeamRange.Contains(m.Seam), "seam %v", m.Seam)

		require.GreaterOrEqual(t, m.PitchPoint, math.Round(pitch.Length*0.5*100)/100)
		require.LessOrEqual(t, m.PitchPoint, math.Round(pitch.Length*0.7*100)/100)

		require.InDelta(t, 10, m.ImpactPoint.X, 0.1+1e-9)
		require.InDelta(t, 0.7, m.ImpactPoint.Y, 0.15+1e-9)
		require.InDelta(t, 0, m.ImpactPoint.Z, 0.1+1e-9)

		require.Equal(t, pitch.Length, m.LineLength)
		require.Contains(t, []models.Prediction{models.PredictionHitting, models.PredictionMissing}, m.Prediction)
	}
}

func TestSampleRounding(t *testing.T) {
	s := NewSeededSampler(7, 11)
	for i := 0; i < 200; i++ {
		m := s.Sample()
		assert.Equal(t, math.Round(m.Spin), m.Spin)
		assert.InDelta(t, math.Round(m.Speed*10)/10, m.Speed, 1e-9)
		assert.InDelta(t, math.Round(m.PitchPoint*100)/100, m.PitchPoint, 1e-9)
	}
}

func TestSampleBothPredictions(t *testing.T) {
	s := NewSeededSampler(3, 5)
	seen := map[models.Prediction]int{}
	for i := 0; i < 500; i++ {
		seen[s.Sample().Prediction]++
	}
	assert.Greater(t, seen[models.PredictionHitting], 0)
	assert.Greater(t, seen[models.PredictionMissing], 0)
}

func TestSeededSamplerIsReproducible(t *testing.T) {
	a := NewSeededSampler(42, 43)
	b := NewSeededSampler(42, 43)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Sample(), b.Sample())
	}
}

func TestSampleConcurrent(t *testing.T) {
	s := NewSampler()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m := s.Sample()
				assert.True(t, SpeedRange.Contains(m.Speed))
			}
		}()
	}
	wg.Wait()
}
