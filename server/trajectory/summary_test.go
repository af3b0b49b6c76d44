package trajectory

import (
	"testing"

	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/stretchr/testify/assert"
)

func TestSummarizeDefault(t *testing.T) {
	p := DefaultParams()
	path := Synthesize(60, p)
	s := Summarize(path, p)

	assert.Equal(t, 60, s.Frames)
	assert.Equal(t, 36, s.BounceIndex)
	assert.Equal(t, path[36], s.Bounce)
	assert.GreaterOrEqual(t, s.ApexIndex, s.BounceIndex)
	assert.Greater(t, s.Apex.Y, s.Bounce.Y)
	assert.InDelta(t, 0.3, s.MinHeight, 0.05)
	assert.Equal(t, path[59], s.Arrival)
	assert.Equal(t, path[59].Z, s.FinalLateral)
	assert.Greater(t, s.MaxLateral, 0.0)
	// At least the straight-line distance covered along x.
	assert.Greater(t, s.PathLength, path[59].X-path[0].X)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(models.Trajectory{}, DefaultParams())
	assert.Equal(t, Summary{}, s)
}

func TestSummarizeSingleFrame(t *testing.T) {
	p := DefaultParams()
	path := Synthesize(1, p)
	s := Summarize(path, p)

	assert.Equal(t, 1, s.Frames)
	assert.Equal(t, 0, s.BounceIndex)
	assert.Equal(t, 0, s.ApexIndex)
	assert.Zero(t, s.PathLength)
}
