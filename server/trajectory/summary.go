package trajectory

import (
	"github.com/san-kum/cricket-hawkeye/server/models"
	"gonum.org/v1/gonum/floats"
)

// Summary holds derived figures for a synthesized path.
type Summary struct {
	Frames       int               `json:"frames"`
	BounceIndex  int               `json:"bounce_index"`
	Bounce       models.Position3D `json:"bounce"`
	ApexIndex    int               `json:"apex_index"`
	Apex         models.Position3D `json:"apex"`
	MinHeight    float64           `json:"min_height"`
	MaxLateral   float64           `json:"max_lateral"`
	FinalLateral float64           `json:"final_lateral"`
	PathLength   float64           `json:"path_length"`
	Arrival      models.Position3D `json:"arrival"`
}

// Summarize describes path, which must have been produced by Synthesize
// with the same params. The apex is the highest point after the bounce.
func Summarize(path models.Trajectory, p Params) Summary {
	n := len(path)
	s := Summary{Frames: n}
	if n == 0 {
		return s
	}

	ys := make([]float64, n)
	zs := make([]float64, n)
	for i, pos := range path {
		ys[i] = pos.Y
		zs[i] = pos.Z
	}

	s.BounceIndex = min(p.BounceIndex(n), n-1)
	s.Bounce = path[s.BounceIndex]
	s.ApexIndex = s.BounceIndex + floats.MaxIdx(ys[s.BounceIndex:])
	s.Apex = path[s.ApexIndex]
	s.MinHeight = floats.Min(ys)
	s.MaxLateral = zs[floats.MaxIdx(zs)]
	s.FinalLateral = zs[n-1]
	s.Arrival = path[n-1]

	for i := 1; i < n; i++ {
		s.PathLength += floats.Distance(vec(path[i-1]), vec(path[i]), 2)
	}
	return s
}

func vec(p models.Position3D) []float64 {
	return []float64{p.X, p.Y, p.Z}
}
