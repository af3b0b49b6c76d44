package charts

import (
	"fmt"
	"image/color"
	"io"

	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/san-kum/cricket-hawkeye/server/pitch"
	"github.com/san-kum/cricket-hawkeye/server/trajectory"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var (
	pathColor   = color.RGBA{R: 255, A: 255}
	stumpColor  = color.RGBA{R: 244, G: 228, B: 193, A: 255}
	bounceColor = color.RGBA{R: 255, G: 170, A: 255}
)

// Elevation builds a side-on plot of height against distance down the pitch,
// with the top of the stumps at both ends and the bounce marked.
func Elevation(path models.Trajectory, p trajectory.Params) (*plot.Plot, error) {
	if len(path) == 0 {
		return nil, ErrNoTrajectory
	}
	summary := trajectory.Summarize(path, p)

	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("Side Elevation (%d frames)", len(path))
	pl.X.Label.Text = "Distance along pitch (m)"
	pl.Y.Label.Text = "Height (m)"
	pl.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(path))
	for i, pos := range path {
		pts[i] = plotter.XY{X: pos.X, Y: pos.Y}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("charts: trajectory line: %w", err)
	}
	line.Color = pathColor
	line.Width = vg.Points(2)
	pl.Add(line)
	pl.Legend.Add("trajectory", line)

	for _, x := range pitch.Ends() {
		stump, err := plotter.NewLine(plotter.XYs{{X: x, Y: 0}, {X: x, Y: pitch.StumpHeight}})
		if err != nil {
			return nil, fmt.Errorf("charts: stump line: %w", err)
		}
		stump.Color = stumpColor
		stump.Width = vg.Points(4)
		pl.Add(stump)
	}

	bounce, err := plotter.NewScatter(plotter.XYs{{X: summary.Bounce.X, Y: summary.Bounce.Y}})
	if err != nil {
		return nil, fmt.Errorf("charts: bounce marker: %w", err)
	}
	bounce.GlyphStyle.Color = bounceColor
	bounce.GlyphStyle.Radius = vg.Points(4)
	bounce.GlyphStyle.Shape = draw.CircleGlyph{}
	pl.Add(bounce)
	pl.Legend.Add("bounce", bounce)

	pl.X.Min = -pitch.Length / 2
	pl.X.Max = pitch.Length / 2
	pl.Y.Min = 0
	return pl, nil
}

// WriteElevationPNG renders Elevation as a PNG of the given size.
func WriteElevationPNG(w io.Writer, path models.Trajectory, p trajectory.Params, width, height vg.Length) error {
	pl, err := Elevation(path, p)
	if err != nil {
		return err
	}
	wt, err := pl.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("charts: png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("charts: write png: %w", err)
	}
	return nil
}
