// Package charts draws 2D projections of a trajectory: a side elevation
// (x against height) and a top view (x against lateral offset).
package charts

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/san-kum/cricket-hawkeye/server/models"
	"github.com/san-kum/cricket-hawkeye/server/trajectory"
)

var ErrNoTrajectory = errors.New("no trajectory to chart")

// AssetsHost serves the echarts bundle; override it for offline deployments.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// WritePage renders an HTML page with the side and top projections of path.
func WritePage(w io.Writer, path models.Trajectory, p trajectory.Params) error {
	if len(path) == 0 {
		return ErrNoTrajectory
	}
	summary := trajectory.Summarize(path, p)

	side := projection(
		"Side Elevation",
		fmt.Sprintf("bounce at frame %d, x=%.2f m", summary.BounceIndex, summary.Bounce.X),
		"Height (m)",
		path,
		func(pos models.Position3D) float64 { return pos.Y },
		summary.Bounce,
	)
	top := projection(
		"Top View",
		fmt.Sprintf("lateral at arrival %.2f m", summary.FinalLateral),
		"Lateral (m)",
		path,
		func(pos models.Position3D) float64 { return pos.Z },
		summary.Bounce,
	)

	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.PageTitle = "Hawk-Eye Trajectory"
	page.AddCharts(side, top)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("charts: render page: %w", err)
	}
	return nil
}

func projection(title, subtitle, yName string, path models.Trajectory, axis func(models.Position3D) float64, bounce models.Position3D) *charts.Line {
	data := make([]opts.LineData, 0, len(path))
	for _, pos := range path {
		data = append(data, opts.LineData{Value: []interface{}{pos.X, axis(pos)}})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "900px", Height: "420px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: yName, NameLocation: "middle", NameGap: 35}),
	)
	line.AddSeries("trajectory", data)
	line.AddSeries("bounce", []opts.LineData{{Value: []interface{}{bounce.X, axis(bounce)}, Symbol: "diamond", SymbolSize: 12}})
	return line
}
