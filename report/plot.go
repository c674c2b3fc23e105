package report

import (
	"fmt"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"blesim/store"
)

// ErrorPlotPNG renders the positioning error of a run over ticks with a
// dashed RMSE reference line and saves it as a PNG.
func ErrorPlotPNG(steps []store.StepRec, title, path string) error {
	pts := make(plotter.XYs, 0, len(steps))
	for _, s := range steps {
		if !s.HasFix {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(s.Tick), Y: s.ErrM})
	}
	if len(pts) == 0 {
		return fmt.Errorf("no fixes to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Error (m)"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = plotutil.Color(0)
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("error", line)

	rmse := Compute(steps).RmseErr
	ref, err := plotter.NewLine(plotter.XYs{
		{X: pts[0].X, Y: rmse},
		{X: pts[len(pts)-1].X, Y: rmse},
	})
	if err != nil {
		return err
	}
	ref.Color = plotutil.Color(1)
	ref.Dashes = plotutil.Dashes(1)
	p.Add(ref)
	p.Legend.Add("rmse", ref)

	p.Legend.Top = true
	return p.Save(12*vg.Inch, 5*vg.Inch, path)
}

// RangingPlotPNG renders per-beacon estimated distance over ticks, one
// color per beacon, with the true distance dashed in the same color.
func RangingPlotPNG(ms []store.MeasurementRec, title, path string) error {
	if len(ms) == 0 {
		return fmt.Errorf("no measurements to plot")
	}

	byBeacon := make(map[int][]store.MeasurementRec)
	for _, m := range ms {
		byBeacon[m.BeaconID] = append(byBeacon[m.BeaconID], m)
	}
	ids := make([]int, 0, len(byBeacon))
	for id := range byBeacon {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Distance (m)"

	for i, id := range ids {
		rows := byBeacon[id]
		est := make(plotter.XYs, len(rows))
		truth := make(plotter.XYs, len(rows))
		for j, m := range rows {
			est[j] = plotter.XY{X: float64(m.Tick), Y: m.EstDist}
			truth[j] = plotter.XY{X: float64(m.Tick), Y: m.TrueDist}
		}

		estLine, err := plotter.NewLine(est)
		if err != nil {
			return err
		}
		estLine.Color = plotutil.Color(i)
		estLine.Width = vg.Points(1)
		p.Add(estLine)
		p.Legend.Add(fmt.Sprintf("beacon %d", id), estLine)

		truthLine, err := plotter.NewLine(truth)
		if err != nil {
			return err
		}
		truthLine.Color = plotutil.Color(i)
		truthLine.Dashes = plotutil.Dashes(1)
		p.Add(truthLine)
	}

	p.Legend.Top = true
	return p.Save(12*vg.Inch, 5*vg.Inch, path)
}
