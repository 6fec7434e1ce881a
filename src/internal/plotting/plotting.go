// Package plotting renders the experiment figures with Gonum Plot.
//
// Figures are written as high-resolution PNG files (300 DPI). Trajectory
// figures stack one panel per state plus a final panel with the controls,
// all sharing the time-step axis.
package plotting

import (
	"bufio"
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const dpi = 300

// ------------------------------------------------------------
// Styling
// ------------------------------------------------------------

// limitedTicker returns a tick generator that produces at most maxLabels
// labels formatted with labelFmt.
func limitedTicker(maxLabels int, labelFmt string) plot.Ticker {
	if maxLabels < 2 {
		maxLabels = 2
	}
	return plot.TickerFunc(func(min, max float64) []plot.Tick {
		if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
			return nil
		}
		if min == max {
			return []plot.Tick{{Value: min, Label: fmt.Sprintf(labelFmt, min)}}
		}
		step := (max - min) / float64(maxLabels-1)
		ticks := make([]plot.Tick, 0, maxLabels)
		for i := 0; i < maxLabels; i++ {
			v := min + float64(i)*step
			ticks = append(ticks, plot.Tick{Value: v, Label: fmt.Sprintf(labelFmt, v)})
		}
		return ticks
	})
}

// stylePlot applies large fonts, thick axes and at most 8 ticks per axis.
func stylePlot(p *plot.Plot) {
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.Title.Padding = vg.Points(8)

	p.X.Label.TextStyle.Font.Size = vg.Points(13)
	p.Y.Label.TextStyle.Font.Size = vg.Points(13)
	p.X.Label.Padding = vg.Points(6)
	p.Y.Label.Padding = vg.Points(6)

	p.X.LineStyle.Width = vg.Points(1.6)
	p.Y.LineStyle.Width = vg.Points(1.6)
	p.X.Padding = vg.Points(10)
	p.Y.Padding = vg.Points(10)

	p.X.Tick.LineStyle.Width = vg.Points(1.4)
	p.Y.Tick.LineStyle.Width = vg.Points(1.4)
	p.X.Tick.Length = vg.Points(6)
	p.Y.Tick.Length = vg.Points(6)

	p.X.Tick.Label.Font.Size = vg.Points(10)
	p.Y.Tick.Label.Font.Size = vg.Points(10)

	p.X.Tick.Marker = limitedTicker(8, "%.0f")
	p.Y.Tick.Marker = limitedTicker(6, "%.2f")

	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = vg.Points(9)

	p.Add(plotter.NewGrid())
}

// ------------------------------------------------------------
// Output
// ------------------------------------------------------------

// saveStackedPNG draws the panels on top of each other, aligned on their
// axes, into one PNG.
func saveStackedPNG(panels []*plot.Plot, widthIn, panelHeightIn float64, filename string) error {
	if len(panels) == 0 {
		return errors.New("plot: no panels")
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	w := vg.Length(widthIn) * vg.Inch
	h := vg.Length(panelHeightIn*float64(len(panels))) * vg.Inch

	c := vgimg.NewWith(
		vgimg.UseWH(w, h),
		vgimg.UseDPI(dpi),
	)
	dc := draw.New(c)

	tiles := draw.Tiles{
		Rows:      len(panels),
		Cols:      1,
		PadTop:    vg.Points(6),
		PadBottom: vg.Points(6),
		PadLeft:   vg.Points(6),
		PadRight:  vg.Points(10),
		PadY:      vg.Points(12),
	}
	grid := make([][]*plot.Plot, len(panels))
	for i, p := range panels {
		grid[i] = []*plot.Plot{p}
	}
	canvases := plot.Align(grid, tiles, dc)
	for i, p := range panels {
		p.Draw(canvases[i][0])
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	pngc := vgimg.PngCanvas{Canvas: c}
	if _, err := pngc.WriteTo(bw); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return nil
}

// ------------------------------------------------------------
// Series helpers
// ------------------------------------------------------------

// column extracts column j of a row-major series as XY points over the row index.
func column(rows [][]float64, j int) plotter.XYs {
	pts := make(plotter.XYs, len(rows))
	for i, r := range rows {
		pts[i].X = float64(i)
		pts[i].Y = r[j]
	}
	return pts
}

func addLine(p *plot.Plot, pts plotter.XYs, label string, col color.Color, dashed bool) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("line %s: %w", label, err)
	}
	line.LineStyle.Width = vg.Points(1.5)
	line.LineStyle.Color = col
	if dashed {
		line.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(3)}
	}
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

func addMarkers(p *plot.Plot, pts plotter.XYs, label string) error {
	if len(pts) == 0 {
		return nil
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("markers %s: %w", label, err)
	}
	sc.GlyphStyle.Shape = draw.CrossGlyph{}
	sc.GlyphStyle.Color = color.Black
	sc.GlyphStyle.Radius = vg.Points(3)
	p.Add(sc)
	p.Legend.Add(label, sc)
	return nil
}

// ------------------------------------------------------------
// Figures
// ------------------------------------------------------------

// Trajectory is a recorded and a predicted state sequence with its controls.
type Trajectory struct {
	Title     string
	States    [][]float64
	Predicted [][]float64
	Controls  [][]float64

	// Updates are the time steps at which a new model was published.
	Updates []int
}

func (tr Trajectory) validate() error {
	n := len(tr.States)
	if n == 0 || len(tr.Predicted) != n || len(tr.Controls) != n {
		return fmt.Errorf("plot data invalid: %d states, %d predictions, %d controls", n, len(tr.Predicted), len(tr.Controls))
	}
	return nil
}

// SaveTrajectory writes one panel per state (recorded solid, predicted
// dashed, model updates as crosses) and one panel with the controls.
func SaveTrajectory(filename string, tr Trajectory) error {
	if err := tr.validate(); err != nil {
		return err
	}
	nStates := len(tr.States[0])
	nControls := len(tr.Controls[0])

	var panels []*plot.Plot
	for l := 0; l < nStates; l++ {
		p := plot.New()
		if l == 0 {
			p.Title.Text = tr.Title
		}
		p.Y.Label.Text = fmt.Sprintf("x%d", l)
		stylePlot(p)

		if err := addLine(p, column(tr.States, l), fmt.Sprintf("x%d", l), plotutil.Color(0), false); err != nil {
			return err
		}
		if err := addLine(p, column(tr.Predicted, l), fmt.Sprintf("pred_x%d", l), plotutil.Color(1), true); err != nil {
			return err
		}

		var marks plotter.XYs
		for _, step := range tr.Updates {
			if step >= 0 && step < len(tr.Predicted) {
				marks = append(marks, plotter.XY{X: float64(step), Y: tr.Predicted[step][l]})
			}
		}
		if err := addMarkers(p, marks, "new_model"); err != nil {
			return err
		}
		panels = append(panels, p)
	}

	p := plot.New()
	p.X.Label.Text = "time step"
	p.Y.Label.Text = "u"
	stylePlot(p)
	for m := 0; m < nControls; m++ {
		if err := addLine(p, column(tr.Controls, m), fmt.Sprintf("u%d", m), plotutil.Color(2+m), false); err != nil {
			return err
		}
	}
	panels = append(panels, p)

	return saveStackedPNG(panels, 8.0, 2.2, filename)
}

// SaveLoss writes the validation loss of every model update.
func SaveLoss(filename string, valLoss []float64) error {
	if len(valLoss) == 0 {
		return errors.New("plot data invalid: no model updates")
	}
	p := plot.New()
	p.Title.Text = "Model performance (MSE loss) on validation data"
	p.X.Label.Text = "Model update #"
	p.Y.Label.Text = "MSE Loss"
	stylePlot(p)
	p.Y.Tick.Marker = limitedTicker(6, "%.4f")

	pts := make(plotter.XYs, len(valLoss))
	for i, v := range valLoss {
		pts[i].X = float64(i)
		pts[i].Y = v
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.LineStyle.Width = vg.Points(2.0)
	line.LineStyle.Color = plotutil.Color(0)
	p.Add(line)

	return saveStackedPNG([]*plot.Plot{p}, 8.0, 5.0, filename)
}
