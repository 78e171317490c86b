// Package plots renders the comparison figures: density-coloured scatter
// panels of the source and emulated populations, and training loss curves.
package plots

import (
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/Noofbiz/subhaloflow/diagnostics"
	"github.com/Noofbiz/subhaloflow/flow"
)

// Range is a closed axis interval.
type Range struct{ Min, Max float64 }

// MassRange is the x axis of every density panel.
var MassRange = Range{-6, 0}

// FeatureLabels and FeatureRanges describe features 1..5 plotted against
// mass at infall, indexed by feature column.
var (
	FeatureLabels = [flow.Dim]string{"Mass infall", "concentration", "Mass bound", "Redshift infall", "Orbital radius", "Tidal heating"}
	FeatureRanges = [flow.Dim]Range{{-6, 0}, {0, 23}, {-5, 0.2}, {-0.2, 6}, {-2, 1}, {-3, 5}}
)

// Panel is one density-coloured scatter plot.
type Panel struct {
	Title  string
	XLabel string
	YLabel string
	X, Y   []float64
	// Z colours each point; nil draws every point in one colour.
	Z      []float64
	XRange Range
	YRange Range
}

// FeaturePanels builds the 5x2 comparison layout: row j-1 plots mass at
// infall against feature j, the source population on the left and the
// generated one on the right. Points are coloured by a Gaussian KDE of each
// panel's own points; panels with too few points to fit one are drawn in a
// single colour.
func FeaturePanels(source, generated [][]float64) ([][]Panel, error) {
	for name, rows := range map[string][][]float64{"source": source, "generated": generated} {
		for i, r := range rows {
			if len(r) != flow.Dim {
				return nil, errors.Errorf("plots: %s row %d has %d columns, expected %d", name, i, len(r), flow.Dim)
			}
		}
	}
	out := make([][]Panel, flow.Dim-1)
	for j := 1; j < flow.Dim; j++ {
		row := make([]Panel, 2)
		for c, set := range []struct {
			title string
			rows  [][]float64
		}{{"Galacticus", source}, {"Generated", generated}} {
			x := diagnostics.Column(set.rows, diagnostics.ColMassInfall)
			y := diagnostics.Column(set.rows, j)
			z, err := diagnostics.PairDensity(x, y)
			if err != nil {
				z = nil
			}
			row[c] = Panel{
				Title:  set.title,
				XLabel: FeatureLabels[0],
				YLabel: FeatureLabels[j],
				X:      x,
				Y:      y,
				Z:      z,
				XRange: MassRange,
				YRange: FeatureRanges[j],
			}
		}
		out[j-1] = row
	}
	return out, nil
}

// DensityGrid renders panels, laid out by row and column, into one PNG.
func DensityGrid(path string, panels [][]Panel, width, height vg.Length) error {
	if len(panels) == 0 || len(panels[0]) == 0 {
		return errors.New("plots: no panels")
	}
	cols := len(panels[0])
	grid := make([][]*plot.Plot, len(panels))
	for i, row := range panels {
		if len(row) != cols {
			return errors.Errorf("plots: row %d has %d panels, expected %d", i, len(row), cols)
		}
		grid[i] = make([]*plot.Plot, cols)
		for j, p := range row {
			pl, err := densityPlot(p)
			if err != nil {
				return errors.Wrapf(err, "panel %d,%d", i, j)
			}
			grid[i][j] = pl
		}
	}

	img := vgimg.New(width, height)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      len(panels),
		Cols:      cols,
		PadX:      vg.Millimeter * 4,
		PadY:      vg.Millimeter * 4,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}
	canvases := plot.Align(grid, tiles, dc)
	for i := range grid {
		for j := range grid[i] {
			grid[i][j].Draw(canvases[i][j])
		}
	}

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return f.Close()
}

func densityPlot(pn Panel) (*plot.Plot, error) {
	if len(pn.X) != len(pn.Y) {
		return nil, errors.Errorf("plots: %d x values but %d y values", len(pn.X), len(pn.Y))
	}
	if pn.Z != nil && len(pn.Z) != len(pn.X) {
		return nil, errors.Errorf("plots: %d density values for %d points", len(pn.Z), len(pn.X))
	}
	p := plot.New()
	p.Title.Text = pn.Title
	p.X.Label.Text = pn.XLabel
	p.Y.Label.Text = pn.YLabel

	xys := make(plotter.XYs, len(pn.X))
	for i := range pn.X {
		xys[i] = plotter.XY{X: pn.X[i], Y: pn.Y[i]}
	}
	if len(xys) > 0 {
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(1.5)
		sc.GlyphStyle.Color = color.RGBA{R: 20, G: 80, B: 200, A: 220}
		if pn.Z != nil {
			cm := moreland.SmoothBlueRed()
			lo, hi := minMax(pn.Z)
			if hi <= lo {
				hi = lo + 1
			}
			cm.SetMin(lo)
			cm.SetMax(hi)
			base := sc.GlyphStyle
			sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
				gs := base
				if c, err := cm.At(pn.Z[i]); err == nil {
					gs.Color = c
				}
				return gs
			}
		}
		p.Add(sc)
	}
	p.Add(plotter.NewGrid())

	xr, yr := pn.XRange, pn.YRange
	if xr.Max <= xr.Min || yr.Max <= yr.Min {
		xr.Min, xr.Max, yr.Min, yr.Max = autoRange(xys)
	}
	p.X.Min, p.X.Max = xr.Min, xr.Max
	p.Y.Min, p.Y.Max = yr.Min, yr.Max
	return p, nil
}

func minMax(v []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, x := range v {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}

// LossCurve plots training and validation loss per epoch.
func LossCurve(path string, reports []flow.EpochReport) error {
	if len(reports) == 0 {
		return errors.New("plots: no epochs to plot")
	}
	p := plot.New()
	p.Title.Text = "Weighted negative log-likelihood"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"

	train := make(plotter.XYs, 0, len(reports))
	var val plotter.XYs
	for _, r := range reports {
		train = append(train, plotter.XY{X: float64(r.Epoch), Y: r.TrainLoss})
		if !math.IsNaN(r.ValLoss) {
			val = append(val, plotter.XY{X: float64(r.Epoch), Y: r.ValLoss})
		}
	}

	tl, err := plotter.NewLine(train)
	if err != nil {
		return err
	}
	tl.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	tl.Width = vg.Points(1.2)
	p.Add(tl)
	p.Legend.Add("loss", tl)

	all := append(plotter.XYs(nil), train...)
	if len(val) > 0 {
		vl, err := plotter.NewLine(val)
		if err != nil {
			return err
		}
		vl.Color = color.RGBA{R: 200, G: 30, B: 30, A: 255}
		vl.Width = vg.Points(1.2)
		vl.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(vl)
		p.Legend.Add("val_loss", vl)
		all = append(all, val...)
	}
	p.Add(plotter.NewGrid())
	p.X.Min, p.X.Max, p.Y.Min, p.Y.Max = autoRange(all)

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}

// autoRange computes padded min/max for X and Y for a set of points.
func autoRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin, xmax = math.Inf(1), math.Inf(-1)
	ymin, ymax = math.Inf(1), math.Inf(-1)
	for _, p := range xs {
		xmin = math.Min(xmin, p.X)
		xmax = math.Max(xmax, p.X)
		ymin = math.Min(ymin, p.Y)
		ymax = math.Max(ymax, p.Y)
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, 0o755)
}
