package figures

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"metesad/adapters/density"
	"metesad/adapters/evaluate"
	"metesad/domain/core"
	"metesad/domain/fit"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Output file suffixes
const (
	SuffixObsPred = "_obs_pred.png"
	SuffixWeights = "_weights.png"
	SuffixClasses = "_classes.png"
)

// Figures drawn across every dataset of a run
const (
	FileCrossWeights = "cross_dataset_weights.png"
	FileHulls        = "obs_pred_hulls.png"
)

// ClassRadius is the absolute neighbour radius for class panels, whose axes
// are species counts
const ClassRadius = 1

// DefaultHullConfidence is the share of densest points enclosed by each hull
const DefaultHullConfidence = 0.95

// Renderer draws the per-dataset figures as PNG files
type Renderer struct {
	dir       string
	estimator *density.Estimator
	ramp      density.Ramp
	width     vg.Length
	height    vg.Length
	model     core.ModelName
	rival     core.ModelName
	hullConf  float64
}

// Option configures a Renderer
type Option func(*Renderer)

// WithEstimator replaces the density estimator used to colour scatter points
func WithEstimator(e *density.Estimator) Option {
	return func(r *Renderer) { r.estimator = e }
}

// WithSize sets the figure size in inches
func WithSize(width, height float64) Option {
	return func(r *Renderer) {
		r.width = vg.Length(width) * vg.Inch
		r.height = vg.Length(height) * vg.Inch
	}
}

// WithWeightPair selects the two models whose Akaike weight is classified.
// The weight is that of model against rival.
func WithWeightPair(model, rival core.ModelName) Option {
	return func(r *Renderer) { r.model, r.rival = model, rival }
}

// WithHullConfidence sets the share of points enclosed by confidence hulls
func WithHullConfidence(conf float64) Option {
	return func(r *Renderer) { r.hullConf = conf }
}

// NewRenderer creates a renderer writing into dir
func NewRenderer(dir string, opts ...Option) *Renderer {
	r := &Renderer{
		dir:       dir,
		estimator: density.NewEstimator(),
		ramp:      density.DefaultRamp,
		width:     5 * vg.Inch,
		height:    5 * vg.Inch,
		model:     "logseries",
		rival:     "pln",
		hullConf:  DefaultHullConfidence,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the figure file for dataset
func (r *Renderer) Path(dataset core.DatasetName, suffix string) string {
	return filepath.Join(r.dir, string(dataset)+suffix)
}

// ObsPred draws observed against predicted abundance on log axes, each point
// coloured by local density with the densest points drawn last.
func (r *Renderer) ObsPred(dataset core.DatasetName, rows []fit.ObsPred) (string, error) {
	var pts []density.Point
	var xys plotter.XYs
	for _, row := range rows {
		if row.Observed <= 0 || row.Predicted <= 0 {
			continue
		}
		x, y := math.Log10(float64(row.Predicted)), math.Log10(float64(row.Observed))
		pts = append(pts, density.Point{X: x, Y: y})
		xys = append(xys, plotter.XY{X: float64(row.Predicted), Y: float64(row.Observed)})
	}
	if len(xys) == 0 {
		return "", fmt.Errorf("no positive obs/pred pairs for %s", dataset)
	}

	d := r.estimator.Estimate(pts)
	colours := r.ramp.Colors(d)
	sorted := make(plotter.XYs, len(d))
	sortedColours := make([]color.RGBA, len(d))
	for i, idx := range density.Order(d) {
		sorted[i] = xys[idx]
		sortedColours[i] = colours[idx]
	}

	p := plot.New()
	p.Title.Text = string(dataset)
	p.X.Label.Text = "Predicted abundance"
	p.Y.Label.Text = "Observed abundance"
	logAxes(p)

	scatter, err := plotter.NewScatter(sorted)
	if err != nil {
		return "", err
	}
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{Color: sortedColours[i], Radius: vg.Points(2), Shape: draw.CircleGlyph{}}
	}

	lo, hi := extent(sorted)
	diag, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return "", err
	}
	diag.LineStyle.Color = color.Black
	diag.LineStyle.Width = vg.Points(1)

	p.Add(scatter, diag)
	path := r.Path(dataset, SuffixObsPred)
	if err := p.Save(r.width, r.height, path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

// Labels names the weight verdicts in bin order
func (r *Renderer) Labels() []string {
	return []string{string(r.rival), "indeterminate", string(r.model)}
}

// Weights counts communities by verdict of the model-against-rival Akaike weight
func (r *Renderer) Weights(dataset core.DatasetName, fits []fit.FitResult) (string, error) {
	weights := evaluate.PairwiseWeights(fits, r.model, r.rival)
	if len(weights) == 0 {
		return "", fmt.Errorf("no %s/%s weight pairs for %s", r.model, r.rival, dataset)
	}
	counts := evaluate.CountVerdicts(weights)

	p := plot.New()
	p.Title.Text = string(dataset)
	p.Y.Label.Text = "Number of sites"
	values := make(plotter.Values, len(counts))
	for i, c := range counts {
		values[i] = float64(c)
	}
	bars, err := plotter.NewBarChart(values, r.width/8)
	if err != nil {
		return "", err
	}
	bars.Color = r.ramp[0]
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalX(r.Labels()...)

	path := r.Path(dataset, SuffixWeights)
	if err := p.Save(r.width, r.height, path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

// DatasetFits is one dataset's fits for the cross-dataset figures
type DatasetFits struct {
	Dataset core.DatasetName
	Fits    []fit.FitResult
}

// CrossWeights draws the share of sites per weight verdict, one bar group per
// verdict and one bar colour per dataset. Datasets without weight pairs are
// left out.
func (r *Renderer) CrossWeights(sets []DatasetFits) (string, error) {
	type series struct {
		name   string
		shares plotter.Values
	}
	var all []series
	for _, set := range sets {
		weights := evaluate.PairwiseWeights(set.Fits, r.model, r.rival)
		if len(weights) == 0 {
			continue
		}
		counts := evaluate.CountVerdicts(weights)
		shares := make(plotter.Values, len(counts))
		for i, c := range counts {
			shares[i] = 100 * float64(c) / float64(len(weights))
		}
		all = append(all, series{name: string(set.Dataset), shares: shares})
	}
	if len(all) == 0 {
		return "", fmt.Errorf("no %s/%s weight pairs in any dataset", r.model, r.rival)
	}

	p := plot.New()
	p.Y.Label.Text = "Percentage of sites"
	p.Y.Min, p.Y.Max = 0, 100
	p.Legend.Top = true
	barWidth := r.width / vg.Length(4*len(all)+4)
	for i, s := range all {
		bars, err := plotter.NewBarChart(s.shares, barWidth)
		if err != nil {
			return "", err
		}
		bars.Color = r.seriesColour(i, len(all))
		bars.LineStyle.Width = 0
		bars.Offset = barWidth * vg.Length(2*i-len(all)+1) / 2
		p.Add(bars)
		p.Legend.Add(s.name, bars)
	}
	p.NominalX(r.Labels()...)

	path := filepath.Join(r.dir, FileCrossWeights)
	if err := p.Save(r.width, r.height, path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

// DatasetRows is one dataset's observed/predicted rows for the hull figure
type DatasetRows struct {
	Dataset core.DatasetName
	Rows    []fit.ObsPred
}

// ConfidenceHulls overlays, on log axes, the convex hull of each dataset's
// densest obs/pred points. Densities and hulls are computed in log10 space.
func (r *Renderer) ConfidenceHulls(sets []DatasetRows) (string, error) {
	p := plot.New()
	p.X.Label.Text = "Predicted abundance"
	p.Y.Label.Text = "Observed abundance"
	logAxes(p)
	p.Legend.Top = true
	p.Legend.Left = true

	drawn := 0
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, set := range sets {
		var pts []density.Point
		for _, row := range set.Rows {
			if row.Observed > 0 && row.Predicted > 0 {
				pts = append(pts, density.Point{X: math.Log10(float64(row.Predicted)), Y: math.Log10(float64(row.Observed))})
			}
		}
		hull, err := r.estimator.ConfidenceHull(pts, r.hullConf)
		if err != nil {
			return "", err
		}
		if len(hull) < 3 {
			continue
		}

		xys := make(plotter.XYs, len(hull))
		for j, h := range hull {
			xys[j] = plotter.XY{X: math.Pow(10, h.X), Y: math.Pow(10, h.Y)}
		}
		l, h := extent(xys)
		lo, hi = math.Min(lo, l), math.Max(hi, h)

		poly, err := plotter.NewPolygon(xys)
		if err != nil {
			return "", err
		}
		c := r.seriesColour(i, len(sets))
		poly.Color = color.NRGBA{R: c.R, G: c.G, B: c.B, A: 128}
		poly.LineStyle.Color = c
		p.Add(poly)
		p.Legend.Add(string(set.Dataset), poly)
		drawn++
	}
	if drawn == 0 {
		return "", fmt.Errorf("no dataset has enough distinct obs/pred points for a hull")
	}

	diag, err := plotter.NewLine(plotter.XYs{{X: lo / 2, Y: lo / 2}, {X: hi * 2, Y: hi * 2}})
	if err != nil {
		return "", err
	}
	diag.LineStyle.Color = color.Black
	p.Add(diag)

	path := filepath.Join(r.dir, FileHulls)
	if err := p.Save(r.width, r.height, path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

// seriesColour spreads n series evenly along the ramp
func (r *Renderer) seriesColour(i, n int) color.RGBA {
	if n <= 1 {
		return r.ramp[0]
	}
	return r.ramp.At(float64(i) / float64(n-1))
}

// Classes tiles one observed-against-predicted panel per abundance class
func (r *Renderer) Classes(dataset core.DatasetName, regressions []evaluate.ClassRegression) (string, error) {
	if len(regressions) == 0 {
		return "", fmt.Errorf("no abundance classes for %s", dataset)
	}
	const cols = 2
	classEstimator := density.NewEstimator(density.WithAbsoluteRadius(ClassRadius))
	rows := (len(regressions) + cols - 1) / cols
	plots := make([][]*plot.Plot, rows)
	for i := range plots {
		plots[i] = make([]*plot.Plot, cols)
	}

	for i, reg := range regressions {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s (r² %s)", reg.Class, formatR2(reg.RSquared))
		p.X.Label.Text = "Predicted"
		p.Y.Label.Text = "Observed"

		pts := make([]density.Point, len(reg.Points))
		for j, pt := range reg.Points {
			pts[j] = density.Point{X: pt.Predicted, Y: pt.Observed}
		}
		xys, colours := r.byDensity(classEstimator, pts)
		if len(xys) > 0 {
			s, err := plotter.NewScatter(xys)
			if err != nil {
				return "", err
			}
			s.GlyphStyleFunc = func(i int) draw.GlyphStyle {
				return draw.GlyphStyle{Color: colours[i], Radius: vg.Points(2), Shape: draw.CircleGlyph{}}
			}
			p.Add(s)

			if !math.IsNaN(reg.Slope) {
				lo, hi := xRange(xys)
				line, err := plotter.NewLine(plotter.XYs{
					{X: lo, Y: reg.Intercept + reg.Slope*lo},
					{X: hi, Y: reg.Intercept + reg.Slope*hi},
				})
				if err != nil {
					return "", err
				}
				line.LineStyle.Color = r.ramp[len(r.ramp)-1]
				p.Add(line)
			}
		}
		plots[i/cols][i%cols] = p
	}

	img := vgimg.New(r.width*cols, r.height*vg.Length(rows))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: rows, Cols: cols,
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Points(2), PadBottom: vg.Points(2), PadLeft: vg.Points(2), PadRight: vg.Points(2),
	}
	canvases := plot.Align(plots, tiles, dc)
	for j := range plots {
		for i := range plots[j] {
			if plots[j][i] != nil {
				plots[j][i].Draw(canvases[j][i])
			}
		}
	}

	path := r.Path(dataset, SuffixClasses)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// byDensity returns pts as XYs with their density colours, densest last
func (r *Renderer) byDensity(e *density.Estimator, pts []density.Point) (plotter.XYs, []color.RGBA) {
	d := e.Estimate(pts)
	colours := r.ramp.Colors(d)
	xys := make(plotter.XYs, len(pts))
	out := make([]color.RGBA, len(pts))
	for i, idx := range density.Order(d) {
		xys[i] = plotter.XY{X: pts[idx].X, Y: pts[idx].Y}
		out[i] = colours[idx]
	}
	return xys, out
}

func logAxes(p *plot.Plot) {
	p.X.Scale = plot.LogScale{}
	p.Y.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
}

// extent returns the smallest and largest coordinate over both axes
func extent(xys plotter.XYs) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range xys {
		lo = math.Min(lo, math.Min(p.X, p.Y))
		hi = math.Max(hi, math.Max(p.X, p.Y))
	}
	return lo, hi
}

func xRange(xys plotter.XYs) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range xys {
		lo = math.Min(lo, p.X)
		hi = math.Max(hi, p.X)
	}
	return lo, hi
}

func formatR2(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}
