package density

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Point is one scatter-plot coordinate
type Point struct {
	X, Y float64
}

// DefaultRadius is the neighbourhood radius as a fraction of the cloud's extent
const DefaultRadius = 0.05

// Estimator counts, for every point, the other points within a fixed radius
type Estimator struct {
	radius   float64
	absolute bool
}

// Option configures an Estimator
type Option func(*Estimator)

// WithRadius sets the radius as a fraction of the larger bounding-box side
func WithRadius(fraction float64) Option {
	return func(e *Estimator) {
		e.radius = fraction
		e.absolute = false
	}
}

// WithAbsoluteRadius sets the radius in data units. Densities are then
// translation invariant but not scale invariant.
func WithAbsoluteRadius(r float64) Option {
	return func(e *Estimator) {
		e.radius = r
		e.absolute = true
	}
}

// NewEstimator creates an estimator with DefaultRadius unless overridden
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{radius: DefaultRadius}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Radius returns the configured radius and whether it is absolute
func (e *Estimator) Radius() (float64, bool) {
	return e.radius, e.absolute
}

// NaiveEstimate is the O(n²) all-pairs reference
func (e *Estimator) NaiveEstimate(points []Point) []float64 {
	xs, ys, r := e.normalize(points)
	r2 := r * r
	out := make([]float64, len(points))
	for i := range xs {
		for j := i + 1; j < len(xs); j++ {
			if within(xs[i], ys[i], xs[j], ys[j], r2) {
				out[i]++
				out[j]++
			}
		}
	}
	return out
}

// Estimate answers one radius query per point against a k-d tree of the
// normalized cloud. Counts equal NaiveEstimate.
func (e *Estimator) Estimate(points []Point) []float64 {
	xs, ys, r := e.normalize(points)
	out := make([]float64, len(points))
	if len(points) == 0 {
		return out
	}
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return e.NaiveEstimate(points)
	}

	// kdtree.New reorders its input, so the tree gets its own copy
	pts := make(kdtree.Points, len(xs))
	for i := range xs {
		pts[i] = kdtree.Point{xs[i], ys[i]}
	}
	tree := kdtree.New(pts, false)

	// kdtree.Point distances are squared
	r2 := r * r
	for i := range xs {
		keep := kdtree.NewDistKeeper(r2)
		tree.NearestSet(keep, kdtree.Point{xs[i], ys[i]})
		n := 0
		for _, c := range keep.Heap {
			if c.Comparable != nil && c.Dist <= r2 {
				n++
			}
		}
		// the query point finds itself
		out[i] = float64(n - 1)
	}
	return out
}

func within(x1, y1, x2, y2, r2 float64) bool {
	dx, dy := x1-x2, y1-y2
	return dx*dx+dy*dy <= r2
}

// normalize maps points into the unit box anchored at the minimum corner,
// dividing both axes by the larger side so distances scale uniformly
func (e *Estimator) normalize(points []Point) (xs, ys []float64, r float64) {
	xs = make([]float64, len(points))
	ys = make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.X, p.Y
	}
	if len(points) == 0 {
		return xs, ys, e.radius
	}

	minX, minY := floats.Min(xs), floats.Min(ys)
	floats.AddConst(-minX, xs)
	floats.AddConst(-minY, ys)
	if e.absolute {
		return xs, ys, e.radius
	}

	extent := math.Max(floats.Max(xs), floats.Max(ys))
	if extent == 0 {
		// every point coincides
		return xs, ys, e.radius
	}
	floats.Scale(1/extent, xs)
	floats.Scale(1/extent, ys)
	return xs, ys, e.radius
}
