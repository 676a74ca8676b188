package density

import (
	"fmt"
	"math"
	"sort"
)

// ConfidenceHull returns the convex hull of the densest conf fraction of
// points, counter-clockwise. Fewer than three distinct kept points give a
// degenerate hull of those points.
func (e *Estimator) ConfidenceHull(points []Point, conf float64) ([]Point, error) {
	if conf <= 0 || conf > 1 || math.IsNaN(conf) {
		return nil, fmt.Errorf("confidence %v outside (0, 1]", conf)
	}
	if len(points) == 0 {
		return nil, nil
	}

	order := Order(e.Estimate(points))
	keep := int(math.Ceil(conf * float64(len(points))))
	kept := make([]Point, 0, keep)
	for _, i := range order[len(order)-keep:] {
		kept = append(kept, points[i])
	}
	return ConvexHull(kept), nil
}

// ConvexHull is Andrew's monotone chain. Collinear points are dropped.
func ConvexHull(points []Point) []Point {
	pts := append([]Point(nil), points...)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})
	uniq := pts[:0]
	for _, p := range pts {
		if len(uniq) == 0 || uniq[len(uniq)-1] != p {
			uniq = append(uniq, p)
		}
	}
	if len(uniq) < 3 {
		return uniq
	}

	hull := make([]Point, 0, 2*len(uniq))
	for _, p := range uniq {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(uniq) - 2; i >= 0; i-- {
		p := uniq[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	// the last point repeats the first
	return hull[:len(hull)-1]
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}
