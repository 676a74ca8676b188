package evaluate

import (
	"math"

	"metesad/domain/fit"

	"gonum.org/v1/gonum/stat"
)

// AbundanceClass names a summary of a rank-abundance curve
type AbundanceClass string

const (
	ClassSingletons AbundanceClass = "singletons" // species with n = 1
	ClassDoubletons AbundanceClass = "doubletons" // species with n = 2
	ClassRare       AbundanceClass = "rare"       // species with n <= RareCutoff
	ClassDominant   AbundanceClass = "dominant"   // abundance of the most common species
)

// RareCutoff is the largest abundance counted as rare
const RareCutoff = 10

// Classes lists the classes in reporting order
var Classes = []AbundanceClass{ClassSingletons, ClassDoubletons, ClassRare, ClassDominant}

// ClassCounts summarizes one curve
type ClassCounts map[AbundanceClass]float64

// CountClasses summarizes a rank-abundance curve
func CountClasses(curve []int) ClassCounts {
	out := ClassCounts{}
	for _, c := range Classes {
		out[c] = 0
	}
	for _, n := range curve {
		switch {
		case n == 1:
			out[ClassSingletons]++
		case n == 2:
			out[ClassDoubletons]++
		}
		if n <= RareCutoff {
			out[ClassRare]++
		}
		if float64(n) > out[ClassDominant] {
			out[ClassDominant] = float64(n)
		}
	}
	return out
}

// ClassPoint is the predicted and observed summary of one community
type ClassPoint struct {
	Predicted float64
	Observed  float64
}

// ClassRegression is observed = Intercept + Slope * predicted across communities
type ClassRegression struct {
	Class     AbundanceClass
	Points    []ClassPoint
	Slope     float64
	Intercept float64
	RSquared  float64
}

// RegressClasses pairs the observed and predicted curves of each community and
// regresses observed counts on predicted counts per abundance class.
func RegressClasses(rows []fit.ObsPred) []ClassRegression {
	type pair struct{ obs, pred []int }
	order := []string{}
	byCommunity := map[string]*pair{}
	for _, r := range rows {
		key := string(r.Dataset) + "/" + string(r.Community)
		p, ok := byCommunity[key]
		if !ok {
			p = &pair{}
			byCommunity[key] = p
			order = append(order, key)
		}
		p.obs = append(p.obs, r.Observed)
		p.pred = append(p.pred, r.Predicted)
	}

	points := make(map[AbundanceClass][]ClassPoint, len(Classes))
	for _, key := range order {
		p := byCommunity[key]
		obs, pred := CountClasses(p.obs), CountClasses(p.pred)
		for _, c := range Classes {
			points[c] = append(points[c], ClassPoint{Predicted: pred[c], Observed: obs[c]})
		}
	}

	out := make([]ClassRegression, 0, len(Classes))
	for _, c := range Classes {
		out = append(out, regress(c, points[c]))
	}
	return out
}

func regress(class AbundanceClass, pts []ClassPoint) ClassRegression {
	reg := ClassRegression{
		Class:     class,
		Points:    pts,
		Slope:     math.NaN(),
		Intercept: math.NaN(),
		RSquared:  math.NaN(),
	}
	if len(pts) < 2 {
		return reg
	}

	x := make([]float64, len(pts))
	y := make([]float64, len(pts))
	for i, p := range pts {
		x[i], y[i] = p.Predicted, p.Observed
	}
	if _, v := stat.MeanVariance(x, nil); v == 0 {
		return reg
	}

	reg.Intercept, reg.Slope = stat.LinearRegression(x, y, nil, false)
	reg.RSquared = stat.RSquared(x, y, nil, reg.Intercept, reg.Slope)
	return reg
}
