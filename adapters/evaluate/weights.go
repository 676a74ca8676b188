package evaluate

import (
	"math"
	"sort"

	"metesad/domain/core"
	"metesad/domain/fit"
)

// WeightBins split a two-model Akaike weight into favours-rival,
// indeterminate and favours-model. The last bin is closed.
var WeightBins = []float64{0, 0.4, 0.6, 1}

// Weight verdicts, indexed by WeightBin
const (
	VerdictRival = iota
	VerdictIndeterminate
	VerdictModel
)

// PairWeight is one community's Akaike weight of a model against a single rival
type PairWeight struct {
	Community core.CommunityID
	Weight    float64
}

// PairwiseWeights recomputes Akaike weights using only model and rival, per
// community, in community order. Communities missing either fit or with an
// undefined AICc are left out.
func PairwiseWeights(fits []fit.FitResult, model, rival core.ModelName) []PairWeight {
	type pair struct {
		model, rival float64
		has          int
	}
	byCommunity := map[core.CommunityID]*pair{}
	for _, f := range fits {
		if f.Model != model && f.Model != rival {
			continue
		}
		p, ok := byCommunity[f.Community]
		if !ok {
			p = &pair{}
			byCommunity[f.Community] = p
		}
		if f.Model == model {
			p.model = f.AICc
			p.has |= 1
		} else {
			p.rival = f.AICc
			p.has |= 2
		}
	}

	out := make([]PairWeight, 0, len(byCommunity))
	for id, p := range byCommunity {
		if p.has != 3 {
			continue
		}
		w := AkaikeWeights([]float64{p.model, p.rival})[0]
		if math.IsNaN(w) {
			continue
		}
		out = append(out, PairWeight{Community: id, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Community < out[j].Community })
	return out
}

// WeightBin returns the verdict for w, or -1 outside [0, 1]
func WeightBin(w float64) int {
	if math.IsNaN(w) || w < WeightBins[0] || w > WeightBins[len(WeightBins)-1] {
		return -1
	}
	for i := 1; i < len(WeightBins)-1; i++ {
		if w < WeightBins[i] {
			return i - 1
		}
	}
	return len(WeightBins) - 2
}

// CountVerdicts histograms weights over WeightBins
func CountVerdicts(weights []PairWeight) []int {
	out := make([]int, len(WeightBins)-1)
	for _, w := range weights {
		if b := WeightBin(w.Weight); b >= 0 {
			out[b]++
		}
	}
	return out
}
