package simulate

import (
	"fmt"
	"math"

	"metesad/domain/fit"

	"github.com/montanaflynn/stats"
)

// Summarize compares the observed fit against the batch's null distribution
func Summarize(batch *fit.SimulationBatch, observed fit.FitResult) (fit.NullSummary, error) {
	if !batch.Sealed() {
		return fit.NullSummary{}, fmt.Errorf("simulation batch %s is not sealed", batch.Key())
	}
	if batch.Key() != observed.Key() {
		return fit.NullSummary{}, fmt.Errorf("observed fit %s does not match batch %s", observed.Key(), batch.Key())
	}

	r2 := batch.RSquared()
	ll := batch.LogLikelihoods()
	r2Stats := describe(r2)
	llStats := describe(ll)

	return fit.NullSummary{
		Dataset:    batch.Dataset,
		Community:  batch.Community,
		Model:      batch.Model,
		Replicates: len(batch.Replicates),
		ObservedR2: observed.RSquared,
		MeanR2:     r2Stats.mean,
		StdDevR2:   r2Stats.sd,
		LowerR2:    r2Stats.lower,
		MedianR2:   r2Stats.median,
		UpperR2:    r2Stats.upper,
		PValueR2:   fit.EmpiricalPValue(r2, observed.RSquared),
		ObservedLL: observed.LogLikelihood,
		MeanLL:     llStats.mean,
		PValueLL:   fit.EmpiricalPValue(ll, observed.LogLikelihood),
	}, nil
}

type description struct {
	mean, sd             float64
	lower, median, upper float64
}

// describe ignores NaN and infinite replicates
func describe(values []float64) description {
	finite := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}

	nan := math.NaN()
	d := description{mean: nan, sd: nan, lower: nan, median: nan, upper: nan}
	if len(finite) == 0 {
		return d
	}

	d.mean, _ = stats.Mean(finite)
	d.sd, _ = stats.StandardDeviation(finite)
	d.median, _ = stats.Median(finite)
	if v, err := stats.Percentile(finite, 2.5); err == nil {
		d.lower = v
	} else {
		d.lower, _ = stats.Min(finite)
	}
	if v, err := stats.Percentile(finite, 97.5); err == nil {
		d.upper = v
	} else {
		d.upper, _ = stats.Max(finite)
	}
	return d
}
