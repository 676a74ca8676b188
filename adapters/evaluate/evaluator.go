package evaluate

import (
	"fmt"
	"math"

	"metesad/domain/community"
	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/ports"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Score is the goodness of fit of a model against one ranked abundance vector
type Score struct {
	LogLikelihood float64
	AICc          float64
	RSquared      float64
}

// Evaluator scores SAD models against observed rank-abundance curves
type Evaluator struct{}

// NewEvaluator creates a new evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate fits model to the community's ranked abundances
func (e *Evaluator) Evaluate(model ports.SADModel, c *community.Community) (fit.FitResult, error) {
	sc, err := e.ScoreRanked(model, c.Ranked())
	if err != nil {
		return fit.FitResult{}, fmt.Errorf("evaluate %s on %s: %w", model.Name(), c, err)
	}

	return fit.FitResult{
		Model:         model.Name(),
		Dataset:       c.Dataset(),
		Community:     c.ID(),
		S0:            c.S0(),
		N0:            c.N0(),
		K:             model.NumParams(),
		Params:        model.Params(),
		LogLikelihood: sc.LogLikelihood,
		AICc:          sc.AICc,
		RSquared:      sc.RSquared,
		AkaikeWeight:  math.NaN(),
	}, nil
}

// EvaluateAll scores every model on identical data and attaches Akaike weights
func (e *Evaluator) EvaluateAll(models []ports.SADModel, c *community.Community) ([]fit.FitResult, error) {
	results := make([]fit.FitResult, 0, len(models))
	aicc := make([]float64, 0, len(models))
	for _, m := range models {
		r, err := e.Evaluate(m, c)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
		aicc = append(aicc, r.AICc)
	}

	for i, w := range AkaikeWeights(aicc) {
		results[i] = results[i].WithAkaikeWeight(w)
	}
	return results, nil
}

// ScoreRanked computes LL, AICc and R² for a vector sorted most to least abundant.
// The vector must have exactly S0 entries.
func (e *Evaluator) ScoreRanked(model ports.SADModel, ranked []int) (Score, error) {
	if len(ranked) != model.S0() {
		return Score{}, invalidLength(len(ranked), model.S0())
	}

	ll := 0.0
	for _, n := range ranked {
		lp, err := model.LogPMF(n)
		if err != nil {
			return Score{}, err
		}
		ll += lp
	}

	pred := model.Predicted()
	return Score{
		LogLikelihood: ll,
		AICc:          AICc(ll, model.NumParams(), len(ranked)),
		RSquared:      LogRSquared(ranked, pred),
	}, nil
}

// AICc is 2k - 2LL + 2k(k+1)/(s0-k-1), NaN when s0 <= k+1
func AICc(logLikelihood float64, k, s0 int) float64 {
	if s0 <= k+1 {
		return math.NaN()
	}
	kf := float64(k)
	return 2*kf - 2*logLikelihood + 2*kf*(kf+1)/float64(s0-k-1)
}

// LogRSquared is R² of log10(observed) around the 1:1 line with log10(predicted).
// A constant observed curve gives 1 when matched exactly and NaN otherwise.
func LogRSquared(observed, predicted []int) float64 {
	if len(observed) != len(predicted) || len(observed) == 0 {
		return math.NaN()
	}

	obs := make([]float64, len(observed))
	pred := make([]float64, len(predicted))
	for i := range observed {
		obs[i] = math.Log10(float64(observed[i]))
		pred[i] = math.Log10(float64(predicted[i]))
	}

	if floats.Max(obs) == floats.Min(obs) {
		if floats.Equal(obs, pred) {
			return 1
		}
		return math.NaN()
	}
	return stat.RSquaredFrom(pred, obs, nil)
}

// AkaikeWeights converts AICc values to relative model likelihoods summing to 1.
// Every weight is NaN when any AICc is NaN.
func AkaikeWeights(aicc []float64) []float64 {
	out := make([]float64, len(aicc))
	if len(aicc) == 0 {
		return out
	}
	for _, a := range aicc {
		if math.IsNaN(a) {
			for i := range out {
				out[i] = math.NaN()
			}
			return out
		}
	}

	best := floats.Min(aicc)
	if math.IsInf(best, 1) {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	for i, a := range aicc {
		out[i] = -(a - best) / 2
	}
	norm := floats.LogSumExp(out)
	for i := range out {
		out[i] = math.Exp(out[i] - norm)
	}
	return out
}

// ObsPredRows pairs the community's ranked abundances with the model's curve
func ObsPredRows(model ports.SADModel, c *community.Community) ([]fit.ObsPred, error) {
	obs := c.Ranked()
	if len(obs) != model.S0() {
		return nil, invalidLength(len(obs), model.S0())
	}
	pred := model.Predicted()

	rows := make([]fit.ObsPred, len(obs))
	for i := range obs {
		rows[i] = fit.ObsPred{
			Dataset:   c.Dataset(),
			Community: c.ID(),
			Rank:      i + 1,
			Observed:  obs[i],
			Predicted: pred[i],
		}
	}
	return rows, nil
}

func invalidLength(got, s0 int) error {
	return core.NewInvalidParametersError(fmt.Sprintf("observed vector has %d species, model has S0=%d", got, s0))
}
