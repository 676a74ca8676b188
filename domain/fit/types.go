package fit

import (
	"fmt"
	"math"
	"sort"

	"metesad/domain/core"
)

// FitResult holds the goodness-of-fit statistics of one model on one community
// INVARIANTS:
// - S0 > 0, N0 >= S0
// - AICc is NaN when S0 <= K+1 (small-sample correction undefined)
type FitResult struct {
	Model         core.ModelName   `json:"model"`
	Dataset       core.DatasetName `json:"dataset"`
	Community     core.CommunityID `json:"community"`
	S0            int              `json:"s0"`
	N0            int              `json:"n0"`
	K             int              `json:"k"`              // Free parameters
	Params        []float64        `json:"params"`         // Solved model parameters, model-specific order
	LogLikelihood float64          `json:"log_likelihood"` // Sum of log pmf over observed abundances
	AICc          float64          `json:"aicc"`
	RSquared      float64          `json:"r_squared"`      // 1:1 line, log10 rank-abundance
	AkaikeWeight  float64          `json:"akaike_weight"`  // NaN until compared against other models
}

// Key returns the artifact key for this result
func (r FitResult) Key() core.ArtifactKey {
	return core.ArtifactKey{Dataset: r.Dataset, Community: r.Community, Model: r.Model}
}

// WithAkaikeWeight returns a copy carrying the comparison weight
func (r FitResult) WithAkaikeWeight(w float64) FitResult {
	r.Params = append([]float64(nil), r.Params...)
	r.AkaikeWeight = w
	return r
}

// ObsPred is a paired observed/predicted abundance for one species rank
type ObsPred struct {
	Dataset   core.DatasetName `json:"dataset"`
	Community core.CommunityID `json:"community"`
	Rank      int              `json:"rank"`
	Observed  int              `json:"observed"`
	Predicted int              `json:"predicted"`
}

// SamplerStrategy names the constrained-sum algorithm used for a batch
type SamplerStrategy string

const (
	SamplerExact        SamplerStrategy = "exact_conditional" // Sequential conditional sampling on exact partial-sum law
	SamplerRejection    SamplerStrategy = "rejection"         // S0-1 iid draws, remainder accepted by pmf ratio
	SamplerProportional SamplerStrategy = "proportional"      // iid draws rescaled with largest-remainder rounding
)

// ReplicateStat is the fit of the null model to one simulated community
type ReplicateStat struct {
	Index         int             `json:"index"`
	Sampler       SamplerStrategy `json:"sampler"`
	LogLikelihood float64         `json:"log_likelihood"`
	AICc          float64         `json:"aicc"`
	RSquared      float64         `json:"r_squared"`
}

// SimulationBatch is the null distribution of fit statistics for one community
// Lifecycle: created at simulation time, sealed, persisted, read by figures.
type SimulationBatch struct {
	RunID      core.RunID       `json:"run_id"`
	Dataset    core.DatasetName `json:"dataset"`
	Community  core.CommunityID `json:"community"`
	Model      core.ModelName   `json:"model"`
	S0         int              `json:"s0"`
	N0         int              `json:"n0"`
	Seed       int64            `json:"seed"`
	Replicates []ReplicateStat  `json:"replicates"`
	CreatedAt  core.Timestamp   `json:"created_at"`
	sealed     bool
}

// NewSimulationBatch starts an unsealed batch
func NewSimulationBatch(key core.ArtifactKey, s0, n0 int, seed int64) *SimulationBatch {
	return &SimulationBatch{
		RunID:     core.NewRunID(),
		Dataset:   key.Dataset,
		Community: key.Community,
		Model:     key.Model,
		S0:        s0,
		N0:        n0,
		Seed:      seed,
		CreatedAt: core.Now(),
	}
}

// Key returns the artifact key for this batch
func (b *SimulationBatch) Key() core.ArtifactKey {
	return core.ArtifactKey{Dataset: b.Dataset, Community: b.Community, Model: b.Model}
}

// Seal orders replicates by index and freezes the batch
func (b *SimulationBatch) Seal(stats []ReplicateStat) error {
	if b.sealed {
		return fmt.Errorf("simulation batch %s already sealed", b.Key())
	}
	out := append([]ReplicateStat(nil), stats...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	for i, s := range out {
		if s.Index != i {
			return fmt.Errorf("simulation batch %s missing replicate %d", b.Key(), i)
		}
	}
	b.Replicates = out
	b.sealed = true
	return nil
}

// Sealed reports whether Seal has completed
func (b *SimulationBatch) Sealed() bool { return b.sealed }

// RSquared returns the replicate R² values in index order
func (b *SimulationBatch) RSquared() []float64 {
	out := make([]float64, 0, len(b.Replicates))
	for _, r := range b.Replicates {
		out = append(out, r.RSquared)
	}
	return out
}

// LogLikelihoods returns the replicate log-likelihoods in index order
func (b *SimulationBatch) LogLikelihoods() []float64 {
	out := make([]float64, 0, len(b.Replicates))
	for _, r := range b.Replicates {
		out = append(out, r.LogLikelihood)
	}
	return out
}

// NullSummary summarizes a batch against the observed fit
type NullSummary struct {
	Dataset       core.DatasetName `json:"dataset"`
	Community     core.CommunityID `json:"community"`
	Model         core.ModelName   `json:"model"`
	Replicates    int              `json:"replicates"`
	ObservedR2    float64          `json:"observed_r2"`
	MeanR2        float64          `json:"mean_r2"`
	StdDevR2      float64          `json:"sd_r2"`
	LowerR2       float64          `json:"lower_r2"` // 2.5th percentile
	MedianR2      float64          `json:"median_r2"`
	UpperR2       float64          `json:"upper_r2"` // 97.5th percentile
	PValueR2      float64          `json:"p_r2"`     // P(null R² <= observed R²)
	ObservedLL    float64          `json:"observed_ll"`
	MeanLL        float64          `json:"mean_ll"`
	PValueLL      float64          `json:"p_ll"`     // P(null LL <= observed LL)
}

// EmpiricalPValue returns (1 + #{null <= observed}) / (1 + len(null)), ignoring NaN replicates
func EmpiricalPValue(null []float64, observed float64) float64 {
	if math.IsNaN(observed) {
		return math.NaN()
	}
	count, total := 0, 0
	for _, v := range null {
		if math.IsNaN(v) {
			continue
		}
		total++
		if v <= observed {
			count++
		}
	}
	return float64(1+count) / float64(1+total)
}

// Failure records why a community was excluded from output tables
type Failure struct {
	Dataset   core.DatasetName `json:"dataset"`
	Community core.CommunityID `json:"community"`
	Stage     string           `json:"stage"`
	Code      string           `json:"code"`
	Reason    string           `json:"reason"`
}
