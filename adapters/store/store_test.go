package store

import (
	"bytes"
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/internal/testkit"
)

const ds = core.DatasetName("bci")

func TestCSVStore_Fits(t *testing.T) {
	s, err := NewCSVStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	in := []fit.FitResult{
		{Model: "mete", Dataset: ds, Community: "p1", S0: 12, N0: 240, K: 0, LogLikelihood: -40.5, AICc: 81, RSquared: 0.93, AkaikeWeight: 0.7},
		{Model: "pln", Dataset: ds, Community: "p1", S0: 12, N0: 240, K: 2, Params: []float64{1.25, 0.5}, LogLikelihood: -41, AICc: math.NaN(), RSquared: math.Inf(-1), AkaikeWeight: math.NaN()},
	}
	require.NoError(t, s.SaveFits(ctx, ds, in))

	out, err := s.LoadFits(ctx, ds)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in[0], out[0])
	assert.Empty(t, out[0].Params)
	assert.Equal(t, []float64{1.25, 0.5}, out[1].Params)
	assert.True(t, math.IsNaN(out[1].AICc))
	assert.True(t, math.IsInf(out[1].RSquared, -1))
}

func TestCSVStore_ObsPredRanksFromOrder(t *testing.T) {
	s, err := NewCSVStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	in := []fit.ObsPred{
		{Dataset: ds, Community: "a", Rank: 1, Observed: 9, Predicted: 8},
		{Dataset: ds, Community: "a", Rank: 2, Observed: 3, Predicted: 4},
		{Dataset: ds, Community: "b", Rank: 1, Observed: 5, Predicted: 5},
	}
	require.NoError(t, s.SaveObsPred(ctx, ds, in))
	out, err := s.LoadObsPred(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCSVStore_BatchesReseal(t *testing.T) {
	s, err := NewCSVStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := core.ArtifactKey{Dataset: ds, Community: "p2", Model: "mete"}
	b := fit.NewSimulationBatch(key, 5, 40, 17)
	b.CreatedAt = core.NewTimestamp(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, b.Seal([]fit.ReplicateStat{
		{Index: 1, Sampler: fit.SamplerRejection, LogLikelihood: -9, AICc: math.NaN(), RSquared: 0.4},
		{Index: 0, Sampler: fit.SamplerExact, LogLikelihood: -8, AICc: math.NaN(), RSquared: 0.6},
	}))

	unsealed := fit.NewSimulationBatch(key, 5, 40, 17)
	assert.Error(t, s.SaveBatches(ctx, ds, []*fit.SimulationBatch{unsealed}))

	require.NoError(t, s.SaveBatches(ctx, ds, []*fit.SimulationBatch{b}))
	out, err := s.LoadBatches(ctx, ds)
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := out[0]
	assert.True(t, got.Sealed())
	assert.Equal(t, b.RunID, got.RunID)
	assert.Equal(t, b.Seed, got.Seed)
	assert.Equal(t, key, got.Key())
	assert.True(t, b.CreatedAt.Time().Equal(got.CreatedAt.Time()))
	assert.Equal(t, []float64{0.6, 0.4}, got.RSquared())
	assert.Equal(t, fit.SamplerExact, got.Replicates[0].Sampler)
}

func TestCSVStore_NullSummariesAndFailures(t *testing.T) {
	s, err := NewCSVStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	sum := fit.NullSummary{Dataset: ds, Community: "p1", Model: "mete", Replicates: 100, ObservedR2: 0.9, MeanR2: 0.8, StdDevR2: 0.05, LowerR2: 0.7, MedianR2: 0.81, UpperR2: 0.88, PValueR2: 0.99, ObservedLL: -30, MeanLL: -31, PValueLL: 0.6}
	require.NoError(t, s.SaveNullSummaries(ctx, ds, []fit.NullSummary{sum}))
	got, err := s.LoadNullSummaries(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, []fit.NullSummary{sum}, got)

	require.NoError(t, s.SaveFailures(ctx, ds, []fit.Failure{{Dataset: ds, Community: "p9", Stage: "empirical", Code: "DOMAIN_ERROR", Reason: "S0 > N0"}}))
	raw, err := os.ReadFile(s.Path(ds, SuffixFailures))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "p9,empirical,DOMAIN_ERROR,S0 > N0")
}

func TestCSVStore_Errors(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.LoadFits(ctx, "missing")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(s.Path(ds, SuffixFits), []byte("a,b\n1,2\n"), 0o644))
	_, err = s.LoadFits(ctx, ds)
	assert.Error(t, err)
}

func TestFileCheckpointStore(t *testing.T) {
	s, err := NewFileCheckpointStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := core.ArtifactKey{Dataset: ds, Community: "plot/7", Model: "mete"}

	got, err := s.LoadReplicates(ctx, key, 3)
	require.NoError(t, err)
	assert.Nil(t, got)

	first := []fit.ReplicateStat{{Index: 0, Sampler: fit.SamplerExact, LogLikelihood: -1, AICc: math.NaN(), RSquared: 0.5}}
	second := []fit.ReplicateStat{{Index: 2, Sampler: fit.SamplerExact, LogLikelihood: -2, AICc: math.NaN(), RSquared: 0.3}}
	require.NoError(t, s.AppendReplicates(ctx, key, 3, first))
	require.NoError(t, s.AppendReplicates(ctx, key, 3, second))
	require.NoError(t, s.AppendReplicates(ctx, key, 3, nil))

	got, err = s.LoadReplicates(ctx, key, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 2, got[1].Index)
	assert.Equal(t, 0.3, got[1].RSquared)

	_, err = s.LoadReplicates(ctx, key, 4)
	assert.ErrorIs(t, err, core.ErrSeedMismatch)

	require.NoError(t, s.Clear(ctx, key))
	require.NoError(t, s.Clear(ctx, key))
	got, err = s.LoadReplicates(ctx, key, 3)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileCheckpointStore_TornTail(t *testing.T) {
	s, err := NewFileCheckpointStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := core.ArtifactKey{Dataset: ds, Community: "p1", Model: "logseries"}

	require.NoError(t, s.AppendReplicates(ctx, key, 1, []fit.ReplicateStat{{Index: 0, Sampler: fit.SamplerRejection, RSquared: 0.2}}))
	f, err := os.OpenFile(s.Path(key), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("1,rejec")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := s.LoadReplicates(ctx, key, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// the next append replaces the torn record instead of joining onto it
	require.NoError(t, s.AppendReplicates(ctx, key, 1, []fit.ReplicateStat{{Index: 1, Sampler: fit.SamplerExact, RSquared: 0.4}}))
	got, err = s.LoadReplicates(ctx, key, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[1].Index)
	assert.Equal(t, fit.SamplerExact, got[1].Sampler)
	assert.Equal(t, 0.4, got[1].RSquared)

	raw, err := os.ReadFile(s.Path(key))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "rejec1")
	assert.True(t, bytes.HasSuffix(raw, []byte("\n")))
}

func TestFileCheckpointStore_TornHeader(t *testing.T) {
	s, err := NewFileCheckpointStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := core.ArtifactKey{Dataset: ds, Community: "p1", Model: "mete"}
	require.NoError(t, os.WriteFile(s.Path(key), []byte("see"), 0o644))

	got, err := s.LoadReplicates(ctx, key, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.AppendReplicates(ctx, key, 5, []fit.ReplicateStat{{Index: 0, Sampler: fit.SamplerExact}}))
	got, err = s.LoadReplicates(ctx, key, 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFileCheckpointStore_RejectsShortRecord(t *testing.T) {
	s, err := NewFileCheckpointStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := core.ArtifactKey{Dataset: ds, Community: "p1", Model: "pln"}
	require.NoError(t, os.WriteFile(s.Path(key), []byte("seed,2\n0,exact,-1,4,0.5\n1,exact,-1\n2,exact,-1,4,0.6\n"), 0o644))

	_, err = s.LoadReplicates(ctx, key, 2)
	assert.ErrorContains(t, err, "record 1 has 3 fields, want 5")
}

func TestMirror(t *testing.T) {
	primary, err := NewCSVStore(t.TempDir())
	require.NoError(t, err)
	mem := testkit.NewMemoryResultStore()
	m := NewMirror(primary, mem, nil)
	ctx := context.Background()

	rows := []fit.FitResult{{Model: "mete", Dataset: ds, Community: "p1", S0: 3, N0: 9, LogLikelihood: -5, AICc: math.NaN(), RSquared: 1, AkaikeWeight: 1}}
	require.NoError(t, m.SaveFits(ctx, ds, rows))
	require.NoError(t, m.SaveFailures(ctx, ds, []fit.Failure{{Dataset: ds, Community: "p2", Stage: "empirical", Code: "INSUFFICIENT_DATA"}}))

	fromMem, err := mem.LoadFits(ctx, ds)
	require.NoError(t, err)
	assert.Len(t, fromMem, 1)
	assert.Len(t, mem.Failures(ds), 1)

	loaded, err := m.LoadFits(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, "p1", string(loaded[0].Community))
}
