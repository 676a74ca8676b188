package fit

import (
	"math"
	"testing"

	"metesad/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationBatch_SealOrdersAndFreezes(t *testing.T) {
	b := NewSimulationBatch(core.ArtifactKey{Dataset: "bbs", Community: "1", Model: "mete"}, 10, 100, 7)
	assert.False(t, b.RunID.String() == "")

	err := b.Seal([]ReplicateStat{{Index: 2, RSquared: 0.3}, {Index: 0, RSquared: 0.1}, {Index: 1, RSquared: 0.2}})
	require.NoError(t, err)
	assert.True(t, b.Sealed())
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, b.RSquared())

	assert.Error(t, b.Seal(nil), "second seal must fail")
}

func TestSimulationBatch_SealRejectsGaps(t *testing.T) {
	b := NewSimulationBatch(core.ArtifactKey{Dataset: "bbs", Community: "1", Model: "mete"}, 10, 100, 7)
	err := b.Seal([]ReplicateStat{{Index: 0}, {Index: 2}})
	assert.Error(t, err)
	assert.False(t, b.Sealed())
}

func TestEmpiricalPValue(t *testing.T) {
	null := []float64{0.1, 0.2, 0.3, math.NaN(), 0.9}
	assert.InDelta(t, 3.0/5.0, EmpiricalPValue(null, 0.25), 1e-12)
	assert.InDelta(t, 1.0/5.0, EmpiricalPValue(null, 0.0), 1e-12)
	assert.True(t, math.IsNaN(EmpiricalPValue(null, math.NaN())))
}
