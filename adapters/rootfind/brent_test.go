package rootfind

import (
	"math"
	"testing"

	"metesad/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrent_FindsKnownRoots(t *testing.T) {
	b := NewBrent()

	tests := []struct {
		name   string
		f      func(float64) float64
		lo, hi float64
		want   float64
	}{
		{"sqrt2", func(x float64) float64 { return x*x - 2 }, 0, 2, math.Sqrt2},
		{"cosine", math.Cos, 0, 3, math.Pi / 2},
		{"cubic", func(x float64) float64 { return x*x*x - x - 1 }, 1, 2, 1.324717957244746},
		{"decreasing", func(x float64) float64 { return math.Exp(-x) - 0.5 }, 0, 10, math.Ln2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.FindRoot(tt.f, tt.lo, tt.hi)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-10)
		})
	}
}

func TestBrent_EndpointRoot(t *testing.T) {
	got, err := NewBrent().FindRoot(func(x float64) float64 { return x - 1 }, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestBrent_RejectsUnbracketed(t *testing.T) {
	_, err := NewBrent().FindRoot(func(x float64) float64 { return x*x + 1 }, -1, 1)
	assert.True(t, core.IsConvergenceError(err))
}

func TestBrent_IterationLimit(t *testing.T) {
	b := &Brent{Tolerance: 0, MaxIter: 2}
	_, err := b.FindRoot(func(x float64) float64 { return x*x*x - 0.3 }, 0, 1)
	assert.True(t, core.IsConvergenceError(err))
}
