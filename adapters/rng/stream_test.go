package rng

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draws(t *testing.T, stage, key string, index int, seed int64) []int64 {
	t.Helper()
	r, err := NewStreamAdapter().Stream(context.Background(), stage, key, index, seed)
	require.NoError(t, err)
	out := make([]int64, 8)
	for i := range out {
		out[i] = r.Int63()
	}
	return out
}

func TestStream_Deterministic(t *testing.T) {
	assert.Equal(t, draws(t, "simulate", "bci/1982/mete", 3, 42), draws(t, "simulate", "bci/1982/mete", 3, 42))
}

func TestStream_DistinctPerReplicateKeyAndSeed(t *testing.T) {
	base := draws(t, "simulate", "bci/1982/mete", 3, 42)
	assert.NotEqual(t, base, draws(t, "simulate", "bci/1982/mete", 4, 42))
	assert.NotEqual(t, base, draws(t, "simulate", "bci/1983/mete", 3, 42))
	assert.NotEqual(t, base, draws(t, "simulate", "bci/1982/mete", 3, 43))
	assert.NotEqual(t, base, draws(t, "figures", "bci/1982/mete", 3, 42))
}

func TestSeededStream(t *testing.T) {
	a, err := NewStreamAdapter().SeededStream(context.Background(), "jitter", 7)
	require.NoError(t, err)
	b, err := NewStreamAdapter().SeededStream(context.Background(), "jitter", 7)
	require.NoError(t, err)
	assert.Equal(t, a.Int63(), b.Int63())
}
