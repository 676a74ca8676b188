package community

import (
	"testing"

	"metesad/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesConstraints(t *testing.T) {
	c, err := New("bbs", "site_1", []int{3, 10, 1, 6})
	require.NoError(t, err)

	assert.Equal(t, 4, c.S0())
	assert.Equal(t, 20, c.N0())
	assert.Equal(t, []int{10, 6, 3, 1}, c.Ranked())
	assert.Equal(t, []int{3, 10, 1, 6}, c.Abundances())
	assert.Equal(t, "bbs/site_1/mete", c.Key("mete").String())
}

func TestNew_RejectsInvalidAbundances(t *testing.T) {
	_, err := New("bbs", "empty", nil)
	assert.True(t, core.IsInvalidParameters(err))

	_, err = New("bbs", "zero", []int{4, 0, 2})
	assert.True(t, core.IsInvalidParameters(err))
}

func TestCommunity_IsImmutable(t *testing.T) {
	input := []int{5, 2, 1}
	c, err := New("cbc", "x", input)
	require.NoError(t, err)

	input[0] = 999
	ab := c.Abundances()
	ab[1] = 999
	ranked := c.Ranked()
	ranked[2] = 999

	assert.Equal(t, []int{5, 2, 1}, c.Abundances())
	assert.Equal(t, 8, c.N0())
}
