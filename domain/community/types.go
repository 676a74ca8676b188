package community

import (
	"fmt"
	"sort"

	"metesad/domain/core"
)

// Community is one site's census: the per-species abundance counts.
// It is immutable once constructed; accessors return copies.
type Community struct {
	id         core.CommunityID
	dataset    core.DatasetName
	abundances []int
	n0         int
}

// New validates and copies abundances into a Community
func New(dataset core.DatasetName, id core.CommunityID, abundances []int) (*Community, error) {
	if len(abundances) == 0 {
		return nil, core.NewInvalidParametersError(fmt.Sprintf("community %s has no species", id))
	}

	ab := make([]int, len(abundances))
	total := 0
	for i, n := range abundances {
		if n < 1 {
			return nil, core.NewInvalidParametersError(fmt.Sprintf("community %s species %d has abundance %d", id, i, n))
		}
		ab[i] = n
		total += n
	}

	return &Community{id: id, dataset: dataset, abundances: ab, n0: total}, nil
}

// ID returns the community identifier
func (c *Community) ID() core.CommunityID { return c.id }

// Dataset returns the dataset the community belongs to
func (c *Community) Dataset() core.DatasetName { return c.dataset }

// S0 is the number of species
func (c *Community) S0() int { return len(c.abundances) }

// N0 is the total number of individuals
func (c *Community) N0() int { return c.n0 }

// Abundances returns a copy in load order
func (c *Community) Abundances() []int {
	out := make([]int, len(c.abundances))
	copy(out, c.abundances)
	return out
}

// Ranked returns a copy sorted from most to least abundant
func (c *Community) Ranked() []int {
	return RankDescending(c.abundances)
}

// Key returns the artifact key for a model fitted to this community
func (c *Community) Key(model core.ModelName) core.ArtifactKey {
	return core.ArtifactKey{Dataset: c.dataset, Community: c.id, Model: model}
}

// String implements fmt.Stringer
func (c *Community) String() string {
	return fmt.Sprintf("%s/%s (S0=%d, N0=%d)", c.dataset, c.id, c.S0(), c.N0())
}

// RankDescending returns a sorted copy of abundances, largest first
func RankDescending(abundances []int) []int {
	out := make([]int, len(abundances))
	copy(out, abundances)
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}
