package sad

import (
	"fmt"
	"strings"

	"metesad/domain/core"
	"metesad/ports"
)

// ModelSet is the ordered collection of SAD model builders compared on each community
type ModelSet struct {
	builders []ports.ModelBuilder
}

// NewModelSet creates the default comparison set: METE, log-series, Poisson log-normal
func NewModelSet(solver *Solver, finder ports.RootFinder) *ModelSet {
	return &ModelSet{
		builders: []ports.ModelBuilder{
			NewMETEBuilder(solver),
			NewLogSeriesBuilder(finder),
			NewPoissonLognormalBuilder(),
		},
	}
}

// NewModelSetOf wraps explicit builders
func NewModelSetOf(builders ...ports.ModelBuilder) *ModelSet {
	return &ModelSet{builders: builders}
}

// Builders returns the builders in comparison order
func (s *ModelSet) Builders() []ports.ModelBuilder {
	out := make([]ports.ModelBuilder, len(s.builders))
	copy(out, s.builders)
	return out
}

// Get returns a builder by model name
func (s *ModelSet) Get(name core.ModelName) (ports.ModelBuilder, bool) {
	for _, b := range s.builders {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// Names lists the model names in comparison order
func (s *ModelSet) Names() []core.ModelName {
	names := make([]core.ModelName, len(s.builders))
	for i, b := range s.builders {
		names[i] = b.Name()
	}
	return names
}

// Select returns a subset in the requested order; unknown names are an error
func (s *ModelSet) Select(names []string) (*ModelSet, error) {
	if len(names) == 0 {
		return s, nil
	}
	out := make([]ports.ModelBuilder, 0, len(names))
	for _, raw := range names {
		name := core.ModelName(strings.TrimSpace(raw))
		b, ok := s.Get(name)
		if !ok {
			return nil, core.NewInvalidParametersError(fmt.Sprintf("unknown model %q", name))
		}
		out = append(out, b)
	}
	return &ModelSet{builders: out}, nil
}
