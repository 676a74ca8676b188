package app

import (
	"sort"
	"sync"

	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/internal/errors"
)

// Pipeline stages recorded against failures
const (
	StageLoad       = "load"
	StageEmpirical  = "empirical"
	StageSimulation = "simulation"
	StageFigures    = "figures"
)

// DatasetScope marks a failure that affected a whole dataset
const DatasetScope = core.CommunityID("*")

// AllDatasets files failures of steps that span every dataset of a run
const AllDatasets = core.DatasetName("*")

// FailureLedger collects per-community failures from concurrent workers
type FailureLedger struct {
	mu       sync.Mutex
	failures []fit.Failure
}

// NewFailureLedger creates an empty ledger
func NewFailureLedger() *FailureLedger {
	return &FailureLedger{}
}

// Record stores err against the community; nil errors are ignored
func (l *FailureLedger) Record(dataset core.DatasetName, community core.CommunityID, stage string, err error) fit.Failure {
	f := fit.Failure{
		Dataset:   dataset,
		Community: community,
		Stage:     stage,
		Code:      errors.GetCode(err),
		Reason:    err.Error(),
	}
	l.mu.Lock()
	l.failures = append(l.failures, f)
	l.mu.Unlock()
	return f
}

// Failures returns every failure of one dataset ordered by community then stage
func (l *FailureLedger) Failures(dataset core.DatasetName) []fit.Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []fit.Failure
	for _, f := range l.failures {
		if f.Dataset == dataset {
			out = append(out, f)
		}
	}
	sortFailures(out)
	return out
}

// All returns a copy of every recorded failure
func (l *FailureLedger) All() []fit.Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]fit.Failure(nil), l.failures...)
	sortFailures(out)
	return out
}

// Failed reports whether the community already failed in any stage
func (l *FailureLedger) Failed(dataset core.DatasetName, community core.CommunityID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.failures {
		if f.Dataset == dataset && f.Community == community {
			return true
		}
	}
	return false
}

func sortFailures(fs []fit.Failure) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Dataset != fs[j].Dataset {
			return fs[i].Dataset < fs[j].Dataset
		}
		if fs[i].Community != fs[j].Community {
			return fs[i].Community < fs[j].Community
		}
		return fs[i].Stage < fs[j].Stage
	})
}
