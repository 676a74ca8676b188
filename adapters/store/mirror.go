package store

import (
	"context"
	"errors"

	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/ports"
)

// Mirror writes every save to a primary store and any number of mirrors.
// Loads are served by the primary only.
type Mirror struct {
	primary ports.ResultStore
	mirrors []ports.ResultStore
}

// NewMirror wraps primary; nil mirrors are ignored
func NewMirror(primary ports.ResultStore, mirrors ...ports.ResultStore) *Mirror {
	m := &Mirror{primary: primary}
	for _, s := range mirrors {
		if s != nil {
			m.mirrors = append(m.mirrors, s)
		}
	}
	return m
}

func (m *Mirror) each(fn func(ports.ResultStore) error) error {
	if err := fn(m.primary); err != nil {
		return err
	}
	var errs []error
	for _, s := range m.mirrors {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Mirror) SaveFits(ctx context.Context, dataset core.DatasetName, results []fit.FitResult) error {
	return m.each(func(s ports.ResultStore) error { return s.SaveFits(ctx, dataset, results) })
}

func (m *Mirror) LoadFits(ctx context.Context, dataset core.DatasetName) ([]fit.FitResult, error) {
	return m.primary.LoadFits(ctx, dataset)
}

func (m *Mirror) SaveObsPred(ctx context.Context, dataset core.DatasetName, rows []fit.ObsPred) error {
	return m.each(func(s ports.ResultStore) error { return s.SaveObsPred(ctx, dataset, rows) })
}

func (m *Mirror) LoadObsPred(ctx context.Context, dataset core.DatasetName) ([]fit.ObsPred, error) {
	return m.primary.LoadObsPred(ctx, dataset)
}

func (m *Mirror) SaveBatches(ctx context.Context, dataset core.DatasetName, batches []*fit.SimulationBatch) error {
	return m.each(func(s ports.ResultStore) error { return s.SaveBatches(ctx, dataset, batches) })
}

func (m *Mirror) LoadBatches(ctx context.Context, dataset core.DatasetName) ([]*fit.SimulationBatch, error) {
	return m.primary.LoadBatches(ctx, dataset)
}

func (m *Mirror) SaveNullSummaries(ctx context.Context, dataset core.DatasetName, summaries []fit.NullSummary) error {
	return m.each(func(s ports.ResultStore) error { return s.SaveNullSummaries(ctx, dataset, summaries) })
}

func (m *Mirror) SaveFailures(ctx context.Context, dataset core.DatasetName, failures []fit.Failure) error {
	return m.each(func(s ports.ResultStore) error { return s.SaveFailures(ctx, dataset, failures) })
}

var _ ports.ResultStore = (*Mirror)(nil)
