package app

import (
	"context"

	"metesad/adapters/evaluate"
	"metesad/adapters/figures"
	"metesad/domain/core"
	"metesad/internal"
	"metesad/internal/errors"
	"metesad/ports"
)

// FigureService renders a dataset's figures from persisted results
type FigureService struct {
	renderer *figures.Renderer
	store    ports.ResultStore
	ledger   *FailureLedger
	logger   *internal.Logger
}

// NewFigureService creates a figure phase runner
func NewFigureService(renderer *figures.Renderer, store ports.ResultStore, ledger *FailureLedger) *FigureService {
	return &FigureService{renderer: renderer, store: store, ledger: ledger, logger: internal.DefaultLogger}
}

// WithLogger replaces the logger
func (s *FigureService) WithLogger(l *internal.Logger) *FigureService {
	s.logger = l
	return s
}

// Run draws the obs/pred, Akaike weight and abundance-class figures. A figure
// that cannot be drawn is recorded against the dataset and the rest still run.
func (s *FigureService) Run(ctx context.Context, dataset core.DatasetName) ([]string, error) {
	rows, err := s.store.LoadObsPred(ctx, dataset)
	if err != nil {
		return nil, errors.StorageError("failed to load obs/pred rows", err)
	}
	fits, err := s.store.LoadFits(ctx, dataset)
	if err != nil {
		return nil, errors.StorageError("failed to load fits", err)
	}

	var paths []string
	draw := func(path string, err error) {
		if err != nil {
			s.ledger.Record(dataset, DatasetScope, StageFigures, err)
			s.logger.Warn("figure skipped", "dataset", string(dataset), "error", err)
			return
		}
		paths = append(paths, path)
	}
	draw(s.renderer.ObsPred(dataset, rows))
	draw(s.renderer.Weights(dataset, fits))
	draw(s.renderer.Classes(dataset, evaluate.RegressClasses(rows)))

	s.logger.Info("figures rendered", "dataset", string(dataset), "count", len(paths))
	return paths, nil
}

// RunAcross draws the figures that compare datasets: verdict shares of the
// pairwise Akaike weight and obs/pred confidence hulls. Datasets whose results
// cannot be loaded are left out. Failures are recorded under AllDatasets.
func (s *FigureService) RunAcross(ctx context.Context, datasets []core.DatasetName) ([]string, error) {
	var fitSets []figures.DatasetFits
	var rowSets []figures.DatasetRows
	for _, ds := range datasets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fits, err := s.store.LoadFits(ctx, ds)
		if err != nil || len(fits) == 0 {
			continue
		}
		fitSets = append(fitSets, figures.DatasetFits{Dataset: ds, Fits: fits})
		if rows, err := s.store.LoadObsPred(ctx, ds); err == nil && len(rows) > 0 {
			rowSets = append(rowSets, figures.DatasetRows{Dataset: ds, Rows: rows})
		}
	}
	if len(fitSets) == 0 {
		return nil, nil
	}

	var paths []string
	draw := func(path string, err error) {
		if err != nil {
			s.ledger.Record(AllDatasets, DatasetScope, StageFigures, err)
			s.logger.Warn("cross-dataset figure skipped", "error", err)
			return
		}
		paths = append(paths, path)
	}
	draw(s.renderer.CrossWeights(fitSets))
	draw(s.renderer.ConfidenceHulls(rowSets))

	s.logger.Info("cross-dataset figures rendered", "datasets", len(fitSets), "count", len(paths))
	return paths, nil
}

