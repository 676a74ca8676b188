package app

import (
	"context"
	"fmt"
	"time"

	"metesad/adapters/evaluate"
	"metesad/adapters/sad"
	"metesad/domain/community"
	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/internal"
	"metesad/internal/errors"
	"metesad/ports"

	"golang.org/x/sync/errgroup"
)

// EmpiricalService fits every model of a ModelSet to each community and
// persists the fits and the observed/predicted curve of one reference model
type EmpiricalService struct {
	models     *sad.ModelSet
	evaluator  *evaluate.Evaluator
	store      ports.ResultStore
	ledger     *FailureLedger
	logger     *internal.Logger
	minSpecies int
	workers    int
	curveModel core.ModelName
}

// EmpiricalRequest is one dataset's empirical phase
type EmpiricalRequest struct {
	Dataset     core.DatasetName
	Communities []*community.Community
}

// EmpiricalResult holds what was written for the dataset
type EmpiricalResult struct {
	Fits      []fit.FitResult
	ObsPred   []fit.ObsPred
	Succeeded []core.CommunityID
	RuntimeMs int64
}

// NewEmpiricalService creates an empirical phase runner
func NewEmpiricalService(models *sad.ModelSet, store ports.ResultStore, ledger *FailureLedger, minSpecies, workers int) *EmpiricalService {
	if workers < 1 {
		workers = 1
	}
	return &EmpiricalService{
		models:     models,
		evaluator:  evaluate.NewEvaluator(),
		store:      store,
		ledger:     ledger,
		logger:     internal.DefaultLogger,
		minSpecies: minSpecies,
		workers:    workers,
		curveModel: sad.ModelMETE,
	}
}

// WithLogger replaces the logger
func (s *EmpiricalService) WithLogger(l *internal.Logger) *EmpiricalService {
	s.logger = l
	return s
}

type communityFit struct {
	fits    []fit.FitResult
	obsPred []fit.ObsPred
	ok      bool
}

// Run fits all communities concurrently. Communities with S0 <= minSpecies or
// any failing model are recorded in the ledger and left out of the tables.
func (s *EmpiricalService) Run(ctx context.Context, req EmpiricalRequest) (*EmpiricalResult, error) {
	start := time.Now()
	out := make([]communityFit, len(req.Communities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, c := range req.Communities {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.fitCommunity(gctx, c)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.ledger.Record(req.Dataset, c.ID(), StageEmpirical, err)
				s.logger.Warn("community skipped", "dataset", string(req.Dataset), "site", string(c.ID()), "code", errors.GetCode(err), "error", err)
				return nil
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &EmpiricalResult{}
	for i, r := range out {
		if !r.ok {
			continue
		}
		result.Fits = append(result.Fits, r.fits...)
		result.ObsPred = append(result.ObsPred, r.obsPred...)
		result.Succeeded = append(result.Succeeded, req.Communities[i].ID())
	}

	if err := s.store.SaveFits(ctx, req.Dataset, result.Fits); err != nil {
		return nil, errors.StorageError("failed to save fits", err)
	}
	if err := s.store.SaveObsPred(ctx, req.Dataset, result.ObsPred); err != nil {
		return nil, errors.StorageError("failed to save obs/pred rows", err)
	}

	result.RuntimeMs = time.Since(start).Milliseconds()
	s.logger.Info("empirical phase complete",
		"dataset", string(req.Dataset),
		"communities", len(req.Communities),
		"fitted", len(result.Succeeded),
		"runtime_ms", result.RuntimeMs)
	return result, nil
}

func (s *EmpiricalService) fitCommunity(ctx context.Context, c *community.Community) (communityFit, error) {
	if c.S0() <= s.minSpecies {
		return communityFit{}, core.NewInsufficientDataError(fmt.Sprintf("S0=%d does not exceed the minimum of %d species", c.S0(), s.minSpecies))
	}

	builders := s.models.Builders()
	models := make([]ports.SADModel, 0, len(builders))
	var curve ports.SADModel
	for _, b := range builders {
		m, err := b.Build(ctx, c.S0(), c.N0(), c.Ranked())
		if err != nil {
			return communityFit{}, fmt.Errorf("%s: %w", b.Name(), err)
		}
		models = append(models, m)
		if b.Name() == s.curveModel {
			curve = m
		}
	}

	fits, err := s.evaluator.EvaluateAll(models, c)
	if err != nil {
		return communityFit{}, err
	}

	var rows []fit.ObsPred
	if curve != nil {
		if rows, err = evaluate.ObsPredRows(curve, c); err != nil {
			return communityFit{}, err
		}
	}

	s.logger.Trace("community fitted", "site", string(c.ID()), "s0", c.S0(), "n0", c.N0(), "models", len(models))
	return communityFit{fits: fits, obsPred: rows, ok: true}, nil
}
