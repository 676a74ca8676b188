package app

import (
	"context"
	"fmt"
	"time"

	"metesad/adapters/evaluate"
	"metesad/adapters/simulate"
	"metesad/domain/community"
	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/internal"
	"metesad/internal/errors"
	"metesad/ports"

	"golang.org/x/sync/errgroup"
)

// SimulationService builds a null distribution of fit statistics for each
// community under each null model and summarizes it against the observed fit
type SimulationService struct {
	simulator   *simulate.Simulator
	builders    []ports.ModelBuilder
	evaluator   *evaluate.Evaluator
	store       ports.ResultStore
	checkpoints ports.CheckpointStore
	ledger      *FailureLedger
	logger      *internal.Logger
	minSpecies  int
	workers     int
}

// SimulationRequest is one dataset's simulation phase
type SimulationRequest struct {
	Dataset     core.DatasetName
	Communities []*community.Community
	Replicates  int
	Seed        int64
}

// SimulationResult holds what was written for the dataset
type SimulationResult struct {
	Batches   []*fit.SimulationBatch
	Summaries []fit.NullSummary
	Succeeded []core.CommunityID
	RuntimeMs int64
}

// NewSimulationService creates a simulation phase runner. workers bounds the
// number of communities simulated at once; replicate parallelism is the
// simulator's own.
func NewSimulationService(simulator *simulate.Simulator, builders []ports.ModelBuilder, store ports.ResultStore, checkpoints ports.CheckpointStore, ledger *FailureLedger, minSpecies, workers int) *SimulationService {
	if workers < 1 {
		workers = 1
	}
	return &SimulationService{
		simulator:   simulator,
		builders:    builders,
		evaluator:   evaluate.NewEvaluator(),
		store:       store,
		checkpoints: checkpoints,
		ledger:      ledger,
		logger:      internal.DefaultLogger,
		minSpecies:  minSpecies,
		workers:     workers,
	}
}

// WithLogger replaces the logger
func (s *SimulationService) WithLogger(l *internal.Logger) *SimulationService {
	s.logger = l
	return s
}

type communitySims struct {
	batches   []*fit.SimulationBatch
	summaries []fit.NullSummary
	ok        bool
}

// Run simulates every eligible community. Communities that already failed an
// earlier stage are skipped without a second ledger entry.
func (s *SimulationService) Run(ctx context.Context, req SimulationRequest) (*SimulationResult, error) {
	if req.Replicates <= 0 {
		return nil, core.NewInvalidParametersError(fmt.Sprintf("replicates=%d must be positive", req.Replicates))
	}
	start := time.Now()
	out := make([]communitySims, len(req.Communities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, c := range req.Communities {
		if s.ledger.Failed(req.Dataset, c.ID()) {
			continue
		}
		g.Go(func() error {
			res, err := s.simulateCommunity(gctx, c, req)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.ledger.Record(req.Dataset, c.ID(), StageSimulation, err)
				s.logger.Warn("community simulation failed", "dataset", string(req.Dataset), "site", string(c.ID()), "code", errors.GetCode(err), "error", err)
				return nil
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &SimulationResult{}
	for i, r := range out {
		if !r.ok {
			continue
		}
		result.Batches = append(result.Batches, r.batches...)
		result.Summaries = append(result.Summaries, r.summaries...)
		result.Succeeded = append(result.Succeeded, req.Communities[i].ID())
	}

	if err := s.store.SaveBatches(ctx, req.Dataset, result.Batches); err != nil {
		return nil, errors.StorageError("failed to save simulation batches", err)
	}
	if err := s.store.SaveNullSummaries(ctx, req.Dataset, result.Summaries); err != nil {
		return nil, errors.StorageError("failed to save null summaries", err)
	}
	if s.checkpoints != nil {
		for _, b := range result.Batches {
			if err := s.checkpoints.Clear(ctx, b.Key()); err != nil {
				s.logger.Warn("checkpoint not cleared", "key", b.Key().String(), "error", err)
			}
		}
	}

	result.RuntimeMs = time.Since(start).Milliseconds()
	s.logger.Info("simulation phase complete",
		"dataset", string(req.Dataset),
		"communities", len(req.Communities),
		"simulated", len(result.Succeeded),
		"replicates", req.Replicates,
		"runtime_ms", result.RuntimeMs)
	return result, nil
}

func (s *SimulationService) simulateCommunity(ctx context.Context, c *community.Community, req SimulationRequest) (communitySims, error) {
	if c.S0() <= s.minSpecies {
		return communitySims{}, core.NewInsufficientDataError(fmt.Sprintf("S0=%d does not exceed the minimum of %d species", c.S0(), s.minSpecies))
	}

	var res communitySims
	for _, b := range s.builders {
		model, err := b.Build(ctx, c.S0(), c.N0(), c.Ranked())
		if err != nil {
			return communitySims{}, fmt.Errorf("%s: %w", b.Name(), err)
		}
		observed, err := s.evaluator.Evaluate(model, c)
		if err != nil {
			return communitySims{}, err
		}

		batch, err := s.simulator.Simulate(ctx, c, b, req.Replicates, req.Seed)
		if err != nil {
			return communitySims{}, fmt.Errorf("%s: %w", b.Name(), err)
		}
		summary, err := simulate.Summarize(batch, observed)
		if err != nil {
			return communitySims{}, err
		}
		res.batches = append(res.batches, batch)
		res.summaries = append(res.summaries, summary)
	}
	res.ok = true
	return res, nil
}
