package simulate

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"metesad/adapters/evaluate"
	"metesad/domain/community"
	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/internal"
	"metesad/ports"

	"golang.org/x/sync/errgroup"
)

// StageName seeds the per-replicate RNG streams
const StageName = "simulate"

// Config controls replicate scheduling and sampler selection
type Config struct {
	Workers           int   // Concurrent replicates per batch
	CheckpointEvery   int   // Flush completed replicates after this many; 0 disables
	ExactBudget       int64 // Largest S0·N0² handled by the exact conditional sampler
	MaxRejectAttempts int   // Rejection attempts per replicate before proportional fallback
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:           runtime.NumCPU(),
		CheckpointEvery:   50,
		ExactBudget:       50_000_000,
		MaxRejectAttempts: 200_000,
	}
}

// Request describes one null-distribution batch
type Request struct {
	Key        core.ArtifactKey
	S0, N0     int
	Observed   []int // ranked observed abundances used to build the null model
	Replicates int
	Seed       int64
}

// Simulator builds null distributions of fit statistics by constrained sampling
type Simulator struct {
	rng         ports.RNGPort
	checkpoints ports.CheckpointStore
	evaluator   *evaluate.Evaluator
	config      Config
	logger      *internal.Logger
}

// NewSimulator creates a simulator; checkpoints may be nil
func NewSimulator(rng ports.RNGPort, checkpoints ports.CheckpointStore, config Config) *Simulator {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Simulator{
		rng:         rng,
		checkpoints: checkpoints,
		evaluator:   evaluate.NewEvaluator(),
		config:      config,
		logger:      internal.DefaultLogger,
	}
}

// WithLogger replaces the logger
func (s *Simulator) WithLogger(l *internal.Logger) *Simulator {
	s.logger = l
	return s
}

// Simulate draws replicates synthetic communities under the builder's null model
// fitted to c and scores each one
func (s *Simulator) Simulate(ctx context.Context, c *community.Community, builder ports.ModelBuilder, replicates int, seed int64) (*fit.SimulationBatch, error) {
	return s.Run(ctx, builder, Request{
		Key:        c.Key(builder.Name()),
		S0:         c.S0(),
		N0:         c.N0(),
		Observed:   c.Ranked(),
		Replicates: replicates,
		Seed:       seed,
	})
}

// Run executes a batch. Replicate i always uses the RNG stream for
// (StageName, key, i, seed), so statistics are identical whatever the worker
// count or the number of replicates restored from a checkpoint.
func (s *Simulator) Run(ctx context.Context, builder ports.ModelBuilder, req Request) (*fit.SimulationBatch, error) {
	if req.Replicates <= 0 {
		return nil, core.NewInvalidParametersError(fmt.Sprintf("replicates=%d must be positive", req.Replicates))
	}
	if req.S0 <= 0 || req.S0 > req.N0 {
		return nil, core.NewInvalidParametersError(fmt.Sprintf("S0=%d N0=%d", req.S0, req.N0))
	}

	start := time.Now()
	null, err := builder.Build(ctx, req.S0, req.N0, req.Observed)
	if err != nil {
		return nil, fmt.Errorf("build null model: %w", err)
	}
	sampler, err := NewSampler(null, s.config)
	if err != nil {
		return nil, err
	}

	done, err := s.restore(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make([]fit.ReplicateStat, 0, req.Replicates)
		unsaved []fit.ReplicateStat
	)
	for _, st := range done {
		results = append(results, st)
	}

	flush := func(ctx context.Context) error {
		if s.checkpoints == nil || len(unsaved) == 0 {
			return nil
		}
		if err := s.checkpoints.AppendReplicates(ctx, req.Key, req.Seed, unsaved); err != nil {
			return fmt.Errorf("checkpoint %s: %w", req.Key, err)
		}
		unsaved = nil
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for i := 0; i < req.Replicates; i++ {
		if _, ok := done[i]; ok {
			continue
		}
		index := i
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			st, err := s.replicate(gctx, builder, null, sampler, req, index)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			results = append(results, st)
			unsaved = append(unsaved, st)
			if s.config.CheckpointEvery > 0 && len(unsaved) >= s.config.CheckpointEvery {
				return flush(gctx)
			}
			return nil
		})
	}

	runErr := g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}
	// keep finished work even when the batch was interrupted
	mu.Lock()
	flushErr := flush(context.WithoutCancel(ctx))
	mu.Unlock()
	if runErr != nil {
		return nil, runErr
	}
	if flushErr != nil {
		return nil, flushErr
	}

	if len(results) != req.Replicates {
		return nil, fmt.Errorf("simulation batch %s has %d of %d replicates", req.Key, len(results), req.Replicates)
	}

	batch := fit.NewSimulationBatch(req.Key, req.S0, req.N0, req.Seed)
	if err := batch.Seal(results); err != nil {
		return nil, err
	}

	s.logger.Debug("simulation batch sealed",
		"key", req.Key.String(),
		"replicates", req.Replicates,
		"restored", len(done),
		"sampler", string(sampler.Strategy()),
		"elapsed", time.Since(start))
	return batch, nil
}

// restore loads checkpointed replicates for this key and seed. A checkpoint
// written under another seed is discarded.
func (s *Simulator) restore(ctx context.Context, req Request) (map[int]fit.ReplicateStat, error) {
	done := map[int]fit.ReplicateStat{}
	if s.checkpoints == nil {
		return done, nil
	}

	stats, err := s.checkpoints.LoadReplicates(ctx, req.Key, req.Seed)
	if errors.Is(err, core.ErrSeedMismatch) {
		s.logger.Warn("discarding checkpoint written under a different seed", "key", req.Key.String(), "seed", req.Seed)
		if err := s.checkpoints.Clear(ctx, req.Key); err != nil {
			return nil, err
		}
		return done, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", req.Key, err)
	}

	for _, st := range stats {
		if st.Index >= 0 && st.Index < req.Replicates {
			done[st.Index] = st
		}
	}
	if len(done) > 0 {
		s.logger.Info("resuming simulation batch", "key", req.Key.String(), "restored", len(done), "replicates", req.Replicates)
	}
	return done, nil
}

func (s *Simulator) replicate(ctx context.Context, builder ports.ModelBuilder, null ports.SADModel, sampler Sampler, req Request, index int) (fit.ReplicateStat, error) {
	r, err := s.rng.Stream(ctx, StageName, req.Key.String(), index, req.Seed)
	if err != nil {
		return fit.ReplicateStat{}, err
	}

	sample, strategy, err := sampler.Sample(r)
	if err != nil {
		return fit.ReplicateStat{}, fmt.Errorf("replicate %d: %w", index, err)
	}

	// models solved from (S0, N0) alone are identical for every replicate
	model := null
	if builder.DependsOnObserved() {
		model, err = builder.Build(ctx, req.S0, req.N0, sample)
		if err != nil {
			return fit.ReplicateStat{}, fmt.Errorf("replicate %d: %w", index, err)
		}
	}

	sc, err := s.evaluator.ScoreRanked(model, sample)
	if err != nil {
		return fit.ReplicateStat{}, fmt.Errorf("replicate %d: %w", index, err)
	}
	return fit.ReplicateStat{
		Index:         index,
		Sampler:       strategy,
		LogLikelihood: sc.LogLikelihood,
		AICc:          sc.AICc,
		RSquared:      sc.RSquared,
	}, nil
}
