package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"metesad/adapters/density"
	"metesad/adapters/excel"
	"metesad/adapters/figures"
	"metesad/adapters/postgres"
	"metesad/adapters/rng"
	"metesad/adapters/rootfind"
	"metesad/adapters/sad"
	"metesad/adapters/simulate"
	"metesad/adapters/store"
	"metesad/app"
	"metesad/domain/core"
	"metesad/internal"
	"metesad/internal/config"
	"metesad/internal/errors"
	"metesad/ports"

	"github.com/spf13/cobra"
)

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "metesad",
		Short:         "Compare METE species-abundance predictions against census data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.bind(rootCmd)

	rootCmd.AddCommand(
		newPhaseCmd(opts, "empir", "Fit every SAD model to each community", app.PhaseEmpirical),
		newPhaseCmd(opts, "sims", "Build null distributions of fit statistics", app.PhaseSimulation),
		newPhaseCmd(opts, "figs", "Draw per-dataset and cross-dataset figures", app.PhaseFigures),
		newPhaseCmd(opts, "all", "Run empir, sims and figs in order", app.AllPhases...),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errors.ExitCode(err))
	}
}

// options are the persistent flags; each one overrides its environment variable
// only when set on the command line
type options struct {
	dataDir    string
	resultsDir string
	datasets   []string
	replicates int
	seed       int64
	workers    int
	minSpecies int
	models     []string
	simModels  []string
}

func (o *options) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.dataDir, "data-dir", "", "Directory holding <dataset>_spab census files (DATA_DIR)")
	f.StringVar(&o.resultsDir, "results-dir", "", "Directory for result tables and figures (RESULTS_DIR)")
	f.StringSliceVar(&o.datasets, "datasets", nil, "Datasets to process; empty discovers them in the data directory (DATASETS)")
	f.IntVar(&o.replicates, "replicates", 0, "Simulated communities per null model (REPLICATES)")
	f.Int64Var(&o.seed, "seed", 0, "Base seed for simulation streams (SEED)")
	f.IntVar(&o.workers, "workers", 0, "Concurrent workers (WORKERS)")
	f.IntVar(&o.minSpecies, "min-species", 0, "Communities need more than this many species (MIN_SPECIES)")
	f.StringSliceVar(&o.models, "models", nil, "Models compared in the empirical phase (default mete,logseries,pln)")
	f.StringSliceVar(&o.simModels, "sim-models", []string{string(sad.ModelMETE)}, "Null models used in the simulation phase")
}

func (o *options) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("data-dir") {
		cfg.Paths.DataDir = o.dataDir
	}
	if f.Changed("results-dir") {
		cfg.Paths.ResultsDir = o.resultsDir
		if os.Getenv("CHECKPOINT_DIR") == "" {
			cfg.Paths.CheckpointDir = filepath.Join(o.resultsDir, "checkpoints")
		}
	}
	if f.Changed("datasets") {
		cfg.Run.Datasets = o.datasets
	}
	if f.Changed("replicates") {
		cfg.Run.Replicates = o.replicates
	}
	if f.Changed("seed") {
		cfg.Run.Seed = o.seed
	}
	if f.Changed("workers") {
		cfg.Run.Workers = o.workers
	}
	if f.Changed("min-species") {
		cfg.Run.MinSpecies = o.minSpecies
	}
	return cfg.Validate()
}

func newPhaseCmd(opts *options, use, short string, phases ...app.Phase) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := run(ctx, cfg, opts, phases)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), summary.String())
			fmt.Fprintf(cmd.OutOrStdout(), "%d succeeded, %d skipped in %dms\n",
				summary.SucceededCount(), summary.SkippedCount(), summary.RuntimeMs)
			return nil
		},
	}
}

func run(ctx context.Context, cfg *config.Config, opts *options, phases []app.Phase) (*app.Summary, error) {
	logger := internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))

	datasets, err := resolveDatasets(cfg)
	if err != nil {
		return nil, err
	}

	finder := &rootfind.Brent{Tolerance: cfg.Solver.Tolerance, MaxIter: cfg.Solver.MaxIter}
	solverCfg := sad.DefaultSolverConfig()
	solverCfg.PrecisionBits = cfg.Solver.PrecisionBits
	available := sad.NewModelSet(sad.NewSolver(finder, solverCfg), finder)

	models, err := available.Select(opts.models)
	if err != nil {
		return nil, err
	}
	nullModels, err := available.Select(opts.simModels)
	if err != nil {
		return nil, err
	}

	csvStore, err := store.NewCSVStore(cfg.Paths.ResultsDir)
	if err != nil {
		return nil, errors.StorageError("failed to open results directory", err)
	}
	var results ports.ResultStore = csvStore
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		results = store.NewMirror(csvStore, postgres.NewResultRepository(db))
		logger.Info("mirroring results to postgres")
	}

	checkpoints, err := store.NewFileCheckpointStore(cfg.Paths.CheckpointDir)
	if err != nil {
		return nil, errors.StorageError("failed to open checkpoint directory", err)
	}

	simCfg := simulate.DefaultConfig()
	simCfg.Workers = cfg.Run.Workers
	simCfg.CheckpointEvery = cfg.Run.CheckpointEvery
	simulator := simulate.NewSimulator(rng.NewStreamAdapter(), checkpoints, simCfg).WithLogger(logger)

	ledger := app.NewFailureLedger()
	empirical := app.NewEmpiricalService(models, results, ledger, cfg.Run.MinSpecies, cfg.Run.Workers).WithLogger(logger)
	// replicates already run in parallel, so communities go one at a time
	simulation := app.NewSimulationService(simulator, nullModels.Builders(), results, checkpoints, ledger, cfg.Run.MinSpecies, 1).WithLogger(logger)
	renderer := figures.NewRenderer(cfg.Paths.ResultsDir,
		figures.WithEstimator(density.NewEstimator(density.WithRadius(cfg.Density.Radius))))
	figs := app.NewFigureService(renderer, results, ledger).WithLogger(logger)

	pipeline := app.NewPipeline(excel.NewCensusReader().WithLogger(logger), results, ledger, empirical, simulation, figs).
		WithLogger(logger)
	if cfg.Export.XLSX {
		pipeline = pipeline.WithExporter(excel.NewWorkbookExporter(filepath.Join(cfg.Paths.ResultsDir, "results.xlsx")))
	}

	logger.Info("starting run",
		"datasets", len(datasets),
		"phases", fmt.Sprint(phases),
		"models", fmt.Sprint(models.Names()),
		"replicates", cfg.Run.Replicates,
		"seed", cfg.Run.Seed)

	return pipeline.Run(ctx, app.PipelineRequest{
		DataDir:    cfg.Paths.DataDir,
		Datasets:   datasets,
		Phases:     phases,
		Replicates: cfg.Run.Replicates,
		Seed:       cfg.Run.Seed,
	})
}

func resolveDatasets(cfg *config.Config) ([]core.DatasetName, error) {
	if len(cfg.Run.Datasets) == 0 {
		found, err := excel.DiscoverDatasets(cfg.Paths.DataDir)
		if err != nil {
			return nil, errors.InputError("failed to scan data directory", err)
		}
		if len(found) == 0 {
			return nil, errors.InputError(fmt.Sprintf("no *_spab census files in %s", cfg.Paths.DataDir), nil)
		}
		return found, nil
	}
	out := make([]core.DatasetName, 0, len(cfg.Run.Datasets))
	for _, raw := range cfg.Run.Datasets {
		ds, err := core.ParseDatasetName(raw)
		if err != nil {
			return nil, errors.InputError("invalid dataset name", err)
		}
		out = append(out, ds)
	}
	return out, nil
}
