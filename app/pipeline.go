package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"metesad/adapters/excel"
	"metesad/domain/community"
	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/internal"
	"metesad/internal/errors"
	"metesad/ports"
)

// Phase is one step of a pipeline run
type Phase string

const (
	PhaseEmpirical  Phase = "empir"
	PhaseSimulation Phase = "sims"
	PhaseFigures    Phase = "figs"
)

// AllPhases lists the phases in execution order
var AllPhases = []Phase{PhaseEmpirical, PhaseSimulation, PhaseFigures}

// Exporter receives every table once all datasets have run
type Exporter interface {
	Export(fits []fit.FitResult, summaries []fit.NullSummary, failures []fit.Failure) error
}

// PathResolver locates a dataset's census file
type PathResolver func(dataDir string, dataset core.DatasetName) (string, error)

// Pipeline loads each dataset and runs the requested phases over its
// communities. Per-community failures never abort the run.
type Pipeline struct {
	reader     ports.CensusReader
	resolve    PathResolver
	empirical  *EmpiricalService
	simulation *SimulationService
	figures    *FigureService
	store      ports.ResultStore
	ledger     *FailureLedger
	exporter   Exporter
	logger     *internal.Logger
}

// PipelineRequest selects datasets and phases
type PipelineRequest struct {
	DataDir    string
	Datasets   []core.DatasetName
	Phases     []Phase
	Replicates int
	Seed       int64
}

// NewPipeline wires the phase services. Services for phases that will not be
// requested may be nil.
func NewPipeline(reader ports.CensusReader, store ports.ResultStore, ledger *FailureLedger, empirical *EmpiricalService, simulation *SimulationService, figures *FigureService) *Pipeline {
	return &Pipeline{
		reader:     reader,
		resolve:    excel.ResolvePath,
		empirical:  empirical,
		simulation: simulation,
		figures:    figures,
		store:      store,
		ledger:     ledger,
		logger:     internal.DefaultLogger,
	}
}

// WithPathResolver replaces census file lookup
func (p *Pipeline) WithPathResolver(r PathResolver) *Pipeline {
	p.resolve = r
	return p
}

// WithExporter adds a workbook export at the end of the run
func (p *Pipeline) WithExporter(e Exporter) *Pipeline {
	p.exporter = e
	return p
}

// WithLogger replaces the logger
func (p *Pipeline) WithLogger(l *internal.Logger) *Pipeline {
	p.logger = l
	return p
}

// Run executes the phases dataset by dataset and returns the summary. Errors
// are returned only for cancellation, storage failures or a misconfigured run.
func (p *Pipeline) Run(ctx context.Context, req PipelineRequest) (*Summary, error) {
	start := time.Now()
	if len(req.Phases) == 0 {
		req.Phases = AllPhases
	}
	for _, ph := range req.Phases {
		if err := p.checkPhase(ph); err != nil {
			return nil, err
		}
	}

	summary := &Summary{}
	var allFits []fit.FitResult
	var allNull []fit.NullSummary

	for _, ds := range req.Datasets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dsSummary, fits, nulls, err := p.runDataset(ctx, req, ds)
		if err != nil {
			return nil, err
		}
		summary.Datasets = append(summary.Datasets, dsSummary)
		allFits = append(allFits, fits...)
		allNull = append(allNull, nulls...)
	}

	if hasPhase(req.Phases, PhaseFigures) {
		if _, err := p.figures.RunAcross(ctx, req.Datasets); err != nil {
			return nil, err
		}
		summary.Shared = p.ledger.Failures(AllDatasets)
	}

	if p.exporter != nil {
		if err := p.exporter.Export(allFits, allNull, p.ledger.All()); err != nil {
			return nil, errors.StorageError("failed to export workbook", err)
		}
	}

	summary.RuntimeMs = time.Since(start).Milliseconds()
	p.logger.Info("pipeline complete",
		"datasets", len(summary.Datasets),
		"succeeded", summary.SucceededCount(),
		"skipped", summary.SkippedCount(),
		"runtime_ms", summary.RuntimeMs)
	return summary, nil
}

func hasPhase(phases []Phase, want Phase) bool {
	for _, ph := range phases {
		if ph == want {
			return true
		}
	}
	return false
}

func (p *Pipeline) checkPhase(ph Phase) error {
	var ok bool
	switch ph {
	case PhaseEmpirical:
		ok = p.empirical != nil
	case PhaseSimulation:
		ok = p.simulation != nil
	case PhaseFigures:
		ok = p.figures != nil
	default:
		return core.NewInvalidParametersError(fmt.Sprintf("unknown phase %q", ph))
	}
	if !ok {
		return errors.InternalError(fmt.Sprintf("phase %q has no service configured", ph))
	}
	return nil
}

func (p *Pipeline) runDataset(ctx context.Context, req PipelineRequest, ds core.DatasetName) (DatasetSummary, []fit.FitResult, []fit.NullSummary, error) {
	summary := DatasetSummary{Dataset: ds}
	var fits []fit.FitResult
	var nulls []fit.NullSummary

	phases := req.Phases
	communities, err := p.load(ctx, req.DataDir, ds)
	if err != nil {
		if ctx.Err() != nil {
			return summary, nil, nil, ctx.Err()
		}
		p.ledger.Record(ds, DatasetScope, StageLoad, err)
		p.logger.Error("dataset skipped", "dataset", string(ds), "error", err)
		// nothing to fit, simulate or draw
		phases = nil
	}
	summary.Communities = len(communities)

	for _, ph := range phases {
		switch ph {
		case PhaseEmpirical:
			res, err := p.empirical.Run(ctx, EmpiricalRequest{Dataset: ds, Communities: communities})
			if err != nil {
				return summary, nil, nil, err
			}
			fits = res.Fits
		case PhaseSimulation:
			res, err := p.simulation.Run(ctx, SimulationRequest{Dataset: ds, Communities: communities, Replicates: req.Replicates, Seed: req.Seed})
			if err != nil {
				return summary, nil, nil, err
			}
			nulls = res.Summaries
		case PhaseFigures:
			if _, err := p.figures.Run(ctx, ds); err != nil {
				if ctx.Err() != nil {
					return summary, nil, nil, ctx.Err()
				}
				p.ledger.Record(ds, DatasetScope, StageFigures, err)
				p.logger.Warn("figures skipped", "dataset", string(ds), "error", err)
			}
		}
	}

	failures := p.ledger.Failures(ds)
	if err := p.store.SaveFailures(ctx, ds, failures); err != nil {
		return summary, nil, nil, errors.StorageError("failed to save failures", err)
	}

	failed := map[core.CommunityID]bool{}
	for _, f := range failures {
		failed[f.Community] = true
	}
	for _, c := range communities {
		if !failed[c.ID()] {
			summary.Succeeded = append(summary.Succeeded, c.ID())
		}
	}
	summary.Skipped = failures
	return summary, fits, nulls, nil
}

func (p *Pipeline) load(ctx context.Context, dataDir string, ds core.DatasetName) ([]*community.Community, error) {
	path, err := p.resolve(dataDir, ds)
	if err != nil {
		return nil, errors.InputError("census file not found", err)
	}
	cs, err := p.reader.ReadCommunities(ctx, ds, path)
	if err != nil {
		return nil, errors.InputError("failed to read census", err)
	}
	return cs, nil
}

// DatasetSummary reports one dataset's outcome
type DatasetSummary struct {
	Dataset     core.DatasetName
	Communities int
	Succeeded   []core.CommunityID
	Skipped     []fit.Failure
}

// Summary is the user-facing account of a run
type Summary struct {
	Datasets []DatasetSummary
	// Shared holds failures of figures drawn across datasets
	Shared    []fit.Failure
	RuntimeMs int64
}

// SucceededCount is the number of communities with no recorded failure
func (s *Summary) SucceededCount() int {
	n := 0
	for _, d := range s.Datasets {
		n += len(d.Succeeded)
	}
	return n
}

// SkippedCount is the number of recorded failures
func (s *Summary) SkippedCount() int {
	n := 0
	for _, d := range s.Datasets {
		n += len(d.Skipped)
	}
	return n
}

// String renders the summary as plain text, one line per skipped community
func (s *Summary) String() string {
	var b strings.Builder
	for _, d := range s.Datasets {
		fmt.Fprintf(&b, "%s: %d communities, %d succeeded, %d skipped\n", d.Dataset, d.Communities, len(d.Succeeded), len(d.Skipped))
		if len(d.Succeeded) > 0 {
			ids := make([]string, len(d.Succeeded))
			for i, id := range d.Succeeded {
				ids[i] = string(id)
			}
			sort.Strings(ids)
			fmt.Fprintf(&b, "  ok: %s\n", strings.Join(ids, ", "))
		}
		for _, f := range d.Skipped {
			fmt.Fprintf(&b, "  skipped %s [%s] %s: %s\n", f.Community, f.Stage, f.Code, f.Reason)
		}
	}
	for _, f := range s.Shared {
		fmt.Fprintf(&b, "all datasets: skipped [%s] %s: %s\n", f.Stage, f.Code, f.Reason)
	}
	return b.String()
}
