package ports

import (
	"context"

	"metesad/domain/core"
	"metesad/domain/fit"
)

// ResultStore persists write-once analysis artifacts keyed by dataset
type ResultStore interface {
	SaveFits(ctx context.Context, dataset core.DatasetName, results []fit.FitResult) error
	LoadFits(ctx context.Context, dataset core.DatasetName) ([]fit.FitResult, error)

	SaveObsPred(ctx context.Context, dataset core.DatasetName, rows []fit.ObsPred) error
	LoadObsPred(ctx context.Context, dataset core.DatasetName) ([]fit.ObsPred, error)

	SaveBatches(ctx context.Context, dataset core.DatasetName, batches []*fit.SimulationBatch) error
	LoadBatches(ctx context.Context, dataset core.DatasetName) ([]*fit.SimulationBatch, error)

	SaveNullSummaries(ctx context.Context, dataset core.DatasetName, summaries []fit.NullSummary) error
	SaveFailures(ctx context.Context, dataset core.DatasetName, failures []fit.Failure) error
}

// CheckpointStore persists partial replicate results so long simulation runs can resume
type CheckpointStore interface {
	// LoadReplicates returns previously completed replicates for key under seed
	LoadReplicates(ctx context.Context, key core.ArtifactKey, seed int64) ([]fit.ReplicateStat, error)
	// AppendReplicates durably records completed replicates
	AppendReplicates(ctx context.Context, key core.ArtifactKey, seed int64, stats []fit.ReplicateStat) error
	// Clear removes the checkpoint once the batch has been sealed and saved
	Clear(ctx context.Context, key core.ArtifactKey) error
}
