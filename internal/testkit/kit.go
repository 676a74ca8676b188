package testkit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"metesad/adapters/rng"
	"metesad/domain/community"
	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/ports"
)

// TestKit provides testing utilities and fixtures
type TestKit struct {
	results     *MemoryResultStore
	checkpoints *MemoryCheckpointStore
}

// NewTestKit creates a new test kit with empty in-memory stores
func NewTestKit() *TestKit {
	return &TestKit{
		results:     NewMemoryResultStore(),
		checkpoints: NewMemoryCheckpointStore(),
	}
}

// RNGAdapter returns an RNG adapter
func (t *TestKit) RNGAdapter() ports.RNGPort {
	return rng.NewStreamAdapter()
}

// ResultStore returns the shared in-memory result store
func (t *TestKit) ResultStore() *MemoryResultStore {
	return t.results
}

// CheckpointStore returns the shared in-memory checkpoint store
func (t *TestKit) CheckpointStore() *MemoryCheckpointStore {
	return t.checkpoints
}

// Communities generates synthetic communities with the default census config
func (t *TestKit) Communities(seed int64, sites int) ([]*community.Community, error) {
	cfg := DefaultCensusConfig()
	cfg.Seed = seed
	cfg.Sites = sites
	return NewCensusGenerator(cfg).Generate()
}

// StaticCensusReader serves fixed communities per dataset
type StaticCensusReader struct {
	Data map[core.DatasetName][]*community.Community
}

// ReadCommunities implements ports.CensusReader
func (r *StaticCensusReader) ReadCommunities(ctx context.Context, dataset core.DatasetName, path string) ([]*community.Community, error) {
	cs, ok := r.Data[dataset]
	if !ok {
		return nil, fmt.Errorf("no census for dataset %s", dataset)
	}
	return cs, nil
}

// MemoryResultStore implements ports.ResultStore in memory
type MemoryResultStore struct {
	mu        sync.RWMutex
	fits      map[core.DatasetName][]fit.FitResult
	obsPred   map[core.DatasetName][]fit.ObsPred
	batches   map[core.DatasetName][]*fit.SimulationBatch
	summaries map[core.DatasetName][]fit.NullSummary
	failures  map[core.DatasetName][]fit.Failure
}

// NewMemoryResultStore creates an empty store
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{
		fits:      map[core.DatasetName][]fit.FitResult{},
		obsPred:   map[core.DatasetName][]fit.ObsPred{},
		batches:   map[core.DatasetName][]*fit.SimulationBatch{},
		summaries: map[core.DatasetName][]fit.NullSummary{},
		failures:  map[core.DatasetName][]fit.Failure{},
	}
}

func (s *MemoryResultStore) SaveFits(ctx context.Context, dataset core.DatasetName, results []fit.FitResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fits[dataset] = append([]fit.FitResult(nil), results...)
	return nil
}

func (s *MemoryResultStore) LoadFits(ctx context.Context, dataset core.DatasetName) ([]fit.FitResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.fits[dataset]
	if !ok {
		return nil, fmt.Errorf("no fits for dataset %s", dataset)
	}
	return append([]fit.FitResult(nil), rows...), nil
}

func (s *MemoryResultStore) SaveObsPred(ctx context.Context, dataset core.DatasetName, rows []fit.ObsPred) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obsPred[dataset] = append([]fit.ObsPred(nil), rows...)
	return nil
}

func (s *MemoryResultStore) LoadObsPred(ctx context.Context, dataset core.DatasetName) ([]fit.ObsPred, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.obsPred[dataset]
	if !ok {
		return nil, fmt.Errorf("no obs/pred rows for dataset %s", dataset)
	}
	return append([]fit.ObsPred(nil), rows...), nil
}

func (s *MemoryResultStore) SaveBatches(ctx context.Context, dataset core.DatasetName, batches []*fit.SimulationBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[dataset] = append([]*fit.SimulationBatch(nil), batches...)
	return nil
}

func (s *MemoryResultStore) LoadBatches(ctx context.Context, dataset core.DatasetName) ([]*fit.SimulationBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.batches[dataset]
	if !ok {
		return nil, fmt.Errorf("no simulation batches for dataset %s", dataset)
	}
	return append([]*fit.SimulationBatch(nil), rows...), nil
}

func (s *MemoryResultStore) SaveNullSummaries(ctx context.Context, dataset core.DatasetName, summaries []fit.NullSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[dataset] = append([]fit.NullSummary(nil), summaries...)
	return nil
}

func (s *MemoryResultStore) SaveFailures(ctx context.Context, dataset core.DatasetName, failures []fit.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[dataset] = append([]fit.Failure(nil), failures...)
	return nil
}

// NullSummaries returns what was saved for dataset
func (s *MemoryResultStore) NullSummaries(dataset core.DatasetName) []fit.NullSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]fit.NullSummary(nil), s.summaries[dataset]...)
}

// Failures returns what was saved for dataset
func (s *MemoryResultStore) Failures(dataset core.DatasetName) []fit.Failure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]fit.Failure(nil), s.failures[dataset]...)
}

// MemoryCheckpointStore implements ports.CheckpointStore in memory
type MemoryCheckpointStore struct {
	mu      sync.Mutex
	seeds   map[core.ArtifactKey]int64
	entries map[core.ArtifactKey][]fit.ReplicateStat
	appends int
}

// NewMemoryCheckpointStore creates an empty checkpoint store
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		seeds:   map[core.ArtifactKey]int64{},
		entries: map[core.ArtifactKey][]fit.ReplicateStat{},
	}
}

func (s *MemoryCheckpointStore) LoadReplicates(ctx context.Context, key core.ArtifactKey, seed int64) ([]fit.ReplicateStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.seeds[key]
	if !ok {
		return nil, nil
	}
	if stored != seed {
		return nil, fmt.Errorf("%w: checkpoint %s has seed %d, want %d", core.ErrSeedMismatch, key, stored, seed)
	}
	out := append([]fit.ReplicateStat(nil), s.entries[key]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryCheckpointStore) AppendReplicates(ctx context.Context, key core.ArtifactKey, seed int64, stats []fit.ReplicateStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.seeds[key]; ok && stored != seed {
		return fmt.Errorf("%w: checkpoint %s has seed %d", core.ErrSeedMismatch, key, stored)
	}
	s.seeds[key] = seed
	s.entries[key] = append(s.entries[key], stats...)
	s.appends++
	return nil
}

func (s *MemoryCheckpointStore) Clear(ctx context.Context, key core.ArtifactKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seeds, key)
	delete(s.entries, key)
	return nil
}

// Appends counts AppendReplicates calls
func (s *MemoryCheckpointStore) Appends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

// Len returns the number of checkpointed replicates for key
func (s *MemoryCheckpointStore) Len(key core.ArtifactKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[key])
}

var (
	_ ports.ResultStore     = (*MemoryResultStore)(nil)
	_ ports.CheckpointStore = (*MemoryCheckpointStore)(nil)
	_ ports.CensusReader    = (*StaticCensusReader)(nil)
)
