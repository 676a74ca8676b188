package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/ports"
)

const (
	seedField       = "seed"
	replicateFields = 5
)

// FileCheckpointStore keeps one append-only CSV per artifact key.
// The first record holds the seed the replicates were drawn under.
type FileCheckpointStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileCheckpointStore creates a checkpoint store under dir
func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileCheckpointStore{dir: dir}, nil
}

// Path returns the checkpoint file for key
func (s *FileCheckpointStore) Path(key core.ArtifactKey) string {
	return filepath.Join(s.dir, url.PathEscape(key.String())+".ckpt")
}

// LoadReplicates returns nil when no checkpoint exists. A checkpoint written
// under another seed yields an error wrapping core.ErrSeedMismatch.
func (s *FileCheckpointStore) LoadReplicates(ctx context.Context, key core.ArtifactKey, seed int64) ([]fit.ReplicateStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", key, err)
	}

	// only newline-terminated records were fully written
	r := csv.NewReader(bytes.NewReader(raw[:intactLen(raw)]))
	r.FieldsPerRecord = -1
	head, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", key, err)
	}
	if len(head) != 2 || head[0] != seedField {
		return nil, fmt.Errorf("checkpoint %s: malformed header", key)
	}
	stored, err := strconv.ParseInt(head[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", key, err)
	}
	if stored != seed {
		return nil, fmt.Errorf("checkpoint %s has seed %d, want %d: %w", key, stored, seed, core.ErrSeedMismatch)
	}

	var out []fit.ReplicateStat
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read checkpoint %s: %w", key, err)
		}
		if len(rec) != replicateFields {
			return nil, fmt.Errorf("checkpoint %s: record %d has %d fields, want %d", key, len(out), len(rec), replicateFields)
		}
		p := parser{row: rec}
		st := fit.ReplicateStat{
			Index:         p.int(0),
			Sampler:       fit.SamplerStrategy(p.str(1)),
			LogLikelihood: p.float(2),
			AICc:          p.float(3),
			RSquared:      p.float(4),
		}
		if p.err != nil {
			return nil, fmt.Errorf("checkpoint %s: record %d: %w", key, len(out), p.err)
		}
		out = append(out, st)
	}
	return out, nil
}

// AppendReplicates adds rows, writing the seed header on first use
func (s *FileCheckpointStore) AppendReplicates(ctx context.Context, key core.ArtifactKey, seed int64, stats []fit.ReplicateStat) error {
	if len(stats) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(key)
	fresh, err := s.trimTornTail(path)
	if err != nil {
		return fmt.Errorf("repair checkpoint %s: %w", key, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open checkpoint %s: %w", key, err)
	}
	w := csv.NewWriter(f)
	if fresh {
		_ = w.Write([]string{seedField, strconv.FormatInt(seed, 10)})
	}
	for _, st := range stats {
		_ = w.Write([]string{
			strconv.Itoa(st.Index), string(st.Sampler),
			formatFloat(st.LogLikelihood), formatFloat(st.AICc), formatFloat(st.RSquared),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("append checkpoint %s: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync checkpoint %s: %w", key, err)
	}
	return f.Close()
}

// trimTornTail cuts a partial final record left by an interrupted append, so
// the next record starts on its own line. It reports whether the file is empty.
func (s *FileCheckpointStore) trimTornTail(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	n := intactLen(raw)
	if n < len(raw) {
		if err := os.Truncate(path, int64(n)); err != nil {
			return false, err
		}
	}
	return n == 0, nil
}

// intactLen is the length of raw up to and including its last newline
func intactLen(raw []byte) int {
	return bytes.LastIndexByte(raw, '\n') + 1
}

// Clear removes the checkpoint; a missing file is not an error
func (s *FileCheckpointStore) Clear(ctx context.Context, key core.ArtifactKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear checkpoint %s: %w", key, err)
	}
	return nil
}

var _ ports.CheckpointStore = (*FileCheckpointStore)(nil)
