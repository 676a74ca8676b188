package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"metesad/domain/core"
	"metesad/domain/fit"
	"metesad/ports"
)

// File suffixes under the results directory, one file per dataset and table
const (
	SuffixFits     = "_fits.csv"
	SuffixObsPred  = "_obs_pred.csv"
	SuffixSims     = "_sims.csv"
	SuffixNull     = "_null.csv"
	SuffixFailures = "_failures.csv"
)

var (
	fitsHeader     = []string{"dataset", "site", "model", "s0", "n0", "k", "params", "log_likelihood", "aicc", "r_squared", "akaike_weight"}
	obsPredHeader  = []string{"site", "obs", "pred"}
	simsHeader     = []string{"dataset", "site", "model", "run_id", "seed", "s0", "n0", "created_at", "index", "sampler", "log_likelihood", "aicc", "r_squared"}
	nullHeader     = []string{"dataset", "site", "model", "replicates", "observed_r2", "mean_r2", "sd_r2", "lower_r2", "median_r2", "upper_r2", "p_r2", "observed_ll", "mean_ll", "p_ll"}
	failuresHeader = []string{"dataset", "site", "stage", "code", "reason"}
)

// CSVStore implements ports.ResultStore as flat CSV files in one directory.
// Each save replaces the dataset's table atomically.
type CSVStore struct {
	dir string
}

// NewCSVStore creates a store rooted at dir, creating it if needed
func NewCSVStore(dir string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &CSVStore{dir: dir}, nil
}

// Dir returns the results directory
func (s *CSVStore) Dir() string { return s.dir }

// Path returns the file for a dataset's table
func (s *CSVStore) Path(dataset core.DatasetName, suffix string) string {
	return filepath.Join(s.dir, string(dataset)+suffix)
}

func (s *CSVStore) SaveFits(ctx context.Context, dataset core.DatasetName, results []fit.FitResult) error {
	rows := [][]string{fitsHeader}
	for _, r := range results {
		params := make([]string, len(r.Params))
		for i, p := range r.Params {
			params[i] = formatFloat(p)
		}
		rows = append(rows, []string{
			string(r.Dataset), string(r.Community), string(r.Model),
			strconv.Itoa(r.S0), strconv.Itoa(r.N0), strconv.Itoa(r.K),
			strings.Join(params, ";"),
			formatFloat(r.LogLikelihood), formatFloat(r.AICc), formatFloat(r.RSquared), formatFloat(r.AkaikeWeight),
		})
	}
	return s.write(s.Path(dataset, SuffixFits), rows)
}

func (s *CSVStore) LoadFits(ctx context.Context, dataset core.DatasetName) ([]fit.FitResult, error) {
	rows, err := s.read(s.Path(dataset, SuffixFits), fitsHeader)
	if err != nil {
		return nil, err
	}
	out := make([]fit.FitResult, 0, len(rows))
	for i, row := range rows {
		p := parser{row: row}
		r := fit.FitResult{
			Dataset:   core.DatasetName(p.str(0)),
			Community: core.CommunityID(p.str(1)),
			Model:     core.ModelName(p.str(2)),
			S0:        p.int(3),
			N0:        p.int(4),
			K:         p.int(5),
		}
		if raw := p.str(6); raw != "" {
			pp := parser{row: strings.Split(raw, ";")}
			for j := range pp.row {
				r.Params = append(r.Params, pp.float(j))
			}
			if pp.err != nil && p.err == nil {
				p.err = pp.err
			}
		}
		r.LogLikelihood, r.AICc, r.RSquared, r.AkaikeWeight = p.float(7), p.float(8), p.float(9), p.float(10)
		if p.err != nil {
			return nil, fmt.Errorf("%s row %d: %w", s.Path(dataset, SuffixFits), i+2, p.err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *CSVStore) SaveObsPred(ctx context.Context, dataset core.DatasetName, rows []fit.ObsPred) error {
	out := [][]string{obsPredHeader}
	for _, r := range rows {
		out = append(out, []string{string(r.Community), strconv.Itoa(r.Observed), strconv.Itoa(r.Predicted)})
	}
	return s.write(s.Path(dataset, SuffixObsPred), out)
}

// LoadObsPred restores ranks from row order within each site
func (s *CSVStore) LoadObsPred(ctx context.Context, dataset core.DatasetName) ([]fit.ObsPred, error) {
	rows, err := s.read(s.Path(dataset, SuffixObsPred), obsPredHeader)
	if err != nil {
		return nil, err
	}
	out := make([]fit.ObsPred, 0, len(rows))
	rank := map[string]int{}
	for i, row := range rows {
		p := parser{row: row}
		site := p.str(0)
		rank[site]++
		r := fit.ObsPred{
			Dataset:   dataset,
			Community: core.CommunityID(site),
			Rank:      rank[site],
			Observed:  p.int(1),
			Predicted: p.int(2),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s row %d: %w", s.Path(dataset, SuffixObsPred), i+2, p.err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *CSVStore) SaveBatches(ctx context.Context, dataset core.DatasetName, batches []*fit.SimulationBatch) error {
	rows := [][]string{simsHeader}
	for _, b := range batches {
		if !b.Sealed() {
			return fmt.Errorf("refusing to save unsealed batch %s", b.Key())
		}
		for _, r := range b.Replicates {
			rows = append(rows, []string{
				string(b.Dataset), string(b.Community), string(b.Model), string(b.RunID),
				strconv.FormatInt(b.Seed, 10), strconv.Itoa(b.S0), strconv.Itoa(b.N0),
				b.CreatedAt.Time().Format(time.RFC3339Nano),
				strconv.Itoa(r.Index), string(r.Sampler),
				formatFloat(r.LogLikelihood), formatFloat(r.AICc), formatFloat(r.RSquared),
			})
		}
	}
	return s.write(s.Path(dataset, SuffixSims), rows)
}

// LoadBatches regroups replicate rows into sealed batches in file order
func (s *CSVStore) LoadBatches(ctx context.Context, dataset core.DatasetName) ([]*fit.SimulationBatch, error) {
	path := s.Path(dataset, SuffixSims)
	rows, err := s.read(path, simsHeader)
	if err != nil {
		return nil, err
	}

	var order []core.ArtifactKey
	batches := map[core.ArtifactKey]*fit.SimulationBatch{}
	stats := map[core.ArtifactKey][]fit.ReplicateStat{}
	for i, row := range rows {
		p := parser{row: row}
		key := core.ArtifactKey{
			Dataset:   core.DatasetName(p.str(0)),
			Community: core.CommunityID(p.str(1)),
			Model:     core.ModelName(p.str(2)),
		}
		if _, ok := batches[key]; !ok {
			b := fit.NewSimulationBatch(key, p.int(5), p.int(6), p.int64(4))
			b.RunID = core.RunID(p.str(3))
			created, err := time.Parse(time.RFC3339Nano, p.str(7))
			if err != nil {
				return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
			}
			b.CreatedAt = core.NewTimestamp(created)
			batches[key] = b
			order = append(order, key)
		}
		st := fit.ReplicateStat{
			Index:         p.int(8),
			Sampler:       fit.SamplerStrategy(p.str(9)),
			LogLikelihood: p.float(10),
			AICc:          p.float(11),
			RSquared:      p.float(12),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, p.err)
		}
		stats[key] = append(stats[key], st)
	}

	out := make([]*fit.SimulationBatch, 0, len(order))
	for _, key := range order {
		b := batches[key]
		if err := b.Seal(stats[key]); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *CSVStore) SaveNullSummaries(ctx context.Context, dataset core.DatasetName, summaries []fit.NullSummary) error {
	rows := [][]string{nullHeader}
	for _, n := range summaries {
		rows = append(rows, []string{
			string(n.Dataset), string(n.Community), string(n.Model), strconv.Itoa(n.Replicates),
			formatFloat(n.ObservedR2), formatFloat(n.MeanR2), formatFloat(n.StdDevR2),
			formatFloat(n.LowerR2), formatFloat(n.MedianR2), formatFloat(n.UpperR2), formatFloat(n.PValueR2),
			formatFloat(n.ObservedLL), formatFloat(n.MeanLL), formatFloat(n.PValueLL),
		})
	}
	return s.write(s.Path(dataset, SuffixNull), rows)
}

// LoadNullSummaries reads what SaveNullSummaries wrote
func (s *CSVStore) LoadNullSummaries(ctx context.Context, dataset core.DatasetName) ([]fit.NullSummary, error) {
	rows, err := s.read(s.Path(dataset, SuffixNull), nullHeader)
	if err != nil {
		return nil, err
	}
	out := make([]fit.NullSummary, 0, len(rows))
	for i, row := range rows {
		p := parser{row: row}
		n := fit.NullSummary{
			Dataset:    core.DatasetName(p.str(0)),
			Community:  core.CommunityID(p.str(1)),
			Model:      core.ModelName(p.str(2)),
			Replicates: p.int(3),
			ObservedR2: p.float(4),
			MeanR2:     p.float(5),
			StdDevR2:   p.float(6),
			LowerR2:    p.float(7),
			MedianR2:   p.float(8),
			UpperR2:    p.float(9),
			PValueR2:   p.float(10),
			ObservedLL: p.float(11),
			MeanLL:     p.float(12),
			PValueLL:   p.float(13),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s row %d: %w", s.Path(dataset, SuffixNull), i+2, p.err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *CSVStore) SaveFailures(ctx context.Context, dataset core.DatasetName, failures []fit.Failure) error {
	rows := [][]string{failuresHeader}
	for _, f := range failures {
		rows = append(rows, []string{string(f.Dataset), string(f.Community), f.Stage, f.Code, f.Reason})
	}
	return s.write(s.Path(dataset, SuffixFailures), rows)
}

// write replaces path via a temporary file and rename
func (s *CSVStore) write(path string, rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// read returns data rows after checking the header
func (s *CSVStore) read(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) == 0 || strings.Join(rows[0], ",") != strings.Join(header, ",") {
		return nil, fmt.Errorf("%s: unexpected header", path)
	}
	return rows[1:], nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// parser reads typed cells, keeping the first error
type parser struct {
	row []string
	err error
}

func (p *parser) str(i int) string {
	if i >= len(p.row) {
		if p.err == nil {
			p.err = fmt.Errorf("missing column %d", i)
		}
		return ""
	}
	return p.row[i]
}

func (p *parser) int(i int) int {
	v, err := strconv.Atoi(p.str(i))
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *parser) int64(i int) int64 {
	v, err := strconv.ParseInt(p.str(i), 10, 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *parser) float(i int) float64 {
	v, err := strconv.ParseFloat(p.str(i), 64)
	if err != nil {
		if p.err == nil {
			p.err = err
		}
		return math.NaN()
	}
	return v
}

var _ ports.ResultStore = (*CSVStore)(nil)
