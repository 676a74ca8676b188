package excel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"metesad/domain/community"
	"metesad/domain/core"
	"metesad/internal"
	"metesad/ports"
)

// CensusReader parses site,year,sp,ab tables into one community per site.
// A species recorded more than once at a site has its abundances summed;
// rows with non-positive abundance are dropped.
type CensusReader struct {
	logger *internal.Logger
}

// NewCensusReader creates a census reader
func NewCensusReader() *CensusReader {
	return &CensusReader{logger: internal.DefaultLogger}
}

// WithLogger replaces the logger
func (r *CensusReader) WithLogger(l *internal.Logger) *CensusReader {
	r.logger = l
	return r
}

// ResolvePath finds <dataDir>/<dataset>_spab.csv, falling back to .xlsx
func ResolvePath(dataDir string, dataset core.DatasetName) (string, error) {
	for _, ext := range []string{".csv", ".xlsx"} {
		p := filepath.Join(dataDir, string(dataset)+"_spab"+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no census file for dataset %s in %s", dataset, dataDir)
}

// ReadCommunities implements ports.CensusReader
func (r *CensusReader) ReadCommunities(ctx context.Context, dataset core.DatasetName, path string) ([]*community.Community, error) {
	data, err := NewDataReader(path).ReadData()
	if err != nil {
		return nil, err
	}
	var missing []error
	for _, col := range []string{ColumnSite, ColumnSpecies, ColumnAbundance} {
		if !hasHeader(data.Headers, col) {
			missing = append(missing, fmt.Errorf("%s: missing column %q", path, col))
		}
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}

	type site struct {
		order   []string
		species map[string]int
	}
	var siteOrder []string
	sites := map[string]*site{}
	dropped := 0

	for i, row := range data.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := row[ColumnSite]
		sp := row[ColumnSpecies]
		if name == "" || sp == "" {
			return nil, fmt.Errorf("%s row %d: empty site or species", path, i+2)
		}
		ab, err := parseAbundance(row[ColumnAbundance])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		if ab <= 0 {
			dropped++
			continue
		}

		s, ok := sites[name]
		if !ok {
			s = &site{species: map[string]int{}}
			sites[name] = s
			siteOrder = append(siteOrder, name)
		}
		if _, seen := s.species[sp]; !seen {
			s.order = append(s.order, sp)
		}
		s.species[sp] += ab
	}

	sort.Strings(siteOrder)
	out := make([]*community.Community, 0, len(siteOrder))
	for _, name := range siteOrder {
		s := sites[name]
		ab := make([]int, 0, len(s.order))
		for _, sp := range s.order {
			ab = append(ab, s.species[sp])
		}
		c, err := community.New(dataset, core.CommunityID(name), ab)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}

	r.logger.Info("census loaded", "dataset", string(dataset), "sites", len(out), "rows", len(data.Rows), "dropped", dropped)
	return out, nil
}

// parseAbundance accepts integers written as "12" or "12.0"
func parseAbundance(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("abundance %q is not an integer", s)
	}
	return int(f), nil
}

func hasHeader(headers []string, name string) bool {
	for _, h := range headers {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

var _ ports.CensusReader = (*CensusReader)(nil)

// DiscoverDatasets lists the dataset names with a census file in dataDir, sorted
func DiscoverDatasets(dataDir string) ([]core.DatasetName, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dataDir, err)
	}
	seen := map[string]bool{}
	var out []core.DatasetName
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		for _, suffix := range []string{"_spab.csv", "_spab.xlsx"} {
			if ds, ok := strings.CutSuffix(name, suffix); ok && ds != "" && !seen[ds] {
				seen[ds] = true
				out = append(out, core.DatasetName(ds))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
